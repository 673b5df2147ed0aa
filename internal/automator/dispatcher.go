package automator

import (
	"context"
	"errors"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/signalsfoundry/commensal-automator/internal/channel"
	"github.com/signalsfoundry/commensal-automator/internal/logging"
)

// ErrStreamClosed is returned by Run when the notification stream ends.
var ErrStreamClosed = errors.New("automator: notification stream closed")

// Snapshot is a point-in-time copy of the automator's state.
type Snapshot struct {
	Telescope     string            `json:"telescope"`
	Watched       map[string]string `json:"watched"`
	Channels      []string          `json:"channels"`
	Notifications uint64            `json:"notifications"`
}

// Dispatcher consumes notifications on a single goroutine and routes each
// one to the controller. It is the only goroutine that touches automator
// state once Run has started.
type Dispatcher struct {
	ctrl       *Controller
	classifier *channel.Classifier
	log        logging.Logger

	requests chan chan Snapshot
	handled  uint64
}

// NewDispatcher wraps ctrl.
func NewDispatcher(ctrl *Controller, log logging.Logger) *Dispatcher {
	if log == nil {
		log = logging.Noop()
	}
	return &Dispatcher{
		ctrl:       ctrl,
		classifier: ctrl.Classifier(),
		log:        logging.Component(log, "dispatcher"),
		requests:   make(chan chan Snapshot),
	}
}

// Run starts the controller and then handles notifications in arrival order
// until ctx is cancelled (returns nil) or the stream closes (returns
// ErrStreamClosed).
func (d *Dispatcher) Run(ctx context.Context, notifications <-chan channel.Notification) error {
	if err := d.ctrl.Start(ctx); err != nil {
		return err
	}
	d.log.Info(ctx, "dispatcher started", logging.Int("instances", d.ctrl.instances.Len()))

	for {
		select {
		case <-ctx.Done():
			d.log.Info(ctx, "dispatcher stopped")
			return nil
		case reply := <-d.requests:
			reply <- d.snapshot()
		case n, ok := <-notifications:
			if !ok {
				return ErrStreamClosed
			}
			d.Handle(ctx, n)
		}
	}
}

// Handle processes one notification synchronously. Run calls it; tests may
// call it directly when Run is not active.
func (d *Dispatcher) Handle(ctx context.Context, n channel.Notification) {
	ctx, eventID := logging.WithEventID(ctx)
	d.handled++

	cls := d.classifier.Classify(n)
	d.ctrl.metrics.IncNotification(cls.Kind.String())

	switch cls.Kind {
	case channel.KindIgnored:
		return
	case channel.KindUnparseable:
		d.log.Warn(ctx, "unparseable channel",
			logging.String(logging.FieldChannel, n.Channel),
			logging.String("event", n.Event),
		)
		return
	case channel.KindUnknownInstance:
		d.log.Warn(ctx, "notification for unknown instance",
			logging.String(logging.FieldChannel, n.Channel),
			logging.String(logging.FieldInstance, string(cls.Instance)),
		)
		return
	}

	ctx, span := d.ctrl.tracer.Start(ctx, "automator/notification", trace.WithAttributes(
		attribute.String(logging.FieldChannel, n.Channel),
		attribute.String("kind", cls.Kind.String()),
		attribute.String(logging.FieldEventID, eventID),
	))
	defer span.End()

	switch cls.Kind {
	case channel.KindAntenna:
		d.ctrl.HandleAntenna(ctx)
	case channel.KindInstance:
		d.ctrl.HandleInstance(ctx, cls.Instance)
	}
}

// Snapshot asks the running dispatcher for a copy of its state. It blocks
// until Run serves the request or ctx ends.
func (d *Dispatcher) Snapshot(ctx context.Context) (Snapshot, error) {
	reply := make(chan Snapshot, 1)
	select {
	case d.requests <- reply:
	case <-ctx.Done():
		return Snapshot{}, ctx.Err()
	}
	select {
	case s := <-reply:
		return s, nil
	case <-ctx.Done():
		return Snapshot{}, ctx.Err()
	}
}

func (d *Dispatcher) snapshot() Snapshot {
	watched := make(map[string]string)
	for inst, st := range d.ctrl.Watched() {
		watched[string(inst)] = st.String()
	}
	return Snapshot{
		Telescope:     d.ctrl.Telescope().String(),
		Watched:       watched,
		Channels:      d.ctrl.Channels(),
		Notifications: d.handled,
	}
}
