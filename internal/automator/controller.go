package automator

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/signalsfoundry/commensal-automator/internal/channel"
	"github.com/signalsfoundry/commensal-automator/internal/gateway"
	"github.com/signalsfoundry/commensal-automator/internal/history"
	"github.com/signalsfoundry/commensal-automator/internal/logging"
	"github.com/signalsfoundry/commensal-automator/internal/observability"
	"github.com/signalsfoundry/commensal-automator/model"
)

// Config parameterises a Controller.
type Config struct {
	AntennaKey  string
	Domain      string
	DB          int
	Instances   model.InstanceSet
	Duration    time.Duration
	NotifyEvent string
}

// Recorder receives automator metrics. *observability.AutomatorCollector
// satisfies it.
type Recorder interface {
	IncNotification(kind string)
	ObserveTransition(subject, from, to string)
	ObserveAction(action string, d time.Duration, err error)
	SetWatched(n int)
	SetOnSource(on bool)
}

// Journal records observing sessions. *history.Store satisfies it.
type Journal interface {
	Begin(ctx context.Context, inst model.Instance, source string) (string, error)
	End(ctx context.Context, inst model.Instance, reason string) (int64, error)
}

// Option configures optional Controller collaborators.
type Option func(*Controller)

// WithMetricsRecorder wires a metrics sink.
func WithMetricsRecorder(r Recorder) Option {
	return func(c *Controller) {
		if r != nil {
			c.metrics = r
		}
	}
}

// WithJournal wires a session journal.
func WithJournal(j Journal) Option {
	return func(c *Controller) {
		if j != nil {
			c.journal = j
		}
	}
}

// WithProcessor replaces the default logging processor.
func WithProcessor(p Processor) Option {
	return func(c *Controller) {
		if p != nil {
			c.processor = p
		}
	}
}

// Controller executes the actions attached to telescope and instance
// transitions.
type Controller struct {
	gw         gateway.Interface
	domain     string
	duration   time.Duration
	instances  model.InstanceSet
	classifier *channel.Classifier

	telescope *TelescopeTracker
	recording *RecordingTracker
	subs      *SubscriptionManager

	processor Processor
	journal   Journal
	metrics   Recorder
	tracer    trace.Tracer
	log       logging.Logger

	source string
}

// New builds a Controller and the trackers it owns.
func New(cfg Config, gw gateway.Interface, sub Subscriber, log logging.Logger, opts ...Option) *Controller {
	if log == nil {
		log = logging.Noop()
	}
	codec := channel.NewCodec(cfg.Domain, cfg.DB, cfg.Instances)
	recording := NewRecordingTracker(gw, cfg.Domain, log)
	c := &Controller{
		gw:         gw,
		domain:     cfg.Domain,
		duration:   cfg.Duration,
		instances:  cfg.Instances,
		classifier: channel.NewClassifier(codec, cfg.AntennaKey, cfg.NotifyEvent),
		telescope:  NewTelescopeTracker(gw, cfg.AntennaKey, log),
		recording:  recording,
		subs:       NewSubscriptionManager(sub, codec, recording, log),
		processor:  LogProcessor{Log: logging.Component(log, "processor")},
		journal:    noopJournal{},
		metrics:    noopRecorder{},
		tracer:     otel.Tracer(observability.TracerName),
		log:        logging.Component(log, "controller"),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Start subscribes to the antenna channel, then reads the telescope state
// once and starts recordings if it is already on source. A failed antenna
// subscription is fatal; everything after it only logs.
func (c *Controller) Start(ctx context.Context) error {
	if err := c.subs.SubscribeAntenna(ctx, c.classifier.AntennaChannel()); err != nil {
		return err
	}

	state := c.telescope.Initialize(ctx)
	c.log.Info(ctx, "telescope state at startup",
		logging.String(logging.FieldTelescope, state.String()),
		logging.Bool(logging.FieldAlert, true),
	)
	c.metrics.SetOnSource(state == model.TelescopeOnSource)
	if state == model.TelescopeOnSource {
		c.onSource(ctx)
	}
	c.metrics.SetWatched(c.recording.Len())
	return nil
}

// HandleAntenna reacts to an antenna hash update.
func (c *Controller) HandleAntenna(ctx context.Context) {
	tr, ok := c.telescope.OnAntennaNotification(ctx)
	if !ok {
		return
	}
	c.metrics.ObserveTransition("telescope", tr.From.String(), tr.To.String())
	c.metrics.SetOnSource(tr.To == model.TelescopeOnSource)

	switch tr.To {
	case model.TelescopeOnSource:
		c.onSource(ctx)
	case model.TelescopeOffSource:
		c.offSource(ctx)
	}
	c.metrics.SetWatched(c.recording.Len())
}

// HandleInstance reacts to a status update for a known instance.
func (c *Controller) HandleInstance(ctx context.Context, inst model.Instance) {
	tr, ok := c.recording.OnInstanceNotification(ctx, inst)
	if !ok {
		return
	}
	c.metrics.ObserveTransition("instance", tr.From.String(), tr.To.String())

	log := c.log.With(
		logging.String(logging.FieldInstance, string(inst)),
		logging.String(logging.FieldFrom, tr.From.String()),
		logging.String(logging.FieldTo, tr.To.String()),
	)
	if !tr.Finished() {
		log.Info(ctx, "instance state changed")
		return
	}

	log.Info(ctx, "recording finished", logging.Bool(logging.FieldAlert, true))
	finished := []model.Instance{inst}
	if err := c.subs.Unsubscribe(ctx, finished); err != nil {
		log.Warn(ctx, "unsubscribe failed", logging.Err(err))
	}
	c.endSessions(ctx, finished, history.ReasonRecordingFinished)
	c.metrics.SetWatched(c.recording.Len())
	c.process(ctx, finished, history.ReasonRecordingFinished)
}

// Telescope returns the tracked pointing state.
func (c *Controller) Telescope() model.TelescopeState { return c.telescope.State() }

// Watched returns the state of every watched instance.
func (c *Controller) Watched() map[model.Instance]model.InstanceState {
	out := make(map[model.Instance]model.InstanceState, c.recording.Len())
	for _, inst := range c.recording.Watched() {
		st, _ := c.recording.Get(inst)
		out[inst] = st
	}
	return out
}

// Channels returns the live subscriptions.
func (c *Controller) Channels() []string { return c.subs.Channels() }

// Classifier returns the notification classifier for this configuration.
func (c *Controller) Classifier() *channel.Classifier { return c.classifier }

func (c *Controller) onSource(ctx context.Context) {
	var source string
	if err := c.action(ctx, "source_name", func(ctx context.Context) error {
		var err error
		source, err = c.gw.SourceName(ctx)
		return err
	}); err != nil {
		c.log.Warn(ctx, "source name lookup failed", logging.Err(err))
	}
	c.source = source
	c.log.Info(ctx, "telescope on source",
		logging.String("source", source),
		logging.Bool(logging.FieldAlert, true),
	)

	var started []model.Instance
	if err := c.action(ctx, "record_conditional", func(ctx context.Context) error {
		var err error
		started, err = c.gw.RecordConditional(ctx, c.domain, c.instances.List(), c.duration)
		return err
	}); err != nil {
		c.log.Warn(ctx, "conditional record failed", logging.Err(err))
	}

	started = c.instances.Filter(started)
	if len(started) == 0 {
		c.log.Info(ctx, "no instances started recording")
		return
	}
	if err := c.subs.Subscribe(ctx, started, model.InstanceRecording); err != nil {
		c.log.Error(ctx, "cannot watch started instances", logging.Err(err))
		return
	}
	for _, inst := range started {
		if _, err := c.journal.Begin(ctx, inst, source); err != nil {
			c.log.Warn(ctx, "journal begin failed",
				logging.String(logging.FieldInstance, string(inst)),
				logging.Err(err),
			)
		}
	}
}

func (c *Controller) offSource(ctx context.Context) {
	c.log.Info(ctx, "telescope off source", logging.Bool(logging.FieldAlert, true))

	var states gateway.States
	if err := c.action(ctx, "daq_states", func(ctx context.Context) error {
		var err error
		states, err = c.gw.DAQStates(ctx, c.domain, c.instances.List())
		return err
	}); err != nil {
		c.log.Warn(ctx, "DAQ states query failed; stopping watched instances only", logging.Err(err))
	}

	recording := c.instances.Filter(states.Recording())
	targets := union(recording, c.recording.Watched())
	if len(targets) == 0 {
		return
	}

	if err := c.action(ctx, "stop_recording", func(ctx context.Context) error {
		return c.gw.StopRecording(ctx, c.domain, targets)
	}); err != nil {
		c.log.Warn(ctx, "stop recording failed", logging.Err(err))
	}
	if err := c.subs.Unsubscribe(ctx, targets); err != nil {
		c.log.Warn(ctx, "unsubscribe failed", logging.Err(err))
	}
	c.endSessions(ctx, targets, history.ReasonOffSource)
	c.source = ""

	if len(recording) > 0 {
		c.process(ctx, recording, history.ReasonOffSource)
	}
}

func (c *Controller) process(ctx context.Context, instances []model.Instance, reason string) {
	req := ProcessRequest{Instances: instances, Reason: reason}
	if err := c.action(ctx, "process", func(ctx context.Context) error {
		return c.processor.Process(ctx, req)
	}); err != nil {
		c.log.Warn(ctx, "processing failed", logging.Err(err))
	}
}

func (c *Controller) endSessions(ctx context.Context, instances []model.Instance, reason string) {
	for _, inst := range instances {
		if _, err := c.journal.End(ctx, inst, reason); err != nil {
			c.log.Warn(ctx, "journal end failed",
				logging.String(logging.FieldInstance, string(inst)),
				logging.Err(err),
			)
		}
	}
}

// action wraps an external call in a span and records its outcome.
func (c *Controller) action(ctx context.Context, name string, fn func(context.Context) error) error {
	ctx, span := c.tracer.Start(ctx, "automator/"+name,
		trace.WithAttributes(attribute.String(logging.FieldAction, name)),
	)
	defer span.End()

	start := time.Now()
	err := fn(ctx)
	c.metrics.ObserveAction(name, time.Since(start), err)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return err
}

// union returns a followed by the members of b not in a.
func union(a, b []model.Instance) []model.Instance {
	seen := make(map[model.Instance]struct{}, len(a)+len(b))
	out := make([]model.Instance, 0, len(a)+len(b))
	for _, list := range [][]model.Instance{a, b} {
		for _, inst := range list {
			if _, ok := seen[inst]; ok {
				continue
			}
			seen[inst] = struct{}{}
			out = append(out, inst)
		}
	}
	return out
}

type noopRecorder struct{}

func (noopRecorder) IncNotification(string)                     {}
func (noopRecorder) ObserveTransition(string, string, string)   {}
func (noopRecorder) ObserveAction(string, time.Duration, error) {}
func (noopRecorder) SetWatched(int)                             {}
func (noopRecorder) SetOnSource(bool)                           {}

type noopJournal struct{}

func (noopJournal) Begin(context.Context, model.Instance, string) (string, error) { return "", nil }
func (noopJournal) End(context.Context, model.Instance, string) (int64, error)    { return 0, nil }
