package automator

import (
	"context"
	"sort"

	"github.com/signalsfoundry/commensal-automator/internal/gateway"
	"github.com/signalsfoundry/commensal-automator/internal/logging"
	"github.com/signalsfoundry/commensal-automator/model"
)

// InstanceTransition is a change in one instance's recording state.
type InstanceTransition struct {
	Instance model.Instance
	From     model.InstanceState
	To       model.InstanceState
}

// Finished reports whether the transition ends an observation: the instance
// went idle after recording or after being armed. recording -> armed is not
// a finish; freshly started instances are recorded as recording before the
// gateway reports their capture window as armed. A re-arm while a capture
// is running therefore defers processing until the later -> idle.
func (t InstanceTransition) Finished() bool {
	if t.To != model.InstanceIdle {
		return false
	}
	return t.From == model.InstanceRecording || t.From == model.InstanceArmed
}

// RecordingTracker holds the last known state of every watched instance.
// An entry exists exactly while the instance is subscribed; the
// SubscriptionManager is the only caller of Set and Remove in production.
type RecordingTracker struct {
	gw     gateway.Interface
	domain string
	states map[model.Instance]model.InstanceState
	log    logging.Logger
}

// NewRecordingTracker creates an empty tracker.
func NewRecordingTracker(gw gateway.Interface, domain string, log logging.Logger) *RecordingTracker {
	return &RecordingTracker{
		gw:     gw,
		domain: domain,
		states: make(map[model.Instance]model.InstanceState),
		log:    logging.Component(log, "recording"),
	}
}

// OnInstanceNotification re-queries inst and reports a transition against
// the stored state. Notifications for instances that are not watched (late
// deliveries after an unsubscribe) and unknown answers are not transitions.
func (r *RecordingTracker) OnInstanceNotification(ctx context.Context, inst model.Instance) (InstanceTransition, bool) {
	previous, watched := r.states[inst]
	if !watched {
		r.log.Debug(ctx, "notification for unwatched instance ignored",
			logging.String(logging.FieldInstance, string(inst)),
		)
		return InstanceTransition{}, false
	}

	current, err := r.gw.DAQRecordState(ctx, r.domain, inst)
	if err != nil {
		r.log.Warn(ctx, "DAQ state query failed",
			logging.String(logging.FieldInstance, string(inst)),
			logging.Err(err),
		)
		current = model.InstanceUnknown
	}
	if current == model.InstanceUnknown {
		r.log.Warn(ctx, "DAQ state unknown; skipping decision",
			logging.String(logging.FieldInstance, string(inst)),
			logging.String(logging.FieldFrom, previous.String()),
			logging.Bool(logging.FieldAlert, true),
		)
		return InstanceTransition{}, false
	}
	if current == previous {
		return InstanceTransition{}, false
	}

	r.states[inst] = current
	return InstanceTransition{Instance: inst, From: previous, To: current}, true
}

// Set records state for inst without comparing.
func (r *RecordingTracker) Set(inst model.Instance, state model.InstanceState) {
	r.states[inst] = state
}

// Remove drops inst.
func (r *RecordingTracker) Remove(inst model.Instance) {
	delete(r.states, inst)
}

// Get returns the stored state for inst.
func (r *RecordingTracker) Get(inst model.Instance) (model.InstanceState, bool) {
	st, ok := r.states[inst]
	return st, ok
}

// Len returns the number of watched instances.
func (r *RecordingTracker) Len() int { return len(r.states) }

// Watched returns the watched instances in lexical order.
func (r *RecordingTracker) Watched() []model.Instance {
	out := make([]model.Instance, 0, len(r.states))
	for inst := range r.states {
		out = append(out, inst)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
