package automator

import (
	"context"

	"github.com/signalsfoundry/commensal-automator/internal/gateway"
	"github.com/signalsfoundry/commensal-automator/internal/logging"
	"github.com/signalsfoundry/commensal-automator/model"
)

// TelescopeTransition is a change in pointing state.
type TelescopeTransition struct {
	From model.TelescopeState
	To   model.TelescopeState
}

// TelescopeTracker holds the last known pointing state.
type TelescopeTracker struct {
	gw          gateway.Interface
	antennaHash string
	state       model.TelescopeState
	log         logging.Logger
}

// NewTelescopeTracker creates a tracker in the unknown state.
func NewTelescopeTracker(gw gateway.Interface, antennaHash string, log logging.Logger) *TelescopeTracker {
	return &TelescopeTracker{
		gw:          gw,
		antennaHash: antennaHash,
		log:         logging.Component(log, "telescope"),
	}
}

// State returns the last known pointing state.
func (t *TelescopeTracker) State() model.TelescopeState { return t.state }

// Initialize queries the interface once and adopts the result, unknown
// included.
func (t *TelescopeTracker) Initialize(ctx context.Context) model.TelescopeState {
	t.state = t.query(ctx)
	return t.state
}

// OnAntennaNotification re-queries the pointing state and reports a
// transition if it differs from the stored one. An unknown answer is not a
// transition: the prior state is kept.
func (t *TelescopeTracker) OnAntennaNotification(ctx context.Context) (TelescopeTransition, bool) {
	current := t.query(ctx)
	if current == model.TelescopeUnknown {
		t.log.Warn(ctx, "telescope state unknown; keeping prior state",
			logging.String(logging.FieldTelescope, t.state.String()),
		)
		return TelescopeTransition{}, false
	}
	if current == t.state {
		return TelescopeTransition{}, false
	}
	tr := TelescopeTransition{From: t.state, To: current}
	t.state = current
	return tr, true
}

func (t *TelescopeTracker) query(ctx context.Context) model.TelescopeState {
	state, err := t.gw.TelescopeState(ctx, t.antennaHash)
	if err != nil {
		t.log.Warn(ctx, "telescope state query failed", logging.Err(err))
		return model.TelescopeUnknown
	}
	return state
}
