// Package gateway defines the external interface the automator consults for
// telescope and DAQ state and through which it starts and stops recordings.
package gateway

import (
	"context"
	"time"

	"github.com/signalsfoundry/commensal-automator/model"
)

// Interface is the boundary to the telescope and DAQ control systems. Calls
// are synchronous; implementations report an unreachable dependency as an
// unknown state, optionally alongside an error describing why.
type Interface interface {
	// TelescopeState reports whether the antennas listed in antennaHash are
	// on source.
	TelescopeState(ctx context.Context, antennaHash string) (model.TelescopeState, error)
	// DAQRecordState reports the recording state of one instance.
	DAQRecordState(ctx context.Context, domain string, inst model.Instance) (model.InstanceState, error)
	// DAQStates groups instances by their current recording state.
	DAQStates(ctx context.Context, domain string, instances []model.Instance) (States, error)
	// RecordConditional starts a recording of the given duration on every
	// eligible instance and returns the ones it started.
	RecordConditional(ctx context.Context, domain string, instances []model.Instance, duration time.Duration) ([]model.Instance, error)
	// StopRecording halts recording on the given instances.
	StopRecording(ctx context.Context, domain string, instances []model.Instance) error
	// SourceName returns the name of the current target.
	SourceName(ctx context.Context) (string, error)
}

// States maps a recording state to the instances in it.
type States map[model.InstanceState][]model.Instance

// Recording returns the instances currently recording.
func (s States) Recording() []model.Instance {
	return s[model.InstanceRecording]
}

// Add appends inst under state.
func (s States) Add(state model.InstanceState, inst model.Instance) {
	s[state] = append(s[state], inst)
}
