package model

import "strings"

// InstanceState is the recording state of a single DAQ instance.
type InstanceState int

const (
	InstanceUnknown InstanceState = iota
	InstanceIdle
	InstanceArmed
	InstanceRecording
)

// String returns the wire name used by the external interface.
func (s InstanceState) String() string {
	switch s {
	case InstanceIdle:
		return "idle"
	case InstanceArmed:
		return "armed"
	case InstanceRecording:
		return "recording"
	default:
		return "unknown"
	}
}

// Recording reports whether the instance is actively capturing data.
func (s InstanceState) Recording() bool {
	return s == InstanceRecording
}

// ParseInstanceState maps an interface response onto an InstanceState.
// The legacy "record" spelling is accepted as recording.
func ParseInstanceState(raw string) InstanceState {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "idle":
		return InstanceIdle
	case "armed":
		return InstanceArmed
	case "recording", "record":
		return InstanceRecording
	default:
		return InstanceUnknown
	}
}

// Instance identifies a DAQ pipeline, e.g. "cosmic-gpu-0/0".
type Instance string

// InstanceSet is the fixed list of instances the automator may manage.
type InstanceSet struct {
	order []Instance
	known map[Instance]struct{}
}

// NewInstanceSet builds a set from the configured instance names, dropping
// blanks and duplicates while keeping the configured order.
func NewInstanceSet(names []string) InstanceSet {
	set := InstanceSet{known: make(map[Instance]struct{}, len(names))}
	for _, name := range names {
		name = strings.TrimSpace(name)
		if name == "" {
			continue
		}
		inst := Instance(name)
		if _, dup := set.known[inst]; dup {
			continue
		}
		set.known[inst] = struct{}{}
		set.order = append(set.order, inst)
	}
	return set
}

// Contains reports whether inst is a known instance.
func (s InstanceSet) Contains(inst Instance) bool {
	_, ok := s.known[inst]
	return ok
}

// List returns the instances in configured order.
func (s InstanceSet) List() []Instance {
	out := make([]Instance, len(s.order))
	copy(out, s.order)
	return out
}

// Len returns the number of known instances.
func (s InstanceSet) Len() int { return len(s.order) }

// Filter returns the members of candidates that are in the set, preserving
// their order and dropping duplicates.
func (s InstanceSet) Filter(candidates []Instance) []Instance {
	out := make([]Instance, 0, len(candidates))
	seen := make(map[Instance]struct{}, len(candidates))
	for _, c := range candidates {
		if !s.Contains(c) {
			continue
		}
		if _, dup := seen[c]; dup {
			continue
		}
		seen[c] = struct{}{}
		out = append(out, c)
	}
	return out
}
