package model

import "strings"

// TelescopeState describes where the array is pointing relative to the
// current target.
type TelescopeState int

const (
	TelescopeUnknown   TelescopeState = iota
	TelescopeOnSource                 // antennas pointed at the target
	TelescopeOffSource                // antennas slewing or pointed away
)

// String returns the wire name used by the external interface.
func (s TelescopeState) String() string {
	switch s {
	case TelescopeOnSource:
		return "on_source"
	case TelescopeOffSource:
		return "off_source"
	default:
		return "unknown"
	}
}

// ParseTelescopeState maps an interface response onto a TelescopeState.
// Anything unrecognised is treated as unknown.
func ParseTelescopeState(raw string) TelescopeState {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "on_source":
		return TelescopeOnSource
	case "off_source":
		return TelescopeOffSource
	default:
		return TelescopeUnknown
	}
}
