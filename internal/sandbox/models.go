// Package sandbox manages the project-scoped execution contexts that own
// snapshot trees. A sandbox's lifecycle state gates snapshot creation; it is
// created by user action and never implicitly deleted.
package sandbox

import (
	"strings"
	"time"
)

// State is the sandbox lifecycle state.
type State string

const (
	StateActive   State = "active"
	StatePaused   State = "paused"
	StateClosed   State = "closed"
	StateSecured  State = "secured"
	StateCanceled State = "canceled"
)

var allStates = []State{StateActive, StatePaused, StateClosed, StateSecured, StateCanceled}

// ParseState converts a string into a known State.
func ParseState(value string) (State, bool) {
	normalized := State(strings.ToLower(strings.TrimSpace(value)))
	for _, state := range allStates {
		if state == normalized {
			return state, true
		}
	}
	return "", false
}

// AcceptsSnapshots reports whether the state permits snapshot creation.
func (s State) AcceptsSnapshots() bool {
	return s == StateActive
}

// Sandbox is a named, securable execution context within a project.
type Sandbox struct {
	ID        int64
	Project   string
	Name      string
	State     State
	CreatedAt time.Time
	UpdatedAt time.Time
}
