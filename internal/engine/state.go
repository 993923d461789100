package engine

import "github.com/pkg/errors"

// State is the lifecycle state of the routing engine process.
type State int

const (
	NotStarted State = iota
	Starting
	Ready
	Degraded
	Disabled
)

var stateNames = [...]string{
	NotStarted: "not_started",
	Starting:   "starting",
	Ready:      "ready",
	Degraded:   "degraded",
	Disabled:   "disabled",
}

// transitions lists the states reachable from each state. Disabled is
// terminal.
var transitions = map[State][]State{
	NotStarted: {Starting, Disabled},
	Starting:   {Ready, Degraded, Disabled},
	Ready:      {NotStarted, Degraded, Disabled},
	Degraded:   {Starting, Disabled},
}

func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return "unknown"
	}
	return stateNames[s]
}

// CanTransition reports whether the supervisor may move from s to next.
func (s State) CanTransition(next State) bool {
	for _, allowed := range transitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// MarshalText encodes the state by name.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText parses a state name.
func (s *State) UnmarshalText(text []byte) error {
	for i, name := range stateNames {
		if name == string(text) {
			*s = State(i)
			return nil
		}
	}
	return errors.Errorf("unknown engine state %q", text)
}
