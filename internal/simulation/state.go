package simulation

import "fmt"

// State is the driver lifecycle state.
type State int

const (
	Stopped State = iota
	Starting
	Running
	Stopping
	Failed
)

var stateNames = map[State]string{
	Stopped:  "stopped",
	Starting: "starting",
	Running:  "running",
	Stopping: "stopping",
	Failed:   "failed",
}

func (s State) String() string {
	if name, ok := stateNames[s]; ok {
		return name
	}
	return fmt.Sprintf("State(%d)", int(s))
}

func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func (s *State) UnmarshalText(text []byte) error {
	for state, name := range stateNames {
		if name == string(text) {
			*s = state
			return nil
		}
	}
	return fmt.Errorf("unknown simulation state %q", text)
}
