package recorder

import "fmt"

type State int

const (
	Stopped State = iota
	Starting
	Streaming
	StreamingAndRecording
	Stopping
	Failed
)

var stateNames = map[State]string{
	Stopped:               "stopped",
	Starting:              "starting",
	Streaming:             "streaming",
	StreamingAndRecording: "streaming_and_recording",
	Stopping:              "stopping",
	Failed:                "failed",
}

var allStates = func() []string {
	names := make([]string, 0, len(stateNames))
	for s := Stopped; s <= Failed; s++ {
		names = append(names, stateNames[s])
	}
	return names
}()

func (s State) String() string {
	if name, ok := stateNames[s]; ok {
		return name
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// MarshalText renders states by name in json.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Active reports whether the capture pipeline is running.
func (s State) Active() bool {
	return s == Streaming || s == StreamingAndRecording
}

func (s *State) UnmarshalText(text []byte) error {
	for state, name := range stateNames {
		if name == string(text) {
			*s = state
			return nil
		}
	}
	return fmt.Errorf("unknown state %q", text)
}
