package scan

import "fmt"

// State is the scanner's position in the per-entry sequence.
type State int32

const (
	StateIdle State = iota
	StateTuning
	StateWaitingLock
	StateAcquiringProgramTable
	StateAcquiringProgramMaps
	StateAcquiringServiceTable
	StateAcquiringNetworkTable
	StateEmitting
	StateAdvance
	StateStopping
	StateDone
)

var stateNames = [...]string{
	StateIdle:                  "idle",
	StateTuning:                "tuning",
	StateWaitingLock:           "waiting-lock",
	StateAcquiringProgramTable: "acquiring-pat",
	StateAcquiringProgramMaps:  "acquiring-pmt",
	StateAcquiringServiceTable: "acquiring-sdt",
	StateAcquiringNetworkTable: "acquiring-nit",
	StateEmitting:              "emitting",
	StateAdvance:               "advance",
	StateStopping:              "stopping",
	StateDone:                  "done",
}

func (s State) String() string {
	if s >= 0 && int(s) < len(stateNames) {
		return stateNames[s]
	}
	return "unknown"
}

func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func (s *State) UnmarshalText(b []byte) error {
	for i, name := range stateNames {
		if name == string(b) {
			*s = State(i)
			return nil
		}
	}
	return fmt.Errorf("scan: unknown state %q", b)
}
