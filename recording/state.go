package recording

import "fmt"

// State is where a Writer is in its session lifecycle.
//
//	Idle -> Writing -> Finishing -> Idle
//	Idle -> Writing -> Failed    -> Idle
type State int32

// The writer states.
const (
	StateIdle State = iota
	StateWriting
	StateFinishing
	StateFailed
)

// String returns the state's name.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateWriting:
		return "writing"
	case StateFinishing:
		return "finishing"
	case StateFailed:
		return "failed"
	default:
		return fmt.Sprintf("unknown(%d)", int32(s))
	}
}
