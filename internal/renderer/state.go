package renderer

import "fmt"

// State is the position of the renderer in the per-frame cycle.
type State int

const (
	StateIdle State = iota
	StateAcquiring
	StateRecording
	StateSubmitting
	StatePresented
	// StateRebuildRequired is entered from Acquiring or Submitting when the
	// chain no longer matches the surface.
	StateRebuildRequired
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateAcquiring:
		return "acquiring"
	case StateRecording:
		return "recording"
	case StateSubmitting:
		return "submitting"
	case StatePresented:
		return "presented"
	case StateRebuildRequired:
		return "rebuild-required"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}
