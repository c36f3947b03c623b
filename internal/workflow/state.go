package workflow

// State is a job's position in its lifecycle.
type State string

const (
	StateQueued      State = "queued"
	StateDownloading State = "downloading"
	StateConverting  State = "converting"
	StateComplete    State = "complete"
	StateError       State = "error"
	StateCancelled   State = "cancelled"
)

func (s State) rank() int {
	switch s {
	case StateQueued:
		return 0
	case StateDownloading:
		return 1
	case StateConverting:
		return 2
	case StateComplete, StateError, StateCancelled:
		return 3
	default:
		return -1
	}
}

// Terminal reports whether no further transition is possible.
func (s State) Terminal() bool {
	return s.rank() == 3
}

// canAdvance allows strictly forward moves only. Skipping a phase is allowed
// (a re-encode never downloads); re-entering one is not.
func canAdvance(from, to State) bool {
	if from.Terminal() || to.rank() < 0 {
		return false
	}
	return to.rank() > from.rank()
}
