package feeder

// State is the lifecycle state of a Feeder.
type State int32

const (
	StateIdle State = iota
	StateStarting
	StateWriting
	StateFinishing
	StateFinished
	StateFailed
)

var stateNames = [...]string{"idle", "starting", "writing", "finishing", "finished", "failed"}

func (s State) String() string {
	if int(s) < len(stateNames) {
		return stateNames[s]
	}
	return "unknown"
}

// Terminal reports whether s is Finished or Failed.
func (s State) Terminal() bool {
	return s == StateFinished || s == StateFailed
}
