package session

// State is the lifecycle state of a Session.
type State int32

const (
	StateIdle State = iota
	StateConfigured
	StateRecording
	StateEnding
	StateComposing
	StateCompleted
	StateAborted
	StateFailed
)

var stateNames = [...]string{
	StateIdle:       "idle",
	StateConfigured: "configured",
	StateRecording:  "recording",
	StateEnding:     "ending",
	StateComposing:  "composing",
	StateCompleted:  "completed",
	StateAborted:    "aborted",
	StateFailed:     "failed",
}

func (s State) String() string {
	if int(s) < len(stateNames) {
		return stateNames[s]
	}
	return "unknown"
}

// Terminal reports whether no further transition can leave s.
func (s State) Terminal() bool {
	return s == StateCompleted || s == StateAborted || s == StateFailed
}
