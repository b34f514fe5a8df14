package bridge

import "time"

// commandState is owned by the transport loop; nothing else reads or writes it
type commandState int

const (
	stateQueued commandState = iota
	stateSent
	stateResolved
	stateTimedOut
)

func (s commandState) String() string {
	switch s {
	case stateQueued:
		return "QUEUED"
	case stateSent:
		return "SENT"
	case stateResolved:
		return "RESOLVED"
	case stateTimedOut:
		return "TIMED_OUT"
	default:
		return "UNKNOWN"
	}
}

// pendingCommand lives in the pending map from enqueue until either its
// response arrives or its timer fires. Whichever removes it first wins.
type pendingCommand struct {
	id         string
	cmd        Command
	future     *Future
	timeout    time.Duration
	enqueuedAt time.Time
	sentAt     time.Time
	state      commandState
	timer      *time.Timer
}
