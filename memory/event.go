package memory

import "time"

type EventKind string

const (
	EventAttached    EventKind = "attached"
	EventDetached    EventKind = "detached"
	EventLockStarted EventKind = "lock_started"
	EventLockStopped EventKind = "lock_stopped"
	EventInjected    EventKind = "injected"
)

// Event describes a state change of a Session. Fields that do not apply to
// Kind are zero.
type Event struct {
	Kind     EventKind
	Pid      uint32
	LockID   LockID
	Address  uint64
	ThreadID uint32
	Time     time.Time
}
