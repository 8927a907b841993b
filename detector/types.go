// Package detector implements an incremental runtime deadlock detector for
// programs built on mutexes, rwlocks and condition variables.
//
// A single Engine owns all detector state behind one lock. Hooks are called
// by lock wrappers at well-defined points (attempt, acquired, release, ...)
// and update an incrementally-maintained wait-for graph. A cycle in that
// graph is a deadlock; it is reported through an async dispatcher so the
// report can reach application code even when every thread participating in
// the cycle is permanently blocked.
package detector

import "time"

// ThreadId identifies a schedulable unit of execution (goroutine, OS thread)
// known to the detector. IDs are allocated monotonically by Engine.NewThreadID
// and are never reused.
type ThreadId uint64

// LockId identifies a mutex or rwlock known to the detector.
type LockId uint64

// CondvarId identifies a condition variable known to the detector.
type CondvarId uint64

// EventKind enumerates the hook call sites an observer Sink can be told
// about.
type EventKind int

const (
	EventThreadSpawn EventKind = iota
	EventThreadExit
	EventLockCreate
	EventLockDestroy
	EventAttempt
	EventAcquired
	EventReleased
	EventCondvarCreate
	EventCondvarDestroy
	EventCondvarWaitBegin
	EventCondvarWaitEnd
	EventCondvarNotifyOne
	EventCondvarNotifyAll
)

func (e EventKind) String() string {
	switch e {
	case EventThreadSpawn:
		return "ThreadSpawn"
	case EventThreadExit:
		return "ThreadExit"
	case EventLockCreate:
		return "LockCreate"
	case EventLockDestroy:
		return "LockDestroy"
	case EventAttempt:
		return "Attempt"
	case EventAcquired:
		return "Acquired"
	case EventReleased:
		return "Released"
	case EventCondvarCreate:
		return "CondvarCreate"
	case EventCondvarDestroy:
		return "CondvarDestroy"
	case EventCondvarWaitBegin:
		return "CondvarWaitBegin"
	case EventCondvarWaitEnd:
		return "CondvarWaitEnd"
	case EventCondvarNotifyOne:
		return "CondvarNotifyOne"
	case EventCondvarNotifyAll:
		return "CondvarNotifyAll"
	default:
		return "Unknown"
	}
}

// ThreadLockPair records that a thread is currently blocked attempting to
// acquire a lock.
type ThreadLockPair struct {
	Thread ThreadId `json:"thread"`
	Lock   LockId   `json:"lock"`
}

// DeadlockInfo describes a detected cycle in the wait-for graph at the
// moment it closed.
type DeadlockInfo struct {
	// ThreadCycle lists the threads in the cycle in wait-for order:
	// ThreadCycle[i] is blocked waiting on a lock held by ThreadCycle[i+1],
	// and the last thread waits on a lock held by ThreadCycle[0].
	ThreadCycle []ThreadId `json:"thread_cycle"`
	// ThreadWaitingForLock gives, for each thread in ThreadCycle, the lock
	// it is blocked on — one pair per cycle participant, sorted by thread
	// ID, not a dump of every blocked thread in the engine.
	ThreadWaitingForLock []ThreadLockPair `json:"thread_waiting_for_lock"`
	Timestamp            time.Time        `json:"timestamp"`
}

// LockOrderReport describes a cycle discovered in the lock-order graph: a
// lock acquisition order that, if ever exercised concurrently by two
// threads taking the locks in opposite orders, could deadlock. Unlike
// DeadlockInfo this is an early warning — no thread is necessarily blocked
// when it fires.
type LockOrderReport struct {
	Cycle     []LockId  `json:"cycle"`
	Timestamp time.Time `json:"timestamp"`
}

// Sink receives a synchronous, serialized stream of detector events. Engine
// calls Sink methods while holding its internal lock, so implementations
// must not call back into the Engine and must keep per-call work small —
// buffer anything that does real I/O. A nil Sink disables observation
// entirely.
type Sink interface {
	LogThreadEvent(thread ThreadId, parent *ThreadId, event EventKind)
	LogLockEvent(lock LockId, creator *ThreadId, event EventKind)
	LogInteraction(thread ThreadId, lock LockId, event EventKind)
	LogCondvarEvent(cv CondvarId, event EventKind)
	LogDeadlock(info DeadlockInfo)
	LogLockOrderViolation(report LockOrderReport)
	LogFault(fault *Fault)
}

// StressHook lets a caller inject scheduling perturbation at lock attempt
// and release points, to make latent deadlocks reproduce more often under
// test. It is consulted only when the attempting thread already holds at
// least one other lock. Implementations must not call back into the Engine.
type StressHook interface {
	// Delay is called from OnLockAttempt before the attempt is evaluated
	// against the wait-for graph. held is a snapshot of the locks the
	// attempting thread currently holds.
	Delay(thread ThreadId, lock LockId, held []LockId)
	// AfterRelease is called from OnLockRelease once a lock has actually
	// been released by its owner.
	AfterRelease(thread ThreadId, lock LockId)
}
