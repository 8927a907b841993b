package detector

import (
	"sort"
	"sync"
	"sync/atomic"
	"time"
)

// Engine owns every piece of detector state behind a single lock. All hook
// methods acquire that lock, perform one atomic state transition, emit
// observer callbacks to the configured Sink, and release the lock before
// returning. No hook ever blocks waiting on application code or on the
// dispatcher: reports are handed to the dispatcher's unbounded queue, which
// never blocks a producer.
type Engine struct {
	mu sync.Mutex

	// mutex/rwlock ownership and wait state.
	lockOwner    map[LockId]ThreadId
	lockCreator  map[LockId]*ThreadId
	heldLocks    map[ThreadId]map[LockId]struct{}
	awaitedLock  map[ThreadId]LockId
	rwReaders    map[LockId]map[ThreadId]struct{}
	rwWriter     map[LockId]ThreadId

	// condvar bridge state.
	cvQueue      map[CondvarId][]cvWaiter
	threadWaitCV map[ThreadId]cvWait
	cvWoken      map[ThreadId]struct{}

	wfg *waitForGraph
	log *lockOrderGraph // nil when the lock-order graph is disabled

	sink       Sink
	stressHook StressHook
	dispatcher *dispatcher

	deadlockOccurred atomic.Bool

	nextThreadID  uint64
	nextLockID    uint64
	nextCondvarID uint64
}

type cvWaiter struct {
	thread ThreadId
	mutex  LockId
}

type cvWait struct {
	cv    CondvarId
	mutex LockId
}

var (
	globalOnce   sync.Once
	globalEngine *Engine
)

// Init builds the process-wide Engine on first call and ignores opts on
// every subsequent call, matching the "configuration is set once, at
// init" contract: later callers get the already-configured instance back,
// not a silently reconfigured one.
func Init(opts ...Option) *Engine {
	globalOnce.Do(func() {
		globalEngine = New(opts...)
	})
	return globalEngine
}

// Default returns the process-wide Engine, building it with default
// configuration if Init has not already been called.
func Default() *Engine {
	globalOnce.Do(func() {
		globalEngine = New()
	})
	return globalEngine
}

// New builds a standalone Engine. Most programs should use Init/Default;
// New exists for tests and for embedding more than one detector instance in
// the same process.
func New(opts ...Option) *Engine {
	var cfg Config
	for _, opt := range opts {
		opt(&cfg)
	}

	e := &Engine{
		lockOwner:    make(map[LockId]ThreadId),
		lockCreator:  make(map[LockId]*ThreadId),
		heldLocks:    make(map[ThreadId]map[LockId]struct{}),
		awaitedLock:  make(map[ThreadId]LockId),
		rwReaders:    make(map[LockId]map[ThreadId]struct{}),
		rwWriter:     make(map[LockId]ThreadId),
		cvQueue:      make(map[CondvarId][]cvWaiter),
		threadWaitCV: make(map[ThreadId]cvWait),
		cvWoken:      make(map[ThreadId]struct{}),
		wfg:          newWaitForGraph(),
		sink:         cfg.LogSink,
		stressHook:   cfg.StressHook,
	}
	if cfg.EnableLockOrderGraph {
		e.log = newLockOrderGraph()
	}
	e.dispatcher = newDispatcher(cfg.Callback, cfg.LockOrderCallback, cfg.LogSink)
	e.dispatcher.start()
	return e
}

// NewThreadID allocates the next monotonic thread identifier.
func (e *Engine) NewThreadID() ThreadId {
	return ThreadId(atomic.AddUint64(&e.nextThreadID, 1))
}

// NewLockID allocates the next monotonic lock identifier, shared between
// mutexes and rwlocks.
func (e *Engine) NewLockID() LockId {
	return LockId(atomic.AddUint64(&e.nextLockID, 1))
}

// NewCondvarID allocates the next monotonic condition variable identifier.
func (e *Engine) NewCondvarID() CondvarId {
	return CondvarId(atomic.AddUint64(&e.nextCondvarID, 1))
}

// DeadlockDetected reports whether the engine has ever reported a deadlock.
// It never clears: once true, it stays true for the life of the engine, a
// cheap way for a caller to poll for "has anything gone wrong" without
// registering a callback.
func (e *Engine) DeadlockDetected() bool {
	return e.deadlockOccurred.Load()
}

// HeldLockCount returns how many locks thread currently holds. Useful
// alongside the victim-selection helpers, which take lock counts as a
// parameter rather than reading engine state themselves.
func (e *Engine) HeldLockCount(thread ThreadId) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.heldLocks[thread])
}

func (e *Engine) heldLockIDs(thread ThreadId) []LockId {
	set := e.heldLocks[thread]
	if len(set) == 0 {
		return nil
	}
	ids := make([]LockId, 0, len(set))
	for l := range set {
		ids = append(ids, l)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

func (e *Engine) addHeld(thread ThreadId, lock LockId) {
	set := e.heldLocks[thread]
	if set == nil {
		set = make(map[LockId]struct{})
		e.heldLocks[thread] = set
	}
	set[lock] = struct{}{}
}

func (e *Engine) removeHeld(thread ThreadId, lock LockId) {
	set := e.heldLocks[thread]
	if set == nil {
		return
	}
	delete(set, lock)
	if len(set) == 0 {
		delete(e.heldLocks, thread)
	}
}

// buildDeadlockInfo snapshots the lock each cycle participant is blocked
// on, to be called while e.mu is held.
func (e *Engine) buildDeadlockInfo(cycle []ThreadId) DeadlockInfo {
	pairs := make([]ThreadLockPair, 0, len(cycle))
	for _, t := range cycle {
		if l, ok := e.awaitedLock[t]; ok {
			pairs = append(pairs, ThreadLockPair{Thread: t, Lock: l})
		}
	}
	sort.Slice(pairs, func(i, j int) bool { return pairs[i].Thread < pairs[j].Thread })

	return DeadlockInfo{
		ThreadCycle:          cycle,
		ThreadWaitingForLock: pairs,
		Timestamp:            time.Now(),
	}
}

func (e *Engine) logThreadEvent(thread ThreadId, parent *ThreadId, ev EventKind) {
	if e.sink != nil {
		e.sink.LogThreadEvent(thread, parent, ev)
	}
}

func (e *Engine) logLockEvent(lock LockId, creator *ThreadId, ev EventKind) {
	if e.sink != nil {
		e.sink.LogLockEvent(lock, creator, ev)
	}
}

func (e *Engine) logInteraction(thread ThreadId, lock LockId, ev EventKind) {
	if e.sink != nil {
		e.sink.LogInteraction(thread, lock, ev)
	}
}

func (e *Engine) logCondvarEvent(cv CondvarId, ev EventKind) {
	if e.sink != nil {
		e.sink.LogCondvarEvent(cv, ev)
	}
}

func (e *Engine) logFault(f *Fault) {
	if e.sink != nil {
		e.sink.LogFault(f)
	}
}
