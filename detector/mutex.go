package detector

import (
	"fmt"
	"time"
)

// OnLockCreate registers a new mutex. creator, when hasCreator is true,
// identifies the thread that constructed it; this is observability-only.
func (e *Engine) OnLockCreate(lock LockId, creator ThreadId, hasCreator bool) {
	e.mu.Lock()
	defer e.mu.Unlock()

	var c *ThreadId
	if hasCreator {
		c = &creator
		e.lockCreator[lock] = c
	}
	e.logLockEvent(lock, c, EventLockCreate)
}

// OnLockDestroy retires a mutex. Destroying a lock that is currently owned
// is permitted: ownership is cleared, and every thread that was waiting on
// this specific lock has its wait-for edges severed and its awaited-lock
// entry cleared, since there is no longer anything to report them as
// waiting for.
func (e *Engine) OnLockDestroy(lock LockId) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.logLockEvent(lock, e.lockCreator[lock], EventLockDestroy)

	if owner, owned := e.lockOwner[lock]; owned {
		e.logFault(&Fault{
			Kind: FaultLockDestroyedWhileOwned,
			Err:  fmt.Errorf("lock %d destroyed while still held by thread %d", lock, owner),
			Context: FaultContext{
				Operation: "OnLockDestroy",
				Timestamp: time.Now(),
			},
		})
		e.removeHeld(owner, lock)
	}

	delete(e.lockOwner, lock)
	delete(e.lockCreator, lock)
	if e.log != nil {
		e.log.RemoveLock(lock)
	}

	for t, l := range e.awaitedLock {
		if l == lock {
			delete(e.awaitedLock, t)
			e.wfg.ClearWaitEdges(t)
		}
	}
}

// OnLockAttempt records that thread is attempting to acquire lock. If the
// lock is free or already owned by thread, this is a no-op: the caller is
// about to acquire it uncontended and will report OnLockAcquired next. If
// the lock is owned by another thread, a wait-for edge (thread -> owner) is
// recorded; if that edge closes a cycle, the cycle is run through the
// common-held-lock filter and, if it survives, dispatched as a deadlock.
func (e *Engine) OnLockAttempt(thread ThreadId, lock LockId) {
	e.mu.Lock()
	e.attemptLocked(thread, lock)
	e.mu.Unlock()
}

// attemptLocked is the shared body of OnLockAttempt, callable both from
// OnLockAttempt itself and from the condvar bridge's synthetic re-attempt
// on wake, which already holds e.mu when it needs this logic to run.
func (e *Engine) attemptLocked(thread ThreadId, lock LockId) {
	e.logInteraction(thread, lock, EventAttempt)

	held := e.heldLockIDs(thread)

	if e.stressHook != nil && len(held) > 0 {
		e.mu.Unlock()
		e.stressHook.Delay(thread, lock, held)
		e.mu.Lock()
	}

	if e.log != nil {
		for _, h := range held {
			if cycle, closed := e.log.AddEdge(h, lock); closed {
				e.reportLockOrderCycle(cycle)
			}
		}
	}

	owner, owned := e.lockOwner[lock]
	if !owned || owner == thread {
		return
	}

	e.awaitedLock[thread] = lock
	cycle, closed := e.wfg.AddEdge(thread, owner)
	if !closed {
		return
	}
	if cycleHasCommonHeldLock(cycle, e.heldLocks) {
		return
	}
	e.reportDeadlock(cycle)
}

// OnLockAcquired records that thread now owns lock, having either taken it
// uncontended or woken from a successful attempt.
func (e *Engine) OnLockAcquired(thread ThreadId, lock LockId) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.lockOwner[lock] = thread
	delete(e.awaitedLock, thread)
	e.wfg.ClearWaitEdges(thread)
	e.addHeld(thread, lock)

	e.logInteraction(thread, lock, EventAcquired)
}

// OnLockRelease records that thread has released lock. A release from a
// thread other than the recorded owner is ignored rather than corrupting
// ownership state — that situation is a caller bug, not something the
// detector can make sense of.
func (e *Engine) OnLockRelease(thread ThreadId, lock LockId) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if owner, owned := e.lockOwner[lock]; !owned || owner != thread {
		e.logFault(&Fault{
			Kind: FaultInconsistentRelease,
			Err:  fmt.Errorf("thread %d released lock %d it does not own (owner=%d, owned=%v)", thread, lock, owner, owned),
			Context: FaultContext{
				Operation: "OnLockRelease",
				Timestamp: time.Now(),
			},
		})
		return
	}

	delete(e.lockOwner, lock)
	e.removeHeld(thread, lock)

	e.logInteraction(thread, lock, EventReleased)

	if e.stressHook != nil {
		e.mu.Unlock()
		e.stressHook.AfterRelease(thread, lock)
		e.mu.Lock()
	}
}

func (e *Engine) reportDeadlock(cycle []ThreadId) {
	info := e.buildDeadlockInfo(cycle)
	e.deadlockOccurred.Store(true)
	if e.sink != nil {
		e.sink.LogDeadlock(info)
	}
	e.dispatcher.send(info)
}

func (e *Engine) reportLockOrderCycle(cycle []LockId) {
	report := LockOrderReport{Cycle: cycle, Timestamp: time.Now()}
	if e.sink != nil {
		e.sink.LogLockOrderViolation(report)
	}
	e.dispatcher.sendLockOrder(report)
}
