package detector

// RwLock hooks.
//
// The upstream detector this package is modeled on leaves its rwlock hooks
// entirely unimplemented, so the behavior here is written directly from the
// invariants an rwlock must uphold rather than ported from anywhere: a
// writer excludes every reader and every other writer; any number of
// readers may hold the lock at once provided no writer holds it; a write
// attempt can be blocked by the current writer or by any current reader,
// and a read attempt can be blocked only by the current writer.
//
// Because a single attempt can therefore wait on more than one owner at
// once (a writer waiting behind three readers waits on all three), a write
// attempt may add more than one wait-for edge, and more than one of them
// may independently close a cycle. Each is filtered and reported
// separately: they are distinct cycles through the graph even though they
// were discovered by the same call.

// OnRwLockCreate registers a new rwlock.
func (e *Engine) OnRwLockCreate(lock LockId, creator ThreadId, hasCreator bool) {
	e.mu.Lock()
	defer e.mu.Unlock()

	var c *ThreadId
	if hasCreator {
		c = &creator
		e.lockCreator[lock] = c
	}
	e.logLockEvent(lock, c, EventLockCreate)
}

// OnRwLockDestroy retires an rwlock, severing the waits of every thread
// blocked on it the same way OnLockDestroy does for a plain mutex.
func (e *Engine) OnRwLockDestroy(lock LockId) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.logLockEvent(lock, e.lockCreator[lock], EventLockDestroy)

	delete(e.rwWriter, lock)
	delete(e.rwReaders, lock)
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

// OnRwReadAttempt records thread attempting to take a read lock on lock. A
// read attempt blocks only on the current writer, if any; concurrent
// readers never block each other.
func (e *Engine) OnRwReadAttempt(thread ThreadId, lock LockId) {
	e.mu.Lock()
	defer e.mu.Unlock()

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

	writer, hasWriter := e.rwWriter[lock]
	if !hasWriter || writer == thread {
		return
	}

	e.awaitedLock[thread] = lock
	if e.addWaitEdgeAndMaybeReport(thread, writer) {
		return
	}
}

// OnRwWriteAttempt records thread attempting to take a write lock on lock.
// A write attempt blocks on the current writer, if any, and on every
// current reader.
func (e *Engine) OnRwWriteAttempt(thread ThreadId, lock LockId) {
	e.mu.Lock()
	defer e.mu.Unlock()

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

	writer, hasWriter := e.rwWriter[lock]
	readers := e.rwReaders[lock]
	if !hasWriter && len(readers) == 0 {
		return
	}

	e.awaitedLock[thread] = lock

	if hasWriter && writer != thread {
		e.addWaitEdgeAndMaybeReport(thread, writer)
	}
	for reader := range readers {
		if reader == thread {
			continue
		}
		e.addWaitEdgeAndMaybeReport(thread, reader)
	}
}

// addWaitEdgeAndMaybeReport adds a single wait-for edge and, if it closes a
// cycle that survives the common-held-lock filter, dispatches it. It
// reports whether a cycle was found at all (filtered or not), purely so
// callers that want to stop after the first hit can.
func (e *Engine) addWaitEdgeAndMaybeReport(from, to ThreadId) bool {
	cycle, closed := e.wfg.AddEdge(from, to)
	if !closed {
		return false
	}
	if cycleHasCommonHeldLock(cycle, e.heldLocks) {
		return true
	}
	e.reportDeadlock(cycle)
	return true
}

// OnRwReadAcquired records that thread now holds a read lock on lock.
func (e *Engine) OnRwReadAcquired(thread ThreadId, lock LockId) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.rwReaders[lock] == nil {
		e.rwReaders[lock] = make(map[ThreadId]struct{})
	}
	e.rwReaders[lock][thread] = struct{}{}
	delete(e.awaitedLock, thread)
	e.wfg.ClearWaitEdges(thread)
	e.addHeld(thread, lock)

	e.logInteraction(thread, lock, EventAcquired)
}

// OnRwWriteAcquired records that thread now holds the write lock on lock.
func (e *Engine) OnRwWriteAcquired(thread ThreadId, lock LockId) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.rwWriter[lock] = thread
	delete(e.awaitedLock, thread)
	e.wfg.ClearWaitEdges(thread)
	e.addHeld(thread, lock)

	e.logInteraction(thread, lock, EventAcquired)
}

// OnRwReadRelease records that thread has released its read lock on lock.
func (e *Engine) OnRwReadRelease(thread ThreadId, lock LockId) {
	e.mu.Lock()
	defer e.mu.Unlock()

	readers := e.rwReaders[lock]
	if readers == nil {
		return
	}
	if _, ok := readers[thread]; !ok {
		return
	}
	delete(readers, thread)
	if len(readers) == 0 {
		delete(e.rwReaders, lock)
	}
	e.removeHeld(thread, lock)

	e.logInteraction(thread, lock, EventReleased)

	if e.stressHook != nil {
		e.mu.Unlock()
		e.stressHook.AfterRelease(thread, lock)
		e.mu.Lock()
	}
}

// OnRwWriteRelease records that thread has released the write lock on
// lock. A release from a thread other than the recorded writer is ignored,
// matching the plain-mutex policy of never acting on an inconsistent
// release.
func (e *Engine) OnRwWriteRelease(thread ThreadId, lock LockId) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if writer, ok := e.rwWriter[lock]; !ok || writer != thread {
		return
	}
	delete(e.rwWriter, lock)
	e.removeHeld(thread, lock)

	e.logInteraction(thread, lock, EventReleased)

	if e.stressHook != nil {
		e.mu.Unlock()
		e.stressHook.AfterRelease(thread, lock)
		e.mu.Lock()
	}
}
