package detector

// Condvar bridge.
//
// A condition variable has no lock-ownership of its own, so it cannot
// participate in the wait-for graph directly. Instead, a thread waiting on
// a condvar is treated as not waiting at all — wait_begin deliberately adds
// no edge, since the thread has released its associated mutex and is not
// blocked on any lock — until it is woken. At that point notify translates
// into a synthetic re-attempt of the mutex the waiter will try to
// reacquire on the way out of the wait, which is exactly the hook a real
// mutex reacquisition would have produced.

// OnCondvarCreate registers a new condition variable.
func (e *Engine) OnCondvarCreate(cv CondvarId) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.cvQueue[cv] = nil
	e.logCondvarEvent(cv, EventCondvarCreate)
}

// OnCondvarDestroy retires a condition variable and drops its wait queue.
// Threads already parked in it are not woken; destroying a condvar with
// waiters parked on it is a caller bug the detector does not try to fix up.
func (e *Engine) OnCondvarDestroy(cv CondvarId) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.logCondvarEvent(cv, EventCondvarDestroy)

	for _, w := range e.cvQueue[cv] {
		if wait, ok := e.threadWaitCV[w.thread]; ok && wait.cv == cv {
			delete(e.threadWaitCV, w.thread)
		}
	}
	delete(e.cvQueue, cv)
}

// OnCondvarWaitBegin records that thread has parked on cv, having released
// mutex to do so. No wait-for edge is added: the thread is not blocked on
// any lock while parked.
func (e *Engine) OnCondvarWaitBegin(thread ThreadId, cv CondvarId, mutex LockId) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.cvQueue[cv] = append(e.cvQueue[cv], cvWaiter{thread: thread, mutex: mutex})
	e.threadWaitCV[thread] = cvWait{cv: cv, mutex: mutex}

	e.logInteraction(thread, mutex, EventCondvarWaitBegin)
}

// OnCondvarWaitEnd records that thread has finished waiting on cv and is
// back to holding mutex (or attempting to reacquire it, if notify already
// ran the synthetic attempt below).
func (e *Engine) OnCondvarWaitEnd(thread ThreadId, cv CondvarId, mutex LockId) {
	e.mu.Lock()
	defer e.mu.Unlock()

	delete(e.threadWaitCV, thread)
	delete(e.cvWoken, thread)

	e.logInteraction(thread, mutex, EventCondvarWaitEnd)
}

// OnCondvarNotifyOne wakes the longest-waiting thread parked on cv, if any,
// and runs a synthetic mutex attempt on its behalf for the mutex it parked
// with.
func (e *Engine) OnCondvarNotifyOne(cv CondvarId, notifier ThreadId) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.logCondvarEvent(cv, EventCondvarNotifyOne)

	queue := e.cvQueue[cv]
	if len(queue) == 0 {
		return
	}
	w := queue[0]
	e.cvQueue[cv] = queue[1:]
	e.wakeAndReattemptLocked(w)
}

// OnCondvarNotifyAll wakes every thread parked on cv and runs a synthetic
// mutex attempt for each, in wait order.
func (e *Engine) OnCondvarNotifyAll(cv CondvarId, notifier ThreadId) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.logCondvarEvent(cv, EventCondvarNotifyAll)

	queue := e.cvQueue[cv]
	e.cvQueue[cv] = nil
	for _, w := range queue {
		e.wakeAndReattemptLocked(w)
	}
}

func (e *Engine) wakeAndReattemptLocked(w cvWaiter) {
	e.cvWoken[w.thread] = struct{}{}
	e.attemptLocked(w.thread, w.mutex)
}
