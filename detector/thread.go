package detector

// OnThreadSpawn registers a newly created thread with the engine. parent,
// when hasParent is true, identifies the thread that spawned it purely for
// observability — the wait-for graph does not use parentage.
func (e *Engine) OnThreadSpawn(thread ThreadId, parent ThreadId, hasParent bool) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.wfg.ensureNode(thread)

	var p *ThreadId
	if hasParent {
		p = &parent
	}
	e.logThreadEvent(thread, p, EventThreadSpawn)
}

// OnThreadExit removes a thread from the wait-for graph and drops its
// held-lock, awaited-lock, woken and condvar-wait records: a thread that
// exits while holding locks can no longer deadlock anyone, and a thread
// that exits without releasing is a caller bug the detector does not try
// to diagnose. Locks it still owned keep their owner entry, and any condvar
// wait queue it was parked in still lists it.
func (e *Engine) OnThreadExit(thread ThreadId) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.logThreadEvent(thread, nil, EventThreadExit)

	e.wfg.RemoveThread(thread)
	delete(e.heldLocks, thread)
	delete(e.awaitedLock, thread)
	delete(e.cvWoken, thread)
	delete(e.threadWaitCV, thread)
}
