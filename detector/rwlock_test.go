package detector

import "testing"

func TestRwLock_MultipleReadersNoBlock(t *testing.T) {
	e, reports := newTestEngine(t)

	const lock LockId = 1
	e.OnRwLockCreate(lock, 0, false)

	for _, thread := range []ThreadId{1, 2, 3} {
		e.OnRwReadAttempt(thread, lock)
		e.OnRwReadAcquired(thread, lock)
	}

	assertNoDeadlock(t, reports)
	if len(e.rwReaders[lock]) != 3 {
		t.Errorf("expected 3 concurrent readers, got %d", len(e.rwReaders[lock]))
	}
}

// TestRwLock_WriterBlocksOnReaders checks one half of the mutual-exclusion
// invariant: a write attempt against a lock held by a reader is recorded as
// waiting.
func TestRwLock_WriterBlocksOnReaders(t *testing.T) {
	e, reports := newTestEngine(t)

	const (
		reader, writer ThreadId = 1, 2
		lock           LockId   = 1
	)
	e.OnRwLockCreate(lock, 0, false)
	e.OnRwReadAttempt(reader, lock)
	e.OnRwReadAcquired(reader, lock)

	e.OnRwWriteAttempt(writer, lock)
	assertNoDeadlock(t, reports)

	if _, waiting := e.awaitedLock[writer]; !waiting {
		t.Error("expected the writer to be recorded as waiting")
	}
}

// TestRwLock_ReaderWriterDeadlock has a writer holding the lock while a
// reader waits on it, and the writer in turn waiting on a plain mutex the
// reader holds.
func TestRwLock_ReaderWriterDeadlock(t *testing.T) {
	e, reports := newTestEngine(t)

	const (
		reader, writer ThreadId = 1, 2
		rw             LockId   = 1
		plain          LockId   = 2
	)
	e.OnRwLockCreate(rw, 0, false)
	e.OnLockCreate(plain, 0, false)

	e.OnLockAttempt(reader, plain)
	e.OnLockAcquired(reader, plain)

	e.OnRwWriteAttempt(writer, rw)
	e.OnRwWriteAcquired(writer, rw)

	e.OnRwReadAttempt(reader, rw) // reader waits on writer
	assertNoDeadlock(t, reports)

	e.OnLockAttempt(writer, plain) // writer waits on reader: cycle closes
	info := awaitDeadlock(t, reports)
	if len(info.ThreadCycle) != 2 {
		t.Fatalf("expected a 2-thread cycle, got %v", info.ThreadCycle)
	}
}

// TestRwLock_WriteAttemptBlocksOnEveryReader checks that a write attempt
// against a lock held by several readers produces a wait-for edge to each
// one, and that a further wait on one of those readers is not reported as a
// cycle.
func TestRwLock_WriteAttemptBlocksOnEveryReader(t *testing.T) {
	e, reports := newTestEngine(t)

	const (
		r1, r2, writer ThreadId = 1, 2, 3
		rw             LockId   = 1
		ownedByR2      LockId   = 2
	)
	e.OnRwLockCreate(rw, 0, false)
	e.OnLockCreate(ownedByR2, 0, false)

	e.OnRwReadAttempt(r1, rw)
	e.OnRwReadAcquired(r1, rw)
	e.OnRwReadAttempt(r2, rw)
	e.OnRwReadAcquired(r2, rw)

	e.OnLockAttempt(r2, ownedByR2)
	e.OnLockAcquired(r2, ownedByR2)

	e.OnRwWriteAttempt(writer, rw) // writer now waits on both r1 and r2
	assertNoDeadlock(t, reports)
	for _, r := range []ThreadId{r1, r2} {
		if _, ok := e.wfg.edges[writer][r]; !ok {
			t.Errorf("expected a wait-for edge from the writer to reader %v", r)
		}
	}

	e.OnLockAttempt(writer, ownedByR2) // trivial extra wait, no cycle
	assertNoDeadlock(t, reports)
}

func TestRwLock_DestroyWhileAwaitedSeversWait(t *testing.T) {
	e, reports := newTestEngine(t)

	const (
		t1, t2 ThreadId = 1, 2
		rw     LockId   = 1
	)
	e.OnRwLockCreate(rw, 0, false)
	e.OnRwWriteAttempt(t1, rw)
	e.OnRwWriteAcquired(t1, rw)

	e.OnRwReadAttempt(t2, rw)
	assertNoDeadlock(t, reports)

	e.OnRwLockDestroy(rw)

	if _, waiting := e.awaitedLock[t2]; waiting {
		t.Error("expected destroying the rwlock to clear t2's awaited-lock entry")
	}
}

func TestRwLock_ReleaseByNonOwnerIgnored(t *testing.T) {
	e, _ := newTestEngine(t)

	const (
		owner, other ThreadId = 1, 2
		rw           LockId   = 1
	)
	e.OnRwLockCreate(rw, 0, false)
	e.OnRwWriteAttempt(owner, rw)
	e.OnRwWriteAcquired(owner, rw)

	e.OnRwWriteRelease(other, rw)

	if w, ok := e.rwWriter[rw]; !ok || w != owner {
		t.Error("a release from a non-owner must not clear the real writer")
	}
}
