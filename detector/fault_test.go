package detector

import (
	"errors"
	"testing"
)

func TestFaultKind_String(t *testing.T) {
	cases := []struct {
		kind FaultKind
		want string
	}{
		{FaultCallbackPanic, "CALLBACK_PANIC"},
		{FaultInconsistentRelease, "INCONSISTENT_RELEASE"},
		{FaultLockDestroyedWhileOwned, "LOCK_DESTROYED_WHILE_OWNED"},
		{FaultKind(99), "UNKNOWN"},
	}
	for _, c := range cases {
		if got := c.kind.String(); got != c.want {
			t.Errorf("FaultKind(%d).String() = %q, want %q", c.kind, got, c.want)
		}
	}
}

func TestFault_ErrorAndUnwrap(t *testing.T) {
	inner := errors.New("boom")
	f := &Fault{
		Kind:    FaultInconsistentRelease,
		Err:     inner,
		Context: FaultContext{Operation: "OnLockRelease"},
	}

	if !errors.Is(f, inner) {
		t.Error("expected errors.Is to find the wrapped error via Unwrap")
	}
	if got := f.Error(); got == "" {
		t.Error("Error() should not be empty")
	}
}

func TestEngine_InconsistentReleaseReportsFault(t *testing.T) {
	sink := &recordingSink{}
	e := New(WithLogSink(sink))
	t.Cleanup(func() { e.dispatcher.stop() })

	const (
		owner, other ThreadId = 1, 2
		lockA        LockId   = 1
	)
	e.OnLockCreate(lockA, owner, true)
	e.OnLockAttempt(owner, lockA)
	e.OnLockAcquired(owner, lockA)

	e.OnLockRelease(other, lockA) // other does not own lockA

	if sink.faultCount() != 1 {
		t.Fatalf("expected exactly one fault, got %d", sink.faultCount())
	}
	if got := sink.faults[0].Kind; got != FaultInconsistentRelease {
		t.Errorf("expected FaultInconsistentRelease, got %v", got)
	}

	// Ownership must be untouched by the bogus release.
	e.mu.Lock()
	gotOwner, owned := e.lockOwner[lockA]
	e.mu.Unlock()
	if !owned || gotOwner != owner {
		t.Errorf("expected lockA to still be owned by %v, got owner=%v owned=%v", owner, gotOwner, owned)
	}
}

func TestEngine_LockDestroyedWhileOwnedReportsFault(t *testing.T) {
	sink := &recordingSink{}
	e := New(WithLogSink(sink))
	t.Cleanup(func() { e.dispatcher.stop() })

	const (
		owner ThreadId = 1
		lockA LockId   = 1
	)
	e.OnLockCreate(lockA, owner, true)
	e.OnLockAttempt(owner, lockA)
	e.OnLockAcquired(owner, lockA)

	e.OnLockDestroy(lockA) // destroyed while owner still holds it

	if sink.faultCount() != 1 {
		t.Fatalf("expected exactly one fault, got %d", sink.faultCount())
	}
	if got := sink.faults[0].Kind; got != FaultLockDestroyedWhileOwned {
		t.Errorf("expected FaultLockDestroyedWhileOwned, got %v", got)
	}
}

func TestEngine_DestroyUnownedLockReportsNoFault(t *testing.T) {
	sink := &recordingSink{}
	e := New(WithLogSink(sink))
	t.Cleanup(func() { e.dispatcher.stop() })

	const lockA LockId = 1
	e.OnLockCreate(lockA, 0, false)
	e.OnLockDestroy(lockA)

	if n := sink.faultCount(); n != 0 {
		t.Errorf("expected no faults destroying a free lock, got %d", n)
	}
}
