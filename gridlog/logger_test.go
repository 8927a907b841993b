package gridlog

import (
	"bytes"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"gridlock/detector"
)

// syncBuffer lets multiple goroutines (the background writer and the test)
// safely inspect the same in-memory sink.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) Close() error { return nil }

func (b *syncBuffer) lines(t *testing.T) []Record {
	t.Helper()
	b.mu.Lock()
	defer b.mu.Unlock()

	dec := json.NewDecoder(bytes.NewReader(b.buf.Bytes()))
	var records []Record
	for dec.More() {
		var r Record
		if err := dec.Decode(&r); err != nil {
			t.Fatalf("failed to decode record: %v", err)
		}
		records = append(records, r)
	}
	return records
}

func waitForRecords(t *testing.T, buf *syncBuffer, n int) []Record {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for {
		records := buf.lines(t)
		if len(records) >= n {
			return records
		}
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %d records, got %d", n, len(records))
		}
		time.Sleep(time.Millisecond)
	}
}

func TestEventLogger_RecordsThreadAndLockEvents(t *testing.T) {
	buf := &syncBuffer{}
	l := newEventLoggerFromWriter(buf)
	defer l.Close()

	l.LogThreadEvent(1, nil, detector.EventThreadSpawn)
	l.LogLockEvent(10, nil, detector.EventLockCreate)
	l.LogInteraction(1, 10, detector.EventAttempt)
	l.LogInteraction(1, 10, detector.EventAcquired)

	records := waitForRecords(t, buf, 4)
	if records[3].Snapshot == nil || len(records[3].Snapshot.Links) != 1 {
		t.Fatalf("expected one live link in the final snapshot, got %+v", records[3].Snapshot)
	}
	if records[3].Snapshot.Links[0].Kind != "Acquired" {
		t.Errorf("expected the link to be Acquired, got %q", records[3].Snapshot.Links[0].Kind)
	}
}

func TestEventLogger_ReleaseRemovesLink(t *testing.T) {
	buf := &syncBuffer{}
	l := newEventLoggerFromWriter(buf)
	defer l.Close()

	l.LogInteraction(1, 10, detector.EventAcquired)
	l.LogInteraction(1, 10, detector.EventReleased)

	records := waitForRecords(t, buf, 2)
	if len(records[1].Snapshot.Links) != 0 {
		t.Errorf("expected no links after release, got %v", records[1].Snapshot.Links)
	}
}

func TestEventLogger_DeadlockRecordCarriesFullPayload(t *testing.T) {
	buf := &syncBuffer{}
	l := newEventLoggerFromWriter(buf)
	defer l.Close()

	info := detector.DeadlockInfo{
		ThreadCycle: []detector.ThreadId{1, 2},
		Timestamp:   time.Now(),
	}
	l.LogDeadlock(info)

	records := waitForRecords(t, buf, 1)
	if records[0].Deadlock == nil {
		t.Fatal("expected the deadlock record to carry a DeadlockInfo payload")
	}
	if len(records[0].Deadlock.ThreadCycle) != 2 {
		t.Errorf("expected the cycle to round-trip through JSON, got %v", records[0].Deadlock.ThreadCycle)
	}
}

func TestEventLogger_ThreadExitRemovesItFromSnapshot(t *testing.T) {
	buf := &syncBuffer{}
	l := newEventLoggerFromWriter(buf)
	defer l.Close()

	l.LogThreadEvent(1, nil, detector.EventThreadSpawn)
	l.LogThreadEvent(1, nil, detector.EventThreadExit)

	records := waitForRecords(t, buf, 2)
	if len(records[1].Snapshot.Threads) != 0 {
		t.Errorf("expected no live threads after exit, got %v", records[1].Snapshot.Threads)
	}
}
