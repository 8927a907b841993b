// Package gridlog implements detector.Sink as a buffered, asynchronous
// line-delimited JSON event log, in the structured-logging style this
// codebase uses elsewhere: each record is self-contained JSON, suitable for
// streaming to a file or shipping to a log aggregator.
package gridlog

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"
	"sync"
	"time"

	"gridlock/detector"
)

// Record is one line of the event log. Thread-spawn/exit, lock
// create/destroy, attempt/acquired/released and condvar wait-begin/wait-end
// records carry Snapshot; condvar create/destroy/notify records carry only
// the condvar ID; the terminal Deadlock and LockOrderViolation records carry
// their own payload instead, since at that point the interesting
// information is the report, not another graph snapshot.
type Record struct {
	Thread             uint64                    `json:"thread,omitempty"`
	Lock               uint64                    `json:"lock,omitempty"`
	Condvar            uint64                    `json:"condvar,omitempty"`
	Event              string                    `json:"event"`
	Timestamp          time.Time                 `json:"timestamp"`
	Snapshot           *Snapshot                 `json:"snapshot,omitempty"`
	Deadlock           *detector.DeadlockInfo    `json:"deadlock,omitempty"`
	LockOrderViolation *detector.LockOrderReport `json:"lock_order_violation,omitempty"`
	Fault              *FaultRecord              `json:"fault,omitempty"`
}

// FaultRecord is the JSON-safe projection of a detector.Fault: Err is a
// plain error and would marshal to "{}", so its message is captured as a
// string instead.
type FaultRecord struct {
	Kind      string    `json:"kind"`
	Message   string    `json:"message"`
	Operation string    `json:"operation"`
	Timestamp time.Time `json:"timestamp"`
}

// Link describes a live thread-to-lock relationship at the moment a
// snapshot was taken: Kind is "Attempt" while the thread is blocked trying
// to acquire Lock, or "Acquired" once it holds it.
type Link struct {
	SourceThread uint64 `json:"source_thread"`
	TargetLock   uint64 `json:"target_lock"`
	Kind         string `json:"kind"`
}

// Snapshot is the full known graph state at the moment a record was
// produced: every live thread, every live lock, and every current
// thread-lock relationship.
type Snapshot struct {
	Threads []uint64 `json:"threads"`
	Locks   []uint64 `json:"locks"`
	Links   []Link   `json:"links"`
}

// EventLogger implements detector.Sink. Every Log* method only updates an
// in-memory graph-state cache and enqueues a Record; a single background
// goroutine owns the actual file write, so a slow disk never stalls the
// engine lock a Log* call runs under.
type EventLogger struct {
	mu     sync.Mutex
	cond   *sync.Cond
	queue  []Record
	closed bool
	done   chan struct{}

	file io.WriteCloser
	enc  *json.Encoder

	threads map[uint64]struct{}
	locks   map[uint64]struct{}
	links   map[uint64]Link
}

// NewEventLogger opens path for writing (truncating any existing file) and
// starts the background writer goroutine.
func NewEventLogger(path string) (*EventLogger, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return nil, fmt.Errorf("gridlog: open %s: %w", path, err)
	}
	return newEventLoggerFromWriter(f), nil
}

func newEventLoggerFromWriter(w io.WriteCloser) *EventLogger {
	l := &EventLogger{
		file:    w,
		enc:     json.NewEncoder(w),
		done:    make(chan struct{}),
		threads: make(map[uint64]struct{}),
		locks:   make(map[uint64]struct{}),
		links:   make(map[uint64]Link),
	}
	l.cond = sync.NewCond(&l.mu)
	go l.run()
	return l
}

func (l *EventLogger) run() {
	for {
		l.mu.Lock()
		for len(l.queue) == 0 && !l.closed {
			l.cond.Wait()
		}
		if len(l.queue) == 0 && l.closed {
			l.mu.Unlock()
			close(l.done)
			return
		}
		rec := l.queue[0]
		l.queue = l.queue[1:]
		l.mu.Unlock()

		// Best-effort: a write failure here has nowhere better to go than
		// the process's own stderr, and must not block event delivery.
		if err := l.enc.Encode(rec); err != nil {
			fmt.Fprintf(os.Stderr, "gridlock: event log write failed: %v\n", err)
		}
	}
}

func (l *EventLogger) enqueue(rec Record) {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return
	}
	l.queue = append(l.queue, rec)
	l.mu.Unlock()
	l.cond.Signal()
}

// Close stops the writer goroutine once its queue has drained and closes
// the underlying file.
func (l *EventLogger) Close() error {
	l.mu.Lock()
	l.closed = true
	l.mu.Unlock()
	l.cond.Signal()
	<-l.done
	return l.file.Close()
}

func (l *EventLogger) snapshotLocked() *Snapshot {
	threads := make([]uint64, 0, len(l.threads))
	for t := range l.threads {
		threads = append(threads, t)
	}
	sort.Slice(threads, func(i, j int) bool { return threads[i] < threads[j] })

	locks := make([]uint64, 0, len(l.locks))
	for lk := range l.locks {
		locks = append(locks, lk)
	}
	sort.Slice(locks, func(i, j int) bool { return locks[i] < locks[j] })

	links := make([]Link, 0, len(l.links))
	for _, link := range l.links {
		links = append(links, link)
	}
	sort.Slice(links, func(i, j int) bool { return links[i].SourceThread < links[j].SourceThread })

	return &Snapshot{Threads: threads, Locks: locks, Links: links}
}

// LogThreadEvent implements detector.Sink.
func (l *EventLogger) LogThreadEvent(thread detector.ThreadId, parent *detector.ThreadId, event detector.EventKind) {
	l.mu.Lock()
	switch event {
	case detector.EventThreadSpawn:
		l.threads[uint64(thread)] = struct{}{}
	case detector.EventThreadExit:
		delete(l.threads, uint64(thread))
		delete(l.links, uint64(thread))
	}
	snap := l.snapshotLocked()
	l.mu.Unlock()

	l.enqueue(Record{Thread: uint64(thread), Event: event.String(), Timestamp: time.Now(), Snapshot: snap})
}

// LogLockEvent implements detector.Sink.
func (l *EventLogger) LogLockEvent(lock detector.LockId, creator *detector.ThreadId, event detector.EventKind) {
	l.mu.Lock()
	switch event {
	case detector.EventLockCreate:
		l.locks[uint64(lock)] = struct{}{}
	case detector.EventLockDestroy:
		delete(l.locks, uint64(lock))
	}
	snap := l.snapshotLocked()
	l.mu.Unlock()

	l.enqueue(Record{Lock: uint64(lock), Event: event.String(), Timestamp: time.Now(), Snapshot: snap})
}

// LogInteraction implements detector.Sink.
func (l *EventLogger) LogInteraction(thread detector.ThreadId, lock detector.LockId, event detector.EventKind) {
	l.mu.Lock()
	switch event {
	case detector.EventAttempt:
		l.links[uint64(thread)] = Link{SourceThread: uint64(thread), TargetLock: uint64(lock), Kind: "Attempt"}
	case detector.EventAcquired:
		l.links[uint64(thread)] = Link{SourceThread: uint64(thread), TargetLock: uint64(lock), Kind: "Acquired"}
	case detector.EventReleased:
		delete(l.links, uint64(thread))
	}
	snap := l.snapshotLocked()
	l.mu.Unlock()

	l.enqueue(Record{Thread: uint64(thread), Lock: uint64(lock), Event: event.String(), Timestamp: time.Now(), Snapshot: snap})
}

// LogCondvarEvent implements detector.Sink.
func (l *EventLogger) LogCondvarEvent(cv detector.CondvarId, event detector.EventKind) {
	l.enqueue(Record{Condvar: uint64(cv), Event: event.String(), Timestamp: time.Now()})
}

// LogFault implements detector.Sink. Faults are diagnostic, not graph
// state, so no snapshot is attached.
func (l *EventLogger) LogFault(fault *detector.Fault) {
	var msg string
	if fault.Err != nil {
		msg = fault.Err.Error()
	}
	l.enqueue(Record{
		Event:     "Fault",
		Timestamp: fault.Context.Timestamp,
		Fault: &FaultRecord{
			Kind:      fault.Kind.String(),
			Message:   msg,
			Operation: fault.Context.Operation,
			Timestamp: fault.Context.Timestamp,
		},
	})
}

// LogDeadlock implements detector.Sink.
func (l *EventLogger) LogDeadlock(info detector.DeadlockInfo) {
	l.enqueue(Record{Event: "Deadlock", Timestamp: info.Timestamp, Deadlock: &info})
}

// LogLockOrderViolation implements detector.Sink.
func (l *EventLogger) LogLockOrderViolation(report detector.LockOrderReport) {
	l.enqueue(Record{Event: "LockOrderViolation", Timestamp: report.Timestamp, LockOrderViolation: &report})
}
