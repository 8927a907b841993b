package detector

import (
	"fmt"
	"log"
	"sync"
	"time"
)

// dispatcher delivers DeadlockInfo and LockOrderReport values to user
// callbacks off the thread that detected them. Detection happens inside
// on_lock_attempt et al. with the engine lock held, often from the very
// thread that is about to become permanently blocked; invoking the user's
// callback synchronously there would mean a callback that blocks, or a
// deadlock involving the detecting thread itself, could prevent the report
// from ever being delivered. Instead the report is pushed onto an unbounded
// queue and a single long-lived background goroutine drains it, invoking
// callbacks one at a time.
//
// The queue is a plain slice guarded by a mutex rather than a channel so
// that producers never block on send, no matter how far behind the
// consumer falls or how long a single callback invocation takes.
type dispatcher struct {
	mu   sync.Mutex
	cond *sync.Cond

	deadlocks   []DeadlockInfo
	lockOrders  []LockOrderReport
	closed      bool
	stopped     chan struct{}

	onDeadlock  func(DeadlockInfo)
	onLockOrder func(LockOrderReport)
	sink        Sink
}

func newDispatcher(onDeadlock func(DeadlockInfo), onLockOrder func(LockOrderReport), sink Sink) *dispatcher {
	if onDeadlock == nil {
		onDeadlock = func(DeadlockInfo) {}
	}
	if onLockOrder == nil {
		onLockOrder = func(LockOrderReport) {}
	}
	d := &dispatcher{
		onDeadlock:  onDeadlock,
		onLockOrder: onLockOrder,
		sink:        sink,
		stopped:     make(chan struct{}),
	}
	d.cond = sync.NewCond(&d.mu)
	return d
}

func (d *dispatcher) start() {
	go d.run()
}

// send enqueues a deadlock report. It never blocks.
func (d *dispatcher) send(info DeadlockInfo) {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	d.deadlocks = append(d.deadlocks, info)
	d.mu.Unlock()
	d.cond.Signal()
}

// sendLockOrder enqueues a lock-order violation report. It never blocks.
func (d *dispatcher) sendLockOrder(report LockOrderReport) {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	d.lockOrders = append(d.lockOrders, report)
	d.mu.Unlock()
	d.cond.Signal()
}

// stop drains any remaining queued reports and shuts the worker down. Not
// called in normal operation — the dispatcher is meant to run for the life
// of the process — but tests use it to avoid leaking goroutines.
func (d *dispatcher) stop() {
	d.mu.Lock()
	d.closed = true
	d.mu.Unlock()
	d.cond.Signal()
	<-d.stopped
}

func (d *dispatcher) run() {
	for {
		d.mu.Lock()
		for len(d.deadlocks) == 0 && len(d.lockOrders) == 0 && !d.closed {
			d.cond.Wait()
		}
		if len(d.deadlocks) == 0 && len(d.lockOrders) == 0 && d.closed {
			d.mu.Unlock()
			close(d.stopped)
			return
		}

		var (
			info     DeadlockInfo
			hasInfo  bool
			report   LockOrderReport
			hasReport bool
		)
		if len(d.deadlocks) > 0 {
			info, d.deadlocks = d.deadlocks[0], d.deadlocks[1:]
			hasInfo = true
		} else {
			report, d.lockOrders = d.lockOrders[0], d.lockOrders[1:]
			hasReport = true
		}
		d.mu.Unlock()

		if hasInfo {
			d.invokeDeadlock(info)
		}
		if hasReport {
			d.invokeLockOrder(report)
		}
	}
}

// invokeDeadlock and invokeLockOrder recover from a panicking callback
// rather than letting it take the dispatcher goroutine down: one
// misbehaving handler must not silently stop every future deadlock report
// from being delivered. The panic is reported as a Fault to the configured
// sink, falling back to the standard logger when there is none.
func (d *dispatcher) invokeDeadlock(info DeadlockInfo) {
	defer func() {
		if r := recover(); r != nil {
			d.reportCallbackPanic("deadlock callback", r)
		}
	}()
	d.onDeadlock(info)
}

func (d *dispatcher) invokeLockOrder(report LockOrderReport) {
	defer func() {
		if r := recover(); r != nil {
			d.reportCallbackPanic("lock-order callback", r)
		}
	}()
	d.onLockOrder(report)
}

func (d *dispatcher) reportCallbackPanic(operation string, r interface{}) {
	if d.sink == nil {
		log.Printf("gridlock: %s panicked: %v", operation, r)
		return
	}
	d.sink.LogFault(&Fault{
		Kind: FaultCallbackPanic,
		Err:  fmt.Errorf("%v", r),
		Context: FaultContext{
			Operation: operation,
			Timestamp: time.Now(),
		},
	})
}
