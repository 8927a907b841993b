// Package stress injects scheduling perturbation at lock acquisition
// points so that latent deadlocks reproduce more often under test than
// they would running at full speed, where one thread usually finishes its
// critical section long before a racing thread even starts waiting. It
// implements detector.StressHook.
package stress

import (
	"math/rand"
	"sync"
	"time"

	"gridlock/detector"
)

// Mode selects the perturbation strategy.
type Mode int

const (
	// ModeNone applies no delay; Hook becomes a no-op wrapper.
	ModeNone Mode = iota
	// ModeRandomPreemption delays a fraction of contended attempts,
	// chosen independently of any lock-acquisition history.
	ModeRandomPreemption
	// ModeComponentBased tracks which locks have been seen acquired
	// together and delays attempts that look like they could be
	// completing a cycle with a previously observed acquisition order.
	ModeComponentBased
)

func (m Mode) String() string {
	switch m {
	case ModeNone:
		return "none"
	case ModeRandomPreemption:
		return "random-preemption"
	case ModeComponentBased:
		return "component-based"
	default:
		return "unknown"
	}
}

// Config parameterizes a Hook's delay behavior.
type Config struct {
	// ProbabilityPerAttempt is consulted only by ModeRandomPreemption: the
	// chance, in [0, 1], that any given contended attempt is delayed.
	ProbabilityPerAttempt float64
	MinDelay              time.Duration
	MaxDelay              time.Duration
	// PreemptAfterRelease also applies a delay after a lock release, not
	// just before a contended attempt.
	PreemptAfterRelease bool
}

// DefaultConfig matches the balance the upstream stress module ships as
// its default: noticeable but not disruptive.
func DefaultConfig() Config {
	return Config{
		ProbabilityPerAttempt: 0.5,
		MinDelay:              250 * time.Microsecond,
		MaxDelay:              2 * time.Millisecond,
		PreemptAfterRelease:   true,
	}
}

// HighProbabilityConfig delays more often than DefaultConfig.
func HighProbabilityConfig() Config {
	c := DefaultConfig()
	c.ProbabilityPerAttempt = 0.8
	return c
}

// LowProbabilityConfig delays less often than DefaultConfig.
func LowProbabilityConfig() Config {
	c := DefaultConfig()
	c.ProbabilityPerAttempt = 0.2
	return c
}

// AggressiveConfig delays often and for longer, for shaking out rare
// interleavings in a short test run.
func AggressiveConfig() Config {
	return Config{
		ProbabilityPerAttempt: 0.8,
		MinDelay:              500 * time.Microsecond,
		MaxDelay:              5 * time.Millisecond,
		PreemptAfterRelease:   true,
	}
}

// GentleConfig delays rarely and briefly, for running stress injection
// continuously without meaningfully slowing the program down.
func GentleConfig() Config {
	return Config{
		ProbabilityPerAttempt: 0.2,
		MinDelay:              20 * time.Microsecond,
		MaxDelay:              100 * time.Microsecond,
		PreemptAfterRelease:   false,
	}
}

// componentTracker assigns locks to components by observed acquisition
// order: a lock first seen acquired while another was already held joins
// that held lock's component; two locks that already belong to different
// components are not merged. A contended attempt that
// would join two locks already in the same component, or that repeats an
// acquisition pair in the reverse of an order seen before, is flagged as
// worth delaying — it's exactly the shape a real AB-BA deadlock takes.
type componentTracker struct {
	mu           sync.Mutex
	components   map[detector.LockId]int
	acquisitions [][2]detector.LockId
}

func newComponentTracker() *componentTracker {
	return &componentTracker{components: make(map[detector.LockId]int)}
}

func (c *componentTracker) recordAcquisition(from, to detector.LockId) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.acquisitions = append(c.acquisitions, [2]detector.LockId{from, to})

	if _, ok := c.components[from]; !ok {
		c.components[from] = len(c.components)
	}
	if _, ok := c.components[to]; !ok {
		c.components[to] = c.components[from]
	}
}

func (c *componentTracker) shouldDelay(from, to detector.LockId) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	fromComp, fromOK := c.components[from]
	toComp, toOK := c.components[to]
	if fromOK && toOK && fromComp == toComp {
		return true
	}
	for _, pair := range c.acquisitions {
		if pair[0] == to && pair[1] == from {
			return true
		}
	}
	return false
}

// Hook implements detector.StressHook.
type Hook struct {
	mode    Mode
	cfg     Config
	rng     *rand.Rand
	rngMu   sync.Mutex
	tracker *componentTracker

	mu                sync.Mutex
	preemptionCounts map[detector.LockId]int
}

// NewHook builds a stress hook. Pass the Config returned by one of the
// preset functions, or a custom one.
func NewHook(mode Mode, cfg Config) *Hook {
	return &Hook{
		mode:             mode,
		cfg:              cfg,
		rng:              rand.New(rand.NewSource(time.Now().UnixNano())),
		tracker:          newComponentTracker(),
		preemptionCounts: make(map[detector.LockId]int),
	}
}

func (h *Hook) randomDelay() time.Duration {
	if h.cfg.MinDelay >= h.cfg.MaxDelay {
		return h.cfg.MinDelay
	}
	h.rngMu.Lock()
	defer h.rngMu.Unlock()
	span := int64(h.cfg.MaxDelay - h.cfg.MinDelay)
	return h.cfg.MinDelay + time.Duration(h.rng.Int63n(span+1))
}

func (h *Hook) trackPreemption(lock detector.LockId) {
	h.mu.Lock()
	h.preemptionCounts[lock]++
	h.mu.Unlock()
}

// PreemptionCount returns how many times lock has been delayed, for tests
// and diagnostics.
func (h *Hook) PreemptionCount(lock detector.LockId) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.preemptionCounts[lock]
}

// Delay implements detector.StressHook. held is never empty when this is
// called — the engine only consults a stress hook on an attempt by a
// thread that already holds at least one other lock, since a thread
// holding nothing cannot be part of a lock-order deadlock no matter how
// long it waits.
func (h *Hook) Delay(thread detector.ThreadId, lock detector.LockId, held []detector.LockId) {
	switch h.mode {
	case ModeNone:
		return
	case ModeRandomPreemption:
		h.delayRandomPreemption(lock)
	case ModeComponentBased:
		h.delayComponentBased(lock, held)
	}
}

func (h *Hook) delayRandomPreemption(lock detector.LockId) {
	if h.cfg.ProbabilityPerAttempt <= 0 {
		return
	}
	h.rngMu.Lock()
	roll := h.rng.Float64()
	h.rngMu.Unlock()
	if roll >= h.cfg.ProbabilityPerAttempt {
		return
	}
	h.trackPreemption(lock)
	time.Sleep(h.randomDelay())
}

func (h *Hook) delayComponentBased(lock detector.LockId, held []detector.LockId) {
	delay := false
	for _, heldLock := range held {
		if h.tracker.shouldDelay(heldLock, lock) {
			delay = true
		}
		h.tracker.recordAcquisition(heldLock, lock)
	}
	if !delay {
		return
	}
	h.trackPreemption(lock)
	time.Sleep(h.randomDelay())
}

// AfterRelease implements detector.StressHook.
func (h *Hook) AfterRelease(thread detector.ThreadId, lock detector.LockId) {
	if h.mode == ModeNone || !h.cfg.PreemptAfterRelease {
		return
	}
	time.Sleep(h.randomDelay())
}
