// Package breaker implements per-partition fault isolation.
//
// Each partition gets an independent state machine with three states:
//
//   - Closed: calls are admitted; repeated failures within a trailing window
//     trip the breaker.
//   - Open: calls are rejected immediately without reaching the partition.
//   - HalfOpen: after the cool-down, a limited number of probe calls are
//     admitted to test recovery.
package breaker

import (
	"sync"
	"time"
)

// State is the current mode of a breaker.
type State int32

const (
	StateClosed State = iota
	StateOpen
	StateHalfOpen
)

// String returns the lowercase state name.
func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half_open"
	default:
		return "unknown"
	}
}

// Config holds breaker thresholds. The zero value is not usable; start from
// DefaultConfig.
type Config struct {
	// FailureThreshold is the number of failures within Window that trips the
	// breaker from Closed to Open.
	FailureThreshold int

	// SuccessThreshold is the number of consecutive HalfOpen successes needed
	// to close the breaker. It is also the HalfOpen probe quota.
	SuccessThreshold int

	// CoolDown is how long an Open breaker rejects calls before transitioning
	// to HalfOpen.
	CoolDown time.Duration

	// Window is the trailing window over which failures are counted while
	// Closed.
	Window time.Duration
}

// DefaultConfig returns the default breaker thresholds.
func DefaultConfig() Config {
	return Config{
		FailureThreshold: 5,
		SuccessThreshold: 2,
		CoolDown:         30 * time.Second,
		Window:           60 * time.Second,
	}
}

// Status is a point-in-time view of a breaker for admin callers.
type Status struct {
	State          State         `json:"state"`
	Failures       int           `json:"failures"`
	Successes      int           `json:"successes"`
	ProbesInFlight int           `json:"probes_in_flight"`
	LastTransition time.Time     `json:"last_transition"`
	CoolDown       time.Duration `json:"cool_down"`
}

// Breaker is the fault-isolation state machine for a single partition.
// All methods are safe for concurrent use; the admit decision is O(1) and
// never blocks on partition I/O.
type Breaker struct {
	cfg Config
	now func() time.Time

	mu             sync.Mutex
	state          State
	failures       []time.Time // failure timestamps within the trailing window
	successes      int         // consecutive successes, HalfOpen only
	probesInFlight int
	openedAt       time.Time
	lastTransition time.Time
}

// New creates a Closed breaker with the given config.
func New(cfg Config) *Breaker {
	return newBreaker(cfg, time.Now)
}

// newBreaker allows tests to inject a clock.
func newBreaker(cfg Config, now func() time.Time) *Breaker {
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = DefaultConfig().FailureThreshold
	}
	if cfg.SuccessThreshold <= 0 {
		cfg.SuccessThreshold = DefaultConfig().SuccessThreshold
	}
	if cfg.CoolDown <= 0 {
		cfg.CoolDown = DefaultConfig().CoolDown
	}
	if cfg.Window <= 0 {
		cfg.Window = DefaultConfig().Window
	}
	return &Breaker{
		cfg:            cfg,
		now:            now,
		state:          StateClosed,
		lastTransition: now(),
	}
}

// Allow reports whether a call may proceed. In HalfOpen it consumes one unit
// of the probe quota, so callers must only invoke Allow for calls they will
// actually issue (and must report the outcome via RecordResult).
func (b *Breaker) Allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateClosed:
		return true
	case StateOpen:
		if b.now().Sub(b.openedAt) >= b.cfg.CoolDown {
			b.transitionLocked(StateHalfOpen)
			b.probesInFlight = 1
			return true
		}
		return false
	case StateHalfOpen:
		if b.probesInFlight < b.cfg.SuccessThreshold {
			b.probesInFlight++
			return true
		}
		return false
	default:
		return false
	}
}

// RecordResult feeds a call outcome into the state machine. It is the only
// mutator besides the cool-down expiry inside Allow.
func (b *Breaker) RecordResult(success bool, latency time.Duration) {
	_ = latency // latency feeds registry metrics, not the breaker itself

	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateClosed:
		if success {
			b.failures = b.failures[:0]
			return
		}
		b.recordFailureLocked()
	case StateHalfOpen:
		if b.probesInFlight > 0 {
			b.probesInFlight--
		}
		if success {
			b.successes++
			if b.successes >= b.cfg.SuccessThreshold {
				b.transitionLocked(StateClosed)
			}
			return
		}
		// A single HalfOpen failure reopens and restarts the cool-down.
		b.transitionLocked(StateOpen)
	case StateOpen:
		// Late result from a call admitted before the breaker opened.
		// The rejection already happened; nothing to update.
	}
}

// State returns the current mode, applying the cool-down expiry so that an
// Open breaker past its cool-down reads as HalfOpen.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state == StateOpen && b.now().Sub(b.openedAt) >= b.cfg.CoolDown {
		b.transitionLocked(StateHalfOpen)
	}
	return b.state
}

// Status returns a point-in-time view for admin callers.
func (b *Breaker) Status() Status {
	state := b.State()

	b.mu.Lock()
	defer b.mu.Unlock()
	return Status{
		State:          state,
		Failures:       len(b.failures),
		Successes:      b.successes,
		ProbesInFlight: b.probesInFlight,
		LastTransition: b.lastTransition,
		CoolDown:       b.cfg.CoolDown,
	}
}

// recordFailureLocked counts a Closed-state failure and trips the breaker when
// the trailing-window count reaches the threshold. Caller must hold b.mu.
func (b *Breaker) recordFailureLocked() {
	now := b.now()
	cutoff := now.Add(-b.cfg.Window)

	kept := b.failures[:0]
	for _, ts := range b.failures {
		if ts.After(cutoff) {
			kept = append(kept, ts)
		}
	}
	b.failures = append(kept, now)

	if len(b.failures) >= b.cfg.FailureThreshold {
		b.transitionLocked(StateOpen)
	}
}

// transitionLocked moves the state machine and resets per-state counters.
// Caller must hold b.mu.
func (b *Breaker) transitionLocked(next State) {
	b.state = next
	b.lastTransition = b.now()

	switch next {
	case StateOpen:
		b.openedAt = b.now()
		b.failures = b.failures[:0]
		b.successes = 0
		b.probesInFlight = 0
	case StateHalfOpen:
		b.successes = 0
		b.probesInFlight = 0
	case StateClosed:
		b.failures = b.failures[:0]
		b.successes = 0
		b.probesInFlight = 0
	}
}
