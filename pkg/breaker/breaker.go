// Package breaker implements the circuit breaker the sync engine checks
// before dispatching a job: N consecutive failures open it, it stays
// open for a cool-down C, and the first successful probe after cool-down
// closes it again. It adapts a success-threshold counter into a
// single-probe half-open policy, and adds a scope key so a global
// breaker and one breaker per module share the same mechanics.
package breaker

import (
	"sync"
	"time"
)

// State is one of Closed, Open, HalfOpen.
type State int

const (
	Closed State = iota
	Open
	HalfOpen
)

func (s State) String() string {
	switch s {
	case Closed:
		return "closed"
	case Open:
		return "open"
	case HalfOpen:
		return "half_open"
	default:
		return "unknown"
	}
}

// DefaultFailureThreshold and DefaultCoolDown are the N=5, C=5min
// defaults.
const (
	DefaultFailureThreshold = 5
	DefaultCoolDown         = 5 * time.Minute
)

// Breaker is a single named circuit (global, or one module).
type Breaker struct {
	mu               sync.Mutex
	scope            string
	state            State
	consecutiveFails int
	openedAt         time.Time
	failureThreshold int
	coolDown         time.Duration
	probeInFlight    bool
}

// newBreaker constructs a Closed breaker for scope.
func newBreaker(scope string, failureThreshold int, coolDown time.Duration) *Breaker {
	if failureThreshold <= 0 {
		failureThreshold = DefaultFailureThreshold
	}
	if coolDown <= 0 {
		coolDown = DefaultCoolDown
	}
	return &Breaker{scope: scope, state: Closed, failureThreshold: failureThreshold, coolDown: coolDown}
}

// Allow reports whether a job may be dispatched right now, and performs
// the Open→HalfOpen transition (one probe admitted) when the cool-down
// has elapsed.
func (b *Breaker) Allow(now time.Time) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case Closed:
		return true
	case Open:
		if now.Before(b.openedAt.Add(b.coolDown)) {
			return false
		}
		b.state = HalfOpen
		b.probeInFlight = true
		return true
	case HalfOpen:
		if b.probeInFlight {
			return false
		}
		b.probeInFlight = true
		return true
	default:
		return false
	}
}

// RecordSuccess closes the breaker and resets its failure counter. A
// success while HalfOpen is exactly the "first successful job after
// cool-down" that closes the circuit.
func (b *Breaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.state = Closed
	b.consecutiveFails = 0
	b.probeInFlight = false
}

// RecordFailure bumps the consecutive-failure counter and opens the
// breaker once the threshold is reached; any failure while HalfOpen
// reopens it immediately.
func (b *Breaker) RecordFailure(now time.Time) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.probeInFlight = false

	if b.state == HalfOpen {
		b.state = Open
		b.openedAt = now
		b.consecutiveFails = b.failureThreshold
		return
	}

	b.consecutiveFails++
	if b.consecutiveFails >= b.failureThreshold {
		b.state = Open
		b.openedAt = now
	}
}

// Snapshot is the exported, lock-free view of a breaker's state for
// persistence and reporting.
type Snapshot struct {
	Scope            string
	State            State
	ConsecutiveFails int
	OpenedAt         time.Time
}

func (b *Breaker) snapshot() Snapshot {
	b.mu.Lock()
	defer b.mu.Unlock()
	return Snapshot{Scope: b.scope, State: b.state, ConsecutiveFails: b.consecutiveFails, OpenedAt: b.openedAt}
}

func (b *Breaker) restore(s Snapshot) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.state = s.State
	b.consecutiveFails = s.ConsecutiveFails
	b.openedAt = s.OpenedAt
}

// Manager owns the global breaker plus one breaker per module; each
// module breaker uses the same policy with independent counters.
type Manager struct {
	mu               sync.Mutex
	global           *Breaker
	modules          map[string]*Breaker
	failureThreshold int
	coolDown         time.Duration
	store            Store
}

// NewManager builds a Manager with the default thresholds. A nil store
// disables persistence (state lives only for the process lifetime).
func NewManager(store Store) *Manager {
	m := &Manager{
		modules:          make(map[string]*Breaker),
		failureThreshold: DefaultFailureThreshold,
		coolDown:         DefaultCoolDown,
		store:            store,
	}
	m.global = newBreaker("__global__", m.failureThreshold, m.coolDown)
	if store != nil {
		if snap, ok, _ := store.Load("__global__"); ok {
			m.global.restore(snap)
		}
	}
	return m
}

// Global returns the process-wide breaker.
func (m *Manager) Global() *Breaker { return m.global }

// Module returns (creating if necessary) the breaker scoped to module,
// restoring persisted state on first access.
func (m *Manager) Module(module string) *Breaker {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.modules[module]
	if ok {
		return b
	}
	b = newBreaker(module, m.failureThreshold, m.coolDown)
	if m.store != nil {
		if snap, ok, _ := m.store.Load(module); ok {
			b.restore(snap)
		}
	}
	m.modules[module] = b
	return b
}

// Persist writes the current state of the global breaker and every
// known module breaker, so a restart resumes with the same circuit
// state rather than silently reclosing it.
func (m *Manager) Persist() error {
	if m.store == nil {
		return nil
	}
	if err := m.store.Save(m.global.snapshot()); err != nil {
		return err
	}
	m.mu.Lock()
	breakers := make([]*Breaker, 0, len(m.modules))
	for _, b := range m.modules {
		breakers = append(breakers, b)
	}
	m.mu.Unlock()

	for _, b := range breakers {
		if err := m.store.Save(b.snapshot()); err != nil {
			return err
		}
	}
	return nil
}
