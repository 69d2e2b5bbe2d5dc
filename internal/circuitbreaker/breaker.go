// Package circuitbreaker implements the per-host circuit-open logic
// of §4.3: a host whose error rate exceeds 50% over its last 20
// requests is parked for a cooldown before being tried again.
package circuitbreaker

import (
	"errors"
	"fmt"
	"sync"
	"time"
)

// ErrCircuitOpen is returned when a call is rejected because the
// circuit is open.
var ErrCircuitOpen = errors.New("circuitbreaker: circuit is open")

// State is one of closed (normal), open (parked), or half-open
// (probing for recovery).
type State int

const (
	StateClosed State = iota
	StateOpen
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// Config configures a Breaker.
type Config struct {
	WindowSize       int           // requests considered for the error rate, default 20
	ErrorRateOpen    float64       // error rate that opens the circuit, default 0.5
	SuccessThreshold int           // consecutive half-open successes needed to close, default 2
	Timeout          time.Duration // how long the circuit stays open before probing, default 60s
	OnStateChange    func(from, to State)
}

// DefaultConfig matches the spec's "error rate >50% over last 20
// requests; parked 60s" rule.
func DefaultConfig() Config {
	return Config{
		WindowSize:       20,
		ErrorRateOpen:    0.5,
		SuccessThreshold: 2,
		Timeout:          60 * time.Second,
	}
}

// Breaker is a rolling-window circuit breaker for a single host.
type Breaker struct {
	mu sync.Mutex

	cfg Config

	state           State
	window          []bool // true = success, ring buffer
	writeIdx        int
	filled          int
	lastOpenedAt    time.Time
	halfOpenSuccess int
}

// New creates a Breaker in the closed state.
func New(cfg Config) *Breaker {
	if cfg.WindowSize <= 0 {
		cfg.WindowSize = 20
	}
	if cfg.ErrorRateOpen <= 0 {
		cfg.ErrorRateOpen = 0.5
	}
	if cfg.SuccessThreshold <= 0 {
		cfg.SuccessThreshold = 2
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}
	return &Breaker{cfg: cfg, window: make([]bool, cfg.WindowSize)}
}

// Allow reports whether a request may proceed, transitioning open ->
// half-open once Timeout has elapsed.
func (b *Breaker) Allow() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state == StateOpen {
		if time.Since(b.lastOpenedAt) >= b.cfg.Timeout {
			b.transitionTo(StateHalfOpen)
		} else {
			remaining := b.cfg.Timeout - time.Since(b.lastOpenedAt)
			return fmt.Errorf("%w: retry after %v", ErrCircuitOpen, remaining)
		}
	}
	return nil
}

// Record reports the outcome of a call permitted by Allow.
func (b *Breaker) Record(success bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateHalfOpen:
		if success {
			b.halfOpenSuccess++
			if b.halfOpenSuccess >= b.cfg.SuccessThreshold {
				b.reset()
				b.transitionTo(StateClosed)
			}
		} else {
			b.reset()
			b.transitionTo(StateOpen)
		}
		return
	case StateOpen:
		return
	}

	b.window[b.writeIdx] = success
	b.writeIdx = (b.writeIdx + 1) % len(b.window)
	if b.filled < len(b.window) {
		b.filled++
	}

	if b.filled == len(b.window) && b.errorRate() > b.cfg.ErrorRateOpen {
		b.transitionTo(StateOpen)
	}
}

func (b *Breaker) errorRate() float64 {
	failures := 0
	for _, ok := range b.window {
		if !ok {
			failures++
		}
	}
	return float64(failures) / float64(len(b.window))
}

func (b *Breaker) reset() {
	b.window = make([]bool, len(b.window))
	b.writeIdx = 0
	b.filled = 0
	b.halfOpenSuccess = 0
}

func (b *Breaker) transitionTo(newState State) {
	if b.state == newState {
		return
	}
	old := b.state
	b.state = newState
	if newState == StateOpen {
		b.lastOpenedAt = time.Now()
	}
	if b.cfg.OnStateChange != nil {
		b.cfg.OnStateChange(old, newState)
	}
}

// State returns the current state.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Stats summarizes the breaker's current window.
type Stats struct {
	State        State
	ErrorRate    float64
	SampleCount  int
	LastOpenedAt time.Time
}

// Stats returns the breaker's current statistics.
func (b *Breaker) Stats() Stats {
	b.mu.Lock()
	defer b.mu.Unlock()
	rate := 0.0
	if b.filled > 0 {
		rate = b.errorRate()
	}
	return Stats{State: b.state, ErrorRate: rate, SampleCount: b.filled, LastOpenedAt: b.lastOpenedAt}
}

// Registry is a thread-safe collection of per-host breakers.
type Registry struct {
	mu       sync.Mutex
	cfg      Config
	breakers map[string]*Breaker
}

// NewRegistry creates a Registry using cfg for every newly created
// per-host breaker.
func NewRegistry(cfg Config) *Registry {
	return &Registry{cfg: cfg, breakers: make(map[string]*Breaker)}
}

// For returns the breaker for host, creating it on first use.
func (r *Registry) For(host string) *Breaker {
	r.mu.Lock()
	defer r.mu.Unlock()
	b, ok := r.breakers[host]
	if !ok {
		b = New(r.cfg)
		r.breakers[host] = b
	}
	return b
}
