// Package circuitbreaker stops calls to a failing target until a cooldown
// has passed.
package circuitbreaker

import (
	"errors"
	"sync"
	"time"
)

var ErrOpen = errors.New("circuit breaker is open")

type State int

const (
	StateClosed State = iota
	StateOpen
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half_open"
	default:
		return "closed"
	}
}

type target struct {
	state               State
	consecutiveFailures int
	openedAt            time.Time
}

// Breaker tracks consecutive failures per key. After threshold failures the
// key is open for cooldown; then a single trial request is let through. A
// threshold of zero disables the breaker.
type Breaker struct {
	mu        sync.Mutex
	targets   map[string]*target
	threshold int
	cooldown  time.Duration
	clock     func() time.Time
}

func New(threshold int, cooldown time.Duration) *Breaker {
	return &Breaker{
		targets:   make(map[string]*target),
		threshold: threshold,
		cooldown:  cooldown,
		clock:     time.Now,
	}
}

// WithClock sets the breaker's clock.
func (b *Breaker) WithClock(clock func() time.Time) *Breaker {
	if clock != nil {
		b.clock = clock
	}
	return b
}

// Allow returns ErrOpen when calls to key should not be attempted.
func (b *Breaker) Allow(key string) error {
	if b.threshold <= 0 {
		return nil
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	t, ok := b.targets[key]
	if !ok {
		return nil
	}

	switch t.state {
	case StateOpen, StateHalfOpen:
		// A trial request that never reported back is replaced after another cooldown.
		now := b.clock()
		if now.Sub(t.openedAt) >= b.cooldown {
			t.state = StateHalfOpen
			t.openedAt = now
			return nil
		}
		return ErrOpen
	default:
		return nil
	}
}

func (b *Breaker) RecordSuccess(key string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if t, ok := b.targets[key]; ok {
		t.state = StateClosed
		t.consecutiveFailures = 0
	}
}

func (b *Breaker) RecordFailure(key string) {
	if b.threshold <= 0 {
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	t, ok := b.targets[key]
	if !ok {
		t = &target{}
		b.targets[key] = t
	}

	t.consecutiveFailures++
	if t.state == StateHalfOpen || t.consecutiveFailures >= b.threshold {
		t.state = StateOpen
		t.openedAt = b.clock()
	}
}

// State reports the current state of key.
func (b *Breaker) State(key string) State {
	b.mu.Lock()
	defer b.mu.Unlock()

	if t, ok := b.targets[key]; ok {
		return t.state
	}
	return StateClosed
}
