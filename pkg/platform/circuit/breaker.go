// Package circuit keeps traffic away from an upstream that keeps failing.
//
// A Breaker opens after a run of consecutive failures. While open it admits
// one probe per probe interval; enough consecutive successful probes close
// it again.
package circuit

import (
	"sync"
	"time"
)

type State int

const (
	StateClosed State = iota
	StateOpen
)

func (s State) String() string {
	if s == StateOpen {
		return "open"
	}
	return "closed"
}

// Transition is what a recorded outcome did to the breaker.
type Transition int

const (
	Unchanged Transition = iota
	Opened
	Closed
)

const (
	defaultFailureThreshold = 5
	defaultSuccessThreshold = 3
	defaultProbeInterval    = 30 * time.Second
)

type Breaker struct {
	name string
	now  func() time.Time

	failureThreshold int
	successThreshold int
	probeInterval    time.Duration

	mu        sync.Mutex
	state     State
	streak    int // consecutive failures while closed, successes while open
	lastProbe time.Time
}

type Option func(*Breaker)

func WithFailureThreshold(n int) Option {
	return func(b *Breaker) {
		if n > 0 {
			b.failureThreshold = n
		}
	}
}

func WithSuccessThreshold(n int) Option {
	return func(b *Breaker) {
		if n > 0 {
			b.successThreshold = n
		}
	}
}

// WithProbeInterval spaces the calls admitted while open.
func WithProbeInterval(d time.Duration) Option {
	return func(b *Breaker) {
		if d > 0 {
			b.probeInterval = d
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(b *Breaker) {
		if now != nil {
			b.now = now
		}
	}
}

func New(name string, opts ...Option) *Breaker {
	b := &Breaker{
		name:             name,
		now:              time.Now,
		failureThreshold: defaultFailureThreshold,
		successThreshold: defaultSuccessThreshold,
		probeInterval:    defaultProbeInterval,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

func (b *Breaker) Name() string { return b.name }

func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Allow reports whether a call may go upstream. It is always true while
// closed; while open it is true once per probe interval.
func (b *Breaker) Allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state == StateClosed {
		return true
	}
	now := b.now()
	if now.Sub(b.lastProbe) < b.probeInterval {
		return false
	}
	b.lastProbe = now
	return true
}

// Failure records a failed upstream call. Any failure while open restarts
// the run of successful probes.
func (b *Breaker) Failure() Transition {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state == StateOpen {
		b.streak = 0
		return Unchanged
	}
	b.streak++
	if b.streak < b.failureThreshold {
		return Unchanged
	}
	b.state = StateOpen
	b.streak = 0
	b.lastProbe = b.now()
	return Opened
}

func (b *Breaker) Success() Transition {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state == StateClosed {
		b.streak = 0
		return Unchanged
	}
	b.streak++
	if b.streak < b.successThreshold {
		return Unchanged
	}
	b.state = StateClosed
	b.streak = 0
	return Closed
}

func (b *Breaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.state = StateClosed
	b.streak = 0
	b.lastProbe = time.Time{}
}
