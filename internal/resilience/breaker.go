package resilience

import (
	"context"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

// ErrCircuitOpen is returned when a call is rejected without being attempted.
var ErrCircuitOpen = eris.New("circuit breaker is open")

// State is the position of a Breaker.
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
	}
	return "unknown"
}

// BreakerConfig tunes a Breaker.
type BreakerConfig struct {
	// Threshold is the number of consecutive counted failures that opens
	// the breaker.
	Threshold int
	// Cooldown is how long an open breaker rejects calls before letting a
	// single probe through.
	Cooldown time.Duration
	// Counts decides which errors count toward Threshold. Defaults to
	// IsTransient.
	Counts func(error) bool
}

// DefaultBreakerConfig opens after 5 transient failures for 30s.
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{Threshold: 5, Cooldown: 30 * time.Second}
}

// Breaker stops calling a collaborator that keeps failing transiently.
type Breaker struct {
	name string
	cfg  BreakerConfig
	now  func() time.Time

	mu       sync.Mutex
	state    State
	failures int
	openedAt time.Time
	probing  bool
}

// NewBreaker returns a closed breaker. name is used in log lines.
func NewBreaker(name string, cfg BreakerConfig) *Breaker {
	def := DefaultBreakerConfig()
	if cfg.Threshold <= 0 {
		cfg.Threshold = def.Threshold
	}
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = def.Cooldown
	}
	if cfg.Counts == nil {
		cfg.Counts = IsTransient
	}
	return &Breaker{name: name, cfg: cfg, now: time.Now}
}

// Name returns the breaker's name.
func (b *Breaker) Name() string {
	if b == nil {
		return ""
	}
	return b.name
}

// State reports the current position, treating an open breaker whose
// cooldown has elapsed as half-open.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state == StateOpen && b.now().Sub(b.openedAt) >= b.cfg.Cooldown {
		return StateHalfOpen
	}
	return b.state
}

// Reset closes the breaker and clears its failure count.
func (b *Breaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.moveTo(StateClosed)
	b.failures = 0
	b.probing = false
}

// Execute runs fn unless the breaker is open.
func (b *Breaker) Execute(ctx context.Context, fn func(ctx context.Context) error) error {
	_, err := Call(ctx, b, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, fn(ctx)
	})
	return err
}

// Call runs fn through b and returns its value. A nil breaker always calls.
func Call[T any](ctx context.Context, b *Breaker, fn func(ctx context.Context) (T, error)) (T, error) {
	if b == nil {
		return fn(ctx)
	}
	var zero T
	if err := b.admit(); err != nil {
		return zero, err
	}
	v, err := fn(ctx)
	b.record(err)
	return v, err
}

func (b *Breaker) admit() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateOpen:
		if b.now().Sub(b.openedAt) < b.cfg.Cooldown {
			return eris.Wrapf(ErrCircuitOpen, "%s", b.name)
		}
		b.moveTo(StateHalfOpen)
		b.probing = true
		return nil
	case StateHalfOpen:
		if b.probing {
			return eris.Wrapf(ErrCircuitOpen, "%s: probe in flight", b.name)
		}
		b.probing = true
	}
	return nil
}

func (b *Breaker) record(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	counted := err != nil && b.cfg.Counts(err)
	if b.state == StateHalfOpen {
		b.probing = false
		if counted {
			b.trip()
			return
		}
		b.failures = 0
		b.moveTo(StateClosed)
		return
	}

	if !counted {
		b.failures = 0
		return
	}
	b.failures++
	if b.failures >= b.cfg.Threshold {
		b.trip()
	}
}

func (b *Breaker) trip() {
	b.openedAt = b.now()
	b.moveTo(StateOpen)
}

func (b *Breaker) moveTo(s State) {
	if b.state == s {
		return
	}
	zap.L().Info("resilience: breaker state change",
		zap.String("breaker", b.name),
		zap.String("from", b.state.String()),
		zap.String("to", s.String()),
	)
	b.state = s
}

// Breakers hands out one Breaker per collaborator name.
type Breakers struct {
	cfg BreakerConfig
	mu  sync.Mutex
	m   map[string]*Breaker
}

// NewBreakers creates a registry whose breakers share cfg.
func NewBreakers(cfg BreakerConfig) *Breakers {
	return &Breakers{cfg: cfg, m: make(map[string]*Breaker)}
}

// Get returns the breaker for name, creating it on first use.
func (r *Breakers) Get(name string) *Breaker {
	r.mu.Lock()
	defer r.mu.Unlock()
	if b, ok := r.m[name]; ok {
		return b
	}
	b := NewBreaker(name, r.cfg)
	r.m[name] = b
	return b
}

// States snapshots every breaker's position.
func (r *Breakers) States() map[string]State {
	r.mu.Lock()
	names := make([]*Breaker, 0, len(r.m))
	for _, b := range r.m {
		names = append(names, b)
	}
	r.mu.Unlock()

	out := make(map[string]State, len(names))
	for _, b := range names {
		out[b.name] = b.State()
	}
	return out
}
