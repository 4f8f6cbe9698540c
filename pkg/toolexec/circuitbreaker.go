package toolexec

import (
	"context"
	"sync"
	"time"

	"github.com/pkg/errors"
)

// CircuitState is one of closed/open/half-open.
type CircuitState string

const (
	CircuitClosed   CircuitState = "closed"
	CircuitOpen     CircuitState = "open"
	CircuitHalfOpen CircuitState = "half-open"
)

// ErrCircuitOpen is returned by Execute when the breaker is open (or the
// half-open probe budget is exhausted) and the call fails fast.
var ErrCircuitOpen = errors.New("toolexec: circuit breaker is open")

// CircuitBreakerConfig parameterizes one tool's breaker.
type CircuitBreakerConfig struct {
	Name string
	// FailureThreshold consecutive failures trip the breaker to open.
	FailureThreshold int
	// OpenTimeout is how long the breaker stays open before allowing
	// half-open probes.
	OpenTimeout time.Duration
	// HalfOpenMaxCalls is the number of probe calls permitted while
	// half-open; a single success closes the breaker, a single failure
	// re-opens it.
	HalfOpenMaxCalls int
	OnStateChange    func(from, to CircuitState)
}

// DefaultCircuitBreakerConfig returns reasonable defaults.
func DefaultCircuitBreakerConfig(name string) CircuitBreakerConfig {
	return CircuitBreakerConfig{
		Name:             name,
		FailureThreshold: 5,
		OpenTimeout:      30 * time.Second,
		HalfOpenMaxCalls: 1,
	}
}

// CircuitBreaker tracks per-tool failure state and fast-fails while open,
// with a half-open probe limit (HalfOpenMaxCalls) bounding how many trial
// calls are allowed before the breaker fully closes or reopens.
type CircuitBreaker struct {
	config CircuitBreakerConfig

	mu              sync.Mutex
	state           CircuitState
	consecutiveFail int
	halfOpenCalls   int
	openedAt        time.Time
}

// NewCircuitBreaker constructs a breaker starting in CircuitClosed.
func NewCircuitBreaker(config CircuitBreakerConfig) *CircuitBreaker {
	if config.FailureThreshold <= 0 {
		config.FailureThreshold = DefaultCircuitBreakerConfig(config.Name).FailureThreshold
	}
	if config.OpenTimeout <= 0 {
		config.OpenTimeout = DefaultCircuitBreakerConfig(config.Name).OpenTimeout
	}
	if config.HalfOpenMaxCalls <= 0 {
		config.HalfOpenMaxCalls = DefaultCircuitBreakerConfig(config.Name).HalfOpenMaxCalls
	}
	return &CircuitBreaker{config: config, state: CircuitClosed}
}

// State returns the breaker's current state.
func (cb *CircuitBreaker) State() CircuitState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

// Execute runs fn if the breaker allows it, recording the outcome.
// Returns ErrCircuitOpen without calling fn when fast-failing.
func (cb *CircuitBreaker) Execute(ctx context.Context, fn func(context.Context) error) error {
	if err := cb.canExecute(); err != nil {
		return err
	}
	err := fn(ctx)
	cb.recordResult(err)
	return err
}

func (cb *CircuitBreaker) canExecute() error {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case CircuitClosed:
		return nil
	case CircuitOpen:
		if time.Since(cb.openedAt) < cb.config.OpenTimeout {
			return ErrCircuitOpen
		}
		cb.transitionTo(CircuitHalfOpen)
		cb.halfOpenCalls = 1
		return nil
	case CircuitHalfOpen:
		if cb.halfOpenCalls >= cb.config.HalfOpenMaxCalls {
			return ErrCircuitOpen
		}
		cb.halfOpenCalls++
		return nil
	default:
		return nil
	}
}

func (cb *CircuitBreaker) recordResult(err error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if err != nil {
		cb.consecutiveFail++
		switch cb.state {
		case CircuitHalfOpen:
			cb.transitionTo(CircuitOpen)
			cb.openedAt = time.Now()
		case CircuitClosed:
			if cb.consecutiveFail >= cb.config.FailureThreshold {
				cb.transitionTo(CircuitOpen)
				cb.openedAt = time.Now()
			}
		}
		return
	}

	cb.consecutiveFail = 0
	if cb.state == CircuitHalfOpen {
		cb.transitionTo(CircuitClosed)
	}
}

// transitionTo must be called with cb.mu held.
func (cb *CircuitBreaker) transitionTo(newState CircuitState) {
	if cb.state == newState {
		return
	}
	from := cb.state
	cb.state = newState
	if newState != CircuitHalfOpen {
		cb.halfOpenCalls = 0
	}
	if cb.config.OnStateChange != nil {
		go cb.config.OnStateChange(from, newState)
	}
}

// CircuitBreakerRegistry lazily creates and caches one breaker per tool
// name.
type CircuitBreakerRegistry struct {
	mu       sync.RWMutex
	breakers map[string]*CircuitBreaker
	defaults CircuitBreakerConfig
}

// NewCircuitBreakerRegistry constructs a registry; defaults is applied
// (with its Name overridden per tool) to any breaker created on demand.
func NewCircuitBreakerRegistry(defaults CircuitBreakerConfig) *CircuitBreakerRegistry {
	return &CircuitBreakerRegistry{breakers: make(map[string]*CircuitBreaker), defaults: defaults}
}

// Get returns the breaker for name, creating it on first access.
func (r *CircuitBreakerRegistry) Get(name string) *CircuitBreaker {
	r.mu.RLock()
	cb, ok := r.breakers[name]
	r.mu.RUnlock()
	if ok {
		return cb
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if cb, ok := r.breakers[name]; ok {
		return cb
	}
	cfg := r.defaults
	cfg.Name = name
	cb = NewCircuitBreaker(cfg)
	r.breakers[name] = cb
	return cb
}
