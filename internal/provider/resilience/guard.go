package resilience

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/sony/gobreaker/v2"
)

// GuardConfig holds configuration for a Guard.
type GuardConfig struct {
	Name            string
	MaxRetries      uint64
	InitialInterval time.Duration
	MaxInterval     time.Duration
	CircuitBreaker  *CircuitBreakerConfig
	Registry        *Registry
}

// Guard applies the same retry and circuit breaker policy as Client to
// operations that are not plain HTTP requests, such as websocket sessions.
type Guard[T any] struct {
	name           string
	maxRetries     uint64
	initial        time.Duration
	max            time.Duration
	circuitBreaker *gobreaker.CircuitBreaker[T]
}

// NewGuard creates a guard.
func NewGuard[T any](cfg GuardConfig) *Guard[T] {
	if cfg.InitialInterval == 0 {
		cfg.InitialInterval = 100 * time.Millisecond
	}
	if cfg.MaxInterval == 0 {
		cfg.MaxInterval = 5 * time.Second
	}
	cbCfg := DefaultCircuitBreakerConfig(cfg.Name)
	if cfg.CircuitBreaker != nil {
		cbCfg = *cfg.CircuitBreaker
	}

	g := &Guard[T]{
		name:           cfg.Name,
		maxRetries:     cfg.MaxRetries,
		initial:        cfg.InitialInterval,
		max:            cfg.MaxInterval,
		circuitBreaker: NewCircuitBreaker[T](cbCfg),
	}
	if cfg.Registry != nil {
		cfg.Registry.Register(cfg.Name, g)
	}
	return g
}

// Execute runs op with retries. Errors wrapped with backoff.Permanent are not
// retried.
func (g *Guard[T]) Execute(ctx context.Context, op func(ctx context.Context) (T, error)) (T, error) {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = g.initial
	bo.MaxInterval = g.max
	bo.MaxElapsedTime = 0

	var result T
	err := backoff.Retry(func() error {
		v, err := g.circuitBreaker.Execute(func() (T, error) {
			return op(ctx)
		})
		if err != nil {
			if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
				return backoff.Permanent(ErrCircuitOpen)
			}
			return err
		}
		result = v
		return nil
	}, backoff.WithContext(backoff.WithMaxRetries(bo, g.maxRetries), ctx))

	return result, err
}

// CircuitBreakerState returns the current state of the circuit breaker.
func (g *Guard[T]) CircuitBreakerState() gobreaker.State {
	return g.circuitBreaker.State()
}

// CircuitBreakerCounts returns the current counts of the circuit breaker.
func (g *Guard[T]) CircuitBreakerCounts() gobreaker.Counts {
	return g.circuitBreaker.Counts()
}
