package resilience

import (
	"sort"
	"sync"
	"time"

	"github.com/sony/gobreaker/v2"
)

// Breaker exposes circuit breaker state. Client and Guard implement it.
type Breaker interface {
	CircuitBreakerState() gobreaker.State
	CircuitBreakerCounts() gobreaker.Counts
}

// SourceHealth represents the health status of a weather source.
type SourceHealth struct {
	Name          string           `json:"name"`
	CircuitState  gobreaker.State  `json:"-"`
	State         string           `json:"state"`
	Counts        gobreaker.Counts `json:"-"`
	LastSuccessAt *time.Time       `json:"last_success_at,omitempty"`
	LastFailureAt *time.Time       `json:"last_failure_at,omitempty"`
	LastError     string           `json:"last_error,omitempty"`
}

// IsHealthy returns true if the circuit is closed.
func (h *SourceHealth) IsHealthy() bool {
	return h.CircuitState == gobreaker.StateClosed
}

// IsDegraded returns true if the circuit is half-open.
func (h *SourceHealth) IsDegraded() bool {
	return h.CircuitState == gobreaker.StateHalfOpen
}

// IsUnhealthy returns true if the circuit is open.
func (h *SourceHealth) IsUnhealthy() bool {
	return h.CircuitState == gobreaker.StateOpen
}

// Registry tracks weather sources and their health. Sources without a
// breaker (for example in-process stubs) can still record outcomes.
type Registry struct {
	mu      sync.RWMutex
	sources map[string]*tracked
	now     func() time.Time
}

type tracked struct {
	breaker       Breaker
	lastSuccessAt *time.Time
	lastFailureAt *time.Time
	lastError     string
}

// NewRegistry creates a new source registry.
func NewRegistry() *Registry {
	return &Registry{
		sources: make(map[string]*tracked),
		now:     time.Now,
	}
}

// Register adds or replaces a source breaker.
func (r *Registry) Register(name string, b Breaker) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if t, ok := r.sources[name]; ok {
		t.breaker = b
		return
	}
	r.sources[name] = &tracked{breaker: b}
}

// Unregister removes a source.
func (r *Registry) Unregister(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.sources, name)
}

// RecordSuccess records a successful fetch, registering the source if needed.
func (r *Registry) RecordSuccess(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t := r.ensure(name)
	now := r.now()
	t.lastSuccessAt = &now
}

// RecordFailure records a failed fetch, registering the source if needed.
func (r *Registry) RecordFailure(name string, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t := r.ensure(name)
	now := r.now()
	t.lastFailureAt = &now
	if err != nil {
		t.lastError = err.Error()
	}
}

func (r *Registry) ensure(name string) *tracked {
	t, ok := r.sources[name]
	if !ok {
		t = &tracked{}
		r.sources[name] = t
	}
	return t
}

// Health returns the status of one source, or nil if unknown.
func (r *Registry) Health(name string) *SourceHealth {
	r.mu.RLock()
	defer r.mu.RUnlock()

	t, ok := r.sources[name]
	if !ok {
		return nil
	}
	return t.health(name)
}

// AllHealth returns the status of every source sorted by name.
func (r *Registry) AllHealth() []*SourceHealth {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*SourceHealth, 0, len(r.sources))
	for name, t := range r.sources {
		out = append(out, t.health(name))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Names returns registered source names sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.sources))
	for name := range r.sources {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Count returns the number of registered sources.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sources)
}

func (t *tracked) health(name string) *SourceHealth {
	h := &SourceHealth{
		Name:          name,
		CircuitState:  gobreaker.StateClosed,
		LastSuccessAt: t.lastSuccessAt,
		LastFailureAt: t.lastFailureAt,
		LastError:     t.lastError,
	}
	if t.breaker != nil {
		h.CircuitState = t.breaker.CircuitBreakerState()
		h.Counts = t.breaker.CircuitBreakerCounts()
	}
	h.State = h.CircuitState.String()
	return h
}
