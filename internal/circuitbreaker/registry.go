package circuitbreaker

import (
	"sync"
	"time"

	"githook-runner/internal/common/logging"
)

// Registry hands out named circuit breakers so unrelated call sites share
// failure and recovery state for one logical dependency. It is constructed
// once by the application and passed by reference to every call site that
// needs a breaker.
type Registry struct {
	breakers map[string]*CircuitBreaker
	logger   logging.Logger
	mu       sync.RWMutex
}

// NewRegistry creates a new circuit breaker registry
func NewRegistry(logger logging.Logger) *Registry {
	if logger == nil {
		logger = logging.GetGlobalLogger()
	}

	return &Registry{
		breakers: make(map[string]*CircuitBreaker),
		logger:   logger,
	}
}

// GetOrCreate returns the breaker registered under name, creating it with
// config on first request. The first construction's parameters win; later
// callers with a different config get the existing instance.
func (r *Registry) GetOrCreate(name string, config Config) *CircuitBreaker {
	r.mu.Lock()
	defer r.mu.Unlock()

	if breaker, exists := r.breakers[name]; exists {
		return breaker
	}

	breaker := New(name, config)

	breaker.OnStateChange(func(name string, from, to State) {
		r.logger.Warn("Circuit breaker state change",
			logging.Field{Key: "circuit_breaker", Value: name},
			logging.Field{Key: "from_state", Value: from.String()},
			logging.Field{Key: "to_state", Value: to.String()},
		)
	})

	r.breakers[name] = breaker
	return breaker
}

// Get retrieves an existing circuit breaker by name
func (r *Registry) Get(name string) (*CircuitBreaker, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	breaker, exists := r.breakers[name]
	return breaker, exists
}

// AllStats returns statistics for all registered circuit breakers
func (r *Registry) AllStats() []Stats {
	r.mu.RLock()
	defer r.mu.RUnlock()

	stats := make([]Stats, 0, len(r.breakers))
	for _, breaker := range r.breakers {
		stats = append(stats, breaker.Stats())
	}

	return stats
}

// Predefined configurations for the service's known dependencies
var (
	// SinkConfig guards notification sink deliveries
	SinkConfig = Config{
		FailureThreshold: 3,
		RecoveryTimeout:  30 * time.Second,
	}

	// StorageConfig guards best-effort storage writes issued from
	// background processing
	StorageConfig = Config{
		FailureThreshold: 5,
		RecoveryTimeout:  60 * time.Second,
	}
)
