package llm

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
)

// Router dispatches requests across registered backends with failover.
// The primary backend is tried first; on a retryable error the request
// moves to the next backend in registration order.
type Router struct {
	mu       sync.RWMutex
	order    []string
	backends map[string]LLM
	primary  string
}

// NewRouter creates a router. The first registered backend becomes the
// primary unless SetPrimary is called.
func NewRouter() *Router {
	return &Router{backends: make(map[string]LLM)}
}

// Register adds a named backend.
func (r *Router) Register(name string, backend LLM) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.backends[name]; !exists {
		r.order = append(r.order, name)
	}
	r.backends[name] = backend
	if r.primary == "" {
		r.primary = name
	}
}

// SetPrimary selects the backend tried first.
func (r *Router) SetPrimary(name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.backends[name]; !ok {
		return fmt.Errorf("backend not registered: %s", name)
	}
	r.primary = name
	return nil
}

// Backends returns the registered backend names in failover order.
func (r *Router) Backends() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.failoverOrder()
}

// failoverOrder returns primary first, then the rest in registration
// order. Caller must hold at least a read lock.
func (r *Router) failoverOrder() []string {
	out := make([]string, 0, len(r.order))
	if r.primary != "" {
		out = append(out, r.primary)
	}
	for _, name := range r.order {
		if name != r.primary {
			out = append(out, name)
		}
	}
	return out
}

// Generate tries each backend in failover order until one succeeds or
// a non-retryable error occurs.
func (r *Router) Generate(ctx context.Context, req Request) (*Response, error) {
	r.mu.RLock()
	names := r.failoverOrder()
	backends := make([]LLM, 0, len(names))
	for _, name := range names {
		backends = append(backends, r.backends[name])
	}
	r.mu.RUnlock()

	if len(backends) == 0 {
		return nil, fmt.Errorf("no backends registered")
	}

	var lastErr error
	for i, backend := range backends {
		resp, err := backend.Generate(ctx, req)
		if err == nil {
			return resp, nil
		}
		lastErr = err

		if !IsRetryable(err) {
			return nil, err
		}
		if i < len(backends)-1 {
			slog.Warn("llm backend failed, trying next",
				"backend", names[i],
				"next", names[i+1],
				"error", err,
			)
		}
	}

	return nil, fmt.Errorf("all backends failed: %w", lastErr)
}

// KeyRotator provides round-robin selection over a set of API keys.
type KeyRotator struct {
	mu   sync.Mutex
	keys []string
	next int
}

// NewKeyRotator creates a rotator over the given keys.
func NewKeyRotator(keys []string) *KeyRotator {
	return &KeyRotator{keys: keys}
}

// Next returns the next key in rotation, or "" when no keys are set.
func (r *KeyRotator) Next() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.keys) == 0 {
		return ""
	}
	key := r.keys[r.next%len(r.keys)]
	r.next++
	return key
}
