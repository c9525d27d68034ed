package protocol

import (
	"sort"
	"sync"
)

// EventRegistry maps event method names to the factory of their payload type.
type EventRegistry struct {
	mu       sync.RWMutex
	payloads map[string]func() any
}

// NewEventRegistry creates an empty registry.
func NewEventRegistry() *EventRegistry {
	return &EventRegistry{payloads: make(map[string]func() any)}
}

// Register sets the payload factory for method, replacing any earlier registration.
func (r *EventRegistry) Register(method string, newPayload func() any) {
	r.mu.Lock()
	r.payloads[method] = newPayload
	r.mu.Unlock()
}

// Lookup returns the payload factory for method.
func (r *EventRegistry) Lookup(method string) (func() any, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	f, ok := r.payloads[method]
	return f, ok
}

// Methods returns the registered method names, sorted.
func (r *EventRegistry) Methods() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	methods := make([]string, 0, len(r.payloads))
	for m := range r.payloads {
		methods = append(methods, m)
	}
	sort.Strings(methods)
	return methods
}
