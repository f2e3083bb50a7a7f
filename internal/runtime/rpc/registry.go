package rpc

import (
	"fmt"
	"sort"
	"sync"
)

// Registry records the services a client may call and their method sets.
type Registry struct {
	mu       sync.RWMutex
	services map[string]map[string]struct{}
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{services: make(map[string]map[string]struct{})}
}

// Declare adds methods to service, creating the service when needed.
func (r *Registry) Declare(service string, methods ...string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	set, ok := r.services[service]
	if !ok {
		set = make(map[string]struct{}, len(methods))
		r.services[service] = set
	}
	for _, m := range methods {
		set[m] = struct{}{}
	}
}

// Check returns ErrUnknownService or ErrUnknownMethod when the pair was not declared.
func (r *Registry) Check(service, method string) error {
	r.mu.RLock()
	defer r.mu.RUnlock()

	set, ok := r.services[service]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownService, service)
	}
	if _, ok := set[method]; !ok {
		return fmt.Errorf("%w: %s.%s", ErrUnknownMethod, service, method)
	}
	return nil
}

// Services returns the declared service names in order.
func (r *Registry) Services() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.services))
	for name := range r.services {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Methods returns the declared methods of service in order.
func (r *Registry) Methods(service string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	set := r.services[service]
	names := make([]string, 0, len(set))
	for name := range set {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
