// Package cid binds a correlation id to the unit of work carried by a
// context.Context.
//
// Every inbound RPC, event or HTTP request gets its own Scope. Outbound calls
// and dispatched events read the id from the scope so that one logical
// request keeps a single id across every hop.
package cid

import (
	"context"
	"sync"

	"github.com/google/uuid"
)

type scopeKey struct{}

// Scope is the mutable correlation slot of one unit of work.
type Scope struct {
	mu sync.RWMutex
	id string
}

// Get returns the stored id and whether one is set.
func (s *Scope) Get() (string, bool) {
	if s == nil {
		return "", false
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.id, s.id != ""
}

// Set replaces the stored id.
func (s *Scope) Set(id string) {
	if s == nil {
		return
	}
	s.mu.Lock()
	s.id = id
	s.mu.Unlock()
}

// Clear empties the slot.
func (s *Scope) Clear() {
	s.Set("")
}

// ensure returns the stored id, minting and storing one under the same lock
// when the slot is empty.
func (s *Scope) ensure() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.id == "" {
		s.id = New()
	}
	return s.id
}

// NewScope returns a child context carrying a fresh scope holding id. An
// empty id leaves the scope unset.
func NewScope(ctx context.Context, id string) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, scopeKey{}, &Scope{id: id})
}

// ScopeFrom returns the scope bound to ctx, or nil.
func ScopeFrom(ctx context.Context) *Scope {
	if ctx == nil {
		return nil
	}
	s, _ := ctx.Value(scopeKey{}).(*Scope)
	return s
}

// FromContext returns the id stored in ctx's scope, or "".
func FromContext(ctx context.Context) string {
	id, _ := ScopeFrom(ctx).Get()
	return id
}

// Ensure returns the id in scope, minting and storing one when the scope is
// empty. Without a scope a fresh id is returned on every call.
func Ensure(ctx context.Context) string {
	s := ScopeFrom(ctx)
	if s == nil {
		return New()
	}
	return s.ensure()
}

// New mints a random correlation id.
func New() string {
	return uuid.NewString()
}

// Resolve returns the first non-empty candidate, or a fresh id.
func Resolve(candidates ...string) string {
	for _, c := range candidates {
		if c != "" {
			return c
		}
	}
	return New()
}
