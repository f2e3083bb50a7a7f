package rpc

import "context"

// Stub is a client bound to one service.
type Stub struct {
	client  *Client
	service string
}

// Service returns the bound service name.
func (s *Stub) Service() string {
	return s.service
}

// Methods returns the methods declared for the service.
func (s *Stub) Methods() []string {
	return s.client.registry.Methods(s.service)
}

// Call performs a synchronous call of method.
func (s *Stub) Call(ctx context.Context, method string, args []any, kwargs map[string]any) (Result, error) {
	return s.client.Call(ctx, s.service, method, args, kwargs)
}

// CallAsync starts a call of method and returns without waiting for the reply.
func (s *Stub) CallAsync(ctx context.Context, method string, args []any, kwargs map[string]any) (*Future, error) {
	return s.client.CallAsync(ctx, s.service, method, args, kwargs)
}
