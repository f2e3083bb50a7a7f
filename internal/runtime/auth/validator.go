package auth

import (
	"context"
	"errors"
	"fmt"

	"github.com/drblury/cidflow/internal/runtime/rpc"
)

var (
	// ErrMissingToken is returned when no bearer token was supplied.
	ErrMissingToken = errors.New("auth: missing token")
	// ErrInvalidToken is returned when the auth service rejects a token.
	ErrInvalidToken = errors.New("auth: invalid token")
)

// Validator turns a bearer token into claims.
type Validator interface {
	Validate(ctx context.Context, token string) (Claims, error)
}

// ValidatorFunc adapts a function to Validator.
type ValidatorFunc func(ctx context.Context, token string) (Claims, error)

func (f ValidatorFunc) Validate(ctx context.Context, token string) (Claims, error) {
	return f(ctx, token)
}

// Caller performs a synchronous RPC call. *rpc.Client satisfies it.
type Caller interface {
	Call(ctx context.Context, service, method string, args []any, kwargs map[string]any) (rpc.Result, error)
}

// RemoteValidator validates tokens by calling service.method with a
// "token" keyword. A falsy result means the token is invalid.
type RemoteValidator struct {
	caller  Caller
	service string
	method  string
}

// NewRemoteValidator returns a validator calling service.method through caller.
// When caller is an *rpc.Client the method is declared on its registry.
func NewRemoteValidator(caller Caller, service, method string) *RemoteValidator {
	if d, ok := caller.(interface {
		Declare(service string, methods ...string) *rpc.Stub
	}); ok {
		d.Declare(service, method)
	}
	return &RemoteValidator{caller: caller, service: service, method: method}
}

func (v *RemoteValidator) Validate(ctx context.Context, token string) (Claims, error) {
	if token == "" {
		return Claims{}, ErrMissingToken
	}
	res, err := v.caller.Call(ctx, v.service, v.method, nil, map[string]any{"token": token})
	if err != nil {
		return Claims{}, err
	}
	if !res.Truthy() {
		return Claims{}, ErrInvalidToken
	}
	var raw map[string]any
	if err := res.Decode(&raw); err != nil {
		return Claims{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	return ParseClaims(raw)
}
