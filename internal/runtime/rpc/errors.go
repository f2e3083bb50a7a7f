package rpc

import (
	"errors"
	"fmt"
)

var (
	// ErrUnknownService is returned for calls to a service that was never declared.
	ErrUnknownService = errors.New("cidflow: unknown rpc service")
	// ErrUnknownMethod is returned for calls to a method the service does not declare.
	ErrUnknownMethod = errors.New("cidflow: unknown rpc method")
	// ErrClientClosed is returned once the client has been closed.
	ErrClientClosed = errors.New("cidflow: rpc client is closed")
	// ErrConnClosed fails the calls still pending when a connection shuts down.
	ErrConnClosed = errors.New("cidflow: rpc connection is closed")
	// ErrMethodExists is returned when a server registers a method twice.
	ErrMethodExists = errors.New("cidflow: rpc method already registered")
)

// Failure is the single error shape for calls that did not produce a result.
// Err is a transport error, a context error or a *RemoteError.
type Failure struct {
	Service string
	Method  string
	Err     error
}

func (f *Failure) Error() string {
	return fmt.Sprintf("cidflow: rpc %s.%s failed: %v", f.Service, f.Method, f.Err)
}

func (f *Failure) Unwrap() error {
	return f.Err
}

// RemoteError is an error raised by the remote method.
type RemoteError struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

func (e *RemoteError) Error() string {
	if e.Type == "" {
		return e.Message
	}
	return e.Type + ": " + e.Message
}

// RemoteTyper lets handler errors choose the type reported to callers.
type RemoteTyper interface {
	RemoteType() string
}

func remoteErrorFrom(err error) *RemoteError {
	var remote *RemoteError
	if errors.As(err, &remote) {
		return remote
	}
	typ := "Error"
	var typer RemoteTyper
	if errors.As(err, &typer) {
		typ = typer.RemoteType()
	}
	return &RemoteError{Type: typ, Message: err.Error()}
}

// IsFailure reports whether err is an rpc failure.
func IsFailure(err error) bool {
	var f *Failure
	return errors.As(err, &f)
}
