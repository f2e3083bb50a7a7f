package rpc

import (
	"context"
	"sync"
)

// Future is the pending reply of a call.
type Future struct {
	Service string
	Method  string

	requestID string
	done      chan struct{}
	forget    func()

	mu        sync.Mutex
	completed bool
	result    Result
	err       error
	callbacks []func(Result, error)
}

func newFuture(service, method, requestID string) *Future {
	return &Future{
		Service:   service,
		Method:    method,
		requestID: requestID,
		done:      make(chan struct{}),
	}
}

// RequestID returns the id of the request message.
func (f *Future) RequestID() string {
	return f.requestID
}

// Done is closed once the future holds a result or an error.
func (f *Future) Done() <-chan struct{} {
	return f.done
}

// Get waits for the reply. When ctx ends first the pending entry is dropped
// and a *Failure wrapping the context error is returned.
func (f *Future) Get(ctx context.Context) (Result, error) {
	select {
	case <-f.done:
	case <-ctx.Done():
		if f.forget != nil {
			f.forget()
		}
		f.complete(Result{}, &Failure{Service: f.Service, Method: f.Method, Err: ctx.Err()})
		<-f.done
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.result, f.err
}

// OnComplete registers cb to run once the future completes. It runs
// immediately when the future is already complete.
func (f *Future) OnComplete(cb func(Result, error)) {
	f.mu.Lock()
	if f.completed {
		res, err := f.result, f.err
		f.mu.Unlock()
		cb(res, err)
		return
	}
	f.callbacks = append(f.callbacks, cb)
	f.mu.Unlock()
}

// complete stores the outcome and runs the callbacks before Done is closed.
// Only the first call has an effect.
func (f *Future) complete(res Result, err error) bool {
	f.mu.Lock()
	if f.completed {
		f.mu.Unlock()
		return false
	}
	f.completed = true
	f.result, f.err = res, err
	callbacks := f.callbacks
	f.callbacks = nil
	f.mu.Unlock()

	for _, cb := range callbacks {
		cb(res, err)
	}
	close(f.done)
	return true
}

// Resolved returns a completed future, for callers answering locally.
func Resolved(service, method string, res Result, err error) *Future {
	f := newFuture(service, method, "")
	f.complete(res, err)
	return f
}
