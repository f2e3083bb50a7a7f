package rpc

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/jackc/puddle/v2"
	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel/trace"

	"github.com/drblury/cidflow/internal/runtime/cid"
	errspkg "github.com/drblury/cidflow/internal/runtime/errors"
	idspkg "github.com/drblury/cidflow/internal/runtime/ids"
	"github.com/drblury/cidflow/internal/runtime/jsoncodec"
	loggingpkg "github.com/drblury/cidflow/internal/runtime/logging"
	"github.com/drblury/cidflow/internal/runtime/metadata"
)

const (
	DefaultPoolSize    = 4
	DefaultCallTimeout = 30 * time.Second
)

// ClientOptions configures a Client. Zero values fall back to defaults.
type ClientOptions struct {
	PoolSize        int
	CallTimeout     time.Duration
	AllowUndeclared bool

	Logger loggingpkg.ServiceLogger
	// Interceptors replace the default logging, tracing and metrics chain when set.
	Interceptors []Interceptor
	// Registerer receives the client metrics. Metrics are skipped when nil.
	Registerer prometheus.Registerer
	Tracer     trace.Tracer
}

// Client publishes calls through a pool of connections.
type Client struct {
	pool     *puddle.Pool[*Conn]
	registry *Registry
	opts     ClientOptions
	logger   loggingpkg.ServiceLogger
	invoke   Invoker
	closed   atomic.Bool
}

// NewClient builds a client whose conns publish on pub and receive replies
// through sub.
func NewClient(pub message.Publisher, sub message.Subscriber, opts ClientOptions) (*Client, error) {
	if pub == nil {
		return nil, errspkg.ErrPublisherRequired
	}
	if sub == nil {
		return nil, errspkg.ErrSubscriberRequired
	}
	if opts.PoolSize <= 0 {
		opts.PoolSize = DefaultPoolSize
	}
	if opts.CallTimeout <= 0 {
		opts.CallTimeout = DefaultCallTimeout
	}
	logger := opts.Logger
	if logger == nil {
		logger = loggingpkg.Discard()
	}

	pool, err := puddle.NewPool(&puddle.Config[*Conn]{
		Constructor: func(context.Context) (*Conn, error) {
			return dialConn(pub, sub, logger)
		},
		Destructor: func(c *Conn) {
			c.Close()
		},
		MaxSize: int32(opts.PoolSize),
	})
	if err != nil {
		return nil, fmt.Errorf("create rpc connection pool: %w", err)
	}

	c := &Client{
		pool:     pool,
		registry: NewRegistry(),
		opts:     opts,
		logger:   logger,
	}

	interceptors := opts.Interceptors
	if interceptors == nil {
		interceptors = []Interceptor{LoggingInterceptor(logger), TracingInterceptor(opts.Tracer)}
		if opts.Registerer != nil {
			m, err := NewMetrics(opts.Registerer)
			if err != nil {
				pool.Close()
				return nil, err
			}
			interceptors = append(interceptors, m.Interceptor())
		}
	}
	c.invoke = Chain(c.send, interceptors...)
	return c, nil
}

// Registry returns the client's service registry.
func (c *Client) Registry() *Registry {
	return c.registry
}

// Declare registers service and its methods so calls to them pass the registry check.
func (c *Client) Declare(service string, methods ...string) *Stub {
	c.registry.Declare(service, methods...)
	return c.Stub(service)
}

// Stub returns a client bound to service.
func (c *Client) Stub(service string) *Stub {
	return &Stub{client: c, service: service}
}

// Invoke sends d and returns the pending reply. The correlation id in scope
// is attached as the "cid" keyword and the correlation_id header; d.Kwargs
// is never modified.
func (c *Client) Invoke(ctx context.Context, d Descriptor) (*Future, error) {
	if c.closed.Load() {
		return nil, ErrClientClosed
	}
	if d.Service == "" {
		return nil, errspkg.ErrServiceNameRequired
	}
	if d.Method == "" {
		return nil, errspkg.ErrMethodNameRequired
	}
	if !c.opts.AllowUndeclared {
		if err := c.registry.Check(d.Service, d.Method); err != nil {
			return nil, &Failure{Service: d.Service, Method: d.Method, Err: err}
		}
	}

	id := cid.Ensure(ctx)
	kwargs := make(map[string]any, len(d.Kwargs)+1)
	for k, v := range d.Kwargs {
		kwargs[k] = v
	}
	kwargs[KwargCID] = id
	d.Kwargs = kwargs
	if d.Args == nil {
		d.Args = []any{}
	}

	md := metadata.New(
		metadata.KeyCorrelationID, id,
		metadata.KeyRPCService, d.Service,
		metadata.KeyRPCMethod, d.Method,
		metadata.KeyRPCMode, d.Mode.String(),
	)
	return c.invoke(ctx, &d, md)
}

// send is the terminal invoker: it checks a conn out of the pool, publishes
// the request and returns the conn before returning.
func (c *Client) send(ctx context.Context, d *Descriptor, md metadata.Metadata) (*Future, error) {
	payload, err := jsoncodec.Marshal(Request{Args: d.Args, Kwargs: d.Kwargs})
	if err != nil {
		return nil, &Failure{Service: d.Service, Method: d.Method, Err: fmt.Errorf("encode request: %w", err)}
	}

	res, err := c.pool.Acquire(ctx)
	if err != nil {
		return nil, &Failure{Service: d.Service, Method: d.Method, Err: fmt.Errorf("acquire connection: %w", err)}
	}
	conn := res.Value()

	msg := message.NewMessage(idspkg.CreateULID(), payload)
	msg.Metadata = metadata.ToWatermill(md.With(metadata.KeyRPCReplyTo, conn.ReplyTopic()))
	msg.SetContext(ctx)

	fut, err := conn.send(RequestTopic(d.Service), msg, d.Service, d.Method)
	if err != nil {
		res.Destroy()
		return nil, &Failure{Service: d.Service, Method: d.Method, Err: err}
	}
	res.Release()
	return fut, nil
}

// Call performs a synchronous call. Without a deadline on ctx the configured
// call timeout applies.
func (c *Client) Call(ctx context.Context, service, method string, args []any, kwargs map[string]any) (Result, error) {
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.opts.CallTimeout)
		defer cancel()
	}
	fut, err := c.Invoke(ctx, Descriptor{Service: service, Method: method, Args: args, Kwargs: kwargs, Mode: Sync})
	if err != nil {
		return Result{}, err
	}
	return fut.Get(ctx)
}

// CallAsync sends a call and returns without waiting for the reply.
func (c *Client) CallAsync(ctx context.Context, service, method string, args []any, kwargs map[string]any) (*Future, error) {
	return c.Invoke(ctx, Descriptor{Service: service, Method: method, Args: args, Kwargs: kwargs, Mode: Async})
}

// Stat reports pool usage.
func (c *Client) Stat() *puddle.Stat {
	return c.pool.Stat()
}

// Close destroys every pooled connection. Pending calls fail with ErrConnClosed.
func (c *Client) Close() {
	if c.closed.Swap(true) {
		return
	}
	c.pool.Close()
}
