package rpc

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/ThreeDotsLabs/watermill/message"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"

	"github.com/drblury/cidflow/internal/runtime/cid"
	errspkg "github.com/drblury/cidflow/internal/runtime/errors"
	idspkg "github.com/drblury/cidflow/internal/runtime/ids"
	"github.com/drblury/cidflow/internal/runtime/jsoncodec"
	loggingpkg "github.com/drblury/cidflow/internal/runtime/logging"
	"github.com/drblury/cidflow/internal/runtime/metadata"
)

// Server answers the calls addressed to one service.
type Server struct {
	name   string
	pub    message.Publisher
	logger loggingpkg.ServiceLogger
	tracer trace.Tracer

	mu      sync.RWMutex
	methods map[string]Method
}

// NewServer returns a server for service name that publishes replies on pub.
func NewServer(name string, pub message.Publisher, logger loggingpkg.ServiceLogger) (*Server, error) {
	if name == "" {
		return nil, errspkg.ErrServiceNameRequired
	}
	if pub == nil {
		return nil, errspkg.ErrPublisherRequired
	}
	if logger == nil {
		logger = loggingpkg.Discard()
	}
	return &Server{
		name:    name,
		pub:     pub,
		logger:  logger.With(loggingpkg.LogFields{"rpc_service": name}),
		tracer:  otel.Tracer(tracerName),
		methods: make(map[string]Method),
	}, nil
}

// Name returns the service name.
func (s *Server) Name() string {
	return s.name
}

// Topic returns the request topic of the service.
func (s *Server) Topic() string {
	return RequestTopic(s.name)
}

// Register exposes fn as method.
func (s *Server) Register(method string, fn Method) error {
	if method == "" {
		return errspkg.ErrMethodNameRequired
	}
	if fn == nil {
		return errspkg.ErrHandlerRequired
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.methods[method]; ok {
		return fmt.Errorf("%w: %s.%s", ErrMethodExists, s.name, method)
	}
	s.methods[method] = fn
	return nil
}

// RegisterAll exposes every entry of methods.
func (s *Server) RegisterAll(methods map[string]Method) error {
	names := make([]string, 0, len(methods))
	for name := range methods {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		if err := s.Register(name, methods[name]); err != nil {
			return err
		}
	}
	return nil
}

// Methods returns the registered method names in order.
func (s *Server) Methods() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	names := make([]string, 0, len(s.methods))
	for name := range s.methods {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// DeclareOn records the service and its methods in a client registry.
func (s *Server) DeclareOn(r *Registry) {
	r.Declare(s.name, s.Methods()...)
}

// Handle processes one request message. Method errors and panics are sent
// back as remote errors; only a failure to publish the reply is returned.
func (s *Server) Handle(msg *message.Message) error {
	md := metadata.FromWatermill(msg.Metadata)
	method := md[metadata.KeyRPCMethod]

	var req Request
	decodeErr := jsoncodec.Unmarshal(msg.Payload, &req)
	if req.Kwargs == nil {
		req.Kwargs = make(map[string]any)
	}

	var fromKwargs string
	if v, ok := req.Kwargs[KwargCID]; ok {
		fromKwargs, _ = v.(string)
		delete(req.Kwargs, KwargCID)
	}
	id := cid.Resolve(fromKwargs, md.CorrelationID())

	ctx := otel.GetTextMapPropagator().Extract(msg.Context(), propagation.MapCarrier(md))
	ctx = cid.NewScope(ctx, id)
	scope := cid.ScopeFrom(ctx)
	defer scope.Clear()

	ctx, span := s.tracer.Start(ctx, s.name+"."+method,
		trace.WithSpanKind(trace.SpanKindServer),
		trace.WithAttributes(
			attribute.String("rpc.system", "cidflow"),
			attribute.String("rpc.service", s.name),
			attribute.String("rpc.method", method),
			attribute.String("cidflow.correlation_id", id),
		),
	)
	defer span.End()

	log := loggingpkg.WithCorrelation(ctx, s.logger).With(loggingpkg.LogFields{"rpc_method": method})

	var out reply
	switch {
	case decodeErr != nil:
		out.Error = &RemoteError{Type: "DecodeError", Message: decodeErr.Error()}
	default:
		call := &Call{
			Service:  s.name,
			Method:   method,
			CID:      id,
			Args:     req.Args,
			Kwargs:   req.Kwargs,
			Metadata: md,
		}
		result, err := s.invoke(ctx, call)
		if err != nil {
			log.Error("Method failed", err, nil)
			out.Error = remoteErrorFrom(err)
		} else {
			out.Result = result
		}
	}
	if out.Error != nil {
		span.SetStatus(codes.Error, out.Error.Message)
	}

	replyTo := md[metadata.KeyRPCReplyTo]
	if replyTo == "" {
		log.Debug("Request has no reply topic, dropping result", nil)
		return nil
	}

	payload, err := jsoncodec.Marshal(out)
	if err != nil {
		log.Error("Failed to encode result", err, nil)
		payload, err = jsoncodec.Marshal(reply{Error: &RemoteError{Type: "EncodeError", Message: err.Error()}})
		if err != nil {
			return err
		}
	}

	replyMsg := message.NewMessage(idspkg.CreateULID(), payload)
	replyMsg.Metadata.Set(metadata.KeyRPCRequestID, msg.UUID)
	replyMsg.Metadata.Set(metadata.KeyCorrelationID, id)
	replyMsg.Metadata.Set(metadata.KeyRPCService, s.name)
	replyMsg.Metadata.Set(metadata.KeyRPCMethod, method)
	if err := s.pub.Publish(replyTo, replyMsg); err != nil {
		return fmt.Errorf("publish reply for %s.%s: %w", s.name, method, err)
	}
	return nil
}

func (s *Server) invoke(ctx context.Context, call *Call) (result any, err error) {
	s.mu.RLock()
	fn, ok := s.methods[call.Method]
	s.mu.RUnlock()
	if !ok {
		return nil, &RemoteError{Type: "MethodNotFound", Message: fmt.Sprintf("%s has no method %q", s.name, call.Method)}
	}

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic in %s.%s: %v", s.name, call.Method, r)
		}
	}()
	return fn(ctx, call)
}

// Handler adapts the server to a Watermill no-publisher handler.
func (s *Server) Handler() message.NoPublishHandlerFunc {
	return s.Handle
}
