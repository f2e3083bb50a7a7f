package runtime

import (
	"fmt"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"

	"github.com/drblury/cidflow/internal/runtime/crud"
	errspkg "github.com/drblury/cidflow/internal/runtime/errors"
	"github.com/drblury/cidflow/internal/runtime/events"
	loggingpkg "github.com/drblury/cidflow/internal/runtime/logging"
	"github.com/drblury/cidflow/internal/runtime/rpc"
)

// Handler kinds reported by HandlerInfo.
const (
	HandlerKindMessage = "message"
	HandlerKindRPC     = "rpc"
	HandlerKindEvent   = "event"
)

type handlerRegistration struct {
	Name         string
	Kind         string
	ConsumeQueue string
	Subscriber   message.Subscriber
	PublishQueue string
	Publisher    message.Publisher
	Handler      message.HandlerFunc
}

// MessageHandlerRegistration wires a raw Watermill handler.
type MessageHandlerRegistration struct {
	Name         string
	ConsumeQueue string
	PublishQueue string
	Handler      message.HandlerFunc
	Subscriber   message.Subscriber
	Publisher    message.Publisher
}

// RegisterMessageHandler attaches the provided handler to the service router.
func RegisterMessageHandler(svc *Service, cfg MessageHandlerRegistration) error {
	if svc == nil {
		return errspkg.ErrServiceRequired
	}

	return svc.registerHandler(handlerRegistration{
		Name:         cfg.Name,
		Kind:         HandlerKindMessage,
		ConsumeQueue: cfg.ConsumeQueue,
		PublishQueue: cfg.PublishQueue,
		Subscriber:   cfg.Subscriber,
		Publisher:    cfg.Publisher,
		Handler:      cfg.Handler,
	})
}

// RegisterRPCServer consumes the request topic of srv. Its methods become
// callable through the service's RPC client.
func RegisterRPCServer(svc *Service, srv *rpc.Server) error {
	if svc == nil {
		return errspkg.ErrServiceRequired
	}
	if srv == nil {
		return errspkg.ErrHandlerRequired
	}

	svc.serversMu.Lock()
	if _, exists := svc.servers[srv.Name()]; exists {
		svc.serversMu.Unlock()
		return fmt.Errorf("rpc service %s is already registered", srv.Name())
	}
	svc.servers[srv.Name()] = srv
	if c := svc.client.Load(); c != nil {
		srv.DeclareOn(c.Registry())
	}
	svc.serversMu.Unlock()

	return svc.registerHandler(handlerRegistration{
		Name:         "rpc." + srv.Name(),
		Kind:         HandlerKindRPC,
		ConsumeQueue: srv.Topic(),
		Handler:      noPublish(srv.Handler()),
	})
}

// RegisterRPCMethods builds an RPC server named service for methods and
// registers it.
func RegisterRPCMethods(svc *Service, service string, methods map[string]rpc.Method) (*rpc.Server, error) {
	if svc == nil {
		return nil, errspkg.ErrServiceRequired
	}
	srv, err := rpc.NewServer(service, svc.publisher, svc.Logger)
	if err != nil {
		return nil, err
	}
	if err := srv.RegisterAll(methods); err != nil {
		return nil, err
	}
	if err := RegisterRPCServer(svc, srv); err != nil {
		return nil, err
	}
	return srv, nil
}

// EventHandlerRegistration binds a handler to the events named Event that
// Source dispatches.
type EventHandlerRegistration struct {
	// Name defaults to "<source>.<event>.<service name>".
	Name    string
	Source  string
	Event   string
	Handler events.HandlerFunc
	Logger  loggingpkg.ServiceLogger
}

// RegisterEventHandler subscribes fn to the topic of the event. The payload's
// cid is bound to the handler context.
func RegisterEventHandler(svc *Service, cfg EventHandlerRegistration) error {
	if svc == nil {
		return errspkg.ErrServiceRequired
	}
	if cfg.Handler == nil {
		return errspkg.ErrHandlerRequired
	}
	if cfg.Source == "" {
		return errspkg.ErrServiceNameRequired
	}
	if cfg.Event == "" {
		return errspkg.ErrEventNameRequired
	}
	topic := events.Topic(cfg.Source, cfg.Event)
	name := cfg.Name
	if name == "" {
		name = topic + "." + svc.Conf.ServiceName
	}
	logger := cfg.Logger
	if logger == nil {
		logger = svc.Logger
	}

	return svc.registerHandler(handlerRegistration{
		Name:         name,
		Kind:         HandlerKindEvent,
		ConsumeQueue: topic,
		Handler:      noPublish(events.Handler(cfg.Handler, logger)),
	})
}

// CRUDRegistration exposes a CRUD adapter as an RPC service.
type CRUDRegistration[T any] struct {
	Service string
	Adapter *crud.Adapter[T]
}

// RegisterCRUD serves the list, retrieve, create, update, delete and search
// methods of the adapter under cfg.Service.
func RegisterCRUD[T any](svc *Service, cfg CRUDRegistration[T]) (*rpc.Server, error) {
	if cfg.Adapter == nil {
		return nil, errspkg.ErrHandlerRequired
	}
	if cfg.Service == "" {
		return nil, errspkg.ErrServiceNameRequired
	}
	return RegisterRPCMethods(svc, cfg.Service, cfg.Adapter.Methods())
}

func noPublish(h message.NoPublishHandlerFunc) message.HandlerFunc {
	return func(msg *message.Message) ([]*message.Message, error) {
		return nil, h(msg)
	}
}

func (s *Service) registerHandler(cfg handlerRegistration) error {
	if cfg.Handler == nil {
		return errspkg.ErrHandlerRequired
	}
	if cfg.ConsumeQueue == "" {
		return errspkg.ErrTopicRequired
	}
	if cfg.Name == "" {
		return errspkg.ErrHandlerNameRequired
	}
	if cfg.Subscriber == nil {
		cfg.Subscriber = s.subscriber
	}
	if cfg.Publisher == nil {
		cfg.Publisher = s.publisher
	}

	stats := newHandlerStats()
	info := &HandlerInfo{
		Name:         cfg.Name,
		Kind:         cfg.Kind,
		ConsumeQueue: cfg.ConsumeQueue,
		PublishQueue: cfg.PublishQueue,
		Stats:        stats,
	}

	s.handlersMu.Lock()
	s.handlers = append(s.handlers, info)
	s.handlersMu.Unlock()

	s.router.AddHandler(
		cfg.Name,
		cfg.ConsumeQueue,
		cfg.Subscriber,
		cfg.PublishQueue,
		cfg.Publisher,
		wrapHandlerWithStats(cfg.Handler, stats, s.getErrorClassifier()),
	)

	return nil
}

func wrapHandlerWithStats(handler message.HandlerFunc, stats *HandlerStats, classifier ErrorClassifier) message.HandlerFunc {
	return func(msg *message.Message) ([]*message.Message, error) {
		invocation := stats.onMessageStart(msg)
		start := time.Now()
		msgs, err := handler(msg)
		stats.onMessageFinish(invocation, time.Since(start), err, classifier)
		return msgs, err
	}
}
