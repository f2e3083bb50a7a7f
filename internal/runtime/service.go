package runtime

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/message/router/plugin"
	"github.com/prometheus/client_golang/prometheus"

	configpkg "github.com/drblury/cidflow/internal/runtime/config"
	"github.com/drblury/cidflow/internal/runtime/events"
	loggingpkg "github.com/drblury/cidflow/internal/runtime/logging"
	"github.com/drblury/cidflow/internal/runtime/rpc"
	transportpkg "github.com/drblury/cidflow/internal/runtime/transport"
)

var routerRun = func(router *message.Router, ctx context.Context) error {
	return router.Run(ctx)
}

// ServiceDependencies holds the optional collaborators that the Service can use.
// Leave fields nil to skip the related behaviour.
type ServiceDependencies struct {
	Middlewares               []MiddlewareRegistration // Appended after the default middleware chain.
	DisableDefaultMiddlewares bool                     // Skips registering the default middleware chain when true.
	TransportFactory          transportpkg.Factory
	ErrorClassifier           ErrorClassifier
	// Registerer receives the router and RPC client collectors. Defaults to
	// prometheus.DefaultRegisterer when metrics are enabled.
	Registerer prometheus.Registerer
	// ClientInterceptors are appended to the RPC client's default chain.
	ClientInterceptors []rpc.Interceptor
}

// Service wires a Watermill router, publisher, subscriber, and middleware chain,
// and hosts the RPC servers and event handlers of one cidflow process.
type Service struct {
	Conf   *configpkg.Config
	Logger loggingpkg.ServiceLogger

	publisher  message.Publisher
	subscriber message.Subscriber
	router     *message.Router
	registerer prometheus.Registerer

	handlers   []*HandlerInfo
	handlersMu sync.RWMutex

	servers   map[string]*rpc.Server
	serversMu sync.Mutex

	// client is published under serversMu once every hosted server has been
	// declared on it.
	clientOnce         sync.Once
	client             atomic.Pointer[rpc.Client]
	clientErr          error
	clientInterceptors []rpc.Interceptor

	dispatcherOnce sync.Once
	dispatcher     *events.Dispatcher
	dispatcherErr  error

	httpServers   map[int]*http.ServeMux
	httpServersMu sync.Mutex

	errorClassifier ErrorClassifier
}

// NewService constructs a Service for the supplied configuration. Register handlers
// on the returned Service before calling Start.
func NewService(conf *configpkg.Config, log loggingpkg.ServiceLogger, ctx context.Context, deps ServiceDependencies) *Service {
	if conf == nil {
		panic("cidflow: service configuration cannot be nil")
	}
	if log == nil {
		log = loggingpkg.Discard()
	}
	wmLogger := loggingpkg.NewWatermillAdapter(log)
	log.Info("Creating cidflow service",
		loggingpkg.LogFields{
			"service_name":  conf.ServiceName,
			"pubsub_system": conf.PubSubSystem,
			"config":        conf,
		})

	s := &Service{
		Conf:               conf,
		Logger:             log,
		registerer:         deps.Registerer,
		servers:            make(map[string]*rpc.Server),
		clientInterceptors: deps.ClientInterceptors,
	}

	if deps.ErrorClassifier != nil {
		s.errorClassifier = deps.ErrorClassifier
	} else {
		s.errorClassifier = defaultErrorClassifier
	}

	factory := deps.TransportFactory
	if factory == nil {
		factory = transportpkg.DefaultFactory()
	}
	transport, err := factory.Build(ctx, conf, wmLogger)
	if err != nil {
		panic(err)
	}

	s.publisher = transport.Publisher
	s.subscriber = transport.Subscriber

	router, err := message.NewRouter(message.RouterConfig{}, wmLogger)
	if err != nil {
		panic(err)
	}

	s.router = router
	s.router.AddPlugin(plugin.SignalsHandler)

	s.registerConfiguredMiddlewares(deps)

	return s
}

// Start runs the underlying Watermill router until the provided context is cancelled.
func (s *Service) Start(ctx context.Context) error {
	s.startStatsServer()
	s.startHTTPServers()
	return routerRun(s.router, ctx)
}

// Running is closed once the router has started consuming.
func (s *Service) Running() chan struct{} {
	return s.router.Running()
}

// Close stops the router and releases the RPC connection pool.
func (s *Service) Close() error {
	if c := s.client.Load(); c != nil {
		c.Close()
	}
	if s.router == nil {
		return nil
	}
	return s.router.Close()
}

// Publisher exposes the transport publisher.
func (s *Service) Publisher() message.Publisher {
	return s.publisher
}

// Subscriber exposes the transport subscriber.
func (s *Service) Subscriber() message.Subscriber {
	return s.subscriber
}

// RPCClient returns the pooled RPC client of this process, building it on
// first use from the rpc section of the configuration.
func (s *Service) RPCClient() (*rpc.Client, error) {
	s.clientOnce.Do(func() {
		var reg prometheus.Registerer
		if s.Conf.MetricsEnabled {
			reg = s.metricsRegisterer()
		}
		var c *rpc.Client
		c, s.clientErr = rpc.NewClient(s.publisher, s.subscriber, rpc.ClientOptions{
			PoolSize:        s.Conf.RPC.PoolSize,
			CallTimeout:     s.Conf.RPC.CallTimeout,
			AllowUndeclared: s.Conf.RPC.AllowUndeclared,
			Logger:          s.Logger,
			Interceptors:    s.clientInterceptors,
			Registerer:      reg,
		})
		if s.clientErr == nil {
			s.publishClient(c)
		}
	})
	return s.client.Load(), s.clientErr
}

// Dispatcher returns the event dispatcher publishing as the configured
// service name.
func (s *Service) Dispatcher() (*events.Dispatcher, error) {
	s.dispatcherOnce.Do(func() {
		s.dispatcher, s.dispatcherErr = events.NewDispatcher(s.Conf.ServiceName, s.publisher, s.Logger)
	})
	return s.dispatcher, s.dispatcherErr
}

// Dispatch emits an event under the configured service name.
func (s *Service) Dispatch(ctx context.Context, name string, payload map[string]any) error {
	d, err := s.Dispatcher()
	if err != nil {
		return err
	}
	return d.Dispatch(ctx, name, payload)
}

func (s *Service) metricsRegisterer() prometheus.Registerer {
	if s.registerer != nil {
		return s.registerer
	}
	return prometheus.DefaultRegisterer
}

// publishClient declares the servers hosted by this process on c and makes
// c visible to later RegisterRPCServer calls.
func (s *Service) publishClient(c *rpc.Client) {
	s.serversMu.Lock()
	defer s.serversMu.Unlock()
	for _, srv := range s.servers {
		srv.DeclareOn(c.Registry())
	}
	s.client.Store(c)
}

func (s *Service) registerConfiguredMiddlewares(deps ServiceDependencies) {
	var defaults []MiddlewareRegistration
	if !deps.DisableDefaultMiddlewares {
		defaults = DefaultMiddlewares()
	}
	registrations := make([]MiddlewareRegistration, 0, len(defaults)+len(deps.Middlewares))
	registrations = append(registrations, defaults...)
	registrations = append(registrations, deps.Middlewares...)

	for _, reg := range registrations {
		if err := s.RegisterMiddleware(reg); err != nil {
			name := reg.Name
			if name == "" {
				name = "anonymous_middleware"
			}
			panic(fmt.Sprintf("failed to register middleware %s: %v", name, err))
		}
	}
}

func (s *Service) getErrorClassifier() ErrorClassifier {
	if s.errorClassifier == nil {
		return defaultErrorClassifier
	}
	return s.errorClassifier
}

// RegisterHTTPHandler mounts handler on the HTTP server listening on port.
// Servers start with the router.
func (s *Service) RegisterHTTPHandler(port int, pattern string, handler http.Handler) {
	s.httpServersMu.Lock()
	defer s.httpServersMu.Unlock()

	if s.httpServers == nil {
		s.httpServers = make(map[int]*http.ServeMux)
	}

	mux, ok := s.httpServers[port]
	if !ok {
		mux = http.NewServeMux()
		s.httpServers[port] = mux
	}

	mux.Handle(pattern, handler)
}

func (s *Service) startHTTPServers() {
	s.httpServersMu.Lock()
	defer s.httpServersMu.Unlock()

	for port, mux := range s.httpServers {
		addr := fmt.Sprintf(":%d", port)
		s.Logger.Info("Starting HTTP server", loggingpkg.LogFields{"address": addr})
		go func(addr string, handler http.Handler) {
			if err := http.ListenAndServe(addr, handler); err != nil {
				s.Logger.Error("Failed to start HTTP server", err, loggingpkg.LogFields{"address": addr})
			}
		}(addr, mux)
	}
}
