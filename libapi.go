package cidflow

import (
	"github.com/jmoiron/sqlx"

	authsvcpkg "github.com/drblury/cidflow/internal/authsvc"
	runtimepkg "github.com/drblury/cidflow/internal/runtime"
	authpkg "github.com/drblury/cidflow/internal/runtime/auth"
	cidpkg "github.com/drblury/cidflow/internal/runtime/cid"
	configpkg "github.com/drblury/cidflow/internal/runtime/config"
	crudpkg "github.com/drblury/cidflow/internal/runtime/crud"
	errspkg "github.com/drblury/cidflow/internal/runtime/errors"
	eventspkg "github.com/drblury/cidflow/internal/runtime/events"
	gatewaypkg "github.com/drblury/cidflow/internal/runtime/gateway"
	idspkg "github.com/drblury/cidflow/internal/runtime/ids"
	jsoncodec "github.com/drblury/cidflow/internal/runtime/jsoncodec"
	loggingpkg "github.com/drblury/cidflow/internal/runtime/logging"
	metadatapkg "github.com/drblury/cidflow/internal/runtime/metadata"
	rpcpkg "github.com/drblury/cidflow/internal/runtime/rpc"
	"github.com/drblury/cidflow/internal/runtime/store/memory"
	"github.com/drblury/cidflow/internal/runtime/store/sqlstore"
	transportpkg "github.com/drblury/cidflow/internal/runtime/transport"
	newtransport "github.com/drblury/cidflow/transport"
)

type (
	Config              = configpkg.Config
	PaginationConfig    = configpkg.Pagination
	RPCConfig           = configpkg.RPC
	GatewayConfig       = configpkg.Gateway
	GatewayResource     = configpkg.GatewayResource
	Service             = runtimepkg.Service
	ServiceDependencies = runtimepkg.ServiceDependencies
	Transport           = transportpkg.Transport
	TransportFactory    = transportpkg.Factory

	MessageHandlerRegistration = runtimepkg.MessageHandlerRegistration
	EventHandlerRegistration   = runtimepkg.EventHandlerRegistration
	CRUDRegistration[T any]    = runtimepkg.CRUDRegistration[T]

	MiddlewareBuilder      = runtimepkg.MiddlewareBuilder
	MiddlewareRegistration = runtimepkg.MiddlewareRegistration
	RetryMiddlewareConfig  = runtimepkg.RetryMiddlewareConfig

	Producer = runtimepkg.Producer

	Metadata = metadatapkg.Metadata

	LogFields     = loggingpkg.LogFields
	ServiceLogger = loggingpkg.ServiceLogger

	UnprocessableEventError = runtimepkg.UnprocessableEventError

	HandlerInfo           = runtimepkg.HandlerInfo
	HandlerStats          = runtimepkg.HandlerStats
	ConfigValidationError = errspkg.ConfigValidationError

	// Inbound work hooks
	Work      = runtimepkg.Work
	WorkKind  = runtimepkg.WorkKind
	WorkHooks = runtimepkg.WorkHooks

	// Error classification
	ErrorClassifier = runtimepkg.ErrorClassifier
	ErrorCategory   = runtimepkg.ErrorCategory

	// RPC
	RPCClient        = rpcpkg.Client
	RPCClientOptions = rpcpkg.ClientOptions
	RPCServer        = rpcpkg.Server
	RPCMethod        = rpcpkg.Method
	RPCCall          = rpcpkg.Call
	RPCResult        = rpcpkg.Result
	RPCFuture        = rpcpkg.Future
	RPCFailure       = rpcpkg.Failure
	RPCRemoteError   = rpcpkg.RemoteError
	RPCInterceptor   = rpcpkg.Interceptor

	// Events
	EventDispatcher  = eventspkg.Dispatcher
	EventEnvelope    = eventspkg.Envelope
	EventHandlerFunc = eventspkg.HandlerFunc

	// Authorization
	Claims         = authpkg.Claims
	Gate           = authpkg.Gate
	TokenValidator = authpkg.Validator
	AuthService    = authsvcpkg.Service

	// CRUD
	CRUDOp                  = crudpkg.Op
	CRUDOptions             = crudpkg.Options
	CRUDAdapter[T any]      = crudpkg.Adapter[T]
	Collection[T any]       = crudpkg.Collection[T]
	Serializer[T any]       = crudpkg.Serializer[T]
	StructSerializer[T any] = crudpkg.StructSerializer[T]
	ErrorResponse           = crudpkg.ErrorResponse
	ErrorKind               = crudpkg.ErrorKind
	FieldErrors             = crudpkg.FieldErrors
	Page                    = crudpkg.Page
	PageMeta                = crudpkg.Meta
	SQLTable                = sqlstore.Table
	MemoryStore[T any]      = memory.Store[T]
	SQLStore[T any]         = sqlstore.Store[T]

	CorrelationScope = cidpkg.Scope
	Gateway          = gatewaypkg.Gateway

	// Modular transport types
	TransportBuilder              = newtransport.Builder
	TransportConfig               = newtransport.Config
	TransportRegistry             = newtransport.Registry
	TransportCapabilities         = newtransport.Capabilities
	TransportCapabilitiesProvider = newtransport.CapabilitiesProvider
	TransportServerStarter        = newtransport.ServerStarter
)

var (
	NewService     = runtimepkg.NewService
	LoadConfig     = configpkg.Load
	ParseConfig    = configpkg.Parse
	ValidateConfig = configpkg.ValidateConfig

	RegisterMessageHandler = runtimepkg.RegisterMessageHandler
	RegisterRPCServer      = runtimepkg.RegisterRPCServer
	RegisterRPCMethods     = runtimepkg.RegisterRPCMethods
	RegisterEventHandler   = runtimepkg.RegisterEventHandler

	DefaultMiddlewares      = runtimepkg.DefaultMiddlewares
	CorrelationIDMiddleware = runtimepkg.CorrelationIDMiddleware
	LogMessagesMiddleware   = runtimepkg.LogMessagesMiddleware
	TracerMiddleware        = runtimepkg.TracerMiddleware
	MetricsMiddleware       = runtimepkg.MetricsMiddleware
	RetryMiddleware         = runtimepkg.RetryMiddleware
	PoisonQueueMiddleware   = runtimepkg.PoisonQueueMiddleware
	RecovererMiddleware     = runtimepkg.RecovererMiddleware

	// Inbound work hooks
	WorkHooksMiddleware          = runtimepkg.WorkHooksMiddleware
	ObservabilityHooksMiddleware = runtimepkg.ObservabilityHooksMiddleware
	LoggingWorkHooks             = runtimepkg.LoggingWorkHooks
	MetricsWorkHooks             = runtimepkg.MetricsWorkHooks

	NewUnprocessableEventError = runtimepkg.NewUnprocessableEventError

	// Correlation ids
	NewCorrelationScope = cidpkg.NewScope
	CorrelationID       = cidpkg.FromContext
	EnsureCorrelationID = cidpkg.Ensure

	// RPC
	NewRPCClient          = rpcpkg.NewClient
	NewRPCServer          = rpcpkg.NewServer
	RPCLoggingInterceptor = rpcpkg.LoggingInterceptor
	RPCTracingInterceptor = rpcpkg.TracingInterceptor
	IsRPCFailure          = rpcpkg.IsFailure
	ErrUnknownRPCService  = rpcpkg.ErrUnknownService
	ErrUnknownRPCMethod   = rpcpkg.ErrUnknownMethod

	// Events
	NewEventDispatcher       = eventspkg.NewDispatcher
	EventTopic               = eventspkg.Topic
	ErrMalformedEventPayload = eventspkg.ErrMalformedPayload

	// Authorization
	NewGate            = authpkg.NewGate
	NewRemoteValidator = authpkg.NewRemoteValidator
	NewAuthService     = authsvcpkg.New

	// CRUD and gateway
	NewGateway         = gatewaypkg.New
	CRUDOps            = crudpkg.Ops
	ParseErrorResponse = crudpkg.ParseErrorResponse
	WithKeyField       = crudpkg.WithKeyField
	WithReadOnly       = crudpkg.WithReadOnly

	GetCapabilities = transportpkg.GetCapabilities

	// Modular transport registry. Import individual transports via
	// _ "github.com/drblury/cidflow/transport/kafka".
	DefaultTransportRegistry = newtransport.DefaultRegistry
	RegisterTransport        = newtransport.Register
	BuildTransport           = newtransport.Build

	Marshal       = jsoncodec.Marshal
	MarshalIndent = jsoncodec.MarshalIndent
	Unmarshal     = jsoncodec.Unmarshal
	Encode        = jsoncodec.Encode
	Decode        = jsoncodec.Decode

	ErrServiceRequired      = errspkg.ErrServiceRequired
	ErrHandlerRequired      = errspkg.ErrHandlerRequired
	ErrHandlerNameRequired  = errspkg.ErrHandlerNameRequired
	ErrServiceNameRequired  = errspkg.ErrServiceNameRequired
	ErrEventNameRequired    = errspkg.ErrEventNameRequired
	ErrPublisherRequired    = errspkg.ErrPublisherRequired
	ErrTopicRequired        = errspkg.ErrTopicRequired
	ErrConfigRequired       = errspkg.ErrConfigRequired
	ErrLoggerRequired       = errspkg.ErrLoggerRequired
	ErrEventPayloadRequired = errspkg.ErrEventPayloadRequired
	ErrNotFound             = crudpkg.ErrNotFound

	NewSlogServiceLogger    = loggingpkg.NewSlogServiceLogger
	NewZerologServiceLogger = loggingpkg.NewZerologServiceLogger

	NewMetadata = metadatapkg.New

	CreateULID = idspkg.CreateULID
)

// Metadata keys - use these constants for standard metadata fields.
const (
	MetadataKeyCorrelationID = metadatapkg.KeyCorrelationID
	MetadataKeyEventName     = metadatapkg.KeyEventName
	MetadataKeySourceService = metadatapkg.KeySourceService
)

// Error category constants for ErrorClassifier.
const (
	ErrorCategoryNone       = runtimepkg.ErrorCategoryNone
	ErrorCategoryValidation = runtimepkg.ErrorCategoryValidation
	ErrorCategoryTransport  = runtimepkg.ErrorCategoryTransport
	ErrorCategoryDownstream = runtimepkg.ErrorCategoryDownstream
	ErrorCategoryOther      = runtimepkg.ErrorCategoryOther
)

// Error kinds carried in CRUD error payloads.
const (
	KindNotFound           = crudpkg.KindNotFound
	KindNotAuthenticated   = crudpkg.KindNotAuthenticated
	KindNotAuthorized      = crudpkg.KindNotAuthorized
	KindMissingSearchParam = crudpkg.KindMissingSearchParam
	KindValidation         = crudpkg.KindValidation
)

// Kinds of inbound work reported to hooks.
const (
	WorkRPC     = runtimepkg.WorkRPC
	WorkEvent   = runtimepkg.WorkEvent
	WorkMessage = runtimepkg.WorkMessage
)

const SuperuserScope = authpkg.SuperuserScope

func RegisterCRUD[T any](svc *Service, cfg CRUDRegistration[T]) (*RPCServer, error) {
	return runtimepkg.RegisterCRUD(svc, cfg)
}

func NewCRUDAdapter[T any](coll Collection[T], ser Serializer[T], gate crudpkg.Authorizer, opts CRUDOptions) (*CRUDAdapter[T], error) {
	return crudpkg.NewAdapter(coll, ser, gate, opts)
}

func NewStructSerializer[T any](opts ...crudpkg.StructOption) (*StructSerializer[T], error) {
	return crudpkg.NewStructSerializer[T](opts...)
}

func NewMemoryStore[T any](codec memory.Codec[T]) *MemoryStore[T] {
	return memory.New(codec)
}

// NewSQLStore keeps rows of table in a SQL database through sqlx.
func NewSQLStore[T any](db *sqlx.DB, table SQLTable) (*SQLStore[T], error) {
	return sqlstore.New[T](db, table)
}
