// Package cidflow is a small layer on top of Watermill for services that talk
// to each other through RPC calls and fire-and-forget events, and that must be
// able to trace one request across all of them. Every call, event and log line
// carries a correlation id (cid) that is taken from the caller's scope, minted
// once when missing, and re-installed on the receiving side.
//
// Service hosts the router and exposes the registration helpers:
// RegisterRPCServer and RegisterRPCMethods serve RPC methods,
// RegisterEventHandler consumes events dispatched by other services, and
// RegisterCRUD exposes a generic create/list/retrieve/update/delete/search
// adapter over a Collection (an in-memory store or a SQL table through sqlx).
// Service.RPCClient returns a pooled client whose calls carry the cid as a
// keyword argument.
//
// # Transports
//
// The broker is chosen by Config.PubSubSystem:
//   - channel: In-memory Go channels for tests and single-process setups
//   - kafka: High-throughput streaming with consumer groups
//   - rabbitmq: AMQP-based durable queues
//   - nats: Core NATS or JetStream
//   - http: Event delivery over HTTP (no RPC replies)
//
// # Middleware
//
// The default middleware chain includes correlation id injection, structured
// logging, OpenTelemetry tracing, Prometheus metrics, retry with exponential
// backoff, poison queue forwarding and panic recovery. Custom middleware can
// be added via ServiceDependencies.Middlewares. WorkHooksMiddleware calls
// WorkHooks around every inbound RPC request and event with its service,
// method or event name and correlation id.
//
// # Authorization
//
// CRUD operations are guarded by a Gate that validates the caller's token
// through the auth service (NewRemoteValidator) and maps the view and HTTP
// method to a "<resource>:<action>" scope. NewAuthService provides a JWT-based
// reference implementation of the validate_token method.
//
// # Gateway
//
// NewGateway serves configured resources over REST and forwards each request
// to the matching RPC method, echoing the X-Correlation-ID header.
package cidflow
