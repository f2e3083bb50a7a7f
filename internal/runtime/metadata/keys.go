package metadata

// Reserved header keys. Custom metadata must not reuse them.
const (
	// KeyCorrelationID carries the CID of the unit of work that produced a message.
	KeyCorrelationID = "correlation_id"

	KeyRPCService   = "rpc_service"
	KeyRPCMethod    = "rpc_method"
	KeyRPCReplyTo   = "rpc_reply_to"
	KeyRPCMode      = "rpc_mode"
	KeyRPCRequestID = "rpc_request_id"

	// KeyEventName names the event for subscribers bound to wildcard topics.
	KeyEventName = "event_name"
	// KeySourceService identifies the service that dispatched an event.
	KeySourceService = "source_service"
)
