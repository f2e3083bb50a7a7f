/*
Package runtime hosts the message-driven side of a cidflow process.

# Architecture Overview

A Service wires a Watermill router to the publisher and subscriber built by
the transport registry. RPC servers, event handlers and raw message handlers
are registered as router handlers and share one middleware chain.

## Core Service (service.go)

The Service struct owns:
  - Message router (Watermill)
  - Publisher and subscriber connections
  - Middleware chain
  - The pooled RPC client and the event dispatcher of the process
  - HTTP servers for metrics and handler statistics

## Handler Registration (registration.go)

  - RegisterMessageHandler: raw Watermill handlers
  - RegisterRPCServer / RegisterRPCMethods: consume "rpc.<service>" requests
  - RegisterEventHandler: consume "<source>.<event>" with the payload cid bound
  - RegisterCRUD: serve a crud.Adapter as an RPC service

## Middleware (middleware.go)

  - CorrelationID: every inbound message carries correlation_id
  - LogMessages: debug logging of message payloads
  - Tracer: OpenTelemetry consumer spans continuing the W3C trace context
  - Metrics: Prometheus router metrics
  - Retry: exponential backoff, skipping unprocessable messages
  - PoisonQueue: dead letter topic for unprocessable messages
  - Recoverer: panic recovery

## Stats (stats.go)

Per-handler latency percentiles, error categories and backlog hints, served
as JSON on /handlers of the metrics port.

# Usage Example

	svc := runtime.NewService(cfg, logger, ctx, runtime.ServiceDependencies{})

	adapter, _ := crud.NewAdapter(store, serializer, gate, crud.Options{View: "widgets"})
	runtime.RegisterCRUD(svc, runtime.CRUDRegistration[Widget]{Service: "widget_service", Adapter: adapter})

	svc.Start(ctx)
*/
package runtime
