// Package transport bridges the service host to the public transport
// registry.
package transport

import (
	"context"
	"fmt"

	"github.com/ThreeDotsLabs/watermill"

	"github.com/drblury/cidflow/internal/runtime/config"
	publictransport "github.com/drblury/cidflow/transport"

	_ "github.com/drblury/cidflow/transport/transports"
)

// Transport is the publisher/subscriber pair shared by the RPC pool, the RPC
// servers and the event bus of one process.
type Transport = publictransport.Transport

// Capabilities is re-exported for the service host.
type Capabilities = publictransport.Capabilities

// Factory abstracts how the service host initialises message transports.
type Factory interface {
	Build(ctx context.Context, conf *config.Config, logger watermill.LoggerAdapter) (Transport, error)
}

// FactoryFunc adapts a function to Factory.
type FactoryFunc func(ctx context.Context, conf *config.Config, logger watermill.LoggerAdapter) (Transport, error)

func (f FactoryFunc) Build(ctx context.Context, conf *config.Config, logger watermill.LoggerAdapter) (Transport, error) {
	return f(ctx, conf, logger)
}

// Static returns a factory that always hands out tr. It lets an RPC server
// and a gateway in the same process share one in-memory transport.
func Static(tr Transport) Factory {
	return FactoryFunc(func(context.Context, *config.Config, watermill.LoggerAdapter) (Transport, error) {
		return tr, nil
	})
}

// DefaultFactory returns the factory backed by the transport registry.
func DefaultFactory() Factory {
	return defaultFactory{}
}

type defaultFactory struct{}

func (defaultFactory) Build(ctx context.Context, conf *config.Config, logger watermill.LoggerAdapter) (Transport, error) {
	if conf == nil {
		return Transport{}, fmt.Errorf("config is required")
	}
	return publictransport.Build(ctx, conf, logger)
}

// GetCapabilities returns the registered capabilities of a transport.
func GetCapabilities(name string) Capabilities {
	return publictransport.GetCapabilities(name)
}
