// Package transports imports the built-in transports for their registration
// side effect.
package transports

import (
	_ "github.com/drblury/cidflow/transport/channel"
	_ "github.com/drblury/cidflow/transport/http"
	_ "github.com/drblury/cidflow/transport/kafka"
	_ "github.com/drblury/cidflow/transport/nats"
	_ "github.com/drblury/cidflow/transport/rabbitmq"
)
