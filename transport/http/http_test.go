package http

import (
	"context"
	"errors"
	"testing"

	"github.com/ThreeDotsLabs/watermill"
	watermillhttp "github.com/ThreeDotsLabs/watermill-http/v2/pkg/http"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/drblury/cidflow/transport"
	"github.com/drblury/cidflow/transport/transporttest"
)

func TestRegister(t *testing.T) {
	original := transport.DefaultRegistry
	defer func() { transport.DefaultRegistry = original }()

	transport.DefaultRegistry = transport.NewRegistry()
	Register()

	caps := transport.GetCapabilities(TransportName)
	assert.Equal(t, "http", caps.Name)
	assert.True(t, caps.SupportsTracing)
	assert.False(t, caps.SupportsRequestReply())
}

func TestTopicURL(t *testing.T) {
	tests := []struct {
		base, topic, want string
	}{
		{"http://localhost:8080/", "orders.order_created", "http://localhost:8080/orders.order_created"},
		{"http://localhost:8080", "/orders", "http://localhost:8080/orders"},
		{"", "orders", "/orders"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, TopicURL(tt.base, tt.topic))
	}
}

func TestBuild(t *testing.T) {
	originalPub, originalSub := PublisherFactory, SubscriberFactory
	defer func() {
		PublisherFactory = originalPub
		SubscriberFactory = originalSub
	}()

	t.Run("marshals to topic url", func(t *testing.T) {
		var pubCfg watermillhttp.PublisherConfig
		var addr string
		PublisherFactory = func(config watermillhttp.PublisherConfig, logger watermill.LoggerAdapter) (message.Publisher, error) {
			pubCfg = config
			return &transporttest.Publisher{}, nil
		}
		SubscriberFactory = func(a string, config watermillhttp.SubscriberConfig, logger watermill.LoggerAdapter) (message.Subscriber, error) {
			addr = a
			return &transporttest.Subscriber{}, nil
		}

		cfg := &transporttest.Config{HTTPServerAddress: ":8080", HTTPPublisherURL: "http://peer:8080/"}
		_, err := Build(context.Background(), cfg, watermill.NopLogger{})
		require.NoError(t, err)
		assert.Equal(t, ":8080", addr)

		req, err := pubCfg.MarshalMessageFunc("orders.order_created", message.NewMessage("1", []byte(`{}`)))
		require.NoError(t, err)
		assert.Equal(t, "http://peer:8080/orders.order_created", req.URL.String())
	})

	t.Run("publisher error", func(t *testing.T) {
		PublisherFactory = func(config watermillhttp.PublisherConfig, logger watermill.LoggerAdapter) (message.Publisher, error) {
			return nil, errors.New("publisher error")
		}
		_, err := Build(context.Background(), &transporttest.Config{}, watermill.NopLogger{})
		assert.ErrorContains(t, err, "publisher error")
	})

	t.Run("subscriber error closes publisher", func(t *testing.T) {
		pub := &transporttest.Publisher{}
		PublisherFactory = func(config watermillhttp.PublisherConfig, logger watermill.LoggerAdapter) (message.Publisher, error) {
			return pub, nil
		}
		SubscriberFactory = func(a string, config watermillhttp.SubscriberConfig, logger watermill.LoggerAdapter) (message.Subscriber, error) {
			return nil, errors.New("subscriber error")
		}
		_, err := Build(context.Background(), &transporttest.Config{}, watermill.NopLogger{})
		assert.ErrorContains(t, err, "subscriber error")
		assert.True(t, pub.Closed)
	})
}
