package channel

import (
	"context"
	"testing"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
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
	assert.Equal(t, "channel", caps.Name)
	assert.True(t, caps.SupportsReliableDelivery())
	assert.True(t, caps.SupportsRequestReply())
}

func TestCapabilities(t *testing.T) {
	assert.Equal(t, transport.ChannelCapabilities, Capabilities())
}

func TestBuild(t *testing.T) {
	t.Run("shares one pubsub between publisher and subscriber", func(t *testing.T) {
		tr, err := Build(context.Background(), &transporttest.Config{}, nil)
		require.NoError(t, err)
		defer tr.Close()

		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()

		msgs, err := tr.Subscriber.Subscribe(ctx, "rpc.orders")
		require.NoError(t, err)
		require.NoError(t, tr.Publisher.Publish("rpc.orders", message.NewMessage("1", []byte(`{}`))))

		select {
		case msg := <-msgs:
			assert.Equal(t, "1", msg.UUID)
			msg.Ack()
		case <-ctx.Done():
			t.Fatal("message was not delivered")
		}
	})

	t.Run("uses custom factory", func(t *testing.T) {
		originalFactory := Factory
		defer func() { Factory = originalFactory }()

		pub := &transporttest.Publisher{}
		sub := &transporttest.Subscriber{}
		var seen gochannel.Config
		Factory = func(cfg gochannel.Config, logger watermill.LoggerAdapter) (message.Publisher, message.Subscriber) {
			seen = cfg
			return pub, sub
		}

		tr, err := Build(context.Background(), &transporttest.Config{}, watermill.NopLogger{})
		require.NoError(t, err)
		assert.Same(t, pub, tr.Publisher)
		assert.Same(t, sub, tr.Subscriber)
		assert.Equal(t, int64(DefaultOutputBuffer), seen.OutputChannelBuffer)
	})
}
