package transport

import (
	"context"
	"testing"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/drblury/cidflow/internal/runtime/config"
	"github.com/drblury/cidflow/transport/transporttest"
)

func TestDefaultFactory_BuildChannel(t *testing.T) {
	tr, err := DefaultFactory().Build(context.Background(), &config.Config{PubSubSystem: "channel"}, watermill.NopLogger{})
	require.NoError(t, err)
	defer tr.Close()

	assert.NotNil(t, tr.Publisher)
	assert.NotNil(t, tr.Subscriber)
}

func TestDefaultFactory_BuildNilConfig(t *testing.T) {
	_, err := DefaultFactory().Build(context.Background(), nil, watermill.NopLogger{})
	assert.ErrorContains(t, err, "config is required")
}

func TestDefaultFactory_BuildUnknown(t *testing.T) {
	_, err := DefaultFactory().Build(context.Background(), &config.Config{PubSubSystem: "carrier-pigeon"}, watermill.NopLogger{})
	assert.ErrorContains(t, err, "unknown transport")
}

func TestStaticFactory(t *testing.T) {
	pub := &transporttest.Publisher{}
	tr := Transport{Publisher: pub, Subscriber: &transporttest.Subscriber{}}

	got, err := Static(tr).Build(context.Background(), nil, nil)
	require.NoError(t, err)
	assert.Same(t, pub, got.Publisher)
}

func TestGetCapabilitiesOfBuiltins(t *testing.T) {
	for _, name := range []string{"channel", "nats", "kafka", "rabbitmq", "http"} {
		assert.Equal(t, name, GetCapabilities(name).Name)
	}
	assert.True(t, GetCapabilities("channel").SupportsRequestReply())
}
