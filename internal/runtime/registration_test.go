package runtime

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	errspkg "github.com/drblury/cidflow/internal/runtime/errors"
	"github.com/drblury/cidflow/internal/runtime/metadata"
	"github.com/drblury/cidflow/internal/runtime/rpc"
)

func noopHandler(*message.Message) ([]*message.Message, error) { return nil, nil }

func TestRegisterMessageHandlerRequiresService(t *testing.T) {
	err := RegisterMessageHandler(nil, MessageHandlerRegistration{})
	assert.ErrorIs(t, err, errspkg.ErrServiceRequired)
}

func TestRegisterMessageHandlerRegistersHandler(t *testing.T) {
	svc := newTestService(t)
	err := RegisterMessageHandler(svc, MessageHandlerRegistration{
		Name:         "raw",
		ConsumeQueue: "input",
		PublishQueue: "output",
		Handler:      noopHandler,
	})
	require.NoError(t, err)

	_, ok := svc.router.Handlers()["raw"]
	assert.True(t, ok, "handler not registered")

	infos := svc.Handlers()
	require.Len(t, infos, 1)
	assert.Equal(t, HandlerKindMessage, infos[0].Kind)
	assert.Equal(t, "input", infos[0].ConsumeQueue)
	assert.Equal(t, "output", infos[0].PublishQueue)
}

func TestRegisterMessageHandlerValidatesInput(t *testing.T) {
	tests := []struct {
		name    string
		cfg     MessageHandlerRegistration
		wantErr error
	}{
		{
			name:    "missing handler",
			cfg:     MessageHandlerRegistration{Name: "h", ConsumeQueue: "in"},
			wantErr: errspkg.ErrHandlerRequired,
		},
		{
			name:    "missing topic",
			cfg:     MessageHandlerRegistration{Name: "h", Handler: noopHandler},
			wantErr: errspkg.ErrTopicRequired,
		},
		{
			name:    "missing name",
			cfg:     MessageHandlerRegistration{ConsumeQueue: "in", Handler: noopHandler},
			wantErr: errspkg.ErrHandlerNameRequired,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := newTestService(t)
			err := RegisterMessageHandler(svc, tt.cfg)
			assert.ErrorIs(t, err, tt.wantErr)
			assert.Empty(t, svc.Handlers())
		})
	}
}

func TestRegisterRPCServer(t *testing.T) {
	svc := newTestService(t)
	srv, err := rpc.NewServer("widget_service", svc.publisher, svc.Logger)
	require.NoError(t, err)

	require.NoError(t, RegisterRPCServer(svc, srv))
	_, ok := svc.router.Handlers()["rpc.widget_service"]
	assert.True(t, ok)

	infos := svc.Handlers()
	require.Len(t, infos, 1)
	assert.Equal(t, HandlerKindRPC, infos[0].Kind)
	assert.Equal(t, srv.Topic(), infos[0].ConsumeQueue)

	err = RegisterRPCServer(svc, srv)
	assert.ErrorContains(t, err, "already registered")

	assert.ErrorIs(t, RegisterRPCServer(nil, srv), errspkg.ErrServiceRequired)
	assert.ErrorIs(t, RegisterRPCServer(svc, nil), errspkg.ErrHandlerRequired)
}

func TestRegisterRPCMethodsDeclaresOnExistingClient(t *testing.T) {
	svc := newTestService(t)
	client, err := svc.RPCClient()
	require.NoError(t, err)
	t.Cleanup(client.Close)

	_, err = RegisterRPCMethods(svc, "math_service", map[string]rpc.Method{
		"add": func(ctx context.Context, call *rpc.Call) (any, error) { return nil, nil },
	})
	require.NoError(t, err)

	assert.NoError(t, client.Registry().Check("math_service", "add"))
}

func TestRegisterRPCServerConcurrentWithClient(t *testing.T) {
	svc := newTestService(t)
	const servers = 8

	var wg sync.WaitGroup
	for i := 0; i < servers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			srv, err := rpc.NewServer(fmt.Sprintf("svc_%d", i), svc.publisher, svc.Logger)
			if !assert.NoError(t, err) {
				return
			}
			assert.NoError(t, srv.Register("ping", func(context.Context, *rpc.Call) (any, error) { return "pong", nil }))
			assert.NoError(t, RegisterRPCServer(svc, srv))
		}(i)
	}

	var client *rpc.Client
	wg.Add(1)
	go func() {
		defer wg.Done()
		c, err := svc.RPCClient()
		assert.NoError(t, err)
		client = c
	}()
	wg.Wait()
	require.NotNil(t, client)
	t.Cleanup(client.Close)

	for i := 0; i < servers; i++ {
		assert.NoError(t, client.Registry().Check(fmt.Sprintf("svc_%d", i), "ping"))
	}
}

func TestRegisterRPCMethodsValidation(t *testing.T) {
	_, err := RegisterRPCMethods(nil, "svc", nil)
	assert.ErrorIs(t, err, errspkg.ErrServiceRequired)

	svc := newTestService(t)
	_, err = RegisterRPCMethods(svc, "", nil)
	assert.ErrorIs(t, err, errspkg.ErrServiceNameRequired)
}

func TestRegisterEventHandler(t *testing.T) {
	svc := newTestService(t)
	err := RegisterEventHandler(svc, EventHandlerRegistration{
		Source: "widget_service",
		Event:  "widgets_created",
		Handler: func(context.Context, map[string]any, metadata.Metadata) error {
			return nil
		},
	})
	require.NoError(t, err)

	infos := svc.Handlers()
	require.Len(t, infos, 1)
	assert.Equal(t, HandlerKindEvent, infos[0].Kind)
	assert.Equal(t, "widget_service.widgets_created", infos[0].ConsumeQueue)
	assert.Equal(t, "widget_service.widgets_created.test_service", infos[0].Name)
}

func TestRegisterEventHandlerValidation(t *testing.T) {
	handler := func(context.Context, map[string]any, metadata.Metadata) error { return nil }
	tests := []struct {
		name    string
		cfg     EventHandlerRegistration
		wantErr error
	}{
		{name: "missing handler", cfg: EventHandlerRegistration{Source: "s", Event: "e"}, wantErr: errspkg.ErrHandlerRequired},
		{name: "missing source", cfg: EventHandlerRegistration{Event: "e", Handler: handler}, wantErr: errspkg.ErrServiceNameRequired},
		{name: "missing event", cfg: EventHandlerRegistration{Source: "s", Handler: handler}, wantErr: errspkg.ErrEventNameRequired},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.ErrorIs(t, RegisterEventHandler(newTestService(t), tt.cfg), tt.wantErr)
		})
	}
	assert.ErrorIs(t, RegisterEventHandler(nil, EventHandlerRegistration{}), errspkg.ErrServiceRequired)
}

func TestRegisterCRUDValidation(t *testing.T) {
	svc := newTestService(t)
	_, err := RegisterCRUD(svc, CRUDRegistration[widget]{Service: "widget_service"})
	assert.ErrorIs(t, err, errspkg.ErrHandlerRequired)
}
