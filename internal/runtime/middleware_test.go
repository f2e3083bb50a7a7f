package runtime

import (
	"context"
	"errors"
	"fmt"
	"net"
	"testing"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"

	configpkg "github.com/drblury/cidflow/internal/runtime/config"
	"github.com/drblury/cidflow/internal/runtime/events"
	idspkg "github.com/drblury/cidflow/internal/runtime/ids"
	loggingpkg "github.com/drblury/cidflow/internal/runtime/logging"
	"github.com/drblury/cidflow/internal/runtime/rpc"
)

func TestCorrelationIDMiddleware(t *testing.T) {
	t.Parallel()

	svc := &Service{}
	mw := svc.correlationIDMiddleware()

	t.Run("adds missing id", func(t *testing.T) {
		msg := message.NewMessage(idspkg.CreateULID(), nil)
		msg.Metadata = message.Metadata{}
		called := false
		_, err := mw(func(m *message.Message) ([]*message.Message, error) {
			called = true
			if m.Metadata["correlation_id"] == "" {
				t.Fatal("expected correlation id to be populated")
			}
			return nil, nil
		})(msg)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if !called {
			t.Fatal("handler not invoked")
		}
	})

	t.Run("keeps existing id", func(t *testing.T) {
		msg := message.NewMessage(idspkg.CreateULID(), nil)
		msg.Metadata = message.Metadata{"correlation_id": "fixed"}
		_, err := mw(func(m *message.Message) ([]*message.Message, error) {
			if m.Metadata["correlation_id"] != "fixed" {
				t.Fatal("expected correlation id to be preserved")
			}
			return nil, nil
		})(msg)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	})
}

func TestPoisonMiddlewareWithFilter(t *testing.T) {
	t.Parallel()

	svc := &Service{
		Conf:      &configpkg.Config{PoisonQueue: "poison"},
		publisher: &testPublisher{},
	}
	mw, err := svc.poisonMiddlewareWithFilter(func(err error) bool { return true })
	if err != nil {
		t.Fatalf("unexpected error creating poison middleware: %v", err)
	}
	msg := message.NewMessage(idspkg.CreateULID(), nil)
	msg.Metadata = message.Metadata{}
	pub := svc.publisher.(*testPublisher)
	_, _ = mw(func(m *message.Message) ([]*message.Message, error) {
		return nil, errors.New("boom")
	})(msg)
	if len(pub.Topics()) != 1 || pub.Topics()[0] != "poison" {
		t.Fatalf("expected poison message to be published: %#v", pub.Topics())
	}

	t.Run("returns error when middleware creation fails", func(t *testing.T) {
		svc := &Service{Conf: &configpkg.Config{}, publisher: nil}
		if _, err := svc.poisonMiddlewareWithFilter(func(error) bool { return false }); err == nil {
			t.Fatal("expected error when poison queue misconfigured")
		}
	})
}

func TestLogMessagesMiddleware(t *testing.T) {
	t.Parallel()

	svc := &Service{}
	logger := &recordingServiceLogger{}
	mw := svc.logMessagesMiddleware(logger)
	msg := message.NewMessage(idspkg.CreateULID(), []byte("payload"))
	msg.Metadata = message.Metadata{"key": "value"}
	_, err := mw(func(m *message.Message) ([]*message.Message, error) { return nil, nil })(msg)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if logger.debugCount() == 0 {
		t.Fatal("expected log entry to be recorded")
	}
}

type recordingServiceLogger struct {
	infos  int
	debugs int
}

func (r *recordingServiceLogger) With(fields loggingpkg.LogFields) loggingpkg.ServiceLogger { return r }

func (r *recordingServiceLogger) Debug(string, loggingpkg.LogFields) { r.debugs++ }

func (r *recordingServiceLogger) Info(string, loggingpkg.LogFields) { r.infos++ }

func (r *recordingServiceLogger) Error(string, error, loggingpkg.LogFields) {}

func (r *recordingServiceLogger) Trace(string, loggingpkg.LogFields) {}

func (r *recordingServiceLogger) debugCount() int { return r.debugs }

func TestPoisonQueueMiddlewareFailure(t *testing.T) {
	svc := &Service{} // Conf is nil
	mw, err := svc.poisonMiddlewareWithFilter(nil)
	if err == nil {
		t.Fatal("expected error when config is nil")
	}
	if mw != nil {
		t.Fatal("expected nil middleware")
	}
}

func TestPoisonQueueMiddlewarePublisherMissing(t *testing.T) {
	svc := &Service{Conf: &configpkg.Config{PoisonQueue: "poison"}}
	mw, err := svc.poisonMiddlewareWithFilter(nil)
	if err == nil {
		t.Fatal("expected error when publisher is nil")
	}
	if mw != nil {
		t.Fatal("expected nil middleware")
	}
}

func TestRetryMiddleware(t *testing.T) {
	t.Parallel()

	svc := &Service{}
	mw := svc.retryMiddlewareWithConfig(RetryMiddlewareConfig{InitialInterval: time.Millisecond, MaxInterval: time.Millisecond})
	attempts := 0
	msg := message.NewMessage(idspkg.CreateULID(), nil)
	msg.Metadata = message.Metadata{}
	_, err := mw(func(m *message.Message) ([]*message.Message, error) {
		attempts++
		if attempts < 2 {
			return nil, errors.New("retry")
		}
		return nil, nil
	})(msg)
	if err != nil {
		t.Fatalf("unexpected error after retries: %v", err)
	}
	if attempts < 2 {
		t.Fatalf("expected retries, got %d", attempts)
	}
}

func TestRetryMiddlewareSkipsUnprocessable(t *testing.T) {
	t.Parallel()

	svc := &Service{}
	mw := svc.retryMiddlewareWithConfig(RetryMiddlewareConfig{InitialInterval: time.Millisecond})
	attempts := 0
	_, err := mw(func(m *message.Message) ([]*message.Message, error) {
		attempts++
		return nil, fmt.Errorf("%w: not json", events.ErrMalformedPayload)
	})(message.NewMessage(idspkg.CreateULID(), nil))

	require.Error(t, err)
	assert.Equal(t, 1, attempts)
}

func TestRetryMiddlewareUsesServiceConfig(t *testing.T) {
	svc := &Service{Conf: &configpkg.Config{RetryMaxRetries: 2, RetryInitialInterval: time.Millisecond}}
	cfg := RetryMiddlewareConfig{}.overlay(svc).withDefaults()

	assert.Equal(t, 2, cfg.MaxRetries)
	assert.Equal(t, time.Millisecond, cfg.InitialInterval)
	assert.Equal(t, 16*time.Second, cfg.MaxInterval)

	explicit := RetryMiddlewareConfig{MaxRetries: 7}.overlay(svc)
	assert.Equal(t, 7, explicit.MaxRetries)
}

func TestTracerMiddleware(t *testing.T) {
	t.Parallel()

	svc := &Service{}
	mw := svc.tracerMiddleware()
	msg := message.NewMessage(idspkg.CreateULID(), nil)
	msg.Metadata = message.Metadata{}
	msg.SetContext(context.Background())
	var observed trace.Span
	_, err := mw(func(m *message.Message) ([]*message.Message, error) {
		observed = trace.SpanFromContext(m.Context())
		return nil, nil
	})(msg)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if observed == nil {
		t.Fatal("expected span to be attached to context")
	}
}

func TestTracerMiddlewareContinuesRemoteTrace(t *testing.T) {
	prev := otel.GetTextMapPropagator()
	otel.SetTextMapPropagator(propagation.TraceContext{})
	t.Cleanup(func() { otel.SetTextMapPropagator(prev) })

	traceID, err := trace.TraceIDFromHex("4bf92f3577b34da6a3ce929d0e0e4736")
	require.NoError(t, err)

	svc := &Service{}
	msg := message.NewMessage(idspkg.CreateULID(), nil)
	msg.Metadata = message.Metadata{
		"traceparent": "00-4bf92f3577b34da6a3ce929d0e0e4736-00f067aa0ba902b7-01",
	}
	var observed trace.SpanContext
	_, err = svc.tracerMiddleware()(func(m *message.Message) ([]*message.Message, error) {
		observed = trace.SpanContextFromContext(m.Context())
		return nil, nil
	})(msg)
	require.NoError(t, err)
	assert.Equal(t, traceID, observed.TraceID())
}

func TestRegisterMiddlewareValidations(t *testing.T) {
	t.Parallel()

	t.Run("requires router", func(t *testing.T) {
		svc := &Service{}
		err := svc.RegisterMiddleware(MiddlewareRegistration{
			Middleware: func(h message.HandlerFunc) message.HandlerFunc { return h },
		})
		if err == nil {
			t.Fatal("expected error when router missing")
		}
	})

	t.Run("requires configuration", func(t *testing.T) {
		svc := newTestService(t)
		if err := svc.RegisterMiddleware(MiddlewareRegistration{}); err == nil {
			t.Fatal("expected error for empty registration")
		}
	})

	t.Run("invokes builder", func(t *testing.T) {
		svc := newTestService(t)
		called := false
		err := svc.RegisterMiddleware(MiddlewareRegistration{
			Builder: func(s *Service) (message.HandlerMiddleware, error) {
				called = true
				return func(h message.HandlerFunc) message.HandlerFunc { return h }, nil
			},
		})
		require.NoError(t, err)
		assert.True(t, called)
	})

	t.Run("handles builder error", func(t *testing.T) {
		svc := newTestService(t)
		err := svc.RegisterMiddleware(MiddlewareRegistration{
			Builder: func(s *Service) (message.HandlerMiddleware, error) {
				return nil, errors.New("builder failed")
			},
		})
		assert.EqualError(t, err, "builder failed")
	})

	t.Run("handles nil middleware from builder", func(t *testing.T) {
		svc := newTestService(t)
		err := svc.RegisterMiddleware(MiddlewareRegistration{
			Builder: func(s *Service) (message.HandlerMiddleware, error) { return nil, nil },
		})
		assert.NoError(t, err)
	})
}

func TestLogMessagesMiddlewareValidations(t *testing.T) {
	svc := &Service{}
	_, err := LogMessagesMiddleware(nil).Builder(svc)
	if err == nil {
		t.Fatal("expected error when logger missing")
	}
}

func TestPoisonQueueMiddleware(t *testing.T) {
	svc := newTestService(t)
	svc.Conf = &configpkg.Config{PoisonQueue: "poison"}

	mw, err := PoisonQueueMiddleware(nil).Builder(svc)
	require.NoError(t, err)
	require.NotNil(t, mw)

	reg := PoisonQueueMiddleware(func(err error) bool { return true })
	mw, err = reg.Builder(svc)
	require.NoError(t, err)
	require.NotNil(t, mw)

	svc.Conf = nil
	_, err = reg.Builder(svc)
	assert.Error(t, err, "config is required")

	svc = newTestService(t)
	svc.Conf = &configpkg.Config{PoisonQueue: "poison"}
	svc.publisher = nil
	_, err = reg.Builder(svc)
	assert.Error(t, err, "publisher is required")
}

func TestPoisonQueueMiddlewareSkippedWithoutTopic(t *testing.T) {
	svc := newTestService(t)
	svc.Conf = &configpkg.Config{}

	mw, err := PoisonQueueMiddleware(nil).Builder(svc)
	require.NoError(t, err)
	assert.Nil(t, mw)
}

func TestPoisonQueueMiddlewareDefaultFilter(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		poisoned bool
	}{
		{name: "unprocessable", err: NewUnprocessableEventError([]byte("x"), errors.New("bad")), poisoned: true},
		{name: "malformed event", err: fmt.Errorf("%w: eof", events.ErrMalformedPayload), poisoned: true},
		{name: "rpc failure", err: &rpc.Failure{Service: "s", Method: "m", Err: errors.New("down")}},
		{name: "other", err: errors.New("other error")},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := newTestService(t)
			svc.Conf = &configpkg.Config{PoisonQueue: "poison"}
			pub := &testPublisher{}
			svc.publisher = pub

			mw, err := PoisonQueueMiddleware(nil).Builder(svc)
			require.NoError(t, err)

			_, err = mw(func(msg *message.Message) ([]*message.Message, error) {
				return nil, tt.err
			})(message.NewMessage(idspkg.CreateULID(), []byte("payload")))

			if tt.poisoned {
				assert.NoError(t, err)
				assert.Equal(t, []string{"poison"}, pub.Topics())
			} else {
				assert.Error(t, err)
				assert.Empty(t, pub.Topics())
			}
		})
	}
}

func getFreePort() (int, error) {
	addr, err := net.ResolveTCPAddr("tcp", "localhost:0")
	if err != nil {
		return 0, err
	}

	l, err := net.ListenTCP("tcp", addr)
	if err != nil {
		return 0, err
	}
	defer l.Close()
	return l.Addr().(*net.TCPAddr).Port, nil
}

type mockLogger struct{}

func (m mockLogger) With(fields loggingpkg.LogFields) loggingpkg.ServiceLogger { return m }
func (m mockLogger) Debug(msg string, fields loggingpkg.LogFields)             {}
func (m mockLogger) Info(msg string, fields loggingpkg.LogFields)              {}
func (m mockLogger) Error(msg string, err error, fields loggingpkg.LogFields)  {}
func (m mockLogger) Trace(msg string, fields loggingpkg.LogFields)             {}

type capturingLogger struct {
	mockLogger
	msgs chan string
}

func (c *capturingLogger) Info(msg string, fields loggingpkg.LogFields) {
	select {
	case c.msgs <- msg:
	default:
	}
}

func TestMetricsMiddleware_Enabled(t *testing.T) {
	t.Parallel()

	svc := newTestService(t)
	svc.Conf = &configpkg.Config{MetricsEnabled: true, PubSubSystem: "channel"}
	svc.registerer = prometheus.NewRegistry()

	mw, err := MetricsMiddleware().Builder(svc)
	if err != nil {
		t.Fatalf("unexpected error building metrics middleware: %v", err)
	}
	if mw == nil {
		t.Fatal("expected middleware to be returned")
	}
}

func TestMetricsMiddleware_Disabled(t *testing.T) {
	t.Parallel()

	svcDisabled := &Service{
		Conf: &configpkg.Config{MetricsEnabled: false},
	}
	mw, err := MetricsMiddleware().Builder(svcDisabled)
	if err != nil {
		t.Fatal(err)
	}
	if mw != nil {
		t.Fatal("expected nil middleware when disabled")
	}
}

func TestMetricsMiddleware_WithServer(t *testing.T) {
	port, err := getFreePort()
	require.NoError(t, err)

	logger := &capturingLogger{msgs: make(chan string, 16)}
	svc := newTestService(t)
	svc.Logger = logger
	svc.Conf = &configpkg.Config{MetricsEnabled: true, MetricsPort: port, PubSubSystem: "channel"}
	svc.registerer = prometheus.NewRegistry()

	_, err = MetricsMiddleware().Builder(svc)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		_ = svc.Start(ctx)
	}()

	deadline := time.After(time.Second)
	for {
		select {
		case msg := <-logger.msgs:
			if msg == "Starting HTTP server" {
				return
			}
		case <-deadline:
			t.Fatal("expected 'Starting HTTP server' log")
		}
	}
}
