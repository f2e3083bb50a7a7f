package rpc

import (
	"context"
	"sync"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"

	idspkg "github.com/drblury/cidflow/internal/runtime/ids"
	"github.com/drblury/cidflow/internal/runtime/jsoncodec"
	loggingpkg "github.com/drblury/cidflow/internal/runtime/logging"
	"github.com/drblury/cidflow/internal/runtime/metadata"
)

const connCloseTimeout = 5 * time.Second

// Conn is one pooled connection: a publisher plus a private reply topic
// subscription. Pending futures keep being resolved after the conn has been
// released back to the pool.
type Conn struct {
	pub        message.Publisher
	replyTopic string
	logger     loggingpkg.ServiceLogger

	cancel context.CancelFunc
	done   chan struct{}

	mu      sync.Mutex
	pending map[string]*Future
	closed  bool
}

func dialConn(pub message.Publisher, sub message.Subscriber, logger loggingpkg.ServiceLogger) (*Conn, error) {
	replyTopic := ReplyTopicPrefix + idspkg.CreateULID()

	// The subscription outlives the Acquire call that created the conn.
	ctx, cancel := context.WithCancel(context.Background())
	msgs, err := sub.Subscribe(ctx, replyTopic)
	if err != nil {
		cancel()
		return nil, err
	}

	c := &Conn{
		pub:        pub,
		replyTopic: replyTopic,
		logger:     logger.With(loggingpkg.LogFields{"reply_topic": replyTopic}),
		cancel:     cancel,
		done:       make(chan struct{}),
		pending:    make(map[string]*Future),
	}
	go c.readLoop(msgs)
	return c, nil
}

// ReplyTopic returns the topic replies for this conn arrive on.
func (c *Conn) ReplyTopic() string {
	return c.replyTopic
}

// Pending returns the number of calls awaiting a reply.
func (c *Conn) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending)
}

// send publishes msg to topic and tracks its reply.
func (c *Conn) send(topic string, msg *message.Message, service, method string) (*Future, error) {
	f := newFuture(service, method, msg.UUID)
	f.forget = func() { c.take(msg.UUID) }

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, ErrConnClosed
	}
	c.pending[msg.UUID] = f
	c.mu.Unlock()

	if err := c.pub.Publish(topic, msg); err != nil {
		c.take(msg.UUID)
		return nil, err
	}
	return f, nil
}

func (c *Conn) take(requestID string) *Future {
	c.mu.Lock()
	defer c.mu.Unlock()
	f, ok := c.pending[requestID]
	if !ok {
		return nil
	}
	delete(c.pending, requestID)
	return f
}

func (c *Conn) readLoop(msgs <-chan *message.Message) {
	defer close(c.done)
	for msg := range msgs {
		c.dispatch(msg)
		msg.Ack()
	}
	c.failPending()
}

func (c *Conn) dispatch(msg *message.Message) {
	requestID := msg.Metadata.Get(metadata.KeyRPCRequestID)
	f := c.take(requestID)
	if f == nil {
		c.logger.Debug("Dropping reply without a pending call", loggingpkg.LogFields{
			"request_id":     requestID,
			"correlation_id": msg.Metadata.Get(metadata.KeyCorrelationID),
		})
		return
	}

	var env replyEnvelope
	if err := jsoncodec.Unmarshal(msg.Payload, &env); err != nil {
		f.complete(Result{}, &Failure{Service: f.Service, Method: f.Method, Err: err})
		return
	}
	if env.Error != nil {
		f.complete(Result{}, &Failure{Service: f.Service, Method: f.Method, Err: env.Error})
		return
	}
	f.complete(Result{raw: env.Result}, nil)
}

func (c *Conn) failPending() {
	c.mu.Lock()
	c.closed = true
	pending := c.pending
	c.pending = make(map[string]*Future)
	c.mu.Unlock()

	for _, f := range pending {
		f.complete(Result{}, &Failure{Service: f.Service, Method: f.Method, Err: ErrConnClosed})
	}
}

// Close stops the reply subscription and fails every pending call.
func (c *Conn) Close() {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()

	c.cancel()
	select {
	case <-c.done:
	case <-time.After(connCloseTimeout):
		c.logger.Error("Timed out waiting for reply loop to stop", nil, nil)
		c.failPending()
	}
}
