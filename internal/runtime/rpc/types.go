// Package rpc layers request/reply calls on top of Watermill publishers and
// subscribers.
//
// A Client keeps a pool of connections. Each connection owns a private reply
// topic, so a request published to "rpc.<service>" is answered on the topic
// named by its rpc_reply_to header. Every request carries the caller's
// correlation id in the "cid" keyword argument and in the correlation_id
// header. A Server decodes requests for one service, binds the incoming id to
// a fresh cid.Scope and publishes the reply.
package rpc

import (
	"bytes"
	"encoding/json"

	"github.com/drblury/cidflow/internal/runtime/jsoncodec"
)

const (
	// RequestTopicPrefix prefixes the topic a service listens on.
	RequestTopicPrefix = "rpc."
	// ReplyTopicPrefix prefixes the private reply topic of a connection.
	ReplyTopicPrefix = "rpc.reply."

	// KwargCID is the reserved keyword carrying the correlation id.
	KwargCID = "cid"
)

// RequestTopic returns the topic requests for service are published to.
func RequestTopic(service string) string {
	return RequestTopicPrefix + service
}

// Mode tells the callee whether the caller waits for the reply.
type Mode int

const (
	Sync Mode = iota
	Async
)

func (m Mode) String() string {
	if m == Async {
		return "async"
	}
	return "sync"
}

// Descriptor describes one outbound call.
type Descriptor struct {
	Service string
	Method  string
	Args    []any
	Kwargs  map[string]any
	Mode    Mode
}

// Request is the wire payload of a call.
type Request struct {
	Args   []any          `json:"args"`
	Kwargs map[string]any `json:"kwargs"`
}

type reply struct {
	Result any          `json:"result"`
	Error  *RemoteError `json:"error,omitempty"`
}

type replyEnvelope struct {
	Result json.RawMessage `json:"result"`
	Error  *RemoteError    `json:"error,omitempty"`
}

// Result is the undecoded return value of a remote method.
type Result struct {
	raw []byte
}

// NewResult encodes v as a Result.
func NewResult(v any) (Result, error) {
	data, err := jsoncodec.Marshal(v)
	if err != nil {
		return Result{}, err
	}
	return Result{raw: data}, nil
}

// Raw returns the JSON encoding of the result.
func (r Result) Raw() []byte {
	return r.raw
}

// IsNull reports whether the method returned nothing.
func (r Result) IsNull() bool {
	trimmed := bytes.TrimSpace(r.raw)
	return len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null"))
}

// Decode unmarshals the result into dst.
func (r Result) Decode(dst any) error {
	if r.IsNull() {
		return nil
	}
	return jsoncodec.Unmarshal(r.raw, dst)
}

// Value decodes the result into its generic JSON form.
func (r Result) Value() (any, error) {
	var v any
	if err := r.Decode(&v); err != nil {
		return nil, err
	}
	return v, nil
}

// Truthy reports whether the result is a non-empty, non-false, non-zero value.
func (r Result) Truthy() bool {
	v, err := r.Value()
	if err != nil {
		return false
	}
	switch t := v.(type) {
	case nil:
		return false
	case bool:
		return t
	case float64:
		return t != 0
	case string:
		return t != ""
	case []any:
		return len(t) > 0
	case map[string]any:
		return len(t) > 0
	default:
		return true
	}
}
