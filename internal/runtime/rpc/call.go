package rpc

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/drblury/cidflow/internal/runtime/metadata"
)

// Method is a remotely callable function. The returned value is encoded as
// the reply result; a returned error becomes a remote error.
type Method func(ctx context.Context, call *Call) (any, error)

// Call is one decoded inbound request. The reserved "cid" keyword has been
// removed from Kwargs and is exposed as CID.
type Call struct {
	Service  string
	Method   string
	CID      string
	Args     []any
	Kwargs   map[string]any
	Metadata metadata.Metadata
}

// Pop removes and returns the keyword argument key.
func (c *Call) Pop(key string) (any, bool) {
	v, ok := c.Kwargs[key]
	if ok {
		delete(c.Kwargs, key)
	}
	return v, ok
}

// PopString removes key and returns it as a string. Missing or null values give "".
func (c *Call) PopString(key string) string {
	v, ok := c.Pop(key)
	if !ok || v == nil {
		return ""
	}
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprint(v)
}

// PopInt removes key and returns it as an int, or def when it is absent.
func (c *Call) PopInt(key string, def int) (int, error) {
	v, ok := c.Pop(key)
	if !ok || v == nil {
		return def, nil
	}
	switch t := v.(type) {
	case int:
		return t, nil
	case int64:
		return int(t), nil
	case float64:
		return int(t), nil
	case string:
		if t == "" {
			return def, nil
		}
		n, err := strconv.Atoi(strings.TrimSpace(t))
		if err != nil {
			return def, fmt.Errorf("keyword %q: %w", key, err)
		}
		return n, nil
	default:
		return def, fmt.Errorf("keyword %q: unsupported type %T", key, v)
	}
}

// PopBool removes key and returns it as a bool. Strings accept the forms
// understood by strconv.ParseBool.
func (c *Call) PopBool(key string) (bool, error) {
	v, ok := c.Pop(key)
	if !ok || v == nil {
		return false, nil
	}
	switch t := v.(type) {
	case bool:
		return t, nil
	case string:
		if t == "" {
			return false, nil
		}
		b, err := strconv.ParseBool(strings.TrimSpace(t))
		if err != nil {
			return false, fmt.Errorf("keyword %q: %w", key, err)
		}
		return b, nil
	case float64:
		return t != 0, nil
	default:
		return false, fmt.Errorf("keyword %q: unsupported type %T", key, v)
	}
}
