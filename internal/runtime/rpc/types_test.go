package rpc

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResultTruthy(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want bool
	}{
		{name: "empty", raw: "", want: false},
		{name: "null", raw: "null", want: false},
		{name: "false", raw: "false", want: false},
		{name: "true", raw: "true", want: true},
		{name: "zero", raw: "0", want: false},
		{name: "number", raw: "3", want: true},
		{name: "empty string", raw: `""`, want: false},
		{name: "string", raw: `"x"`, want: true},
		{name: "empty object", raw: `{}`, want: false},
		{name: "object", raw: `{"sub":"u1"}`, want: true},
		{name: "empty list", raw: `[]`, want: false},
		{name: "list", raw: `[1]`, want: true},
		{name: "garbage", raw: `{`, want: false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Result{raw: []byte(tt.raw)}.Truthy())
		})
	}
}

func TestResultDecode(t *testing.T) {
	res, err := NewResult(map[string]any{"id": "42"})
	require.NoError(t, err)
	assert.False(t, res.IsNull())

	var got struct {
		ID string `json:"id"`
	}
	require.NoError(t, res.Decode(&got))
	assert.Equal(t, "42", got.ID)

	var untouched struct{ ID string }
	require.NoError(t, Result{}.Decode(&untouched))
	assert.Empty(t, untouched.ID)
}

func TestModeString(t *testing.T) {
	assert.Equal(t, "sync", Sync.String())
	assert.Equal(t, "async", Async.String())
	assert.Equal(t, "rpc.users", RequestTopic("users"))
}

func TestRegistry(t *testing.T) {
	r := NewRegistry()
	r.Declare("b", "y", "x")
	r.Declare("a")
	r.Declare("b", "z")

	assert.Equal(t, []string{"a", "b"}, r.Services())
	assert.Equal(t, []string{"x", "y", "z"}, r.Methods("b"))
	assert.NoError(t, r.Check("b", "x"))
	assert.ErrorIs(t, r.Check("c", "x"), ErrUnknownService)
	assert.ErrorIs(t, r.Check("a", "x"), ErrUnknownMethod)
}

func TestRemoteErrorFrom(t *testing.T) {
	assert.Equal(t, &RemoteError{Type: "NotFound", Message: "nothing here"}, remoteErrorFrom(notFoundError{}))

	original := &RemoteError{Type: "Custom", Message: "m"}
	assert.Same(t, original, remoteErrorFrom(original))
	assert.Equal(t, "Custom: m", original.Error())
}

func TestCallPopHelpers(t *testing.T) {
	call := &Call{Kwargs: map[string]any{
		"page":      "3",
		"page_size": float64(20),
		"bad":       "x",
		"partial":   "true",
		"flag":      true,
		"jwt":       "token",
		"nil":       nil,
	}}

	page, err := call.PopInt("page", 1)
	require.NoError(t, err)
	assert.Equal(t, 3, page)

	size, err := call.PopInt("page_size", 10)
	require.NoError(t, err)
	assert.Equal(t, 20, size)

	missing, err := call.PopInt("absent", 7)
	require.NoError(t, err)
	assert.Equal(t, 7, missing)

	_, err = call.PopInt("bad", 1)
	assert.Error(t, err)

	partial, err := call.PopBool("partial")
	require.NoError(t, err)
	assert.True(t, partial)

	flag, err := call.PopBool("flag")
	require.NoError(t, err)
	assert.True(t, flag)

	assert.Equal(t, "token", call.PopString("jwt"))
	assert.Equal(t, "", call.PopString("nil"))
	assert.Empty(t, call.Kwargs)
}
