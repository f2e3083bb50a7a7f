package crud

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type account struct {
	ID      int64  `json:"id"`
	Email   string `json:"email" validate:"required,email"`
	Plan    string `json:"plan" validate:"omitempty,oneof=free pro"`
	Owner   string `json:"owner"`
	private string
	Skip    string `json:"-"`
}

func TestStructSerializerDeserialize(t *testing.T) {
	s, err := NewStructSerializer[account](WithReadOnly("owner"))
	require.NoError(t, err)
	assert.Equal(t, "id", s.KeyField())

	item, ferrs := s.Deserialize(map[string]any{
		"email": "a@b.io",
		"plan":  "pro",
		"owner": "mallory",
		"extra": true,
	}, nil, false)
	require.Nil(t, ferrs)
	assert.Equal(t, account{Email: "a@b.io", Plan: "pro"}, item)

	_, ferrs = s.Deserialize(map[string]any{"email": "bad", "plan": "gold"}, nil, false)
	assert.Equal(t, FieldErrors{
		"email": {"Enter a valid email address."},
		"plan":  {`"gold" is not a valid choice.`},
	}, ferrs)

	_, ferrs = s.Deserialize(map[string]any{"email": 12}, nil, false)
	assert.Equal(t, FieldErrors{"email": {"Incorrect type."}}, ferrs)
}

func TestStructSerializerUpdates(t *testing.T) {
	s, err := NewStructSerializer[account](WithReadOnly("owner"))
	require.NoError(t, err)
	base := account{ID: 3, Email: "a@b.io", Plan: "free", Owner: "ann"}

	item, ferrs := s.Deserialize(map[string]any{"plan": "pro"}, &base, true)
	require.Nil(t, ferrs)
	assert.Equal(t, account{ID: 3, Email: "a@b.io", Plan: "pro", Owner: "ann"}, item)

	item, ferrs = s.Deserialize(map[string]any{"email": "c@d.io"}, &base, false)
	require.Nil(t, ferrs)
	assert.Equal(t, account{ID: 3, Email: "c@d.io", Owner: "ann"}, item)

	_, ferrs = s.Deserialize(map[string]any{"plan": "pro"}, &base, false)
	assert.Equal(t, FieldErrors{"email": {"This field is required."}}, ferrs)
}

func TestStructSerializerKeys(t *testing.T) {
	s, err := NewStructSerializer[account]()
	require.NoError(t, err)

	var a account
	assert.Equal(t, "", s.Key(a))
	require.NoError(t, s.SetKey(&a, "41"))
	assert.Equal(t, "41", s.Key(a))
	assert.Error(t, s.SetKey(&a, "x"))

	out, err := s.Serialize(account{ID: 1, Email: "a@b.io", private: "p", Skip: "s"})
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"id": float64(1), "email": "a@b.io", "plan": "", "owner": ""}, out)
}

func TestNewStructSerializerErrors(t *testing.T) {
	_, err := NewStructSerializer[string]()
	assert.Error(t, err)

	_, err = NewStructSerializer[account](WithKeyField("uuid"))
	assert.Error(t, err)
}
