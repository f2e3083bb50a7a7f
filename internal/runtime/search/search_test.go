package search

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func row(values map[string]any) Getter {
	return func(field string) (any, bool) {
		v, ok := values[field]
		return v, ok
	}
}

func TestParseField(t *testing.T) {
	tests := []struct {
		spec string
		want Field
	}{
		{"^name", Field{Name: "name", Lookup: StartsWith}},
		{"=code", Field{Name: "code", Lookup: Exact}},
		{"@body", Field{Name: "body", Lookup: FullText}},
		{"$slug", Field{Name: "slug", Lookup: Regex}},
		{"email", Field{Name: "email", Lookup: Contains}},
	}
	for _, tt := range tests {
		t.Run(tt.spec, func(t *testing.T) {
			assert.Equal(t, tt.want, ParseField(tt.spec))
		})
	}
	assert.Len(t, ParseFields("^name", "", "email"), 2)
}

func TestLookupString(t *testing.T) {
	assert.Equal(t, "istartswith", StartsWith.String())
	assert.Equal(t, "icontains", Contains.String())
	assert.Equal(t, "lookup(42)", Lookup(42).String())
}

func TestTerms(t *testing.T) {
	assert.Equal(t, []string{"ann", "bob"}, Terms("ann, bob"))
	assert.Equal(t, []string{"a", "b", "c"}, Terms("  a,,b\tc "))
	assert.Empty(t, Terms(" , "))
}

func TestSpecExprRejectsEmptyQuery(t *testing.T) {
	_, err := Spec{Query: " ,", Fields: ParseFields("name")}.Expr()
	assert.ErrorIs(t, err, ErrEmptyQuery)
}

func TestSpecExprWithoutFieldsMatchesAll(t *testing.T) {
	expr, err := Spec{Query: "x"}.Expr()
	require.NoError(t, err)
	assert.Nil(t, expr)
	assert.True(t, Match(expr, row(nil)))
}

func TestAndOfOrs(t *testing.T) {
	expr, err := Spec{Query: "ann, bob", Fields: ParseFields("^name", "=code", "email")}.Expr()
	require.NoError(t, err)

	tests := []struct {
		name string
		row  map[string]any
		want bool
	}{
		{"both terms on different fields", map[string]any{"name": "Annie", "code": "BOB", "email": "x@y"}, true},
		{"both terms in email", map[string]any{"name": "zed", "code": "z", "email": "ann.bob@example.com"}, true},
		{"only one term", map[string]any{"name": "Annie", "code": "z", "email": "x@y"}, false},
		{"starts-with is anchored", map[string]any{"name": "joanne", "code": "bob", "email": "x"}, false},
		{"exact is not contains", map[string]any{"name": "ann", "code": "bobby", "email": "x"}, false},
		{"missing fields", map[string]any{}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Match(expr, row(tt.row)))
		})
	}
}

func TestCondLookups(t *testing.T) {
	tests := []struct {
		name  string
		cond  Cond
		value any
		want  bool
	}{
		{"contains case-insensitive", Cond{"f", Contains, "WID"}, "a widget", true},
		{"full text word", Cond{"f", FullText, "blue"}, "Big, BLUE widget", true},
		{"full text needs a whole word", Cond{"f", FullText, "blu"}, "blue widget", false},
		{"regex case-insensitive", Cond{"f", Regex, "^wid.+t$"}, "WIDGET", true},
		{"invalid regex never matches", Cond{"f", Regex, "("}, "(", false},
		{"non-string value", Cond{"f", Exact, "42"}, 42, true},
		{"nil value", Cond{"f", Contains, ""}, nil, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Match(tt.cond, row(map[string]any{"f": tt.value})))
		})
	}
}

func TestFieldNames(t *testing.T) {
	expr, err := Spec{Query: "a b", Fields: ParseFields("^name", "email")}.Expr()
	require.NoError(t, err)
	assert.Equal(t, []string{"name", "email"}, FieldNames(expr))
}
