// Package search turns a free-text query into a predicate over a fixed set of
// searchable fields.
//
// Each field spec may carry a one-character prefix selecting its lookup:
//
//	^name   case-insensitive starts-with
//	=code   case-insensitive exact match
//	@body   full-text word match
//	$slug   case-insensitive regular expression
//	email   case-insensitive contains (no prefix)
//
// The query is split on commas and whitespace. A row matches when every term
// matches at least one field.
package search

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
	"unicode"
)

// ErrEmptyQuery is returned when a query holds no search terms.
var ErrEmptyQuery = errors.New("search: query has no terms")

// Lookup selects how a term is compared with a field value.
type Lookup int

const (
	Contains Lookup = iota
	StartsWith
	Exact
	FullText
	Regex
)

var lookupNames = map[Lookup]string{
	Contains:   "icontains",
	StartsWith: "istartswith",
	Exact:      "iexact",
	FullText:   "search",
	Regex:      "iregex",
}

func (l Lookup) String() string {
	if name, ok := lookupNames[l]; ok {
		return name
	}
	return fmt.Sprintf("lookup(%d)", int(l))
}

var prefixes = map[byte]Lookup{
	'^': StartsWith,
	'=': Exact,
	'@': FullText,
	'$': Regex,
}

// Field is a searchable field with its lookup.
type Field struct {
	Name   string
	Lookup Lookup
}

// ParseField parses a prefixed field spec such as "^name".
func ParseField(spec string) Field {
	if spec == "" {
		return Field{}
	}
	if lookup, ok := prefixes[spec[0]]; ok {
		return Field{Name: spec[1:], Lookup: lookup}
	}
	return Field{Name: spec, Lookup: Contains}
}

// ParseFields parses every spec, dropping empty ones.
func ParseFields(specs ...string) []Field {
	fields := make([]Field, 0, len(specs))
	for _, spec := range specs {
		f := ParseField(spec)
		if f.Name == "" {
			continue
		}
		fields = append(fields, f)
	}
	return fields
}

// Terms splits a raw query on commas and whitespace.
func Terms(query string) []string {
	return strings.Fields(strings.ReplaceAll(query, ",", " "))
}

// Spec is a raw query bound to the fields it searches.
type Spec struct {
	Query  string
	Fields []Field
}

// Expr builds the predicate for the query. With no fields it returns a nil
// expression, which matches everything.
func (s Spec) Expr() (Expr, error) {
	terms := Terms(s.Query)
	if len(terms) == 0 {
		return nil, ErrEmptyQuery
	}
	if len(s.Fields) == 0 {
		return nil, nil
	}

	all := make(All, 0, len(terms))
	for _, term := range terms {
		anyOf := make(Any, 0, len(s.Fields))
		for _, f := range s.Fields {
			anyOf = append(anyOf, Cond{Field: f.Name, Lookup: f.Lookup, Value: term})
		}
		all = append(all, anyOf)
	}
	return all, nil
}

// Expr is a predicate tree made of Cond, Any and All nodes.
type Expr interface {
	isExpr()
}

// Cond compares one field with one term.
type Cond struct {
	Field  string
	Lookup Lookup
	Value  string
}

// Any matches when at least one child matches.
type Any []Expr

// All matches when every child matches.
type All []Expr

func (Cond) isExpr() {}
func (Any) isExpr()  {}
func (All) isExpr()  {}

// Getter returns the value of a named field of a row.
type Getter func(field string) (any, bool)

// Match evaluates e against a row. A nil expression matches every row.
func Match(e Expr, get Getter) bool {
	switch node := e.(type) {
	case nil:
		return true
	case Cond:
		v, ok := get(node.Field)
		if !ok || v == nil {
			return false
		}
		return node.matches(fmt.Sprint(v))
	case Any:
		for _, child := range node {
			if Match(child, get) {
				return true
			}
		}
		return false
	case All:
		for _, child := range node {
			if !Match(child, get) {
				return false
			}
		}
		return true
	default:
		return false
	}
}

func (c Cond) matches(value string) bool {
	switch c.Lookup {
	case StartsWith:
		return strings.HasPrefix(strings.ToLower(value), strings.ToLower(c.Value))
	case Exact:
		return strings.EqualFold(value, c.Value)
	case FullText:
		return hasWord(value, c.Value)
	case Regex:
		re, err := regexp.Compile("(?i)" + c.Value)
		if err != nil {
			return false
		}
		return re.MatchString(value)
	default:
		return strings.Contains(strings.ToLower(value), strings.ToLower(c.Value))
	}
}

func hasWord(value, word string) bool {
	words := strings.FieldsFunc(value, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsNumber(r)
	})
	for _, w := range words {
		if strings.EqualFold(w, word) {
			return true
		}
	}
	return false
}

// FieldNames returns the field names referenced by e, in first-seen order.
func FieldNames(e Expr) []string {
	seen := map[string]struct{}{}
	var names []string
	var walk func(Expr)
	walk = func(e Expr) {
		switch node := e.(type) {
		case Cond:
			if _, ok := seen[node.Field]; !ok {
				seen[node.Field] = struct{}{}
				names = append(names, node.Field)
			}
		case Any:
			for _, c := range node {
				walk(c)
			}
		case All:
			for _, c := range node {
				walk(c)
			}
		}
	}
	walk(e)
	return names
}
