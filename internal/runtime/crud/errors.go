package crud

import (
	"errors"
	"sort"
)

// ErrNotFound is returned by collections when no item has the requested key.
var ErrNotFound = errors.New("crud: object not found")

// ErrorKind names a domain error returned as data.
type ErrorKind string

const (
	KindValidation         ErrorKind = "validation_errors"
	KindNotFound           ErrorKind = "object_not_found"
	KindNotAuthenticated   ErrorKind = "not_authenticated"
	KindNotAuthorized      ErrorKind = "not_authorized"
	KindMissingSearchParam ErrorKind = "missing_search_param"
)

const (
	// ErrorsKey wraps every non-validation error payload.
	ErrorsKey = "errors"
	// ValidationErrorsKey wraps field errors.
	ValidationErrorsKey = "validation_errors"
)

var defaultMessages = map[ErrorKind]string{
	KindNotFound:           "Not found.",
	KindNotAuthenticated:   "Authentication credentials were not provided or are invalid.",
	KindNotAuthorized:      "You do not have permission to perform this action.",
	KindMissingSearchParam: "A search query is required.",
}

// FieldErrors maps a field name to its validation messages.
type FieldErrors map[string][]string

// Add appends msg to field.
func (f FieldErrors) Add(field, msg string) {
	f[field] = append(f[field], msg)
}

// Has reports whether field already has a message.
func (f FieldErrors) Has(field string) bool {
	return len(f[field]) > 0
}

// Fields returns the failing field names in order.
func (f FieldErrors) Fields() []string {
	names := make([]string, 0, len(f))
	for name := range f {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ErrorResponse is a domain error. It travels as a regular result so
// callers can branch on Kind.
type ErrorResponse struct {
	Kind    ErrorKind
	Message string
	Fields  FieldErrors
}

func (e *ErrorResponse) Error() string {
	if e.Kind == KindValidation {
		return string(e.Kind)
	}
	return string(e.Kind) + ": " + e.Message
}

// Payload returns the wire form: {"validation_errors": {...}} for field
// errors, {"errors": {kind: message}} otherwise.
func (e *ErrorResponse) Payload() map[string]any {
	if e.Kind == KindValidation {
		fields := make(map[string]any, len(e.Fields))
		for k, v := range e.Fields {
			fields[k] = v
		}
		return map[string]any{ValidationErrorsKey: fields}
	}
	return map[string]any{ErrorsKey: map[string]any{string(e.Kind): e.Message}}
}

// MarshalJSON encodes the wire form.
func (e *ErrorResponse) MarshalJSON() ([]byte, error) {
	return marshal(e.Payload())
}

func newError(kind ErrorKind) *ErrorResponse {
	return &ErrorResponse{Kind: kind, Message: defaultMessages[kind]}
}

func NotFound() *ErrorResponse           { return newError(KindNotFound) }
func NotAuthenticated() *ErrorResponse   { return newError(KindNotAuthenticated) }
func NotAuthorized() *ErrorResponse      { return newError(KindNotAuthorized) }
func MissingSearchParam() *ErrorResponse { return newError(KindMissingSearchParam) }

// ValidationFailed wraps field errors.
func ValidationFailed(fields FieldErrors) *ErrorResponse {
	return &ErrorResponse{Kind: KindValidation, Fields: fields}
}

// AsError returns v as an error response when it is one, either as a value
// produced by this package or as a decoded wire payload.
func AsError(v any) (*ErrorResponse, bool) {
	switch t := v.(type) {
	case *ErrorResponse:
		return t, t != nil
	case map[string]any:
		return ParseErrorResponse(t)
	default:
		return nil, false
	}
}

// ParseErrorResponse recognises the wire form of an error response.
func ParseErrorResponse(payload map[string]any) (*ErrorResponse, bool) {
	if raw, ok := payload[ValidationErrorsKey]; ok && len(payload) == 1 {
		fields := FieldErrors{}
		if m, ok := raw.(map[string]any); ok {
			for name, msgs := range m {
				switch t := msgs.(type) {
				case []any:
					for _, msg := range t {
						if s, ok := msg.(string); ok {
							fields.Add(name, s)
						}
					}
				case string:
					fields.Add(name, t)
				}
			}
		}
		return ValidationFailed(fields), true
	}

	raw, ok := payload[ErrorsKey]
	if !ok || len(payload) != 1 {
		return nil, false
	}
	m, ok := raw.(map[string]any)
	if !ok || len(m) != 1 {
		return nil, false
	}
	for kind, msg := range m {
		k := ErrorKind(kind)
		if _, known := defaultMessages[k]; !known {
			return nil, false
		}
		text, _ := msg.(string)
		return &ErrorResponse{Kind: k, Message: text}, true
	}
	return nil, false
}
