package crud

import (
	"errors"
	"fmt"
	"reflect"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/drblury/cidflow/internal/runtime/jsoncodec"
)

// DefaultKeyField is the JSON name of the key field of a struct item.
const DefaultKeyField = "id"

type structField struct {
	name     string
	index    int
	typ      reflect.Type
	required bool
}

// StructSerializer serializes struct items by their JSON field names and
// validates them with `validate` struct tags.
type StructSerializer[T any] struct {
	keyField string
	readOnly map[string]struct{}
	fields   map[string]structField
	validate *validator.Validate
}

// StructOption customises a StructSerializer.
type StructOption func(*structOptions)

type structOptions struct {
	keyField string
	readOnly []string
}

// WithKeyField sets the JSON name of the key field.
func WithKeyField(name string) StructOption {
	return func(o *structOptions) { o.keyField = name }
}

// WithReadOnly marks fields that callers may not write.
func WithReadOnly(names ...string) StructOption {
	return func(o *structOptions) { o.readOnly = append(o.readOnly, names...) }
}

// NewStructSerializer inspects T, which must be a struct type.
func NewStructSerializer[T any](opts ...StructOption) (*StructSerializer[T], error) {
	o := structOptions{keyField: DefaultKeyField}
	for _, opt := range opts {
		opt(&o)
	}

	typ := reflect.TypeOf((*T)(nil)).Elem()
	if typ.Kind() != reflect.Struct {
		return nil, fmt.Errorf("crud: %s is not a struct", typ)
	}

	s := &StructSerializer[T]{
		keyField: o.keyField,
		readOnly: map[string]struct{}{o.keyField: {}},
		fields:   make(map[string]structField, typ.NumField()),
		validate: validator.New(validator.WithRequiredStructEnabled()),
	}
	for _, name := range o.readOnly {
		s.readOnly[name] = struct{}{}
	}
	s.validate.RegisterTagNameFunc(jsonName)

	for i := 0; i < typ.NumField(); i++ {
		f := typ.Field(i)
		if !f.IsExported() {
			continue
		}
		name := jsonName(f)
		if name == "" {
			continue
		}
		s.fields[name] = structField{
			name:     name,
			index:    i,
			typ:      f.Type,
			required: hasRule(f.Tag.Get("validate"), "required"),
		}
	}
	if _, ok := s.fields[o.keyField]; !ok {
		return nil, fmt.Errorf("crud: %s has no key field %q", typ, o.keyField)
	}
	return s, nil
}

func jsonName(f reflect.StructField) string {
	tag := f.Tag.Get("json")
	if tag == "-" {
		return ""
	}
	name, _, _ := strings.Cut(tag, ",")
	if name == "" {
		return f.Name
	}
	return name
}

func hasRule(tag, rule string) bool {
	for _, r := range strings.Split(tag, ",") {
		if r == rule {
			return true
		}
	}
	return false
}

// Deserialize decodes fields into an item. Unknown and read-only fields are
// ignored. A full update starts from the zero value, keeping only the key and
// read-only fields of base; a partial update starts from base and skips the
// rules of fields that were not supplied.
func (s *StructSerializer[T]) Deserialize(fields map[string]any, base *T, partial bool) (T, FieldErrors) {
	var item T
	if base != nil {
		if partial {
			item = *base
		} else {
			src := reflect.ValueOf(base).Elem()
			dst := reflect.ValueOf(&item).Elem()
			for name := range s.readOnly {
				if f, ok := s.fields[name]; ok {
					dst.Field(f.index).Set(src.Field(f.index))
				}
			}
		}
	}

	errs := FieldErrors{}
	dst := reflect.ValueOf(&item).Elem()
	for name, raw := range fields {
		f, ok := s.fields[name]
		if !ok {
			continue
		}
		if _, ro := s.readOnly[name]; ro {
			continue
		}
		target := reflect.New(f.typ)
		if err := jsoncodec.Convert(raw, target.Interface()); err != nil {
			errs.Add(name, "Incorrect type.")
			continue
		}
		dst.Field(f.index).Set(target.Elem())
	}

	if err := s.validate.Struct(item); err != nil {
		var verrs validator.ValidationErrors
		if !errors.As(err, &verrs) {
			errs.Add("non_field_errors", err.Error())
			return item, errs
		}
		for _, fe := range verrs {
			name := fe.Field()
			if _, ro := s.readOnly[name]; ro {
				continue
			}
			if partial {
				if _, supplied := fields[name]; !supplied {
					continue
				}
			}
			if errs.Has(name) {
				continue
			}
			errs.Add(name, message(fe))
		}
	}

	if len(errs) == 0 {
		return item, nil
	}
	return item, errs
}

func message(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "This field is required."
	case "email":
		return "Enter a valid email address."
	case "url", "http_url":
		return "Enter a valid URL."
	case "uuid", "uuid4":
		return "Must be a valid UUID."
	case "oneof":
		return fmt.Sprintf("%q is not a valid choice.", fmt.Sprint(fe.Value()))
	case "min", "gte":
		if fe.Kind() == reflect.String {
			return fmt.Sprintf("Ensure this field has at least %s characters.", fe.Param())
		}
		return fmt.Sprintf("Ensure this value is greater than or equal to %s.", fe.Param())
	case "max", "lte":
		if fe.Kind() == reflect.String {
			return fmt.Sprintf("Ensure this field has no more than %s characters.", fe.Param())
		}
		return fmt.Sprintf("Ensure this value is less than or equal to %s.", fe.Param())
	default:
		return "Invalid value."
	}
}

// Serialize encodes item by its JSON field names.
func (s *StructSerializer[T]) Serialize(item T) (map[string]any, error) {
	out := map[string]any{}
	if err := jsoncodec.Convert(item, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Key returns the key field formatted as a string. Zero values give "".
func (s *StructSerializer[T]) Key(item T) string {
	v := reflect.ValueOf(item).Field(s.fields[s.keyField].index)
	if v.IsZero() {
		return ""
	}
	return fmt.Sprint(v.Interface())
}

// SetKey writes key into the key field, parsing it for integer keys.
func (s *StructSerializer[T]) SetKey(item *T, key string) error {
	v := reflect.ValueOf(item).Elem().Field(s.fields[s.keyField].index)
	switch v.Kind() {
	case reflect.String:
		v.SetString(key)
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		n, err := strconv.ParseInt(key, 10, 64)
		if err != nil {
			return fmt.Errorf("crud: key %q: %w", key, err)
		}
		v.SetInt(n)
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		n, err := strconv.ParseUint(key, 10, 64)
		if err != nil {
			return fmt.Errorf("crud: key %q: %w", key, err)
		}
		v.SetUint(n)
	default:
		return fmt.Errorf("crud: unsupported key kind %s", v.Kind())
	}
	return nil
}

// KeyField returns the JSON name of the key field.
func (s *StructSerializer[T]) KeyField() string {
	return s.keyField
}
