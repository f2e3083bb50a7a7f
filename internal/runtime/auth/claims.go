package auth

import (
	"errors"
	"fmt"
	"strings"
)

// SuperuserScope grants every resource and action.
const SuperuserScope = "superuser"

// Claims are the validated token attributes the gate relies on.
type Claims struct {
	Subject string
	Scopes  []string
	Raw     map[string]any
}

// ParseClaims reads "sub" and "scope" from a validated token. The scope
// claim may be a space separated string or a list of strings.
func ParseClaims(raw map[string]any) (Claims, error) {
	if raw == nil {
		return Claims{}, errors.New("auth: empty claims")
	}
	c := Claims{Raw: raw}
	if sub, ok := raw["sub"]; ok && sub != nil {
		c.Subject = fmt.Sprint(sub)
	}

	switch scope := raw["scope"].(type) {
	case nil:
	case string:
		c.Scopes = strings.Fields(scope)
	case []any:
		for _, s := range scope {
			str, ok := s.(string)
			if !ok {
				return Claims{}, fmt.Errorf("auth: scope entry %v is not a string", s)
			}
			c.Scopes = append(c.Scopes, str)
		}
	case []string:
		c.Scopes = append(c.Scopes, scope...)
	default:
		return Claims{}, fmt.Errorf("auth: unsupported scope claim %T", scope)
	}
	return c, nil
}

// Has reports whether scope was granted.
func (c Claims) Has(scope string) bool {
	for _, s := range c.Scopes {
		if s == scope {
			return true
		}
	}
	return false
}

// IsSuperuser reports whether the superuser scope was granted.
func (c Claims) IsSuperuser() bool {
	return c.Has(SuperuserScope)
}
