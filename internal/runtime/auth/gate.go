// Package auth authenticates bearer tokens through a remote validation
// service and authorizes them against resource:action scopes.
package auth

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/drblury/cidflow/internal/runtime/config"
	"github.com/drblury/cidflow/internal/runtime/crud"
	errspkg "github.com/drblury/cidflow/internal/runtime/errors"
	loggingpkg "github.com/drblury/cidflow/internal/runtime/logging"
)

// State is a step of the gate.
type State int

const (
	Start State = iota
	Authenticating
	Authenticated
	AuthFailed
	Authorizing
	Authorized
	Forbidden
	Proceed
	Deny
)

var stateNames = [...]string{
	Start:          "start",
	Authenticating: "authenticating",
	Authenticated:  "authenticated",
	AuthFailed:     "auth_failed",
	Authorizing:    "authorizing",
	Authorized:     "authorized",
	Forbidden:      "forbidden",
	Proceed:        "proceed",
	Deny:           "deny",
}

func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return fmt.Sprintf("state(%d)", int(s))
	}
	return stateNames[s]
}

var methodActions = map[string]string{
	http.MethodPost:    "create",
	http.MethodGet:     "read",
	http.MethodPut:     "update",
	http.MethodPatch:   "update",
	http.MethodDelete:  "delete",
	http.MethodOptions: "read",
	http.MethodHead:    "read",
}

// ActionFor maps an HTTP method to a scope action.
func ActionFor(method string) (string, bool) {
	action, ok := methodActions[strings.ToUpper(method)]
	return action, ok
}

// Decision is the outcome of one gate evaluation.
type Decision struct {
	Trail    []State
	Claims   Claims
	Resource string
	Action   string
	Required string
	Err      error
	Denial   *crud.ErrorResponse
}

// Allowed reports whether the gate ended in Proceed.
func (d Decision) Allowed() bool {
	return d.Denial == nil
}

// Final returns the last state reached.
func (d Decision) Final() State {
	if len(d.Trail) == 0 {
		return Start
	}
	return d.Trail[len(d.Trail)-1]
}

func (d *Decision) enter(s State) {
	d.Trail = append(d.Trail, s)
}

// Gate authenticates and authorizes CRUD operations.
type Gate struct {
	validator Validator
	conf      *config.Config
	logger    loggingpkg.ServiceLogger
}

// NewGate builds a gate over v. Views map to resources through
// cfg.ViewPermissions.
func NewGate(v Validator, cfg *config.Config, logger loggingpkg.ServiceLogger) (*Gate, error) {
	if v == nil {
		return nil, errspkg.ErrValidatorRequired
	}
	if cfg == nil {
		return nil, errspkg.ErrConfigRequired
	}
	if logger == nil {
		logger = loggingpkg.Discard()
	}
	return &Gate{validator: v, conf: cfg, logger: logger}, nil
}

// Resource returns the resource guarded for view.
func (g *Gate) Resource(view string) string {
	return g.conf.ViewResource(view)
}

// Check satisfies crud.Authorizer.
func (g *Gate) Check(ctx context.Context, token, view, method string) *crud.ErrorResponse {
	return g.Evaluate(ctx, token, view, method).Denial
}

// Evaluate runs the gate and returns every state it passed through. Any
// error or panic fails closed in the phase it happened in.
func (g *Gate) Evaluate(ctx context.Context, token, view, method string) (d Decision) {
	d.enter(Start)
	log := loggingpkg.WithCorrelation(ctx, g.logger).With(loggingpkg.LogFields{"view": view, "method": method})
	defer func() {
		log.Debug("Authorization gate finished", loggingpkg.LogFields{"trail": d.Trail})
	}()

	if !g.authenticate(ctx, token, &d, log) {
		d.enter(Deny)
		d.Denial = crud.NotAuthenticated()
		return d
	}
	if !g.authorize(view, method, &d, log) {
		d.enter(Deny)
		d.Denial = crud.NotAuthorized()
		return d
	}
	d.enter(Proceed)
	return d
}

func (g *Gate) authenticate(ctx context.Context, token string, d *Decision, log loggingpkg.ServiceLogger) (ok bool) {
	d.enter(Authenticating)
	defer func() {
		if r := recover(); r != nil {
			d.Err = fmt.Errorf("auth: panic while authenticating: %v", r)
			ok = false
		}
		if ok {
			d.enter(Authenticated)
			return
		}
		d.enter(AuthFailed)
		log.Info("Authentication failed", loggingpkg.LogFields{"error": fmt.Sprint(d.Err)})
	}()

	if token == "" {
		d.Err = ErrMissingToken
		return false
	}
	claims, err := g.validator.Validate(ctx, token)
	if err != nil {
		d.Err = err
		return false
	}
	d.Claims = claims
	return true
}

func (g *Gate) authorize(view, method string, d *Decision, log loggingpkg.ServiceLogger) (ok bool) {
	d.enter(Authorizing)
	defer func() {
		if r := recover(); r != nil {
			d.Err = fmt.Errorf("auth: panic while authorizing: %v", r)
			ok = false
		}
		if ok {
			d.enter(Authorized)
			return
		}
		d.enter(Forbidden)
		log.Info("Authorization denied", loggingpkg.LogFields{
			"subject":        d.Claims.Subject,
			"required_scope": d.Required,
		})
	}()

	if d.Claims.IsSuperuser() {
		log.Debug("Superuser access", loggingpkg.LogFields{"subject": d.Claims.Subject})
		return true
	}

	d.Resource = g.Resource(view)
	action, known := ActionFor(method)
	if !known {
		d.Err = fmt.Errorf("auth: no action for method %q", method)
		return false
	}
	d.Action = action
	d.Required = d.Resource + ":" + action
	return d.Claims.Has(d.Required)
}
