// Package gateway exposes CRUD services over HTTP. Each configured resource
// forwards its routes to the list, retrieve, create, update, delete and
// search methods of one RPC service and maps error payloads to status codes.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/httprate"

	"github.com/drblury/cidflow/internal/runtime/cid"
	"github.com/drblury/cidflow/internal/runtime/config"
	"github.com/drblury/cidflow/internal/runtime/crud"
	errspkg "github.com/drblury/cidflow/internal/runtime/errors"
	"github.com/drblury/cidflow/internal/runtime/jsoncodec"
	loggingpkg "github.com/drblury/cidflow/internal/runtime/logging"
	"github.com/drblury/cidflow/internal/runtime/rpc"
)

// HeaderCorrelationID carries the correlation id on HTTP requests and responses.
const HeaderCorrelationID = "X-Correlation-ID"

// Caller performs synchronous RPC calls. *rpc.Client satisfies it.
type Caller interface {
	Call(ctx context.Context, service, method string, args []any, kwargs map[string]any) (rpc.Result, error)
}

// Declarer records the services a caller may reach. *rpc.Client satisfies
// it; New declares every resource service with all CRUD methods.
type Declarer interface {
	Declare(service string, methods ...string) *rpc.Stub
}

// Gateway routes HTTP requests to CRUD services.
type Gateway struct {
	caller Caller
	conf   config.Gateway
	logger loggingpkg.ServiceLogger
	router chi.Router
}

// New builds the routes for every resource in cfg.
func New(caller Caller, cfg config.Gateway, logger loggingpkg.ServiceLogger) (*Gateway, error) {
	if caller == nil {
		return nil, errspkg.ErrClientRequired
	}
	if logger == nil {
		logger = loggingpkg.Discard()
	}
	g := &Gateway{caller: caller, conf: cfg, logger: logger}
	declarer, _ := caller.(Declarer)

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(correlationMiddleware)
	r.Use(g.logRequests)
	if cfg.RateLimit > 0 {
		window := cfg.RateWindow
		if window <= 0 {
			window = config.DefaultRateLimitWindow
		}
		r.Use(rateLimit(cfg.RateLimit, window))
	}

	for _, res := range cfg.Resources {
		service := res.Service
		if service == "" {
			service = res.Name
		}
		if declarer != nil {
			declarer.Declare(service, crudMethods()...)
		}
		r.Route("/"+strings.Trim(res.Name, "/"), func(r chi.Router) {
			r.Get("/", g.forward(service, crud.OpList))
			r.Get("/search", g.forward(service, crud.OpSearch))
			r.Get("/{pk}", g.forward(service, crud.OpRetrieve))
			r.Post("/", g.forward(service, crud.OpCreate))
			r.Put("/{pk}", g.forward(service, crud.OpUpdate))
			r.Patch("/{pk}", g.forward(service, crud.OpUpdate))
			r.Delete("/{pk}", g.forward(service, crud.OpDelete))
		})
	}
	g.router = r
	return g, nil
}

func crudMethods() []string {
	names := make([]string, len(crud.Ops))
	for i, op := range crud.Ops {
		names[i] = string(op)
	}
	return names
}

// Handler returns the HTTP handler of the gateway.
func (g *Gateway) Handler() http.Handler {
	return g.router
}

// ServeHTTP lets the gateway be mounted directly.
func (g *Gateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	g.router.ServeHTTP(w, r)
}

func rateLimit(limit int, window time.Duration) func(http.Handler) http.Handler {
	return httprate.Limit(
		limit,
		window,
		httprate.WithKeyFuncs(httprate.KeyByIP),
		httprate.WithLimitHandler(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Retry-After", fmt.Sprintf("%d", int(window.Seconds())))
			writeJSON(w, http.StatusTooManyRequests, map[string]any{
				crud.ErrorsKey: map[string]any{"rate_limit_exceeded": "Too many requests. Please try again later."},
			})
		}),
	)
}

// correlationMiddleware binds the request's correlation id, or a new one, to
// the request context and echoes it on the response.
func correlationMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := cid.Resolve(strings.TrimSpace(r.Header.Get(HeaderCorrelationID)))
		ctx := cid.NewScope(r.Context(), id)
		defer cid.ScopeFrom(ctx).Clear()

		w.Header().Set(HeaderCorrelationID, id)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (g *Gateway) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		loggingpkg.WithCorrelation(r.Context(), g.logger).Debug("HTTP request", loggingpkg.LogFields{
			"method":   r.Method,
			"path":     r.URL.Path,
			"status":   ww.Status(),
			"duration": time.Since(start).String(),
		})
	})
}

// BearerToken returns the second word of the Authorization header.
func BearerToken(r *http.Request) string {
	parts := strings.Fields(r.Header.Get("Authorization"))
	if len(parts) < 2 {
		return ""
	}
	return parts[1]
}

func (g *Gateway) forward(service string, op crud.Op) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		kwargs := queryKwargs(r)

		if r.Method == http.MethodPost || r.Method == http.MethodPut || r.Method == http.MethodPatch {
			body, err := decodeBody(r)
			if err != nil {
				writeJSON(w, http.StatusBadRequest, crud.ValidationFailed(crud.FieldErrors{
					"non_field_errors": {"Malformed request body."},
				}))
				return
			}
			for k, v := range body {
				kwargs[k] = v
			}
		}
		if pk := chi.URLParam(r, "pk"); pk != "" {
			kwargs[crud.DefaultLookupKwarg] = pk
		}
		switch r.Method {
		case http.MethodPatch:
			kwargs[crud.KwargPartial] = true
		case http.MethodPut:
			kwargs[crud.KwargPartial] = false
		}
		if token := BearerToken(r); token != "" {
			kwargs[crud.KwargToken] = token
		} else {
			delete(kwargs, crud.KwargToken)
		}

		res, err := g.caller.Call(r.Context(), service, string(op), nil, kwargs)
		if err != nil {
			g.writeFault(w, r, service, op, err)
			return
		}
		g.writeResult(w, op, res)
	}
}

func queryKwargs(r *http.Request) map[string]any {
	query := r.URL.Query()
	kwargs := make(map[string]any, len(query)+3)
	for k, vs := range query {
		switch len(vs) {
		case 0:
		case 1:
			kwargs[k] = vs[0]
		default:
			list := make([]any, len(vs))
			for i, v := range vs {
				list[i] = v
			}
			kwargs[k] = list
		}
	}
	return kwargs
}

func decodeBody(r *http.Request) (map[string]any, error) {
	if r.Body == nil || r.ContentLength == 0 {
		return map[string]any{}, nil
	}
	body := map[string]any{}
	if err := jsoncodec.Decode(r.Body, &body); err != nil {
		return nil, err
	}
	return body, nil
}

// StatusFor maps an error kind to its HTTP status.
func StatusFor(kind crud.ErrorKind) int {
	switch kind {
	case crud.KindNotFound:
		return http.StatusNotFound
	case crud.KindNotAuthenticated:
		return http.StatusUnauthorized
	case crud.KindNotAuthorized:
		return http.StatusForbidden
	default:
		// validation_errors and missing_search_param
		return http.StatusBadRequest
	}
}

func (g *Gateway) writeResult(w http.ResponseWriter, op crud.Op, res rpc.Result) {
	status := http.StatusOK
	if op == crud.OpCreate {
		status = http.StatusCreated
	}

	if v, err := res.Value(); err == nil {
		if er, ok := crud.AsError(v); ok {
			writeJSON(w, StatusFor(er.Kind), er)
			return
		}
	}

	body := res.Raw()
	if res.IsNull() {
		body = []byte("null")
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(body)
}

func (g *Gateway) writeFault(w http.ResponseWriter, r *http.Request, service string, op crud.Op, err error) {
	log := loggingpkg.WithCorrelation(r.Context(), g.logger)
	fields := loggingpkg.LogFields{"rpc_service": service, "rpc_method": string(op)}

	var failure *rpc.Failure
	if errors.As(err, &failure) {
		log.Error("RPC call failed", err, fields)
		writeJSON(w, http.StatusBadGateway, map[string]any{
			crud.ErrorsKey: map[string]any{"service_unavailable": "The upstream service failed to answer."},
		})
		return
	}
	log.Error("Gateway fault", err, fields)
	writeJSON(w, http.StatusInternalServerError, map[string]any{
		crud.ErrorsKey: map[string]any{"internal_error": "Internal server error."},
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = jsoncodec.Encode(w, v)
}
