// Package authsvc is a reference token validation service. It signs and
// verifies HMAC tokens and answers validate_token calls with the token
// claims, or false for tokens it rejects.
package authsvc

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/drblury/cidflow/internal/runtime/config"
	loggingpkg "github.com/drblury/cidflow/internal/runtime/logging"
	"github.com/drblury/cidflow/internal/runtime/rpc"
)

var validMethods = []string{
	jwt.SigningMethodHS256.Alg(),
	jwt.SigningMethodHS384.Alg(),
	jwt.SigningMethodHS512.Alg(),
}

// Service issues and validates tokens signed with a shared secret.
type Service struct {
	secret []byte
	logger loggingpkg.ServiceLogger
	now    func() time.Time
}

// New returns a service using secret.
func New(secret string, logger loggingpkg.ServiceLogger) (*Service, error) {
	if secret == "" {
		return nil, errors.New("authsvc: token secret is required")
	}
	if logger == nil {
		logger = loggingpkg.Discard()
	}
	return &Service{secret: []byte(secret), logger: logger, now: time.Now}, nil
}

// Issue signs a token for subject granting scopes until ttl elapses.
func (s *Service) Issue(subject string, scopes []string, ttl time.Duration) (string, error) {
	now := s.now()
	claims := jwt.MapClaims{
		"sub":   subject,
		"scope": strings.Join(scopes, " "),
		"iat":   now.Unix(),
		"exp":   now.Add(ttl).Unix(),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
}

// Verify parses token and returns its claims.
func (s *Service) Verify(token string) (jwt.MapClaims, error) {
	claims := jwt.MapClaims{}
	_, err := jwt.ParseWithClaims(token, claims, func(*jwt.Token) (any, error) {
		return s.secret, nil
	}, jwt.WithValidMethods(validMethods), jwt.WithTimeFunc(s.now))
	if err != nil {
		return nil, err
	}
	return claims, nil
}

// ValidateToken is the validate_token RPC method. The token is read from the
// "token" keyword.
func (s *Service) ValidateToken(ctx context.Context, call *rpc.Call) (any, error) {
	token := call.PopString("token")
	if token == "" {
		return false, nil
	}
	claims, err := s.Verify(token)
	if err != nil {
		loggingpkg.WithCorrelation(ctx, s.logger).Info("Token rejected", loggingpkg.LogFields{"error": err.Error()})
		return false, nil
	}
	return map[string]any(claims), nil
}

// Register exposes ValidateToken on srv under method, defaulting to
// config.DefaultValidateTokenMethod.
func (s *Service) Register(srv *rpc.Server, method string) error {
	if method == "" {
		method = config.DefaultValidateTokenMethod
	}
	return srv.Register(method, s.ValidateToken)
}
