// Package auth authenticates API callers from bearer tokens. Three
// validators are available: a shared HS256 secret, a single Ed25519 public
// key and a remote JWKS.
package auth

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"e2ee-messaging/internal/observability/metrics"
	obsmw "e2ee-messaging/internal/observability/middleware"
)

var (
	errIssuerMismatch = errors.New("issuer mismatch")
	errNoSubject      = errors.New("no subject")
)

// Validator guards HTTP handlers.
type Validator interface {
	Middleware(next http.Handler) http.Handler
}

// Principal is the authenticated caller.
type Principal struct {
	Subject  string
	DeviceID string
}

type principalKey struct{}

func WithPrincipal(ctx context.Context, p Principal) context.Context {
	return context.WithValue(ctx, principalKey{}, p)
}

func PrincipalFrom(ctx context.Context) (Principal, bool) {
	p, ok := ctx.Value(principalKey{}).(Principal)
	return p, ok
}

// claimsParser verifies a raw token and returns its claims as a map.
type claimsParser func(raw string) (map[string]any, error)

func guard(method, issuer string, parse claimsParser, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		result := "success"
		defer func() {
			metrics.AuthenticationAttemptsTotal.WithLabelValues(method, result).Inc()
		}()
		reqID := obsmw.RequestIDFromContext(r.Context())
		traceID := obsmw.TraceIDFromContext(r.Context())

		raw := r.Header.Get("Authorization")
		if !strings.HasPrefix(strings.ToLower(raw), "bearer ") {
			result = "failure"
			http.Error(w, "missing bearer token", http.StatusUnauthorized)
			slog.Warn("auth missing bearer", "method", method, "request_id", reqID, "trace_id", traceID)
			return
		}
		claims, err := parse(strings.TrimSpace(raw[len("Bearer "):]))
		if err != nil {
			result = "failure"
			http.Error(w, "invalid token", http.StatusUnauthorized)
			slog.Warn("auth invalid token", "method", method, "error", err, "request_id", reqID, "trace_id", traceID)
			return
		}
		p, err := principalFromClaims(claims, issuer)
		if err != nil {
			result = "failure"
			http.Error(w, err.Error(), http.StatusUnauthorized)
			slog.Warn("auth rejected claims", "method", method, "error", err, "request_id", reqID, "trace_id", traceID)
			return
		}
		slog.Debug("auth passed", "method", method, "subject", p.Subject, "request_id", reqID, "trace_id", traceID)
		next.ServeHTTP(w, r.WithContext(WithPrincipal(r.Context(), p)))
	})
}

// An absent iss claim is accepted; a different one is not.
func principalFromClaims(claims map[string]any, issuer string) (Principal, error) {
	if iss, _ := claims["iss"].(string); iss != "" && issuer != "" && iss != issuer {
		return Principal{}, errIssuerMismatch
	}
	sub, _ := claims["sub"].(string)
	if sub == "" {
		return Principal{}, errNoSubject
	}
	device, _ := claims["device_id"].(string)
	return Principal{Subject: sub, DeviceID: device}, nil
}
