package auth

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/sirupsen/logrus"
)

// Middleware authenticates operator requests with a bearer JWT and checks the
// caller's role against the route policy.
type Middleware struct {
	secret []byte
	policy Policy
	log    logrus.FieldLogger
}

// MiddlewareOption configures Middleware.
type MiddlewareOption func(*Middleware)

// WithMiddlewareLogger logs rejected requests.
func WithMiddlewareLogger(log logrus.FieldLogger) MiddlewareOption {
	return func(m *Middleware) {
		if log != nil {
			m.log = log.WithField("component", "auth")
		}
	}
}

// NewMiddleware builds the JWT and role middleware.
func NewMiddleware(secret []byte, policy Policy, opts ...MiddlewareOption) *Middleware {
	m := &Middleware{secret: secret, policy: policy, log: logrus.New().WithField("component", "auth")}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Wrap guards next. Exempt routes and routes without a required role pass
// through untouched; an authenticated caller's role and subject are put on the
// request context.
func (m *Middleware) Wrap(next http.Handler) http.Handler {
	if m == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if m.policy.IsExempt(r) {
			next.ServeHTTP(w, r)
			return
		}
		required, guarded := m.policy.RequiredRole(r)
		if !guarded {
			next.ServeHTTP(w, r)
			return
		}

		claims, err := ParseJWT(bearerToken(r), m.secret)
		if err != nil {
			m.reject(w, r, http.StatusUnauthorized, err)
			return
		}
		role, _ := NormalizeRole(claims.Role)
		if !RoleAtLeast(role, required) {
			m.reject(w, r, http.StatusForbidden, errors.New("role "+string(role)+" below "+string(required)))
			return
		}
		next.ServeHTTP(w, r.WithContext(WithIdentity(r.Context(), role, claims.Subject)))
	})
}

func (m *Middleware) reject(w http.ResponseWriter, r *http.Request, status int, cause error) {
	m.log.WithFields(logrus.Fields{
		"method": r.Method,
		"path":   r.URL.Path,
		"status": status,
	}).WithError(cause).Debug("request rejected")

	message := "Authentication required"
	switch {
	case status == http.StatusForbidden:
		message = "Insufficient role for this operation"
	case errors.Is(cause, ErrInvalidToken):
		message = "Invalid or expired token"
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{
		"error":   http.StatusText(status),
		"message": message,
	})
}

// bearerToken reads the Authorization header, falling back to the
// access_token query parameter used by EventSource and WebSocket clients.
func bearerToken(r *http.Request) string {
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	if header == "" {
		return r.URL.Query().Get("access_token")
	}
	scheme, token, found := strings.Cut(header, " ")
	if !found || !strings.EqualFold(scheme, "Bearer") {
		return ""
	}
	return strings.TrimSpace(token)
}
