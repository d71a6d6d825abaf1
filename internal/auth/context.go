package auth

import (
	"context"
	"net/http"
	"strings"
)

type contextKey string

const (
	contextKeyRole    contextKey = "auth.role"
	contextKeySubject contextKey = "auth.subject"
)

// DefaultDecisionUser is recorded when a decision arrives without any identity.
const DefaultDecisionUser = "ops-manager"

// WithIdentity stores auth identity details in context.
func WithIdentity(ctx context.Context, role Role, subject string) context.Context {
	ctx = context.WithValue(ctx, contextKeyRole, role)
	ctx = context.WithValue(ctx, contextKeySubject, subject)
	return ctx
}

// RoleFromContext extracts role from context.
func RoleFromContext(ctx context.Context) Role {
	if ctx == nil {
		return ""
	}
	value := ctx.Value(contextKeyRole)
	if role, ok := value.(Role); ok {
		return role
	}
	if role, ok := value.(string); ok {
		if normalized, valid := NormalizeRole(role); valid {
			return normalized
		}
	}
	return ""
}

// SubjectFromContext extracts subject from context.
func SubjectFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	value := ctx.Value(contextKeySubject)
	if subject, ok := value.(string); ok {
		return subject
	}
	return ""
}

// UserIDFromRequest resolves the acting user: token subject, then X-User-Id, then the default.
func UserIDFromRequest(r *http.Request) string {
	if r == nil {
		return DefaultDecisionUser
	}
	if subject := SubjectFromContext(r.Context()); subject != "" {
		return subject
	}
	if header := strings.TrimSpace(r.Header.Get("X-User-Id")); header != "" {
		return header
	}
	return DefaultDecisionUser
}
