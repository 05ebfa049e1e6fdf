package auth

import "context"

type contextKey string

const (
	contextKeyRole    contextKey = "auth.role"
	contextKeySubject contextKey = "auth.subject"
)

// WithIdentity attaches the authenticated caller to the context. Admin
// handlers read it back for audit trail actor fields.
func WithIdentity(ctx context.Context, role Role, subject string) context.Context {
	ctx = context.WithValue(ctx, contextKeyRole, role)
	return context.WithValue(ctx, contextKeySubject, subject)
}

// RoleFromContext returns the caller's role, or empty when absent.
func RoleFromContext(ctx context.Context) Role {
	if ctx == nil {
		return ""
	}
	switch value := ctx.Value(contextKeyRole).(type) {
	case Role:
		return value
	case string:
		if normalized, valid := NormalizeRole(value); valid {
			return normalized
		}
	}
	return ""
}

// SubjectFromContext returns the caller's subject, or empty when absent.
func SubjectFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	subject, _ := ctx.Value(contextKeySubject).(string)
	return subject
}
