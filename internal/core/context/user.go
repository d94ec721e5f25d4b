// Package context provides request-scoped values extraction.
package context

import (
	"context"
)

// SystemUser is recorded in entry history when no operator is attached to the context.
const SystemUser = "Sistema"

// UserContext contains the operator (or collaborator service) acting on the request.
type UserContext struct {
	UserID  string
	Name    string
	Roles   []string
	IsAdmin bool
}

type userContextKey struct{}

// WithUser adds UserContext to context.
func WithUser(ctx context.Context, user *UserContext) context.Context {
	return context.WithValue(ctx, userContextKey{}, user)
}

// GetUser returns UserContext from context.
func GetUser(ctx context.Context) *UserContext {
	if v, ok := ctx.Value(userContextKey{}).(*UserContext); ok {
		return v
	}
	return nil
}

// GetUserID returns user ID from context or empty string.
func GetUserID(ctx context.Context) string {
	if u := GetUser(ctx); u != nil {
		return u.UserID
	}
	return ""
}

// ActingUser returns the name used in history records: the operator name,
// then the user ID, then SystemUser.
func ActingUser(ctx context.Context) string {
	u := GetUser(ctx)
	if u == nil {
		return SystemUser
	}
	if u.Name != "" {
		return u.Name
	}
	if u.UserID != "" {
		return u.UserID
	}
	return SystemUser
}

// HasRole checks if user has specific role.
func HasRole(ctx context.Context, role string) bool {
	u := GetUser(ctx)
	if u == nil {
		return false
	}
	for _, r := range u.Roles {
		if r == role {
			return true
		}
	}
	return false
}
