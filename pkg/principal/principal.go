// Package principal carries the authenticated caller through the request
// context. Authentication itself happens at the external identity
// provider; this service only verifies the token it issued and extracts
// the {userId, roleId, departmentId} triple every entry point needs for
// permission checks.
package principal

import (
	"context"
)

// Principal identifies the authenticated caller.
type Principal struct {
	UserID       string `json:"user_id"`
	RoleID       string `json:"role_id"`
	DepartmentID string `json:"department_id,omitempty"`
	DisplayName  string `json:"display_name,omitempty"`
}

// HasDepartment reports whether the principal belongs to a department.
func (p *Principal) HasDepartment() bool {
	return p != nil && p.DepartmentID != ""
}

type contextKey string

const principalContextKey contextKey = "principal"

// FromContext retrieves the Principal from the context. Returns nil when
// no principal is present (system operations).
func FromContext(ctx context.Context) *Principal {
	if ctx == nil {
		return nil
	}
	p, ok := ctx.Value(principalContextKey).(*Principal)
	if !ok {
		return nil
	}
	return p
}

// WithPrincipal returns a new context with the Principal attached.
func WithPrincipal(ctx context.Context, p *Principal) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, principalContextKey, p)
}

// System returns a Principal representing the service itself, for
// background work not initiated by a user.
func System() *Principal {
	return &Principal{
		UserID:      "00000000-0000-0000-0000-000000000000",
		DisplayName: "System",
	}
}
