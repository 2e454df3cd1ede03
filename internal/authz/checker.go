package authz

import (
	"context"
	"fmt"

	"github.com/stockroom/stockroom-backend/pkg/errors"
	"github.com/stockroom/stockroom-backend/pkg/principal"
)

// Store is the read-side the checker resolves roles against.
type Store interface {
	GetRole(ctx context.Context, id string) (*Role, error)
	ListGrants(ctx context.Context, roleID string) ([]Grant, error)
}

// Checker resolves whether a principal may perform an action on a module
// and computes the data-scope filter for subsequent queries. It is
// read-only against the role store; lookups are cached per request so a
// handler touching several modules pays for one role fetch.
type Checker struct {
	store Store
}

// NewChecker creates a new permission checker
func NewChecker(store Store) *Checker {
	return &Checker{store: store}
}

type resolvedRole struct {
	role   *Role
	grants []Grant
}

type cacheKey struct{}

// WithRequestCache returns a context carrying a request-scoped role
// cache. Middleware installs one per request.
func WithRequestCache(ctx context.Context) context.Context {
	return context.WithValue(ctx, cacheKey{}, map[string]*resolvedRole{})
}

func (c *Checker) resolve(ctx context.Context, roleID string) (*resolvedRole, error) {
	cache, _ := ctx.Value(cacheKey{}).(map[string]*resolvedRole)
	if cache != nil {
		if rr, ok := cache[roleID]; ok {
			return rr, nil
		}
	}

	role, err := c.store.GetRole(ctx, roleID)
	if err != nil {
		return nil, err
	}

	grants, err := c.store.ListGrants(ctx, roleID)
	if err != nil {
		return nil, err
	}

	rr := &resolvedRole{role: role, grants: grants}
	if cache != nil {
		cache[roleID] = rr
	}
	return rr, nil
}

// Can reports whether the principal may perform action on module.
// No matching grant means deny; an inactive or missing role means deny.
func (c *Checker) Can(ctx context.Context, p *principal.Principal, module, action string) (bool, error) {
	if p == nil || p.RoleID == "" {
		return false, nil
	}

	rr, err := c.resolve(ctx, p.RoleID)
	if err != nil {
		if errors.Is(err, errors.ErrNotFound) {
			return false, nil
		}
		return false, err
	}

	if !rr.role.IsActive {
		return false, nil
	}

	for _, g := range rr.grants {
		if g.Module == module && g.Action == action {
			return true, nil
		}
	}
	return false, nil
}

// Require returns a Forbidden error unless the principal holds the
// (module, action) permission.
func (c *Checker) Require(ctx context.Context, p *principal.Principal, module, action string) error {
	ok, err := c.Can(ctx, p, module, action)
	if err != nil {
		return err
	}
	if !ok {
		return errors.Forbidden(fmt.Sprintf("missing permission %s.%s", module, action))
	}
	return nil
}

// ScopeFilter computes the data-scope filter the caller must apply to
// queries on the given module. A department-scoped role always narrows
// to its own department, regardless of per-grant filters.
func (c *Checker) ScopeFilter(ctx context.Context, p *principal.Principal, module string) (ScopeFilter, error) {
	if p == nil || p.RoleID == "" {
		return OwnDepartmentOnly, errors.Forbidden("no role")
	}

	rr, err := c.resolve(ctx, p.RoleID)
	if err != nil {
		if errors.Is(err, errors.ErrNotFound) {
			return OwnDepartmentOnly, errors.Forbidden("role not found")
		}
		return OwnDepartmentOnly, err
	}

	if rr.role.Scope == RoleScopeDepartment {
		return OwnDepartmentOnly, nil
	}

	for _, g := range rr.grants {
		if g.Module == module && g.Filter == OwnDepartmentOnly {
			return OwnDepartmentOnly, nil
		}
	}
	return NoRestriction, nil
}

// RequireInScope fails with Forbidden when the principal's scope filter
// for module excludes a row owned by ownerDepartmentID. Acting outside
// scope is an explicit error, never a silent empty result.
func (c *Checker) RequireInScope(ctx context.Context, p *principal.Principal, module, ownerDepartmentID string) error {
	filter, err := c.ScopeFilter(ctx, p, module)
	if err != nil {
		return err
	}

	if filter == OwnDepartmentOnly {
		if !p.HasDepartment() || p.DepartmentID != ownerDepartmentID {
			return errors.Forbidden("outside department scope")
		}
	}
	return nil
}
