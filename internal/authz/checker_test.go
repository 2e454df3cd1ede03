package authz

import (
	"context"
	"testing"

	"github.com/stockroom/stockroom-backend/pkg/errors"
	"github.com/stockroom/stockroom-backend/pkg/principal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeStore struct {
	roles     map[string]*Role
	grants    map[string][]Grant
	roleCalls int
}

func (s *fakeStore) GetRole(ctx context.Context, id string) (*Role, error) {
	s.roleCalls++
	role, ok := s.roles[id]
	if !ok {
		return nil, errors.NotFound("role")
	}
	return role, nil
}

func (s *fakeStore) ListGrants(ctx context.Context, roleID string) ([]Grant, error) {
	return s.grants[roleID], nil
}

func clerkStore() *fakeStore {
	return &fakeStore{
		roles: map[string]*Role{
			"clerk": {ID: "clerk", Name: "Stock Clerk", Scope: RoleScopeGlobal, IsActive: true},
		},
		grants: map[string][]Grant{
			"clerk": {
				{Module: ModuleStock, Action: ActionView},
				{Module: ModuleStock, Action: ActionAdjust},
				{Module: ModuleRequisitions, Action: ActionView, Filter: OwnDepartmentOnly},
			},
		},
	}
}

func TestChecker_Can(t *testing.T) {
	checker := NewChecker(clerkStore())
	ctx := context.Background()
	p := &principal.Principal{UserID: "u1", RoleID: "clerk"}

	ok, err := checker.Can(ctx, p, ModuleStock, ActionAdjust)
	require.NoError(t, err)
	assert.True(t, ok)

	// Exact match only: a view grant does not imply edit
	ok, err = checker.Can(ctx, p, ModuleStock, ActionEdit)
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = checker.Can(ctx, p, ModuleBudgets, ActionView)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestChecker_Can_FailClosed(t *testing.T) {
	checker := NewChecker(clerkStore())
	ctx := context.Background()

	// Nil principal
	ok, err := checker.Can(ctx, nil, ModuleStock, ActionView)
	require.NoError(t, err)
	assert.False(t, ok)

	// Unknown role
	ok, err = checker.Can(ctx, &principal.Principal{UserID: "u1", RoleID: "ghost"}, ModuleStock, ActionView)
	require.NoError(t, err)
	assert.False(t, ok)

	// Inactive role
	store := clerkStore()
	store.roles["clerk"].IsActive = false
	checker = NewChecker(store)
	ok, err = checker.Can(ctx, &principal.Principal{UserID: "u1", RoleID: "clerk"}, ModuleStock, ActionView)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestChecker_Require(t *testing.T) {
	checker := NewChecker(clerkStore())
	ctx := context.Background()
	p := &principal.Principal{UserID: "u1", RoleID: "clerk"}

	require.NoError(t, checker.Require(ctx, p, ModuleStock, ActionView))

	err := checker.Require(ctx, p, ModuleStock, ActionDelete)
	require.Error(t, err)

	var appErr *errors.AppError
	require.True(t, errors.As(err, &appErr))
	assert.Equal(t, "FORBIDDEN", appErr.Code)
}

func TestChecker_ScopeFilter(t *testing.T) {
	checker := NewChecker(clerkStore())
	ctx := context.Background()
	p := &principal.Principal{UserID: "u1", RoleID: "clerk", DepartmentID: "d1"}

	// Global role, unfiltered grant
	filter, err := checker.ScopeFilter(ctx, p, ModuleStock)
	require.NoError(t, err)
	assert.Equal(t, NoRestriction, filter)

	// Grant-level filter narrows
	filter, err = checker.ScopeFilter(ctx, p, ModuleRequisitions)
	require.NoError(t, err)
	assert.Equal(t, OwnDepartmentOnly, filter)
}

func TestChecker_ScopeFilter_DepartmentRole(t *testing.T) {
	dept := "d1"
	store := &fakeStore{
		roles: map[string]*Role{
			"deptclerk": {ID: "deptclerk", Scope: RoleScopeDepartment, DepartmentID: &dept, IsActive: true},
		},
		grants: map[string][]Grant{
			"deptclerk": {{Module: ModuleStock, Action: ActionView}},
		},
	}
	checker := NewChecker(store)
	p := &principal.Principal{UserID: "u1", RoleID: "deptclerk", DepartmentID: dept}

	// Department-scoped roles are always narrowed, even on unfiltered grants
	filter, err := checker.ScopeFilter(context.Background(), p, ModuleStock)
	require.NoError(t, err)
	assert.Equal(t, OwnDepartmentOnly, filter)
}

func TestChecker_RequireInScope(t *testing.T) {
	dept := "d1"
	store := &fakeStore{
		roles: map[string]*Role{
			"deptclerk": {ID: "deptclerk", Scope: RoleScopeDepartment, DepartmentID: &dept, IsActive: true},
		},
		grants: map[string][]Grant{
			"deptclerk": {{Module: ModuleRequisitions, Action: ActionView}},
		},
	}
	checker := NewChecker(store)
	ctx := context.Background()
	p := &principal.Principal{UserID: "u1", RoleID: "deptclerk", DepartmentID: "d1"}

	require.NoError(t, checker.RequireInScope(ctx, p, ModuleRequisitions, "d1"))

	err := checker.RequireInScope(ctx, p, ModuleRequisitions, "d2")
	require.Error(t, err)

	var appErr *errors.AppError
	require.True(t, errors.As(err, &appErr))
	assert.Equal(t, "FORBIDDEN", appErr.Code)
}

func TestChecker_RequestCache(t *testing.T) {
	store := clerkStore()
	checker := NewChecker(store)
	ctx := WithRequestCache(context.Background())
	p := &principal.Principal{UserID: "u1", RoleID: "clerk"}

	for i := 0; i < 5; i++ {
		_, err := checker.Can(ctx, p, ModuleStock, ActionView)
		require.NoError(t, err)
	}

	assert.Equal(t, 1, store.roleCalls, "cached context should resolve the role once")
}

func TestParseScopeFilter(t *testing.T) {
	assert.Equal(t, NoRestriction, ParseScopeFilter(""))
	assert.Equal(t, NoRestriction, ParseScopeFilter("none"))
	assert.Equal(t, OwnDepartmentOnly, ParseScopeFilter("own_department"))

	// Unknown values must collapse to the most restrictive variant
	assert.Equal(t, OwnDepartmentOnly, ParseScopeFilter("garbage"))
}
