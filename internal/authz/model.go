package authz

import "time"

// Role scope values.
const (
	RoleScopeGlobal     = "global"
	RoleScopeDepartment = "department"
)

// Modules gate-keep groups of operations.
const (
	ModuleItems        = "items"
	ModuleLocations    = "locations"
	ModuleStock        = "stock"
	ModuleRequisitions = "requisitions"
	ModuleIssues       = "issues"
	ModuleReturns      = "returns"
	ModuleBudgets      = "budgets"
	ModuleReports      = "reports"
)

// Actions a role may be granted on a module.
const (
	ActionView        = "view"
	ActionCreate      = "create"
	ActionEdit        = "edit"
	ActionDelete      = "delete"
	ActionAdjust      = "adjust"
	ActionTransfer    = "transfer"
	ActionApprove     = "approve"
	ActionIssue       = "issue"
	ActionReceive     = "receive"
	ActionCancel      = "cancel"
	ActionAcknowledge = "acknowledge"
)

// Role groups permissions under an organizational scope. A department
// scoped role only ever sees its own department's data.
type Role struct {
	ID           string    `db:"id" json:"id"`
	Name         string    `db:"name" json:"name"`
	Scope        string    `db:"scope" json:"scope"`
	DepartmentID *string   `db:"department_id" json:"department_id,omitempty"`
	IsActive     bool      `db:"is_active" json:"is_active"`
	CreatedAt    time.Time `db:"created_at" json:"created_at"`
	UpdatedAt    time.Time `db:"updated_at" json:"updated_at"`
}

// Permission is a (module, action) pair.
type Permission struct {
	ID     string `db:"id" json:"id"`
	Module string `db:"module" json:"module"`
	Action string `db:"action" json:"action"`
}

// Grant is a permission attached to a role, optionally narrowed by a
// scope filter.
type Grant struct {
	Module string      `json:"module"`
	Action string      `json:"action"`
	Filter ScopeFilter `json:"filter"`
}
