package requisition

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stockroom/stockroom-backend/internal/authz"
	"github.com/stockroom/stockroom-backend/internal/budget"
	"github.com/stockroom/stockroom-backend/pkg/errors"
	"github.com/stockroom/stockroom-backend/pkg/logger"
	"github.com/stockroom/stockroom-backend/pkg/principal"
	"github.com/stockroom/stockroom-backend/pkg/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubStore struct {
	role   *authz.Role
	grants []authz.Grant
}

func (s *stubStore) GetRole(ctx context.Context, id string) (*authz.Role, error) {
	if s.role == nil || s.role.ID != id {
		return nil, errors.NotFound("role")
	}
	return s.role, nil
}

func (s *stubStore) ListGrants(ctx context.Context, roleID string) ([]authz.Grant, error) {
	return s.grants, nil
}

func approverChecker() *authz.Checker {
	return authz.NewChecker(&stubStore{
		role: &authz.Role{ID: "approver", Scope: authz.RoleScopeGlobal, IsActive: true},
		grants: []authz.Grant{
			{Module: authz.ModuleRequisitions, Action: authz.ActionView},
			{Module: authz.ModuleRequisitions, Action: authz.ActionApprove},
		},
	})
}

func newWorkflowService(mockDB *testutil.MockDB, checker *authz.Checker) *Service {
	log := logger.Discard()
	return NewService(
		mockDB.DB,
		NewRepository(mockDB.DB),
		budget.NewTracker(mockDB.DB),
		nil, // numbering not exercised by workflow transitions
		checker,
		nil,
		nil,
		log,
	)
}

var requisitionTestCols = []string{
	"id", "requisition_number", "department_id", "requester_id", "status", "purpose",
	"urgency", "comments", "total_estimated_cost", "fiscal_year", "requires_l2",
	"l1_approver_id", "l2_approver_id", "budget_reserved",
	"submitted_at", "l1_approved_by", "l1_approved_at", "l2_approved_by", "l2_approved_at",
	"rejected_by", "rejected_at", "rejection_reason", "cancelled_at", "issued_at", "completed_at",
	"created_at", "updated_at",
}

func requisitionRow(status string, requiresL2 bool, total string) *sqlmock.Rows {
	now := time.Now()
	return sqlmock.NewRows(requisitionTestCols).AddRow(
		"req-1", "REQ-2026-000042", "dept-1", "requester-1", status, "replacement gloves",
		UrgencyNormal, nil, total, 2026, requiresL2,
		nil, nil, false,
		nil, nil, nil, nil, nil,
		nil, nil, nil, nil, nil, nil,
		now, now,
	)
}

// reservedRequisitionRow is a requisition whose estimate is already
// reserved against the department budget.
func reservedRequisitionRow(status, total string) *sqlmock.Rows {
	now := time.Now()
	return sqlmock.NewRows(requisitionTestCols).AddRow(
		"req-1", "REQ-2026-000042", "dept-1", "requester-1", status, "replacement gloves",
		UrgencyNormal, nil, total, 2026, false,
		nil, nil, true,
		nil, nil, nil, nil, nil,
		nil, nil, nil, nil, nil, nil,
		now, now,
	)
}

// assignedRequisitionRow pins the level 1 slot to a named approver.
func assignedRequisitionRow(status, l1ApproverID string) *sqlmock.Rows {
	now := time.Now()
	return sqlmock.NewRows(requisitionTestCols).AddRow(
		"req-1", "REQ-2026-000042", "dept-1", "requester-1", status, "replacement gloves",
		UrgencyNormal, nil, "120.00", 2026, false,
		l1ApproverID, nil, false,
		nil, nil, nil, nil, nil,
		nil, nil, nil, nil, nil, nil,
		now, now,
	)
}

var itemCols = []string{"id", "requisition_id", "item_id", "quantity", "estimated_unit_cost", "notes"}

func oneItemRow() *sqlmock.Rows {
	return sqlmock.NewRows(itemCols).AddRow("line-1", "req-1", "item-1", 10, "12.00", nil)
}

var budgetTestCols = []string{
	"id", "department_id", "fiscal_year", "allocated", "available", "reserved",
	"spent", "alert_threshold_pct", "created_at", "updated_at",
}

func budgetTestRow(available string) *sqlmock.Rows {
	now := time.Now()
	return sqlmock.NewRows(budgetTestCols).
		AddRow("bud-1", "dept-1", 2026, "10000", available, "0", "0", "80", now, now)
}

func TestService_Approve_SingleLevelReservesBudget(t *testing.T) {
	mockDB := testutil.NewMockDB(t)
	defer mockDB.Close()

	svc := newWorkflowService(mockDB, approverChecker())
	p := &principal.Principal{UserID: "approver-1", RoleID: "approver", DepartmentID: "dept-1"}
	now := time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)

	mockDB.ExpectBegin()
	mockDB.Mock.ExpectQuery("SELECT").WillReturnRows(requisitionRow(StatusPendingL1, false, "120.00"))
	mockDB.Mock.ExpectQuery("SELECT").WillReturnRows(oneItemRow())
	mockDB.Mock.ExpectQuery("SELECT").WillReturnRows(budgetTestRow("1000"))
	mockDB.ExpectExec("UPDATE department_budgets").WillReturnResult(sqlmock.NewResult(0, 1))
	mockDB.ExpectExec("UPDATE requisitions").WillReturnResult(sqlmock.NewResult(0, 1))
	mockDB.ExpectCommit()

	req, err := svc.Approve(context.Background(), p, "req-1", now)
	require.NoError(t, err)

	assert.Equal(t, StatusApproved, req.Status)
	assert.True(t, req.BudgetReserved)
	require.NotNil(t, req.L1ApprovedBy)
	assert.Equal(t, "approver-1", *req.L1ApprovedBy)
	assert.Equal(t, now, *req.L1ApprovedAt)
	assert.Nil(t, req.L2ApprovedBy)

	mockDB.ExpectationsWereMet(t)
}

func TestService_Approve_TwoLevelStopsAtPendingL2(t *testing.T) {
	mockDB := testutil.NewMockDB(t)
	defer mockDB.Close()

	svc := newWorkflowService(mockDB, approverChecker())
	p := &principal.Principal{UserID: "approver-1", RoleID: "approver", DepartmentID: "dept-1"}
	now := time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)

	// No budget queries until the final level approves
	mockDB.ExpectBegin()
	mockDB.Mock.ExpectQuery("SELECT").WillReturnRows(requisitionRow(StatusPendingL1, true, "120.00"))
	mockDB.Mock.ExpectQuery("SELECT").WillReturnRows(oneItemRow())
	mockDB.ExpectExec("UPDATE requisitions").WillReturnResult(sqlmock.NewResult(0, 1))
	mockDB.ExpectCommit()

	req, err := svc.Approve(context.Background(), p, "req-1", now)
	require.NoError(t, err)

	assert.Equal(t, StatusPendingL2, req.Status)
	assert.False(t, req.BudgetReserved)
	assert.NotNil(t, req.L1ApprovedBy)

	mockDB.ExpectationsWereMet(t)
}

func TestService_Approve_BudgetExceededRollsBack(t *testing.T) {
	mockDB := testutil.NewMockDB(t)
	defer mockDB.Close()

	svc := newWorkflowService(mockDB, approverChecker())
	p := &principal.Principal{UserID: "approver-1", RoleID: "approver", DepartmentID: "dept-1"}
	now := time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)

	mockDB.ExpectBegin()
	mockDB.Mock.ExpectQuery("SELECT").WillReturnRows(requisitionRow(StatusPendingL1, false, "5000"))
	mockDB.Mock.ExpectQuery("SELECT").WillReturnRows(oneItemRow())
	mockDB.Mock.ExpectQuery("SELECT").WillReturnRows(budgetTestRow("100"))
	mockDB.ExpectRollback()

	_, err := svc.Approve(context.Background(), p, "req-1", now)
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrBudgetExceeded))

	mockDB.ExpectationsWereMet(t)
}

func TestService_Approve_DraftIsNotApprovable(t *testing.T) {
	mockDB := testutil.NewMockDB(t)
	defer mockDB.Close()

	svc := newWorkflowService(mockDB, approverChecker())
	p := &principal.Principal{UserID: "approver-1", RoleID: "approver", DepartmentID: "dept-1"}

	mockDB.ExpectBegin()
	mockDB.Mock.ExpectQuery("SELECT").WillReturnRows(requisitionRow(StatusDraft, false, "120.00"))
	mockDB.Mock.ExpectQuery("SELECT").WillReturnRows(oneItemRow())
	mockDB.ExpectRollback()

	_, err := svc.Approve(context.Background(), p, "req-1", time.Now().UTC())
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrInvalidTransition))

	mockDB.ExpectationsWereMet(t)
}

func TestService_Approve_OutsideDepartmentScope(t *testing.T) {
	mockDB := testutil.NewMockDB(t)
	defer mockDB.Close()

	deptChecker := authz.NewChecker(&stubStore{
		role: &authz.Role{ID: "deptlead", Scope: authz.RoleScopeDepartment, IsActive: true},
		grants: []authz.Grant{
			{Module: authz.ModuleRequisitions, Action: authz.ActionApprove},
		},
	})
	svc := newWorkflowService(mockDB, deptChecker)
	p := &principal.Principal{UserID: "lead-2", RoleID: "deptlead", DepartmentID: "dept-2"}

	mockDB.ExpectBegin()
	mockDB.Mock.ExpectQuery("SELECT").WillReturnRows(requisitionRow(StatusPendingL1, false, "120.00"))
	mockDB.Mock.ExpectQuery("SELECT").WillReturnRows(oneItemRow())
	mockDB.ExpectRollback()

	_, err := svc.Approve(context.Background(), p, "req-1", time.Now().UTC())
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrForbidden))

	mockDB.ExpectationsWereMet(t)
}

func TestService_Submit_RequesterOnly(t *testing.T) {
	mockDB := testutil.NewMockDB(t)
	defer mockDB.Close()

	svc := newWorkflowService(mockDB, approverChecker())
	p := &principal.Principal{UserID: "someone-else", RoleID: "approver", DepartmentID: "dept-1"}

	mockDB.ExpectBegin()
	mockDB.Mock.ExpectQuery("SELECT").WillReturnRows(requisitionRow(StatusDraft, false, "120.00"))
	mockDB.Mock.ExpectQuery("SELECT").WillReturnRows(oneItemRow())
	mockDB.ExpectRollback()

	_, err := svc.Submit(context.Background(), p, "req-1", time.Now().UTC())
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrForbidden))

	mockDB.ExpectationsWereMet(t)
}

func TestService_Submit_WarnsWhenEstimateExceedsBudget(t *testing.T) {
	mockDB := testutil.NewMockDB(t)
	defer mockDB.Close()

	svc := newWorkflowService(mockDB, approverChecker())
	p := &principal.Principal{UserID: "requester-1", RoleID: "approver", DepartmentID: "dept-1"}
	now := time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)

	mockDB.ExpectBegin()
	mockDB.Mock.ExpectQuery("SELECT").WillReturnRows(requisitionRow(StatusDraft, false, "5000"))
	mockDB.Mock.ExpectQuery("SELECT").WillReturnRows(oneItemRow())
	mockDB.ExpectExec("UPDATE requisitions").WillReturnResult(sqlmock.NewResult(0, 1))
	mockDB.ExpectCommit()
	// Advisory budget read after commit
	mockDB.Mock.ExpectQuery("SELECT").WillReturnRows(budgetTestRow("100"))

	result, err := svc.Submit(context.Background(), p, "req-1", now)
	require.NoError(t, err)

	assert.Equal(t, StatusPendingL1, result.Requisition.Status)
	assert.Equal(t, now, *result.Requisition.SubmittedAt)
	assert.NotEmpty(t, result.BudgetWarning)

	mockDB.ExpectationsWereMet(t)
}

func TestService_Cancel_FromPending(t *testing.T) {
	mockDB := testutil.NewMockDB(t)
	defer mockDB.Close()

	svc := newWorkflowService(mockDB, approverChecker())
	p := &principal.Principal{UserID: "requester-1", RoleID: "approver", DepartmentID: "dept-1"}
	now := time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)

	mockDB.ExpectBegin()
	mockDB.Mock.ExpectQuery("SELECT").WillReturnRows(requisitionRow(StatusPendingL1, false, "120.00"))
	mockDB.Mock.ExpectQuery("SELECT").WillReturnRows(oneItemRow())
	mockDB.ExpectExec("UPDATE requisitions").WillReturnResult(sqlmock.NewResult(0, 1))
	mockDB.ExpectCommit()

	req, err := svc.Cancel(context.Background(), p, "req-1", now)
	require.NoError(t, err)

	assert.Equal(t, StatusCancelled, req.Status)
	assert.Equal(t, now, *req.CancelledAt)

	mockDB.ExpectationsWereMet(t)
}

func cancelChecker() *authz.Checker {
	return authz.NewChecker(&stubStore{
		role: &authz.Role{ID: "manager", Scope: authz.RoleScopeGlobal, IsActive: true},
		grants: []authz.Grant{
			{Module: authz.ModuleRequisitions, Action: authz.ActionView},
			{Module: authz.ModuleRequisitions, Action: authz.ActionCancel},
		},
	})
}

func TestService_Cancel_IssuedNeedsCancelPermission(t *testing.T) {
	mockDB := testutil.NewMockDB(t)
	defer mockDB.Close()

	// The requester's self-service window ended at approval, and the
	// approver role carries no cancel grant.
	svc := newWorkflowService(mockDB, approverChecker())
	p := &principal.Principal{UserID: "requester-1", RoleID: "approver", DepartmentID: "dept-1"}

	mockDB.ExpectBegin()
	mockDB.Mock.ExpectQuery("SELECT").WillReturnRows(requisitionRow(StatusIssued, false, "120.00"))
	mockDB.Mock.ExpectQuery("SELECT").WillReturnRows(oneItemRow())
	mockDB.ExpectRollback()

	_, err := svc.Cancel(context.Background(), p, "req-1", time.Now().UTC())
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrForbidden))

	mockDB.ExpectationsWereMet(t)
}

func TestService_Cancel_AfterApprovalReleasesReservation(t *testing.T) {
	mockDB := testutil.NewMockDB(t)
	defer mockDB.Close()

	svc := newWorkflowService(mockDB, cancelChecker())
	p := &principal.Principal{UserID: "manager-1", RoleID: "manager", DepartmentID: "dept-1"}
	now := time.Date(2026, 3, 12, 9, 0, 0, 0, time.UTC)

	mockDB.ExpectBegin()
	mockDB.Mock.ExpectQuery("SELECT").WillReturnRows(reservedRequisitionRow(StatusApproved, "120.00"))
	mockDB.Mock.ExpectQuery("SELECT").WillReturnRows(oneItemRow())
	// Reservation handed back under the budget row lock
	mockDB.Mock.ExpectQuery("SELECT").WillReturnRows(budgetTestRow("880"))
	mockDB.ExpectExec("UPDATE department_budgets").WillReturnResult(sqlmock.NewResult(0, 1))
	mockDB.ExpectExec("UPDATE requisitions").WillReturnResult(sqlmock.NewResult(0, 1))
	mockDB.ExpectCommit()

	req, err := svc.Cancel(context.Background(), p, "req-1", now)
	require.NoError(t, err)

	assert.Equal(t, StatusCancelled, req.Status)
	assert.False(t, req.BudgetReserved)
	assert.Equal(t, now, *req.CancelledAt)

	mockDB.ExpectationsWereMet(t)
}

func TestService_Cancel_CompletedIsFinal(t *testing.T) {
	mockDB := testutil.NewMockDB(t)
	defer mockDB.Close()

	svc := newWorkflowService(mockDB, cancelChecker())
	p := &principal.Principal{UserID: "manager-1", RoleID: "manager", DepartmentID: "dept-1"}

	mockDB.ExpectBegin()
	mockDB.Mock.ExpectQuery("SELECT").WillReturnRows(requisitionRow(StatusCompleted, false, "120.00"))
	mockDB.Mock.ExpectQuery("SELECT").WillReturnRows(oneItemRow())
	mockDB.ExpectRollback()

	_, err := svc.Cancel(context.Background(), p, "req-1", time.Now().UTC())
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrInvalidTransition))

	mockDB.ExpectationsWereMet(t)
}

func TestService_Reject_AfterApprovalReleasesReservation(t *testing.T) {
	mockDB := testutil.NewMockDB(t)
	defer mockDB.Close()

	svc := newWorkflowService(mockDB, approverChecker())
	p := &principal.Principal{UserID: "approver-2", RoleID: "approver", DepartmentID: "dept-1"}
	now := time.Date(2026, 3, 12, 9, 0, 0, 0, time.UTC)

	mockDB.ExpectBegin()
	mockDB.Mock.ExpectQuery("SELECT").WillReturnRows(reservedRequisitionRow(StatusApproved, "120.00"))
	mockDB.Mock.ExpectQuery("SELECT").WillReturnRows(oneItemRow())
	mockDB.Mock.ExpectQuery("SELECT").WillReturnRows(budgetTestRow("880"))
	mockDB.ExpectExec("UPDATE department_budgets").WillReturnResult(sqlmock.NewResult(0, 1))
	mockDB.ExpectExec("UPDATE requisitions").WillReturnResult(sqlmock.NewResult(0, 1))
	mockDB.ExpectCommit()

	req, err := svc.Reject(context.Background(), p, "req-1", "supplier discontinued the item", now)
	require.NoError(t, err)

	assert.Equal(t, StatusRejected, req.Status)
	assert.False(t, req.BudgetReserved)
	require.NotNil(t, req.RejectedBy)
	assert.Equal(t, "approver-2", *req.RejectedBy)

	mockDB.ExpectationsWereMet(t)
}

func TestService_Approve_NamedApproverMismatch(t *testing.T) {
	mockDB := testutil.NewMockDB(t)
	defer mockDB.Close()

	svc := newWorkflowService(mockDB, approverChecker())
	p := &principal.Principal{UserID: "approver-1", RoleID: "approver", DepartmentID: "dept-1"}

	mockDB.ExpectBegin()
	mockDB.Mock.ExpectQuery("SELECT").WillReturnRows(assignedRequisitionRow(StatusPendingL1, "named-approver-9"))
	mockDB.Mock.ExpectQuery("SELECT").WillReturnRows(oneItemRow())
	mockDB.ExpectRollback()

	_, err := svc.Approve(context.Background(), p, "req-1", time.Now().UTC())
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrForbidden))

	mockDB.ExpectationsWereMet(t)
}

func TestService_Approve_NamedApproverMatches(t *testing.T) {
	mockDB := testutil.NewMockDB(t)
	defer mockDB.Close()

	svc := newWorkflowService(mockDB, approverChecker())
	p := &principal.Principal{UserID: "named-approver-9", RoleID: "approver", DepartmentID: "dept-1"}
	now := time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)

	mockDB.ExpectBegin()
	mockDB.Mock.ExpectQuery("SELECT").WillReturnRows(assignedRequisitionRow(StatusPendingL1, "named-approver-9"))
	mockDB.Mock.ExpectQuery("SELECT").WillReturnRows(oneItemRow())
	mockDB.Mock.ExpectQuery("SELECT").WillReturnRows(budgetTestRow("1000"))
	mockDB.ExpectExec("UPDATE department_budgets").WillReturnResult(sqlmock.NewResult(0, 1))
	mockDB.ExpectExec("UPDATE requisitions").WillReturnResult(sqlmock.NewResult(0, 1))
	mockDB.ExpectCommit()

	req, err := svc.Approve(context.Background(), p, "req-1", now)
	require.NoError(t, err)

	assert.Equal(t, StatusApproved, req.Status)
	require.NotNil(t, req.L1ApprovedBy)
	assert.Equal(t, "named-approver-9", *req.L1ApprovedBy)

	mockDB.ExpectationsWereMet(t)
}
