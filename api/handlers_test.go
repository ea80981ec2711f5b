package api_test

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/cost-engine/api"
	"github.com/warp/cost-engine/core/store"
)

// =============================================================================
// TEST SETUP
// =============================================================================

type env struct {
	t      *testing.T
	server http.Handler
}

func newEnv(t *testing.T) *env {
	t.Helper()
	return &env{t: t, server: api.NewRouter(api.NewHandler(store.NewMemory()))}
}

// do sends a request as a plain staff caller and decodes the JSON reply.
func (e *env) do(method, path string, body any, out any) int {
	e.t.Helper()
	return e.doAs(method, path, body, out, "")
}

// doAs sends a request with an X-Actor-Role header.
func (e *env) doAs(method, path string, body any, out any, role string) int {
	e.t.Helper()

	var buf bytes.Buffer
	if body != nil {
		require.NoError(e.t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Actor-ID", "tester")
	if role != "" {
		req.Header.Set("X-Actor-Role", role)
	}

	rec := httptest.NewRecorder()
	e.server.ServeHTTP(rec, req)
	if out != nil && rec.Body.Len() > 0 {
		require.NoError(e.t, json.Unmarshal(rec.Body.Bytes(), out))
	}
	return rec.Code
}

// seed creates client-1 / proj-1 (budget 1000) / res-1 (base cost 20).
func (e *env) seed() {
	e.t.Helper()
	code := e.do(http.MethodPost, "/api/clients", map[string]any{"id": "client-1", "name": "Acme"}, nil)
	require.Equal(e.t, http.StatusCreated, code)

	code = e.do(http.MethodPost, "/api/projects", map[string]any{
		"id": "proj-1", "client_id": "client-1", "name": "Platform", "budget": 1000,
	}, nil)
	require.Equal(e.t, http.StatusCreated, code)

	code = e.do(http.MethodPost, "/api/resources", map[string]any{
		"id": "res-1", "name": "Dana", "base_hourly_cost": 20,
	}, nil)
	require.Equal(e.t, http.StatusCreated, code)
}

func (e *env) seedTask(id string, estimated int) {
	e.t.Helper()
	code := e.do(http.MethodPost, "/api/tasks", map[string]any{
		"id": id, "project_id": "proj-1", "resource_id": "res-1",
		"name": "Task " + id, "estimated_minutes": estimated,
	}, nil)
	require.Equal(e.t, http.StatusCreated, code)
}

func (e *env) completeTask(id string, actual int) {
	e.t.Helper()
	code := e.do(http.MethodPost, "/api/tasks/"+id+"/complete",
		map[string]any{"actual_minutes": actual}, nil)
	require.Equal(e.t, http.StatusOK, code)
}

// =============================================================================
// ENTITY CRUD TESTS
// =============================================================================

func TestResourceLifecycle(t *testing.T) {
	e := newEnv(t)

	var created api.ResourceDTO
	code := e.do(http.MethodPost, "/api/resources", map[string]any{
		"name": "Dana", "base_hourly_cost": 22.5,
	}, &created)
	require.Equal(t, http.StatusCreated, code)
	assert.NotEmpty(t, created.ID, "omitted id is generated")
	assert.Equal(t, "22.50", created.BaseHourlyCost)
	assert.Equal(t, float64(1920), created.AnnualHours)
	assert.False(t, created.AnnualOverridden)

	var fetched api.ResourceDTO
	code = e.do(http.MethodGet, "/api/resources/"+created.ID, nil, &fetched)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, created.ID, fetched.ID)

	var list []api.ResourceDTO
	code = e.do(http.MethodGet, "/api/resources", nil, &list)
	require.Equal(t, http.StatusOK, code)
	assert.Len(t, list, 1)

	code = e.do(http.MethodGet, "/api/resources/ghost", nil, nil)
	assert.Equal(t, http.StatusNotFound, code)
}

func TestCreateResource_RejectsNonPositiveCost(t *testing.T) {
	e := newEnv(t)

	code := e.do(http.MethodPost, "/api/resources", map[string]any{
		"name": "Bad", "base_hourly_cost": 0,
	}, nil)
	assert.Equal(t, http.StatusBadRequest, code)
}

func TestCreateResource_OverridesAnnualHours(t *testing.T) {
	e := newEnv(t)

	var created api.ResourceDTO
	code := e.do(http.MethodPost, "/api/resources", map[string]any{
		"name": "Robin", "base_hourly_cost": 20, "annual_hours": 960,
	}, &created)
	require.Equal(t, http.StatusCreated, code)
	assert.Equal(t, float64(960), created.AnnualHours)
	assert.True(t, created.AnnualOverridden)
}

func TestCreateProject_RequiresExistingClient(t *testing.T) {
	e := newEnv(t)

	code := e.do(http.MethodPost, "/api/projects", map[string]any{
		"client_id": "ghost", "name": "Orphan", "budget": 100,
	}, nil)
	assert.Equal(t, http.StatusNotFound, code)
}

// =============================================================================
// TASK COMPLETION TESTS
// =============================================================================

func TestCompleteTask_OnceOnly(t *testing.T) {
	// GIVEN: A scheduled task
	// WHEN: Completing it twice
	// THEN: The first call records actuals, the second conflicts

	e := newEnv(t)
	e.seed()
	e.seedTask("t-1", 120)

	var done api.TaskDTO
	code := e.do(http.MethodPost, "/api/tasks/t-1/complete",
		map[string]any{"actual_minutes": 90}, &done)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "completed", done.Status)
	require.NotNil(t, done.ActualMinutes)
	assert.Equal(t, 90, *done.ActualMinutes)

	code = e.do(http.MethodPost, "/api/tasks/t-1/complete",
		map[string]any{"actual_minutes": 100}, nil)
	assert.Equal(t, http.StatusConflict, code)
}

func TestCompleteTask_Validation(t *testing.T) {
	e := newEnv(t)
	e.seed()
	e.seedTask("t-1", 120)

	code := e.do(http.MethodPost, "/api/tasks/t-1/complete",
		map[string]any{"actual_minutes": 0}, nil)
	assert.Equal(t, http.StatusBadRequest, code)

	code = e.do(http.MethodPost, "/api/tasks/ghost/complete",
		map[string]any{"actual_minutes": 60}, nil)
	assert.Equal(t, http.StatusNotFound, code)
}

// =============================================================================
// MARGIN TESTS
// =============================================================================

func TestPreviewMargin_TogglesAsMap(t *testing.T) {
	// GIVEN: Base cost 20 with the commercial share switched off by name
	// THEN: Final rate drops from 100 to 92; 90 minutes cost 138.00

	e := newEnv(t)

	var preview api.PreviewDTO
	code := e.do(http.MethodPost, "/api/margin/preview", map[string]any{
		"base_hourly_cost": 20,
		"minutes":          90,
		"toggles":          map[string]bool{"commercial": false},
	}, &preview)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "100.00", preview.FullRate)
	assert.Equal(t, "92.00", preview.FinalRate)
	assert.Equal(t, "138.00", preview.TotalCost)
	assert.Len(t, preview.Breakdown, 9)
}

func TestPreviewMargin_TogglesAsArray(t *testing.T) {
	e := newEnv(t)

	all := make([]bool, 9)
	for i := range all {
		all[i] = true
	}
	var preview api.PreviewDTO
	code := e.do(http.MethodPost, "/api/margin/preview", map[string]any{
		"base_hourly_cost": 20, "minutes": 60, "toggles": all,
	}, &preview)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "100.00", preview.FinalRate)

	// A short array is a shape error, not a domain error.
	code = e.do(http.MethodPost, "/api/margin/preview", map[string]any{
		"base_hourly_cost": 20, "minutes": 60, "toggles": []bool{true, false},
	}, nil)
	assert.Equal(t, http.StatusBadRequest, code)

	code = e.do(http.MethodPost, "/api/margin/preview", map[string]any{
		"base_hourly_cost": 20, "minutes": 60,
		"toggles": map[string]bool{"marketing": false},
	}, nil)
	assert.Equal(t, http.StatusBadRequest, code, "unknown component name")
}

func TestCreateAssignment_HoursVariantAndBudget(t *testing.T) {
	// GIVEN: A 1000 budget and the full 100/h rate
	// WHEN: Staff assigns 8 hours, then tries 4 more
	// THEN: The first fits (800), the second breaches and is refused with 422

	e := newEnv(t)
	e.seed()

	var record api.MarginRecordDTO
	code := e.do(http.MethodPost, "/api/assignments", map[string]any{
		"project_id": "proj-1", "resource_id": "res-1", "hours": 8,
	}, &record)
	require.Equal(t, http.StatusCreated, code)
	assert.Equal(t, 480, record.AssignedMinutes)
	assert.Equal(t, "100.00", record.Schedule.FinalRate)

	code = e.do(http.MethodPost, "/api/assignments", map[string]any{
		"project_id": "proj-1", "resource_id": "res-1", "minutes": 240,
	}, nil)
	assert.Equal(t, http.StatusUnprocessableEntity, code)
}

func TestCreateAssignment_ManagerBypassesBudget(t *testing.T) {
	e := newEnv(t)
	e.seed()

	code := e.doAs(http.MethodPost, "/api/assignments", map[string]any{
		"project_id": "proj-1", "resource_id": "res-1", "minutes": 1200,
	}, nil, "manager")
	assert.Equal(t, http.StatusCreated, code)

	var list []api.MarginRecordDTO
	code = e.do(http.MethodGet, "/api/assignments?project_id=proj-1", nil, &list)
	require.Equal(t, http.StatusOK, code)
	assert.Len(t, list, 1)
}

// =============================================================================
// BONUS FLOW TESTS
// =============================================================================

func TestBonusFlow_EvaluateThenDispose(t *testing.T) {
	// GIVEN: A task finished 30 minutes early under the full 100/h rate
	// WHEN: Evaluating and approving
	// THEN: 7.50 pending, then approved; re-disposition conflicts

	e := newEnv(t)
	e.seed()
	e.seedTask("t-1", 120)
	e.completeTask("t-1", 90)

	var record api.BonusRecordDTO
	code := e.do(http.MethodPost, "/api/bonuses/evaluate",
		map[string]any{"task_id": "t-1"}, &record)
	require.Equal(t, http.StatusCreated, code)
	assert.Equal(t, "positive", record.Classification)
	assert.Equal(t, "7.50", record.Amount)
	assert.Equal(t, "pending", record.State)

	code = e.do(http.MethodPost, "/api/bonuses/"+record.ID+"/dispose",
		map[string]any{"action": "approve"}, nil)
	assert.Equal(t, http.StatusForbidden, code, "staff cannot dispose")

	var disposed api.BonusRecordDTO
	code = e.doAs(http.MethodPost, "/api/bonuses/"+record.ID+"/dispose",
		map[string]any{"action": "approve"}, &disposed, "manager")
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "approved", disposed.State)

	code = e.doAs(http.MethodPost, "/api/bonuses/"+record.ID+"/dispose",
		map[string]any{"action": "reject", "comment": "changed my mind"}, nil, "manager")
	assert.Equal(t, http.StatusConflict, code)
}

func TestEvaluateBonus_Preconditions(t *testing.T) {
	e := newEnv(t)
	e.seed()
	e.seedTask("t-open", 120)

	code := e.do(http.MethodPost, "/api/bonuses/evaluate",
		map[string]any{"task_id": "t-open"}, nil)
	assert.Equal(t, http.StatusConflict, code, "incomplete task")

	code = e.do(http.MethodPost, "/api/bonuses/evaluate",
		map[string]any{"task_id": "ghost"}, nil)
	assert.Equal(t, http.StatusNotFound, code)
}

// =============================================================================
// HOUR LEDGER FLOW TESTS
// =============================================================================

func TestRedistributionFlow(t *testing.T) {
	// GIVEN: A source task with a 30-minute surplus
	// WHEN: A manager moves 20 into a fresh task, then cancels
	// THEN: Credit shrinks to 10, the transfer lists, cancel restores 30

	e := newEnv(t)
	e.seed()
	e.seedTask("t-src", 120)
	e.completeTask("t-src", 90)

	body := map[string]any{
		"source_task_id":   "t-src",
		"withdraw_minutes": 20,
		"grant_minutes":    20,
		"dest_project_id":  "proj-1",
		"dest_task_name":   "Carry-over",
		"justification":    "surplus reassigned",
	}

	code := e.do(http.MethodPost, "/api/redistributions", body, nil)
	assert.Equal(t, http.StatusForbidden, code, "staff cannot redistribute")

	var record api.RedistributionDTO
	code = e.doAs(http.MethodPost, "/api/redistributions", body, &record, "manager")
	require.Equal(t, http.StatusCreated, code)
	assert.Equal(t, "proj-1", record.DestProjectID)
	assert.NotEmpty(t, record.DestTaskID)

	var credits []api.CreditPositionDTO
	code = e.do(http.MethodGet, "/api/ledger/credits", nil, &credits)
	require.Equal(t, http.StatusOK, code)
	require.Len(t, credits, 1)
	assert.Equal(t, 10, credits[0].AvailableMinutes)

	// Overdrawing the remaining 10 is a conservation failure.
	over := map[string]any{
		"source_task_id": "t-src", "withdraw_minutes": 15, "grant_minutes": 15,
		"dest_task_id": record.DestTaskID, "justification": "too much",
	}
	code = e.doAs(http.MethodPost, "/api/redistributions", over, nil, "manager")
	assert.Equal(t, http.StatusUnprocessableEntity, code)

	var page api.RedistributionPageDTO
	code = e.do(http.MethodGet, "/api/redistributions?source_task_id=t-src", nil, &page)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, 1, page.Total)

	code = e.do(http.MethodDelete, "/api/redistributions/"+record.ID,
		map[string]any{"reason": "misplanned"}, nil)
	assert.Equal(t, http.StatusForbidden, code)

	var cancelled api.RedistributionDTO
	code = e.doAs(http.MethodDelete, "/api/redistributions/"+record.ID,
		map[string]any{"reason": "misplanned"}, &cancelled, "manager")
	require.Equal(t, http.StatusOK, code)
	assert.True(t, cancelled.Cancelled)

	code = e.do(http.MethodGet, "/api/ledger/credits", nil, &credits)
	require.Equal(t, http.StatusOK, code)
	require.Len(t, credits, 1)
	assert.Equal(t, 30, credits[0].AvailableMinutes)
}

func TestListRedistributions_DateWindow(t *testing.T) {
	// A window that covers today matches the fresh record; a future window
	// does not; garbage dates are a shape error.
	e := newEnv(t)
	e.seed()
	e.seedTask("t-src", 120)
	e.completeTask("t-src", 90)

	code := e.doAs(http.MethodPost, "/api/redistributions", map[string]any{
		"source_task_id": "t-src", "withdraw_minutes": 10, "grant_minutes": 10,
		"dest_project_id": "proj-1", "dest_task_name": "Carry-over",
		"justification": "surplus reassigned",
	}, nil, "manager")
	require.Equal(t, http.StatusCreated, code)

	var page api.RedistributionPageDTO
	code = e.do(http.MethodGet, "/api/redistributions?from=1970-01-01&to=2999-12-31", nil, &page)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, 1, page.Total)

	code = e.do(http.MethodGet, "/api/redistributions?from=2999-01-01", nil, &page)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, 0, page.Total)

	code = e.do(http.MethodGet, "/api/redistributions?from=yesterday", nil, nil)
	assert.Equal(t, http.StatusBadRequest, code)
}

func TestListDebits_ReportsOverruns(t *testing.T) {
	e := newEnv(t)
	e.seed()
	e.seedTask("t-over", 60)
	e.completeTask("t-over", 90)

	var debits []api.DebitPositionDTO
	code := e.do(http.MethodGet, "/api/ledger/debits", nil, &debits)
	require.Equal(t, http.StatusOK, code)
	require.Len(t, debits, 1)
	assert.Equal(t, 30, debits[0].DeficitMinutes)
	assert.Equal(t, 30, debits[0].OutstandingMinutes)
}

// =============================================================================
// CAPACITY / OVERVIEW / AUDIT TESTS
// =============================================================================

func TestGetResourceCapacity(t *testing.T) {
	e := newEnv(t)
	e.seed()

	var report api.CapacityReportDTO
	code := e.do(http.MethodGet, "/api/resources/res-1/capacity?period=month&as_of=2026-08-15", nil, &report)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "month", report.Period)
	assert.Equal(t, "160.00", report.CapacityHours)
	assert.Equal(t, "underutilized", report.Status)

	code = e.do(http.MethodGet, "/api/resources/res-1/capacity?period=fortnight", nil, nil)
	assert.Equal(t, http.StatusBadRequest, code)

	code = e.do(http.MethodGet, "/api/resources/ghost/capacity", nil, nil)
	assert.Equal(t, http.StatusNotFound, code)
}

func TestGetOverview(t *testing.T) {
	e := newEnv(t)
	e.seed()
	e.seedTask("t-1", 120)
	e.completeTask("t-1", 90)

	var ov api.OverviewDTO
	code := e.do(http.MethodGet, "/api/overview?project_id=proj-1", nil, &ov)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, 1, ov.Tasks.Completed)
	assert.Equal(t, 1, ov.Tasks.Positive)
	require.Len(t, ov.Projects, 1)
	// No assignment exists, so the raw base cost of 20/h prices the task.
	assert.Equal(t, "30.00", ov.Projects[0].Consumed)
}

func TestGetOverview_DateWindow(t *testing.T) {
	// GIVEN: A completed task due 2026-08-20
	// WHEN: Asking for August vs September windows
	// THEN: Only the covering window counts the task

	e := newEnv(t)
	e.seed()
	code := e.do(http.MethodPost, "/api/tasks", map[string]any{
		"id": "t-aug", "project_id": "proj-1", "resource_id": "res-1",
		"name": "August task", "estimated_minutes": 120, "due_date": "2026-08-20",
	}, nil)
	require.Equal(t, http.StatusCreated, code)
	e.completeTask("t-aug", 90)

	var ov api.OverviewDTO
	code = e.do(http.MethodGet, "/api/overview?from=2026-08-01&to=2026-08-31", nil, &ov)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, 1, ov.Tasks.Completed)

	code = e.do(http.MethodGet, "/api/overview?from=2026-09-01&to=2026-09-30", nil, &ov)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, 0, ov.Tasks.Completed)

	code = e.do(http.MethodGet, "/api/overview?to=soon", nil, nil)
	assert.Equal(t, http.StatusBadRequest, code)
}

func TestQueryAudit_TracksDispositions(t *testing.T) {
	e := newEnv(t)
	e.seed()
	e.seedTask("t-1", 120)
	e.completeTask("t-1", 90)

	var record api.BonusRecordDTO
	code := e.do(http.MethodPost, "/api/bonuses/evaluate",
		map[string]any{"task_id": "t-1"}, &record)
	require.Equal(t, http.StatusCreated, code)
	code = e.doAs(http.MethodPost, "/api/bonuses/"+record.ID+"/dispose",
		map[string]any{"action": "approve"}, nil, "manager")
	require.Equal(t, http.StatusOK, code)

	var entries []api.AuditEntryDTO
	path := fmt.Sprintf("/api/audit?record_id=%s", record.ID)
	code = e.do(http.MethodGet, path, nil, &entries)
	require.Equal(t, http.StatusOK, code)
	require.NotEmpty(t, entries)

	actions := make(map[string]bool)
	for _, entry := range entries {
		actions[entry.Action] = true
	}
	assert.True(t, actions["bonus_evaluated"])
	assert.True(t, actions["bonus_approved"])
}

func TestHealth(t *testing.T) {
	e := newEnv(t)
	code := e.do(http.MethodGet, "/health", nil, nil)
	assert.Equal(t, http.StatusOK, code)
}
