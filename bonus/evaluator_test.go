package bonus_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/cost-engine/bonus"
	"github.com/warp/cost-engine/core"
	"github.com/warp/cost-engine/core/store"
	"github.com/warp/cost-engine/margin"
)

// =============================================================================
// TEST SETUP
// =============================================================================

var (
	staff   = core.Actor{ID: "staff-1", Role: core.RoleStaff}
	manager = core.Actor{ID: "mgr-1", Role: core.RoleManager}
)

type fixture struct {
	svc *bonus.Service
	mem *store.Memory
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	mem := store.NewMemory()
	ctx := context.Background()

	require.NoError(t, mem.SaveClient(ctx, core.Client{ID: "client-1", Name: "Acme", CreatedAt: time.Now()}))
	require.NoError(t, mem.SaveProject(ctx, core.Project{
		ID: "proj-1", ClientID: "client-1", Name: "Rollout",
		Budget: core.MustParseMoney("100000"), CreatedAt: time.Now(),
	}))
	require.NoError(t, mem.SaveResource(ctx, core.Resource{
		ID: "res-1", Name: "Dana",
		BaseHourlyCost: core.MustParseMoney("20"), CostOverridden: true,
		CreatedAt: time.Now(),
	}))

	return fixture{svc: bonus.NewService(mem), mem: mem}
}

// completedTask stores a completed task with the given estimate and actual.
func (f fixture) completedTask(t *testing.T, id core.TaskID, estimated, actual core.Minutes) {
	t.Helper()
	a := actual
	require.NoError(t, f.mem.SaveTask(context.Background(), core.Task{
		ID: id, ProjectID: "proj-1", ResourceID: "res-1", Name: "Task " + string(id),
		EstimatedMinutes: estimated, ActualMinutes: &a,
		Status: core.TaskCompleted, CreatedAt: time.Now(),
	}))
}

// assignWithToggles stores a margin record for proj-1/res-1.
func (f fixture) assignWithToggles(t *testing.T, toggles [margin.ComponentCount]bool) {
	t.Helper()
	require.NoError(t, f.mem.SaveMarginRecord(context.Background(), core.MarginRecord{
		ID: "mr-1", ProjectID: "proj-1", ResourceID: "res-1",
		BaseHourlyCost: core.MustParseMoney("20"), AssignedMinutes: 600,
		Toggles: toggles, CreatedAt: time.Now(),
	}))
}

func disableComponent(t *testing.T, name string) [margin.ComponentCount]bool {
	t.Helper()
	toggles := margin.AllEnabled()
	for i, n := range margin.ComponentNames() {
		if n == name {
			toggles[i] = false
			return toggles
		}
	}
	t.Fatalf("unknown component %q", name)
	return toggles
}

// =============================================================================
// TIER TESTS
// =============================================================================

func TestEvaluate_PositiveVariance(t *testing.T) {
	// GIVEN: Task estimated 120 min, done in 90, base cost 20 (full rate 100)
	// WHEN: Evaluating
	// THEN: positive, 5% of (100 * 90/60) = 7.50, pending

	f := newFixture(t)
	f.completedTask(t, "task-1", 120, 90)

	record, err := f.svc.Evaluate(context.Background(), staff, "task-1")
	require.NoError(t, err)

	assert.Equal(t, core.BonusPositive, record.Classification)
	assert.Equal(t, core.Minutes(30), record.VarianceMinutes)
	assert.Equal(t, "7.50", record.Amount.String())
	assert.Equal(t, core.BonusPending, record.State)
}

func TestEvaluate_ZeroVariance(t *testing.T) {
	// GIVEN: Estimated 120, actual 120
	// THEN: zero classification, 2.5% of (100 * 120/60) = 5.00

	f := newFixture(t)
	f.completedTask(t, "task-1", 120, 120)

	record, err := f.svc.Evaluate(context.Background(), staff, "task-1")
	require.NoError(t, err)

	assert.Equal(t, core.BonusZero, record.Classification)
	assert.Equal(t, core.Minutes(0), record.VarianceMinutes)
	assert.Equal(t, "5.00", record.Amount.String())
}

func TestEvaluate_NegativeVarianceAtProjectFinalRate(t *testing.T) {
	// GIVEN: Estimated 120, actual 150, project assignment with the
	//        professional_costs share off (final rate 80)
	// THEN: negative, amount is -(80 * 30/60) = -40.00

	f := newFixture(t)
	f.completedTask(t, "task-1", 120, 150)
	f.assignWithToggles(t, disableComponent(t, "professional_costs"))

	record, err := f.svc.Evaluate(context.Background(), staff, "task-1")
	require.NoError(t, err)

	assert.Equal(t, core.BonusNegative, record.Classification)
	assert.Equal(t, core.Minutes(-30), record.VarianceMinutes)
	assert.Equal(t, "-40.00", record.Amount.String())
	assert.True(t, record.Amount.IsNegative(), "penalty amount carries the sign")
}

func TestEvaluate_NegativeVarianceFallsBackToBaseCost(t *testing.T) {
	// GIVEN: No margin record for the project/resource pair
	// THEN: The overrun is priced at the raw base cost: -(20 * 30/60) = -10.00

	f := newFixture(t)
	f.completedTask(t, "task-1", 120, 150)

	record, err := f.svc.Evaluate(context.Background(), staff, "task-1")
	require.NoError(t, err)

	assert.Equal(t, "-10.00", record.Amount.String())
}

// =============================================================================
// PRECONDITION TESTS
// =============================================================================

func TestEvaluate_Preconditions(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	// Missing task
	_, err := f.svc.Evaluate(ctx, staff, "missing")
	assert.ErrorIs(t, err, core.ErrTaskNotFound)

	// Not completed
	require.NoError(t, f.mem.SaveTask(ctx, core.Task{
		ID: "open", ProjectID: "proj-1", ResourceID: "res-1",
		EstimatedMinutes: 60, Status: core.TaskInProgress, CreatedAt: time.Now(),
	}))
	_, err = f.svc.Evaluate(ctx, staff, "open")
	assert.ErrorIs(t, err, core.ErrTaskNotCompleted)

	// Completed but no actual minutes recorded
	require.NoError(t, f.mem.SaveTask(ctx, core.Task{
		ID: "no-actual", ProjectID: "proj-1", ResourceID: "res-1",
		EstimatedMinutes: 60, Status: core.TaskCompleted, CreatedAt: time.Now(),
	}))
	_, err = f.svc.Evaluate(ctx, staff, "no-actual")
	assert.ErrorIs(t, err, core.ErrMissingActualTime)
}

func TestEvaluate_OnceOnly(t *testing.T) {
	// GIVEN: A task already evaluated
	// WHEN: Evaluating again
	// THEN: ErrAlreadyEvaluated, and only one record exists

	f := newFixture(t)
	f.completedTask(t, "task-1", 120, 90)
	ctx := context.Background()

	_, err := f.svc.Evaluate(ctx, staff, "task-1")
	require.NoError(t, err)

	_, err = f.svc.Evaluate(ctx, staff, "task-1")
	assert.ErrorIs(t, err, core.ErrAlreadyEvaluated)
	assert.True(t, core.IsState(err))

	records, err := f.mem.ListBonusRecords(ctx, core.BonusFilter{})
	require.NoError(t, err)
	assert.Len(t, records, 1)
}
