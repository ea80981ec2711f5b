package budget_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/cost-engine/budget"
	"github.com/warp/cost-engine/capacity"
	"github.com/warp/cost-engine/core"
	"github.com/warp/cost-engine/core/store"
	"github.com/warp/cost-engine/margin"
)

// =============================================================================
// TEST SETUP
// =============================================================================

type fixture struct {
	agg *budget.Aggregator
	mem *store.Memory
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	mem := store.NewMemory()
	ctx := context.Background()

	require.NoError(t, mem.SaveClient(ctx, core.Client{ID: "client-1", Name: "Acme", CreatedAt: time.Now()}))
	require.NoError(t, mem.SaveProject(ctx, core.Project{
		ID: "proj-1", ClientID: "client-1", Name: "Platform",
		Budget: core.MustParseMoney("1000"), CreatedAt: time.Now(),
	}))
	require.NoError(t, mem.SaveResource(ctx, core.Resource{
		ID: "res-1", Name: "Dana",
		BaseHourlyCost: core.MustParseMoney("20"), CostOverridden: true,
		CreatedAt: time.Now(),
	}))

	return fixture{
		agg: budget.NewAggregator(mem, capacity.NewService(mem)),
		mem: mem,
	}
}

func (f fixture) completedTask(t *testing.T, id core.TaskID, project core.ProjectID, estimated, actual core.Minutes) {
	t.Helper()
	a := actual
	require.NoError(t, f.mem.SaveTask(context.Background(), core.Task{
		ID: id, ProjectID: project, ResourceID: "res-1", Name: "Task " + string(id),
		EstimatedMinutes: estimated, ActualMinutes: &a,
		Status: core.TaskCompleted, CreatedAt: time.Now(),
	}))
}

func (f fixture) marginRecord(t *testing.T, project core.ProjectID, toggles [9]bool) {
	t.Helper()
	require.NoError(t, f.mem.SaveMarginRecord(context.Background(), core.MarginRecord{
		ID: core.MarginRecordID("m-" + string(project)), ProjectID: project, ResourceID: "res-1",
		BaseHourlyCost: core.MustParseMoney("20"), AssignedMinutes: 600,
		Toggles: toggles, CreatedAt: time.Now(),
	}))
}

func togglesWithout(t *testing.T, name string) [9]bool {
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
// TASK TOTALS
// =============================================================================

func TestOverview_ClassifiesCompletedTasks(t *testing.T) {
	// GIVEN: One early finish, one exact finish, one overrun, one open task
	// WHEN: Building the overview
	// THEN: Counts land in the right buckets; the open task stays out

	f := newFixture(t)
	f.marginRecord(t, "proj-1", margin.AllEnabled())
	f.completedTask(t, "t-pos", "proj-1", 120, 90)
	f.completedTask(t, "t-zero", "proj-1", 60, 60)
	f.completedTask(t, "t-neg", "proj-1", 60, 90)
	require.NoError(t, f.mem.SaveTask(context.Background(), core.Task{
		ID: "t-open", ProjectID: "proj-1", ResourceID: "res-1", Name: "open",
		EstimatedMinutes: 60, Status: core.TaskScheduled, CreatedAt: time.Now(),
	}))

	ov, err := f.agg.Overview(context.Background(), budget.Filter{})
	require.NoError(t, err)

	assert.Equal(t, 3, ov.Tasks.Completed)
	assert.Equal(t, 1, ov.Tasks.Positive)
	assert.Equal(t, 1, ov.Tasks.Zero)
	assert.Equal(t, 1, ov.Tasks.Negative)
	assert.Equal(t, core.Minutes(240), ov.Tasks.EstimatedMinutes)
	assert.Equal(t, core.Minutes(240), ov.Tasks.ActualMinutes)
}

// =============================================================================
// BUDGET CONSUMPTION
// =============================================================================

func TestOverview_ConsumesAtFinalRate(t *testing.T) {
	// GIVEN: An assignment with professional_costs disabled (final rate 80)
	//        and a completed task of 90 actual minutes
	// THEN: Consumed is 80 * 1.5h = 120.00

	f := newFixture(t)
	f.marginRecord(t, "proj-1", togglesWithout(t, "professional_costs"))
	f.completedTask(t, "t-1", "proj-1", 120, 90)

	ov, err := f.agg.Overview(context.Background(), budget.Filter{})
	require.NoError(t, err)

	require.Len(t, ov.Projects, 1)
	assert.Equal(t, "120.00", ov.Projects[0].Consumed.String())
	assert.Equal(t, "880.00", ov.Projects[0].Remaining.String())
	assert.False(t, ov.Projects[0].OverBudget)
	assert.False(t, ov.Projects[0].NearBudget)
}

func TestOverview_FallsBackToBaseCostWithoutAssignment(t *testing.T) {
	// No margin record for the pair, so 90 minutes cost 20 * 1.5h = 30.00.
	f := newFixture(t)
	f.completedTask(t, "t-1", "proj-1", 120, 90)

	ov, err := f.agg.Overview(context.Background(), budget.Filter{})
	require.NoError(t, err)

	require.Len(t, ov.Projects, 1)
	assert.Equal(t, "30.00", ov.Projects[0].Consumed.String())
}

func TestOverview_BudgetFlags(t *testing.T) {
	// Full rate 100/h against a 1000 budget: 9 hours is the near-budget
	// edge, 11 pushes over.
	f := newFixture(t)
	f.marginRecord(t, "proj-1", margin.AllEnabled())

	f.completedTask(t, "t-1", "proj-1", 600, core.Minutes(9*60))
	ov, err := f.agg.Overview(context.Background(), budget.Filter{})
	require.NoError(t, err)
	assert.Equal(t, "900.00", ov.Projects[0].Consumed.String())
	assert.True(t, ov.Projects[0].NearBudget)
	assert.False(t, ov.Projects[0].OverBudget)

	f.completedTask(t, "t-2", "proj-1", 120, core.Minutes(2*60))
	ov, err = f.agg.Overview(context.Background(), budget.Filter{})
	require.NoError(t, err)
	assert.Equal(t, "1100.00", ov.Projects[0].Consumed.String())
	assert.True(t, ov.Projects[0].OverBudget)
	assert.True(t, ov.Projects[0].NearBudget)
	assert.Equal(t, "-100.00", ov.Projects[0].Remaining.String())
}

func TestOverview_ClientRollupSumsProjects(t *testing.T) {
	// GIVEN: Two projects under one client, one consuming at the full rate
	// THEN: The client line carries the summed budget and consumption

	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.mem.SaveProject(ctx, core.Project{
		ID: "proj-2", ClientID: "client-1", Name: "Mobile",
		Budget: core.MustParseMoney("500"), CreatedAt: time.Now(),
	}))
	f.marginRecord(t, "proj-1", margin.AllEnabled())
	f.completedTask(t, "t-1", "proj-1", 600, core.Minutes(6*60)) // 600.00

	ov, err := f.agg.Overview(ctx, budget.Filter{})
	require.NoError(t, err)

	require.Len(t, ov.Projects, 2)
	require.Len(t, ov.Clients, 1)
	client := ov.Clients[0]
	assert.Equal(t, core.ClientID("client-1"), client.ClientID)
	assert.Equal(t, "Acme", client.Name)
	assert.Equal(t, "1500.00", client.Budget.String())
	assert.Equal(t, "600.00", client.Consumed.String())
	assert.Equal(t, "900.00", client.Remaining.String())
	assert.False(t, client.OverBudget)
	assert.False(t, client.NearBudget)
}

// =============================================================================
// BONUS TOTALS
// =============================================================================

func TestOverview_BonusSumsPerStateAndScope(t *testing.T) {
	// GIVEN: Bonuses in three states, one tied to an out-of-scope task
	// WHEN: Filtering to proj-1
	// THEN: Only in-scope amounts are summed, grouped by state

	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.mem.SaveProject(ctx, core.Project{
		ID: "proj-2", ClientID: "client-1", Name: "Mobile",
		Budget: core.MustParseMoney("500"), CreatedAt: time.Now(),
	}))
	f.completedTask(t, "t-a", "proj-1", 120, 90)
	f.completedTask(t, "t-b", "proj-1", 120, 120)
	f.completedTask(t, "t-c", "proj-2", 120, 90)

	saveBonus := func(id core.BonusRecordID, task core.TaskID, amount string, state core.BonusState) {
		require.NoError(t, f.mem.SaveBonusRecord(ctx, core.BonusRecord{
			ID: id, TaskID: task, Classification: core.BonusPositive,
			Amount: core.MustParseMoney(amount), State: state, CreatedAt: time.Now(),
		}))
	}
	saveBonus("b-1", "t-a", "7.50", core.BonusPending)
	saveBonus("b-2", "t-b", "5.00", core.BonusApproved)
	saveBonus("b-3", "t-c", "7.50", core.BonusApproved)

	ov, err := f.agg.Overview(ctx, budget.Filter{ProjectID: "proj-1"})
	require.NoError(t, err)

	assert.Equal(t, "7.50", ov.Bonuses.Pending.String())
	assert.Equal(t, "5.00", ov.Bonuses.Approved.String())
	assert.Equal(t, "0.00", ov.Bonuses.Rejected.String())
}

// =============================================================================
// UTILIZATION + SCOPING
// =============================================================================

func TestOverview_ReportsResourceUtilization(t *testing.T) {
	f := newFixture(t)
	f.completedTask(t, "t-1", "proj-1", 120, 90)

	ov, err := f.agg.Overview(context.Background(), budget.Filter{})
	require.NoError(t, err)

	require.Len(t, ov.Resources, 1)
	assert.Equal(t, core.ResourceID("res-1"), ov.Resources[0].ResourceID)
	assert.Equal(t, "Dana", ov.Resources[0].Name)
	// Nothing is due this month, so the resource sits idle.
	assert.Equal(t, capacity.StatusUnderutilized, ov.Resources[0].Status)
}

func TestOverview_ResourceOrderIsStable(t *testing.T) {
	// Utilization lines come out sorted by resource ID, identical run to run.
	f := newFixture(t)
	ctx := context.Background()

	for _, id := range []core.ResourceID{"res-z", "res-a", "res-m"} {
		require.NoError(t, f.mem.SaveResource(ctx, core.Resource{
			ID: id, Name: string(id),
			BaseHourlyCost: core.MustParseMoney("20"), CostOverridden: true,
			CreatedAt: time.Now(),
		}))
		a := core.Minutes(60)
		require.NoError(t, f.mem.SaveTask(ctx, core.Task{
			ID: core.TaskID("t-" + string(id)), ProjectID: "proj-1", ResourceID: id,
			Name: "work", EstimatedMinutes: 60, ActualMinutes: &a,
			Status: core.TaskCompleted, CreatedAt: time.Now(),
		}))
	}

	want := []core.ResourceID{"res-a", "res-m", "res-z"}
	for run := 0; run < 3; run++ {
		ov, err := f.agg.Overview(ctx, budget.Filter{})
		require.NoError(t, err)
		require.Len(t, ov.Resources, 3)
		for i, id := range want {
			assert.Equal(t, id, ov.Resources[i].ResourceID, "run %d position %d", run, i)
		}
	}
}

func TestOverview_UnknownProjectFilter(t *testing.T) {
	f := newFixture(t)

	_, err := f.agg.Overview(context.Background(), budget.Filter{ProjectID: "ghost"})
	assert.ErrorIs(t, err, core.ErrProjectNotFound)
}

func TestOverview_EmptyStore(t *testing.T) {
	agg := budget.NewAggregator(store.NewMemory(), capacity.NewService(store.NewMemory()))

	ov, err := agg.Overview(context.Background(), budget.Filter{})
	require.NoError(t, err)
	assert.Equal(t, 0, ov.Tasks.Completed)
	assert.Empty(t, ov.Projects)
	assert.Empty(t, ov.Clients)
	assert.Empty(t, ov.Resources)
}
