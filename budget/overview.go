/*
Package budget composes the read-side rollups: completed-task costs joined
against assigned budgets, bonus totals by approval state, per-resource
utilization and per-project/per-client budget consumption.

PURE COMPOSITION:
  Nothing here is cached or persisted. Every Overview call recomputes from
  current store state, trading CPU for consistency the same way the
  hour-ledger position fold does.

COSTING:
  A completed task is priced at its resource's project-specific final rate
  (the margin record snapshot for the project/resource pair). When the pair
  was never assigned, the resource's raw base cost applies - the same
  fallback the penalty tier of the bonus evaluator uses.

FLAGS:
  over-budget  when consumed >  budget
  near-budget  when consumed >= budget * 0.9
*/
package budget

import (
	"context"
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"github.com/warp/cost-engine/capacity"
	"github.com/warp/cost-engine/core"
	"github.com/warp/cost-engine/margin"
)

// Filter narrows the rollup. Zero values mean "no constraint".
type Filter struct {
	ClientID   core.ClientID
	ProjectID  core.ProjectID
	ResourceID core.ResourceID
	From       *time.Time
	To         *time.Time
}

// =============================================================================
// ROLLUP SHAPES
// =============================================================================

// TaskTotals counts completed tasks by performance classification and sums
// their minute figures.
type TaskTotals struct {
	Completed        int
	Positive         int
	Zero             int
	Negative         int
	EstimatedMinutes core.Minutes
	ActualMinutes    core.Minutes
}

// BonusTotals sums bonus amounts per approval state.
type BonusTotals struct {
	Pending  core.Money
	Approved core.Money
	Rejected core.Money
}

// ResourceUtilization is the monthly utilization snapshot of one resource.
type ResourceUtilization struct {
	ResourceID     core.ResourceID
	Name           string
	UtilizationPct decimal.Decimal
	Status         capacity.Status
}

// ProjectBudget is one project's consumed-vs-budget line.
type ProjectBudget struct {
	ProjectID  core.ProjectID
	Name       string
	Budget     core.Money
	Consumed   core.Money
	Remaining  core.Money
	OverBudget bool
	NearBudget bool
}

// ClientBudget aggregates a client's projects.
type ClientBudget struct {
	ClientID   core.ClientID
	Name       string
	Budget     core.Money
	Consumed   core.Money
	Remaining  core.Money
	OverBudget bool
	NearBudget bool
}

// Overview is the full rollup for one filter set.
type Overview struct {
	Tasks     TaskTotals
	Bonuses   BonusTotals
	Resources []ResourceUtilization
	Projects  []ProjectBudget
	Clients   []ClientBudget
}

var nearBudgetRatio = decimal.NewFromFloat(0.9)

// =============================================================================
// AGGREGATOR
// =============================================================================

// Aggregator reads everything, writes nothing.
type Aggregator struct {
	store    core.Store
	capacity *capacity.Service
}

func NewAggregator(store core.Store, cap *capacity.Service) *Aggregator {
	return &Aggregator{store: store, capacity: cap}
}

// Overview recomputes the rollup live for the given filter.
func (a *Aggregator) Overview(ctx context.Context, filter Filter) (*Overview, error) {
	projects, err := a.projectScope(ctx, filter)
	if err != nil {
		return nil, err
	}
	projectByID := make(map[core.ProjectID]core.Project, len(projects))
	for _, p := range projects {
		projectByID[p.ID] = p
	}

	tasks, err := a.store.ListTasks(ctx, core.TaskFilter{
		ResourceID: filter.ResourceID,
		ProjectID:  filter.ProjectID,
		ClientID:   filter.ClientID,
		DueFrom:    filter.From,
		DueTo:      filter.To,
	})
	if err != nil {
		return nil, err
	}

	ov := &Overview{}
	inScope := make(map[core.TaskID]bool, len(tasks))
	consumedByProject := make(map[core.ProjectID]core.Money)
	resourceIDs := make(map[core.ResourceID]bool)

	for _, t := range tasks {
		inScope[t.ID] = true
		resourceIDs[t.ResourceID] = true

		variance, ok := t.Variance()
		if !ok {
			continue
		}

		ov.Tasks.Completed++
		ov.Tasks.EstimatedMinutes += t.EstimatedMinutes
		ov.Tasks.ActualMinutes += *t.ActualMinutes
		switch {
		case variance > 0:
			ov.Tasks.Positive++
		case variance == 0:
			ov.Tasks.Zero++
		default:
			ov.Tasks.Negative++
		}

		rate, err := a.finalRate(ctx, t.ProjectID, t.ResourceID)
		if err != nil {
			return nil, err
		}
		cost := rate.PerHourCost(*t.ActualMinutes)
		consumedByProject[t.ProjectID] = consumedByProject[t.ProjectID].Add(cost)
	}

	if err := a.sumBonuses(ctx, inScope, ov); err != nil {
		return nil, err
	}
	if err := a.rollupBudgets(ctx, projects, consumedByProject, ov); err != nil {
		return nil, err
	}
	if err := a.rollupUtilization(ctx, resourceIDs, ov); err != nil {
		return nil, err
	}
	return ov, nil
}

// projectScope resolves which projects the filter covers.
func (a *Aggregator) projectScope(ctx context.Context, filter Filter) ([]core.Project, error) {
	if filter.ProjectID != "" {
		p, err := a.store.GetProject(ctx, filter.ProjectID)
		if err != nil {
			return nil, err
		}
		if p == nil {
			return nil, core.ErrProjectNotFound
		}
		return []core.Project{*p}, nil
	}
	return a.store.ListProjects(ctx, filter.ClientID)
}

// finalRate is the project-specific blended rate with raw-base-cost
// fallback.
func (a *Aggregator) finalRate(ctx context.Context, projectID core.ProjectID, resourceID core.ResourceID) (core.Money, error) {
	m, err := a.store.GetMarginRecord(ctx, projectID, resourceID)
	if err != nil {
		return core.Money{}, err
	}
	if m != nil {
		schedule, err := margin.RecordRates(*m)
		if err != nil {
			return core.Money{}, err
		}
		return schedule.FinalRate, nil
	}

	resource, err := a.store.GetResource(ctx, resourceID)
	if err != nil {
		return core.Money{}, err
	}
	if resource == nil {
		return core.Money{}, core.ErrResourceNotFound
	}
	return resource.BaseHourlyCost, nil
}

func (a *Aggregator) sumBonuses(ctx context.Context, inScope map[core.TaskID]bool, ov *Overview) error {
	records, err := a.store.ListBonusRecords(ctx, core.BonusFilter{})
	if err != nil {
		return err
	}
	for _, b := range records {
		if !inScope[b.TaskID] {
			continue
		}
		switch b.State {
		case core.BonusPending:
			ov.Bonuses.Pending = ov.Bonuses.Pending.Add(b.Amount)
		case core.BonusApproved:
			ov.Bonuses.Approved = ov.Bonuses.Approved.Add(b.Amount)
		case core.BonusRejected:
			ov.Bonuses.Rejected = ov.Bonuses.Rejected.Add(b.Amount)
		}
	}
	return nil
}

func (a *Aggregator) rollupBudgets(ctx context.Context, projects []core.Project, consumed map[core.ProjectID]core.Money, ov *Overview) error {
	clientAgg := make(map[core.ClientID]*ClientBudget)
	var clientOrder []core.ClientID

	for _, p := range projects {
		c := consumed[p.ID]
		ov.Projects = append(ov.Projects, ProjectBudget{
			ProjectID:  p.ID,
			Name:       p.Name,
			Budget:     p.Budget,
			Consumed:   c,
			Remaining:  p.Budget.Sub(c),
			OverBudget: c.GreaterThan(p.Budget),
			NearBudget: p.Budget.IsPositive() && !c.LessThan(p.Budget.Mul(nearBudgetRatio)),
		})

		cb, ok := clientAgg[p.ClientID]
		if !ok {
			cb = &ClientBudget{ClientID: p.ClientID}
			clientAgg[p.ClientID] = cb
			clientOrder = append(clientOrder, p.ClientID)
		}
		cb.Budget = cb.Budget.Add(p.Budget)
		cb.Consumed = cb.Consumed.Add(c)
	}

	for _, id := range clientOrder {
		cb := clientAgg[id]
		if client, err := a.store.GetClient(ctx, id); err != nil {
			return err
		} else if client != nil {
			cb.Name = client.Name
		}
		cb.Remaining = cb.Budget.Sub(cb.Consumed)
		cb.OverBudget = cb.Consumed.GreaterThan(cb.Budget)
		cb.NearBudget = cb.Budget.IsPositive() && !cb.Consumed.LessThan(cb.Budget.Mul(nearBudgetRatio))
		ov.Clients = append(ov.Clients, *cb)
	}
	return nil
}

func (a *Aggregator) rollupUtilization(ctx context.Context, resourceIDs map[core.ResourceID]bool, ov *Overview) error {
	ids := make([]core.ResourceID, 0, len(resourceIDs))
	for id := range resourceIDs {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	now := time.Now().UTC()
	for _, id := range ids {
		resource, err := a.store.GetResource(ctx, id)
		if err != nil {
			return err
		}
		if resource == nil {
			continue
		}
		report, err := a.capacity.GetCapacity(ctx, id, capacity.PeriodMonth, now)
		if err != nil {
			return err
		}
		ov.Resources = append(ov.Resources, ResourceUtilization{
			ResourceID:     id,
			Name:           resource.Name,
			UtilizationPct: report.UtilizationPct,
			Status:         report.Status,
		})
	}
	return nil
}
