/*
assign.go - Resource-to-project assignment with budget guard

PURPOSE:
  Persists a MarginRecord snapshotting the resource's base cost, the minute
  allotment and the toggle set at assignment time. The snapshot is what the
  bonus evaluator and the budget aggregator price against later, so a base
  cost change on the resource never rewrites history.

BUDGET GUARD:
  The committed cost of the new assignment (final rate x minutes/60) must
  fit inside the project's remaining budget: budget minus the committed
  cost of every existing assignment on the project. Managers bypass the
  guard; staff callers get a BudgetExceededError.
*/
package margin

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/warp/cost-engine/core"
)

var log = slog.Default().With(slog.String("layer", "margin"))

// AssignService persists resource-to-project assignments.
type AssignService struct {
	store core.TxStore
}

func NewAssignService(store core.TxStore) *AssignService {
	return &AssignService{store: store}
}

// Assign links a resource to a project with the given minute allotment and
// toggle set. The whole operation runs in one unit of work: the budget
// check reads are consistent with the insert that follows.
func (s *AssignService) Assign(ctx context.Context, actor core.Actor, projectID core.ProjectID, resourceID core.ResourceID, minutes core.Minutes, toggles [ComponentCount]bool) (*core.MarginRecord, error) {
	if minutes <= 0 {
		return nil, core.ErrInvalidMinutes
	}

	var record *core.MarginRecord
	err := s.store.WithTx(ctx, func(store core.Store) error {
		project, err := store.GetProject(ctx, projectID)
		if err != nil {
			return err
		}
		if project == nil {
			return core.ErrProjectNotFound
		}

		resource, err := store.GetResource(ctx, resourceID)
		if err != nil {
			return err
		}
		if resource == nil {
			return core.ErrResourceNotFound
		}

		schedule, err := Compute(resource.BaseHourlyCost, toggles)
		if err != nil {
			return err
		}
		committed := schedule.FinalRate.PerHourCost(minutes)

		if !actor.IsManager() {
			remaining, err := remainingBudget(ctx, store, *project)
			if err != nil {
				return err
			}
			if committed.GreaterThan(remaining) {
				return &core.BudgetExceededError{
					ProjectID: projectID,
					Remaining: remaining,
					Committed: committed,
				}
			}
		}

		record = &core.MarginRecord{
			ID:              core.MarginRecordID(uuid.NewString()),
			ProjectID:       projectID,
			ResourceID:      resourceID,
			BaseHourlyCost:  resource.BaseHourlyCost,
			AssignedMinutes: minutes,
			Toggles:         toggles,
			CreatedAt:       time.Now().UTC(),
		}
		if err := store.SaveMarginRecord(ctx, *record); err != nil {
			return err
		}

		return store.AppendAudit(ctx, core.AuditEntry{
			ID:        uuid.NewString(),
			Timestamp: record.CreatedAt,
			ActorID:   actor.ID,
			Action:    core.AuditAssignmentCreated,
			RecordID:  string(record.ID),
			Detail: map[string]string{
				"project_id":  string(projectID),
				"resource_id": string(resourceID),
				"minutes":     fmt.Sprintf("%d", minutes),
				"final_rate":  schedule.FinalRate.String(),
			},
		})
	})
	if err != nil {
		return nil, err
	}

	log.InfoContext(ctx, "resource assigned",
		slog.String("project_id", string(projectID)),
		slog.String("resource_id", string(resourceID)),
		slog.Int("minutes", int(minutes)))
	return record, nil
}

// remainingBudget is the project budget minus the committed cost of every
// existing assignment.
func remainingBudget(ctx context.Context, store core.Store, project core.Project) (core.Money, error) {
	existing, err := store.ListMarginRecords(ctx, core.MarginFilter{ProjectID: project.ID})
	if err != nil {
		return core.Money{}, err
	}

	remaining := project.Budget
	for _, m := range existing {
		cost, err := RecordCost(m)
		if err != nil {
			return core.Money{}, err
		}
		remaining = remaining.Sub(cost)
	}
	return remaining, nil
}
