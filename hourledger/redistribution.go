/*
redistribution.go - Create, cancel and list redistribution records

STATE MACHINE:
  created (active) -> cancelled (terminal). No other transitions. Records
  are never hard-deleted; cancellation is a soft flag plus reason so the
  audit trail stays intact.

DESTINATION:
  A redistribution targets either an existing task or a brand-new task
  under a named project. The two shapes arrive as one tagged variant,
  resolved once at the boundary; nothing deeper in the pipeline branches
  on raw shapes. The new-task path resolves or creates the project's
  "Reassignments" holding activity and assigns the task to the same
  resource as the source.

ASYMMETRY POLICY:
  Withdrawn and granted minutes may differ, but a grant can never exceed
  the withdrawal. Overhead may shrink a transfer, never inflate it.
*/
package hourledger

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/warp/cost-engine/core"
)

// =============================================================================
// DESTINATION - Tagged variant resolved once at the boundary
// =============================================================================

type destinationKind int

const (
	destExistingTask destinationKind = iota + 1
	destNewTask
)

// Destination is where granted minutes land.
type Destination struct {
	kind        destinationKind
	taskID      core.TaskID
	projectID   core.ProjectID
	newTaskName string
}

// DestinationTask targets an existing task.
func DestinationTask(id core.TaskID) Destination {
	return Destination{kind: destExistingTask, taskID: id}
}

// DestinationNewTask creates a new task under the project's Reassignments
// bucket.
func DestinationNewTask(projectID core.ProjectID, name string) Destination {
	return Destination{kind: destNewTask, projectID: projectID, newTaskName: name}
}

func (d Destination) valid() bool {
	switch d.kind {
	case destExistingTask:
		return d.taskID != ""
	case destNewTask:
		return d.projectID != "" && strings.TrimSpace(d.newTaskName) != ""
	default:
		return false
	}
}

// =============================================================================
// CREATE
// =============================================================================

// CreateInput carries one redistribution request.
type CreateInput struct {
	SourceTaskID    core.TaskID
	WithdrawMinutes core.Minutes
	GrantMinutes    core.Minutes
	Destination     Destination
	Justification   string
}

// Create validates and appends a redistribution record. Manager-only. The
// sufficiency check and the append run in one unit of work, so a rejected
// request observably changes nothing - including the new destination task.
func (e *Engine) Create(ctx context.Context, actor core.Actor, in CreateInput) (*core.RedistributionRecord, error) {
	if err := core.RequireManager(actor, "redistribution create"); err != nil {
		return nil, err
	}
	if in.WithdrawMinutes <= 0 || in.GrantMinutes <= 0 {
		return nil, core.ErrInvalidMinutes
	}
	if in.GrantMinutes > in.WithdrawMinutes {
		return nil, core.ErrGrantExceedsWithdraw
	}
	if strings.TrimSpace(in.Justification) == "" {
		return nil, core.ErrJustificationRequired
	}
	if !in.Destination.valid() {
		return nil, core.ErrInvalidDestination
	}

	var record *core.RedistributionRecord
	err := e.store.WithTx(ctx, func(store core.Store) error {
		source, err := store.GetTask(ctx, in.SourceTaskID)
		if err != nil {
			return err
		}
		if source == nil {
			return core.ErrTaskNotFound
		}

		credit, err := creditOf(ctx, store, *source)
		if err != nil {
			return err
		}
		if in.WithdrawMinutes > credit {
			return &core.InsufficientCreditError{
				TaskID:    source.ID,
				Available: credit,
				Requested: in.WithdrawMinutes,
			}
		}

		destTask, err := resolveDestination(ctx, store, in.Destination, *source, in.GrantMinutes)
		if err != nil {
			return err
		}

		record = &core.RedistributionRecord{
			ID:              core.RedistributionID(uuid.NewString()),
			SourceTaskID:    source.ID,
			DestTaskID:      destTask.ID,
			DestProjectID:   destTask.ProjectID,
			WithdrawMinutes: in.WithdrawMinutes,
			GrantMinutes:    in.GrantMinutes,
			CreatedBy:       actor.ID,
			Justification:   in.Justification,
			CreatedAt:       time.Now().UTC(),
		}
		if err := store.AppendRedistribution(ctx, *record); err != nil {
			return err
		}

		return store.AppendAudit(ctx, core.AuditEntry{
			ID:        uuid.NewString(),
			Timestamp: record.CreatedAt,
			ActorID:   actor.ID,
			Action:    core.AuditRedistributionCreated,
			RecordID:  string(record.ID),
			Detail: map[string]string{
				"source_task":  string(source.ID),
				"dest_task":    string(destTask.ID),
				"withdraw_min": fmt.Sprintf("%d", in.WithdrawMinutes),
				"grant_min":    fmt.Sprintf("%d", in.GrantMinutes),
			},
		})
	})
	if err != nil {
		return nil, err
	}

	log.InfoContext(ctx, "redistribution created",
		slog.String("id", string(record.ID)),
		slog.String("source_task", string(record.SourceTaskID)),
		slog.String("dest_task", string(record.DestTaskID)))
	return record, nil
}

// resolveDestination turns the tagged variant into a concrete task,
// creating the Reassignments bucket and the new task when needed.
func resolveDestination(ctx context.Context, store core.Store, d Destination, source core.Task, grant core.Minutes) (*core.Task, error) {
	switch d.kind {
	case destExistingTask:
		task, err := store.GetTask(ctx, d.taskID)
		if err != nil {
			return nil, err
		}
		if task == nil {
			return nil, core.ErrTaskNotFound
		}
		return task, nil

	case destNewTask:
		project, err := store.GetProject(ctx, d.projectID)
		if err != nil {
			return nil, err
		}
		if project == nil {
			return nil, core.ErrProjectNotFound
		}

		activity, err := store.GetActivityByName(ctx, project.ID, core.ReassignmentsActivity)
		if err != nil {
			return nil, err
		}
		if activity == nil {
			activity = &core.Activity{
				ID:        core.ActivityID(uuid.NewString()),
				ProjectID: project.ID,
				Name:      core.ReassignmentsActivity,
				CreatedAt: time.Now().UTC(),
			}
			if err := store.SaveActivity(ctx, *activity); err != nil {
				return nil, err
			}
		}

		// The funded task belongs to the same resource the surplus came
		// from and starts its life scheduled, sized by the granted minutes.
		// Its due date is left for the manager to plan.
		task := core.Task{
			ID:               core.TaskID(uuid.NewString()),
			ActivityID:       activity.ID,
			ProjectID:        project.ID,
			ResourceID:       source.ResourceID,
			Name:             d.newTaskName,
			EstimatedMinutes: grant,
			Status:           core.TaskScheduled,
			CreatedAt:        time.Now().UTC(),
		}
		if err := store.SaveTask(ctx, task); err != nil {
			return nil, err
		}
		return &task, nil

	default:
		return nil, core.ErrInvalidDestination
	}
}

// =============================================================================
// CANCEL
// =============================================================================

// Cancel soft-cancels a record, returning its withdrawn minutes to the
// source's available credit. Manager-only; reason required.
func (e *Engine) Cancel(ctx context.Context, actor core.Actor, id core.RedistributionID, reason string) (*core.RedistributionRecord, error) {
	if err := core.RequireManager(actor, "redistribution cancel"); err != nil {
		return nil, err
	}
	if strings.TrimSpace(reason) == "" {
		return nil, core.ErrReasonRequired
	}

	var record *core.RedistributionRecord
	err := e.store.WithTx(ctx, func(store core.Store) error {
		existing, err := store.GetRedistribution(ctx, id)
		if err != nil {
			return err
		}
		if existing == nil {
			return core.ErrRedistributionNotFound
		}
		if existing.Cancelled {
			return core.ErrAlreadyCancelled
		}

		now := time.Now().UTC()
		if err := store.MarkRedistributionCancelled(ctx, id, reason, now); err != nil {
			return err
		}

		cancelled := *existing
		cancelled.Cancelled = true
		cancelled.CancelReason = reason
		cancelled.CancelledAt = &now
		record = &cancelled

		return store.AppendAudit(ctx, core.AuditEntry{
			ID:        uuid.NewString(),
			Timestamp: now,
			ActorID:   actor.ID,
			Action:    core.AuditRedistributionCancel,
			RecordID:  string(id),
			Detail:    map[string]string{"reason": reason},
		})
	})
	if err != nil {
		return nil, err
	}
	return record, nil
}

// =============================================================================
// HISTORY
// =============================================================================

// History returns the filtered, paginated ledger plus the total match count.
func (e *Engine) History(ctx context.Context, filter core.RedistributionFilter, page core.Page) ([]core.RedistributionRecord, int, error) {
	return e.store.ListRedistributions(ctx, filter, page)
}
