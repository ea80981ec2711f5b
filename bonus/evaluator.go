/*
Package bonus implements the bonus/penalty evaluator: the tiered comparison
of estimated vs. actual task duration that produces a monetary adjustment
awaiting manager disposition.

TIERS:
  variance > 0  (finished early)  classification=positive, 5.0% of the
                                  full rate applied to the actual hours
  variance == 0 (on the nose)     classification=zero, 2.5% the same way
  variance < 0  (overran)         classification=negative, amount is the
                                  overrun priced at the project-specific
                                  final rate (falling back to the raw base
                                  cost when no assignment exists), negated

EVALUATION IS ONCE-ONLY:
  A task gets exactly one BonusRecord. A second evaluation attempt fails
  with ErrAlreadyEvaluated; the record itself only ever transitions from
  pending to a terminal approved/rejected state (disposition.go).

SEE ALSO:
  - disposition.go: approve / reject / remediate state machine
  - ../margin:      rate derivation
*/
package bonus

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/warp/cost-engine/core"
	"github.com/warp/cost-engine/margin"
)

var log = slog.Default().With(slog.String("layer", "bonus"))

// Bonus percentages per classification.
var (
	positivePct = decimal.NewFromFloat(5.0)
	zeroPct     = decimal.NewFromFloat(2.5)
)

// Service evaluates completed tasks and disposes the resulting records.
type Service struct {
	store core.TxStore
}

func NewService(store core.TxStore) *Service {
	return &Service{store: store}
}

// Evaluate computes the bonus or penalty for a completed task and persists
// it as a pending record. The actor is recorded for audit attribution only;
// evaluation itself is triggered by task completion, not by role.
//
// Preconditions, each with its own error: the task exists, is completed,
// has actual minutes, and has not been evaluated before.
func (s *Service) Evaluate(ctx context.Context, actor core.Actor, taskID core.TaskID) (*core.BonusRecord, error) {
	var record *core.BonusRecord
	err := s.store.WithTx(ctx, func(store core.Store) error {
		task, err := store.GetTask(ctx, taskID)
		if err != nil {
			return err
		}
		if task == nil {
			return core.ErrTaskNotFound
		}
		if task.Status != core.TaskCompleted {
			return core.ErrTaskNotCompleted
		}
		if task.ActualMinutes == nil {
			return core.ErrMissingActualTime
		}

		existing, err := store.GetBonusRecordByTask(ctx, taskID)
		if err != nil {
			return err
		}
		if existing != nil {
			return core.ErrAlreadyEvaluated
		}

		resource, err := store.GetResource(ctx, task.ResourceID)
		if err != nil {
			return err
		}
		if resource == nil {
			return core.ErrResourceNotFound
		}

		variance := task.EstimatedMinutes - *task.ActualMinutes

		record = &core.BonusRecord{
			ID:              core.BonusRecordID(uuid.NewString()),
			TaskID:          taskID,
			VarianceMinutes: variance,
			State:           core.BonusPending,
			CreatedAt:       time.Now().UTC(),
		}

		switch {
		case variance > 0:
			record.Classification = core.BonusPositive
			record.Percentage = core.MoneyFromDecimal(positivePct)
			record.Amount = rewardAmount(resource.BaseHourlyCost, *task.ActualMinutes, positivePct)
		case variance == 0:
			record.Classification = core.BonusZero
			record.Percentage = core.MoneyFromDecimal(zeroPct)
			record.Amount = rewardAmount(resource.BaseHourlyCost, *task.ActualMinutes, zeroPct)
		default:
			record.Classification = core.BonusNegative
			record.Percentage = core.Money{Value: decimal.Zero}
			rate, err := penaltyRate(ctx, store, task.ProjectID, *resource)
			if err != nil {
				return err
			}
			record.Amount = rate.PerHourCost(variance.Abs()).Neg()
		}

		if err := store.SaveBonusRecord(ctx, *record); err != nil {
			return err
		}

		return store.AppendAudit(ctx, core.AuditEntry{
			ID:        uuid.NewString(),
			Timestamp: record.CreatedAt,
			ActorID:   actor.ID,
			Action:    core.AuditBonusEvaluated,
			RecordID:  string(record.ID),
			Detail: map[string]string{
				"task_id":        string(taskID),
				"classification": string(record.Classification),
				"variance_min":   fmt.Sprintf("%d", variance),
				"amount":         record.Amount.String(),
			},
		})
	})
	if err != nil {
		return nil, err
	}

	log.InfoContext(ctx, "bonus evaluated",
		slog.String("task_id", string(taskID)),
		slog.String("classification", string(record.Classification)),
		slog.String("amount", record.Amount.String()))
	return record, nil
}

// rewardAmount prices the actual hours at the resource's full rate and
// applies the tier percentage.
func rewardAmount(baseCost core.Money, actual core.Minutes, pct decimal.Decimal) core.Money {
	schedule, err := margin.Compute(baseCost, margin.AllEnabled())
	if err != nil {
		// Base cost was validated when the resource was stored; a zero here
		// would make every downstream figure meaningless anyway.
		return core.Money{}
	}
	return schedule.FullRate.PerHourCost(actual).Mul(pct).Div(decimal.NewFromInt(100))
}

// penaltyRate resolves the rate an overrun is priced at: the final rate of
// the project's margin record for this resource, or the raw base cost when
// the pair was never assigned.
func penaltyRate(ctx context.Context, store core.Store, projectID core.ProjectID, resource core.Resource) (core.Money, error) {
	m, err := store.GetMarginRecord(ctx, projectID, resource.ID)
	if err != nil {
		return core.Money{}, err
	}
	if m == nil {
		return resource.BaseHourlyCost, nil
	}
	schedule, err := margin.RecordRates(*m)
	if err != nil {
		return core.Money{}, err
	}
	return schedule.FinalRate, nil
}
