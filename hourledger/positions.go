/*
Package hourledger implements the credit/debit hour ledger: derived
positions folded from completed-task variance, and the manager-initiated
redistribution transactions that move surplus minutes around.

POSITIONS ARE VIEWS:
  A credit position (surplus of a task finished early) and a debit position
  (deficit of a task that overran) are never persisted. They are recomputed
  on every read by folding the active, non-cancelled redistribution records
  over task base state. Recomputing instead of caching trades a little CPU
  for the guarantee that a position can never drift from the ledger.

CONSERVATION INVARIANTS:
  - A credit position is never negative.
  - The sum of active withdrawals sourced from a task never exceeds the
    task's original positive variance (enforced at create time inside the
    same unit of work that appends the record).
  - Cancelling a record returns its withdrawn minutes to the source's
    available credit, because the fold skips cancelled records.

SEE ALSO:
  - redistribution.go: create/cancel operations and history reads
*/
package hourledger

import (
	"context"
	"log/slog"

	"github.com/warp/cost-engine/core"
)

var log = slog.Default().With(slog.String("layer", "hourledger"))

// Engine derives positions and processes redistributions.
type Engine struct {
	store core.TxStore
}

func NewEngine(store core.TxStore) *Engine {
	return &Engine{store: store}
}

// =============================================================================
// POSITION FOLDING
// =============================================================================

// ListCredits returns the current credit position of every completed task
// with unredistributed surplus, folded live from the ledger.
func (e *Engine) ListCredits(ctx context.Context) ([]core.CreditPosition, error) {
	tasks, withdrawn, _, err := e.loadFoldInputs(ctx, e.store)
	if err != nil {
		return nil, err
	}

	var credits []core.CreditPosition
	for _, t := range tasks {
		variance, ok := t.Variance()
		if !ok || variance <= 0 {
			continue
		}
		pos := creditPosition(t, variance, withdrawn[t.ID])
		if pos.AvailableMinutes > 0 {
			credits = append(credits, pos)
		}
	}
	return credits, nil
}

// ListDebits returns the outstanding debit position of every completed task
// that overran and has not been fully compensated.
func (e *Engine) ListDebits(ctx context.Context) ([]core.DebitPosition, error) {
	tasks, _, granted, err := e.loadFoldInputs(ctx, e.store)
	if err != nil {
		return nil, err
	}

	var debits []core.DebitPosition
	for _, t := range tasks {
		variance, ok := t.Variance()
		if !ok || variance >= 0 {
			continue
		}
		pos := debitPosition(t, variance, granted[t.ID])
		if pos.OutstandingMinutes > 0 {
			debits = append(debits, pos)
		}
	}
	return debits, nil
}

// creditOf folds the live credit of a single source task. Used by the
// create-time sufficiency check, inside the same transaction that appends.
func creditOf(ctx context.Context, store core.Store, task core.Task) (core.Minutes, error) {
	variance, ok := task.Variance()
	if !ok {
		return 0, core.ErrTaskNotCompleted
	}
	if variance <= 0 {
		return 0, nil
	}

	records, _, err := store.ListRedistributions(ctx, core.RedistributionFilter{
		State:        core.RedistributionActive,
		SourceTaskID: task.ID,
	}, core.Page{})
	if err != nil {
		return 0, err
	}

	withdrawn := core.Minutes(0)
	for _, r := range records {
		withdrawn += r.WithdrawMinutes
	}
	credit := variance - withdrawn
	if credit < 0 {
		credit = 0
	}
	return credit, nil
}

// loadFoldInputs loads every completed task and the per-task withdrawal and
// grant sums of the active ledger.
func (e *Engine) loadFoldInputs(ctx context.Context, store core.Store) ([]core.Task, map[core.TaskID]core.Minutes, map[core.TaskID]core.Minutes, error) {
	tasks, err := store.ListTasks(ctx, core.TaskFilter{Status: core.TaskCompleted})
	if err != nil {
		return nil, nil, nil, err
	}

	records, _, err := store.ListRedistributions(ctx, core.RedistributionFilter{
		State: core.RedistributionActive,
	}, core.Page{})
	if err != nil {
		return nil, nil, nil, err
	}

	withdrawn := make(map[core.TaskID]core.Minutes)
	granted := make(map[core.TaskID]core.Minutes)
	for _, r := range records {
		withdrawn[r.SourceTaskID] += r.WithdrawMinutes
		granted[r.DestTaskID] += r.GrantMinutes
	}
	return tasks, withdrawn, granted, nil
}

func creditPosition(t core.Task, variance, withdrawn core.Minutes) core.CreditPosition {
	available := variance - withdrawn
	if available < 0 {
		available = 0
	}
	return core.CreditPosition{
		TaskID:           t.ID,
		ResourceID:       t.ResourceID,
		ProjectID:        t.ProjectID,
		VarianceMinutes:  variance,
		WithdrawnMinutes: withdrawn,
		AvailableMinutes: available,
	}
}

func debitPosition(t core.Task, variance, granted core.Minutes) core.DebitPosition {
	deficit := variance.Abs()
	outstanding := deficit - granted
	if outstanding < 0 {
		outstanding = 0
	}
	return core.DebitPosition{
		TaskID:             t.ID,
		ResourceID:         t.ResourceID,
		ProjectID:          t.ProjectID,
		DeficitMinutes:     deficit,
		CompensatedMinutes: granted,
		OutstandingMinutes: outstanding,
	}
}
