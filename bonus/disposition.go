/*
disposition.go - Manager disposition of pending bonus records

STATE MACHINE:
  pending -> approved   (approve on positive/zero records, remediate on
                         negative ones; a bare approve of a negative record
                         fails with ErrRemediationRequired)
  pending -> rejected   (reject, comment required)
  approved/rejected are terminal; any disposition of a non-pending record
  fails with ErrNotPending.

REMEDIATION:
  Negative records require an explicit remediation choice instead of a bare
  approval:
    financial_penalty    the monetary amount stands, nothing else changes
    deduct_future_hours  additionally debits the resource's annual
                         availability by the overrun minutes
  Either choice lands the record in approved.
*/
package bonus

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/warp/cost-engine/core"
)

// Disposition is the manager's decision on a pending record.
type Disposition string

const (
	DisposeApprove   Disposition = "approve"
	DisposeReject    Disposition = "reject"
	DisposeRemediate Disposition = "remediate"
)

// DisposeInput carries one disposition request.
type DisposeInput struct {
	BonusID     core.BonusRecordID
	Action      Disposition
	Comment     string           // required for reject, optional otherwise
	Remediation core.Remediation // required for remediate
}

// Dispose applies a manager decision to a pending record. Manager-only.
func (s *Service) Dispose(ctx context.Context, actor core.Actor, in DisposeInput) (*core.BonusRecord, error) {
	if err := core.RequireManager(actor, "bonus disposition"); err != nil {
		return nil, err
	}

	var record *core.BonusRecord
	err := s.store.WithTx(ctx, func(store core.Store) error {
		existing, err := store.GetBonusRecord(ctx, in.BonusID)
		if err != nil {
			return err
		}
		if existing == nil {
			return core.ErrBonusNotFound
		}
		if existing.State != core.BonusPending {
			return core.ErrNotPending
		}

		now := time.Now().UTC()
		updated := *existing
		updated.DisposedBy = actor.ID
		updated.DisposedAt = &now
		updated.Comment = in.Comment

		var action core.AuditAction
		switch in.Action {
		case DisposeApprove:
			// A negative record only reaches approved through remediate;
			// the manager has to pick how the overrun is settled.
			if existing.Classification == core.BonusNegative {
				return core.ErrRemediationRequired
			}
			updated.State = core.BonusApproved
			action = core.AuditBonusApproved

		case DisposeReject:
			if strings.TrimSpace(in.Comment) == "" {
				return core.ErrCommentRequired
			}
			updated.State = core.BonusRejected
			action = core.AuditBonusRejected

		case DisposeRemediate:
			if existing.Classification != core.BonusNegative {
				return core.ErrInvalidRemediation
			}
			if in.Remediation != core.RemediationFinancialPenalty &&
				in.Remediation != core.RemediationDeductHours {
				return core.ErrInvalidRemediation
			}
			updated.State = core.BonusApproved
			updated.Remediation = in.Remediation
			action = core.AuditBonusRemediated

			if in.Remediation == core.RemediationDeductHours {
				if err := deductAnnualHours(ctx, store, existing.TaskID, existing.VarianceMinutes.Abs()); err != nil {
					return err
				}
			}

		default:
			return core.ErrInvalidRemediation
		}

		if err := store.SaveBonusRecord(ctx, updated); err != nil {
			return err
		}
		record = &updated

		return store.AppendAudit(ctx, core.AuditEntry{
			ID:        uuid.NewString(),
			Timestamp: now,
			ActorID:   actor.ID,
			Action:    action,
			RecordID:  string(updated.ID),
			Detail: map[string]string{
				"state":       string(updated.State),
				"remediation": string(updated.Remediation),
				"comment":     in.Comment,
			},
		})
	})
	if err != nil {
		return nil, err
	}
	return record, nil
}

// deductAnnualHours debits the annual availability of the task's resource.
// The debit marks the resource as overridden so the default no longer
// shadows the reduced figure.
func deductAnnualHours(ctx context.Context, store core.Store, taskID core.TaskID, minutes core.Minutes) error {
	task, err := store.GetTask(ctx, taskID)
	if err != nil {
		return err
	}
	if task == nil {
		return core.ErrTaskNotFound
	}
	resource, err := store.GetResource(ctx, task.ResourceID)
	if err != nil {
		return err
	}
	if resource == nil {
		return core.ErrResourceNotFound
	}

	resource.AnnualMinutes = resource.AvailableAnnualMinutes() - minutes
	resource.AnnualOverridden = true
	return store.SaveResource(ctx, *resource)
}
