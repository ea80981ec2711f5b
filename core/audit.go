/*
audit.go - Append-only audit trail for manager actions

PURPOSE:
  Every disposition and redistribution mutation appends an entry recording
  who did what, when, and to which record. The audit log is separate from
  the redistribution ledger: the ledger carries the hour accounting, the
  audit log carries the human trail.
*/
package core

import (
	"context"
	"time"
)

type AuditAction string

const (
	AuditBonusEvaluated        AuditAction = "bonus_evaluated"
	AuditBonusApproved         AuditAction = "bonus_approved"
	AuditBonusRejected         AuditAction = "bonus_rejected"
	AuditBonusRemediated       AuditAction = "bonus_remediated"
	AuditRedistributionCreated AuditAction = "redistribution_created"
	AuditRedistributionCancel  AuditAction = "redistribution_cancelled"
	AuditAssignmentCreated     AuditAction = "assignment_created"
)

// AuditEntry records a single actor-attributed mutation.
type AuditEntry struct {
	ID        string
	Timestamp time.Time
	ActorID   string
	Action    AuditAction
	RecordID  string // BonusRecordID, RedistributionID or MarginRecordID
	Detail    map[string]string
}

// AuditLog stores audit entries. Append-only.
type AuditLog interface {
	AppendAudit(ctx context.Context, entry AuditEntry) error
	QueryAudit(ctx context.Context, filter AuditFilter) ([]AuditEntry, error)
}

type AuditFilter struct {
	ActorID  string
	Actions  []AuditAction
	RecordID string
	From     *time.Time
	To       *time.Time
}
