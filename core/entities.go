/*
entities.go - Persisted entities for the cost and hour-ledger engine

PURPOSE:
  Defines the five entity collections the engine reads and writes through
  the store interfaces, plus the supporting Client/Project/Activity records
  the aggregator joins against.

LIFECYCLES:
  Task:                 scheduled -> in_progress -> completed (actual minutes
                        set exactly once at completion, immutable after)
  BonusRecord:          pending -> approved | rejected (terminal)
  RedistributionRecord: active -> cancelled (terminal, soft-cancel only)
  MarginRecord:         immutable snapshot taken at assignment time

DERIVED STATE:
  CreditPosition and DebitPosition are views, never persisted. They are
  folded on demand from completed-task variance minus the active
  redistribution records touching the task. See hourledger package.

SEE ALSO:
  - store.go:    Repository interfaces over these entities
  - ../margin:   MarginRecord production
  - ../bonus:    BonusRecord production and disposition
  - ../hourledger: RedistributionRecord production and position folding
*/
package core

import "time"

// =============================================================================
// RESOURCE - A staff member whose time is billed on tasks
// =============================================================================

type Resource struct {
	ID             ResourceID
	Name           string
	BaseHourlyCost Money // raw cost, represents the "professional costs" 20% share
	CostOverridden bool  // true when BaseHourlyCost was set manually

	// AnnualMinutes is the yearly availability, tracked in minutes so the
	// deduct_future_hours remediation can subtract task-level variances
	// without rounding. When AnnualOverridden is false the effective value
	// is DefaultAnnualHours * 60.
	AnnualMinutes    Minutes
	AnnualOverridden bool

	CreatedAt time.Time
}

// AvailableAnnualMinutes returns the effective annual availability.
func (r Resource) AvailableAnnualMinutes() Minutes {
	if r.AnnualOverridden {
		return r.AnnualMinutes
	}
	return Minutes(DefaultAnnualHours * 60)
}

// =============================================================================
// CLIENT / PROJECT / ACTIVITY - Budget-bearing hierarchy
// =============================================================================

type Client struct {
	ID        ClientID
	Name      string
	CreatedAt time.Time
}

type Project struct {
	ID        ProjectID
	ClientID  ClientID
	Name      string
	Budget    Money // assigned budget the aggregator and assignment check consume
	CreatedAt time.Time
}

// Activity groups tasks under a project. The redistribution engine resolves
// or creates the ReassignmentsActivity bucket when granting hours to a new
// task.
type Activity struct {
	ID        ActivityID
	ProjectID ProjectID
	Name      string
	CreatedAt time.Time
}

// ReassignmentsActivity is the holding bucket name for tasks created by a
// redistribution.
const ReassignmentsActivity = "Reassignments"

// =============================================================================
// TASK
// =============================================================================

type TaskStatus string

const (
	TaskScheduled  TaskStatus = "scheduled"
	TaskInProgress TaskStatus = "in_progress"
	TaskCompleted  TaskStatus = "completed"
)

type Task struct {
	ID               TaskID
	ActivityID       ActivityID
	ProjectID        ProjectID
	ResourceID       ResourceID
	Name             string
	EstimatedMinutes Minutes
	ActualMinutes    *Minutes // nil until completion, immutable once set
	DueDate          time.Time
	Status           TaskStatus
	CreatedAt        time.Time
}

// Variance returns estimated minus actual minutes. Only meaningful for
// completed tasks; ok is false when the task has no actual time yet.
func (t Task) Variance() (Minutes, bool) {
	if t.Status != TaskCompleted || t.ActualMinutes == nil {
		return 0, false
	}
	return t.EstimatedMinutes - *t.ActualMinutes, true
}

// =============================================================================
// MARGIN RECORD - Resource-to-project assignment with toggle snapshot
// =============================================================================

// MarginRecord links a resource to a project and snapshots the cost inputs
// at assignment time. Toggles index the nine cascade components in the
// canonical order defined by the margin package.
type MarginRecord struct {
	ID              MarginRecordID
	ProjectID       ProjectID
	ResourceID      ResourceID
	BaseHourlyCost  Money // snapshot, not a reference to Resource
	AssignedMinutes Minutes
	Toggles         [9]bool
	CreatedAt       time.Time
}

// =============================================================================
// BONUS RECORD - One-to-one with a completed task
// =============================================================================

type BonusClassification string

const (
	BonusPositive BonusClassification = "positive"
	BonusZero     BonusClassification = "zero"
	BonusNegative BonusClassification = "negative"
)

type BonusState string

const (
	BonusPending  BonusState = "pending"
	BonusApproved BonusState = "approved"
	BonusRejected BonusState = "rejected"
)

type Remediation string

const (
	RemediationNone             Remediation = ""
	RemediationFinancialPenalty Remediation = "financial_penalty"
	RemediationDeductHours      Remediation = "deduct_future_hours"
)

type BonusRecord struct {
	ID              BonusRecordID
	TaskID          TaskID
	VarianceMinutes Minutes
	Classification  BonusClassification
	Percentage      Money // applied percentage, e.g. 5.0 or 2.5; 0 for negative
	Amount          Money // signed; negative for penalties
	State           BonusState
	Remediation     Remediation // set only when a negative record is remediated

	DisposedBy string // actor ID of the manager who approved/rejected
	DisposedAt *time.Time
	Comment    string

	CreatedAt time.Time
}

// =============================================================================
// REDISTRIBUTION RECORD - Append-only hour transfer event
// =============================================================================

// RedistributionRecord moves minutes from a credit-holding source task to a
// destination task. Records are never deleted; cancellation is a soft flag
// so the audit trail stays complete and position folding can skip the entry.
type RedistributionRecord struct {
	ID              RedistributionID
	SourceTaskID    TaskID
	DestTaskID      TaskID
	DestProjectID   ProjectID
	WithdrawMinutes Minutes
	GrantMinutes    Minutes
	CreatedBy       string
	Justification   string
	CreatedAt       time.Time

	Cancelled    bool
	CancelReason string
	CancelledAt  *time.Time
}

// Active reports whether the record still counts toward positions.
func (r RedistributionRecord) Active() bool { return !r.Cancelled }

// =============================================================================
// DERIVED POSITIONS - Never persisted
// =============================================================================

// CreditPosition is the unredistributed surplus of a task finished early.
type CreditPosition struct {
	TaskID           TaskID
	ResourceID       ResourceID
	ProjectID        ProjectID
	VarianceMinutes  Minutes // original positive variance
	WithdrawnMinutes Minutes // sum of active withdrawals sourced from the task
	AvailableMinutes Minutes // variance - withdrawn, never negative
}

// DebitPosition is the uncompensated deficit of a task that overran.
type DebitPosition struct {
	TaskID             TaskID
	ResourceID         ResourceID
	ProjectID          ProjectID
	DeficitMinutes     Minutes // |negative variance|
	CompensatedMinutes Minutes // sum of active grants targeting the task
	OutstandingMinutes Minutes // deficit - compensated, floored at zero
}
