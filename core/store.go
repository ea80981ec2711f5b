/*
store.go - Repository interfaces between the engines and the datastore

PURPOSE:
  Defines the persistence contract per entity collection so the engine
  packages stay pure functions of loaded data plus a transactional
  unit-of-work boundary. Implementations exist for SQLite (store/sqlite)
  and in-memory (core/store).

UNIT OF WORK:
  TxStore.WithTx runs a function against a Store view whose writes commit
  or roll back atomically. Every mutating engine operation executes inside
  one WithTx call, so validation reads (current credit, budget headroom)
  are consistent with the write that follows and a rejected operation
  leaves nothing behind.

APPEND-ONLY DISCIPLINE:
  RedistributionRecords are never deleted or rewritten. The only permitted
  mutation is MarkRedistributionCancelled, which flips the soft-cancel flag.
  Derived positions are folded from active records on every read.

SEE ALSO:
  - store/memory.go:        In-memory implementation (tests/dev)
  - ../store/sqlite:        SQLite implementation
*/
package core

import (
	"context"
	"time"
)

// =============================================================================
// ENTITY REPOSITORIES
// =============================================================================

type ResourceStore interface {
	SaveResource(ctx context.Context, r Resource) error
	GetResource(ctx context.Context, id ResourceID) (*Resource, error)
	ListResources(ctx context.Context) ([]Resource, error)
}

type ClientStore interface {
	SaveClient(ctx context.Context, c Client) error
	GetClient(ctx context.Context, id ClientID) (*Client, error)
	ListClients(ctx context.Context) ([]Client, error)
}

type ProjectStore interface {
	SaveProject(ctx context.Context, p Project) error
	GetProject(ctx context.Context, id ProjectID) (*Project, error)
	ListProjects(ctx context.Context, clientID ClientID) ([]Project, error) // "" = all

	SaveActivity(ctx context.Context, a Activity) error
	// GetActivityByName returns nil when no activity of that name exists
	// under the project.
	GetActivityByName(ctx context.Context, projectID ProjectID, name string) (*Activity, error)
}

// TaskFilter narrows task listings. Zero values mean "no constraint".
type TaskFilter struct {
	ResourceID ResourceID
	ProjectID  ProjectID
	ClientID   ClientID
	Status     TaskStatus
	DueFrom    *time.Time
	DueTo      *time.Time
}

type TaskStore interface {
	SaveTask(ctx context.Context, t Task) error
	GetTask(ctx context.Context, id TaskID) (*Task, error)
	ListTasks(ctx context.Context, filter TaskFilter) ([]Task, error)
}

type MarginFilter struct {
	ProjectID  ProjectID
	ResourceID ResourceID
}

type MarginStore interface {
	SaveMarginRecord(ctx context.Context, m MarginRecord) error
	// GetMarginRecord returns nil when the project/resource pair has no
	// assignment; the bonus evaluator falls back to the raw base cost then.
	GetMarginRecord(ctx context.Context, projectID ProjectID, resourceID ResourceID) (*MarginRecord, error)
	ListMarginRecords(ctx context.Context, filter MarginFilter) ([]MarginRecord, error)
}

type BonusFilter struct {
	State BonusState
	From  *time.Time
	To    *time.Time
}

type BonusStore interface {
	SaveBonusRecord(ctx context.Context, b BonusRecord) error
	GetBonusRecord(ctx context.Context, id BonusRecordID) (*BonusRecord, error)
	// GetBonusRecordByTask returns nil when the task has not been evaluated.
	GetBonusRecordByTask(ctx context.Context, taskID TaskID) (*BonusRecord, error)
	ListBonusRecords(ctx context.Context, filter BonusFilter) ([]BonusRecord, error)
}

// =============================================================================
// REDISTRIBUTION LEDGER - Append-only
// =============================================================================

// RedistributionState filters the ledger by lifecycle state.
type RedistributionState string

const (
	RedistributionAny       RedistributionState = ""
	RedistributionActive    RedistributionState = "active"
	RedistributionCancelled RedistributionState = "cancelled"
)

type RedistributionFilter struct {
	State        RedistributionState
	SourceTaskID TaskID
	DestTaskID   TaskID
	ResourceID   ResourceID // matches the source task's resource
	ProjectID    ProjectID  // matches source or destination project
	From         *time.Time
	To           *time.Time
}

// Page is offset/limit pagination. Limit <= 0 means "no limit".
type Page struct {
	Offset int
	Limit  int
}

type RedistributionStore interface {
	// AppendRedistribution inserts a new record. The ledger has no other
	// insert or rewrite path.
	AppendRedistribution(ctx context.Context, r RedistributionRecord) error
	GetRedistribution(ctx context.Context, id RedistributionID) (*RedistributionRecord, error)
	// MarkRedistributionCancelled flips the soft-cancel flag. It is the only
	// mutation the ledger permits.
	MarkRedistributionCancelled(ctx context.Context, id RedistributionID, reason string, at time.Time) error
	// ListRedistributions returns matching records ordered by creation time
	// plus the total match count before pagination.
	ListRedistributions(ctx context.Context, filter RedistributionFilter, page Page) ([]RedistributionRecord, int, error)
}

// =============================================================================
// COMPOSITE STORE + UNIT OF WORK
// =============================================================================

// Store aggregates every repository the engines consume.
type Store interface {
	ResourceStore
	ClientStore
	ProjectStore
	TaskStore
	MarginStore
	BonusStore
	RedistributionStore
	AuditLog
}

// TxStore wraps Store with a transactional unit of work.
type TxStore interface {
	Store

	// WithTx executes fn against a transactional Store view. If fn returns
	// an error the writes roll back; otherwise they commit together.
	WithTx(ctx context.Context, fn func(Store) error) error
}
