/*
Package sqlite provides the SQLite-backed implementation of core.TxStore.

PURPOSE:
  Implements every repository interface the engines consume using one
  SQLite database. In production the same patterns apply to PostgreSQL;
  only minor SQL dialect differences.

KEY TABLES:
  resources        Staff members (cost, annual availability)
  clients          Billing clients
  projects         Budget-bearing projects per client
  activities       Task-grouping buckets (incl. the Reassignments bucket)
  tasks            Work items with estimate/actual minutes
  margin_records   Assignment snapshots (base cost + toggles)
  bonus_records    One per evaluated task, pending -> approved/rejected
  redistributions  Append-only hour-transfer ledger (soft-cancel only)
  audit_log        Actor-attributed trail of manager actions

APPEND-ONLY ENFORCEMENT:
  redistributions has exactly one UPDATE path: the soft-cancel flag. No
  DELETE statements exist for it or for audit_log. Corrections happen by
  cancelling and re-creating a transfer.

WAL MODE:
  SQLite is opened with WAL (Write-Ahead Logging):
  - Multiple readers don't block
  - Single writer at a time
  - Better crash recovery

CONCURRENCY:
  A writer mutex serializes WithTx calls, so the credit-sufficiency read
  and the ledger append of a redistribution cannot interleave with a
  competing transfer against the same source task.

MIGRATION:
  Schema is auto-migrated on New(). For production, use a proper
  migration tool (golang-migrate, goose) with versioned migrations.

SEE ALSO:
  - core/store.go:        Interface definitions
  - core/store/memory.go: In-memory implementation for testing
*/
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/warp/cost-engine/core"
)

// Store implements core.TxStore using SQLite.
type Store struct {
	queries
	db *sql.DB
	mu sync.Mutex
}

var _ core.TxStore = (*Store)(nil)

// New creates a new SQLite store with the given database path.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	store := &Store{queries: queries{q: db}, db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error { return s.db.Close() }

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS resources (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		base_hourly_cost TEXT NOT NULL,
		cost_overridden BOOLEAN NOT NULL DEFAULT FALSE,
		annual_minutes INTEGER NOT NULL DEFAULT 0,
		annual_overridden BOOLEAN NOT NULL DEFAULT FALSE,
		created_at TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS clients (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		created_at TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS projects (
		id TEXT PRIMARY KEY,
		client_id TEXT NOT NULL,
		name TEXT NOT NULL,
		budget TEXT NOT NULL,
		created_at TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_projects_client ON projects(client_id);

	CREATE TABLE IF NOT EXISTS activities (
		id TEXT PRIMARY KEY,
		project_id TEXT NOT NULL,
		name TEXT NOT NULL,
		created_at TEXT NOT NULL
	);
	CREATE UNIQUE INDEX IF NOT EXISTS idx_activities_project_name
		ON activities(project_id, name);

	CREATE TABLE IF NOT EXISTS tasks (
		id TEXT PRIMARY KEY,
		activity_id TEXT NOT NULL,
		project_id TEXT NOT NULL,
		resource_id TEXT NOT NULL,
		name TEXT NOT NULL,
		estimated_minutes INTEGER NOT NULL,
		actual_minutes INTEGER,
		due_date TEXT,
		status TEXT NOT NULL,
		created_at TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_tasks_resource ON tasks(resource_id);
	CREATE INDEX IF NOT EXISTS idx_tasks_project ON tasks(project_id);
	CREATE INDEX IF NOT EXISTS idx_tasks_status ON tasks(status);
	CREATE INDEX IF NOT EXISTS idx_tasks_due ON tasks(due_date);

	CREATE TABLE IF NOT EXISTS margin_records (
		id TEXT PRIMARY KEY,
		project_id TEXT NOT NULL,
		resource_id TEXT NOT NULL,
		base_hourly_cost TEXT NOT NULL,
		assigned_minutes INTEGER NOT NULL,
		toggles TEXT NOT NULL,
		created_at TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_margin_project_resource
		ON margin_records(project_id, resource_id);

	CREATE TABLE IF NOT EXISTS bonus_records (
		id TEXT PRIMARY KEY,
		task_id TEXT NOT NULL UNIQUE,
		variance_minutes INTEGER NOT NULL,
		classification TEXT NOT NULL,
		percentage TEXT NOT NULL,
		amount TEXT NOT NULL,
		state TEXT NOT NULL,
		remediation TEXT NOT NULL DEFAULT '',
		disposed_by TEXT NOT NULL DEFAULT '',
		disposed_at TEXT,
		comment TEXT NOT NULL DEFAULT '',
		created_at TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_bonus_state ON bonus_records(state);

	CREATE TABLE IF NOT EXISTS redistributions (
		id TEXT PRIMARY KEY,
		source_task_id TEXT NOT NULL,
		dest_task_id TEXT NOT NULL,
		dest_project_id TEXT NOT NULL,
		withdraw_minutes INTEGER NOT NULL,
		grant_minutes INTEGER NOT NULL,
		created_by TEXT NOT NULL,
		justification TEXT NOT NULL,
		created_at TEXT NOT NULL,
		cancelled BOOLEAN NOT NULL DEFAULT FALSE,
		cancel_reason TEXT NOT NULL DEFAULT '',
		cancelled_at TEXT
	);
	CREATE INDEX IF NOT EXISTS idx_redistributions_source
		ON redistributions(source_task_id);
	CREATE INDEX IF NOT EXISTS idx_redistributions_dest
		ON redistributions(dest_task_id);
	CREATE INDEX IF NOT EXISTS idx_redistributions_created
		ON redistributions(created_at);

	CREATE TABLE IF NOT EXISTS audit_log (
		id TEXT PRIMARY KEY,
		timestamp TEXT NOT NULL,
		actor_id TEXT NOT NULL,
		action TEXT NOT NULL,
		record_id TEXT NOT NULL,
		detail_json TEXT
	);
	CREATE INDEX IF NOT EXISTS idx_audit_actor ON audit_log(actor_id);
	CREATE INDEX IF NOT EXISTS idx_audit_record ON audit_log(record_id);
	`
	_, err := s.db.Exec(schema)
	return err
}

// =============================================================================
// UNIT OF WORK
// =============================================================================

// WithTx executes fn within a database transaction. The writer mutex
// guarantees that validation reads and the writes that follow are not
// interleaved with another mutating operation.
func (s *Store) WithTx(ctx context.Context, fn func(core.Store) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := fn(&queries{q: tx}); err != nil {
		return err
	}
	return tx.Commit()
}

// querier is satisfied by both *sql.DB and *sql.Tx so every repository
// method works identically inside and outside a transaction.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// queries implements core.Store against a querier.
type queries struct {
	q querier
}

var _ core.Store = (*queries)(nil)

// =============================================================================
// RESOURCES
// =============================================================================

func (s *queries) SaveResource(ctx context.Context, r core.Resource) error {
	_, err := s.q.ExecContext(ctx, `
		INSERT INTO resources (id, name, base_hourly_cost, cost_overridden, annual_minutes, annual_overridden, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			base_hourly_cost = excluded.base_hourly_cost,
			cost_overridden = excluded.cost_overridden,
			annual_minutes = excluded.annual_minutes,
			annual_overridden = excluded.annual_overridden`,
		r.ID, r.Name, r.BaseHourlyCost.Value.String(), r.CostOverridden,
		int(r.AnnualMinutes), r.AnnualOverridden, formatTime(r.CreatedAt))
	return err
}

func (s *queries) GetResource(ctx context.Context, id core.ResourceID) (*core.Resource, error) {
	row := s.q.QueryRowContext(ctx, `
		SELECT id, name, base_hourly_cost, cost_overridden, annual_minutes, annual_overridden, created_at
		FROM resources WHERE id = ?`, id)
	r, err := scanResource(row.Scan)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return r, err
}

func (s *queries) ListResources(ctx context.Context) ([]core.Resource, error) {
	rows, err := s.q.QueryContext(ctx, `
		SELECT id, name, base_hourly_cost, cost_overridden, annual_minutes, annual_overridden, created_at
		FROM resources ORDER BY created_at`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []core.Resource
	for rows.Next() {
		r, err := scanResource(rows.Scan)
		if err != nil {
			return nil, err
		}
		out = append(out, *r)
	}
	return out, rows.Err()
}

func scanResource(scan func(...any) error) (*core.Resource, error) {
	var (
		r             core.Resource
		cost          string
		annualMinutes int
		createdAt     string
	)
	if err := scan(&r.ID, &r.Name, &cost, &r.CostOverridden, &annualMinutes, &r.AnnualOverridden, &createdAt); err != nil {
		return nil, err
	}
	r.BaseHourlyCost = core.MustParseMoney(cost)
	r.AnnualMinutes = core.Minutes(annualMinutes)
	r.CreatedAt = parseTime(createdAt)
	return &r, nil
}

// =============================================================================
// CLIENTS
// =============================================================================

func (s *queries) SaveClient(ctx context.Context, c core.Client) error {
	_, err := s.q.ExecContext(ctx, `
		INSERT INTO clients (id, name, created_at) VALUES (?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET name = excluded.name`,
		c.ID, c.Name, formatTime(c.CreatedAt))
	return err
}

func (s *queries) GetClient(ctx context.Context, id core.ClientID) (*core.Client, error) {
	var (
		c         core.Client
		createdAt string
	)
	err := s.q.QueryRowContext(ctx, `SELECT id, name, created_at FROM clients WHERE id = ?`, id).
		Scan(&c.ID, &c.Name, &createdAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	c.CreatedAt = parseTime(createdAt)
	return &c, nil
}

func (s *queries) ListClients(ctx context.Context) ([]core.Client, error) {
	rows, err := s.q.QueryContext(ctx, `SELECT id, name, created_at FROM clients ORDER BY created_at`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []core.Client
	for rows.Next() {
		var (
			c         core.Client
			createdAt string
		)
		if err := rows.Scan(&c.ID, &c.Name, &createdAt); err != nil {
			return nil, err
		}
		c.CreatedAt = parseTime(createdAt)
		out = append(out, c)
	}
	return out, rows.Err()
}

// =============================================================================
// PROJECTS / ACTIVITIES
// =============================================================================

func (s *queries) SaveProject(ctx context.Context, p core.Project) error {
	_, err := s.q.ExecContext(ctx, `
		INSERT INTO projects (id, client_id, name, budget, created_at) VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			client_id = excluded.client_id,
			name = excluded.name,
			budget = excluded.budget`,
		p.ID, p.ClientID, p.Name, p.Budget.Value.String(), formatTime(p.CreatedAt))
	return err
}

func (s *queries) GetProject(ctx context.Context, id core.ProjectID) (*core.Project, error) {
	row := s.q.QueryRowContext(ctx, `SELECT id, client_id, name, budget, created_at FROM projects WHERE id = ?`, id)
	p, err := scanProject(row.Scan)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return p, err
}

func (s *queries) ListProjects(ctx context.Context, clientID core.ClientID) ([]core.Project, error) {
	query := `SELECT id, client_id, name, budget, created_at FROM projects`
	var args []any
	if clientID != "" {
		query += ` WHERE client_id = ?`
		args = append(args, clientID)
	}
	query += ` ORDER BY created_at`

	rows, err := s.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []core.Project
	for rows.Next() {
		p, err := scanProject(rows.Scan)
		if err != nil {
			return nil, err
		}
		out = append(out, *p)
	}
	return out, rows.Err()
}

func scanProject(scan func(...any) error) (*core.Project, error) {
	var (
		p         core.Project
		budget    string
		createdAt string
	)
	if err := scan(&p.ID, &p.ClientID, &p.Name, &budget, &createdAt); err != nil {
		return nil, err
	}
	p.Budget = core.MustParseMoney(budget)
	p.CreatedAt = parseTime(createdAt)
	return &p, nil
}

func (s *queries) SaveActivity(ctx context.Context, a core.Activity) error {
	_, err := s.q.ExecContext(ctx, `
		INSERT INTO activities (id, project_id, name, created_at) VALUES (?, ?, ?, ?)`,
		a.ID, a.ProjectID, a.Name, formatTime(a.CreatedAt))
	return err
}

func (s *queries) GetActivityByName(ctx context.Context, projectID core.ProjectID, name string) (*core.Activity, error) {
	var (
		a         core.Activity
		createdAt string
	)
	err := s.q.QueryRowContext(ctx, `
		SELECT id, project_id, name, created_at FROM activities
		WHERE project_id = ? AND name = ?`, projectID, name).
		Scan(&a.ID, &a.ProjectID, &a.Name, &createdAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	a.CreatedAt = parseTime(createdAt)
	return &a, nil
}

// =============================================================================
// TASKS
// =============================================================================

func (s *queries) SaveTask(ctx context.Context, t core.Task) error {
	var actual any
	if t.ActualMinutes != nil {
		actual = int(*t.ActualMinutes)
	}
	var due any
	if !t.DueDate.IsZero() {
		due = formatTime(t.DueDate)
	}
	_, err := s.q.ExecContext(ctx, `
		INSERT INTO tasks (id, activity_id, project_id, resource_id, name, estimated_minutes, actual_minutes, due_date, status, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			activity_id = excluded.activity_id,
			project_id = excluded.project_id,
			resource_id = excluded.resource_id,
			name = excluded.name,
			estimated_minutes = excluded.estimated_minutes,
			actual_minutes = excluded.actual_minutes,
			due_date = excluded.due_date,
			status = excluded.status`,
		t.ID, t.ActivityID, t.ProjectID, t.ResourceID, t.Name,
		int(t.EstimatedMinutes), actual, due, t.Status, formatTime(t.CreatedAt))
	return err
}

func (s *queries) GetTask(ctx context.Context, id core.TaskID) (*core.Task, error) {
	row := s.q.QueryRowContext(ctx, `
		SELECT id, activity_id, project_id, resource_id, name, estimated_minutes, actual_minutes, due_date, status, created_at
		FROM tasks WHERE id = ?`, id)
	t, err := scanTask(row.Scan)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return t, err
}

func (s *queries) ListTasks(ctx context.Context, filter core.TaskFilter) ([]core.Task, error) {
	query := `
		SELECT t.id, t.activity_id, t.project_id, t.resource_id, t.name,
		       t.estimated_minutes, t.actual_minutes, t.due_date, t.status, t.created_at
		FROM tasks t`
	var (
		where []string
		args  []any
	)
	if filter.ClientID != "" {
		query += ` JOIN projects p ON p.id = t.project_id`
		where = append(where, `p.client_id = ?`)
		args = append(args, filter.ClientID)
	}
	if filter.ResourceID != "" {
		where = append(where, `t.resource_id = ?`)
		args = append(args, filter.ResourceID)
	}
	if filter.ProjectID != "" {
		where = append(where, `t.project_id = ?`)
		args = append(args, filter.ProjectID)
	}
	if filter.Status != "" {
		where = append(where, `t.status = ?`)
		args = append(args, filter.Status)
	}
	if filter.DueFrom != nil {
		where = append(where, `t.due_date >= ?`)
		args = append(args, formatTime(*filter.DueFrom))
	}
	if filter.DueTo != nil {
		where = append(where, `t.due_date <= ?`)
		args = append(args, formatTime(*filter.DueTo))
	}
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, ` AND `)
	}
	query += ` ORDER BY t.created_at`

	rows, err := s.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []core.Task
	for rows.Next() {
		t, err := scanTask(rows.Scan)
		if err != nil {
			return nil, err
		}
		out = append(out, *t)
	}
	return out, rows.Err()
}

func scanTask(scan func(...any) error) (*core.Task, error) {
	var (
		t         core.Task
		estimated int
		actual    sql.NullInt64
		due       sql.NullString
		createdAt string
	)
	if err := scan(&t.ID, &t.ActivityID, &t.ProjectID, &t.ResourceID, &t.Name,
		&estimated, &actual, &due, &t.Status, &createdAt); err != nil {
		return nil, err
	}
	t.EstimatedMinutes = core.Minutes(estimated)
	if actual.Valid {
		m := core.Minutes(actual.Int64)
		t.ActualMinutes = &m
	}
	if due.Valid {
		t.DueDate = parseTime(due.String)
	}
	t.CreatedAt = parseTime(createdAt)
	return &t, nil
}

// =============================================================================
// MARGIN RECORDS
// =============================================================================

func (s *queries) SaveMarginRecord(ctx context.Context, m core.MarginRecord) error {
	_, err := s.q.ExecContext(ctx, `
		INSERT INTO margin_records (id, project_id, resource_id, base_hourly_cost, assigned_minutes, toggles, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		m.ID, m.ProjectID, m.ResourceID, m.BaseHourlyCost.Value.String(),
		int(m.AssignedMinutes), togglesToString(m.Toggles), formatTime(m.CreatedAt))
	return err
}

func (s *queries) GetMarginRecord(ctx context.Context, projectID core.ProjectID, resourceID core.ResourceID) (*core.MarginRecord, error) {
	row := s.q.QueryRowContext(ctx, `
		SELECT id, project_id, resource_id, base_hourly_cost, assigned_minutes, toggles, created_at
		FROM margin_records
		WHERE project_id = ? AND resource_id = ?
		ORDER BY created_at DESC LIMIT 1`, projectID, resourceID)
	m, err := scanMarginRecord(row.Scan)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return m, err
}

func (s *queries) ListMarginRecords(ctx context.Context, filter core.MarginFilter) ([]core.MarginRecord, error) {
	query := `
		SELECT id, project_id, resource_id, base_hourly_cost, assigned_minutes, toggles, created_at
		FROM margin_records`
	var (
		where []string
		args  []any
	)
	if filter.ProjectID != "" {
		where = append(where, `project_id = ?`)
		args = append(args, filter.ProjectID)
	}
	if filter.ResourceID != "" {
		where = append(where, `resource_id = ?`)
		args = append(args, filter.ResourceID)
	}
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, ` AND `)
	}
	query += ` ORDER BY created_at`

	rows, err := s.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []core.MarginRecord
	for rows.Next() {
		m, err := scanMarginRecord(rows.Scan)
		if err != nil {
			return nil, err
		}
		out = append(out, *m)
	}
	return out, rows.Err()
}

func scanMarginRecord(scan func(...any) error) (*core.MarginRecord, error) {
	var (
		m         core.MarginRecord
		cost      string
		assigned  int
		toggles   string
		createdAt string
	)
	if err := scan(&m.ID, &m.ProjectID, &m.ResourceID, &cost, &assigned, &toggles, &createdAt); err != nil {
		return nil, err
	}
	m.BaseHourlyCost = core.MustParseMoney(cost)
	m.AssignedMinutes = core.Minutes(assigned)
	m.Toggles = togglesFromString(toggles)
	m.CreatedAt = parseTime(createdAt)
	return &m, nil
}

// Toggles persist as a fixed-width bitstring, e.g. "111011111".
func togglesToString(t [9]bool) string {
	var b strings.Builder
	for _, on := range t {
		if on {
			b.WriteByte('1')
		} else {
			b.WriteByte('0')
		}
	}
	return b.String()
}

func togglesFromString(s string) [9]bool {
	var t [9]bool
	for i := 0; i < len(s) && i < len(t); i++ {
		t[i] = s[i] == '1'
	}
	return t
}

// =============================================================================
// BONUS RECORDS
// =============================================================================

func (s *queries) SaveBonusRecord(ctx context.Context, b core.BonusRecord) error {
	var disposedAt any
	if b.DisposedAt != nil {
		disposedAt = formatTime(*b.DisposedAt)
	}
	_, err := s.q.ExecContext(ctx, `
		INSERT INTO bonus_records (id, task_id, variance_minutes, classification, percentage, amount, state, remediation, disposed_by, disposed_at, comment, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			state = excluded.state,
			remediation = excluded.remediation,
			disposed_by = excluded.disposed_by,
			disposed_at = excluded.disposed_at,
			comment = excluded.comment`,
		b.ID, b.TaskID, int(b.VarianceMinutes), b.Classification,
		b.Percentage.Value.String(), b.Amount.Value.String(), b.State,
		b.Remediation, b.DisposedBy, disposedAt, b.Comment, formatTime(b.CreatedAt))
	return err
}

func (s *queries) GetBonusRecord(ctx context.Context, id core.BonusRecordID) (*core.BonusRecord, error) {
	row := s.q.QueryRowContext(ctx, bonusSelect+` WHERE id = ?`, id)
	b, err := scanBonusRecord(row.Scan)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return b, err
}

func (s *queries) GetBonusRecordByTask(ctx context.Context, taskID core.TaskID) (*core.BonusRecord, error) {
	row := s.q.QueryRowContext(ctx, bonusSelect+` WHERE task_id = ?`, taskID)
	b, err := scanBonusRecord(row.Scan)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return b, err
}

func (s *queries) ListBonusRecords(ctx context.Context, filter core.BonusFilter) ([]core.BonusRecord, error) {
	query := bonusSelect
	var (
		where []string
		args  []any
	)
	if filter.State != "" {
		where = append(where, `state = ?`)
		args = append(args, filter.State)
	}
	if filter.From != nil {
		where = append(where, `created_at >= ?`)
		args = append(args, formatTime(*filter.From))
	}
	if filter.To != nil {
		where = append(where, `created_at <= ?`)
		args = append(args, formatTime(*filter.To))
	}
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, ` AND `)
	}
	query += ` ORDER BY created_at`

	rows, err := s.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []core.BonusRecord
	for rows.Next() {
		b, err := scanBonusRecord(rows.Scan)
		if err != nil {
			return nil, err
		}
		out = append(out, *b)
	}
	return out, rows.Err()
}

const bonusSelect = `
	SELECT id, task_id, variance_minutes, classification, percentage, amount, state, remediation, disposed_by, disposed_at, comment, created_at
	FROM bonus_records`

func scanBonusRecord(scan func(...any) error) (*core.BonusRecord, error) {
	var (
		b          core.BonusRecord
		variance   int
		percentage string
		amount     string
		disposedAt sql.NullString
		createdAt  string
	)
	if err := scan(&b.ID, &b.TaskID, &variance, &b.Classification, &percentage,
		&amount, &b.State, &b.Remediation, &b.DisposedBy, &disposedAt, &b.Comment, &createdAt); err != nil {
		return nil, err
	}
	b.VarianceMinutes = core.Minutes(variance)
	b.Percentage = core.MustParseMoney(percentage)
	b.Amount = core.MustParseMoney(amount)
	if disposedAt.Valid {
		t := parseTime(disposedAt.String)
		b.DisposedAt = &t
	}
	b.CreatedAt = parseTime(createdAt)
	return &b, nil
}

// =============================================================================
// REDISTRIBUTION LEDGER
// =============================================================================

func (s *queries) AppendRedistribution(ctx context.Context, r core.RedistributionRecord) error {
	_, err := s.q.ExecContext(ctx, `
		INSERT INTO redistributions (id, source_task_id, dest_task_id, dest_project_id, withdraw_minutes, grant_minutes, created_by, justification, created_at, cancelled, cancel_reason, cancelled_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, FALSE, '', NULL)`,
		r.ID, r.SourceTaskID, r.DestTaskID, r.DestProjectID,
		int(r.WithdrawMinutes), int(r.GrantMinutes), r.CreatedBy, r.Justification,
		formatTime(r.CreatedAt))
	return err
}

func (s *queries) GetRedistribution(ctx context.Context, id core.RedistributionID) (*core.RedistributionRecord, error) {
	row := s.q.QueryRowContext(ctx, redistributionSelect+` WHERE r.id = ?`, id)
	r, err := scanRedistribution(row.Scan)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return r, err
}

// MarkRedistributionCancelled is the single UPDATE path on the ledger.
func (s *queries) MarkRedistributionCancelled(ctx context.Context, id core.RedistributionID, reason string, at time.Time) error {
	res, err := s.q.ExecContext(ctx, `
		UPDATE redistributions SET cancelled = TRUE, cancel_reason = ?, cancelled_at = ?
		WHERE id = ? AND cancelled = FALSE`,
		reason, formatTime(at), id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return core.ErrRedistributionNotFound
	}
	return nil
}

func (s *queries) ListRedistributions(ctx context.Context, filter core.RedistributionFilter, page core.Page) ([]core.RedistributionRecord, int, error) {
	query := redistributionSelect
	var (
		where []string
		args  []any
	)
	if filter.ResourceID != "" || filter.ProjectID != "" {
		query += ` JOIN tasks st ON st.id = r.source_task_id`
	}
	switch filter.State {
	case core.RedistributionActive:
		where = append(where, `r.cancelled = FALSE`)
	case core.RedistributionCancelled:
		where = append(where, `r.cancelled = TRUE`)
	}
	if filter.SourceTaskID != "" {
		where = append(where, `r.source_task_id = ?`)
		args = append(args, filter.SourceTaskID)
	}
	if filter.DestTaskID != "" {
		where = append(where, `r.dest_task_id = ?`)
		args = append(args, filter.DestTaskID)
	}
	if filter.ResourceID != "" {
		where = append(where, `st.resource_id = ?`)
		args = append(args, filter.ResourceID)
	}
	if filter.ProjectID != "" {
		where = append(where, `(st.project_id = ? OR r.dest_project_id = ?)`)
		args = append(args, filter.ProjectID, filter.ProjectID)
	}
	if filter.From != nil {
		where = append(where, `r.created_at >= ?`)
		args = append(args, formatTime(*filter.From))
	}
	if filter.To != nil {
		where = append(where, `r.created_at <= ?`)
		args = append(args, formatTime(*filter.To))
	}
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, ` AND `)
	}
	query += ` ORDER BY r.created_at`

	rows, err := s.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var all []core.RedistributionRecord
	for rows.Next() {
		r, err := scanRedistribution(rows.Scan)
		if err != nil {
			return nil, 0, err
		}
		all = append(all, *r)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, err
	}

	total := len(all)
	if page.Offset > 0 {
		if page.Offset >= total {
			return nil, total, nil
		}
		all = all[page.Offset:]
	}
	if page.Limit > 0 && len(all) > page.Limit {
		all = all[:page.Limit]
	}
	return all, total, nil
}

const redistributionSelect = `
	SELECT r.id, r.source_task_id, r.dest_task_id, r.dest_project_id, r.withdraw_minutes, r.grant_minutes, r.created_by, r.justification, r.created_at, r.cancelled, r.cancel_reason, r.cancelled_at
	FROM redistributions r`

func scanRedistribution(scan func(...any) error) (*core.RedistributionRecord, error) {
	var (
		r           core.RedistributionRecord
		withdraw    int
		grant       int
		createdAt   string
		cancelledAt sql.NullString
	)
	if err := scan(&r.ID, &r.SourceTaskID, &r.DestTaskID, &r.DestProjectID,
		&withdraw, &grant, &r.CreatedBy, &r.Justification, &createdAt,
		&r.Cancelled, &r.CancelReason, &cancelledAt); err != nil {
		return nil, err
	}
	r.WithdrawMinutes = core.Minutes(withdraw)
	r.GrantMinutes = core.Minutes(grant)
	r.CreatedAt = parseTime(createdAt)
	if cancelledAt.Valid {
		t := parseTime(cancelledAt.String)
		r.CancelledAt = &t
	}
	return &r, nil
}

// =============================================================================
// AUDIT LOG
// =============================================================================

func (s *queries) AppendAudit(ctx context.Context, entry core.AuditEntry) error {
	detailJSON, err := json.Marshal(entry.Detail)
	if err != nil {
		return fmt.Errorf("failed to marshal audit detail: %w", err)
	}
	_, err = s.q.ExecContext(ctx, `
		INSERT INTO audit_log (id, timestamp, actor_id, action, record_id, detail_json)
		VALUES (?, ?, ?, ?, ?, ?)`,
		entry.ID, formatTime(entry.Timestamp), entry.ActorID, entry.Action,
		entry.RecordID, string(detailJSON))
	return err
}

func (s *queries) QueryAudit(ctx context.Context, filter core.AuditFilter) ([]core.AuditEntry, error) {
	query := `SELECT id, timestamp, actor_id, action, record_id, detail_json FROM audit_log`
	var (
		where []string
		args  []any
	)
	if filter.ActorID != "" {
		where = append(where, `actor_id = ?`)
		args = append(args, filter.ActorID)
	}
	if filter.RecordID != "" {
		where = append(where, `record_id = ?`)
		args = append(args, filter.RecordID)
	}
	if len(filter.Actions) > 0 {
		placeholders := strings.TrimSuffix(strings.Repeat("?,", len(filter.Actions)), ",")
		where = append(where, `action IN (`+placeholders+`)`)
		for _, a := range filter.Actions {
			args = append(args, a)
		}
	}
	if filter.From != nil {
		where = append(where, `timestamp >= ?`)
		args = append(args, formatTime(*filter.From))
	}
	if filter.To != nil {
		where = append(where, `timestamp <= ?`)
		args = append(args, formatTime(*filter.To))
	}
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, ` AND `)
	}
	query += ` ORDER BY timestamp`

	rows, err := s.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []core.AuditEntry
	for rows.Next() {
		var (
			e          core.AuditEntry
			timestamp  string
			detailJSON sql.NullString
		)
		if err := rows.Scan(&e.ID, &timestamp, &e.ActorID, &e.Action, &e.RecordID, &detailJSON); err != nil {
			return nil, err
		}
		e.Timestamp = parseTime(timestamp)
		if detailJSON.Valid && detailJSON.String != "" {
			if err := json.Unmarshal([]byte(detailJSON.String), &e.Detail); err != nil {
				return nil, fmt.Errorf("failed to unmarshal audit detail: %w", err)
			}
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// =============================================================================
// TIME HELPERS
// =============================================================================

// Timestamps persist as RFC3339Nano in UTC so lexical ordering matches
// chronological ordering.
func formatTime(t time.Time) string { return t.UTC().Format(time.RFC3339Nano) }

func parseTime(s string) time.Time {
	t, _ := time.Parse(time.RFC3339Nano, s)
	return t
}
