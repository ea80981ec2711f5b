// Package store provides the in-memory core.TxStore implementation used by
// tests and local development. The SQLite implementation lives in
// store/sqlite at the repository root.
package store

import (
	"context"
	"sync"
	"time"

	"github.com/warp/cost-engine/core"
)

// =============================================================================
// MEMORY STORE
// =============================================================================

// Memory holds every collection behind one mutex. Public methods lock per
// call; WithTx holds the write lock for the whole unit of work and routes
// inner calls through an unlocked view, so a transaction observes and
// mutates a consistent state. Rollback restores a full snapshot.
type Memory struct {
	mu sync.RWMutex

	resources  map[core.ResourceID]core.Resource
	clients    map[core.ClientID]core.Client
	projects   map[core.ProjectID]core.Project
	activities map[core.ActivityID]core.Activity
	tasks      map[core.TaskID]core.Task
	margins    map[core.MarginRecordID]core.MarginRecord
	bonuses    map[core.BonusRecordID]core.BonusRecord

	// Insertion-ordered: the ledger and the audit log are append-only.
	redistributions []core.RedistributionRecord
	audits          []core.AuditEntry
}

func NewMemory() *Memory {
	return &Memory{
		resources:  make(map[core.ResourceID]core.Resource),
		clients:    make(map[core.ClientID]core.Client),
		projects:   make(map[core.ProjectID]core.Project),
		activities: make(map[core.ActivityID]core.Activity),
		tasks:      make(map[core.TaskID]core.Task),
		margins:    make(map[core.MarginRecordID]core.MarginRecord),
		bonuses:    make(map[core.BonusRecordID]core.BonusRecord),
	}
}

var _ core.TxStore = (*Memory)(nil)

// =============================================================================
// RESOURCES
// =============================================================================

func (m *Memory) SaveResource(_ context.Context, r core.Resource) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.saveResourceLocked(r)
}

func (m *Memory) saveResourceLocked(r core.Resource) error {
	m.resources[r.ID] = r
	return nil
}

func (m *Memory) GetResource(_ context.Context, id core.ResourceID) (*core.Resource, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.getResourceLocked(id)
}

func (m *Memory) getResourceLocked(id core.ResourceID) (*core.Resource, error) {
	if r, ok := m.resources[id]; ok {
		return &r, nil
	}
	return nil, nil
}

func (m *Memory) ListResources(_ context.Context) ([]core.Resource, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.listResourcesLocked()
}

func (m *Memory) listResourcesLocked() ([]core.Resource, error) {
	out := make([]core.Resource, 0, len(m.resources))
	for _, r := range m.resources {
		out = append(out, r)
	}
	return out, nil
}

// =============================================================================
// CLIENTS / PROJECTS / ACTIVITIES
// =============================================================================

func (m *Memory) SaveClient(_ context.Context, c core.Client) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.saveClientLocked(c)
}

func (m *Memory) saveClientLocked(c core.Client) error {
	m.clients[c.ID] = c
	return nil
}

func (m *Memory) GetClient(_ context.Context, id core.ClientID) (*core.Client, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.getClientLocked(id)
}

func (m *Memory) getClientLocked(id core.ClientID) (*core.Client, error) {
	if c, ok := m.clients[id]; ok {
		return &c, nil
	}
	return nil, nil
}

func (m *Memory) ListClients(_ context.Context) ([]core.Client, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.listClientsLocked()
}

func (m *Memory) listClientsLocked() ([]core.Client, error) {
	out := make([]core.Client, 0, len(m.clients))
	for _, c := range m.clients {
		out = append(out, c)
	}
	return out, nil
}

func (m *Memory) SaveProject(_ context.Context, p core.Project) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.saveProjectLocked(p)
}

func (m *Memory) saveProjectLocked(p core.Project) error {
	m.projects[p.ID] = p
	return nil
}

func (m *Memory) GetProject(_ context.Context, id core.ProjectID) (*core.Project, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.getProjectLocked(id)
}

func (m *Memory) getProjectLocked(id core.ProjectID) (*core.Project, error) {
	if p, ok := m.projects[id]; ok {
		return &p, nil
	}
	return nil, nil
}

func (m *Memory) ListProjects(_ context.Context, clientID core.ClientID) ([]core.Project, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.listProjectsLocked(clientID)
}

func (m *Memory) listProjectsLocked(clientID core.ClientID) ([]core.Project, error) {
	var out []core.Project
	for _, p := range m.projects {
		if clientID != "" && p.ClientID != clientID {
			continue
		}
		out = append(out, p)
	}
	return out, nil
}

func (m *Memory) SaveActivity(_ context.Context, a core.Activity) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.saveActivityLocked(a)
}

func (m *Memory) saveActivityLocked(a core.Activity) error {
	m.activities[a.ID] = a
	return nil
}

func (m *Memory) GetActivityByName(_ context.Context, projectID core.ProjectID, name string) (*core.Activity, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.getActivityByNameLocked(projectID, name)
}

func (m *Memory) getActivityByNameLocked(projectID core.ProjectID, name string) (*core.Activity, error) {
	for _, a := range m.activities {
		if a.ProjectID == projectID && a.Name == name {
			a := a
			return &a, nil
		}
	}
	return nil, nil
}

// =============================================================================
// TASKS
// =============================================================================

func (m *Memory) SaveTask(_ context.Context, t core.Task) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.saveTaskLocked(t)
}

func (m *Memory) saveTaskLocked(t core.Task) error {
	m.tasks[t.ID] = t
	return nil
}

func (m *Memory) GetTask(_ context.Context, id core.TaskID) (*core.Task, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.getTaskLocked(id)
}

func (m *Memory) getTaskLocked(id core.TaskID) (*core.Task, error) {
	if t, ok := m.tasks[id]; ok {
		return &t, nil
	}
	return nil, nil
}

func (m *Memory) ListTasks(_ context.Context, filter core.TaskFilter) ([]core.Task, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.listTasksLocked(filter)
}

func (m *Memory) listTasksLocked(filter core.TaskFilter) ([]core.Task, error) {
	var out []core.Task
	for _, t := range m.tasks {
		if m.matchTask(t, filter) {
			out = append(out, t)
		}
	}
	return out, nil
}

func (m *Memory) matchTask(t core.Task, f core.TaskFilter) bool {
	if f.ResourceID != "" && t.ResourceID != f.ResourceID {
		return false
	}
	if f.ProjectID != "" && t.ProjectID != f.ProjectID {
		return false
	}
	if f.ClientID != "" {
		p, ok := m.projects[t.ProjectID]
		if !ok || p.ClientID != f.ClientID {
			return false
		}
	}
	if f.Status != "" && t.Status != f.Status {
		return false
	}
	if f.DueFrom != nil && t.DueDate.Before(*f.DueFrom) {
		return false
	}
	if f.DueTo != nil && t.DueDate.After(*f.DueTo) {
		return false
	}
	return true
}

// =============================================================================
// MARGIN RECORDS
// =============================================================================

func (m *Memory) SaveMarginRecord(_ context.Context, rec core.MarginRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.saveMarginRecordLocked(rec)
}

func (m *Memory) saveMarginRecordLocked(rec core.MarginRecord) error {
	m.margins[rec.ID] = rec
	return nil
}

func (m *Memory) GetMarginRecord(_ context.Context, projectID core.ProjectID, resourceID core.ResourceID) (*core.MarginRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.getMarginRecordLocked(projectID, resourceID)
}

func (m *Memory) getMarginRecordLocked(projectID core.ProjectID, resourceID core.ResourceID) (*core.MarginRecord, error) {
	// Latest assignment wins when the pair was assigned more than once.
	var found *core.MarginRecord
	for _, rec := range m.margins {
		rec := rec
		if rec.ProjectID != projectID || rec.ResourceID != resourceID {
			continue
		}
		if found == nil || rec.CreatedAt.After(found.CreatedAt) {
			found = &rec
		}
	}
	return found, nil
}

func (m *Memory) ListMarginRecords(_ context.Context, filter core.MarginFilter) ([]core.MarginRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.listMarginRecordsLocked(filter)
}

func (m *Memory) listMarginRecordsLocked(filter core.MarginFilter) ([]core.MarginRecord, error) {
	var out []core.MarginRecord
	for _, rec := range m.margins {
		if filter.ProjectID != "" && rec.ProjectID != filter.ProjectID {
			continue
		}
		if filter.ResourceID != "" && rec.ResourceID != filter.ResourceID {
			continue
		}
		out = append(out, rec)
	}
	return out, nil
}

// =============================================================================
// BONUS RECORDS
// =============================================================================

func (m *Memory) SaveBonusRecord(_ context.Context, b core.BonusRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.saveBonusRecordLocked(b)
}

func (m *Memory) saveBonusRecordLocked(b core.BonusRecord) error {
	m.bonuses[b.ID] = b
	return nil
}

func (m *Memory) GetBonusRecord(_ context.Context, id core.BonusRecordID) (*core.BonusRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.getBonusRecordLocked(id)
}

func (m *Memory) getBonusRecordLocked(id core.BonusRecordID) (*core.BonusRecord, error) {
	if b, ok := m.bonuses[id]; ok {
		return &b, nil
	}
	return nil, nil
}

func (m *Memory) GetBonusRecordByTask(_ context.Context, taskID core.TaskID) (*core.BonusRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.getBonusRecordByTaskLocked(taskID)
}

func (m *Memory) getBonusRecordByTaskLocked(taskID core.TaskID) (*core.BonusRecord, error) {
	for _, b := range m.bonuses {
		if b.TaskID == taskID {
			b := b
			return &b, nil
		}
	}
	return nil, nil
}

func (m *Memory) ListBonusRecords(_ context.Context, filter core.BonusFilter) ([]core.BonusRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.listBonusRecordsLocked(filter)
}

func (m *Memory) listBonusRecordsLocked(filter core.BonusFilter) ([]core.BonusRecord, error) {
	var out []core.BonusRecord
	for _, b := range m.bonuses {
		if filter.State != "" && b.State != filter.State {
			continue
		}
		if filter.From != nil && b.CreatedAt.Before(*filter.From) {
			continue
		}
		if filter.To != nil && b.CreatedAt.After(*filter.To) {
			continue
		}
		out = append(out, b)
	}
	return out, nil
}

// =============================================================================
// REDISTRIBUTION LEDGER
// =============================================================================

func (m *Memory) AppendRedistribution(_ context.Context, r core.RedistributionRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.appendRedistributionLocked(r)
}

func (m *Memory) appendRedistributionLocked(r core.RedistributionRecord) error {
	m.redistributions = append(m.redistributions, r)
	return nil
}

func (m *Memory) GetRedistribution(_ context.Context, id core.RedistributionID) (*core.RedistributionRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.getRedistributionLocked(id)
}

func (m *Memory) getRedistributionLocked(id core.RedistributionID) (*core.RedistributionRecord, error) {
	for i := range m.redistributions {
		if m.redistributions[i].ID == id {
			r := m.redistributions[i]
			return &r, nil
		}
	}
	return nil, nil
}

func (m *Memory) MarkRedistributionCancelled(_ context.Context, id core.RedistributionID, reason string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.markRedistributionCancelledLocked(id, reason, at)
}

func (m *Memory) markRedistributionCancelledLocked(id core.RedistributionID, reason string, at time.Time) error {
	for i := range m.redistributions {
		if m.redistributions[i].ID == id {
			m.redistributions[i].Cancelled = true
			m.redistributions[i].CancelReason = reason
			at := at
			m.redistributions[i].CancelledAt = &at
			return nil
		}
	}
	return core.ErrRedistributionNotFound
}

func (m *Memory) ListRedistributions(_ context.Context, filter core.RedistributionFilter, page core.Page) ([]core.RedistributionRecord, int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.listRedistributionsLocked(filter, page)
}

func (m *Memory) listRedistributionsLocked(filter core.RedistributionFilter, page core.Page) ([]core.RedistributionRecord, int, error) {
	var matched []core.RedistributionRecord
	for _, r := range m.redistributions {
		if m.matchRedistribution(r, filter) {
			matched = append(matched, r)
		}
	}

	total := len(matched)
	if page.Offset > 0 {
		if page.Offset >= total {
			return nil, total, nil
		}
		matched = matched[page.Offset:]
	}
	if page.Limit > 0 && len(matched) > page.Limit {
		matched = matched[:page.Limit]
	}
	return matched, total, nil
}

func (m *Memory) matchRedistribution(r core.RedistributionRecord, f core.RedistributionFilter) bool {
	switch f.State {
	case core.RedistributionActive:
		if r.Cancelled {
			return false
		}
	case core.RedistributionCancelled:
		if !r.Cancelled {
			return false
		}
	}
	if f.SourceTaskID != "" && r.SourceTaskID != f.SourceTaskID {
		return false
	}
	if f.DestTaskID != "" && r.DestTaskID != f.DestTaskID {
		return false
	}
	if f.ResourceID != "" {
		source, ok := m.tasks[r.SourceTaskID]
		if !ok || source.ResourceID != f.ResourceID {
			return false
		}
	}
	if f.ProjectID != "" {
		source, ok := m.tasks[r.SourceTaskID]
		sourceMatch := ok && source.ProjectID == f.ProjectID
		if !sourceMatch && r.DestProjectID != f.ProjectID {
			return false
		}
	}
	if f.From != nil && r.CreatedAt.Before(*f.From) {
		return false
	}
	if f.To != nil && r.CreatedAt.After(*f.To) {
		return false
	}
	return true
}

// =============================================================================
// AUDIT LOG
// =============================================================================

func (m *Memory) AppendAudit(_ context.Context, entry core.AuditEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.appendAuditLocked(entry)
}

func (m *Memory) appendAuditLocked(entry core.AuditEntry) error {
	m.audits = append(m.audits, entry)
	return nil
}

func (m *Memory) QueryAudit(_ context.Context, filter core.AuditFilter) ([]core.AuditEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.queryAuditLocked(filter)
}

func (m *Memory) queryAuditLocked(filter core.AuditFilter) ([]core.AuditEntry, error) {
	var out []core.AuditEntry
	for _, e := range m.audits {
		if filter.ActorID != "" && e.ActorID != filter.ActorID {
			continue
		}
		if filter.RecordID != "" && e.RecordID != filter.RecordID {
			continue
		}
		if len(filter.Actions) > 0 && !containsAction(filter.Actions, e.Action) {
			continue
		}
		if filter.From != nil && e.Timestamp.Before(*filter.From) {
			continue
		}
		if filter.To != nil && e.Timestamp.After(*filter.To) {
			continue
		}
		out = append(out, e)
	}
	return out, nil
}

func containsAction(actions []core.AuditAction, a core.AuditAction) bool {
	for _, x := range actions {
		if x == a {
			return true
		}
	}
	return false
}

// =============================================================================
// UNIT OF WORK - Lock held for the whole transaction
// =============================================================================

// WithTx executes fn within a transaction. The write lock is held for the
// entire unit of work and fn's store routes through an unlocked view, so
// concurrent transactions serialize: a sufficiency check and the write it
// guards always observe the same state. A full snapshot taken up front is
// restored when fn fails, so a rejected operation leaves nothing behind.
func (m *Memory) WithTx(_ context.Context, fn func(core.Store) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	snapshot := m.snapshot()
	if err := fn(&txMemoryView{parent: m}); err != nil {
		m.restore(snapshot)
		return err
	}
	return nil
}

type memorySnapshot struct {
	resources  map[core.ResourceID]core.Resource
	clients    map[core.ClientID]core.Client
	projects   map[core.ProjectID]core.Project
	activities map[core.ActivityID]core.Activity
	tasks      map[core.TaskID]core.Task
	margins    map[core.MarginRecordID]core.MarginRecord
	bonuses    map[core.BonusRecordID]core.BonusRecord

	redistributions []core.RedistributionRecord
	audits          []core.AuditEntry
}

// snapshot and restore run with m.mu already held by WithTx.
func (m *Memory) snapshot() memorySnapshot {
	return memorySnapshot{
		resources:       copyMap(m.resources),
		clients:         copyMap(m.clients),
		projects:        copyMap(m.projects),
		activities:      copyMap(m.activities),
		tasks:           copyMap(m.tasks),
		margins:         copyMap(m.margins),
		bonuses:         copyMap(m.bonuses),
		redistributions: append([]core.RedistributionRecord{}, m.redistributions...),
		audits:          append([]core.AuditEntry{}, m.audits...),
	}
}

func (m *Memory) restore(s memorySnapshot) {
	m.resources = s.resources
	m.clients = s.clients
	m.projects = s.projects
	m.activities = s.activities
	m.tasks = s.tasks
	m.margins = s.margins
	m.bonuses = s.bonuses
	m.redistributions = s.redistributions
	m.audits = s.audits
}

func copyMap[K comparable, V any](in map[K]V) map[K]V {
	out := make(map[K]V, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

// =============================================================================
// TRANSACTIONAL VIEW - Inner calls while WithTx holds the lock
// =============================================================================

type txMemoryView struct {
	parent *Memory
}

var _ core.Store = (*txMemoryView)(nil)

func (tv *txMemoryView) SaveResource(_ context.Context, r core.Resource) error {
	return tv.parent.saveResourceLocked(r)
}

func (tv *txMemoryView) GetResource(_ context.Context, id core.ResourceID) (*core.Resource, error) {
	return tv.parent.getResourceLocked(id)
}

func (tv *txMemoryView) ListResources(_ context.Context) ([]core.Resource, error) {
	return tv.parent.listResourcesLocked()
}

func (tv *txMemoryView) SaveClient(_ context.Context, c core.Client) error {
	return tv.parent.saveClientLocked(c)
}

func (tv *txMemoryView) GetClient(_ context.Context, id core.ClientID) (*core.Client, error) {
	return tv.parent.getClientLocked(id)
}

func (tv *txMemoryView) ListClients(_ context.Context) ([]core.Client, error) {
	return tv.parent.listClientsLocked()
}

func (tv *txMemoryView) SaveProject(_ context.Context, p core.Project) error {
	return tv.parent.saveProjectLocked(p)
}

func (tv *txMemoryView) GetProject(_ context.Context, id core.ProjectID) (*core.Project, error) {
	return tv.parent.getProjectLocked(id)
}

func (tv *txMemoryView) ListProjects(_ context.Context, clientID core.ClientID) ([]core.Project, error) {
	return tv.parent.listProjectsLocked(clientID)
}

func (tv *txMemoryView) SaveActivity(_ context.Context, a core.Activity) error {
	return tv.parent.saveActivityLocked(a)
}

func (tv *txMemoryView) GetActivityByName(_ context.Context, projectID core.ProjectID, name string) (*core.Activity, error) {
	return tv.parent.getActivityByNameLocked(projectID, name)
}

func (tv *txMemoryView) SaveTask(_ context.Context, t core.Task) error {
	return tv.parent.saveTaskLocked(t)
}

func (tv *txMemoryView) GetTask(_ context.Context, id core.TaskID) (*core.Task, error) {
	return tv.parent.getTaskLocked(id)
}

func (tv *txMemoryView) ListTasks(_ context.Context, filter core.TaskFilter) ([]core.Task, error) {
	return tv.parent.listTasksLocked(filter)
}

func (tv *txMemoryView) SaveMarginRecord(_ context.Context, rec core.MarginRecord) error {
	return tv.parent.saveMarginRecordLocked(rec)
}

func (tv *txMemoryView) GetMarginRecord(_ context.Context, projectID core.ProjectID, resourceID core.ResourceID) (*core.MarginRecord, error) {
	return tv.parent.getMarginRecordLocked(projectID, resourceID)
}

func (tv *txMemoryView) ListMarginRecords(_ context.Context, filter core.MarginFilter) ([]core.MarginRecord, error) {
	return tv.parent.listMarginRecordsLocked(filter)
}

func (tv *txMemoryView) SaveBonusRecord(_ context.Context, b core.BonusRecord) error {
	return tv.parent.saveBonusRecordLocked(b)
}

func (tv *txMemoryView) GetBonusRecord(_ context.Context, id core.BonusRecordID) (*core.BonusRecord, error) {
	return tv.parent.getBonusRecordLocked(id)
}

func (tv *txMemoryView) GetBonusRecordByTask(_ context.Context, taskID core.TaskID) (*core.BonusRecord, error) {
	return tv.parent.getBonusRecordByTaskLocked(taskID)
}

func (tv *txMemoryView) ListBonusRecords(_ context.Context, filter core.BonusFilter) ([]core.BonusRecord, error) {
	return tv.parent.listBonusRecordsLocked(filter)
}

func (tv *txMemoryView) AppendRedistribution(_ context.Context, r core.RedistributionRecord) error {
	return tv.parent.appendRedistributionLocked(r)
}

func (tv *txMemoryView) GetRedistribution(_ context.Context, id core.RedistributionID) (*core.RedistributionRecord, error) {
	return tv.parent.getRedistributionLocked(id)
}

func (tv *txMemoryView) MarkRedistributionCancelled(_ context.Context, id core.RedistributionID, reason string, at time.Time) error {
	return tv.parent.markRedistributionCancelledLocked(id, reason, at)
}

func (tv *txMemoryView) ListRedistributions(_ context.Context, filter core.RedistributionFilter, page core.Page) ([]core.RedistributionRecord, int, error) {
	return tv.parent.listRedistributionsLocked(filter, page)
}

func (tv *txMemoryView) AppendAudit(_ context.Context, entry core.AuditEntry) error {
	return tv.parent.appendAuditLocked(entry)
}

func (tv *txMemoryView) QueryAudit(_ context.Context, filter core.AuditFilter) ([]core.AuditEntry, error) {
	return tv.parent.queryAuditLocked(filter)
}
