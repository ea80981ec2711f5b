/*
handlers.go - HTTP API handlers for the cost and hour-ledger engine

PURPOSE:
  Exposes the engines via REST API. Handles HTTP request/response, JSON
  serialization, and delegates to domain logic.

ENDPOINTS:
  Resources:
    GET    /api/resources                 List all resources
    POST   /api/resources                 Create resource
    GET    /api/resources/{id}            Get resource details
    GET    /api/resources/{id}/capacity   Capacity report (?period=&as_of=)

  Clients / Projects / Tasks:
    GET    /api/clients                   List clients
    POST   /api/clients                   Create client
    GET    /api/projects                  List projects (?client_id=)
    POST   /api/projects                  Create project
    GET    /api/projects/{id}             Get project
    GET    /api/tasks                     List tasks (filters)
    POST   /api/tasks                     Create task
    GET    /api/tasks/{id}                Get task
    POST   /api/tasks/{id}/complete       Record actual minutes, once

  Margin:
    POST   /api/margin/preview            Price a cascade without persisting
    GET    /api/assignments               List margin records
    POST   /api/assignments               Commit an assignment

  Bonus:
    GET    /api/bonuses                   List bonus records (?state=)
    POST   /api/bonuses/evaluate          Evaluate a completed task
    POST   /api/bonuses/{id}/dispose      Approve / reject / remediate

  Hour ledger:
    GET    /api/ledger/credits            Derived credit positions
    GET    /api/ledger/debits             Derived debit positions
    GET    /api/redistributions           Ledger history (filters + paging)
    POST   /api/redistributions           Create a transfer
    DELETE /api/redistributions/{id}      Soft-cancel a transfer

  Reporting:
    GET    /api/overview                  Budget/bonus/utilization rollup
    GET    /api/audit                     Audit trail (?actor_id=&record_id=)

ERROR HANDLING:
  Engine errors map to HTTP status by taxonomy kind:
  - 400: validation (bad magnitudes, missing justification/comment)
  - 403: authorization (manager-only operation)
  - 404: referenced entity not found
  - 409: illegal lifecycle transition
  - 422: conservation (insufficient credit, budget exceeded)
  - 500: everything else

SEE ALSO:
  - dto.go: Request/response data structures
  - server.go: Router setup and middleware
*/
package api

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/warp/cost-engine/bonus"
	"github.com/warp/cost-engine/budget"
	"github.com/warp/cost-engine/capacity"
	"github.com/warp/cost-engine/core"
	"github.com/warp/cost-engine/hourledger"
	"github.com/warp/cost-engine/margin"
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Store    core.TxStore
	Assign   *margin.AssignService
	Bonus    *bonus.Service
	Ledger   *hourledger.Engine
	Capacity *capacity.Service
	Budget   *budget.Aggregator
}

// NewHandler wires the engines over the given store.
func NewHandler(store core.TxStore) *Handler {
	cap := capacity.NewService(store)
	return &Handler{
		Store:    store,
		Assign:   margin.NewAssignService(store),
		Bonus:    bonus.NewService(store),
		Ledger:   hourledger.NewEngine(store),
		Capacity: cap,
		Budget:   budget.NewAggregator(store, cap),
	}
}

// =============================================================================
// RESOURCE HANDLERS
// =============================================================================

// ListResources returns all resources.
func (h *Handler) ListResources(w http.ResponseWriter, r *http.Request) {
	resources, err := h.Store.ListResources(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list resources", err)
		return
	}

	dtos := make([]ResourceDTO, len(resources))
	for i, res := range resources {
		dtos[i] = toResourceDTO(res)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// GetResource returns a single resource.
func (h *Handler) GetResource(w http.ResponseWriter, r *http.Request) {
	id := core.ResourceID(chi.URLParam(r, "id"))

	res, err := h.Store.GetResource(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to get resource", err)
		return
	}
	if res == nil {
		writeError(w, http.StatusNotFound, "Resource not found", nil)
		return
	}
	writeJSON(w, http.StatusOK, toResourceDTO(*res))
}

// CreateResource creates a new resource.
func (h *Handler) CreateResource(w http.ResponseWriter, r *http.Request) {
	var req CreateResourceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if req.BaseHourlyCost <= 0 {
		writeError(w, http.StatusBadRequest, "base_hourly_cost must be positive", core.ErrInvalidBaseCost)
		return
	}

	res := core.Resource{
		ID:             core.ResourceID(orNewID(req.ID)),
		Name:           req.Name,
		BaseHourlyCost: core.NewMoney(req.BaseHourlyCost),
		CostOverridden: true,
		CreatedAt:      time.Now().UTC(),
	}
	if req.AnnualHours != nil {
		res.AnnualMinutes = core.Minutes(*req.AnnualHours * 60)
		res.AnnualOverridden = true
	}

	if err := h.Store.SaveResource(r.Context(), res); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to create resource", err)
		return
	}
	writeJSON(w, http.StatusCreated, toResourceDTO(res))
}

// GetResourceCapacity returns the capacity report for a period.
// GET /api/resources/{id}/capacity?period=month&as_of=2026-03-15
func (h *Handler) GetResourceCapacity(w http.ResponseWriter, r *http.Request) {
	id := core.ResourceID(chi.URLParam(r, "id"))

	period, err := capacity.ParsePeriod(orDefault(r.URL.Query().Get("period"), "month"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid period (day, week, month, quarter, year)", err)
		return
	}

	asOf := time.Now().UTC()
	if raw := r.URL.Query().Get("as_of"); raw != "" {
		asOf, err = time.Parse("2006-01-02", raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid as_of format (use YYYY-MM-DD)", err)
			return
		}
	}

	report, err := h.Capacity.GetCapacity(r.Context(), id, period, asOf)
	if err != nil {
		writeEngineError(w, "Failed to compute capacity", err)
		return
	}

	writeJSON(w, http.StatusOK, CapacityReportDTO{
		ResourceID:      string(report.ResourceID),
		Period:          string(report.Period),
		CapacityHours:   report.CapacityHours.StringFixed(2),
		AssignedMinutes: int(report.AssignedMinutes),
		UtilizationPct:  report.UtilizationPct.StringFixed(2),
		Status:          string(report.Status),
	})
}

// =============================================================================
// CLIENT / PROJECT HANDLERS
// =============================================================================

func (h *Handler) ListClients(w http.ResponseWriter, r *http.Request) {
	clients, err := h.Store.ListClients(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list clients", err)
		return
	}

	dtos := make([]ClientDTO, len(clients))
	for i, c := range clients {
		dtos[i] = ClientDTO{ID: string(c.ID), Name: c.Name, CreatedAt: c.CreatedAt.Format(time.RFC3339)}
	}
	writeJSON(w, http.StatusOK, dtos)
}

func (h *Handler) CreateClient(w http.ResponseWriter, r *http.Request) {
	var req CreateClientRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	c := core.Client{
		ID:        core.ClientID(orNewID(req.ID)),
		Name:      req.Name,
		CreatedAt: time.Now().UTC(),
	}
	if err := h.Store.SaveClient(r.Context(), c); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to create client", err)
		return
	}
	writeJSON(w, http.StatusCreated, ClientDTO{ID: string(c.ID), Name: c.Name, CreatedAt: c.CreatedAt.Format(time.RFC3339)})
}

func (h *Handler) ListProjects(w http.ResponseWriter, r *http.Request) {
	clientID := core.ClientID(r.URL.Query().Get("client_id"))
	projects, err := h.Store.ListProjects(r.Context(), clientID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list projects", err)
		return
	}

	dtos := make([]ProjectDTO, len(projects))
	for i, p := range projects {
		dtos[i] = toProjectDTO(p)
	}
	writeJSON(w, http.StatusOK, dtos)
}

func (h *Handler) GetProject(w http.ResponseWriter, r *http.Request) {
	id := core.ProjectID(chi.URLParam(r, "id"))

	p, err := h.Store.GetProject(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to get project", err)
		return
	}
	if p == nil {
		writeError(w, http.StatusNotFound, "Project not found", nil)
		return
	}
	writeJSON(w, http.StatusOK, toProjectDTO(*p))
}

func (h *Handler) CreateProject(w http.ResponseWriter, r *http.Request) {
	var req CreateProjectRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	client, err := h.Store.GetClient(r.Context(), core.ClientID(req.ClientID))
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to check client", err)
		return
	}
	if client == nil {
		writeError(w, http.StatusNotFound, "Client not found", core.ErrClientNotFound)
		return
	}

	p := core.Project{
		ID:        core.ProjectID(orNewID(req.ID)),
		ClientID:  core.ClientID(req.ClientID),
		Name:      req.Name,
		Budget:    core.NewMoney(req.Budget),
		CreatedAt: time.Now().UTC(),
	}
	if err := h.Store.SaveProject(r.Context(), p); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to create project", err)
		return
	}
	writeJSON(w, http.StatusCreated, toProjectDTO(p))
}

// =============================================================================
// TASK HANDLERS
// =============================================================================

func (h *Handler) ListTasks(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := core.TaskFilter{
		ResourceID: core.ResourceID(q.Get("resource_id")),
		ProjectID:  core.ProjectID(q.Get("project_id")),
		ClientID:   core.ClientID(q.Get("client_id")),
		Status:     core.TaskStatus(q.Get("status")),
	}

	tasks, err := h.Store.ListTasks(r.Context(), filter)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list tasks", err)
		return
	}

	dtos := make([]TaskDTO, len(tasks))
	for i, t := range tasks {
		dtos[i] = toTaskDTO(t)
	}
	writeJSON(w, http.StatusOK, dtos)
}

func (h *Handler) GetTask(w http.ResponseWriter, r *http.Request) {
	id := core.TaskID(chi.URLParam(r, "id"))

	t, err := h.Store.GetTask(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to get task", err)
		return
	}
	if t == nil {
		writeError(w, http.StatusNotFound, "Task not found", nil)
		return
	}
	writeJSON(w, http.StatusOK, toTaskDTO(*t))
}

func (h *Handler) CreateTask(w http.ResponseWriter, r *http.Request) {
	var req CreateTaskRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if req.EstimatedMinutes <= 0 {
		writeError(w, http.StatusBadRequest, "estimated_minutes must be positive", core.ErrInvalidMinutes)
		return
	}

	var due time.Time
	if req.DueDate != "" {
		var err error
		due, err = time.Parse("2006-01-02", req.DueDate)
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid due_date format (use YYYY-MM-DD)", err)
			return
		}
	}

	t := core.Task{
		ID:               core.TaskID(orNewID(req.ID)),
		ActivityID:       core.ActivityID(req.ActivityID),
		ProjectID:        core.ProjectID(req.ProjectID),
		ResourceID:       core.ResourceID(req.ResourceID),
		Name:             req.Name,
		EstimatedMinutes: core.Minutes(req.EstimatedMinutes),
		DueDate:          due,
		Status:           core.TaskScheduled,
		CreatedAt:        time.Now().UTC(),
	}
	if err := h.Store.SaveTask(r.Context(), t); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to create task", err)
		return
	}
	writeJSON(w, http.StatusCreated, toTaskDTO(t))
}

// CompleteTask records actual minutes exactly once and marks the task
// completed. Re-completion is refused so the variance stays immutable.
func (h *Handler) CompleteTask(w http.ResponseWriter, r *http.Request) {
	id := core.TaskID(chi.URLParam(r, "id"))

	var req CompleteTaskRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if req.ActualMinutes <= 0 {
		writeError(w, http.StatusBadRequest, "actual_minutes must be positive", core.ErrInvalidMinutes)
		return
	}

	var completed core.Task
	err := h.Store.WithTx(r.Context(), func(store core.Store) error {
		t, err := store.GetTask(r.Context(), id)
		if err != nil {
			return err
		}
		if t == nil {
			return core.ErrTaskNotFound
		}
		if t.Status == core.TaskCompleted {
			return core.ErrTaskAlreadyDone
		}

		actual := core.Minutes(req.ActualMinutes)
		t.ActualMinutes = &actual
		t.Status = core.TaskCompleted
		completed = *t
		return store.SaveTask(r.Context(), *t)
	})
	if err != nil {
		writeEngineError(w, "Failed to complete task", err)
		return
	}
	writeJSON(w, http.StatusOK, toTaskDTO(completed))
}

// =============================================================================
// MARGIN HANDLERS
// =============================================================================

// PreviewMargin prices a cascade without persisting anything.
func (h *Handler) PreviewMargin(w http.ResponseWriter, r *http.Request) {
	var req PreviewRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	preview, err := margin.ComputePreview(core.NewMoney(req.BaseHourlyCost), req.Toggles.Resolve(), core.Minutes(req.Minutes))
	if err != nil {
		writeEngineError(w, "Failed to compute preview", err)
		return
	}

	writeJSON(w, http.StatusOK, PreviewDTO{
		ScheduleDTO: toScheduleDTO(preview.Schedule),
		Minutes:     int(preview.Minutes),
		TotalCost:   preview.TotalCost.String(),
	})
}

// ListAssignments returns margin records, optionally filtered.
func (h *Handler) ListAssignments(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	records, err := h.Store.ListMarginRecords(r.Context(), core.MarginFilter{
		ProjectID:  core.ProjectID(q.Get("project_id")),
		ResourceID: core.ResourceID(q.Get("resource_id")),
	})
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list assignments", err)
		return
	}

	dtos := make([]MarginRecordDTO, 0, len(records))
	for _, m := range records {
		dto, err := toMarginRecordDTO(m)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "Failed to rebuild schedule", err)
			return
		}
		dtos = append(dtos, dto)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// CreateAssignment commits a margin assignment for a resource on a project.
func (h *Handler) CreateAssignment(w http.ResponseWriter, r *http.Request) {
	var req CreateAssignmentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	record, err := h.Assign.Assign(r.Context(), actorFrom(r),
		core.ProjectID(req.ProjectID), core.ResourceID(req.ResourceID),
		req.EffortMinutes(), req.Toggles.Resolve())
	if err != nil {
		writeEngineError(w, "Failed to create assignment", err)
		return
	}
	assignmentsTotal.Inc()

	dto, err := toMarginRecordDTO(*record)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to rebuild schedule", err)
		return
	}
	writeJSON(w, http.StatusCreated, dto)
}

// toMarginRecordDTO recomputes the cascade from the stored snapshot. The
// snapshot is the source of truth; the breakdown is derived, never stored.
func toMarginRecordDTO(m core.MarginRecord) (MarginRecordDTO, error) {
	schedule, err := margin.Compute(m.BaseHourlyCost, m.Toggles)
	if err != nil {
		return MarginRecordDTO{}, err
	}
	return MarginRecordDTO{
		ID:              string(m.ID),
		ProjectID:       string(m.ProjectID),
		ResourceID:      string(m.ResourceID),
		AssignedMinutes: int(m.AssignedMinutes),
		Schedule:        toScheduleDTO(*schedule),
		CreatedAt:       m.CreatedAt.Format(time.RFC3339),
	}, nil
}

// =============================================================================
// BONUS HANDLERS
// =============================================================================

func (h *Handler) ListBonuses(w http.ResponseWriter, r *http.Request) {
	records, err := h.Store.ListBonusRecords(r.Context(), core.BonusFilter{
		State: core.BonusState(r.URL.Query().Get("state")),
	})
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list bonus records", err)
		return
	}

	dtos := make([]BonusRecordDTO, len(records))
	for i, b := range records {
		dtos[i] = toBonusRecordDTO(b)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// EvaluateBonus evaluates a completed task's variance into a bonus record.
func (h *Handler) EvaluateBonus(w http.ResponseWriter, r *http.Request) {
	var req EvaluateBonusRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	record, err := h.Bonus.Evaluate(r.Context(), actorFrom(r), core.TaskID(req.TaskID))
	if err != nil {
		writeEngineError(w, "Failed to evaluate bonus", err)
		return
	}
	bonusEvaluationsTotal.WithLabelValues(string(record.Classification)).Inc()

	writeJSON(w, http.StatusCreated, toBonusRecordDTO(*record))
}

// DisposeBonus applies a manager decision to a pending record.
func (h *Handler) DisposeBonus(w http.ResponseWriter, r *http.Request) {
	id := core.BonusRecordID(chi.URLParam(r, "id"))

	var req DisposeBonusRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	record, err := h.Bonus.Dispose(r.Context(), actorFrom(r), bonus.DisposeInput{
		BonusID:     id,
		Action:      bonus.Disposition(req.Action),
		Comment:     req.Comment,
		Remediation: core.Remediation(req.Remediation),
	})
	if err != nil {
		writeEngineError(w, "Failed to dispose bonus", err)
		return
	}
	bonusDispositionsTotal.WithLabelValues(req.Action).Inc()

	writeJSON(w, http.StatusOK, toBonusRecordDTO(*record))
}

// =============================================================================
// HOUR LEDGER HANDLERS
// =============================================================================

func (h *Handler) ListCredits(w http.ResponseWriter, r *http.Request) {
	credits, err := h.Ledger.ListCredits(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to fold credit positions", err)
		return
	}

	dtos := make([]CreditPositionDTO, len(credits))
	for i, c := range credits {
		dtos[i] = CreditPositionDTO{
			TaskID:           string(c.TaskID),
			ResourceID:       string(c.ResourceID),
			ProjectID:        string(c.ProjectID),
			VarianceMinutes:  int(c.VarianceMinutes),
			WithdrawnMinutes: int(c.WithdrawnMinutes),
			AvailableMinutes: int(c.AvailableMinutes),
		}
	}
	writeJSON(w, http.StatusOK, dtos)
}

func (h *Handler) ListDebits(w http.ResponseWriter, r *http.Request) {
	debits, err := h.Ledger.ListDebits(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to fold debit positions", err)
		return
	}

	dtos := make([]DebitPositionDTO, len(debits))
	for i, d := range debits {
		dtos[i] = DebitPositionDTO{
			TaskID:             string(d.TaskID),
			ResourceID:         string(d.ResourceID),
			ProjectID:          string(d.ProjectID),
			DeficitMinutes:     int(d.DeficitMinutes),
			CompensatedMinutes: int(d.CompensatedMinutes),
			OutstandingMinutes: int(d.OutstandingMinutes),
		}
	}
	writeJSON(w, http.StatusOK, dtos)
}

// CreateRedistribution appends a transfer to the ledger.
func (h *Handler) CreateRedistribution(w http.ResponseWriter, r *http.Request) {
	var req CreateRedistributionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	var dest hourledger.Destination
	switch {
	case req.DestTaskID != "":
		dest = hourledger.DestinationTask(core.TaskID(req.DestTaskID))
	default:
		dest = hourledger.DestinationNewTask(core.ProjectID(req.DestProjectID), req.DestTaskName)
	}

	record, err := h.Ledger.Create(r.Context(), actorFrom(r), hourledger.CreateInput{
		SourceTaskID:    core.TaskID(req.SourceTaskID),
		WithdrawMinutes: core.Minutes(req.WithdrawMinutes),
		GrantMinutes:    core.Minutes(req.GrantMinutes),
		Destination:     dest,
		Justification:   req.Justification,
	})
	if err != nil {
		writeEngineError(w, "Failed to create redistribution", err)
		return
	}
	redistributionsTotal.Inc()

	writeJSON(w, http.StatusCreated, toRedistributionDTO(*record))
}

// CancelRedistribution soft-cancels a transfer.
func (h *Handler) CancelRedistribution(w http.ResponseWriter, r *http.Request) {
	id := core.RedistributionID(chi.URLParam(r, "id"))

	var req CancelRedistributionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	record, err := h.Ledger.Cancel(r.Context(), actorFrom(r), id, req.Reason)
	if err != nil {
		writeEngineError(w, "Failed to cancel redistribution", err)
		return
	}
	redistributionsCancelledTotal.Inc()

	writeJSON(w, http.StatusOK, toRedistributionDTO(*record))
}

// ListRedistributions returns the ledger history with filters and paging.
func (h *Handler) ListRedistributions(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	from, to, err := dateWindow(q.Get("from"), q.Get("to"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid from/to format (use YYYY-MM-DD)", err)
		return
	}
	filter := core.RedistributionFilter{
		State:        core.RedistributionState(q.Get("state")),
		SourceTaskID: core.TaskID(q.Get("source_task_id")),
		DestTaskID:   core.TaskID(q.Get("dest_task_id")),
		ResourceID:   core.ResourceID(q.Get("resource_id")),
		ProjectID:    core.ProjectID(q.Get("project_id")),
		From:         from,
		To:           to,
	}
	page := core.Page{
		Offset: atoiOrZero(q.Get("offset")),
		Limit:  atoiOrZero(q.Get("limit")),
	}

	records, total, err := h.Ledger.History(r.Context(), filter, page)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list redistributions", err)
		return
	}

	dtos := make([]RedistributionDTO, len(records))
	for i, rec := range records {
		dtos[i] = toRedistributionDTO(rec)
	}
	writeJSON(w, http.StatusOK, RedistributionPageDTO{
		Records: dtos,
		Total:   total,
		Offset:  page.Offset,
		Limit:   page.Limit,
	})
}

// =============================================================================
// REPORTING HANDLERS
// =============================================================================

// GetOverview returns the live budget/bonus/utilization rollup.
func (h *Handler) GetOverview(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	from, to, err := dateWindow(q.Get("from"), q.Get("to"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid from/to format (use YYYY-MM-DD)", err)
		return
	}
	filter := budget.Filter{
		ClientID:   core.ClientID(q.Get("client_id")),
		ProjectID:  core.ProjectID(q.Get("project_id")),
		ResourceID: core.ResourceID(q.Get("resource_id")),
		From:       from,
		To:         to,
	}

	ov, err := h.Budget.Overview(r.Context(), filter)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to compute overview", err)
		return
	}

	dto := OverviewDTO{
		Tasks: TaskTotalsDTO{
			Completed:        ov.Tasks.Completed,
			Positive:         ov.Tasks.Positive,
			Zero:             ov.Tasks.Zero,
			Negative:         ov.Tasks.Negative,
			EstimatedMinutes: int(ov.Tasks.EstimatedMinutes),
			ActualMinutes:    int(ov.Tasks.ActualMinutes),
		},
		Bonuses: BonusTotalsDTO{
			Pending:  ov.Bonuses.Pending.String(),
			Approved: ov.Bonuses.Approved.String(),
			Rejected: ov.Bonuses.Rejected.String(),
		},
		Resources: make([]ResourceUtilizationDTO, len(ov.Resources)),
		Projects:  make([]ProjectBudgetDTO, len(ov.Projects)),
		Clients:   make([]ClientBudgetDTO, len(ov.Clients)),
	}
	for i, ru := range ov.Resources {
		dto.Resources[i] = ResourceUtilizationDTO{
			ResourceID:     string(ru.ResourceID),
			Name:           ru.Name,
			UtilizationPct: ru.UtilizationPct.StringFixed(2),
			Status:         string(ru.Status),
		}
	}
	for i, pb := range ov.Projects {
		dto.Projects[i] = ProjectBudgetDTO{
			ProjectID:  string(pb.ProjectID),
			Name:       pb.Name,
			Budget:     pb.Budget.String(),
			Consumed:   pb.Consumed.String(),
			Remaining:  pb.Remaining.String(),
			OverBudget: pb.OverBudget,
			NearBudget: pb.NearBudget,
		}
	}
	for i, cb := range ov.Clients {
		dto.Clients[i] = ClientBudgetDTO{
			ClientID:   string(cb.ClientID),
			Name:       cb.Name,
			Budget:     cb.Budget.String(),
			Consumed:   cb.Consumed.String(),
			Remaining:  cb.Remaining.String(),
			OverBudget: cb.OverBudget,
			NearBudget: cb.NearBudget,
		}
	}
	writeJSON(w, http.StatusOK, dto)
}

// QueryAudit returns the audit trail filtered by actor or record.
func (h *Handler) QueryAudit(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	entries, err := h.Store.QueryAudit(r.Context(), core.AuditFilter{
		ActorID:  q.Get("actor_id"),
		RecordID: q.Get("record_id"),
	})
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to query audit log", err)
		return
	}

	dtos := make([]AuditEntryDTO, len(entries))
	for i, e := range entries {
		dtos[i] = AuditEntryDTO{
			ID:        e.ID,
			Timestamp: e.Timestamp.Format(time.RFC3339),
			ActorID:   e.ActorID,
			Action:    string(e.Action),
			RecordID:  e.RecordID,
			Detail:    e.Detail,
		}
	}
	writeJSON(w, http.StatusOK, dtos)
}

// =============================================================================
// HELPERS
// =============================================================================

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}

// writeEngineError maps a domain error to its HTTP status by taxonomy kind.
func writeEngineError(w http.ResponseWriter, message string, err error) {
	status := http.StatusInternalServerError
	kind := "internal"
	switch {
	case core.IsNotFound(err):
		status, kind = http.StatusNotFound, "not_found"
	case core.IsAuthorization(err):
		status, kind = http.StatusForbidden, "authorization"
	case core.IsConservation(err):
		status, kind = http.StatusUnprocessableEntity, "conservation"
	case core.IsState(err):
		status, kind = http.StatusConflict, "state"
	case core.IsValidation(err):
		status, kind = http.StatusBadRequest, "validation"
	}
	if status != http.StatusInternalServerError {
		operationErrorsTotal.WithLabelValues(kind).Inc()
	}
	writeError(w, status, message, err)
}

func orNewID(id string) string {
	if id != "" {
		return id
	}
	return uuid.NewString()
}

func orDefault(s, fallback string) string {
	if s == "" {
		return fallback
	}
	return s
}

func atoiOrZero(s string) int {
	n, _ := strconv.Atoi(s)
	return n
}

// dateWindow parses optional from/to date filters. The upper bound covers
// the whole named day.
func dateWindow(fromRaw, toRaw string) (*time.Time, *time.Time, error) {
	var from, to *time.Time
	if fromRaw != "" {
		f, err := time.Parse("2006-01-02", fromRaw)
		if err != nil {
			return nil, nil, err
		}
		from = &f
	}
	if toRaw != "" {
		t, err := time.Parse("2006-01-02", toRaw)
		if err != nil {
			return nil, nil, err
		}
		t = t.AddDate(0, 0, 1).Add(-time.Nanosecond)
		to = &t
	}
	return from, to, nil
}
