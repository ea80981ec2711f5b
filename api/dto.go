/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication. These types decouple
  the internal domain model from the external API contract.

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients

MONEY:
  Monetary fields are emitted as strings with two decimal places ("92.00")
  so clients never see float artifacts. Requests accept numbers.

HETEROGENEOUS REQUEST SHAPES:
  Two request types carry shape variants resolved at this boundary:
  - CreateAssignmentRequest accepts minutes OR hours, and toggles as a
    9-element array or a name->bool map (omitted names stay enabled).
  - CreateRedistributionRequest targets an existing task OR a new task
    under a project. The handler converts to the engine's typed
    Destination before any domain code runs.

VALIDATION:
  Structural validation (shape conflicts, unknown toggle names) happens
  here; business validation stays in the engine packages.

SEE ALSO:
  - handlers.go: Uses these types
*/
package api

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/warp/cost-engine/core"
	"github.com/warp/cost-engine/margin"
)

// =============================================================================
// ENTITY DTOS
// =============================================================================

type ResourceDTO struct {
	ID               string  `json:"id"`
	Name             string  `json:"name"`
	BaseHourlyCost   string  `json:"base_hourly_cost"`
	CostOverridden   bool    `json:"cost_overridden"`
	AnnualHours      float64 `json:"annual_hours"`
	AnnualOverridden bool    `json:"annual_overridden"`
	CreatedAt        string  `json:"created_at"`
}

func toResourceDTO(r core.Resource) ResourceDTO {
	hours, _ := r.AvailableAnnualMinutes().Hours().Float64()
	return ResourceDTO{
		ID:               string(r.ID),
		Name:             r.Name,
		BaseHourlyCost:   r.BaseHourlyCost.String(),
		CostOverridden:   r.CostOverridden,
		AnnualHours:      hours,
		AnnualOverridden: r.AnnualOverridden,
		CreatedAt:        r.CreatedAt.Format(time.RFC3339),
	}
}

type CreateResourceRequest struct {
	ID             string   `json:"id"`
	Name           string   `json:"name"`
	BaseHourlyCost float64  `json:"base_hourly_cost"`
	AnnualHours    *float64 `json:"annual_hours"` // omitted = automatic default
}

type ClientDTO struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	CreatedAt string `json:"created_at"`
}

type CreateClientRequest struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

type ProjectDTO struct {
	ID        string `json:"id"`
	ClientID  string `json:"client_id"`
	Name      string `json:"name"`
	Budget    string `json:"budget"`
	CreatedAt string `json:"created_at"`
}

func toProjectDTO(p core.Project) ProjectDTO {
	return ProjectDTO{
		ID:        string(p.ID),
		ClientID:  string(p.ClientID),
		Name:      p.Name,
		Budget:    p.Budget.String(),
		CreatedAt: p.CreatedAt.Format(time.RFC3339),
	}
}

type CreateProjectRequest struct {
	ID       string  `json:"id"`
	ClientID string  `json:"client_id"`
	Name     string  `json:"name"`
	Budget   float64 `json:"budget"`
}

type TaskDTO struct {
	ID               string `json:"id"`
	ActivityID       string `json:"activity_id"`
	ProjectID        string `json:"project_id"`
	ResourceID       string `json:"resource_id"`
	Name             string `json:"name"`
	EstimatedMinutes int    `json:"estimated_minutes"`
	ActualMinutes    *int   `json:"actual_minutes,omitempty"`
	DueDate          string `json:"due_date,omitempty"`
	Status           string `json:"status"`
	CreatedAt        string `json:"created_at"`
}

func toTaskDTO(t core.Task) TaskDTO {
	dto := TaskDTO{
		ID:               string(t.ID),
		ActivityID:       string(t.ActivityID),
		ProjectID:        string(t.ProjectID),
		ResourceID:       string(t.ResourceID),
		Name:             t.Name,
		EstimatedMinutes: int(t.EstimatedMinutes),
		Status:           string(t.Status),
		CreatedAt:        t.CreatedAt.Format(time.RFC3339),
	}
	if t.ActualMinutes != nil {
		v := int(*t.ActualMinutes)
		dto.ActualMinutes = &v
	}
	if !t.DueDate.IsZero() {
		dto.DueDate = t.DueDate.Format("2006-01-02")
	}
	return dto
}

type CreateTaskRequest struct {
	ID               string `json:"id"`
	ActivityID       string `json:"activity_id"`
	ProjectID        string `json:"project_id"`
	ResourceID       string `json:"resource_id"`
	Name             string `json:"name"`
	EstimatedMinutes int    `json:"estimated_minutes"`
	DueDate          string `json:"due_date"` // YYYY-MM-DD
}

type CompleteTaskRequest struct {
	ActualMinutes int `json:"actual_minutes"`
}

// =============================================================================
// MARGIN DTOS
// =============================================================================

type ComponentDTO struct {
	Name    string `json:"name"`
	Weight  string `json:"weight"`
	Enabled bool   `json:"enabled"`
	Value   string `json:"value"`
}

type ScheduleDTO struct {
	BaseCost  string         `json:"base_cost"`
	FullRate  string         `json:"full_rate"`
	FinalRate string         `json:"final_rate"`
	Breakdown []ComponentDTO `json:"breakdown"`
}

func toScheduleDTO(s margin.Schedule) ScheduleDTO {
	dto := ScheduleDTO{
		BaseCost:  s.BaseCost.String(),
		FullRate:  s.FullRate.String(),
		FinalRate: s.FinalRate.String(),
		Breakdown: make([]ComponentDTO, len(s.Breakdown)),
	}
	for i, c := range s.Breakdown {
		dto.Breakdown[i] = ComponentDTO{
			Name:    c.Name,
			Weight:  c.Weight.String(),
			Enabled: c.Enabled,
			Value:   c.Value.String(),
		}
	}
	return dto
}

type PreviewDTO struct {
	ScheduleDTO
	Minutes   int    `json:"minutes"`
	TotalCost string `json:"total_cost"`
}

type MarginRecordDTO struct {
	ID              string      `json:"id"`
	ProjectID       string      `json:"project_id"`
	ResourceID      string      `json:"resource_id"`
	AssignedMinutes int         `json:"assigned_minutes"`
	Schedule        ScheduleDTO `json:"schedule"`
	CreatedAt       string      `json:"created_at"`
}

// PreviewRequest prices a base cost + toggle combination without persisting.
type PreviewRequest struct {
	BaseHourlyCost float64    `json:"base_hourly_cost"`
	Minutes        int        `json:"minutes"`
	Toggles        toggleSpec `json:"toggles"`
}

// CreateAssignmentRequest commits a margin assignment. Effort may arrive as
// minutes or as fractional hours; toggles as an array or a by-name map.
type CreateAssignmentRequest struct {
	ProjectID  string     `json:"project_id"`
	ResourceID string     `json:"resource_id"`
	Minutes    int        `json:"minutes"`
	Hours      *float64   `json:"hours"`
	Toggles    toggleSpec `json:"toggles"`
}

// EffortMinutes resolves the minutes/hours variant. Hours win when both are
// present and get rounded to whole minutes.
func (r CreateAssignmentRequest) EffortMinutes() core.Minutes {
	if r.Hours != nil {
		return core.Minutes(*r.Hours*60 + 0.5)
	}
	return core.Minutes(r.Minutes)
}

// toggleSpec accepts either a 9-element bool array or a component-name map.
// The zero value (field omitted) means all components enabled.
type toggleSpec struct {
	set     bool
	toggles [margin.ComponentCount]bool
}

func (t *toggleSpec) UnmarshalJSON(data []byte) error {
	t.set = true

	var asArray []bool
	if err := json.Unmarshal(data, &asArray); err == nil {
		if len(asArray) != margin.ComponentCount {
			return fmt.Errorf("toggles array must have %d elements, got %d",
				margin.ComponentCount, len(asArray))
		}
		copy(t.toggles[:], asArray)
		return nil
	}

	var asMap map[string]bool
	if err := json.Unmarshal(data, &asMap); err != nil {
		return fmt.Errorf("toggles must be a %d-element array or a component-name map",
			margin.ComponentCount)
	}
	t.toggles = margin.AllEnabled()
	names := margin.ComponentNames()
	for name, enabled := range asMap {
		found := false
		for i, n := range names {
			if n == name {
				t.toggles[i] = enabled
				found = true
				break
			}
		}
		if !found {
			return fmt.Errorf("unknown margin component %q", name)
		}
	}
	return nil
}

// Resolve returns the effective toggle array.
func (t toggleSpec) Resolve() [margin.ComponentCount]bool {
	if !t.set {
		return margin.AllEnabled()
	}
	return t.toggles
}

// =============================================================================
// BONUS DTOS
// =============================================================================

type BonusRecordDTO struct {
	ID              string `json:"id"`
	TaskID          string `json:"task_id"`
	VarianceMinutes int    `json:"variance_minutes"`
	Classification  string `json:"classification"`
	Percentage      string `json:"percentage"`
	Amount          string `json:"amount"`
	State           string `json:"state"`
	Remediation     string `json:"remediation,omitempty"`
	DisposedBy      string `json:"disposed_by,omitempty"`
	DisposedAt      string `json:"disposed_at,omitempty"`
	Comment         string `json:"comment,omitempty"`
	CreatedAt       string `json:"created_at"`
}

func toBonusRecordDTO(b core.BonusRecord) BonusRecordDTO {
	dto := BonusRecordDTO{
		ID:              string(b.ID),
		TaskID:          string(b.TaskID),
		VarianceMinutes: int(b.VarianceMinutes),
		Classification:  string(b.Classification),
		Percentage:      b.Percentage.String(),
		Amount:          b.Amount.String(),
		State:           string(b.State),
		Remediation:     string(b.Remediation),
		DisposedBy:      b.DisposedBy,
		Comment:         b.Comment,
		CreatedAt:       b.CreatedAt.Format(time.RFC3339),
	}
	if b.DisposedAt != nil {
		dto.DisposedAt = b.DisposedAt.Format(time.RFC3339)
	}
	return dto
}

type EvaluateBonusRequest struct {
	TaskID string `json:"task_id"`
}

type DisposeBonusRequest struct {
	Action      string `json:"action"` // approve | reject | remediate
	Comment     string `json:"comment"`
	Remediation string `json:"remediation"` // financial_penalty | deduct_future_hours
}

// =============================================================================
// HOUR LEDGER DTOS
// =============================================================================

type CreditPositionDTO struct {
	TaskID           string `json:"task_id"`
	ResourceID       string `json:"resource_id"`
	ProjectID        string `json:"project_id"`
	VarianceMinutes  int    `json:"variance_minutes"`
	WithdrawnMinutes int    `json:"withdrawn_minutes"`
	AvailableMinutes int    `json:"available_minutes"`
}

type DebitPositionDTO struct {
	TaskID             string `json:"task_id"`
	ResourceID         string `json:"resource_id"`
	ProjectID          string `json:"project_id"`
	DeficitMinutes     int    `json:"deficit_minutes"`
	CompensatedMinutes int    `json:"compensated_minutes"`
	OutstandingMinutes int    `json:"outstanding_minutes"`
}

type RedistributionDTO struct {
	ID              string `json:"id"`
	SourceTaskID    string `json:"source_task_id"`
	DestTaskID      string `json:"dest_task_id"`
	DestProjectID   string `json:"dest_project_id"`
	WithdrawMinutes int    `json:"withdraw_minutes"`
	GrantMinutes    int    `json:"grant_minutes"`
	CreatedBy       string `json:"created_by"`
	Justification   string `json:"justification"`
	CreatedAt       string `json:"created_at"`
	Cancelled       bool   `json:"cancelled"`
	CancelReason    string `json:"cancel_reason,omitempty"`
	CancelledAt     string `json:"cancelled_at,omitempty"`
}

func toRedistributionDTO(r core.RedistributionRecord) RedistributionDTO {
	dto := RedistributionDTO{
		ID:              string(r.ID),
		SourceTaskID:    string(r.SourceTaskID),
		DestTaskID:      string(r.DestTaskID),
		DestProjectID:   string(r.DestProjectID),
		WithdrawMinutes: int(r.WithdrawMinutes),
		GrantMinutes:    int(r.GrantMinutes),
		CreatedBy:       r.CreatedBy,
		Justification:   r.Justification,
		CreatedAt:       r.CreatedAt.Format(time.RFC3339),
		Cancelled:       r.Cancelled,
		CancelReason:    r.CancelReason,
	}
	if r.CancelledAt != nil {
		dto.CancelledAt = r.CancelledAt.Format(time.RFC3339)
	}
	return dto
}

// CreateRedistributionRequest carries the two destination variants: an
// existing task (dest_task_id) or a fresh task under a project's
// Reassignments bucket (dest_project_id + dest_task_name).
type CreateRedistributionRequest struct {
	SourceTaskID    string `json:"source_task_id"`
	WithdrawMinutes int    `json:"withdraw_minutes"`
	GrantMinutes    int    `json:"grant_minutes"`
	DestTaskID      string `json:"dest_task_id"`
	DestProjectID   string `json:"dest_project_id"`
	DestTaskName    string `json:"dest_task_name"`
	Justification   string `json:"justification"`
}

type CancelRedistributionRequest struct {
	Reason string `json:"reason"`
}

type RedistributionPageDTO struct {
	Records []RedistributionDTO `json:"records"`
	Total   int                 `json:"total"`
	Offset  int                 `json:"offset"`
	Limit   int                 `json:"limit"`
}

// =============================================================================
// CAPACITY / OVERVIEW DTOS
// =============================================================================

type CapacityReportDTO struct {
	ResourceID      string `json:"resource_id"`
	Period          string `json:"period"`
	CapacityHours   string `json:"capacity_hours"`
	AssignedMinutes int    `json:"assigned_minutes"`
	UtilizationPct  string `json:"utilization_pct"`
	Status          string `json:"status"`
}

type TaskTotalsDTO struct {
	Completed        int `json:"completed"`
	Positive         int `json:"positive"`
	Zero             int `json:"zero"`
	Negative         int `json:"negative"`
	EstimatedMinutes int `json:"estimated_minutes"`
	ActualMinutes    int `json:"actual_minutes"`
}

type BonusTotalsDTO struct {
	Pending  string `json:"pending"`
	Approved string `json:"approved"`
	Rejected string `json:"rejected"`
}

type ResourceUtilizationDTO struct {
	ResourceID     string `json:"resource_id"`
	Name           string `json:"name"`
	UtilizationPct string `json:"utilization_pct"`
	Status         string `json:"status"`
}

type ProjectBudgetDTO struct {
	ProjectID  string `json:"project_id"`
	Name       string `json:"name"`
	Budget     string `json:"budget"`
	Consumed   string `json:"consumed"`
	Remaining  string `json:"remaining"`
	OverBudget bool   `json:"over_budget"`
	NearBudget bool   `json:"near_budget"`
}

type ClientBudgetDTO struct {
	ClientID   string `json:"client_id"`
	Name       string `json:"name"`
	Budget     string `json:"budget"`
	Consumed   string `json:"consumed"`
	Remaining  string `json:"remaining"`
	OverBudget bool   `json:"over_budget"`
	NearBudget bool   `json:"near_budget"`
}

type OverviewDTO struct {
	Tasks     TaskTotalsDTO            `json:"tasks"`
	Bonuses   BonusTotalsDTO           `json:"bonuses"`
	Resources []ResourceUtilizationDTO `json:"resources"`
	Projects  []ProjectBudgetDTO       `json:"projects"`
	Clients   []ClientBudgetDTO        `json:"clients"`
}

// =============================================================================
// AUDIT / ERROR DTOS
// =============================================================================

type AuditEntryDTO struct {
	ID        string            `json:"id"`
	Timestamp string            `json:"timestamp"`
	ActorID   string            `json:"actor_id"`
	Action    string            `json:"action"`
	RecordID  string            `json:"record_id"`
	Detail    map[string]string `json:"detail,omitempty"`
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}
