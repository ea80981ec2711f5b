/*
Package capacity projects a resource's annual availability into sub-periods
and reports utilization against assigned task minutes.

PERIOD MODEL:
  Periods are even fractions of the annual figure, not calendar day counts:
    day     -> 8 hours flat
    week    -> annual / 52
    month   -> annual / 12
    quarter -> annual / 4
    year    -> annual
  A literal calendar month is not exactly annual/12 working hours; the even
  split keeps the twelve monthly figures identical and summing to the year.

UTILIZATION:
  Assigned minutes are the estimated minutes of tasks whose due date falls
  inside the concrete calendar range of the requested period.
  utilization% = assigned / (capacity hours * 60) * 100
  Buckets: >=100 overloaded, >=80 near_full, <=20 underutilized, else normal.
*/
package capacity

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"

	"github.com/warp/cost-engine/core"
)

// =============================================================================
// PERIODS
// =============================================================================

type Period string

const (
	PeriodDay     Period = "day"
	PeriodWeek    Period = "week"
	PeriodMonth   Period = "month"
	PeriodQuarter Period = "quarter"
	PeriodYear    Period = "year"
)

var ErrUnknownPeriod = errors.New("unknown period")

// ParsePeriod validates a period name from the boundary.
func ParsePeriod(s string) (Period, error) {
	switch Period(s) {
	case PeriodDay, PeriodWeek, PeriodMonth, PeriodQuarter, PeriodYear:
		return Period(s), nil
	default:
		return "", ErrUnknownPeriod
	}
}

// ForPeriod converts annual available hours into the period's capacity.
func ForPeriod(annualHours decimal.Decimal, period Period) (decimal.Decimal, error) {
	switch period {
	case PeriodDay:
		return decimal.NewFromInt(8), nil
	case PeriodWeek:
		return annualHours.Div(decimal.NewFromInt(52)), nil
	case PeriodMonth:
		return annualHours.Div(decimal.NewFromInt(12)), nil
	case PeriodQuarter:
		return annualHours.Div(decimal.NewFromInt(4)), nil
	case PeriodYear:
		return annualHours, nil
	default:
		return decimal.Zero, ErrUnknownPeriod
	}
}

// DateRange returns the concrete calendar range of the period containing
// the reference date. Weeks start on Monday.
func DateRange(period Period, asOf time.Time) (time.Time, time.Time, error) {
	day := time.Date(asOf.Year(), asOf.Month(), asOf.Day(), 0, 0, 0, 0, time.UTC)
	switch period {
	case PeriodDay:
		return day, day.AddDate(0, 0, 1).Add(-time.Nanosecond), nil
	case PeriodWeek:
		offset := (int(day.Weekday()) + 6) % 7 // Monday = 0
		start := day.AddDate(0, 0, -offset)
		return start, start.AddDate(0, 0, 7).Add(-time.Nanosecond), nil
	case PeriodMonth:
		start := time.Date(day.Year(), day.Month(), 1, 0, 0, 0, 0, time.UTC)
		return start, start.AddDate(0, 1, 0).Add(-time.Nanosecond), nil
	case PeriodQuarter:
		qm := time.Month((int(day.Month())-1)/3*3 + 1)
		start := time.Date(day.Year(), qm, 1, 0, 0, 0, 0, time.UTC)
		return start, start.AddDate(0, 3, 0).Add(-time.Nanosecond), nil
	case PeriodYear:
		start := time.Date(day.Year(), time.January, 1, 0, 0, 0, 0, time.UTC)
		return start, start.AddDate(1, 0, 0).Add(-time.Nanosecond), nil
	default:
		return time.Time{}, time.Time{}, ErrUnknownPeriod
	}
}

// =============================================================================
// UTILIZATION
// =============================================================================

type Status string

const (
	StatusOverloaded    Status = "overloaded"
	StatusNearFull      Status = "near_full"
	StatusUnderutilized Status = "underutilized"
	StatusNormal        Status = "normal"
)

// StatusFor buckets a utilization percentage.
func StatusFor(pct decimal.Decimal) Status {
	switch {
	case pct.GreaterThanOrEqual(decimal.NewFromInt(100)):
		return StatusOverloaded
	case pct.GreaterThanOrEqual(decimal.NewFromInt(80)):
		return StatusNearFull
	case pct.LessThanOrEqual(decimal.NewFromInt(20)):
		return StatusUnderutilized
	default:
		return StatusNormal
	}
}

// Utilization computes the percentage of capacity consumed by assigned
// minutes. Zero capacity yields zero utilization.
func Utilization(assigned core.Minutes, capacityHours decimal.Decimal) decimal.Decimal {
	capacityMinutes := capacityHours.Mul(decimal.NewFromInt(60))
	if capacityMinutes.IsZero() {
		return decimal.Zero
	}
	return decimal.NewFromInt(int64(assigned)).
		Div(capacityMinutes).
		Mul(decimal.NewFromInt(100))
}

// =============================================================================
// SERVICE - Live report against task assignments
// =============================================================================

// Report is one resource's capacity picture for a period.
type Report struct {
	ResourceID      core.ResourceID
	Period          Period
	CapacityHours   decimal.Decimal
	AssignedMinutes core.Minutes
	UtilizationPct  decimal.Decimal
	Status          Status
}

// Service reads tasks and resources; it never writes.
type Service struct {
	store core.Store
}

func NewService(store core.Store) *Service {
	return &Service{store: store}
}

// GetCapacity builds the report for the period containing asOf.
func (s *Service) GetCapacity(ctx context.Context, resourceID core.ResourceID, period Period, asOf time.Time) (*Report, error) {
	resource, err := s.store.GetResource(ctx, resourceID)
	if err != nil {
		return nil, err
	}
	if resource == nil {
		return nil, core.ErrResourceNotFound
	}

	annualHours := resource.AvailableAnnualMinutes().Hours()
	capacityHours, err := ForPeriod(annualHours, period)
	if err != nil {
		return nil, err
	}

	from, to, err := DateRange(period, asOf)
	if err != nil {
		return nil, err
	}

	tasks, err := s.store.ListTasks(ctx, core.TaskFilter{
		ResourceID: resourceID,
		DueFrom:    &from,
		DueTo:      &to,
	})
	if err != nil {
		return nil, err
	}

	assigned := core.Minutes(0)
	for _, t := range tasks {
		assigned += t.EstimatedMinutes
	}

	pct := Utilization(assigned, capacityHours)
	return &Report{
		ResourceID:      resourceID,
		Period:          period,
		CapacityHours:   capacityHours,
		AssignedMinutes: assigned,
		UtilizationPct:  pct,
		Status:          StatusFor(pct),
	}, nil
}
