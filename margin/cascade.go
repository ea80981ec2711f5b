/*
Package margin implements the margin cascade: the layered cost model that
turns a resource's raw hourly cost into a blended billable rate built from
nine toggleable stakeholder shares.

PURPOSE:
  The raw hourly cost of a resource represents exactly the "professional
  costs" share (20%) of the theoretical full rate. Scaling it by 100/20
  yields the full rate; each stakeholder component is a fixed percentage
  slice of that full rate, and disabling a component subtracts its euro
  value from the blended final rate.

KEY PROPERTIES:
  - The nine weights sum to exactly 100.
  - finalRate = fullRate - sum(value of disabled components).
  - All toggles on  => finalRate == fullRate.
  - All toggles off => finalRate == 0.
  - 0 <= finalRate <= fullRate for every toggle combination.

The cascade is a pure function: no storage, no clock. Preview mode adds a
minutes input for what-if cost exploration before an assignment is
committed. The assignment service (assign.go) persists the outcome.
*/
package margin

import (
	"github.com/shopspring/decimal"

	"github.com/warp/cost-engine/core"
)

// =============================================================================
// COMPONENT TABLE - Fixed stakeholder shares
// =============================================================================

// ComponentCount is the number of stakeholder shares in the cascade.
const ComponentCount = 9

// componentDef is one row of the fixed cascade table. Weights are
// percentages of the full rate.
type componentDef struct {
	Name   string
	Weight decimal.Decimal
}

// The canonical component order. Toggle index i refers to components[i].
var components = [ComponentCount]componentDef{
	{"company_cost", decimal.NewFromFloat(25)},
	{"company_manager_profit", decimal.NewFromFloat(12.5)},
	{"holding_profit", decimal.NewFromFloat(12.5)},
	{"professional_costs", decimal.NewFromFloat(20)},
	{"professional_bonus", decimal.NewFromFloat(5)},
	{"company_management", decimal.NewFromFloat(3)},
	{"commercial", decimal.NewFromFloat(8)},
	{"central_overhead", decimal.NewFromFloat(4)},
	{"network_overhead", decimal.NewFromFloat(10)},
}

// professionalCostsWeight is the share the raw base cost represents.
var professionalCostsWeight = decimal.NewFromFloat(20)

var hundred = decimal.NewFromInt(100)

// ComponentNames returns the component names in canonical toggle order.
func ComponentNames() [ComponentCount]string {
	var names [ComponentCount]string
	for i, c := range components {
		names[i] = c.Name
	}
	return names
}

// WeightsTotal returns the sum of all component weights.
func WeightsTotal() decimal.Decimal {
	total := decimal.Zero
	for _, c := range components {
		total = total.Add(c.Weight)
	}
	return total
}

// AllEnabled returns the default toggle set with every share included.
func AllEnabled() [ComponentCount]bool {
	var t [ComponentCount]bool
	for i := range t {
		t[i] = true
	}
	return t
}

// =============================================================================
// CASCADE COMPUTATION
// =============================================================================

// Component is one line of the per-component breakdown.
type Component struct {
	Name    string
	Weight  decimal.Decimal
	Enabled bool
	Value   core.Money // euro value of this share of the full rate
}

// Schedule is the computed cascade for one base cost + toggle combination.
type Schedule struct {
	BaseCost  core.Money
	FullRate  core.Money
	FinalRate core.Money
	Breakdown [ComponentCount]Component
}

// Compute runs the cascade. Fails on non-positive base cost.
func Compute(baseCost core.Money, toggles [ComponentCount]bool) (*Schedule, error) {
	if !baseCost.IsPositive() {
		return nil, core.ErrInvalidBaseCost
	}

	// The base cost is the professional-costs share of the full rate.
	fullRate := baseCost.Mul(hundred).Div(professionalCostsWeight)

	s := &Schedule{BaseCost: baseCost, FullRate: fullRate}

	disabled := core.Money{Value: decimal.Zero}
	for i, c := range components {
		value := fullRate.Mul(c.Weight).Div(hundred)
		s.Breakdown[i] = Component{
			Name:    c.Name,
			Weight:  c.Weight,
			Enabled: toggles[i],
			Value:   value,
		}
		if !toggles[i] {
			disabled = disabled.Add(value)
		}
	}

	s.FinalRate = fullRate.Sub(disabled)
	return s, nil
}

// =============================================================================
// PREVIEW - What-if cost without persistence
// =============================================================================

// Preview extends a Schedule with the total cost of a minute allotment.
type Preview struct {
	Schedule
	Minutes   core.Minutes
	TotalCost core.Money // FinalRate * Minutes / 60
}

// ComputePreview runs the cascade and prices the given minutes at the final
// rate. Used for exploration before committing an assignment.
func ComputePreview(baseCost core.Money, toggles [ComponentCount]bool, minutes core.Minutes) (*Preview, error) {
	if minutes <= 0 {
		return nil, core.ErrInvalidMinutes
	}
	s, err := Compute(baseCost, toggles)
	if err != nil {
		return nil, err
	}
	return &Preview{
		Schedule:  *s,
		Minutes:   minutes,
		TotalCost: s.FinalRate.PerHourCost(minutes),
	}, nil
}

// =============================================================================
// RECORD HELPERS
// =============================================================================

// RecordRates recomputes the cascade from a persisted assignment snapshot.
func RecordRates(m core.MarginRecord) (*Schedule, error) {
	return Compute(m.BaseHourlyCost, m.Toggles)
}

// RecordCost returns the committed cost of an assignment: the snapshot's
// final rate applied to its assigned minutes.
func RecordCost(m core.MarginRecord) (core.Money, error) {
	s, err := Compute(m.BaseHourlyCost, m.Toggles)
	if err != nil {
		return core.Money{}, err
	}
	return s.FinalRate.PerHourCost(m.AssignedMinutes), nil
}
