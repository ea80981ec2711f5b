/*
Package core provides the shared types for the resource cost and
hour-ledger engine.

PURPOSE:
  This package contains the domain vocabulary every engine package builds
  on: monetary values, minute quantities, type-safe identifiers, the
  persisted entities (Resource, Task, MarginRecord, BonusRecord,
  RedistributionRecord) and the store interfaces the engines consume.

KEY CONCEPTS IN THIS FILE (types.go):
  - Money:   A euro amount backed by decimal.Decimal (never float)
  - Minutes: A whole-minute duration used for estimates, actuals, credit
  - IDs:     Type-safe identifiers so a TaskID cannot be passed as a
             ResourceID by accident

DESIGN PRINCIPLES:
  1. Precision: Uses decimal.Decimal to avoid floating-point drift in rates
  2. Derived values: Credit/debit positions are never stored, always folded
  3. Type Safety: Strong typing for IDs prevents entity mix-ups
  4. Auditability: Every mutation carries an actor and lands in the audit log

SEE ALSO:
  - entities.go: Persisted entity definitions
  - errors.go:   Error taxonomy (validation/state/authorization/conservation)
  - store.go:    Repository and unit-of-work interfaces
*/
package core

import (
	"github.com/shopspring/decimal"
)

// =============================================================================
// MONEY - Euro amount with decimal precision
// =============================================================================

// Money is a euro amount. All rate arithmetic goes through decimal so that
// cascading percentage splits stay exact.
type Money struct {
	Value decimal.Decimal
}

func NewMoney(value float64) Money        { return Money{Value: decimal.NewFromFloat(value)} }
func NewMoneyFromInt(value int) Money     { return Money{Value: decimal.NewFromInt(int64(value))} }
func MoneyFromDecimal(d decimal.Decimal) Money { return Money{Value: d} }

func MustParseMoney(s string) Money {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return Money{Value: decimal.Zero}
	}
	return Money{Value: d}
}

func (m Money) Add(b Money) Money             { return Money{Value: m.Value.Add(b.Value)} }
func (m Money) Sub(b Money) Money             { return Money{Value: m.Value.Sub(b.Value)} }
func (m Money) Mul(s decimal.Decimal) Money   { return Money{Value: m.Value.Mul(s)} }
func (m Money) Div(s decimal.Decimal) Money   { return Money{Value: m.Value.Div(s)} }
func (m Money) Neg() Money                    { return Money{Value: m.Value.Neg()} }
func (m Money) IsZero() bool                  { return m.Value.IsZero() }
func (m Money) IsNegative() bool              { return m.Value.IsNegative() }
func (m Money) IsPositive() bool              { return m.Value.IsPositive() }
func (m Money) GreaterThan(b Money) bool      { return m.Value.GreaterThan(b.Value) }
func (m Money) LessThan(b Money) bool         { return m.Value.LessThan(b.Value) }
func (m Money) Equal(b Money) bool            { return m.Value.Equal(b.Value) }
func (m Money) Round(places int32) Money      { return Money{Value: m.Value.Round(places)} }
func (m Money) Float64() float64              { f, _ := m.Value.Float64(); return f }
func (m Money) String() string                { return m.Value.StringFixed(2) }

// PerHourCost converts an hourly rate into the cost of the given minutes.
func (m Money) PerHourCost(minutes Minutes) Money {
	return m.Mul(decimal.NewFromInt(int64(minutes))).Div(decimal.NewFromInt(60))
}

// =============================================================================
// MINUTES - Whole-minute durations
// =============================================================================

// Minutes is a whole-minute duration. Estimates, actuals, credit and debit
// positions are all tracked in minutes; hours appear only at display edges.
type Minutes int

func (m Minutes) Hours() decimal.Decimal {
	return decimal.NewFromInt(int64(m)).Div(decimal.NewFromInt(60))
}

func (m Minutes) Abs() Minutes {
	if m < 0 {
		return -m
	}
	return m
}

func (m Minutes) IsPositive() bool { return m > 0 }
func (m Minutes) IsNegative() bool { return m < 0 }

// =============================================================================
// IDENTIFIERS
// =============================================================================

type (
	ResourceID       string
	ClientID         string
	ProjectID        string
	ActivityID       string
	TaskID           string
	MarginRecordID   string
	BonusRecordID    string
	RedistributionID string
)

// =============================================================================
// DEFAULTS
// =============================================================================

// DefaultAnnualHours is the automatic annual availability used when a
// resource carries no manual override: 8 hours across 240 working days.
// The capacity examples in the product documentation assume this figure
// (1920 / 12 = 160 hours per month).
const DefaultAnnualHours = 1920
