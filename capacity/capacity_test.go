package capacity_test

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/cost-engine/capacity"
	"github.com/warp/cost-engine/core"
	"github.com/warp/cost-engine/core/store"
)

// =============================================================================
// PERIOD TESTS
// =============================================================================

func TestParsePeriod(t *testing.T) {
	for _, name := range []string{"day", "week", "month", "quarter", "year"} {
		p, err := capacity.ParsePeriod(name)
		require.NoError(t, err)
		assert.Equal(t, capacity.Period(name), p)
	}

	_, err := capacity.ParsePeriod("fortnight")
	assert.ErrorIs(t, err, capacity.ErrUnknownPeriod)
}

func TestForPeriod_EvenSplitOfAnnualHours(t *testing.T) {
	// GIVEN: The standard 1920-hour year
	// THEN: Each period is an even fraction; a day is always 8 hours flat

	annual := decimal.NewFromInt(core.DefaultAnnualHours)

	cases := []struct {
		period capacity.Period
		want   string
	}{
		{capacity.PeriodDay, "8"},
		{capacity.PeriodWeek, "36.92307692307692307692307692"},
		{capacity.PeriodMonth, "160"},
		{capacity.PeriodQuarter, "480"},
		{capacity.PeriodYear, "1920"},
	}
	for _, c := range cases {
		got, err := capacity.ForPeriod(annual, c.period)
		require.NoError(t, err)
		assert.True(t, got.Equal(decimal.RequireFromString(c.want)),
			"%s: got %s want %s", c.period, got, c.want)
	}

	_, err := capacity.ForPeriod(annual, capacity.Period("decade"))
	assert.ErrorIs(t, err, capacity.ErrUnknownPeriod)
}

func TestForPeriod_DayIgnoresAnnualFigure(t *testing.T) {
	got, err := capacity.ForPeriod(decimal.NewFromInt(1000), capacity.PeriodDay)
	require.NoError(t, err)
	assert.True(t, got.Equal(decimal.NewFromInt(8)))
}

func TestDateRange(t *testing.T) {
	// Wednesday 2026-08-26
	asOf := time.Date(2026, time.August, 26, 14, 30, 0, 0, time.UTC)

	from, to, err := capacity.DateRange(capacity.PeriodDay, asOf)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2026, time.August, 26, 0, 0, 0, 0, time.UTC), from)
	assert.Equal(t, 26, to.Day())

	from, to, err = capacity.DateRange(capacity.PeriodWeek, asOf)
	require.NoError(t, err)
	assert.Equal(t, time.Monday, from.Weekday())
	assert.Equal(t, time.Date(2026, time.August, 24, 0, 0, 0, 0, time.UTC), from)
	assert.Equal(t, time.August, to.Month())
	assert.Equal(t, 30, to.Day()) // Sunday

	from, to, err = capacity.DateRange(capacity.PeriodMonth, asOf)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2026, time.August, 1, 0, 0, 0, 0, time.UTC), from)
	assert.Equal(t, 31, to.Day())

	from, _, err = capacity.DateRange(capacity.PeriodQuarter, asOf)
	require.NoError(t, err)
	assert.Equal(t, time.July, from.Month())
	assert.Equal(t, 1, from.Day())

	from, to, err = capacity.DateRange(capacity.PeriodYear, asOf)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2026, time.January, 1, 0, 0, 0, 0, time.UTC), from)
	assert.Equal(t, time.December, to.Month())

	_, _, err = capacity.DateRange(capacity.Period("eon"), asOf)
	assert.ErrorIs(t, err, capacity.ErrUnknownPeriod)
}

func TestDateRange_WeekSpanningMonthBoundary(t *testing.T) {
	// Sunday belongs to the week that started the previous Monday, even
	// across a month edge.
	sunday := time.Date(2026, time.March, 1, 9, 0, 0, 0, time.UTC)
	from, _, err := capacity.DateRange(capacity.PeriodWeek, sunday)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2026, time.February, 23, 0, 0, 0, 0, time.UTC), from)
}

// =============================================================================
// UTILIZATION TESTS
// =============================================================================

func TestUtilization(t *testing.T) {
	// 200 hours assigned against 160 hours of monthly capacity is 125%.
	pct := capacity.Utilization(core.Minutes(200*60), decimal.NewFromInt(160))
	assert.True(t, pct.Equal(decimal.NewFromInt(125)), "got %s", pct)

	// Zero capacity never divides by zero.
	pct = capacity.Utilization(core.Minutes(60), decimal.Zero)
	assert.True(t, pct.IsZero())
}

func TestStatusFor_BucketEdges(t *testing.T) {
	cases := []struct {
		pct  string
		want capacity.Status
	}{
		{"125", capacity.StatusOverloaded},
		{"100", capacity.StatusOverloaded},
		{"99.9", capacity.StatusNearFull},
		{"80", capacity.StatusNearFull},
		{"79.9", capacity.StatusNormal},
		{"50", capacity.StatusNormal},
		{"20.1", capacity.StatusNormal},
		{"20", capacity.StatusUnderutilized},
		{"0", capacity.StatusUnderutilized},
	}
	for _, c := range cases {
		got := capacity.StatusFor(decimal.RequireFromString(c.pct))
		assert.Equal(t, c.want, got, "at %s%%", c.pct)
	}
}

// =============================================================================
// SERVICE TESTS
// =============================================================================

func newService(t *testing.T) (*capacity.Service, *store.Memory) {
	t.Helper()
	mem := store.NewMemory()
	ctx := context.Background()

	require.NoError(t, mem.SaveClient(ctx, core.Client{ID: "client-1", Name: "Acme", CreatedAt: time.Now()}))
	require.NoError(t, mem.SaveProject(ctx, core.Project{
		ID: "proj-1", ClientID: "client-1", Name: "Platform",
		Budget: core.MustParseMoney("50000"), CreatedAt: time.Now(),
	}))
	require.NoError(t, mem.SaveResource(ctx, core.Resource{
		ID: "res-1", Name: "Dana",
		BaseHourlyCost: core.MustParseMoney("20"), CostOverridden: true,
		CreatedAt: time.Now(),
	}))
	return capacity.NewService(mem), mem
}

func TestGetCapacity_MonthlyOverload(t *testing.T) {
	// GIVEN: A default resource (1920 h/year, 160 h/month) with 200 hours
	//        of tasks due inside August
	// WHEN: Reporting monthly capacity
	// THEN: 125% utilization, overloaded

	svc, mem := newService(t)
	ctx := context.Background()
	asOf := time.Date(2026, time.August, 15, 0, 0, 0, 0, time.UTC)

	require.NoError(t, mem.SaveTask(ctx, core.Task{
		ID: "t-in", ProjectID: "proj-1", ResourceID: "res-1", Name: "in range",
		EstimatedMinutes: core.Minutes(200 * 60), Status: core.TaskScheduled,
		DueDate: time.Date(2026, time.August, 20, 0, 0, 0, 0, time.UTC), CreatedAt: time.Now(),
	}))
	// A task due in September stays out of the August report.
	require.NoError(t, mem.SaveTask(ctx, core.Task{
		ID: "t-out", ProjectID: "proj-1", ResourceID: "res-1", Name: "out of range",
		EstimatedMinutes: core.Minutes(40 * 60), Status: core.TaskScheduled,
		DueDate: time.Date(2026, time.September, 2, 0, 0, 0, 0, time.UTC), CreatedAt: time.Now(),
	}))

	report, err := svc.GetCapacity(ctx, "res-1", capacity.PeriodMonth, asOf)
	require.NoError(t, err)
	assert.True(t, report.CapacityHours.Equal(decimal.NewFromInt(160)), "got %s", report.CapacityHours)
	assert.Equal(t, core.Minutes(200*60), report.AssignedMinutes)
	assert.True(t, report.UtilizationPct.Equal(decimal.NewFromInt(125)), "got %s", report.UtilizationPct)
	assert.Equal(t, capacity.StatusOverloaded, report.Status)
}

func TestGetCapacity_IdleResourceIsUnderutilized(t *testing.T) {
	svc, _ := newService(t)

	report, err := svc.GetCapacity(context.Background(), "res-1", capacity.PeriodWeek, time.Now())
	require.NoError(t, err)
	assert.Equal(t, core.Minutes(0), report.AssignedMinutes)
	assert.Equal(t, capacity.StatusUnderutilized, report.Status)
}

func TestGetCapacity_HonorsOverriddenAnnualHours(t *testing.T) {
	// A resource contracted for 960 hours a year has 80-hour months.
	svc, mem := newService(t)
	ctx := context.Background()

	require.NoError(t, mem.SaveResource(ctx, core.Resource{
		ID: "res-part", Name: "Robin",
		BaseHourlyCost: core.MustParseMoney("20"), CostOverridden: true,
		AnnualMinutes: core.Minutes(960 * 60), AnnualOverridden: true,
		CreatedAt: time.Now(),
	}))

	report, err := svc.GetCapacity(ctx, "res-part", capacity.PeriodMonth, time.Now())
	require.NoError(t, err)
	assert.True(t, report.CapacityHours.Equal(decimal.NewFromInt(80)), "got %s", report.CapacityHours)
}

func TestGetCapacity_UnknownResource(t *testing.T) {
	svc, _ := newService(t)

	_, err := svc.GetCapacity(context.Background(), "ghost", capacity.PeriodMonth, time.Now())
	assert.ErrorIs(t, err, core.ErrResourceNotFound)
	assert.True(t, core.IsNotFound(err))
}
