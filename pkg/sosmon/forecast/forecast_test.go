package forecast

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMonthly(t *testing.T) {
	got, err := Monthly(100, 10, 3, 5, 2024)
	require.NoError(t, err)
	require.Len(t, got, 3)

	assert.Equal(t, "Mar-2024", got[0].Label())
	assert.InDelta(t, 110, got[0].Value, 1e-9)
	assert.InDelta(t, 121, got[1].Value, 1e-9)
	assert.Equal(t, "May-2024", got[2].Label())
	assert.InDelta(t, 133.1, got[2].Value, 1e-9)
}

func TestMonthly_WrapsIntoNextYear(t *testing.T) {
	got, err := Monthly(105.5, 2.5, 11, 2, 2024)
	require.NoError(t, err)
	require.Len(t, got, 4)
	assert.Equal(t, "Nov-2024", got[0].Label())
	assert.Equal(t, "Feb-2025", got[3].Label())

	same, err := Monthly(1, 0, 6, 6, 2024)
	require.NoError(t, err)
	assert.Len(t, same, 13, "equal months span a full year")
}

func TestMonthly_InvalidMonth(t *testing.T) {
	_, err := Monthly(1, 1, 0, 5, 2024)
	assert.ErrorIs(t, err, ErrInvalidMonth)

	_, err = Monthly(1, 1, 5, 13, 2024)
	assert.ErrorIs(t, err, ErrInvalidMonth)
}

func TestFit(t *testing.T) {
	origin := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	points := []Point{
		{At: origin.AddDate(0, 0, 2), Value: 480},
		{At: origin, Value: 500},
		{At: origin.AddDate(0, 0, 1), Value: 490},
	}

	trend, err := Fit(points)
	require.NoError(t, err)
	assert.Equal(t, origin, trend.Origin)
	assert.InDelta(t, -10, trend.PerDay, 1e-9)
	assert.InDelta(t, 500, trend.Intercept, 1e-9)
	assert.Equal(t, 3, trend.Points)
	assert.InDelta(t, 400, trend.At(origin.AddDate(0, 0, 10)), 1e-6)

	when, ok := trend.Reaches(250)
	require.True(t, ok)
	assert.Equal(t, origin.AddDate(0, 0, 25), when)
}

func TestFit_Insufficient(t *testing.T) {
	_, err := Fit(nil)
	assert.ErrorIs(t, err, ErrInsufficientData)

	at := time.Now()
	_, err = Fit([]Point{{At: at, Value: 1}, {At: at, Value: 2}})
	assert.ErrorIs(t, err, ErrInsufficientData)
}

func TestTrend_Reaches(t *testing.T) {
	origin := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)

	_, ok := Trend{PerDay: 5, Intercept: 500, Origin: origin}.Reaches(250)
	assert.False(t, ok, "growing free space never reaches the threshold")

	when, ok := Trend{PerDay: 0, Intercept: 100, Origin: origin}.Reaches(250)
	assert.True(t, ok)
	assert.Equal(t, origin, when)

	when, ok = Trend{PerDay: -1, Intercept: 200, Origin: origin}.Reaches(250)
	assert.True(t, ok, "already below")
	assert.Equal(t, origin, when)
}

func TestCalculateUptime(t *testing.T) {
	now := time.Date(2024, 4, 10, 0, 0, 0, 0, time.UTC)

	u, err := CalculateUptime(399, 38, 5, now)
	require.NoError(t, err)
	assert.Equal(t, 30, u.Days)
	assert.Equal(t, 399*30*24, u.PotentialHours)
	assert.Equal(t, 190, u.DowntimeHours)
	assert.Equal(t, []string{
		"Expected actual uptime in April = 287280",
		"Number services affected by downtime/incident = 38",
		"Total offline hours = 5 hour(s)",
		"Percentage uptime in April = 99.93%",
	}, u.Lines())

	feb, err := CalculateUptime(1, 0, 0, time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.Equal(t, 29, feb.Days)
	assert.InDelta(t, 100, feb.Percent, 1e-9)
}

func TestCalculateUptime_Invalid(t *testing.T) {
	_, err := CalculateUptime(0, 1, 1, time.Now())
	assert.ErrorIs(t, err, ErrNoServices)

	_, err = CalculateUptime(1, -1, 1, time.Now())
	assert.Error(t, err)
}
