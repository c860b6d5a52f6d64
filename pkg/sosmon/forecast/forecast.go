// Package forecast projects storage growth: compounding monthly growth
// for capacity planning, a linear trend over recorded samples, and the
// monthly service uptime figure used in availability reports.
package forecast

import (
	"errors"
	"fmt"
	"math"
	"time"
)

var (
	// ErrInvalidMonth is returned for months outside 1-12.
	ErrInvalidMonth = errors.New("month must be between 1 and 12")

	// ErrInsufficientData is returned when a trend cannot be fitted.
	ErrInsufficientData = errors.New("at least two samples at different times are needed")

	// ErrNoServices is returned when uptime is computed for zero services.
	ErrNoServices = errors.New("number of services must be positive")
)

// Projection is the value reached at the end of one month.
type Projection struct {
	Month time.Time `json:"month" yaml:"month"`
	Value float64   `json:"value" yaml:"value"`
}

// Label renders the month as "Mar-2024".
func (p Projection) Label() string {
	return p.Month.Format("Jan-2006")
}

// Monthly grows initial by pct percent per month, compounding, for every
// month from fromMonth through toMonth of year. When toMonth is not after
// fromMonth the range runs into the following year.
func Monthly(initial, pct float64, fromMonth, toMonth, year int) ([]Projection, error) {
	if fromMonth < 1 || fromMonth > 12 {
		return nil, fmt.Errorf("%w: from %d", ErrInvalidMonth, fromMonth)
	}
	if toMonth < 1 || toMonth > 12 {
		return nil, fmt.Errorf("%w: to %d", ErrInvalidMonth, toMonth)
	}

	start := time.Date(year, time.Month(fromMonth), 1, 0, 0, 0, 0, time.UTC)
	endYear := year
	if toMonth <= fromMonth {
		endYear++
	}
	end := time.Date(endYear, time.Month(toMonth), 1, 0, 0, 0, 0, time.UTC)

	var out []Projection
	value := initial
	for m := start; !m.After(end); m = m.AddDate(0, 1, 0) {
		value += value * pct / 100
		out = append(out, Projection{Month: m, Value: value})
	}
	return out, nil
}

// Point is one observation of a value over time.
type Point struct {
	At    time.Time
	Value float64
}

// Trend is a least-squares line through a series of points.
type Trend struct {
	// PerDay is the change of the value per day.
	PerDay float64 `json:"per_day" yaml:"per_day"`

	// Origin is the time of the first point; Intercept is the fitted
	// value there.
	Origin    time.Time `json:"origin" yaml:"origin"`
	Intercept float64   `json:"intercept" yaml:"intercept"`

	Points int `json:"points" yaml:"points"`
}

// Fit computes the trend of points, which need not be sorted.
func Fit(points []Point) (Trend, error) {
	if len(points) < 2 {
		return Trend{}, ErrInsufficientData
	}

	origin := points[0].At
	for _, p := range points[1:] {
		if p.At.Before(origin) {
			origin = p.At
		}
	}

	n := float64(len(points))
	var sumX, sumY, sumXY, sumXX float64
	for _, p := range points {
		x := p.At.Sub(origin).Hours() / 24
		sumX += x
		sumY += p.Value
		sumXY += x * p.Value
		sumXX += x * x
	}

	denom := n*sumXX - sumX*sumX
	if denom == 0 {
		return Trend{}, ErrInsufficientData
	}

	slope := (n*sumXY - sumX*sumY) / denom
	return Trend{
		PerDay:    slope,
		Origin:    origin,
		Intercept: (sumY - slope*sumX) / n,
		Points:    len(points),
	}, nil
}

// At returns the fitted value at t.
func (t Trend) At(at time.Time) float64 {
	return t.Intercept + t.PerDay*at.Sub(t.Origin).Hours()/24
}

// Reaches returns when the fitted line falls to level. It reports false
// when the line never falls that low.
func (t Trend) Reaches(level float64) (time.Time, bool) {
	if t.PerDay >= 0 {
		if t.Intercept <= level {
			return t.Origin, true
		}
		return time.Time{}, false
	}

	days := (level - t.Intercept) / t.PerDay
	if days < 0 {
		days = 0
	}
	if days > math.MaxInt64/float64(24*time.Hour) {
		return time.Time{}, false
	}
	return t.Origin.Add(time.Duration(days * float64(24*time.Hour))), true
}

// Uptime is the availability of a set of services over one month.
type Uptime struct {
	Month     time.Month `json:"month" yaml:"month"`
	Days      int        `json:"days" yaml:"days"`
	Services  int        `json:"services" yaml:"services"`
	Hits      int        `json:"hits" yaml:"hits"`
	LostHours int        `json:"lost_hours" yaml:"lost_hours"`

	// PotentialHours is services x days x 24.
	PotentialHours int `json:"potential_hours" yaml:"potential_hours"`

	// DowntimeHours is hits x lost hours.
	DowntimeHours int `json:"downtime_hours" yaml:"downtime_hours"`

	Percent float64 `json:"percent" yaml:"percent"`
}

// CalculateUptime computes the uptime of services during the month that
// contains now, given hits impacted services each losing lostHours.
func CalculateUptime(services, hits, lostHours int, now time.Time) (Uptime, error) {
	if services <= 0 {
		return Uptime{}, ErrNoServices
	}
	if hits < 0 || lostHours < 0 {
		return Uptime{}, errors.New("hits and lost hours cannot be negative")
	}

	days := daysIn(now.Year(), now.Month())
	potential := services * days * 24
	downtime := hits * lostHours

	return Uptime{
		Month:          now.Month(),
		Days:           days,
		Services:       services,
		Hits:           hits,
		LostHours:      lostHours,
		PotentialHours: potential,
		DowntimeHours:  downtime,
		Percent:        float64(potential-downtime) / float64(potential) * 100,
	}, nil
}

// Lines renders the uptime report lines.
func (u Uptime) Lines() []string {
	return []string{
		fmt.Sprintf("Expected actual uptime in %s = %d", u.Month, u.PotentialHours),
		fmt.Sprintf("Number services affected by downtime/incident = %d", u.Hits),
		fmt.Sprintf("Total offline hours = %d hour(s)", u.LostHours),
		fmt.Sprintf("Percentage uptime in %s = %.2f%%", u.Month, u.Percent),
	}
}

func daysIn(year int, month time.Month) int {
	return time.Date(year, month+1, 0, 0, 0, 0, 0, time.UTC).Day()
}
