package main

import (
	"context"
	"math"
	"time"
)

// Comparison statuses. Direction-aware: a metric that moved the way its
// policy wants is improved regardless of sign.
const (
	StatusImproved = "improved"
	StatusStable   = "stable"
	StatusWarning  = "warning"
	StatusDeclined = "declined"
	StatusChanged  = "changed"
	StatusNoData   = "no_data"
)

// Comparison period pairs. The current side runs period-start to now; the
// previous side is the full preceding period.
const (
	PeriodDay   = "today_vs_yesterday"
	PeriodWeek  = "this_week_vs_last"
	PeriodMonth = "this_month_vs_last"
)

// MetricComparison is one policy metric compared across two periods.
type MetricComparison struct {
	Name     string   `json:"name"`
	Label    string   `json:"label"`
	Unit     string   `json:"unit"`
	Category string   `json:"category"`
	Current  *float64 `json:"current"`
	Previous *float64 `json:"previous"`
	Delta    *float64 `json:"delta"`
	DeltaPct *float64 `json:"delta_pct"`
	Status   string   `json:"status"`
}

// Scorecard tallies comparison outcomes across all metrics.
type Scorecard struct {
	Improved int    `json:"improved"`
	Stable   int    `json:"stable"`
	Warning  int    `json:"warning"`
	Declined int    `json:"declined"`
	NoData   int    `json:"no_data"`
	Verdict  string `json:"verdict"`
}

// ComparisonReport compares the running period against the one before it.
type ComparisonReport struct {
	PlantID       string             `json:"plant_id"`
	Period        string             `json:"period"`
	CurrentStart  string             `json:"current_start"`
	CurrentEnd    string             `json:"current_end"`
	PreviousStart string             `json:"previous_start"`
	PreviousEnd   string             `json:"previous_end"`
	Metrics       []MetricComparison `json:"metrics"`
	Scorecard     Scorecard          `json:"scorecard"`
}

// periodBounds resolves a period name into the current window (aligned
// start through now) and the full preceding window. Weeks start Monday.
func periodBounds(period string, now time.Time) (curStart, prevStart, prevEnd time.Time, err error) {
	midnight := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
	switch period {
	case PeriodDay:
		curStart = midnight
		prevStart = curStart.AddDate(0, 0, -1)
	case PeriodWeek:
		offset := (int(now.Weekday()) + 6) % 7
		curStart = midnight.AddDate(0, 0, -offset)
		prevStart = curStart.AddDate(0, 0, -7)
	case PeriodMonth:
		curStart = time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, now.Location())
		prevStart = curStart.AddDate(0, -1, 0)
	default:
		err = newValidationError("period", "must be one of today_vs_yesterday, this_week_vs_last, this_month_vs_last")
		return
	}
	prevEnd = curStart
	return
}

// Comparator evaluates policy metrics over a calendar period pair and
// scores the movement of each.
type Comparator struct {
	store  ReadingStore
	policy *PolicyConfig
}

// NewComparator creates a comparator over a store with a metric policy.
func NewComparator(store ReadingStore, policy *PolicyConfig) *Comparator {
	return &Comparator{store: store, policy: policy}
}

// Compare evaluates every policy metric for the named period: the current
// window runs from the period's aligned start to now, the previous window
// is the full preceding period.
func (c *Comparator) Compare(ctx context.Context, plantID, period string, now time.Time) (*ComparisonReport, error) {
	curStart, prevStart, prevEnd, err := periodBounds(period, now)
	if err != nil {
		return nil, err
	}

	report := &ComparisonReport{
		PlantID:       plantID,
		Period:        period,
		CurrentStart:  curStart.Format(TimestampLayout),
		CurrentEnd:    now.Format(TimestampLayout),
		PreviousStart: prevStart.Format(TimestampLayout),
		PreviousEnd:   prevEnd.Format(TimestampLayout),
		Metrics:       make([]MetricComparison, 0, len(c.policy.Metrics)),
	}

	for _, m := range c.policy.Metrics {
		cur, err := c.metricValue(ctx, plantID, m, curStart, now)
		if err != nil {
			return nil, err
		}
		prev, err := c.metricValue(ctx, plantID, m, prevStart, prevEnd)
		if err != nil {
			return nil, err
		}

		mc := CompareMetric(m, cur, prev)
		report.Metrics = append(report.Metrics, mc)

		switch mc.Status {
		case StatusImproved:
			report.Scorecard.Improved++
		case StatusStable, StatusChanged:
			report.Scorecard.Stable++
		case StatusWarning:
			report.Scorecard.Warning++
		case StatusDeclined:
			report.Scorecard.Declined++
		default:
			report.Scorecard.NoData++
		}
	}

	report.Scorecard.Verdict = verdict(report.Scorecard)
	return report, nil
}

// metricValue evaluates one metric over a window: the channel average for
// rate metrics, the totalizer delta for production metrics.
func (c *Comparator) metricValue(ctx context.Context, plantID string, m MetricPolicy, start, end time.Time) (*float64, error) {
	switch m.Aggregate {
	case AggregateProduction:
		first, last, _, err := c.store.FirstLast(ctx, plantID, m.Channel, start, end)
		if err != nil {
			return nil, err
		}
		if first == nil || last == nil {
			return nil, nil
		}
		v := *last - *first
		return &v, nil
	default:
		stats, _, err := c.store.WindowStats(ctx, plantID, []string{m.Channel}, start, end)
		if err != nil {
			return nil, err
		}
		return stats[m.Channel].Avg, nil
	}
}

// CompareMetric scores one metric's movement between two periods.
func CompareMetric(m MetricPolicy, current, previous *float64) MetricComparison {
	mc := MetricComparison{
		Name:     m.Name,
		Label:    m.Label,
		Unit:     m.Unit,
		Category: m.Category,
		Current:  roundPtr(current, 2),
		Previous: roundPtr(previous, 2),
		Status:   StatusNoData,
	}
	if current == nil || previous == nil {
		return mc
	}

	delta := *current - *previous
	pct := PercentChange(*current, *previous)
	mc.Delta = roundPtr(&delta, 2)
	mc.DeltaPct = &pct
	mc.Status = classifyMovement(m, delta, pct)
	return mc
}

// PercentChange returns the percent change from previous to current,
// truncated toward negative infinity at one decimal. A zero baseline maps
// to 100 when any value appeared and 0 otherwise.
func PercentChange(current, previous float64) float64 {
	if previous == 0 {
		if current > 0 {
			return 100
		}
		return 0
	}
	pct := 100 * (current - previous) / previous
	return math.Floor(pct*10) / 10
}

// classifyMovement maps a period's movement to a status using the metric's
// direction policy and bands. Direction is judged on the raw delta: percent
// change flips sign over a negative baseline.
func classifyMovement(m MetricPolicy, delta, pct float64) string {
	if math.Abs(pct) <= m.StableBandPct {
		return StatusStable
	}

	var better bool
	switch m.Direction {
	case HigherIsBetter:
		better = delta > 0
	case LowerIsBetter:
		better = delta < 0
	default:
		// No preferred direction: movement beyond the stable band is
		// reported but never scored for or against the plant.
		return StatusChanged
	}

	if better {
		return StatusImproved
	}
	if math.Abs(pct) <= m.DeclineBandPct {
		return StatusWarning
	}
	return StatusDeclined
}

// verdict condenses a scorecard into a single word.
func verdict(s Scorecard) string {
	switch {
	case s.Declined > 0:
		return "declining"
	case s.Warning > 0:
		return "watch"
	case s.Improved > 0:
		return "improving"
	case s.Stable > 0:
		return "steady"
	default:
		return "no_data"
	}
}
