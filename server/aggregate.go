package main

import (
	"context"
	"math"
	"time"
)

// Freshness classifies how current a plant's latest reading is.
type Freshness string

const (
	// FreshnessFresh means the latest reading is at most 2 minutes old.
	FreshnessFresh Freshness = "FRESH"
	// FreshnessDelayed means the latest reading is older than 2 minutes
	// but at most 5 minutes old.
	FreshnessDelayed Freshness = "DELAYED"
	// FreshnessStale means the latest reading is older than 5 minutes.
	FreshnessStale Freshness = "STALE"
	// FreshnessNoData means the plant has never reported.
	FreshnessNoData Freshness = "NO_DATA"
)

const (
	freshCutoff   = 2 * time.Minute
	delayedCutoff = 5 * time.Minute
)

// ClassifyFreshness maps the age of the latest reading to a freshness tier.
// Boundaries are inclusive: exactly 120s is FRESH, exactly 300s is DELAYED.
func ClassifyFreshness(age time.Duration) Freshness {
	switch {
	case age <= freshCutoff:
		return FreshnessFresh
	case age <= delayedCutoff:
		return FreshnessDelayed
	default:
		return FreshnessStale
	}
}

// ChannelSummary is the aggregate of one channel over a window.
type ChannelSummary struct {
	Channel string   `json:"channel"`
	Label   string   `json:"label"`
	Unit    string   `json:"unit"`
	Avg     *float64 `json:"avg"`
	Min     *float64 `json:"min"`
	Max     *float64 `json:"max"`
	Count   int64    `json:"count"`
}

// WindowSummary is the aggregate of a plant over one time window. Freshness
// reflects the plant's latest reading relative to the window end.
type WindowSummary struct {
	PlantID     string           `json:"plant_id"`
	WindowStart string           `json:"window_start"`
	WindowEnd   string           `json:"window_end"`
	SampleCount int64            `json:"sample_count"`
	Expected    int64            `json:"expected_samples"`
	CoveragePct float64          `json:"coverage_pct"`
	Freshness   Freshness        `json:"freshness"`
	Channels    []ChannelSummary `json:"channels"`
}

// StatusSummary is the freshness verdict for a plant.
type StatusSummary struct {
	Freshness  Freshness `json:"freshness"`
	LastSeen   string    `json:"last_seen,omitempty"`
	AgeSeconds *int64    `json:"age_seconds,omitempty"`
}

// WindowAggregator computes per-channel window statistics and freshness.
// It is stateless; every call hits the store.
type WindowAggregator struct {
	store ReadingStore
}

// NewWindowAggregator creates a window aggregator over a reading store.
func NewWindowAggregator(store ReadingStore) *WindowAggregator {
	return &WindowAggregator{store: store}
}

// Summarize aggregates the requested channels over [end-window, end).
// An empty window is not an error: SampleCount is 0, coverage 0, and every
// channel aggregate nil.
func (a *WindowAggregator) Summarize(ctx context.Context, plantID string, channels []string, end time.Time, window time.Duration) (*WindowSummary, error) {
	if window <= 0 {
		return nil, newValidationError("window", "must be positive")
	}
	if len(channels) == 0 {
		channels = InstantChannelNames()
	}

	start := end.Add(-window)
	stats, total, err := a.store.WindowStats(ctx, plantID, channels, start, end)
	if err != nil {
		return nil, err
	}

	summary := &WindowSummary{
		PlantID:     plantID,
		WindowStart: start.Format(TimestampLayout),
		WindowEnd:   end.Format(TimestampLayout),
		SampleCount: total,
		Expected:    int64(window / NominalInterval),
		Channels:    make([]ChannelSummary, 0, len(channels)),
	}
	summary.CoveragePct = Coverage(total, summary.Expected)

	latest, err := a.store.LatestReading(ctx, plantID)
	if err != nil {
		return nil, err
	}
	summary.Freshness = FreshnessNoData
	if latest != nil {
		age := end.Sub(latest.Timestamp)
		if age < 0 {
			age = 0
		}
		summary.Freshness = ClassifyFreshness(age)
	}

	for _, name := range channels {
		c, _ := LookupChannel(name)
		st := stats[name]
		summary.Channels = append(summary.Channels, ChannelSummary{
			Channel: name,
			Label:   c.Label,
			Unit:    c.Unit,
			Avg:     roundPtr(st.Avg, 2),
			Min:     st.Min,
			Max:     st.Max,
			Count:   st.Count,
		})
	}
	return summary, nil
}

// Status reports freshness for a plant relative to now.
func (a *WindowAggregator) Status(ctx context.Context, plantID string, now time.Time) (*StatusSummary, *Reading, error) {
	latest, err := a.store.LatestReading(ctx, plantID)
	if err != nil {
		return nil, nil, err
	}
	if latest == nil {
		return &StatusSummary{Freshness: FreshnessNoData}, nil, nil
	}

	age := now.Sub(latest.Timestamp)
	if age < 0 {
		age = 0
	}
	secs := int64(age / time.Second)
	return &StatusSummary{
		Freshness:  ClassifyFreshness(age),
		LastSeen:   latest.Timestamp.Format(TimestampLayout),
		AgeSeconds: &secs,
	}, latest, nil
}

// Coverage returns 100*actual/expected clamped to [0,100]. More samples than
// expected (duplicate-free backfill overlap) still reads as full coverage.
func Coverage(actual, expected int64) float64 {
	if expected <= 0 {
		return 0
	}
	pct := 100 * float64(actual) / float64(expected)
	if pct > 100 {
		pct = 100
	}
	return round1(pct)
}

// round1 rounds half away from zero to one decimal.
func round1(v float64) float64 {
	return math.Round(v*10) / 10
}

// roundPtr rounds a nullable value to the given number of decimals.
func roundPtr(v *float64, decimals int) *float64 {
	if v == nil {
		return nil
	}
	scale := math.Pow(10, float64(decimals))
	r := math.Round(*v*scale) / scale
	return &r
}
