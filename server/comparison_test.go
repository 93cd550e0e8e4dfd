package main

import (
	"context"
	"testing"
	"time"
)

func TestPercentChange(t *testing.T) {
	tests := []struct {
		name     string
		current  float64
		previous float64
		want     float64
	}{
		{"small gain truncates down", 1250.5, 1180.2, 5.9},
		{"loss truncates toward negative", 1089.4, 1180.2, -7.7},
		{"zero baseline with value", 50, 0, 100},
		{"zero baseline without value", 0, 0, 0},
		{"no change", 100, 100, 0},
		{"exact percentage", 110, 100, 10},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := PercentChange(tt.current, tt.previous); got != tt.want {
				t.Errorf("PercentChange(%v, %v) = %v, want %v", tt.current, tt.previous, got, tt.want)
			}
		})
	}
}

func TestCompareMetricStatuses(t *testing.T) {
	higher := MetricPolicy{
		Name:           "raw_flow",
		Channel:        "raw_biogas_flow",
		Direction:      HigherIsBetter,
		StableBandPct:  2,
		DeclineBandPct: 10,
	}
	lower := higher
	lower.Name = "h2s"
	lower.Channel = "h2s_content"
	lower.Direction = LowerIsBetter

	pf := func(v float64) *float64 { return &v }

	tests := []struct {
		name     string
		policy   MetricPolicy
		current  *float64
		previous *float64
		want     string
	}{
		{"within stable band", higher, pf(101), pf(100), StatusStable},
		{"band edge is stable", higher, pf(102), pf(100), StatusStable},
		{"rose on higher-is-better", higher, pf(110), pf(100), StatusImproved},
		{"small drop warns", higher, pf(95), pf(100), StatusWarning},
		{"big drop declines", higher, pf(85), pf(100), StatusDeclined},
		{"fell on lower-is-better", lower, pf(90), pf(100), StatusImproved},
		{"rose on lower-is-better", lower, pf(108), pf(100), StatusWarning},
		{"spiked on lower-is-better", lower, pf(150), pf(100), StatusDeclined},
		{"missing current", higher, nil, pf(100), StatusNoData},
		{"missing previous", higher, pf(100), nil, StatusNoData},
		// A negative baseline flips the sign of the percent change; the
		// verdict must still follow the delta.
		{"rose from negative baseline", higher, pf(-10), pf(-20), StatusImproved},
		{"fell from negative baseline", higher, pf(-30), pf(-20), StatusDeclined},
		{"rose from negative on lower-is-better", lower, pf(-10), pf(-20), StatusDeclined},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := CompareMetric(tt.policy, tt.current, tt.previous)
			if got.Status != tt.want {
				t.Errorf("Status = %s, want %s (pct %v)", got.Status, tt.want, got.DeltaPct)
			}
		})
	}
}

func TestPeriodBounds(t *testing.T) {
	// Tuesday June 10, 2025 at 14:30.
	now := time.Date(2025, 6, 10, 14, 30, 0, 0, time.UTC)

	curStart, prevStart, prevEnd, err := periodBounds(PeriodDay, now)
	if err != nil {
		t.Fatalf("periodBounds(day) failed: %v", err)
	}
	if want := time.Date(2025, 6, 10, 0, 0, 0, 0, time.UTC); !curStart.Equal(want) {
		t.Errorf("Day curStart = %s, want %s", curStart, want)
	}
	if want := time.Date(2025, 6, 9, 0, 0, 0, 0, time.UTC); !prevStart.Equal(want) {
		t.Errorf("Day prevStart = %s, want %s", prevStart, want)
	}
	if !prevEnd.Equal(curStart) {
		t.Error("Previous period must end where current starts")
	}

	curStart, prevStart, _, err = periodBounds(PeriodWeek, now)
	if err != nil {
		t.Fatalf("periodBounds(week) failed: %v", err)
	}
	if want := time.Date(2025, 6, 9, 0, 0, 0, 0, time.UTC); !curStart.Equal(want) {
		t.Errorf("Week curStart = %s, want Monday %s", curStart, want)
	}
	if want := time.Date(2025, 6, 2, 0, 0, 0, 0, time.UTC); !prevStart.Equal(want) {
		t.Errorf("Week prevStart = %s, want %s", prevStart, want)
	}

	curStart, prevStart, _, err = periodBounds(PeriodMonth, now)
	if err != nil {
		t.Fatalf("periodBounds(month) failed: %v", err)
	}
	if want := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC); !curStart.Equal(want) {
		t.Errorf("Month curStart = %s, want %s", curStart, want)
	}
	if want := time.Date(2025, 5, 1, 0, 0, 0, 0, time.UTC); !prevStart.Equal(want) {
		t.Errorf("Month prevStart = %s, want %s", prevStart, want)
	}

	if _, _, _, err := periodBounds("fortnight", now); !IsValidationError(err) {
		t.Errorf("Expected ValidationError for unknown period, got %v", err)
	}
}

func TestCompareTodayVsYesterday(t *testing.T) {
	store := newTestStore(t)
	policy := &PolicyConfig{
		Metrics: []MetricPolicy{
			{
				Name:           "raw_flow",
				Channel:        "raw_biogas_flow",
				Label:          "Raw Biogas Flow",
				Aggregate:      AggregateAvg,
				Direction:      HigherIsBetter,
				StableBandPct:  2,
				DeclineBandPct: 10,
			},
			{
				Name:           "raw_production",
				Channel:        "raw_biogas_totalizer",
				Label:          "Raw Biogas Production",
				Aggregate:      AggregateProduction,
				Direction:      HigherIsBetter,
				StableBandPct:  2,
				DeclineBandPct: 10,
			},
		},
	}
	c := NewComparator(store, policy)
	now := time.Date(2025, 6, 10, 12, 0, 0, 0, time.UTC)
	yesterday := now.AddDate(0, 0, -1)

	insert := func(ts time.Time, flow, total float64) {
		mustInsert(t, store, &Reading{
			PlantID:            "KARNAL",
			Timestamp:          ts,
			RawBiogasFlow:      &flow,
			RawBiogasTotalizer: &total,
		})
	}

	// Yesterday: average flow 100, production 60.
	insert(yesterday.Add(-2*time.Hour), 100, 1000)
	insert(yesterday.Add(2*time.Hour), 100, 1060)
	// Today: average flow 110, production 90.
	insert(now.Add(-2*time.Hour), 110, 1100)
	insert(now.Add(-1*time.Hour), 110, 1190)

	report, err := c.Compare(context.Background(), "KARNAL", PeriodDay, now)
	if err != nil {
		t.Fatalf("Compare failed: %v", err)
	}
	if len(report.Metrics) != 2 {
		t.Fatalf("Expected 2 metrics, got %d", len(report.Metrics))
	}

	flow := report.Metrics[0]
	if flow.Status != StatusImproved {
		t.Errorf("Expected flow improved, got %s (pct %v)", flow.Status, flow.DeltaPct)
	}
	if flow.DeltaPct == nil || *flow.DeltaPct != 10 {
		t.Errorf("Expected flow delta 10%%, got %v", flow.DeltaPct)
	}

	prod := report.Metrics[1]
	if prod.Current == nil || *prod.Current != 90 {
		t.Errorf("Expected today's production 90, got %v", prod.Current)
	}
	if prod.Previous == nil || *prod.Previous != 60 {
		t.Errorf("Expected yesterday's production 60, got %v", prod.Previous)
	}
	if prod.Status != StatusImproved {
		t.Errorf("Expected production improved, got %s", prod.Status)
	}
	if report.Scorecard.Improved != 2 {
		t.Errorf("Expected scorecard improved=2, got %+v", report.Scorecard)
	}
	if report.Scorecard.Verdict != "improving" {
		t.Errorf("Expected verdict improving, got %s", report.Scorecard.Verdict)
	}
}
