package main

import (
	"context"
	"testing"
	"time"
)

func insertTotalizer(t *testing.T, store ReadingStore, ts time.Time, v float64) {
	t.Helper()
	val := v
	mustInsert(t, store, &Reading{
		PlantID:            "KARNAL",
		Timestamp:          ts,
		RawBiogasTotalizer: &val,
	})
}

func TestDailyProductionSameDay(t *testing.T) {
	store := newTestStore(t)
	p := NewProductionCalculator(store)
	day := time.Date(2025, 6, 10, 0, 0, 0, 0, time.UTC)

	for i, v := range []float64{100, 105, 110, 120} {
		insertTotalizer(t, store, day.Add(time.Duration(i)*time.Minute), v)
	}

	report, err := p.Daily(context.Background(), "KARNAL", []string{"raw_biogas_totalizer"}, "2025-06-10", "2025-06-10")
	if err != nil {
		t.Fatalf("Daily failed: %v", err)
	}
	if len(report.Days) != 1 {
		t.Fatalf("Expected 1 day, got %d", len(report.Days))
	}

	cp := report.Days[0].Channels["raw_biogas_totalizer"]
	if cp.Production == nil || *cp.Production != 20 {
		t.Errorf("Expected production 20, got %v", cp.Production)
	}
	if cp.RefSource != "same_day" {
		t.Errorf("Expected same_day reference, got %s", cp.RefSource)
	}
	if cp.Anomaly {
		t.Error("Expected no anomaly for a monotonic counter")
	}
	if report.Totals["raw_biogas_totalizer"] != 20 {
		t.Errorf("Expected total 20, got %v", report.Totals["raw_biogas_totalizer"])
	}
}

func TestDailyProductionInteriorDecrease(t *testing.T) {
	store := newTestStore(t)
	p := NewProductionCalculator(store)
	day := time.Date(2025, 6, 10, 0, 0, 0, 0, time.UTC)

	// The counter dips mid-day but recovers: the span is still last-first
	// and the dip is surfaced, not clamped away.
	for i, v := range []float64{100, 105, 98, 120} {
		insertTotalizer(t, store, day.Add(time.Duration(i)*time.Minute), v)
	}

	report, err := p.Daily(context.Background(), "KARNAL", []string{"raw_biogas_totalizer"}, "2025-06-10", "2025-06-10")
	if err != nil {
		t.Fatalf("Daily failed: %v", err)
	}

	cp := report.Days[0].Channels["raw_biogas_totalizer"]
	if cp.Production == nil || *cp.Production != 20 {
		t.Errorf("Expected production 20, got %v", cp.Production)
	}
	if !cp.Anomaly {
		t.Error("Expected counter anomaly flag for interior decrease")
	}
	if cp.Decreases != 1 {
		t.Errorf("Expected 1 recorded decrease, got %d", cp.Decreases)
	}
}

func TestDailyProductionPreviousDayReference(t *testing.T) {
	store := newTestStore(t)
	p := NewProductionCalculator(store)
	day1 := time.Date(2025, 6, 9, 0, 0, 0, 0, time.UTC)
	day2 := day1.AddDate(0, 0, 1)

	// Day 1 closes at 1060; day 2 runs 1070 -> 1150. Day 2's production
	// credits the overnight 1060 -> 1070 climb.
	insertTotalizer(t, store, day1.Add(8*time.Hour), 1000)
	insertTotalizer(t, store, day1.Add(20*time.Hour), 1060)
	insertTotalizer(t, store, day2.Add(8*time.Hour), 1070)
	insertTotalizer(t, store, day2.Add(20*time.Hour), 1150)

	report, err := p.Daily(context.Background(), "KARNAL", []string{"raw_biogas_totalizer"}, "2025-06-09", "2025-06-10")
	if err != nil {
		t.Fatalf("Daily failed: %v", err)
	}
	if len(report.Days) != 2 {
		t.Fatalf("Expected 2 days, got %d", len(report.Days))
	}

	first := report.Days[0].Channels["raw_biogas_totalizer"]
	if first.Production == nil || *first.Production != 60 {
		t.Errorf("Expected day 1 production 60, got %v", first.Production)
	}
	if first.RefSource != "same_day" {
		t.Errorf("Expected day 1 same_day reference, got %s", first.RefSource)
	}

	second := report.Days[1].Channels["raw_biogas_totalizer"]
	if second.Production == nil || *second.Production != 90 {
		t.Errorf("Expected day 2 production 90 (1150-1060), got %v", second.Production)
	}
	if second.RefSource != "previous_day" {
		t.Errorf("Expected day 2 previous_day reference, got %s", second.RefSource)
	}
	if report.Totals["raw_biogas_totalizer"] != 150 {
		t.Errorf("Expected total 150, got %v", report.Totals["raw_biogas_totalizer"])
	}
}

func TestDailyProductionCounterReset(t *testing.T) {
	store := newTestStore(t)
	p := NewProductionCalculator(store)
	day1 := time.Date(2025, 6, 9, 0, 0, 0, 0, time.UTC)
	day2 := day1.AddDate(0, 0, 1)

	// The register was replaced overnight: day 2 starts far below day 1's
	// close, so day 2 falls back to its own span and flags the anomaly.
	insertTotalizer(t, store, day1.Add(8*time.Hour), 99000)
	insertTotalizer(t, store, day1.Add(20*time.Hour), 99500)
	insertTotalizer(t, store, day2.Add(8*time.Hour), 10)
	insertTotalizer(t, store, day2.Add(20*time.Hour), 480)

	report, err := p.Daily(context.Background(), "KARNAL", []string{"raw_biogas_totalizer"}, "2025-06-10", "2025-06-10")
	if err != nil {
		t.Fatalf("Daily failed: %v", err)
	}
	if len(report.Days) != 1 {
		t.Fatalf("Expected 1 day, got %d", len(report.Days))
	}

	cp := report.Days[0].Channels["raw_biogas_totalizer"]
	if cp.Production == nil || *cp.Production != 470 {
		t.Errorf("Expected fallback production 470, got %v", cp.Production)
	}
	if cp.RefSource != "same_day" {
		t.Errorf("Expected same_day fallback, got %s", cp.RefSource)
	}
	if !cp.Anomaly {
		t.Error("Expected anomaly flag for cross-day counter reset")
	}
}

func TestDailyProductionSkipsEmptyDays(t *testing.T) {
	store := newTestStore(t)
	p := NewProductionCalculator(store)
	day := time.Date(2025, 6, 10, 0, 0, 0, 0, time.UTC)

	insertTotalizer(t, store, day.Add(8*time.Hour), 500)
	insertTotalizer(t, store, day.Add(20*time.Hour), 560)

	report, err := p.Daily(context.Background(), "KARNAL", []string{"raw_biogas_totalizer"}, "2025-06-08", "2025-06-11")
	if err != nil {
		t.Fatalf("Daily failed: %v", err)
	}
	if len(report.Days) != 1 {
		t.Fatalf("Expected only the reported day, got %d days", len(report.Days))
	}
	if report.Days[0].Date != "2025-06-10" {
		t.Errorf("Expected 2025-06-10, got %s", report.Days[0].Date)
	}
}

func TestDailyProductionDayBounds(t *testing.T) {
	store := newTestStore(t)
	p := NewProductionCalculator(store)
	day := time.Date(2025, 6, 10, 0, 0, 0, 0, time.UTC)

	// Readings start late and stop early: the bounds expose the gap.
	insertTotalizer(t, store, day.Add(8*time.Hour), 500)
	insertTotalizer(t, store, day.Add(12*time.Hour), 530)
	insertTotalizer(t, store, day.Add(15*time.Hour+30*time.Minute), 560)

	report, err := p.Daily(context.Background(), "KARNAL", []string{"raw_biogas_totalizer"}, "2025-06-10", "2025-06-10")
	if err != nil {
		t.Fatalf("Daily failed: %v", err)
	}
	if len(report.Days) != 1 {
		t.Fatalf("Expected 1 day, got %d", len(report.Days))
	}

	got := report.Days[0]
	if got.FirstTS != "2025-06-10 08:00:00" {
		t.Errorf("Expected first_ts 2025-06-10 08:00:00, got %s", got.FirstTS)
	}
	if got.LastTS != "2025-06-10 15:30:00" {
		t.Errorf("Expected last_ts 2025-06-10 15:30:00, got %s", got.LastTS)
	}
	if got.SampleCount != 3 {
		t.Errorf("Expected 3 samples, got %d", got.SampleCount)
	}
}

func TestDailyProductionRejectsBadInput(t *testing.T) {
	store := newTestStore(t)
	p := NewProductionCalculator(store)
	ctx := context.Background()

	if _, err := p.Daily(ctx, "KARNAL", nil, "June 10", "2025-06-10"); !IsValidationError(err) {
		t.Errorf("Expected ValidationError for bad start date, got %v", err)
	}
	if _, err := p.Daily(ctx, "KARNAL", nil, "2025-06-11", "2025-06-10"); !IsValidationError(err) {
		t.Errorf("Expected ValidationError for inverted range, got %v", err)
	}
	if _, err := p.Daily(ctx, "KARNAL", []string{"raw_biogas_flow"}, "2025-06-10", "2025-06-10"); !IsValidationError(err) {
		t.Errorf("Expected ValidationError for non-totalizer channel, got %v", err)
	}
}
