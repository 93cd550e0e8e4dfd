package main

import (
	"context"
	"testing"
	"time"
)

func TestBucketWidth(t *testing.T) {
	tests := []struct {
		span time.Duration
		want time.Duration
	}{
		{30 * time.Minute, 6 * time.Minute},
		{time.Hour, 6 * time.Minute},
		{2 * time.Hour, 72 * time.Minute},
		{12 * time.Hour, 72 * time.Minute},
		{13 * time.Hour, 144 * time.Minute},
		{24 * time.Hour, 144 * time.Minute},
		{48 * time.Hour, 24 * time.Hour},
		{168 * time.Hour, 24 * time.Hour},
		{400 * time.Hour, 24 * time.Hour},
	}
	for _, tt := range tests {
		if got := BucketWidth(tt.span); got != tt.want {
			t.Errorf("BucketWidth(%s) = %s, want %s", tt.span, got, tt.want)
		}
	}
}

func TestClampSpan(t *testing.T) {
	if got := ClampSpan(400 * time.Hour); got != 168*time.Hour {
		t.Errorf("Expected oversized span to clamp to 168h, got %s", got)
	}
	if got := ClampSpan(24 * time.Hour); got != 24*time.Hour {
		t.Errorf("Expected in-range span unchanged, got %s", got)
	}
	if got := ClampSpan(0); got != time.Hour {
		t.Errorf("Expected zero span to clamp to 1h, got %s", got)
	}
}

func TestSeriesBucketCountAndOrder(t *testing.T) {
	store := newTestStore(t)
	b := NewBucketizer(store)
	end := time.Date(2025, 6, 10, 12, 0, 0, 0, time.UTC)

	// A full hour of minute readings: at most 10 six-minute buckets.
	for i := 1; i <= 60; i++ {
		mustInsert(t, store, testReading("KARNAL", end.Add(-time.Duration(i)*time.Minute)))
	}

	series, err := b.Series(context.Background(), "KARNAL", []string{"raw_biogas_flow"}, end, time.Hour)
	if err != nil {
		t.Fatalf("Series failed: %v", err)
	}
	if series.BucketSecs != 360 {
		t.Errorf("Expected 360s buckets, got %d", series.BucketSecs)
	}
	if len(series.Points) == 0 || len(series.Points) > 10 {
		t.Fatalf("Expected 1..10 buckets, got %d", len(series.Points))
	}

	var total int64
	for i := 1; i < len(series.Points); i++ {
		if series.Points[i].BucketStart <= series.Points[i-1].BucketStart {
			t.Errorf("Buckets out of order: %s then %s", series.Points[i-1].BucketStart, series.Points[i].BucketStart)
		}
	}
	for _, p := range series.Points {
		total += p.SampleCount
		if p.Values["raw_biogas_flow"] == nil {
			t.Error("Expected bucket average for reported channel")
		}
	}
	if total != 60 {
		t.Errorf("Expected 60 samples across buckets, got %d", total)
	}
}

func TestSeriesBoundsUnalignedWindow(t *testing.T) {
	store := newTestStore(t)
	b := NewBucketizer(store)
	// An end time off the six-minute grid would otherwise straddle an
	// eleventh bucket.
	end := time.Date(2025, 6, 10, 12, 3, 30, 0, time.UTC)

	for i := 0; i < 60; i++ {
		mustInsert(t, store, testReading("KARNAL", end.Add(-time.Duration(i)*time.Minute)))
	}

	series, err := b.Series(context.Background(), "KARNAL", []string{"raw_biogas_flow"}, end, time.Hour)
	if err != nil {
		t.Fatalf("Series failed: %v", err)
	}
	if len(series.Points) > 10 {
		t.Fatalf("Expected at most 10 buckets for a 1h window, got %d", len(series.Points))
	}

	// Data on either side of every midnight the trailing week touches.
	for i := 0; i < 8; i++ {
		mustInsert(t, store, testReading("KARNAL", end.AddDate(0, 0, -i).Add(-6*time.Hour)))
	}
	weekly, err := b.Series(context.Background(), "KARNAL", []string{"raw_biogas_flow"}, end, 168*time.Hour)
	if err != nil {
		t.Fatalf("Series failed: %v", err)
	}
	if len(weekly.Points) > 7 {
		t.Fatalf("Expected at most 7 buckets for a 7-day window, got %d", len(weekly.Points))
	}
}

func TestSeriesOmitsEmptyBuckets(t *testing.T) {
	store := newTestStore(t)
	b := NewBucketizer(store)
	end := time.Date(2025, 6, 10, 12, 0, 0, 0, time.UTC)

	// Two clusters separated by a long gap.
	mustInsert(t, store, testReading("KARNAL", end.Add(-55*time.Minute)))
	mustInsert(t, store, testReading("KARNAL", end.Add(-5*time.Minute)))

	series, err := b.Series(context.Background(), "KARNAL", nil, end, time.Hour)
	if err != nil {
		t.Fatalf("Series failed: %v", err)
	}
	if len(series.Points) != 2 {
		t.Fatalf("Expected 2 non-empty buckets, got %d", len(series.Points))
	}
}

func TestSeriesWeekly(t *testing.T) {
	store := newTestStore(t)
	b := NewBucketizer(store)
	end := time.Date(2025, 6, 10, 0, 0, 0, 0, time.UTC)

	// One reading per day for the past week.
	for i := 1; i <= 7; i++ {
		mustInsert(t, store, testReading("KARNAL", end.AddDate(0, 0, -i).Add(12*time.Hour)))
	}

	series, err := b.Series(context.Background(), "KARNAL", nil, end, 168*time.Hour)
	if err != nil {
		t.Fatalf("Series failed: %v", err)
	}
	if len(series.Points) != 7 {
		t.Fatalf("Expected 7 daily buckets, got %d", len(series.Points))
	}
	if series.BucketSecs != 86400 {
		t.Errorf("Expected daily buckets, got %ds", series.BucketSecs)
	}
}
