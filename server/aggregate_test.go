package main

import (
	"context"
	"testing"
	"time"
)

func TestClassifyFreshness(t *testing.T) {
	tests := []struct {
		age  time.Duration
		want Freshness
	}{
		{0, FreshnessFresh},
		{119 * time.Second, FreshnessFresh},
		{120 * time.Second, FreshnessFresh},
		{121 * time.Second, FreshnessDelayed},
		{299 * time.Second, FreshnessDelayed},
		{300 * time.Second, FreshnessDelayed},
		{301 * time.Second, FreshnessStale},
		{24 * time.Hour, FreshnessStale},
	}
	for _, tt := range tests {
		if got := ClassifyFreshness(tt.age); got != tt.want {
			t.Errorf("ClassifyFreshness(%s) = %s, want %s", tt.age, got, tt.want)
		}
	}
}

func TestCoverage(t *testing.T) {
	tests := []struct {
		actual, expected int64
		want             float64
	}{
		{60, 60, 100},
		{30, 60, 50},
		{0, 60, 0},
		{70, 60, 100}, // overlap clamps, never exceeds 100
		{1, 1440, 0.1},
		{10, 0, 0},
	}
	for _, tt := range tests {
		if got := Coverage(tt.actual, tt.expected); got != tt.want {
			t.Errorf("Coverage(%d, %d) = %v, want %v", tt.actual, tt.expected, got, tt.want)
		}
	}
}

func TestSummarizeEmptyWindow(t *testing.T) {
	store := newTestStore(t)
	agg := NewWindowAggregator(store)
	end := time.Date(2025, 6, 10, 12, 0, 0, 0, time.UTC)

	summary, err := agg.Summarize(context.Background(), "KARNAL", []string{"raw_biogas_flow"}, end, time.Hour)
	if err != nil {
		t.Fatalf("Empty window must not error: %v", err)
	}
	if summary.SampleCount != 0 {
		t.Errorf("Expected 0 samples, got %d", summary.SampleCount)
	}
	if summary.CoveragePct != 0 {
		t.Errorf("Expected coverage 0, got %v", summary.CoveragePct)
	}
	if len(summary.Channels) != 1 {
		t.Fatalf("Expected 1 channel entry, got %d", len(summary.Channels))
	}
	ch := summary.Channels[0]
	if ch.Avg != nil || ch.Min != nil || ch.Max != nil {
		t.Errorf("Expected null aggregates for empty window, got %+v", ch)
	}
	if summary.Freshness != FreshnessNoData {
		t.Errorf("Expected NO_DATA freshness for silent plant, got %s", summary.Freshness)
	}
}

func TestSummarizeCoverage(t *testing.T) {
	store := newTestStore(t)
	agg := NewWindowAggregator(store)
	end := time.Date(2025, 6, 10, 12, 0, 0, 0, time.UTC)

	// 30 of the expected 60 minutes reported.
	for i := 0; i < 30; i++ {
		mustInsert(t, store, testReading("KARNAL", end.Add(-time.Duration(i+1)*time.Minute)))
	}

	summary, err := agg.Summarize(context.Background(), "KARNAL", []string{"raw_biogas_flow"}, end, time.Hour)
	if err != nil {
		t.Fatalf("Summarize failed: %v", err)
	}
	if summary.Expected != 60 {
		t.Errorf("Expected 60 expected samples, got %d", summary.Expected)
	}
	if summary.SampleCount != 30 {
		t.Errorf("Expected 30 samples, got %d", summary.SampleCount)
	}
	if summary.CoveragePct != 50 {
		t.Errorf("Expected coverage 50, got %v", summary.CoveragePct)
	}
	// Newest reading is a minute before the window end.
	if summary.Freshness != FreshnessFresh {
		t.Errorf("Expected FRESH summary, got %s", summary.Freshness)
	}
}

func TestStatus(t *testing.T) {
	store := newTestStore(t)
	agg := NewWindowAggregator(store)
	ctx := context.Background()
	now := time.Date(2025, 6, 10, 12, 0, 0, 0, time.UTC)

	status, latest, err := agg.Status(ctx, "KARNAL", now)
	if err != nil {
		t.Fatalf("Status failed: %v", err)
	}
	if status.Freshness != FreshnessNoData {
		t.Errorf("Expected NO_DATA for empty plant, got %s", status.Freshness)
	}
	if latest != nil {
		t.Error("Expected nil latest reading")
	}

	mustInsert(t, store, testReading("KARNAL", now.Add(-90*time.Second)))

	status, latest, err = agg.Status(ctx, "KARNAL", now)
	if err != nil {
		t.Fatalf("Status failed: %v", err)
	}
	if status.Freshness != FreshnessFresh {
		t.Errorf("Expected FRESH at 90s, got %s", status.Freshness)
	}
	if latest == nil {
		t.Fatal("Expected a latest reading")
	}
	if status.AgeSeconds == nil || *status.AgeSeconds != 90 {
		t.Errorf("Expected age 90s, got %v", status.AgeSeconds)
	}
}
