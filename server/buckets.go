package main

import (
	"context"
	"time"
)

// bucketTier maps a maximum window span to a bucket width.
type bucketTier struct {
	maxSpan time.Duration
	width   time.Duration
}

// bucketTiers is ordered narrowest first. Widths are chosen so a full window
// yields at most ten buckets for intra-day spans and one bucket per day for
// the week view.
var bucketTiers = []bucketTier{
	{time.Hour, 6 * time.Minute},
	{12 * time.Hour, 72 * time.Minute},
	{24 * time.Hour, 144 * time.Minute},
	{168 * time.Hour, 24 * time.Hour},
}

// BucketWidth picks the bucket width for a window span. Spans beyond the
// widest tier clamp to it, so an oversized request degrades to daily
// buckets instead of failing.
func BucketWidth(span time.Duration) time.Duration {
	for _, t := range bucketTiers {
		if span <= t.maxSpan {
			return t.width
		}
	}
	return bucketTiers[len(bucketTiers)-1].width
}

// ClampSpan limits a window span to the widest supported tier.
func ClampSpan(span time.Duration) time.Duration {
	max := bucketTiers[len(bucketTiers)-1].maxSpan
	if span > max {
		return max
	}
	if span <= 0 {
		return bucketTiers[0].maxSpan
	}
	return span
}

// TrendPoint is one bucket of a trend series.
type TrendPoint struct {
	BucketStart string              `json:"bucket_start"`
	SampleCount int64               `json:"sample_count"`
	Values      map[string]*float64 `json:"values"`
}

// TrendSeries is a bucketed view of a window, suitable for charting.
type TrendSeries struct {
	PlantID     string       `json:"plant_id"`
	WindowStart string       `json:"window_start"`
	WindowEnd   string       `json:"window_end"`
	BucketWidth string       `json:"bucket_width"`
	BucketSecs  int64        `json:"bucket_seconds"`
	Points      []TrendPoint `json:"points"`
}

// gridUnix is the epoch a stored timestamp maps to: the wall clock read
// as UTC, matching strftime('%s') over the store's naive strings.
func gridUnix(t time.Time) int64 {
	return time.Date(t.Year(), t.Month(), t.Day(), t.Hour(), t.Minute(), t.Second(), 0, time.UTC).Unix()
}

// Bucketizer slices a window into fixed-width time buckets.
type Bucketizer struct {
	store ReadingStore
}

// NewBucketizer creates a bucketizer over a reading store.
func NewBucketizer(store ReadingStore) *Bucketizer {
	return &Bucketizer{store: store}
}

// Series buckets the requested channels over [end-span, end). Bucket
// boundaries are aligned to the epoch grid, index = floor(unix/width), so
// identical requests always land rows in identical buckets. The window
// start is rounded up to the grid, which keeps the point count at or
// below span/width for any trailing window. Empty buckets are omitted;
// points come back in ascending time order.
func (b *Bucketizer) Series(ctx context.Context, plantID string, channels []string, end time.Time, span time.Duration) (*TrendSeries, error) {
	if len(channels) == 0 {
		channels = InstantChannelNames()
	}

	span = ClampSpan(span)
	width := BucketWidth(span)
	start := end.Add(-span)

	widthSec := int64(width / time.Second)
	if rem := gridUnix(start) % widthSec; rem != 0 {
		start = start.Add(time.Duration(widthSec-rem) * time.Second)
	}

	rows, err := b.store.BucketSeries(ctx, plantID, channels, start, end, width)
	if err != nil {
		return nil, err
	}

	series := &TrendSeries{
		PlantID:     plantID,
		WindowStart: start.Format(TimestampLayout),
		WindowEnd:   end.Format(TimestampLayout),
		BucketWidth: width.String(),
		BucketSecs:  int64(width / time.Second),
		Points:      make([]TrendPoint, 0, len(rows)),
	}

	for _, row := range rows {
		values := make(map[string]*float64, len(row.Values))
		for ch, v := range row.Values {
			values[ch] = roundPtr(v, 2)
		}
		series.Points = append(series.Points, TrendPoint{
			BucketStart: row.BucketStart.Format(TimestampLayout),
			SampleCount: row.Count,
			Values:      values,
		})
	}
	return series, nil
}
