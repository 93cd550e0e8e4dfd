package main

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// ReadingStore is the interface the aggregation components consume. All
// aggregation is pushed down as grouped/aggregate SQL so the engine never
// materializes full row sets, and every call honors ctx for the request
// deadline and caller disconnect.
type ReadingStore interface {
	// Initialize sets up the backing schema.
	Initialize() error

	// InsertReading stores one reading. A duplicate (plant, timestamp) is
	// an idempotent no-op: inserted is false and err is nil.
	InsertReading(ctx context.Context, r *Reading) (inserted bool, err error)

	// LatestReading returns the most recent reading for a plant, or nil
	// when the plant has no data.
	LatestReading(ctx context.Context, plantID string) (*Reading, error)

	// WindowStats returns per-channel AVG/MIN/MAX/COUNT over [start,end)
	// plus the total row count in the window.
	WindowStats(ctx context.Context, plantID string, channels []string, start, end time.Time) (map[string]ChannelStats, int64, error)

	// BucketSeries groups [start,end) into fixed-width buckets keyed by
	// floor(unix_timestamp/width) and averages each channel per bucket.
	// Buckets with no rows are absent from the result.
	BucketSeries(ctx context.Context, plantID string, channels []string, start, end time.Time, width time.Duration) ([]BucketRow, error)

	// DayBounds returns, for each calendar day in [startDate,endDate] that
	// has data, the day's sample count, first and last reading timestamps,
	// and the first/last values of the requested totalizer channels.
	DayBounds(ctx context.Context, plantID string, channels []string, startDate, endDate string) ([]DayBoundsRow, error)

	// FirstLast returns the first and last non-null values of one channel
	// in [start,end) plus the non-null sample count.
	FirstLast(ctx context.Context, plantID, channel string, start, end time.Time) (first, last *float64, count int64, err error)

	// CountDecreases counts consecutive-sample drops of a totalizer
	// channel larger than tolerance within [start,end).
	CountDecreases(ctx context.Context, plantID, channel string, start, end time.Time, tolerance float64) (int64, error)

	// RunningMinutes sums a binary status channel over [start,end) and
	// returns the number of samples where it was present.
	RunningMinutes(ctx context.Context, plantID, channel string, start, end time.Time) (on, samples int64, err error)

	// SampleCount returns the row count for a plant in [start,end).
	SampleCount(ctx context.Context, plantID string, start, end time.Time) (int64, error)

	// InsertAlert records a threshold violation unless an alert for the
	// same channel was already raised within the dedup window.
	InsertAlert(ctx context.Context, a *Alert, dedup time.Duration) (bool, error)

	// RecentAlerts returns the newest alerts for a plant.
	RecentAlerts(ctx context.Context, plantID string, limit int) ([]Alert, error)

	// DeleteOldReadings removes readings older than cutoff and returns the
	// number of rows removed.
	DeleteOldReadings(ctx context.Context, cutoff time.Time) (int64, error)

	// Close closes the store.
	Close() error
}

// ChannelStats holds the pushed-down aggregates for one channel in a window.
// Avg/Min/Max are nil when the channel had no non-null samples.
type ChannelStats struct {
	Avg   *float64
	Min   *float64
	Max   *float64
	Count int64
}

// BucketRow is one time slice of a bucketed series.
type BucketRow struct {
	BucketStart time.Time
	Count       int64
	Values      map[string]*float64
}

// DayBoundsRow carries the totalizer bounds needed to difference one day.
type DayBoundsRow struct {
	Date        string
	SampleCount int64
	FirstTS     time.Time
	LastTS      time.Time
	First       map[string]*float64
	Last        map[string]*float64
}

// Alert is one recorded threshold violation.
type Alert struct {
	ID        int64     `json:"id"`
	PlantID   string    `json:"plant_id"`
	Channel   string    `json:"channel"`
	Value     float64   `json:"value"`
	Threshold float64   `json:"threshold"`
	Severity  string    `json:"severity"`
	Message   string    `json:"message"`
	CreatedAt time.Time `json:"created_at"`
}

// SQLiteStore implements ReadingStore using SQLite.
type SQLiteStore struct {
	db     *sql.DB
	dbPath string
	mu     sync.RWMutex
}

// NewSQLiteStore creates a new SQLite-backed reading store.
func NewSQLiteStore(dbPath string) *SQLiteStore {
	return &SQLiteStore{
		dbPath: dbPath,
	}
}

// channelColumns renders the readings table's channel column definitions in
// channelList order. Column order here must match scanReading.
func channelColumns() string {
	var b strings.Builder
	for _, c := range channelList {
		typ := "REAL"
		if c.Class == ChannelStatus {
			typ = "INTEGER"
		}
		fmt.Fprintf(&b, "\t\t%s %s,\n", c.Name, typ)
	}
	return b.String()
}

// Initialize sets up the SQLite database and creates tables
func (s *SQLiteStore) Initialize() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	// Ensure directory exists
	dir := filepath.Dir(s.dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create database directory: %v", err)
	}

	// Open database
	db, err := sql.Open("sqlite3", s.dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return fmt.Errorf("failed to open database: %v", err)
	}
	s.db = db

	schema := fmt.Sprintf(`
	CREATE TABLE IF NOT EXISTS readings (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		plant_id TEXT NOT NULL,
		timestamp DATETIME NOT NULL,
%s		created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		UNIQUE(plant_id, timestamp)
	);

	CREATE INDEX IF NOT EXISTS idx_plant_timestamp ON readings(plant_id, timestamp);

	CREATE TABLE IF NOT EXISTS alerts (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		plant_id TEXT NOT NULL,
		channel TEXT NOT NULL,
		current_value REAL NOT NULL,
		threshold_value REAL NOT NULL,
		severity TEXT NOT NULL,
		message TEXT NOT NULL,
		created_at DATETIME NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_alerts_plant ON alerts(plant_id, channel, created_at);
	`, channelColumns())

	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("failed to create schema: %v", err)
	}

	// Optimize for write performance
	pragmas := []string{
		"PRAGMA synchronous = NORMAL",
		"PRAGMA cache_size = 10000",
		"PRAGMA temp_store = MEMORY",
	}

	for _, pragma := range pragmas {
		if _, err := s.db.Exec(pragma); err != nil {
			return fmt.Errorf("failed to set pragma: %v", err)
		}
	}

	return nil
}

// ts renders a time in the store's naive plant-local format. Timestamps are
// stored without a zone marker so SQLite's date functions group rows on
// plant midnights, not UTC midnights.
func ts(t time.Time) string {
	return t.Format(TimestampLayout)
}

func parseTS(s string) (time.Time, error) {
	if t, err := time.Parse(TimestampLayout, s); err == nil {
		return t, nil
	}
	// Rows written by other tooling may carry an RFC3339 timestamp.
	return time.Parse(time.RFC3339, s)
}

// InsertReading stores one reading, treating duplicates as a no-op.
func (s *SQLiteStore) InsertReading(ctx context.Context, r *Reading) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cols := make([]string, 0, len(channelList)+2)
	args := make([]interface{}, 0, len(channelList)+2)
	cols = append(cols, "plant_id", "timestamp")
	args = append(args, r.PlantID, ts(r.Timestamp))

	values := r.channelValues()
	for _, c := range channelList {
		cols = append(cols, c.Name)
		v := values[c.Name]
		switch {
		case v == nil:
			args = append(args, nil)
		case c.Class == ChannelStatus:
			args = append(args, int64(*v))
		default:
			args = append(args, *v)
		}
	}

	query := fmt.Sprintf(
		"INSERT OR IGNORE INTO readings (%s) VALUES (%s)",
		strings.Join(cols, ", "),
		strings.TrimSuffix(strings.Repeat("?, ", len(cols)), ", "),
	)

	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return false, storeErr("insert reading", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, storeErr("insert reading", err)
	}
	return n > 0, nil
}

// allChannelSelect is the column list for full-row reads, in channelList
// order.
func allChannelSelect() string {
	names := make([]string, 0, len(channelList))
	for _, c := range channelList {
		names = append(names, c.Name)
	}
	return strings.Join(names, ", ")
}

// scanReading scans a plant_id, timestamp, <all channels> row.
func scanReading(row *sql.Row) (*Reading, error) {
	var (
		plantID string
		tstamp  string
	)
	vals := make([]sql.NullFloat64, len(channelList))
	dest := make([]interface{}, 0, len(channelList)+2)
	dest = append(dest, &plantID, &tstamp)
	for i := range vals {
		dest = append(dest, &vals[i])
	}

	if err := row.Scan(dest...); err != nil {
		return nil, err
	}

	t, err := parseTS(tstamp)
	if err != nil {
		return nil, fmt.Errorf("failed to parse stored timestamp %q: %v", tstamp, err)
	}

	r := &Reading{PlantID: plantID, Timestamp: t}
	r.assignChannelValues(vals)
	return r, nil
}

// LatestReading returns the newest reading for a plant, or nil when the
// plant has never reported.
func (s *SQLiteStore) LatestReading(ctx context.Context, plantID string) (*Reading, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query := fmt.Sprintf(`
		SELECT plant_id, timestamp, %s
		FROM readings
		WHERE plant_id = ?
		ORDER BY timestamp DESC
		LIMIT 1
	`, allChannelSelect())

	r, err := scanReading(s.db.QueryRowContext(ctx, query, plantID))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, storeErr("latest reading", err)
	}
	return r, nil
}

// WindowStats pushes AVG/MIN/MAX/COUNT per channel down to SQLite in a
// single scan over the window.
func (s *SQLiteStore) WindowStats(ctx context.Context, plantID string, channels []string, start, end time.Time) (map[string]ChannelStats, int64, error) {
	if err := ValidateChannels(channels); err != nil {
		return nil, 0, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	selects := []string{"COUNT(*)"}
	for _, ch := range channels {
		selects = append(selects,
			fmt.Sprintf("AVG(%s), MIN(%s), MAX(%s), COUNT(%s)", ch, ch, ch, ch))
	}

	query := fmt.Sprintf(`
		SELECT %s
		FROM readings
		WHERE plant_id = ? AND timestamp >= ? AND timestamp < ?
	`, strings.Join(selects, ", "))

	var total int64
	avgs := make([]sql.NullFloat64, len(channels))
	mins := make([]sql.NullFloat64, len(channels))
	maxs := make([]sql.NullFloat64, len(channels))
	counts := make([]int64, len(channels))

	dest := []interface{}{&total}
	for i := range channels {
		dest = append(dest, &avgs[i], &mins[i], &maxs[i], &counts[i])
	}

	row := s.db.QueryRowContext(ctx, query, plantID, ts(start), ts(end))
	if err := row.Scan(dest...); err != nil {
		return nil, 0, storeErr("window stats", err)
	}

	out := make(map[string]ChannelStats, len(channels))
	for i, ch := range channels {
		out[ch] = ChannelStats{
			Avg:   nullFloat(avgs[i]),
			Min:   nullFloat(mins[i]),
			Max:   nullFloat(maxs[i]),
			Count: counts[i],
		}
	}
	return out, total, nil
}

func nullFloat(v sql.NullFloat64) *float64 {
	if !v.Valid {
		return nil
	}
	f := v.Float64
	return &f
}

// BucketSeries groups the window by floor(unix_timestamp/width) and
// averages each channel per bucket.
func (s *SQLiteStore) BucketSeries(ctx context.Context, plantID string, channels []string, start, end time.Time, width time.Duration) ([]BucketRow, error) {
	if err := ValidateChannels(channels); err != nil {
		return nil, err
	}
	if width < time.Second {
		return nil, newValidationError("width", "must be at least one second")
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	widthSec := int64(width / time.Second)
	selects := []string{
		fmt.Sprintf("CAST(strftime('%%s', timestamp) AS INTEGER) / %d AS bucket", widthSec),
		"COUNT(*)",
	}
	for _, ch := range channels {
		selects = append(selects, fmt.Sprintf("AVG(%s)", ch))
	}

	query := fmt.Sprintf(`
		SELECT %s
		FROM readings
		WHERE plant_id = ? AND timestamp >= ? AND timestamp < ?
		GROUP BY bucket
		ORDER BY bucket ASC
	`, strings.Join(selects, ", "))

	rows, err := s.db.QueryContext(ctx, query, plantID, ts(start), ts(end))
	if err != nil {
		return nil, storeErr("bucket series", err)
	}
	defer rows.Close()

	var out []BucketRow
	for rows.Next() {
		var bucket, count int64
		avgs := make([]sql.NullFloat64, len(channels))
		dest := []interface{}{&bucket, &count}
		for i := range avgs {
			dest = append(dest, &avgs[i])
		}
		if err := rows.Scan(dest...); err != nil {
			return nil, storeErr("bucket series", err)
		}

		br := BucketRow{
			BucketStart: time.Unix(bucket*widthSec, 0).UTC(),
			Count:       count,
			Values:      make(map[string]*float64, len(channels)),
		}
		for i, ch := range channels {
			br.Values[ch] = nullFloat(avgs[i])
		}
		out = append(out, br)
	}
	if err := rows.Err(); err != nil {
		return nil, storeErr("bucket series", err)
	}
	return out, nil
}

// DayBounds groups readings per calendar day and joins each day's first and
// last rows back in to expose totalizer values at the day's edges.
func (s *SQLiteStore) DayBounds(ctx context.Context, plantID string, channels []string, startDate, endDate string) ([]DayBoundsRow, error) {
	if err := ValidateChannels(channels); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	firstSel := make([]string, 0, len(channels))
	lastSel := make([]string, 0, len(channels))
	for _, ch := range channels {
		firstSel = append(firstSel, "first_rec."+ch)
		lastSel = append(lastSel, "last_rec."+ch)
	}

	query := fmt.Sprintf(`
		SELECT
			daily.date,
			daily.sample_count,
			daily.first_reading,
			daily.last_reading,
			%s,
			%s
		FROM (
			SELECT
				DATE(timestamp) AS date,
				COUNT(*) AS sample_count,
				MIN(timestamp) AS first_reading,
				MAX(timestamp) AS last_reading
			FROM readings
			WHERE plant_id = ? AND DATE(timestamp) >= ? AND DATE(timestamp) <= ?
			GROUP BY DATE(timestamp)
		) daily
		LEFT JOIN readings first_rec
			ON first_rec.plant_id = ? AND first_rec.timestamp = daily.first_reading
		LEFT JOIN readings last_rec
			ON last_rec.plant_id = ? AND last_rec.timestamp = daily.last_reading
		ORDER BY daily.date ASC
	`, strings.Join(firstSel, ", "), strings.Join(lastSel, ", "))

	rows, err := s.db.QueryContext(ctx, query, plantID, startDate, endDate, plantID, plantID)
	if err != nil {
		return nil, storeErr("day bounds", err)
	}
	defer rows.Close()

	var out []DayBoundsRow
	for rows.Next() {
		var (
			date, firstTS, lastTS string
			count                 int64
		)
		firsts := make([]sql.NullFloat64, len(channels))
		lasts := make([]sql.NullFloat64, len(channels))

		dest := []interface{}{&date, &count, &firstTS, &lastTS}
		for i := range firsts {
			dest = append(dest, &firsts[i])
		}
		for i := range lasts {
			dest = append(dest, &lasts[i])
		}
		if err := rows.Scan(dest...); err != nil {
			return nil, storeErr("day bounds", err)
		}

		first, err := parseTS(firstTS)
		if err != nil {
			return nil, storeErr("day bounds", err)
		}
		last, err := parseTS(lastTS)
		if err != nil {
			return nil, storeErr("day bounds", err)
		}

		dr := DayBoundsRow{
			Date:        date,
			SampleCount: count,
			FirstTS:     first,
			LastTS:      last,
			First:       make(map[string]*float64, len(channels)),
			Last:        make(map[string]*float64, len(channels)),
		}
		for i, ch := range channels {
			dr.First[ch] = nullFloat(firsts[i])
			dr.Last[ch] = nullFloat(lasts[i])
		}
		out = append(out, dr)
	}
	if err := rows.Err(); err != nil {
		return nil, storeErr("day bounds", err)
	}
	return out, nil
}

// FirstLast returns the first and last non-null samples of one channel in
// the window, ordered by timestamp.
func (s *SQLiteStore) FirstLast(ctx context.Context, plantID, channel string, start, end time.Time) (*float64, *float64, int64, error) {
	if err := ValidateChannels([]string{channel}); err != nil {
		return nil, nil, 0, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	query := fmt.Sprintf(`
		SELECT
			(SELECT %[1]s FROM readings
			 WHERE plant_id = ?1 AND timestamp >= ?2 AND timestamp < ?3 AND %[1]s IS NOT NULL
			 ORDER BY timestamp ASC LIMIT 1),
			(SELECT %[1]s FROM readings
			 WHERE plant_id = ?1 AND timestamp >= ?2 AND timestamp < ?3 AND %[1]s IS NOT NULL
			 ORDER BY timestamp DESC LIMIT 1),
			(SELECT COUNT(%[1]s) FROM readings
			 WHERE plant_id = ?1 AND timestamp >= ?2 AND timestamp < ?3)
	`, channel)

	var first, last sql.NullFloat64
	var count int64
	row := s.db.QueryRowContext(ctx, query, plantID, ts(start), ts(end))
	if err := row.Scan(&first, &last, &count); err != nil {
		return nil, nil, 0, storeErr("first/last", err)
	}
	return nullFloat(first), nullFloat(last), count, nil
}

// CountDecreases counts interior drops of a totalizer using a LAG window.
// Counter channels only ever decrease on a register reset or wraparound.
func (s *SQLiteStore) CountDecreases(ctx context.Context, plantID, channel string, start, end time.Time, tolerance float64) (int64, error) {
	if err := ValidateChannels([]string{channel}); err != nil {
		return 0, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	query := fmt.Sprintf(`
		SELECT COUNT(*)
		FROM (
			SELECT %[1]s - LAG(%[1]s) OVER (ORDER BY timestamp) AS delta
			FROM readings
			WHERE plant_id = ? AND timestamp >= ? AND timestamp < ? AND %[1]s IS NOT NULL
		)
		WHERE delta < ?
	`, channel)

	var n int64
	row := s.db.QueryRowContext(ctx, query, plantID, ts(start), ts(end), -tolerance)
	if err := row.Scan(&n); err != nil {
		return 0, storeErr("count decreases", err)
	}
	return n, nil
}

// RunningMinutes sums a binary status channel over the window. Each sample
// is one nominal minute, so the sum is minutes of runtime.
func (s *SQLiteStore) RunningMinutes(ctx context.Context, plantID, channel string, start, end time.Time) (int64, int64, error) {
	c, ok := LookupChannel(channel)
	if !ok {
		return 0, 0, newValidationError(channel, "unknown channel")
	}
	if c.Class != ChannelStatus {
		return 0, 0, newValidationError(channel, "not a status channel")
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	query := fmt.Sprintf(`
		SELECT COALESCE(SUM(%[1]s), 0), COUNT(%[1]s)
		FROM readings
		WHERE plant_id = ? AND timestamp >= ? AND timestamp < ?
	`, channel)

	var on, samples int64
	row := s.db.QueryRowContext(ctx, query, plantID, ts(start), ts(end))
	if err := row.Scan(&on, &samples); err != nil {
		return 0, 0, storeErr("running minutes", err)
	}
	return on, samples, nil
}

// SampleCount returns the number of readings in the window.
func (s *SQLiteStore) SampleCount(ctx context.Context, plantID string, start, end time.Time) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var n int64
	row := s.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM readings WHERE plant_id = ? AND timestamp >= ? AND timestamp < ?",
		plantID, ts(start), ts(end))
	if err := row.Scan(&n); err != nil {
		return 0, storeErr("sample count", err)
	}
	return n, nil
}

// InsertAlert records a violation unless the same channel already alerted
// within the dedup window.
func (s *SQLiteStore) InsertAlert(ctx context.Context, a *Alert, dedup time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var existing int64
	row := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM alerts
		WHERE plant_id = ? AND channel = ? AND created_at > ?
	`, a.PlantID, a.Channel, ts(a.CreatedAt.Add(-dedup)))
	if err := row.Scan(&existing); err != nil {
		return false, storeErr("check alert", err)
	}
	if existing > 0 {
		return false, nil
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO alerts (plant_id, channel, current_value, threshold_value, severity, message, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, a.PlantID, a.Channel, a.Value, a.Threshold, a.Severity, a.Message, ts(a.CreatedAt))
	if err != nil {
		return false, storeErr("insert alert", err)
	}
	return true, nil
}

// RecentAlerts lists the newest alerts for a plant.
func (s *SQLiteStore) RecentAlerts(ctx context.Context, plantID string, limit int) ([]Alert, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, plant_id, channel, current_value, threshold_value, severity, message, created_at
		FROM alerts
		WHERE plant_id = ?
		ORDER BY created_at DESC, id DESC
		LIMIT ?
	`, plantID, limit)
	if err != nil {
		return nil, storeErr("recent alerts", err)
	}
	defer rows.Close()

	var out []Alert
	for rows.Next() {
		var a Alert
		var created string
		if err := rows.Scan(&a.ID, &a.PlantID, &a.Channel, &a.Value, &a.Threshold, &a.Severity, &a.Message, &created); err != nil {
			return nil, storeErr("recent alerts", err)
		}
		t, err := parseTS(created)
		if err != nil {
			return nil, storeErr("recent alerts", err)
		}
		a.CreatedAt = t
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, storeErr("recent alerts", err)
	}
	return out, nil
}

// DeleteOldReadings removes readings and alerts older than cutoff.
func (s *SQLiteStore) DeleteOldReadings(ctx context.Context, cutoff time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx, "DELETE FROM readings WHERE timestamp < ?", ts(cutoff))
	if err != nil {
		return 0, storeErr("delete old readings", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return 0, storeErr("delete old readings", err)
	}

	if _, err := s.db.ExecContext(ctx, "DELETE FROM alerts WHERE created_at < ?", ts(cutoff)); err != nil {
		return affected, storeErr("delete old alerts", err)
	}
	return affected, nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.db != nil {
		return s.db.Close()
	}
	return nil
}
