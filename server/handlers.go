package main

import (
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// alertDedupWindow suppresses repeat alerts for the same channel.
const alertDedupWindow = time.Hour

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError maps the error taxonomy onto HTTP statuses: bad input is the
// caller's fault, an expired budget is a gateway timeout, everything else
// is a server error.
func writeError(w http.ResponseWriter, err error) {
	switch {
	case IsValidationError(err):
		writeJSON(w, http.StatusBadRequest, map[string]string{"status": "error", "error": err.Error()})
	case IsTimeout(err):
		writeJSON(w, http.StatusGatewayTimeout, map[string]string{"status": "error", "error": "request timed out"})
	default:
		log.Printf("Request failed: %v", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"status": "error", "error": "internal error"})
	}
}

// plantParam resolves the plant being queried, defaulting to the configured
// plant.
func (s *Server) plantParam(r *http.Request) string {
	if p := r.URL.Query().Get("plant_id"); p != "" {
		return p
	}
	return s.config.PlantID
}

// parseIngest decodes and validates an ingestion payload field by field.
// Numbers stay json.Number until checked so "abc" in a numeric field is a
// named ValidationError, not a silent zero.
func parseIngest(r *http.Request) (*Reading, error) {
	dec := json.NewDecoder(r.Body)
	dec.UseNumber()

	var raw map[string]interface{}
	if err := dec.Decode(&raw); err != nil {
		return nil, newValidationError("body", "invalid JSON")
	}
	return buildReading(raw)
}

// buildReading validates one decoded payload object and assembles a
// Reading. Shared between live ingest and the backfill importer.
func buildReading(raw map[string]interface{}) (*Reading, error) {
	plantID, _ := raw["plant_id"].(string)
	if plantID == "" {
		return nil, newValidationError("plant_id", "required")
	}

	tsStr, _ := raw["timestamp"].(string)
	if tsStr == "" {
		return nil, newValidationError("timestamp", "required")
	}
	t, err := time.Parse(TimestampLayout, tsStr)
	if err != nil {
		return nil, newValidationError("timestamp", "must be YYYY-MM-DD HH:MM:SS")
	}

	reading := &Reading{PlantID: plantID, Timestamp: t}
	fields := reading.channelFields()

	for i, c := range channelList {
		v, present := raw[c.Name]
		if !present || v == nil {
			continue
		}
		num, ok := v.(json.Number)
		if !ok {
			return nil, newValidationError(c.Name, "must be numeric")
		}
		f, err := num.Float64()
		if err != nil {
			return nil, newValidationError(c.Name, "must be numeric")
		}

		switch p := fields[i].(type) {
		case **float64:
			val := f
			*p = &val
		case **int:
			if f != 0 && f != 1 {
				return nil, newValidationError(c.Name, "must be 0 or 1")
			}
			val := int(f)
			*p = &val
		}
	}
	return reading, nil
}

// checkThresholds evaluates the policy's threshold bands against one
// reading and records violations. Alert failures are logged, never bounced
// back to the PLC.
func (s *Server) checkThresholds(r *http.Request, reading *Reading) {
	values := reading.channelValues()
	for _, t := range s.policy.Thresholds {
		v := values[t.Channel]
		if v == nil {
			continue
		}

		var limit float64
		var breached bool
		switch {
		case t.Min != nil && *v < *t.Min:
			limit = *t.Min
			breached = true
		case t.Max != nil && *v > *t.Max:
			limit = *t.Max
			breached = true
		}
		if !breached {
			continue
		}

		alert := &Alert{
			PlantID:   reading.PlantID,
			Channel:   t.Channel,
			Value:     *v,
			Threshold: limit,
			Severity:  t.Severity,
			Message:   fmt.Sprintf("%s at %.2f breached limit %.2f", t.Label, *v, limit),
			CreatedAt: reading.Timestamp,
		}
		created, err := s.store.InsertAlert(r.Context(), alert, alertDedupWindow)
		if err != nil {
			log.Printf("Failed to record alert for %s: %v", t.Channel, err)
			continue
		}
		if created {
			log.Printf("Alert [%s] %s", t.Severity, alert.Message)
		}
	}
}

func (s *Server) handleIngest(w http.ResponseWriter, r *http.Request) {
	reading, err := parseIngest(r)
	if err != nil {
		writeError(w, err)
		return
	}

	inserted, err := s.store.InsertReading(r.Context(), reading)
	if err != nil {
		writeError(w, err)
		return
	}
	if !inserted {
		writeJSON(w, http.StatusOK, map[string]string{"status": "duplicate"})
		return
	}

	s.checkThresholds(r, reading)
	writeJSON(w, http.StatusOK, map[string]string{"status": "success"})
}

func (s *Server) handleDashboard(w http.ResponseWriter, r *http.Request) {
	plantID := s.plantParam(r)
	now := s.now()

	status, latest, err := s.aggregator.Status(r.Context(), plantID, now)
	if err != nil {
		writeError(w, err)
		return
	}
	if latest == nil {
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"status":   "no_data",
			"plant_id": plantID,
		})
		return
	}

	hour, err := s.aggregator.Summarize(r.Context(), plantID, nil, now, time.Hour)
	if err != nil {
		writeError(w, err)
		return
	}
	halfDay, err := s.aggregator.Summarize(r.Context(), plantID, nil, now, 12*time.Hour)
	if err != nil {
		writeError(w, err)
		return
	}

	production := make(map[string]*float64)
	for _, ch := range TotalizerChannelNames() {
		first, last, _, err := s.store.FirstLast(r.Context(), plantID, ch, now.Add(-24*time.Hour), now)
		if err != nil {
			writeError(w, err)
			return
		}
		if first != nil && last != nil {
			d := *last - *first
			production[ch] = roundPtr(&d, 2)
		} else {
			production[ch] = nil
		}
	}

	current := make(map[string]*float64, len(channelList))
	for ch, v := range latest.channelValues() {
		current[ch] = v
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":         "ok",
		"plant_id":       plantID,
		"freshness":      status,
		"current":        current,
		"last_hour":      hour,
		"last_12_hours":  halfDay,
		"production_24h": production,
	})
}

// trendHours is the lookback enum the HTTP layer accepts.
var trendHours = map[int]bool{1: true, 12: true, 24: true, 168: true}

func (s *Server) handleTrends(w http.ResponseWriter, r *http.Request) {
	plantID := s.plantParam(r)
	now := s.now()

	hours := 24
	if h := r.URL.Query().Get("hours"); h != "" {
		v, err := strconv.Atoi(h)
		if err != nil || !trendHours[v] {
			writeError(w, newValidationError("hours", "must be one of 1, 12, 24, 168"))
			return
		}
		hours = v
	}

	var channels []string
	if cs := r.URL.Query().Get("channels"); cs != "" {
		channels = strings.Split(cs, ",")
		if err := ValidateChannels(channels); err != nil {
			writeError(w, err)
			return
		}
	}

	span := time.Duration(hours) * time.Hour
	series, err := s.bucketizer.Series(r.Context(), plantID, channels, now, span)
	if err != nil {
		writeError(w, err)
		return
	}
	summary, err := s.aggregator.Summarize(r.Context(), plantID, channels, now, span)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":     "ok",
		"series":     series,
		"statistics": summary,
	})
}

func (s *Server) handleComparison(w http.ResponseWriter, r *http.Request) {
	plantID := s.plantParam(r)

	period := r.URL.Query().Get("period")
	if period == "" {
		period = PeriodDay
	}

	report, err := s.comparator.Compare(r.Context(), plantID, period, s.now())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func (s *Server) handleProduction(w http.ResponseWriter, r *http.Request) {
	plantID := s.plantParam(r)
	now := s.now()

	days := 30
	if d := r.URL.Query().Get("days"); d != "" {
		v, err := strconv.Atoi(d)
		if err != nil || v < 1 || v > 365 {
			writeError(w, newValidationError("days", "must be between 1 and 365"))
			return
		}
		days = v
	}

	endDate := now.Format(DateLayout)
	startDate := now.AddDate(0, 0, -(days - 1)).Format(DateLayout)

	report, err := s.production.Daily(r.Context(), plantID, nil, startDate, endDate)
	if err != nil {
		writeError(w, err)
		return
	}

	// The last day of the range is today, still filling in.
	var today *DayProduction
	if n := len(report.Days); n > 0 && report.Days[n-1].Date == endDate {
		today = &report.Days[n-1]
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status": "ok",
		"report": report,
		"today":  today,
	})
}

func (s *Server) handleDutyCycle(w http.ResponseWriter, r *http.Request) {
	plantID := s.plantParam(r)
	now := s.now()

	startDate := r.URL.Query().Get("start")
	endDate := r.URL.Query().Get("end")
	if startDate == "" {
		startDate = now.Format(DateLayout)
	}
	if endDate == "" {
		endDate = startDate
	}

	start, err := time.Parse(DateLayout, startDate)
	if err != nil {
		writeError(w, newValidationError("start", "must be YYYY-MM-DD"))
		return
	}
	end, err := time.Parse(DateLayout, endDate)
	if err != nil {
		writeError(w, newValidationError("end", "must be YYYY-MM-DD"))
		return
	}

	report, err := s.dutycycle.Analyze(r.Context(), plantID, start, end.AddDate(0, 0, 1))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func (s *Server) handleReport(w http.ResponseWriter, r *http.Request) {
	plantID := s.plantParam(r)
	now := s.now()

	endDate := r.URL.Query().Get("end_date")
	if endDate == "" {
		endDate = now.Format(DateLayout)
	}
	startDate := r.URL.Query().Get("start_date")
	if startDate == "" {
		startDate = now.AddDate(0, 0, -6).Format(DateLayout)
	}

	start, err := time.Parse(DateLayout, startDate)
	if err != nil {
		writeError(w, newValidationError("start_date", "must be YYYY-MM-DD"))
		return
	}
	end, err := time.Parse(DateLayout, endDate)
	if err != nil {
		writeError(w, newValidationError("end_date", "must be YYYY-MM-DD"))
		return
	}
	if end.Before(start) {
		writeError(w, newValidationError("end_date", "must not precede start_date"))
		return
	}
	windowEnd := end.AddDate(0, 0, 1)

	samples, err := s.store.SampleCount(r.Context(), plantID, start, windowEnd)
	if err != nil {
		writeError(w, err)
		return
	}
	expected := int64(windowEnd.Sub(start) / NominalInterval)

	composition, _, err := s.store.WindowStats(r.Context(), plantID,
		[]string{"ch4_concentration", "co2_level", "o2_concentration", "h2s_content"}, start, windowEnd)
	if err != nil {
		writeError(w, err)
		return
	}
	compOut := make(map[string]interface{}, len(composition))
	for ch, st := range composition {
		compOut[ch] = map[string]interface{}{
			"avg":   roundPtr(st.Avg, 2),
			"min":   st.Min,
			"max":   st.Max,
			"count": st.Count,
		}
	}

	production, err := s.production.Daily(r.Context(), plantID, nil, startDate, endDate)
	if err != nil {
		writeError(w, err)
		return
	}

	duty, err := s.dutycycle.Analyze(r.Context(), plantID, start, windowEnd)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":     "ok",
		"plant_id":   plantID,
		"start_date": startDate,
		"end_date":   endDate,
		"data_quality": map[string]interface{}{
			"sample_count":     samples,
			"expected_samples": expected,
			"coverage_pct":     Coverage(samples, expected),
		},
		"composition":       compOut,
		"production_totals": production.Totals,
		"duty_cycle":        duty,
	})
}

func (s *Server) handleAlerts(w http.ResponseWriter, r *http.Request) {
	plantID := s.plantParam(r)

	limit := 50
	if l := r.URL.Query().Get("limit"); l != "" {
		v, err := strconv.Atoi(l)
		if err != nil || v < 1 || v > 500 {
			writeError(w, newValidationError("limit", "must be between 1 and 500"))
			return
		}
		limit = v
	}

	alerts, err := s.store.RecentAlerts(r.Context(), plantID, limit)
	if err != nil {
		writeError(w, err)
		return
	}
	if alerts == nil {
		alerts = []Alert{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status": "ok",
		"alerts": alerts,
	})
}

func (s *Server) handleHealthCheck(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("OK"))
}
