// Package http exposes station telemetry ingestion and reads.
package http

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"swapstation-ops/internal/telemetry/application"
	telemetry "swapstation-ops/internal/telemetry/domain"
	statecache "swapstation-ops/internal/telemetry/infrastructure/redis"
)

const (
	defaultRecent = 10
	maxRecent     = 500
	maxBodyBytes  = 1 << 20
)

// StateReader returns the cached latest state of a station.
type StateReader interface {
	State(ctx context.Context, stationID string) (statecache.StationState, bool, error)
}

// Handler serves metric ingestion and station reads.
type Handler struct {
	ingest *application.IngestService
	state  StateReader
	log    logrus.FieldLogger
}

// Option configures a handler.
type Option func(*Handler)

// WithStateReader enables GET /api/v1/stations/{id}/state.
func WithStateReader(state StateReader) Option {
	return func(h *Handler) {
		h.state = state
	}
}

// NewHandler constructs a handler.
func NewHandler(ingest *application.IngestService, log logrus.FieldLogger, opts ...Option) (*Handler, error) {
	if ingest == nil {
		return nil, errors.New("telemetry handler: nil ingest service")
	}
	if log == nil {
		log = logrus.StandardLogger()
	}
	h := &Handler{ingest: ingest, log: log.WithField("component", "telemetry_http")}
	for _, opt := range opts {
		opt(h)
	}
	return h, nil
}

// Register mounts the routes on mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/v1/metrics", h.handleIngest)
	mux.HandleFunc("GET /api/v1/stations/{id}/metrics", h.handleRecent)
	mux.HandleFunc("GET /api/v1/stations/{id}/state", h.handleState)
	mux.HandleFunc("GET /api/v1/stations/{id}/stats", h.handleStats)
}

type createdAlert struct {
	AlertID           string `json:"alertId"`
	AlertType         string `json:"alertType"`
	Severity          string `json:"severity"`
	Title             string `json:"title"`
	RecommendedAction string `json:"recommendedAction"`
	Recommendation    any    `json:"recommendation,omitempty"`
}

func (h *Handler) handleIngest(w http.ResponseWriter, r *http.Request) {
	raw, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "Invalid JSON in request body"})
		return
	}
	var body map[string]json.RawMessage
	if err := json.Unmarshal(raw, &body); err != nil || body == nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "Invalid JSON in request body"})
		return
	}

	sample, problems := DecodeSample(body, h.ingest.Now())
	if len(problems) > 0 {
		writeJSON(w, http.StatusBadRequest, map[string]any{
			"error":   "Validation failed",
			"details": problems,
		})
		return
	}

	result, err := h.ingest.Ingest(r.Context(), sample)
	if err != nil {
		h.log.WithError(err).WithField("station_id", sample.StationID).Error("metric ingest failed")
		writeJSON(w, http.StatusInternalServerError, map[string]any{
			"error":   "Internal server error",
			"message": err.Error(),
		})
		return
	}

	created := make([]createdAlert, 0, len(result.Alerts))
	for _, alert := range result.Alerts {
		created = append(created, createdAlert{
			AlertID:           alert.ID,
			AlertType:         string(alert.Type),
			Severity:          string(alert.Severity),
			Title:             alert.Title,
			RecommendedAction: alert.RecommendedAction,
			Recommendation:    alert.Metadata["recommendation"],
		})
	}
	writeJSON(w, http.StatusCreated, map[string]any{
		"message": "Metric ingested successfully",
		"metric": map[string]any{
			"stationId": result.Sample.StationID,
			"timestamp": result.Sample.Timestamp.UnixMilli(),
		},
		"alertsCreated": len(created),
		"alerts":        created,
	})
}

type sampleView struct {
	StationID          string   `json:"stationId"`
	Timestamp          int64    `json:"timestamp"`
	SwapRate           float64  `json:"swapRate"`
	Queue              float64  `json:"queue"`
	DemandSurge        bool     `json:"demandSurge"`
	ChargerUptime      float64  `json:"chargerUptime"`
	ChargerHealth      string   `json:"chargerHealth"`
	ChargedBatteries   int      `json:"chargedBatteries"`
	UnchargedBatteries int      `json:"unchargedBatteries"`
	ErrorLogs          []string `json:"errorLogs"`
	FaultPatterns      []string `json:"faultPatterns"`
	MaxCapacity        float64  `json:"maxCapacity,omitempty"`
}

func newSampleView(s telemetry.MetricSample) sampleView {
	view := sampleView{
		StationID:          s.StationID,
		Timestamp:          s.Timestamp.UnixMilli(),
		SwapRate:           s.SwapRate,
		Queue:              s.QueueLength,
		DemandSurge:        s.DemandSurge,
		ChargerUptime:      s.ChargerUptimePct,
		ChargerHealth:      string(s.ChargerHealth),
		ChargedBatteries:   s.ChargedBatteries,
		UnchargedBatteries: s.UnchargedBatteries,
		ErrorLogs:          s.ErrorLogs,
		FaultPatterns:      s.FaultPatterns,
		MaxCapacity:        s.MaxCapacity,
	}
	if view.ErrorLogs == nil {
		view.ErrorLogs = []string{}
	}
	if view.FaultPatterns == nil {
		view.FaultPatterns = []string{}
	}
	return view
}

func (h *Handler) handleRecent(w http.ResponseWriter, r *http.Request) {
	stationID := r.PathValue("id")
	limit := defaultRecent
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			writeJSON(w, http.StatusBadRequest, map[string]any{"error": "limit must be a positive integer"})
			return
		}
		limit = min(n, maxRecent)
	}
	window, err := h.ingest.Recent(r.Context(), stationID, limit)
	if err != nil {
		h.log.WithError(err).WithField("station_id", stationID).Error("recent metrics failed")
		writeJSON(w, http.StatusInternalServerError, map[string]any{
			"error":   "Internal server error",
			"message": err.Error(),
		})
		return
	}
	views := make([]sampleView, 0, len(window))
	for _, s := range window {
		views = append(views, newSampleView(s))
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"stationId": stationID,
		"metrics":   views,
		"count":     len(views),
	})
}

func (h *Handler) handleState(w http.ResponseWriter, r *http.Request) {
	if h.state == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{"error": "State cache not configured"})
		return
	}
	stationID := r.PathValue("id")
	state, ok, err := h.state.State(r.Context(), stationID)
	if err != nil {
		h.log.WithError(err).WithField("station_id", stationID).Error("station state failed")
		writeJSON(w, http.StatusInternalServerError, map[string]any{
			"error":   "Internal server error",
			"message": err.Error(),
		})
		return
	}
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]any{"error": "No recent state for station"})
		return
	}
	writeJSON(w, http.StatusOK, state)
}

// DecodeSample validates a raw ingest body and converts it to a sample. A
// missing timestamp defaults to now. Every problem is reported, in field order.
func DecodeSample(body map[string]json.RawMessage, now time.Time) (telemetry.MetricSample, []string) {
	var (
		problems []string
		sample   telemetry.MetricSample
	)

	var stationID string
	if raw, ok := body["stationId"]; !ok || json.Unmarshal(raw, &stationID) != nil || stationID == "" {
		problems = append(problems, "stationId is required and must be a string")
	}
	sample.StationID = stationID

	sample.Timestamp = now.UTC()
	if raw, ok := body["timestamp"]; ok {
		ms, valid := number(raw)
		if !valid || ms <= 0 {
			problems = append(problems, "timestamp must be a positive number (Unix epoch milliseconds)")
		} else {
			sample.Timestamp = time.UnixMilli(int64(ms)).UTC()
		}
	}

	numberField := func(name string, dst *float64) {
		raw, ok := body[name]
		if !ok {
			return
		}
		v, valid := number(raw)
		if !valid {
			problems = append(problems, name+" must be a number")
			return
		}
		*dst = v
	}
	numberField("swapRate", &sample.SwapRate)
	numberField("queue", &sample.QueueLength)

	if raw, ok := body["demandSurge"]; ok {
		if json.Unmarshal(raw, &sample.DemandSurge) != nil || isNull(raw) {
			problems = append(problems, "demandSurge must be a boolean")
		}
	}

	if raw, ok := body["chargerUptime"]; ok {
		v, valid := number(raw)
		if !valid || v < 0 || v > 100 {
			problems = append(problems, "chargerUptime must be a number between 0 and 100")
		} else {
			sample.ChargerUptimePct = v
		}
	}

	if raw, ok := body["chargerHealth"]; ok {
		var health string
		if json.Unmarshal(raw, &health) != nil || !telemetry.ChargerHealth(health).Valid() {
			names := make([]string, 0, len(telemetry.ChargerHealthValues))
			for _, v := range telemetry.ChargerHealthValues {
				names = append(names, string(v))
			}
			problems = append(problems, "chargerHealth must be one of: "+strings.Join(names, ", "))
		} else {
			sample.ChargerHealth = telemetry.ChargerHealth(health)
		}
	}

	countField := func(name string, dst *int) {
		raw, ok := body[name]
		if !ok {
			return
		}
		v, valid := number(raw)
		if !valid {
			problems = append(problems, name+" must be a number")
			return
		}
		if v != math.Trunc(v) {
			problems = append(problems, name+" must be a whole number")
			return
		}
		*dst = int(v)
	}
	countField("chargedBatteries", &sample.ChargedBatteries)
	countField("unchargedBatteries", &sample.UnchargedBatteries)

	if raw, ok := body["errorLogs"]; ok {
		logs, valid := stringList(raw)
		if !valid {
			problems = append(problems, "errorLogs must be an array")
		}
		sample.ErrorLogs = logs
	}
	if raw, ok := body["faultPatterns"]; ok {
		patterns, valid := stringList(raw)
		if !valid {
			problems = append(problems, "faultPatterns must be an array")
		}
		sample.FaultPatterns = patterns
	}
	if sample.ErrorLogs == nil {
		sample.ErrorLogs = []string{}
	}

	if raw, ok := body["maxCapacity"]; ok {
		if v, valid := number(raw); valid && v > 0 {
			sample.MaxCapacity = v
		}
	}
	return sample, problems
}

func number(raw json.RawMessage) (float64, bool) {
	if isNull(raw) {
		return 0, false
	}
	var v float64
	if err := json.Unmarshal(raw, &v); err != nil {
		return 0, false
	}
	return v, true
}

// stringList accepts any JSON array; non-string elements are formatted.
func stringList(raw json.RawMessage) ([]string, bool) {
	if isNull(raw) {
		return nil, false
	}
	var items []any
	if err := json.Unmarshal(raw, &items); err != nil {
		return nil, false
	}
	out := make([]string, 0, len(items))
	for _, item := range items {
		if s, ok := item.(string); ok {
			out = append(out, s)
			continue
		}
		out = append(out, fmt.Sprint(item))
	}
	return out, true
}

func isNull(raw json.RawMessage) bool {
	return strings.TrimSpace(string(raw)) == "null"
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
