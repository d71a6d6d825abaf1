package http

import (
	"encoding/csv"
	"errors"
	"net/http"
	"strconv"
	"time"

	telemetry "swapstation-ops/internal/telemetry/domain"
)

const maxStatsRange = 31 * 24 * time.Hour

var statsColumns = []string{
	"station_id",
	"period_start",
	"samples",
	"avg_swap_rate",
	"max_swap_rate",
	"avg_queue",
	"max_queue",
	"min_charged_batteries",
	"charger_down_count",
	"fault_count",
	"demand_surge_count",
}

// handleStats serves GET /api/v1/stations/{id}/stats?from&to&granularity&format.
func (h *Handler) handleStats(w http.ResponseWriter, r *http.Request) {
	stationID := r.PathValue("id")
	from, err := parseTimeQuery(r, "from")
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": err.Error()})
		return
	}
	to, err := parseTimeQuery(r, "to")
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": err.Error()})
		return
	}
	if !to.After(from) {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "to must be after from"})
		return
	}
	if to.Sub(from) > maxStatsRange {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "range must not exceed 31 days"})
		return
	}
	granularity, err := telemetry.ParseGranularity(r.URL.Query().Get("granularity"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": err.Error()})
		return
	}

	window, err := h.ingest.Window(r.Context(), stationID, from, to)
	if err != nil {
		h.log.WithError(err).WithField("station_id", stationID).Error("station stats failed")
		writeJSON(w, http.StatusInternalServerError, map[string]any{
			"error":   "Internal server error",
			"message": err.Error(),
		})
		return
	}
	stats := telemetry.Aggregate(window, granularity)

	if r.URL.Query().Get("format") == "csv" {
		w.Header().Set("Content-Type", "text/csv; charset=utf-8")
		w.Header().Set("Content-Disposition", `attachment; filename="`+stationID+`-stats.csv"`)
		writer := csv.NewWriter(w)
		_ = writer.Write(statsColumns)
		for _, row := range stats {
			_ = writer.Write([]string{
				stationID,
				row.PeriodStart.Format(time.RFC3339),
				strconv.Itoa(row.Samples),
				formatFloat(row.AvgSwapRate),
				formatFloat(row.MaxSwapRate),
				formatFloat(row.AvgQueue),
				formatFloat(row.MaxQueue),
				strconv.Itoa(row.MinCharged),
				strconv.Itoa(row.ChargerDownCount),
				strconv.Itoa(row.FaultCount),
				strconv.Itoa(row.DemandSurgeCount),
			})
		}
		writer.Flush()
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"stationId":   stationID,
		"granularity": granularity,
		"from":        from,
		"to":          to,
		"stats":       stats,
	})
}

func parseTimeQuery(r *http.Request, key string) (time.Time, error) {
	value := r.URL.Query().Get(key)
	if value == "" {
		return time.Time{}, errors.New(key + " is required")
	}
	parsed, err := time.Parse(time.RFC3339, value)
	if err != nil {
		return time.Time{}, errors.New(key + " must be RFC3339")
	}
	return parsed.UTC(), nil
}

func formatFloat(value float64) string {
	return strconv.FormatFloat(value, 'f', 2, 64)
}
