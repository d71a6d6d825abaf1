package http

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"swapstation-ops/internal/alerts/application"
	alerts "swapstation-ops/internal/alerts/domain"
	"swapstation-ops/internal/auth"
)

const (
	defaultLimit = 50
	maxLimit     = 500
)

// Handler provides the alert query, decision and rule endpoints.
type Handler struct {
	service *application.Service
	log     logrus.FieldLogger
	now     func() time.Time
}

// NewHandler constructs a handler.
func NewHandler(service *application.Service, log logrus.FieldLogger) (*Handler, error) {
	if service == nil {
		return nil, errors.New("alerts handler: nil service")
	}
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Handler{service: service, log: log, now: time.Now}, nil
}

// Register mounts the routes on mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/v1/alerts", h.handleList)
	mux.HandleFunc("POST /api/v1/alerts/decision", h.handleDecision)
	mux.HandleFunc("GET /api/v1/alerts/export", h.handleExport)
	mux.HandleFunc("GET /api/v1/decisions", h.handleDecisions)
	mux.HandleFunc("POST /api/v1/rules/sweep", h.handleSweep)
	mux.HandleFunc("GET /api/v1/stations/{id}/evaluation", h.handleEvaluation)
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	filter, ok := parseFilter(w, r, defaultLimit)
	if !ok {
		return
	}
	page, err := h.service.ListAlerts(r.Context(), filter)
	if err != nil {
		h.log.WithError(err).Error("list alerts failed")
		writeError(w, http.StatusInternalServerError, "Failed to fetch alerts", err)
		return
	}
	status := "all"
	if filter.Status != "" {
		status = string(filter.Status)
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"alerts": page.Alerts,
		"count":  len(page.Alerts),
		"total":  page.Total,
		"filters": map[string]any{
			"status": status,
			"limit":  page.Limit,
		},
	})
}

func (h *Handler) handleDecision(w http.ResponseWriter, r *http.Request) {
	var body map[string]any
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "Invalid JSON in request body"})
		return
	}
	cmd := application.DecisionCommand{UserID: auth.UserIDFromRequest(r)}
	cmd.AlertID, _ = body["alertId"].(string)
	cmd.Decision, _ = body["decision"].(string)
	cmd.Reason, _ = body["reason"].(string)

	result, err := h.service.Decide(r.Context(), cmd)
	if err != nil {
		var validation *alerts.ValidationError
		var conflict *alerts.ConflictError
		switch {
		case errors.As(err, &validation):
			writeJSON(w, http.StatusBadRequest, map[string]any{
				"error":   validation.Details[0],
				"details": validation.Details,
			})
		case errors.Is(err, alerts.ErrNotFound):
			writeJSON(w, http.StatusNotFound, map[string]any{"error": "Alert not found"})
		case errors.As(err, &conflict):
			writeJSON(w, http.StatusConflict, map[string]any{
				"error": fmt.Sprintf("Alert is already %s. Cannot change decision.", conflict.Status),
			})
		default:
			writeError(w, http.StatusInternalServerError, "Failed to process decision", err)
		}
		return
	}

	verb := "approved"
	if result.Decision.Decision == alerts.DecisionReject {
		verb = "rejected"
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"message": fmt.Sprintf("Alert %s successfully", verb),
		"alert": map[string]any{
			"alertId":    result.Alert.ID,
			"status":     result.Alert.Status,
			"decisionId": result.Decision.ID,
		},
		"decision": result.Decision,
	})
}

func (h *Handler) handleDecisions(w http.ResponseWriter, r *http.Request) {
	userID := strings.TrimSpace(r.URL.Query().Get("userId"))
	if userID == "" {
		userID = auth.UserIDFromRequest(r)
	}
	limit, ok := parseLimit(w, r, defaultLimit)
	if !ok {
		return
	}
	decisions, err := h.service.DecisionsByUser(r.Context(), userID, limit)
	if err != nil {
		h.log.WithError(err).Error("list decisions failed")
		writeError(w, http.StatusInternalServerError, "Failed to fetch decisions", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"userId":    userID,
		"decisions": decisions,
		"count":     len(decisions),
	})
}

func (h *Handler) handleExport(w http.ResponseWriter, r *http.Request) {
	format := strings.ToLower(strings.TrimSpace(r.URL.Query().Get("format")))
	if format == "" {
		format = "xlsx"
	}
	if format != "xlsx" && format != "pdf" {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "format must be one of: xlsx, pdf"})
		return
	}
	filter, ok := parseFilter(w, r, maxLimit)
	if !ok {
		return
	}
	page, err := h.service.ListAlerts(r.Context(), filter)
	if err != nil {
		h.log.WithError(err).Error("export alerts failed")
		writeError(w, http.StatusInternalServerError, "Failed to export alerts", err)
		return
	}

	now := h.now().UTC()
	var (
		content     []byte
		contentType string
	)
	if format == "pdf" {
		content, err = BuildAlertsPDF(page.Alerts, now)
		contentType = "application/pdf"
	} else {
		content, err = BuildAlertsXLSX(page.Alerts)
		contentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	}
	if err != nil {
		h.log.WithError(err).WithField("format", format).Error("render export failed")
		writeError(w, http.StatusInternalServerError, "Failed to export alerts", err)
		return
	}
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="alerts-%s.%s"`, now.Format("20060102"), format))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(content)
}

func (h *Handler) handleSweep(w http.ResponseWriter, r *http.Request) {
	summary, err := h.service.Sweep(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Rule engine execution failed", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"message": "Rule engine execution completed",
		"summary": summary,
	})
}

func (h *Handler) handleEvaluation(w http.ResponseWriter, r *http.Request) {
	stationID := strings.TrimSpace(r.PathValue("id"))
	if stationID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "stationId is required"})
		return
	}
	outcome, err := h.service.Preview(r.Context(), stationID)
	if err != nil {
		h.log.WithError(err).WithField("station_id", stationID).Error("evaluation preview failed")
		writeError(w, http.StatusInternalServerError, "Failed to evaluate station", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"stationId":      outcome.StationID,
		"evaluation":     outcome.Evaluation,
		"recommendation": outcome.Recommendation,
	})
}

func parseFilter(w http.ResponseWriter, r *http.Request, fallback int) (application.ListFilter, bool) {
	var filter application.ListFilter
	if raw := strings.TrimSpace(r.URL.Query().Get("status")); raw != "" && !strings.EqualFold(raw, "all") {
		status, ok := alerts.ParseStatus(raw)
		if !ok {
			writeJSON(w, http.StatusBadRequest, map[string]any{"error": "status must be one of: PENDING, EXECUTED, DISMISSED"})
			return filter, false
		}
		filter.Status = status
	}
	limit, ok := parseLimit(w, r, fallback)
	if !ok {
		return filter, false
	}
	filter.Limit = limit
	return filter, true
}

func parseLimit(w http.ResponseWriter, r *http.Request, fallback int) (int, bool) {
	raw := strings.TrimSpace(r.URL.Query().Get("limit"))
	if raw == "" {
		return fallback, true
	}
	limit, err := strconv.Atoi(raw)
	if err != nil || limit <= 0 {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "limit must be a positive integer"})
		return 0, false
	}
	if limit > maxLimit {
		limit = maxLimit
	}
	return limit, true
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	body := map[string]any{"error": message}
	if err != nil {
		body["message"] = err.Error()
	}
	writeJSON(w, status, body)
}
