package audit

import (
	"encoding/json"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// Handler serves audit queries.
type Handler struct {
	store Store
}

// NewHandler constructs an audit query handler.
func NewHandler(store Store) *Handler {
	return &Handler{store: store}
}

// ServeHTTP handles GET /api/v1/audit.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if h == nil || h.store == nil {
		http.Error(w, "audit store not configured", http.StatusServiceUnavailable)
		return
	}
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	values := r.URL.Query()
	q := Query{
		AlertID:    strings.TrimSpace(values.Get("alertId")),
		ActionType: ActionType(strings.ToUpper(strings.TrimSpace(values.Get("actionType")))),
	}
	if q.AlertID == "" && q.ActionType == "" {
		http.Error(w, "alertId or actionType is required", http.StatusBadRequest)
		return
	}
	var err error
	if q.From, err = parseTime(values.Get("from")); err != nil {
		http.Error(w, "invalid from", http.StatusBadRequest)
		return
	}
	if q.To, err = parseTime(values.Get("to")); err != nil {
		http.Error(w, "invalid to", http.StatusBadRequest)
		return
	}
	if raw := values.Get("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit <= 0 {
			http.Error(w, "invalid limit", http.StatusBadRequest)
			return
		}
		q.Limit = limit
	}

	entries, err := h.store.List(r.Context(), q)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if entries == nil {
		entries = []Entry{}
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"logs":  entries,
		"count": len(entries),
	})
}

func parseTime(value string) (time.Time, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return time.Time{}, nil
	}
	return time.Parse(time.RFC3339, value)
}

// ClientIP extracts client ip from common headers or RemoteAddr.
func ClientIP(r *http.Request) string {
	if r == nil {
		return ""
	}
	if forwarded := r.Header.Get("X-Forwarded-For"); forwarded != "" {
		parts := strings.Split(forwarded, ",")
		if len(parts) > 0 {
			return strings.TrimSpace(parts[0])
		}
	}
	if realIP := r.Header.Get("X-Real-IP"); realIP != "" {
		return strings.TrimSpace(realIP)
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err == nil {
		return host
	}
	return r.RemoteAddr
}
