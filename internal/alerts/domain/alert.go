package alerts

import (
	"strings"
	"time"
)

// AlertType names the condition an alert reports.
type AlertType string

const (
	TypeCongestion   AlertType = "CONGESTION"
	TypeLowInventory AlertType = "LOW_INVENTORY"
	TypeCritical     AlertType = "CRITICAL"
	TypeHardware     AlertType = "HARDWARE"
	TypeDemand       AlertType = "DEMAND"
	TypeOptimize     AlertType = "OPTIMIZE"
)

// AlertTypes lists every type in rule order.
var AlertTypes = []AlertType{TypeCongestion, TypeLowInventory, TypeCritical, TypeHardware, TypeDemand, TypeOptimize}

// Severity is the ordinal importance of an alert.
type Severity string

const (
	SeverityLow      Severity = "LOW"
	SeverityMedium   Severity = "MEDIUM"
	SeverityHigh     Severity = "HIGH"
	SeverityCritical Severity = "CRITICAL"
)

// Rank orders severities; unknown or empty severities rank 0.
func (s Severity) Rank() int {
	switch s {
	case SeverityCritical:
		return 4
	case SeverityHigh:
		return 3
	case SeverityMedium:
		return 2
	case SeverityLow:
		return 1
	default:
		return 0
	}
}

// MaxSeverity returns the highest ranked severity, or empty when none rank.
func MaxSeverity(values ...Severity) Severity {
	var best Severity
	for _, v := range values {
		if v.Rank() > best.Rank() {
			best = v
		}
	}
	return best
}

// Status is the lifecycle state of an alert.
type Status string

const (
	StatusPending   Status = "PENDING"
	StatusExecuted  Status = "EXECUTED"
	StatusDismissed Status = "DISMISSED"
)

// ParseStatus accepts a status filter value, case-insensitively.
func ParseStatus(value string) (Status, bool) {
	switch Status(strings.ToUpper(strings.TrimSpace(value))) {
	case StatusPending:
		return StatusPending, true
	case StatusExecuted:
		return StatusExecuted, true
	case StatusDismissed:
		return StatusDismissed, true
	default:
		return "", false
	}
}

// Alert is an operational alert raised for a station.
type Alert struct {
	ID                string         `json:"alertId"`
	StationID         string         `json:"stationId"`
	Type              AlertType      `json:"alertType"`
	Severity          Severity       `json:"severity"`
	Status            Status         `json:"status"`
	Title             string         `json:"title"`
	Description       string         `json:"description"`
	RecommendedAction string         `json:"recommendedAction"`
	Metadata          map[string]any `json:"metadata"`
	DecisionID        string         `json:"decisionId,omitempty"`
	ExecutedAt        *time.Time     `json:"executedAt,omitempty"`
	ExecutedBy        string         `json:"executedBy,omitempty"`
	DismissedAt       *time.Time     `json:"dismissedAt,omitempty"`
	DismissedBy       string         `json:"dismissedBy,omitempty"`
	DismissalReason   string         `json:"dismissalReason,omitempty"`
	CreatedAt         time.Time      `json:"createdAt"`
	UpdatedAt         time.Time      `json:"updatedAt"`
}

// CreationRequest carries everything needed to persist a new alert.
type CreationRequest struct {
	StationID         string
	Type              AlertType
	Severity          Severity
	Title             string
	Description       string
	RecommendedAction string
	Metadata          map[string]any
}

// NewAlert builds a pending alert from a creation request.
func NewAlert(id string, req CreationRequest, now time.Time) Alert {
	now = now.UTC()
	return Alert{
		ID:                id,
		StationID:         req.StationID,
		Type:              req.Type,
		Severity:          req.Severity,
		Status:            StatusPending,
		Title:             req.Title,
		Description:       req.Description,
		RecommendedAction: req.RecommendedAction,
		Metadata:          req.Metadata,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
}
