package audit

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// ActionType classifies an audit entry.
type ActionType string

const (
	ActionMetricIngested      ActionType = "METRIC_INGESTED"
	ActionAlertCreated        ActionType = "ALERT_CREATED"
	ActionAlertApproved       ActionType = "ALERT_APPROVED"
	ActionAlertRejected       ActionType = "ALERT_REJECTED"
	ActionAlertDecisionFailed ActionType = "ALERT_DECISION_FAILED"
	ActionDecisionCreated     ActionType = "DECISION_CREATED"
	ActionRuleEngineExecution ActionType = "RULE_ENGINE_EXECUTION"
	ActionNotificationSent    ActionType = "SNS_NOTIFICATION_SENT"
)

// Status is the outcome recorded with an entry.
type Status string

const (
	StatusSuccess Status = "SUCCESS"
	StatusFailed  Status = "FAILED"
)

// SystemUser is recorded when no operator is involved.
const SystemUser = "system"

// Entry represents an audit log entry.
type Entry struct {
	ID           string         `json:"auditId"`
	ActionType   ActionType     `json:"actionType"`
	Status       Status         `json:"status"`
	Timestamp    time.Time      `json:"timestamp"`
	UserID       string         `json:"userId"`
	AlertID      string         `json:"alertId,omitempty"`
	DecisionID   string         `json:"decisionId,omitempty"`
	StationID    string         `json:"stationId,omitempty"`
	Details      map[string]any `json:"details"`
	ErrorMessage string         `json:"errorMessage,omitempty"`
}

// Logger writes audit entries.
type Logger interface {
	Log(ctx context.Context, entry Entry) error
}

// Query selects stored entries.
type Query struct {
	AlertID    string
	ActionType ActionType
	From       time.Time
	To         time.Time
	Limit      int
}

// Store persists and lists audit entries.
type Store interface {
	Logger
	List(ctx context.Context, q Query) ([]Entry, error)
	PurgeBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// NewID generates a random audit id.
func NewID() string {
	return "audit-" + uuid.NewString()
}

func normalize(entry Entry, now time.Time) Entry {
	if entry.ID == "" {
		entry.ID = NewID()
	}
	if entry.Timestamp.IsZero() {
		entry.Timestamp = now
	}
	entry.Timestamp = entry.Timestamp.UTC()
	if entry.Status == "" {
		entry.Status = StatusSuccess
	}
	if entry.UserID == "" {
		entry.UserID = SystemUser
	}
	if entry.Details == nil {
		entry.Details = map[string]any{}
	}
	return entry
}
