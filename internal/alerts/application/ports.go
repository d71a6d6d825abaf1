package application

import (
	"context"
	"time"

	alerts "swapstation-ops/internal/alerts/domain"
	"swapstation-ops/internal/alerts/engine"
	"swapstation-ops/internal/alerts/rules"
	"swapstation-ops/internal/audit"
	telemetry "swapstation-ops/internal/telemetry/domain"
)

// ListFilter selects alerts for listing. A zero Status matches every status.
type ListFilter struct {
	Status alerts.Status
	Limit  int
}

// AlertRepository persists alerts.
type AlertRepository interface {
	engine.PendingChecker
	Create(ctx context.Context, alert alerts.Alert) error
	// GetByID returns nil, nil when the alert does not exist.
	GetByID(ctx context.Context, id string) (*alerts.Alert, error)
	// List returns alerts newest first with the total matching count.
	List(ctx context.Context, filter ListFilter) ([]alerts.Alert, int, error)
	// CommitDecision stores the decision and the status update atomically.
	// It fails with a ConflictError when the alert is no longer PENDING.
	CommitDecision(ctx context.Context, decision alerts.Decision, update alerts.StatusUpdate) error
	CountPending(ctx context.Context) (int, error)
}

// DecisionRepository reads stored decisions.
type DecisionRepository interface {
	// ListByAlerts returns decisions per alert id, newest first.
	ListByAlerts(ctx context.Context, alertIDs []string) (map[string][]alerts.Decision, error)
	ListByUser(ctx context.Context, userID string, limit int) ([]alerts.Decision, error)
}

// WindowSource provides the telemetry the rules are evaluated on.
type WindowSource interface {
	Window(ctx context.Context, stationID string, from, to time.Time) (telemetry.MetricWindow, error)
	ActiveStations(ctx context.Context, since time.Time) ([]string, error)
}

// Evaluator runs every rule for one station.
type Evaluator interface {
	Evaluate(stationID string, window telemetry.MetricWindow, now time.Time) rules.Result
}

// AlertPublisher delivers a created alert to the notification topic.
type AlertPublisher interface {
	Publish(ctx context.Context, alert alerts.Alert) (messageID string, err error)
}

// AlertNotifier publishes alert lifecycle events to live subscribers.
type AlertNotifier interface {
	Notify(ctx context.Context, event AlertEvent)
}

// AuditRecorder records audit entries without blocking.
type AuditRecorder interface {
	Record(ctx context.Context, entry audit.Entry)
}

// AlertEvent represents a lifecycle update.
type AlertEvent struct {
	Type  string       `json:"type"`
	Alert alerts.Alert `json:"alert"`
}

const (
	EventCreated  = "created"
	EventApproved = "approved"
	EventRejected = "rejected"
)

// Clock provides time.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now().UTC() }
