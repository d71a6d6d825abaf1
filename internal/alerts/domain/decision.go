package alerts

import (
	"strings"
	"time"
)

// DecisionKind is an operator verdict on a pending alert.
type DecisionKind string

const (
	DecisionApprove DecisionKind = "APPROVE"
	DecisionReject  DecisionKind = "REJECT"
)

// ParseDecision accepts approve/reject in any case.
func ParseDecision(value string) (DecisionKind, bool) {
	switch DecisionKind(strings.ToUpper(strings.TrimSpace(value))) {
	case DecisionApprove:
		return DecisionApprove, true
	case DecisionReject:
		return DecisionReject, true
	default:
		return "", false
	}
}

// TargetStatus is the alert status a decision moves to.
func (k DecisionKind) TargetStatus() Status {
	if k == DecisionApprove {
		return StatusExecuted
	}
	return StatusDismissed
}

// Decision is an immutable record of an operator verdict.
type Decision struct {
	ID        string         `json:"decisionId"`
	AlertID   string         `json:"alertId"`
	Decision  DecisionKind   `json:"decision"`
	Status    Status         `json:"status"`
	UserID    string         `json:"userId"`
	Reason    string         `json:"reason,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
	Metadata  map[string]any `json:"metadata"`
}

// StatusUpdate is the alert mutation written together with a decision.
type StatusUpdate struct {
	AlertID         string
	Status          Status
	DecisionID      string
	UserID          string
	DismissalReason string
	At              time.Time
}

// Decide checks the pending precondition and builds the decision record
// and the status update that must be committed together.
func Decide(alert Alert, kind DecisionKind, decisionID, userID, reason string, now time.Time) (Decision, StatusUpdate, error) {
	if alert.Status != StatusPending {
		return Decision{}, StatusUpdate{}, &ConflictError{Status: alert.Status}
	}
	now = now.UTC()
	target := kind.TargetStatus()
	decision := Decision{
		ID:        decisionID,
		AlertID:   alert.ID,
		Decision:  kind,
		Status:    target,
		UserID:    userID,
		Reason:    reason,
		Timestamp: now,
		Metadata: map[string]any{
			"previousStatus": string(alert.Status),
			"alertType":      string(alert.Type),
			"severity":       string(alert.Severity),
			"stationId":      alert.StationID,
		},
	}
	update := StatusUpdate{
		AlertID:    alert.ID,
		Status:     target,
		DecisionID: decisionID,
		UserID:     userID,
		At:         now,
	}
	if kind == DecisionReject {
		update.DismissalReason = reason
	}
	return decision, update, nil
}

// Apply writes a status update onto an alert copy.
func (a *Alert) Apply(update StatusUpdate) {
	at := update.At.UTC()
	a.Status = update.Status
	a.UpdatedAt = at
	a.DecisionID = update.DecisionID
	switch update.Status {
	case StatusExecuted:
		a.ExecutedAt = &at
		a.ExecutedBy = update.UserID
	case StatusDismissed:
		a.DismissedAt = &at
		a.DismissedBy = update.UserID
		if update.DismissalReason != "" {
			a.DismissalReason = update.DismissalReason
		}
	}
}
