// Package notify delivers alerts to operators: the topic publisher, webhook
// chat channels and the Redis live channel.
package notify

import (
	"fmt"
	"time"

	alerts "swapstation-ops/internal/alerts/domain"
)

// AlertMessage is the body published for a created alert.
type AlertMessage struct {
	AlertID           string         `json:"alertId"`
	StationID         string         `json:"stationId"`
	AlertType         string         `json:"alertType"`
	Severity          string         `json:"severity"`
	Status            string         `json:"status"`
	Title             string         `json:"title"`
	Description       string         `json:"description"`
	RecommendedAction string         `json:"recommendedAction"`
	CreatedAt         string         `json:"createdAt"`
	Metadata          map[string]any `json:"metadata"`
	Recommendation    any            `json:"recommendation,omitempty"`
	PrimaryAction     any            `json:"primaryAction,omitempty"`
}

// NewAlertMessage flattens an alert into the published body.
func NewAlertMessage(alert alerts.Alert) AlertMessage {
	msg := AlertMessage{
		AlertID:           alert.ID,
		StationID:         alert.StationID,
		AlertType:         string(alert.Type),
		Severity:          string(alert.Severity),
		Status:            string(alert.Status),
		Title:             alert.Title,
		Description:       alert.Description,
		RecommendedAction: alert.RecommendedAction,
		CreatedAt:         alert.CreatedAt.UTC().Format(time.RFC3339),
		Metadata:          alert.Metadata,
	}
	if msg.Metadata == nil {
		msg.Metadata = map[string]any{}
	}
	msg.Recommendation = alert.Metadata["recommendation"]
	msg.PrimaryAction = alert.Metadata["primaryAction"]
	return msg
}

// Subject is the message subject line, e.g. "[HIGH] LOW_INVENTORY Alert: ST-1".
func Subject(alert alerts.Alert) string {
	return fmt.Sprintf("[%s] %s Alert: %s", alert.Severity, alert.Type, alert.StationID)
}

// Attributes are the routing attributes subscribers filter on.
func Attributes(alert alerts.Alert) map[string]string {
	return map[string]string{
		"alertType": string(alert.Type),
		"severity":  string(alert.Severity),
		"stationId": alert.StationID,
	}
}
