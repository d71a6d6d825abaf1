package events

import "time"

// MetricIngested is raised after a station sample is stored.
type MetricIngested struct {
	EventID       string    `json:"event_id"`
	StationID     string    `json:"station_id"`
	Timestamp     time.Time `json:"timestamp"`
	SwapRate      float64   `json:"swap_rate"`
	QueueLength   float64   `json:"queue_length"`
	ChargerHealth string    `json:"charger_health"`
	ChargerUptime float64   `json:"charger_uptime"`
	Charged       int       `json:"charged_batteries"`
	Uncharged     int       `json:"uncharged_batteries"`
	DemandSurge   bool      `json:"demand_surge"`
	FaultCount    int       `json:"fault_count"`
	OccurredAt    time.Time `json:"occurred_at"`
}
