// Package redis keeps the latest sample of each station in Redis hashes.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"swapstation-ops/internal/eventing"
	"swapstation-ops/internal/telemetry/application/events"
)

const defaultTTL = 10 * time.Minute

// StateCache writes station state hashes and fans samples out on a telemetry channel.
type StateCache struct {
	client *redis.Client
	ttl    time.Duration
}

// NewStateCache constructs a cache. A non-positive ttl uses ten minutes.
func NewStateCache(client *redis.Client, ttl time.Duration) (*StateCache, error) {
	if client == nil {
		return nil, errors.New("state cache: nil client")
	}
	if ttl <= 0 {
		ttl = defaultTTL
	}
	return &StateCache{client: client, ttl: ttl}, nil
}

// StateKey is the hash holding a station's latest sample.
func StateKey(stationID string) string {
	return fmt.Sprintf("station:%s:state", stationID)
}

// TelemetryChannel carries every stored sample for a station.
func TelemetryChannel(stationID string) string {
	return fmt.Sprintf("station:%s:telemetry", stationID)
}

// Subscribe updates the cache on every MetricIngested event.
func (c *StateCache) Subscribe(bus eventing.EventBus) {
	eventing.On(bus, c.Update)
}

// Update writes the sample hash with a ttl and publishes it.
func (c *StateCache) Update(ctx context.Context, event events.MetricIngested) error {
	state := map[string]interface{}{
		"station_id":          event.StationID,
		"timestamp":           event.Timestamp.UnixMilli(),
		"swap_rate":           event.SwapRate,
		"queue_length":        event.QueueLength,
		"charger_health":      event.ChargerHealth,
		"charger_uptime":      event.ChargerUptime,
		"charged_batteries":   event.Charged,
		"uncharged_batteries": event.Uncharged,
		"demand_surge":        event.DemandSurge,
		"fault_count":         event.FaultCount,
	}
	payload, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("state cache: marshal: %w", err)
	}

	key := StateKey(event.StationID)
	pipe := c.client.Pipeline()
	pipe.HSet(ctx, key, state)
	pipe.Expire(ctx, key, c.ttl)
	pipe.Publish(ctx, TelemetryChannel(event.StationID), payload)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("state cache: pipeline: %w", err)
	}
	return nil
}

// StationState is the cached view of a station.
type StationState struct {
	StationID          string    `json:"stationId"`
	Timestamp          time.Time `json:"timestamp"`
	SwapRate           float64   `json:"swapRate"`
	QueueLength        float64   `json:"queue"`
	ChargerHealth      string    `json:"chargerHealth"`
	ChargerUptime      float64   `json:"chargerUptime"`
	ChargedBatteries   int       `json:"chargedBatteries"`
	UnchargedBatteries int       `json:"unchargedBatteries"`
	DemandSurge        bool      `json:"demandSurge"`
	FaultCount         int       `json:"faultCount"`
}

// State returns the cached state; ok is false when nothing is cached.
func (c *StateCache) State(ctx context.Context, stationID string) (state StationState, ok bool, err error) {
	fields, err := c.client.HGetAll(ctx, StateKey(stationID)).Result()
	if err != nil {
		return StationState{}, false, fmt.Errorf("state cache: get %s: %w", stationID, err)
	}
	if len(fields) == 0 {
		return StationState{}, false, nil
	}
	state.StationID = fields["station_id"]
	if ms, err := strconv.ParseInt(fields["timestamp"], 10, 64); err == nil {
		state.Timestamp = time.UnixMilli(ms).UTC()
	}
	state.SwapRate, _ = strconv.ParseFloat(fields["swap_rate"], 64)
	state.QueueLength, _ = strconv.ParseFloat(fields["queue_length"], 64)
	state.ChargerHealth = fields["charger_health"]
	state.ChargerUptime, _ = strconv.ParseFloat(fields["charger_uptime"], 64)
	state.ChargedBatteries, _ = strconv.Atoi(fields["charged_batteries"])
	state.UnchargedBatteries, _ = strconv.Atoi(fields["uncharged_batteries"])
	// go-redis stores bools as "1"/"0"
	state.DemandSurge = fields["demand_surge"] == "1" || fields["demand_surge"] == "true"
	state.FaultCount, _ = strconv.Atoi(fields["fault_count"])
	return state, true, nil
}
