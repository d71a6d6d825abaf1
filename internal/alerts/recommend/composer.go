// Package recommend derives operator recommendations from an evaluation pass.
package recommend

import (
	"fmt"
	"math"
	"sort"
	"strings"

	alerts "swapstation-ops/internal/alerts/domain"
	"swapstation-ops/internal/alerts/rules"
)

// ActionType names an operator action.
type ActionType string

const (
	ActionReroute     ActionType = "REROUTE"
	ActionTransfer    ActionType = "TRANSFER"
	ActionMaintenance ActionType = "MAINTENANCE"
	ActionEscalate    ActionType = "ESCALATE"
	ActionOptimize    ActionType = "OPTIMIZE"
	ActionCritical    ActionType = "CRITICAL"
	ActionMonitor     ActionType = "MONITOR"
)

// MonitorOnly is the recommended action text when nothing applies.
const MonitorOnly = "Monitor station status"

var autoDetect = []string{"AUTO_DETECT"}

// Action is one concrete step.
type Action struct {
	Type        ActionType     `json:"type"`
	Description string         `json:"description"`
	Details     map[string]any `json:"details"`
}

// Item is a single recommendation with its priority.
type Item struct {
	Type          ActionType `json:"type"`
	Priority      int        `json:"priority"`
	HumanReadable string     `json:"humanReadable"`
	Actions       []Action   `json:"actions"`
}

// Recommendation is the composed advice for a station.
type Recommendation struct {
	StationID       string          `json:"stationId"`
	Flags           map[string]bool `json:"flags"`
	PrimaryAction   ActionType      `json:"primaryAction"`
	HumanReadable   string          `json:"humanReadable"`
	Actions         []Action        `json:"actions"`
	Recommendations []Item          `json:"recommendations"`
}

// RecommendedAction is the text stored on an alert.
func (r Recommendation) RecommendedAction() string {
	if r.HumanReadable == "" {
		return MonitorOnly
	}
	return r.HumanReadable
}

// Compose builds the recommendation for a station from one evaluation pass.
func Compose(stationID string, result rules.Result) Recommendation {
	meta := collect(result)
	var items []Item
	if result.Flags.Has(alerts.TypeCritical) {
		items = []Item{critical(stationID, meta)}
	} else {
		items = standard(stationID, result.Flags, meta)
	}
	sort.SliceStable(items, func(i, j int) bool {
		return items[i].Priority < items[j].Priority
	})

	rec := Recommendation{
		StationID:       stationID,
		Flags:           flagMap(result.Flags),
		PrimaryAction:   ActionMonitor,
		Actions:         []Action{},
		Recommendations: items,
	}
	sentences := make([]string, 0, len(items))
	for _, item := range items {
		sentences = append(sentences, item.HumanReadable)
		rec.Actions = append(rec.Actions, item.Actions...)
	}
	rec.HumanReadable = strings.Join(sentences, " ")
	if len(items) > 0 {
		rec.PrimaryAction = items[0].Type
	}
	if rec.Recommendations == nil {
		rec.Recommendations = []Item{}
	}
	return rec
}

type ruleMetadata struct {
	congestion *rules.CongestionMetadata
	inventory  *rules.InventoryMetadata
	hardware   *rules.HardwareMetadata
	demand     *rules.DemandMetadata
	optimize   *rules.OptimizeMetadata
}

func collect(result rules.Result) ruleMetadata {
	var m ruleMetadata
	for _, outcome := range result.Triggered {
		switch md := outcome.Metadata.(type) {
		case rules.CongestionMetadata:
			m.congestion = &md
		case rules.InventoryMetadata:
			m.inventory = &md
		case rules.HardwareMetadata:
			m.hardware = &md
		case rules.DemandMetadata:
			m.demand = &md
		case rules.OptimizeMetadata:
			m.optimize = &md
		}
	}
	return m
}

func critical(stationID string, m ruleMetadata) Item {
	faultCount := 0
	recurring := []rules.FaultCount{}
	if m.hardware != nil {
		faultCount = m.hardware.TotalFaults
		recurring = m.hardware.RecurringFaults
	}
	return Item{
		Type:          ActionCritical,
		Priority:      1,
		HumanReadable: fmt.Sprintf("CRITICAL: Station %s requires immediate attention. Multiple critical issues detected simultaneously.", stationID),
		Actions: []Action{
			{
				Type:        ActionReroute,
				Description: "Reroute drivers to nearby low-load stations",
				Details:     map[string]any{"reason": "High congestion detected", "targetStations": autoDetect},
			},
			{
				Type:        ActionTransfer,
				Description: "Transfer charged batteries from nearby stations",
				Details:     map[string]any{"reason": "Low inventory detected", "requiredBatteries": 10, "sourceStations": autoDetect},
			},
			{
				Type:        ActionMaintenance,
				Description: "Schedule immediate maintenance",
				Details:     map[string]any{"reason": "Hardware faults detected", "faultCount": faultCount, "recurringFaults": recurring},
			},
			{
				Type:        ActionEscalate,
				Description: "Escalate to operations manager",
				Details:     map[string]any{"reason": "Critical condition requires immediate intervention", "escalationLevel": "HIGH"},
			},
		},
	}
}

func standard(stationID string, flags rules.Flags, m ruleMetadata) []Item {
	var items []Item
	avgQueue := 0.0
	if m.congestion != nil {
		avgQueue = math.Round(m.congestion.AvgQueue*10) / 10
	}

	switch {
	case flags.Has(alerts.TypeCongestion) && flags.Has(alerts.TypeOptimize):
		items = append(items, Item{
			Type:          ActionReroute,
			Priority:      1,
			HumanReadable: fmt.Sprintf("Reroute drivers from %s to nearby underutilized stations. High congestion detected while other stations are underutilized.", stationID),
			Actions: []Action{{
				Type:        ActionReroute,
				Description: "Reroute drivers to nearby low-load stations",
				Details: map[string]any{
					"reason":          "Congestion + Underutilized stations available",
					"currentQueue":    avgQueue,
					"targetStations":  autoDetect,
					"estimatedRelief": "30-50% queue reduction",
				},
			}},
		})
	case flags.Has(alerts.TypeCongestion):
		queueText := "N/A"
		if m.congestion != nil {
			queueText = fmt.Sprintf("%.1f", avgQueue)
		}
		items = append(items, Item{
			Type:          ActionReroute,
			Priority:      2,
			HumanReadable: fmt.Sprintf("Reroute drivers from %s to nearby low-load stations. Queue length: %s.", stationID, queueText),
			Actions: []Action{{
				Type:        ActionReroute,
				Description: "Reroute drivers to nearby low-load stations",
				Details: map[string]any{
					"reason":          "High queue congestion",
					"currentQueue":    avgQueue,
					"targetStations":  autoDetect,
					"estimatedRelief": "20-40% queue reduction",
				},
			}},
		})
	}

	if flags.Has(alerts.TypeLowInventory) {
		charged, threshold := 0, 8
		if m.inventory != nil {
			charged, threshold = m.inventory.Charged, m.inventory.Threshold
		}
		urgency := "HIGH"
		if charged == 0 {
			urgency = "CRITICAL"
		}
		items = append(items, Item{
			Type:          ActionTransfer,
			Priority:      2,
			HumanReadable: fmt.Sprintf("Transfer charged batteries to %s. Current inventory: %d charged batteries (threshold: %d).", stationID, charged, threshold),
			Actions: []Action{{
				Type:        ActionTransfer,
				Description: "Transfer charged batteries from nearby stations",
				Details: map[string]any{
					"reason":            "Low inventory detected",
					"currentCharged":    charged,
					"requiredBatteries": max(threshold-charged, 5),
					"sourceStations":    autoDetect,
					"urgency":           urgency,
				},
			}},
		})
	}

	if flags.Has(alerts.TypeHardware) {
		total, window := 0, 30
		recurring := []rules.FaultCount{}
		counts := map[string]int{}
		if m.hardware != nil {
			total, window = m.hardware.TotalFaults, m.hardware.TimeWindowMinutes
			recurring, counts = m.hardware.RecurringFaults, m.hardware.FaultCounts
		}
		items = append(items, Item{
			Type:          ActionMaintenance,
			Priority:      2,
			HumanReadable: fmt.Sprintf("Schedule maintenance for %s. %d faults detected in last %d minutes.", stationID, total, window),
			Actions: []Action{{
				Type:        ActionMaintenance,
				Description: "Raise maintenance ticket with probable root cause",
				Details: map[string]any{
					"reason":            "Recurring hardware faults",
					"faultCount":        total,
					"recurringFaults":   recurring,
					"faultPatterns":     counts,
					"estimatedDowntime": "1-2 hours",
				},
			}},
		})
	}

	if flags.Has(alerts.TypeDemand) {
		spike := "N/A"
		details := map[string]any{"reason": "Demand spike", "targetStations": autoDetect}
		if m.demand != nil {
			spike = m.demand.SpikeText()
			details["currentSwapRate"] = m.demand.CurrentSwapRate
			details["baselineSwapRate"] = m.demand.BaselineSwapRate
			details["spikePercentage"] = spike
		}
		items = append(items, Item{
			Type:          ActionReroute,
			Priority:      3,
			HumanReadable: fmt.Sprintf("Demand spike detected at %s. Swap rate increased by %s%%. Consider rerouting.", stationID, spike),
			Actions: []Action{{
				Type:        ActionReroute,
				Description: "Reroute drivers to nearby low-load stations",
				Details:     details,
			}},
		})
	}

	if flags.Has(alerts.TypeOptimize) && !flags.Has(alerts.TypeCongestion) {
		utilization, avgRate, capacity := 0.0, 0.0, 100.0
		if m.optimize != nil {
			utilization, avgRate, capacity = m.optimize.Utilization, m.optimize.AvgSwapRate, m.optimize.MaxCapacity
		}
		items = append(items, Item{
			Type:          ActionOptimize,
			Priority:      4,
			HumanReadable: fmt.Sprintf("Station %s is underutilized (%.1f%% utilization). Consider rebalancing inventory.", stationID, utilization*100),
			Actions: []Action{{
				Type:        ActionOptimize,
				Description: "Consider rebalancing inventory or adjusting station capacity",
				Details: map[string]any{
					"reason":      "Underutilized station",
					"utilization": utilization,
					"avgSwapRate": avgRate,
					"maxCapacity": capacity,
					"suggestion":  "Transfer excess inventory to high-demand stations",
				},
			}},
		})
	}
	return items
}

func flagMap(flags rules.Flags) map[string]bool {
	out := make(map[string]bool, len(flags))
	for t, v := range flags {
		out[string(t)] = v
	}
	return out
}
