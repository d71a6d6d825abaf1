package rules

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"

	alerts "swapstation-ops/internal/alerts/domain"
)

// RuleID identifies one of the registered rules.
type RuleID string

const (
	RuleCongestion   RuleID = "R1"
	RuleLowInventory RuleID = "R2"
	RuleCritical     RuleID = "R3"
	RuleHardware     RuleID = "R4"
	RuleDemand       RuleID = "R5"
	RuleOptimize     RuleID = "R6"
)

// Metadata is the rule-specific payload of a triggered outcome.
// Each rule has exactly one concrete type.
type Metadata interface {
	Rule() RuleID
	Fields() map[string]any
}

// Outcome is the result of evaluating one rule.
type Outcome struct {
	RuleID            RuleID
	AlertType         alerts.AlertType
	Triggered         bool
	Severity          alerts.Severity
	Title             string
	Description       string
	RecommendedAction string
	// Reason explains an untriggered outcome that lacked data.
	Reason   string
	Metadata Metadata
}

// MetadataFields renders the typed metadata, or an empty map.
func (o Outcome) MetadataFields() map[string]any {
	if o.Metadata == nil {
		return map[string]any{}
	}
	return o.Metadata.Fields()
}

// MarshalJSON renders the outcome with its metadata flattened to fields.
func (o Outcome) MarshalJSON() ([]byte, error) {
	type view struct {
		RuleID            RuleID           `json:"ruleId"`
		AlertType         alerts.AlertType `json:"alertType"`
		Triggered         bool             `json:"triggered"`
		Severity          alerts.Severity  `json:"severity,omitempty"`
		Title             string           `json:"title,omitempty"`
		Description       string           `json:"description,omitempty"`
		RecommendedAction string           `json:"recommendedAction,omitempty"`
		Reason            string           `json:"reason,omitempty"`
		Metadata          map[string]any   `json:"metadata,omitempty"`
	}
	v := view{
		RuleID:            o.RuleID,
		AlertType:         o.AlertType,
		Triggered:         o.Triggered,
		Severity:          o.Severity,
		Title:             o.Title,
		Description:       o.Description,
		RecommendedAction: o.RecommendedAction,
		Reason:            o.Reason,
	}
	if o.Metadata != nil {
		v.Metadata = o.Metadata.Fields()
	}
	return json.Marshal(v)
}

// CongestionMetadata describes an R1 trigger.
type CongestionMetadata struct {
	AvgQueue        float64
	MaxQueue        float64
	Threshold       float64
	CyclesEvaluated int
}

func (CongestionMetadata) Rule() RuleID { return RuleCongestion }

func (m CongestionMetadata) Fields() map[string]any {
	return map[string]any{
		"avgQueue":        round1(m.AvgQueue),
		"maxQueue":        m.MaxQueue,
		"threshold":       m.Threshold,
		"cyclesEvaluated": m.CyclesEvaluated,
	}
}

// InventoryMetadata describes an R2 trigger.
type InventoryMetadata struct {
	Charged   int
	Uncharged int
	Total     int
	Threshold int
}

func (InventoryMetadata) Rule() RuleID { return RuleLowInventory }

func (m InventoryMetadata) Fields() map[string]any {
	return map[string]any{
		"chargedBatteries":   m.Charged,
		"unchargedBatteries": m.Uncharged,
		"total":              m.Total,
		"threshold":          m.Threshold,
	}
}

// CriticalMetadata nests the two outcomes that composed R3.
type CriticalMetadata struct {
	Congestion CongestionMetadata
	Inventory  InventoryMetadata
}

func (CriticalMetadata) Rule() RuleID { return RuleCritical }

func (m CriticalMetadata) Fields() map[string]any {
	return map[string]any{
		"congestion": m.Congestion.Fields(),
		"inventory":  m.Inventory.Fields(),
	}
}

// FaultCount is a fault name with its tally.
type FaultCount struct {
	Fault string `json:"fault"`
	Count int    `json:"count"`
}

// HardwareMetadata describes an R4 trigger.
type HardwareMetadata struct {
	TotalFaults       int
	FaultCounts       map[string]int
	RecurringFaults   []FaultCount
	TimeWindowMinutes int
	Threshold         int
}

func (HardwareMetadata) Rule() RuleID { return RuleHardware }

func (m HardwareMetadata) Fields() map[string]any {
	counts := make(map[string]int, len(m.FaultCounts))
	for k, v := range m.FaultCounts {
		counts[k] = v
	}
	recurring := append([]FaultCount{}, m.RecurringFaults...)
	return map[string]any{
		"totalFaults":       m.TotalFaults,
		"faultCounts":       counts,
		"recurringFaults":   recurring,
		"timeWindowMinutes": m.TimeWindowMinutes,
		"threshold":         m.Threshold,
	}
}

// DemandMetadata describes an R5 trigger.
type DemandMetadata struct {
	CurrentSwapRate  float64
	BaselineSwapRate float64
	SpikePercentage  float64
	Multiplier       float64
}

func (DemandMetadata) Rule() RuleID { return RuleDemand }

// SpikeText is the spike percentage with one decimal.
func (m DemandMetadata) SpikeText() string {
	return fmt.Sprintf("%.1f", m.SpikePercentage)
}

func (m DemandMetadata) Fields() map[string]any {
	return map[string]any{
		"currentSwapRate":  m.CurrentSwapRate,
		"baselineSwapRate": round1(m.BaselineSwapRate),
		"spikePercentage":  m.SpikeText(),
		"multiplier":       m.Multiplier,
	}
}

// OptimizeMetadata describes an R6 trigger.
type OptimizeMetadata struct {
	Utilization       float64
	AvgSwapRate       float64
	MaxCapacity       float64
	Threshold         float64
	TimeWindowMinutes int
}

func (OptimizeMetadata) Rule() RuleID { return RuleOptimize }

func (m OptimizeMetadata) Fields() map[string]any {
	return map[string]any{
		"utilization":       fmt.Sprintf("%.3f", m.Utilization),
		"avgSwapRate":       round1(m.AvgSwapRate),
		"maxCapacity":       m.MaxCapacity,
		"threshold":         m.Threshold,
		"timeWindowMinutes": m.TimeWindowMinutes,
	}
}

func round1(v float64) float64 {
	return math.Round(v*10) / 10
}

func formatNumber(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
