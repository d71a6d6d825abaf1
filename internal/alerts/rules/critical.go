package rules

import (
	"fmt"

	alerts "swapstation-ops/internal/alerts/domain"
)

// CriticalRule composes congestion and low inventory from the same pass.
type CriticalRule struct{}

func (CriticalRule) ID() RuleID                  { return RuleCritical }
func (CriticalRule) AlertType() alerts.AlertType { return alerts.TypeCritical }

func (r CriticalRule) Evaluate(in Input) Outcome {
	congestion, okC := in.Prior[RuleCongestion]
	inventory, okI := in.Prior[RuleLowInventory]
	if !okC || !okI || !congestion.Triggered || !inventory.Triggered {
		return untriggered(r, "")
	}
	congestionMeta, _ := congestion.Metadata.(CongestionMetadata)
	inventoryMeta, _ := inventory.Metadata.(InventoryMetadata)

	return Outcome{
		RuleID:    r.ID(),
		AlertType: r.AlertType(),
		Triggered: true,
		Severity:  alerts.SeverityCritical,
		Title:     "Critical Station Condition",
		Description: fmt.Sprintf("Station experiencing both congestion (queue > %s) and low inventory (charged < %d). Immediate action required.",
			formatNumber(in.Thresholds.Congestion.QueueThreshold), in.Thresholds.Inventory.MinCharged),
		RecommendedAction: "Escalate critical outages early and reroute drivers immediately",
		Metadata: CriticalMetadata{
			Congestion: congestionMeta,
			Inventory:  inventoryMeta,
		},
	}
}
