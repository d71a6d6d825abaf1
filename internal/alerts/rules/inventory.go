package rules

import (
	"fmt"

	alerts "swapstation-ops/internal/alerts/domain"
)

// LowInventoryRule fires when the newest sample has too few charged batteries.
type LowInventoryRule struct{}

func (LowInventoryRule) ID() RuleID                  { return RuleLowInventory }
func (LowInventoryRule) AlertType() alerts.AlertType { return alerts.TypeLowInventory }

func (r LowInventoryRule) Evaluate(in Input) Outcome {
	cfg := in.Thresholds.Inventory
	latest, ok := in.Window.Latest()
	if !ok {
		return untriggered(r, "no samples")
	}
	charged := latest.ChargedBatteries
	if charged >= cfg.MinCharged {
		return untriggered(r, "")
	}

	severity := alerts.SeverityMedium
	switch {
	case charged == 0:
		severity = alerts.SeverityCritical
	case charged < cfg.HighBelow:
		severity = alerts.SeverityHigh
	}
	total := charged + latest.UnchargedBatteries
	return Outcome{
		RuleID:    r.ID(),
		AlertType: r.AlertType(),
		Triggered: true,
		Severity:  severity,
		Title:     "Low Inventory Alert",
		Description: fmt.Sprintf("Station has only %d charged batteries available (total: %d). Threshold: %d",
			charged, total, cfg.MinCharged),
		RecommendedAction: "Suggest inventory rebalancing between stations",
		Metadata: InventoryMetadata{
			Charged:   charged,
			Uncharged: latest.UnchargedBatteries,
			Total:     total,
			Threshold: cfg.MinCharged,
		},
	}
}
