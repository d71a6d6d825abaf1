package rules

import (
	"fmt"

	"gonum.org/v1/gonum/stat"

	alerts "swapstation-ops/internal/alerts/domain"
)

// DemandRule fires when the newest swap rate spikes above the recent baseline.
type DemandRule struct{}

func (DemandRule) ID() RuleID                  { return RuleDemand }
func (DemandRule) AlertType() alerts.AlertType { return alerts.TypeDemand }

func (r DemandRule) Evaluate(in Input) Outcome {
	cfg := in.Thresholds.Demand
	if len(in.Window) < 2 {
		return untriggered(r, "insufficient samples")
	}

	latest := in.Window[0]
	start := in.Now.Add(-minutes(cfg.BaselineWindowMinutes))
	var rates []float64
	for _, sample := range in.Window {
		if sample.Timestamp.Before(start) || !sample.Timestamp.Before(latest.Timestamp) {
			continue
		}
		rates = append(rates, sample.SwapRate)
	}
	if len(rates) == 0 {
		return untriggered(r, "no baseline")
	}

	baseline := stat.Mean(rates, nil)
	current := latest.SwapRate
	if baseline <= 0 || current < baseline*cfg.SpikeMultiplier {
		return untriggered(r, "")
	}

	spike := round1((current - baseline) / baseline * 100)
	severity := alerts.SeverityMedium
	if spike > cfg.HighSpikePercent {
		severity = alerts.SeverityHigh
	}
	return Outcome{
		RuleID:    r.ID(),
		AlertType: r.AlertType(),
		Triggered: true,
		Severity:  severity,
		Title:     "Demand Spike Detected",
		Description: fmt.Sprintf("Swap rate spiked to %s/hour (%.1f%% above baseline of %.1f/hour)",
			formatNumber(current), spike, baseline),
		RecommendedAction: "Reroute drivers to nearby low-load stations",
		Metadata: DemandMetadata{
			CurrentSwapRate:  current,
			BaselineSwapRate: baseline,
			SpikePercentage:  spike,
			Multiplier:       cfg.SpikeMultiplier,
		},
	}
}
