package rules

import (
	"fmt"

	"gonum.org/v1/gonum/stat"

	alerts "swapstation-ops/internal/alerts/domain"
)

// OptimizeRule fires when a station runs well below its capacity.
type OptimizeRule struct{}

func (OptimizeRule) ID() RuleID                  { return RuleOptimize }
func (OptimizeRule) AlertType() alerts.AlertType { return alerts.TypeOptimize }

func (r OptimizeRule) Evaluate(in Input) Outcome {
	cfg := in.Thresholds.Optimize
	recent := in.Window.Since(in.Now.Add(-minutes(cfg.WindowMinutes)))
	if len(recent) == 0 {
		return untriggered(r, "empty window")
	}

	rates := make([]float64, len(recent))
	maxCapacity := 0.0
	for i, sample := range recent {
		rates[i] = sample.SwapRate
		capacity := sample.MaxCapacity
		if capacity <= 0 {
			capacity = cfg.DefaultCapacity
		}
		if capacity > maxCapacity {
			maxCapacity = capacity
		}
	}
	avg := stat.Mean(rates, nil)
	utilization := avg / maxCapacity
	if utilization >= cfg.Utilization {
		return untriggered(r, "")
	}

	return Outcome{
		RuleID:    r.ID(),
		AlertType: r.AlertType(),
		Triggered: true,
		Severity:  alerts.SeverityLow,
		Title:     "Underutilized Station",
		Description: fmt.Sprintf("Station utilization is %.1f%% (threshold: %s%%). Average swap rate: %.1f/hour",
			utilization*100, formatNumber(cfg.Utilization*100), avg),
		RecommendedAction: "Consider rebalancing inventory or adjusting station capacity",
		Metadata: OptimizeMetadata{
			Utilization:       utilization,
			AvgSwapRate:       avg,
			MaxCapacity:       maxCapacity,
			Threshold:         cfg.Utilization,
			TimeWindowMinutes: cfg.WindowMinutes,
		},
	}
}
