package rules

import (
	"fmt"

	"gonum.org/v1/gonum/stat"

	alerts "swapstation-ops/internal/alerts/domain"
)

// CongestionRule fires when the queue stays above threshold for consecutive samples.
type CongestionRule struct{}

func (CongestionRule) ID() RuleID                  { return RuleCongestion }
func (CongestionRule) AlertType() alerts.AlertType { return alerts.TypeCongestion }

func (r CongestionRule) Evaluate(in Input) Outcome {
	cfg := in.Thresholds.Congestion
	if len(in.Window) < cfg.CyclesRequired {
		return untriggered(r, "insufficient samples")
	}

	recent := in.Window[:cfg.CyclesRequired]
	queues := make([]float64, len(recent))
	maxQueue := recent[0].QueueLength
	for i, sample := range recent {
		if sample.QueueLength <= cfg.QueueThreshold {
			return untriggered(r, "")
		}
		queues[i] = sample.QueueLength
		if sample.QueueLength > maxQueue {
			maxQueue = sample.QueueLength
		}
	}
	avgQueue := stat.Mean(queues, nil)

	severity := alerts.SeverityMedium
	if maxQueue > cfg.HighQueue {
		severity = alerts.SeverityHigh
	}
	return Outcome{
		RuleID:    r.ID(),
		AlertType: r.AlertType(),
		Triggered: true,
		Severity:  severity,
		Title:     "Queue Congestion Detected",
		Description: fmt.Sprintf("Queue length exceeded %s for %d consecutive cycles. Average queue: %.1f",
			formatNumber(cfg.QueueThreshold), cfg.CyclesRequired, avgQueue),
		RecommendedAction: "Reroute drivers to nearby low-load stations",
		Metadata: CongestionMetadata{
			AvgQueue:        avgQueue,
			MaxQueue:        maxQueue,
			Threshold:       cfg.QueueThreshold,
			CyclesEvaluated: len(recent),
		},
	}
}
