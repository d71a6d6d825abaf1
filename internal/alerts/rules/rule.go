// Package rules evaluates station metric windows against the operating-condition rules.
package rules

import (
	"time"

	alerts "swapstation-ops/internal/alerts/domain"
	telemetry "swapstation-ops/internal/telemetry/domain"
)

// Input is everything a rule may read. Rules must not mutate it.
type Input struct {
	StationID  string
	Window     telemetry.MetricWindow
	Now        time.Time
	Thresholds Thresholds
	// Prior holds outcomes already produced in this pass, keyed by rule id.
	Prior map[RuleID]Outcome
}

// Rule is a pure evaluation strategy.
type Rule interface {
	ID() RuleID
	AlertType() alerts.AlertType
	Evaluate(in Input) Outcome
}

// Registry is the ordered rule set. Composite rules must follow the rules they read.
type Registry []Rule

// DefaultRegistry returns R1..R6 in evaluation order.
func DefaultRegistry() Registry {
	return Registry{
		CongestionRule{},
		LowInventoryRule{},
		CriticalRule{},
		HardwareRule{},
		DemandRule{},
		OptimizeRule{},
	}
}

func untriggered(r Rule, reason string) Outcome {
	return Outcome{RuleID: r.ID(), AlertType: r.AlertType(), Reason: reason}
}

func minutes(n int) time.Duration {
	return time.Duration(n) * time.Minute
}
