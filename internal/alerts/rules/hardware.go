package rules

import (
	"fmt"
	"sort"

	alerts "swapstation-ops/internal/alerts/domain"
)

// HardwareRule fires on repeated fault reports in the trailing window.
type HardwareRule struct{}

func (HardwareRule) ID() RuleID                  { return RuleHardware }
func (HardwareRule) AlertType() alerts.AlertType { return alerts.TypeHardware }

func (r HardwareRule) Evaluate(in Input) Outcome {
	cfg := in.Thresholds.Hardware
	if len(in.Window) == 0 {
		return untriggered(r, "no samples")
	}

	counts := make(map[string]int)
	total := 0
	for _, sample := range in.Window.Since(in.Now.Add(-minutes(cfg.WindowMinutes))) {
		for _, fault := range sample.Faults() {
			counts[fault]++
			total++
		}
	}
	if total < cfg.FaultCount {
		return untriggered(r, "")
	}

	recurring := make([]FaultCount, 0, len(counts))
	for fault, count := range counts {
		if count >= 2 {
			recurring = append(recurring, FaultCount{Fault: fault, Count: count})
		}
	}
	sort.Slice(recurring, func(i, j int) bool {
		if recurring[i].Count != recurring[j].Count {
			return recurring[i].Count > recurring[j].Count
		}
		return recurring[i].Fault < recurring[j].Fault
	})

	severity := alerts.SeverityMedium
	if total >= cfg.HighFaultCount {
		severity = alerts.SeverityHigh
	}
	return Outcome{
		RuleID:    r.ID(),
		AlertType: r.AlertType(),
		Triggered: true,
		Severity:  severity,
		Title:     "Hardware Fault Pattern Detected",
		Description: fmt.Sprintf("Station reported %d faults in the last %d minutes. Threshold: %d",
			total, cfg.WindowMinutes, cfg.FaultCount),
		RecommendedAction: "Raise maintenance tickets with probable root cause",
		Metadata: HardwareMetadata{
			TotalFaults:       total,
			FaultCounts:       counts,
			RecurringFaults:   recurring,
			TimeWindowMinutes: cfg.WindowMinutes,
			Threshold:         cfg.FaultCount,
		},
	}
}
