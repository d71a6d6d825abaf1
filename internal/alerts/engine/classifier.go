// Package engine turns evaluation results into alert candidates and filters duplicates.
package engine

import (
	"sort"

	alerts "swapstation-ops/internal/alerts/domain"
	"swapstation-ops/internal/alerts/rules"
)

// Candidate is an alert type proposed for creation in one pass.
type Candidate struct {
	Type     alerts.AlertType
	Outcome  rules.Outcome
	Priority int
}

type slot struct {
	alertType alerts.AlertType
	priority  int
}

var (
	criticalSlots = []slot{
		{alerts.TypeCritical, 1},
		{alerts.TypeHardware, 3},
		{alerts.TypeDemand, 3},
		{alerts.TypeOptimize, 4},
	}
	standardSlots = []slot{
		{alerts.TypeCongestion, 2},
		{alerts.TypeLowInventory, 2},
		{alerts.TypeHardware, 3},
		{alerts.TypeDemand, 3},
		{alerts.TypeOptimize, 4},
	}
)

// Classify returns candidates ordered by priority. When CRITICAL is flagged
// the standalone congestion and low-inventory candidates are dropped.
func Classify(result rules.Result) []Candidate {
	slots := standardSlots
	if result.Flags.Has(alerts.TypeCritical) {
		slots = criticalSlots
	}
	candidates := make([]Candidate, 0, len(slots))
	for _, s := range slots {
		if !result.Flags.Has(s.alertType) {
			continue
		}
		outcome, ok := result.OutcomeFor(s.alertType)
		if !ok {
			continue
		}
		candidates = append(candidates, Candidate{Type: s.alertType, Outcome: outcome, Priority: s.priority})
	}
	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].Priority < candidates[j].Priority
	})
	return candidates
}
