package engine

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	alerts "swapstation-ops/internal/alerts/domain"
	"swapstation-ops/internal/alerts/rules"
)

func resultWith(types ...alerts.AlertType) rules.Result {
	result := rules.Result{StationID: "ST-1", Flags: rules.NewFlags(), Rules: map[rules.RuleID]rules.Outcome{}}
	for _, t := range types {
		result.Flags[t] = true
		result.Triggered = append(result.Triggered, rules.Outcome{AlertType: t, Triggered: true, Severity: alerts.SeverityMedium})
	}
	return result
}

func types(candidates []Candidate) []alerts.AlertType {
	out := make([]alerts.AlertType, 0, len(candidates))
	for _, c := range candidates {
		out = append(out, c.Type)
	}
	return out
}

func TestClassifyCriticalDropsStandaloneCandidates(t *testing.T) {
	result := resultWith(alerts.TypeCongestion, alerts.TypeLowInventory, alerts.TypeCritical)

	candidates := Classify(result)

	require.Len(t, candidates, 1)
	assert.Equal(t, alerts.TypeCritical, candidates[0].Type)
	assert.Equal(t, 1, candidates[0].Priority)
}

func TestClassifyCriticalKeepsOtherTypes(t *testing.T) {
	result := resultWith(alerts.TypeCongestion, alerts.TypeLowInventory, alerts.TypeCritical,
		alerts.TypeOptimize, alerts.TypeHardware, alerts.TypeDemand)

	candidates := Classify(result)

	assert.Equal(t, []alerts.AlertType{
		alerts.TypeCritical, alerts.TypeHardware, alerts.TypeDemand, alerts.TypeOptimize,
	}, types(candidates))
}

func TestClassifyOrdersByPriorityStable(t *testing.T) {
	result := resultWith(alerts.TypeOptimize, alerts.TypeDemand, alerts.TypeLowInventory, alerts.TypeHardware, alerts.TypeCongestion)

	candidates := Classify(result)

	assert.Equal(t, []alerts.AlertType{
		alerts.TypeCongestion, alerts.TypeLowInventory, alerts.TypeHardware, alerts.TypeDemand, alerts.TypeOptimize,
	}, types(candidates))
	assert.Equal(t, []int{2, 2, 3, 3, 4}, []int{
		candidates[0].Priority, candidates[1].Priority, candidates[2].Priority, candidates[3].Priority, candidates[4].Priority,
	})
}

func TestClassifyNothingFlagged(t *testing.T) {
	assert.Empty(t, Classify(resultWith()))
}

type stubChecker struct {
	pending map[alerts.AlertType]bool
	err     error
	calls   int
}

func (s *stubChecker) ExistsPending(ctx context.Context, stationID string, alertType alerts.AlertType) (bool, error) {
	s.calls++
	return s.pending[alertType], s.err
}

func TestGateSkipsExistingPending(t *testing.T) {
	checker := &stubChecker{pending: map[alerts.AlertType]bool{alerts.TypeHardware: true}}
	gate, err := NewGate(checker)
	require.NoError(t, err)

	ok, err := gate.Admit(context.Background(), "ST-1", Candidate{Type: alerts.TypeHardware})
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = gate.Admit(context.Background(), "ST-1", Candidate{Type: alerts.TypeDemand})
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, 2, checker.calls)
}

func TestGatePropagatesCheckerError(t *testing.T) {
	gate, err := NewGate(&stubChecker{err: errors.New("db down")})
	require.NoError(t, err)

	_, err = gate.Admit(context.Background(), "ST-1", Candidate{Type: alerts.TypeDemand})
	assert.EqualError(t, err, "db down")
}

func TestNewGateRequiresChecker(t *testing.T) {
	_, err := NewGate(nil)
	assert.Error(t, err)
}
