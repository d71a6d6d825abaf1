package rules

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	alerts "swapstation-ops/internal/alerts/domain"
	telemetry "swapstation-ops/internal/telemetry/domain"
)

var now = time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC)

func sampleAt(ago time.Duration, mutate func(*telemetry.MetricSample)) telemetry.MetricSample {
	s := telemetry.MetricSample{
		StationID:        "ST-1",
		Timestamp:        now.Add(-ago),
		SwapRate:         40,
		QueueLength:      2,
		ChargerHealth:    telemetry.ChargerHealthy,
		ChargedBatteries: 20,
		FaultPatterns:    []string{},
	}
	if mutate != nil {
		mutate(&s)
	}
	return s
}

func input(samples ...telemetry.MetricSample) Input {
	return Input{
		StationID:  "ST-1",
		Window:     telemetry.NewWindow(samples),
		Now:        now,
		Thresholds: DefaultThresholds(),
		Prior:      map[RuleID]Outcome{},
	}
}

func queue(q float64) func(*telemetry.MetricSample) {
	return func(s *telemetry.MetricSample) { s.QueueLength = q }
}

func TestCongestionTwoHighSamplesTriggerMedium(t *testing.T) {
	out := CongestionRule{}.Evaluate(input(
		sampleAt(0, queue(18)),
		sampleAt(time.Minute, queue(15)),
	))

	require.True(t, out.Triggered)
	assert.Equal(t, alerts.SeverityMedium, out.Severity)
	meta := out.Metadata.(CongestionMetadata)
	assert.InDelta(t, 16.5, meta.AvgQueue, 1e-9)
	assert.Equal(t, 18.0, meta.MaxQueue)
	assert.Equal(t, 2, meta.CyclesEvaluated)
	assert.Equal(t, 16.5, out.MetadataFields()["avgQueue"])
	assert.Equal(t, "Queue length exceeded 12 for 2 consecutive cycles. Average queue: 16.5", out.Description)
}

func TestCongestionHighWhenMaxAboveTwenty(t *testing.T) {
	out := CongestionRule{}.Evaluate(input(sampleAt(0, queue(21)), sampleAt(time.Minute, queue(13))))
	require.True(t, out.Triggered)
	assert.Equal(t, alerts.SeverityHigh, out.Severity)
}

func TestCongestionSingleHighSampleDoesNotTrigger(t *testing.T) {
	out := CongestionRule{}.Evaluate(input(sampleAt(0, queue(30)), sampleAt(time.Minute, queue(5))))
	assert.False(t, out.Triggered)

	out = CongestionRule{}.Evaluate(input(sampleAt(0, queue(12)), sampleAt(time.Minute, queue(25))))
	assert.False(t, out.Triggered, "queue equal to threshold is not above it")
}

func TestCongestionInsufficientSamples(t *testing.T) {
	out := CongestionRule{}.Evaluate(input(sampleAt(0, queue(30))))
	assert.False(t, out.Triggered)
	assert.Equal(t, "insufficient samples", out.Reason)
}

func TestLowInventorySeverities(t *testing.T) {
	cases := []struct {
		charged  int
		trigger  bool
		severity alerts.Severity
	}{
		{0, true, alerts.SeverityCritical},
		{1, true, alerts.SeverityHigh},
		{2, true, alerts.SeverityHigh},
		{3, true, alerts.SeverityMedium},
		{7, true, alerts.SeverityMedium},
		{8, false, ""},
		{15, false, ""},
	}
	for _, tc := range cases {
		out := LowInventoryRule{}.Evaluate(input(sampleAt(0, func(s *telemetry.MetricSample) {
			s.ChargedBatteries = tc.charged
			s.UnchargedBatteries = 4
		})))
		assert.Equal(t, tc.trigger, out.Triggered, "charged=%d", tc.charged)
		assert.Equal(t, tc.severity, out.Severity, "charged=%d", tc.charged)
		if tc.trigger {
			meta := out.Metadata.(InventoryMetadata)
			assert.Equal(t, tc.charged+4, meta.Total)
			assert.Equal(t, 8, meta.Threshold)
		}
	}
}

func TestLowInventoryUsesOnlyNewestSample(t *testing.T) {
	out := LowInventoryRule{}.Evaluate(input(
		sampleAt(0, func(s *telemetry.MetricSample) { s.ChargedBatteries = 12 }),
		sampleAt(time.Minute, func(s *telemetry.MetricSample) { s.ChargedBatteries = 0 }),
	))
	assert.False(t, out.Triggered)
}

func TestHardwareCountsRecurringFaults(t *testing.T) {
	faults := func(f ...string) func(*telemetry.MetricSample) {
		return func(s *telemetry.MetricSample) { s.FaultPatterns = f }
	}
	out := HardwareRule{}.Evaluate(input(
		sampleAt(0, faults("door_jam", "sensor_fault")),
		sampleAt(5*time.Minute, faults("door_jam")),
		sampleAt(10*time.Minute, faults("door_jam", "sensor_fault")),
		sampleAt(20*time.Minute, faults("door_jam")),
		sampleAt(45*time.Minute, faults("door_jam", "door_jam", "door_jam")),
	))

	require.True(t, out.Triggered)
	assert.Equal(t, alerts.SeverityHigh, out.Severity)
	meta := out.Metadata.(HardwareMetadata)
	assert.Equal(t, 6, meta.TotalFaults)
	assert.Equal(t, map[string]int{"door_jam": 4, "sensor_fault": 2}, meta.FaultCounts)
	assert.Equal(t, []FaultCount{{Fault: "door_jam", Count: 4}, {Fault: "sensor_fault", Count: 2}}, meta.RecurringFaults)
	assert.Equal(t, 30, meta.TimeWindowMinutes)
}

func TestHardwareThresholdBoundaries(t *testing.T) {
	withFaults := func(n int) Input {
		samples := make([]telemetry.MetricSample, 0, n)
		for i := 0; i < n; i++ {
			samples = append(samples, sampleAt(time.Duration(i)*time.Minute, func(s *telemetry.MetricSample) {
				s.FaultPatterns = []string{"overheat"}
			}))
		}
		return input(samples...)
	}
	assert.False(t, HardwareRule{}.Evaluate(withFaults(2)).Triggered)

	out := HardwareRule{}.Evaluate(withFaults(3))
	require.True(t, out.Triggered)
	assert.Equal(t, alerts.SeverityMedium, out.Severity)

	out = HardwareRule{}.Evaluate(withFaults(5))
	require.True(t, out.Triggered)
	assert.Equal(t, alerts.SeverityHigh, out.Severity)
}

func TestHardwareFallsBackToErrorLogs(t *testing.T) {
	out := HardwareRule{}.Evaluate(input(sampleAt(0, func(s *telemetry.MetricSample) {
		s.FaultPatterns = nil
		s.ErrorLogs = []string{"E1", "E1", "E2"}
	})))
	require.True(t, out.Triggered)
	assert.Equal(t, 3, out.Metadata.(HardwareMetadata).TotalFaults)
}

func TestDemandSpikeMedium(t *testing.T) {
	rate := func(r float64) func(*telemetry.MetricSample) {
		return func(s *telemetry.MetricSample) { s.SwapRate = r }
	}
	out := DemandRule{}.Evaluate(input(
		sampleAt(0, rate(16)),
		sampleAt(10*time.Minute, rate(8)),
		sampleAt(20*time.Minute, rate(12)),
	))

	require.True(t, out.Triggered)
	assert.Equal(t, alerts.SeverityMedium, out.Severity)
	meta := out.Metadata.(DemandMetadata)
	assert.Equal(t, 10.0, meta.BaselineSwapRate)
	assert.Equal(t, "60.0", out.MetadataFields()["spikePercentage"])
	assert.Equal(t, 1.5, meta.Multiplier)
	assert.Equal(t, "Swap rate spiked to 16/hour (60.0% above baseline of 10.0/hour)", out.Description)
}

func TestDemandSpikeHighAboveDouble(t *testing.T) {
	out := DemandRule{}.Evaluate(input(
		sampleAt(0, func(s *telemetry.MetricSample) { s.SwapRate = 25 }),
		sampleAt(10*time.Minute, func(s *telemetry.MetricSample) { s.SwapRate = 10 }),
	))
	require.True(t, out.Triggered)
	assert.Equal(t, alerts.SeverityHigh, out.Severity)
}

func TestDemandBelowMultiplierDoesNotTrigger(t *testing.T) {
	out := DemandRule{}.Evaluate(input(
		sampleAt(0, func(s *telemetry.MetricSample) { s.SwapRate = 14.9 }),
		sampleAt(10*time.Minute, func(s *telemetry.MetricSample) { s.SwapRate = 10 }),
	))
	assert.False(t, out.Triggered)
}

func TestDemandNoBaseline(t *testing.T) {
	out := DemandRule{}.Evaluate(input(
		sampleAt(0, nil),
		sampleAt(90*time.Minute, nil),
	))
	assert.False(t, out.Triggered)
	assert.Equal(t, "no baseline", out.Reason)

	out = DemandRule{}.Evaluate(input(sampleAt(0, nil)))
	assert.Equal(t, "insufficient samples", out.Reason)
}

func TestDemandZeroBaselineDoesNotTrigger(t *testing.T) {
	out := DemandRule{}.Evaluate(input(
		sampleAt(0, func(s *telemetry.MetricSample) { s.SwapRate = 50 }),
		sampleAt(10*time.Minute, func(s *telemetry.MetricSample) { s.SwapRate = 0 }),
	))
	assert.False(t, out.Triggered)
}

func TestOptimizeLowUtilization(t *testing.T) {
	out := OptimizeRule{}.Evaluate(input(
		sampleAt(0, func(s *telemetry.MetricSample) { s.SwapRate = 4; s.MaxCapacity = 100 }),
		sampleAt(20*time.Minute, func(s *telemetry.MetricSample) { s.SwapRate = 6; s.MaxCapacity = 100 }),
	))
	require.True(t, out.Triggered)
	assert.Equal(t, alerts.SeverityLow, out.Severity)
	meta := out.Metadata.(OptimizeMetadata)
	assert.InDelta(t, 0.05, meta.Utilization, 1e-9)
	assert.Equal(t, "0.050", out.MetadataFields()["utilization"])
	assert.Equal(t, 5.0, meta.AvgSwapRate)
}

func TestOptimizeDefaultsCapacity(t *testing.T) {
	out := OptimizeRule{}.Evaluate(input(sampleAt(0, func(s *telemetry.MetricSample) { s.SwapRate = 25 })))
	assert.False(t, out.Triggered, "25/100 is above the threshold")

	out = OptimizeRule{}.Evaluate(input(sampleAt(0, func(s *telemetry.MetricSample) { s.SwapRate = 19 })))
	require.True(t, out.Triggered)
	assert.Equal(t, 100.0, out.Metadata.(OptimizeMetadata).MaxCapacity)
}

func TestOptimizeEmptyWindow(t *testing.T) {
	out := OptimizeRule{}.Evaluate(input(sampleAt(2*time.Hour, nil)))
	assert.False(t, out.Triggered)
	assert.Equal(t, "empty window", out.Reason)
}

func TestEvaluatorComposesCritical(t *testing.T) {
	evaluator := NewEvaluator(nil)
	window := telemetry.NewWindow([]telemetry.MetricSample{
		sampleAt(0, func(s *telemetry.MetricSample) { s.QueueLength = 18; s.ChargedBatteries = 0 }),
		sampleAt(time.Minute, func(s *telemetry.MetricSample) { s.QueueLength = 15 }),
	})

	result := evaluator.Evaluate("ST-1", window, now)

	assert.True(t, result.Flags.Has(alerts.TypeCongestion))
	assert.True(t, result.Flags.Has(alerts.TypeLowInventory))
	assert.True(t, result.Flags.Has(alerts.TypeCritical))
	assert.Equal(t, alerts.SeverityCritical, result.MaxSeverity)

	critical, ok := result.OutcomeFor(alerts.TypeCritical)
	require.True(t, ok)
	fields := critical.MetadataFields()
	assert.Contains(t, fields, "congestion")
	assert.Contains(t, fields, "inventory")
}

func TestEvaluatorNoCriticalWithoutBoth(t *testing.T) {
	result := NewEvaluator(nil).Evaluate("ST-1", telemetry.NewWindow([]telemetry.MetricSample{
		sampleAt(0, func(s *telemetry.MetricSample) { s.ChargedBatteries = 0 }),
		sampleAt(time.Minute, nil),
	}), now)

	assert.True(t, result.Flags.Has(alerts.TypeLowInventory))
	assert.False(t, result.Flags.Has(alerts.TypeCongestion))
	assert.False(t, result.Flags.Has(alerts.TypeCritical))
}

func TestEvaluatorMaxSeverityPicksHighestRank(t *testing.T) {
	// optimize fires LOW, hardware fires MEDIUM
	result := NewEvaluator(nil).Evaluate("ST-1", telemetry.NewWindow([]telemetry.MetricSample{
		sampleAt(0, func(s *telemetry.MetricSample) { s.SwapRate = 1; s.FaultPatterns = []string{"a", "b", "c"} }),
	}), now)

	assert.True(t, result.Flags.Has(alerts.TypeOptimize))
	assert.True(t, result.Flags.Has(alerts.TypeHardware))
	assert.Equal(t, alerts.SeverityMedium, result.MaxSeverity)
	assert.Len(t, result.Triggered, 2)
	assert.Len(t, result.Rules, 6)
}

func TestEvaluatorAppliesStationOverrides(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Stations = map[string]Thresholds{
		"ST-9": {Inventory: InventoryThresholds{MinCharged: 25}},
	}
	evaluator := NewEvaluator(cfg)
	window := telemetry.NewWindow([]telemetry.MetricSample{sampleAt(0, nil)})

	assert.False(t, evaluator.Evaluate("ST-1", window, now).Flags.Has(alerts.TypeLowInventory))
	assert.True(t, evaluator.Evaluate("ST-9", window, now).Flags.Has(alerts.TypeLowInventory))
}
