package application_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	alertapp "swapstation-ops/internal/alerts/application"
	alerts "swapstation-ops/internal/alerts/domain"
	alertmemory "swapstation-ops/internal/alerts/infrastructure/memory"
	"swapstation-ops/internal/alerts/rules"
	"swapstation-ops/internal/audit"
	"swapstation-ops/internal/eventing"
	"swapstation-ops/internal/telemetry/application"
	"swapstation-ops/internal/telemetry/application/events"
	telemetry "swapstation-ops/internal/telemetry/domain"
	"swapstation-ops/internal/telemetry/infrastructure/memory"
)

var ts = time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC)

type recorder struct {
	mu      sync.Mutex
	entries []audit.Entry
}

func (r *recorder) Record(_ context.Context, entry audit.Entry) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = append(r.entries, entry)
}

func (r *recorder) actions(action audit.ActionType) []audit.Entry {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []audit.Entry
	for _, e := range r.entries {
		if e.ActionType == action {
			out = append(out, e)
		}
	}
	return out
}

type stubEvaluator struct {
	calls   []string
	outcome *alertapp.StationOutcome
	err     error
}

func (s *stubEvaluator) EvaluateStation(_ context.Context, stationID string, at time.Time, trigger string) (*alertapp.StationOutcome, error) {
	s.calls = append(s.calls, stationID+"@"+at.Format(time.RFC3339)+"/"+trigger)
	return s.outcome, s.err
}

type failingSamples struct {
	*memory.SampleRepository
}

func (failingSamples) Save(context.Context, telemetry.MetricSample) error {
	return errors.New("disk full")
}

func sample(station string) telemetry.MetricSample {
	return telemetry.MetricSample{
		StationID:        station,
		Timestamp:        ts,
		SwapRate:         40,
		QueueLength:      2,
		ChargerHealth:    telemetry.ChargerHealthy,
		ChargerUptimePct: 99,
		ChargedBatteries: 20,
		FaultPatterns:    []string{},
	}
}

func TestIngestStoresAuditsAndEvaluates(t *testing.T) {
	samples := memory.NewSampleRepository()
	evaluator := &stubEvaluator{outcome: &alertapp.StationOutcome{StationID: "ST-1"}}
	rec := &recorder{}
	bus := eventing.NewInMemoryBus()
	var seen []events.MetricIngested
	eventing.On(bus, func(_ context.Context, e events.MetricIngested) error {
		seen = append(seen, e)
		return nil
	})
	logger, _ := test.NewNullLogger()

	svc, err := application.NewIngestService(samples, evaluator,
		application.WithAudit(rec), application.WithEventBus(bus), application.WithLogger(logger))
	require.NoError(t, err)

	s := sample("ST-1")
	s.ErrorLogs = []string{"E1", "E2"}
	s.FaultPatterns = nil
	result, err := svc.Ingest(context.Background(), s)
	require.NoError(t, err)
	assert.Empty(t, result.Alerts)
	require.NotNil(t, result.Recommendation)

	stored, err := samples.Recent(context.Background(), "ST-1", 10)
	require.NoError(t, err)
	require.Len(t, stored, 1)

	assert.Equal(t, []string{"ST-1@2026-03-02T12:00:00Z/ingest"}, evaluator.calls)

	ingested := rec.actions(audit.ActionMetricIngested)
	require.Len(t, ingested, 1)
	assert.Equal(t, audit.SystemUser, ingested[0].UserID)
	assert.Equal(t, "ST-1_1772452800000", ingested[0].Details["metricId"])

	require.Len(t, seen, 1)
	assert.Equal(t, "ST-1", seen[0].StationID)
	assert.Equal(t, 2, seen[0].FaultCount)
}

func TestIngestDefaultsTimestamp(t *testing.T) {
	samples := memory.NewSampleRepository()
	svc, err := application.NewIngestService(samples, &stubEvaluator{},
		application.WithNow(func() time.Time { return ts }))
	require.NoError(t, err)

	s := sample("ST-2")
	s.Timestamp = time.Time{}
	result, err := svc.Ingest(context.Background(), s)
	require.NoError(t, err)
	assert.True(t, result.Sample.Timestamp.Equal(ts))
	assert.Nil(t, result.Recommendation)
}

func TestIngestEvaluationFailureDoesNotFail(t *testing.T) {
	samples := memory.NewSampleRepository()
	logger, hook := test.NewNullLogger()
	svc, err := application.NewIngestService(samples, &stubEvaluator{err: errors.New("boom")},
		application.WithLogger(logger))
	require.NoError(t, err)

	result, err := svc.Ingest(context.Background(), sample("ST-3"))
	require.NoError(t, err)
	assert.Empty(t, result.Alerts)
	assert.Nil(t, result.Recommendation)
	require.NotNil(t, hook.LastEntry())
	assert.Equal(t, "rule evaluation after ingest failed", hook.LastEntry().Message)
}

func TestIngestStoreFailure(t *testing.T) {
	evaluator := &stubEvaluator{}
	rec := &recorder{}
	svc, err := application.NewIngestService(failingSamples{memory.NewSampleRepository()}, evaluator,
		application.WithAudit(rec))
	require.NoError(t, err)

	_, err = svc.Ingest(context.Background(), sample("ST-4"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "disk full")
	assert.Empty(t, evaluator.calls)

	failed := rec.actions(audit.ActionMetricIngested)
	require.Len(t, failed, 1)
	assert.Equal(t, audit.StatusFailed, failed[0].Status)
	assert.Equal(t, "disk full", failed[0].ErrorMessage)
}

func TestIngestRaisesAlertsThroughService(t *testing.T) {
	samples := memory.NewSampleRepository()
	repo := alertmemory.NewAlertRepository()
	logger, _ := test.NewNullLogger()
	alertsSvc, err := alertapp.NewService(repo, repo, samples, rules.NewEvaluator(nil), alertapp.WithLogger(logger))
	require.NoError(t, err)
	svc, err := application.NewIngestService(samples, alertsSvc, application.WithLogger(logger))
	require.NoError(t, err)

	s := sample("ST-5")
	s.ChargedBatteries = 2
	result, err := svc.Ingest(context.Background(), s)
	require.NoError(t, err)
	require.Len(t, result.Alerts, 1)
	assert.Equal(t, alerts.TypeLowInventory, result.Alerts[0].Type)

	again, err := svc.Ingest(context.Background(), s)
	require.NoError(t, err)
	assert.Empty(t, again.Alerts)
}

type clockAt time.Time

func (c clockAt) Now() time.Time { return time.Time(c) }

func TestIngestBackfilledFaultsRaiseNoAlerts(t *testing.T) {
	samples := memory.NewSampleRepository()
	repo := alertmemory.NewAlertRepository()
	logger, _ := test.NewNullLogger()
	wallClock := ts.Add(48 * time.Hour)
	alertsSvc, err := alertapp.NewService(repo, repo, samples, rules.NewEvaluator(nil),
		alertapp.WithLogger(logger),
		alertapp.WithClock(clockAt(wallClock)))
	require.NoError(t, err)
	svc, err := application.NewIngestService(samples, alertsSvc, application.WithLogger(logger))
	require.NoError(t, err)

	var created []alerts.AlertType
	for i := 0; i < 3; i++ {
		s := sample("ST-6")
		s.Timestamp = ts.Add(time.Duration(i) * time.Minute)
		s.FaultPatterns = []string{"door_jam"}
		result, err := svc.Ingest(context.Background(), s)
		require.NoError(t, err)
		for _, a := range result.Alerts {
			created = append(created, a.Type)
		}
	}
	assert.Empty(t, created)

	stored, err := samples.Recent(context.Background(), "ST-6", 10)
	require.NoError(t, err)
	assert.Len(t, stored, 3)
}

func TestNewIngestServiceRequiresDependencies(t *testing.T) {
	_, err := application.NewIngestService(nil, &stubEvaluator{})
	assert.Error(t, err)
	_, err = application.NewIngestService(memory.NewSampleRepository(), nil)
	assert.Error(t, err)
}
