package application_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"swapstation-ops/internal/alerts/application"
	alerts "swapstation-ops/internal/alerts/domain"
	alertmemory "swapstation-ops/internal/alerts/infrastructure/memory"
	"swapstation-ops/internal/alerts/recommend"
	"swapstation-ops/internal/alerts/rules"
	"swapstation-ops/internal/audit"
	telemetry "swapstation-ops/internal/telemetry/domain"
	telemetrymemory "swapstation-ops/internal/telemetry/infrastructure/memory"
)

var now = time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC)

type fixedClock struct{ t time.Time }

func (c fixedClock) Now() time.Time { return c.t }

type captureRecorder struct {
	mu      sync.Mutex
	entries []audit.Entry
}

func (c *captureRecorder) Record(ctx context.Context, entry audit.Entry) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = append(c.entries, entry)
}

func (c *captureRecorder) byAction(action audit.ActionType) []audit.Entry {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []audit.Entry
	for _, e := range c.entries {
		if e.ActionType == action {
			out = append(out, e)
		}
	}
	return out
}

type capturePublisher struct {
	mu        sync.Mutex
	published []alerts.Alert
	err       error
}

func (p *capturePublisher) Publish(ctx context.Context, alert alerts.Alert) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return "", p.err
	}
	p.published = append(p.published, alert)
	return "msg-" + alert.ID, nil
}

type captureNotifier struct {
	mu     sync.Mutex
	events []application.AlertEvent
}

func (n *captureNotifier) Notify(ctx context.Context, event application.AlertEvent) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, event)
}

type fixture struct {
	service   *application.Service
	alerts    *alertmemory.AlertRepository
	samples   *telemetrymemory.SampleRepository
	recorder  *captureRecorder
	publisher *capturePublisher
	notifier  *captureNotifier
}

func sequentialIDs() func() string {
	var mu sync.Mutex
	n := 0
	return func() string {
		mu.Lock()
		defer mu.Unlock()
		n++
		return fmt.Sprintf("id-%d", n)
	}
}

func newFixture(t *testing.T, alertRepo application.AlertRepository, wrap func(application.WindowSource) application.WindowSource) *fixture {
	t.Helper()
	memAlerts := alertmemory.NewAlertRepository()
	if alertRepo == nil {
		alertRepo = memAlerts
	}
	memSamples := telemetrymemory.NewSampleRepository()
	var samples application.WindowSource = memSamples
	if wrap != nil {
		samples = wrap(memSamples)
	}
	f := &fixture{
		alerts:    memAlerts,
		samples:   memSamples,
		recorder:  &captureRecorder{},
		publisher: &capturePublisher{},
		notifier:  &captureNotifier{},
	}
	logger, _ := test.NewNullLogger()
	service, err := application.NewService(alertRepo, memAlerts, samples, rules.NewEvaluator(nil),
		application.WithClock(fixedClock{now}),
		application.WithIDGenerator(sequentialIDs()),
		application.WithAuditRecorder(f.recorder),
		application.WithPublisher(f.publisher),
		application.WithNotifier(f.notifier),
		application.WithLogger(logger),
	)
	require.NoError(t, err)
	f.service = service
	return f
}

func (f *fixture) save(t *testing.T, station string, ago time.Duration, mutate func(*telemetry.MetricSample)) {
	t.Helper()
	s := telemetry.MetricSample{
		StationID:        station,
		Timestamp:        now.Add(-ago),
		SwapRate:         40,
		QueueLength:      2,
		ChargerHealth:    telemetry.ChargerHealthy,
		ChargerUptimePct: 99,
		ChargedBatteries: 20,
		FaultPatterns:    []string{},
	}
	if mutate != nil {
		mutate(&s)
	}
	require.NoError(t, f.samples.Save(context.Background(), s))
}

func lowInventory(s *telemetry.MetricSample) { s.ChargedBatteries = 2 }

func congestedAndLow(queue float64) func(*telemetry.MetricSample) {
	return func(s *telemetry.MetricSample) {
		s.QueueLength = queue
		s.ChargedBatteries = 2
	}
}

func TestEvaluateStationCreatesAndDeduplicates(t *testing.T) {
	f := newFixture(t, nil, nil)
	f.save(t, "ST-1", time.Minute, lowInventory)
	f.save(t, "ST-1", 0, lowInventory)

	first, err := f.service.EvaluateStation(context.Background(), "ST-1", now, application.TriggerIngest)
	require.NoError(t, err)
	require.Len(t, first.Created, 1)
	created := first.Created[0]
	assert.Equal(t, alerts.TypeLowInventory, created.Type)
	assert.Equal(t, alerts.SeverityHigh, created.Severity)
	assert.Equal(t, alerts.StatusPending, created.Status)
	assert.Equal(t, "Transfer charged batteries to ST-1. Current inventory: 2 charged batteries (threshold: 8).", created.RecommendedAction)
	assert.Equal(t, "TRANSFER", created.Metadata["primaryAction"])
	assert.Contains(t, created.Metadata, "ruleEvaluation")
	assert.IsType(t, recommend.Recommendation{}, created.Metadata["recommendation"])
	assert.Equal(t, 2, created.Metadata["chargedBatteries"])

	second, err := f.service.EvaluateStation(context.Background(), "ST-1", now, application.TriggerIngest)
	require.NoError(t, err)
	assert.Empty(t, second.Created)
	assert.Equal(t, []alerts.AlertType{alerts.TypeLowInventory}, second.Skipped)

	count, err := f.alerts.CountPending(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	assert.Len(t, f.recorder.byAction(audit.ActionAlertCreated), 1)
	sent := f.recorder.byAction(audit.ActionNotificationSent)
	require.Len(t, sent, 1)
	assert.Equal(t, "msg-"+created.ID, sent[0].Details["messageId"])
	require.Len(t, f.notifier.events, 1)
	assert.Equal(t, application.EventCreated, f.notifier.events[0].Type)
}

func TestEvaluateStationCriticalSuppressesComponents(t *testing.T) {
	f := newFixture(t, nil, nil)
	f.save(t, "ST-2", time.Minute, congestedAndLow(15))
	f.save(t, "ST-2", 0, congestedAndLow(18))

	outcome, err := f.service.EvaluateStation(context.Background(), "ST-2", now, application.TriggerIngest)
	require.NoError(t, err)

	require.Len(t, outcome.Created, 1)
	assert.Equal(t, alerts.TypeCritical, outcome.Created[0].Type)
	assert.Equal(t, alerts.SeverityCritical, outcome.Created[0].Severity)
	assert.Equal(t, recommend.ActionCritical, outcome.Recommendation.PrimaryAction)
	assert.True(t, outcome.Evaluation.Flags.Has(alerts.TypeCongestion))
	assert.True(t, outcome.Evaluation.Flags.Has(alerts.TypeLowInventory))
}

func TestEvaluateStationNoSamples(t *testing.T) {
	f := newFixture(t, nil, nil)

	outcome, err := f.service.EvaluateStation(context.Background(), "ST-empty", now, application.TriggerIngest)
	require.NoError(t, err)
	assert.Empty(t, outcome.Created)
	assert.Equal(t, recommend.MonitorOnly, outcome.Recommendation.RecommendedAction())
	assert.Empty(t, f.recorder.entries)
}

func doorJam(s *telemetry.MetricSample) { s.FaultPatterns = []string{"door_jam"} }

func TestEvaluateStationMeasuresRuleWindowsFromClock(t *testing.T) {
	f := newFixture(t, nil, nil)
	backfill := 48 * time.Hour
	for i := 3; i >= 1; i-- {
		f.save(t, "ST-6", backfill+time.Duration(i)*time.Minute, doorJam)
	}

	stale, err := f.service.EvaluateStation(context.Background(), "ST-6", now.Add(-backfill), application.TriggerIngest)
	require.NoError(t, err)
	assert.Empty(t, stale.Created)
	assert.False(t, stale.Evaluation.Flags.Has(alerts.TypeHardware))

	for i := 3; i >= 1; i-- {
		f.save(t, "ST-6", time.Duration(i)*time.Minute, doorJam)
	}
	fresh, err := f.service.EvaluateStation(context.Background(), "ST-6", now, application.TriggerIngest)
	require.NoError(t, err)
	require.Len(t, fresh.Created, 1)
	assert.Equal(t, alerts.TypeHardware, fresh.Created[0].Type)
}

func TestPublisherFailureKeepsAlert(t *testing.T) {
	f := newFixture(t, nil, nil)
	f.publisher.err = errors.New("broker unreachable")
	f.save(t, "ST-3", 0, lowInventory)

	outcome, err := f.service.EvaluateStation(context.Background(), "ST-3", now, application.TriggerIngest)
	require.NoError(t, err)
	require.Len(t, outcome.Created, 1)

	stored, err := f.alerts.GetByID(context.Background(), outcome.Created[0].ID)
	require.NoError(t, err)
	require.NotNil(t, stored)

	failed := f.recorder.byAction(audit.ActionNotificationSent)
	require.Len(t, failed, 1)
	assert.Equal(t, audit.StatusFailed, failed[0].Status)
	assert.Equal(t, "broker unreachable", failed[0].ErrorMessage)
}

func createPending(t *testing.T, f *fixture, station string) alerts.Alert {
	t.Helper()
	f.save(t, station, 0, lowInventory)
	outcome, err := f.service.EvaluateStation(context.Background(), station, now, application.TriggerIngest)
	require.NoError(t, err)
	require.Len(t, outcome.Created, 1)
	return outcome.Created[0]
}

func TestDecideApproveThenConflict(t *testing.T) {
	f := newFixture(t, nil, nil)
	alert := createPending(t, f, "ST-4")

	result, err := f.service.Decide(context.Background(), application.DecisionCommand{
		AlertID: alert.ID, Decision: "approve", UserID: "op-1", Reason: "dispatching van",
	})
	require.NoError(t, err)
	assert.Equal(t, alerts.StatusExecuted, result.Alert.Status)
	assert.Equal(t, result.Decision.ID, result.Alert.DecisionID)
	assert.Equal(t, "op-1", result.Alert.ExecutedBy)
	require.NotNil(t, result.Alert.ExecutedAt)
	assert.Equal(t, alerts.DecisionApprove, result.Decision.Decision)
	assert.Equal(t, "PENDING", result.Decision.Metadata["previousStatus"])

	assert.Len(t, f.recorder.byAction(audit.ActionDecisionCreated), 1)
	approved := f.recorder.byAction(audit.ActionAlertApproved)
	require.Len(t, approved, 1)
	assert.Equal(t, "EXECUTED", approved[0].Details["newStatus"])

	_, err = f.service.Decide(context.Background(), application.DecisionCommand{
		AlertID: alert.ID, Decision: "REJECT", UserID: "op-2",
	})
	var conflict *alerts.ConflictError
	require.ErrorAs(t, err, &conflict)
	assert.Equal(t, "already EXECUTED", conflict.Error())
	assert.Len(t, f.alerts.Decisions(), 1)
}

func TestDecideReject(t *testing.T) {
	f := newFixture(t, nil, nil)
	alert := createPending(t, f, "ST-5")

	result, err := f.service.Decide(context.Background(), application.DecisionCommand{
		AlertID: alert.ID, Decision: "REJECT", UserID: "op-1", Reason: "sensor glitch",
	})
	require.NoError(t, err)
	assert.Equal(t, alerts.StatusDismissed, result.Alert.Status)
	assert.Equal(t, "sensor glitch", result.Alert.DismissalReason)
	assert.Len(t, f.recorder.byAction(audit.ActionAlertRejected), 1)
	assert.Equal(t, application.EventRejected, f.notifier.events[len(f.notifier.events)-1].Type)
}

func TestDecideNotFoundWritesNothing(t *testing.T) {
	f := newFixture(t, nil, nil)

	_, err := f.service.Decide(context.Background(), application.DecisionCommand{
		AlertID: "missing", Decision: "APPROVE", UserID: "op-1",
	})
	assert.ErrorIs(t, err, alerts.ErrNotFound)
	assert.Empty(t, f.alerts.Decisions())
	assert.Empty(t, f.recorder.byAction(audit.ActionAlertDecisionFailed))
}

func TestDecideValidation(t *testing.T) {
	f := newFixture(t, nil, nil)

	_, err := f.service.Decide(context.Background(), application.DecisionCommand{Decision: "maybe"})
	var validation *alerts.ValidationError
	require.ErrorAs(t, err, &validation)
	assert.Equal(t, []string{
		"alertId is required and must be a string",
		`decision is required and must be "APPROVE" or "REJECT"`,
	}, validation.Details)
}

type failingCommit struct {
	*alertmemory.AlertRepository
}

func (failingCommit) CommitDecision(ctx context.Context, decision alerts.Decision, update alerts.StatusUpdate) error {
	return errors.New("connection reset")
}

func TestDecideStoreFailureIsAudited(t *testing.T) {
	repo := failingCommit{alertmemory.NewAlertRepository()}
	f := newFixture(t, repo, nil)
	alert := alerts.NewAlert("a-9", alerts.CreationRequest{StationID: "ST-9", Type: alerts.TypeHardware, Severity: alerts.SeverityMedium}, now)
	require.NoError(t, repo.Create(context.Background(), alert))

	_, err := f.service.Decide(context.Background(), application.DecisionCommand{
		AlertID: "a-9", Decision: "APPROVE", UserID: "op-1",
	})
	require.Error(t, err)
	assert.NotErrorIs(t, err, alerts.ErrConflict)

	failed := f.recorder.byAction(audit.ActionAlertDecisionFailed)
	require.Len(t, failed, 1)
	assert.Equal(t, audit.StatusFailed, failed[0].Status)
	assert.Equal(t, "connection reset", failed[0].ErrorMessage)
	assert.Empty(t, f.recorder.byAction(audit.ActionDecisionCreated))
}

func TestListAlertsWithDecisions(t *testing.T) {
	f := newFixture(t, nil, nil)
	first := createPending(t, f, "ST-6")
	createPending(t, f, "ST-7")
	_, err := f.service.Decide(context.Background(), application.DecisionCommand{
		AlertID: first.ID, Decision: "APPROVE", UserID: "op-1",
	})
	require.NoError(t, err)

	page, err := f.service.ListAlerts(context.Background(), application.ListFilter{})
	require.NoError(t, err)
	assert.Equal(t, 2, page.Total)
	assert.Equal(t, 50, page.Limit)
	require.Len(t, page.Alerts, 2)

	var decided application.AlertView
	for _, v := range page.Alerts {
		if v.ID == first.ID {
			decided = v
		}
	}
	require.Len(t, decided.Decisions, 1)
	assert.Equal(t, "op-1", decided.Decisions[0].UserID)

	pending, err := f.service.ListAlerts(context.Background(), application.ListFilter{Status: alerts.StatusPending, Limit: 1})
	require.NoError(t, err)
	assert.Equal(t, 1, pending.Total)
	assert.Empty(t, pending.Alerts[0].Decisions)

	byUser, err := f.service.DecisionsByUser(context.Background(), "op-1", 0)
	require.NoError(t, err)
	assert.Len(t, byUser, 1)
}

func TestPreviewCreatesNothing(t *testing.T) {
	f := newFixture(t, nil, nil)
	f.save(t, "ST-8", 0, lowInventory)

	outcome, err := f.service.Preview(context.Background(), "ST-8")
	require.NoError(t, err)
	assert.True(t, outcome.Evaluation.Flags.Has(alerts.TypeLowInventory))
	assert.Empty(t, outcome.Created)

	count, err := f.alerts.CountPending(context.Background())
	require.NoError(t, err)
	assert.Zero(t, count)
}

func TestNewServiceRequiresDependencies(t *testing.T) {
	repo := alertmemory.NewAlertRepository()
	samples := telemetrymemory.NewSampleRepository()

	_, err := application.NewService(nil, repo, samples, rules.NewEvaluator(nil))
	assert.Error(t, err)
	_, err = application.NewService(repo, repo, nil, rules.NewEvaluator(nil))
	assert.Error(t, err)
	_, err = application.NewService(repo, repo, samples, nil)
	assert.Error(t, err)
}

type brokenStation struct {
	application.WindowSource
	station string
}

func (b brokenStation) Window(ctx context.Context, stationID string, from, to time.Time) (telemetry.MetricWindow, error) {
	if stationID == b.station {
		return nil, errors.New("read timeout")
	}
	return b.WindowSource.Window(ctx, stationID, from, to)
}

func TestSweepContinuesPastStationFailure(t *testing.T) {
	f := newFixture(t, nil, func(src application.WindowSource) application.WindowSource {
		return brokenStation{WindowSource: src, station: "ST-B"}
	})
	f.save(t, "ST-A", time.Minute, lowInventory)
	f.save(t, "ST-B", time.Minute, lowInventory)
	f.save(t, "ST-C", 2*time.Minute, nil)
	f.save(t, "ST-old", 2*time.Hour, lowInventory)

	summary, err := f.service.Sweep(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 3, summary.StationsProcessed)
	assert.Equal(t, 1, summary.AlertsCreated)
	require.Len(t, summary.Errors, 1)
	assert.Equal(t, "ST-B", summary.Errors[0].StationID)
	require.Len(t, summary.Results, 2)
	assert.Equal(t, "ST-A", summary.Results[0].StationID)
	assert.Equal(t, "ST-C", summary.Results[1].StationID)
	assert.Equal(t, 1, summary.RuleStats["LOW_INVENTORY"])
	assert.Equal(t, now, summary.StartedAt)

	runs := f.recorder.byAction(audit.ActionRuleEngineExecution)
	require.Len(t, runs, 1)
	assert.Equal(t, 3, runs[0].Details["stationsProcessed"])
	assert.Equal(t, 1, runs[0].Details["errors"])

	again, err := f.service.Sweep(context.Background())
	require.NoError(t, err)
	assert.Zero(t, again.AlertsCreated)
	assert.Equal(t, 1, again.AlertsSkipped)
}
