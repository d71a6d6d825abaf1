// Package application stores station samples and hands them to the alert pipeline.
package application

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	alertapp "swapstation-ops/internal/alerts/application"
	alerts "swapstation-ops/internal/alerts/domain"
	"swapstation-ops/internal/alerts/recommend"
	"swapstation-ops/internal/audit"
	"swapstation-ops/internal/eventing"
	"swapstation-ops/internal/observability/metrics"
	"swapstation-ops/internal/telemetry/application/events"
	telemetry "swapstation-ops/internal/telemetry/domain"
)

// StationEvaluator runs the alert pipeline for a station.
type StationEvaluator interface {
	EvaluateStation(ctx context.Context, stationID string, at time.Time, trigger string) (*alertapp.StationOutcome, error)
}

// AuditRecorder records audit entries without blocking.
type AuditRecorder interface {
	Record(ctx context.Context, entry audit.Entry)
}

// IngestService persists samples and evaluates the station right after.
type IngestService struct {
	samples   telemetry.SampleRepository
	evaluator StationEvaluator
	bus       eventing.EventBus
	audit     AuditRecorder
	log       logrus.FieldLogger
	now       func() time.Time
}

// IngestOption configures the service.
type IngestOption func(*IngestService)

// WithEventBus publishes MetricIngested after each stored sample.
func WithEventBus(bus eventing.EventBus) IngestOption {
	return func(s *IngestService) {
		s.bus = bus
	}
}

// WithAudit assigns the audit recorder.
func WithAudit(recorder AuditRecorder) IngestOption {
	return func(s *IngestService) {
		s.audit = recorder
	}
}

// WithLogger assigns the logger.
func WithLogger(log logrus.FieldLogger) IngestOption {
	return func(s *IngestService) {
		if log != nil {
			s.log = log
		}
	}
}

// WithNow overrides the clock used for defaulted timestamps.
func WithNow(now func() time.Time) IngestOption {
	return func(s *IngestService) {
		if now != nil {
			s.now = now
		}
	}
}

// NewIngestService constructs an ingest service.
func NewIngestService(samples telemetry.SampleRepository, evaluator StationEvaluator, opts ...IngestOption) (*IngestService, error) {
	if samples == nil {
		return nil, errors.New("ingest: nil sample repository")
	}
	if evaluator == nil {
		return nil, errors.New("ingest: nil evaluator")
	}
	s := &IngestService{
		samples:   samples,
		evaluator: evaluator,
		log:       logrus.StandardLogger(),
		now:       func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(s)
	}
	s.log = s.log.WithField("component", "ingest")
	return s, nil
}

// IngestResult is a stored sample and the alerts raised for it.
type IngestResult struct {
	Sample telemetry.MetricSample
	Alerts []alerts.Alert
	// Recommendation is nil when evaluation failed.
	Recommendation *recommend.Recommendation
}

// Now returns the service clock.
func (s *IngestService) Now() time.Time {
	return s.now()
}

// Ingest stores the sample, then evaluates its station over the hour ending at
// the sample timestamp. Evaluation failures are logged and never fail ingestion.
func (s *IngestService) Ingest(ctx context.Context, sample telemetry.MetricSample) (*IngestResult, error) {
	start := time.Now()
	result := "success"
	defer func() { metrics.ObserveIngest(result, time.Since(start)) }()

	if sample.Timestamp.IsZero() {
		sample.Timestamp = s.now()
	}
	sample.Timestamp = sample.Timestamp.UTC()

	if err := s.samples.Save(ctx, sample); err != nil {
		result = "error"
		metrics.IncIngestError("store")
		s.record(ctx, audit.Entry{
			ActionType:   audit.ActionMetricIngested,
			Status:       audit.StatusFailed,
			UserID:       audit.SystemUser,
			StationID:    sample.StationID,
			ErrorMessage: err.Error(),
		})
		return nil, fmt.Errorf("ingest: save sample %s: %w", sample.StationID, err)
	}
	s.record(ctx, audit.Entry{
		ActionType: audit.ActionMetricIngested,
		UserID:     audit.SystemUser,
		StationID:  sample.StationID,
		Details:    map[string]any{"metricId": MetricID(sample)},
	})
	s.publish(ctx, sample)

	out := &IngestResult{Sample: sample, Alerts: []alerts.Alert{}}
	outcome, err := s.evaluator.EvaluateStation(ctx, sample.StationID, sample.Timestamp, alertapp.TriggerIngest)
	if err != nil {
		metrics.IncIngestError("evaluate")
		s.log.WithError(err).WithField("station_id", sample.StationID).Error("rule evaluation after ingest failed")
	}
	if outcome != nil {
		out.Alerts = append(out.Alerts, outcome.Created...)
		if err == nil {
			rec := outcome.Recommendation
			out.Recommendation = &rec
		}
	}
	return out, nil
}

// MetricID identifies a stored sample as <stationId>_<epoch ms>.
func MetricID(sample telemetry.MetricSample) string {
	return fmt.Sprintf("%s_%d", sample.StationID, sample.Timestamp.UnixMilli())
}

func (s *IngestService) publish(ctx context.Context, sample telemetry.MetricSample) {
	if s.bus == nil {
		return
	}
	event := events.MetricIngested{
		EventID:       uuid.NewString(),
		StationID:     sample.StationID,
		Timestamp:     sample.Timestamp,
		SwapRate:      sample.SwapRate,
		QueueLength:   sample.QueueLength,
		ChargerHealth: string(sample.ChargerHealth),
		ChargerUptime: sample.ChargerUptimePct,
		Charged:       sample.ChargedBatteries,
		Uncharged:     sample.UnchargedBatteries,
		DemandSurge:   sample.DemandSurge,
		FaultCount:    len(sample.Faults()),
		OccurredAt:    s.now(),
	}
	if err := s.bus.Publish(ctx, event); err != nil {
		s.log.WithError(err).WithField("station_id", sample.StationID).Warn("metric ingested subscribers failed")
	}
}

func (s *IngestService) record(ctx context.Context, entry audit.Entry) {
	if s.audit == nil {
		return
	}
	if entry.Timestamp.IsZero() {
		entry.Timestamp = s.now()
	}
	s.audit.Record(ctx, entry)
}

// Recent returns up to limit newest samples for a station.
func (s *IngestService) Recent(ctx context.Context, stationID string, limit int) (telemetry.MetricWindow, error) {
	if stationID == "" {
		return nil, errors.New("ingest: station id required")
	}
	return s.samples.Recent(ctx, stationID, limit)
}

// Window returns a station's samples in [from, to] newest first.
func (s *IngestService) Window(ctx context.Context, stationID string, from, to time.Time) (telemetry.MetricWindow, error) {
	if stationID == "" {
		return nil, errors.New("ingest: station id required")
	}
	return s.samples.Window(ctx, stationID, from, to)
}
