package application

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	alerts "swapstation-ops/internal/alerts/domain"
	"swapstation-ops/internal/audit"
	"swapstation-ops/internal/observability/metrics"
)

// Triggers recorded on evaluation metrics.
const (
	TriggerIngest  = "ingest"
	TriggerSweep   = "sweep"
	TriggerPreview = "preview"
)

// SweepError is a per-station failure inside a sweep.
type SweepError struct {
	StationID string `json:"stationId"`
	Error     string `json:"error"`
}

// StationSummary is the per-station line of a sweep.
type StationSummary struct {
	StationID     string          `json:"stationId"`
	AlertsCreated int             `json:"alertsCreated"`
	AlertsSkipped int             `json:"alertsSkipped"`
	MaxSeverity   alerts.Severity `json:"maxSeverity,omitempty"`
	Flags         map[string]bool `json:"flags"`
}

// SweepSummary reports one scheduled pass over active stations.
type SweepSummary struct {
	StartedAt         time.Time        `json:"startedAt"`
	StationsProcessed int              `json:"stationsProcessed"`
	AlertsCreated     int              `json:"alertsCreated"`
	AlertsSkipped     int              `json:"alertsSkipped"`
	Errors            []SweepError     `json:"errors"`
	Results           []StationSummary `json:"results"`
	RuleStats         map[string]int   `json:"ruleStats"`
	DurationMs        int64            `json:"durationMs"`
}

// Sweep evaluates every station with samples inside the active window. Stations
// are evaluated concurrently; one station failing does not stop the others.
func (s *Service) Sweep(ctx context.Context) (*SweepSummary, error) {
	if s == nil {
		return nil, errors.New("alerts: nil service")
	}
	started := time.Now()
	now := s.clock.Now().UTC()
	summary := &SweepSummary{
		StartedAt: now,
		Errors:    []SweepError{},
		Results:   []StationSummary{},
		RuleStats: map[string]int{},
	}
	for _, t := range alerts.AlertTypes {
		summary.RuleStats[string(t)] = 0
	}

	stations, err := s.samples.ActiveStations(ctx, now.Add(-s.activeWindow))
	if err != nil {
		err = fmt.Errorf("alerts: list active stations: %w", err)
		s.finishSweep(ctx, summary, started, err)
		return summary, err
	}

	var (
		mu sync.Mutex
		g  errgroup.Group
	)
	g.SetLimit(s.workers)
	for _, stationID := range stations {
		stationID := stationID
		g.Go(func() error {
			outcome, err := s.EvaluateStation(ctx, stationID, now, TriggerSweep)
			mu.Lock()
			defer mu.Unlock()
			summary.StationsProcessed++
			if outcome != nil {
				summary.AlertsCreated += len(outcome.Created)
				summary.AlertsSkipped += len(outcome.Skipped)
				for t, flagged := range outcome.Evaluation.Flags {
					if flagged {
						summary.RuleStats[string(t)]++
					}
				}
				summary.Results = append(summary.Results, StationSummary{
					StationID:     stationID,
					AlertsCreated: len(outcome.Created),
					AlertsSkipped: len(outcome.Skipped),
					MaxSeverity:   outcome.Evaluation.MaxSeverity,
					Flags:         outcome.Recommendation.Flags,
				})
			}
			if err != nil {
				summary.Errors = append(summary.Errors, SweepError{StationID: stationID, Error: err.Error()})
				s.log.WithError(err).WithField("station_id", stationID).Warn("sweep station failed")
			}
			return nil
		})
	}
	_ = g.Wait()

	sort.Slice(summary.Results, func(i, j int) bool {
		return summary.Results[i].StationID < summary.Results[j].StationID
	})
	sort.Slice(summary.Errors, func(i, j int) bool {
		return summary.Errors[i].StationID < summary.Errors[j].StationID
	})
	s.finishSweep(ctx, summary, started, nil)
	return summary, nil
}

func (s *Service) finishSweep(ctx context.Context, summary *SweepSummary, started time.Time, failure error) {
	elapsed := time.Since(started)
	summary.DurationMs = elapsed.Milliseconds()

	entry := audit.Entry{
		ActionType: audit.ActionRuleEngineExecution,
		Details: map[string]any{
			"stationsProcessed": summary.StationsProcessed,
			"alertsCreated":     summary.AlertsCreated,
			"alertsSkipped":     summary.AlertsSkipped,
			"errors":            len(summary.Errors),
			"ruleStats":         summary.RuleStats,
			"durationMs":        summary.DurationMs,
		},
	}
	result := metrics.ResultSuccess
	if failure != nil {
		result = metrics.ResultError
		entry.Status = audit.StatusFailed
		entry.ErrorMessage = failure.Error()
	}
	metrics.ObserveSweep(result, summary.StationsProcessed, elapsed)
	s.record(ctx, entry)

	s.log.WithFields(logrus.Fields{
		"stations":    summary.StationsProcessed,
		"created":     summary.AlertsCreated,
		"skipped":     summary.AlertsSkipped,
		"errors":      len(summary.Errors),
		"duration_ms": summary.DurationMs,
	}).Info("rule sweep finished")
}
