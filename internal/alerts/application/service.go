package application

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	alerts "swapstation-ops/internal/alerts/domain"
	"swapstation-ops/internal/alerts/engine"
	"swapstation-ops/internal/alerts/recommend"
	"swapstation-ops/internal/alerts/rules"
	"swapstation-ops/internal/audit"
	"swapstation-ops/internal/observability/metrics"
)

const (
	defaultLookback     = 60 * time.Minute
	defaultActiveWindow = 5 * time.Minute
	defaultWorkers      = 4
	defaultListLimit    = 50
)

// Service runs the alert pipeline and the decision lifecycle.
type Service struct {
	alerts    AlertRepository
	decisions DecisionRepository
	samples   WindowSource
	evaluator Evaluator
	gate      *engine.Gate

	publisher AlertPublisher
	notifier  AlertNotifier
	audit     AuditRecorder
	clock     Clock
	newID     func() string
	log       logrus.FieldLogger

	lookback     time.Duration
	activeWindow time.Duration
	workers      int
}

// ServiceOption customizes the alert service.
type ServiceOption func(*Service)

// WithPublisher assigns the topic publisher for created alerts.
func WithPublisher(publisher AlertPublisher) ServiceOption {
	return func(s *Service) {
		s.publisher = publisher
	}
}

// WithNotifier assigns a live notifier.
func WithNotifier(notifier AlertNotifier) ServiceOption {
	return func(s *Service) {
		s.notifier = notifier
	}
}

// WithAuditRecorder assigns the audit recorder.
func WithAuditRecorder(recorder AuditRecorder) ServiceOption {
	return func(s *Service) {
		s.audit = recorder
	}
}

// WithClock assigns a clock.
func WithClock(clock Clock) ServiceOption {
	return func(s *Service) {
		if clock != nil {
			s.clock = clock
		}
	}
}

// WithIDGenerator overrides alert and decision id generation.
func WithIDGenerator(fn func() string) ServiceOption {
	return func(s *Service) {
		if fn != nil {
			s.newID = fn
		}
	}
}

// WithLogger assigns the logger.
func WithLogger(log logrus.FieldLogger) ServiceOption {
	return func(s *Service) {
		if log != nil {
			s.log = log
		}
	}
}

// WithSweep configures sweep windows and worker count.
func WithSweep(lookback, activeWindow time.Duration, workers int) ServiceOption {
	return func(s *Service) {
		if lookback > 0 {
			s.lookback = lookback
		}
		if activeWindow > 0 {
			s.activeWindow = activeWindow
		}
		if workers > 0 {
			s.workers = workers
		}
	}
}

// NewService constructs an alert service.
func NewService(alertRepo AlertRepository, decisionRepo DecisionRepository, samples WindowSource, evaluator Evaluator, opts ...ServiceOption) (*Service, error) {
	if alertRepo == nil || decisionRepo == nil {
		return nil, errors.New("alerts: nil repository")
	}
	if samples == nil {
		return nil, errors.New("alerts: nil window source")
	}
	if evaluator == nil {
		return nil, errors.New("alerts: nil evaluator")
	}
	gate, err := engine.NewGate(alertRepo)
	if err != nil {
		return nil, err
	}
	service := &Service{
		alerts:       alertRepo,
		decisions:    decisionRepo,
		samples:      samples,
		evaluator:    evaluator,
		gate:         gate,
		clock:        systemClock{},
		newID:        uuid.NewString,
		log:          logrus.StandardLogger(),
		lookback:     defaultLookback,
		activeWindow: defaultActiveWindow,
		workers:      defaultWorkers,
	}
	for _, opt := range opts {
		opt(service)
	}
	service.log = service.log.WithField("component", "alerts")
	return service, nil
}

// StationOutcome is the result of one evaluation pass with its side effects.
type StationOutcome struct {
	StationID      string                   `json:"stationId"`
	Evaluation     rules.Result             `json:"evaluation"`
	Recommendation recommend.Recommendation `json:"recommendation"`
	Created        []alerts.Alert           `json:"alertsCreated"`
	Skipped        []alerts.AlertType       `json:"alertsSkipped"`
}

// EvaluateStation loads the lookback window ending at `at` and evaluates it
// against the service clock, then creates an alert for every classified
// candidate that has no PENDING alert of its type. Trailing rule windows are
// measured from the clock, so samples older than a rule's window never count.
// Creation stops at the first store failure; alerts created before it remain.
func (s *Service) EvaluateStation(ctx context.Context, stationID string, at time.Time, trigger string) (*StationOutcome, error) {
	if s == nil {
		return nil, errors.New("alerts: nil service")
	}
	if stationID == "" {
		return nil, errors.New("alerts: station id required")
	}
	start := time.Now()
	defer func() { metrics.ObserveEvaluation(trigger, time.Since(start)) }()

	outcome, err := s.evaluate(ctx, stationID, at)
	if err != nil {
		return nil, err
	}
	for _, triggered := range outcome.Evaluation.Triggered {
		metrics.IncRuleTriggered(string(triggered.RuleID))
	}

	for _, candidate := range engine.Classify(outcome.Evaluation) {
		admit, err := s.gate.Admit(ctx, stationID, candidate)
		if err != nil {
			return outcome, fmt.Errorf("alerts: pending check %s/%s: %w", stationID, candidate.Type, err)
		}
		if !admit {
			outcome.Skipped = append(outcome.Skipped, candidate.Type)
			metrics.IncAlertSkipped(string(candidate.Type))
			s.log.WithFields(logrus.Fields{
				"station_id": stationID,
				"alert_type": candidate.Type,
			}).Debug("pending alert exists, candidate skipped")
			continue
		}
		alert, err := s.create(ctx, outcome, candidate)
		if err != nil {
			return outcome, err
		}
		outcome.Created = append(outcome.Created, alert)
	}
	return outcome, nil
}

// Preview evaluates a station over the lookback window ending now without creating alerts.
func (s *Service) Preview(ctx context.Context, stationID string) (*StationOutcome, error) {
	if s == nil {
		return nil, errors.New("alerts: nil service")
	}
	if stationID == "" {
		return nil, errors.New("alerts: station id required")
	}
	start := time.Now()
	defer func() { metrics.ObserveEvaluation(TriggerPreview, time.Since(start)) }()
	return s.evaluate(ctx, stationID, s.clock.Now())
}

func (s *Service) evaluate(ctx context.Context, stationID string, at time.Time) (*StationOutcome, error) {
	if at.IsZero() {
		at = s.clock.Now()
	}
	at = at.UTC()
	window, err := s.samples.Window(ctx, stationID, at.Add(-s.lookback), at)
	if err != nil {
		return nil, fmt.Errorf("alerts: load window %s: %w", stationID, err)
	}
	result := s.evaluator.Evaluate(stationID, window, s.clock.Now().UTC())
	return &StationOutcome{
		StationID:      stationID,
		Evaluation:     result,
		Recommendation: recommend.Compose(stationID, result),
		Created:        []alerts.Alert{},
		Skipped:        []alerts.AlertType{},
	}, nil
}

func (s *Service) create(ctx context.Context, outcome *StationOutcome, candidate engine.Candidate) (alerts.Alert, error) {
	rec := outcome.Recommendation
	meta := candidate.Outcome.MetadataFields()
	meta["ruleEvaluation"] = outcome.Evaluation.Snapshot()
	meta["recommendation"] = rec
	meta["primaryAction"] = string(rec.PrimaryAction)

	alert := alerts.NewAlert(s.newID(), alerts.CreationRequest{
		StationID:         outcome.StationID,
		Type:              candidate.Type,
		Severity:          candidate.Outcome.Severity,
		Title:             candidate.Outcome.Title,
		Description:       candidate.Outcome.Description,
		RecommendedAction: rec.RecommendedAction(),
		Metadata:          meta,
	}, s.clock.Now())

	if err := s.alerts.Create(ctx, alert); err != nil {
		return alerts.Alert{}, fmt.Errorf("alerts: create %s/%s: %w", alert.StationID, alert.Type, err)
	}
	metrics.IncAlertCreated(string(alert.Type), string(alert.Severity))
	s.log.WithFields(logrus.Fields{
		"alert_id":   alert.ID,
		"station_id": alert.StationID,
		"alert_type": alert.Type,
		"severity":   alert.Severity,
	}).Info("alert created")

	s.record(ctx, audit.Entry{
		ActionType: audit.ActionAlertCreated,
		UserID:     audit.SystemUser,
		AlertID:    alert.ID,
		StationID:  alert.StationID,
		Details: map[string]any{
			"alertType": string(alert.Type),
			"severity":  string(alert.Severity),
			"flags":     rec.Flags,
		},
	})
	s.publish(ctx, alert)
	s.notify(ctx, EventCreated, alert)
	return alert, nil
}

func (s *Service) publish(ctx context.Context, alert alerts.Alert) {
	if s.publisher == nil {
		return
	}
	messageID, err := s.publisher.Publish(ctx, alert)
	if err != nil {
		s.log.WithError(err).WithField("alert_id", alert.ID).Warn("alert notification failed")
		s.record(ctx, audit.Entry{
			ActionType:   audit.ActionNotificationSent,
			Status:       audit.StatusFailed,
			AlertID:      alert.ID,
			StationID:    alert.StationID,
			Details:      map[string]any{"alertType": string(alert.Type)},
			ErrorMessage: err.Error(),
		})
		return
	}
	s.record(ctx, audit.Entry{
		ActionType: audit.ActionNotificationSent,
		AlertID:    alert.ID,
		StationID:  alert.StationID,
		Details: map[string]any{
			"messageId": messageID,
			"alertType": string(alert.Type),
			"severity":  string(alert.Severity),
		},
	})
}

// DecisionCommand is an operator verdict as received.
type DecisionCommand struct {
	AlertID  string
	Decision string
	UserID   string
	Reason   string
}

// Validate returns a ValidationError listing every invalid field.
func (c DecisionCommand) Validate() error {
	var details []string
	if strings.TrimSpace(c.AlertID) == "" {
		details = append(details, "alertId is required and must be a string")
	}
	if _, ok := alerts.ParseDecision(c.Decision); !ok {
		details = append(details, `decision is required and must be "APPROVE" or "REJECT"`)
	}
	if len(details) > 0 {
		return &alerts.ValidationError{Details: details}
	}
	return nil
}

// DecisionResult is the updated alert with the stored decision.
type DecisionResult struct {
	Alert    alerts.Alert    `json:"alert"`
	Decision alerts.Decision `json:"decision"`
}

// Decide records an operator decision on a PENDING alert.
func (s *Service) Decide(ctx context.Context, cmd DecisionCommand) (*DecisionResult, error) {
	if s == nil {
		return nil, errors.New("alerts: nil service")
	}
	if err := cmd.Validate(); err != nil {
		return nil, err
	}
	kind, _ := alerts.ParseDecision(cmd.Decision)
	alertID := strings.TrimSpace(cmd.AlertID)

	alert, err := s.alerts.GetByID(ctx, alertID)
	if err != nil {
		return nil, s.decisionFailed(ctx, alertID, kind, cmd.UserID, err)
	}
	if alert == nil {
		return nil, alerts.ErrNotFound
	}

	decision, update, err := alerts.Decide(*alert, kind, s.newID(), cmd.UserID, cmd.Reason, s.clock.Now())
	if err != nil {
		metrics.IncDecision(string(kind), "conflict")
		return nil, err
	}
	if err := s.alerts.CommitDecision(ctx, decision, update); err != nil {
		if errors.Is(err, alerts.ErrConflict) {
			metrics.IncDecision(string(kind), "conflict")
			return nil, err
		}
		return nil, s.decisionFailed(ctx, alertID, kind, cmd.UserID, err)
	}
	alert.Apply(update)
	metrics.IncDecision(string(kind), metrics.ResultSuccess)

	s.record(ctx, audit.Entry{
		ActionType: audit.ActionDecisionCreated,
		UserID:     decision.UserID,
		AlertID:    alert.ID,
		DecisionID: decision.ID,
		StationID:  alert.StationID,
		Details: map[string]any{
			"decision": string(decision.Decision),
			"status":   string(decision.Status),
			"reason":   decision.Reason,
		},
	})
	action, event := audit.ActionAlertApproved, EventApproved
	if kind == alerts.DecisionReject {
		action, event = audit.ActionAlertRejected, EventRejected
	}
	s.record(ctx, audit.Entry{
		ActionType: action,
		UserID:     decision.UserID,
		AlertID:    alert.ID,
		DecisionID: decision.ID,
		StationID:  alert.StationID,
		Details: map[string]any{
			"decision":  string(decision.Decision),
			"newStatus": string(alert.Status),
			"reason":    decision.Reason,
		},
	})
	s.log.WithFields(logrus.Fields{
		"alert_id":    alert.ID,
		"decision_id": decision.ID,
		"decision":    decision.Decision,
		"user_id":     decision.UserID,
	}).Info("alert decision recorded")
	s.notify(ctx, event, *alert)
	return &DecisionResult{Alert: *alert, Decision: decision}, nil
}

func (s *Service) decisionFailed(ctx context.Context, alertID string, kind alerts.DecisionKind, userID string, cause error) error {
	metrics.IncDecision(string(kind), metrics.ResultError)
	s.log.WithError(cause).WithField("alert_id", alertID).Error("alert decision failed")
	s.record(ctx, audit.Entry{
		ActionType:   audit.ActionAlertDecisionFailed,
		Status:       audit.StatusFailed,
		UserID:       userID,
		AlertID:      alertID,
		Details:      map[string]any{"decision": string(kind)},
		ErrorMessage: cause.Error(),
	})
	return fmt.Errorf("alerts: decide %s: %w", alertID, cause)
}

// DecisionSummary is the decision view embedded in alert listings.
type DecisionSummary struct {
	DecisionID string              `json:"decisionId"`
	Decision   alerts.DecisionKind `json:"decision"`
	Status     alerts.Status       `json:"status"`
	UserID     string              `json:"userId"`
	Timestamp  time.Time           `json:"timestamp"`
	Reason     string              `json:"reason,omitempty"`
}

// AlertView is an alert with its decision history.
type AlertView struct {
	alerts.Alert
	Decisions []DecisionSummary `json:"decisions"`
}

// AlertPage is one listing result.
type AlertPage struct {
	Alerts []AlertView
	Total  int
	Limit  int
}

// ListAlerts returns alerts newest first, each with its decisions newest first.
func (s *Service) ListAlerts(ctx context.Context, filter ListFilter) (*AlertPage, error) {
	if s == nil {
		return nil, errors.New("alerts: nil service")
	}
	if filter.Limit <= 0 {
		filter.Limit = defaultListLimit
	}
	items, total, err := s.alerts.List(ctx, filter)
	if err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(items))
	for _, a := range items {
		ids = append(ids, a.ID)
	}
	byAlert := map[string][]alerts.Decision{}
	if len(ids) > 0 {
		if byAlert, err = s.decisions.ListByAlerts(ctx, ids); err != nil {
			return nil, err
		}
	}
	views := make([]AlertView, 0, len(items))
	for _, a := range items {
		summaries := make([]DecisionSummary, 0, len(byAlert[a.ID]))
		for _, d := range byAlert[a.ID] {
			summaries = append(summaries, DecisionSummary{
				DecisionID: d.ID,
				Decision:   d.Decision,
				Status:     d.Status,
				UserID:     d.UserID,
				Timestamp:  d.Timestamp,
				Reason:     d.Reason,
			})
		}
		views = append(views, AlertView{Alert: a, Decisions: summaries})
	}
	return &AlertPage{Alerts: views, Total: total, Limit: filter.Limit}, nil
}

// DecisionsByUser returns a user's decisions newest first.
func (s *Service) DecisionsByUser(ctx context.Context, userID string, limit int) ([]alerts.Decision, error) {
	if s == nil {
		return nil, errors.New("alerts: nil service")
	}
	if strings.TrimSpace(userID) == "" {
		return nil, &alerts.ValidationError{Details: []string{"userId is required"}}
	}
	if limit <= 0 {
		limit = defaultListLimit
	}
	return s.decisions.ListByUser(ctx, userID, limit)
}

// PendingCount reports how many alerts await a decision; errors count as zero.
func (s *Service) PendingCount() float64 {
	if s == nil {
		return 0
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	n, err := s.alerts.CountPending(ctx)
	if err != nil {
		s.log.WithError(err).Debug("pending count failed")
		return 0
	}
	return float64(n)
}

func (s *Service) record(ctx context.Context, entry audit.Entry) {
	if s.audit == nil {
		return
	}
	if entry.Timestamp.IsZero() {
		entry.Timestamp = s.clock.Now()
	}
	s.audit.Record(ctx, entry)
}

func (s *Service) notify(ctx context.Context, eventType string, alert alerts.Alert) {
	if s == nil {
		return
	}
	metrics.IncAlertEvent(eventType)
	if s.notifier == nil {
		return
	}
	s.notifier.Notify(ctx, AlertEvent{Type: eventType, Alert: alert})
}
