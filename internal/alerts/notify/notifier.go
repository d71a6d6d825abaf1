package notify

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"errors"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"swapstation-ops/internal/alerts/application"
	alerts "swapstation-ops/internal/alerts/domain"
)

// EventEscalated is sent when a high severity alert stays PENDING past the escalation delay.
const EventEscalated = "escalated"

// AlertReader reloads an alert before escalating it.
type AlertReader interface {
	GetByID(ctx context.Context, id string) (*alerts.Alert, error)
}

// Clock provides time for cooldown bookkeeping.
type Clock interface {
	Now() time.Time
}

type sendRecord struct {
	at   time.Time
	hash string
}

// Notifier renders alert events and sends them to a chat channel. It
// suppresses repeats inside the cooldown and dedupe windows and re-sends
// HIGH and CRITICAL alerts that nobody decided on in time.
type Notifier struct {
	alerts         AlertReader
	channel        Channel
	template       *Template
	clock          Clock
	log            logrus.FieldLogger
	escalation     time.Duration
	cooldown       time.Duration
	dedupeWindow   time.Duration
	requestTimeout time.Duration

	mu     sync.Mutex
	timers map[string]*time.Timer
	sent   map[string]sendRecord
}

// Option configures the notifier.
type Option func(*Notifier)

// WithEscalation sets the escalation delay; zero disables escalation.
func WithEscalation(after time.Duration) Option {
	return func(n *Notifier) {
		if after > 0 {
			n.escalation = after
		}
	}
}

// WithClock overrides the default clock.
func WithClock(clock Clock) Option {
	return func(n *Notifier) {
		if clock != nil {
			n.clock = clock
		}
	}
}

// WithRequestTimeout bounds the alert reload done by escalation.
func WithRequestTimeout(timeout time.Duration) Option {
	return func(n *Notifier) {
		if timeout > 0 {
			n.requestTimeout = timeout
		}
	}
}

// WithCooldown sets a minimum interval between notifications for the same alert and event.
func WithCooldown(interval time.Duration) Option {
	return func(n *Notifier) {
		if interval > 0 {
			n.cooldown = interval
		}
	}
}

// WithDedupeWindow suppresses identical content within the window.
func WithDedupeWindow(window time.Duration) Option {
	return func(n *Notifier) {
		if window > 0 {
			n.dedupeWindow = window
		}
	}
}

// WithNotifierLogger assigns the logger.
func WithNotifierLogger(log logrus.FieldLogger) Option {
	return func(n *Notifier) {
		if log != nil {
			n.log = log
		}
	}
}

// NewNotifier constructs a channel notifier. A nil template uses DefaultTemplate.
func NewNotifier(reader AlertReader, channel Channel, template *Template, opts ...Option) (*Notifier, error) {
	if reader == nil {
		return nil, errors.New("alert notifier: nil alert reader")
	}
	if channel == nil {
		return nil, errors.New("alert notifier: nil channel")
	}
	if template == nil {
		defaultTemplate, err := NewTemplate("")
		if err != nil {
			return nil, err
		}
		template = defaultTemplate
	}
	n := &Notifier{
		alerts:         reader,
		channel:        channel,
		template:       template,
		clock:          systemClock{},
		log:            logrus.StandardLogger(),
		requestTimeout: 5 * time.Second,
		timers:         make(map[string]*time.Timer),
		sent:           make(map[string]sendRecord),
	}
	for _, opt := range opts {
		opt(n)
	}
	n.log = n.log.WithField("component", "alert_notifier")
	return n, nil
}

// Notify implements application.AlertNotifier.
func (n *Notifier) Notify(ctx context.Context, event application.AlertEvent) {
	if n == nil || n.channel == nil {
		return
	}
	n.dispatch(ctx, event.Type, event.Alert)

	switch event.Type {
	case application.EventCreated:
		n.scheduleEscalation(event.Alert)
	case application.EventApproved, application.EventRejected:
		n.cancelEscalation(event.Alert.ID)
	}
}

// Close stops all pending escalation timers.
func (n *Notifier) Close() {
	if n == nil {
		return
	}
	n.mu.Lock()
	timers := n.timers
	n.timers = make(map[string]*time.Timer)
	n.mu.Unlock()
	for _, timer := range timers {
		timer.Stop()
	}
}

func (n *Notifier) dispatch(ctx context.Context, eventType string, alert alerts.Alert) {
	content, err := n.template.Render(buildTemplateData(eventType, alert))
	if err != nil {
		n.log.WithError(err).WithField("alert_id", alert.ID).Warn("render notification failed")
		return
	}
	if !n.shouldSend(alert.ID, eventType, content) {
		return
	}
	if err := n.channel.Send(ctx, content); err != nil {
		n.log.WithError(err).WithFields(logrus.Fields{
			"alert_id": alert.ID,
			"event":    eventType,
		}).Warn("send notification failed")
		return
	}
	n.markSent(alert.ID, eventType, content)
}

func (n *Notifier) scheduleEscalation(alert alerts.Alert) {
	if n.escalation <= 0 || alert.ID == "" {
		return
	}
	if alert.Severity.Rank() < alerts.SeverityHigh.Rank() {
		return
	}
	n.mu.Lock()
	if existing, ok := n.timers[alert.ID]; ok {
		existing.Stop()
	}
	n.timers[alert.ID] = time.AfterFunc(n.escalation, func() {
		n.runEscalation(alert.ID)
	})
	n.mu.Unlock()
}

func (n *Notifier) cancelEscalation(alertID string) {
	if alertID == "" {
		return
	}
	n.mu.Lock()
	timer := n.timers[alertID]
	delete(n.timers, alertID)
	n.mu.Unlock()
	if timer != nil {
		timer.Stop()
	}
}

func (n *Notifier) runEscalation(alertID string) {
	n.mu.Lock()
	delete(n.timers, alertID)
	n.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), n.requestTimeout)
	defer cancel()

	alert, err := n.alerts.GetByID(ctx, alertID)
	if err != nil {
		n.log.WithError(err).WithField("alert_id", alertID).Warn("escalation reload failed")
		return
	}
	if alert == nil || alert.Status != alerts.StatusPending {
		return
	}
	n.dispatch(ctx, EventEscalated, *alert)
}

func buildTemplateData(eventType string, alert alerts.Alert) TemplateData {
	data := TemplateData{
		Subject:           Subject(alert),
		AlertID:           alert.ID,
		StationID:         alert.StationID,
		AlertType:         string(alert.Type),
		Severity:          string(alert.Severity),
		Status:            string(alert.Status),
		Title:             alert.Title,
		Description:       alert.Description,
		RecommendedAction: alert.RecommendedAction,
		CreatedAt:         alert.CreatedAt.UTC().Format(time.RFC3339),
		Event:             eventType,
		EventLabel:        eventLabel(eventType),
	}
	switch alert.Status {
	case alerts.StatusExecuted:
		data.DecidedBy = alert.ExecutedBy
	case alerts.StatusDismissed:
		data.DecidedBy = alert.DismissedBy
		data.Reason = alert.DismissalReason
	}
	return data
}

func eventLabel(event string) string {
	switch event {
	case application.EventCreated:
		return "Raised"
	case application.EventApproved:
		return "Approved"
	case application.EventRejected:
		return "Rejected"
	case EventEscalated:
		return "Escalated"
	default:
		return event
	}
}

func (n *Notifier) shouldSend(alertID, eventType, content string) bool {
	if n.cooldown <= 0 && n.dedupeWindow <= 0 {
		return true
	}
	now := n.clock.Now().UTC()

	n.mu.Lock()
	record, ok := n.sent[notificationKey(alertID, eventType)]
	n.mu.Unlock()
	if !ok {
		return true
	}
	if n.cooldown > 0 && now.Sub(record.at) < n.cooldown {
		return false
	}
	if n.dedupeWindow > 0 && record.hash == hashContent(content) && now.Sub(record.at) < n.dedupeWindow {
		return false
	}
	return true
}

func (n *Notifier) markSent(alertID, eventType, content string) {
	n.mu.Lock()
	n.sent[notificationKey(alertID, eventType)] = sendRecord{
		at:   n.clock.Now().UTC(),
		hash: hashContent(content),
	}
	n.mu.Unlock()
}

func notificationKey(alertID, eventType string) string {
	return alertID + "|" + eventType
}

func hashContent(content string) string {
	sum := sha1.Sum([]byte(content))
	return hex.EncodeToString(sum[:8])
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now().UTC() }
