package rules

import (
	"encoding/json"
	"time"

	alerts "swapstation-ops/internal/alerts/domain"
	telemetry "swapstation-ops/internal/telemetry/domain"
)

// ThresholdSource resolves thresholds per station.
type ThresholdSource interface {
	ForStation(stationID string) Thresholds
}

// Flags records which alert types triggered in a pass.
type Flags map[alerts.AlertType]bool

// NewFlags returns flags with every type present and false.
func NewFlags() Flags {
	flags := make(Flags, len(alerts.AlertTypes))
	for _, t := range alerts.AlertTypes {
		flags[t] = false
	}
	return flags
}

// Has reports whether t triggered.
func (f Flags) Has(t alerts.AlertType) bool {
	return f[t]
}

// Result is the aggregate outcome of one evaluation pass for a station.
type Result struct {
	StationID   string             `json:"stationId"`
	EvaluatedAt time.Time          `json:"timestamp"`
	Flags       Flags              `json:"flags"`
	Rules       map[RuleID]Outcome `json:"rules"`
	Triggered   []Outcome          `json:"triggeredAlerts"`
	MaxSeverity alerts.Severity    `json:"maxSeverity"`
}

// Outcome returns the outcome recorded for a rule id.
func (r Result) Outcome(id RuleID) (Outcome, bool) {
	outcome, ok := r.Rules[id]
	return outcome, ok
}

// OutcomeFor returns the triggered outcome for an alert type.
func (r Result) OutcomeFor(t alerts.AlertType) (Outcome, bool) {
	for _, outcome := range r.Triggered {
		if outcome.AlertType == t {
			return outcome, true
		}
	}
	return Outcome{}, false
}

// Snapshot is the flags/maxSeverity summary stored with created alerts.
func (r Result) Snapshot() map[string]any {
	flags := make(map[string]bool, len(r.Flags))
	for t, v := range r.Flags {
		flags[string(t)] = v
	}
	var maxSeverity any
	if r.MaxSeverity != "" {
		maxSeverity = string(r.MaxSeverity)
	}
	return map[string]any{
		"flags":       flags,
		"maxSeverity": maxSeverity,
	}
}

// MarshalJSON keeps maxSeverity null when nothing triggered.
func (r Result) MarshalJSON() ([]byte, error) {
	type alias Result
	type view struct {
		alias
		MaxSeverity *alerts.Severity `json:"maxSeverity"`
	}
	v := view{alias: alias(r)}
	if r.MaxSeverity != "" {
		sev := r.MaxSeverity
		v.MaxSeverity = &sev
	}
	if v.Triggered == nil {
		v.Triggered = []Outcome{}
	}
	return json.Marshal(v)
}

// Evaluator runs the rule registry over a metric window.
type Evaluator struct {
	registry   Registry
	thresholds ThresholdSource
}

// EvaluatorOption customizes an Evaluator.
type EvaluatorOption func(*Evaluator)

// WithRegistry replaces the default rule set.
func WithRegistry(registry Registry) EvaluatorOption {
	return func(e *Evaluator) {
		if len(registry) > 0 {
			e.registry = registry
		}
	}
}

// NewEvaluator constructs an evaluator. A nil source uses stock thresholds.
func NewEvaluator(thresholds ThresholdSource, opts ...EvaluatorOption) *Evaluator {
	if thresholds == nil {
		thresholds = DefaultConfig()
	}
	e := &Evaluator{registry: DefaultRegistry(), thresholds: thresholds}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Evaluate runs every rule against window at now. It has no side effects.
func (e *Evaluator) Evaluate(stationID string, window telemetry.MetricWindow, now time.Time) Result {
	in := Input{
		StationID:  stationID,
		Window:     window,
		Now:        now,
		Thresholds: e.thresholds.ForStation(stationID),
		Prior:      make(map[RuleID]Outcome, len(e.registry)),
	}
	result := Result{
		StationID:   stationID,
		EvaluatedAt: now.UTC(),
		Flags:       NewFlags(),
		Rules:       make(map[RuleID]Outcome, len(e.registry)),
	}
	for _, rule := range e.registry {
		outcome := rule.Evaluate(in)
		in.Prior[rule.ID()] = outcome
		result.Rules[rule.ID()] = outcome
		if !outcome.Triggered {
			continue
		}
		result.Flags[outcome.AlertType] = true
		result.Triggered = append(result.Triggered, outcome)
		if outcome.Severity.Rank() > result.MaxSeverity.Rank() {
			result.MaxSeverity = outcome.Severity
		}
	}
	return result
}
