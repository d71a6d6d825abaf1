package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	metricPrefix = "swapops_"

	resultSuccess = "success"
	resultError   = "error"
)

var (
	registerOnce sync.Once

	ingestRequests *prometheus.CounterVec
	ingestErrors   *prometheus.CounterVec
	ingestLatency  *prometheus.HistogramVec

	evaluationLatency *prometheus.HistogramVec
	rulesTriggered    *prometheus.CounterVec

	alertsCreated *prometheus.CounterVec
	alertsSkipped *prometheus.CounterVec
	alertEvents   *prometheus.CounterVec
	decisions     *prometheus.CounterVec

	notifications *prometheus.CounterVec

	sweepRuns     *prometheus.CounterVec
	sweepLatency  prometheus.Histogram
	sweepStations prometheus.Gauge
)

// Init registers service metrics. pending, when non-nil, backs a gauge of PENDING alerts.
func Init(pending func() float64) {
	registerOnce.Do(func() {
		ingestRequests = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "ingest_requests_total",
				Help: "Total metric ingest requests by result",
			},
			[]string{"result"},
		)
		ingestErrors = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "ingest_errors_total",
				Help: "Total ingest errors by reason",
			},
			[]string{"reason"},
		)
		ingestLatency = prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    metricPrefix + "ingest_latency_seconds",
				Help:    "Ingest latency in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"result"},
		)

		evaluationLatency = prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    metricPrefix + "evaluation_latency_seconds",
				Help:    "Station evaluation latency by trigger",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"trigger"},
		)
		rulesTriggered = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "rules_triggered_total",
				Help: "Rule triggers by rule id",
			},
			[]string{"rule"},
		)

		alertsCreated = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "alerts_created_total",
				Help: "Alerts created by type and severity",
			},
			[]string{"type", "severity"},
		)
		alertsSkipped = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "alerts_skipped_total",
				Help: "Alert candidates suppressed by an existing PENDING alert",
			},
			[]string{"type"},
		)
		alertEvents = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "alert_events_total",
				Help: "Total alert lifecycle events by type",
			},
			[]string{"event"},
		)
		decisions = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "decisions_total",
				Help: "Operator decisions by decision and result",
			},
			[]string{"decision", "result"},
		)

		notifications = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "notifications_total",
				Help: "Outbound notifications by channel and result",
			},
			[]string{"channel", "result"},
		)

		sweepRuns = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "sweep_runs_total",
				Help: "Scheduled sweeps by result",
			},
			[]string{"result"},
		)
		sweepLatency = prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    metricPrefix + "sweep_latency_seconds",
				Help:    "Sweep duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
		)
		sweepStations = prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: metricPrefix + "sweep_stations",
				Help: "Stations processed by the last sweep",
			},
		)

		prometheus.MustRegister(
			ingestRequests,
			ingestErrors,
			ingestLatency,
			evaluationLatency,
			rulesTriggered,
			alertsCreated,
			alertsSkipped,
			alertEvents,
			decisions,
			notifications,
			sweepRuns,
			sweepLatency,
			sweepStations,
		)

		if pending != nil {
			prometheus.MustRegister(prometheus.NewGaugeFunc(
				prometheus.GaugeOpts{
					Name: metricPrefix + "alerts_pending",
					Help: "Alerts awaiting an operator decision",
				},
				pending,
			))
		}
	})
}

// ObserveIngest records ingest request duration and result.
func ObserveIngest(result string, duration time.Duration) {
	if result == "" {
		result = resultSuccess
	}
	if ingestRequests != nil {
		ingestRequests.WithLabelValues(result).Inc()
	}
	if ingestLatency != nil {
		ingestLatency.WithLabelValues(result).Observe(duration.Seconds())
	}
}

// IncIngestError increments ingest error counter.
func IncIngestError(reason string) {
	if reason == "" {
		reason = "unknown"
	}
	if ingestErrors != nil {
		ingestErrors.WithLabelValues(reason).Inc()
	}
}

// ObserveEvaluation records one station evaluation.
func ObserveEvaluation(trigger string, duration time.Duration) {
	if trigger == "" {
		trigger = "unknown"
	}
	if evaluationLatency != nil {
		evaluationLatency.WithLabelValues(trigger).Observe(duration.Seconds())
	}
}

// IncRuleTriggered counts a triggered rule.
func IncRuleTriggered(rule string) {
	if rulesTriggered != nil {
		rulesTriggered.WithLabelValues(rule).Inc()
	}
}

// IncAlertCreated counts a created alert.
func IncAlertCreated(alertType, severity string) {
	if alertsCreated != nil {
		alertsCreated.WithLabelValues(alertType, severity).Inc()
	}
}

// IncAlertSkipped counts a suppressed duplicate.
func IncAlertSkipped(alertType string) {
	if alertsSkipped != nil {
		alertsSkipped.WithLabelValues(alertType).Inc()
	}
}

// IncAlertEvent increments alert lifecycle counters.
func IncAlertEvent(event string) {
	if event == "" {
		event = "unknown"
	}
	if alertEvents != nil {
		alertEvents.WithLabelValues(event).Inc()
	}
}

// IncDecision counts an operator decision.
func IncDecision(decision, result string) {
	if result == "" {
		result = resultSuccess
	}
	if decisions != nil {
		decisions.WithLabelValues(decision, result).Inc()
	}
}

// IncNotification counts an outbound notification.
func IncNotification(channel, result string) {
	if result == "" {
		result = resultSuccess
	}
	if notifications != nil {
		notifications.WithLabelValues(channel, result).Inc()
	}
}

// ObserveSweep records a sweep run.
func ObserveSweep(result string, stations int, duration time.Duration) {
	if result == "" {
		result = resultSuccess
	}
	if sweepRuns != nil {
		sweepRuns.WithLabelValues(result).Inc()
	}
	if sweepLatency != nil {
		sweepLatency.Observe(duration.Seconds())
	}
	if sweepStations != nil {
		sweepStations.Set(float64(stations))
	}
}

// Exported constants for callers.
const (
	ResultSuccess = resultSuccess
	ResultError   = resultError
)
