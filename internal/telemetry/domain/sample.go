package telemetry

import (
	"context"
	"sort"
	"time"
)

// ChargerHealth is the reported charger condition.
type ChargerHealth string

const (
	ChargerHealthy  ChargerHealth = "healthy"
	ChargerDegraded ChargerHealth = "degraded"
	ChargerDown     ChargerHealth = "down"
)

// ChargerHealthValues lists accepted health values in display order.
var ChargerHealthValues = []ChargerHealth{ChargerHealthy, ChargerDegraded, ChargerDown}

// Valid reports whether h is a known health value.
func (h ChargerHealth) Valid() bool {
	for _, v := range ChargerHealthValues {
		if h == v {
			return true
		}
	}
	return false
}

// MetricSample is one telemetry reading from a swap station.
type MetricSample struct {
	StationID          string
	Timestamp          time.Time
	SwapRate           float64
	QueueLength        float64
	DemandSurge        bool
	ChargerUptimePct   float64
	ChargerHealth      ChargerHealth
	ChargedBatteries   int
	UnchargedBatteries int
	ErrorLogs          []string
	// FaultPatterns is nil when the station did not report it.
	FaultPatterns []string
	// MaxCapacity is zero when unknown.
	MaxCapacity float64
}

// Faults returns fault names, preferring fault patterns over error logs.
func (s MetricSample) Faults() []string {
	if s.FaultPatterns != nil {
		return s.FaultPatterns
	}
	return s.ErrorLogs
}

// MetricWindow is a station's samples ordered newest first.
type MetricWindow []MetricSample

// NewWindow copies samples and orders them newest first.
func NewWindow(samples []MetricSample) MetricWindow {
	window := make(MetricWindow, len(samples))
	copy(window, samples)
	sort.SliceStable(window, func(i, j int) bool {
		return window[i].Timestamp.After(window[j].Timestamp)
	})
	return window
}

// Latest returns the newest sample.
func (w MetricWindow) Latest() (MetricSample, bool) {
	if len(w) == 0 {
		return MetricSample{}, false
	}
	return w[0], true
}

// Since returns samples with timestamp at or after start.
func (w MetricWindow) Since(start time.Time) MetricWindow {
	out := make(MetricWindow, 0, len(w))
	for _, sample := range w {
		if !sample.Timestamp.Before(start) {
			out = append(out, sample)
		}
	}
	return out
}

// SampleRepository persists and queries metric samples.
type SampleRepository interface {
	Save(ctx context.Context, sample MetricSample) error
	// Window returns samples in [from, to] newest first.
	Window(ctx context.Context, stationID string, from, to time.Time) (MetricWindow, error)
	Recent(ctx context.Context, stationID string, limit int) (MetricWindow, error)
	// ActiveStations lists stations with a sample newer than since.
	ActiveStations(ctx context.Context, since time.Time) ([]string, error)
	PurgeBefore(ctx context.Context, cutoff time.Time) (int64, error)
}
