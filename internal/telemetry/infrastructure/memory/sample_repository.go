package memory

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	telemetry "swapstation-ops/internal/telemetry/domain"
)

// SampleRepository keeps samples in memory for local runs and tests.
type SampleRepository struct {
	mu        sync.RWMutex
	byStation map[string][]telemetry.MetricSample
}

// NewSampleRepository constructs an empty repository.
func NewSampleRepository() *SampleRepository {
	return &SampleRepository{byStation: make(map[string][]telemetry.MetricSample)}
}

// Save stores a sample, replacing one with the same station and timestamp.
func (r *SampleRepository) Save(ctx context.Context, sample telemetry.MetricSample) error {
	_ = ctx
	if sample.StationID == "" || sample.Timestamp.IsZero() {
		return errors.New("sample repo: invalid sample")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	samples := r.byStation[sample.StationID]
	for i := range samples {
		if samples[i].Timestamp.Equal(sample.Timestamp) {
			samples[i] = sample
			return nil
		}
	}
	r.byStation[sample.StationID] = append(samples, sample)
	return nil
}

// Window returns samples in [from, to] newest first.
func (r *SampleRepository) Window(ctx context.Context, stationID string, from, to time.Time) (telemetry.MetricWindow, error) {
	_ = ctx
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]telemetry.MetricSample, 0)
	for _, sample := range r.byStation[stationID] {
		if sample.Timestamp.Before(from) || sample.Timestamp.After(to) {
			continue
		}
		out = append(out, sample)
	}
	return telemetry.NewWindow(out), nil
}

// Recent returns up to limit newest samples.
func (r *SampleRepository) Recent(ctx context.Context, stationID string, limit int) (telemetry.MetricWindow, error) {
	_ = ctx
	r.mu.RLock()
	window := telemetry.NewWindow(r.byStation[stationID])
	r.mu.RUnlock()
	if limit > 0 && len(window) > limit {
		window = window[:limit]
	}
	return window, nil
}

// ActiveStations lists stations with a sample newer than since.
func (r *SampleRepository) ActiveStations(ctx context.Context, since time.Time) ([]string, error) {
	_ = ctx
	r.mu.RLock()
	defer r.mu.RUnlock()
	stations := make([]string, 0, len(r.byStation))
	for stationID, samples := range r.byStation {
		for _, sample := range samples {
			if sample.Timestamp.After(since) {
				stations = append(stations, stationID)
				break
			}
		}
	}
	sort.Strings(stations)
	return stations, nil
}

// PurgeBefore drops samples older than cutoff.
func (r *SampleRepository) PurgeBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	_ = ctx
	r.mu.Lock()
	defer r.mu.Unlock()
	var removed int64
	for stationID, samples := range r.byStation {
		kept := samples[:0]
		for _, sample := range samples {
			if sample.Timestamp.Before(cutoff) {
				removed++
				continue
			}
			kept = append(kept, sample)
		}
		if len(kept) == 0 {
			delete(r.byStation, stationID)
			continue
		}
		r.byStation[stationID] = kept
	}
	return removed, nil
}
