package telemetry

import (
	"errors"
	"sort"
	"time"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

// Granularity is the bucket size of station statistics.
type Granularity string

const (
	GranularityHour Granularity = "hour"
	GranularityDay  Granularity = "day"
)

// ParseGranularity accepts "hour" (default when empty) or "day".
func ParseGranularity(value string) (Granularity, error) {
	switch Granularity(value) {
	case "", GranularityHour:
		return GranularityHour, nil
	case GranularityDay:
		return GranularityDay, nil
	}
	return "", errors.New("granularity must be hour or day")
}

func (g Granularity) truncate(t time.Time) time.Time {
	t = t.UTC()
	if g == GranularityDay {
		return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
	}
	return t.Truncate(time.Hour)
}

// PeriodStat summarises one station over one bucket.
type PeriodStat struct {
	PeriodStart      time.Time `json:"periodStart"`
	Samples          int       `json:"samples"`
	AvgSwapRate      float64   `json:"avgSwapRate"`
	MaxSwapRate      float64   `json:"maxSwapRate"`
	AvgQueue         float64   `json:"avgQueue"`
	MaxQueue         float64   `json:"maxQueue"`
	MinCharged       int       `json:"minChargedBatteries"`
	ChargerDownCount int       `json:"chargerDownCount"`
	FaultCount       int       `json:"faultCount"`
	DemandSurgeCount int       `json:"demandSurgeCount"`
}

// Aggregate buckets the window by granularity, oldest bucket first.
func Aggregate(window MetricWindow, g Granularity) []PeriodStat {
	buckets := make(map[time.Time][]MetricSample)
	for _, s := range window {
		key := g.truncate(s.Timestamp)
		buckets[key] = append(buckets[key], s)
	}
	out := make([]PeriodStat, 0, len(buckets))
	for start, samples := range buckets {
		out = append(out, summarise(start, samples))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].PeriodStart.Before(out[j].PeriodStart) })
	return out
}

func summarise(start time.Time, samples []MetricSample) PeriodStat {
	swap := make([]float64, len(samples))
	queue := make([]float64, len(samples))
	st := PeriodStat{PeriodStart: start, Samples: len(samples), MinCharged: samples[0].ChargedBatteries}
	for i, s := range samples {
		swap[i] = s.SwapRate
		queue[i] = s.QueueLength
		st.MinCharged = min(st.MinCharged, s.ChargedBatteries)
		st.FaultCount += len(s.Faults())
		if s.ChargerHealth == ChargerDown {
			st.ChargerDownCount++
		}
		if s.DemandSurge {
			st.DemandSurgeCount++
		}
	}
	st.AvgSwapRate = stat.Mean(swap, nil)
	st.MaxSwapRate = floats.Max(swap)
	st.AvgQueue = stat.Mean(queue, nil)
	st.MaxQueue = floats.Max(queue)
	return st
}
