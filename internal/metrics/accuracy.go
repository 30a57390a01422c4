// Package metrics learns how far ETAs drift from actual arrivals.
package metrics

import (
	"context"
	"fmt"
	"time"
)

// AccuracyStats is the running ETA error for one route in one hour of the day.
// Positive errors mean the vehicle arrived later than predicted.
type AccuracyStats struct {
	RouteID      string  `json:"routeId"`
	HourOfDay    int     `json:"hourOfDay"`
	MeanErrorSec float64 `json:"meanErrorSec"`
	StdDevSec    float64 `json:"stdDevSec"`
	SampleCount  int     `json:"sampleCount"`
}

// AccuracyStore persists accuracy statistics.
type AccuracyStore interface {
	GetAccuracy(ctx context.Context, routeID string, hour int) (*AccuracyStats, error)
	SaveAccuracy(ctx context.Context, stats AccuracyStats) error
}

// AccuracyLearner updates per route/hour error statistics one arrival at a time.
type AccuracyLearner struct {
	store AccuracyStore
	loc   *time.Location
}

// NewAccuracyLearner buckets observations by hour in loc (UTC when nil).
func NewAccuracyLearner(store AccuracyStore, loc *time.Location) *AccuracyLearner {
	if loc == nil {
		loc = time.UTC
	}
	return &AccuracyLearner{store: store, loc: loc}
}

// Observe records one prediction against the actual arrival and returns the updated stats.
func (l *AccuracyLearner) Observe(ctx context.Context, routeID string, predicted, actual time.Time) (AccuracyStats, error) {
	hour := actual.In(l.loc).Hour()
	existing, err := l.store.GetAccuracy(ctx, routeID, hour)
	if err != nil {
		return AccuracyStats{}, fmt.Errorf("failed to load accuracy for %s@%02d: %w", routeID, hour, err)
	}

	var w Welford
	if existing != nil {
		w = ResumeWelford(existing.MeanErrorSec, existing.StdDevSec, existing.SampleCount)
	}
	w.Add(actual.Sub(predicted).Seconds())

	stats := AccuracyStats{
		RouteID:      routeID,
		HourOfDay:    hour,
		MeanErrorSec: w.Mean,
		StdDevSec:    w.StdDev(),
		SampleCount:  w.Count,
	}
	if err := l.store.SaveAccuracy(ctx, stats); err != nil {
		return AccuracyStats{}, fmt.Errorf("failed to save accuracy for %s@%02d: %w", routeID, hour, err)
	}
	return stats, nil
}
