package metrics

import (
	"context"
	"errors"
	"fmt"
	"math"
	"testing"
	"time"
)

func TestWelfordMatchesBatch(t *testing.T) {
	samples := []float64{12, -3, 40, 7, 7, 18}
	var w Welford
	for _, s := range samples {
		w.Add(s)
	}

	mean := 0.0
	for _, s := range samples {
		mean += s
	}
	mean /= float64(len(samples))
	variance := 0.0
	for _, s := range samples {
		variance += (s - mean) * (s - mean)
	}
	std := math.Sqrt(variance / float64(len(samples)))

	if math.Abs(w.Mean-mean) > 1e-9 || math.Abs(w.StdDev()-std) > 1e-9 {
		t.Errorf("welford mean=%v std=%v, batch mean=%v std=%v", w.Mean, w.StdDev(), mean, std)
	}

	resumed := ResumeWelford(w.Mean, w.StdDev(), w.Count)
	resumed.Add(100)
	w.Add(100)
	if math.Abs(resumed.StdDev()-w.StdDev()) > 1e-9 {
		t.Errorf("resumed std %v, continuous %v", resumed.StdDev(), w.StdDev())
	}
}

type memStore struct {
	stats map[string]AccuracyStats
	fail  error
}

func (m *memStore) key(route string, hour int) string { return fmt.Sprintf("%s@%d", route, hour) }

func (m *memStore) GetAccuracy(_ context.Context, route string, hour int) (*AccuracyStats, error) {
	if m.fail != nil {
		return nil, m.fail
	}
	s, ok := m.stats[m.key(route, hour)]
	if !ok {
		return nil, nil
	}
	return &s, nil
}

func (m *memStore) SaveAccuracy(_ context.Context, s AccuracyStats) error {
	m.stats[m.key(s.RouteID, s.HourOfDay)] = s
	return nil
}

func TestAccuracyLearner(t *testing.T) {
	store := &memStore{stats: map[string]AccuracyStats{}}
	l := NewAccuracyLearner(store, nil)
	ctx := context.Background()
	predicted := time.Date(2026, 3, 2, 8, 10, 0, 0, time.UTC)

	if _, err := l.Observe(ctx, "R1", predicted, predicted.Add(60*time.Second)); err != nil {
		t.Fatal(err)
	}
	stats, err := l.Observe(ctx, "R1", predicted, predicted.Add(-20*time.Second))
	if err != nil {
		t.Fatal(err)
	}
	if stats.SampleCount != 2 || stats.MeanErrorSec != 20 || stats.StdDevSec != 40 || stats.HourOfDay != 8 {
		t.Errorf("stats = %+v", stats)
	}

	store.fail = errors.New("disk gone")
	if _, err := l.Observe(ctx, "R1", predicted, predicted); !errors.Is(err, store.fail) {
		t.Errorf("err = %v, want wrapped store error", err)
	}
}
