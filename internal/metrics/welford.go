package metrics

import "math"

// Welford keeps a running mean and population variance without storing samples.
type Welford struct {
	Count int
	Mean  float64
	M2    float64 // sum of squared deviations from the mean
}

// ResumeWelford rebuilds running state from a persisted mean, stddev and count.
// M2 = stddev² · n since stddev is the population deviation.
func ResumeWelford(mean, stddev float64, count int) Welford {
	if count <= 0 {
		return Welford{}
	}
	return Welford{Count: count, Mean: mean, M2: stddev * stddev * float64(count)}
}

// Add folds one observation in.
func (w *Welford) Add(x float64) {
	w.Count++
	delta := x - w.Mean
	w.Mean += delta / float64(w.Count)
	w.M2 += delta * (x - w.Mean)
}

// StdDev returns the population standard deviation, 0 with fewer than 2 samples.
func (w Welford) StdDev() float64 {
	if w.Count < 2 {
		return 0
	}
	return math.Sqrt(w.M2 / float64(w.Count))
}
