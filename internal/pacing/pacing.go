// Package pacing measures how regularly the render loop ticks.
package pacing

import (
	"math"
	"time"
)

const (
	// fpsStabilityThreshold is the maximum allowed FPS standard deviation as a fraction of mean FPS.
	// A loop is considered stable if stddev < 15% of mean FPS.
	fpsStabilityThreshold = 0.15

	// jitterStabilityThreshold is the maximum allowed mean jitter as a fraction of expected interval.
	jitterStabilityThreshold = 0.20

	// DefaultWindowSize keeps about two seconds of ticks at 30 Hz
	DefaultWindowSize = 64
)

// Stats contains tick rate statistics over a window
type Stats struct {
	Samples    int           // Number of ticks in the window
	Span       time.Duration // Time between first and last tick
	FPSMean    float64       // Mean tick rate
	FPSStdDev  float64       // Standard deviation of instantaneous tick rate
	FPSMin     float64       // Minimum instantaneous tick rate
	FPSMax     float64       // Maximum instantaneous tick rate
	JitterMean float64       // Mean deviation from the expected interval (seconds)
	JitterMax  float64       // Maximum deviation from the expected interval (seconds)
	IsStable   bool          // stddev < 15% of mean AND jitter < 20% of interval
}

// Window is a fixed-size ring of tick timestamps. Not safe for concurrent use.
type Window struct {
	times []time.Time
	next  int
	count int
}

// NewWindow creates a window holding up to size timestamps
func NewWindow(size int) *Window {
	if size < 2 {
		size = 2
	}
	return &Window{times: make([]time.Time, size)}
}

// Add records a tick timestamp, overwriting the oldest when full
func (w *Window) Add(t time.Time) {
	w.times[w.next] = t
	w.next = (w.next + 1) % len(w.times)
	if w.count < len(w.times) {
		w.count++
	}
}

// Len returns the number of recorded timestamps
func (w *Window) Len() int {
	return w.count
}

// Ordered returns the recorded timestamps, oldest first
func (w *Window) Ordered() []time.Time {
	out := make([]time.Time, 0, w.count)
	start := (w.next - w.count + len(w.times)) % len(w.times)
	for i := 0; i < w.count; i++ {
		out = append(out, w.times[(start+i)%len(w.times)])
	}
	return out
}

// Stats computes statistics over the current window
func (w *Window) Stats() Stats {
	times := w.Ordered()
	if len(times) < 2 {
		return Stats{Samples: len(times)}
	}
	return Calculate(times, times[len(times)-1].Sub(times[0]))
}

// Calculate computes tick statistics from ordered timestamps.
//
// The mean rate counts intervals, not samples: n timestamps over span give
// (n-1)/span ticks per second.
func Calculate(times []time.Time, span time.Duration) Stats {
	n := len(times)
	if n < 2 || span <= 0 {
		return Stats{Samples: n, Span: span}
	}

	fpsMean := float64(n-1) / span.Seconds()

	instantaneous := make([]float64, 0, n-1)
	for i := 1; i < n; i++ {
		interval := times[i].Sub(times[i-1]).Seconds()
		if interval > 0 {
			instantaneous = append(instantaneous, 1.0/interval)
		}
	}
	if len(instantaneous) == 0 {
		return Stats{Samples: n, Span: span, FPSMean: fpsMean}
	}

	fpsMin, fpsMax := instantaneous[0], instantaneous[0]
	var sumSquares float64
	for _, fps := range instantaneous {
		fpsMin = math.Min(fpsMin, fps)
		fpsMax = math.Max(fpsMax, fps)
		diff := fps - fpsMean
		sumSquares += diff * diff
	}
	fpsStdDev := math.Sqrt(sumSquares / float64(len(instantaneous)))

	expectedInterval := 1.0 / fpsMean
	var jitterSum, jitterMax float64
	for i := 1; i < n; i++ {
		jitter := math.Abs(times[i].Sub(times[i-1]).Seconds() - expectedInterval)
		jitterSum += jitter
		jitterMax = math.Max(jitterMax, jitter)
	}
	jitterMean := jitterSum / float64(n-1)

	return Stats{
		Samples:    n,
		Span:       span,
		FPSMean:    fpsMean,
		FPSStdDev:  fpsStdDev,
		FPSMin:     fpsMin,
		FPSMax:     fpsMax,
		JitterMean: jitterMean,
		JitterMax:  jitterMax,
		IsStable: fpsStdDev < fpsMean*fpsStabilityThreshold &&
			jitterMean < expectedInterval*jitterStabilityThreshold,
	}
}
