// Package predictor adapts external predictive models to the simulation.
// A Source answers "what does the model think about bar i" with a direction
// and a confidence, or reports that it has no opinion. Sources are fully
// precomputed before the simulation loop runs, so the loop stays free of
// model inference and I/O.
package predictor

import "backtest-engine/services/signal"

// Source exposes one prediction per bar index. The boolean is false when the
// model has no opinion for that bar (warm-up, missing features); consumers
// treat that as Flat, never as a zero-confidence directional call.
type Source interface {
	Predict(i int) (signal.Prediction, bool)
}

// SliceSource serves precomputed long-probability scores, one per bar.
// Probability above the up threshold maps to Long, below the down threshold
// to Short, in between to no opinion. NaN or out-of-range indexes are no
// opinion.
type SliceSource struct {
	Probs         []float64
	UpThreshold   float64
	DownThreshold float64
}

// NewSliceSource builds a SliceSource with the conventional 0.5 split:
// probabilities above up map to Long with confidence p, below down map to
// Short with confidence 1-p.
func NewSliceSource(probs []float64, up, down float64) *SliceSource {
	return &SliceSource{Probs: probs, UpThreshold: up, DownThreshold: down}
}

// Predict implements Source.
func (s *SliceSource) Predict(i int) (signal.Prediction, bool) {
	if i < 0 || i >= len(s.Probs) {
		return signal.Prediction{}, false
	}
	p := s.Probs[i]
	if p != p { // NaN
		return signal.Prediction{}, false
	}
	switch {
	case p >= s.UpThreshold:
		return signal.Prediction{Direction: signal.Long, Confidence: p}, true
	case p <= s.DownThreshold:
		return signal.Prediction{Direction: signal.Short, Confidence: 1 - p}, true
	default:
		return signal.Prediction{}, false
	}
}
