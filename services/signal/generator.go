package signal

import (
	"backtest-engine/services/indicator"
	"backtest-engine/services/marketdata"
)

// GeneratorConfig selects the candidate rule and the filter chain.
type GeneratorConfig struct {
	// FastName/SlowName are the indicator names for the crossover rule
	// used when no external prediction is available for a bar.
	FastName string
	SlowName string
	// Filters run in declared order after the candidate is formed.
	Filters []Filter
}

// Generator turns (bar, indicators, prediction) into exactly one Signal per
// bar. It holds no mutable state: the same inputs always produce the same
// signal.
type Generator struct {
	cfg GeneratorConfig
}

// NewGenerator builds a Generator. Crossover names default to the standard
// EMA/SMA pair when unset.
func NewGenerator(cfg GeneratorConfig) *Generator {
	if cfg.FastName == "" {
		cfg.FastName = indicator.NameEMA20
	}
	if cfg.SlowName == "" {
		cfg.SlowName = indicator.NameSMA20
	}
	return &Generator{cfg: cfg}
}

// Inputs lists the indicator names the crossover rule reads, so callers can
// report which series were undefined when the rule yielded no candidate.
func (g *Generator) Inputs() []string {
	return []string{g.cfg.FastName, g.cfg.SlowName}
}

// Generate produces the signal for bar i. The external prediction, when
// present and directional, supplies both direction and confidence; otherwise
// the candidate comes from the fast/slow crossover rule with confidence 1.
// Undefined indicators yield a Flat candidate rather than a zero-valued one.
func (g *Generator) Generate(i int, bar marketdata.Bar, ind *indicator.Set, pred *Prediction) Signal {
	candidate := g.candidate(i, ind, pred)
	if candidate.Direction == Flat {
		return candidate
	}

	in := FilterInput{Index: i, Bar: bar, Indicators: ind, Prediction: pred, Candidate: candidate}
	for _, f := range g.cfg.Filters {
		if !f.Pass(in) {
			return Signal{Direction: Flat, Confidence: candidate.Confidence, BlockedBy: f.Name}
		}
	}
	return candidate
}

func (g *Generator) candidate(i int, ind *indicator.Set, pred *Prediction) Signal {
	if pred != nil && pred.Direction != Flat {
		return Signal{Direction: pred.Direction, Confidence: clamp01(pred.Confidence)}
	}

	fast, okFast := ind.Value(g.cfg.FastName, i)
	slow, okSlow := ind.Value(g.cfg.SlowName, i)
	if !okFast || !okSlow {
		return Signal{Direction: Flat}
	}
	prevFast, okPF := ind.Value(g.cfg.FastName, i-1)
	prevSlow, okPS := ind.Value(g.cfg.SlowName, i-1)
	if !okPF || !okPS {
		return Signal{Direction: Flat}
	}

	switch {
	case prevFast <= prevSlow && fast > slow:
		return Signal{Direction: Long, Confidence: 1}
	case prevFast >= prevSlow && fast < slow:
		return Signal{Direction: Short, Confidence: 1}
	default:
		return Signal{Direction: Flat}
	}
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
