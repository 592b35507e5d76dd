// Package marketdata defines the bar data model and the loaders that feed
// the simulation. A Series is an ordered, validated collection of OHLCV bars;
// everything downstream assumes strict timestamp ordering, so the constructor
// is the single place where that invariant is enforced.
package marketdata

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// Bar is a single OHLCV bar. Timestamp is the bar open time in unix
// milliseconds. Bars are immutable once ingested.
type Bar struct {
	Timestamp int64           `json:"timestamp"`
	Open      decimal.Decimal `json:"open"`
	High      decimal.Decimal `json:"high"`
	Low       decimal.Decimal `json:"low"`
	Close     decimal.Decimal `json:"close"`
	Volume    decimal.Decimal `json:"volume"`
}

// OutOfOrderBarError reports a bar whose timestamp is not strictly greater
// than its predecessor's. This is fatal: processing such a stream would
// silently corrupt path-dependent accounting.
type OutOfOrderBarError struct {
	Index  int
	PrevTs int64
	Ts     int64
}

func (e *OutOfOrderBarError) Error() string {
	return fmt.Sprintf("bar %d out of order: timestamp %d <= previous %d", e.Index, e.Ts, e.PrevTs)
}

// MissingBarError reports a gap in a series that declared an expected cadence.
type MissingBarError struct {
	Index      int
	ExpectedTs int64
	ActualTs   int64
}

func (e *MissingBarError) Error() string {
	return fmt.Sprintf("missing bar before index %d: expected timestamp %d, got %d", e.Index, e.ExpectedTs, e.ActualTs)
}

// Series is an ordered bar collection for one symbol.
type Series struct {
	Symbol string
	Bars   []Bar
}

// NewSeries validates strict timestamp ordering and returns the series.
// Ordering violations return *OutOfOrderBarError and no series.
func NewSeries(symbol string, bars []Bar) (*Series, error) {
	for i := 1; i < len(bars); i++ {
		if bars[i].Timestamp <= bars[i-1].Timestamp {
			return nil, &OutOfOrderBarError{Index: i, PrevTs: bars[i-1].Timestamp, Ts: bars[i].Timestamp}
		}
	}
	return &Series{Symbol: symbol, Bars: bars}, nil
}

// CheckCadence verifies that consecutive bars are exactly cadenceMs apart.
// Returns *MissingBarError on the first gap. Callers that tolerate gaps
// (real market data has them) simply skip this check.
func (s *Series) CheckCadence(cadenceMs int64) error {
	for i := 1; i < len(s.Bars); i++ {
		expected := s.Bars[i-1].Timestamp + cadenceMs
		if s.Bars[i].Timestamp != expected {
			return &MissingBarError{Index: i, ExpectedTs: expected, ActualTs: s.Bars[i].Timestamp}
		}
	}
	return nil
}

// Len returns the number of bars.
func (s *Series) Len() int { return len(s.Bars) }

// Closes returns the close prices as float64 for indicator computation.
// Indicator math runs in float64; accounting stays in decimal.
func (s *Series) Closes() []float64 {
	out := make([]float64, len(s.Bars))
	for i, b := range s.Bars {
		out[i] = b.Close.InexactFloat64()
	}
	return out
}

// Highs returns the high prices as float64.
func (s *Series) Highs() []float64 {
	out := make([]float64, len(s.Bars))
	for i, b := range s.Bars {
		out[i] = b.High.InexactFloat64()
	}
	return out
}

// Lows returns the low prices as float64.
func (s *Series) Lows() []float64 {
	out := make([]float64, len(s.Bars))
	for i, b := range s.Bars {
		out[i] = b.Low.InexactFloat64()
	}
	return out
}

// Volumes returns the volumes as float64.
func (s *Series) Volumes() []float64 {
	out := make([]float64, len(s.Bars))
	for i, b := range s.Bars {
		out[i] = b.Volume.InexactFloat64()
	}
	return out
}

// DetectCadence returns the most common delta between consecutive bars in
// milliseconds, sampling at most the first 2000 bars. Zero when undetectable.
func (s *Series) DetectCadence() int64 {
	if len(s.Bars) < 2 {
		return 0
	}
	limit := len(s.Bars)
	if limit > 2000 {
		limit = 2000
	}
	counts := make(map[int64]int)
	for i := 1; i < limit; i++ {
		d := s.Bars[i].Timestamp - s.Bars[i-1].Timestamp
		if d > 0 && d < int64(60*60*1000) {
			counts[d]++
		}
	}
	var best int64
	bestCount := 0
	for d, c := range counts {
		if c > bestCount {
			bestCount = c
			best = d
		}
	}
	return best
}
