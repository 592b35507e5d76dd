package signal

import (
	"fmt"
	"time"

	"backtest-engine/services/indicator"
	"backtest-engine/services/marketdata"
)

// FilterInput carries everything a filter may inspect for one bar. Filters
// never see future bars.
type FilterInput struct {
	Index      int
	Bar        marketdata.Bar
	Indicators *indicator.Set
	Prediction *Prediction
	Candidate  Signal
}

// Filter is a named pure predicate. Filters run in declared order; the first
// failure downgrades the candidate to Flat. Because every active filter must
// pass, the order only affects which name gets reported, not the outcome.
type Filter struct {
	Name string
	Pass func(in FilterInput) bool
}

// FilterChain builds the named built-in filters with their conventional
// parameters, in the given order. Unknown names are an error.
func FilterChain(names ...string) ([]Filter, error) {
	chain := make([]Filter, 0, len(names))
	for _, name := range names {
		switch name {
		case "trend":
			chain = append(chain, TrendFilter())
		case "momentum":
			chain = append(chain, MomentumFilter(30, 70))
		case "volume":
			chain = append(chain, VolumeFilter(1.0))
		case "volatility":
			chain = append(chain, MinVolatility(0.8))
		case "adx":
			chain = append(chain, ADXFilter(20))
		default:
			return nil, fmt.Errorf("unknown filter %q", name)
		}
	}
	return chain, nil
}

// MinConfidence rejects candidates below the threshold.
func MinConfidence(threshold float64) Filter {
	return Filter{
		Name: "min_confidence",
		Pass: func(in FilterInput) bool {
			return in.Candidate.Confidence >= threshold
		},
	}
}

// SessionWindow passes only bars whose UTC time of day falls within
// [start, end). Both are "HH:MM" strings.
func SessionWindow(start, end string) (Filter, error) {
	startMin, err := parseClock(start)
	if err != nil {
		return Filter{}, fmt.Errorf("session window start: %w", err)
	}
	endMin, err := parseClock(end)
	if err != nil {
		return Filter{}, fmt.Errorf("session window end: %w", err)
	}
	return Filter{
		Name: "session_window",
		Pass: func(in FilterInput) bool {
			t := time.UnixMilli(in.Bar.Timestamp).UTC()
			minutes := t.Hour()*60 + t.Minute()
			if startMin <= endMin {
				return minutes >= startMin && minutes < endMin
			}
			// Overnight session, e.g. 22:00-04:00.
			return minutes >= startMin || minutes < endMin
		},
	}, nil
}

func parseClock(s string) (int, error) {
	t, err := time.Parse("15:04", s)
	if err != nil {
		return 0, err
	}
	return t.Hour()*60 + t.Minute(), nil
}

// MinVolatility requires ATR to exceed a fraction of its rolling mean.
// Undefined ATR fails the filter: no volatility reading means no trade.
func MinVolatility(ratio float64) Filter {
	return Filter{
		Name: "min_volatility",
		Pass: func(in FilterInput) bool {
			atr, ok1 := in.Indicators.Value(indicator.NameATR, in.Index)
			mean, ok2 := in.Indicators.Value(indicator.NameATRMean, in.Index)
			if !ok1 || !ok2 {
				return false
			}
			return atr > mean*ratio
		},
	}
}

// TrendFilter requires the close to sit above either the SMA or the EMA for
// longs, and below for shorts.
func TrendFilter() Filter {
	return Filter{
		Name: "trend",
		Pass: func(in FilterInput) bool {
			closeP := in.Bar.Close.InexactFloat64()
			sma, okSMA := in.Indicators.Value(indicator.NameSMA20, in.Index)
			ema, okEMA := in.Indicators.Value(indicator.NameEMA20, in.Index)
			if !okSMA && !okEMA {
				return false
			}
			if in.Candidate.Direction == Short {
				return (okSMA && closeP < sma) || (okEMA && closeP < ema)
			}
			return (okSMA && closeP > sma) || (okEMA && closeP > ema)
		},
	}
}

// MomentumFilter passes when RSI sits inside the given band or MACD is above
// its signal line (below, for shorts).
func MomentumFilter(rsiLow, rsiHigh float64) Filter {
	return Filter{
		Name: "momentum",
		Pass: func(in FilterInput) bool {
			rsi, okRSI := in.Indicators.Value(indicator.NameRSI, in.Index)
			macd, okM := in.Indicators.Value(indicator.NameMACD, in.Index)
			sig, okS := in.Indicators.Value(indicator.NameMACDSignal, in.Index)

			rsiOK := okRSI && rsi > rsiLow && rsi < rsiHigh
			macdOK := false
			if okM && okS {
				if in.Candidate.Direction == Short {
					macdOK = macd < sig
				} else {
					macdOK = macd > sig
				}
			}
			return rsiOK || macdOK
		},
	}
}

// VolumeFilter requires the bar's volume to exceed a fraction of its rolling
// mean, or OBV to be rising.
func VolumeFilter(ratio float64) Filter {
	return Filter{
		Name: "volume",
		Pass: func(in FilterInput) bool {
			vol := in.Bar.Volume.InexactFloat64()
			mean, okMean := in.Indicators.Value(indicator.NameVolumeMean, in.Index)
			obv, okOBV := in.Indicators.Value(indicator.NameOBV, in.Index)
			prevOBV, okPrev := in.Indicators.Value(indicator.NameOBV, in.Index-1)

			volOK := okMean && vol > mean*ratio
			obvOK := okOBV && okPrev && obv > prevOBV
			return volOK || obvOK
		},
	}
}

// ADXFilter requires trend strength above the threshold.
func ADXFilter(threshold float64) Filter {
	return Filter{
		Name: "adx",
		Pass: func(in FilterInput) bool {
			adx, ok := in.Indicators.Value(indicator.NameADX, in.Index)
			return ok && adx > threshold
		},
	}
}
