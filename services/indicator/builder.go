package indicator

import "backtest-engine/services/marketdata"

// Canonical indicator names used by the built-in signal rules and filters.
const (
	NameSMA20      = "sma_20"
	NameEMA20      = "ema_20"
	NameRSI        = "rsi"
	NameMACD       = "macd"
	NameMACDSignal = "macd_signal"
	NameBBUpper    = "bb_upper"
	NameBBLower    = "bb_lower"
	NameATR        = "atr"
	NameATRMean    = "atr_mean"
	NameOBV        = "obv"
	NameADX        = "adx"
	NameVolumeMean = "volume_mean"
)

// BuildStandardSet computes the standard indicator set over a bar series.
// All series are precomputed before the simulation starts; the simulation
// loop itself does no indicator math.
func BuildStandardSet(series *marketdata.Series) *Set {
	closes := series.Closes()
	highs := series.Highs()
	lows := series.Lows()
	volumes := series.Volumes()

	set := NewSet(series.Len())
	set.Add(NameSMA20, SMA(closes, 20))
	set.Add(NameEMA20, EMA(closes, 20))
	set.Add(NameRSI, RSI(closes, 14))

	macd, macdSignal := MACD(closes, 12, 26, 9)
	set.Add(NameMACD, macd)
	set.Add(NameMACDSignal, macdSignal)

	upper, lower := Bollinger(closes, 20, 2.0)
	set.Add(NameBBUpper, upper)
	set.Add(NameBBLower, lower)

	atr := ATR(highs, lows, closes, 14)
	set.Add(NameATR, atr)
	set.Add(NameATRMean, RollingMean(atr, 20))

	set.Add(NameOBV, OBV(closes, volumes))
	set.Add(NameADX, ADX(highs, lows, closes, 14))
	set.Add(NameVolumeMean, RollingMean(volumes, 20))
	return set
}
