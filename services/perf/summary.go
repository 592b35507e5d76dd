// Package perf computes aggregate statistics over a finished run. Everything
// here is a pure function of the trade list and equity curve; ratios that
// are undefined for the input (no trades, no losses, zero variance) are nil
// pointers, never a fabricated zero.
package perf

import (
	"math"
	"sort"

	"github.com/shopspring/decimal"
	"gonum.org/v1/gonum/stat"

	"backtest-engine/services/sim"
)

// annualization assumes daily bars; per-trade ratios use the conventional
// sqrt(252) factor.
const annualization = 252

// ReasonStats aggregates trades that share an exit reason.
type ReasonStats struct {
	Count  int     `json:"count"`
	Wins   int     `json:"wins"`
	AvgPnL float64 `json:"avg_pnl"`
}

// Summary is the immutable performance report of one run. AvgLoss is a
// positive magnitude; Expectancy combines it with AvgWin per trade.
type Summary struct {
	TotalReturn       float64                        `json:"total_return"`
	ClosedTrades      int                            `json:"closed_trades"`
	WinRate           *float64                       `json:"win_rate"`
	AvgWin            float64                        `json:"avg_win"`
	AvgLoss           float64                        `json:"avg_loss"`
	Expectancy        float64                        `json:"expectancy"`
	ProfitFactor      *float64                       `json:"profit_factor"`
	MaxDrawdown       float64                        `json:"max_drawdown"`
	Sharpe            *float64                       `json:"sharpe"`
	Sortino           *float64                       `json:"sortino"`
	VaR95             *float64                       `json:"var_95"`
	LongestWinStreak  int                            `json:"longest_win_streak"`
	LongestLossStreak int                            `json:"longest_loss_streak"`
	ByExitReason      map[sim.ExitReason]ReasonStats `json:"by_exit_reason"`
}

// Summarize reduces a run to its Summary. initial is the starting capital;
// the equity curve's first point can already carry an open position's
// unrealized value, so the curve alone cannot supply it.
func Summarize(initial decimal.Decimal, trades []sim.Trade, curve []sim.EquityPoint) Summary {
	s := Summary{
		ClosedTrades: len(trades),
		MaxDrawdown:  maxDrawdown(curve),
		ByExitReason: reasonStats(trades),
	}
	if len(curve) > 0 && initial.IsPositive() {
		final := curve[len(curve)-1].Equity
		s.TotalReturn, _ = final.Sub(initial).Div(initial).Float64()
	}
	if len(trades) == 0 {
		return s
	}

	var wins, losses int
	var winSum, lossSum float64
	returns := make([]float64, 0, len(trades))
	var curStreak, winStreak, lossStreak int
	var lastWin bool

	for _, t := range trades {
		pnl, _ := t.PnL.Float64()
		switch {
		case t.PnL.IsPositive():
			wins++
			winSum += pnl
		default:
			losses++
			lossSum += -pnl
		}

		notional := t.EntryPrice.Mul(t.Quantity)
		if notional.IsPositive() {
			r, _ := t.PnL.Div(notional).Float64()
			returns = append(returns, r)
		}

		isWin := t.PnL.IsPositive()
		if curStreak == 0 || isWin == lastWin {
			curStreak++
		} else {
			curStreak = 1
		}
		lastWin = isWin
		if isWin && curStreak > winStreak {
			winStreak = curStreak
		}
		if !isWin && curStreak > lossStreak {
			lossStreak = curStreak
		}
	}

	winRate := float64(wins) / float64(len(trades))
	s.WinRate = &winRate
	if wins > 0 {
		s.AvgWin = winSum / float64(wins)
	}
	if losses > 0 {
		s.AvgLoss = lossSum / float64(losses)
	}
	s.Expectancy = winRate*s.AvgWin - (1-winRate)*s.AvgLoss
	if lossSum > 0 {
		pf := winSum / lossSum
		s.ProfitFactor = &pf
	}
	s.LongestWinStreak = winStreak
	s.LongestLossStreak = lossStreak

	s.Sharpe, s.Sortino = riskRatios(returns)
	s.VaR95 = valueAtRisk(returns, 0.05)
	return s
}

// maxDrawdown is the deepest peak-to-trough equity fraction, found in one
// pass over the curve.
func maxDrawdown(curve []sim.EquityPoint) float64 {
	if len(curve) == 0 {
		return 0
	}
	// Seed the peak from the first point so curves that never cross zero
	// still report the drop from their own high-water mark.
	peak, _ := curve[0].Equity.Float64()
	var worst float64
	for _, p := range curve[1:] {
		eq, _ := p.Equity.Float64()
		if eq > peak {
			peak = eq
			continue
		}
		if peak != 0 {
			if dd := (peak - eq) / math.Abs(peak); dd > worst {
				worst = dd
			}
		}
	}
	return worst
}

// riskRatios computes annualized Sharpe and Sortino over per-trade log
// returns. Either ratio is nil when its denominator is degenerate.
func riskRatios(returns []float64) (sharpe, sortino *float64) {
	if len(returns) < 2 {
		return nil, nil
	}
	logs := make([]float64, 0, len(returns))
	for _, r := range returns {
		if r <= -1 {
			continue
		}
		logs = append(logs, math.Log1p(r))
	}
	if len(logs) < 2 {
		return nil, nil
	}

	mean, std := stat.MeanStdDev(logs, nil)
	if std > 0 {
		v := mean / std * math.Sqrt(annualization)
		sharpe = &v
	}

	var downsideSq float64
	for _, lr := range logs {
		if lr < 0 {
			downsideSq += lr * lr
		}
	}
	if downside := math.Sqrt(downsideSq / float64(len(logs))); downside > 0 {
		v := mean / downside * math.Sqrt(annualization)
		sortino = &v
	}
	return sharpe, sortino
}

// valueAtRisk returns the q-quantile of per-trade returns (q=0.05 gives the
// 95% VaR), nil when there are no usable returns.
func valueAtRisk(returns []float64, q float64) *float64 {
	if len(returns) == 0 {
		return nil
	}
	sorted := append([]float64(nil), returns...)
	sort.Float64s(sorted)
	v := stat.Quantile(q, stat.Empirical, sorted, nil)
	return &v
}

func reasonStats(trades []sim.Trade) map[sim.ExitReason]ReasonStats {
	if len(trades) == 0 {
		return nil
	}
	sums := make(map[sim.ExitReason]float64)
	out := make(map[sim.ExitReason]ReasonStats)
	for _, t := range trades {
		rs := out[t.Reason]
		rs.Count++
		if t.PnL.IsPositive() {
			rs.Wins++
		}
		pnl, _ := t.PnL.Float64()
		sums[t.Reason] += pnl
		out[t.Reason] = rs
	}
	for reason, rs := range out {
		rs.AvgPnL = sums[reason] / float64(rs.Count)
		out[reason] = rs
	}
	return out
}
