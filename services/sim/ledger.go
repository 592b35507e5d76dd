package sim

import (
	"github.com/shopspring/decimal"

	"backtest-engine/services/signal"
)

// EquityPoint is the account value observed at one bar: starting capital
// plus realized P&L plus the open position marked to that bar's close.
type EquityPoint struct {
	Index     int             `json:"index"`
	Timestamp int64           `json:"timestamp"`
	Equity    decimal.Decimal `json:"equity"`
}

// Ledger accumulates realized P&L from closed trades and produces exactly
// one equity point per bar. Realized results never change after a close;
// unrealized P&L is recomputed fresh each bar, never carried forward.
type Ledger struct {
	initial  decimal.Decimal
	realized decimal.Decimal
	trades   []Trade
	curve    []EquityPoint
}

func NewLedger(initialCapital decimal.Decimal) *Ledger {
	return &Ledger{initial: initialCapital}
}

// RecordTrade folds a closed trade's net P&L into the realized balance.
func (l *Ledger) RecordTrade(t Trade) {
	l.realized = l.realized.Add(t.PnL)
	l.trades = append(l.trades, t)
}

// Equity is the realized account value, excluding any open position.
func (l *Ledger) Equity() decimal.Decimal {
	return l.initial.Add(l.realized)
}

// Mark appends the equity point for bar i, valuing the open position (if
// any) at close. Mark must be called once per bar, in order.
func (l *Ledger) Mark(i int, ts int64, close decimal.Decimal, pos *Position) {
	equity := l.Equity()
	if pos != nil {
		var unrealized decimal.Decimal
		if pos.Direction == signal.Long {
			unrealized = close.Sub(pos.EntryPrice).Mul(pos.Quantity)
		} else {
			unrealized = pos.EntryPrice.Sub(close).Mul(pos.Quantity)
		}
		equity = equity.Add(unrealized).Sub(pos.entryCommission)
	}
	l.curve = append(l.curve, EquityPoint{Index: i, Timestamp: ts, Equity: equity})
}

func (l *Ledger) Trades() []Trade          { return l.trades }
func (l *Ledger) Curve() []EquityPoint     { return l.curve }
func (l *Ledger) Initial() decimal.Decimal { return l.initial }
