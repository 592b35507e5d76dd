package sim

import (
	"github.com/shopspring/decimal"

	"backtest-engine/services/indicator"
	"backtest-engine/services/marketdata"
	"backtest-engine/services/signal"
)

// ExitReason explains why a trade was closed.
type ExitReason string

const (
	ExitStopLoss       ExitReason = "STOP_LOSS"
	ExitTakeProfit     ExitReason = "TAKE_PROFIT"
	ExitTrailingStop   ExitReason = "TRAILING_STOP"
	ExitSignalReversal ExitReason = "SIGNAL_REVERSAL"
	ExitMaxHold        ExitReason = "MAX_HOLD"
	ExitEndOfData      ExitReason = "END_OF_DATA"
)

// Position is the single open position of a run. At most one exists at any
// bar index.
type Position struct {
	Direction  signal.Direction
	EntryIndex int
	EntryTime  int64
	EntryPrice decimal.Decimal
	Quantity   decimal.Decimal
	Stop       decimal.Decimal
	Take       decimal.Decimal
	HasTake    bool

	entryCommission decimal.Decimal
	water           decimal.Decimal // favorable extreme since entry
	trailed         bool
}

// Trade is one completed round trip. PnL is net of commission, with slippage
// already embedded in the fill prices.
type Trade struct {
	Symbol     string           `json:"symbol"`
	Direction  signal.Direction `json:"direction"`
	EntryIndex int              `json:"entry_index"`
	EntryTime  int64            `json:"entry_time"`
	EntryPrice decimal.Decimal  `json:"entry_price"`
	ExitIndex  int              `json:"exit_index"`
	ExitTime   int64            `json:"exit_time"`
	ExitPrice  decimal.Decimal  `json:"exit_price"`
	Quantity   decimal.Decimal  `json:"quantity"`
	Reason     ExitReason       `json:"reason"`
	PnL        decimal.Decimal  `json:"pnl"`
	Commission decimal.Decimal  `json:"commission"`
	BarsHeld   int              `json:"bars_held"`
}

// machine drives the per-bar state transitions. Exits are always evaluated
// before entries, and a bar that closes a position never opens a new one.
type machine struct {
	cfg    Config
	ledger *Ledger
	events *EventLog
	pos    *Position

	one decimal.Decimal
}

func newMachine(cfg Config, ledger *Ledger, events *EventLog) *machine {
	return &machine{cfg: cfg, ledger: ledger, events: events, one: decimal.NewFromInt(1)}
}

// step processes bar i in priority order: protective exits, signal reversal,
// hold-limit expiry, trailing ratchet, then entry when flat.
func (m *machine) step(i int, bar marketdata.Bar, sig signal.Signal, ind *indicator.Set) {
	if m.pos != nil {
		if m.exitOnTouch(i, bar) {
			return
		}
		if m.exitOnReversal(i, bar, sig) {
			return
		}
		if m.exitOnHoldLimit(i, bar) {
			return
		}
		m.ratchetTrailing(i, bar)
		return
	}
	m.tryOpen(i, bar, sig, ind)
}

func (m *machine) exitOnTouch(i int, bar marketdata.Bar) bool {
	p := m.pos
	var touch Touch
	if p.Direction == signal.Long {
		touch = resolveTouchLong(bar, p.Stop, p.Take, p.HasTake, m.cfg.SameBarPriority)
	} else {
		touch = resolveTouchShort(bar, p.Stop, p.Take, p.HasTake, m.cfg.SameBarPriority)
	}
	switch touch {
	case TouchStop:
		reason := ExitStopLoss
		if p.trailed {
			reason = ExitTrailingStop
		}
		m.events.Append(Event{Index: i, Ts: bar.Timestamp, Type: EventStopHit, Details: map[string]string{
			"stop": p.Stop.String(),
		}})
		m.close(i, bar, m.exitFill(fillThroughGap(p.Direction.Opposite(), p.Stop, bar)), reason)
		return true
	case TouchTake:
		m.events.Append(Event{Index: i, Ts: bar.Timestamp, Type: EventTakeProfitHit, Details: map[string]string{
			"take": p.Take.String(),
		}})
		m.close(i, bar, m.exitFill(fillThroughGap(p.Direction, p.Take, bar)), ExitTakeProfit)
		return true
	}
	return false
}

func (m *machine) exitOnReversal(i int, bar marketdata.Bar, sig signal.Signal) bool {
	p := m.pos
	reverse := sig.Direction == p.Direction.Opposite() && sig.Confidence >= m.cfg.MinConfidence
	flatClose := m.cfg.CloseOnFlat && sig.Direction == signal.Flat
	if !reverse && !flatClose {
		return false
	}
	m.close(i, bar, m.exitFill(bar.Close), ExitSignalReversal)
	return true
}

func (m *machine) exitOnHoldLimit(i int, bar marketdata.Bar) bool {
	if m.cfg.MaxHoldBars <= 0 || i-m.pos.EntryIndex < m.cfg.MaxHoldBars {
		return false
	}
	m.close(i, bar, m.exitFill(bar.Close), ExitMaxHold)
	return true
}

// ratchetTrailing tightens the stop toward the bar's favorable extreme. The
// new level applies from the next bar; a bar's own extreme never triggers
// the stop it just set.
func (m *machine) ratchetTrailing(i int, bar marketdata.Bar) {
	if !m.cfg.TrailingStop {
		return
	}
	p := m.pos
	offset := decimal.NewFromFloat(m.cfg.TrailingOffsetPct)
	if p.Direction == signal.Long {
		if bar.High.GreaterThan(p.water) {
			p.water = bar.High
		}
		next := p.water.Mul(m.one.Sub(offset))
		if next.GreaterThan(p.Stop) {
			p.Stop = next
			p.trailed = true
			m.events.Append(Event{Index: i, Ts: bar.Timestamp, Type: EventTrailingAdjust, Details: map[string]string{
				"stop": p.Stop.String(),
			}})
		}
		return
	}
	if bar.Low.LessThan(p.water) {
		p.water = bar.Low
	}
	next := p.water.Mul(m.one.Add(offset))
	if next.LessThan(p.Stop) {
		p.Stop = next
		p.trailed = true
		m.events.Append(Event{Index: i, Ts: bar.Timestamp, Type: EventTrailingAdjust, Details: map[string]string{
			"stop": p.Stop.String(),
		}})
	}
}

func (m *machine) tryOpen(i int, bar marketdata.Bar, sig signal.Signal, ind *indicator.Set) {
	if sig.Direction == signal.Flat || sig.Confidence < m.cfg.MinConfidence {
		return
	}

	entry := m.entryFill(bar.Close, sig.Direction)
	stop, take, hasTake, ok := m.protectiveLevels(i, bar.Timestamp, entry, sig.Direction, ind)
	if !ok {
		return
	}

	qty := m.quantity(i, bar.Timestamp, entry, stop)
	if qty == nil {
		return
	}
	commission := entry.Mul(*qty).Mul(decimal.NewFromFloat(m.cfg.CommissionPct))

	m.pos = &Position{
		Direction:       sig.Direction,
		EntryIndex:      i,
		EntryTime:       bar.Timestamp,
		EntryPrice:      entry,
		Quantity:        *qty,
		Stop:            stop,
		Take:            take,
		HasTake:         hasTake,
		entryCommission: commission,
		water:           entry,
	}
	m.events.Append(Event{Index: i, Ts: bar.Timestamp, Type: EventEntry, Details: map[string]string{
		"direction": sig.Direction.String(),
		"price":     entry.String(),
		"quantity":  qty.String(),
		"stop":      stop.String(),
	}})
}

// protectiveLevels derives the stop and take prices from the configured
// offsets. ATR-based offsets need a defined ATR at the entry bar; an
// undefined value vetoes the entry and emits an event.
func (m *machine) protectiveLevels(i int, ts int64, entry decimal.Decimal, dir signal.Direction, ind *indicator.Set) (stop, take decimal.Decimal, hasTake, ok bool) {
	var atr decimal.Decimal
	if m.cfg.usesATR() {
		v, defined := ind.Value(indicator.NameATR, i)
		if !defined {
			m.events.Append(Event{Index: i, Ts: ts, Type: EventUndefinedIndicator, Details: map[string]string{
				"indicator": indicator.NameATR,
			}})
			return decimal.Decimal{}, decimal.Decimal{}, false, false
		}
		atr = decimal.NewFromFloat(v)
	}

	var stopDist, takeDist decimal.Decimal
	switch {
	case m.cfg.StopLossPct > 0:
		stopDist = entry.Mul(decimal.NewFromFloat(m.cfg.StopLossPct))
	case m.cfg.StopATRMult > 0:
		stopDist = atr.Mul(decimal.NewFromFloat(m.cfg.StopATRMult))
	default:
		stopDist = m.cfg.StopAbs
	}
	switch {
	case m.cfg.TakeProfitPct > 0:
		takeDist, hasTake = entry.Mul(decimal.NewFromFloat(m.cfg.TakeProfitPct)), true
	case m.cfg.TakeATRMult > 0:
		takeDist, hasTake = atr.Mul(decimal.NewFromFloat(m.cfg.TakeATRMult)), true
	case m.cfg.TakeAbs.IsPositive():
		takeDist, hasTake = m.cfg.TakeAbs, true
	}

	if dir == signal.Long {
		stop = entry.Sub(stopDist)
		take = entry.Add(takeDist)
	} else {
		stop = entry.Add(stopDist)
		take = entry.Sub(takeDist)
	}
	if !hasTake {
		take = decimal.Decimal{}
	}
	return stop, take, hasTake, true
}

// quantity sizes the entry and clamps it so the worst-case loss cannot
// exceed current equity. A clamp is reported, not fatal.
func (m *machine) quantity(i int, ts int64, entry, stop decimal.Decimal) *decimal.Decimal {
	equity := m.ledger.Equity()
	if !equity.IsPositive() {
		return nil
	}
	riskPerUnit := entry.Sub(stop).Abs()
	if !riskPerUnit.IsPositive() {
		riskPerUnit = entry
	}

	var qty decimal.Decimal
	switch m.cfg.SizingMode {
	case FixedFractional:
		qty = equity.Mul(decimal.NewFromFloat(m.cfg.RiskFraction)).Div(riskPerUnit)
	default:
		qty = m.cfg.FixedQuantity
	}
	if !qty.IsPositive() {
		return nil
	}

	worstCase := qty.Mul(riskPerUnit)
	if worstCase.GreaterThan(equity) {
		clamped := equity.Div(riskPerUnit)
		m.events.Append(Event{Index: i, Ts: ts, Type: EventRiskClampApplied, Details: map[string]string{
			"requested": qty.String(),
			"clamped":   clamped.String(),
		}})
		qty = clamped
	}
	return &qty
}

func (m *machine) close(i int, bar marketdata.Bar, exitPrice decimal.Decimal, reason ExitReason) {
	p := m.pos
	exitCommission := exitPrice.Mul(p.Quantity).Mul(decimal.NewFromFloat(m.cfg.CommissionPct))

	var gross decimal.Decimal
	if p.Direction == signal.Long {
		gross = exitPrice.Sub(p.EntryPrice).Mul(p.Quantity)
	} else {
		gross = p.EntryPrice.Sub(exitPrice).Mul(p.Quantity)
	}
	commission := p.entryCommission.Add(exitCommission)

	trade := Trade{
		Symbol:     m.cfg.Symbol,
		Direction:  p.Direction,
		EntryIndex: p.EntryIndex,
		EntryTime:  p.EntryTime,
		EntryPrice: p.EntryPrice,
		ExitIndex:  i,
		ExitTime:   bar.Timestamp,
		ExitPrice:  exitPrice,
		Quantity:   p.Quantity,
		Reason:     reason,
		PnL:        gross.Sub(commission),
		Commission: commission,
		BarsHeld:   i - p.EntryIndex,
	}
	m.ledger.RecordTrade(trade)
	m.events.Append(Event{Index: i, Ts: bar.Timestamp, Type: EventExit, Details: map[string]string{
		"reason": string(reason),
		"price":  exitPrice.String(),
		"pnl":    trade.PnL.String(),
	}})
	m.pos = nil
}

// forceClose liquidates any open position at the last bar's close.
func (m *machine) forceClose(i int, bar marketdata.Bar) {
	if m.pos == nil {
		return
	}
	m.events.Append(Event{Index: i, Ts: bar.Timestamp, Type: EventForcedClose})
	m.close(i, bar, m.exitFill(bar.Close), ExitEndOfData)
}

// entryFill worsens the close by slippage in the direction of the trade.
func (m *machine) entryFill(close decimal.Decimal, dir signal.Direction) decimal.Decimal {
	slip := decimal.NewFromFloat(m.cfg.SlippagePct)
	if dir == signal.Long {
		return close.Mul(m.one.Add(slip))
	}
	return close.Mul(m.one.Sub(slip))
}

// exitFill worsens the exit price against the open position.
func (m *machine) exitFill(price decimal.Decimal) decimal.Decimal {
	slip := decimal.NewFromFloat(m.cfg.SlippagePct)
	if m.pos.Direction == signal.Long {
		return price.Mul(m.one.Sub(slip))
	}
	return price.Mul(m.one.Add(slip))
}

// fillThroughGap returns the trigger price, or the open when the bar gapped
// past the level before trading began. dir is the side the fill favors
// moving toward: Long means the level is hit from below.
func fillThroughGap(dir signal.Direction, level decimal.Decimal, bar marketdata.Bar) decimal.Decimal {
	if dir == signal.Long {
		if bar.Open.GreaterThanOrEqual(level) {
			return bar.Open
		}
		return level
	}
	if bar.Open.LessThanOrEqual(level) {
		return bar.Open
	}
	return level
}
