package sim

import "github.com/shopspring/decimal"

// SameBarPriority decides which exit wins when a bar's range contains both
// the stop and the take price. The bar gives no intrabar ordering, so the
// choice is an explicit policy rather than a guess.
type SameBarPriority int

const (
	// StopLossFirst is the default: when both levels sit inside one bar,
	// assume the worse outcome.
	StopLossFirst SameBarPriority = iota
	TakeProfitFirst
)

func (p SameBarPriority) String() string {
	if p == TakeProfitFirst {
		return "take_profit_first"
	}
	return "stop_loss_first"
}

// SizingMode selects how the entry quantity is derived.
type SizingMode int

const (
	// FixedUnit trades a constant quantity per entry.
	FixedUnit SizingMode = iota
	// FixedFractional risks a fraction of current equity between entry
	// and stop.
	FixedFractional
)

func (m SizingMode) String() string {
	if m == FixedFractional {
		return "fixed_fractional"
	}
	return "fixed_unit"
}

// Config holds every knob of a single run. Exactly one stop offset and at
// most one take offset may be set; offsets are mutually exclusive per side.
type Config struct {
	Symbol         string          `json:"symbol"`
	InitialCapital decimal.Decimal `json:"initial_capital"`

	// Stop/take offsets. Per side, set exactly one of: percent of entry
	// price, ATR multiple, or absolute price distance. The take side may
	// also be left unset entirely.
	StopLossPct   float64         `json:"stop_loss_pct,omitempty"`
	TakeProfitPct float64         `json:"take_profit_pct,omitempty"`
	StopATRMult   float64         `json:"stop_atr_mult,omitempty"`
	TakeATRMult   float64         `json:"take_atr_mult,omitempty"`
	StopAbs       decimal.Decimal `json:"stop_abs,omitempty"`
	TakeAbs       decimal.Decimal `json:"take_abs,omitempty"`

	MinConfidence float64 `json:"min_confidence"`

	SizingMode    SizingMode      `json:"sizing_mode"`
	FixedQuantity decimal.Decimal `json:"fixed_quantity,omitempty"`
	RiskFraction  float64         `json:"risk_fraction,omitempty"`

	CloseOnFlat     bool            `json:"close_on_flat"`
	SameBarPriority SameBarPriority `json:"same_bar_priority"`

	CommissionPct float64 `json:"commission_pct"`
	SlippagePct   float64 `json:"slippage_pct"`

	TrailingStop      bool    `json:"trailing_stop"`
	TrailingOffsetPct float64 `json:"trailing_offset_pct,omitempty"`

	// MaxHoldBars force-closes a position held that many bars; zero
	// disables the limit.
	MaxHoldBars int `json:"max_hold_bars,omitempty"`
}

// DefaultConfig mirrors the conservative baseline: 2% stop, 7% target,
// stop-first ambiguity, one unit per trade, no costs.
func DefaultConfig() Config {
	return Config{
		InitialCapital:  decimal.NewFromInt(10000),
		StopLossPct:     0.02,
		TakeProfitPct:   0.07,
		MinConfidence:   0.6,
		SizingMode:      FixedUnit,
		FixedQuantity:   decimal.NewFromInt(1),
		SameBarPriority: StopLossFirst,
	}
}

// WithDefaults fills the fields a caller may reasonably omit: capital and,
// under fixed-unit sizing, the per-trade quantity. Explicit values win.
func (c Config) WithDefaults() Config {
	if c.InitialCapital.IsZero() {
		c.InitialCapital = decimal.NewFromInt(10000)
	}
	if c.SizingMode == FixedUnit && c.FixedQuantity.IsZero() {
		c.FixedQuantity = decimal.NewFromInt(1)
	}
	return c
}

// Validate rejects configurations that cannot produce a well-defined run.
// It must pass before the first bar is touched.
func (c Config) Validate() error {
	if !c.InitialCapital.IsPositive() {
		return invalidConfig("initial_capital", "must be positive")
	}

	stops := countSet(c.StopLossPct > 0, c.StopATRMult > 0, c.StopAbs.IsPositive())
	if stops == 0 {
		return invalidConfig("stop_loss", "one of stop_loss_pct, stop_atr_mult, stop_abs is required")
	}
	if stops > 1 {
		return invalidConfig("stop_loss", "stop_loss_pct, stop_atr_mult and stop_abs are mutually exclusive")
	}
	takes := countSet(c.TakeProfitPct > 0, c.TakeATRMult > 0, c.TakeAbs.IsPositive())
	if takes > 1 {
		return invalidConfig("take_profit", "take_profit_pct, take_atr_mult and take_abs are mutually exclusive")
	}
	if c.StopLossPct < 0 || c.StopLossPct >= 1 {
		return invalidConfig("stop_loss_pct", "must be in [0,1); zero means another stop mode is in use")
	}
	if c.TakeProfitPct < 0 {
		return invalidConfig("take_profit_pct", "must not be negative")
	}
	if c.StopATRMult < 0 || c.TakeATRMult < 0 {
		return invalidConfig("atr_mult", "must not be negative")
	}
	if c.StopAbs.IsNegative() || c.TakeAbs.IsNegative() {
		return invalidConfig("abs_offset", "must not be negative")
	}

	if c.MinConfidence < 0 || c.MinConfidence > 1 {
		return invalidConfig("min_confidence", "must be in [0,1]")
	}

	switch c.SizingMode {
	case FixedUnit:
		if !c.FixedQuantity.IsPositive() {
			return invalidConfig("fixed_quantity", "must be positive for fixed_unit sizing")
		}
	case FixedFractional:
		if c.RiskFraction <= 0 || c.RiskFraction > 1 {
			return invalidConfig("risk_fraction", "must be in (0,1] for fixed_fractional sizing")
		}
	default:
		return invalidConfig("sizing_mode", "unknown sizing mode")
	}

	switch c.SameBarPriority {
	case StopLossFirst, TakeProfitFirst:
	default:
		return invalidConfig("same_bar_priority", "unknown priority")
	}

	if c.CommissionPct < 0 || c.CommissionPct >= 1 {
		return invalidConfig("commission_pct", "must be in [0,1)")
	}
	if c.SlippagePct < 0 || c.SlippagePct >= 1 {
		return invalidConfig("slippage_pct", "must be in [0,1)")
	}

	if c.TrailingStop && c.TrailingOffsetPct <= 0 {
		return invalidConfig("trailing_offset_pct", "must be positive when trailing_stop is enabled")
	}
	if c.TrailingOffsetPct < 0 || c.TrailingOffsetPct >= 1 {
		return invalidConfig("trailing_offset_pct", "must be in [0,1)")
	}
	if c.MaxHoldBars < 0 {
		return invalidConfig("max_hold_bars", "must not be negative")
	}
	return nil
}

// usesATR reports whether any offset needs an ATR value at entry time.
func (c Config) usesATR() bool {
	return c.StopATRMult > 0 || c.TakeATRMult > 0
}

func countSet(flags ...bool) int {
	n := 0
	for _, f := range flags {
		if f {
			n++
		}
	}
	return n
}
