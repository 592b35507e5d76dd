package sim

import (
	"errors"
	"strings"
	"testing"

	"github.com/shopspring/decimal"
)

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name      string
		mutate    func(*Config)
		wantField string
	}{
		{"default is valid", func(c *Config) {}, ""},
		{"zero capital", func(c *Config) { c.InitialCapital = decimal.Zero }, "initial_capital"},
		{"negative capital", func(c *Config) { c.InitialCapital = decimal.NewFromInt(-1) }, "initial_capital"},
		{"no stop at all", func(c *Config) { c.StopLossPct = 0 }, "stop_loss"},
		{"two stop offsets", func(c *Config) { c.StopATRMult = 2 }, "stop_loss"},
		{"two take offsets", func(c *Config) { c.TakeATRMult = 3 }, "take_profit"},
		{"stop pct too large", func(c *Config) { c.StopLossPct = 1.5 }, "stop_loss_pct"},
		{"confidence above one", func(c *Config) { c.MinConfidence = 1.1 }, "min_confidence"},
		{"fixed unit without quantity", func(c *Config) { c.FixedQuantity = decimal.Zero }, "fixed_quantity"},
		{"fractional without fraction", func(c *Config) { c.SizingMode = FixedFractional }, "risk_fraction"},
		{"fraction above one", func(c *Config) { c.SizingMode = FixedFractional; c.RiskFraction = 1.2 }, "risk_fraction"},
		{"commission out of range", func(c *Config) { c.CommissionPct = 1 }, "commission_pct"},
		{"slippage negative", func(c *Config) { c.SlippagePct = -0.01 }, "slippage_pct"},
		{"trailing without offset", func(c *Config) { c.TrailingStop = true }, "trailing_offset_pct"},
		{"negative hold limit", func(c *Config) { c.MaxHoldBars = -1 }, "max_hold_bars"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.wantField == "" {
				if err != nil {
					t.Fatalf("Validate() = %v, want nil", err)
				}
				return
			}
			var ice *InvalidConfigurationError
			if !errors.As(err, &ice) {
				t.Fatalf("Validate() = %v, want InvalidConfigurationError", err)
			}
			if ice.Field != tt.wantField {
				t.Errorf("field = %q, want %q", ice.Field, tt.wantField)
			}
		})
	}
}

func TestConfigATRStopAlone(t *testing.T) {
	cfg := DefaultConfig()
	cfg.StopLossPct = 0
	cfg.TakeProfitPct = 0
	cfg.StopATRMult = 2
	cfg.TakeATRMult = 3
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate() = %v, want nil", err)
	}
}

// A zero stop_loss_pct is valid when another stop mode carries the stop, so
// the out-of-range message must not claim zero is excluded.
func TestConfigStopPctMessageAllowsZero(t *testing.T) {
	cfg := DefaultConfig()
	cfg.StopLossPct = 1.5
	var ice *InvalidConfigurationError
	if err := cfg.Validate(); !errors.As(err, &ice) {
		t.Fatalf("Validate() = %v, want InvalidConfigurationError", err)
	}
	if !strings.Contains(ice.Reason, "[0,1)") {
		t.Errorf("reason = %q, want the [0,1) interval", ice.Reason)
	}
}
