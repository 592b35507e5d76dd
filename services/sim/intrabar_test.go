package sim

import (
	"testing"

	"github.com/shopspring/decimal"

	"backtest-engine/services/marketdata"
)

func bar(open, high, low, close float64) marketdata.Bar {
	return marketdata.Bar{
		Open:  decimal.NewFromFloat(open),
		High:  decimal.NewFromFloat(high),
		Low:   decimal.NewFromFloat(low),
		Close: decimal.NewFromFloat(close),
	}
}

func TestResolveTouchLong(t *testing.T) {
	stop := decimal.NewFromFloat(98)
	take := decimal.NewFromFloat(107)

	tests := []struct {
		name     string
		bar      marketdata.Bar
		priority SameBarPriority
		want     Touch
	}{
		{"no touch", bar(100, 105, 99, 103), StopLossFirst, TouchNone},
		{"stop only", bar(100, 105, 97, 103), StopLossFirst, TouchStop},
		{"take only", bar(100, 108, 99, 103), StopLossFirst, TouchTake},
		{"both, stop first", bar(100, 108, 97, 103), StopLossFirst, TouchStop},
		{"both, take first", bar(100, 108, 97, 103), TakeProfitFirst, TouchTake},
		{"exact stop touch", bar(100, 105, 98, 103), StopLossFirst, TouchStop},
		{"exact take touch", bar(100, 107, 99, 103), StopLossFirst, TouchTake},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := resolveTouchLong(tt.bar, stop, take, true, tt.priority)
			if got != tt.want {
				t.Errorf("resolveTouchLong() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestResolveTouchShort(t *testing.T) {
	stop := decimal.NewFromFloat(102)
	take := decimal.NewFromFloat(93)

	tests := []struct {
		name     string
		bar      marketdata.Bar
		priority SameBarPriority
		want     Touch
	}{
		{"no touch", bar(100, 101, 95, 97), StopLossFirst, TouchNone},
		{"stop only", bar(100, 103, 95, 97), StopLossFirst, TouchStop},
		{"take only", bar(100, 101, 92, 97), StopLossFirst, TouchTake},
		{"both, stop first", bar(100, 103, 92, 97), StopLossFirst, TouchStop},
		{"both, take first", bar(100, 103, 92, 97), TakeProfitFirst, TouchTake},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := resolveTouchShort(tt.bar, stop, take, true, tt.priority)
			if got != tt.want {
				t.Errorf("resolveTouchShort() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestResolveTouchWithoutTake(t *testing.T) {
	stop := decimal.NewFromFloat(98)
	// High above any would-be take must not register when no take is set.
	if got := resolveTouchLong(bar(100, 150, 99, 120), stop, decimal.Decimal{}, false, StopLossFirst); got != TouchNone {
		t.Errorf("resolveTouchLong without take = %v, want TouchNone", got)
	}
}
