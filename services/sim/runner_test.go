package sim

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"backtest-engine/services/indicator"
	"backtest-engine/services/marketdata"
	"backtest-engine/services/signal"
)

// predStub hands out fixed predictions by bar index.
type predStub map[int]signal.Prediction

func (p predStub) Predict(i int) (signal.Prediction, bool) {
	pr, ok := p[i]
	return pr, ok
}

func long(conf float64) signal.Prediction {
	return signal.Prediction{Direction: signal.Long, Confidence: conf}
}

func short(conf float64) signal.Prediction {
	return signal.Prediction{Direction: signal.Short, Confidence: conf}
}

func series(t *testing.T, ohlc ...[4]float64) *marketdata.Series {
	t.Helper()
	bars := make([]marketdata.Bar, len(ohlc))
	for i, row := range ohlc {
		b := bar(row[0], row[1], row[2], row[3])
		b.Timestamp = 1700000000000 + int64(i)*60000
		b.Volume = decimal.NewFromInt(1000)
		bars[i] = b
	}
	s, err := marketdata.NewSeries("TESTUSDT", bars)
	if err != nil {
		t.Fatalf("NewSeries: %v", err)
	}
	return s
}

func runWith(t *testing.T, s *marketdata.Series, cfg Config, pred predStub) *RunResult {
	t.Helper()
	gen := signal.NewGenerator(signal.GeneratorConfig{})
	res, err := Run(context.Background(), s, indicator.NewSet(s.Len()), gen, pred, cfg, zap.NewNop())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	return res
}

func TestLongTakeProfitAtConfiguredOffset(t *testing.T) {
	s := series(t,
		[4]float64{100, 105, 99, 102},
		[4]float64{102, 104, 101, 103},
		[4]float64{103, 110, 102, 109},
	)
	cfg := DefaultConfig()
	cfg.StopLossPct = 0.02
	cfg.TakeProfitPct = 0.07

	res := runWith(t, s, cfg, predStub{0: long(0.9)})

	if len(res.Trades) != 1 {
		t.Fatalf("trades = %d, want 1", len(res.Trades))
	}
	tr := res.Trades[0]
	if tr.Reason != ExitTakeProfit {
		t.Fatalf("reason = %s, want %s", tr.Reason, ExitTakeProfit)
	}
	if !tr.EntryPrice.Equal(decimal.RequireFromString("102")) {
		t.Errorf("entry = %s, want 102", tr.EntryPrice)
	}
	if !tr.ExitPrice.Equal(decimal.RequireFromString("109.14")) {
		t.Errorf("exit = %s, want 109.14", tr.ExitPrice)
	}
	if !tr.PnL.Equal(decimal.RequireFromString("7.14")) {
		t.Errorf("pnl = %s, want 7.14", tr.PnL)
	}
	if tr.ExitIndex != 2 || tr.BarsHeld != 2 {
		t.Errorf("exit index/bars held = %d/%d, want 2/2", tr.ExitIndex, tr.BarsHeld)
	}
	if !res.FinalEquity.Equal(decimal.RequireFromString("10007.14")) {
		t.Errorf("final equity = %s, want 10007.14", res.FinalEquity)
	}
}

func TestSameBarPriority(t *testing.T) {
	// Bar 1 contains both the 2% stop (98) and the 7% take (107).
	mk := func() *marketdata.Series {
		return series(t,
			[4]float64{100, 101, 99, 100},
			[4]float64{100, 108, 97, 100},
			[4]float64{100, 101, 99, 100},
		)
	}

	cfg := DefaultConfig()
	cfg.SameBarPriority = StopLossFirst
	res := runWith(t, mk(), cfg, predStub{0: long(0.9)})
	if got := res.Trades[0].Reason; got != ExitStopLoss {
		t.Errorf("stop-first reason = %s, want %s", got, ExitStopLoss)
	}
	if !res.Trades[0].ExitPrice.Equal(decimal.RequireFromString("98")) {
		t.Errorf("stop-first exit = %s, want 98", res.Trades[0].ExitPrice)
	}

	cfg.SameBarPriority = TakeProfitFirst
	res = runWith(t, mk(), cfg, predStub{0: long(0.9)})
	if got := res.Trades[0].Reason; got != ExitTakeProfit {
		t.Errorf("take-first reason = %s, want %s", got, ExitTakeProfit)
	}
	if !res.Trades[0].ExitPrice.Equal(decimal.RequireFromString("107")) {
		t.Errorf("take-first exit = %s, want 107", res.Trades[0].ExitPrice)
	}
}

func TestEndOfDataForcesClose(t *testing.T) {
	s := series(t,
		[4]float64{100, 101, 99, 100},
		[4]float64{100, 103, 100, 102},
		[4]float64{102, 105, 101, 104},
	)
	cfg := DefaultConfig()
	cfg.StopLossPct = 0.5
	cfg.TakeProfitPct = 0.9

	res := runWith(t, s, cfg, predStub{0: long(0.9)})

	if len(res.Trades) != 1 {
		t.Fatalf("trades = %d, want 1", len(res.Trades))
	}
	tr := res.Trades[0]
	if tr.Reason != ExitEndOfData {
		t.Errorf("reason = %s, want %s", tr.Reason, ExitEndOfData)
	}
	if !tr.ExitPrice.Equal(decimal.RequireFromString("104")) {
		t.Errorf("exit = %s, want last close 104", tr.ExitPrice)
	}
	if !res.FinalEquity.Equal(decimal.RequireFromString("10004")) {
		t.Errorf("final equity = %s, want 10004", res.FinalEquity)
	}
}

func TestSignalReversalClosesLong(t *testing.T) {
	s := series(t,
		[4]float64{100, 101, 99, 100},
		[4]float64{100, 103, 100, 102},
		[4]float64{102, 111, 101, 110},
		[4]float64{110, 111, 108, 109},
	)
	cfg := DefaultConfig()
	cfg.StopLossPct = 0.5
	cfg.TakeProfitPct = 0.9

	res := runWith(t, s, cfg, predStub{0: long(0.9), 2: short(0.9), 3: short(0.9)})

	if len(res.Trades) != 2 {
		t.Fatalf("trades = %d, want long close plus short open", len(res.Trades))
	}
	first := res.Trades[0]
	if first.Reason != ExitSignalReversal {
		t.Errorf("reason = %s, want %s", first.Reason, ExitSignalReversal)
	}
	if !first.ExitPrice.Equal(decimal.RequireFromString("110")) {
		t.Errorf("exit = %s, want close 110", first.ExitPrice)
	}
	// Reversal closes on bar 2; the short opens on bar 3 at the earliest.
	second := res.Trades[1]
	if second.Direction != signal.Short || second.EntryIndex != 3 {
		t.Errorf("second trade = %s at index %d, want SHORT at 3", second.Direction, second.EntryIndex)
	}
}

func TestCloseOnFlat(t *testing.T) {
	s := series(t,
		[4]float64{100, 101, 99, 100},
		[4]float64{100, 103, 100, 102},
		[4]float64{102, 104, 101, 103},
	)
	cfg := DefaultConfig()
	cfg.StopLossPct = 0.5
	cfg.TakeProfitPct = 0.9
	cfg.CloseOnFlat = true

	// Prediction only on bar 0: bars 1+ generate Flat.
	res := runWith(t, s, cfg, predStub{0: long(0.9)})

	if len(res.Trades) != 1 {
		t.Fatalf("trades = %d, want 1", len(res.Trades))
	}
	tr := res.Trades[0]
	if tr.Reason != ExitSignalReversal || tr.ExitIndex != 1 {
		t.Errorf("trade = %s at %d, want %s at 1", tr.Reason, tr.ExitIndex, ExitSignalReversal)
	}
}

func TestCloseOnFlatFiresOnFilterBlockedSignal(t *testing.T) {
	s := series(t,
		[4]float64{100, 101, 99, 100},
		[4]float64{100, 103, 100, 102},
		[4]float64{102, 104, 101, 103},
	)
	cfg := DefaultConfig()
	cfg.StopLossPct = 0.5
	cfg.TakeProfitPct = 0.9
	cfg.CloseOnFlat = true

	// The filter admits the entry on bar 0 and blocks every later candidate,
	// so bar 1 carries a Flat signal with BlockedBy set. A blocked candidate
	// is Flat like any other and must liquidate the open position.
	gen := signal.NewGenerator(signal.GeneratorConfig{
		Filters: []signal.Filter{{
			Name: "first_bar_only",
			Pass: func(in signal.FilterInput) bool { return in.Index == 0 },
		}},
	})
	pred := predStub{0: long(0.9), 1: long(0.9)}
	res, err := Run(context.Background(), s, indicator.NewSet(s.Len()), gen, pred, cfg, zap.NewNop())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if len(res.Trades) != 1 {
		t.Fatalf("trades = %d, want 1", len(res.Trades))
	}
	tr := res.Trades[0]
	if tr.Reason != ExitSignalReversal || tr.ExitIndex != 1 {
		t.Errorf("trade = %s at %d, want %s at 1", tr.Reason, tr.ExitIndex, ExitSignalReversal)
	}
}

func TestMaxHoldBars(t *testing.T) {
	s := series(t,
		[4]float64{100, 101, 99, 100},
		[4]float64{100, 102, 100, 101},
		[4]float64{101, 103, 100, 102},
		[4]float64{102, 104, 101, 103},
	)
	cfg := DefaultConfig()
	cfg.StopLossPct = 0.5
	cfg.TakeProfitPct = 0.9
	cfg.MaxHoldBars = 2

	res := runWith(t, s, cfg, predStub{0: long(0.9)})

	if len(res.Trades) != 1 {
		t.Fatalf("trades = %d, want 1", len(res.Trades))
	}
	tr := res.Trades[0]
	if tr.Reason != ExitMaxHold {
		t.Errorf("reason = %s, want %s", tr.Reason, ExitMaxHold)
	}
	if tr.ExitIndex != 2 || tr.BarsHeld != 2 {
		t.Errorf("exit index/bars held = %d/%d, want 2/2", tr.ExitIndex, tr.BarsHeld)
	}
}

func TestTrailingStopRatchetsAndReports(t *testing.T) {
	s := series(t,
		[4]float64{100, 101, 99, 100},
		[4]float64{100, 120, 100, 118},
		[4]float64{118, 119, 110, 112},
	)
	cfg := DefaultConfig()
	cfg.StopLossPct = 0.10
	cfg.TakeProfitPct = 0
	cfg.TrailingStop = true
	cfg.TrailingOffsetPct = 0.05

	res := runWith(t, s, cfg, predStub{0: long(0.9)})

	if len(res.Trades) != 1 {
		t.Fatalf("trades = %d, want 1", len(res.Trades))
	}
	tr := res.Trades[0]
	if tr.Reason != ExitTrailingStop {
		t.Fatalf("reason = %s, want %s", tr.Reason, ExitTrailingStop)
	}
	// Stop ratcheted to 120*0.95 = 114 after bar 1, hit on bar 2.
	if !tr.ExitPrice.Equal(decimal.RequireFromString("114")) {
		t.Errorf("exit = %s, want 114", tr.ExitPrice)
	}

	adjusted := false
	for _, e := range res.Events {
		if e.Type == EventTrailingAdjust {
			adjusted = true
		}
	}
	if !adjusted {
		t.Error("no TRAILING_ADJUST event recorded")
	}
}

func TestTrailingStopNeverLoosens(t *testing.T) {
	// Price never makes a new favorable extreme after bar 1, so the stop
	// must stay where the first ratchet put it.
	s := series(t,
		[4]float64{100, 101, 99, 100},
		[4]float64{100, 120, 100, 118},
		[4]float64{118, 118, 115, 116},
		[4]float64{116, 117, 113, 115},
	)
	cfg := DefaultConfig()
	cfg.StopLossPct = 0.10
	cfg.TakeProfitPct = 0
	cfg.TrailingStop = true
	cfg.TrailingOffsetPct = 0.05

	res := runWith(t, s, cfg, predStub{0: long(0.9)})

	if res.Trades[0].Reason != ExitTrailingStop {
		t.Fatalf("reason = %s, want %s", res.Trades[0].Reason, ExitTrailingStop)
	}
	if !res.Trades[0].ExitPrice.Equal(decimal.RequireFromString("114")) {
		t.Errorf("exit = %s, want 114", res.Trades[0].ExitPrice)
	}
}

func TestCommissionAndSlippage(t *testing.T) {
	s := series(t,
		[4]float64{100, 101, 99, 100},
		[4]float64{100, 112, 100, 110},
	)
	cfg := DefaultConfig()
	cfg.StopLossPct = 0.5
	cfg.TakeProfitPct = 0
	cfg.CommissionPct = 0.001
	cfg.SlippagePct = 0.001

	res := runWith(t, s, cfg, predStub{0: long(0.9)})

	tr := res.Trades[0]
	// Entry 100*1.001=100.1, exit 110*0.999=109.89 on END_OF_DATA.
	if !tr.EntryPrice.Equal(decimal.RequireFromString("100.1")) {
		t.Errorf("entry = %s, want 100.1", tr.EntryPrice)
	}
	if !tr.ExitPrice.Equal(decimal.RequireFromString("109.89")) {
		t.Errorf("exit = %s, want 109.89", tr.ExitPrice)
	}
	if !tr.Commission.Equal(decimal.RequireFromString("0.20999")) {
		t.Errorf("commission = %s, want 0.20999", tr.Commission)
	}
	if !tr.PnL.Equal(decimal.RequireFromString("9.58001")) {
		t.Errorf("pnl = %s, want 9.58001", tr.PnL)
	}
}

func TestShortRoundTrip(t *testing.T) {
	s := series(t,
		[4]float64{100, 101, 99, 100},
		[4]float64{100, 101, 92, 93},
	)
	cfg := DefaultConfig()
	cfg.StopLossPct = 0.02
	cfg.TakeProfitPct = 0.07

	res := runWith(t, s, cfg, predStub{0: short(0.9)})

	tr := res.Trades[0]
	if tr.Direction != signal.Short {
		t.Fatalf("direction = %s, want SHORT", tr.Direction)
	}
	if tr.Reason != ExitTakeProfit {
		t.Fatalf("reason = %s, want %s", tr.Reason, ExitTakeProfit)
	}
	// Short entry 100: take at 93, hit by bar 1 low 92.
	if !tr.ExitPrice.Equal(decimal.RequireFromString("93")) {
		t.Errorf("exit = %s, want 93", tr.ExitPrice)
	}
	if !tr.PnL.Equal(decimal.RequireFromString("7")) {
		t.Errorf("pnl = %s, want 7", tr.PnL)
	}
}

func TestFixedFractionalSizing(t *testing.T) {
	s := series(t,
		[4]float64{100, 101, 99, 100},
		[4]float64{100, 101, 99, 100},
	)
	cfg := DefaultConfig()
	cfg.SizingMode = FixedFractional
	cfg.RiskFraction = 0.01
	cfg.StopLossPct = 0.02
	cfg.TakeProfitPct = 0

	res := runWith(t, s, cfg, predStub{0: long(0.9)})

	// Equity 10000, risk 1% = 100, risk per unit 2 => 50 units.
	if !res.Trades[0].Quantity.Equal(decimal.RequireFromString("50")) {
		t.Errorf("quantity = %s, want 50", res.Trades[0].Quantity)
	}
}

func TestRiskClampApplied(t *testing.T) {
	s := series(t,
		[4]float64{100, 101, 99, 100},
		[4]float64{100, 101, 99, 100},
	)
	cfg := DefaultConfig()
	cfg.InitialCapital = decimal.NewFromInt(1000)
	cfg.FixedQuantity = decimal.NewFromInt(1000)
	cfg.StopLossPct = 0.02
	cfg.TakeProfitPct = 0

	res := runWith(t, s, cfg, predStub{0: long(0.9)})

	// Worst case 1000*2 = 2000 exceeds 1000; clamp to 500 units.
	if !res.Trades[0].Quantity.Equal(decimal.RequireFromString("500")) {
		t.Errorf("quantity = %s, want 500", res.Trades[0].Quantity)
	}
	clamped := false
	for _, e := range res.Events {
		if e.Type == EventRiskClampApplied {
			clamped = true
		}
	}
	if !clamped {
		t.Error("no RISK_CLAMP_APPLIED event recorded")
	}
}

func TestEquityCurveOnePointPerBar(t *testing.T) {
	s := series(t,
		[4]float64{100, 105, 99, 102},
		[4]float64{102, 104, 101, 103},
		[4]float64{103, 110, 102, 109},
	)
	res := runWith(t, s, DefaultConfig(), predStub{0: long(0.9)})

	if len(res.EquityCurve) != s.Len() {
		t.Fatalf("curve length = %d, want %d", len(res.EquityCurve), s.Len())
	}
	for i, p := range res.EquityCurve {
		if p.Index != i {
			t.Errorf("point %d has index %d", i, p.Index)
		}
	}
	// Bar 1 marks the open position at close 103: 10000 + (103-102).
	if !res.EquityCurve[1].Equity.Equal(decimal.RequireFromString("10001")) {
		t.Errorf("equity[1] = %s, want 10001", res.EquityCurve[1].Equity)
	}
}

func TestNoSignalsNoTrades(t *testing.T) {
	s := series(t,
		[4]float64{100, 101, 99, 100},
		[4]float64{100, 101, 99, 100},
	)
	res := runWith(t, s, DefaultConfig(), predStub{})

	if len(res.Trades) != 0 {
		t.Fatalf("trades = %d, want 0", len(res.Trades))
	}
	for _, p := range res.EquityCurve {
		if !p.Equity.Equal(decimal.NewFromInt(10000)) {
			t.Errorf("equity = %s, want flat 10000", p.Equity)
		}
	}
}

func TestLowConfidenceDoesNotOpen(t *testing.T) {
	s := series(t,
		[4]float64{100, 101, 99, 100},
		[4]float64{100, 101, 99, 100},
	)
	cfg := DefaultConfig()
	cfg.MinConfidence = 0.6
	res := runWith(t, s, cfg, predStub{0: long(0.5)})
	if len(res.Trades) != 0 {
		t.Fatalf("trades = %d, want 0 below confidence threshold", len(res.Trades))
	}
}

func TestUndefinedRuleIndicatorsReportedOnce(t *testing.T) {
	s := series(t,
		[4]float64{100, 101, 99, 100},
		[4]float64{100, 101, 99, 100},
		[4]float64{100, 101, 99, 100},
	)
	res := runWith(t, s, DefaultConfig(), predStub{})

	count := map[string]int{}
	for _, e := range res.Events {
		if e.Type == EventUndefinedIndicator {
			count[e.Details["indicator"]]++
		}
	}
	for _, name := range []string{indicator.NameEMA20, indicator.NameSMA20} {
		if count[name] != 1 {
			t.Errorf("undefined events for %s = %d, want exactly 1", name, count[name])
		}
	}
}

func TestRunIsDeterministic(t *testing.T) {
	s := series(t,
		[4]float64{100, 105, 99, 102},
		[4]float64{102, 104, 101, 103},
		[4]float64{103, 110, 102, 109},
		[4]float64{109, 112, 105, 106},
		[4]float64{106, 108, 100, 101},
	)
	cfg := DefaultConfig()
	preds := predStub{0: long(0.9), 3: short(0.9)}

	a := runWith(t, s, cfg, preds)
	b := runWith(t, s, cfg, preds)
	a.RunID, b.RunID = "", ""

	aj, err := json.Marshal(a)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	bj, err := json.Marshal(b)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if string(aj) != string(bj) {
		t.Errorf("reruns differ:\n%s\n%s", aj, bj)
	}
}

func TestRunHonorsCancellation(t *testing.T) {
	s := series(t,
		[4]float64{100, 101, 99, 100},
		[4]float64{100, 101, 99, 100},
	)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	gen := signal.NewGenerator(signal.GeneratorConfig{})
	res, err := Run(ctx, s, indicator.NewSet(s.Len()), gen, nil, DefaultConfig(), zap.NewNop())
	if err != context.Canceled {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
	if res != nil {
		t.Error("cancelled run must not return a partial result")
	}
}

func TestRunRejectsInvalidConfig(t *testing.T) {
	s := series(t, [4]float64{100, 101, 99, 100})
	cfg := DefaultConfig()
	cfg.StopLossPct = 0

	gen := signal.NewGenerator(signal.GeneratorConfig{})
	_, err := Run(context.Background(), s, indicator.NewSet(s.Len()), gen, nil, cfg, zap.NewNop())
	var ice *InvalidConfigurationError
	if !errors.As(err, &ice) {
		t.Fatalf("err = %v, want InvalidConfigurationError", err)
	}
}
