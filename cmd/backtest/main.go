// Command backtest runs one simulation over a local CSV and prints the
// result document as JSON.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"backtest-engine/services/indicator"
	"backtest-engine/services/marketdata"
	"backtest-engine/services/predictor"
	"backtest-engine/services/report"
	"backtest-engine/services/signal"
	"backtest-engine/services/sim"
)

func main() {
	csvPath := flag.String("csv", "", "Path to OHLCV CSV (timestamp_ms,open,high,low,close,volume)")
	symbol := flag.String("symbol", "BTCUSDT", "Trading symbol")
	capital := flag.Float64("capital", 10000, "Initial capital")
	stopPct := flag.Float64("stop-pct", 0.02, "Stop loss as fraction of entry price")
	takePct := flag.Float64("take-pct", 0.07, "Take profit as fraction of entry price")
	stopATR := flag.Float64("stop-atr", 0, "Stop loss as ATR multiple (replaces -stop-pct)")
	takeATR := flag.Float64("take-atr", 0, "Take profit as ATR multiple (replaces -take-pct)")
	minConf := flag.Float64("min-conf", 0.6, "Minimum signal confidence to enter")
	priority := flag.String("priority", "stop_loss_first", "Same-bar ambiguity policy: stop_loss_first|take_profit_first")
	sizing := flag.String("sizing", "fixed_unit", "Sizing mode: fixed_unit|fixed_fractional")
	qty := flag.Float64("qty", 1, "Quantity per trade (fixed_unit)")
	riskFraction := flag.Float64("risk-fraction", 0.01, "Equity fraction at risk per trade (fixed_fractional)")
	commission := flag.Float64("commission", 0, "Commission fraction per side")
	slippage := flag.Float64("slippage", 0, "Slippage fraction per fill")
	closeOnFlat := flag.Bool("close-on-flat", false, "Close the open position on a flat signal")
	trailingOffset := flag.Float64("trailing-offset", 0, "Trailing stop offset fraction (enables trailing stop)")
	maxHold := flag.Int("max-hold", 0, "Force-close after this many bars held (0 disables)")
	session := flag.String("session", "", "UTC session window HH:MM-HH:MM")
	filters := flag.String("filters", "", "Comma-separated extra filters: trend,momentum,volume,volatility,adx")
	modelPath := flag.String("model", "", "Path to dumped XGBoost JSON model (optional)")
	upThreshold := flag.Float64("up", 0.6, "Model probability threshold for long")
	downThreshold := flag.Float64("down", 0.4, "Model probability threshold for short")
	outPath := flag.String("out", "", "Write full result JSON to this path instead of stdout")
	arrowTrades := flag.String("arrow-trades", "", "Write the trade table as Arrow IPC to this path")
	arrowEquity := flag.String("arrow-equity", "", "Write the equity curve as Arrow IPC to this path")
	cadence := flag.Int64("cadence-ms", 0, "Declared bar cadence in ms; gaps become fatal (0 skips the check)")
	verbose := flag.Bool("verbose", false, "Log at debug level")
	flag.Parse()

	logger := newLogger(*verbose)
	defer logger.Sync()

	if *csvPath == "" {
		logger.Fatal("missing -csv")
	}

	ctx := context.Background()

	series, err := marketdata.LoadCSV(*csvPath, *symbol, logger)
	if err != nil {
		logger.Fatal("load csv", zap.Error(err))
	}
	if *cadence > 0 {
		if err := series.CheckCadence(*cadence); err != nil {
			logger.Fatal("cadence check", zap.Error(err))
		}
	}
	ind := indicator.BuildStandardSet(series)

	cfg := sim.Config{
		Symbol:            *symbol,
		InitialCapital:    decimal.NewFromFloat(*capital),
		StopLossPct:       *stopPct,
		TakeProfitPct:     *takePct,
		MinConfidence:     *minConf,
		FixedQuantity:     decimal.NewFromFloat(*qty),
		RiskFraction:      *riskFraction,
		CloseOnFlat:       *closeOnFlat,
		CommissionPct:     *commission,
		SlippagePct:       *slippage,
		TrailingStop:      *trailingOffset > 0,
		TrailingOffsetPct: *trailingOffset,
		MaxHoldBars:       *maxHold,
	}
	if *stopATR > 0 {
		cfg.StopLossPct, cfg.StopATRMult = 0, *stopATR
	}
	if *takeATR > 0 {
		cfg.TakeProfitPct, cfg.TakeATRMult = 0, *takeATR
	}
	if *priority == "take_profit_first" {
		cfg.SameBarPriority = sim.TakeProfitFirst
	}
	if *sizing == "fixed_fractional" {
		cfg.SizingMode = sim.FixedFractional
	}

	chain, err := buildFilters(*minConf, *session, *filters)
	if err != nil {
		logger.Fatal("build filters", zap.Error(err))
	}
	gen := signal.NewGenerator(signal.GeneratorConfig{Filters: chain})

	var pred predictor.Source
	if *modelPath != "" {
		pred, err = predictor.LoadXGBSource(predictor.XGBConfig{
			ModelPath:     *modelPath,
			UpThreshold:   *upThreshold,
			DownThreshold: *downThreshold,
		}, series, ind, logger)
		if err != nil {
			logger.Fatal("load model", zap.Error(err))
		}
	}

	run, err := sim.Run(ctx, series, ind, gen, pred, cfg, logger)
	if err != nil {
		logger.Fatal("run backtest", zap.Error(err))
	}
	result, err := report.Build(run, series)
	if err != nil {
		logger.Fatal("build report", zap.Error(err))
	}

	if err := writeOutputs(result, *outPath, *arrowTrades, *arrowEquity); err != nil {
		logger.Fatal("write outputs", zap.Error(err))
	}
	logSummary(logger, result)
}

func buildFilters(minConf float64, session, extra string) ([]signal.Filter, error) {
	chain := []signal.Filter{signal.MinConfidence(minConf)}
	if session != "" {
		parts := strings.SplitN(session, "-", 2)
		if len(parts) != 2 {
			return nil, fmt.Errorf("session window must be HH:MM-HH:MM, got %q", session)
		}
		f, err := signal.SessionWindow(parts[0], parts[1])
		if err != nil {
			return nil, err
		}
		chain = append(chain, f)
	}
	var names []string
	for _, name := range strings.Split(extra, ",") {
		if name = strings.TrimSpace(name); name != "" {
			names = append(names, name)
		}
	}
	extraChain, err := signal.FilterChain(names...)
	if err != nil {
		return nil, err
	}
	return append(chain, extraChain...), nil
}

func writeOutputs(result *report.Result, outPath, arrowTrades, arrowEquity string) error {
	body, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		return err
	}
	if outPath == "" {
		fmt.Println(string(body))
	} else if err := os.WriteFile(outPath, body, 0o644); err != nil {
		return err
	}

	if arrowTrades == "" && arrowEquity == "" {
		return nil
	}
	exp := report.NewArrowExporter()
	if arrowTrades != "" {
		data, err := exp.TradesIPC(result.Trades)
		if err != nil {
			return err
		}
		if err := os.WriteFile(arrowTrades, data, 0o644); err != nil {
			return err
		}
	}
	if arrowEquity != "" {
		data, err := exp.EquityIPC(result.EquityCurve)
		if err != nil {
			return err
		}
		if err := os.WriteFile(arrowEquity, data, 0o644); err != nil {
			return err
		}
	}
	return nil
}

func logSummary(logger *zap.Logger, result *report.Result) {
	fields := []zap.Field{
		zap.String("run_id", result.RunID),
		zap.Int("trades", result.Summary.ClosedTrades),
		zap.Float64("total_return", result.Summary.TotalReturn),
		zap.Float64("max_drawdown", result.Summary.MaxDrawdown),
	}
	if result.Summary.WinRate != nil {
		fields = append(fields, zap.Float64("win_rate", *result.Summary.WinRate))
	}
	logger.Info("backtest complete", fields...)
}

func newLogger(verbose bool) *zap.Logger {
	cfg := zap.NewProductionConfig()
	if verbose {
		cfg = zap.NewDevelopmentConfig()
	}
	logger, err := cfg.Build()
	if err != nil {
		fmt.Fprintln(os.Stderr, "logger:", err)
		os.Exit(1)
	}
	return logger
}
