// Package sim is the deterministic backtest core: a single-position state
// machine replayed bar by bar over a validated series, with decimal
// accounting and an append-only event log. Ambiguity inside a bar (both
// stop and take in range) is resolved by explicit policy, never by guessing
// intrabar order.
package sim

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"backtest-engine/services/indicator"
	"backtest-engine/services/marketdata"
	"backtest-engine/services/predictor"
	"backtest-engine/services/signal"
)

// RunResult is everything a single simulation produced. A result is only
// returned for a run that processed every bar; cancellation and validation
// failures yield an error instead of a partial result.
type RunResult struct {
	RunID       string          `json:"run_id"`
	Symbol      string          `json:"symbol"`
	Config      Config          `json:"config"`
	Trades      []Trade         `json:"trades"`
	EquityCurve []EquityPoint   `json:"equity_curve"`
	Events      []Event         `json:"events"`
	FinalEquity decimal.Decimal `json:"final_equity"`
}

// Run replays the series bar by bar through the signal generator and the
// position state machine. The loop is strictly sequential and does no I/O;
// ctx is checked between bars so long runs cancel promptly.
func Run(ctx context.Context, series *marketdata.Series, ind *indicator.Set, gen *signal.Generator, pred predictor.Source, cfg Config, logger *zap.Logger) (*RunResult, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.Symbol == "" {
		cfg.Symbol = series.Symbol
	}

	runID := uuid.New().String()
	start := time.Now()
	logger.Info("starting backtest run",
		zap.String("run_id", runID),
		zap.String("symbol", cfg.Symbol),
		zap.Int("bars", series.Len()),
	)

	events := &EventLog{}
	ledger := NewLedger(cfg.InitialCapital)
	m := newMachine(cfg, ledger, events)
	seenUndefined := make(map[string]bool)

	last := series.Len() - 1
	for i, bar := range series.Bars {
		if err := ctx.Err(); err != nil {
			logger.Warn("backtest run cancelled",
				zap.String("run_id", runID),
				zap.Int("bar", i),
			)
			return nil, err
		}

		var pp *signal.Prediction
		if pred != nil {
			if p, ok := pred.Predict(i); ok {
				pp = &p
			}
		}

		for _, name := range gen.Inputs() {
			if seenUndefined[name] {
				continue
			}
			if _, ok := ind.Value(name, i); !ok {
				seenUndefined[name] = true
				events.Append(Event{Index: i, Ts: bar.Timestamp, Type: EventUndefinedIndicator, Details: map[string]string{
					"indicator": name,
				}})
			}
		}

		sig := gen.Generate(i, bar, ind, pp)
		m.step(i, bar, sig, ind)
		if i == last {
			m.forceClose(i, bar)
		}
		ledger.Mark(i, bar.Timestamp, bar.Close, m.pos)
	}

	result := &RunResult{
		RunID:       runID,
		Symbol:      cfg.Symbol,
		Config:      cfg,
		Trades:      ledger.Trades(),
		EquityCurve: ledger.Curve(),
		Events:      events.Events,
		FinalEquity: ledger.Equity(),
	}
	logger.Info("backtest run finished",
		zap.String("run_id", runID),
		zap.Int("trades", len(result.Trades)),
		zap.String("final_equity", result.FinalEquity.String()),
		zap.Duration("elapsed", time.Since(start)),
	)
	return result, nil
}
