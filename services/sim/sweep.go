package sim

import (
	"context"
	"runtime"
	"sync"

	"go.uber.org/zap"

	"backtest-engine/services/indicator"
	"backtest-engine/services/marketdata"
	"backtest-engine/services/predictor"
	"backtest-engine/services/signal"
)

// SweepItem is one candidate configuration in a parameter sweep.
type SweepItem struct {
	Name   string `json:"name"`
	Config Config `json:"config"`
}

// SweepOutcome pairs a candidate with its result. Err is set when that
// candidate's run failed; other candidates still complete.
type SweepOutcome struct {
	Name   string     `json:"name"`
	Config Config     `json:"config"`
	Result *RunResult `json:"result,omitempty"`
	Err    error      `json:"-"`
}

// Sweep runs every candidate against the same immutable inputs using a
// bounded worker pool. Each run gets its own ledger and state machine so
// candidates never share mutable state. Outcomes come back in input order;
// the returned index points at the best successful outcome by final equity,
// or -1 when every run failed.
func Sweep(ctx context.Context, series *marketdata.Series, ind *indicator.Set, gen *signal.Generator, pred predictor.Source, items []SweepItem, workers int, logger *zap.Logger) ([]SweepOutcome, int) {
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	if workers > len(items) {
		workers = len(items)
	}

	outcomes := make([]SweepOutcome, len(items))
	jobs := make(chan int)

	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for idx := range jobs {
				item := items[idx]
				result, err := Run(ctx, series, ind, gen, pred, item.Config, logger)
				outcomes[idx] = SweepOutcome{Name: item.Name, Config: item.Config, Result: result, Err: err}
			}
		}()
	}

	for idx := range items {
		jobs <- idx
	}
	close(jobs)
	wg.Wait()

	best := -1
	for idx := range outcomes {
		o := &outcomes[idx]
		if o.Err != nil || o.Result == nil {
			continue
		}
		if best == -1 || o.Result.FinalEquity.GreaterThan(outcomes[best].Result.FinalEquity) {
			best = idx
		}
	}
	if best >= 0 {
		logger.Info("sweep finished",
			zap.Int("candidates", len(items)),
			zap.String("best", outcomes[best].Name),
			zap.String("best_final_equity", outcomes[best].Result.FinalEquity.String()),
		)
	} else {
		logger.Warn("sweep finished with no successful runs", zap.Int("candidates", len(items)))
	}
	return outcomes, best
}
