// Command server exposes the backtest engine over HTTP: single runs,
// parameter sweeps, and a health endpoint.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	appconfig "backtest-engine/services/config"
	"backtest-engine/services/indicator"
	"backtest-engine/services/marketdata"
	"backtest-engine/services/perf"
	"backtest-engine/services/predictor"
	"backtest-engine/services/report"
	sig "backtest-engine/services/signal"
	"backtest-engine/services/sim"
)

type server struct {
	cfg    *appconfig.Config
	store  *marketdata.ClickHouseStore
	logger *zap.Logger
}

type dataRequest struct {
	Symbol   string `json:"symbol" binding:"required"`
	Interval string `json:"interval"`
	StartMs  int64  `json:"start_ms"`
	EndMs    int64  `json:"end_ms"`
	// CSVPath loads bars from a local file instead of ClickHouse.
	CSVPath string `json:"csv_path,omitempty"`
}

type backtestRequest struct {
	Data    dataRequest          `json:"data" binding:"required"`
	Config  sim.Config           `json:"config"`
	Filters []string             `json:"filters,omitempty"`
	Model   *predictor.XGBConfig `json:"model,omitempty"`
}

type sweepRequest struct {
	Data       dataRequest     `json:"data" binding:"required"`
	Filters    []string        `json:"filters,omitempty"`
	Candidates []sim.SweepItem `json:"candidates" binding:"required"`
}

type sweepCandidateResponse struct {
	Name        string        `json:"name"`
	FinalEquity string        `json:"final_equity,omitempty"`
	Summary     *perf.Summary `json:"summary,omitempty"`
	Error       string        `json:"error,omitempty"`
}

func main() {
	cfg, err := appconfig.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, "config:", err)
		os.Exit(1)
	}
	logger := newLogger(cfg.Log.Development)
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	s := &server{cfg: cfg, logger: logger}
	if store, err := marketdata.NewClickHouseStore(ctx, marketdata.ClickHouseConfig{
		Addr:     cfg.ClickHouse.Addr,
		Database: cfg.ClickHouse.Database,
		Username: cfg.ClickHouse.Username,
		Password: cfg.ClickHouse.Password,
	}, logger); err != nil {
		logger.Warn("clickhouse unavailable, csv_path only", zap.Error(err))
	} else {
		s.store = store
		defer store.Close()
	}

	router := gin.New()
	router.Use(gin.Recovery())
	v1 := router.Group("/api/v1")
	v1.GET("/health", s.handleHealth)
	v1.POST("/backtest", s.handleBacktest)
	v1.POST("/sweep", s.handleSweep)

	srv := &http.Server{Addr: cfg.Server.Addr, Handler: router}
	go func() {
		logger.Info("http server listening", zap.String("addr", cfg.Server.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("http server", zap.Error(err))
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown", zap.Error(err))
	}
	logger.Info("server stopped")
}

func (s *server) handleHealth(c *gin.Context) {
	status := gin.H{
		"status":  "ok",
		"version": report.EngineVersion,
	}
	if s.store == nil {
		status["clickhouse"] = "unavailable"
	} else {
		status["clickhouse"] = "ok"
	}
	c.JSON(http.StatusOK, status)
}

func (s *server) handleBacktest(c *gin.Context) {
	var req backtestRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	series, ind, err := s.loadInputs(c.Request.Context(), req.Data)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	gen, err := s.generator(req.Config.MinConfidence, req.Filters)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	var pred predictor.Source
	if req.Model != nil {
		pred, err = predictor.LoadXGBSource(*req.Model, series, ind, s.logger)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
	}

	run, err := sim.Run(c.Request.Context(), series, ind, gen, pred, req.Config.WithDefaults(), s.logger)
	if err != nil {
		var ice *sim.InvalidConfigurationError
		if errors.As(err, &ice) {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	result, err := report.Build(run, series)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, result)
}

func (s *server) handleSweep(c *gin.Context) {
	var req sweepRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if len(req.Candidates) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "candidates must not be empty"})
		return
	}

	series, ind, err := s.loadInputs(c.Request.Context(), req.Data)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	for i := range req.Candidates {
		req.Candidates[i].Config = req.Candidates[i].Config.WithDefaults()
	}
	// The filter chain is shared across candidates; per-candidate
	// MinConfidence still gates entries inside each run.
	gen, err := s.generator(0, req.Filters)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	outcomes, best := sim.Sweep(c.Request.Context(), series, ind, gen, nil, req.Candidates, s.cfg.Server.SweepWorkers, s.logger)

	resp := gin.H{"candidates": summarizeOutcomes(outcomes)}
	if best >= 0 {
		resp["best"] = outcomes[best].Name
	}
	c.JSON(http.StatusOK, resp)
}

func summarizeOutcomes(outcomes []sim.SweepOutcome) []sweepCandidateResponse {
	out := make([]sweepCandidateResponse, len(outcomes))
	for i, o := range outcomes {
		out[i].Name = o.Name
		if o.Err != nil {
			out[i].Error = o.Err.Error()
			continue
		}
		out[i].FinalEquity = o.Result.FinalEquity.String()
		summary := perf.Summarize(o.Config.InitialCapital, o.Result.Trades, o.Result.EquityCurve)
		out[i].Summary = &summary
	}
	return out
}

func (s *server) loadInputs(ctx context.Context, data dataRequest) (*marketdata.Series, *indicator.Set, error) {
	var series *marketdata.Series
	var err error
	switch {
	case data.CSVPath != "":
		series, err = marketdata.LoadCSV(data.CSVPath, data.Symbol, s.logger)
	case s.store != nil:
		series, err = s.store.LoadSeries(ctx, data.Symbol, data.Interval, data.StartMs, data.EndMs)
	default:
		err = errors.New("no clickhouse connection and no csv_path given")
	}
	if err != nil {
		return nil, nil, err
	}
	if series.Len() == 0 {
		return nil, nil, errors.New("no bars in requested range")
	}
	return series, indicator.BuildStandardSet(series), nil
}

func (s *server) generator(minConf float64, filters []string) (*sig.Generator, error) {
	chain := []sig.Filter{}
	if minConf > 0 {
		chain = append(chain, sig.MinConfidence(minConf))
	}
	named, err := sig.FilterChain(filters...)
	if err != nil {
		return nil, err
	}
	return sig.NewGenerator(sig.GeneratorConfig{Filters: append(chain, named...)}), nil
}

func newLogger(development bool) *zap.Logger {
	var logger *zap.Logger
	var err error
	if development {
		logger, err = zap.NewDevelopment()
	} else {
		logger, err = zap.NewProduction()
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, "logger:", err)
		os.Exit(1)
	}
	return logger
}
