// Command fetch_klines downloads historical klines from Binance and writes
// them as a CSV the backtest loader understands.
package main

import (
	"context"
	"encoding/csv"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/adshao/go-binance/v2"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	appconfig "backtest-engine/services/config"
)

const klineLimit = 1000

func main() {
	symbol := flag.String("symbol", "BTCUSDT", "Trading symbol")
	interval := flag.String("interval", "5m", "Kline interval (1m, 5m, 1h, ...)")
	days := flag.Int("days", 30, "How many days back from now")
	out := flag.String("out", "", "Output CSV path (default <symbol>_<interval>.csv)")
	flag.Parse()

	cfg, err := appconfig.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, "config:", err)
		os.Exit(1)
	}
	logger, err := zap.NewProduction()
	if err != nil {
		fmt.Fprintln(os.Stderr, "logger:", err)
		os.Exit(1)
	}
	defer logger.Sync()

	path := *out
	if path == "" {
		path = fmt.Sprintf("%s_%s.csv", *symbol, *interval)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	client := binance.NewClient(cfg.Binance.APIKey, cfg.Binance.SecretKey)
	limiter := rate.NewLimiter(rate.Limit(cfg.Binance.RequestsPerSecond), 1)

	end := time.Now().UnixMilli()
	start := time.Now().AddDate(0, 0, -*days).UnixMilli()

	rows, err := fetch(ctx, client, limiter, *symbol, *interval, start, end, logger)
	if err != nil {
		logger.Fatal("fetch klines", zap.Error(err))
	}
	if err := writeCSV(path, rows); err != nil {
		logger.Fatal("write csv", zap.Error(err))
	}
	logger.Info("klines written",
		zap.String("path", path),
		zap.Int("bars", len(rows)),
	)
}

func fetch(ctx context.Context, client *binance.Client, limiter *rate.Limiter, symbol, interval string, startMs, endMs int64, logger *zap.Logger) ([][]string, error) {
	var rows [][]string
	cursor := startMs
	for cursor < endMs {
		if err := limiter.Wait(ctx); err != nil {
			return nil, err
		}
		klines, err := client.NewKlinesService().
			Symbol(symbol).
			Interval(interval).
			StartTime(cursor).
			EndTime(endMs).
			Limit(klineLimit).
			Do(ctx)
		if err != nil {
			return nil, fmt.Errorf("klines from %d: %w", cursor, err)
		}
		if len(klines) == 0 {
			break
		}
		for _, k := range klines {
			rows = append(rows, []string{
				strconv.FormatInt(k.OpenTime, 10),
				k.Open, k.High, k.Low, k.Close, k.Volume,
			})
		}
		logger.Debug("page fetched",
			zap.Int64("cursor", cursor),
			zap.Int("klines", len(klines)),
		)
		cursor = klines[len(klines)-1].CloseTime + 1
	}
	return rows, nil
}

func writeCSV(path string, rows [][]string) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	w := csv.NewWriter(f)
	if err := w.Write([]string{"timestamp_ms", "open", "high", "low", "close", "volume"}); err != nil {
		return err
	}
	if err := w.WriteAll(rows); err != nil {
		return err
	}
	w.Flush()
	return w.Error()
}
