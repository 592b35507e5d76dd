package marketdata

import (
	"context"
	"fmt"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// ClickHouseConfig holds connection settings for the bar store.
type ClickHouseConfig struct {
	Addr     string
	Database string
	Table    string
	Username string
	Password string
}

// ClickHouseStore loads bar series from a ClickHouse canonical bar table.
type ClickHouseStore struct {
	conn   driver.Conn
	cfg    ClickHouseConfig
	logger *zap.Logger
}

// NewClickHouseStore connects to ClickHouse and verifies the connection.
// An empty table name falls back to the canonical bars table.
func NewClickHouseStore(ctx context.Context, cfg ClickHouseConfig, logger *zap.Logger) (*ClickHouseStore, error) {
	if cfg.Table == "" {
		cfg.Table = "bars"
	}
	conn, err := clickhouse.Open(&clickhouse.Options{
		Addr: []string{cfg.Addr},
		Auth: clickhouse.Auth{
			Database: cfg.Database,
			Username: cfg.Username,
			Password: cfg.Password,
		},
		Settings: clickhouse.Settings{
			"max_execution_time": uint64(0),
		},
	})
	if err != nil {
		return nil, fmt.Errorf("clickhouse open: %w", err)
	}
	if err := conn.Ping(ctx); err != nil {
		return nil, fmt.Errorf("clickhouse ping: %w", err)
	}
	return &ClickHouseStore{conn: conn, cfg: cfg, logger: logger}, nil
}

// LoadSeries reads bars for one symbol/interval in [startMs, endMs), ordered
// by open time. The ORDER BY makes the store uphold the strict-ordering
// contract; NewSeries still re-validates it.
func (s *ClickHouseStore) LoadSeries(ctx context.Context, symbol, interval string, startMs, endMs int64) (*Series, error) {
	query := fmt.Sprintf(`
		SELECT open_time_ms, open, high, low, close, volume
		FROM %s.%s
		WHERE symbol = ? AND interval = ? AND open_time_ms >= ? AND open_time_ms < ?
		ORDER BY open_time_ms
	`, s.cfg.Database, s.cfg.Table)

	rows, err := s.conn.Query(ctx, query, symbol, interval, startMs, endMs)
	if err != nil {
		return nil, fmt.Errorf("query bars: %w", err)
	}
	defer rows.Close()

	var bars []Bar
	for rows.Next() {
		var (
			ts                           uint64
			open, high, low, closeP, vol decimal.Decimal
		)
		if err := rows.Scan(&ts, &open, &high, &low, &closeP, &vol); err != nil {
			return nil, fmt.Errorf("scan bar: %w", err)
		}
		bars = append(bars, Bar{
			Timestamp: int64(ts),
			Open:      open,
			High:      high,
			Low:       low,
			Close:     closeP,
			Volume:    vol,
		})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate bars: %w", err)
	}

	s.logger.Info("loaded bars from clickhouse",
		zap.String("symbol", symbol),
		zap.String("interval", interval),
		zap.Int("bars", len(bars)),
	)
	return NewSeries(symbol, bars)
}

// Close releases the connection.
func (s *ClickHouseStore) Close() error { return s.conn.Close() }
