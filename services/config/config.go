// Package config loads process configuration from the environment, with an
// optional .env file for local development.
package config

import (
	"os"
	"strconv"

	"github.com/joho/godotenv"
)

type Config struct {
	Server     ServerConfig
	ClickHouse ClickHouseConfig
	Binance    BinanceConfig
	Log        LogConfig
}

type ServerConfig struct {
	Addr         string
	SweepWorkers int
}

type ClickHouseConfig struct {
	Addr     string
	Database string
	Username string
	Password string
}

type BinanceConfig struct {
	APIKey    string
	SecretKey string
	// RequestsPerSecond bounds the kline fetcher's request rate.
	RequestsPerSecond float64
}

type LogConfig struct {
	// Development switches zap to its console encoder.
	Development bool
}

// Load reads the environment. A missing .env file is not an error; explicit
// environment variables always win over file values.
func Load() (*Config, error) {
	_ = godotenv.Load()

	return &Config{
		Server: ServerConfig{
			Addr:         envOr("SERVER_ADDR", ":8080"),
			SweepWorkers: envInt("SWEEP_WORKERS", 0),
		},
		ClickHouse: ClickHouseConfig{
			Addr:     envOr("CLICKHOUSE_ADDR", "localhost:9000"),
			Database: envOr("CLICKHOUSE_DB", "market"),
			Username: envOr("CLICKHOUSE_USER", "default"),
			Password: os.Getenv("CLICKHOUSE_PASSWORD"),
		},
		Binance: BinanceConfig{
			APIKey:            os.Getenv("BINANCE_API_KEY"),
			SecretKey:         os.Getenv("BINANCE_SECRET_KEY"),
			RequestsPerSecond: envFloat("BINANCE_RPS", 5),
		},
		Log: LogConfig{
			Development: os.Getenv("LOG_DEV") == "true",
		},
	}, nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	v, err := strconv.Atoi(os.Getenv(key))
	if err != nil {
		return fallback
	}
	return v
}

func envFloat(key string, fallback float64) float64 {
	v, err := strconv.ParseFloat(os.Getenv(key), 64)
	if err != nil {
		return fallback
	}
	return v
}
