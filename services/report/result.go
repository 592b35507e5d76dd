// Package report assembles the externally visible output of a run: the full
// result document, a reproducibility manifest, and Arrow IPC exports of the
// trade and equity tables.
package report

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"time"

	"backtest-engine/services/marketdata"
	"backtest-engine/services/perf"
	"backtest-engine/services/sim"
)

// EngineVersion is stamped into every manifest.
const EngineVersion = "1.0.0"

// Manifest pins down what produced a result: the exact configuration and the
// exact input data, by hash, so a result can be tied back to its inputs.
type Manifest struct {
	RunID         string `json:"run_id"`
	Symbol        string `json:"symbol"`
	ConfigHash    string `json:"config_hash"`
	DataChecksum  string `json:"data_checksum"`
	Bars          int    `json:"bars"`
	EngineVersion string `json:"engine_version"`
	CreatedAt     int64  `json:"created_at"`
}

// Result is the complete output document of one run.
type Result struct {
	RunID       string            `json:"run_id"`
	Symbol      string            `json:"symbol"`
	Config      sim.Config        `json:"config"`
	Trades      []sim.Trade       `json:"trades"`
	EquityCurve []sim.EquityPoint `json:"equity_curve"`
	Summary     perf.Summary      `json:"summary"`
	Events      []sim.Event       `json:"events"`
	Manifest    Manifest          `json:"manifest"`
}

// Build composes the result document from a finished run and the series it
// consumed.
func Build(run *sim.RunResult, series *marketdata.Series) (*Result, error) {
	configHash, err := hashConfig(run.Config)
	if err != nil {
		return nil, err
	}
	return &Result{
		RunID:       run.RunID,
		Symbol:      run.Symbol,
		Config:      run.Config,
		Trades:      run.Trades,
		EquityCurve: run.EquityCurve,
		Summary:     perf.Summarize(run.Config.InitialCapital, run.Trades, run.EquityCurve),
		Events:      run.Events,
		Manifest: Manifest{
			RunID:         run.RunID,
			Symbol:        run.Symbol,
			ConfigHash:    configHash,
			DataChecksum:  DataChecksum(series),
			Bars:          series.Len(),
			EngineVersion: EngineVersion,
			CreatedAt:     time.Now().UnixMilli(),
		},
	}, nil
}

func hashConfig(cfg sim.Config) (string, error) {
	b, err := json.Marshal(cfg)
	if err != nil {
		return "", fmt.Errorf("hash config: %w", err)
	}
	return fmt.Sprintf("%x", sha256.Sum256(b)), nil
}

// DataChecksum fingerprints a series from its timestamps and closes. Two
// series with the same checksum replay identically.
func DataChecksum(series *marketdata.Series) string {
	h := sha256.New()
	h.Write([]byte(series.Symbol))
	var buf [8]byte
	for _, b := range series.Bars {
		binary.LittleEndian.PutUint64(buf[:], uint64(b.Timestamp))
		h.Write(buf[:])
		h.Write([]byte(b.Close.String()))
	}
	return fmt.Sprintf("%x", h.Sum(nil))
}
