package predictor

import (
	"fmt"
	"math"

	xgb "github.com/Elvenson/xgboost-go"
	"github.com/Elvenson/xgboost-go/activation"
	"github.com/Elvenson/xgboost-go/mat"
	"go.uber.org/zap"

	"backtest-engine/services/indicator"
	"backtest-engine/services/marketdata"
)

// XGBFeatureNames is the default feature layout for bar-level classifiers:
// OHLCV followed by the standard indicator set, in this order.
var XGBFeatureNames = []string{
	indicator.NameRSI,
	indicator.NameMACD,
	indicator.NameMACDSignal,
	indicator.NameSMA20,
	indicator.NameEMA20,
	indicator.NameBBUpper,
	indicator.NameBBLower,
	indicator.NameATR,
	indicator.NameOBV,
	indicator.NameADX,
}

// XGBConfig locates the model and sets classification thresholds.
type XGBConfig struct {
	ModelPath     string
	NumClasses    int
	MaxDepth      int
	UpThreshold   float64
	DownThreshold float64
}

// LoadXGBSource loads a dumped XGBoost JSON model, scores every bar of the
// series once up front, and returns a Source over the resulting
// probabilities. Bars whose feature set is incomplete (indicator warm-up)
// get no opinion.
func LoadXGBSource(cfg XGBConfig, series *marketdata.Series, ind *indicator.Set, logger *zap.Logger) (Source, error) {
	if cfg.NumClasses <= 0 {
		cfg.NumClasses = 1
	}
	if cfg.MaxDepth <= 0 {
		cfg.MaxDepth = 6
	}
	ensemble, err := xgb.LoadXGBoostFromJSON(cfg.ModelPath, "", cfg.NumClasses, cfg.MaxDepth, &activation.Logistic{})
	if err != nil {
		return nil, fmt.Errorf("load xgboost model: %w", err)
	}

	n := series.Len()
	probs := make([]float64, n)
	defined := make([]bool, n)

	var rows mat.SparseMatrix
	rowIndex := make([]int, 0, n)
	for i := 0; i < n; i++ {
		vec, ok := featureVector(i, series.Bars[i], ind)
		if !ok {
			continue
		}
		rows.Vectors = append(rows.Vectors, vec)
		rowIndex = append(rowIndex, i)
	}

	if len(rows.Vectors) > 0 {
		predictions, err := ensemble.PredictProba(rows)
		if err != nil {
			return nil, fmt.Errorf("score bars: %w", err)
		}
		for k, barIdx := range rowIndex {
			if k >= len(predictions.Vectors) || predictions.Vectors[k] == nil {
				continue
			}
			row := *predictions.Vectors[k]
			if len(row) == 0 {
				continue
			}
			// Binary logistic output: single probability of the up class.
			probs[barIdx] = float64(row[len(row)-1])
			defined[barIdx] = true
		}
	}

	scored := 0
	for _, d := range defined {
		if d {
			scored++
		}
	}
	logger.Info("xgboost predictions precomputed",
		zap.String("model", cfg.ModelPath),
		zap.Int("bars", n),
		zap.Int("scored", scored),
	)

	out := make([]float64, n)
	for i := range out {
		if defined[i] {
			out[i] = probs[i]
		} else {
			out[i] = math.NaN()
		}
	}
	return NewSliceSource(out, cfg.UpThreshold, cfg.DownThreshold), nil
}

// featureVector assembles the sparse feature row for one bar. Any undefined
// indicator aborts the row: a partially defined feature vector would feed
// the model silent zeros.
func featureVector(i int, bar marketdata.Bar, ind *indicator.Set) (mat.SparseVector, bool) {
	vec := make(mat.SparseVector, len(XGBFeatureNames)+5)
	vec[0] = float32(bar.Open.InexactFloat64())
	vec[1] = float32(bar.High.InexactFloat64())
	vec[2] = float32(bar.Low.InexactFloat64())
	vec[3] = float32(bar.Close.InexactFloat64())
	vec[4] = float32(bar.Volume.InexactFloat64())
	for j, name := range XGBFeatureNames {
		v, ok := ind.Value(name, i)
		if !ok {
			return nil, false
		}
		vec[5+j] = float32(v)
	}
	return vec, true
}
