package marketdata

import (
	"bufio"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"sort"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// LoadCSV reads OHLCV bars from a CSV file with columns
// timestamp_ms,open,high,low,close,volume. A header row is skipped when
// present. Rows are sorted by timestamp and duplicate timestamps are
// deduplicated keeping the last occurrence, so the returned Series always
// satisfies the strict-ordering invariant.
func LoadCSV(path, symbol string, logger *zap.Logger) (*Series, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open file: %w", err)
	}
	defer file.Close()

	r := csv.NewReader(bufio.NewReader(file))
	r.ReuseRecord = false
	r.FieldsPerRecord = -1
	r.LazyQuotes = true

	bars := make([]Bar, 0, 1_000)
	line := 0
	skipped := 0
	for {
		rec, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			line++
			skipped++
			continue
		}
		if len(rec) < 6 {
			line++
			skipped++
			continue
		}
		if line == 0 && (strings.EqualFold(rec[0], "timestamp") || strings.EqualFold(rec[0], "timestamp_ms")) {
			line++
			continue
		}

		tsStr := strings.TrimPrefix(strings.TrimSpace(rec[0]), "\uFEFF")
		ts, err := strconv.ParseInt(tsStr, 10, 64)
		if err != nil {
			line++
			skipped++
			continue
		}

		bar, err := parseBarFields(ts, rec)
		if err != nil {
			line++
			skipped++
			continue
		}
		bars = append(bars, bar)
		line++
	}

	sortDedup(&bars)

	if skipped > 0 {
		logger.Warn("skipped malformed CSV rows", zap.String("path", path), zap.Int("skipped", skipped))
	}
	logger.Info("loaded bars from CSV", zap.String("path", path), zap.Int("bars", len(bars)))

	return NewSeries(symbol, bars)
}

func parseBarFields(ts int64, rec []string) (Bar, error) {
	open, err := decimal.NewFromString(strings.TrimSpace(rec[1]))
	if err != nil {
		return Bar{}, err
	}
	high, err := decimal.NewFromString(strings.TrimSpace(rec[2]))
	if err != nil {
		return Bar{}, err
	}
	low, err := decimal.NewFromString(strings.TrimSpace(rec[3]))
	if err != nil {
		return Bar{}, err
	}
	closeP, err := decimal.NewFromString(strings.TrimSpace(rec[4]))
	if err != nil {
		return Bar{}, err
	}
	volume, err := decimal.NewFromString(strings.TrimSpace(rec[5]))
	if err != nil {
		volume = decimal.Zero
	}
	return Bar{Timestamp: ts, Open: open, High: high, Low: low, Close: closeP, Volume: volume}, nil
}

// sortDedup sorts bars by timestamp and keeps the last row for duplicate
// timestamps, matching how exchange CSV dumps overwrite corrected bars.
func sortDedup(bars *[]Bar) {
	bs := *bars
	if len(bs) < 2 {
		return
	}
	sort.SliceStable(bs, func(i, j int) bool { return bs[i].Timestamp < bs[j].Timestamp })
	uniq := bs[:0]
	var lastTs int64 = -1
	for _, b := range bs {
		if b.Timestamp == lastTs {
			uniq[len(uniq)-1] = b
			continue
		}
		uniq = append(uniq, b)
		lastTs = b.Timestamp
	}
	*bars = uniq
}
