package ingestion

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/jeovahfialho/cctool/internal/domain"
	"github.com/jeovahfialho/cctool/pkg/logger"
	"github.com/jeovahfialho/cctool/pkg/metrics"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Normalizer converts one exchange's CSV export into canonical trades.
type Normalizer interface {
	Exchange() string
	Parse(data []byte) ParseResult
}

// ParseResult is the outcome of a single normalizer. A non-nil Mismatch
// means the input is not in this normalizer's format; Trades is then empty.
type ParseResult struct {
	Exchange string
	Trades   []domain.Trade
	Mismatch error
}

func mismatch(exchange string, format string, args ...any) ParseResult {
	return ParseResult{
		Exchange: exchange,
		Mismatch: fmt.Errorf("%s: %w: %s", exchange, domain.ErrFormatMismatch, fmt.Sprintf(format, args...)),
	}
}

// DefaultNormalizers returns the supported formats in priority order.
func DefaultNormalizers() []Normalizer {
	return []Normalizer{
		Poloniex{},
		Bittrex{},
	}
}

// Load tries each normalizer in order and returns the first that accepts
// the input. A matching format without any trade is an error of its own and
// does not fall through to the next normalizer.
func Load(data []byte, normalizers ...Normalizer) (ParseResult, error) {
	var mismatches []error

	for _, n := range normalizers {
		result := n.Parse(data)
		if result.Mismatch != nil {
			logger.Debug("input does not match format",
				zap.String("exchange", n.Exchange()),
				zap.Error(result.Mismatch))
			metrics.FormatMismatches.WithLabelValues(n.Exchange()).Inc()
			mismatches = append(mismatches, result.Mismatch)
			continue
		}

		if len(result.Trades) == 0 {
			return result, fmt.Errorf("%s: %w", n.Exchange(), domain.ErrNoTrades)
		}

		metrics.TradesNormalized.WithLabelValues(result.Exchange).Add(float64(len(result.Trades)))
		logger.Info("trades loaded",
			zap.String("exchange", result.Exchange),
			zap.Int("trades", len(result.Trades)))

		return result, nil
	}

	return ParseResult{}, fmt.Errorf("%w: %w", domain.ErrUnsupportedFormat, errors.Join(mismatches...))
}

// Autoload detects the format of data and returns its aggregate trades.
func Autoload(data []byte) ([]domain.Trade, error) {
	result, err := Load(data, DefaultNormalizers()...)
	if err != nil {
		return nil, err
	}
	return Aggregate(result.Trades), nil
}

func LoadFile(path string) ([]domain.Trade, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("error reading %s: %w", path, err)
	}
	trades, err := Autoload(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return trades, nil
}

// table is a CSV document indexed by header name.
type table struct {
	columns map[string]int
	rows    [][]string
}

func readTable(r io.Reader, required ...string) (*table, error) {
	csvReader := csv.NewReader(r)
	csvReader.TrimLeadingSpace = true

	header, err := csvReader.Read()
	if err != nil {
		return nil, fmt.Errorf("invalid header: %w", err)
	}

	t := &table{columns: make(map[string]int, len(header))}
	for i, name := range header {
		name = strings.TrimSpace(strings.TrimPrefix(name, "\ufeff"))
		t.columns[name] = i
	}

	for _, col := range required {
		if _, ok := t.columns[col]; !ok {
			return nil, fmt.Errorf("missing column %q", col)
		}
	}

	for {
		record, err := csvReader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("malformed row: %w", err)
		}
		t.rows = append(t.rows, record)
	}

	return t, nil
}

func (t *table) get(row []string, col string) string {
	return strings.TrimSpace(row[t.columns[col]])
}

func (t *table) decimal(row []string, col string) (decimal.Decimal, error) {
	value := t.get(row, col)
	d, err := decimal.NewFromString(value)
	if err != nil {
		return decimal.Zero, fmt.Errorf("column %q: invalid number %q", col, value)
	}
	return d, nil
}

func parseTimestamp(value string, layouts ...string) (int64, error) {
	for _, layout := range layouts {
		if t, err := time.Parse(layout, value); err == nil {
			return t.Unix(), nil
		}
	}
	return 0, fmt.Errorf("invalid date %q", value)
}

// rowNumber converts a data row index to its 1-based line in the file.
func rowNumber(i int) int {
	return i + 2
}
