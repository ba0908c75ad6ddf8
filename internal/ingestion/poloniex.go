package ingestion

import (
	"bytes"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/jeovahfialho/cctool/internal/domain"
)

const poloniexExchange = "Poloniex"

var poloniexColumns = []string{
	"Date",
	"Market",
	"Type",
	"Order Number",
	"Quote Total Less Fee",
	"Base Total Less Fee",
}

// Poloniex reads the UTF-8 trade history export of Poloniex.
//
// Amount is the absolute "Quote Total Less Fee" and price is the absolute
// "Base Total Less Fee" divided by that amount, both already net of fees.
type Poloniex struct{}

func (Poloniex) Exchange() string { return poloniexExchange }

func (p Poloniex) Parse(data []byte) ParseResult {
	if !utf8.Valid(data) {
		return mismatch(poloniexExchange, "input is not valid UTF-8")
	}

	t, err := readTable(bytes.NewReader(data), poloniexColumns...)
	if err != nil {
		return mismatch(poloniexExchange, "%v", err)
	}

	trades := make([]domain.Trade, 0, len(t.rows))
	for i, row := range t.rows {
		trade, err := p.parseRow(t, row)
		if err != nil {
			return mismatch(poloniexExchange, "row %d: %v", rowNumber(i), err)
		}
		trades = append(trades, trade)
	}

	return ParseResult{Exchange: poloniexExchange, Trades: trades}
}

func (Poloniex) parseRow(t *table, row []string) (domain.Trade, error) {
	market := strings.Split(t.get(row, "Market"), "/")
	if len(market) != 2 || market[0] == "" {
		return domain.Trade{}, fmt.Errorf("invalid market %q", t.get(row, "Market"))
	}

	direction, err := domain.ParseDirection(t.get(row, "Type"))
	if err != nil {
		return domain.Trade{}, err
	}

	timestamp, err := parseTimestamp(t.get(row, "Date"), "2006-01-02 15:04:05", time.RFC3339)
	if err != nil {
		return domain.Trade{}, err
	}

	quoteTotal, err := t.decimal(row, "Quote Total Less Fee")
	if err != nil {
		return domain.Trade{}, err
	}
	baseTotal, err := t.decimal(row, "Base Total Less Fee")
	if err != nil {
		return domain.Trade{}, err
	}

	amount := domain.Quantize(quoteTotal.Abs())
	if amount.IsZero() {
		return domain.Trade{}, fmt.Errorf("zero amount")
	}

	trade := domain.Trade{
		Symbol:    CanonicalSymbol(market[0]),
		Direction: direction,
		Amount:    amount,
		Price:     domain.DivQuantize(baseTotal.Abs(), amount),
		Timestamp: timestamp,
		Comment:   fmt.Sprintf("Order #%s", t.get(row, "Order Number")),
		Exchange:  poloniexExchange,
	}
	return trade, trade.Validate()
}
