package ingestion

import (
	"bytes"
	"fmt"
	"strings"
	"time"

	"github.com/jeovahfialho/cctool/internal/domain"
	"github.com/shopspring/decimal"
	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"
)

const bittrexExchange = "Bittrex"

var bittrexColumns = []string{
	"OrderUuid",
	"Exchange",
	"Type",
	"Quantity",
	"Price",
	"ComissionPaid",
	"Opened",
}

var bittrexDateLayouts = []string{
	"1/2/2006 3:04:05 PM",
	"01/02/2006 15:04:05",
	"2006-01-02 15:04:05",
	time.RFC3339,
}

// Bittrex reads the order history export of Bittrex, which is encoded in
// UTF-16 little endian.
//
// "Price" is the gross quote value of the order. The commission is added on
// buys and subtracted on sells before dividing by the quantity.
type Bittrex struct{}

func (Bittrex) Exchange() string { return bittrexExchange }

func (b Bittrex) Parse(data []byte) ParseResult {
	if len(data)%2 != 0 {
		return mismatch(bittrexExchange, "input is not UTF-16")
	}

	decoder := unicode.BOMOverride(unicode.UTF16(unicode.LittleEndian, unicode.IgnoreBOM).NewDecoder())
	t, err := readTable(transform.NewReader(bytes.NewReader(data), decoder), bittrexColumns...)
	if err != nil {
		return mismatch(bittrexExchange, "%v", err)
	}

	trades := make([]domain.Trade, 0, len(t.rows))
	for i, row := range t.rows {
		trade, err := b.parseRow(t, row)
		if err != nil {
			return mismatch(bittrexExchange, "row %d: %v", rowNumber(i), err)
		}
		trades = append(trades, trade)
	}

	return ParseResult{Exchange: bittrexExchange, Trades: trades}
}

func (Bittrex) parseRow(t *table, row []string) (domain.Trade, error) {
	market := strings.Split(t.get(row, "Exchange"), "-")
	if len(market) != 2 || market[1] == "" {
		return domain.Trade{}, fmt.Errorf("invalid market %q", t.get(row, "Exchange"))
	}

	orderType := strings.Split(t.get(row, "Type"), "_")
	if len(orderType) < 2 {
		return domain.Trade{}, fmt.Errorf("invalid order type %q", t.get(row, "Type"))
	}
	direction, err := domain.ParseDirection(orderType[1])
	if err != nil {
		return domain.Trade{}, err
	}

	timestamp, err := parseTimestamp(t.get(row, "Opened"), bittrexDateLayouts...)
	if err != nil {
		return domain.Trade{}, err
	}

	amount, err := t.decimal(row, "Quantity")
	if err != nil {
		return domain.Trade{}, err
	}
	if !amount.IsPositive() {
		return domain.Trade{}, fmt.Errorf("non-positive quantity %s", amount)
	}

	gross, err := t.decimal(row, "Price")
	if err != nil {
		return domain.Trade{}, err
	}
	commission, err := t.decimal(row, "ComissionPaid")
	if err != nil {
		return domain.Trade{}, err
	}

	fee := commission
	if direction == domain.Sell {
		fee = fee.Mul(decimal.NewFromInt(-1))
	}

	trade := domain.Trade{
		Symbol:    CanonicalSymbol(market[1]),
		Direction: direction,
		Amount:    amount,
		Price:     domain.DivQuantize(gross.Add(fee), amount),
		Timestamp: timestamp,
		Comment:   fmt.Sprintf("Order #%s", t.get(row, "OrderUuid")),
		Exchange:  bittrexExchange,
	}
	return trade, trade.Validate()
}
