package domain

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

type Direction int

const (
	Buy Direction = iota
	Sell
)

func (d Direction) String() string {
	switch d {
	case Buy:
		return "buy"
	case Sell:
		return "sell"
	default:
		return "unknown"
	}
}

// ParseDirection accepts "buy" and "sell" in any case.
func ParseDirection(s string) (Direction, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "buy":
		return Buy, nil
	case "sell":
		return Sell, nil
	default:
		return 0, fmt.Errorf("unknown trade direction: %q", s)
	}
}

func (d Direction) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

func (d *Direction) UnmarshalText(text []byte) error {
	v, err := ParseDirection(string(text))
	if err != nil {
		return err
	}
	*d = v
	return nil
}

// Trade is both the canonical record emitted by a normalizer and the
// aggregate record consumed by the position book.
type Trade struct {
	Symbol    string          `json:"symbol" db:"symbol"`
	Direction Direction       `json:"direction" db:"direction"`
	Amount    decimal.Decimal `json:"amount" db:"amount"`
	Price     decimal.Decimal `json:"price" db:"price"`
	Timestamp int64           `json:"timestamp" db:"timestamp"`
	Comment   string          `json:"comment" db:"comment"`
	Exchange  string          `json:"exchange" db:"exchange"`
}

func (t Trade) Validate() error {
	if t.Symbol == "" {
		return fmt.Errorf("trade has an empty symbol")
	}
	if !t.Amount.IsPositive() {
		return fmt.Errorf("%w: amount %s must be positive", ErrInvalidAmount, t.Amount)
	}
	if t.Price.IsNegative() {
		return fmt.Errorf("%w: price %s must not be negative", ErrInvalidAmount, t.Price)
	}
	return nil
}

func (t Trade) String() string {
	return fmt.Sprintf("%s %s %s @ %s (%s, %s, ts=%d)",
		t.Direction, t.Amount, t.Symbol, t.Price, t.Exchange, t.Comment, t.Timestamp)
}
