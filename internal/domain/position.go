package domain

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// Position is one lot of a portfolio, open or sold.
type Position struct {
	ID             string          `json:"id" db:"id"`
	PortfolioID    string          `json:"portfolio_id" db:"portfolio_id"`
	Symbol         string          `json:"symbol" db:"symbol"`
	Exchange       string          `json:"exchange,omitempty" db:"exchange"`
	Amount         decimal.Decimal `json:"amount" db:"amount"`
	EntryPrice     decimal.Decimal `json:"entry_price" db:"entry_price"`
	EntryTimestamp int64           `json:"entry_timestamp" db:"entry_ts"`
	Comment        string          `json:"comment,omitempty" db:"comment"`

	Sold            bool            `json:"sold" db:"sold"`
	SoldDescription string          `json:"sold_description,omitempty" db:"sold_description"`
	SoldAmount      decimal.Decimal `json:"sold_amount" db:"sold_amount"`
	SoldPrice       decimal.Decimal `json:"sold_price" db:"sold_price"`
	SoldTimestamp   int64           `json:"sold_timestamp,omitempty" db:"sold_ts"`
}

// Description is the natural key used for duplicate detection: the sold
// description once sold, the opening comment otherwise.
func (p Position) Description() string {
	if p.Sold {
		return p.SoldDescription
	}
	return p.Comment
}

// Matches reports whether p belongs to symbol, and to exchange when exchange
// is not empty.
func (p Position) Matches(symbol, exchange string) bool {
	if exchange != "" && p.Exchange != exchange {
		return false
	}
	return p.Symbol == symbol
}

// ActionType is the remote classification of a close.
type ActionType int

const (
	Full ActionType = iota
	Partial
)

func (a ActionType) String() string {
	switch a {
	case Full:
		return "Full"
	case Partial:
		return "Partial"
	default:
		return "Unknown"
	}
}

func ParseActionType(s string) (ActionType, error) {
	switch strings.ToLower(s) {
	case "full":
		return Full, nil
	case "partial":
		return Partial, nil
	default:
		return 0, fmt.Errorf("unknown action type: %q", s)
	}
}
