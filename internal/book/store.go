package book

import (
	"context"

	"github.com/jeovahfialho/cctool/internal/domain"
	"github.com/shopspring/decimal"
)

// Store mirrors book mutations to the system that owns the positions.
type Store interface {
	CreatePosition(ctx context.Context, p NewPosition) (domain.Position, error)
	ClosePosition(ctx context.Context, id string, f Fill) (CloseResult, error)
	DeletePosition(ctx context.Context, id string) error
}

// PriceResolver returns the price of symbol in quote units at timestamp.
type PriceResolver interface {
	Price(ctx context.Context, symbol, quote string, timestamp int64) (decimal.Decimal, error)
}

type NewPosition struct {
	PortfolioID string
	Symbol      string
	Exchange    string
	Quote       string
	Amount      decimal.Decimal
	Price       decimal.Decimal
	Timestamp   int64
	Comment     string
}

// Fill is one close recorded against a single open position.
type Fill struct {
	Amount    decimal.Decimal
	Price     decimal.Decimal
	Quote     string
	Timestamp int64
	Comment   string
}

// CloseResult is the store's answer to a close. Sold is the sold record the
// store created for the fill.
type CloseResult struct {
	Action domain.ActionType
	Sold   domain.Position
}
