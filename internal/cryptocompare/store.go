package cryptocompare

import (
	"context"
	"fmt"

	"github.com/jeovahfialho/cctool/internal/book"
	"github.com/jeovahfialho/cctool/internal/domain"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Store mirrors a position book to one remote portfolio.
type Store struct {
	client      *Client
	session     *Session
	portfolioID string
}

func NewStore(client *Client, session *Session, portfolioID string) *Store {
	return &Store{client: client, session: session, portfolioID: portfolioID}
}

func (s *Store) CreatePosition(ctx context.Context, p book.NewPosition) (domain.Position, error) {
	coin, err := s.session.Coin(p.Symbol)
	if err != nil {
		return domain.Position{}, err
	}

	member, err := s.client.OpenPosition(ctx, s.session, OpenPositionRequest{
		PortfolioID: s.portfolioID,
		CoinID:      coin.ID.String(),
		Amount:      p.Amount,
		Price:       p.Price,
		Timestamp:   p.Timestamp,
		Comment:     p.Comment,
		Quote:       p.Quote,
		Exchange:    p.Exchange,
	})
	if err != nil {
		return domain.Position{}, err
	}

	position := member.Position(s.portfolioID)
	if position.Symbol == "" {
		position.Symbol = p.Symbol
	}
	return position, nil
}

func (s *Store) ClosePosition(ctx context.Context, id string, f book.Fill) (book.CloseResult, error) {
	member, err := s.client.ClosePosition(ctx, s.session, ClosePositionRequest{
		PositionID: id,
		Amount:     f.Amount,
		Price:      f.Price,
		Timestamp:  f.Timestamp,
		Comment:    f.Comment,
		Quote:      f.Quote,
	})
	if err != nil {
		return book.CloseResult{}, err
	}

	action, err := domain.ParseActionType(member.ActionType)
	if err != nil {
		return book.CloseResult{}, fmt.Errorf("close position %s: %w", id, err)
	}
	return book.CloseResult{Action: action, Sold: member.Position(s.portfolioID)}, nil
}

func (s *Store) DeletePosition(ctx context.Context, id string) error {
	return s.client.DeletePosition(ctx, s.session, id)
}

// LoadBook builds a book seeded with the current members of the portfolio.
func (s *Store) LoadBook(ctx context.Context, opts ...book.Option) (*book.Book, error) {
	portfolio, err := s.client.Portfolio(ctx, s.session, s.portfolioID)
	if err != nil {
		return nil, err
	}
	opts = append([]book.Option{book.WithMembers(portfolio.Positions()...)}, opts...)
	return book.New(s.portfolioID, s, opts...), nil
}

// PriceResolver resolves single prices through Client.Prices.
type PriceResolver struct {
	client *Client
	logger *zap.Logger
}

func NewPriceResolver(client *Client) *PriceResolver {
	return &PriceResolver{client: client, logger: client.logger}
}

func (r *PriceResolver) Price(ctx context.Context, symbol, quote string, timestamp int64) (decimal.Decimal, error) {
	prices, err := r.client.Prices(ctx, quote, timestamp, symbol)
	if err != nil {
		return decimal.Zero, err
	}
	r.logger.Debug("price resolved",
		zap.String("symbol", symbol),
		zap.String("quote", quote),
		zap.Int64("timestamp", timestamp),
		zap.String("price", prices[symbol].String()),
	)
	return prices[symbol], nil
}
