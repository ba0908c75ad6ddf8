package book

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jeovahfialho/cctool/internal/domain"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const DefaultQuote = "BTC"

// Book is the position book of one portfolio. Open positions are kept in
// insertion order, which is the order closes consume them in.
//
// A Book is not safe for concurrent use.
type Book struct {
	portfolioID string
	quote       string
	store       Store
	resolver    PriceResolver
	now         func() time.Time
	logger      *zap.Logger

	open []domain.Position
	sold []domain.Position
}

type Option func(*Book)

func WithPriceResolver(r PriceResolver) Option {
	return func(b *Book) {
		b.resolver = r
	}
}

func WithQuote(quote string) Option {
	return func(b *Book) {
		b.quote = quote
	}
}

func WithClock(now func() time.Time) Option {
	return func(b *Book) {
		b.now = now
	}
}

func WithLogger(l *zap.Logger) Option {
	return func(b *Book) {
		b.logger = l
	}
}

// WithMembers seeds the book with positions already known to the store.
func WithMembers(members ...domain.Position) Option {
	return func(b *Book) {
		for _, m := range members {
			if m.Sold {
				b.sold = append(b.sold, m)
			} else {
				b.open = append(b.open, m)
			}
		}
	}
}

func New(portfolioID string, store Store, opts ...Option) *Book {
	b := &Book{
		portfolioID: portfolioID,
		quote:       DefaultQuote,
		store:       store,
		now:         time.Now,
		logger:      zap.NewNop(),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

func (b *Book) PortfolioID() string { return b.portfolioID }

type OpenOrder struct {
	Symbol    string
	Amount    decimal.Decimal
	Price     decimal.NullDecimal
	Timestamp int64
	Comment   string
	Exchange  string
}

type CloseOrder struct {
	Symbol    string
	Amount    decimal.NullDecimal
	Price     decimal.NullDecimal
	Timestamp int64
	Comment   string
	Exchange  string
}

// Open creates a new position. Opens never merge into an existing position
// of the same symbol.
func (b *Book) Open(ctx context.Context, o OpenOrder) (domain.Position, error) {
	if err := b.checkDuplicate(o.Comment); err != nil {
		return domain.Position{}, err
	}
	if !o.Amount.IsPositive() {
		return domain.Position{}, fmt.Errorf("%w: open %s for %s", domain.ErrInvalidAmount, o.Symbol, o.Amount)
	}

	timestamp := b.timestamp(o.Timestamp)
	price, err := b.resolvePrice(ctx, o.Symbol, o.Price, timestamp)
	if err != nil {
		return domain.Position{}, err
	}

	position, err := b.store.CreatePosition(ctx, NewPosition{
		PortfolioID: b.portfolioID,
		Symbol:      o.Symbol,
		Exchange:    o.Exchange,
		Quote:       b.quote,
		Amount:      o.Amount,
		Price:       price,
		Timestamp:   timestamp,
		Comment:     o.Comment,
	})
	if err != nil {
		return domain.Position{}, fmt.Errorf("create position %s: %w", o.Symbol, err)
	}

	b.open = append(b.open, position)

	b.logger.Debug("position opened",
		zap.String("id", position.ID),
		zap.String("symbol", position.Symbol),
		zap.String("amount", position.Amount.String()),
		zap.String("price", position.EntryPrice.String()),
	)

	return position, nil
}

type plannedFill struct {
	id     string
	amount decimal.Decimal
	full   bool
}

// planClose walks the matching open positions in FIFO order and returns the
// fills needed for amount, plus what could not be covered. An invalid amount
// means every matching position is closed in full.
func (b *Book) planClose(symbol, exchange string, amount decimal.NullDecimal) ([]plannedFill, decimal.Decimal) {
	var fills []plannedFill
	remaining := amount.Decimal

	for _, p := range b.open {
		if !p.Matches(symbol, exchange) {
			continue
		}

		sold := p.Amount
		if amount.Valid {
			sold = decimal.Min(p.Amount, remaining)
		}
		fills = append(fills, plannedFill{id: p.ID, amount: sold, full: sold.Equal(p.Amount)})

		if amount.Valid {
			remaining = remaining.Sub(sold)
			if remaining.IsZero() {
				break
			}
		}
	}

	if !amount.Valid {
		return fills, decimal.Zero
	}
	return fills, remaining
}

// Close sells open positions of symbol oldest first. Without an amount every
// matching position is sold. Fills already recorded stay in place when the
// open amount turns out to be insufficient.
//
// Matching positions are looked up before the price is resolved: a close
// with nothing open fails with ErrPositionNotFound even when its price could
// not be resolved either.
func (b *Book) Close(ctx context.Context, o CloseOrder) error {
	if err := b.checkDuplicate(o.Comment); err != nil {
		return err
	}
	if o.Amount.Valid && !o.Amount.Decimal.IsPositive() {
		return fmt.Errorf("%w: close %s for %s", domain.ErrInvalidAmount, o.Symbol, o.Amount.Decimal)
	}

	fills, remaining := b.planClose(o.Symbol, o.Exchange, o.Amount)
	if len(fills) == 0 {
		return fmt.Errorf("%w: no open %s", domain.ErrPositionNotFound, o.Symbol)
	}

	timestamp := b.timestamp(o.Timestamp)
	price, err := b.resolvePrice(ctx, o.Symbol, o.Price, timestamp)
	if err != nil {
		return err
	}

	for _, f := range fills {
		fill := Fill{
			Amount:    f.amount,
			Price:     price,
			Quote:     b.quote,
			Timestamp: timestamp,
			Comment:   o.Comment,
		}
		if err := b.applyFill(ctx, f, fill); err != nil {
			return err
		}
	}

	if remaining.IsPositive() {
		return fmt.Errorf("%w: %s short by %s", domain.ErrPositionNotFound, o.Symbol, remaining)
	}
	return nil
}

func (b *Book) applyFill(ctx context.Context, f plannedFill, fill Fill) error {
	result, err := b.store.ClosePosition(ctx, f.id, fill)
	if err != nil {
		return fmt.Errorf("close position %s: %w", f.id, err)
	}

	want := domain.Partial
	if f.full {
		want = domain.Full
	}
	if result.Action != want {
		b.logger.Warn("store close classification differs from local bookkeeping",
			zap.String("id", f.id),
			zap.Stringer("local", want),
			zap.Stringer("store", result.Action),
		)
	}

	i := b.indexOpen(f.id)
	if i < 0 {
		return fmt.Errorf("%w: %s vanished during close", domain.ErrPositionNotFound, f.id)
	}
	position := b.open[i]

	if f.full {
		b.open = append(b.open[:i:i], b.open[i+1:]...)
		b.sold = append(b.sold, soldRecord(position, fill, result.Sold))
		return nil
	}

	b.open[i].Amount = position.Amount.Sub(fill.Amount)
	b.sold = append(b.sold, soldRecord(position, fill, result.Sold))
	return nil
}

// soldRecord completes the sold record returned by the store with the local
// position and the fill where the store left fields empty. The store's
// identity wins.
func soldRecord(position domain.Position, fill Fill, record domain.Position) domain.Position {
	if record.ID == "" {
		record.ID = position.ID
	}
	if record.PortfolioID == "" {
		record.PortfolioID = position.PortfolioID
	}
	if record.Symbol == "" {
		record.Symbol = position.Symbol
		record.Exchange = position.Exchange
	}
	if record.EntryTimestamp == 0 {
		record.Amount = fill.Amount
		record.EntryPrice = position.EntryPrice
		record.EntryTimestamp = position.EntryTimestamp
		record.Comment = position.Comment
	}
	record.Sold = true
	if record.SoldDescription == "" {
		record.SoldDescription = fill.Comment
	}
	if record.SoldAmount.IsZero() {
		record.SoldAmount = fill.Amount
	}
	if record.SoldPrice.IsZero() {
		record.SoldPrice = fill.Price
	}
	if record.SoldTimestamp == 0 {
		record.SoldTimestamp = fill.Timestamp
	}
	return record
}

// DeleteAll removes every member of the book from the store. Members removed
// before a failure stay removed.
func (b *Book) DeleteAll(ctx context.Context) error {
	seen := make(map[string]struct{})
	var ids []string
	for _, p := range b.members() {
		if _, ok := seen[p.ID]; ok {
			continue
		}
		seen[p.ID] = struct{}{}
		ids = append(ids, p.ID)
	}

	for _, id := range ids {
		if err := b.store.DeletePosition(ctx, id); err != nil {
			return fmt.Errorf("delete position %s: %w", id, err)
		}
		b.open = removeID(b.open, id)
		b.sold = removeID(b.sold, id)
	}

	b.logger.Info("positions deleted",
		zap.String("portfolio", b.portfolioID),
		zap.Int("count", len(ids)),
	)
	return nil
}

// FindMember returns the open or sold member whose description is comment.
func (b *Book) FindMember(comment string) (domain.Position, bool) {
	for _, p := range b.members() {
		if p.Description() == comment {
			return p, true
		}
	}
	return domain.Position{}, false
}

func (b *Book) OpenPositions() []domain.Position {
	return append([]domain.Position(nil), b.open...)
}

func (b *Book) SoldPositions() []domain.Position {
	return append([]domain.Position(nil), b.sold...)
}

// Positions returns the open positions of symbol in FIFO order.
func (b *Book) Positions(symbol, exchange string) []domain.Position {
	var out []domain.Position
	for _, p := range b.open {
		if p.Matches(symbol, exchange) {
			out = append(out, p)
		}
	}
	return out
}

func (b *Book) OpenAmount(symbol, exchange string) decimal.Decimal {
	total := decimal.Zero
	for _, p := range b.Positions(symbol, exchange) {
		total = total.Add(p.Amount)
	}
	return total
}

func (b *Book) members() []domain.Position {
	out := make([]domain.Position, 0, len(b.open)+len(b.sold))
	out = append(out, b.open...)
	return append(out, b.sold...)
}

func (b *Book) checkDuplicate(comment string) error {
	if comment == "" {
		return nil
	}
	if _, ok := b.FindMember(comment); ok {
		return fmt.Errorf("%w: %q", domain.ErrDuplicateMember, comment)
	}
	return nil
}

func (b *Book) indexOpen(id string) int {
	for i, p := range b.open {
		if p.ID == id {
			return i
		}
	}
	return -1
}

func (b *Book) timestamp(ts int64) int64 {
	if ts == 0 {
		return b.now().Unix()
	}
	return ts
}

func (b *Book) resolvePrice(ctx context.Context, symbol string, price decimal.NullDecimal, timestamp int64) (decimal.Decimal, error) {
	if price.Valid {
		return price.Decimal, nil
	}
	if b.resolver == nil {
		return decimal.Zero, fmt.Errorf("%w: %s: no price resolver", domain.ErrPriceUnresolved, symbol)
	}

	resolved, err := b.resolver.Price(ctx, symbol, b.quote, timestamp)
	if err != nil {
		if errors.Is(err, domain.ErrPriceUnresolved) {
			return decimal.Zero, err
		}
		return decimal.Zero, fmt.Errorf("%w: %s: %w", domain.ErrPriceUnresolved, symbol, err)
	}
	if !resolved.IsPositive() {
		return decimal.Zero, fmt.Errorf("%w: %s at %d", domain.ErrPriceUnresolved, symbol, timestamp)
	}
	return domain.Quantize(resolved), nil
}

func removeID(positions []domain.Position, id string) []domain.Position {
	out := positions[:0]
	for _, p := range positions {
		if p.ID != id {
			out = append(out, p)
		}
	}
	return out
}
