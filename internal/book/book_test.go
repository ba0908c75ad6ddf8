package book

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/jeovahfialho/cctool/internal/domain"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type MockStore struct {
	mock.Mock
	next int
}

func (m *MockStore) CreatePosition(ctx context.Context, p NewPosition) (domain.Position, error) {
	args := m.Called(ctx, p)
	if err := args.Error(0); err != nil {
		return domain.Position{}, err
	}
	m.next++
	return domain.Position{
		ID:             fmt.Sprintf("pos-%d", m.next),
		PortfolioID:    p.PortfolioID,
		Symbol:         p.Symbol,
		Exchange:       p.Exchange,
		Amount:         p.Amount,
		EntryPrice:     p.Price,
		EntryTimestamp: p.Timestamp,
		Comment:        p.Comment,
	}, nil
}

func (m *MockStore) ClosePosition(ctx context.Context, id string, f Fill) (CloseResult, error) {
	args := m.Called(ctx, id, f)
	return args.Get(0).(CloseResult), args.Error(1)
}

func (m *MockStore) DeletePosition(ctx context.Context, id string) error {
	return m.Called(ctx, id).Error(0)
}

type MockResolver struct {
	mock.Mock
}

func (m *MockResolver) Price(ctx context.Context, symbol, quote string, timestamp int64) (decimal.Decimal, error) {
	args := m.Called(ctx, symbol, quote, timestamp)
	return args.Get(0).(decimal.Decimal), args.Error(1)
}

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func priceOf(s string) decimal.NullDecimal {
	return decimal.NewNullDecimal(dec(s))
}

func amountOf(s string) decimal.NullDecimal {
	return decimal.NewNullDecimal(dec(s))
}

func fillAmount(s string) interface{} {
	return mock.MatchedBy(func(f Fill) bool { return f.Amount.Equal(dec(s)) })
}

func openOrder(symbol, amount string, ts int64, comment string) OpenOrder {
	return OpenOrder{
		Symbol:    symbol,
		Amount:    dec(amount),
		Price:     priceOf("0.01"),
		Timestamp: ts,
		Comment:   comment,
	}
}

func newBook(t *testing.T, opts ...Option) (*Book, *MockStore) {
	t.Helper()
	store := &MockStore{}
	t.Cleanup(func() { store.AssertExpectations(t) })
	return New("portfolio-1", store, opts...), store
}

func TestOpenAppendsIndependentPositions(t *testing.T) {
	b, store := newBook(t)
	ctx := context.Background()
	store.On("CreatePosition", ctx, mock.Anything).Return(nil).Twice()

	first, err := b.Open(ctx, openOrder("LTC", "2", 1, "Order #1"))
	require.NoError(t, err)
	second, err := b.Open(ctx, openOrder("LTC", "3", 2, "Order #2"))
	require.NoError(t, err)

	assert.NotEqual(t, first.ID, second.ID)
	assert.Equal(t, "portfolio-1", first.PortfolioID)
	assert.False(t, first.Sold)
	require.Len(t, b.OpenPositions(), 2)
	assert.True(t, b.OpenAmount("LTC", "").Equal(dec("5")))
}

func TestOpenPassesOrderToStore(t *testing.T) {
	b, store := newBook(t, WithQuote("ETH"))
	ctx := context.Background()
	store.On("CreatePosition", ctx, mock.MatchedBy(func(p NewPosition) bool {
		return p.PortfolioID == "portfolio-1" &&
			p.Symbol == "LTC" &&
			p.Quote == "ETH" &&
			p.Exchange == "Poloniex" &&
			p.Price.Equal(dec("0.01")) &&
			p.Timestamp == 7 &&
			p.Comment == "Order #1"
	})).Return(nil).Once()

	order := openOrder("LTC", "1", 7, "Order #1")
	order.Exchange = "Poloniex"
	_, err := b.Open(ctx, order)
	require.NoError(t, err)
}

func TestOpenRejectsDuplicateComment(t *testing.T) {
	b, store := newBook(t, WithMembers(
		domain.Position{ID: "a", Symbol: "LTC", Amount: dec("1"), Comment: "Order #1"},
		domain.Position{ID: "b", Symbol: "LTC", Sold: true, Comment: "Order #2", SoldDescription: "Order #3"},
	))
	ctx := context.Background()

	for _, comment := range []string{"Order #1", "Order #3"} {
		_, err := b.Open(ctx, openOrder("LTC", "1", 1, comment))
		assert.ErrorIs(t, err, domain.ErrDuplicateMember, comment)
	}

	assert.Len(t, b.OpenPositions(), 1)
	assert.Len(t, b.SoldPositions(), 1)
	store.AssertNotCalled(t, "CreatePosition", mock.Anything, mock.Anything)
}

func TestOpenAllowsSoldPositionOpeningComment(t *testing.T) {
	b, store := newBook(t, WithMembers(
		domain.Position{ID: "b", Symbol: "LTC", Sold: true, Comment: "Order #2", SoldDescription: "Order #3"},
	))
	ctx := context.Background()
	store.On("CreatePosition", ctx, mock.Anything).Return(nil).Once()

	_, err := b.Open(ctx, openOrder("LTC", "1", 1, "Order #2"))
	assert.NoError(t, err)
}

func TestOpenRejectsNonPositiveAmount(t *testing.T) {
	b, _ := newBook(t)

	_, err := b.Open(context.Background(), openOrder("LTC", "0", 1, ""))
	assert.ErrorIs(t, err, domain.ErrInvalidAmount)
}

func TestOpenResolvesMissingPrice(t *testing.T) {
	resolver := &MockResolver{}
	b, store := newBook(t, WithPriceResolver(resolver), WithClock(func() time.Time {
		return time.Unix(1512122400, 0)
	}))
	ctx := context.Background()

	resolver.On("Price", ctx, "LTC", "BTC", int64(1512122400)).Return(dec("0.0100000049"), nil).Once()
	store.On("CreatePosition", ctx, mock.MatchedBy(func(p NewPosition) bool {
		return p.Price.Equal(dec("0.01")) && p.Timestamp == 1512122400
	})).Return(nil).Once()

	order := openOrder("LTC", "1", 0, "")
	order.Price = decimal.NullDecimal{}
	_, err := b.Open(ctx, order)
	require.NoError(t, err)
	resolver.AssertExpectations(t)
}

func TestOpenPriceUnresolved(t *testing.T) {
	ctx := context.Background()
	order := openOrder("LTC", "1", 5, "")
	order.Price = decimal.NullDecimal{}

	t.Run("no resolver", func(t *testing.T) {
		b, _ := newBook(t)
		_, err := b.Open(ctx, order)
		assert.ErrorIs(t, err, domain.ErrPriceUnresolved)
	})

	t.Run("lookup fails", func(t *testing.T) {
		resolver := &MockResolver{}
		resolver.On("Price", ctx, "LTC", "BTC", int64(5)).Return(decimal.Zero, errors.New("timeout"))
		b, _ := newBook(t, WithPriceResolver(resolver))

		_, err := b.Open(ctx, order)
		assert.ErrorIs(t, err, domain.ErrPriceUnresolved)
		assert.Contains(t, err.Error(), "timeout")
	})

	t.Run("zero price", func(t *testing.T) {
		resolver := &MockResolver{}
		resolver.On("Price", ctx, "LTC", "BTC", int64(5)).Return(decimal.Zero, nil)
		b, _ := newBook(t, WithPriceResolver(resolver))

		_, err := b.Open(ctx, order)
		assert.ErrorIs(t, err, domain.ErrPriceUnresolved)
	})
}

func TestOpenStoreFailureLeavesBookUntouched(t *testing.T) {
	b, store := newBook(t)
	ctx := context.Background()
	store.On("CreatePosition", ctx, mock.Anything).Return(errors.New("boom")).Once()

	_, err := b.Open(ctx, openOrder("LTC", "1", 1, "Order #1"))
	require.Error(t, err)
	assert.Empty(t, b.OpenPositions())
	_, found := b.FindMember("Order #1")
	assert.False(t, found)
}

// seed opens positions through the mock store and returns their ids.
func seed(t *testing.T, b *Book, store *MockStore, orders ...OpenOrder) []string {
	t.Helper()
	ctx := context.Background()
	store.On("CreatePosition", ctx, mock.Anything).Return(nil).Times(len(orders))

	var ids []string
	for _, o := range orders {
		p, err := b.Open(ctx, o)
		require.NoError(t, err)
		ids = append(ids, p.ID)
	}
	return ids
}

func TestCloseFIFO(t *testing.T) {
	b, store := newBook(t)
	ctx := context.Background()
	ids := seed(t, b, store,
		openOrder("X", "2", 1, "open-1"),
		openOrder("X", "3", 2, "open-2"),
	)

	store.On("ClosePosition", ctx, ids[0], fillAmount("2")).
		Return(CloseResult{Action: domain.Full}, nil).Once()
	store.On("ClosePosition", ctx, ids[1], fillAmount("2")).
		Return(CloseResult{Action: domain.Partial, Sold: domain.Position{ID: "sold-1"}}, nil).Once()

	err := b.Close(ctx, CloseOrder{Symbol: "X", Amount: amountOf("4"), Price: priceOf("0.02"), Timestamp: 3, Comment: "close-1"})
	require.NoError(t, err)

	open := b.OpenPositions()
	require.Len(t, open, 1)
	assert.Equal(t, ids[1], open[0].ID)
	assert.True(t, open[0].Amount.Equal(dec("1")))
	assert.False(t, open[0].Sold)

	sold := b.SoldPositions()
	require.Len(t, sold, 2)
	assert.Equal(t, ids[0], sold[0].ID)
	assert.True(t, sold[0].Sold)
	assert.True(t, sold[0].SoldAmount.Equal(dec("2")))
	assert.True(t, sold[0].SoldPrice.Equal(dec("0.02")))
	assert.Equal(t, int64(3), sold[0].SoldTimestamp)

	assert.Equal(t, "sold-1", sold[1].ID)
	assert.True(t, sold[1].SoldAmount.Equal(dec("2")))
	assert.Equal(t, "close-1", sold[1].SoldDescription)
}

func TestCloseClassification(t *testing.T) {
	tests := []struct {
		name     string
		amount   string
		wantOpen bool
		wantLeft string
	}{
		{"exact amount flips to sold", "2", false, ""},
		{"smaller amount decrements", "0.5", true, "1.5"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b, store := newBook(t)
			ctx := context.Background()
			ids := seed(t, b, store, openOrder("X", "2", 1, ""))

			action := domain.Full
			if tt.wantOpen {
				action = domain.Partial
			}
			store.On("ClosePosition", ctx, ids[0], fillAmount(tt.amount)).
				Return(CloseResult{Action: action}, nil).Once()

			require.NoError(t, b.Close(ctx, CloseOrder{Symbol: "X", Amount: amountOf(tt.amount), Price: priceOf("1"), Timestamp: 2}))

			open := b.OpenPositions()
			if !tt.wantOpen {
				assert.Empty(t, open)
				require.Len(t, b.SoldPositions(), 1)
				assert.True(t, b.SoldPositions()[0].Sold)
				return
			}
			require.Len(t, open, 1)
			assert.False(t, open[0].Sold)
			assert.True(t, open[0].Amount.Equal(dec(tt.wantLeft)))
		})
	}
}

func TestCloseWithoutAmountSellsEverything(t *testing.T) {
	b, store := newBook(t)
	ctx := context.Background()
	ids := seed(t, b, store,
		openOrder("X", "2", 1, ""),
		openOrder("Y", "1", 2, ""),
		openOrder("X", "3", 3, ""),
	)

	store.On("ClosePosition", ctx, ids[0], fillAmount("2")).Return(CloseResult{Action: domain.Full}, nil).Once()
	store.On("ClosePosition", ctx, ids[2], fillAmount("3")).Return(CloseResult{Action: domain.Full}, nil).Once()

	require.NoError(t, b.Close(ctx, CloseOrder{Symbol: "X", Price: priceOf("1"), Timestamp: 4}))

	assert.True(t, b.OpenAmount("X", "").IsZero())
	assert.True(t, b.OpenAmount("Y", "").Equal(dec("1")))
	assert.Len(t, b.SoldPositions(), 2)
}

func TestCloseFiltersByExchange(t *testing.T) {
	b, store := newBook(t)
	ctx := context.Background()
	polo := openOrder("X", "2", 1, "")
	polo.Exchange = "Poloniex"
	bittrex := openOrder("X", "2", 2, "")
	bittrex.Exchange = "Bittrex"
	ids := seed(t, b, store, polo, bittrex)

	store.On("ClosePosition", ctx, ids[1], fillAmount("1")).Return(CloseResult{Action: domain.Partial}, nil).Once()

	require.NoError(t, b.Close(ctx, CloseOrder{Symbol: "X", Exchange: "Bittrex", Amount: amountOf("1"), Price: priceOf("1"), Timestamp: 3}))
	assert.True(t, b.OpenAmount("X", "Poloniex").Equal(dec("2")))
	assert.True(t, b.OpenAmount("X", "Bittrex").Equal(dec("1")))
}

func TestOverCloseKeepsAppliedFills(t *testing.T) {
	b, store := newBook(t)
	ctx := context.Background()
	ids := seed(t, b, store,
		openOrder("X", "2", 1, ""),
		openOrder("X", "3", 2, ""),
	)

	store.On("ClosePosition", ctx, ids[0], fillAmount("2")).Return(CloseResult{Action: domain.Full}, nil).Once()
	store.On("ClosePosition", ctx, ids[1], fillAmount("3")).Return(CloseResult{Action: domain.Full}, nil).Once()

	err := b.Close(ctx, CloseOrder{Symbol: "X", Amount: amountOf("6"), Price: priceOf("1"), Timestamp: 3})
	require.ErrorIs(t, err, domain.ErrPositionNotFound)
	assert.Contains(t, err.Error(), "short by 1")

	assert.Empty(t, b.OpenPositions())
	assert.Len(t, b.SoldPositions(), 2)
}

func TestCloseNothingOpen(t *testing.T) {
	b, _ := newBook(t)
	ctx := context.Background()

	err := b.Close(ctx, CloseOrder{Symbol: "X", Price: priceOf("1")})
	assert.ErrorIs(t, err, domain.ErrPositionNotFound)

	err = b.Close(ctx, CloseOrder{Symbol: "X", Amount: amountOf("1"), Price: priceOf("1")})
	assert.ErrorIs(t, err, domain.ErrPositionNotFound)
}

func TestCloseNothingOpenSkipsPriceLookup(t *testing.T) {
	resolver := &MockResolver{}
	b, _ := newBook(t, WithPriceResolver(resolver))

	err := b.Close(context.Background(), CloseOrder{Symbol: "X", Amount: amountOf("1")})
	assert.ErrorIs(t, err, domain.ErrPositionNotFound)
	assert.NotErrorIs(t, err, domain.ErrPriceUnresolved)
	resolver.AssertNotCalled(t, "Price", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestCloseRejectsDuplicateComment(t *testing.T) {
	b, store := newBook(t)
	ctx := context.Background()
	seed(t, b, store, openOrder("X", "2", 1, "Order #1"))

	err := b.Close(ctx, CloseOrder{Symbol: "X", Price: priceOf("1"), Comment: "Order #1"})
	assert.ErrorIs(t, err, domain.ErrDuplicateMember)
	assert.True(t, b.OpenAmount("X", "").Equal(dec("2")))
	store.AssertNotCalled(t, "ClosePosition", mock.Anything, mock.Anything, mock.Anything)
}

func TestCloseCommentBecomesDuplicate(t *testing.T) {
	b, store := newBook(t)
	ctx := context.Background()
	ids := seed(t, b, store, openOrder("X", "2", 1, ""))
	store.On("ClosePosition", ctx, ids[0], fillAmount("1")).Return(CloseResult{Action: domain.Partial}, nil).Once()

	require.NoError(t, b.Close(ctx, CloseOrder{Symbol: "X", Amount: amountOf("1"), Price: priceOf("1"), Comment: "Order #9"}))

	err := b.Close(ctx, CloseOrder{Symbol: "X", Amount: amountOf("1"), Price: priceOf("1"), Comment: "Order #9"})
	assert.ErrorIs(t, err, domain.ErrDuplicateMember)
}

func TestCloseRejectsNonPositiveAmount(t *testing.T) {
	b, _ := newBook(t)

	err := b.Close(context.Background(), CloseOrder{Symbol: "X", Amount: amountOf("0"), Price: priceOf("1")})
	assert.ErrorIs(t, err, domain.ErrInvalidAmount)
}

func TestCloseStoreFailureStopsAfterAppliedFills(t *testing.T) {
	b, store := newBook(t)
	ctx := context.Background()
	ids := seed(t, b, store,
		openOrder("X", "1", 1, ""),
		openOrder("X", "1", 2, ""),
	)
	store.On("ClosePosition", ctx, ids[0], mock.Anything).Return(CloseResult{Action: domain.Full}, nil).Once()
	store.On("ClosePosition", ctx, ids[1], mock.Anything).Return(CloseResult{}, errors.New("boom")).Once()

	err := b.Close(ctx, CloseOrder{Symbol: "X", Price: priceOf("1")})
	require.Error(t, err)
	assert.Contains(t, err.Error(), ids[1])

	open := b.OpenPositions()
	require.Len(t, open, 1)
	assert.Equal(t, ids[1], open[0].ID)
}

func TestCloseTrustsLocalClassification(t *testing.T) {
	b, store := newBook(t)
	ctx := context.Background()
	ids := seed(t, b, store, openOrder("X", "2", 1, ""))
	store.On("ClosePosition", ctx, ids[0], mock.Anything).Return(CloseResult{Action: domain.Partial}, nil).Once()

	require.NoError(t, b.Close(ctx, CloseOrder{Symbol: "X", Amount: amountOf("2"), Price: priceOf("1")}))
	assert.Empty(t, b.OpenPositions())
}

func TestFullCloseKeepsStoreSoldRecord(t *testing.T) {
	b, store := newBook(t)
	ctx := context.Background()
	ids := seed(t, b, store, openOrder("X", "2", 1, "open-1"))

	store.On("ClosePosition", ctx, ids[0], fillAmount("2")).
		Return(CloseResult{Action: domain.Full, Sold: domain.Position{ID: "remote-sold-9", SoldDescription: "remote note"}}, nil).Once()

	require.NoError(t, b.Close(ctx, CloseOrder{Symbol: "X", Amount: amountOf("2"), Price: priceOf("0.5"), Timestamp: 4, Comment: "close-1"}))
	assert.Empty(t, b.OpenPositions())

	sold := b.SoldPositions()
	require.Len(t, sold, 1)
	assert.Equal(t, "remote-sold-9", sold[0].ID)
	assert.Equal(t, "remote note", sold[0].SoldDescription)
	assert.Equal(t, "X", sold[0].Symbol)
	assert.Equal(t, "open-1", sold[0].Comment)
	assert.True(t, sold[0].Sold)
	assert.True(t, sold[0].Amount.Equal(dec("2")))
	assert.True(t, sold[0].SoldAmount.Equal(dec("2")))
	assert.True(t, sold[0].SoldPrice.Equal(dec("0.5")))
	assert.Equal(t, int64(4), sold[0].SoldTimestamp)
	assert.Equal(t, int64(1), sold[0].EntryTimestamp)
}

func TestTwoBooksOverOneStoreRejectDuplicate(t *testing.T) {
	store := &MockStore{}
	defer store.AssertExpectations(t)
	ctx := context.Background()

	store.On("CreatePosition", ctx, mock.Anything).Return(nil).Once()
	store.On("CreatePosition", ctx, mock.Anything).
		Return(fmt.Errorf("%w: \"Order #1\"", domain.ErrDuplicateMember)).Once()

	first := New("p", store)
	second := New("p", store)

	_, err := first.Open(ctx, openOrder("LTC", "1", 1, "Order #1"))
	require.NoError(t, err)

	_, err = second.Open(ctx, openOrder("LTC", "1", 1, "Order #1"))
	assert.ErrorIs(t, err, domain.ErrDuplicateMember)
	assert.Empty(t, second.OpenPositions())
	assert.Equal(t, 1, store.next)
}

func TestDeleteAll(t *testing.T) {
	b, store := newBook(t, WithMembers(
		domain.Position{ID: "a", Symbol: "X", Amount: dec("1")},
		domain.Position{ID: "b", Symbol: "X", Sold: true},
		domain.Position{ID: "c", Symbol: "Y", Amount: dec("1")},
	))
	ctx := context.Background()
	for _, id := range []string{"a", "c", "b"} {
		store.On("DeletePosition", ctx, id).Return(nil).Once()
	}

	require.NoError(t, b.DeleteAll(ctx))
	assert.Empty(t, b.OpenPositions())
	assert.Empty(t, b.SoldPositions())
}

func TestDeleteAllStopsOnError(t *testing.T) {
	b, store := newBook(t, WithMembers(
		domain.Position{ID: "a", Symbol: "X", Amount: dec("1")},
		domain.Position{ID: "b", Symbol: "X", Amount: dec("1")},
		domain.Position{ID: "c", Symbol: "X", Amount: dec("1")},
	))
	ctx := context.Background()
	store.On("DeletePosition", ctx, "a").Return(nil).Once()
	store.On("DeletePosition", ctx, "b").Return(errors.New("boom")).Once()

	err := b.DeleteAll(ctx)
	require.Error(t, err)

	open := b.OpenPositions()
	require.Len(t, open, 2)
	assert.Equal(t, "b", open[0].ID)
	assert.Equal(t, "c", open[1].ID)
}

func TestPositionsKeepsFIFOOrder(t *testing.T) {
	b, _ := newBook(t, WithMembers(
		domain.Position{ID: "a", Symbol: "X", Amount: dec("1")},
		domain.Position{ID: "b", Symbol: "Y", Amount: dec("1")},
		domain.Position{ID: "c", Symbol: "X", Amount: dec("2")},
	))

	positions := b.Positions("X", "")
	require.Len(t, positions, 2)
	assert.Equal(t, "a", positions[0].ID)
	assert.Equal(t, "c", positions[1].ID)
	assert.True(t, b.OpenAmount("X", "").Equal(dec("3")))
}
