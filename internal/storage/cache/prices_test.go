package cache

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/jeovahfialho/cctool/internal/domain"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

// memoryStore mimics RedisCache with a map.
type memoryStore struct {
	data    map[string][]byte
	failGet bool
	failSet bool
}

func newMemoryStore() *memoryStore {
	return &memoryStore{data: make(map[string][]byte)}
}

func (m *memoryStore) Get(_ context.Context, key string, dest interface{}) error {
	if m.failGet {
		return errors.New("connection refused")
	}
	v, ok := m.data[key]
	if !ok {
		return ErrCacheMiss
	}
	return json.Unmarshal(v, dest)
}

func (m *memoryStore) Set(_ context.Context, key string, value interface{}, _ ...time.Duration) error {
	if m.failSet {
		return errors.New("connection refused")
	}
	data, err := json.Marshal(value)
	if err != nil {
		return err
	}
	m.data[key] = data
	return nil
}

type MockResolver struct {
	mock.Mock
}

func (m *MockResolver) Price(ctx context.Context, symbol, quote string, timestamp int64) (decimal.Decimal, error) {
	args := m.Called(ctx, symbol, quote, timestamp)
	return args.Get(0).(decimal.Decimal), args.Error(1)
}

func TestPriceKey(t *testing.T) {
	assert.Equal(t, "price:LTC:BTC:1512122400", PriceKey("LTC", "BTC", 1512122400))
}

func TestPriceCacheReadThrough(t *testing.T) {
	ctx := context.Background()
	store := newMemoryStore()
	resolver := &MockResolver{}
	resolver.On("Price", ctx, "LTC", "BTC", int64(10)).Return(decimal.RequireFromString("0.01234567"), nil).Once()

	cache := NewPriceCache(store, resolver, nil)

	for i := 0; i < 3; i++ {
		price, err := cache.Price(ctx, "LTC", "BTC", 10)
		require.NoError(t, err)
		assert.True(t, price.Equal(decimal.RequireFromString("0.01234567")))
	}

	resolver.AssertExpectations(t)
	assert.Contains(t, store.data, "price:LTC:BTC:10")
}

func TestPriceCacheDoesNotPinCurrentPrice(t *testing.T) {
	ctx := context.Background()
	store := newMemoryStore()
	resolver := &MockResolver{}
	resolver.On("Price", ctx, "LTC", "BTC", int64(0)).Return(decimal.NewFromInt(1), nil).Twice()

	cache := NewPriceCache(store, resolver, nil)
	_, err := cache.Price(ctx, "LTC", "BTC", 0)
	require.NoError(t, err)
	_, err = cache.Price(ctx, "LTC", "BTC", 0)
	require.NoError(t, err)

	resolver.AssertExpectations(t)
	assert.Empty(t, store.data)
}

func TestPriceCacheFailuresFallThrough(t *testing.T) {
	ctx := context.Background()
	store := newMemoryStore()
	store.failGet = true
	store.failSet = true
	resolver := &MockResolver{}
	resolver.On("Price", ctx, "ETH", "BTC", int64(5)).Return(decimal.RequireFromString("0.05"), nil)

	price, err := NewPriceCache(store, resolver, nil).Price(ctx, "ETH", "BTC", 5)
	require.NoError(t, err)
	assert.True(t, price.Equal(decimal.RequireFromString("0.05")))
}

func TestPriceCacheDoesNotStoreErrors(t *testing.T) {
	ctx := context.Background()
	store := newMemoryStore()
	resolver := &MockResolver{}
	resolver.On("Price", ctx, "DOGE", "BTC", int64(5)).Return(decimal.Zero, domain.ErrPriceUnresolved)

	_, err := NewPriceCache(store, resolver, nil).Price(ctx, "DOGE", "BTC", 5)
	assert.ErrorIs(t, err, domain.ErrPriceUnresolved)
	assert.Empty(t, store.data)
}

func TestRedisCache(t *testing.T) {
	url := os.Getenv("TEST_REDIS_URL")
	if url == "" {
		t.Skip("TEST_REDIS_URL not set")
	}
	opt, err := redis.ParseURL(url)
	require.NoError(t, err)

	c := NewRedisCacheFromClient(redis.NewClient(opt), time.Minute)
	defer c.Close()
	ctx := context.Background()
	require.NoError(t, c.HealthCheck(ctx))

	key := PriceKey("TEST", "BTC", time.Now().UnixNano())
	var got decimal.Decimal
	assert.ErrorIs(t, c.Get(ctx, key, &got), ErrCacheMiss)

	require.NoError(t, c.Set(ctx, key, decimal.RequireFromString("0.00000999")))
	require.NoError(t, c.Get(ctx, key, &got))
	assert.True(t, got.Equal(decimal.RequireFromString("0.00000999")))

	require.NoError(t, c.Delete(ctx, key))
	assert.ErrorIs(t, c.Get(ctx, key, &got), ErrCacheMiss)
}
