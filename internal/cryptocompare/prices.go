package cryptocompare

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"

	"github.com/jeovahfialho/cctool/internal/domain"
	"github.com/shopspring/decimal"
)

// maxSymbolsLength bounds the tsyms query parameter of one price request.
const maxSymbolsLength = 30

// Prices returns the price of each symbol in quote units at timestamp, or
// now when timestamp is zero. Symbols the service has no quote for are left
// out of the map and reported through an ErrPriceUnresolved error.
func (c *Client) Prices(ctx context.Context, quote string, timestamp int64, symbols ...string) (map[string]decimal.Decimal, error) {
	prices := make(map[string]decimal.Decimal, len(symbols))

	for _, tsyms := range symbolChunks(symbols, maxSymbolsLength) {
		quotes, err := c.priceHistorical(ctx, quote, tsyms, timestamp)
		if err != nil {
			return nil, err
		}
		for symbol, inverse := range quotes {
			if inverse.IsPositive() {
				prices[symbol] = domain.DivQuantize(decimal.NewFromInt(1), inverse)
			}
		}
	}

	var missing []string
	for _, symbol := range symbols {
		if _, ok := prices[symbol]; !ok {
			missing = append(missing, symbol)
		}
	}
	if len(missing) > 0 {
		sort.Strings(missing)
		return prices, fmt.Errorf("%w: %s in %s at %d", domain.ErrPriceUnresolved, strings.Join(missing, ","), quote, timestamp)
	}
	return prices, nil
}

// priceHistorical asks how many units of each symbol one quote unit buys.
func (c *Client) priceHistorical(ctx context.Context, quote, tsyms string, timestamp int64) (map[string]decimal.Decimal, error) {
	query := url.Values{}
	query.Set("fsym", quote)
	query.Set("tsyms", tsyms)
	if timestamp != 0 {
		query.Set("ts", strconv.FormatInt(timestamp, 10))
	}

	body, status, err := c.do(ctx, "pricehistorical", http.MethodGet, c.minAPIURL+"/data/pricehistorical?"+query.Encode(), "", nil)
	if err != nil {
		return nil, err
	}

	var failure struct {
		Response string `json:"Response"`
		Message  string `json:"Message"`
	}
	if err := json.Unmarshal(body, &failure); err != nil {
		return nil, fmt.Errorf("cryptocompare pricehistorical: decode response (status %d): %w", status, err)
	}
	if failure.Response == "Error" {
		return nil, &APIError{Operation: "pricehistorical", StatusCode: status, Message: failure.Message}
	}

	var data map[string]map[string]decimal.Decimal
	if err := json.Unmarshal(body, &data); err != nil {
		return nil, fmt.Errorf("cryptocompare pricehistorical: decode prices: %w", err)
	}
	return data[quote], nil
}

// symbolChunks joins symbols with commas into strings shorter than limit.
// A single symbol longer than that still gets its own chunk.
func symbolChunks(symbols []string, limit int) []string {
	var chunks []string
	var current string

	for _, symbol := range symbols {
		switch {
		case current == "":
			current = symbol
		case len(current)+1+len(symbol) < limit:
			current += "," + symbol
		default:
			chunks = append(chunks, current)
			current = symbol
		}
	}
	if current != "" {
		chunks = append(chunks, current)
	}
	return chunks
}
