package ingestion

import (
	"sort"

	"github.com/jeovahfialho/cctool/internal/domain"
	"github.com/jeovahfialho/cctool/pkg/metrics"
	"github.com/shopspring/decimal"
)

// orderKey identifies the logical order a canonical trade belongs to.
type orderKey struct {
	comment   string
	exchange  string
	direction domain.Direction
	symbol    string
}

type orderGroup struct {
	trade    domain.Trade
	amount   decimal.Decimal
	weighted decimal.Decimal // sum of price * amount of every member
}

// Aggregate merges trades of the same order into one trade whose amount is
// the sum of the members and whose price is the amount weighted average of
// the member prices. The result is sorted by timestamp; groups with equal
// timestamps keep the order in which they first appear.
func Aggregate(trades []domain.Trade) []domain.Trade {
	index := make(map[orderKey]int, len(trades))
	groups := make([]*orderGroup, 0, len(trades))

	for _, t := range trades {
		key := orderKey{comment: t.Comment, exchange: t.Exchange, direction: t.Direction, symbol: t.Symbol}

		i, ok := index[key]
		if !ok {
			i = len(groups)
			index[key] = i
			groups = append(groups, &orderGroup{trade: t, amount: decimal.Zero, weighted: decimal.Zero})
		}

		g := groups[i]
		g.amount = g.amount.Add(t.Amount)
		g.weighted = g.weighted.Add(t.Price.Mul(t.Amount))
		if t.Timestamp < g.trade.Timestamp {
			g.trade.Timestamp = t.Timestamp
		}
	}

	out := make([]domain.Trade, 0, len(groups))
	for _, g := range groups {
		trade := g.trade
		trade.Amount = g.amount
		trade.Price = decimal.Zero
		if !g.amount.IsZero() {
			trade.Price = domain.DivQuantize(g.weighted, g.amount)
		}
		out = append(out, trade)
		metrics.TradesAggregated.WithLabelValues(trade.Exchange).Inc()
	}

	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Timestamp < out[j].Timestamp
	})

	return out
}
