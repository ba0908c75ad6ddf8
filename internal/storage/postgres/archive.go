package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jeovahfialho/cctool/internal/domain"
	"github.com/jeovahfialho/cctool/pkg/metrics"
)

// TradeArchive copies imported aggregate trades into the trades table.
type TradeArchive struct {
	pool      *pgxpool.Pool
	batchSize int
}

func NewTradeArchive(pool *pgxpool.Pool, batchSize int) *TradeArchive {
	if batchSize <= 0 {
		batchSize = 10000
	}
	return &TradeArchive{
		pool:      pool,
		batchSize: batchSize,
	}
}

var tradeColumns = []string{
	"import_id",
	"symbol",
	"direction",
	"amount",
	"price",
	"ts",
	"comment",
	"exchange",
}

// Archive stores trades under importID in one transaction, one COPY per
// batch, and returns the number of rows written.
func (a *TradeArchive) Archive(ctx context.Context, importID string, trades []domain.Trade) (int64, error) {
	if len(trades) == 0 {
		return 0, nil
	}

	timer := metrics.NewTimer()
	count, err := a.archive(ctx, importID, trades)
	record(timer, "archive_trades", err)
	return count, err
}

func (a *TradeArchive) archive(ctx context.Context, importID string, trades []domain.Trade) (int64, error) {
	tx, err := a.pool.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	var total int64
	for _, chunk := range a.splitIntoChunks(trades) {
		n, err := tx.CopyFrom(
			ctx,
			pgx.Identifier{"trades"},
			tradeColumns,
			&tradeSource{importID: importID, trades: chunk},
		)
		if err != nil {
			return 0, fmt.Errorf("copy trades: %w", err)
		}
		total += n
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("commit: %w", err)
	}
	return total, nil
}

// Trades returns the archived trades of importID in timestamp order.
func (a *TradeArchive) Trades(ctx context.Context, importID string) ([]domain.Trade, error) {
	rows, err := a.pool.Query(ctx, `
        SELECT symbol, direction, amount, price, ts, comment, exchange
        FROM trades
        WHERE import_id = $1
        ORDER BY ts, id`, importID)
	if err != nil {
		return nil, fmt.Errorf("query trades: %w", err)
	}
	defer rows.Close()

	var trades []domain.Trade
	for rows.Next() {
		var t domain.Trade
		var direction string
		if err := rows.Scan(&t.Symbol, &direction, &t.Amount, &t.Price, &t.Timestamp, &t.Comment, &t.Exchange); err != nil {
			return nil, fmt.Errorf("scan trade: %w", err)
		}
		if t.Direction, err = domain.ParseDirection(direction); err != nil {
			return nil, err
		}
		trades = append(trades, t)
	}
	return trades, rows.Err()
}

type tradeSource struct {
	importID string
	trades   []domain.Trade
	index    int
}

func (ts *tradeSource) Next() bool {
	ts.index++
	return ts.index <= len(ts.trades)
}

func (ts *tradeSource) Values() ([]interface{}, error) {
	if ts.index > len(ts.trades) {
		return nil, nil
	}

	trade := ts.trades[ts.index-1]
	return []interface{}{
		ts.importID,
		trade.Symbol,
		trade.Direction.String(),
		trade.Amount,
		trade.Price,
		trade.Timestamp,
		trade.Comment,
		trade.Exchange,
	}, nil
}

func (ts *tradeSource) Err() error {
	return nil
}

func (a *TradeArchive) splitIntoChunks(trades []domain.Trade) [][]domain.Trade {
	var chunks [][]domain.Trade

	for i := 0; i < len(trades); i += a.batchSize {
		end := i + a.batchSize
		if end > len(trades) {
			end = len(trades)
		}
		chunks = append(chunks, trades[i:end])
	}

	return chunks
}
