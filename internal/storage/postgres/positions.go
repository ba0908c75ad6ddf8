package postgres

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jeovahfialho/cctool/internal/book"
	"github.com/jeovahfialho/cctool/internal/domain"
	"github.com/jeovahfialho/cctool/pkg/metrics"
	"go.uber.org/zap"
)

const positionColumns = `id::text, portfolio_id, symbol, exchange, amount, entry_price, entry_ts, comment,
    sold, sold_description, sold_amount, sold_price, sold_ts`

// PositionStore keeps the positions of one portfolio in the positions table.
type PositionStore struct {
	pool        *pgxpool.Pool
	portfolioID string
	logger      *zap.Logger
}

func NewPositionStore(pool *pgxpool.Pool, portfolioID string, logger *zap.Logger) *PositionStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PositionStore{pool: pool, portfolioID: portfolioID, logger: logger}
}

func (s *PositionStore) CreatePosition(ctx context.Context, p book.NewPosition) (domain.Position, error) {
	timer := metrics.NewTimer()

	row := s.pool.QueryRow(ctx, `
        INSERT INTO positions (portfolio_id, symbol, exchange, quote, amount, entry_price, entry_ts, comment)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
        RETURNING `+positionColumns,
		s.portfolioID, p.Symbol, p.Exchange, p.Quote, p.Amount, p.Price, p.Timestamp, p.Comment,
	)

	position, err := scanPosition(row)
	record(timer, "create_position", err)
	if isUniqueViolation(err) {
		return domain.Position{}, fmt.Errorf("%w: %q", domain.ErrDuplicateMember, p.Comment)
	}
	if err != nil {
		return domain.Position{}, fmt.Errorf("insert position: %w", err)
	}
	return position, nil
}

// uniqueViolation is the SQLSTATE raised by positions_open_comment_idx.
const uniqueViolation = "23505"

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}

// ClosePosition records a fill against an open position inside one
// transaction. Consuming the whole amount flips the row to sold, anything
// less decrements it and inserts a sold row linked to it.
func (s *PositionStore) ClosePosition(ctx context.Context, id string, f book.Fill) (book.CloseResult, error) {
	timer := metrics.NewTimer()
	result, err := s.closePosition(ctx, id, f)
	record(timer, "close_position", err)
	return result, err
}

func (s *PositionStore) closePosition(ctx context.Context, id string, f book.Fill) (book.CloseResult, error) {
	pk, err := parseID(id)
	if err != nil {
		return book.CloseResult{}, err
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return book.CloseResult{}, fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	open, err := scanPosition(tx.QueryRow(ctx, `
        SELECT `+positionColumns+`
        FROM positions
        WHERE id = $1 AND portfolio_id = $2 AND NOT sold
        FOR UPDATE`, pk, s.portfolioID))
	if errors.Is(err, pgx.ErrNoRows) {
		return book.CloseResult{}, fmt.Errorf("%w: open position %s", domain.ErrPositionNotFound, id)
	}
	if err != nil {
		return book.CloseResult{}, fmt.Errorf("lock position %s: %w", id, err)
	}

	if f.Amount.GreaterThan(open.Amount) {
		return book.CloseResult{}, fmt.Errorf("%w: sell %s of %s on position %s", domain.ErrInvalidAmount, f.Amount, open.Amount, id)
	}

	var result book.CloseResult
	if f.Amount.Equal(open.Amount) {
		sold, err := scanPosition(tx.QueryRow(ctx, `
            UPDATE positions
            SET sold = TRUE, sold_description = $2, sold_amount = $3, sold_price = $4, sold_ts = $5
            WHERE id = $1
            RETURNING `+positionColumns,
			pk, f.Comment, f.Amount, f.Price, f.Timestamp))
		if err != nil {
			return book.CloseResult{}, fmt.Errorf("mark position %s sold: %w", id, err)
		}
		result = book.CloseResult{Action: domain.Full, Sold: sold}
	} else {
		if _, err := tx.Exec(ctx, `UPDATE positions SET amount = amount - $2 WHERE id = $1`, pk, f.Amount); err != nil {
			return book.CloseResult{}, fmt.Errorf("decrement position %s: %w", id, err)
		}
		sold, err := scanPosition(tx.QueryRow(ctx, `
            INSERT INTO positions (portfolio_id, parent_id, symbol, exchange, quote, amount, entry_price, entry_ts,
                comment, sold, sold_description, sold_amount, sold_price, sold_ts)
            SELECT portfolio_id, id, symbol, exchange, quote, $2::numeric, entry_price, entry_ts,
                comment, TRUE, $3::text, $2::numeric, $4::numeric, $5::bigint
            FROM positions WHERE id = $1
            RETURNING `+positionColumns,
			pk, f.Amount, f.Comment, f.Price, f.Timestamp))
		if err != nil {
			return book.CloseResult{}, fmt.Errorf("insert sold record for %s: %w", id, err)
		}
		result = book.CloseResult{Action: domain.Partial, Sold: sold}
	}

	if err := tx.Commit(ctx); err != nil {
		return book.CloseResult{}, fmt.Errorf("commit close of %s: %w", id, err)
	}

	s.logger.Debug("position closed",
		zap.String("id", id),
		zap.Stringer("action", result.Action),
		zap.String("amount", f.Amount.String()),
	)
	return result, nil
}

func (s *PositionStore) DeletePosition(ctx context.Context, id string) error {
	timer := metrics.NewTimer()

	pk, err := parseID(id)
	if err != nil {
		return err
	}

	tag, err := s.pool.Exec(ctx, `DELETE FROM positions WHERE id = $1 AND portfolio_id = $2`, pk, s.portfolioID)
	record(timer, "delete_position", err)
	if err != nil {
		return fmt.Errorf("delete position %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: %s", domain.ErrPositionNotFound, id)
	}
	return nil
}

// Members returns every position of the portfolio in insertion order.
func (s *PositionStore) Members(ctx context.Context) ([]domain.Position, error) {
	timer := metrics.NewTimer()

	rows, err := s.pool.Query(ctx, `
        SELECT `+positionColumns+`
        FROM positions
        WHERE portfolio_id = $1
        ORDER BY id`, s.portfolioID)
	if err != nil {
		record(timer, "members", err)
		return nil, fmt.Errorf("query positions: %w", err)
	}
	defer rows.Close()

	var members []domain.Position
	for rows.Next() {
		p, err := scanPosition(rows)
		if err != nil {
			record(timer, "members", err)
			return nil, fmt.Errorf("scan position: %w", err)
		}
		members = append(members, p)
	}

	err = rows.Err()
	record(timer, "members", err)
	if err != nil {
		return nil, fmt.Errorf("iterate positions: %w", err)
	}
	return members, nil
}

// LoadBook builds a book over this store seeded with its current members.
func (s *PositionStore) LoadBook(ctx context.Context, opts ...book.Option) (*book.Book, error) {
	members, err := s.Members(ctx)
	if err != nil {
		return nil, err
	}
	opts = append([]book.Option{book.WithMembers(members...)}, opts...)
	return book.New(s.portfolioID, s, opts...), nil
}

func scanPosition(row pgx.Row) (domain.Position, error) {
	var p domain.Position
	err := row.Scan(
		&p.ID,
		&p.PortfolioID,
		&p.Symbol,
		&p.Exchange,
		&p.Amount,
		&p.EntryPrice,
		&p.EntryTimestamp,
		&p.Comment,
		&p.Sold,
		&p.SoldDescription,
		&p.SoldAmount,
		&p.SoldPrice,
		&p.SoldTimestamp,
	)
	return p, err
}

func parseID(id string) (int64, error) {
	pk, err := strconv.ParseInt(id, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: invalid id %q", domain.ErrPositionNotFound, id)
	}
	return pk, nil
}

func record(timer *metrics.Timer, query string, err error) {
	status := "success"
	if err != nil {
		status = "error"
	}
	metrics.RecordDatabaseQuery(query, status, timer.Elapsed().Seconds())
}
