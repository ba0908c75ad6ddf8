package replay

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jeovahfialho/cctool/internal/book"
	"github.com/jeovahfialho/cctool/internal/domain"
	"github.com/jeovahfialho/cctool/pkg/metrics"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Policy decides what happens to a trade the book refuses.
type Policy int

const (
	Abort Policy = iota
	Skip
)

func (p Policy) String() string {
	switch p {
	case Abort:
		return "abort"
	case Skip:
		return "skip"
	default:
		return "unknown"
	}
}

func ParsePolicy(s string) (Policy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "abort", "":
		return Abort, nil
	case "skip", "ignore":
		return Skip, nil
	default:
		return Abort, fmt.Errorf("unknown replay policy: %q", s)
	}
}

// Ledger is the part of the position book a replay drives.
type Ledger interface {
	Open(ctx context.Context, o book.OpenOrder) (domain.Position, error)
	Close(ctx context.Context, o book.CloseOrder) error
}

type Status string

const (
	Applied Status = "applied"
	Skipped Status = "skipped"
	Aborted Status = "aborted"
)

type Outcome struct {
	Index  int          `json:"index"`
	Trade  domain.Trade `json:"trade"`
	Status Status       `json:"status"`
	Error  string       `json:"error,omitempty"`
}

// Report lists the outcome of every trade that was attempted. Trades after
// an abort are not attempted and have no outcome.
type Report struct {
	Outcomes []Outcome `json:"outcomes"`
	Applied  int       `json:"applied"`
	Skipped  int       `json:"skipped"`
	Aborted  bool      `json:"aborted"`
}

// SkippedTrades returns the outcomes a human has to reconcile.
func (r *Report) SkippedTrades() []Outcome {
	var out []Outcome
	for _, o := range r.Outcomes {
		if o.Status == Skipped {
			out = append(out, o)
		}
	}
	return out
}

// TradeError is returned when replay stops on a trade.
type TradeError struct {
	Index int
	Trade domain.Trade
	Err   error
}

func (e *TradeError) Error() string {
	return fmt.Sprintf("trade %d (%s): %v", e.Index, e.Trade, e.Err)
}

func (e *TradeError) Unwrap() error {
	return e.Err
}

// Skippable reports whether err is one of the semantic book errors a Skip
// policy steps over.
func Skippable(err error) bool {
	return errors.Is(err, domain.ErrDuplicateMember) || errors.Is(err, domain.ErrPositionNotFound)
}

type Replayer struct {
	ledger Ledger
	policy Policy
	logger *zap.Logger
}

func NewReplayer(ledger Ledger, policy Policy, logger *zap.Logger) *Replayer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Replayer{
		ledger: ledger,
		policy: policy,
		logger: logger,
	}
}

// Replay applies trades in order: buys open positions, sells close them.
// Trades applied before an error stay applied. The report is returned even
// when replay stops early.
func (r *Replayer) Replay(ctx context.Context, trades []domain.Trade) (*Report, error) {
	timer := metrics.NewTimer()
	defer timer.ObserveDuration(metrics.ReplayDuration)

	report := &Report{Outcomes: make([]Outcome, 0, len(trades))}

	for i, trade := range trades {
		if err := ctx.Err(); err != nil {
			report.Aborted = true
			return report, err
		}

		err := r.apply(ctx, trade)
		if err == nil {
			report.Outcomes = append(report.Outcomes, Outcome{Index: i, Trade: trade, Status: Applied})
			report.Applied++
			metrics.RecordReplayOutcome(trade.Direction.String(), string(Applied))
			continue
		}

		if r.policy == Skip && Skippable(err) {
			report.Outcomes = append(report.Outcomes, Outcome{Index: i, Trade: trade, Status: Skipped, Error: err.Error()})
			report.Skipped++
			metrics.RecordReplayOutcome(trade.Direction.String(), string(Skipped))
			r.logger.Error("trade skipped",
				zap.Int("index", i),
				zap.String("trade", trade.String()),
				zap.Error(err),
			)
			continue
		}

		report.Outcomes = append(report.Outcomes, Outcome{Index: i, Trade: trade, Status: Aborted, Error: err.Error()})
		report.Aborted = true
		metrics.RecordReplayOutcome(trade.Direction.String(), string(Aborted))
		r.logger.Error("replay aborted",
			zap.Int("index", i),
			zap.String("trade", trade.String()),
			zap.Int("remaining", len(trades)-i-1),
			zap.Error(err),
		)
		return report, &TradeError{Index: i, Trade: trade, Err: err}
	}

	r.logger.Info("replay finished",
		zap.Int("applied", report.Applied),
		zap.Int("skipped", report.Skipped),
	)
	return report, nil
}

func (r *Replayer) apply(ctx context.Context, t domain.Trade) error {
	if err := t.Validate(); err != nil {
		return err
	}

	switch t.Direction {
	case domain.Buy:
		_, err := r.ledger.Open(ctx, book.OpenOrder{
			Symbol:    t.Symbol,
			Amount:    t.Amount,
			Price:     decimal.NewNullDecimal(t.Price),
			Timestamp: t.Timestamp,
			Comment:   t.Comment,
			Exchange:  t.Exchange,
		})
		return err
	case domain.Sell:
		return r.ledger.Close(ctx, book.CloseOrder{
			Symbol:    t.Symbol,
			Amount:    decimal.NewNullDecimal(t.Amount),
			Price:     decimal.NewNullDecimal(t.Price),
			Timestamp: t.Timestamp,
			Comment:   t.Comment,
			Exchange:  t.Exchange,
		})
	default:
		return fmt.Errorf("unknown direction %d", t.Direction)
	}
}
