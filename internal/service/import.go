package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jeovahfialho/cctool/internal/domain"
	"github.com/jeovahfialho/cctool/internal/ingestion"
	"github.com/jeovahfialho/cctool/internal/replay"
	"go.uber.org/zap"
)

// Archiver stores the aggregate trades of an import for later audit.
type Archiver interface {
	Archive(ctx context.Context, importID string, trades []domain.Trade) (int64, error)
}

type ImportService struct {
	workers  int
	archiver Archiver
	logger   *zap.Logger
}

// NewImportService returns a service loading files with the given number of
// workers. archiver may be nil when no archive is configured.
func NewImportService(workers int, archiver Archiver, logger *zap.Logger) *ImportService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ImportService{
		workers:  workers,
		archiver: archiver,
		logger:   logger,
	}
}

// ImportRequest names the trade history to import: either files on disk or
// the raw content of a single export.
type ImportRequest struct {
	Files   []string
	Data    []byte
	Policy  replay.Policy
	Archive bool
}

type FileSummary struct {
	Path     string `json:"path"`
	Exchange string `json:"exchange"`
	Trades   int    `json:"trades"`
}

type ImportResult struct {
	ImportID string         `json:"import_id"`
	Files    []FileSummary  `json:"files,omitempty"`
	Trades   []domain.Trade `json:"trades"`
	Archived int64          `json:"archived"`
	Report   *replay.Report `json:"report,omitempty"`
}

var ErrNoInput = errors.New("no trade history given")

// Inspect loads and aggregates trades without touching any book.
func (s *ImportService) Inspect(ctx context.Context, req ImportRequest) (*ImportResult, error) {
	result := &ImportResult{ImportID: uuid.NewString()}

	trades, files, err := s.load(ctx, req)
	if err != nil {
		return nil, err
	}
	result.Trades = trades
	result.Files = files
	return result, nil
}

// Import loads the trade history, archives it when asked and replays it on
// ledger in timestamp order. A replay error still returns the partial result.
func (s *ImportService) Import(ctx context.Context, ledger replay.Ledger, req ImportRequest) (*ImportResult, error) {
	result, err := s.Inspect(ctx, req)
	if err != nil {
		return nil, err
	}
	log := s.logger.With(zap.String("import_id", result.ImportID))

	if req.Archive {
		if s.archiver == nil {
			return nil, errors.New("trade archive is not configured")
		}
		n, err := s.archiver.Archive(ctx, result.ImportID, result.Trades)
		if err != nil {
			return nil, fmt.Errorf("archive trades: %w", err)
		}
		result.Archived = n
		log.Info("trades archived", zap.Int64("count", n))
	}

	log.Info("replaying trades",
		zap.Int("trades", len(result.Trades)),
		zap.Stringer("policy", req.Policy),
	)

	report, err := replay.NewReplayer(ledger, req.Policy, log).Replay(ctx, result.Trades)
	result.Report = report
	if err != nil {
		return result, err
	}
	return result, nil
}

func (s *ImportService) load(ctx context.Context, req ImportRequest) ([]domain.Trade, []FileSummary, error) {
	switch {
	case len(req.Data) > 0:
		parsed, err := ingestion.Load(req.Data, ingestion.DefaultNormalizers()...)
		if err != nil {
			return nil, nil, err
		}
		trades := ingestion.Aggregate(parsed.Trades)
		return trades, []FileSummary{{Exchange: parsed.Exchange, Trades: len(parsed.Trades)}}, nil

	case len(req.Files) > 0:
		trades, results, err := ingestion.LoadFiles(ctx, s.workers, req.Files...)
		if err != nil {
			return nil, nil, err
		}
		files := make([]FileSummary, 0, len(results))
		for _, r := range results {
			files = append(files, FileSummary{Path: r.FilePath, Exchange: r.Exchange, Trades: len(r.Trades)})
		}
		s.logger.Info("trade history loaded",
			zap.Int("files", len(files)),
			zap.Int("trades", len(trades)),
		)
		return trades, files, nil

	default:
		return nil, nil, ErrNoInput
	}
}
