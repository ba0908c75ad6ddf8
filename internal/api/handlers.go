package api

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/utils"
	"github.com/jeovahfialho/cctool/internal/book"
	"github.com/jeovahfialho/cctool/internal/domain"
	"github.com/jeovahfialho/cctool/internal/replay"
	"github.com/jeovahfialho/cctool/internal/service"
	"github.com/jeovahfialho/cctool/pkg/logger"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const version = "1.0.0"

type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// BookLoader returns the position book of a portfolio, seeded from its store.
type BookLoader func(ctx context.Context, portfolioID string) (*book.Book, error)

type PatternDeleter interface {
	DeletePattern(ctx context.Context, pattern string) error
}

type Handler struct {
	imports *service.ImportService
	books   BookLoader
	checks  map[string]HealthChecker
	cache   PatternDeleter
	locks   *portfolioLocks
}

// NewHandler wires the handlers. checks are probed by /ready; cache may be
// nil when no cache is configured.
func NewHandler(imports *service.ImportService, books BookLoader, checks map[string]HealthChecker, cache PatternDeleter) *Handler {
	return &Handler{
		imports: imports,
		books:   books,
		checks:  checks,
		cache:   cache,
		locks:   newPortfolioLocks(),
	}
}

func (h *Handler) HealthCheck(c *fiber.Ctx) error {
	return c.JSON(HealthResponse{
		Status:    "healthy",
		Version:   version,
		Timestamp: time.Now(),
	})
}

func (h *Handler) ReadinessCheck(c *fiber.Ctx) error {
	ctx, cancel := context.WithTimeout(c.Context(), 5*time.Second)
	defer cancel()

	services := make(map[string]ServiceHealth)
	for name, check := range h.checks {
		start := time.Now()
		if err := check.HealthCheck(ctx); err != nil {
			services[name] = ServiceHealth{
				Status: "unhealthy",
				Error:  err.Error(),
			}
			continue
		}
		services[name] = ServiceHealth{
			Status:  "healthy",
			Latency: time.Since(start).String(),
		}
	}

	status := "ready"
	for _, service := range services {
		if service.Status != "healthy" {
			status = "not_ready"
			break
		}
	}

	response := HealthResponse{
		Status:    status,
		Version:   version,
		Timestamp: time.Now(),
		Services:  services,
	}

	if status != "ready" {
		return c.Status(fiber.StatusServiceUnavailable).JSON(response)
	}

	return c.JSON(response)
}

// Inspect normalizes and aggregates the CSV export in the request body.
func (h *Handler) Inspect(c *fiber.Ctx) error {
	body := append([]byte(nil), c.Body()...)

	result, err := h.imports.Inspect(c.Context(), service.ImportRequest{Data: body})
	if err != nil {
		return h.fail(c, err, nil)
	}

	exchange := ""
	if len(result.Files) > 0 {
		exchange = result.Files[0].Exchange
	}

	return c.JSON(InspectResponse{
		ImportID: result.ImportID,
		Exchange: exchange,
		Count:    len(result.Trades),
		Trades:   result.Trades,
	})
}

// Import replays the CSV export in the request body on a portfolio. Imports
// and deletes of one portfolio run one at a time.
func (h *Handler) Import(c *fiber.Ctx) error {
	portfolioID := utils.CopyString(c.Params("id"))

	policy := replay.Abort
	if c.QueryBool("ignore_errors", false) {
		policy = replay.Skip
	}

	unlock := h.locks.lock(portfolioID)
	defer unlock()

	b, err := h.books(c.Context(), portfolioID)
	if err != nil {
		return h.fail(c, err, nil)
	}

	log := requestLogger(c)
	log.Info("import requested",
		zap.String("portfolio", portfolioID),
		zap.Stringer("policy", policy))

	result, err := h.imports.Import(c.Context(), b, service.ImportRequest{
		Data:    append([]byte(nil), c.Body()...),
		Policy:  policy,
		Archive: c.QueryBool("archive", false),
	})
	if err != nil {
		var report *replay.Report
		if result != nil {
			report = result.Report
		}
		return h.fail(c, err, report)
	}

	return c.JSON(ImportResponse{
		ImportID:    result.ImportID,
		PortfolioID: portfolioID,
		Policy:      policy.String(),
		Files:       result.Files,
		Archived:    result.Archived,
		Report:      result.Report,
	})
}

func (h *Handler) GetPositions(c *fiber.Ctx) error {
	portfolioID := utils.CopyString(c.Params("id"))

	b, err := h.books(c.Context(), portfolioID)
	if err != nil {
		return h.fail(c, err, nil)
	}

	symbol := c.Query("symbol")
	exchange := c.Query("exchange")

	open := b.OpenPositions()
	if symbol != "" {
		open = b.Positions(symbol, exchange)
	}

	amounts := make(map[string]decimal.Decimal)
	for _, p := range open {
		amounts[p.Symbol] = amounts[p.Symbol].Add(p.Amount)
	}

	return c.JSON(PositionsResponse{
		PortfolioID: portfolioID,
		Open:        open,
		Sold:        b.SoldPositions(),
		OpenAmounts: amounts,
	})
}

func (h *Handler) DeletePositions(c *fiber.Ctx) error {
	portfolioID := utils.CopyString(c.Params("id"))

	unlock := h.locks.lock(portfolioID)
	defer unlock()

	b, err := h.books(c.Context(), portfolioID)
	if err != nil {
		return h.fail(c, err, nil)
	}

	count := len(b.OpenPositions()) + len(b.SoldPositions())
	if err := b.DeleteAll(c.Context()); err != nil {
		return h.fail(c, err, nil)
	}

	requestLogger(c).Info("positions deleted",
		zap.String("portfolio", portfolioID),
		zap.Int("count", count))

	return c.JSON(DeletePositionsResponse{PortfolioID: portfolioID, Deleted: count})
}

func (h *Handler) InvalidateCache(c *fiber.Ctx) error {
	if h.cache == nil {
		return fiber.NewError(fiber.StatusNotFound, "cache not configured")
	}

	pattern := c.Params("pattern", "price:*")
	if err := h.cache.DeletePattern(c.Context(), pattern); err != nil {
		return h.fail(c, err, nil)
	}

	return c.JSON(fiber.Map{
		"status":  "success",
		"message": fmt.Sprintf("cache invalidated for pattern: %s", pattern),
	})
}

// fail maps domain errors to HTTP statuses.
func (h *Handler) fail(c *fiber.Ctx, err error, report *replay.Report) error {
	code := fiber.StatusInternalServerError
	switch {
	case errors.Is(err, service.ErrNoInput):
		code = fiber.StatusBadRequest
	case errors.Is(err, domain.ErrUnsupportedFormat), errors.Is(err, domain.ErrNoTrades):
		code = fiber.StatusUnprocessableEntity
	case errors.Is(err, domain.ErrDuplicateMember), errors.Is(err, domain.ErrPositionNotFound):
		code = fiber.StatusConflict
	case errors.Is(err, domain.ErrPriceUnresolved), errors.Is(err, domain.ErrUnknownSymbol):
		code = fiber.StatusBadGateway
	}

	log := requestLogger(c)
	if code >= fiber.StatusInternalServerError {
		log.Error("request failed", zap.String("path", c.Path()), zap.Error(err))
	} else {
		log.Warn("request rejected", zap.String("path", c.Path()), zap.Error(err))
	}

	return c.Status(code).JSON(ErrorResponse{
		Error:     err.Error(),
		Code:      code,
		RequestID: getRequestID(c),
		Timestamp: time.Now(),
		Report:    report,
	})
}

func getRequestID(c *fiber.Ctx) string {
	if id, ok := c.Locals("requestID").(string); ok {
		return id
	}
	return ""
}

func requestLogger(c *fiber.Ctx) *zap.Logger {
	return logger.WithContext(logger.NewContext(context.Background(), getRequestID(c)))
}
