package api

import (
	"time"

	"github.com/jeovahfialho/cctool/internal/domain"
	"github.com/jeovahfialho/cctool/internal/replay"
	"github.com/jeovahfialho/cctool/internal/service"
	"github.com/shopspring/decimal"
)

type HealthResponse struct {
	Status    string                   `json:"status"`
	Version   string                   `json:"version"`
	Timestamp time.Time                `json:"timestamp"`
	Services  map[string]ServiceHealth `json:"services,omitempty"`
}

type ServiceHealth struct {
	Status  string `json:"status"`
	Latency string `json:"latency,omitempty"`
	Error   string `json:"error,omitempty"`
}

type ErrorResponse struct {
	Error     string         `json:"error"`
	Code      int            `json:"code"`
	RequestID string         `json:"request_id,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
	Report    *replay.Report `json:"report,omitempty"`
}

type InspectResponse struct {
	ImportID string         `json:"import_id"`
	Exchange string         `json:"exchange"`
	Count    int            `json:"count"`
	Trades   []domain.Trade `json:"trades"`
}

type ImportResponse struct {
	ImportID    string                `json:"import_id"`
	PortfolioID string                `json:"portfolio_id"`
	Policy      string                `json:"policy"`
	Files       []service.FileSummary `json:"files,omitempty"`
	Archived    int64                 `json:"archived"`
	Report      *replay.Report        `json:"report"`
}

type PositionsResponse struct {
	PortfolioID string                     `json:"portfolio_id"`
	Open        []domain.Position          `json:"open"`
	Sold        []domain.Position          `json:"sold"`
	OpenAmounts map[string]decimal.Decimal `json:"open_amounts"`
}

type DeletePositionsResponse struct {
	PortfolioID string `json:"portfolio_id"`
	Deleted     int    `json:"deleted"`
}
