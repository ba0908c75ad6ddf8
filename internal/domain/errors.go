package domain

import "errors"

var (
	// ErrFormatMismatch marks input that does not follow a normalizer's schema.
	ErrFormatMismatch = errors.New("format mismatch")
	// ErrNoTrades is returned when a format matched but produced no trades.
	ErrNoTrades = errors.New("no trades loaded")
	// ErrUnsupportedFormat is returned when no normalizer accepts the input.
	ErrUnsupportedFormat = errors.New("unsupported trade history format")

	ErrDuplicateMember  = errors.New("member already exists")
	ErrPositionNotFound = errors.New("position not found")
	ErrPriceUnresolved  = errors.New("price unresolved")
	ErrUnknownSymbol    = errors.New("unknown symbol")
	ErrInvalidAmount    = errors.New("invalid amount")
)
