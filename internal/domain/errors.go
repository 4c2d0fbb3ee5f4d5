package domain

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

// RetriableError defines an interface for errors that can be retried
type RetriableError interface {
	error
	IsRetriable() bool
}

// IsRetriable checks if an error is retriable
func IsRetriable(err error) bool {
	var re RetriableError
	if errors.As(err, &re) {
		return re.IsRetriable()
	}
	return false
}

// NetworkError represents a network-related error that may be retriable
type NetworkError struct {
	Op        string // Operation that failed (e.g., "markets", "chart")
	Err       error  // Underlying error
	Retriable bool   // Whether this error is retriable
}

func (e *NetworkError) Error() string {
	return e.Op + ": " + e.Err.Error()
}

func (e *NetworkError) IsRetriable() bool {
	return e.Retriable
}

func (e *NetworkError) Unwrap() error {
	return e.Err
}

// Is lets every feed failure match ErrFeedUnavailable.
func (e *NetworkError) Is(target error) bool {
	return target == ErrFeedUnavailable
}

// NewNetworkError creates a new retriable network error
func NewNetworkError(op string, err error) *NetworkError {
	return &NetworkError{Op: op, Err: err, Retriable: true}
}

// NewFatalNetworkError creates a non-retriable network error
func NewFatalNetworkError(op string, err error) *NetworkError {
	return &NetworkError{Op: op, Err: err, Retriable: false}
}

// ConfigError represents a configuration error (never retriable)
type ConfigError struct {
	Field string
	Err   error
}

func (e *ConfigError) Error() string {
	return "config error [" + e.Field + "]: " + e.Err.Error()
}

func (e *ConfigError) IsRetriable() bool {
	return false
}

func (e *ConfigError) Unwrap() error {
	return e.Err
}

// TradeError carries the rejected trade intent alongside the rejection kind.
type TradeError struct {
	Side     Side
	AssetID  string
	Quantity decimal.Decimal
	Err      error
}

func (e *TradeError) Error() string {
	return fmt.Sprintf("%s %s %s: %v", e.Side, e.Quantity.String(), e.AssetID, e.Err)
}

func (e *TradeError) Unwrap() error {
	return e.Err
}

var (
	// ErrInvalidQuantity is returned when a trade quantity is not strictly positive.
	ErrInvalidQuantity = errors.New("invalid quantity")

	// ErrInvalidPrice is returned when a trade unit price is negative.
	ErrInvalidPrice = errors.New("invalid price")

	// ErrInvalidSide is returned for anything other than BUY or SELL.
	ErrInvalidSide = errors.New("invalid side")

	// ErrInsufficientCash is returned when a BUY costs more than the cash on hand.
	ErrInsufficientCash = errors.New("not enough cash")

	// ErrInsufficientHolding is returned when a SELL exceeds the held quantity.
	ErrInsufficientHolding = errors.New("not enough holding to sell")

	// ErrUnsupportedCurrency is returned for quote currencies outside the supported set.
	ErrUnsupportedCurrency = errors.New("unsupported currency")

	// ErrUnknownAsset is returned when a trade names an asset missing from the listing.
	ErrUnknownAsset = errors.New("unknown asset")

	// ErrFeedUnavailable is matched by every price feed failure. Never fatal.
	ErrFeedUnavailable = errors.New("price feed unavailable")

	// ErrPersistenceCorrupt is returned when the saved snapshot cannot be used.
	ErrPersistenceCorrupt = errors.New("persisted state corrupt")

	// ErrConfigNotFound is returned when configuration file is missing
	ErrConfigNotFound = errors.New("configuration not found")
)
