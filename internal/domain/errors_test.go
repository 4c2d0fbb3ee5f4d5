package domain

import (
	"errors"
	"testing"

	"github.com/shopspring/decimal"
)

func TestNetworkError(t *testing.T) {
	baseErr := errors.New("connection refused")

	t.Run("retriable error", func(t *testing.T) {
		err := NewNetworkError("markets", baseErr)

		if !err.IsRetriable() {
			t.Error("Expected error to be retriable")
		}

		if err.Error() != "markets: connection refused" {
			t.Errorf("Error message = %q, want %q", err.Error(), "markets: connection refused")
		}

		if !errors.Is(err, baseErr) {
			t.Error("Expected error to wrap baseErr")
		}
	})

	t.Run("fatal error", func(t *testing.T) {
		err := NewFatalNetworkError("chart", baseErr)

		if err.IsRetriable() {
			t.Error("Expected error to not be retriable")
		}
	})

	t.Run("matches ErrFeedUnavailable", func(t *testing.T) {
		var err error = NewNetworkError("markets", baseErr)
		if !errors.Is(err, ErrFeedUnavailable) {
			t.Error("Expected network error to match ErrFeedUnavailable")
		}
	})

	t.Run("IsRetriable helper", func(t *testing.T) {
		retriable := NewNetworkError("dial", baseErr)
		fatal := NewFatalNetworkError("decode", baseErr)
		plain := errors.New("plain error")

		if !IsRetriable(retriable) {
			t.Error("IsRetriable should return true for retriable error")
		}

		if IsRetriable(fatal) {
			t.Error("IsRetriable should return false for fatal error")
		}

		if IsRetriable(plain) {
			t.Error("IsRetriable should return false for plain error")
		}
	})
}

func TestConfigError(t *testing.T) {
	baseErr := errors.New("missing value")
	err := &ConfigError{Field: "ledger.starting_cash", Err: baseErr}

	if err.IsRetriable() {
		t.Error("ConfigError should never be retriable")
	}

	expected := "config error [ledger.starting_cash]: missing value"
	if err.Error() != expected {
		t.Errorf("Error message = %q, want %q", err.Error(), expected)
	}
}

func TestTradeError(t *testing.T) {
	err := &TradeError{
		Side:     SideBuy,
		AssetID:  "bitcoin",
		Quantity: decimal.NewFromInt(3),
		Err:      ErrInsufficientCash,
	}

	if !errors.Is(err, ErrInsufficientCash) {
		t.Error("TradeError should unwrap to its kind")
	}
	if got, want := err.Error(), "BUY 3 bitcoin: not enough cash"; got != want {
		t.Errorf("Error message = %q, want %q", got, want)
	}
}
