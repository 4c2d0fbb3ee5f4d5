// Package event defines the state-changing events the engine.Sequencer applies to the ledger.
package event

import (
	"time"

	"crypto_demo/internal/domain"

	"github.com/shopspring/decimal"
)

// Type identifies an event kind in logs and observer updates.
type Type string

const (
	TypeTrade       Type = "TRADE"
	TypePriceUpdate Type = "PRICE_UPDATE"
	TypeReset       Type = "RESET"
	TypeCurrency    Type = "CURRENCY"
)

// Event is anything the Sequencer can apply.
type Event interface {
	GetSeq() uint64
	GetType() Type
}

// BaseEvent carries the sequence number assigned by the Sequencer.
type BaseEvent struct {
	Seq uint64    `json:"seq"`
	Ts  time.Time `json:"ts"`
}

func (e *BaseEvent) GetSeq() uint64 { return e.Seq }

// TradeEvent is a user's intent to buy or sell. Order is filled in once applied.
type TradeEvent struct {
	BaseEvent
	AssetID  string          `json:"asset_id"`
	Side     domain.Side     `json:"side"`
	Quantity decimal.Decimal `json:"quantity"`

	Order domain.Order `json:"order"`
}

func (e *TradeEvent) GetType() Type { return TypeTrade }

// PriceUpdateEvent carries a fetched listing quoted in Currency.
type PriceUpdateEvent struct {
	BaseEvent
	Currency string                     `json:"currency"`
	Prices   map[string]decimal.Decimal `json:"prices"`

	Applied bool `json:"applied"`
}

func (e *PriceUpdateEvent) GetType() Type { return TypePriceUpdate }

// ResetEvent restores the starting state.
type ResetEvent struct {
	BaseEvent
	PreserveCurrency bool `json:"preserve_currency"`
}

func (e *ResetEvent) GetType() Type { return TypeReset }

// CurrencyEvent switches the quote currency.
type CurrencyEvent struct {
	BaseEvent
	Currency string `json:"currency"`
}

func (e *CurrencyEvent) GetType() Type { return TypeCurrency }
