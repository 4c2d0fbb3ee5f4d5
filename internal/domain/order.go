package domain

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Side is the direction of a simulated market order.
type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

// ParseSide accepts "buy"/"sell" in any case.
func ParseSide(s string) (Side, error) {
	switch Side(strings.ToUpper(strings.TrimSpace(s))) {
	case SideBuy:
		return SideBuy, nil
	case SideSell:
		return SideSell, nil
	default:
		return "", ErrInvalidSide
	}
}

// Order is an executed simulated trade. Immutable once created.
// TotalCost is fixed at trade time and never recomputed.
type Order struct {
	ID        string          `json:"id"`
	Timestamp time.Time       `json:"ts"`
	Side      Side            `json:"type"`
	AssetID   string          `json:"assetId"`
	Symbol    string          `json:"symbol"`
	Quantity  decimal.Decimal `json:"qty"`
	UnitPrice decimal.Decimal `json:"price"`
	TotalCost decimal.Decimal `json:"cost"`
}

// HistoryRecord is the flat export form of an Order.
type HistoryRecord struct {
	Timestamp string
	Side      Side
	Symbol    string
	Quantity  decimal.Decimal
	UnitPrice decimal.Decimal
	TotalCost decimal.Decimal
}

// isoMillis matches the browser's Date.toISOString output.
const isoMillis = "2006-01-02T15:04:05.000Z07:00"

// Record flattens the order for export.
func (o Order) Record() HistoryRecord {
	return HistoryRecord{
		Timestamp: o.Timestamp.UTC().Format(isoMillis),
		Side:      o.Side,
		Symbol:    o.Symbol,
		Quantity:  o.Quantity,
		UnitPrice: o.UnitPrice,
		TotalCost: o.TotalCost,
	}
}
