package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Asset is one row of the ranked market listing.
type Asset struct {
	ID               string          `json:"id"`
	Symbol           string          `json:"symbol"`
	Name             string          `json:"name"`
	CurrentPrice     decimal.Decimal `json:"current_price"`
	Change24hPercent decimal.Decimal `json:"price_change_percentage_24h"`
	MarketCap        decimal.Decimal `json:"market_cap"`
	Image            string          `json:"image"`
	Rank             int             `json:"rank"`
}

// ChangeDirection returns "positive", "negative", or "neutral"
func (a *Asset) ChangeDirection() string {
	if a.Change24hPercent.IsPositive() {
		return "positive"
	}
	if a.Change24hPercent.IsNegative() {
		return "negative"
	}
	return "neutral"
}

// ChartPoint is one sample of an asset's price history.
type ChartPoint struct {
	Timestamp time.Time       `json:"ts"`
	Price     decimal.Decimal `json:"price"`
}

// PriceMap indexes listing prices by asset id.
func PriceMap(assets []Asset) map[string]decimal.Decimal {
	prices := make(map[string]decimal.Decimal, len(assets))
	for _, a := range assets {
		prices[a.ID] = a.CurrentPrice
	}
	return prices
}
