package web

import (
	"slices"
	"strings"
	"time"

	"crypto_demo/internal/domain"
	"crypto_demo/internal/engine"

	"github.com/shopspring/decimal"
)

// MarketView is one listing row as served to clients.
type MarketView struct {
	ID               string          `json:"id"`
	Rank             int             `json:"rank"`
	Symbol           string          `json:"symbol"`
	Name             string          `json:"name"`
	Price            decimal.Decimal `json:"price"`
	PriceDisplay     string          `json:"price_display"`
	MarketCap        decimal.Decimal `json:"market_cap"`
	MarketCapDisplay string          `json:"market_cap_display"`
	Change24h        decimal.Decimal `json:"change_24h"`
	ChangeDirection  string          `json:"change_direction"`
	IconURL          string          `json:"icon_url"`
}

// HoldingView is one open position valued at the last observed price.
type HoldingView struct {
	AssetID      string          `json:"asset_id"`
	Symbol       string          `json:"symbol"`
	Name         string          `json:"name"`
	Quantity     decimal.Decimal `json:"qty"`
	AveragePrice decimal.Decimal `json:"avg_price"`
	Price        decimal.Decimal `json:"price"`
	Value        decimal.Decimal `json:"value"`
	ValueDisplay string          `json:"value_display"`
}

// PortfolioView is the wallet panel: cash, holdings and total.
type PortfolioView struct {
	Currency      string          `json:"currency"`
	Cash          decimal.Decimal `json:"cash"`
	CashDisplay   string          `json:"cash_display"`
	HoldingsValue decimal.Decimal `json:"holdings_value"`
	Total         decimal.Decimal `json:"total"`
	TotalDisplay  string          `json:"total_display"`
	StartingCash  decimal.Decimal `json:"starting_cash"`
	Holdings      []HoldingView   `json:"holdings"`
}

// AssetView is the synced metadata of one asset. IconURL is empty until its icon is cached.
type AssetView struct {
	ID           string     `json:"id"`
	Symbol       string     `json:"symbol"`
	Name         string     `json:"name"`
	IconURL      string     `json:"icon_url,omitempty"`
	LastSyncedAt *time.Time `json:"last_synced_at,omitempty"`
}

// NewAssetViews formats the local asset index.
func NewAssetViews(infos []domain.AssetInfo) []AssetView {
	views := make([]AssetView, 0, len(infos))
	for _, info := range infos {
		v := AssetView{
			ID:     info.ID,
			Symbol: strings.ToUpper(info.Symbol),
			Name:   info.Name,
		}
		if info.IconPath != "" {
			v.IconURL = "/icons/" + info.ID
		}
		if !info.LastSyncedAt.IsZero() {
			at := info.LastSyncedAt
			v.LastSyncedAt = &at
		}
		views = append(views, v)
	}
	return views
}

// NewMarketViews formats a listing quoted in currency.
func NewMarketViews(currency string, assets []domain.Asset) []MarketView {
	views := make([]MarketView, 0, len(assets))
	for _, a := range assets {
		views = append(views, MarketView{
			ID:               a.ID,
			Rank:             a.Rank,
			Symbol:           strings.ToUpper(a.Symbol),
			Name:             a.Name,
			Price:            a.CurrentPrice,
			PriceDisplay:     domain.FormatMoney(a.CurrentPrice, currency),
			MarketCap:        a.MarketCap,
			MarketCapDisplay: domain.FormatMoney(a.MarketCap, currency),
			Change24h:        a.Change24hPercent.Round(2),
			ChangeDirection:  a.ChangeDirection(),
			IconURL:          "/icons/" + a.ID,
		})
	}
	return views
}

// NewPortfolioView formats a portfolio read. Holdings are ordered by symbol.
func NewPortfolioView(p engine.Portfolio) PortfolioView {
	v := PortfolioView{
		Currency:      p.Currency,
		Cash:          p.Valuation.Cash,
		CashDisplay:   domain.FormatMoney(p.Valuation.Cash, p.Currency),
		HoldingsValue: p.Valuation.HoldingsValue,
		Total:         p.Valuation.Total,
		TotalDisplay:  domain.FormatMoney(p.Valuation.Total, p.Currency),
		StartingCash:  p.StartingCash,
		Holdings:      make([]HoldingView, 0, len(p.Holdings)),
	}
	for id, h := range p.Holdings {
		value := p.Valuation.PerAsset[id]
		v.Holdings = append(v.Holdings, HoldingView{
			AssetID:      id,
			Symbol:       strings.ToUpper(h.Symbol),
			Name:         h.Name,
			Quantity:     h.Quantity,
			AveragePrice: h.AveragePrice,
			Price:        p.Prices[id],
			Value:        value,
			ValueDisplay: domain.FormatMoney(value, p.Currency),
		})
	}
	slices.SortFunc(v.Holdings, func(a, b HoldingView) int {
		return strings.Compare(a.Symbol, b.Symbol)
	})
	return v
}
