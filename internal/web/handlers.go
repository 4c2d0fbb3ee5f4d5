package web

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strconv"
	"time"

	"crypto_demo/internal/domain"
	"crypto_demo/internal/engine"
	"crypto_demo/internal/export"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
)

// --- Request/Response types ---

// TradeRequest is the JSON body for POST /api/v1/trade.
type TradeRequest struct {
	AssetID  string          `json:"asset_id"`
	Side     string          `json:"side"` // "BUY" or "SELL", any case
	Quantity decimal.Decimal `json:"quantity"`
}

// TradeResponse is the JSON body returned from POST /api/v1/trade.
type TradeResponse struct {
	Order     domain.Order  `json:"order"`
	Portfolio PortfolioView `json:"portfolio"`
}

// ResetRequest is the JSON body for POST /api/v1/reset.
type ResetRequest struct {
	PreserveCurrency bool `json:"preserve_currency"`
}

// CurrencyRequest is the JSON body for PUT /api/v1/currency.
type CurrencyRequest struct {
	Currency string `json:"currency"`
}

type marketsResponse struct {
	Currency  string       `json:"currency"`
	UpdatedAt *time.Time   `json:"updated_at,omitempty"` // nil before the first fetch
	Markets   []MarketView `json:"markets"`
}

type assetsResponse struct {
	Assets []AssetView `json:"assets"`
}

type chartResponse struct {
	AssetID  string              `json:"asset_id"`
	Currency string              `json:"currency"`
	Days     int                 `json:"days"`
	Points   []domain.ChartPoint `json:"points"`
}

type historyResponse struct {
	Orders []domain.Order `json:"orders"`
}

// --- HTTP Handlers ---

// handleMarkets handles GET /api/v1/markets
func (s *Server) handleMarkets(w http.ResponseWriter, r *http.Request) {
	currency := s.market.Currency()
	resp := marketsResponse{
		Currency: currency,
		Markets:  NewMarketViews(currency, s.market.All()),
	}
	if at := s.market.UpdatedAt(); !at.IsZero() {
		resp.UpdatedAt = &at
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleAssets handles GET /api/v1/assets
func (s *Server) handleAssets(w http.ResponseWriter, r *http.Request) {
	if s.assets == nil {
		writeJSON(w, http.StatusOK, assetsResponse{Assets: []AssetView{}})
		return
	}
	infos, err := s.assets.ListAssets()
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, assetsResponse{Assets: NewAssetViews(infos)})
}

// handleChart handles GET /api/v1/markets/{id}/chart?days=7
func (s *Server) handleChart(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	days := 7
	if raw := r.URL.Query().Get("days"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > 365 {
			writeError(w, "days must be an integer within 1..365", http.StatusBadRequest)
			return
		}
		days = n
	}

	currency, err := s.seq.Currency(r.Context())
	if err != nil {
		s.writeDomainError(w, err)
		return
	}

	points, err := s.feed.FetchChart(r.Context(), id, currency, days)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, chartResponse{AssetID: id, Currency: currency, Days: days, Points: points})
}

// handlePortfolio handles GET /api/v1/portfolio
func (s *Server) handlePortfolio(w http.ResponseWriter, r *http.Request) {
	p, err := s.seq.Portfolio(r.Context())
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, NewPortfolioView(p))
}

// handleHistory handles GET /api/v1/history?limit=50
func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	limit := s.cfg.Ledger.HistoryLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			writeError(w, "limit must be a non-negative integer", http.StatusBadRequest)
			return
		}
		limit = n
	}

	orders, err := s.seq.History(r.Context(), limit)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	if orders == nil {
		orders = []domain.Order{}
	}
	writeJSON(w, http.StatusOK, historyResponse{Orders: orders})
}

// handleExport handles GET /api/v1/history/export
func (s *Server) handleExport(w http.ResponseWriter, r *http.Request) {
	records, err := s.seq.ExportHistory(r.Context())
	if err != nil {
		s.writeDomainError(w, err)
		return
	}

	w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", export.DefaultFileName))
	if err := export.WriteCSV(w, records); err != nil {
		s.logger.Warn("History export interrupted", slog.Any("error", err))
	}
}

// handleTrade handles POST /api/v1/trade
func (s *Server) handleTrade(w http.ResponseWriter, r *http.Request) {
	var req TradeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	side, err := domain.ParseSide(req.Side)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}

	order, err := s.seq.Trade(r.Context(), req.AssetID, side, req.Quantity)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}

	p, err := s.seq.Portfolio(r.Context())
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, TradeResponse{Order: order, Portfolio: NewPortfolioView(p)})
}

// handleReset handles POST /api/v1/reset
func (s *Server) handleReset(w http.ResponseWriter, r *http.Request) {
	var req ResetRequest
	// An empty body means a full reset
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	before, err := s.seq.Currency(r.Context())
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	if err := s.seq.Reset(r.Context(), req.PreserveCurrency); err != nil {
		s.writeDomainError(w, err)
		return
	}

	p, err := s.seq.Portfolio(r.Context())
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	if p.Currency != before {
		s.market.Clear()
	}
	// Reset dropped the last prices
	s.refresh()

	writeJSON(w, http.StatusOK, NewPortfolioView(p))
}

// handleCurrency handles PUT /api/v1/currency
func (s *Server) handleCurrency(w http.ResponseWriter, r *http.Request) {
	var req CurrencyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	before, err := s.seq.Currency(r.Context())
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	code, err := s.seq.SetCurrency(r.Context(), req.Currency)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	if code != before {
		// Listing prices are in the old currency until the refresh lands
		s.market.Clear()
		s.refresh()
	}

	writeJSON(w, http.StatusOK, map[string]string{"currency": code})
}

// handleIcon handles GET /icons/{id}
func (s *Server) handleIcon(w http.ResponseWriter, r *http.Request) {
	if s.icons == nil {
		http.NotFound(w, r)
		return
	}
	path := s.icons.GetIconPath(chi.URLParam(r, "id"))
	if path == "" {
		http.NotFound(w, r)
		return
	}
	if _, err := os.Stat(path); err != nil {
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Cache-Control", "public, max-age=86400")
	http.ServeFile(w, r, path)
}

func (s *Server) refresh() {
	if s.refresher != nil {
		s.refresher.Refresh()
	}
}

// --- Helpers ---

// statusFor maps an error kind to its HTTP status.
func statusFor(err error) int {
	switch {
	case errors.Is(err, domain.ErrInvalidQuantity),
		errors.Is(err, domain.ErrInvalidSide),
		errors.Is(err, domain.ErrInvalidPrice),
		errors.Is(err, domain.ErrUnsupportedCurrency):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrUnknownAsset):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrInsufficientCash),
		errors.Is(err, domain.ErrInsufficientHolding):
		return http.StatusUnprocessableEntity
	case errors.Is(err, domain.ErrFeedUnavailable):
		return http.StatusBadGateway
	case errors.Is(err, engine.ErrStopped):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) writeDomainError(w http.ResponseWriter, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		s.logger.Error("Request failed", slog.Int("status", status), slog.Any("error", err))
	}
	writeError(w, err.Error(), status)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, message string, status int) {
	writeJSON(w, status, map[string]string{"error": message})
}
