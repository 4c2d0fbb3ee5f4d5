// Package coingecko is the price feed client for the public CoinGecko v3 API.
package coingecko

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"crypto_demo/internal/domain"
	"crypto_demo/internal/infra"

	"github.com/shopspring/decimal"
)

// marketResponse is one element of GET /coins/markets
type marketResponse struct {
	ID                       string          `json:"id"`
	Symbol                   string          `json:"symbol"`
	Name                     string          `json:"name"`
	Image                    string          `json:"image"`
	CurrentPrice             decimal.Decimal `json:"current_price"`
	MarketCap                decimal.Decimal `json:"market_cap"`
	PriceChangePercentage24h decimal.Decimal `json:"price_change_percentage_24h"`
}

// chartResponse is the body of GET /coins/{id}/market_chart
type chartResponse struct {
	Prices [][2]decimal.Decimal `json:"prices"` // [unix ms, price]
}

// Client fetches listings and charts. It satisfies domain.PriceFeed.
type Client struct {
	baseURL     string
	apiKey      string
	perPage     int
	maxAttempts int
	baseDelay   time.Duration
	httpClient  *http.Client
	logger      *slog.Logger
}

var _ domain.PriceFeed = (*Client)(nil)

// NewClient creates a feed client from the coingecko section of cfg.
func NewClient(cfg *infra.Config) *Client {
	cg := cfg.API.CoinGecko
	timeout := time.Duration(cg.TimeoutSec) * time.Second
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		baseURL:     cg.BaseURL,
		apiKey:      cg.APIKey,
		perPage:     cg.PerPage,
		maxAttempts: max(cg.MaxAttempts, 1),
		baseDelay:   time.Second,
		httpClient: &http.Client{
			Timeout: timeout,
			Transport: &http.Transport{
				MaxIdleConns:    10,
				IdleConnTimeout: 30 * time.Second,
			},
		},
		logger: slog.Default().With("module", "coingecko_client"),
	}
}

// FetchTopAssets returns the listing ranked by market cap in currency.
func (c *Client) FetchTopAssets(ctx context.Context, currency string) ([]domain.Asset, error) {
	query := url.Values{}
	query.Set("vs_currency", currency)
	query.Set("order", "market_cap_desc")
	query.Set("per_page", strconv.Itoa(c.perPage))
	query.Set("page", "1")
	query.Set("sparkline", "false")
	query.Set("price_change_percentage", "24h")

	var rows []marketResponse
	if err := c.getJSON(ctx, "markets", "/coins/markets", query, &rows); err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, domain.NewNetworkError("markets", errors.New("empty listing"))
	}

	assets := make([]domain.Asset, 0, len(rows))
	for i, r := range rows {
		assets = append(assets, domain.Asset{
			ID:               r.ID,
			Symbol:           r.Symbol,
			Name:             r.Name,
			CurrentPrice:     r.CurrentPrice,
			Change24hPercent: r.PriceChangePercentage24h,
			MarketCap:        r.MarketCap,
			Image:            r.Image,
			Rank:             i + 1,
		})
	}
	c.logger.Debug("Listing fetched", slog.String("currency", currency), slog.Int("assets", len(assets)))
	return assets, nil
}

// FetchChart returns the price history of assetID over the last days.
func (c *Client) FetchChart(ctx context.Context, assetID, currency string, days int) ([]domain.ChartPoint, error) {
	if days <= 0 {
		days = 7
	}
	query := url.Values{}
	query.Set("vs_currency", currency)
	query.Set("days", strconv.Itoa(days))

	var body chartResponse
	if err := c.getJSON(ctx, "chart", "/coins/"+url.PathEscape(assetID)+"/market_chart", query, &body); err != nil {
		return nil, err
	}

	points := make([]domain.ChartPoint, 0, len(body.Prices))
	for _, p := range body.Prices {
		points = append(points, domain.ChartPoint{
			Timestamp: time.UnixMilli(p[0].IntPart()).UTC(),
			Price:     p[1],
		})
	}
	return points, nil
}

// getJSON performs the request with up to maxAttempts tries and exponential backoff.
func (c *Client) getJSON(ctx context.Context, op, path string, query url.Values, out any) error {
	var lastErr error
	for i := 0; i < c.maxAttempts; i++ {
		if i > 0 {
			// Exponential backoff: 1s, 2s, 4s
			delay := c.baseDelay << uint(i-1)
			c.logger.Info("Retrying feed request", slog.String("op", op), slog.Int("attempt", i), slog.Duration("delay", delay))
			select {
			case <-ctx.Done():
				return domain.NewFatalNetworkError(op, ctx.Err())
			case <-time.After(delay):
			}
		}

		err := c.doGet(ctx, op, path, query, out)
		if err == nil {
			return nil
		}
		lastErr = err
		c.logger.Warn("Feed request failed", slog.String("op", op), slog.Int("attempt", i+1), slog.Any("error", err))
		if !domain.IsRetriable(err) {
			break
		}
	}
	return lastErr
}

func (c *Client) doGet(ctx context.Context, op, path string, query url.Values, out any) error {
	reqURL := c.baseURL + path
	if len(query) > 0 {
		reqURL += "?" + query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return domain.NewFatalNetworkError(op, err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", infra.DefaultUserAgent)
	if c.apiKey != "" {
		req.Header.Set("x-cg-demo-api-key", c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return domain.NewNetworkError(op, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		// Drain so the connection can be reused
		io.Copy(io.Discard, resp.Body)
		statusErr := fmt.Errorf("unexpected status code: %d", resp.StatusCode)
		if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
			return domain.NewNetworkError(op, statusErr)
		}
		return domain.NewFatalNetworkError(op, statusErr)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return domain.NewFatalNetworkError(op, fmt.Errorf("decode response: %w", err))
	}
	return nil
}
