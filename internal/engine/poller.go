package engine

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"crypto_demo/internal/domain"
	"crypto_demo/internal/infra"
)

// MarketCache receives every successfully fetched listing. service.PriceService implements it.
type MarketCache interface {
	Replace(currency string, assets []domain.Asset)
}

// Poller keeps the listing and the ledger's last prices fresh.
// It fetches immediately on Start, then every interval, and whenever Refresh is called.
type Poller struct {
	feed     domain.PriceFeed
	seq      *Sequencer
	cache    MarketCache
	metrics  *infra.Metrics
	interval time.Duration

	// onListing is called after a listing has been applied
	onListing func(currency string, assets []domain.Asset)

	refresh chan struct{}
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	logger  *slog.Logger
}

// NewPoller creates a poller. metrics and onListing may be nil.
func NewPoller(feed domain.PriceFeed, seq *Sequencer, cache MarketCache, metrics *infra.Metrics, interval time.Duration, onListing func(string, []domain.Asset)) *Poller {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	return &Poller{
		feed:      feed,
		seq:       seq,
		cache:     cache,
		metrics:   metrics,
		interval:  interval,
		onListing: onListing,
		refresh:   make(chan struct{}, 1),
		logger:    slog.Default().With("module", "poller"),
	}
}

// Start begins polling in a background goroutine.
func (p *Poller) Start(ctx context.Context) {
	ctx, p.cancel = context.WithCancel(ctx)

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		defer func() {
			if r := recover(); r != nil {
				p.logger.Error("Polling panic recovered", slog.Any("panic", r))
			}
		}()

		// Fetch immediately on start
		p.poll(ctx)

		ticker := time.NewTicker(p.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				p.logger.Info("Polling stopped")
				return
			case <-ticker.C:
				p.poll(ctx)
			case <-p.refresh:
				p.poll(ctx)
				ticker.Reset(p.interval)
			}
		}
	}()
}

// Refresh requests an out-of-band fetch. Requests made while one is pending coalesce.
func (p *Poller) Refresh() {
	select {
	case p.refresh <- struct{}{}:
	default:
	}
}

// Stop stops the polling
func (p *Poller) Stop() {
	if p.cancel != nil {
		p.cancel()
		p.wg.Wait()
	}
}

func (p *Poller) poll(ctx context.Context) {
	if err := p.FetchOnce(ctx); err != nil && ctx.Err() == nil {
		p.logger.Warn("Listing fetch failed", slog.Any("error", err))
	}
}

// FetchOnce fetches the listing in the ledger's current currency and applies it.
// A failed fetch leaves every price untouched.
func (p *Poller) FetchOnce(ctx context.Context) error {
	currency, err := p.seq.Currency(ctx)
	if err != nil {
		return err
	}

	start := time.Now()
	assets, err := p.feed.FetchTopAssets(ctx, currency)
	if p.metrics != nil {
		p.metrics.RecordFeedFetch(err, time.Since(start))
	}
	if err != nil {
		return err
	}

	applied, err := p.seq.UpdatePrices(ctx, currency, domain.PriceMap(assets))
	if err != nil {
		return err
	}
	if !applied {
		// Currency changed while fetching; the refresh it triggered brings the right quotes
		return nil
	}
	p.cache.Replace(currency, assets)

	p.logger.Debug("Listing applied", slog.String("currency", currency), slog.Int("assets", len(assets)))
	if p.onListing != nil {
		p.onListing(currency, assets)
	}
	return nil
}
