package app

import (
	"context"
	"log/slog"
	"os"
	"sync"
	"time"

	"crypto_demo/internal/domain"
	"crypto_demo/internal/engine"
	"crypto_demo/internal/infra"
	"crypto_demo/internal/infra/coingecko"
	"crypto_demo/internal/infra/storage"
	"crypto_demo/internal/service"
)

// DefaultConfigPath is read when no -config flag is given.
const DefaultConfigPath = "configs/config.yaml"

// Bootstrap orchestrates the application startup sequence
type Bootstrap struct {
	ConfigPath string
	Quiet      bool // log to the rotating file only

	Config     *infra.Config
	Storage    *storage.Storage
	Downloader *infra.IconDownloader
	Metrics    *infra.Metrics
	Feed       *coingecko.Client
	Market     *service.PriceService
	Sequencer  *engine.Sequencer
	Poller     *engine.Poller

	syncs sync.WaitGroup // background asset syncs
}

// NewBootstrap creates a new Bootstrap instance
func NewBootstrap(configPath string) *Bootstrap {
	if configPath == "" {
		configPath = DefaultConfigPath
	}
	return &Bootstrap{ConfigPath: configPath, Metrics: infra.GlobalMetrics}
}

// Initialize performs core system initialization (config, logger, DB, icon cache).
func (b *Bootstrap) Initialize() error {
	// 1. Load Config
	cfg, err := infra.LoadConfig(b.ConfigPath)
	if err != nil {
		return err // Let main handle the error
	}
	b.Config = cfg

	// 2. Setup Logger
	logger := infra.NewLogger(cfg)
	if b.Quiet {
		logger = infra.NewQuietLogger(cfg)
	}
	slog.SetDefault(logger)
	slog.Info("Bootstrapping crypto demo", slog.String("version", cfg.App.Version))

	// 3. Initialize Storage (DB)
	store, err := storage.NewStorage(cfg.Storage.Path, cfg.Storage.StateKey)
	if err != nil {
		return err
	}
	b.Storage = store
	slog.Info("Database initialized")

	// 4. Initialize Icon Downloader
	downloader, err := infra.NewIconDownloader(cfg.Storage.IconsPath)
	if err != nil {
		return err
	}
	b.Downloader = downloader

	// 5. Price feed and listing cache
	b.Feed = coingecko.NewClient(cfg)
	b.Market = service.NewPriceService()

	return nil
}

// StartEngine restores the ledger and starts the Sequencer. The poller is
// created but not started; one-shot commands call FetchOnce instead.
// onUpdate and onListing may be nil.
func (b *Bootstrap) StartEngine(ctx context.Context, onUpdate func(engine.Update), onListing func(string, []domain.Asset)) {
	ledger := engine.RestoreLedger(ctx, b.Storage, b.Config.Ledger.StartingCash, b.Config.Ledger.DefaultCurrency)

	b.Sequencer = engine.NewSequencer(ledger, b.Storage, b.Market, b.Metrics, onUpdate)
	b.Sequencer.Start(ctx)

	b.Poller = engine.NewPoller(b.Feed, b.Sequencer, b.Market, b.Metrics, b.Config.PollInterval(), onListing)
}

// Close stops the poller and the Sequencer (which saves the ledger), waits for
// background syncs, then closes the DB.
func (b *Bootstrap) Close() {
	if b.Poller != nil {
		b.Poller.Stop()
	}
	if b.Sequencer != nil {
		b.Sequencer.Close()
	}
	b.syncs.Wait()
	if b.Storage != nil {
		if err := b.Storage.Close(); err != nil {
			slog.Warn("Failed to close database", slog.Any("error", err))
		}
	}
}

// StartAssetSync runs SyncAssets in the background. Close waits for it.
// The poller calls it from its own goroutine, which Close stops before waiting.
func (b *Bootstrap) StartAssetSync(ctx context.Context, assets []domain.Asset) {
	b.syncs.Add(1)
	go func() {
		defer b.syncs.Done()
		b.SyncAssets(ctx, assets)
	}()
}

// SyncAssets records listing metadata and caches icons.
// Assets whose icon is already on disk are skipped.
func (b *Bootstrap) SyncAssets(ctx context.Context, assets []domain.Asset) {
	var wg sync.WaitGroup
	semaphore := make(chan struct{}, 5) // Limit concurrent downloads
	synced := 0
	var mu sync.Mutex

	for _, asset := range assets {
		if existing, _ := b.Storage.GetAsset(asset.ID); existing != nil && existing.IconPath != "" {
			if _, err := os.Stat(existing.IconPath); err == nil {
				continue
			}
		}

		wg.Add(1)
		go func(a domain.Asset) {
			defer wg.Done()
			select {
			case <-ctx.Done():
				return
			case semaphore <- struct{}{}: // Acquire
			}
			defer func() { <-semaphore }() // Release

			// 1. Upsert to DB
			info := &domain.AssetInfo{
				ID:        a.ID,
				Symbol:    a.Symbol,
				Name:      a.Name,
				ImageURL:  a.Image,
				UpdatedAt: time.Now(),
			}
			if existing, _ := b.Storage.GetAsset(a.ID); existing != nil {
				info.CreatedAt = existing.CreatedAt
			}
			if err := b.Storage.UpsertAsset(info); err != nil {
				slog.Error("Failed to upsert asset", slog.String("id", a.ID), slog.Any("error", err))
				return
			}

			// 2. Download Icon (if missing)
			path, err := b.Downloader.DownloadIcon(ctx, a.ID, a.Image)
			if err != nil {
				slog.Warn("Failed to download icon", slog.String("id", a.ID), slog.Any("error", err))
				return
			}
			info.IconPath = path
			info.LastSyncedAt = time.Now()
			if err := b.Storage.UpsertAsset(info); err != nil {
				slog.Error("Failed to record icon", slog.String("id", a.ID), slog.Any("error", err))
				return
			}

			mu.Lock()
			synced++
			mu.Unlock()
		}(asset)
	}

	wg.Wait()
	if synced > 0 {
		slog.Info("Asset synchronization completed", slog.Int("icons", synced))
	}
}
