package cli

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"crypto_demo/internal/app"
	"crypto_demo/internal/domain"
	"crypto_demo/internal/web"

	"github.com/google/subcommands"
)

type serveCmd struct {
	addr string
}

func (*serveCmd) Name() string     { return "serve" }
func (*serveCmd) Synopsis() string { return "run the HTTP and WebSocket server" }
func (*serveCmd) Usage() string {
	return `serve [-addr <host:port>]

  Polls the market listing, serves the REST API under /api/v1 and
  pushes price and portfolio updates over /ws until interrupted.
`
}

func (c *serveCmd) SetFlags(f *flag.FlagSet) {
	f.StringVar(&c.addr, "addr", "", "listen address, overrides http.addr from the config")
}

func (c *serveCmd) Execute(ctx context.Context, _ *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	b := app.NewBootstrap(*configPath)
	if err := b.Initialize(); err != nil {
		return fail("Error bootstrapping", err)
	}
	if c.addr != "" {
		b.Config.HTTP.Addr = c.addr
	}

	// Graceful Shutdown Context
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	hub := web.NewHub(b.Metrics)
	go hub.Run(ctx)

	onListing := func(currency string, assets []domain.Asset) {
		hub.PublishListing(currency, assets)
		// Background asset sync for icons
		b.StartAssetSync(ctx, assets)
	}
	b.StartEngine(ctx, hub.PublishUpdate, onListing)
	defer b.Close()

	b.Poller.Start(ctx)
	slog.InfoContext(ctx, "✅ Price poller started", slog.Duration("interval", b.Config.PollInterval()))

	srv := web.NewServer(web.Deps{
		Config:    b.Config,
		Sequencer: b.Sequencer,
		Market:    b.Market,
		Feed:      b.Feed,
		Refresher: b.Poller,
		Icons:     b.Downloader,
		Assets:    b.Storage,
		Hub:       hub,
		Metrics:   b.Metrics,
	})

	fmt.Printf("crypto-demo listening on %s, press Ctrl+C to exit\n", b.Config.HTTP.Addr)
	if err := srv.ListenAndServe(ctx); err != nil {
		return fail("Server failed", err)
	}

	slog.Info("👋 Shutting down gracefully...")
	return subcommands.ExitSuccess
}
