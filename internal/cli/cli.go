// Package cli implements the crypto-demo subcommands.
package cli

import (
	"context"
	"flag"
	"fmt"
	"os"

	"crypto_demo/internal/app"

	"github.com/charmbracelet/glamour"
	"github.com/google/subcommands"
)

// Register the subcommands.
func Register(c *subcommands.Commander) {
	c.Register(&serveCmd{}, "server")

	c.Register(&marketsCmd{}, "market")
	c.Register(&chartCmd{}, "market")

	c.Register(&tradeCmd{side: "buy"}, "trading")
	c.Register(&tradeCmd{side: "sell"}, "trading")
	c.Register(&portfolioCmd{}, "trading")
	c.Register(&historyCmd{}, "trading")
	c.Register(&exportCmd{}, "trading")
	c.Register(&resetCmd{}, "trading")
	c.Register(&currencyCmd{}, "trading")
}

var configPath = flag.String("config", app.DefaultConfigPath, "Path to the yaml configuration file")

// openApp initializes the application for a one-shot command.
// Logs go to the rotating file only so they do not mix with the report.
func openApp(ctx context.Context) (*app.Bootstrap, error) {
	b := app.NewBootstrap(*configPath)
	b.Quiet = true
	if err := b.Initialize(); err != nil {
		return nil, err
	}
	b.StartEngine(ctx, nil, nil)
	return b, nil
}

// fail prints err and returns the failure status.
func fail(format string, err error) subcommands.ExitStatus {
	fmt.Fprintf(os.Stderr, format+": %v\n", err)
	return subcommands.ExitFailure
}

// printMarkdown renders md for the terminal, falling back to the raw text.
func printMarkdown(md string) {
	r, err := glamour.NewTermRenderer(
		glamour.WithAutoStyle(),
		glamour.WithWordWrap(100),
	)
	if err != nil {
		fmt.Print(md)
		return
	}
	out, err := r.Render(md)
	if err != nil {
		fmt.Print(md)
		return
	}
	fmt.Print(out)
}
