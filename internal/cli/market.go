package cli

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/google/subcommands"
)

type marketsCmd struct{}

func (*marketsCmd) Name() string     { return "markets" }
func (*marketsCmd) Synopsis() string { return "list the top assets by market cap" }
func (*marketsCmd) Usage() string {
	return `markets

  Fetches the ranked market listing in the portfolio currency.
`
}

func (*marketsCmd) SetFlags(*flag.FlagSet) {}

func (*marketsCmd) Execute(ctx context.Context, f *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	b, err := openApp(ctx)
	if err != nil {
		return fail("Error bootstrapping", err)
	}
	defer b.Close()

	if err := b.Poller.FetchOnce(ctx); err != nil {
		return fail("Error fetching markets", err)
	}

	printMarkdown(marketsMarkdown(b.Market.Currency(), b.Market.All()))
	return subcommands.ExitSuccess
}

type chartCmd struct {
	days int
}

func (*chartCmd) Name() string     { return "chart" }
func (*chartCmd) Synopsis() string { return "show the price history of an asset" }
func (*chartCmd) Usage() string {
	return `chart [-days <n>] <asset-id>

  Displays the price history of an asset (for example "bitcoin")
  in the portfolio currency.
`
}

func (c *chartCmd) SetFlags(f *flag.FlagSet) {
	f.IntVar(&c.days, "days", 7, "number of days of history (1..365)")
}

func (c *chartCmd) Execute(ctx context.Context, f *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	if f.NArg() != 1 {
		fmt.Fprintln(os.Stderr, "chart requires exactly one asset id")
		return subcommands.ExitUsageError
	}
	if c.days < 1 || c.days > 365 {
		fmt.Fprintln(os.Stderr, "-days must be within 1..365")
		return subcommands.ExitUsageError
	}
	id := f.Arg(0)

	b, err := openApp(ctx)
	if err != nil {
		return fail("Error bootstrapping", err)
	}
	defer b.Close()

	currency, err := b.Sequencer.Currency(ctx)
	if err != nil {
		return fail("Error reading currency", err)
	}
	points, err := b.Feed.FetchChart(ctx, id, currency, c.days)
	if err != nil {
		return fail("Error fetching chart", err)
	}

	printMarkdown(chartMarkdown(id, currency, c.days, points))
	return subcommands.ExitSuccess
}
