package cli

import (
	"context"
	"flag"
	"fmt"
	"os"

	"crypto_demo/internal/export"

	"github.com/google/subcommands"
)

type portfolioCmd struct {
	offline bool
}

func (*portfolioCmd) Name() string     { return "portfolio" }
func (*portfolioCmd) Synopsis() string { return "display cash, holdings and total value" }
func (*portfolioCmd) Usage() string {
	return `portfolio [-offline]

  Values the portfolio at the latest market prices.
`
}

func (c *portfolioCmd) SetFlags(f *flag.FlagSet) {
	f.BoolVar(&c.offline, "offline", false, "value at the last saved prices without fetching")
}

func (c *portfolioCmd) Execute(ctx context.Context, _ *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	b, err := openApp(ctx)
	if err != nil {
		return fail("Error bootstrapping", err)
	}
	defer b.Close()

	if !c.offline {
		if err := b.Poller.FetchOnce(ctx); err != nil {
			fmt.Fprintf(os.Stderr, "warning, using last saved prices: %v\n", err)
		}
	}

	p, err := b.Sequencer.Portfolio(ctx)
	if err != nil {
		return fail("Error reading portfolio", err)
	}
	printMarkdown(portfolioMarkdown(p))
	return subcommands.ExitSuccess
}

type historyCmd struct {
	limit int
}

func (*historyCmd) Name() string     { return "history" }
func (*historyCmd) Synopsis() string { return "display the executed orders, most recent first" }
func (*historyCmd) Usage() string {
	return `history [-n <count>]
`
}

func (c *historyCmd) SetFlags(f *flag.FlagSet) {
	f.IntVar(&c.limit, "n", 0, "maximum number of orders, 0 uses history_limit from the config")
}

func (c *historyCmd) Execute(ctx context.Context, _ *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	b, err := openApp(ctx)
	if err != nil {
		return fail("Error bootstrapping", err)
	}
	defer b.Close()

	limit := c.limit
	if limit <= 0 {
		limit = b.Config.Ledger.HistoryLimit
	}
	orders, err := b.Sequencer.History(ctx, limit)
	if err != nil {
		return fail("Error reading history", err)
	}
	currency, err := b.Sequencer.Currency(ctx)
	if err != nil {
		return fail("Error reading currency", err)
	}

	printMarkdown(historyMarkdown(currency, orders))
	return subcommands.ExitSuccess
}

type exportCmd struct {
	output string
}

func (*exportCmd) Name() string     { return "export" }
func (*exportCmd) Synopsis() string { return "export the order history as CSV" }
func (*exportCmd) Usage() string {
	return `export [-o <file>]

  Writes every order to a CSV file. Use -o - for stdout.
`
}

func (c *exportCmd) SetFlags(f *flag.FlagSet) {
	f.StringVar(&c.output, "o", export.DefaultFileName, "output file")
}

func (c *exportCmd) Execute(ctx context.Context, _ *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	b, err := openApp(ctx)
	if err != nil {
		return fail("Error bootstrapping", err)
	}
	defer b.Close()

	records, err := b.Sequencer.ExportHistory(ctx)
	if err != nil {
		return fail("Error reading history", err)
	}

	if c.output == "-" {
		if err := export.WriteCSV(os.Stdout, records); err != nil {
			return fail("Error writing CSV", err)
		}
		fmt.Println()
		return subcommands.ExitSuccess
	}

	file, err := os.Create(c.output)
	if err != nil {
		return fail("Error creating file", err)
	}
	if err := export.WriteCSV(file, records); err != nil {
		file.Close()
		return fail("Error writing CSV", err)
	}
	if err := file.Close(); err != nil {
		return fail("Error closing file", err)
	}

	fmt.Printf("History exported to %s\n", c.output)
	return subcommands.ExitSuccess
}

type resetCmd struct {
	keepCurrency bool
}

func (*resetCmd) Name() string     { return "reset" }
func (*resetCmd) Synopsis() string { return "restore the starting cash and clear holdings and history" }
func (*resetCmd) Usage() string {
	return `reset [-keep-currency]
`
}

func (c *resetCmd) SetFlags(f *flag.FlagSet) {
	f.BoolVar(&c.keepCurrency, "keep-currency", false, "keep the current quote currency")
}

func (c *resetCmd) Execute(ctx context.Context, _ *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	b, err := openApp(ctx)
	if err != nil {
		return fail("Error bootstrapping", err)
	}
	defer b.Close()

	if err := b.Sequencer.Reset(ctx, c.keepCurrency); err != nil {
		return fail("Error resetting", err)
	}
	p, err := b.Sequencer.Portfolio(ctx)
	if err != nil {
		return fail("Error reading portfolio", err)
	}

	printMarkdown(portfolioMarkdown(p))
	return subcommands.ExitSuccess
}

type currencyCmd struct{}

func (*currencyCmd) Name() string     { return "currency" }
func (*currencyCmd) Synopsis() string { return "show or change the quote currency" }
func (*currencyCmd) Usage() string {
	return `currency [<code>]

  Without argument prints the current quote currency.
  Supported codes: usd, eur, gbp, inr, jpy, krw.
`
}

func (*currencyCmd) SetFlags(*flag.FlagSet) {}

func (*currencyCmd) Execute(ctx context.Context, f *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	if f.NArg() > 1 {
		fmt.Fprintln(os.Stderr, "currency takes at most one code")
		return subcommands.ExitUsageError
	}

	b, err := openApp(ctx)
	if err != nil {
		return fail("Error bootstrapping", err)
	}
	defer b.Close()

	if f.NArg() == 0 {
		code, err := b.Sequencer.Currency(ctx)
		if err != nil {
			return fail("Error reading currency", err)
		}
		fmt.Println(code)
		return subcommands.ExitSuccess
	}

	code, err := b.Sequencer.SetCurrency(ctx, f.Arg(0))
	if err != nil {
		return fail("Error changing currency", err)
	}
	fmt.Printf("Quote currency set to %s\n", code)
	return subcommands.ExitSuccess
}
