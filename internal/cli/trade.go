package cli

import (
	"context"
	"flag"
	"fmt"
	"os"

	"crypto_demo/internal/domain"

	"github.com/google/subcommands"
	"github.com/shopspring/decimal"
)

// tradeCmd is registered once per side.
type tradeCmd struct {
	side string
}

func (c *tradeCmd) Name() string { return c.side }
func (c *tradeCmd) Synopsis() string {
	return fmt.Sprintf("%s an asset at the current market price", c.side)
}
func (c *tradeCmd) Usage() string {
	return fmt.Sprintf(`%s <asset-id> <quantity>

  Fetches the latest listing and executes a simulated market order,
  for example: %s bitcoin 0.05
`, c.side, c.side)
}

func (*tradeCmd) SetFlags(*flag.FlagSet) {}

func (c *tradeCmd) Execute(ctx context.Context, f *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	side, qty, err := parseTradeArgs(c.side, f.Args())
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return subcommands.ExitUsageError
	}
	id := f.Arg(0)

	b, err := openApp(ctx)
	if err != nil {
		return fail("Error bootstrapping", err)
	}
	defer b.Close()

	// The trade needs a listing price
	if err := b.Poller.FetchOnce(ctx); err != nil {
		return fail("Error fetching markets", err)
	}

	order, err := b.Sequencer.Trade(ctx, id, side, qty)
	if err != nil {
		return fail("Trade rejected", err)
	}
	p, err := b.Sequencer.Portfolio(ctx)
	if err != nil {
		return fail("Error reading portfolio", err)
	}

	printMarkdown(orderMarkdown(p.Currency, order, p))
	return subcommands.ExitSuccess
}

// parseTradeArgs validates "<asset-id> <quantity>" for the given side.
func parseTradeArgs(side string, args []string) (domain.Side, decimal.Decimal, error) {
	if len(args) != 2 {
		return "", decimal.Zero, fmt.Errorf("%s requires an asset id and a quantity", side)
	}
	s, err := domain.ParseSide(side)
	if err != nil {
		return "", decimal.Zero, err
	}
	qty, err := decimal.NewFromString(args[1])
	if err != nil {
		return "", decimal.Zero, fmt.Errorf("invalid quantity %q", args[1])
	}
	if !qty.IsPositive() {
		return "", decimal.Zero, domain.ErrInvalidQuantity
	}
	return s, qty, nil
}
