package cli

import (
	"bytes"
	"fmt"
	"strings"

	"crypto_demo/internal/domain"
	"crypto_demo/internal/engine"
	"crypto_demo/internal/web"

	md "github.com/nao1215/markdown"
	"github.com/shopspring/decimal"
)

// maxChartRows caps the chart table; longer series are sampled evenly.
const maxChartRows = 24

func marketsMarkdown(currency string, assets []domain.Asset) string {
	var buf bytes.Buffer
	doc := md.NewMarkdown(&buf)

	doc.H1(fmt.Sprintf("Top %d assets in %s", len(assets), strings.ToUpper(currency)))

	table := md.TableSet{
		Header: []string{"#", "Asset", "Price", "24h", "Market cap"},
		Rows:   [][]string{},
	}
	for _, v := range web.NewMarketViews(currency, assets) {
		table.Rows = append(table.Rows, []string{
			fmt.Sprint(v.Rank),
			fmt.Sprintf("%s (%s)", v.Name, v.Symbol),
			v.PriceDisplay,
			signedPercent(v.Change24h),
			v.MarketCapDisplay,
		})
	}
	doc.Table(table)

	return doc.String()
}

func chartMarkdown(assetID, currency string, days int, points []domain.ChartPoint) string {
	var buf bytes.Buffer
	doc := md.NewMarkdown(&buf)

	doc.H1(fmt.Sprintf("%s over %d days", assetID, days))
	if len(points) == 0 {
		doc.PlainText("No price history available.")
		return doc.String()
	}

	low, high := points[0].Price, points[0].Price
	for _, p := range points[1:] {
		low = decimal.Min(low, p.Price)
		high = decimal.Max(high, p.Price)
	}
	first, last := points[0].Price, points[len(points)-1].Price
	change := decimal.Zero
	if !first.IsZero() {
		change = last.Sub(first).Div(first).Mul(decimal.NewFromInt(100)).Round(2)
	}
	doc.BulletList(
		"Low: "+domain.FormatMoney(low, currency),
		"High: "+domain.FormatMoney(high, currency),
		"Last: "+domain.FormatMoney(last, currency),
		"Change: "+signedPercent(change),
	)

	table := md.TableSet{
		Header: []string{"Time", "Price"},
		Rows:   [][]string{},
	}
	for _, p := range samplePoints(points, maxChartRows) {
		table.Rows = append(table.Rows, []string{
			p.Timestamp.UTC().Format("2006-01-02 15:04"),
			domain.FormatMoney(p.Price, currency),
		})
	}
	doc.Table(table)

	return doc.String()
}

// samplePoints keeps at most n points, always including the last one.
func samplePoints(points []domain.ChartPoint, n int) []domain.ChartPoint {
	if len(points) <= n {
		return points
	}
	out := make([]domain.ChartPoint, 0, n)
	step := float64(len(points)-1) / float64(n-1)
	for i := range n {
		out = append(out, points[int(float64(i)*step+0.5)])
	}
	return out
}

func portfolioMarkdown(p engine.Portfolio) string {
	v := web.NewPortfolioView(p)

	var buf bytes.Buffer
	doc := md.NewMarkdown(&buf)

	doc.H1("Portfolio")
	doc.BulletList(
		"Cash: "+v.CashDisplay,
		"Holdings: "+domain.FormatMoney(v.HoldingsValue, v.Currency),
		"Total: "+v.TotalDisplay,
		"Since start: "+signedPercent(performance(v.Total, v.StartingCash)),
	)

	if len(v.Holdings) == 0 {
		doc.PlainText("No open positions.")
		return doc.String()
	}

	table := md.TableSet{
		Header: []string{"Asset", "Quantity", "Avg price", "Last price", "Value"},
		Rows:   [][]string{},
	}
	for _, h := range v.Holdings {
		table.Rows = append(table.Rows, []string{
			fmt.Sprintf("%s (%s)", h.Name, h.Symbol),
			h.Quantity.String(),
			domain.FormatMoney(h.AveragePrice, v.Currency),
			domain.FormatMoney(h.Price, v.Currency),
			h.ValueDisplay,
		})
	}
	doc.Table(table)

	return doc.String()
}

func historyMarkdown(currency string, orders []domain.Order) string {
	var buf bytes.Buffer
	doc := md.NewMarkdown(&buf)

	doc.H1("Order history")
	if len(orders) == 0 {
		doc.PlainText("No trades yet.")
		return doc.String()
	}

	table := md.TableSet{
		Header: []string{"Time", "Side", "Asset", "Quantity", "Price", "Cost"},
		Rows:   [][]string{},
	}
	for _, o := range orders {
		table.Rows = append(table.Rows, []string{
			o.Timestamp.Local().Format("2006-01-02 15:04:05"),
			string(o.Side),
			strings.ToUpper(o.Symbol),
			o.Quantity.String(),
			domain.FormatMoney(o.UnitPrice, currency),
			domain.FormatMoney(o.TotalCost, currency),
		})
	}
	doc.Table(table)

	return doc.String()
}

func orderMarkdown(currency string, o domain.Order, p engine.Portfolio) string {
	var buf bytes.Buffer
	doc := md.NewMarkdown(&buf)

	verb := "Bought"
	if o.Side == domain.SideSell {
		verb = "Sold"
	}
	doc.H1(fmt.Sprintf("%s %s %s", verb, o.Quantity.String(), strings.ToUpper(o.Symbol)))
	doc.BulletList(
		"Price: "+domain.FormatMoney(o.UnitPrice, currency),
		"Cost: "+domain.FormatMoney(o.TotalCost, currency),
		"Cash left: "+domain.FormatMoney(p.Valuation.Cash, currency),
		"Order: "+o.ID,
	)

	return doc.String()
}

// performance is the total return in percent relative to the starting cash.
func performance(total, start decimal.Decimal) decimal.Decimal {
	if start.IsZero() {
		return decimal.Zero
	}
	return total.Sub(start).Div(start).Mul(decimal.NewFromInt(100)).Round(2)
}

func signedPercent(pct decimal.Decimal) string {
	s := pct.StringFixed(2) + "%"
	if pct.IsPositive() {
		return "+" + s
	}
	return s
}
