// Package export writes the order history as a CSV file.
package export

import (
	"bufio"
	"io"
	"iter"
	"strings"

	"crypto_demo/internal/domain"
)

// DefaultFileName is the suggested name of an exported history.
const DefaultFileName = "crypto_demo_history.csv"

var header = []string{"ts", "type", "symbol", "qty", "price", "cost"}

// WriteCSV writes a header row then one row per record. Every cell is
// double-quoted with embedded quotes doubled. Rows are separated by "\n"
// and the last row has no trailing newline.
func WriteCSV(w io.Writer, records iter.Seq[domain.HistoryRecord]) error {
	bw := bufio.NewWriter(w)

	writeRow(bw, header)
	for r := range records {
		bw.WriteByte('\n')
		writeRow(bw, []string{
			r.Timestamp,
			string(r.Side),
			r.Symbol,
			r.Quantity.String(),
			r.UnitPrice.String(),
			r.TotalCost.String(),
		})
	}
	return bw.Flush()
}

func writeRow(w *bufio.Writer, cells []string) {
	for i, c := range cells {
		if i > 0 {
			w.WriteByte(',')
		}
		w.WriteString(quote(c))
	}
}

func quote(s string) string {
	return `"` + strings.ReplaceAll(s, `"`, `""`) + `"`
}
