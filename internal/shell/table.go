package shell

import (
	"fmt"
	"io"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/shopspring/decimal"

	"github.com/noah-isme/taxinput/internal/record"
)

var tableHeader = []string{"ic_number", "income", "tax_relief", "tax_payable", "computed_at"}

// numeric columns are right-aligned.
var numericColumn = []bool{false, true, true, true, false}

// RenderTable writes records as a psql-style grid.
func RenderTable(w io.Writer, records []record.Record) error {
	rows := make([][]string, 0, len(records))
	for _, rec := range records {
		computed := ""
		if !rec.ComputedAt.IsZero() {
			computed = rec.ComputedAt.Format(time.DateTime)
		}
		rows = append(rows, []string{
			rec.ICNumber,
			FormatAmount(rec.Income),
			FormatAmount(rec.Relief),
			FormatAmount(rec.TaxPayable),
			computed,
		})
	}

	widths := make([]int, len(tableHeader))
	for i, h := range tableHeader {
		widths[i] = utf8.RuneCountInString(h)
	}
	for _, row := range rows {
		for i, cell := range row {
			if n := utf8.RuneCountInString(cell); n > widths[i] {
				widths[i] = n
			}
		}
	}

	var b strings.Builder
	border := rule(widths, "+", "+", "+")
	b.WriteString(border)
	writeRow(&b, tableHeader, widths, nil)
	b.WriteString(rule(widths, "|", "+", "|"))
	for _, row := range rows {
		writeRow(&b, row, widths, numericColumn)
	}
	b.WriteString(border)

	_, err := io.WriteString(w, b.String())
	return err
}

// FormatAmount renders v with exactly two decimal places.
func FormatAmount(v float64) string {
	return decimal.NewFromFloat(v).StringFixed(2)
}

func rule(widths []int, left, mid, right string) string {
	parts := make([]string, len(widths))
	for i, w := range widths {
		parts[i] = strings.Repeat("-", w+2)
	}
	return left + strings.Join(parts, mid) + right + "\n"
}

func writeRow(b *strings.Builder, cells []string, widths []int, rightAlign []bool) {
	b.WriteString("|")
	for i, cell := range cells {
		pad := widths[i] - utf8.RuneCountInString(cell)
		if rightAlign != nil && rightAlign[i] {
			fmt.Fprintf(b, " %s%s |", strings.Repeat(" ", pad), cell)
		} else {
			fmt.Fprintf(b, " %s%s |", cell, strings.Repeat(" ", pad))
		}
	}
	b.WriteString("\n")
}
