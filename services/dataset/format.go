package dataset

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"text/tabwriter"
)

// MaxDisplayRows is the row count above which rendering elides the middle.
const MaxDisplayRows = 60

const elidedEdgeRows = 5

func formatNumber(v float64) string {
	switch {
	case math.IsNaN(v):
		return "NaN"
	case math.IsInf(v, 0):
		return strconv.FormatFloat(v, 'f', -1, 64)
	case v == math.Trunc(v) && math.Abs(v) < 1e15:
		return strconv.FormatFloat(v, 'f', 0, 64)
	}
	return strconv.FormatFloat(v, 'f', 6, 64)
}

// columnFormatter picks integer rendering when every value in the column is whole.
func columnFormatter(values []float64) func(float64) string {
	for _, v := range values {
		if !math.IsNaN(v) && (v != math.Trunc(v) || math.Abs(v) >= 1e15) {
			return func(v float64) string {
				if math.IsNaN(v) {
					return "NaN"
				}
				return strconv.FormatFloat(v, 'f', 6, 64)
			}
		}
	}
	return formatNumber
}

func displayRows(n int) (rows []int, elided bool) {
	if n <= MaxDisplayRows {
		rows = make([]int, n)
		for i := range rows {
			rows[i] = i
		}
		return rows, false
	}
	for i := 0; i < elidedEdgeRows; i++ {
		rows = append(rows, i)
	}
	for i := n - elidedEdgeRows; i < n; i++ {
		rows = append(rows, i)
	}
	return rows, true
}

// String renders the table as right-aligned fixed-width text.
func (t *Table) String() string {
	var b strings.Builder
	w := tabwriter.NewWriter(&b, 0, 0, 2, ' ', tabwriter.AlignRight)

	fmt.Fprint(w, "\t")
	for _, n := range t.names {
		fmt.Fprintf(w, "%s\t", n)
	}
	fmt.Fprintln(w)

	formatters := make([]func(float64) string, len(t.cols))
	for c, col := range t.cols {
		formatters[c] = columnFormatter(col)
	}

	rows, elided := displayRows(t.Rows())
	for i, r := range rows {
		if elided && i == elidedEdgeRows {
			fmt.Fprint(w, "...\t")
			for range t.names {
				fmt.Fprint(w, "...\t")
			}
			fmt.Fprintln(w)
		}
		fmt.Fprintf(w, "%s\t", t.rowLabel(r))
		for c := range t.cols {
			fmt.Fprintf(w, "%s\t", formatters[c](t.cols[c][r]))
		}
		fmt.Fprintln(w)
	}
	w.Flush()

	out := strings.TrimRight(b.String(), "\n")
	if elided {
		out += fmt.Sprintf("\n\n[%d rows x %d columns]", t.Rows(), len(t.names))
	}
	return out
}

func (s *Series) String() string {
	var b strings.Builder
	w := tabwriter.NewWriter(&b, 0, 0, 2, ' ', tabwriter.AlignRight)

	format := columnFormatter(s.values)
	fmt.Fprintf(w, "\t%s\t\n", s.name)

	rows, elided := displayRows(len(s.values))
	for i, r := range rows {
		if elided && i == elidedEdgeRows {
			fmt.Fprint(w, "...\t...\t\n")
		}
		label := strconv.Itoa(r)
		if r < len(s.labels) {
			label = s.labels[r]
		}
		fmt.Fprintf(w, "%s\t%s\t\n", label, format(s.values[r]))
	}
	w.Flush()

	out := strings.TrimRight(b.String(), "\n")
	if elided {
		out += fmt.Sprintf("\n\nLength: %d", len(s.values))
	}
	return out
}
