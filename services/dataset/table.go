package dataset

import (
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"

	"github.com/lithammer/fuzzysearch/fuzzy"
	"github.com/samber/lo"
)

const (
	ColumnTime   = "Time"
	ColumnAmount = "Amount"
	ColumnClass  = "Class"

	FeatureColumns = 28
)

// Schema is the fixed column order every loaded table exposes.
var Schema = func() []string {
	cols := []string{ColumnTime}
	for i := 1; i <= FeatureColumns; i++ {
		cols = append(cols, fmt.Sprintf("V%d", i))
	}
	return append(cols, ColumnAmount, ColumnClass)
}()

// LabelValues is the closed set of values the Class column may hold.
var LabelValues = []float64{0, 1}

type SourceKind string

const (
	SourceRemote    SourceKind = "remote"
	SourceLocal     SourceKind = "local"
	SourceSynthetic SourceKind = "synthetic"
	SourceDynamic   SourceKind = "dynamic"
)

// Table is an immutable set of equally long float64 columns. Sessions swap a
// whole *Table on reload; nothing mutates one after construction.
type Table struct {
	names  []string
	lookup map[string]int
	cols   [][]float64
	index  []string

	kind   SourceKind
	origin string
}

// ColumnError reports a reference to a column the table does not have.
type ColumnError struct {
	Name       string
	Suggestion string
	Available  []string
}

func (e *ColumnError) Error() string {
	msg := fmt.Sprintf("column %q not found", e.Name)
	if e.Suggestion != "" {
		msg += fmt.Sprintf(" (did you mean %q?)", e.Suggestion)
	}
	return msg + fmt.Sprintf("; available columns: %s", strings.Join(e.Available, ", "))
}

// QueryError is raised by table methods on invalid arguments.
type QueryError struct {
	Op     string
	Reason string
}

func (e *QueryError) Error() string {
	return fmt.Sprintf("%s: %s", e.Op, e.Reason)
}

func newTable(names []string, cols [][]float64, index []string) *Table {
	lookup := make(map[string]int, len(names))
	for i, n := range names {
		lookup[n] = i
	}
	return &Table{names: names, lookup: lookup, cols: cols, index: index}
}

// NewTable builds a table from named columns. All columns must be the same length
// and names must be unique.
func NewTable(names []string, cols [][]float64) (*Table, error) {
	if len(names) != len(cols) {
		return nil, fmt.Errorf("got %d names for %d columns", len(names), len(cols))
	}
	if dup := lo.FindDuplicates(names); len(dup) > 0 {
		return nil, fmt.Errorf("duplicate column names: %v", dup)
	}
	for i := range cols {
		if len(cols[i]) != len(cols[0]) {
			return nil, fmt.Errorf("column %s has %d rows, expected %d", names[i], len(cols[i]), len(cols[0]))
		}
	}
	return newTable(append([]string(nil), names...), cols, nil), nil
}

func (t *Table) withSource(kind SourceKind, origin string) *Table {
	t.kind = kind
	t.origin = origin
	return t
}

func (t *Table) SourceKind() SourceKind { return t.kind }

func (t *Table) Origin() string { return t.origin }

func (t *Table) IsDemo() bool { return t.kind == SourceSynthetic }

func (t *Table) Rows() int {
	if len(t.cols) == 0 {
		return 0
	}
	return len(t.cols[0])
}

func (t *Table) Columns() []string {
	return append([]string(nil), t.names...)
}

// Resolve maps a user-supplied column reference to the table's spelling:
// exact match first, then case-insensitive.
func (t *Table) Resolve(name string) (string, error) {
	if _, ok := t.lookup[name]; ok {
		return name, nil
	}
	for _, n := range t.names {
		if strings.EqualFold(n, strings.TrimSpace(name)) {
			return n, nil
		}
	}
	return "", &ColumnError{Name: name, Suggestion: suggest(name, t.names), Available: t.Columns()}
}

func suggest(name string, candidates []string) string {
	ranks := fuzzy.RankFindNormalizedFold(name, candidates)
	if len(ranks) == 0 {
		return ""
	}
	sort.Sort(ranks)
	return ranks[0].Target
}

func (t *Table) mustColumn(name string) (string, []float64) {
	resolved, err := t.Resolve(name)
	if err != nil {
		panic(err)
	}
	return resolved, t.cols[t.lookup[resolved]]
}

func (t *Table) rowLabel(i int) string {
	if t.index == nil {
		return strconv.Itoa(i)
	}
	return t.index[i]
}

func (t *Table) take(rows []int) *Table {
	cols := make([][]float64, len(t.cols))
	for c := range t.cols {
		col := make([]float64, len(rows))
		for i, r := range rows {
			col[i] = t.cols[c][r]
		}
		cols[c] = col
	}
	index := lo.Map(rows, func(r int, _ int) string { return t.rowLabel(r) })
	return newTable(t.names, cols, index).withSource(t.kind, t.origin)
}

// Col returns one column as a labeled series.
func (t *Table) Col(name string) *Series {
	resolved, values := t.mustColumn(name)
	labels := make([]string, len(values))
	for i := range values {
		labels[i] = t.rowLabel(i)
	}
	return &Series{name: resolved, labels: labels, values: values}
}

func (t *Table) Head(n int) *Table {
	if n < 0 {
		n = 0
	}
	return t.take(lo.Range(min(n, t.Rows())))
}

func (t *Table) Tail(n int) *Table {
	if n < 0 {
		n = 0
	}
	n = min(n, t.Rows())
	return t.take(lo.RangeFrom(t.Rows()-n, n))
}

func (t *Table) Select(names ...string) *Table {
	if len(names) == 0 {
		panic(&QueryError{Op: "Select", Reason: "at least one column is required"})
	}
	resolved := make([]string, len(names))
	cols := make([][]float64, len(names))
	for i, n := range names {
		resolved[i], cols[i] = t.mustColumn(n)
	}
	if dup := lo.FindDuplicates(resolved); len(dup) > 0 {
		panic(&QueryError{Op: "Select", Reason: fmt.Sprintf("duplicate columns %v", dup)})
	}
	return newTable(resolved, cols, t.index).withSource(t.kind, t.origin)
}

// Where keeps the rows whose column compares true against value.
// Supported operators: == != > >= < <=.
func (t *Table) Where(column, op string, value float64) *Table {
	_, values := t.mustColumn(column)
	cmp, err := comparator(op)
	if err != nil {
		panic(err)
	}
	var rows []int
	for i, v := range values {
		if cmp(v, value) {
			rows = append(rows, i)
		}
	}
	return t.take(rows)
}

func comparator(op string) (func(a, b float64) bool, error) {
	switch strings.TrimSpace(op) {
	case "==", "=":
		return func(a, b float64) bool { return a == b }, nil
	case "!=":
		return func(a, b float64) bool { return a != b }, nil
	case ">":
		return func(a, b float64) bool { return a > b }, nil
	case ">=":
		return func(a, b float64) bool { return a >= b }, nil
	case "<":
		return func(a, b float64) bool { return a < b }, nil
	case "<=":
		return func(a, b float64) bool { return a <= b }, nil
	}
	return nil, &QueryError{Op: "Where", Reason: fmt.Sprintf("unsupported operator %q", op)}
}

func (t *Table) Sort(column string, ascending bool) *Table {
	_, values := t.mustColumn(column)
	rows := lo.Range(len(values))
	sort.SliceStable(rows, func(i, j int) bool {
		if ascending {
			return values[rows[i]] < values[rows[j]]
		}
		return values[rows[i]] > values[rows[j]]
	})
	return t.take(rows)
}

var describeRows = []string{"count", "mean", "std", "min", "25%", "50%", "75%", "max"}

// Describe summarises every column the way a dataframe describe() does.
func (t *Table) Describe() *Table {
	cols := make([][]float64, len(t.names))
	for c, values := range t.cols {
		s := &Series{values: values}
		cols[c] = []float64{
			float64(s.Count()), s.Mean(), s.Std(), s.Min(),
			s.Quantile(0.25), s.Quantile(0.5), s.Quantile(0.75), s.Max(),
		}
	}
	return newTable(t.names, cols, describeRows).withSource(t.kind, t.origin)
}

// GroupBy aggregates column by the distinct values of key.
// agg is one of mean, sum, count, min, max, median, std.
func (t *Table) GroupBy(key, column, agg string) *Series {
	keyName, keys := t.mustColumn(key)
	colName, values := t.mustColumn(column)

	groups := map[float64][]float64{}
	for i, k := range keys {
		groups[k] = append(groups[k], values[i])
	}
	distinct := lo.Keys(groups)
	sort.Float64s(distinct)

	out := &Series{name: fmt.Sprintf("%s %s by %s", colName, agg, keyName)}
	for _, k := range distinct {
		v, err := aggregate(&Series{values: groups[k]}, agg)
		if err != nil {
			panic(err)
		}
		out.labels = append(out.labels, formatNumber(k))
		out.values = append(out.values, v)
	}
	return out
}

func aggregate(s *Series, agg string) (float64, error) {
	switch strings.ToLower(agg) {
	case "mean", "avg":
		return s.Mean(), nil
	case "sum":
		return s.Sum(), nil
	case "count":
		return float64(s.Count()), nil
	case "min":
		return s.Min(), nil
	case "max":
		return s.Max(), nil
	case "median":
		return s.Median(), nil
	case "std":
		return s.Std(), nil
	}
	return 0, &QueryError{Op: "GroupBy", Reason: fmt.Sprintf("unsupported aggregation %q", agg)}
}

// Corr is the Pearson correlation of two columns.
func (t *Table) Corr(a, b string) float64 {
	_, xs := t.mustColumn(a)
	_, ys := t.mustColumn(b)
	if len(xs) < 2 {
		return math.NaN()
	}
	mx, my := mean(xs), mean(ys)
	var sxy, sxx, syy float64
	for i := range xs {
		dx, dy := xs[i]-mx, ys[i]-my
		sxy += dx * dy
		sxx += dx * dx
		syy += dy * dy
	}
	if sxx == 0 || syy == 0 {
		return math.NaN()
	}
	return sxy / math.Sqrt(sxx*syy)
}

func (t *Table) ValueCounts(column string) *Series {
	return t.Col(column).ValueCounts()
}

// ClassCounts returns the number of rows per label value, in LabelValues order.
func (t *Table) ClassCounts() []int {
	_, labels := t.mustColumn(ColumnClass)
	counts := make([]int, len(LabelValues))
	for _, v := range labels {
		if i := lo.IndexOf(LabelValues, v); i >= 0 {
			counts[i]++
		}
	}
	return counts
}

// Series is a labeled sequence of values.
type Series struct {
	name   string
	labels []string
	values []float64
}

func NewSeries(name string, labels []string, values []float64) *Series {
	return &Series{name: name, labels: labels, values: values}
}

func (s *Series) Name() string { return s.name }

func (s *Series) Len() int { return len(s.values) }

func (s *Series) Labels() []string { return append([]string(nil), s.labels...) }

func (s *Series) Values() []float64 { return append([]float64(nil), s.values...) }

func (s *Series) At(i int) float64 {
	if i < 0 || i >= len(s.values) {
		panic(&QueryError{Op: "At", Reason: fmt.Sprintf("index %d out of range [0,%d)", i, len(s.values))})
	}
	return s.values[i]
}

func (s *Series) Count() int { return len(s.values) }

func (s *Series) Sum() float64 { return lo.Sum(s.values) }

func (s *Series) Mean() float64 { return mean(s.values) }

func (s *Series) Min() float64 {
	if len(s.values) == 0 {
		return math.NaN()
	}
	return lo.Min(s.values)
}

func (s *Series) Max() float64 {
	if len(s.values) == 0 {
		return math.NaN()
	}
	return lo.Max(s.values)
}

// Std is the sample standard deviation (n-1 denominator).
func (s *Series) Std() float64 {
	n := len(s.values)
	if n < 2 {
		return math.NaN()
	}
	m := mean(s.values)
	var ss float64
	for _, v := range s.values {
		ss += (v - m) * (v - m)
	}
	return math.Sqrt(ss / float64(n-1))
}

func (s *Series) Median() float64 { return s.Quantile(0.5) }

// Quantile uses linear interpolation between closest ranks.
func (s *Series) Quantile(q float64) float64 {
	if q < 0 || q > 1 {
		panic(&QueryError{Op: "Quantile", Reason: fmt.Sprintf("q must be within [0,1], got %v", q)})
	}
	if len(s.values) == 0 {
		return math.NaN()
	}
	sorted := append([]float64(nil), s.values...)
	sort.Float64s(sorted)
	pos := q * float64(len(sorted)-1)
	lower := int(math.Floor(pos))
	upper := int(math.Ceil(pos))
	frac := pos - float64(lower)
	return sorted[lower] + (sorted[upper]-sorted[lower])*frac
}

func (s *Series) Head(n int) *Series {
	n = max(0, min(n, len(s.values)))
	return &Series{name: s.name, labels: s.labels[:n], values: s.values[:n]}
}

// ValueCounts counts distinct values, most frequent first.
func (s *Series) ValueCounts() *Series {
	counts := map[float64]int{}
	for _, v := range s.values {
		counts[v]++
	}
	distinct := lo.Keys(counts)
	sort.Slice(distinct, func(i, j int) bool {
		if counts[distinct[i]] != counts[distinct[j]] {
			return counts[distinct[i]] > counts[distinct[j]]
		}
		return distinct[i] < distinct[j]
	})
	return &Series{
		name:   s.name,
		labels: lo.Map(distinct, func(v float64, _ int) string { return formatNumber(v) }),
		values: lo.Map(distinct, func(v float64, _ int) float64 { return float64(counts[v]) }),
	}
}

func mean(values []float64) float64 {
	if len(values) == 0 {
		return math.NaN()
	}
	return lo.Sum(values) / float64(len(values))
}
