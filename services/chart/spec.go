package chart

import (
	"errors"
	"fmt"
	"strings"

	"fraudchat/services/dataset"

	"github.com/samber/lo"
)

type Kind string

const (
	KindHistogram Kind = "histogram"
	KindBox       Kind = "box"
	KindScatter   Kind = "scatter"
	KindBar       Kind = "bar"
	KindPie       Kind = "pie"
	KindLine      Kind = "line"
	KindArea      Kind = "area"
)

var Kinds = []Kind{KindHistogram, KindBox, KindScatter, KindBar, KindPie, KindLine, KindArea}

var kindAliases = map[string]Kind{
	"hist":    KindHistogram,
	"boxplot": KindBox,
}

// ParseKind accepts a kind name case-insensitively, including short aliases.
func ParseKind(name string) (Kind, bool) {
	name = strings.ToLower(strings.TrimSpace(name))
	if k, ok := kindAliases[name]; ok {
		return k, true
	}
	k := Kind(name)
	return k, lo.Contains(Kinds, k)
}

// Spec is a validated chart request. The set of implementations is closed;
// NewSpec builds one from untrusted input.
type Spec interface {
	Kind() Kind
	Columns() []string
	spec()
}

type Histogram struct{ Column string }

type Box struct{ Column string }

type Scatter struct{ X, Y string }

// Bar and Pie plot row counts per label value.
type Bar struct{}

type Pie struct{}

type Line struct{ X, Y string }

type Area struct{ X, Y string }

func (Histogram) Kind() Kind { return KindHistogram }
func (Box) Kind() Kind       { return KindBox }
func (Scatter) Kind() Kind   { return KindScatter }
func (Bar) Kind() Kind       { return KindBar }
func (Pie) Kind() Kind       { return KindPie }
func (Line) Kind() Kind      { return KindLine }
func (Area) Kind() Kind      { return KindArea }

func (s Histogram) Columns() []string { return []string{s.Column} }
func (s Box) Columns() []string       { return []string{s.Column} }
func (s Scatter) Columns() []string   { return []string{s.X, s.Y} }
func (Bar) Columns() []string         { return []string{dataset.ColumnClass} }
func (Pie) Columns() []string         { return []string{dataset.ColumnClass} }
func (s Line) Columns() []string      { return []string{s.X, s.Y} }
func (s Area) Columns() []string      { return []string{s.X, s.Y} }

func (Histogram) spec() {}
func (Box) spec()       {}
func (Scatter) spec()   {}
func (Bar) spec()       {}
func (Pie) spec()       {}
func (Line) spec()      {}
func (Area) spec()      {}

// RenderError rejects a chart request before anything is drawn, or reports a
// drawing failure. It carries the request and the columns that were available.
type RenderError struct {
	Kind         string
	Columns      []string
	Reason       string
	ValidColumns []string
}

func (e *RenderError) Error() string {
	msg := fmt.Sprintf("invalid chart %q with columns %v: %s", e.Kind, e.Columns, e.Reason)
	if len(e.ValidColumns) > 0 {
		msg += fmt.Sprintf("; available columns: %s", strings.Join(e.ValidColumns, ", "))
	}
	return msg
}

type kindRule struct {
	columns     int
	labelColumn bool
	build       func(cols []string) Spec
}

var rules = map[Kind]kindRule{
	KindHistogram: {columns: 1, build: func(c []string) Spec { return Histogram{Column: c[0]} }},
	KindBox:       {columns: 1, build: func(c []string) Spec { return Box{Column: c[0]} }},
	KindScatter:   {columns: 2, build: func(c []string) Spec { return Scatter{X: c[0], Y: c[1]} }},
	KindBar:       {columns: 1, labelColumn: true, build: func([]string) Spec { return Bar{} }},
	KindPie:       {columns: 1, labelColumn: true, build: func([]string) Spec { return Pie{} }},
	KindLine:      {columns: 2, build: func(c []string) Spec { return Line{X: c[0], Y: c[1]} }},
	KindArea:      {columns: 2, build: func(c []string) Spec { return Area{X: c[0], Y: c[1]} }},
}

// NewSpec validates kind, column count, column existence and label identity
// against table and returns the matching Spec.
func NewSpec(table *dataset.Table, kind string, columns []string) (Spec, error) {
	fail := func(reason string) (Spec, error) {
		var valid []string
		if table != nil {
			valid = table.Columns()
		}
		return nil, &RenderError{Kind: kind, Columns: columns, Reason: reason, ValidColumns: valid}
	}

	if table == nil {
		return fail("no table loaded")
	}

	k, ok := ParseKind(kind)
	if !ok {
		names := lo.Map(Kinds, func(k Kind, _ int) string { return string(k) })
		return fail(fmt.Sprintf("unknown chart kind, expected one of %s", strings.Join(names, ", ")))
	}

	rule := rules[k]
	if len(columns) != rule.columns {
		return fail(fmt.Sprintf("%s chart needs %d column(s), got %d", k, rule.columns, len(columns)))
	}

	resolved := make([]string, len(columns))
	for i, c := range columns {
		name, err := table.Resolve(c)
		var colErr *dataset.ColumnError
		if errors.As(err, &colErr) {
			reason := fmt.Sprintf("unknown column %q", c)
			if colErr.Suggestion != "" {
				reason += fmt.Sprintf(" (did you mean %q?)", colErr.Suggestion)
			}
			return fail(reason)
		}
		resolved[i] = name
	}

	if rule.labelColumn && resolved[0] != dataset.ColumnClass {
		return fail(fmt.Sprintf("%s chart must use the label column %s", k, dataset.ColumnClass))
	}

	return rule.build(resolved), nil
}
