// Package chart validates chart requests and renders them to PNG.
package chart

import (
	"bytes"
	"fmt"
	"image/color"
	"sync"

	"fraudchat/services/dataset"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"
	"gonum.org/v1/plot/vg/draw"
	"gonum.org/v1/plot/vg/vgimg"
)

const histogramBins = 50

var (
	normalColor = color.RGBA{R: 0x66, G: 0xb3, B: 0xff, A: 0xff}
	fraudColor  = color.RGBA{R: 0xff, G: 0x99, B: 0x99, A: 0xff}
	areaColor   = color.RGBA{R: 0x87, G: 0xce, B: 0xeb, A: 0x66}
	lineColor   = color.RGBA{R: 0x6a, G: 0x5a, B: 0xcd, A: 0x99}
)

var classNames = []string{"0 (Normal)", "1 (Fraud)"}

// Image is an encoded chart.
type Image struct {
	PNG   []byte
	Kind  Kind
	Title string
}

type Renderer struct {
	width  vg.Length
	height vg.Length
	pool   sync.Pool
}

func NewRenderer() *Renderer {
	return &Renderer{
		width:  10 * vg.Inch,
		height: 6 * vg.Inch,
		pool:   sync.Pool{New: func() any { return new(bytes.Buffer) }},
	}
}

// Render validates the request and draws it. Validation failures and drawing
// failures are both *RenderError.
func (r *Renderer) Render(table *dataset.Table, kind string, columns []string, title string) (*Image, error) {
	spec, err := NewSpec(table, kind, columns)
	if err != nil {
		return nil, err
	}
	return r.RenderSpec(table, spec, title)
}

func (r *Renderer) RenderSpec(table *dataset.Table, spec Spec, title string) (img *Image, err error) {
	fail := func(reason string) (*Image, error) {
		return nil, &RenderError{Kind: string(spec.Kind()), Columns: spec.Columns(), Reason: reason, ValidColumns: table.Columns()}
	}

	defer func() {
		if rec := recover(); rec != nil {
			img, err = fail(fmt.Sprintf("drawing failed: %v", rec))
		}
	}()

	p := plot.New()
	if err := plotSpec(p, table, spec); err != nil {
		return fail(err.Error())
	}
	if title != "" {
		p.Title.Text = title + "\n" + p.Title.Text
	}

	s := r.acquire()
	defer r.release(s)

	p.Draw(draw.New(s.canvas))
	if _, err := (vgimg.PngCanvas{Canvas: s.canvas}).WriteTo(s.buf); err != nil {
		return fail(fmt.Sprintf("failed to encode png: %v", err))
	}

	return &Image{PNG: bytes.Clone(s.buf.Bytes()), Kind: spec.Kind(), Title: title}, nil
}

// surface is the raster and encode buffer for one render.
type surface struct {
	canvas *vgimg.Canvas
	buf    *bytes.Buffer
}

func (r *Renderer) acquire() *surface {
	buf := r.pool.Get().(*bytes.Buffer)
	buf.Reset()
	return &surface{canvas: vgimg.New(r.width, r.height), buf: buf}
}

func (r *Renderer) release(s *surface) {
	s.canvas = nil
	s.buf.Reset()
	r.pool.Put(s.buf)
	s.buf = nil
}

func plotSpec(p *plot.Plot, table *dataset.Table, spec Spec) error {
	switch s := spec.(type) {
	case Histogram:
		return plotHistogram(p, table, s)
	case Box:
		return plotBox(p, table, s)
	case Scatter:
		return plotScatter(p, table, s)
	case Bar:
		return plotBar(p, table)
	case Pie:
		return plotPie(p, table)
	case Line:
		return plotLine(p, table, s.X, s.Y, false)
	case Area:
		return plotLine(p, table, s.X, s.Y, true)
	}
	return fmt.Errorf("unhandled chart kind %s", spec.Kind())
}

func plotHistogram(p *plot.Plot, table *dataset.Table, s Histogram) error {
	h, err := plotter.NewHist(plotter.Values(table.Col(s.Column).Values()), histogramBins)
	if err != nil {
		return err
	}
	h.FillColor = normalColor

	p.Add(h)
	p.Title.Text = fmt.Sprintf("Histogram of %s", s.Column)
	p.X.Label.Text = s.Column
	p.Y.Label.Text = "Frequency"
	return nil
}

func splitByClass(table *dataset.Table, column string) [][]float64 {
	values := table.Col(column).Values()
	labels := table.Col(dataset.ColumnClass).Values()
	groups := make([][]float64, len(dataset.LabelValues))
	for i, v := range values {
		for g, label := range dataset.LabelValues {
			if labels[i] == label {
				groups[g] = append(groups[g], v)
			}
		}
	}
	return groups
}

func plotBox(p *plot.Plot, table *dataset.Table, s Box) error {
	for g, values := range splitByClass(table, s.Column) {
		if len(values) == 0 {
			continue
		}
		box, err := plotter.NewBoxPlot(vg.Points(60), float64(g), plotter.Values(values))
		if err != nil {
			return err
		}
		box.FillColor = classColor(g)
		p.Add(box)
	}

	p.NominalX(classNames...)
	p.Title.Text = fmt.Sprintf("Boxplot of %s by Class (0=Normal, 1=Fraud)", s.Column)
	p.X.Label.Text = "Class"
	p.Y.Label.Text = s.Column
	return nil
}

func xys(table *dataset.Table, x, y string) plotter.XYs {
	xs := table.Col(x).Values()
	ys := table.Col(y).Values()
	pts := make(plotter.XYs, len(xs))
	for i := range xs {
		pts[i].X = xs[i]
		pts[i].Y = ys[i]
	}
	return pts
}

func plotScatter(p *plot.Plot, table *dataset.Table, s Scatter) error {
	pts := xys(table, s.X, s.Y)
	labels := table.Col(dataset.ColumnClass).Values()

	for g, label := range dataset.LabelValues {
		var group plotter.XYs
		for i, pt := range pts {
			if labels[i] == label {
				group = append(group, pt)
			}
		}
		if len(group) == 0 {
			continue
		}
		sc, err := plotter.NewScatter(group)
		if err != nil {
			return err
		}
		sc.GlyphStyle.Color = classColor(g)
		sc.GlyphStyle.Shape = draw.CircleGlyph{}
		sc.GlyphStyle.Radius = vg.Points(2)
		p.Add(sc)
		p.Legend.Add(classNames[g], sc)
	}

	p.Title.Text = fmt.Sprintf("%s vs %s (colored by Class)", s.X, s.Y)
	p.X.Label.Text = s.X
	p.Y.Label.Text = s.Y
	return nil
}

func plotBar(p *plot.Plot, table *dataset.Table) error {
	for g, count := range table.ClassCounts() {
		bar, err := plotter.NewBarChart(plotter.Values{float64(count)}, vg.Points(80))
		if err != nil {
			return err
		}
		bar.XMin = float64(g)
		bar.Color = classColor(g)
		p.Add(bar)
	}

	p.NominalX(classNames...)
	p.Title.Text = "Transactions per Class"
	p.X.Label.Text = "Class (0=Normal, 1=Fraud)"
	p.Y.Label.Text = "Count"
	return nil
}

func plotPie(p *plot.Plot, table *dataset.Table) error {
	counts := table.ClassCounts()
	values := make([]float64, len(counts))
	for i, c := range counts {
		values[i] = float64(c)
	}

	p.Add(pieChart{
		values: values,
		labels: []string{"Normal", "Fraud"},
		colors: []color.Color{normalColor, fraudColor},
	})
	p.HideAxes()
	p.Title.Text = "Transaction distribution (Normal vs. Fraud)"
	return nil
}

func plotLine(p *plot.Plot, table *dataset.Table, x, y string, fill bool) error {
	line, err := plotter.NewLine(xys(table, x, y))
	if err != nil {
		return err
	}

	if fill {
		line.FillColor = areaColor
		line.LineStyle.Color = lineColor
		p.Title.Text = fmt.Sprintf("Area chart of %s vs %s", x, y)
	} else {
		p.Title.Text = fmt.Sprintf("Line chart of %s vs %s", x, y)
	}

	p.Add(line)
	p.X.Label.Text = x
	p.Y.Label.Text = y
	return nil
}

func classColor(g int) color.Color {
	if g == 0 {
		return normalColor
	}
	return fraudColor
}
