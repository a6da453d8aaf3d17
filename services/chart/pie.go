package chart

import (
	"fmt"
	"image/color"
	"math"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/text"
	"gonum.org/v1/plot/vg"
	"gonum.org/v1/plot/vg/draw"
)

// pieChart is a plot.Plotter for proportional slices. gonum/plot has no pie
// plotter of its own.
type pieChart struct {
	values []float64
	labels []string
	colors []color.Color
}

func (pc pieChart) Plot(c draw.Canvas, plt *plot.Plot) {
	var total float64
	for _, v := range pc.values {
		total += v
	}
	if total <= 0 {
		return
	}

	size := c.Rectangle.Size()
	radius := 0.45 * vg.Length(math.Min(float64(size.X), float64(size.Y)))
	center := c.Center()

	sty := plt.Title.TextStyle
	sty.XAlign = text.XCenter
	sty.YAlign = text.YCenter

	start := math.Pi / 2
	for i, v := range pc.values {
		if v == 0 {
			continue
		}
		sweep := 2 * math.Pi * v / total

		var slice vg.Path
		slice.Move(center)
		slice.Arc(center, radius, start, sweep)
		slice.Close()

		c.SetColor(pc.colors[i%len(pc.colors)])
		c.Fill(slice)

		mid := start + sweep/2
		at := vg.Point{
			X: center.X + 0.6*radius*vg.Length(math.Cos(mid)),
			Y: center.Y + 0.6*radius*vg.Length(math.Sin(mid)),
		}
		c.FillText(sty, at, fmt.Sprintf("%s\n%.1f%%", pc.labels[i], 100*v/total))

		start += sweep
	}
}
