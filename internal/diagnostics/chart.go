package diagnostics

import (
	"fmt"
	"math"
	"strings"
)

// chart geometry in SVG user units
const (
	chartWidth  = 640
	chartHeight = 220
	chartPad    = 40
)

// lineChart is a single series rendered as an SVG polyline
type lineChart struct {
	Title     string
	YLabel    string
	Points    string // "x,y x,y ..."
	Marker    float64
	HasMarker bool
	XTicks    []tick
	YTicks    []tick
	Width     int
	Height    int
	Pad       int
}

type tick struct {
	Pos   float64
	Label string
}

type extent struct{ lo, hi float64 }

func extentOf(vs []float64) extent {
	e := extent{lo: math.Inf(1), hi: math.Inf(-1)}
	for _, v := range vs {
		e.lo = math.Min(e.lo, v)
		e.hi = math.Max(e.hi, v)
	}
	if len(vs) == 0 {
		return extent{0, 1}
	}
	if e.hi == e.lo {
		e.lo -= 0.5
		e.hi += 0.5
	}
	return e
}

func (e extent) scale(v, from, to float64) float64 {
	return from + (v-e.lo)/(e.hi-e.lo)*(to-from)
}

// newLineChart plots ys against xs; marker draws a vertical line at that x
func newLineChart(title, ylabel string, xs, ys []float64, marker *float64) lineChart {
	xe, ye := extentOf(xs), extentOf(ys)
	left, right := float64(chartPad), float64(chartWidth-chartPad/2)
	top, bottom := float64(chartPad/2), float64(chartHeight-chartPad)

	var b strings.Builder
	for i := range xs {
		if i > 0 {
			b.WriteByte(' ')
		}
		fmt.Fprintf(&b, "%.1f,%.1f", xe.scale(xs[i], left, right), ye.scale(ys[i], bottom, top))
	}

	c := lineChart{
		Title:  title,
		YLabel: ylabel,
		Points: b.String(),
		Width:  chartWidth,
		Height: chartHeight,
		Pad:    chartPad,
	}
	if marker != nil {
		c.Marker = xe.scale(*marker, left, right)
		c.HasMarker = true
	}
	for i := 0; i <= 4; i++ {
		xv := xe.lo + float64(i)/4*(xe.hi-xe.lo)
		yv := ye.lo + float64(i)/4*(ye.hi-ye.lo)
		c.XTicks = append(c.XTicks, tick{Pos: xe.scale(xv, left, right), Label: formatTick(xv)})
		c.YTicks = append(c.YTicks, tick{Pos: ye.scale(yv, bottom, top), Label: formatTick(yv)})
	}
	return c
}

func formatTick(v float64) string {
	if math.Abs(v) >= 100 {
		return fmt.Sprintf("%.0f", v)
	}
	return fmt.Sprintf("%.3g", v)
}
