// Package chart renders categorical series as PNG bar charts.
package chart

import (
	"errors"
	"io"

	gochart "github.com/wcharczuk/go-chart/v2"
	"github.com/wcharczuk/go-chart/v2/drawing"

	"github.com/chemdata-visualizer/client/internal/models"
)

// ErrEmptySeries is returned for a series without categories.
var ErrEmptySeries = errors.New("chart: series has no categories")

const (
	barWidth   = 40
	barSpacing = 24
	sidePad    = 120
)

// Options sizes the rendered chart. Zero values take the defaults.
type Options struct {
	Width  int
	Height int
	Title  string
}

func (o Options) withDefaults(s models.CategorySeries) Options {
	if o.Width <= 0 {
		o.Width = 800
	}
	if o.Height <= 0 {
		o.Height = 420
	}
	if o.Title == "" {
		o.Title = s.Label
	}
	// Grow so every bar fits
	if need := sidePad + s.Len()*(barWidth+barSpacing); need > o.Width {
		o.Width = need
	}
	return o
}

var barColor = drawing.Color{R: 99, G: 102, B: 241, A: 255}

// RenderBar draws one bar per category, in series order, as PNG.
func RenderBar(w io.Writer, s models.CategorySeries, opts Options) error {
	if s.Len() == 0 {
		return ErrEmptySeries
	}
	opts = opts.withDefaults(s)

	maxCount := 0
	bars := make([]gochart.Value, 0, s.Len())
	for i, cat := range s.Categories {
		count := 0
		if i < len(s.Counts) {
			count = s.Counts[i]
		}
		if count > maxCount {
			maxCount = count
		}
		bars = append(bars, gochart.Value{
			Label: cat,
			Value: float64(count),
			Style: gochart.Style{
				FillColor:   barColor.WithAlpha(180),
				StrokeColor: barColor,
				StrokeWidth: 1,
			},
		})
	}

	// go-chart rejects a zero-height range
	top := float64(maxCount)
	if top < 1 {
		top = 1
	}

	bc := gochart.BarChart{
		Title:      opts.Title,
		Background: gochart.Style{Padding: gochart.Box{Top: 48, Left: 16, Right: 16, Bottom: 16}},
		Width:      opts.Width,
		Height:     opts.Height,
		BarWidth:   barWidth,
		BarSpacing: barSpacing,
		YAxis: gochart.YAxis{
			Range: &gochart.ContinuousRange{Min: 0, Max: top * 1.1},
			ValueFormatter: func(v interface{}) string {
				if f, ok := v.(float64); ok {
					return gochart.IntValueFormatter(int(f + 0.5))
				}
				return ""
			},
		},
		Bars: bars,
	}
	return bc.Render(gochart.PNG, w)
}
