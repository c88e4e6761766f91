// Package chart renders grade-distribution images.
package chart

import (
	"bytes"
	"errors"
	"fmt"
	"image/color"

	"gonum.org/v1/gonum/stat/distuv"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"

	"github.com/hyperjump/saiten/internal/config"
)

// Renderer draws the distribution of a grade population as a PNG image:
// a density-normalized histogram of observed grades, the fitted normal curve,
// and optionally a vertical marker locating one highlighted value.
//
// Rendering is a pure function of its inputs; it never mutates the score set.
type Renderer struct {
	cfg      config.ChartConfig
	scoreMin float64
	scoreMax float64
}

// NewRenderer returns a Renderer. scoreMin and scoreMax pin the x-axis to the
// full admissible range so renderings stay visually comparable across
// students and across ingestions, whatever the observed min and max.
func NewRenderer(cfg config.ChartConfig, scoreMin, scoreMax float64) *Renderer {
	if cfg.Bins == 0 {
		cfg.Bins = 20
	}
	if cfg.WidthInches == 0 {
		cfg.WidthInches = 8
	}
	if cfg.HeightInches == 0 {
		cfg.HeightInches = 5
	}
	return &Renderer{cfg: cfg, scoreMin: scoreMin, scoreMax: scoreMax}
}

// Render produces PNG bytes for the given population. highlight, when
// non-nil, is marked with a vertical line; aggregate renderings pass nil and
// get no marker. values must be non-empty.
func (r *Renderer) Render(values []float64, mean, stddev float64, highlight *float64) ([]byte, error) {
	if len(values) == 0 {
		return nil, errors.New("no grade values to render")
	}

	p := plot.New()
	p.Title.Text = "Grade distribution"
	p.X.Label.Text = "Grade"
	p.Y.Label.Text = "Density"

	hist, err := plotter.NewHist(plotter.Values(values), r.cfg.Bins)
	if err != nil {
		return nil, fmt.Errorf("build histogram: %w", err)
	}
	hist.Normalize(1)
	hist.FillColor = color.RGBA{R: 123, G: 162, B: 219, A: 255}
	p.Add(hist)

	top := histPeak(hist)
	if stddev > 0 {
		dist := distuv.Normal{Mu: mean, Sigma: stddev}
		curve := plotter.NewFunction(dist.Prob)
		curve.Samples = 200
		curve.Width = vg.Points(2)
		curve.Color = color.RGBA{R: 40, G: 40, B: 40, A: 255}
		p.Add(curve)
		if peak := dist.Prob(mean); peak > top {
			top = peak
		}
	}

	if highlight != nil {
		marker, err := plotter.NewLine(plotter.XYs{
			{X: *highlight, Y: 0},
			{X: *highlight, Y: top * 1.05},
		})
		if err != nil {
			return nil, fmt.Errorf("build highlight marker: %w", err)
		}
		marker.Color = color.RGBA{R: 200, G: 40, B: 40, A: 255}
		marker.Width = vg.Points(2)
		marker.Dashes = []vg.Length{vg.Points(5), vg.Points(3)}
		p.Add(marker)
	}

	p.X.Min, p.X.Max = r.scoreMin, r.scoreMax
	p.Y.Min = 0

	wt, err := p.WriterTo(
		vg.Length(r.cfg.WidthInches)*vg.Inch,
		vg.Length(r.cfg.HeightInches)*vg.Inch,
		"png",
	)
	if err != nil {
		return nil, fmt.Errorf("render png: %w", err)
	}
	var buf bytes.Buffer
	if _, err := wt.WriteTo(&buf); err != nil {
		return nil, fmt.Errorf("write png: %w", err)
	}
	return buf.Bytes(), nil
}

func histPeak(hist *plotter.Histogram) float64 {
	var peak float64
	for _, bin := range hist.Bins {
		if bin.Weight > peak {
			peak = bin.Weight
		}
	}
	return peak
}
