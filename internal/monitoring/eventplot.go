package monitoring

import (
	"fmt"
	"image/color"
	"io"
	"path/filepath"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"
	"gonum.org/v1/plot/vg/draw"

	"github.com/banshee-data/eventcam/internal/events"
)

var (
	onColor  = color.RGBA{R: 220, G: 40, B: 40, A: 255}
	offColor = color.RGBA{R: 40, G: 80, B: 220, A: 255}
)

// EventPlot renders a window of polarity events as an x/y scatter plot,
// ON events in red and OFF events in blue. Width and Height fix the axis
// ranges to the sensor resolution; zero leaves them automatic.
type EventPlot struct {
	Title  string
	Width  int
	Height int
}

func (ep EventPlot) build(evts []events.PolarityEvent) (*plot.Plot, error) {
	p := plot.New()
	p.Title.Text = ep.Title
	if p.Title.Text == "" {
		p.Title.Text = fmt.Sprintf("%d events", len(evts))
	}
	p.X.Label.Text = "x"
	p.Y.Label.Text = "y"
	if ep.Width > 0 {
		p.X.Min, p.X.Max = 0, float64(ep.Width-1)
	}
	if ep.Height > 0 {
		p.Y.Min, p.Y.Max = 0, float64(ep.Height-1)
	}

	on := make(plotter.XYs, 0, len(evts))
	off := make(plotter.XYs, 0, len(evts))
	for _, e := range evts {
		pt := plotter.XY{X: float64(e.X), Y: float64(e.Y)}
		if e.Polarity {
			on = append(on, pt)
		} else {
			off = append(off, pt)
		}
	}

	for _, s := range []struct {
		name string
		pts  plotter.XYs
		c    color.Color
	}{{"on", on, onColor}, {"off", off, offColor}} {
		if len(s.pts) == 0 {
			continue
		}
		sc, err := plotter.NewScatter(s.pts)
		if err != nil {
			return nil, fmt.Errorf("failed to build %s scatter: %w", s.name, err)
		}
		sc.GlyphStyle.Color = s.c
		sc.GlyphStyle.Radius = vg.Points(1)
		sc.GlyphStyle.Shape = draw.CircleGlyph{}
		p.Add(sc)
		p.Legend.Add(s.name, sc)
	}
	return p, nil
}

// Save writes the plot to path. The image format follows the extension.
func (ep EventPlot) Save(path string, evts []events.PolarityEvent) error {
	p, err := ep.build(evts)
	if err != nil {
		return err
	}
	if err := p.Save(6*vg.Inch, 6*vg.Inch, filepath.Clean(path)); err != nil {
		return fmt.Errorf("failed to save event plot: %w", err)
	}
	return nil
}

// WritePNG writes the plot as a PNG image to w.
func (ep EventPlot) WritePNG(w io.Writer, evts []events.PolarityEvent) error {
	p, err := ep.build(evts)
	if err != nil {
		return err
	}
	wt, err := p.WriterTo(6*vg.Inch, 6*vg.Inch, "png")
	if err != nil {
		return err
	}
	_, err = wt.WriteTo(w)
	return err
}
