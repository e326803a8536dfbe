package chart

import (
	"errors"
	"fmt"
	"image/color"
	"path/filepath"
	"strings"

	"github.com/shaneisley/sigmashift/pkg/shift"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"
	"gonum.org/v1/plot/vg/draw"
)

// Default image size
const (
	Width  = 8 * vg.Inch
	Height = 5 * vg.Inch
)

var (
	highColor     = color.RGBA{R: 214, G: 39, B: 40, A: 255}
	lowColor      = color.RGBA{R: 31, G: 119, B: 180, A: 255}
	boundaryColor = color.RGBA{R: 127, G: 127, B: 127, A: 255}
)

var supportedExtensions = map[string]bool{
	".png": true,
	".svg": true,
	".pdf": true,
	".jpg": true,
}

// Plot builds the sigma chart of a split result. The high stage and the
// low stage are drawn as separate series meeting at the boundary sigma.
func Plot(result *shift.Result, title string) (*plot.Plot, error) {
	if result == nil || len(result.Full) == 0 {
		return nil, errors.New("no sigmas to plot")
	}
	if len(result.High) == 0 || len(result.Low) == 0 {
		return nil, errors.New("result has not been split")
	}

	p := plot.New()
	if title == "" {
		title = fmt.Sprintf("Shift %.2f", result.Shift)
	}
	p.Title.Text = title
	p.X.Label.Text = "Step"
	p.Y.Label.Text = "Sigma"
	p.Y.Min = 0
	p.Y.Max = 1
	p.X.Min = 0
	p.X.Max = float64(len(result.Full) - 1)
	p.Add(plotter.NewGrid())

	highLine, highPoints, err := plotter.NewLinePoints(stagePoints(result.High, 0))
	if err != nil {
		return nil, fmt.Errorf("high stage: %w", err)
	}
	highLine.Color = highColor
	highLine.Width = vg.Points(1.5)
	highPoints.Color = highColor
	highPoints.Shape = draw.CircleGlyph{}

	lowLine, lowPoints, err := plotter.NewLinePoints(stagePoints(result.Low, result.StepsHigh))
	if err != nil {
		return nil, fmt.Errorf("low stage: %w", err)
	}
	lowLine.Color = lowColor
	lowLine.Width = vg.Points(1.5)
	lowPoints.Color = lowColor
	lowPoints.Shape = draw.CircleGlyph{}

	boundarySigma := result.BoundarySigma()
	boundary := plotter.NewFunction(func(float64) float64 { return boundarySigma })
	boundary.Color = boundaryColor
	boundary.Dashes = []vg.Length{vg.Points(4), vg.Points(3)}

	p.Add(boundary, highLine, highPoints, lowLine, lowPoints)
	p.Legend.Add(fmt.Sprintf("high (%d steps)", result.StepsHigh), highLine, highPoints)
	p.Legend.Add(fmt.Sprintf("low (%d steps)", result.StepsLow), lowLine, lowPoints)
	p.Legend.Add(fmt.Sprintf("boundary %.4f", boundarySigma), boundary)
	p.Legend.Top = true
	p.Legend.XOffs = -10
	p.Legend.YOffs = -10

	return p, nil
}

// Render writes the chart to path. The image format follows the file
// extension.
func Render(path string, result *shift.Result, title string) error {
	ext := strings.ToLower(filepath.Ext(path))
	if !supportedExtensions[ext] {
		return fmt.Errorf("unsupported chart format %q (use .png, .svg, .pdf or .jpg)", ext)
	}

	p, err := Plot(result, title)
	if err != nil {
		return err
	}
	if err := p.Save(Width, Height, path); err != nil {
		return fmt.Errorf("save chart: %w", err)
	}
	return nil
}

func stagePoints(sigmas []float64, offset int) plotter.XYs {
	pts := make(plotter.XYs, len(sigmas))
	for i, s := range sigmas {
		pts[i] = plotter.XY{X: float64(offset + i), Y: s}
	}
	return pts
}
