package render

import (
	"bytes"
	"errors"
	"fmt"
	"image/color"
	"math"
	"os"
	"sync"

	"golang.org/x/image/font/opentype"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/font"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"
	"gonum.org/v1/plot/vg/draw"

	"github.com/couchcryptid/quake-loss-estimator/internal/domain"
)

// ErrNothingToChart is returned for an empty loss table.
var ErrNothingToChart = errors.New("no unit losses to chart")

// ChartOptions control the bar chart.
type ChartOptions struct {
	// FontPath is an optional TTF/OTF file used for every label, needed
	// when unit codes contain CJK characters.
	FontPath string
	// Title and axis labels override the defaults from chartLabels.
	Title  string
	XLabel string
	YLabel string
	Height vg.Length
}

// chartLabels returns the title and axis labels. Chinese labels need a CJK
// font, so the built-in font gets English ones.
func chartLabels(opts ChartOptions) (title, x, y string) {
	if opts.FontPath != "" {
		title, x, y = "各评估单元建筑物损失", "评估单元", "损失（万元）"
	} else {
		title, x, y = "Loss by assessment unit", "unit", "loss (10k CNY)"
	}
	if opts.Title != "" {
		title = opts.Title
	}
	if opts.XLabel != "" {
		x = opts.XLabel
	}
	if opts.YLabel != "" {
		y = opts.YLabel
	}
	return title, x, y
}

var barColor = color.RGBA{R: 0xFC, G: 0x4E, B: 0x2A, A: 0xFF}

var (
	fontMu     sync.Mutex
	fontLoaded = map[string]font.Font{}
)

// loadFont registers the font at path in the plot font cache once and returns its handle.
func loadFont(path string) (font.Font, error) {
	fontMu.Lock()
	defer fontMu.Unlock()

	if f, ok := fontLoaded[path]; ok {
		return f, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return font.Font{}, fmt.Errorf("read font: %w", err)
	}
	face, err := opentype.Parse(data)
	if err != nil {
		return font.Font{}, fmt.Errorf("parse font: %w", err)
	}
	f := font.Font{Typeface: font.Typeface("custom-" + path)}
	font.DefaultCache.Add([]font.Face{{Font: f, Face: face}})
	fontLoaded[path] = f
	return f, nil
}

// LossChart draws one bar per unit with the loss printed above it and
// returns the PNG bytes.
func LossChart(units []domain.UnitLoss, opts ChartOptions) ([]byte, error) {
	if len(units) == 0 {
		return nil, ErrNothingToChart
	}

	p := plot.New()
	p.Title.Text, p.X.Label.Text, p.Y.Label.Text = chartLabels(opts)

	if opts.FontPath != "" {
		f, err := loadFont(opts.FontPath)
		if err != nil {
			return nil, err
		}
		for _, st := range []*font.Font{
			&p.Title.TextStyle.Font, &p.X.Label.TextStyle.Font, &p.Y.Label.TextStyle.Font,
			&p.X.Tick.Label.Font, &p.Y.Tick.Label.Font,
		} {
			size := st.Size
			*st = f
			st.Size = size
		}
	}

	values := make(plotter.Values, len(units))
	names := make([]string, len(units))
	maxLoss := 0.0
	for i, u := range units {
		values[i] = u.Loss
		names[i] = u.Code
		maxLoss = math.Max(maxLoss, u.Loss)
	}

	bars, err := plotter.NewBarChart(values, vg.Points(18))
	if err != nil {
		return nil, fmt.Errorf("build bar chart: %w", err)
	}
	bars.Color = barColor
	bars.LineStyle.Width = vg.Length(0)
	p.Add(bars)

	p.NominalX(names...)
	p.X.Tick.Label.Rotation = math.Pi / 4
	p.X.Tick.Label.XAlign = draw.XRight
	p.X.Tick.Label.YAlign = draw.YCenter

	xys := make(plotter.XYs, len(units))
	texts := make([]string, len(units))
	for i, v := range values {
		xys[i] = plotter.XY{X: float64(i), Y: v + maxLoss*0.02}
		texts[i] = fmt.Sprintf("%.1f", v)
	}
	labels, err := plotter.NewLabels(plotter.XYLabels{XYs: xys, Labels: texts})
	if err != nil {
		return nil, fmt.Errorf("build value labels: %w", err)
	}
	for i := range labels.TextStyle {
		labels.TextStyle[i].XAlign = draw.XCenter
	}
	p.Add(labels)

	p.Y.Min = 0
	if maxLoss > 0 {
		p.Y.Max = maxLoss * 1.12
	}

	width := vg.Length(math.Max(8, 0.4*float64(len(units)))) * vg.Inch
	height := opts.Height
	if height == 0 {
		height = 5 * vg.Inch
	}
	wt, err := p.WriterTo(width, height, "png")
	if err != nil {
		return nil, fmt.Errorf("render chart: %w", err)
	}
	var buf bytes.Buffer
	if _, err := wt.WriteTo(&buf); err != nil {
		return nil, fmt.Errorf("encode chart: %w", err)
	}
	return buf.Bytes(), nil
}
