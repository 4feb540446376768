package report

import (
	"fmt"
	"image/color"
	"time"

	"gonum.org/v1/gonum/stat"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"

	"github.com/banshee-data/mindframe/internal/db"
	"github.com/banshee-data/mindframe/internal/security"
	"github.com/banshee-data/mindframe/internal/timeutil"
)

var (
	moodColor    = color.RGBA{R: 31, G: 119, B: 180, A: 255}
	anxietyColor = color.RGBA{R: 214, G: 39, B: 40, A: 255}
	fitColor     = color.RGBA{R: 127, G: 127, B: 127, A: 255}
)

// MoodTrendPlot draws daily mood averages, anxiety averages where logged,
// and the least-squares mood fit over the trend window.
func MoodTrendPlot(trend *db.MoodTrend) (*plot.Plot, error) {
	if len(trend.Points) == 0 {
		return nil, fmt.Errorf("no mood entries between %s and %s", trend.From, trend.To)
	}

	p := plot.New()
	p.Title.Text = fmt.Sprintf("Mood %s to %s (%s)", trend.From, trend.To, trend.Direction)
	p.X.Label.Text = "Date"
	p.Y.Label.Text = "Score (1-10)"
	p.X.Tick.Marker = plot.TimeTicks{Format: "Jan 02"}
	p.Y.Min = 0
	p.Y.Max = 10

	mood := make(plotter.XYs, 0, len(trend.Points))
	anxiety := make(plotter.XYs, 0, len(trend.Points))
	for _, pt := range trend.Points {
		day, err := time.ParseInLocation(timeutil.DateLayout, pt.Date, time.UTC)
		if err != nil {
			return nil, fmt.Errorf("invalid trend date %q: %w", pt.Date, err)
		}
		x := float64(day.Unix())
		mood = append(mood, plotter.XY{X: x, Y: pt.AverageMood})
		if pt.AverageAnxiety != nil {
			anxiety = append(anxiety, plotter.XY{X: x, Y: *pt.AverageAnxiety})
		}
	}

	moodLine, moodPoints, err := plotter.NewLinePoints(mood)
	if err != nil {
		return nil, err
	}
	moodLine.Color = moodColor
	moodLine.Width = vg.Points(1.5)
	moodPoints.Color = moodColor
	p.Add(moodLine, moodPoints)
	p.Legend.Add("mood", moodLine, moodPoints)

	if len(anxiety) > 0 {
		anxietyLine, err := plotter.NewLine(anxiety)
		if err != nil {
			return nil, err
		}
		anxietyLine.Color = anxietyColor
		anxietyLine.Width = vg.Points(1)
		anxietyLine.Dashes = []vg.Length{vg.Points(4), vg.Points(2)}
		p.Add(anxietyLine)
		p.Legend.Add("anxiety", anxietyLine)
	}

	if len(mood) >= 2 {
		fit, err := fitLine(mood)
		if err != nil {
			return nil, err
		}
		fit.Color = fitColor
		fit.Width = vg.Points(1)
		p.Add(fit)
		p.Legend.Add(fmt.Sprintf("trend %+.2f/day", trend.Slope), fit)
	}

	p.Legend.Top = true
	p.Legend.Left = false
	p.Add(plotter.NewGrid())
	return p, nil
}

// fitLine returns the regression line through pts, drawn between the first
// and last x. The fit runs on offsets from the first x to keep the unix
// timestamps well conditioned.
func fitLine(pts plotter.XYs) (*plotter.Line, error) {
	origin := pts[0].X
	xs := make([]float64, len(pts))
	ys := make([]float64, len(pts))
	for i, pt := range pts {
		xs[i], ys[i] = pt.X-origin, pt.Y
	}
	alpha, beta := stat.LinearRegression(xs, ys, nil, false)
	span := xs[len(xs)-1]
	return plotter.NewLine(plotter.XYs{
		{X: origin, Y: alpha},
		{X: origin + span, Y: alpha + beta*span},
	})
}

// SaveMoodTrendPNG renders the trend plot to a PNG at path.
func SaveMoodTrendPNG(trend *db.MoodTrend, path string) error {
	if err := security.ValidateOutputPath(path); err != nil {
		return err
	}
	p, err := MoodTrendPlot(trend)
	if err != nil {
		return err
	}
	if err := p.Save(10*vg.Inch, 5*vg.Inch, path); err != nil {
		return fmt.Errorf("failed to save plot %s: %w", path, err)
	}
	return nil
}
