// Package report renders dashboards for the rollup and journal data.
package report

import (
	"bytes"
	"fmt"
	"io"
	"os"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/components"
	"github.com/go-echarts/go-echarts/v2/opts"

	"github.com/banshee-data/mindframe/internal/db"
	"github.com/banshee-data/mindframe/internal/security"
)

// MetricsPage renders daily rollups as an HTML page with an engagement
// line chart and a revenue bar chart.
func MetricsPage(w io.Writer, metrics []db.DailyMetrics) error {
	if len(metrics) == 0 {
		return fmt.Errorf("no daily metrics to chart")
	}

	dates := make([]string, len(metrics))
	series := map[string][]opts.LineData{}
	names := []string{"active users", "new users", "events", "thought records", "mood entries"}
	var discounts, referrals []opts.BarData
	for i, m := range metrics {
		dates[i] = m.MetricDate
		series["active users"] = append(series["active users"], opts.LineData{Value: m.ActiveUsers})
		series["new users"] = append(series["new users"], opts.LineData{Value: m.NewUsers})
		series["events"] = append(series["events"], opts.LineData{Value: m.TotalEvents})
		series["thought records"] = append(series["thought records"], opts.LineData{Value: m.ThoughtRecordsCreated})
		series["mood entries"] = append(series["mood entries"], opts.LineData{Value: m.MoodEntriesLogged})
		discounts = append(discounts, opts.BarData{Value: float64(m.PromoDiscountCents) / 100})
		referrals = append(referrals, opts.BarData{Value: float64(m.ReferralRevenueCents) / 100})
	}
	subtitle := fmt.Sprintf("%s to %s", metrics[0].MetricDate, metrics[len(metrics)-1].MetricDate)

	line := charts.NewLine()
	line.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{PageTitle: "Mindframe daily metrics", Width: "100%", Height: "480px"}),
		charts.WithTitleOpts(opts.Title{Title: "Engagement", Subtitle: subtitle}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true), Trigger: "axis"}),
		charts.WithLegendOpts(opts.Legend{Show: opts.Bool(true), Top: "bottom"}),
		charts.WithYAxisOpts(opts.YAxis{Name: "count"}),
	)
	line.SetXAxis(dates)
	for _, name := range names {
		line.AddSeries(name, series[name])
	}
	line.SetSeriesOptions(charts.WithLineChartOpts(opts.LineChart{Smooth: opts.Bool(false)}))

	bar := charts.NewBar()
	bar.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{Width: "100%", Height: "360px"}),
		charts.WithTitleOpts(opts.Title{Title: "Revenue", Subtitle: subtitle}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
		charts.WithYAxisOpts(opts.YAxis{Name: "USD"}),
	)
	bar.SetXAxis(dates).
		AddSeries("promo discounts", discounts).
		AddSeries("referral revenue", referrals)

	page := components.NewPage()
	page.AddCharts(line, bar)

	var buf bytes.Buffer
	if err := page.Render(&buf); err != nil {
		return fmt.Errorf("render error: %w", err)
	}
	_, err := w.Write(buf.Bytes())
	return err
}

// WriteMetricsPage renders MetricsPage into path.
func WriteMetricsPage(path string, metrics []db.DailyMetrics) error {
	if err := security.ValidateOutputPath(path); err != nil {
		return err
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", path, err)
	}
	if err := MetricsPage(f, metrics); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
