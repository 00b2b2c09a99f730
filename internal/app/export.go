package app

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/shopspring/decimal"
	chart "github.com/wcharczuk/go-chart/v2"

	"market-watcher/internal/domain"
)

// Export renders a watch's observed listing prices as CSV and/or PNG.
func (a *App) Export(ctx context.Context, opts ExportOptions) error {
	if opts.CSVPath == "" && opts.PNGPath == "" {
		return errors.New("at least one of --csv or --png must be provided")
	}
	if opts.WatchID <= 0 {
		return errors.New("--watch must be provided")
	}

	opts.MaxPoints = a.Config.ResolveMaxPoints(opts.MaxPoints)

	store, err := a.openDatabase(ctx)
	if err != nil {
		return err
	}
	defer store.Close()

	watch, err := store.GetWatch(ctx, opts.WatchID)
	if err != nil {
		return fmt.Errorf("load watch %d: %w", opts.WatchID, err)
	}

	to := time.Now().UTC()
	if opts.To != nil {
		to = opts.To.UTC()
	}
	from := to.AddDate(0, 0, -30)
	if opts.From != nil {
		from = opts.From.UTC()
	}
	if !from.Before(to) {
		return errors.New("from must be before to")
	}

	points, err := store.ListSnapshotPrices(ctx, watch.ID, from, to, 0)
	if err != nil {
		return err
	}
	if len(points) == 0 {
		a.Logger.Info().Int64("watch_id", watch.ID).Msg("no prices found for export window")
		return nil
	}

	downsampled := downsamplePoints(points, opts.MaxPoints)
	a.Logger.Info().Int("total", len(points)).Int("exported", len(downsampled)).Msg("exporting prices")

	if opts.CSVPath != "" {
		if err := writePricesCSV(opts.CSVPath, downsampled); err != nil {
			return err
		}
	}

	if opts.PNGPath != "" {
		size := chartSize{Width: a.Config.Export.ChartWidth, Height: a.Config.Export.ChartHeight}
		if err := writePricesPNG(opts.PNGPath, watch, downsampled, size); err != nil {
			return err
		}
	}

	return nil
}

func downsamplePoints(points []domain.PricePoint, max int) []domain.PricePoint {
	if max <= 0 || len(points) <= max {
		return points
	}
	if max == 1 {
		return points[len(points)-1:]
	}

	result := make([]domain.PricePoint, 0, max)
	step := float64(len(points)-1) / float64(max-1)
	for i := range max {
		idx := int(math.Round(step * float64(i)))
		if idx >= len(points) {
			idx = len(points) - 1
		}
		result = append(result, points[idx])
	}
	return result
}

func writePricesCSV(path string, points []domain.PricePoint) error {
	if err := ensureDir(path); err != nil {
		return err
	}

	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	defer writer.Flush()

	if err := writer.Write([]string{"scraped_at", "price_cents", "price", "alerted"}); err != nil {
		return err
	}

	for _, p := range points {
		record := []string{
			p.At.UTC().Format(time.RFC3339),
			strconv.FormatInt(p.PriceCents, 10),
			formatCents(p.PriceCents),
			strconv.FormatBool(p.Alerted),
		}
		if err := writer.Write(record); err != nil {
			return err
		}
	}

	writer.Flush()
	return writer.Error()
}

type chartSize struct {
	Width  int
	Height int
}

func writePricesPNG(path string, watch domain.Watch, points []domain.PricePoint, size chartSize) error {
	if err := ensureDir(path); err != nil {
		return err
	}
	if size.Width <= 0 {
		size.Width = 1280
	}
	if size.Height <= 0 {
		size.Height = 480
	}

	x := make([]time.Time, len(points))
	prices := make([]float64, len(points))
	var alertX []time.Time
	var alertY []float64
	for i, p := range points {
		x[i] = p.At
		prices[i] = float64(p.PriceCents) / 100
		if p.Alerted {
			alertX = append(alertX, p.At)
			alertY = append(alertY, prices[i])
		}
	}

	series := []chart.Series{
		chart.TimeSeries{
			Name:    "Listing price",
			XValues: x,
			YValues: prices,
		},
	}
	if len(alertX) > 0 {
		series = append(series, chart.TimeSeries{
			Name: "Alerted",
			Style: chart.Style{
				StrokeWidth: chart.Disabled,
				DotWidth:    4,
			},
			XValues: alertX,
			YValues: alertY,
		})
	}

	graph := chart.Chart{
		Title:  watch.MarketHashName,
		Width:  size.Width,
		Height: size.Height,
		XAxis: chart.XAxis{
			ValueFormatter: chart.TimeValueFormatter,
		},
		YAxis: chart.YAxis{
			Name: "Price (USD)",
			ValueFormatter: func(v interface{}) string {
				return chart.FloatValueFormatterWithFormat(v, "%.2f")
			},
		},
		Series: series,
	}
	graph.Elements = []chart.Renderable{chart.Legend(&graph)}

	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	return graph.Render(chart.PNG, file)
}

func ensureDir(path string) error {
	dir := filepath.Dir(path)
	if dir == "." || dir == "" {
		return nil
	}
	return os.MkdirAll(dir, 0o755)
}

func formatCents(cents int64) string {
	return decimal.New(cents, -2).StringFixed(2)
}
