package app

import (
	"context"
	"encoding/csv"
	"errors"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"time"

	chart "github.com/wcharczuk/go-chart/v2"

	"catalyst-catcher/internal/calibration"
	"catalyst-catcher/internal/storage"
)

// Export renders a catalyst's validation log or the calibration log.
func (a *App) Export(ctx context.Context, opts ExportOptions) error {
	if opts.CSVPath == "" && opts.PNGPath == "" {
		return errors.New("at least one of --csv or --png must be provided")
	}
	if opts.Calibration {
		if opts.CSVPath == "" {
			return errors.New("calibration export needs --csv")
		}
		return a.exportCalibration(opts.CSVPath)
	}
	if opts.CatalystID == "" {
		return errors.New("either --catalyst or --calibration must be provided")
	}

	opts.MaxPoints = a.Config.ResolveMaxPoints(opts.MaxPoints)

	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	defer closeStore()

	c, err := store.GetCatalyst(ctx, opts.CatalystID)
	if err != nil {
		return err
	}
	if len(c.ValidationLog) == 0 {
		a.Logger.Info().Str("catalyst_id", c.ID).Msg("validation log is empty, nothing to export")
		return nil
	}

	entries := downsample(c.ValidationLog, opts.MaxPoints)
	a.Logger.Info().Int("total", len(c.ValidationLog)).Int("exported", len(entries)).Msg("exporting validation log")

	if opts.CSVPath != "" {
		if err := writeValidationCSV(opts.CSVPath, entries); err != nil {
			return err
		}
	}
	if opts.PNGPath != "" {
		if err := writeValidationPNG(opts.PNGPath, c, entries); err != nil {
			return err
		}
	}
	return nil
}

func downsample[T any](items []T, max int) []T {
	if max <= 0 || len(items) <= max {
		return items
	}
	if max == 1 {
		return items[len(items)-1:]
	}

	result := make([]T, 0, max)
	step := float64(len(items)-1) / float64(max-1)
	for i := 0; i < max; i++ {
		idx := int(math.Round(step * float64(i)))
		if idx >= len(items) {
			idx = len(items) - 1
		}
		result = append(result, items[idx])
	}
	return result
}

func writeValidationCSV(path string, entries []storage.ValidationEntry) error {
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

	header := []string{"checked_at", "ticker", "price", "base_price", "change_pct", "volume_ratio", "met"}
	if err := writer.Write(header); err != nil {
		return err
	}

	for _, e := range entries {
		base := ""
		if e.BasePrice != nil {
			base = e.BasePrice.String()
		}
		record := []string{
			e.CheckedAt.UTC().Format(time.RFC3339),
			e.Ticker,
			e.Price.String(),
			base,
			e.ChangePct.String(),
			e.VolumeRatio.String(),
			strconv.FormatBool(e.Met),
		}
		if err := writer.Write(record); err != nil {
			return err
		}
	}

	writer.Flush()
	return writer.Error()
}

func writeValidationPNG(path string, c storage.PotentialCatalyst, entries []storage.ValidationEntry) error {
	if err := ensureDir(path); err != nil {
		return err
	}

	byTicker := make(map[string][]storage.ValidationEntry)
	var order []string
	for _, e := range entries {
		if _, ok := byTicker[e.Ticker]; !ok {
			order = append(order, e.Ticker)
		}
		byTicker[e.Ticker] = append(byTicker[e.Ticker], e)
	}

	pctFormatter := func(v interface{}) string {
		return chart.FloatValueFormatterWithFormat(v, "%.2f")
	}

	var series []chart.Series
	for _, ticker := range order {
		points := byTicker[ticker]
		x := make([]time.Time, len(points))
		y := make([]float64, len(points))
		for i, p := range points {
			x[i] = p.CheckedAt
			y[i] = p.ChangePct.InexactFloat64()
		}
		// a single point cannot draw a line
		if len(points) == 1 {
			x = append(x, x[0].Add(time.Second))
			y = append(y, y[0])
		}
		series = append(series, chart.TimeSeries{Name: ticker + " change %", XValues: x, YValues: y})
	}

	if c.Criteria.Metric == storage.MetricPrice {
		threshold := c.Criteria.ThresholdPct.Abs().InexactFloat64()
		if c.Criteria.Direction == storage.DirectionDown {
			threshold = -threshold
		}
		first, last := entries[0].CheckedAt, entries[len(entries)-1].CheckedAt
		if !last.After(first) {
			last = first.Add(time.Second)
		}
		series = append(series, chart.TimeSeries{
			Name:    "threshold",
			XValues: []time.Time{first, last},
			YValues: []float64{threshold, threshold},
			Style:   chart.Style{StrokeDashArray: []float64{5, 5}},
		})
	}

	graph := chart.Chart{
		Title:  c.ImpactText,
		Width:  1280,
		Height: 720,
		XAxis: chart.XAxis{
			ValueFormatter: chart.TimeValueFormatter,
		},
		YAxis: chart.YAxis{
			Name:           "Change vs base (%)",
			ValueFormatter: pctFormatter,
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

func (a *App) exportCalibration(path string) error {
	entries, err := a.newCalibrationLog().ReadAll()
	if err != nil {
		return err
	}
	if err := writeCalibrationCSV(path, entries); err != nil {
		return err
	}
	a.Logger.Info().Int("entries", len(entries)).Str("path", path).Msg("calibration log exported")
	return nil
}

func writeCalibrationCSV(path string, entries []calibration.Entry) error {
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

	header := []string{"id", "created_at", "ticker", "action", "direction", "price", "change_pct", "volume_ratio", "posture"}
	for _, name := range calibration.CheckpointNames {
		header = append(header, name+"_change_pct", name+"_grade")
	}
	header = append(header, "final_verdict", "abandoned", "headline")
	if err := writer.Write(header); err != nil {
		return err
	}

	sort.SliceStable(entries, func(i, j int) bool { return entries[i].CreatedAt.Before(entries[j].CreatedAt) })
	for _, e := range entries {
		record := []string{
			e.ID,
			e.CreatedAt.UTC().Format(time.RFC3339),
			e.Ticker,
			e.Action,
			e.Direction,
			e.Market.Price.String(),
			e.Market.ChangePct.String(),
			e.Market.VolumeRatio.String(),
			e.Market.Posture,
		}
		for _, name := range calibration.CheckpointNames {
			cp, ok := e.Checkpoints[name]
			if !ok {
				record = append(record, "", "")
				continue
			}
			record = append(record, cp.ChangePct.StringFixed(2), cp.Grade)
		}
		record = append(record, e.FinalVerdict, strconv.FormatBool(e.Abandoned), sanitizeInline(e.Headline))
		if err := writer.Write(record); err != nil {
			return err
		}
	}

	writer.Flush()
	return writer.Error()
}

func ensureDir(path string) error {
	dir := filepath.Dir(path)
	if dir == "." || dir == "" {
		return nil
	}
	return os.MkdirAll(dir, 0o755)
}
