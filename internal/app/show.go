package app

import (
	"context"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"catalyst-catcher/internal/service"
	"catalyst-catcher/internal/storage"
)

// Show prints recent catalysts or signals.
func (a *App) Show(ctx context.Context, opts ShowOptions) error {
	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	defer closeStore()

	switch opts.Kind {
	case "catalysts":
		return showCatalysts(ctx, store, opts)
	case "signals":
		return showSignals(ctx, store, opts)
	default:
		return fmt.Errorf("unknown listing %q, expected catalysts or signals", opts.Kind)
	}
}

func showCatalysts(ctx context.Context, store storage.CatalystStore, opts ShowOptions) error {
	items, err := store.ListCatalysts(ctx, storage.CatalystFilter{Status: opts.Status, Limit: opts.Limit})
	if err != nil {
		return err
	}
	if len(items) == 0 {
		fmt.Fprintln(os.Stdout, "no catalysts found")
		return nil
	}

	writer := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "Created (UTC)\tID\tStatus\tTickers\tWatch\tConf\tBase\tChecks\tImpact")
	for _, c := range items {
		base := "-"
		if c.BasePrice != nil {
			base = c.BasePrice.StringFixed(2)
		} else if c.BasePriceState != "" {
			base = c.BasePriceState
		}
		fmt.Fprintf(
			writer,
			"%s\t%s\t%s\t%s\t%s %s %s%%\t%d\t%s\t%d\t%s\n",
			c.CreatedAt.UTC().Format(time.RFC3339),
			c.ID,
			c.Status,
			strings.Join(c.AffectedTickers, ","),
			c.Criteria.Metric,
			c.Criteria.Direction,
			c.Criteria.ThresholdPct.String(),
			c.Confidence,
			base,
			len(c.ValidationLog),
			truncate(sanitizeInline(c.ImpactText), 60),
		)
	}
	return writer.Flush()
}

func showSignals(ctx context.Context, store storage.SignalStore, opts ShowOptions) error {
	items, err := store.ListSignals(ctx, storage.SignalFilter{Status: opts.Status, Limit: opts.Limit})
	if err != nil {
		return err
	}
	if len(items) == 0 {
		fmt.Fprintln(os.Stdout, "no signals found")
		return nil
	}

	writer := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "Created (UTC)\tID\tStatus\tAction\tTicker\tPrice\tChange%\tVol\tHeadline")
	for _, s := range items {
		vol := s.Market.VolumeRatio.StringFixed(2) + "x"
		if s.Market.VolumeSpike {
			vol += "!"
		}
		fmt.Fprintf(
			writer,
			"%s\t%s\t%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			s.CreatedAt.UTC().Format(time.RFC3339),
			s.ID,
			s.Status,
			s.Action,
			s.Ticker,
			s.Market.Price.StringFixed(2),
			s.Market.ChangePct.StringFixed(2),
			vol,
			truncate(sanitizeInline(s.News.Title), 60),
		)
	}
	return writer.Flush()
}

func printCycleReport(r service.CycleReport) {
	if r.Skipped {
		fmt.Fprintln(os.Stdout, "cycle skipped: another instance holds the lock")
		return
	}
	writer := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintf(writer, "articles fetched\t%d\n", r.ArticlesFetched)
	fmt.Fprintf(writer, "articles processed\t%d\n", r.ArticlesProcessed)
	fmt.Fprintf(writer, "hypotheses created\t%d\n", r.HypothesesCreated)
	fmt.Fprintf(writer, "hypotheses updated\t%d\n", r.HypothesesUpdated)
	fmt.Fprintf(writer, "duplicates removed\t%d\n", r.Consolidated)
	fmt.Fprintf(writer, "checked\t%d\n", r.Checked)
	fmt.Fprintf(writer, "confirmed\t%d\n", r.Confirmed)
	fmt.Fprintf(writer, "expired\t%d\n", r.Expired)
	fmt.Fprintf(writer, "signals\t%d\n", len(r.Signals))
	fmt.Fprintf(writer, "graded\t%d\n", r.Graded)
	fmt.Fprintf(writer, "errors\t%d\n", len(r.Errors))
	writer.Flush()
	for _, e := range r.Errors {
		fmt.Fprintln(os.Stdout, "  - "+sanitizeInline(e))
	}
}

func sanitizeInline(v string) string {
	cleaned := strings.ReplaceAll(v, "\n", " ")
	cleaned = strings.ReplaceAll(cleaned, "\r", " ")
	return cleaned
}

func truncate(v string, max int) string {
	r := []rune(v)
	if len(r) <= max {
		return v
	}
	return string(r[:max-1]) + "…"
}
