package tracker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"catalyst-catcher/internal/dispatch"
	"catalyst-catcher/internal/marketclock"
	"catalyst-catcher/internal/quotes"
	"catalyst-catcher/internal/storage"
)

// Store is the persistence the tracker needs.
type Store interface {
	storage.CatalystStore
	storage.WatchlistStore
}

// PendingCapturer takes base prices deferred to the next open.
type PendingCapturer interface {
	CapturePending(ctx context.Context) (int, []error)
}

// SignalDispatcher hands a confirmed hypothesis to the dispatcher.
type SignalDispatcher interface {
	Dispatch(ctx context.Context, ev dispatch.Event) (string, error)
}

// Options configure a Tracker.
type Options struct {
	VolumeSpikeRatio decimal.Decimal
	Now              func() time.Time
}

// Tracker runs the monitoring state machine once per call to Run.
type Tracker struct {
	store      Store
	quotes     quotes.Provider
	symbols    *quotes.Symbols
	clock      *marketclock.Clock
	capturer   PendingCapturer
	dispatcher SignalDispatcher
	opts       Options
	logger     zerolog.Logger
}

// Report counts what one tracker pass did.
type Report struct {
	MarketOpen   bool
	Checked      int
	Expired      int
	Confirmed    int
	BaseCaptured int
	Signals      []string
	Errors       []string
}

// New wires the tracker. capturer and dispatcher may be nil.
func New(store Store, provider quotes.Provider, symbols *quotes.Symbols, clock *marketclock.Clock, capturer PendingCapturer, dispatcher SignalDispatcher, opts Options, logger zerolog.Logger) *Tracker {
	if !opts.VolumeSpikeRatio.IsPositive() {
		opts.VolumeSpikeRatio = decimal.NewFromInt(2)
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Tracker{
		store:      store,
		quotes:     provider,
		symbols:    symbols,
		clock:      clock,
		capturer:   capturer,
		dispatcher: dispatcher,
		opts:       opts,
		logger:     logger.With().Str("component", "tracker").Logger(),
	}
}

// Run expires timed-out hypotheses and, while the market is open, checks the rest.
func (t *Tracker) Run(ctx context.Context) (Report, error) {
	now := t.opts.Now()
	market := t.clock.Default()
	report := Report{MarketOpen: market.IsOpen(now)}

	if !report.MarketOpen {
		open, err := t.monitoring(ctx)
		if err != nil {
			return report, err
		}
		for _, c := range open {
			if c.TimedOut(now) {
				t.expire(ctx, c, now, &report)
			}
		}
		t.logger.Info().
			Str("posture", string(market.Posture(now))).
			Int("expired", report.Expired).
			Msg("market closed, expiry sweep only")
		return report, nil
	}

	if t.capturer != nil {
		n, errs := t.capturer.CapturePending(ctx)
		report.BaseCaptured = n
		for _, err := range errs {
			report.Errors = append(report.Errors, err.Error())
		}
	}

	open, err := t.monitoring(ctx)
	if err != nil {
		return report, err
	}
	for _, c := range open {
		if ctx.Err() != nil {
			report.Errors = append(report.Errors, fmt.Sprintf("tracker: %v", ctx.Err()))
			break
		}
		now = t.opts.Now()
		if c.TimedOut(now) {
			t.expire(ctx, c, now, &report)
			continue
		}
		t.check(ctx, c, now, string(market.Posture(now)), &report)
	}

	t.logger.Info().
		Int("checked", report.Checked).
		Int("confirmed", report.Confirmed).
		Int("expired", report.Expired).
		Int("base_captured", report.BaseCaptured).
		Int("errors", len(report.Errors)).
		Msg("tracker pass complete")
	return report, nil
}

func (t *Tracker) monitoring(ctx context.Context) ([]storage.PotentialCatalyst, error) {
	open, err := t.store.ListCatalysts(ctx, storage.CatalystFilter{Status: storage.StatusMonitoring})
	if err != nil {
		return nil, fmt.Errorf("list monitoring hypotheses: %w", err)
	}
	// oldest first so long-running hypotheses are checked before fresh ones
	for i, j := 0, len(open)-1; i < j; i, j = i+1, j-1 {
		open[i], open[j] = open[j], open[i]
	}
	return open, nil
}

func (t *Tracker) expire(ctx context.Context, c storage.PotentialCatalyst, now time.Time, report *Report) {
	c.Status = storage.StatusExpired
	c.UpdatedAt = now
	if err := t.store.UpdateCatalyst(ctx, c); err != nil {
		report.Errors = append(report.Errors, fmt.Sprintf("expire %s: %v", c.ID, err))
		return
	}
	report.Expired++
	t.logger.Info().Str("catalyst_id", c.ID).Int("timeout_hours", c.Criteria.TimeoutHours).Msg("hypothesis expired")
}

type observation struct {
	ticker string
	quote  quotes.Quote
	change decimal.Decimal
	ratio  decimal.Decimal
}

func (t *Tracker) check(ctx context.Context, c storage.PotentialCatalyst, now time.Time, posture string, report *Report) {
	log := t.logger.With().Str("catalyst_id", c.ID).Logger()
	report.Checked++

	c.AffectedTickers = t.correct(c.AffectedTickers)
	tickers := append([]string(nil), c.AffectedTickers...)
	for _, v := range t.validationTickers(ctx, c.AffectedTickers) {
		if !contains(tickers, v) {
			tickers = append(tickers, v)
		}
	}

	var (
		confirming *observation
		best       *observation
		bestScore  decimal.Decimal
	)
	for _, ticker := range tickers {
		q, err := quotes.FetchWithFallback(ctx, t.quotes, t.symbols, ticker)
		if err != nil {
			log.Warn().Err(err).Str("ticker", ticker).Msg("quote failed, skipping ticker")
			report.Errors = append(report.Errors, fmt.Sprintf("quote %s: %v", ticker, err))
			continue
		}

		base := t.baseFor(c, ticker, q)
		obs := observation{ticker: ticker, quote: q, change: quotes.PercentChange(q.Price, base), ratio: q.VolumeRatio()}
		met := Evaluate(c.Criteria, obs.change, obs.ratio)

		entry := storage.ValidationEntry{
			CheckedAt:   now.UTC(),
			Ticker:      ticker,
			Price:       q.Price,
			ChangePct:   quotes.RoundPct(obs.change),
			VolumeRatio: quotes.RoundPct(obs.ratio),
			Met:         met,
		}
		if base.IsPositive() {
			b := base
			entry.BasePrice = &b
		}
		c.ValidationLog = append(c.ValidationLog, entry)

		score := Progress(c.Criteria, obs.change, obs.ratio)
		if best == nil || score.GreaterThan(bestScore) {
			o := obs
			best, bestScore = &o, score
		}
		if met {
			confirming = &obs
			break
		}
	}

	c.UpdatedAt = now
	if confirming == nil {
		if err := t.store.UpdateCatalyst(ctx, c); err != nil {
			report.Errors = append(report.Errors, fmt.Sprintf("persist log %s: %v", c.ID, err))
			return
		}
		if best != nil {
			log.Info().
				Str("ticker", best.ticker).
				Str("change_pct", quotes.RoundPct(best.change).String()).
				Str("progress_pct", bestScore.String()).
				Msg("still monitoring")
		}
		return
	}

	c.Status = storage.StatusConfirmed
	if err := t.store.UpdateCatalyst(ctx, c); err != nil {
		report.Errors = append(report.Errors, fmt.Sprintf("confirm %s: %v", c.ID, err))
		return
	}
	report.Confirmed++
	log.Info().
		Str("ticker", confirming.ticker).
		Str("change_pct", quotes.RoundPct(confirming.change).String()).
		Msg("hypothesis confirmed")

	if t.dispatcher == nil {
		return
	}
	sig, err := t.buildSignal(ctx, c, *confirming, now)
	if err != nil {
		report.Errors = append(report.Errors, fmt.Sprintf("signal %s: %v", c.ID, err))
		return
	}
	id, err := t.dispatcher.Dispatch(ctx, dispatch.Event{Signal: sig, Posture: posture})
	if err != nil {
		report.Errors = append(report.Errors, fmt.Sprintf("dispatch %s: %v", c.ID, err))
		return
	}
	report.Signals = append(report.Signals, id)
}

// baseFor prefers the recorded base price when it was taken from this ticker.
func (t *Tracker) baseFor(c storage.PotentialCatalyst, ticker string, q quotes.Quote) decimal.Decimal {
	if c.BasePrice != nil && c.BasePrice.IsPositive() && (c.BaseTicker == q.Symbol || t.symbols.Normalize(c.BaseTicker) == ticker) {
		return *c.BasePrice
	}
	return q.ReferencePrice
}

func (t *Tracker) correct(tickers []string) []string {
	out := make([]string, 0, len(tickers))
	for _, raw := range tickers {
		n := t.symbols.Normalize(raw)
		if n != "" && !contains(out, n) {
			out = append(out, n)
		}
	}
	return out
}

// validationTickers returns the cross-market proxies configured on the affected assets.
func (t *Tracker) validationTickers(ctx context.Context, tickers []string) []string {
	var out []string
	for _, ticker := range tickers {
		asset, err := t.store.FindAssetByTicker(ctx, ticker)
		if err != nil {
			continue
		}
		if v := t.symbols.Normalize(asset.ValidationTicker); v != "" && !contains(out, v) {
			out = append(out, v)
		}
	}
	return out
}

func (t *Tracker) buildSignal(ctx context.Context, c storage.PotentialCatalyst, obs observation, now time.Time) (storage.CatalystSignal, error) {
	asset, err := t.store.FindAssetByTicker(ctx, obs.ticker)
	if errors.Is(err, storage.ErrNotFound) {
		asset = storage.WatchlistAsset{
			Keyword:     obs.ticker,
			Ticker:      obs.ticker,
			AssetType:   storage.AssetEquity,
			SourceTrust: "low",
			Enabled:     false,
		}
		if err := t.store.UpsertAsset(ctx, &asset); err != nil {
			return storage.CatalystSignal{}, fmt.Errorf("create synthetic asset %s: %w", obs.ticker, err)
		}
		t.logger.Info().Str("ticker", obs.ticker).Msg("synthetic watchlist asset created")
	} else if err != nil {
		return storage.CatalystSignal{}, fmt.Errorf("lookup asset %s: %w", obs.ticker, err)
	}

	id := c.ID
	sig := storage.CatalystSignal{
		CatalystID: &id,
		Keyword:    asset.Keyword,
		Ticker:     obs.ticker,
		Action:     ActionFor(c.Criteria.Direction),
		Direction:  c.Criteria.Direction,
		Analysis: storage.AnalysisSnapshot{
			ImpactType: c.Criteria.Metric + "_" + c.Criteria.Direction,
			Sentiment:  c.Sentiment,
			Confidence: c.Confidence,
			Reasoning:  c.ImpactText,
		},
		Market: storage.MarketSnapshot{
			Price:       obs.quote.Price,
			ChangePct:   quotes.RoundPct(obs.change),
			VolumeRatio: quotes.RoundPct(obs.ratio),
			VolumeSpike: obs.ratio.GreaterThanOrEqual(t.opts.VolumeSpikeRatio),
		},
		Status:    storage.SignalActive,
		CreatedAt: now,
	}
	if c.Thesis != "" {
		sig.Analysis.Reasoning = c.Thesis
	}
	if len(c.Sources) > 0 {
		src := c.Sources[0]
		sig.News = storage.NewsSnapshot{Title: src.Title, Link: src.Link, Source: src.Source, PublishedAt: src.PublishedAt}
	} else {
		sig.News = storage.NewsSnapshot{Title: c.ImpactText}
	}
	return sig, nil
}

func contains(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}
