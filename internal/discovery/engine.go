package discovery

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/rs/zerolog"

	"catalyst-catcher/internal/analysis"
	"catalyst-catcher/internal/marketclock"
	"catalyst-catcher/internal/news"
	"catalyst-catcher/internal/quotes"
	"catalyst-catcher/internal/storage"
)

// Store is the persistence discovery needs.
type Store interface {
	storage.CatalystStore
	storage.ArticleStore
	storage.WatchlistStore
}

// BaseCapturer snapshots a base price on a freshly consolidated hypothesis.
type BaseCapturer interface {
	CaptureAtDiscovery(ctx context.Context, c *storage.PotentialCatalyst) bool
}

// Options tune a discovery run.
type Options struct {
	ContextWindow     time.Duration
	MaxAge            time.Duration
	FallbackChunkSize int
	Now               func() time.Time
}

// Engine runs the two-pass hypothesis generation over grouped news.
type Engine struct {
	store    Store
	analyzer analysis.Analyzer
	capturer BaseCapturer
	symbols  *quotes.Symbols
	clock    *marketclock.Clock
	opts     Options
	logger   zerolog.Logger
}

// Report counts what one run did.
type Report struct {
	ArticlesProcessed int
	Groups            int
	Created           int
	Updated           int
	Synthesized       int
	Deleted           int
	Expired           int64
	Errors            []string
}

// NewEngine wires discovery. capturer may be nil to skip base price capture.
func NewEngine(store Store, analyzer analysis.Analyzer, capturer BaseCapturer, symbols *quotes.Symbols, clock *marketclock.Clock, opts Options, logger zerolog.Logger) *Engine {
	if opts.ContextWindow <= 0 {
		opts.ContextWindow = 48 * time.Hour
	}
	if opts.MaxAge <= 0 {
		opts.MaxAge = 48 * time.Hour
	}
	if opts.FallbackChunkSize <= 0 {
		opts.FallbackChunkSize = 10
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Engine{
		store:    store,
		analyzer: analyzer,
		capturer: capturer,
		symbols:  symbols,
		clock:    clock,
		opts:     opts,
		logger:   logger.With().Str("component", "discovery").Logger(),
	}
}

// articleOutcome tracks how each article fared across the groups it landed in.
type articleOutcome struct {
	catalyst bool
	failed   bool
	ok       bool
	analysis json.RawMessage
}

// Run sweeps stale hypotheses, then assesses every ticker group in the batch. Per-group
// failures are recorded in the report; only store failures before any work begins are returned.
func (e *Engine) Run(ctx context.Context, articles []news.Article) (Report, error) {
	var report Report
	now := e.opts.Now()

	expired, err := e.store.ExpireCatalystsBefore(ctx, now.Add(-e.opts.MaxAge), now)
	if err != nil {
		return report, fmt.Errorf("expire stale hypotheses: %w", err)
	}
	report.Expired = expired
	if expired > 0 {
		e.logger.Info().Int64("expired", expired).Msg("stale hypotheses expired")
	}

	if len(articles) == 0 {
		return report, nil
	}
	assets, err := e.store.ListAssets(ctx, true)
	if err != nil {
		return report, fmt.Errorf("load watchlist: %w", err)
	}

	outcomes := make(map[string]*articleOutcome, len(articles))
	for _, a := range articles {
		if _, ok := outcomes[a.Link]; !ok {
			outcomes[a.Link] = &articleOutcome{}
		}
	}
	posture := string(e.clock.Default().Posture(now))

	groups := GroupArticles(articles, assets, e.symbols)
	report.Groups = len(groups)
	if len(groups) == 0 {
		e.logger.Info().Int("articles", len(articles)).Msg("no watchlist match, running batch analysis")
		e.runFallback(ctx, articles, posture, outcomes, &report)
	} else {
		for _, g := range groups {
			if ctx.Err() != nil {
				report.Errors = append(report.Errors, fmt.Sprintf("discovery: %v", ctx.Err()))
				break
			}
			e.processGroup(ctx, g, posture, outcomes, &report)
		}
	}

	e.recordArticles(ctx, articles, outcomes, &report)

	e.logger.Info().
		Int("articles", report.ArticlesProcessed).
		Int("groups", report.Groups).
		Int("created", report.Created).
		Int("updated", report.Updated).
		Int("synthesized", report.Synthesized).
		Int("deleted", report.Deleted).
		Int("errors", len(report.Errors)).
		Msg("discovery run complete")
	return report, nil
}

func (e *Engine) processGroup(ctx context.Context, g Group, posture string, outcomes map[string]*articleOutcome, report *Report) {
	log := e.logger.With().Str("ticker", g.Ticker).Logger()

	existing, err := e.openContext(ctx, g.Ticker)
	if err != nil {
		report.Errors = append(report.Errors, fmt.Sprintf("context %s: %v", g.Ticker, err))
		markFailed(outcomes, g.Articles)
		return
	}

	assessment, err := e.analyzer.Assess(ctx, analysis.AssessRequest{
		Topic:    g.Topic,
		Ticker:   g.Ticker,
		Articles: g.Articles,
		Existing: toRefs(existing, e.opts.Now()),
		Posture:  posture,
	})
	if err != nil {
		log.Warn().Err(err).Msg("assessment failed")
		report.Errors = append(report.Errors, fmt.Sprintf("assess %s: %v", g.Ticker, err))
		markFailed(outcomes, g.Articles)
		return
	}

	touched := map[string]bool{g.Ticker: true}
	wrote := false

	for _, u := range assessment.Updates {
		cat, ok := findByID(existing, u.ID)
		if !ok {
			continue
		}
		updated, err := e.applyUpdate(ctx, cat, u, g.Articles)
		if err != nil {
			report.Errors = append(report.Errors, fmt.Sprintf("update %s: %v", u.ID, err))
			continue
		}
		report.Updated++
		wrote = true
		for _, t := range updated.AffectedTickers {
			touched[t] = true
		}
	}

	if n := len(assessment.NewCatalysts); n > 0 {
		if n > 1 {
			log.Info().Int("dropped", n-1).Msg("extra proposals dropped")
		}
		created, err := e.insertProposal(ctx, assessment.NewCatalysts[0], g.Ticker, g.Articles)
		switch {
		case err != nil:
			report.Errors = append(report.Errors, fmt.Sprintf("insert %s: %v", g.Ticker, err))
		case created != nil:
			report.Created++
			wrote = true
			for _, t := range created.AffectedTickers {
				touched[t] = true
			}
			log.Info().Str("catalyst_id", created.ID).Str("impact", created.ImpactText).Msg("new hypothesis")
		}
	}

	kept := e.consolidate(ctx, touched, report)

	candidates := len(assessment.Updates) + len(assessment.NewCatalysts)
	if primary, ok := kept[g.Ticker]; ok && (len(g.Articles) > 1 || len(existing) > 0 || candidates > 1) {
		if e.synthesize(ctx, g, primary, existing, assessment, posture, report) {
			wrote = true
		}
	}

	e.captureBase(ctx, kept, report)

	for _, a := range g.Articles {
		o := outcomes[a.Link]
		o.ok = true
		o.analysis = assessment.Raw
		if wrote {
			o.catalyst = true
		}
	}
}

func (e *Engine) synthesize(ctx context.Context, g Group, primary *storage.PotentialCatalyst, existing []storage.PotentialCatalyst, assessment analysis.Assessment, posture string, report *Report) bool {
	syn, err := e.analyzer.Synthesize(ctx, analysis.SynthesisRequest{
		Ticker:     g.Ticker,
		Articles:   g.Articles,
		Existing:   toRefs(existing, e.opts.Now()),
		Assessment: assessment,
		Posture:    posture,
	})
	if err != nil {
		report.Errors = append(report.Errors, fmt.Sprintf("synthesize %s: %v", g.Ticker, err))
		return false
	}
	if !syn.ShouldUpdate {
		return false
	}
	score := syn.PotentialScore
	primary.PrimaryTicker = g.Ticker
	primary.Thesis = syn.Thesis
	primary.Sentiment = syn.Sentiment
	primary.PotentialScore = &score
	primary.Confidence = syn.Confidence
	primary.UpdatedAt = e.opts.Now()
	if err := e.store.UpdateCatalyst(ctx, *primary); err != nil {
		report.Errors = append(report.Errors, fmt.Sprintf("persist synthesis %s: %v", primary.ID, err))
		return false
	}
	report.Synthesized++
	return true
}

// runFallback analyses unmatched articles in fixed-size chunks without ticker grouping.
// Each chunk inserts at most one proposal per ticker; consolidation heals duplicates across chunks.
func (e *Engine) runFallback(ctx context.Context, articles []news.Article, posture string, outcomes map[string]*articleOutcome, report *Report) {
	touched := make(map[string]bool)
	size := e.opts.FallbackChunkSize

	for start := 0; start < len(articles); start += size {
		if ctx.Err() != nil {
			report.Errors = append(report.Errors, fmt.Sprintf("discovery: %v", ctx.Err()))
			break
		}
		end := start + size
		if end > len(articles) {
			end = len(articles)
		}
		chunk := articles[start:end]

		existing, err := e.openContext(ctx, "")
		if err != nil {
			report.Errors = append(report.Errors, fmt.Sprintf("context batch %d: %v", start/size, err))
			markFailed(outcomes, chunk)
			continue
		}
		assessment, err := e.analyzer.Assess(ctx, analysis.AssessRequest{
			Topic:    "market news",
			Articles: chunk,
			Existing: toRefs(existing, e.opts.Now()),
			Posture:  posture,
		})
		if err != nil {
			report.Errors = append(report.Errors, fmt.Sprintf("assess batch %d: %v", start/size, err))
			markFailed(outcomes, chunk)
			continue
		}

		wrote := false
		for _, u := range assessment.Updates {
			cat, ok := findByID(existing, u.ID)
			if !ok {
				continue
			}
			updated, err := e.applyUpdate(ctx, cat, u, chunk)
			if err != nil {
				report.Errors = append(report.Errors, fmt.Sprintf("update %s: %v", u.ID, err))
				continue
			}
			report.Updated++
			wrote = true
			for _, t := range updated.AffectedTickers {
				touched[t] = true
			}
		}

		inserted := make(map[string]bool)
		for _, p := range assessment.NewCatalysts {
			tickers := e.normalizeTickers(p.AffectedTickers)
			if len(tickers) == 0 || inserted[tickers[0]] {
				continue
			}
			created, err := e.insertProposal(ctx, p, tickers[0], chunk)
			if err != nil {
				report.Errors = append(report.Errors, fmt.Sprintf("insert %s: %v", tickers[0], err))
				continue
			}
			if created == nil {
				continue
			}
			inserted[tickers[0]] = true
			report.Created++
			wrote = true
			for _, t := range created.AffectedTickers {
				touched[t] = true
			}
		}

		for _, a := range chunk {
			o := outcomes[a.Link]
			o.ok = true
			o.analysis = assessment.Raw
			if wrote {
				o.catalyst = true
			}
		}
	}

	kept := e.consolidate(ctx, touched, report)
	e.captureBase(ctx, kept, report)
}

// openContext loads monitoring hypotheses inside the context window, optionally for one ticker.
func (e *Engine) openContext(ctx context.Context, ticker string) ([]storage.PotentialCatalyst, error) {
	return e.store.ListCatalysts(ctx, storage.CatalystFilter{
		Status: storage.StatusMonitoring,
		Ticker: ticker,
		Since:  e.opts.Now().Add(-e.opts.ContextWindow),
	})
}

func (e *Engine) applyUpdate(ctx context.Context, cat storage.PotentialCatalyst, u analysis.Update, articles []news.Article) (storage.PotentialCatalyst, error) {
	cat.ImpactText = u.ImpactText
	if tickers := e.normalizeTickers(u.AffectedTickers); len(tickers) > 0 {
		cat.AffectedTickers = tickers
	}
	if u.Confidence > 0 {
		cat.Confidence = u.Confidence
	}
	if u.Sentiment != "" {
		cat.Sentiment = u.Sentiment
	}
	cat.Citations = u.Citations
	cat.Sources = mergeSources(cat.Sources, articles)
	cat.UpdatedAt = e.opts.Now()
	if err := e.store.UpdateCatalyst(ctx, cat); err != nil {
		return cat, err
	}
	return cat, nil
}

func (e *Engine) insertProposal(ctx context.Context, p analysis.Proposal, groupTicker string, articles []news.Article) (*storage.PotentialCatalyst, error) {
	tickers := e.normalizeTickers(p.AffectedTickers)
	if len(tickers) == 0 && groupTicker != "" {
		tickers = []string{groupTicker}
	}
	if len(tickers) == 0 {
		return nil, nil
	}
	primary := tickers[0]
	for _, t := range tickers {
		if t == groupTicker {
			primary = t
			break
		}
	}

	now := e.opts.Now()
	cat := storage.PotentialCatalyst{
		ImpactText:      p.ImpactText,
		AffectedTickers: tickers,
		Sources:         mergeSources(nil, articles),
		Citations:       p.Citations,
		Criteria:        p.Criteria,
		PrimaryTicker:   primary,
		Sentiment:       p.Sentiment,
		Confidence:      p.Confidence,
		Status:          storage.StatusMonitoring,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if p.Criteria.TimeoutHours > 0 {
		exp := now.Add(time.Duration(p.Criteria.TimeoutHours) * time.Hour)
		cat.ExpiresAt = &exp
	}
	if err := e.store.InsertCatalyst(ctx, &cat); err != nil {
		return nil, err
	}
	return &cat, nil
}

// consolidate heals every touched ticker and returns the surviving hypothesis per ticker.
func (e *Engine) consolidate(ctx context.Context, touched map[string]bool, report *Report) map[string]*storage.PotentialCatalyst {
	tickers := make([]string, 0, len(touched))
	for t := range touched {
		tickers = append(tickers, t)
	}
	sort.Strings(tickers)

	kept := make(map[string]*storage.PotentialCatalyst, len(tickers))
	for _, t := range tickers {
		res, err := Consolidate(ctx, e.store, t)
		if err != nil {
			report.Errors = append(report.Errors, fmt.Sprintf("consolidate %s: %v", t, err))
		}
		if len(res.Deleted) > 0 {
			report.Deleted += len(res.Deleted)
			e.logger.Info().Str("ticker", t).Strs("deleted", res.Deleted).Msg("duplicate hypotheses removed")
		}
		if res.Kept != nil {
			kept[t] = res.Kept
		}
	}
	return kept
}

func (e *Engine) captureBase(ctx context.Context, kept map[string]*storage.PotentialCatalyst, report *Report) {
	if e.capturer == nil {
		return
	}
	done := make(map[string]bool)
	tickers := make([]string, 0, len(kept))
	for t := range kept {
		tickers = append(tickers, t)
	}
	sort.Strings(tickers)
	for _, t := range tickers {
		cat := kept[t]
		if done[cat.ID] {
			continue
		}
		done[cat.ID] = true
		// re-read so synthesis writes are not lost
		fresh, err := e.store.GetCatalyst(ctx, cat.ID)
		if err != nil {
			report.Errors = append(report.Errors, fmt.Sprintf("reload %s: %v", cat.ID, err))
			continue
		}
		if !e.capturer.CaptureAtDiscovery(ctx, &fresh) {
			continue
		}
		if err := e.store.UpdateCatalyst(ctx, fresh); err != nil {
			report.Errors = append(report.Errors, fmt.Sprintf("persist base price %s: %v", fresh.ID, err))
		}
	}
}

func (e *Engine) recordArticles(ctx context.Context, articles []news.Article, outcomes map[string]*articleOutcome, report *Report) {
	now := e.opts.Now()
	recorded := make(map[string]bool, len(articles))
	for _, a := range articles {
		o := outcomes[a.Link]
		if recorded[a.Link] {
			continue
		}
		recorded[a.Link] = true
		// a failed assessment leaves the article unrecorded so the next cycle retries it
		if o.failed && !o.ok {
			continue
		}
		err := e.store.UpsertProcessedArticle(ctx, storage.ProcessedArticle{
			Link:        a.Link,
			Title:       a.Title,
			Source:      a.Source,
			IsCatalyst:  o.catalyst,
			Analysis:    o.analysis,
			ProcessedAt: now,
		})
		if err != nil {
			report.Errors = append(report.Errors, fmt.Sprintf("record %s: %v", a.Link, err))
			continue
		}
		report.ArticlesProcessed++
	}
}

func (e *Engine) normalizeTickers(in []string) []string {
	out := make([]string, 0, len(in))
	seen := make(map[string]bool, len(in))
	for _, t := range in {
		n := e.symbols.Normalize(t)
		if n == "" || seen[n] {
			continue
		}
		seen[n] = true
		out = append(out, n)
	}
	return out
}

func toRefs(existing []storage.PotentialCatalyst, now time.Time) []analysis.ExistingHypothesis {
	refs := make([]analysis.ExistingHypothesis, 0, len(existing))
	for _, c := range existing {
		refs = append(refs, analysis.ExistingHypothesis{
			ID:       c.ID,
			AgeHours: int(c.Age(now).Hours()),
			Impact:   c.ImpactText,
		})
	}
	return refs
}

func findByID(list []storage.PotentialCatalyst, id string) (storage.PotentialCatalyst, bool) {
	for _, c := range list {
		if c.ID == id {
			return c, true
		}
	}
	return storage.PotentialCatalyst{}, false
}

func mergeSources(have []storage.ArticleRef, articles []news.Article) []storage.ArticleRef {
	seen := make(map[string]bool, len(have)+len(articles))
	out := make([]storage.ArticleRef, 0, len(have)+len(articles))
	for _, r := range have {
		if !seen[r.Link] {
			seen[r.Link] = true
			out = append(out, r)
		}
	}
	for _, a := range articles {
		if !seen[a.Link] {
			seen[a.Link] = true
			out = append(out, a.Ref())
		}
	}
	return out
}

func markFailed(outcomes map[string]*articleOutcome, articles []news.Article) {
	for _, a := range articles {
		if o, ok := outcomes[a.Link]; ok {
			o.failed = true
		}
	}
}
