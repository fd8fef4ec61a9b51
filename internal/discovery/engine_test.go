package discovery

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"catalyst-catcher/internal/analysis"
	"catalyst-catcher/internal/marketclock"
	"catalyst-catcher/internal/news"
	"catalyst-catcher/internal/quotes"
	"catalyst-catcher/internal/storage"
)

type fakeAnalyzer struct {
	mu      sync.Mutex
	assess  func(req analysis.AssessRequest) (analysis.Assessment, error)
	synth   func(req analysis.SynthesisRequest) (analysis.Synthesis, error)
	assessN int
	synthN  int
}

func (f *fakeAnalyzer) Assess(_ context.Context, req analysis.AssessRequest) (analysis.Assessment, error) {
	f.mu.Lock()
	f.assessN++
	f.mu.Unlock()
	if f.assess == nil {
		return analysis.Assessment{}, nil
	}
	return f.assess(req)
}

func (f *fakeAnalyzer) Synthesize(_ context.Context, req analysis.SynthesisRequest) (analysis.Synthesis, error) {
	f.mu.Lock()
	f.synthN++
	f.mu.Unlock()
	if f.synth == nil {
		return analysis.Synthesis{}, nil
	}
	return f.synth(req)
}

type stepClock struct {
	now time.Time
}

// Now advances one minute per call so inserts get distinct creation times.
func (c *stepClock) Now() time.Time {
	c.now = c.now.Add(time.Minute)
	return c.now
}

func testClock(t *testing.T) *marketclock.Clock {
	t.Helper()
	loc, err := time.LoadLocation("Asia/Kolkata")
	require.NoError(t, err)
	m, err := marketclock.NewMarket("IN", loc, 9*60+15, 15*60+30, []string{".NS", ".BO"}, nil)
	require.NoError(t, err)
	clock, err := marketclock.New([]marketclock.Market{m}, "IN")
	require.NoError(t, err)
	return clock
}

func testSymbols() *quotes.Symbols {
	return quotes.NewSymbols(nil, []string{".NS", ".BO"})
}

func proposal(impact string, tickers ...string) analysis.Proposal {
	return analysis.Proposal{
		ImpactText:      impact,
		AffectedTickers: tickers,
		Confidence:      6,
		Sentiment:       storage.SentimentBullish,
		Criteria: storage.WatchCriteria{
			Metric:       storage.MetricPrice,
			Direction:    storage.DirectionUp,
			ThresholdPct: decimal.NewFromInt(2),
			TimeoutHours: 24,
		},
	}
}

func seedAssets(t *testing.T, mem *storage.Memory, assets ...storage.WatchlistAsset) {
	t.Helper()
	for i := range assets {
		assets[i].Enabled = true
		require.NoError(t, mem.UpsertAsset(context.Background(), &assets[i]))
	}
}

func openFor(t *testing.T, mem *storage.Memory, ticker string) []storage.PotentialCatalyst {
	t.Helper()
	list, err := mem.ListCatalysts(context.Background(), storage.CatalystFilter{Status: storage.StatusMonitoring, Ticker: ticker})
	require.NoError(t, err)
	return list
}

func newEngine(t *testing.T, mem *storage.Memory, a analysis.Analyzer, clk *stepClock, capturer BaseCapturer) *Engine {
	return NewEngine(mem, a, capturer, testSymbols(), testClock(t), Options{
		ContextWindow:     48 * time.Hour,
		MaxAge:            48 * time.Hour,
		FallbackChunkSize: 2,
		Now:               clk.Now,
	}, zerolog.Nop())
}

func TestConsolidateKeepsNewest(t *testing.T) {
	ctx := context.Background()
	mem := storage.NewMemory()
	base := time.Date(2025, 1, 6, 6, 0, 0, 0, time.UTC)

	var ids []string
	for i := 0; i < 3; i++ {
		c := storage.PotentialCatalyst{AffectedTickers: []string{"X.NS"}, Status: storage.StatusMonitoring, CreatedAt: base.Add(time.Duration(i) * time.Hour)}
		require.NoError(t, mem.InsertCatalyst(ctx, &c))
		ids = append(ids, c.ID)
	}
	other := storage.PotentialCatalyst{AffectedTickers: []string{"Y.NS"}, Status: storage.StatusMonitoring, CreatedAt: base}
	require.NoError(t, mem.InsertCatalyst(ctx, &other))

	res, err := Consolidate(ctx, mem, "X.NS")
	require.NoError(t, err)
	require.NotNil(t, res.Kept)
	assert.Equal(t, ids[2], res.Kept.ID)
	assert.ElementsMatch(t, ids[:2], res.Deleted)

	again, err := Consolidate(ctx, mem, "X.NS")
	require.NoError(t, err)
	assert.Empty(t, again.Deleted)
	assert.Len(t, openFor(t, mem, "Y.NS"), 1)
}

func TestRunHealsDuplicatesForTouchedTicker(t *testing.T) {
	ctx := context.Background()
	mem := storage.NewMemory()
	clk := &stepClock{now: time.Date(2025, 1, 6, 6, 0, 0, 0, time.UTC)}
	seedAssets(t, mem, storage.WatchlistAsset{Keyword: "crude oil", Ticker: "ONGC.NS"})

	for i := 0; i < 2; i++ {
		now := clk.Now()
		c := storage.PotentialCatalyst{AffectedTickers: []string{"ONGC.NS"}, Status: storage.StatusMonitoring, CreatedAt: now, UpdatedAt: now}
		require.NoError(t, mem.InsertCatalyst(ctx, &c))
	}

	e := newEngine(t, mem, &fakeAnalyzer{}, clk, nil)
	report, err := e.Run(ctx, []news.Article{{Title: "Crude oil slides", Link: "https://example.com/a"}})
	require.NoError(t, err)
	assert.Equal(t, 1, report.Deleted)
	assert.Len(t, openFor(t, mem, "ONGC.NS"), 1)
}

func TestRunGroupThenFallbackLeavesNewest(t *testing.T) {
	ctx := context.Background()
	mem := storage.NewMemory()
	clk := &stepClock{now: time.Date(2025, 1, 6, 6, 0, 0, 0, time.UTC)}
	seedAssets(t, mem, storage.WatchlistAsset{Keyword: "refinery", Ticker: "X.NS"})

	a := &fakeAnalyzer{
		assess: func(req analysis.AssessRequest) (analysis.Assessment, error) {
			return analysis.Assessment{NewCatalysts: []analysis.Proposal{
				proposal("Margins widen", "X.NS"),
				proposal("Second idea", "X.NS"),
			}}, nil
		},
	}
	e := newEngine(t, mem, a, clk, nil)

	first, err := e.Run(ctx, []news.Article{
		{Title: "Refinery margins jump", Link: "https://example.com/1"},
		{Title: "New refinery online", Link: "https://example.com/2"},
	})
	require.NoError(t, err)
	assert.Equal(t, 1, first.Created)
	open := openFor(t, mem, "X.NS")
	require.Len(t, open, 1)
	older := open[0]

	// nothing matches the watchlist so the batch path inserts again
	second, err := e.Run(ctx, []news.Article{
		{Title: "Fuel demand outlook", Link: "https://example.com/3"},
		{Title: "Diesel prices", Link: "https://example.com/4"},
		{Title: "Jet fuel", Link: "https://example.com/5"},
	})
	require.NoError(t, err)
	assert.Equal(t, 0, second.Groups)
	assert.Equal(t, 2, second.Created)
	assert.Equal(t, 2, second.Deleted)

	open = openFor(t, mem, "X.NS")
	require.Len(t, open, 1)
	assert.NotEqual(t, older.ID, open[0].ID)
	assert.True(t, open[0].CreatedAt.After(older.CreatedAt))
}

func TestRunMalformedReplyIsolatedPerTicker(t *testing.T) {
	ctx := context.Background()
	mem := storage.NewMemory()
	clk := &stepClock{now: time.Date(2025, 1, 6, 6, 0, 0, 0, time.UTC)}
	seedAssets(t, mem,
		storage.WatchlistAsset{Keyword: "steel", Ticker: "X.NS"},
		storage.WatchlistAsset{Keyword: "cement", Ticker: "Y.NS"},
	)

	completer := completerFunc(func(prompt string) string {
		if strings.Contains(prompt, "Ticker: Y.NS") {
			return "I am not sure what you mean"
		}
		return `{"updates": [], "newCatalysts": [{"impact": "Steel tariffs help mills", "affectedTickers": ["X.NS"], "confidence": 7, "sentiment": "BULLISH", "watch": {"metric": "PRICE", "direction": "UP", "thresholdPercent": 2, "timeoutHours": 24}}]}`
	})
	analyzer := analysis.NewLLMAnalyzer(completer, analysis.LLMOptions{Timeout: time.Second}, zerolog.Nop())
	e := newEngine(t, mem, analyzer, clk, nil)

	report, err := e.Run(ctx, []news.Article{
		{Title: "Cement demand cools", Link: "https://example.com/y"},
		{Title: "Steel tariffs announced", Link: "https://example.com/x"},
	})
	require.NoError(t, err)
	assert.Empty(t, report.Errors)
	assert.Equal(t, 2, report.Groups)
	assert.Equal(t, 1, report.Created)
	assert.Empty(t, openFor(t, mem, "Y.NS"))
	assert.Len(t, openFor(t, mem, "X.NS"), 1)

	y, err := mem.GetProcessedArticle(ctx, "https://example.com/y")
	require.NoError(t, err)
	assert.False(t, y.IsCatalyst)
	x, err := mem.GetProcessedArticle(ctx, "https://example.com/x")
	require.NoError(t, err)
	assert.True(t, x.IsCatalyst)
}

type completerFunc func(prompt string) string

func (f completerFunc) Complete(_ context.Context, _, prompt string) (string, error) {
	return f(prompt), nil
}

func TestRunTransportFailureLeavesArticlesForRetry(t *testing.T) {
	ctx := context.Background()
	mem := storage.NewMemory()
	clk := &stepClock{now: time.Date(2025, 1, 6, 6, 0, 0, 0, time.UTC)}
	seedAssets(t, mem,
		storage.WatchlistAsset{Keyword: "steel", Ticker: "X.NS"},
		storage.WatchlistAsset{Keyword: "cement", Ticker: "Y.NS"},
	)
	a := &fakeAnalyzer{assess: func(req analysis.AssessRequest) (analysis.Assessment, error) {
		if req.Ticker == "Y.NS" {
			return analysis.Assessment{}, errors.New("timeout")
		}
		return analysis.Assessment{}, nil
	}}
	e := newEngine(t, mem, a, clk, nil)

	report, err := e.Run(ctx, []news.Article{
		{Title: "Cement demand cools", Link: "https://example.com/y"},
		{Title: "Steel output", Link: "https://example.com/x"},
	})
	require.NoError(t, err)
	require.Len(t, report.Errors, 1)
	assert.Contains(t, report.Errors[0], "Y.NS")
	assert.Equal(t, 1, report.ArticlesProcessed)

	_, err = mem.GetProcessedArticle(ctx, "https://example.com/y")
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestSynthesisGate(t *testing.T) {
	ctx := context.Background()
	mem := storage.NewMemory()
	clk := &stepClock{now: time.Date(2025, 1, 6, 6, 0, 0, 0, time.UTC)}
	seedAssets(t, mem, storage.WatchlistAsset{Keyword: "gold", Ticker: "GOLDBEES.NS"})

	a := &fakeAnalyzer{
		assess: func(req analysis.AssessRequest) (analysis.Assessment, error) {
			if len(req.Existing) > 0 {
				return analysis.Assessment{}, nil
			}
			return analysis.Assessment{NewCatalysts: []analysis.Proposal{proposal("Safe haven bid", "GOLDBEES.NS")}}, nil
		},
		synth: func(req analysis.SynthesisRequest) (analysis.Synthesis, error) {
			return analysis.Synthesis{ShouldUpdate: true, Thesis: "Gold holds gains", Sentiment: storage.SentimentBullish, PotentialScore: 6, Confidence: 7}, nil
		},
	}
	e := newEngine(t, mem, a, clk, nil)

	_, err := e.Run(ctx, []news.Article{{Title: "Gold rises", Link: "https://example.com/g1"}})
	require.NoError(t, err)
	assert.Zero(t, a.synthN, "single article, no prior hypothesis, one candidate")

	report, err := e.Run(ctx, []news.Article{{Title: "Gold extends rally", Link: "https://example.com/g2"}})
	require.NoError(t, err)
	assert.Equal(t, 1, a.synthN)
	assert.Equal(t, 1, report.Synthesized)

	open := openFor(t, mem, "GOLDBEES.NS")
	require.Len(t, open, 1)
	assert.Equal(t, "Gold holds gains", open[0].Thesis)
	assert.Equal(t, "GOLDBEES.NS", open[0].PrimaryTicker)
	require.NotNil(t, open[0].PotentialScore)
	assert.Equal(t, 6, *open[0].PotentialScore)
}

func TestUpdatesOnlyTouchKnownIDs(t *testing.T) {
	ctx := context.Background()
	mem := storage.NewMemory()
	clk := &stepClock{now: time.Date(2025, 1, 6, 6, 0, 0, 0, time.UTC)}
	seedAssets(t, mem, storage.WatchlistAsset{Keyword: "steel", Ticker: "X.NS"})

	now := clk.Now()
	seed := storage.PotentialCatalyst{ImpactText: "old", AffectedTickers: []string{"X.NS"}, Status: storage.StatusMonitoring, CreatedAt: now, UpdatedAt: now}
	require.NoError(t, mem.InsertCatalyst(ctx, &seed))

	a := &fakeAnalyzer{assess: func(req analysis.AssessRequest) (analysis.Assessment, error) {
		require.Len(t, req.Existing, 1)
		return analysis.Assessment{Updates: []analysis.Update{
			{ID: req.Existing[0].ID, ImpactText: "revised", Confidence: 8, Citations: []storage.Citation{{Index: 1, Link: "https://example.com/s"}}},
			{ID: "unknown", ImpactText: "ignored"},
		}}, nil
	}}
	e := newEngine(t, mem, a, clk, nil)

	report, err := e.Run(ctx, []news.Article{{Title: "Steel exports", Link: "https://example.com/s"}})
	require.NoError(t, err)
	assert.Equal(t, 1, report.Updated)

	got, err := mem.GetCatalyst(ctx, seed.ID)
	require.NoError(t, err)
	assert.Equal(t, "revised", got.ImpactText)
	assert.Equal(t, 8, got.Confidence)
	require.Len(t, got.Sources, 1)
	assert.Equal(t, "https://example.com/s", got.Sources[0].Link)
}

func TestUpdateWithoutConfidenceKeepsStoredValue(t *testing.T) {
	ctx := context.Background()
	mem := storage.NewMemory()
	clk := &stepClock{now: time.Date(2025, 1, 6, 6, 0, 0, 0, time.UTC)}
	seedAssets(t, mem, storage.WatchlistAsset{Keyword: "steel", Ticker: "X.NS"})

	now := clk.Now()
	seed := storage.PotentialCatalyst{ImpactText: "old", AffectedTickers: []string{"X.NS"}, Confidence: 7, Status: storage.StatusMonitoring, CreatedAt: now, UpdatedAt: now}
	require.NoError(t, mem.InsertCatalyst(ctx, &seed))

	a := &fakeAnalyzer{assess: func(req analysis.AssessRequest) (analysis.Assessment, error) {
		require.Len(t, req.Existing, 1)
		return analysis.Assessment{Updates: []analysis.Update{{ID: req.Existing[0].ID, ImpactText: "revised"}}}, nil
	}}
	_, err := newEngine(t, mem, a, clk, nil).Run(ctx, []news.Article{{Title: "Steel exports", Link: "https://example.com/s"}})
	require.NoError(t, err)

	got, err := mem.GetCatalyst(ctx, seed.ID)
	require.NoError(t, err)
	assert.Equal(t, "revised", got.ImpactText)
	assert.Equal(t, 7, got.Confidence)
}

func TestRunSweepsStaleHypotheses(t *testing.T) {
	ctx := context.Background()
	mem := storage.NewMemory()
	clk := &stepClock{now: time.Date(2025, 1, 8, 6, 0, 0, 0, time.UTC)}

	stale := storage.PotentialCatalyst{AffectedTickers: []string{"X.NS"}, Status: storage.StatusMonitoring, CreatedAt: clk.now.Add(-50 * time.Hour)}
	require.NoError(t, mem.InsertCatalyst(ctx, &stale))

	e := newEngine(t, mem, &fakeAnalyzer{}, clk, nil)
	report, err := e.Run(ctx, nil)
	require.NoError(t, err)
	assert.EqualValues(t, 1, report.Expired)

	got, err := mem.GetCatalyst(ctx, stale.ID)
	require.NoError(t, err)
	assert.Equal(t, storage.StatusExpired, got.Status)
}

type markingCapturer struct{ calls int }

func (m *markingCapturer) CaptureAtDiscovery(_ context.Context, c *storage.PotentialCatalyst) bool {
	if c.BasePriceState != "" {
		return false
	}
	m.calls++
	c.BasePriceState = storage.BasePricePendingNextOpen
	return true
}

func TestRunCapturesBaseOncePerHypothesis(t *testing.T) {
	ctx := context.Background()
	mem := storage.NewMemory()
	clk := &stepClock{now: time.Date(2025, 1, 6, 6, 0, 0, 0, time.UTC)}
	seedAssets(t, mem, storage.WatchlistAsset{Keyword: "steel", Ticker: "X.NS"})

	a := &fakeAnalyzer{assess: func(req analysis.AssessRequest) (analysis.Assessment, error) {
		return analysis.Assessment{NewCatalysts: []analysis.Proposal{proposal("Mills gain", "X.NS", "Z.NS")}}, nil
	}}
	capt := &markingCapturer{}
	e := newEngine(t, mem, a, clk, capt)

	_, err := e.Run(ctx, []news.Article{{Title: "Steel tariffs", Link: "https://example.com/s"}})
	require.NoError(t, err)
	assert.Equal(t, 1, capt.calls)

	open := openFor(t, mem, "Z.NS")
	require.Len(t, open, 1)
	assert.Equal(t, storage.BasePricePendingNextOpen, open[0].BasePriceState)
	assert.Equal(t, "X.NS", open[0].PrimaryTicker)
}
