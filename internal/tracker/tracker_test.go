package tracker

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"catalyst-catcher/internal/dispatch"
	"catalyst-catcher/internal/marketclock"
	"catalyst-catcher/internal/quotes"
	"catalyst-catcher/internal/storage"
)

type stubQuotes struct {
	bySymbol map[string]quotes.Quote
	calls    []string
}

func (s *stubQuotes) Quote(_ context.Context, symbol string) (quotes.Quote, error) {
	s.calls = append(s.calls, symbol)
	q, ok := s.bySymbol[symbol]
	if !ok {
		return quotes.Quote{}, quotes.ErrNoData
	}
	q.Symbol = symbol
	return q, nil
}

type captureDispatcher struct {
	events []dispatch.Event
}

func (c *captureDispatcher) Dispatch(_ context.Context, ev dispatch.Event) (string, error) {
	c.events = append(c.events, ev)
	return "sig-1", nil
}

type countingCapturer struct{ calls int }

func (c *countingCapturer) CapturePending(context.Context) (int, []error) {
	c.calls++
	return 0, nil
}

var ist = func() *time.Location {
	loc, err := time.LoadLocation("Asia/Kolkata")
	if err != nil {
		panic(err)
	}
	return loc
}()

// Monday 11:00 IST and Saturday noon IST.
var (
	openAt   = time.Date(2025, 1, 6, 11, 0, 0, 0, ist)
	closedAt = time.Date(2025, 1, 11, 12, 0, 0, 0, ist)
)

func testClock(t *testing.T) *marketclock.Clock {
	t.Helper()
	m, err := marketclock.NewMarket("IN", ist, 9*60+15, 15*60+30, []string{".NS", ".BO"}, nil)
	require.NoError(t, err)
	clock, err := marketclock.New([]marketclock.Market{m}, "IN")
	require.NoError(t, err)
	return clock
}

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func priceUp(threshold string) storage.WatchCriteria {
	return storage.WatchCriteria{Metric: storage.MetricPrice, Direction: storage.DirectionUp, ThresholdPct: d(threshold), TimeoutHours: 24}
}

func newTracker(t *testing.T, mem *storage.Memory, q quotes.Provider, now time.Time, capt PendingCapturer, disp SignalDispatcher) *Tracker {
	return New(mem, q, quotes.NewSymbols(nil, []string{".NS", ".BO"}), testClock(t), capt, disp, Options{
		VolumeSpikeRatio: d("2"),
		Now:              func() time.Time { return now },
	}, zerolog.Nop())
}

func insert(t *testing.T, mem *storage.Memory, c storage.PotentialCatalyst) storage.PotentialCatalyst {
	t.Helper()
	if c.Status == "" {
		c.Status = storage.StatusMonitoring
	}
	require.NoError(t, mem.InsertCatalyst(context.Background(), &c))
	return c
}

func TestEvaluateBoundary(t *testing.T) {
	c := priceUp("2")
	assert.True(t, Evaluate(c, d("2.0"), decimal.Zero))
	assert.False(t, Evaluate(c, d("1.99"), decimal.Zero))

	down := storage.WatchCriteria{Metric: storage.MetricPrice, Direction: storage.DirectionDown, ThresholdPct: d("2")}
	assert.True(t, Evaluate(down, d("-2"), decimal.Zero))
	assert.False(t, Evaluate(down, d("-1.99"), decimal.Zero))
	assert.False(t, Evaluate(down, d("3"), decimal.Zero))

	vol := storage.WatchCriteria{Metric: storage.MetricVolume, Direction: storage.DirectionUp, ThresholdPct: d("150")}
	assert.True(t, Evaluate(vol, decimal.Zero, d("1.5")))
	assert.False(t, Evaluate(vol, decimal.Zero, d("1.49")))

	volDown := storage.WatchCriteria{Metric: storage.MetricVolume, Direction: storage.DirectionDown, ThresholdPct: d("150")}
	assert.False(t, Evaluate(volDown, decimal.Zero, d("0.1")))
}

func TestProgress(t *testing.T) {
	assert.True(t, Progress(priceUp("2"), d("1"), decimal.Zero).Equal(d("50")))
	down := storage.WatchCriteria{Metric: storage.MetricPrice, Direction: storage.DirectionDown, ThresholdPct: d("4")}
	assert.True(t, Progress(down, d("-1"), decimal.Zero).Equal(d("25")))
}

func TestConfirmsAndDispatchesBuyWatch(t *testing.T) {
	ctx := context.Background()
	mem := storage.NewMemory()
	base := d("100")
	cat := insert(t, mem, storage.PotentialCatalyst{
		ImpactText:      "Export ban lifted",
		AffectedTickers: []string{"ADANIENT.NS"},
		Sources:         []storage.ArticleRef{{Title: "Ban lifted", Link: "https://example.com/a"}},
		Criteria:        priceUp("2"),
		BasePrice:       &base,
		BaseTicker:      "ADANIENT.NS",
		BasePriceState:  storage.BasePriceDiscovery,
		Sentiment:       storage.SentimentBullish,
		Confidence:      7,
		CreatedAt:       openAt.Add(-time.Hour),
	})
	require.NoError(t, mem.UpsertAsset(ctx, &storage.WatchlistAsset{Keyword: "edible oil", Ticker: "ADANIENT.NS", Enabled: true}))

	q := &stubQuotes{bySymbol: map[string]quotes.Quote{
		"ADANIENT.NS": {Price: d("102.5"), ReferencePrice: d("101"), Volume: 300, AvgVolume: 100},
	}}
	disp := &captureDispatcher{}
	report, err := newTracker(t, mem, q, openAt, &countingCapturer{}, disp).Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Confirmed)
	assert.Equal(t, []string{"sig-1"}, report.Signals)

	got, err := mem.GetCatalyst(ctx, cat.ID)
	require.NoError(t, err)
	assert.Equal(t, storage.StatusConfirmed, got.Status)
	require.Len(t, got.ValidationLog, 1)
	assert.True(t, got.ValidationLog[0].ChangePct.Equal(d("2.5")))
	assert.True(t, got.ValidationLog[0].Met)

	require.Len(t, disp.events, 1)
	sig := disp.events[0].Signal
	assert.Equal(t, storage.ActionBuyWatch, sig.Action)
	assert.Equal(t, "edible oil", sig.Keyword)
	assert.True(t, sig.Market.VolumeSpike)
	assert.Equal(t, "Ban lifted", sig.News.Title)
	require.NotNil(t, sig.CatalystID)
	assert.Equal(t, cat.ID, *sig.CatalystID)
	assert.Equal(t, "open", disp.events[0].Posture)
}

func TestNearThresholdMoveKeepsMonitoring(t *testing.T) {
	ctx := context.Background()
	mem := storage.NewMemory()
	base := d("100")
	cat := insert(t, mem, storage.PotentialCatalyst{
		AffectedTickers: []string{"TCS.NS"},
		Criteria:        priceUp("2"),
		BasePrice:       &base,
		BaseTicker:      "TCS.NS",
		BasePriceState:  storage.BasePriceDiscovery,
		CreatedAt:       openAt.Add(-time.Hour),
	})

	q := &stubQuotes{bySymbol: map[string]quotes.Quote{"TCS.NS": {Price: d("101.99996")}}}
	disp := &captureDispatcher{}
	report, err := newTracker(t, mem, q, openAt, &countingCapturer{}, disp).Run(ctx)
	require.NoError(t, err)
	assert.Zero(t, report.Confirmed)
	assert.Empty(t, disp.events)

	got, err := mem.GetCatalyst(ctx, cat.ID)
	require.NoError(t, err)
	assert.Equal(t, storage.StatusMonitoring, got.Status)
	require.Len(t, got.ValidationLog, 1)
	assert.False(t, got.ValidationLog[0].Met)
	assert.True(t, got.ValidationLog[0].ChangePct.Equal(d("2")), "logged change is rounded")
}

func TestMarketClosedMakesNoQuoteCalls(t *testing.T) {
	ctx := context.Background()
	mem := storage.NewMemory()
	fresh := insert(t, mem, storage.PotentialCatalyst{AffectedTickers: []string{"TCS.NS"}, Criteria: priceUp("2"), CreatedAt: closedAt.Add(-time.Hour)})
	stale := insert(t, mem, storage.PotentialCatalyst{AffectedTickers: []string{"INFY.NS"}, Criteria: priceUp("2"), CreatedAt: closedAt.Add(-25 * time.Hour)})

	q := &stubQuotes{bySymbol: map[string]quotes.Quote{"TCS.NS": {Price: d("500")}}}
	capt := &countingCapturer{}
	report, err := newTracker(t, mem, q, closedAt, capt, &captureDispatcher{}).Run(ctx)
	require.NoError(t, err)
	assert.False(t, report.MarketOpen)
	assert.Empty(t, q.calls)
	assert.Zero(t, capt.calls)
	assert.Equal(t, 1, report.Expired)

	got, err := mem.GetCatalyst(ctx, stale.ID)
	require.NoError(t, err)
	assert.Equal(t, storage.StatusExpired, got.Status)
	got, err = mem.GetCatalyst(ctx, fresh.ID)
	require.NoError(t, err)
	assert.Equal(t, storage.StatusMonitoring, got.Status)
	assert.Empty(t, got.ValidationLog)
}

func TestTimeoutRoundTrip(t *testing.T) {
	for _, tc := range []struct {
		name  string
		after time.Duration
		want  string
	}{
		{"23h", 23 * time.Hour, storage.StatusMonitoring},
		{"25h", 25 * time.Hour, storage.StatusExpired},
	} {
		t.Run(tc.name, func(t *testing.T) {
			ctx := context.Background()
			mem := storage.NewMemory()
			now := openAt
			cat := insert(t, mem, storage.PotentialCatalyst{AffectedTickers: []string{"TCS.NS"}, Criteria: priceUp("2"), CreatedAt: now.Add(-tc.after)})

			// no quotes at all: the outcome must not depend on market data
			_, err := newTracker(t, mem, &stubQuotes{}, now, nil, nil).Run(ctx)
			require.NoError(t, err)

			got, err := mem.GetCatalyst(ctx, cat.ID)
			require.NoError(t, err)
			assert.Equal(t, tc.want, got.Status)
		})
	}
}

func TestLogsEveryCheckedTickerUntilMatch(t *testing.T) {
	ctx := context.Background()
	mem := storage.NewMemory()
	cat := insert(t, mem, storage.PotentialCatalyst{
		AffectedTickers: []string{"infosys.ns", "MISSING.NS", "TCS.NS", "WIPRO.NS"},
		Criteria:        priceUp("2"),
		CreatedAt:       openAt.Add(-time.Hour),
	})
	q := &stubQuotes{bySymbol: map[string]quotes.Quote{
		"INFY.NS":  {Price: d("101"), ReferencePrice: d("100")},
		"TCS.NS":   {Price: d("103"), ReferencePrice: d("100")},
		"WIPRO.NS": {Price: d("110"), ReferencePrice: d("100")},
	}}
	disp := &captureDispatcher{}
	report, err := newTracker(t, mem, q, openAt, nil, disp).Run(ctx)
	require.NoError(t, err)
	assert.Len(t, report.Errors, 1, "missing ticker is skipped, not fatal")

	got, err := mem.GetCatalyst(ctx, cat.ID)
	require.NoError(t, err)
	assert.Equal(t, storage.StatusConfirmed, got.Status)
	assert.Equal(t, "INFY.NS", got.AffectedTickers[0], "corrected symbol persisted")
	require.Len(t, got.ValidationLog, 2)
	assert.Equal(t, "INFY.NS", got.ValidationLog[0].Ticker)
	assert.False(t, got.ValidationLog[0].Met)
	assert.Equal(t, "TCS.NS", got.ValidationLog[1].Ticker)
	assert.True(t, got.ValidationLog[1].Met)
	assert.NotContains(t, q.calls, "WIPRO.NS")

	require.Len(t, disp.events, 1)
	assert.Equal(t, "TCS.NS", disp.events[0].Signal.Ticker)
}

func TestUnmetKeepsMonitoringAndAppendsLog(t *testing.T) {
	ctx := context.Background()
	mem := storage.NewMemory()
	cat := insert(t, mem, storage.PotentialCatalyst{AffectedTickers: []string{"TCS.NS"}, Criteria: priceUp("2"), CreatedAt: openAt.Add(-time.Hour)})
	q := &stubQuotes{bySymbol: map[string]quotes.Quote{"TCS.NS": {Price: d("101.99"), ReferencePrice: d("100")}}}
	tr := newTracker(t, mem, q, openAt, nil, &captureDispatcher{})

	for i := 0; i < 2; i++ {
		_, err := tr.Run(ctx)
		require.NoError(t, err)
	}
	got, err := mem.GetCatalyst(ctx, cat.ID)
	require.NoError(t, err)
	assert.Equal(t, storage.StatusMonitoring, got.Status)
	assert.Len(t, got.ValidationLog, 2)
}

func TestValidationTickerAndSyntheticAsset(t *testing.T) {
	ctx := context.Background()
	mem := storage.NewMemory()
	require.NoError(t, mem.UpsertAsset(ctx, &storage.WatchlistAsset{Keyword: "gold", Ticker: "GOLDBEES.NS", ValidationTicker: "GC=F", Enabled: true}))
	base := d("50")
	cat := insert(t, mem, storage.PotentialCatalyst{
		AffectedTickers: []string{"GOLDBEES.NS"},
		Criteria:        priceUp("2"),
		BasePrice:       &base,
		BaseTicker:      "GOLDBEES.NS",
		CreatedAt:       openAt.Add(-time.Hour),
	})
	q := &stubQuotes{bySymbol: map[string]quotes.Quote{
		"GOLDBEES.NS": {Price: d("50.5")},
		"GC=F":        {Price: d("2100"), ReferencePrice: d("2000")},
	}}
	disp := &captureDispatcher{}
	_, err := newTracker(t, mem, q, openAt, nil, disp).Run(ctx)
	require.NoError(t, err)

	got, err := mem.GetCatalyst(ctx, cat.ID)
	require.NoError(t, err)
	require.Len(t, got.ValidationLog, 2)
	assert.True(t, got.ValidationLog[1].ChangePct.Equal(d("5")), "proxy measured against its own reference price")

	require.Len(t, disp.events, 1)
	assert.Equal(t, "GC=F", disp.events[0].Signal.Ticker)
	synthetic, err := mem.FindAssetByTicker(ctx, "GC=F")
	require.NoError(t, err)
	assert.False(t, synthetic.Enabled)
	assert.Equal(t, "low", synthetic.SourceTrust)
}

func TestSellWatchForDown(t *testing.T) {
	assert.Equal(t, storage.ActionSellWatch, ActionFor(storage.DirectionDown))
	assert.Equal(t, storage.ActionBuyWatch, ActionFor(storage.DirectionUp))
}
