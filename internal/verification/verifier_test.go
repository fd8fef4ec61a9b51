package verification

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"catalyst-catcher/internal/calibration"
	"catalyst-catcher/internal/marketclock"
	"catalyst-catcher/internal/quotes"
	"catalyst-catcher/internal/storage"
)

type fixedQuotes struct {
	price decimal.Decimal
	calls int
}

func (f *fixedQuotes) Quote(_ context.Context, symbol string) (quotes.Quote, error) {
	f.calls++
	return quotes.Quote{Symbol: symbol, Price: f.price}, nil
}

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func testClock(t *testing.T) (*marketclock.Clock, *time.Location) {
	t.Helper()
	loc, err := time.LoadLocation("Asia/Kolkata")
	require.NoError(t, err)
	m, err := marketclock.NewMarket("IN", loc, 9*60+15, 15*60+30, []string{".NS", ".BO"}, nil)
	require.NoError(t, err)
	clock, err := marketclock.New([]marketclock.Market{m}, "IN")
	require.NoError(t, err)
	return clock, loc
}

func TestGrade(t *testing.T) {
	band := d("0.5")
	tests := []struct {
		direction string
		change    string
		want      string
	}{
		{storage.DirectionUp, "1.2", calibration.GoodCall},
		{storage.DirectionUp, "-0.8", calibration.BadCall},
		{storage.DirectionUp, "0.49", calibration.Neutral},
		{storage.DirectionUp, "0.5", calibration.GoodCall},
		{storage.DirectionDown, "-0.6", calibration.GoodCall},
		{storage.DirectionDown, "0.6", calibration.BadCall},
		{storage.DirectionDown, "-0.2", calibration.Neutral},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Grade(tt.direction, d(tt.change), band), "%s %s", tt.direction, tt.change)
	}
}

func TestFinalVerdictPriority(t *testing.T) {
	cp := func(g string) calibration.Checkpoint { return calibration.Checkpoint{Grade: g} }
	assert.Equal(t, calibration.Pending, FinalVerdict(nil))
	assert.Equal(t, calibration.Neutral, FinalVerdict(map[string]calibration.Checkpoint{calibration.After1Hr: cp(calibration.Neutral)}))
	assert.Equal(t, calibration.BadCall, FinalVerdict(map[string]calibration.Checkpoint{
		calibration.After1Hr:    cp(calibration.Neutral),
		calibration.NextSession: cp(calibration.BadCall),
	}))
	assert.Equal(t, calibration.GoodCall, FinalVerdict(map[string]calibration.Checkpoint{
		calibration.After1Hr:    cp(calibration.BadCall),
		calibration.NextSession: cp(calibration.GoodCall),
		calibration.After24Hr:   cp(calibration.Neutral),
	}))
}

func TestDueTimes(t *testing.T) {
	clock, loc := testClock(t)
	v := New(calibration.NewLog(filepath.Join(t.TempDir(), "c.jsonl")), &fixedQuotes{}, quotes.NewSymbols(nil, nil), clock, Options{NextSessionDelay: 30 * time.Minute}, zerolog.Nop())

	// Friday afternoon: next session is Monday
	created := time.Date(2025, 1, 10, 14, 0, 0, 0, loc)
	e := calibration.Entry{CreatedAt: created, Ticker: "TCS.NS"}

	due, err := v.DueAt(e, calibration.After1Hr)
	require.NoError(t, err)
	assert.True(t, due.Equal(created.Add(time.Hour)))

	due, err = v.DueAt(e, calibration.NextSession)
	require.NoError(t, err)
	assert.True(t, due.Equal(time.Date(2025, 1, 13, 9, 45, 0, 0, loc)))

	_, err = v.DueAt(e, "later")
	assert.Error(t, err)
}

func TestRunDueGradesAndRewritesOnce(t *testing.T) {
	clock, loc := testClock(t)
	log := calibration.NewLog(filepath.Join(t.TempDir(), "calibration.jsonl"))
	created := time.Date(2025, 1, 6, 10, 0, 0, 0, loc)

	require.NoError(t, log.Append(calibration.Entry{ID: "up", CreatedAt: created, Ticker: "TCS.NS", Direction: storage.DirectionUp, Market: calibration.MarketState{Price: d("100")}}))
	require.NoError(t, log.Append(calibration.Entry{ID: "old", CreatedAt: created.Add(-120 * time.Hour), Ticker: "TCS.NS", Direction: storage.DirectionUp, Market: calibration.MarketState{Price: d("100")}}))

	q := &fixedQuotes{price: d("101")}
	now := created.Add(90 * time.Minute)
	v := New(log, q, quotes.NewSymbols(nil, []string{".NS", ".BO"}), clock, Options{Now: func() time.Time { return now }}, zerolog.Nop())

	report, err := v.RunDue(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, report.Graded)
	assert.Equal(t, 1, report.Abandoned)
	assert.Equal(t, 1, q.calls)

	entries, err := log.ReadAll()
	require.NoError(t, err)
	require.Len(t, entries, 2)
	up := entries[0]
	require.Contains(t, up.Checkpoints, calibration.After1Hr)
	assert.NotContains(t, up.Checkpoints, calibration.NextSession)
	assert.Equal(t, calibration.GoodCall, up.Checkpoints[calibration.After1Hr].Grade)
	assert.Equal(t, calibration.GoodCall, up.FinalVerdict)
	assert.True(t, entries[1].Abandoned)
	assert.Equal(t, calibration.Pending, entries[1].FinalVerdict)

	// a second pass at the same instant has nothing left to do
	report, err = v.RunDue(context.Background())
	require.NoError(t, err)
	assert.Zero(t, report.Graded)
	assert.Equal(t, 1, q.calls)
}

func TestCheckSingleCheckpoint(t *testing.T) {
	clock, _ := testClock(t)
	q := &fixedQuotes{price: d("98")}
	v := New(calibration.NewLog(filepath.Join(t.TempDir(), "c.jsonl")), q, quotes.NewSymbols(nil, nil), clock, Options{}, zerolog.Nop())

	e := calibration.Entry{Ticker: "X.NS", Direction: storage.DirectionUp, Market: calibration.MarketState{Price: d("100")}}
	require.NoError(t, v.Check(context.Background(), &e, calibration.After24Hr))
	assert.Equal(t, calibration.BadCall, e.Checkpoints[calibration.After24Hr].Grade)
	assert.Equal(t, calibration.BadCall, e.FinalVerdict)
}
