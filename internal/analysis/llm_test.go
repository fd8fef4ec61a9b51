package analysis

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"catalyst-catcher/internal/news"
	"catalyst-catcher/internal/storage"
)

type scriptedCompleter struct {
	reply   string
	err     error
	prompts []string
}

func (s *scriptedCompleter) Complete(ctx context.Context, _ string, prompt string) (string, error) {
	s.prompts = append(s.prompts, prompt)
	if _, ok := ctx.Deadline(); !ok {
		return "", errors.New("expected a deadline")
	}
	return s.reply, s.err
}

func testArticles() []news.Article {
	return []news.Article{
		{Title: "OPEC cuts output", Link: "https://example.com/1", Source: "Wire", PublishedAt: time.Date(2025, 1, 6, 4, 0, 0, 0, time.UTC)},
		{Title: "Refiners rally", Link: "https://example.com/2"},
	}
}

func newTestAnalyzer(c Completer) *LLMAnalyzer {
	return NewLLMAnalyzer(c, LLMOptions{Timeout: time.Second, DefaultThresholdPct: decimal.NewFromInt(3), DefaultTimeoutHours: 24}, zerolog.Nop())
}

func TestAssessParsesFencedReply(t *testing.T) {
	reply := "Here you go:\n```json\n" + `{
  "updates": [
    {"id": "keep", "impact": "Cut deepens", "affectedTickers": ["ongc.ns"], "confidence": "12", "sentiment": "positive", "citations": [2, 9]},
    {"id": "invented", "impact": "Should be dropped"}
  ],
  "newCatalysts": [
    {"impact": "Upstream producers gain", "affectedTickers": [], "confidence": 0, "sentiment": "BEARISH", "citations": [1],
     "watch": {"metric": "price", "thresholdPercent": "-2.5", "timeoutHours": 0}}
  ]
}` + "\n```"
	c := &scriptedCompleter{reply: reply}
	a := newTestAnalyzer(c)

	out, err := a.Assess(context.Background(), AssessRequest{
		Topic:    "crude oil",
		Ticker:   "ONGC.NS",
		Articles: testArticles(),
		Existing: []ExistingHypothesis{{ID: "keep", AgeHours: 5, Impact: "Cut expected"}},
		Posture:  "open",
	})
	require.NoError(t, err)

	require.Len(t, out.Updates, 1)
	u := out.Updates[0]
	assert.Equal(t, "keep", u.ID)
	assert.Equal(t, []string{"ONGC.NS"}, u.AffectedTickers)
	assert.Equal(t, 10, u.Confidence)
	assert.Equal(t, storage.SentimentBullish, u.Sentiment)
	require.Len(t, u.Citations, 1)
	assert.Equal(t, "https://example.com/2", u.Citations[0].Link)

	require.Len(t, out.NewCatalysts, 1)
	p := out.NewCatalysts[0]
	assert.Equal(t, []string{"ONGC.NS"}, p.AffectedTickers)
	assert.Equal(t, 1, p.Confidence)
	assert.Equal(t, storage.MetricPrice, p.Criteria.Metric)
	assert.Equal(t, storage.DirectionDown, p.Criteria.Direction)
	assert.True(t, p.Criteria.ThresholdPct.Equal(decimal.RequireFromString("2.5")))
	assert.Equal(t, 24, p.Criteria.TimeoutHours)
	assert.NotEmpty(t, out.Raw)

	require.Len(t, c.prompts, 1)
	assert.Contains(t, c.prompts[0], "[1] OPEC cuts output (Wire)")
	assert.Contains(t, c.prompts[0], "id=keep age=5h")
	assert.Contains(t, c.prompts[0], "Market posture: open")
}

func TestAssessMalformedReplyIsEmpty(t *testing.T) {
	for _, reply := range []string{"I cannot help with that.", `{"updates": [`, `{"updates": "nope"}`} {
		a := newTestAnalyzer(&scriptedCompleter{reply: reply})
		out, err := a.Assess(context.Background(), AssessRequest{Topic: "Y", Ticker: "Y"})
		require.NoError(t, err, reply)
		assert.True(t, out.Empty(), reply)
	}
}

func TestAssessPropagatesTransportError(t *testing.T) {
	a := newTestAnalyzer(&scriptedCompleter{err: errors.New("503")})
	_, err := a.Assess(context.Background(), AssessRequest{Topic: "Y"})
	require.Error(t, err)
	assert.True(t, strings.Contains(err.Error(), "503"))
}

func TestSynthesizeClamps(t *testing.T) {
	a := newTestAnalyzer(&scriptedCompleter{reply: `{"shouldUpdate": true, "thesis": "Supply squeeze lifts margins.", "sentiment": "bullish", "potentialScore": 42, "confidence": -3}`})
	out, err := a.Synthesize(context.Background(), SynthesisRequest{Ticker: "ONGC.NS", Articles: testArticles()})
	require.NoError(t, err)
	assert.True(t, out.ShouldUpdate)
	assert.Equal(t, 10, out.PotentialScore)
	assert.Equal(t, 1, out.Confidence)
	assert.Equal(t, storage.SentimentBullish, out.Sentiment)

	a = newTestAnalyzer(&scriptedCompleter{reply: `{"shouldUpdate": true, "thesis": "  ", "potentialScore": -11}`})
	out, err = a.Synthesize(context.Background(), SynthesisRequest{Ticker: "X"})
	require.NoError(t, err)
	assert.False(t, out.ShouldUpdate)
	assert.Equal(t, -10, out.PotentialScore)
}

func TestSynthesizeClampsHugeValues(t *testing.T) {
	a := newTestAnalyzer(&scriptedCompleter{reply: `{"shouldUpdate": true, "thesis": "x", "potentialScore": 1e20, "confidence": 1e30}`})
	out, err := a.Synthesize(context.Background(), SynthesisRequest{Ticker: "X"})
	require.NoError(t, err)
	assert.Equal(t, 10, out.PotentialScore)
	assert.Equal(t, 10, out.Confidence)

	a = newTestAnalyzer(&scriptedCompleter{reply: `{"shouldUpdate": true, "thesis": "x", "potentialScore": -1e20, "confidence": "Inf"}`})
	out, err = a.Synthesize(context.Background(), SynthesisRequest{Ticker: "X"})
	require.NoError(t, err)
	assert.Equal(t, -10, out.PotentialScore)
	assert.Equal(t, 1, out.Confidence)
}

func TestAssessUpdateWithoutConfidenceKeepsZero(t *testing.T) {
	a := newTestAnalyzer(&scriptedCompleter{reply: `{"updates": [{"id": "keep", "impact": "Revised"}, {"id": "other", "impact": "Raised", "confidence": 40}]}`})
	out, err := a.Assess(context.Background(), AssessRequest{
		Topic:    "Y",
		Ticker:   "Y",
		Existing: []ExistingHypothesis{{ID: "keep"}, {ID: "other"}},
	})
	require.NoError(t, err)
	require.Len(t, out.Updates, 2)
	assert.Equal(t, 0, out.Updates[0].Confidence)
	assert.Equal(t, 10, out.Updates[1].Confidence)
}

func TestExtractJSONHandlesBracesInStrings(t *testing.T) {
	got, err := extractJSON(`noise {"a": "x}y", "b": {"c": "\"}"}} trailing {"z":1}`)
	require.NoError(t, err)
	assert.Equal(t, `{"a": "x}y", "b": {"c": "\"}"}}`, string(got))

	_, err = extractJSON("no json here")
	assert.Error(t, err)
}

func TestConstructorsRequireKey(t *testing.T) {
	_, err := NewClaudeCompleter(ClaudeOptions{})
	assert.ErrorIs(t, err, ErrNotConfigured)
	_, err = NewGeminiCompleter(context.Background(), GeminiOptions{})
	assert.ErrorIs(t, err, ErrNotConfigured)
}
