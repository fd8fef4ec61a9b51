package storage

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleCatalyst(created time.Time) PotentialCatalyst {
	return PotentialCatalyst{
		ImpactText:      "Export ban lifts palm oil refiners",
		AffectedTickers: []string{"ADANIENT.NS"},
		Criteria: WatchCriteria{
			Metric:       MetricPrice,
			Direction:    DirectionUp,
			ThresholdPct: decimal.NewFromInt(2),
			TimeoutHours: 24,
		},
		Status:    StatusMonitoring,
		CreatedAt: created,
		UpdatedAt: created,
	}
}

func TestUpsertProcessedArticleIsIdempotent(t *testing.T) {
	ctx := context.Background()
	mem := NewMemory()
	now := time.Date(2025, 1, 6, 10, 0, 0, 0, time.UTC)

	a := ProcessedArticle{Link: "https://example.com/a", Title: "A", ProcessedAt: now, Analysis: json.RawMessage(`{}`)}
	require.NoError(t, mem.UpsertProcessedArticle(ctx, a))
	require.NoError(t, mem.UpsertProcessedArticle(ctx, a))
	assert.Equal(t, 1, mem.ArticleCount())

	seen, err := mem.FilterProcessed(ctx, []string{"https://example.com/a", "https://example.com/b"})
	require.NoError(t, err)
	assert.True(t, seen["https://example.com/a"])
	assert.False(t, seen["https://example.com/b"])
}

func TestUpsertProcessedArticleKeepsCatalystFlag(t *testing.T) {
	ctx := context.Background()
	mem := NewMemory()
	now := time.Date(2025, 1, 6, 10, 0, 0, 0, time.UTC)

	require.NoError(t, mem.UpsertProcessedArticle(ctx, ProcessedArticle{Link: "l", IsCatalyst: true, ProcessedAt: now}))
	require.NoError(t, mem.UpsertProcessedArticle(ctx, ProcessedArticle{Link: "l", IsCatalyst: false, Title: "retitled", ProcessedAt: now.Add(time.Hour)}))

	got, err := mem.GetProcessedArticle(ctx, "l")
	require.NoError(t, err)
	assert.True(t, got.IsCatalyst)
	assert.Equal(t, "retitled", got.Title)
}

func TestDeleteCatalystsClearsSignalReference(t *testing.T) {
	ctx := context.Background()
	mem := NewMemory()
	now := time.Date(2025, 1, 6, 10, 0, 0, 0, time.UTC)

	c := sampleCatalyst(now)
	require.NoError(t, mem.InsertCatalyst(ctx, &c))
	require.NotEmpty(t, c.ID)

	sig := CatalystSignal{CatalystID: &c.ID, Ticker: "ADANIENT.NS", Status: SignalActive, CreatedAt: now, ExpiresAt: now.Add(48 * time.Hour)}
	require.NoError(t, mem.InsertSignal(ctx, &sig))

	require.NoError(t, mem.DeleteCatalysts(ctx, []string{c.ID}))

	_, err := mem.GetCatalyst(ctx, c.ID)
	assert.ErrorIs(t, err, ErrNotFound)

	got, err := mem.GetSignal(ctx, sig.ID)
	require.NoError(t, err)
	assert.Nil(t, got.CatalystID)
}

func TestListCatalystsNewestFirst(t *testing.T) {
	ctx := context.Background()
	mem := NewMemory()
	base := time.Date(2025, 1, 6, 10, 0, 0, 0, time.UTC)

	for i := 0; i < 3; i++ {
		c := sampleCatalyst(base.Add(time.Duration(i) * time.Hour))
		require.NoError(t, mem.InsertCatalyst(ctx, &c))
	}

	list, err := mem.ListCatalysts(ctx, CatalystFilter{Status: StatusMonitoring, Limit: 2})
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.True(t, list[0].CreatedAt.After(list[1].CreatedAt))

	none, err := mem.ListCatalysts(ctx, CatalystFilter{Ticker: "TCS.NS"})
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestExpireCatalystsBefore(t *testing.T) {
	ctx := context.Background()
	mem := NewMemory()
	now := time.Date(2025, 1, 8, 10, 0, 0, 0, time.UTC)

	old := sampleCatalyst(now.Add(-49 * time.Hour))
	fresh := sampleCatalyst(now.Add(-47 * time.Hour))
	require.NoError(t, mem.InsertCatalyst(ctx, &old))
	require.NoError(t, mem.InsertCatalyst(ctx, &fresh))

	n, err := mem.ExpireCatalystsBefore(ctx, now.Add(-48*time.Hour), now)
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)

	got, err := mem.GetCatalyst(ctx, old.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusExpired, got.Status)
}

func TestTransitions(t *testing.T) {
	ctx := context.Background()
	mem := NewMemory()
	now := time.Date(2025, 1, 6, 10, 0, 0, 0, time.UTC)

	c := sampleCatalyst(now)
	require.NoError(t, mem.InsertCatalyst(ctx, &c))
	require.NoError(t, mem.TransitionCatalyst(ctx, c.ID, StatusInvalidated, now))
	assert.ErrorIs(t, mem.TransitionCatalyst(ctx, c.ID, StatusConfirmed, now), ErrInvalidTransition)
	assert.ErrorIs(t, mem.TransitionCatalyst(ctx, "missing", StatusConfirmed, now), ErrNotFound)

	sig := CatalystSignal{Ticker: "X", Status: SignalActive, CreatedAt: now, ExpiresAt: now.Add(time.Hour)}
	require.NoError(t, mem.InsertSignal(ctx, &sig))
	assert.ErrorIs(t, mem.TransitionSignal(ctx, sig.ID, SignalActive, "", now), ErrInvalidTransition)
	require.NoError(t, mem.TransitionSignal(ctx, sig.ID, SignalActed, "bought", now))

	got, err := mem.GetSignal(ctx, sig.ID)
	require.NoError(t, err)
	assert.Equal(t, SignalActed, got.Status)
	assert.Equal(t, "bought", got.Notes)
	require.NotNil(t, got.ActedAt)
	assert.ErrorIs(t, mem.TransitionSignal(ctx, sig.ID, SignalDismissed, "", now), ErrInvalidTransition)
}

func TestUpsertAssetKeepsIdentity(t *testing.T) {
	ctx := context.Background()
	mem := NewMemory()

	a := WatchlistAsset{Keyword: "crude oil", Ticker: "ONGC.NS", AssetType: AssetCommodity, Enabled: true}
	require.NoError(t, mem.UpsertAsset(ctx, &a))
	firstID := a.ID

	b := WatchlistAsset{Keyword: "crude oil", Ticker: "ONGC.NS", RelatedTickers: []string{"OIL.NS"}, Enabled: true}
	require.NoError(t, mem.UpsertAsset(ctx, &b))
	assert.Equal(t, firstID, b.ID)

	found, err := mem.FindAssetByTicker(ctx, "OIL.NS")
	require.NoError(t, err)
	assert.Equal(t, "crude oil", found.Keyword)

	_, err = mem.FindAssetByTicker(ctx, "TCS.NS")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestAdvisoryLockIsExclusive(t *testing.T) {
	mem := NewMemory()
	unlock, ok, err := mem.TryAdvisoryLock(context.Background(), 7)
	require.NoError(t, err)
	require.True(t, ok)

	_, again, err := mem.TryAdvisoryLock(context.Background(), 7)
	require.NoError(t, err)
	assert.False(t, again)

	unlock()
	_, ok, err = mem.TryAdvisoryLock(context.Background(), 7)
	require.NoError(t, err)
	assert.True(t, ok)
}
