package news

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"catalyst-catcher/internal/storage"
)

type fakeProvider struct {
	results map[string][]Article
	fail    map[string]error
	queries []Query
}

func (f *fakeProvider) Search(_ context.Context, q Query) ([]Article, error) {
	f.queries = append(f.queries, q)
	if err := f.fail[q.Text]; err != nil {
		return nil, err
	}
	return f.results[q.Text], nil
}

func TestCanonicalize(t *testing.T) {
	tests := []struct{ in, want string }{
		{"https://Example.COM/a/?utm_source=x&id=7#frag", "https://example.com/a?id=7"},
		{"https://example.com/a?fbclid=1", "https://example.com/a"},
		{"  https://example.com/  ", "https://example.com/"},
		{"not a url", "not a url"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Canonicalize(tt.in), tt.in)
	}
}

func TestCollectDedupsAndRecordsErrors(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2025, 1, 6, 6, 0, 0, 0, time.UTC)
	ledger := storage.NewMemory()
	require.NoError(t, ledger.UpsertProcessedArticle(ctx, storage.ProcessedArticle{Link: "https://example.com/seen", ProcessedAt: now}))

	p := &fakeProvider{
		results: map[string][]Article{
			"crude oil": {
				{Title: "Old news", Link: "https://example.com/seen", PublishedAt: now},
				{Title: "Crude up", Link: "https://example.com/crude?utm_medium=rss", Source: "Wire", PublishedAt: now.Add(-time.Hour)},
			},
			"markets": {
				{Title: "Crude up again", Link: "https://example.com/crude", Source: "Wire", PublishedAt: now},
				{Title: "Premium take", Link: "https://example.com/premium", Source: "Mint", PublishedAt: now.Add(-2 * time.Hour)},
			},
		},
		fail: map[string]error{"gold": errors.New("timeout")},
	}

	ing := NewIngestor(p, ledger, nil, IngestorOptions{
		Lookback:       6 * time.Hour,
		BroadQueries:   []string{"markets", "Crude Oil"},
		SourcePriority: map[string]int{"mint": 5},
	}, zerolog.Nop())

	batch, err := ing.Collect(ctx, []string{"crude oil", "gold"})
	require.NoError(t, err)

	assert.Len(t, p.queries, 3)
	assert.Equal(t, 6*time.Hour, p.queries[0].Lookback)
	assert.Equal(t, 4, batch.Fetched)
	require.Len(t, batch.Errors, 1)
	assert.Contains(t, batch.Errors[0], "gold")

	require.Len(t, batch.Articles, 2)
	assert.Equal(t, "https://example.com/premium", batch.Articles[0].Link)
	assert.Equal(t, 5, batch.Articles[0].Priority)
	assert.Equal(t, "https://example.com/crude", batch.Articles[1].Link)
	assert.Equal(t, "Crude up", batch.Articles[1].Title)
}
