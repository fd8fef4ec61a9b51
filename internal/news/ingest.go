package news

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"catalyst-catcher/internal/storage"
)

// TextEnricher adds full-text content to an article.
type TextEnricher interface {
	Enrich(ctx context.Context, a *Article) error
}

// IngestorOptions tune a collection pass.
type IngestorOptions struct {
	Lookback       time.Duration
	BroadQueries   []string
	SourcePriority map[string]int
}

// Ingestor queries the provider and filters already-processed links.
type Ingestor struct {
	provider Provider
	ledger   storage.ArticleStore
	enricher TextEnricher
	opts     IngestorOptions
	logger   zerolog.Logger
}

// Batch is the output of one collection pass.
type Batch struct {
	Articles []Article
	Fetched  int
	Errors   []string
}

// NewIngestor wires a provider and ledger; enricher may be nil.
func NewIngestor(provider Provider, ledger storage.ArticleStore, enricher TextEnricher, opts IngestorOptions, logger zerolog.Logger) *Ingestor {
	priorities := make(map[string]int, len(opts.SourcePriority))
	for k, v := range opts.SourcePriority {
		priorities[strings.ToLower(strings.TrimSpace(k))] = v
	}
	opts.SourcePriority = priorities
	return &Ingestor{
		provider: provider,
		ledger:   ledger,
		enricher: enricher,
		opts:     opts,
		logger:   logger.With().Str("component", "ingestor").Logger(),
	}
}

// Collect searches every keyword and broad query, returning unseen articles
// ordered by source priority then recency. Per-query failures land in Batch.Errors.
func (i *Ingestor) Collect(ctx context.Context, keywords []string) (Batch, error) {
	var batch Batch
	queries := uniqueQueries(keywords, i.opts.BroadQueries)

	byLink := make(map[string]Article)
	for _, q := range queries {
		items, err := i.provider.Search(ctx, Query{Text: q, Lookback: i.opts.Lookback})
		if err != nil {
			i.logger.Warn().Err(err).Str("query", q).Msg("news search failed")
			batch.Errors = append(batch.Errors, fmt.Sprintf("news %q: %v", q, err))
			continue
		}
		batch.Fetched += len(items)
		for _, a := range items {
			if a.Link == "" {
				continue
			}
			a.Link = Canonicalize(a.Link)
			if _, dup := byLink[a.Link]; dup {
				continue
			}
			a.Priority = i.opts.SourcePriority[strings.ToLower(a.Source)]
			byLink[a.Link] = a
		}
	}
	if len(byLink) == 0 {
		return batch, nil
	}

	links := make([]string, 0, len(byLink))
	for l := range byLink {
		links = append(links, l)
	}
	seen, err := i.ledger.FilterProcessed(ctx, links)
	if err != nil {
		return batch, fmt.Errorf("filter processed articles: %w", err)
	}

	for link, a := range byLink {
		if seen[link] {
			continue
		}
		batch.Articles = append(batch.Articles, a)
	}
	sort.Slice(batch.Articles, func(x, y int) bool {
		ax, ay := batch.Articles[x], batch.Articles[y]
		if ax.Priority != ay.Priority {
			return ax.Priority > ay.Priority
		}
		if !ax.PublishedAt.Equal(ay.PublishedAt) {
			return ax.PublishedAt.After(ay.PublishedAt)
		}
		return ax.Link < ay.Link
	})

	if i.enricher != nil {
		for idx := range batch.Articles {
			if err := i.enricher.Enrich(ctx, &batch.Articles[idx]); err != nil {
				// enrichment is best effort, the headline is still usable
				i.logger.Debug().Err(err).Str("link", batch.Articles[idx].Link).Msg("enrichment failed")
			}
		}
	}

	i.logger.Info().
		Int("queries", len(queries)).
		Int("fetched", batch.Fetched).
		Int("new", len(batch.Articles)).
		Int("errors", len(batch.Errors)).
		Msg("news collected")
	return batch, nil
}

func uniqueQueries(keywords, broad []string) []string {
	seen := make(map[string]bool)
	var out []string
	for _, list := range [][]string{keywords, broad} {
		for _, q := range list {
			q = strings.TrimSpace(q)
			key := strings.ToLower(q)
			if q == "" || seen[key] {
				continue
			}
			seen[key] = true
			out = append(out, q)
		}
	}
	return out
}
