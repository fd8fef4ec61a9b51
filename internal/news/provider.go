// Package news retrieves, canonicalises and deduplicates candidate articles.
package news

import (
	"context"
	"net/url"
	"strings"
	"time"

	"catalyst-catcher/internal/storage"
)

// Article is an ingestion-time news record. Link is canonical and is the dedup key.
type Article struct {
	Title       string
	Link        string
	PublishedAt time.Time
	Source      string
	Query       string
	Priority    int
	Content     string
	ContentType string
}

// Ref converts the article into a persisted source reference.
func (a Article) Ref() storage.ArticleRef {
	return storage.ArticleRef{Title: a.Title, Link: a.Link, Source: a.Source, PublishedAt: a.PublishedAt}
}

// MatchText is the text grouping rules are evaluated against.
func (a Article) MatchText() string {
	if a.Source == "" {
		return a.Title
	}
	return a.Title + " " + a.Source
}

// Query is one search against a provider.
type Query struct {
	Text     string
	Lookback time.Duration
}

// Provider searches a news source. Zero results is not an error.
type Provider interface {
	Search(ctx context.Context, q Query) ([]Article, error)
}

var trackingParams = map[string]bool{
	"ref":     true,
	"fbclid":  true,
	"gclid":   true,
	"ocid":    true,
	"cmpid":   true,
	"ref_src": true,
}

// Canonicalize normalises a link so the same story dedups across feeds.
func Canonicalize(raw string) string {
	raw = strings.TrimSpace(raw)
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return raw
	}
	u.Scheme = strings.ToLower(u.Scheme)
	u.Host = strings.ToLower(u.Host)
	u.Fragment = ""
	u.RawFragment = ""

	q := u.Query()
	for key := range q {
		lk := strings.ToLower(key)
		if strings.HasPrefix(lk, "utm_") || trackingParams[lk] {
			q.Del(key)
		}
	}
	u.RawQuery = q.Encode()
	if u.Path != "/" {
		u.Path = strings.TrimRight(u.Path, "/")
	}
	return u.String()
}
