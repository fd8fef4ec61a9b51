// Package discovery turns grouped news into potential catalysts and keeps one open hypothesis per ticker.
package discovery

import (
	"regexp"
	"strings"

	"catalyst-catcher/internal/news"
	"catalyst-catcher/internal/quotes"
	"catalyst-catcher/internal/storage"
)

// Group is the set of articles that mention one ticker this cycle.
type Group struct {
	Ticker   string
	Topic    string
	Articles []news.Article
}

type assetMatcher struct {
	asset   storage.WatchlistAsset
	keyword *regexp.Regexp
	primary []*regexp.Regexp
	related map[string][]*regexp.Regexp
}

// GroupArticles places each article in the group of every ticker it matches. Rules, in order:
// keyword phrase (case-insensitive whole word) selects the primary ticker, or every related
// ticker for topics without one; a primary ticker mention with or without its exchange suffix
// selects the primary ticker; a related ticker mention selects that related ticker.
// Groups come back in first-match order.
func GroupArticles(articles []news.Article, assets []storage.WatchlistAsset, symbols *quotes.Symbols) []Group {
	matchers := make([]assetMatcher, 0, len(assets))
	for _, a := range assets {
		if !a.Enabled {
			continue
		}
		matchers = append(matchers, newAssetMatcher(a, symbols))
	}

	var order []string
	groups := make(map[string]*Group)
	seen := make(map[string]map[string]bool)

	add := func(ticker, topic string, art news.Article) {
		g, ok := groups[ticker]
		if !ok {
			g = &Group{Ticker: ticker, Topic: topic}
			groups[ticker] = g
			seen[ticker] = make(map[string]bool)
			order = append(order, ticker)
		}
		if seen[ticker][art.Link] {
			return
		}
		seen[ticker][art.Link] = true
		g.Articles = append(g.Articles, art)
	}

	for _, art := range articles {
		text := art.MatchText()
		for _, m := range matchers {
			for _, ticker := range m.match(text) {
				add(ticker, m.asset.Keyword, art)
			}
		}
	}

	out := make([]Group, 0, len(order))
	for _, t := range order {
		out = append(out, *groups[t])
	}
	return out
}

func newAssetMatcher(a storage.WatchlistAsset, symbols *quotes.Symbols) assetMatcher {
	m := assetMatcher{asset: a, related: make(map[string][]*regexp.Regexp)}
	if kw := strings.TrimSpace(a.Keyword); kw != "" {
		m.keyword = regexp.MustCompile(`(?i)(?:^|[^\p{L}\p{N}])` + regexp.QuoteMeta(kw) + `(?:$|[^\p{L}\p{N}])`)
	}
	if a.Ticker != "" {
		m.primary = tickerPatterns(a.Ticker, symbols)
	}
	for _, r := range a.RelatedTickers {
		m.related[r] = tickerPatterns(r, symbols)
	}
	return m
}

// tickerPatterns matches the symbol itself and, when long enough to be meaningful, its bare base.
func tickerPatterns(ticker string, symbols *quotes.Symbols) []*regexp.Regexp {
	forms := []string{ticker}
	if base := symbols.Base(ticker); base != ticker && len(base) >= 2 {
		forms = append(forms, base)
	}
	out := make([]*regexp.Regexp, 0, len(forms))
	for _, f := range forms {
		out = append(out, regexp.MustCompile(`(?:^|[^A-Za-z0-9.^=&])`+regexp.QuoteMeta(f)+`(?:$|[^A-Za-z0-9&])`))
	}
	return out
}

func (m assetMatcher) match(text string) []string {
	var out []string
	push := func(t string) {
		for _, have := range out {
			if have == t {
				return
			}
		}
		out = append(out, t)
	}

	if m.keyword != nil && m.keyword.MatchString(text) {
		if m.asset.Ticker != "" {
			push(m.asset.Ticker)
		} else {
			for _, r := range m.asset.RelatedTickers {
				push(r)
			}
		}
	}
	if m.asset.Ticker != "" && anyMatch(m.primary, text) {
		push(m.asset.Ticker)
	}
	for _, r := range m.asset.RelatedTickers {
		if anyMatch(m.related[r], text) {
			push(r)
		}
	}
	return out
}

func anyMatch(patterns []*regexp.Regexp, text string) bool {
	for _, p := range patterns {
		if p.MatchString(text) {
			return true
		}
	}
	return false
}
