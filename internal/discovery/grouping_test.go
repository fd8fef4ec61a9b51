package discovery

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"catalyst-catcher/internal/news"
	"catalyst-catcher/internal/storage"
)

func tickersOf(groups []Group) map[string][]string {
	out := make(map[string][]string, len(groups))
	for _, g := range groups {
		for _, a := range g.Articles {
			out[g.Ticker] = append(out[g.Ticker], a.Link)
		}
	}
	return out
}

func TestGroupArticles(t *testing.T) {
	assets := []storage.WatchlistAsset{
		{Keyword: "crude oil", Ticker: "ONGC.NS", Enabled: true},
		{Keyword: "monsoon", RelatedTickers: []string{"ITC.NS", "DABUR.NS"}, Enabled: true},
		{Keyword: "Infosys", Ticker: "INFY.NS", Enabled: true},
		{Keyword: "copper", Ticker: "HINDCOPPER.NS", Enabled: false},
	}
	articles := []news.Article{
		{Title: "Crude Oil slips after OPEC meeting", Link: "a"},
		{Title: "Monsoon forecast lifts rural demand", Link: "b"},
		{Title: "INFY beats estimates", Link: "c"},
		{Title: "ITC.NS hits record high", Link: "d"},
		{Title: "Crudeoil futures and infosysbiz mentions", Link: "e"},
		{Title: "infosys wins crude oil analytics deal", Link: "f"},
		{Title: "Copper rallies", Link: "g"},
	}

	groups := GroupArticles(articles, assets, testSymbols())
	got := tickersOf(groups)

	assert.Equal(t, []string{"a", "f"}, got["ONGC.NS"])
	assert.Equal(t, []string{"b", "d"}, got["ITC.NS"])
	assert.Equal(t, []string{"b"}, got["DABUR.NS"])
	assert.Equal(t, []string{"c", "f"}, got["INFY.NS"])
	assert.NotContains(t, got, "HINDCOPPER.NS")

	require.NotEmpty(t, groups)
	assert.Equal(t, "ONGC.NS", groups[0].Ticker)
	assert.Equal(t, "crude oil", groups[0].Topic)
}

func TestGroupArticlesDedupsLinks(t *testing.T) {
	assets := []storage.WatchlistAsset{
		{Keyword: "steel", Ticker: "TATASTEEL.NS", Enabled: true},
		{Keyword: "tariff", Ticker: "TATASTEEL.NS", Enabled: true},
	}
	articles := []news.Article{{Title: "Steel tariff widened", Link: "a"}}

	groups := GroupArticles(articles, assets, testSymbols())
	require.Len(t, groups, 1)
	assert.Len(t, groups[0].Articles, 1)
}

func TestGroupArticlesTickerCaseSensitive(t *testing.T) {
	assets := []storage.WatchlistAsset{{Keyword: "telecom spectrum", Ticker: "IDEA.NS", Enabled: true}}
	articles := []news.Article{
		{Title: "A bright idea for savers", Link: "a"},
		{Title: "IDEA shares jump", Link: "b"},
	}
	got := tickersOf(GroupArticles(articles, assets, testSymbols()))
	assert.Equal(t, []string{"b"}, got["IDEA.NS"])
}

func TestGroupArticlesNoMatch(t *testing.T) {
	assets := []storage.WatchlistAsset{{Keyword: "gold", Ticker: "GOLDBEES.NS", Enabled: true}}
	assert.Empty(t, GroupArticles([]news.Article{{Title: "Rates on hold", Link: "a"}}, assets, testSymbols()))
}
