package news

import (
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"math"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

// GoogleNewsOptions parameterise the RSS search client.
type GoogleNewsOptions struct {
	BaseURL       string
	Locale        string
	Region        string
	Timeout       time.Duration
	RatePerMinute int
	UserAgent     string
	Now           func() time.Time
}

// GoogleNews searches the Google News RSS endpoint.
type GoogleNews struct {
	opts    GoogleNewsOptions
	logger  zerolog.Logger
	client  *http.Client
	limiter *rate.Limiter
	baseURL string
}

// NewGoogleNews constructs an RSS search provider.
func NewGoogleNews(opts GoogleNewsOptions, logger zerolog.Logger) *GoogleNews {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	baseURL := strings.TrimRight(opts.BaseURL, "/")
	if baseURL == "" {
		baseURL = "https://news.google.com/rss/search"
	}
	if opts.Locale == "" {
		opts.Locale = "en-IN"
	}
	if opts.Region == "" {
		opts.Region = "IN"
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	limit := rate.Inf
	if opts.RatePerMinute > 0 {
		limit = rate.Every(time.Minute / time.Duration(opts.RatePerMinute))
	}
	return &GoogleNews{
		opts:    opts,
		logger:  logger.With().Str("component", "news_provider").Logger(),
		client:  &http.Client{Timeout: timeout},
		limiter: rate.NewLimiter(limit, 1),
		baseURL: baseURL,
	}
}

// Search runs one query and returns the items inside the lookback window.
func (g *GoogleNews) Search(ctx context.Context, q Query) ([]Article, error) {
	text := strings.TrimSpace(q.Text)
	if text == "" {
		return nil, nil
	}
	if err := g.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	search := text
	if q.Lookback > 0 {
		hours := int(math.Ceil(q.Lookback.Hours()))
		search = fmt.Sprintf("%s when:%dh", text, hours)
	}
	lang := g.opts.Locale
	if i := strings.Index(lang, "-"); i > 0 {
		lang = lang[:i]
	}
	params := url.Values{}
	params.Set("q", search)
	params.Set("hl", g.opts.Locale)
	params.Set("gl", g.opts.Region)
	params.Set("ceid", g.opts.Region+":"+lang)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, g.baseURL+"?"+params.Encode(), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/rss+xml, application/xml")
	if ua := strings.TrimSpace(g.opts.UserAgent); ua != "" {
		req.Header.Set("User-Agent", ua)
	}

	resp, err := g.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("news search error (%d): %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var feed rssFeed
	if err := xml.Unmarshal(body, &feed); err != nil {
		return nil, fmt.Errorf("decode rss: %w", err)
	}

	now := g.opts.Now()
	out := make([]Article, 0, len(feed.Channel.Items))
	for _, item := range feed.Channel.Items {
		published, ok := parsePubDate(item.PubDate)
		if !ok {
			g.logger.Debug().Str("link", item.Link).Str("pub_date", item.PubDate).Msg("skip item with unparseable date")
			continue
		}
		if q.Lookback > 0 && published.Before(now.Add(-q.Lookback)) {
			continue
		}
		source := strings.TrimSpace(item.Source.Name)
		out = append(out, Article{
			Title:       cleanTitle(item.Title, source),
			Link:        Canonicalize(item.Link),
			PublishedAt: published.UTC(),
			Source:      source,
			Query:       text,
		})
	}

	g.logger.Debug().Str("query", text).Int("items", len(feed.Channel.Items)).Int("kept", len(out)).Msg("news search complete")
	return out, nil
}

type rssFeed struct {
	Channel struct {
		Items []rssItem `xml:"item"`
	} `xml:"channel"`
}

type rssItem struct {
	Title   string `xml:"title"`
	Link    string `xml:"link"`
	PubDate string `xml:"pubDate"`
	Source  struct {
		URL  string `xml:"url,attr"`
		Name string `xml:",chardata"`
	} `xml:"source"`
}

var pubDateLayouts = []string{time.RFC1123, time.RFC1123Z, time.RFC822, time.RFC822Z, time.RFC3339}

func parsePubDate(v string) (time.Time, bool) {
	v = strings.TrimSpace(v)
	for _, layout := range pubDateLayouts {
		if t, err := time.Parse(layout, v); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

// cleanTitle drops the " - Source" suffix aggregators append to headlines.
func cleanTitle(title, source string) string {
	title = strings.TrimSpace(title)
	if source != "" {
		title = strings.TrimSuffix(title, " - "+source)
	}
	return strings.TrimSpace(title)
}

var _ Provider = (*GoogleNews)(nil)
