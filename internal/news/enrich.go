package news

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
	"unicode/utf8"

	md "github.com/JohannesKaufmann/html-to-markdown"
	"github.com/PuerkitoBio/goquery"
	"github.com/rs/zerolog"
)

// ContentTypeMarkdown marks enriched article bodies.
const ContentTypeMarkdown = "text/markdown"

// Enricher fetches article pages and stores their main body as markdown.
type Enricher struct {
	client    *http.Client
	maxBytes  int
	userAgent string
	logger    zerolog.Logger
}

// NewEnricher builds an enricher; maxBytes caps the stored content.
func NewEnricher(timeout time.Duration, maxBytes int, userAgent string, logger zerolog.Logger) *Enricher {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	if maxBytes <= 0 {
		maxBytes = 20000
	}
	return &Enricher{
		client:    &http.Client{Timeout: timeout},
		maxBytes:  maxBytes,
		userAgent: userAgent,
		logger:    logger.With().Str("component", "news_enricher").Logger(),
	}
}

// Enrich fills a.Content with the page body converted to markdown.
func (e *Enricher) Enrich(ctx context.Context, a *Article) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, a.Link, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "text/html")
	if e.userAgent != "" {
		req.Header.Set("User-Agent", e.userAgent)
	}
	resp, err := e.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("fetch article (%d)", resp.StatusCode)
	}

	// bound the parse, pages can be huge
	body, err := io.ReadAll(io.LimitReader(resp.Body, int64(e.maxBytes)*20))
	if err != nil {
		return err
	}
	markdown, err := e.toMarkdown(string(body), a.Link)
	if err != nil {
		return err
	}
	if markdown == "" {
		return nil
	}
	a.Content = truncateUTF8(markdown, e.maxBytes)
	a.ContentType = ContentTypeMarkdown
	return nil
}

func (e *Enricher) toMarkdown(html, link string) (string, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return "", fmt.Errorf("parse html: %w", err)
	}
	doc.Find("script, style, nav, footer, aside, form, iframe, noscript").Remove()

	content := doc.Find("article").First()
	if content.Length() == 0 {
		content = doc.Find("main, [role=main], #content, .content").First()
	}
	if content.Length() == 0 {
		content = doc.Find("body")
	}
	fragment, err := goquery.OuterHtml(content)
	if err != nil {
		return "", fmt.Errorf("render html: %w", err)
	}

	domain := ""
	if u, err := url.Parse(link); err == nil {
		domain = u.Host
	}
	converted, err := md.NewConverter(domain, true, nil).ConvertString(fragment)
	if err != nil {
		return "", fmt.Errorf("convert markdown: %w", err)
	}
	return strings.TrimSpace(converted), nil
}

func truncateUTF8(s string, max int) string {
	if len(s) <= max {
		return s
	}
	cut := max
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut]
}
