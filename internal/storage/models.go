package storage

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"
)

// Catalyst statuses.
const (
	StatusMonitoring  = "monitoring"
	StatusConfirmed   = "confirmed"
	StatusInvalidated = "invalidated"
	StatusExpired     = "expired"
)

// Signal statuses.
const (
	SignalActive            = "active"
	SignalPendingMarketOpen = "pending_market_open"
	SignalActed             = "acted"
	SignalExpired           = "expired"
	SignalDismissed         = "dismissed"
)

// Base price capture states.
const (
	BasePriceDiscovery       = "discovery"
	BasePricePendingNextOpen = "pending_next_open"
	BasePriceNextOpen        = "next_open"
)

// Watch criteria vocabulary.
const (
	MetricPrice   = "PRICE"
	MetricVolume  = "VOLUME"
	DirectionUp   = "UP"
	DirectionDown = "DOWN"
)

// Signal actions.
const (
	ActionBuyWatch  = "BUY_WATCH"
	ActionSellWatch = "SELL_WATCH"
)

// Sentiment labels.
const (
	SentimentBullish = "BULLISH"
	SentimentBearish = "BEARISH"
	SentimentNeutral = "NEUTRAL"
)

// Asset types.
const (
	AssetCommodity   = "commodity"
	AssetEquity      = "equity"
	AssetETF         = "etf"
	AssetCurrency    = "currency"
	AssetGlobalTopic = "global_topic"
)

// WatchlistAsset is one topic the ingestion watches for.
type WatchlistAsset struct {
	ID               string    `yaml:"-" json:"id"`
	Keyword          string    `yaml:"keyword" json:"keyword" validate:"required"`
	Ticker           string    `yaml:"ticker" json:"ticker,omitempty"`
	AssetType        string    `yaml:"type" json:"type" validate:"omitempty,oneof=commodity equity etf currency global_topic"`
	RelatedTickers   []string  `yaml:"related_tickers" json:"related_tickers,omitempty"`
	ValidationTicker string    `yaml:"validation_ticker" json:"validation_ticker,omitempty"`
	SourceTrust      string    `yaml:"source_trust" json:"source_trust,omitempty"`
	Enabled          bool      `yaml:"enabled" json:"enabled"`
	CreatedAt        time.Time `yaml:"-" json:"created_at"`
}

// Tickers lists the primary ticker followed by related tickers.
func (a WatchlistAsset) Tickers() []string {
	out := make([]string, 0, 1+len(a.RelatedTickers))
	if a.Ticker != "" {
		out = append(out, a.Ticker)
	}
	return append(out, a.RelatedTickers...)
}

// WatchCriteria defines when a hypothesis is confirmed.
type WatchCriteria struct {
	Metric       string          `json:"metric"`
	Direction    string          `json:"direction"`
	ThresholdPct decimal.Decimal `json:"threshold_pct"`
	TimeoutHours int             `json:"timeout_hours"`
}

// ArticleRef points back at a source article.
type ArticleRef struct {
	Title       string    `json:"title"`
	Link        string    `json:"link"`
	Source      string    `json:"source,omitempty"`
	PublishedAt time.Time `json:"published_at"`
}

// Citation ties a claim to a numbered article in the prompt.
type Citation struct {
	Index int    `json:"index"`
	Title string `json:"title"`
	Link  string `json:"link"`
}

// ValidationEntry is one market check of a hypothesis.
type ValidationEntry struct {
	CheckedAt   time.Time        `json:"checked_at"`
	Ticker      string           `json:"ticker"`
	Price       decimal.Decimal  `json:"price"`
	BasePrice   *decimal.Decimal `json:"base_price,omitempty"`
	ChangePct   decimal.Decimal  `json:"change_pct"`
	VolumeRatio decimal.Decimal  `json:"volume_ratio"`
	Met         bool             `json:"met"`
}

// PotentialCatalyst is an unconfirmed hypothesis that news will move a ticker.
type PotentialCatalyst struct {
	ID              string        `json:"id"`
	ImpactText      string        `json:"impact_text"`
	AffectedTickers []string      `json:"affected_tickers"`
	Sources         []ArticleRef  `json:"sources"`
	Citations       []Citation    `json:"citations,omitempty"`
	Criteria        WatchCriteria `json:"criteria"`

	PrimaryTicker  string `json:"primary_ticker,omitempty"`
	Thesis         string `json:"thesis,omitempty"`
	Sentiment      string `json:"sentiment"`
	PotentialScore *int   `json:"potential_score,omitempty"`
	Confidence     int    `json:"confidence"`

	BasePrice      *decimal.Decimal `json:"base_price,omitempty"`
	BaseTicker     string           `json:"base_ticker,omitempty"`
	BaseRecordedAt *time.Time       `json:"base_recorded_at,omitempty"`
	BasePriceState string           `json:"base_price_state,omitempty"`

	Status        string            `json:"status"`
	ValidationLog []ValidationEntry `json:"validation_log"`

	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
}

// HasTicker reports whether the hypothesis lists ticker among its affected symbols.
func (c PotentialCatalyst) HasTicker(ticker string) bool {
	for _, t := range c.AffectedTickers {
		if t == ticker {
			return true
		}
	}
	return false
}

// ReferenceTicker is the symbol used for base price capture.
func (c PotentialCatalyst) ReferenceTicker() string {
	if c.PrimaryTicker != "" {
		return c.PrimaryTicker
	}
	if len(c.AffectedTickers) > 0 {
		return c.AffectedTickers[0]
	}
	return ""
}

// Age returns how long the hypothesis has existed at now.
func (c PotentialCatalyst) Age(now time.Time) time.Duration {
	return now.Sub(c.CreatedAt)
}

// TimedOut reports whether the hypothesis outlived its own watch timeout.
func (c PotentialCatalyst) TimedOut(now time.Time) bool {
	if c.Criteria.TimeoutHours <= 0 {
		return false
	}
	return c.Age(now) > time.Duration(c.Criteria.TimeoutHours)*time.Hour
}

// NewsSnapshot freezes the triggering news item.
type NewsSnapshot struct {
	Title       string    `json:"title"`
	Link        string    `json:"link"`
	Source      string    `json:"source,omitempty"`
	PublishedAt time.Time `json:"published_at"`
}

// AnalysisSnapshot freezes the analysis result behind a signal.
type AnalysisSnapshot struct {
	ImpactType string `json:"impact_type"`
	Sentiment  string `json:"sentiment"`
	Confidence int    `json:"confidence"`
	Reasoning  string `json:"reasoning"`
}

// MarketSnapshot freezes the market confirmation behind a signal.
type MarketSnapshot struct {
	Price       decimal.Decimal `json:"price"`
	ChangePct   decimal.Decimal `json:"change_pct"`
	VolumeRatio decimal.Decimal `json:"volume_ratio"`
	VolumeSpike bool            `json:"volume_spike"`
}

// CatalystSignal is an actionable, confirmed event.
type CatalystSignal struct {
	ID         string           `json:"id"`
	CatalystID *string          `json:"catalyst_id,omitempty"`
	Keyword    string           `json:"keyword"`
	Ticker     string           `json:"ticker"`
	Action     string           `json:"action"`
	Direction  string           `json:"direction"`
	News       NewsSnapshot     `json:"news"`
	Analysis   AnalysisSnapshot `json:"analysis"`
	Market     MarketSnapshot   `json:"market"`
	Status     string           `json:"status"`
	CreatedAt  time.Time        `json:"created_at"`
	ExpiresAt  time.Time        `json:"expires_at"`
	ActedAt    *time.Time       `json:"acted_at,omitempty"`
	Notes      string           `json:"notes,omitempty"`
}

// ProcessedArticle is the dedup ledger entry for one article link.
type ProcessedArticle struct {
	Link        string          `json:"link"`
	Title       string          `json:"title"`
	Source      string          `json:"source"`
	IsCatalyst  bool            `json:"is_catalyst"`
	Analysis    json.RawMessage `json:"analysis"`
	ProcessedAt time.Time       `json:"processed_at"`
}

// CatalystFilter narrows catalyst listings.
type CatalystFilter struct {
	Status string
	Ticker string
	Since  time.Time
	Limit  int
}

// SignalFilter narrows signal listings.
type SignalFilter struct {
	Status string
	Limit  int
}
