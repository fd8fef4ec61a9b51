package quotes

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"golang.org/x/time/rate"
)

const yahooChartPath = "/v8/finance/chart/"

// YahooOptions parameterise the chart API client.
type YahooOptions struct {
	BaseURL       string
	Timeout       time.Duration
	RatePerSecond float64
	UserAgent     string
	Now           func() time.Time
}

// Yahoo fetches quotes from the public chart endpoint.
type Yahoo struct {
	opts    YahooOptions
	logger  zerolog.Logger
	client  *http.Client
	limiter *rate.Limiter
	baseURL string
}

// NewYahoo constructs a chart API quote provider.
func NewYahoo(opts YahooOptions, logger zerolog.Logger) *Yahoo {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	baseURL := strings.TrimRight(opts.BaseURL, "/")
	if baseURL == "" {
		baseURL = "https://query1.finance.yahoo.com"
	}
	limit := rate.Inf
	if opts.RatePerSecond > 0 {
		limit = rate.Limit(opts.RatePerSecond)
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Yahoo{
		opts:    opts,
		logger:  logger.With().Str("component", "quote_provider").Logger(),
		client:  &http.Client{Timeout: timeout},
		limiter: rate.NewLimiter(limit, 1),
		baseURL: baseURL,
	}
}

// Quote fetches the latest daily snapshot for symbol.
func (y *Yahoo) Quote(ctx context.Context, symbol string) (Quote, error) {
	symbol = strings.TrimSpace(symbol)
	if symbol == "" {
		return Quote{}, fmt.Errorf("%w: empty symbol", ErrNoData)
	}
	if err := y.limiter.Wait(ctx); err != nil {
		return Quote{}, err
	}

	endpoint := y.baseURL + yahooChartPath + url.PathEscape(symbol) + "?interval=1d&range=1mo"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return Quote{}, err
	}
	req.Header.Set("Accept", "application/json")
	if ua := strings.TrimSpace(y.opts.UserAgent); ua != "" {
		req.Header.Set("User-Agent", ua)
	} else {
		req.Header.Set("User-Agent", "catalyst-catcher/1.0")
	}

	resp, err := y.client.Do(req)
	if err != nil {
		return Quote{}, err
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return Quote{}, err
	}

	var chart chartResponse
	if len(payload) > 0 {
		if err := json.Unmarshal(payload, &chart); err != nil && resp.StatusCode == http.StatusOK {
			return Quote{}, fmt.Errorf("decode chart response: %w", err)
		}
	}
	if chart.Chart.Error != nil && chart.Chart.Error.Code != "" {
		if strings.EqualFold(chart.Chart.Error.Code, "Not Found") {
			return Quote{}, fmt.Errorf("%w: %s", ErrNoData, symbol)
		}
		return Quote{}, fmt.Errorf("chart api error (%d): %s", resp.StatusCode, chart.Chart.Error.Description)
	}
	if resp.StatusCode == http.StatusNotFound {
		return Quote{}, fmt.Errorf("%w: %s", ErrNoData, symbol)
	}
	if resp.StatusCode != http.StatusOK {
		return Quote{}, fmt.Errorf("chart api error (%d): %s", resp.StatusCode, strings.TrimSpace(string(payload)))
	}
	if len(chart.Chart.Result) == 0 {
		return Quote{}, fmt.Errorf("%w: %s", ErrNoData, symbol)
	}

	q, err := chart.Chart.Result[0].toQuote(symbol)
	if err != nil {
		return Quote{}, err
	}
	q.FetchedAt = y.opts.Now().UTC()

	y.logger.Debug().
		Str("symbol", q.Symbol).
		Str("price", q.Price.String()).
		Str("reference", q.ReferencePrice.String()).
		Int64("volume", q.Volume).
		Msg("quote fetched")
	return q, nil
}

type chartResponse struct {
	Chart struct {
		Result []chartResult `json:"result"`
		Error  *struct {
			Code        string `json:"code"`
			Description string `json:"description"`
		} `json:"error"`
	} `json:"chart"`
}

type chartResult struct {
	Meta struct {
		Symbol             string  `json:"symbol"`
		RegularMarketPrice float64 `json:"regularMarketPrice"`
		PreviousClose      float64 `json:"previousClose"`
		ChartPreviousClose float64 `json:"chartPreviousClose"`
		RegularMarketVol   int64   `json:"regularMarketVolume"`
	} `json:"meta"`
	Timestamp  []int64 `json:"timestamp"`
	Indicators struct {
		Quote []struct {
			Close  []*float64 `json:"close"`
			Volume []*int64   `json:"volume"`
		} `json:"quote"`
	} `json:"indicators"`
}

func (r chartResult) toQuote(requested string) (Quote, error) {
	if r.Meta.RegularMarketPrice <= 0 {
		return Quote{}, fmt.Errorf("%w: %s has no market price", ErrNoData, requested)
	}

	var closes []*float64
	var volumes []*int64
	if len(r.Indicators.Quote) > 0 {
		closes = r.Indicators.Quote[0].Close
		volumes = r.Indicators.Quote[0].Volume
	}

	reference := r.Meta.PreviousClose
	if reference <= 0 && len(closes) >= 2 && closes[len(closes)-2] != nil {
		reference = *closes[len(closes)-2]
	}
	if reference <= 0 {
		reference = r.Meta.ChartPreviousClose
	}

	volume := r.Meta.RegularMarketVol
	if volume == 0 && len(volumes) > 0 && volumes[len(volumes)-1] != nil {
		volume = *volumes[len(volumes)-1]
	}

	symbol := r.Meta.Symbol
	if symbol == "" {
		symbol = requested
	}

	return Quote{
		Symbol:         symbol,
		Price:          decimal.NewFromFloat(r.Meta.RegularMarketPrice),
		ReferencePrice: decimal.NewFromFloat(reference),
		Volume:         volume,
		AvgVolume:      trailingAverage(volumes),
	}, nil
}

// trailingAverage averages every session volume except the latest one.
func trailingAverage(volumes []*int64) int64 {
	if len(volumes) < 2 {
		return 0
	}
	var sum, n int64
	for _, v := range volumes[:len(volumes)-1] {
		if v == nil || *v <= 0 {
			continue
		}
		sum += *v
		n++
	}
	if n == 0 {
		return 0
	}
	return sum / n
}

var _ Provider = (*Yahoo)(nil)
