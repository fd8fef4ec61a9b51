package analysis

import (
	"bytes"
	"encoding/json"
	"errors"
	"math"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"

	"catalyst-catcher/internal/news"
	"catalyst-catcher/internal/storage"
)

var errNoJSON = errors.New("no JSON object in reply")

// flexNumber accepts 7, 7.5 and "7".
type flexNumber float64

func (f *flexNumber) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || string(b) == "null" {
		return nil
	}
	if b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		s = strings.TrimSuffix(strings.TrimSpace(s), "%")
		if s == "" {
			return nil
		}
		v, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return err
		}
		*f = flexNumber(v)
		return nil
	}
	var v float64
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}
	*f = flexNumber(v)
	return nil
}

type rawUpdate struct {
	ID              string       `json:"id"`
	Impact          string       `json:"impact"`
	AffectedTickers []string     `json:"affectedTickers"`
	Confidence      flexNumber   `json:"confidence"`
	Sentiment       string       `json:"sentiment"`
	Citations       []flexNumber `json:"citations"`
}

type rawWatch struct {
	Metric           string     `json:"metric"`
	Direction        string     `json:"direction"`
	ThresholdPercent flexNumber `json:"thresholdPercent"`
	TimeoutHours     flexNumber `json:"timeoutHours"`
}

type rawProposal struct {
	Impact          string       `json:"impact"`
	AffectedTickers []string     `json:"affectedTickers"`
	Confidence      flexNumber   `json:"confidence"`
	Sentiment       string       `json:"sentiment"`
	ImpactType      string       `json:"impactType"`
	Reasoning       string       `json:"reasoning"`
	Citations       []flexNumber `json:"citations"`
	Watch           rawWatch     `json:"watch"`
}

type rawAssessment struct {
	Updates      []rawUpdate   `json:"updates"`
	NewCatalysts []rawProposal `json:"newCatalysts"`
}

type rawSynthesis struct {
	ShouldUpdate   bool       `json:"shouldUpdate"`
	Thesis         string     `json:"thesis"`
	Sentiment      string     `json:"sentiment"`
	PotentialScore flexNumber `json:"potentialScore"`
	Confidence     flexNumber `json:"confidence"`
}

// criteriaDefaults fill watch criteria the service left out.
type criteriaDefaults struct {
	ThresholdPct decimal.Decimal
	TimeoutHours int
}

// extractJSON returns the first balanced JSON object in text, tolerating code fences and prose.
func extractJSON(text string) ([]byte, error) {
	start := strings.IndexByte(text, '{')
	if start < 0 {
		return nil, errNoJSON
	}
	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(text); i++ {
		c := text[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return []byte(text[start : i+1]), nil
			}
		}
	}
	return nil, errNoJSON
}

func parseAssessment(reply string, req AssessRequest, defaults criteriaDefaults) (Assessment, error) {
	payload, err := extractJSON(reply)
	if err != nil {
		return Assessment{}, err
	}
	var raw rawAssessment
	if err := json.Unmarshal(payload, &raw); err != nil {
		return Assessment{}, err
	}

	known := make(map[string]bool, len(req.Existing))
	for _, e := range req.Existing {
		known[e.ID] = true
	}

	out := Assessment{Raw: json.RawMessage(payload)}
	for _, u := range raw.Updates {
		id := strings.TrimSpace(u.ID)
		impact := strings.TrimSpace(u.Impact)
		// only ids we actually showed the service can be revised
		if !known[id] || impact == "" {
			continue
		}
		out.Updates = append(out.Updates, Update{
			ID:              id,
			ImpactText:      impact,
			AffectedTickers: cleanTickers(u.AffectedTickers),
			Confidence:      optionalClamp(u.Confidence, 1, 10),
			Sentiment:       normalizeSentiment(u.Sentiment),
			Citations:       resolveCitations(u.Citations, req.Articles),
		})
	}
	for _, p := range raw.NewCatalysts {
		impact := strings.TrimSpace(p.Impact)
		if impact == "" {
			continue
		}
		tickers := cleanTickers(p.AffectedTickers)
		if len(tickers) == 0 && req.Ticker != "" {
			tickers = []string{req.Ticker}
		}
		if len(tickers) == 0 {
			continue
		}
		sentiment := normalizeSentiment(p.Sentiment)
		out.NewCatalysts = append(out.NewCatalysts, Proposal{
			ImpactText:      impact,
			AffectedTickers: tickers,
			Confidence:      clampInt(p.Confidence, 1, 10),
			Sentiment:       sentiment,
			ImpactType:      strings.TrimSpace(p.ImpactType),
			Reasoning:       strings.TrimSpace(p.Reasoning),
			Criteria:        normalizeCriteria(p.Watch, sentiment, defaults),
			Citations:       resolveCitations(p.Citations, req.Articles),
		})
	}
	return out, nil
}

func parseSynthesis(reply string) (Synthesis, error) {
	payload, err := extractJSON(reply)
	if err != nil {
		return Synthesis{}, err
	}
	var raw rawSynthesis
	if err := json.Unmarshal(payload, &raw); err != nil {
		return Synthesis{}, err
	}
	thesis := strings.TrimSpace(raw.Thesis)
	return Synthesis{
		ShouldUpdate:   raw.ShouldUpdate && thesis != "",
		Thesis:         thesis,
		Sentiment:      normalizeSentiment(raw.Sentiment),
		PotentialScore: clampInt(raw.PotentialScore, -10, 10),
		Confidence:     clampInt(raw.Confidence, 1, 10),
		Raw:            json.RawMessage(payload),
	}, nil
}

// clampInt bounds v to [lo, hi] before converting, so out-of-range floats never wrap.
func clampInt(v flexNumber, lo, hi int) int {
	f := math.Round(float64(v))
	switch {
	case math.IsNaN(f), math.IsInf(f, 0):
		return lo
	case f < float64(lo):
		return lo
	case f > float64(hi):
		return hi
	}
	return int(f)
}

// optionalClamp keeps zero for a field the reply left out.
func optionalClamp(v flexNumber, lo, hi int) int {
	if v == 0 {
		return 0
	}
	return clampInt(v, lo, hi)
}

func normalizeSentiment(s string) string {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case storage.SentimentBullish, "POSITIVE", "BUY":
		return storage.SentimentBullish
	case storage.SentimentBearish, "NEGATIVE", "SELL":
		return storage.SentimentBearish
	default:
		return storage.SentimentNeutral
	}
}

func normalizeCriteria(w rawWatch, sentiment string, defaults criteriaDefaults) storage.WatchCriteria {
	metric := strings.ToUpper(strings.TrimSpace(w.Metric))
	if metric != storage.MetricVolume {
		metric = storage.MetricPrice
	}
	direction := strings.ToUpper(strings.TrimSpace(w.Direction))
	if direction != storage.DirectionUp && direction != storage.DirectionDown {
		direction = storage.DirectionUp
		if sentiment == storage.SentimentBearish {
			direction = storage.DirectionDown
		}
	}
	threshold := decimal.NewFromFloat(math.Abs(float64(w.ThresholdPercent))).Round(4)
	if !threshold.IsPositive() {
		threshold = defaults.ThresholdPct
	}
	timeout := int(math.Round(float64(w.TimeoutHours)))
	if timeout <= 0 {
		timeout = defaults.TimeoutHours
	}
	return storage.WatchCriteria{
		Metric:       metric,
		Direction:    direction,
		ThresholdPct: threshold,
		TimeoutHours: timeout,
	}
}

func cleanTickers(in []string) []string {
	seen := make(map[string]bool, len(in))
	out := make([]string, 0, len(in))
	for _, t := range in {
		t = strings.ToUpper(strings.TrimSpace(t))
		if t == "" || seen[t] {
			continue
		}
		seen[t] = true
		out = append(out, t)
	}
	return out
}

// resolveCitations maps 1-based article markers back to article refs.
func resolveCitations(indices []flexNumber, articles []news.Article) []storage.Citation {
	var out []storage.Citation
	seen := make(map[int]bool, len(indices))
	for _, raw := range indices {
		idx := int(math.Round(float64(raw)))
		if idx < 1 || idx > len(articles) || seen[idx] {
			continue
		}
		seen[idx] = true
		a := articles[idx-1]
		out = append(out, storage.Citation{Index: idx, Title: a.Title, Link: a.Link})
	}
	return out
}
