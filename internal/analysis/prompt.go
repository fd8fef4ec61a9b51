package analysis

import (
	"fmt"
	"strings"

	"catalyst-catcher/internal/news"
)

const assessSystem = `You are an equity research analyst screening news for short-term market catalysts.
Reply with a single JSON object and nothing else.`

const assessSchema = `Return JSON of the form:
{
  "updates": [
    {"id": "<existing id>", "impact": "<revised impact>", "affectedTickers": ["SYM"], "confidence": 1-10, "sentiment": "BULLISH|BEARISH|NEUTRAL", "citations": [1]}
  ],
  "newCatalysts": [
    {"impact": "<predicted impact>", "affectedTickers": ["SYM"], "confidence": 1-10, "sentiment": "BULLISH|BEARISH|NEUTRAL",
     "impactType": "<short label>", "reasoning": "<one sentence>", "citations": [1],
     "watch": {"metric": "PRICE|VOLUME", "direction": "UP|DOWN", "thresholdPercent": 2.5, "timeoutHours": 24}}
  ]
}
Rules:
- If an article repeats an existing hypothesis, put it in "updates" with that id instead of proposing a new one.
- Propose at most one new catalyst.
- Cite articles by their [n] marker.
- Use empty arrays when nothing qualifies.`

const synthesisSystem = `You consolidate catalyst research into one short-term thesis per ticker.
Reply with a single JSON object and nothing else.`

const synthesisSchema = `Return JSON of the form:
{"shouldUpdate": true|false, "thesis": "<two sentences at most>", "sentiment": "BULLISH|BEARISH|NEUTRAL",
 "potentialScore": -10..10, "confidence": 1-10}
Set "shouldUpdate" to false when the material adds nothing beyond the existing hypotheses.`

func buildAssessPrompt(req AssessRequest) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Topic: %s\n", req.Topic)
	if req.Ticker != "" {
		fmt.Fprintf(&b, "Ticker: %s\n", req.Ticker)
	}
	if req.Posture != "" {
		fmt.Fprintf(&b, "Market posture: %s\n", req.Posture)
	}
	b.WriteString("\nArticles:\n")
	writeArticles(&b, req.Articles)
	writeExisting(&b, req.Existing)
	b.WriteString("\n")
	b.WriteString(assessSchema)
	return b.String()
}

func buildSynthesisPrompt(req SynthesisRequest) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Ticker: %s\n", req.Ticker)
	if req.Posture != "" {
		fmt.Fprintf(&b, "Market posture: %s\n", req.Posture)
	}
	b.WriteString("\nArticles:\n")
	writeArticles(&b, req.Articles)
	writeExisting(&b, req.Existing)

	b.WriteString("\nFirst-pass findings:\n")
	if req.Assessment.Empty() {
		b.WriteString("(none)\n")
	}
	for _, u := range req.Assessment.Updates {
		fmt.Fprintf(&b, "- update %s: %s (confidence %d, %s)\n", u.ID, u.ImpactText, u.Confidence, u.Sentiment)
	}
	for _, p := range req.Assessment.NewCatalysts {
		fmt.Fprintf(&b, "- new: %s [%s] (confidence %d, %s)\n", p.ImpactText, strings.Join(p.AffectedTickers, ", "), p.Confidence, p.Sentiment)
	}
	b.WriteString("\n")
	b.WriteString(synthesisSchema)
	return b.String()
}

func writeArticles(b *strings.Builder, articles []news.Article) {
	for i, a := range articles {
		fmt.Fprintf(b, "[%d] %s", i+1, a.Title)
		if a.Source != "" {
			fmt.Fprintf(b, " (%s)", a.Source)
		}
		if !a.PublishedAt.IsZero() {
			fmt.Fprintf(b, " %s", a.PublishedAt.UTC().Format("2006-01-02 15:04 MST"))
		}
		b.WriteString("\n")
		if a.Content != "" {
			b.WriteString(indent(a.Content))
			b.WriteString("\n")
		}
	}
}

func writeExisting(b *strings.Builder, existing []ExistingHypothesis) {
	if len(existing) == 0 {
		return
	}
	b.WriteString("\nExisting hypotheses:\n")
	for _, e := range existing {
		fmt.Fprintf(b, "- id=%s age=%dh: %s\n", e.ID, e.AgeHours, e.Impact)
	}
}

func indent(s string) string {
	lines := strings.Split(strings.TrimSpace(s), "\n")
	for i, l := range lines {
		lines[i] = "    " + l
	}
	return strings.Join(lines, "\n")
}
