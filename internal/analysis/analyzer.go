// Package analysis turns news and hypothesis context into structured judgments.
package analysis

import (
	"context"
	"encoding/json"
	"errors"

	"catalyst-catcher/internal/news"
	"catalyst-catcher/internal/storage"
)

// ErrNotConfigured is returned when no analysis service credentials are available.
var ErrNotConfigured = errors.New("analysis: service not configured")

// ExistingHypothesis is the short reference handed to the service for deduplication.
type ExistingHypothesis struct {
	ID       string
	AgeHours int
	Impact   string
}

// AssessRequest is the pass-1 input for one ticker group.
type AssessRequest struct {
	Topic    string
	Ticker   string
	Articles []news.Article
	Existing []ExistingHypothesis
	Posture  string
}

// Update revises an existing hypothesis. Zero Confidence means the reply left it unchanged.
type Update struct {
	ID              string
	ImpactText      string
	AffectedTickers []string
	Confidence      int
	Sentiment       string
	Citations       []storage.Citation
}

// Proposal is a candidate new hypothesis.
type Proposal struct {
	ImpactText      string
	AffectedTickers []string
	Confidence      int
	Sentiment       string
	ImpactType      string
	Reasoning       string
	Criteria        storage.WatchCriteria
	Citations       []storage.Citation
}

// Assessment is the pass-1 output. A malformed service reply yields the zero value.
type Assessment struct {
	Updates      []Update
	NewCatalysts []Proposal
	Raw          json.RawMessage
}

// Empty reports whether the assessment carries no work.
func (a Assessment) Empty() bool {
	return len(a.Updates) == 0 && len(a.NewCatalysts) == 0
}

// SynthesisRequest is the pass-2 input.
type SynthesisRequest struct {
	Ticker     string
	Articles   []news.Article
	Existing   []ExistingHypothesis
	Assessment Assessment
	Posture    string
}

// Synthesis is the pass-2 unified thesis.
type Synthesis struct {
	ShouldUpdate   bool
	Thesis         string
	Sentiment      string
	PotentialScore int
	Confidence     int
	Raw            json.RawMessage
}

// Analyzer is the narrow boundary discovery depends on.
type Analyzer interface {
	Assess(ctx context.Context, req AssessRequest) (Assessment, error)
	Synthesize(ctx context.Context, req SynthesisRequest) (Synthesis, error)
}

// Completer sends one system+user prompt to a language model and returns its text reply.
type Completer interface {
	Complete(ctx context.Context, system, prompt string) (string, error)
}
