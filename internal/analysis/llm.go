package analysis

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// LLMOptions tune the language-model analyzer.
type LLMOptions struct {
	Timeout             time.Duration
	DefaultThresholdPct decimal.Decimal
	DefaultTimeoutHours int
}

// LLMAnalyzer implements Analyzer over any Completer.
type LLMAnalyzer struct {
	completer Completer
	opts      LLMOptions
	logger    zerolog.Logger
}

// NewLLMAnalyzer wraps a completer with prompt building and reply validation.
func NewLLMAnalyzer(completer Completer, opts LLMOptions, logger zerolog.Logger) *LLMAnalyzer {
	if opts.Timeout <= 0 {
		opts.Timeout = 60 * time.Second
	}
	if !opts.DefaultThresholdPct.IsPositive() {
		opts.DefaultThresholdPct = decimal.NewFromInt(3)
	}
	if opts.DefaultTimeoutHours <= 0 {
		opts.DefaultTimeoutHours = 24
	}
	return &LLMAnalyzer{
		completer: completer,
		opts:      opts,
		logger:    logger.With().Str("component", "analyzer").Logger(),
	}
}

// Assess runs pass 1. A malformed reply is logged and returned as an empty assessment.
func (a *LLMAnalyzer) Assess(ctx context.Context, req AssessRequest) (Assessment, error) {
	reply, err := a.complete(ctx, assessSystem, buildAssessPrompt(req))
	if err != nil {
		return Assessment{}, fmt.Errorf("assess %s: %w", req.Topic, err)
	}
	out, err := parseAssessment(reply, req, criteriaDefaults{
		ThresholdPct: a.opts.DefaultThresholdPct,
		TimeoutHours: a.opts.DefaultTimeoutHours,
	})
	if err != nil {
		a.logger.Warn().Err(err).Str("topic", req.Topic).Str("ticker", req.Ticker).Msg("discarding malformed assessment")
		return Assessment{}, nil
	}
	a.logger.Debug().
		Str("topic", req.Topic).
		Int("updates", len(out.Updates)).
		Int("new", len(out.NewCatalysts)).
		Msg("assessment parsed")
	return out, nil
}

// Synthesize runs pass 2. A malformed reply counts as "nothing worth persisting".
func (a *LLMAnalyzer) Synthesize(ctx context.Context, req SynthesisRequest) (Synthesis, error) {
	reply, err := a.complete(ctx, synthesisSystem, buildSynthesisPrompt(req))
	if err != nil {
		return Synthesis{}, fmt.Errorf("synthesize %s: %w", req.Ticker, err)
	}
	out, err := parseSynthesis(reply)
	if err != nil {
		a.logger.Warn().Err(err).Str("ticker", req.Ticker).Msg("discarding malformed synthesis")
		return Synthesis{}, nil
	}
	return out, nil
}

func (a *LLMAnalyzer) complete(ctx context.Context, system, prompt string) (string, error) {
	callCtx, cancel := context.WithTimeout(ctx, a.opts.Timeout)
	defer cancel()
	return a.completer.Complete(callCtx, system, prompt)
}

var _ Analyzer = (*LLMAnalyzer)(nil)
