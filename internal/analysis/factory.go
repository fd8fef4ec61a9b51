package analysis

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"catalyst-catcher/internal/config"
)

// NewFromConfig selects the completer named by analysis.provider.
func NewFromConfig(ctx context.Context, cfg config.AnalysisConfig, disc config.DiscoveryConfig, logger zerolog.Logger) (*LLMAnalyzer, error) {
	var (
		completer Completer
		err       error
	)
	switch cfg.Provider {
	case "claude", "":
		completer, err = NewClaudeCompleter(ClaudeOptions{
			APIKey:      cfg.APIKey,
			Model:       cfg.Model,
			MaxTokens:   cfg.MaxTokens,
			Temperature: cfg.Temperature,
		})
	case "gemini":
		completer, err = NewGeminiCompleter(ctx, GeminiOptions{
			APIKey:      cfg.APIKey,
			Model:       cfg.Model,
			Temperature: cfg.Temperature,
		})
	default:
		return nil, fmt.Errorf("unknown analysis provider %q", cfg.Provider)
	}
	if err != nil {
		return nil, err
	}
	return NewLLMAnalyzer(completer, LLMOptions{
		Timeout:             cfg.Timeout,
		DefaultThresholdPct: decimal.NewFromFloat(disc.DefaultThresholdPct),
		DefaultTimeoutHours: disc.DefaultTimeoutHours,
	}, logger), nil
}
