package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"catalyst-catcher/internal/dispatch"
	"catalyst-catcher/internal/marketclock"
	"catalyst-catcher/internal/storage"
	"catalyst-catcher/internal/tracker"
)

// SimulateSignal pushes a synthetic confirmed signal through dispatch so that
// notifiers, the signal table or the calibration log can be checked end to end.
func (a *App) SimulateSignal(ctx context.Context, opts SimulateOptions) (string, error) {
	if opts.Ticker == "" {
		return "", errors.New("ticker is required")
	}
	if !opts.Price.IsPositive() {
		return "", errors.New("price must be positive")
	}
	switch opts.Direction {
	case storage.DirectionUp, storage.DirectionDown:
	default:
		return "", fmt.Errorf("direction must be %s or %s", storage.DirectionUp, storage.DirectionDown)
	}
	mode := opts.Mode
	if mode == "" {
		mode = a.Config.Dispatch.Mode
	}

	clock, err := marketclock.FromConfig(a.Config.Market)
	if err != nil {
		return "", err
	}
	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return "", err
	}
	defer closeStore()

	dispatcher, err := a.newDispatcher(store, a.newNotifier(nil), mode)
	if err != nil {
		return "", err
	}

	ticker := a.newSymbols().Normalize(opts.Ticker)
	now := time.Now().UTC()
	headline := opts.Headline
	if headline == "" {
		headline = "Simulated catalyst for " + ticker
	}
	sig := storage.CatalystSignal{
		Keyword:   ticker,
		Ticker:    ticker,
		Action:    tracker.ActionFor(opts.Direction),
		Direction: opts.Direction,
		News:      storage.NewsSnapshot{Title: headline, Source: "simulation", PublishedAt: now},
		Analysis: storage.AnalysisSnapshot{
			ImpactType: storage.MetricPrice + "_" + opts.Direction,
			Sentiment:  sentimentFor(opts.Direction),
			Confidence: 5,
			Reasoning:  "simulated signal",
		},
		Market: storage.MarketSnapshot{
			Price:       opts.Price,
			ChangePct:   opts.ChangePct,
			VolumeRatio: opts.Volume,
			VolumeSpike: opts.Volume.GreaterThanOrEqual(a.spikeRatio()),
		},
		Status:    storage.SignalActive,
		CreatedAt: now,
	}

	posture := string(clock.MarketFor(ticker).Posture(now))
	id, err := dispatcher.Dispatch(ctx, dispatch.Event{Signal: sig, Posture: posture})
	if err != nil {
		return "", err
	}
	a.Logger.Info().Str("id", id).Str("mode", mode).Str("ticker", ticker).Msg("simulated signal dispatched")
	return id, nil
}

func sentimentFor(direction string) string {
	if direction == storage.DirectionDown {
		return storage.SentimentBearish
	}
	return storage.SentimentBullish
}

func (a *App) spikeRatio() decimal.Decimal {
	if a.Config.Tracker.VolumeSpikeRatio > 0 {
		return decimal.NewFromFloat(a.Config.Tracker.VolumeSpikeRatio)
	}
	return decimal.NewFromInt(2)
}
