// Package dispatch persists confirmed events as live signals or paper-mode log entries.
package dispatch

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"catalyst-catcher/internal/alerting"
	"catalyst-catcher/internal/calibration"
	"catalyst-catcher/internal/storage"
)

// Dispatch modes.
const (
	ModeLive  = "live"
	ModePaper = "paper"
)

// Event is a signal ready to dispatch plus the market posture it was produced under.
type Event struct {
	Signal  storage.CatalystSignal
	Posture string
}

// Options configure a Dispatcher.
type Options struct {
	Mode      string
	SignalTTL time.Duration
	Audit     io.Writer
	Now       func() time.Time
}

// Dispatcher writes an audit line for every event, then stores it according to the mode.
type Dispatcher struct {
	mode     string
	ttl      time.Duration
	signals  storage.SignalStore
	log      *calibration.Log
	notifier alerting.Notifier
	audit    io.Writer
	now      func() time.Time
	logger   zerolog.Logger
}

// New validates the mode against its backing store. notifier may be nil.
func New(signals storage.SignalStore, log *calibration.Log, notifier alerting.Notifier, opts Options, logger zerolog.Logger) (*Dispatcher, error) {
	switch opts.Mode {
	case ModeLive:
		if signals == nil {
			return nil, fmt.Errorf("live dispatch requires a signal store")
		}
	case ModePaper:
		if log == nil {
			return nil, fmt.Errorf("paper dispatch requires a calibration log")
		}
	default:
		return nil, fmt.Errorf("unknown dispatch mode %q", opts.Mode)
	}
	if opts.SignalTTL <= 0 {
		opts.SignalTTL = 48 * time.Hour
	}
	if opts.Audit == nil {
		opts.Audit = os.Stdout
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Dispatcher{
		mode:     opts.Mode,
		ttl:      opts.SignalTTL,
		signals:  signals,
		log:      log,
		notifier: notifier,
		audit:    opts.Audit,
		now:      opts.Now,
		logger:   logger.With().Str("component", "dispatcher").Str("mode", opts.Mode).Logger(),
	}, nil
}

// Mode reports live or paper.
func (d *Dispatcher) Mode() string {
	return d.mode
}

// Dispatch records the event and returns the generated id.
func (d *Dispatcher) Dispatch(ctx context.Context, ev Event) (string, error) {
	sig := ev.Signal
	now := d.now()
	if sig.CreatedAt.IsZero() {
		sig.CreatedAt = now
	}
	fmt.Fprintf(d.audit, "%s [%s] %s %s @ %s (%s%%, vol %sx) %s\n",
		sig.CreatedAt.UTC().Format(time.RFC3339),
		d.mode,
		sig.Action,
		sig.Ticker,
		sig.Market.Price.StringFixed(2),
		sig.Market.ChangePct.StringFixed(2),
		sig.Market.VolumeRatio.StringFixed(2),
		sig.News.Title,
	)

	if d.mode == ModePaper {
		return d.paper(sig, ev.Posture, now)
	}
	return d.live(ctx, sig, ev.Posture)
}

func (d *Dispatcher) live(ctx context.Context, sig storage.CatalystSignal, posture string) (string, error) {
	sig.ID = ""
	sig.Status = storage.SignalActive
	sig.ExpiresAt = sig.CreatedAt.Add(d.ttl)
	if err := d.signals.InsertSignal(ctx, &sig); err != nil {
		return "", fmt.Errorf("insert signal: %w", err)
	}
	d.logger.Info().Str("signal_id", sig.ID).Str("ticker", sig.Ticker).Str("action", sig.Action).Msg("signal dispatched")

	if d.notifier != nil {
		note := alerting.Notification{SignalID: sig.ID, Signal: sig, Mode: d.mode, Posture: posture}
		if err := d.notifier.Notify(ctx, note); err != nil {
			d.logger.Warn().Err(err).Str("signal_id", sig.ID).Msg("signal notification failed")
		}
	}
	return sig.ID, nil
}

func (d *Dispatcher) paper(sig storage.CatalystSignal, posture string, now time.Time) (string, error) {
	id := PaperID(now)
	entry := calibration.Entry{
		ID:        id,
		CreatedAt: sig.CreatedAt,
		Keyword:   sig.Keyword,
		Ticker:    sig.Ticker,
		Action:    sig.Action,
		Direction: sig.Direction,
		Headline:  sig.News.Title,
		Link:      sig.News.Link,
		Source:    sig.News.Source,
		Prediction: calibration.Prediction{
			ImpactType: sig.Analysis.ImpactType,
			Sentiment:  sig.Analysis.Sentiment,
			Confidence: sig.Analysis.Confidence,
			Reasoning:  sig.Analysis.Reasoning,
		},
		Market: calibration.MarketState{
			Price:       sig.Market.Price,
			ChangePct:   sig.Market.ChangePct,
			VolumeRatio: sig.Market.VolumeRatio,
			VolumeSpike: sig.Market.VolumeSpike,
			Posture:     posture,
		},
		FinalVerdict: calibration.Pending,
	}
	if sig.CatalystID != nil {
		entry.CatalystID = *sig.CatalystID
	}
	if err := d.log.Append(entry); err != nil {
		return "", err
	}
	d.logger.Info().Str("entry_id", id).Str("ticker", sig.Ticker).Msg("paper opportunity logged")
	return id, nil
}

// PaperID is a millisecond timestamp plus a random suffix.
func PaperID(now time.Time) string {
	return fmt.Sprintf("%d-%s", now.UnixMilli(), uuid.NewString()[:8])
}
