// Package verification grades paper-mode opportunities at fixed checkpoints after dispatch.
package verification

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"catalyst-catcher/internal/calibration"
	"catalyst-catcher/internal/marketclock"
	"catalyst-catcher/internal/quotes"
	"catalyst-catcher/internal/storage"
)

// Grade classifies a move relative to the predicted direction. Moves inside the
// noise band are NEUTRAL.
func Grade(direction string, changePct, band decimal.Decimal) string {
	if changePct.Abs().LessThan(band.Abs()) {
		return calibration.Neutral
	}
	up := changePct.IsPositive()
	if (direction == storage.DirectionDown) != up {
		return calibration.GoodCall
	}
	return calibration.BadCall
}

// FinalVerdict aggregates checkpoint grades with GOOD_CALL > BAD_CALL > NEUTRAL.
// No checkpoints yet means PENDING.
func FinalVerdict(checkpoints map[string]calibration.Checkpoint) string {
	if len(checkpoints) == 0 {
		return calibration.Pending
	}
	verdict := calibration.Pending
	for _, cp := range checkpoints {
		switch cp.Grade {
		case calibration.GoodCall:
			return calibration.GoodCall
		case calibration.BadCall:
			verdict = calibration.BadCall
		case calibration.Neutral:
			if verdict == calibration.Pending {
				verdict = calibration.Neutral
			}
		}
	}
	return verdict
}

// Options tune checkpoint scheduling.
type Options struct {
	NoiseBandPct     decimal.Decimal
	NextSessionDelay time.Duration
	AbandonAfter     time.Duration
	Now              func() time.Time
}

// Verifier revisits calibration entries when their checkpoints come due.
type Verifier struct {
	log     *calibration.Log
	quotes  quotes.Provider
	symbols *quotes.Symbols
	clock   *marketclock.Clock
	opts    Options
	logger  zerolog.Logger
}

// Report counts one verification pass.
type Report struct {
	Entries   int
	Graded    int
	Abandoned int
	Errors    []string
}

// New wires a verifier.
func New(log *calibration.Log, provider quotes.Provider, symbols *quotes.Symbols, clock *marketclock.Clock, opts Options, logger zerolog.Logger) *Verifier {
	if opts.NoiseBandPct.IsZero() {
		opts.NoiseBandPct = decimal.RequireFromString("0.5")
	}
	if opts.NextSessionDelay <= 0 {
		opts.NextSessionDelay = 30 * time.Minute
	}
	if opts.AbandonAfter <= 0 {
		opts.AbandonAfter = 96 * time.Hour
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Verifier{
		log:     log,
		quotes:  provider,
		symbols: symbols,
		clock:   clock,
		opts:    opts,
		logger:  logger.With().Str("component", "verifier").Logger(),
	}
}

// DueAt returns when the named checkpoint should fire for an entry.
func (v *Verifier) DueAt(e calibration.Entry, name string) (time.Time, error) {
	switch name {
	case calibration.After1Hr:
		return e.CreatedAt.Add(time.Hour), nil
	case calibration.NextSession:
		return v.clock.MarketFor(e.Ticker).NextOpen(e.CreatedAt).Add(v.opts.NextSessionDelay), nil
	case calibration.After24Hr:
		return e.CreatedAt.Add(24 * time.Hour), nil
	default:
		return time.Time{}, fmt.Errorf("unknown checkpoint %q", name)
	}
}

// Check grades one checkpoint for e and recomputes its verdict.
func (v *Verifier) Check(ctx context.Context, e *calibration.Entry, name string) error {
	if _, err := v.DueAt(*e, name); err != nil {
		return err
	}
	q, err := quotes.FetchWithFallback(ctx, v.quotes, v.symbols, e.Ticker)
	if err != nil {
		return err
	}
	if e.Checkpoints == nil {
		e.Checkpoints = map[string]calibration.Checkpoint{}
	}
	e.Checkpoints[name] = v.grade(*e, q, v.opts.Now())
	e.FinalVerdict = FinalVerdict(e.Checkpoints)
	return nil
}

func (v *Verifier) grade(e calibration.Entry, q quotes.Quote, now time.Time) calibration.Checkpoint {
	change := quotes.PercentChange(q.Price, e.Market.Price)
	return calibration.Checkpoint{
		CheckedAt: now.UTC(),
		Price:     q.Price,
		ChangePct: quotes.RoundPct(change),
		Grade:     Grade(e.Direction, change, v.opts.NoiseBandPct),
	}
}

type pendingResult struct {
	checkpoints map[string]calibration.Checkpoint
	abandoned   bool
}

// RunDue grades every checkpoint that has come due and rewrites the log once.
// Quotes are fetched outside the file lock; entries appended meanwhile are left alone.
func (v *Verifier) RunDue(ctx context.Context) (Report, error) {
	var report Report
	entries, err := v.log.ReadAll()
	if err != nil {
		return report, err
	}
	report.Entries = len(entries)
	now := v.opts.Now()

	results := make(map[string]*pendingResult)
	cache := make(map[string]quotes.Quote)
	failed := make(map[string]bool)

	for _, e := range entries {
		if e.Abandoned || e.Complete() {
			continue
		}
		if now.Sub(e.CreatedAt) > v.opts.AbandonAfter {
			results[e.ID] = &pendingResult{abandoned: true}
			report.Abandoned++
			continue
		}
		for _, name := range calibration.CheckpointNames {
			if _, done := e.Checkpoints[name]; done {
				continue
			}
			due, _ := v.DueAt(e, name)
			if now.Before(due) {
				continue
			}
			if failed[e.Ticker] {
				continue
			}
			q, ok := cache[e.Ticker]
			if !ok {
				q, err = quotes.FetchWithFallback(ctx, v.quotes, v.symbols, e.Ticker)
				if err != nil {
					failed[e.Ticker] = true
					report.Errors = append(report.Errors, fmt.Sprintf("verify %s: %v", e.ID, err))
					continue
				}
				cache[e.Ticker] = q
			}
			r := results[e.ID]
			if r == nil {
				r = &pendingResult{checkpoints: map[string]calibration.Checkpoint{}}
				results[e.ID] = r
			}
			r.checkpoints[name] = v.grade(e, q, now)
			report.Graded++
		}
	}

	if len(results) == 0 {
		return report, nil
	}
	err = v.log.Update(func(current []calibration.Entry) (bool, error) {
		for i := range current {
			r, ok := results[current[i].ID]
			if !ok {
				continue
			}
			if r.abandoned {
				current[i].Abandoned = true
			}
			for name, cp := range r.checkpoints {
				current[i].Checkpoints[name] = cp
			}
			current[i].FinalVerdict = FinalVerdict(current[i].Checkpoints)
		}
		return true, nil
	})
	if err != nil {
		return report, fmt.Errorf("rewrite calibration log: %w", err)
	}

	v.logger.Info().
		Int("entries", report.Entries).
		Int("graded", report.Graded).
		Int("abandoned", report.Abandoned).
		Int("errors", len(report.Errors)).
		Msg("verification pass complete")
	return report, nil
}
