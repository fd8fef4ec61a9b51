// Package baseprice records the reference price a hypothesis is measured against.
package baseprice

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"catalyst-catcher/internal/marketclock"
	"catalyst-catcher/internal/quotes"
	"catalyst-catcher/internal/storage"
)

// Options configure a Capturer.
type Options struct {
	Now func() time.Time
}

// Capturer takes exactly one base-price snapshot per hypothesis, at discovery or at the next open.
type Capturer struct {
	store   storage.CatalystStore
	quotes  quotes.Provider
	symbols *quotes.Symbols
	clock   *marketclock.Clock
	now     func() time.Time
	logger  zerolog.Logger
}

// NewCapturer wires the quote provider and market clock.
func NewCapturer(store storage.CatalystStore, provider quotes.Provider, symbols *quotes.Symbols, clock *marketclock.Clock, opts Options, logger zerolog.Logger) *Capturer {
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &Capturer{
		store:   store,
		quotes:  provider,
		symbols: symbols,
		clock:   clock,
		now:     now,
		logger:  logger.With().Str("component", "base_price").Logger(),
	}
}

// CaptureAtDiscovery sets the base price on a freshly discovered hypothesis. It mutates c
// without persisting and reports whether anything changed.
func (c *Capturer) CaptureAtDiscovery(ctx context.Context, cat *storage.PotentialCatalyst) bool {
	if cat.BasePrice != nil || cat.BasePriceState != "" {
		return false
	}
	ticker := cat.ReferenceTicker()
	if ticker == "" {
		return false
	}
	now := c.now()
	if !c.clock.MarketFor(ticker).IsOpen(now) {
		cat.BasePriceState = storage.BasePricePendingNextOpen
		return true
	}
	q, err := quotes.FetchWithFallback(ctx, c.quotes, c.symbols, ticker)
	if err != nil {
		c.logger.Warn().Err(err).Str("catalyst_id", cat.ID).Str("ticker", ticker).Msg("base price deferred to next open")
		cat.BasePriceState = storage.BasePricePendingNextOpen
		return true
	}
	apply(cat, q, now, storage.BasePriceDiscovery)
	return true
}

// CapturePending snapshots every pending hypothesis whose market is open now.
// Failures leave the item pending for the next cycle.
func (c *Capturer) CapturePending(ctx context.Context) (int, []error) {
	pending, err := c.store.ListCatalysts(ctx, storage.CatalystFilter{Status: storage.StatusMonitoring})
	if err != nil {
		return 0, []error{fmt.Errorf("list pending base prices: %w", err)}
	}

	var (
		captured int
		errs     []error
	)
	for i := range pending {
		cat := pending[i]
		if cat.BasePriceState != storage.BasePricePendingNextOpen || cat.BasePrice != nil {
			continue
		}
		ticker := cat.ReferenceTicker()
		now := c.now()
		if ticker == "" || !c.clock.MarketFor(ticker).IsOpen(now) {
			continue
		}
		q, err := quotes.FetchWithFallback(ctx, c.quotes, c.symbols, ticker)
		if err != nil {
			errs = append(errs, fmt.Errorf("base price %s: %w", cat.ID, err))
			continue
		}
		apply(&cat, q, now, storage.BasePriceNextOpen)
		cat.UpdatedAt = now
		if err := c.store.UpdateCatalyst(ctx, cat); err != nil {
			errs = append(errs, fmt.Errorf("persist base price %s: %w", cat.ID, err))
			continue
		}
		captured++
		c.logger.Info().
			Str("catalyst_id", cat.ID).
			Str("ticker", q.Symbol).
			Str("price", q.Price.String()).
			Msg("base price captured at open")
	}
	return captured, errs
}

func apply(cat *storage.PotentialCatalyst, q quotes.Quote, now time.Time, state string) {
	price := q.Price
	recorded := now.UTC()
	cat.BasePrice = &price
	cat.BaseTicker = q.Symbol
	cat.BaseRecordedAt = &recorded
	cat.BasePriceState = state
}
