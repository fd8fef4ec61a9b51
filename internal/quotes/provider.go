// Package quotes fetches market snapshots for ticker symbols.
package quotes

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// ErrNoData is returned when the provider knows nothing about a symbol.
var ErrNoData = errors.New("quotes: no data for symbol")

var hundred = decimal.NewFromInt(100)

// Quote is one market snapshot.
type Quote struct {
	Symbol         string
	Price          decimal.Decimal
	ReferencePrice decimal.Decimal
	Volume         int64
	AvgVolume      int64
	FetchedAt      time.Time
}

// Provider returns the current quote for a symbol.
type Provider interface {
	Quote(ctx context.Context, symbol string) (Quote, error)
}

// VolumeRatio is current volume over trailing average volume, zero when unknown.
func (q Quote) VolumeRatio() decimal.Decimal {
	if q.AvgVolume <= 0 {
		return decimal.Zero
	}
	return decimal.NewFromInt(q.Volume).Div(decimal.NewFromInt(q.AvgVolume))
}

// ChangeFrom returns the percent change of the quote price relative to base.
func (q Quote) ChangeFrom(base decimal.Decimal) decimal.Decimal {
	return PercentChange(q.Price, base)
}

// PercentChange computes (price-base)/base*100 at full division precision,
// zero when base is not positive. Round with RoundPct only for display and storage.
func PercentChange(price, base decimal.Decimal) decimal.Decimal {
	if !base.IsPositive() {
		return decimal.Zero
	}
	return price.Sub(base).Mul(hundred).Div(base)
}

// RoundPct is the precision percent changes are logged and stored at.
func RoundPct(pct decimal.Decimal) decimal.Decimal {
	return pct.Round(4)
}

// FetchWithFallback tries the symbol and its alternate-exchange variants in order.
func FetchWithFallback(ctx context.Context, p Provider, symbols *Symbols, ticker string) (Quote, error) {
	var lastErr error
	for _, candidate := range symbols.Candidates(ticker) {
		q, err := p.Quote(ctx, candidate)
		if err == nil {
			return q, nil
		}
		lastErr = err
		if ctx.Err() != nil {
			break
		}
	}
	if lastErr == nil {
		lastErr = ErrNoData
	}
	return Quote{}, fmt.Errorf("quote %s: %w", ticker, lastErr)
}
