// Package tracker re-validates open hypotheses against the market and promotes confirmed ones.
package tracker

import (
	"github.com/shopspring/decimal"

	"catalyst-catcher/internal/storage"
)

var hundred = decimal.NewFromInt(100)

// Evaluate reports whether a snapshot meets the watch criterion.
// PRICE/UP needs change >= threshold, PRICE/DOWN change <= -threshold,
// VOLUME/UP a volume ratio >= threshold/100. VOLUME/DOWN is never met.
func Evaluate(c storage.WatchCriteria, changePct, volumeRatio decimal.Decimal) bool {
	threshold := c.ThresholdPct.Abs()
	switch c.Metric {
	case storage.MetricVolume:
		if c.Direction != storage.DirectionUp {
			return false
		}
		return volumeRatio.GreaterThanOrEqual(threshold.Div(hundred))
	default:
		if c.Direction == storage.DirectionDown {
			return changePct.LessThanOrEqual(threshold.Neg())
		}
		return changePct.GreaterThanOrEqual(threshold)
	}
}

// Progress is how far the snapshot has moved toward the threshold, in percent of it.
// Moves against the predicted direction are negative.
func Progress(c storage.WatchCriteria, changePct, volumeRatio decimal.Decimal) decimal.Decimal {
	threshold := c.ThresholdPct.Abs()
	if !threshold.IsPositive() {
		return decimal.Zero
	}
	if c.Metric == storage.MetricVolume {
		return volumeRatio.Mul(hundred).Mul(hundred).DivRound(threshold, 2)
	}
	move := changePct
	if c.Direction == storage.DirectionDown {
		move = move.Neg()
	}
	return move.Mul(hundred).DivRound(threshold, 2)
}

// ActionFor maps a criteria direction onto a signal action.
func ActionFor(direction string) string {
	if direction == storage.DirectionDown {
		return storage.ActionSellWatch
	}
	return storage.ActionBuyWatch
}
