package discovery

import (
	"context"
	"fmt"
	"sort"

	"catalyst-catcher/internal/storage"
)

// Consolidation is the outcome of enforcing one open hypothesis for a ticker.
type Consolidation struct {
	Kept    *storage.PotentialCatalyst
	Deleted []string
}

// Consolidate keeps the newest monitoring hypothesis that lists ticker and deletes the rest.
// It is idempotent; calling it again on a healed ticker deletes nothing.
func Consolidate(ctx context.Context, store storage.CatalystStore, ticker string) (Consolidation, error) {
	open, err := store.ListCatalysts(ctx, storage.CatalystFilter{Status: storage.StatusMonitoring, Ticker: ticker})
	if err != nil {
		return Consolidation{}, fmt.Errorf("list open hypotheses for %s: %w", ticker, err)
	}
	if len(open) == 0 {
		return Consolidation{}, nil
	}
	sort.SliceStable(open, func(i, j int) bool {
		if open[i].CreatedAt.Equal(open[j].CreatedAt) {
			return open[i].ID > open[j].ID
		}
		return open[i].CreatedAt.After(open[j].CreatedAt)
	})

	kept := open[0]
	res := Consolidation{Kept: &kept}
	if len(open) == 1 {
		return res, nil
	}
	for _, c := range open[1:] {
		res.Deleted = append(res.Deleted, c.ID)
	}
	if err := store.DeleteCatalysts(ctx, res.Deleted); err != nil {
		return Consolidation{Kept: &kept}, fmt.Errorf("delete duplicates for %s: %w", ticker, err)
	}
	return res, nil
}
