package app

import (
	"context"
	"fmt"
	"time"
)

// SetStatus applies an external status change to a catalyst or a signal.
func (a *App) SetStatus(ctx context.Context, kind, id, status, notes string) error {
	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	defer closeStore()

	now := time.Now().UTC()
	switch kind {
	case "catalyst":
		err = store.TransitionCatalyst(ctx, id, status, now)
	case "signal":
		err = store.TransitionSignal(ctx, id, status, notes, now)
	default:
		return fmt.Errorf("unknown kind %q, expected catalyst or signal", kind)
	}
	if err != nil {
		return fmt.Errorf("%s %s -> %s: %w", kind, id, status, err)
	}
	a.Logger.Info().Str("kind", kind).Str("id", id).Str("status", status).Msg("status updated")
	return nil
}
