// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

package engine

import (
	"context"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"
)

// RunCloser finalizes due polls every interval until ctx is done. At most
// workers polls are finalized at once.
func (e *Engine) RunCloser(ctx context.Context, interval time.Duration, workers int) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		if n, err := e.CloseDue(ctx, workers); err != nil {
			slog.Error("close scan failed", "error", err)
		} else if n > 0 {
			slog.Info("close scan finalized polls", "count", n)
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// CloseDue finalizes every open poll whose close time has passed and
// returns how many were finalized. One poll failing does not stop the
// others.
func (e *Engine) CloseDue(ctx context.Context, workers int) (int, error) {
	due, err := e.store.ListDuePolls(ctx, e.now())
	if err != nil {
		return 0, err
	}
	if len(due) == 0 {
		return 0, nil
	}

	finalized := make([]bool, len(due))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(max(workers, 1))
	for i, pollID := range due {
		g.Go(func() error {
			if _, err := e.Finalize(gctx, pollID); err != nil {
				slog.Error("failed to finalize poll", "poll_id", pollID, "error", err)
				return nil
			}
			finalized[i] = true
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return 0, err
	}

	n := 0
	for _, ok := range finalized {
		if ok {
			n++
		}
	}
	return n, nil
}
