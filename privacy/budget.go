// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

package privacy

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

var ErrPrivacyBudgetExceeded = errors.New("privacy budget exceeded")

// tolerance absorbs float error from summing many small epsilons.
const tolerance = 1e-9

// SpendStore persists epsilon spends. Refunds are recorded as negative
// spends; nothing is ever deleted.
type SpendStore interface {
	SpentEpsilon(ctx context.Context, pollID string) (float64, error)
	RecordSpend(ctx context.Context, pollID string, epsilon float64, purpose string, at time.Time) error
}

// Ledger tracks each poll's epsilon budget. Check-and-record happens under
// one mutex so two concurrent breakdowns cannot both take the last share.
type Ledger struct {
	mu     sync.Mutex
	budget float64
	store  SpendStore
	spent  map[string]float64
}

// NewLedger creates a ledger with the given per-poll budget. store may be
// nil to keep spends in memory only.
func NewLedger(budget float64, store SpendStore) *Ledger {
	return &Ledger{budget: budget, store: store, spent: make(map[string]float64)}
}

func (l *Ledger) Budget() float64 {
	return l.budget
}

// load returns the poll's spend, reading the store once. Caller holds l.mu.
func (l *Ledger) load(ctx context.Context, pollID string) (float64, error) {
	if spent, ok := l.spent[pollID]; ok {
		return spent, nil
	}
	if l.store == nil {
		return 0, nil
	}
	spent, err := l.store.SpentEpsilon(ctx, pollID)
	if err != nil {
		return 0, fmt.Errorf("failed to load privacy spend: %w", err)
	}
	l.spent[pollID] = spent
	return spent, nil
}

// Reserve consumes epsilon from the poll's budget and returns what is left.
// A request that would overrun the budget is refused whole.
func (l *Ledger) Reserve(ctx context.Context, pollID string, epsilon float64, purpose string) (float64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	spent, err := l.load(ctx, pollID)
	if err != nil {
		return 0, err
	}
	if spent+epsilon > l.budget+tolerance {
		slog.Warn("privacy budget exceeded",
			"poll_id", pollID,
			"spent", spent,
			"requested", epsilon,
			"budget", l.budget,
		)
		return clampRemaining(l.budget - spent), fmt.Errorf("%w: spent %.2f of %.2f, requested %.2f",
			ErrPrivacyBudgetExceeded, spent, l.budget, epsilon)
	}

	if l.store != nil {
		if err := l.store.RecordSpend(ctx, pollID, epsilon, purpose, time.Now()); err != nil {
			return 0, fmt.Errorf("failed to record privacy spend: %w", err)
		}
	}
	l.spent[pollID] = spent + epsilon
	return clampRemaining(l.budget - spent - epsilon), nil
}

// Refund returns epsilon reserved for a breakdown that was never published.
func (l *Ledger) Refund(ctx context.Context, pollID string, epsilon float64) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	spent, err := l.load(ctx, pollID)
	if err != nil {
		return err
	}
	if l.store != nil {
		if err := l.store.RecordSpend(ctx, pollID, -epsilon, "refund", time.Now()); err != nil {
			return fmt.Errorf("failed to record privacy refund: %w", err)
		}
	}
	l.spent[pollID] = spent - epsilon
	return nil
}

// Remaining returns the poll's unspent budget.
func (l *Ledger) Remaining(ctx context.Context, pollID string) (float64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	spent, err := l.load(ctx, pollID)
	if err != nil {
		return 0, err
	}
	return clampRemaining(l.budget - spent), nil
}

func clampRemaining(v float64) float64 {
	if v < tolerance {
		return 0
	}
	return v
}
