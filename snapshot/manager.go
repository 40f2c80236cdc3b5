// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

package snapshot

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/danielhkuo/runoff/audit"
	"github.com/danielhkuo/runoff/db"
	"github.com/danielhkuo/runoff/irv"
	"github.com/danielhkuo/runoff/metrics"
	"github.com/danielhkuo/runoff/models"
)

var (
	ErrPollNotFound = errors.New("poll not found")
	ErrPollOpen     = errors.New("poll is still open")
	ErrNotYetClosed = errors.New("official result not available until the poll is finalized")

	// ErrAlreadyFinalized never leaves Finalize; the existing snapshot is
	// returned instead.
	ErrAlreadyFinalized = errors.New("poll already finalized")
)

// Store is the persistence Manager needs. *db.Store implements it.
type Store interface {
	GetPoll(ctx context.Context, pollID string) (models.PollConfig, error)
	ListCandidates(ctx context.Context, pollID string) ([]models.Candidate, error)
	ListBallots(ctx context.Context, pollID string, officialOnly bool) ([]models.Ballot, error)
	CreateSnapshot(ctx context.Context, snap models.Snapshot) (bool, error)
	GetSnapshot(ctx context.Context, pollID string) (models.Snapshot, error)
}

// Manager creates each poll's official snapshot exactly once.
type Manager struct {
	store   Store
	metrics *metrics.Metrics
	now     func() time.Time

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func NewManager(store Store, m *metrics.Metrics, now func() time.Time) *Manager {
	if now == nil {
		now = time.Now
	}
	return &Manager{store: store, metrics: m, now: now, locks: make(map[string]*sync.Mutex)}
}

func (m *Manager) lock(pollID string) *sync.Mutex {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.locks[pollID]
	if !ok {
		l = &sync.Mutex{}
		m.locks[pollID] = l
	}
	return l
}

// Finalize returns the poll's official snapshot, creating it if needed.
//
// Creation tallies every official ballot received by CloseAt, then
// persists the snapshot and closes the poll in one transaction. A poll
// whose ballots are all exhausted gets a snapshot without a winner. Calling
// Finalize again, or concurrently, returns the same snapshot.
func (m *Manager) Finalize(ctx context.Context, pollID string) (*models.Snapshot, error) {
	l := m.lock(pollID)
	l.Lock()
	defer l.Unlock()

	snap, err := m.create(ctx, pollID)
	if errors.Is(err, ErrAlreadyFinalized) {
		slog.Debug("poll already finalized", "poll_id", pollID)
		existing, err := m.store.GetSnapshot(ctx, pollID)
		if err != nil {
			return nil, fmt.Errorf("failed to load snapshot: %w", err)
		}
		return &existing, nil
	}
	if err != nil {
		return nil, err
	}
	return snap, nil
}

func (m *Manager) create(ctx context.Context, pollID string) (*models.Snapshot, error) {
	_, err := m.store.GetSnapshot(ctx, pollID)
	if err == nil {
		return nil, ErrAlreadyFinalized
	}
	if !errors.Is(err, db.ErrNotFound) {
		return nil, fmt.Errorf("failed to check snapshot: %w", err)
	}

	poll, err := m.store.GetPoll(ctx, pollID)
	if errors.Is(err, db.ErrNotFound) {
		return nil, ErrPollNotFound
	}
	if err != nil {
		return nil, err
	}

	takenAt := m.now()
	if takenAt.Before(poll.CloseAt) {
		return nil, ErrPollOpen
	}

	candidates, err := m.store.ListCandidates(ctx, pollID)
	if err != nil {
		return nil, err
	}
	// every stored ballot, in audit order; the snapshot commits to the
	// ledger as it stands now so later proofs can be anchored
	ballots, err := m.store.ListBallots(ctx, pollID, false)
	if err != nil {
		return nil, err
	}

	ledger := make([]string, len(ballots))
	rankings := make([][]string, 0, len(ballots))
	digests := make([]string, 0, len(ballots))
	for i, b := range ballots {
		ledger[i] = b.Digest
		// an early close sets close_at to the current instant, which can
		// equal the last official ballot's receive time
		if !b.Official || b.ReceivedAt.After(poll.CloseAt) {
			continue
		}
		d, err := audit.BallotDigest(b.ID, b.Ranking)
		if err != nil {
			return nil, err
		}
		rankings = append(rankings, b.Ranking)
		digests = append(digests, d)
	}

	set := irv.NewCandidateSet(candidates, poll.AllowWriteIns)
	result, err := irv.Tally(ctx, irv.Input{
		PollID:     pollID,
		Candidates: set.Counted(),
		Ballots:    rankings,
		TieBreak:   poll.TieBreak,
	})
	switch {
	case errors.Is(err, irv.ErrNoWinner):
		slog.Warn("official tally has no winner", "poll_id", pollID, "ballots", len(rankings))
	case errors.Is(err, irv.ErrTieBreakAmbiguous):
		slog.Error("official tally aborted by ambiguous tie-break", "poll_id", pollID, "error", err)
		m.metrics.TieBreakAmbiguous()
		return nil, err
	case err != nil:
		return nil, fmt.Errorf("failed to tally poll %s: %w", pollID, err)
	}

	setDigest := audit.BallotSetDigest(digests)
	sum, err := audit.Checksum(pollID, result.Candidates, setDigest, result.Rounds)
	if err != nil {
		return nil, err
	}

	snap := models.Snapshot{
		ID:              uuid.NewString(),
		PollID:          pollID,
		TakenAt:         takenAt.UTC(),
		CloseAt:         poll.CloseAt,
		Result:          result,
		TotalBallots:    result.TotalBallots,
		BallotSetDigest: setDigest,
		Checksum:        sum,
		LedgerRoot:      audit.LedgerRoot(ledger),
		LedgerSize:      len(ledger),
	}
	created, err := m.store.CreateSnapshot(ctx, snap)
	if err != nil {
		return nil, err
	}
	if !created {
		return nil, ErrAlreadyFinalized
	}

	m.metrics.SnapshotCreated()
	slog.Info("poll finalized",
		"poll_id", pollID,
		"ballots", snap.TotalBallots,
		"winner", result.Winner,
		"rounds", len(result.Rounds),
		"checksum", sum,
		"ledger_root", snap.LedgerRoot)
	return &snap, nil
}

// Official returns the poll's snapshot, or ErrNotYetClosed if it has none.
func (m *Manager) Official(ctx context.Context, pollID string) (*models.Snapshot, error) {
	snap, err := m.store.GetSnapshot(ctx, pollID)
	if err == nil {
		return &snap, nil
	}
	if !errors.Is(err, db.ErrNotFound) {
		return nil, err
	}
	if _, err := m.store.GetPoll(ctx, pollID); errors.Is(err, db.ErrNotFound) {
		return nil, ErrPollNotFound
	}
	return nil, ErrNotYetClosed
}

// Dataset returns the replay input behind the poll's snapshot.
func (m *Manager) Dataset(ctx context.Context, pollID string) (audit.Dataset, error) {
	snap, err := m.Official(ctx, pollID)
	if err != nil {
		return audit.Dataset{}, err
	}
	poll, err := m.store.GetPoll(ctx, pollID)
	if err != nil {
		return audit.Dataset{}, err
	}
	ballots, err := m.store.ListBallots(ctx, pollID, true)
	if err != nil {
		return audit.Dataset{}, err
	}
	included := ballots[:0]
	for _, b := range ballots {
		if !b.ReceivedAt.After(snap.CloseAt) {
			included = append(included, b)
		}
	}
	return audit.NewDataset(*snap, poll.TieBreak, included), nil
}
