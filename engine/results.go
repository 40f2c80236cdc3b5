// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/danielhkuo/runoff/audit"
	"github.com/danielhkuo/runoff/db"
	"github.com/danielhkuo/runoff/models"
	"github.com/danielhkuo/runoff/privacy"
	"github.com/danielhkuo/runoff/realtime"
)

// Finalize creates the poll's official snapshot once close_at has passed.
// Repeated calls return the same snapshot.
func (e *Engine) Finalize(ctx context.Context, pollID string) (*models.Snapshot, error) {
	ps, err := e.state(ctx, pollID)
	if err != nil {
		return nil, err
	}
	ps.mu.Lock()
	defer ps.mu.Unlock()
	return e.finalize(ctx, pollID, ps)
}

// finalize runs under ps.mu so no ballot is classified while the
// snapshot is taken.
func (e *Engine) finalize(ctx context.Context, pollID string, ps *pollState) (*models.Snapshot, error) {
	v := ps.view.Load()
	if v.snap != nil {
		return v.snap, nil
	}

	snap, err := e.snapshots.Finalize(ctx, pollID)
	if err != nil {
		return nil, err
	}

	if root, size := e.ledger.Root(pollID); size == snap.LedgerSize && root != snap.LedgerRoot {
		slog.Error("audit log out of step with stored ballots", "poll_id", pollID, "root", root, "published", snap.LedgerRoot)
	}

	cfg := v.cfg
	cfg.Status = models.StatusClosed
	ps.view.Store(&pollView{cfg: cfg, snap: snap})

	e.publish(pollID, ps, snap.Result, true)
	if cfg.AllowPostClose {
		// seed the trend with whatever post-close ballots already arrived
		out := ps.worker.Latest()
		e.trends.Observe(*snap, out.Result, e.tieBreak(cfg), e.now())
	}
	return snap, nil
}

// ClosePoll ends voting now, moving close_at forward if needed, and
// finalizes. An already finalized poll returns its snapshot.
func (e *Engine) ClosePoll(ctx context.Context, pollID string) (models.ClosePollResponse, error) {
	ps, err := e.state(ctx, pollID)
	if err != nil {
		return models.ClosePollResponse{}, err
	}
	ps.mu.Lock()
	defer ps.mu.Unlock()

	v := ps.view.Load()
	if v.snap == nil {
		now := e.now().UTC()
		if now.Before(v.cfg.CloseAt) {
			err := e.store.UpdateCloseAt(ctx, pollID, now)
			if errors.Is(err, db.ErrFinalized) {
				// another process finalized first; Finalize loads its snapshot
				slog.Info("poll finalized elsewhere", "poll_id", pollID)
			} else if err != nil {
				return models.ClosePollResponse{}, err
			} else {
				cfg := v.cfg
				cfg.CloseAt = now
				ps.view.Store(&pollView{cfg: cfg})
				slog.Info("poll closed early", "poll_id", pollID, "close_at", now)
			}
		}
	}

	snap, err := e.finalize(ctx, pollID, ps)
	if err != nil {
		return models.ClosePollResponse{}, err
	}
	return models.ClosePollResponse{ClosedAt: snap.CloseAt, Snapshot: *snap}, nil
}

// GetOfficialResult returns the snapshot with its official disclosure.
func (e *Engine) GetOfficialResult(ctx context.Context, pollID string) (models.OfficialResultResponse, error) {
	ps, err := e.state(ctx, pollID)
	if err != nil {
		return models.OfficialResultResponse{}, err
	}
	v := ps.view.Load()
	snap := v.snap
	if snap == nil {
		// another process may have finalized
		if snap, err = e.snapshots.Official(ctx, pollID); err != nil {
			return models.OfficialResultResponse{}, err
		}
	}
	return e.officialResult(v.cfg, snap), nil
}

func (e *Engine) officialResult(cfg models.PollConfig, snap *models.Snapshot) models.OfficialResultResponse {
	return models.OfficialResultResponse{
		Snapshot:   *snap,
		Disclosure: e.meth.Disclose(true, snap.TotalBallots, snap.TakenAt, e.tieBreak(cfg)),
	}
}

// GetTrend returns the unofficial result over official and post-close
// ballots. Only polls that accept post-close ballots have one.
func (e *Engine) GetTrend(ctx context.Context, pollID string) (models.TrendDelta, error) {
	ps, err := e.state(ctx, pollID)
	if err != nil {
		return models.TrendDelta{}, err
	}
	v := ps.view.Load()
	if !v.cfg.AllowPostClose {
		return models.TrendDelta{}, ErrNotApplicable
	}
	if v.snap == nil {
		return models.TrendDelta{}, ErrNotYetClosed
	}

	// observing again on read lets stability windows advance without traffic
	out := ps.worker.Latest()
	return e.trends.Observe(*v.snap, out.Result, e.tieBreak(v.cfg), e.now()), nil
}

// Breakdown returns a privacy-filtered first-preference breakdown of the
// official ballots by one dimension. Each call spends epsilon from the
// poll's budget.
func (e *Engine) Breakdown(ctx context.Context, pollID string, dimensions []string, view string) (models.Breakdown, error) {
	ps, err := e.state(ctx, pollID)
	if err != nil {
		return models.Breakdown{}, err
	}
	v := ps.view.Load()
	if v.snap == nil {
		return models.Breakdown{}, ErrNotYetClosed
	}

	ballots, err := e.store.ListBallots(ctx, pollID, true)
	if err != nil {
		return models.Breakdown{}, err
	}
	rows := make([]privacy.Row, 0, len(ballots))
	for _, b := range ballots {
		if b.ReceivedAt.After(v.snap.CloseAt) {
			continue
		}
		row := privacy.Row{Attributes: b.Attributes}
		if len(b.Ranking) > 0 {
			row.FirstChoice = b.Ranking[0]
		}
		rows = append(rows, row)
	}

	breakdown, err := e.filter.Apply(ctx, privacy.Request{
		PollID:     pollID,
		Dimensions: dimensions,
		View:       view,
		Candidates: v.snap.Result.Candidates,
		Purpose:    fmt.Sprintf("breakdown:%v:%s", dimensions, view),
	}, rows)
	if errors.Is(err, privacy.ErrPrivacyBudgetExceeded) {
		e.metrics.PrivacyRefused()
		slog.Warn("breakdown refused, epsilon budget exhausted", "poll_id", pollID)
	}
	if err != nil {
		return models.Breakdown{}, err
	}
	breakdown.Disclosure = e.meth.Disclose(true, len(rows), e.now(), e.tieBreak(v.cfg))
	return breakdown, nil
}

// LiveInitial is what a live viewer receives on connect. Official is set
// once the poll is finalized; Trend is set when it also accepts post-close
// ballots.
type LiveInitial struct {
	Official *models.OfficialResultResponse `json:"official,omitempty"`
	Trend    *models.TrendDelta             `json:"trend,omitempty"`
	realtime.Initial
}

// Subscribe opens a live diff stream. Open polls only stream when created
// with live tally; finalized polls always stream.
func (e *Engine) Subscribe(ctx context.Context, pollID string) (LiveInitial, *realtime.Subscription, error) {
	ps, err := e.state(ctx, pollID)
	if err != nil {
		return LiveInitial{}, nil, err
	}
	v := ps.view.Load()
	if v.snap == nil && !v.cfg.LiveTally {
		return LiveInitial{}, nil, ErrSealed
	}

	out := ps.worker.Latest()
	if _, _, ok := e.publisher.Latest(pollID); !ok {
		official := v.snap != nil && !v.cfg.AllowPostClose
		result := out.Result
		if official {
			result = v.snap.Result
		}
		e.publish(pollID, ps, result, official)
	}

	initial, sub := e.publisher.Subscribe(pollID)
	live := LiveInitial{Initial: initial}
	if v.snap != nil {
		official := e.officialResult(v.cfg, v.snap)
		live.Official = &official
		if v.cfg.AllowPostClose {
			td := e.trends.Observe(*v.snap, out.Result, e.tieBreak(v.cfg), e.now())
			live.Trend = &td
		}
	}
	return live, sub, nil
}

// Dataset returns the public replay input of a finalized poll.
func (e *Engine) Dataset(ctx context.Context, pollID string) (audit.Dataset, error) {
	return e.snapshots.Dataset(ctx, pollID)
}

// Proof returns the Merkle inclusion proof of one ballot in the poll's
// audit log. Ballots covered by the snapshot are proven against the ledger
// root it published; later ballots against the current log.
func (e *Engine) Proof(ctx context.Context, pollID, ballotID string) (models.MerkleProof, error) {
	ps, err := e.state(ctx, pollID)
	if err != nil {
		return models.MerkleProof{}, err
	}
	b, err := e.store.GetBallot(ctx, pollID, ballotID)
	if errors.Is(err, db.ErrNotFound) {
		return models.MerkleProof{}, ErrBallotNotFound
	}
	if err != nil {
		return models.MerkleProof{}, err
	}
	size := 0
	if snap := ps.view.Load().snap; snap != nil && b.Seq < snap.LedgerSize {
		size = snap.LedgerSize
	}
	return e.ledger.Proof(pollID, b.Seq, b.Digest, size)
}
