// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	"github.com/danielhkuo/runoff/audit"
	"github.com/danielhkuo/runoff/db"
	"github.com/danielhkuo/runoff/irv"
	"github.com/danielhkuo/runoff/models"
	"github.com/danielhkuo/runoff/privacy"
)

// MaxBatch is the largest batch SubmitBatch accepts.
const MaxBatch = 1000

const invalidBallotMessage = "ballot has no countable choice; recorded as exhausted"

// CreatePoll validates and stores a new poll. id and shareSlug are chosen
// by the caller.
func (e *Engine) CreatePoll(ctx context.Context, id, shareSlug string, req models.CreatePollRequest) (models.PollConfig, error) {
	title := strings.TrimSpace(req.Title)
	if title == "" {
		return models.PollConfig{}, fmt.Errorf("%w: title is required", ErrInvalidRequest)
	}
	now := e.now()
	if !req.CloseAt.After(now) {
		return models.PollConfig{}, fmt.Errorf("%w: close_at must be in the future", ErrInvalidRequest)
	}

	tb := req.TieBreak
	switch tb.Mode {
	case "", models.TieBreakHash:
		tb = models.TieBreak{Mode: models.TieBreakHash}
	case models.TieBreakBeacon:
		if strings.TrimSpace(tb.Beacon) == "" {
			return models.PollConfig{}, fmt.Errorf("%w: beacon mode requires a beacon", ErrInvalidRequest)
		}
	default:
		return models.PollConfig{}, fmt.Errorf("%w: unknown tie_break mode %q", ErrInvalidRequest, tb.Mode)
	}

	seen := make(map[string]bool)
	var candidates []models.Candidate
	for _, raw := range req.Candidates {
		cid := strings.TrimSpace(raw)
		if cid == "" || seen[cid] {
			continue
		}
		if strings.HasPrefix(strings.ToLower(cid), irv.WriteInPrefix) {
			return models.PollConfig{}, fmt.Errorf("%w: candidate id %q uses the write-in prefix", ErrInvalidRequest, cid)
		}
		seen[cid] = true
		candidates = append(candidates, models.Candidate{ID: cid, PollID: id, Label: cid, Status: models.CandidateActive})
	}
	if len(candidates) < 2 {
		return models.PollConfig{}, fmt.Errorf("%w: at least two distinct candidates are required", ErrInvalidRequest)
	}

	poll := models.PollConfig{
		ID:             id,
		Title:          title,
		CloseAt:        req.CloseAt.UTC(),
		AllowPostClose: req.AllowPostClose,
		AllowWriteIns:  req.AllowWriteIns,
		LiveTally:      req.LiveTally,
		TieBreak:       tb,
		Status:         models.StatusOpen,
		ShareSlug:      shareSlug,
		CreatedAt:      now.UTC(),
	}
	if err := e.store.CreatePoll(ctx, poll, candidates); err != nil {
		return models.PollConfig{}, err
	}

	slog.Info("poll created", "poll_id", id, "candidates", len(candidates), "close_at", poll.CloseAt)
	return poll, nil
}

// GetPoll resolves a poll by id or share slug.
func (e *Engine) GetPoll(ctx context.Context, ref string) (models.PollWithCandidates, error) {
	poll, err := e.store.ResolvePoll(ctx, ref)
	if errors.Is(err, db.ErrNotFound) {
		return models.PollWithCandidates{}, ErrPollNotFound
	}
	if err != nil {
		return models.PollWithCandidates{}, err
	}
	candidates, err := e.store.ListCandidates(ctx, poll.ID)
	if err != nil {
		return models.PollWithCandidates{}, err
	}
	return models.PollWithCandidates{Poll: poll, Candidates: candidates}, nil
}

// Resolve maps a poll id or share slug to the poll id.
func (e *Engine) Resolve(ctx context.Context, ref string) (string, error) {
	e.mu.Lock()
	_, loaded := e.polls[ref]
	e.mu.Unlock()
	if loaded {
		return ref, nil
	}

	poll, err := e.store.ResolvePoll(ctx, ref)
	if errors.Is(err, db.ErrNotFound) {
		return "", ErrPollNotFound
	}
	if err != nil {
		return "", err
	}
	return poll.ID, nil
}

// AddCandidate registers an active candidate on a poll without a snapshot.
func (e *Engine) AddCandidate(ctx context.Context, pollID string, req models.AddCandidateRequest) (models.Candidate, error) {
	cid := strings.TrimSpace(req.ID)
	if cid == "" || strings.HasPrefix(strings.ToLower(cid), irv.WriteInPrefix) {
		return models.Candidate{}, fmt.Errorf("%w: invalid candidate id %q", ErrInvalidRequest, req.ID)
	}
	label := strings.TrimSpace(req.Label)
	if label == "" {
		label = cid
	}

	ps, err := e.state(ctx, pollID)
	if err != nil {
		return models.Candidate{}, err
	}
	ps.mu.Lock()
	defer ps.mu.Unlock()

	if ps.view.Load().snap != nil {
		return models.Candidate{}, ErrFinalized
	}
	c := models.Candidate{ID: cid, PollID: pollID, Label: label, Status: models.CandidateActive}
	err = e.store.AddCandidate(ctx, c, e.now())
	if errors.Is(err, db.ErrDuplicate) {
		return models.Candidate{}, ErrCandidateExists
	}
	if err != nil {
		return models.Candidate{}, err
	}

	ps.set.Add(cid, models.CandidateActive)
	ps.worker.enqueue(nil, ps.set.Counted())
	slog.Info("candidate added", "poll_id", pollID, "candidate_id", cid)
	return c, nil
}

// WithdrawCandidate removes a candidate from every round of every future
// tally. Ballots ranking it transfer to their next choice.
func (e *Engine) WithdrawCandidate(ctx context.Context, pollID, candidateID string) error {
	ps, err := e.state(ctx, pollID)
	if err != nil {
		return err
	}
	ps.mu.Lock()
	defer ps.mu.Unlock()

	if ps.view.Load().snap != nil {
		return ErrFinalized
	}
	err = e.store.SetCandidateStatus(ctx, pollID, candidateID, models.CandidateWithdrawn)
	switch {
	case errors.Is(err, db.ErrNotFound):
		return ErrCandidateNotFound
	case errors.Is(err, db.ErrFinalized):
		return ErrFinalized
	case err != nil:
		return err
	}

	ps.set.Add(candidateID, models.CandidateWithdrawn)
	ps.worker.enqueue(nil, ps.set.Counted())
	slog.Info("candidate withdrawn", "poll_id", pollID, "candidate_id", candidateID)
	return nil
}

// SubmitBallot records one ballot. A ballot with no countable choice is
// still recorded, as exhausted, and irv.ErrInvalidBallot is returned with
// the response.
func (e *Engine) SubmitBallot(ctx context.Context, pollID string, req models.SubmitBallotRequest) (models.SubmitBallotResponse, error) {
	resp, err := e.SubmitBatch(ctx, pollID, []models.SubmitBallotRequest{req})
	if err != nil {
		return models.SubmitBallotResponse{}, err
	}
	result := resp.Results[0]
	if result.Exhausted {
		return result, irv.ErrInvalidBallot
	}
	return result, nil
}

// SubmitBatch normalizes, classifies and stores ballots, then blocks until
// a tally covering them has been committed.
//
// Ballots received before close_at are official. After close_at, ballots
// are accepted as unofficial only when the poll allows post-close ballots;
// otherwise the whole batch is refused with ErrPollClosed.
func (e *Engine) SubmitBatch(ctx context.Context, pollID string, reqs []models.SubmitBallotRequest) (models.SubmitBatchResponse, error) {
	if len(reqs) == 0 || len(reqs) > MaxBatch {
		return models.SubmitBatchResponse{}, fmt.Errorf("%w: batch must hold 1 to %d ballots", ErrInvalidRequest, MaxBatch)
	}

	ps, err := e.state(ctx, pollID)
	if err != nil {
		return models.SubmitBatchResponse{}, err
	}

	ps.mu.Lock()
	v := ps.view.Load()
	now := e.now()
	if (v.snap != nil || v.cfg.Closed(now)) && !v.cfg.AllowPostClose {
		ps.mu.Unlock()
		e.metrics.BallotRejected()
		return models.SubmitBatchResponse{}, ErrPollClosed
	}
	official := v.snap == nil && !v.cfg.Closed(now)

	ballots := make([]models.Ballot, len(reqs))
	rankings := make([][]string, len(reqs))
	results := make([]models.SubmitBallotResponse, len(reqs))
	var writeIns []models.Candidate
	for i, req := range reqs {
		ranking, nerr := irv.Normalize(req.Ranking, ps.set)
		for _, wid := range ps.set.WriteIns(ranking) {
			writeIns = append(writeIns, models.Candidate{
				ID:     wid,
				PollID: pollID,
				Label:  strings.TrimPrefix(wid, irv.WriteInPrefix),
				Status: models.CandidateWriteIn,
			})
			ps.set.Add(wid, models.CandidateWriteIn)
		}

		id := uuid.NewString()
		digest, err := audit.BallotDigest(id, ranking)
		if err != nil {
			ps.mu.Unlock()
			return models.SubmitBatchResponse{}, err
		}
		ballots[i] = models.Ballot{
			ID:         id,
			PollID:     pollID,
			Ranking:    ranking,
			ReceivedAt: now,
			Official:   official,
			Digest:     digest,
			Seq:        ps.nextSeq + i,
			Attributes: attributes(req.Attributes),
		}
		rankings[i] = ranking
		results[i] = models.SubmitBallotResponse{
			Accepted:  true,
			BallotID:  id,
			Official:  official,
			Exhausted: len(ranking) == 0,
			Ranking:   ranking,
		}
		if errors.Is(nerr, irv.ErrInvalidBallot) {
			results[i].Message = invalidBallotMessage
		}
	}

	if err := e.persist(ctx, ps, writeIns, ballots); err != nil {
		ps.mu.Unlock()
		return models.SubmitBatchResponse{}, err
	}
	for i, b := range ballots {
		if idx := e.ledger.Append(pollID, b.Digest); idx != b.Seq {
			slog.Error("audit leaf index out of step", "poll_id", pollID, "seq", b.Seq, "leaf", idx)
		}
		e.metrics.BallotAccepted(results[i].Exhausted)
	}
	ps.velocity.Inc(now, len(ballots))
	done := ps.worker.enqueue(rankings, ps.set.Counted())
	ps.mu.Unlock()

	resp := models.SubmitBatchResponse{Results: results}
	select {
	case out := <-done:
		if out.Err != nil && !errors.Is(out.Err, irv.ErrNoWinner) {
			// the ballots are stored; a later tally will include them
			slog.Warn("ballots stored but not yet tallied", "poll_id", pollID, "error", out.Err)
		}
		resp.Version = out.Version
		return resp, nil
	case <-ctx.Done():
		return resp, ctx.Err()
	}
}

// persist stores new write-in candidates and ballots and advances the
// sequence. Callers hold ps.mu.
func (e *Engine) persist(ctx context.Context, ps *pollState, writeIns []models.Candidate, ballots []models.Ballot) error {
	for i, c := range writeIns {
		if err := e.store.AddCandidate(ctx, c, e.now()); err != nil && !errors.Is(err, db.ErrDuplicate) {
			for _, w := range writeIns[i:] {
				ps.set.Remove(w.ID)
			}
			return fmt.Errorf("failed to register write-in %s: %w", c.ID, err)
		}
		slog.Info("write-in registered", "poll_id", c.PollID, "candidate_id", c.ID)
	}
	if err := e.store.InsertBallots(ctx, ballots); err != nil {
		return err
	}
	ps.nextSeq += len(ballots)
	return nil
}

// attributes keeps the known breakdown dimensions with a value.
func attributes(raw map[string]string) map[string]string {
	var out map[string]string
	for dim, value := range raw {
		value = strings.TrimSpace(value)
		if !privacy.ValidDimension(dim) || value == "" {
			continue
		}
		if out == nil {
			out = make(map[string]string)
		}
		out[dim] = value
	}
	return out
}
