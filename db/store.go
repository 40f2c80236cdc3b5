// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/danielhkuo/runoff/models"
)

var (
	ErrNotFound  = errors.New("not found")
	ErrDuplicate = errors.New("already exists")
	// ErrFinalized is returned for changes that a snapshot makes immutable.
	ErrFinalized = errors.New("poll already finalized")
)

// Store persists polls, candidates, ballots, snapshots and privacy spend.
// Ballots are insert-only: Store has no way to update or delete one.
type Store struct {
	db *sql.DB
}

func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

func nanos(t time.Time) int64 {
	return t.UTC().UnixNano()
}

func fromNanos(n int64) time.Time {
	return time.Unix(0, n).UTC()
}

// CreatePoll inserts a poll and its initial candidates in one transaction.
func (s *Store) CreatePoll(ctx context.Context, poll models.PollConfig, candidates []models.Candidate) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var slug *string
	if poll.ShareSlug != "" {
		slug = &poll.ShareSlug
	}
	_, err = tx.ExecContext(ctx, `
		INSERT INTO poll (id, title, close_at, allow_post_close, allow_write_ins, live_tally,
			tie_break_mode, beacon, status, share_slug, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`, poll.ID, poll.Title, nanos(poll.CloseAt), poll.AllowPostClose, poll.AllowWriteIns, poll.LiveTally,
		poll.TieBreak.Mode, poll.TieBreak.Beacon, poll.Status, slug, nanos(poll.CreatedAt))
	if err != nil {
		return fmt.Errorf("failed to insert poll: %w", err)
	}

	for _, c := range candidates {
		_, err = tx.ExecContext(ctx, `
			INSERT INTO candidate (poll_id, id, label, status, created_at)
			VALUES ($1, $2, $3, $4, $5)
		`, poll.ID, c.ID, c.Label, string(c.Status), nanos(poll.CreatedAt))
		if err != nil {
			return fmt.Errorf("failed to insert candidate %s: %w", c.ID, err)
		}
	}

	return tx.Commit()
}

const pollColumns = `id, title, close_at, allow_post_close, allow_write_ins, live_tally,
	tie_break_mode, beacon, status, COALESCE(share_slug, ''), created_at`

type scanner interface {
	Scan(dest ...any) error
}

func scanPoll(row scanner) (models.PollConfig, error) {
	var p models.PollConfig
	var closeAt, createdAt int64
	err := row.Scan(&p.ID, &p.Title, &closeAt, &p.AllowPostClose, &p.AllowWriteIns, &p.LiveTally,
		&p.TieBreak.Mode, &p.TieBreak.Beacon, &p.Status, &p.ShareSlug, &createdAt)
	if err != nil {
		return models.PollConfig{}, err
	}
	p.CloseAt = fromNanos(closeAt)
	p.CreatedAt = fromNanos(createdAt)
	return p, nil
}

// GetPoll loads a poll by id.
func (s *Store) GetPoll(ctx context.Context, pollID string) (models.PollConfig, error) {
	p, err := scanPoll(s.db.QueryRowContext(ctx, `SELECT `+pollColumns+` FROM poll WHERE id = $1`, pollID))
	if err == sql.ErrNoRows {
		return models.PollConfig{}, ErrNotFound
	}
	if err != nil {
		return models.PollConfig{}, fmt.Errorf("failed to load poll: %w", err)
	}
	return p, nil
}

// ResolvePoll loads a poll by id or share slug.
func (s *Store) ResolvePoll(ctx context.Context, ref string) (models.PollConfig, error) {
	p, err := scanPoll(s.db.QueryRowContext(ctx,
		`SELECT `+pollColumns+` FROM poll WHERE id = $1 OR share_slug = $2`, ref, ref))
	if err == sql.ErrNoRows {
		return models.PollConfig{}, ErrNotFound
	}
	if err != nil {
		return models.PollConfig{}, fmt.Errorf("failed to resolve poll: %w", err)
	}
	return p, nil
}

// ListDuePolls returns ids of open polls whose close time has passed.
func (s *Store) ListDuePolls(ctx context.Context, now time.Time) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id FROM poll WHERE status = $1 AND close_at <= $2 ORDER BY close_at
	`, models.StatusOpen, nanos(now))
	if err != nil {
		return nil, fmt.Errorf("failed to list due polls: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan poll id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// UpdateCloseAt moves the close cutoff. It fails with ErrFinalized once a
// snapshot exists.
func (s *Store) UpdateCloseAt(ctx context.Context, pollID string, closeAt time.Time) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE poll SET close_at = $1
		WHERE id = $2 AND NOT EXISTS (SELECT 1 FROM snapshot WHERE poll_id = $3)
	`, nanos(closeAt), pollID, pollID)
	if err != nil {
		return fmt.Errorf("failed to update close_at: %w", err)
	}
	return s.requireRow(ctx, res, pollID)
}

// requireRow turns a zero-row update into ErrNotFound or ErrFinalized.
func (s *Store) requireRow(ctx context.Context, res sql.Result, pollID string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read rows affected: %w", err)
	}
	if n > 0 {
		return nil
	}
	if _, err := s.GetPoll(ctx, pollID); err != nil {
		return err
	}
	return ErrFinalized
}

// AddCandidate registers a candidate. ErrDuplicate means the id is taken.
func (s *Store) AddCandidate(ctx context.Context, c models.Candidate, at time.Time) error {
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO candidate (poll_id, id, label, status, created_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (poll_id, id) DO NOTHING
	`, c.PollID, c.ID, c.Label, string(c.Status), nanos(at))
	if err != nil {
		return fmt.Errorf("failed to insert candidate: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read rows affected: %w", err)
	}
	if n == 0 {
		return ErrDuplicate
	}
	return nil
}

// SetCandidateStatus changes a candidate's status while the poll has no
// snapshot.
func (s *Store) SetCandidateStatus(ctx context.Context, pollID, candidateID string, status models.CandidateStatus) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE candidate SET status = $1
		WHERE poll_id = $2 AND id = $3
		AND NOT EXISTS (SELECT 1 FROM snapshot WHERE poll_id = $4)
	`, string(status), pollID, candidateID, pollID)
	if err != nil {
		return fmt.Errorf("failed to update candidate: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read rows affected: %w", err)
	}
	if n > 0 {
		return nil
	}

	var exists int
	err = s.db.QueryRowContext(ctx, `SELECT 1 FROM candidate WHERE poll_id = $1 AND id = $2`, pollID, candidateID).Scan(&exists)
	if err == sql.ErrNoRows {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("failed to load candidate: %w", err)
	}
	return ErrFinalized
}

// ListCandidates returns a poll's candidates ordered by id.
func (s *Store) ListCandidates(ctx context.Context, pollID string) ([]models.Candidate, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, label, status FROM candidate WHERE poll_id = $1 ORDER BY id
	`, pollID)
	if err != nil {
		return nil, fmt.Errorf("failed to query candidates: %w", err)
	}
	defer rows.Close()

	candidates := []models.Candidate{}
	for rows.Next() {
		c := models.Candidate{PollID: pollID}
		var status string
		if err := rows.Scan(&c.ID, &c.Label, &status); err != nil {
			return nil, fmt.Errorf("failed to scan candidate: %w", err)
		}
		c.Status = models.CandidateStatus(status)
		candidates = append(candidates, c)
	}
	return candidates, rows.Err()
}

// InsertBallots stores ballots and their attributes atomically.
func (s *Store) InsertBallots(ctx context.Context, ballots []models.Ballot) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	for _, b := range ballots {
		ranking := b.Ranking
		if ranking == nil {
			ranking = []string{}
		}
		encoded, err := json.Marshal(ranking)
		if err != nil {
			return fmt.Errorf("failed to encode ranking: %w", err)
		}
		_, err = tx.ExecContext(ctx, `
			INSERT INTO ballot (id, poll_id, ranking, received_at, official, digest, seq)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
		`, b.ID, b.PollID, string(encoded), nanos(b.ReceivedAt), b.Official, b.Digest, b.Seq)
		if err != nil {
			return fmt.Errorf("failed to insert ballot: %w", err)
		}

		for dim, value := range b.Attributes {
			_, err = tx.ExecContext(ctx, `
				INSERT INTO ballot_attribute (ballot_id, dimension, value)
				VALUES ($1, $2, $3)
			`, b.ID, dim, value)
			if err != nil {
				return fmt.Errorf("failed to insert ballot attribute: %w", err)
			}
		}
	}

	return tx.Commit()
}

// ListBallots returns a poll's ballots in arrival order, attributes
// included. officialOnly restricts to ballots classified pre-close.
func (s *Store) ListBallots(ctx context.Context, pollID string, officialOnly bool) ([]models.Ballot, error) {
	query := `
		SELECT id, ranking, received_at, official, digest, seq
		FROM ballot WHERE poll_id = $1`
	if officialOnly {
		query += ` AND official = TRUE`
	}
	query += ` ORDER BY seq`

	rows, err := s.db.QueryContext(ctx, query, pollID)
	if err != nil {
		return nil, fmt.Errorf("failed to query ballots: %w", err)
	}
	defer rows.Close()

	var ballots []models.Ballot
	index := make(map[string]int)
	for rows.Next() {
		b := models.Ballot{PollID: pollID}
		var ranking string
		var receivedAt int64
		if err := rows.Scan(&b.ID, &ranking, &receivedAt, &b.Official, &b.Digest, &b.Seq); err != nil {
			return nil, fmt.Errorf("failed to scan ballot: %w", err)
		}
		if err := json.Unmarshal([]byte(ranking), &b.Ranking); err != nil {
			return nil, fmt.Errorf("failed to decode ranking of ballot %s: %w", b.ID, err)
		}
		b.ReceivedAt = fromNanos(receivedAt)
		index[b.ID] = len(ballots)
		ballots = append(ballots, b)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	attrs, err := s.db.QueryContext(ctx, `
		SELECT a.ballot_id, a.dimension, a.value
		FROM ballot_attribute a JOIN ballot b ON b.id = a.ballot_id
		WHERE b.poll_id = $1
	`, pollID)
	if err != nil {
		return nil, fmt.Errorf("failed to query ballot attributes: %w", err)
	}
	defer attrs.Close()

	for attrs.Next() {
		var id, dim, value string
		if err := attrs.Scan(&id, &dim, &value); err != nil {
			return nil, fmt.Errorf("failed to scan ballot attribute: %w", err)
		}
		i, ok := index[id]
		if !ok {
			continue
		}
		if ballots[i].Attributes == nil {
			ballots[i].Attributes = make(map[string]string)
		}
		ballots[i].Attributes[dim] = value
	}
	return ballots, attrs.Err()
}

// GetBallot loads one ballot of a poll, without attributes.
func (s *Store) GetBallot(ctx context.Context, pollID, ballotID string) (models.Ballot, error) {
	b := models.Ballot{PollID: pollID}
	var ranking string
	var receivedAt int64
	err := s.db.QueryRowContext(ctx, `
		SELECT id, ranking, received_at, official, digest, seq
		FROM ballot WHERE poll_id = $1 AND id = $2
	`, pollID, ballotID).Scan(&b.ID, &ranking, &receivedAt, &b.Official, &b.Digest, &b.Seq)
	if err == sql.ErrNoRows {
		return models.Ballot{}, ErrNotFound
	}
	if err != nil {
		return models.Ballot{}, fmt.Errorf("failed to load ballot: %w", err)
	}
	if err := json.Unmarshal([]byte(ranking), &b.Ranking); err != nil {
		return models.Ballot{}, fmt.Errorf("failed to decode ranking: %w", err)
	}
	b.ReceivedAt = fromNanos(receivedAt)
	return b, nil
}

// NextSeq returns the audit index the poll's next ballot receives.
func (s *Store) NextSeq(ctx context.Context, pollID string) (int, error) {
	var next int
	err := s.db.QueryRowContext(ctx, `
		SELECT COALESCE(MAX(seq), -1) + 1 FROM ballot WHERE poll_id = $1
	`, pollID).Scan(&next)
	if err != nil {
		return 0, fmt.Errorf("failed to read ballot sequence: %w", err)
	}
	return next, nil
}

// CreateSnapshot stores the official snapshot and marks the poll closed in
// one transaction. created is false when the poll already had a snapshot;
// nothing is written in that case.
func (s *Store) CreateSnapshot(ctx context.Context, snap models.Snapshot) (created bool, err error) {
	payload, err := json.Marshal(snap.Result)
	if err != nil {
		return false, fmt.Errorf("failed to encode snapshot: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `
		INSERT INTO snapshot (poll_id, id, taken_at, close_at, total_ballots, ballot_set_digest, checksum,
			ledger_root, ledger_size, payload)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (poll_id) DO NOTHING
	`, snap.PollID, snap.ID, nanos(snap.TakenAt), nanos(snap.CloseAt), snap.TotalBallots,
		snap.BallotSetDigest, snap.Checksum, snap.LedgerRoot, snap.LedgerSize, string(payload))
	if err != nil {
		return false, fmt.Errorf("failed to insert snapshot: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read rows affected: %w", err)
	}
	if n == 0 {
		return false, nil
	}

	_, err = tx.ExecContext(ctx, `UPDATE poll SET status = $1 WHERE id = $2`, models.StatusClosed, snap.PollID)
	if err != nil {
		return false, fmt.Errorf("failed to close poll: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("failed to commit snapshot: %w", err)
	}
	return true, nil
}

// GetSnapshot loads the poll's official snapshot.
func (s *Store) GetSnapshot(ctx context.Context, pollID string) (models.Snapshot, error) {
	snap := models.Snapshot{PollID: pollID}
	var takenAt, closeAt int64
	var payload string
	err := s.db.QueryRowContext(ctx, `
		SELECT id, taken_at, close_at, total_ballots, ballot_set_digest, checksum, ledger_root, ledger_size, payload
		FROM snapshot WHERE poll_id = $1
	`, pollID).Scan(&snap.ID, &takenAt, &closeAt, &snap.TotalBallots, &snap.BallotSetDigest, &snap.Checksum,
		&snap.LedgerRoot, &snap.LedgerSize, &payload)
	if err == sql.ErrNoRows {
		return models.Snapshot{}, ErrNotFound
	}
	if err != nil {
		return models.Snapshot{}, fmt.Errorf("failed to load snapshot: %w", err)
	}
	if err := json.Unmarshal([]byte(payload), &snap.Result); err != nil {
		return models.Snapshot{}, fmt.Errorf("failed to decode snapshot: %w", err)
	}
	snap.TakenAt = fromNanos(takenAt)
	snap.CloseAt = fromNanos(closeAt)
	return snap, nil
}

// SpentEpsilon sums the poll's recorded privacy spend, refunds included.
func (s *Store) SpentEpsilon(ctx context.Context, pollID string) (float64, error) {
	var spent float64
	err := s.db.QueryRowContext(ctx, `
		SELECT COALESCE(SUM(epsilon), 0) FROM privacy_spend WHERE poll_id = $1
	`, pollID).Scan(&spent)
	if err != nil {
		return 0, fmt.Errorf("failed to sum privacy spend: %w", err)
	}
	return spent, nil
}

// RecordSpend appends one epsilon ledger row.
func (s *Store) RecordSpend(ctx context.Context, pollID string, epsilon float64, purpose string, at time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO privacy_spend (id, poll_id, epsilon, purpose, spent_at)
		VALUES ($1, $2, $3, $4, $5)
	`, uuid.NewString(), pollID, epsilon, purpose, nanos(at))
	if err != nil {
		return fmt.Errorf("failed to record privacy spend: %w", err)
	}
	return nil
}
