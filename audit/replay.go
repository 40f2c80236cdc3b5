// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

package audit

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/danielhkuo/runoff/irv"
	"github.com/danielhkuo/runoff/models"
)

var (
	ErrChecksumMismatch   = errors.New("replayed checksum does not match published checksum")
	ErrUnanchoredProof    = errors.New("proof does not match the published ledger root")
	ErrBallotNotInDataset = errors.New("ballot not in dataset")
)

// DatasetBallot is one anonymized ballot: a random id and its canonical
// ranking. Receive times and attributes are never published.
type DatasetBallot struct {
	ID      string   `json:"id"`
	Ranking []string `json:"ranking"`
}

// Dataset is the public input for independent replay of an official result.
// LedgerRoot and LedgerSize anchor inclusion proofs: they are the audit
// log's root and leaf count when the snapshot was taken.
type Dataset struct {
	PollID          string          `json:"poll_id"`
	Method          string          `json:"method"`
	Candidates      []string        `json:"candidates"`
	TieBreak        models.TieBreak `json:"tie_break"`
	Ballots         []DatasetBallot `json:"ballots"`
	Rounds          []models.Round  `json:"rounds"`
	Winner          string          `json:"winner,omitempty"`
	BallotSetDigest string          `json:"ballot_set_digest"`
	Checksum        string          `json:"checksum"`
	LedgerRoot      string          `json:"ledger_root"`
	LedgerSize      int             `json:"ledger_size"`
}

// NewDataset publishes the ballots behind a snapshot. Ballots are sorted by
// id so arrival order is not disclosed.
func NewDataset(snap models.Snapshot, tieBreak models.TieBreak, ballots []models.Ballot) Dataset {
	out := make([]DatasetBallot, len(ballots))
	for i, b := range ballots {
		ranking := b.Ranking
		if ranking == nil {
			ranking = []string{}
		}
		out[i] = DatasetBallot{ID: b.ID, Ranking: ranking}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })

	return Dataset{
		PollID:          snap.PollID,
		Method:          models.MethodIRV,
		Candidates:      snap.Result.Candidates,
		TieBreak:        tieBreak,
		Ballots:         out,
		Rounds:          snap.Result.Rounds,
		Winner:          snap.Result.Winner,
		BallotSetDigest: snap.BallotSetDigest,
		Checksum:        snap.Checksum,
		LedgerRoot:      snap.LedgerRoot,
		LedgerSize:      snap.LedgerSize,
	}
}

// Report is the outcome of a replay.
type Report struct {
	PollID          string             `json:"poll_id"`
	Ballots         int                `json:"ballots"`
	BallotSetDigest string             `json:"ballot_set_digest"`
	Checksum        string             `json:"checksum"`
	Published       string             `json:"published_checksum"`
	Match           bool               `json:"match"`
	Result          models.TallyResult `json:"result"`
	LedgerRoot      string             `json:"ledger_root,omitempty"`
	LedgerSize      int                `json:"ledger_size,omitempty"`
}

// Replay recomputes digests, rounds and checksum from the dataset alone.
// A mismatch returns the report together with ErrChecksumMismatch.
func Replay(ctx context.Context, ds Dataset) (Report, error) {
	digests := make([]string, len(ds.Ballots))
	rankings := make([][]string, len(ds.Ballots))
	for i, b := range ds.Ballots {
		d, err := BallotDigest(b.ID, b.Ranking)
		if err != nil {
			return Report{}, err
		}
		digests[i] = d
		rankings[i] = b.Ranking
	}
	setDigest := BallotSetDigest(digests)

	result, err := irv.Tally(ctx, irv.Input{
		PollID:     ds.PollID,
		Candidates: ds.Candidates,
		Ballots:    rankings,
		TieBreak:   ds.TieBreak,
	})
	if err != nil && !errors.Is(err, irv.ErrNoWinner) {
		return Report{}, fmt.Errorf("replay tally failed: %w", err)
	}

	sum, err := Checksum(ds.PollID, ds.Candidates, setDigest, result.Rounds)
	if err != nil {
		return Report{}, err
	}

	report := Report{
		PollID:          ds.PollID,
		Ballots:         len(ds.Ballots),
		BallotSetDigest: setDigest,
		Checksum:        sum,
		Published:       ds.Checksum,
		Match:           sum == ds.Checksum,
		Result:          result,
		LedgerRoot:      ds.LedgerRoot,
		LedgerSize:      ds.LedgerSize,
	}
	if !report.Match {
		return report, ErrChecksumMismatch
	}
	return report, nil
}

// VerifyAnchored checks an inclusion proof against the ledger root the
// dataset publishes, so the root is not taken on the server's word.
func VerifyAnchored(ds Dataset, p models.MerkleProof) error {
	if p.PollID != ds.PollID {
		return fmt.Errorf("%w: proof is for poll %s", ErrUnanchoredProof, p.PollID)
	}
	if ds.LedgerRoot == "" {
		return fmt.Errorf("%w: dataset publishes no ledger root", ErrUnanchoredProof)
	}
	if p.Root != ds.LedgerRoot || p.TreeSize != ds.LedgerSize {
		return fmt.Errorf("%w: proof root %s over %d leaves, published %s over %d",
			ErrUnanchoredProof, p.Root, p.TreeSize, ds.LedgerRoot, ds.LedgerSize)
	}
	return VerifyProof(p)
}

// VerifyBallot checks that the proof's leaf is the digest of ballotID as
// published in the dataset, then anchors the proof.
func VerifyBallot(ds Dataset, ballotID string, p models.MerkleProof) error {
	for _, b := range ds.Ballots {
		if b.ID != ballotID {
			continue
		}
		digest, err := BallotDigest(b.ID, b.Ranking)
		if err != nil {
			return err
		}
		if digest != p.Leaf {
			return fmt.Errorf("%w: leaf is not ballot %s", ErrInvalidProof, ballotID)
		}
		return VerifyAnchored(ds, p)
	}
	return fmt.Errorf("%w: %s", ErrBallotNotInDataset, ballotID)
}
