// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

package audit

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"

	"github.com/ugorji/go/codec"

	"github.com/danielhkuo/runoff/models"
)

// canonical encodes v as JSON with sorted map keys so the same value
// always yields the same bytes.
func canonical(v interface{}) ([]byte, error) {
	b := new(bytes.Buffer)
	jh := new(codec.JsonHandle)
	jh.Canonical = true
	enc := codec.NewEncoder(b, jh)

	if err := enc.Encode(v); err != nil {
		return nil, err
	}

	return b.Bytes(), nil
}

type ballotDigestInput struct {
	ID      string   `codec:"id"`
	Ranking []string `codec:"ranking"`
}

// BallotDigest is the anonymized leaf for one ballot: hex SHA-256 over the
// canonical encoding of its random id and canonical ranking.
func BallotDigest(ballotID string, ranking []string) (string, error) {
	if ranking == nil {
		ranking = []string{}
	}
	data, err := canonical(ballotDigestInput{ID: ballotID, Ranking: ranking})
	if err != nil {
		return "", fmt.Errorf("failed to encode ballot %s: %w", ballotID, err)
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}

// BallotSetDigest is the Merkle root over the sorted ballot digests, so it
// does not depend on arrival order.
func BallotSetDigest(digests []string) string {
	sorted := append([]string(nil), digests...)
	sort.Strings(sorted)

	var t Tree
	for _, d := range sorted {
		t.Append(d)
	}
	return t.Root()
}

type checksumInput struct {
	PollID          string         `codec:"poll_id"`
	Candidates      []string       `codec:"candidates"`
	BallotSetDigest string         `codec:"ballot_set_digest"`
	Rounds          []models.Round `codec:"rounds"`
}

// Checksum digests the poll id, sorted candidate ids, ballot-set digest and
// rounds of a result.
func Checksum(pollID string, candidates []string, ballotSetDigest string, rounds []models.Round) (string, error) {
	sorted := append([]string{}, candidates...)
	sort.Strings(sorted)
	if rounds == nil {
		rounds = []models.Round{}
	}

	data, err := canonical(checksumInput{
		PollID:          pollID,
		Candidates:      sorted,
		BallotSetDigest: ballotSetDigest,
		Rounds:          rounds,
	})
	if err != nil {
		return "", fmt.Errorf("failed to encode checksum input: %w", err)
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}
