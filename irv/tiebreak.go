// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

package irv

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"sort"

	"github.com/danielhkuo/runoff/models"
)

// TieBreaker picks the candidate to eliminate among those tied on the
// minimum count. It holds no state beyond the poll's committed inputs, so
// the same tie always resolves the same way.
type TieBreaker struct {
	PollID string
	Mode   string
	Beacon string
}

func NewTieBreaker(pollID string, tb models.TieBreak) TieBreaker {
	mode := tb.Mode
	if mode == "" {
		mode = models.TieBreakHash
	}
	return TieBreaker{PollID: pollID, Mode: mode, Beacon: tb.Beacon}
}

// HashKey is hex SHA-256(pollID || candidateID), or
// SHA-256(pollID || candidateID || beacon) in beacon mode.
func (t TieBreaker) HashKey(candidateID string) string {
	h := sha256.New()
	h.Write([]byte(t.PollID))
	h.Write([]byte(candidateID))
	if t.Mode == models.TieBreakBeacon {
		h.Write([]byte(t.Beacon))
	}
	return hex.EncodeToString(h.Sum(nil))
}

// Describe renders the mode for methodology disclosure.
func (t TieBreaker) Describe() string {
	if t.Mode == models.TieBreakBeacon {
		return "lowest prior support, then ascending SHA-256(poll_id || candidate_id || beacon) with beacon " + t.Beacon
	}
	return "lowest prior support, then ascending SHA-256(poll_id || candidate_id)"
}

// Pick returns the candidate to eliminate. cumulative holds each
// candidate's summed votes over all prior rounds.
func (t TieBreaker) Pick(tied []string, cumulative map[string]int) (string, error) {
	switch len(tied) {
	case 0:
		return "", fmt.Errorf("%w: no candidates to break", ErrTieBreakAmbiguous)
	case 1:
		return tied[0], nil
	}

	// Lowest cumulative support first
	lowest := cumulative[tied[0]]
	for _, c := range tied[1:] {
		if cumulative[c] < lowest {
			lowest = cumulative[c]
		}
	}
	remaining := make([]string, 0, len(tied))
	for _, c := range tied {
		if cumulative[c] == lowest {
			remaining = append(remaining, c)
		}
	}
	if len(remaining) == 1 {
		return remaining[0], nil
	}

	type keyed struct {
		id  string
		key string
	}
	keys := make([]keyed, len(remaining))
	for i, c := range remaining {
		keys[i] = keyed{id: c, key: t.HashKey(c)}
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i].key < keys[j].key })

	if keys[0].key == keys[1].key {
		slog.Error("tie-break ambiguous",
			"poll_id", t.PollID,
			"candidates", []string{keys[0].id, keys[1].id},
			"mode", t.Mode,
		)
		return "", fmt.Errorf("%w: %s and %s share hash %s", ErrTieBreakAmbiguous, keys[0].id, keys[1].id, keys[0].key)
	}
	return keys[0].id, nil
}
