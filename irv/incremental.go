// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

package irv

import (
	"context"
	"errors"
	"slices"
	"sort"

	"github.com/danielhkuo/runoff/models"
)

// Incremental caches one poll's last tally so that small ballot batches can
// be patched into the recorded rounds instead of re-running every round.
//
// An Incremental is immutable once returned: Apply builds a new value and
// leaves the receiver untouched, so a superseded computation can simply be
// dropped.
type Incremental struct {
	pollID     string
	tieBreak   models.TieBreak
	candidates []string
	ballots    [][]string
	result     models.TallyResult
	err        error
	computed   bool
}

func NewIncremental(pollID string, tb models.TieBreak) *Incremental {
	return &Incremental{pollID: pollID, tieBreak: tb}
}

// Result returns the cached tally and its terminal error (ErrNoWinner or nil).
func (inc *Incremental) Result() (models.TallyResult, error) {
	return inc.result, inc.err
}

// Len is the number of ballots covered by the cached result.
func (inc *Incremental) Len() int {
	return len(inc.ballots)
}

// Apply adds ballots to the cached tally. When candidates match the cached
// set, the new ballots are patched into every recorded round and each
// recorded decision is checked against the patched counts; any change, or a
// different candidate set, falls back to a full Tally.
//
// The returned bool reports whether the patch path was taken. The result is
// identical to Tally over all ballots either way.
func (inc *Incremental) Apply(ctx context.Context, ballots [][]string, candidates []string) (*Incremental, models.TallyResult, bool, error) {
	sorted := append([]string(nil), candidates...)
	sort.Strings(sorted)

	next := &Incremental{
		pollID:     inc.pollID,
		tieBreak:   inc.tieBreak,
		candidates: sorted,
		// full slice expression forces append to copy
		ballots:  append(inc.ballots[:len(inc.ballots):len(inc.ballots)], ballots...),
		computed: true,
	}

	if inc.computed && inc.err == nil && slices.Equal(inc.candidates, sorted) {
		if patched, ok := inc.patch(ballots); ok {
			if err := ctx.Err(); err != nil {
				return nil, models.TallyResult{}, false, err
			}
			next.result = patched
			return next, patched, true, nil
		}
	}

	result, err := Tally(ctx, Input{
		PollID:     inc.pollID,
		Candidates: sorted,
		Ballots:    next.ballots,
		TieBreak:   inc.tieBreak,
	})
	if err != nil && !errors.Is(err, ErrNoWinner) {
		return nil, models.TallyResult{}, false, err
	}
	next.result = result
	next.err = err
	return next, result, false, err
}

// patch folds ballots into a copy of the cached rounds and re-verifies
// every decision. ok is false when any decision would differ.
func (inc *Incremental) patch(ballots [][]string) (models.TallyResult, bool) {
	res := inc.result.Clone()
	if res.Winner == "" || len(res.Rounds) == 0 {
		return models.TallyResult{}, false
	}

	eligible := make(map[string]bool, len(inc.candidates))
	for _, c := range inc.candidates {
		eligible[c] = true
	}
	// eliminatedAt[c] is the round index (0-based) in which c was removed
	eliminatedAt := make(map[string]int, len(res.Rounds))
	for r, round := range res.Rounds {
		if round.Eliminated != "" {
			eliminatedAt[round.Eliminated] = r
		}
	}
	activeIn := func(c string, r int) bool {
		if !eligible[c] {
			return false
		}
		at, gone := eliminatedAt[c]
		return !gone || at >= r
	}
	top := func(ranking []string, r int) string {
		for _, c := range ranking {
			if activeIn(c, r) {
				return c
			}
		}
		return ""
	}

	for _, ranking := range ballots {
		for r := range res.Rounds {
			round := &res.Rounds[r]
			c := top(ranking, r)
			if c == "" {
				round.Exhausted++
				continue
			}
			round.VoteCounts[c]++
			if c == round.Eliminated {
				if to := top(ranking, r+1); to != "" {
					if round.Transfers == nil {
						round.Transfers = map[string]map[string]int{c: {}}
					}
					round.Transfers[c][to]++
				}
			}
		}
	}
	res.TotalBallots += len(ballots)
	res.ExhaustedCount = res.Rounds[len(res.Rounds)-1].Exhausted

	// Every recorded decision must still hold
	tb := NewTieBreaker(inc.pollID, inc.tieBreak)
	cumulative := make(map[string]int, len(inc.candidates))
	remaining := inc.candidates
	last := len(res.Rounds) - 1
	for r, round := range res.Rounds {
		winner, eliminated, err := decide(tb, remaining, round.VoteCounts, res.TotalBallots-round.Exhausted, cumulative)
		if err != nil {
			return models.TallyResult{}, false
		}
		if r < last && (winner != "" || eliminated != round.Eliminated) {
			return models.TallyResult{}, false
		}
		if r == last && winner != res.Winner {
			return models.TallyResult{}, false
		}
		for c, n := range round.VoteCounts {
			cumulative[c] += n
		}
		remaining = without(remaining, round.Eliminated)
	}

	return res, true
}
