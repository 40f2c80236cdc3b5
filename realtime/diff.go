// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

package realtime

import (
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/danielhkuo/runoff/models"
)

var ErrDiffMismatch = errors.New("diff does not apply to state")

// NeedsReset reports whether next cannot be expressed as count changes on
// prev: the elimination order, winner, leader, candidate set or official
// phase differ.
func NeedsReset(prev, next models.TallyResult) bool {
	if len(prev.Rounds) != len(next.Rounds) {
		return true
	}
	for i := range prev.Rounds {
		if prev.Rounds[i].Eliminated != next.Rounds[i].Eliminated {
			return true
		}
	}
	return prev.Winner != next.Winner ||
		prev.Leader() != next.Leader() ||
		!slices.Equal(prev.Candidates, next.Candidates)
}

// MakeDiff describes next relative to prev. A nil prev, or any structural
// change, produces a reset carrying the full state.
func MakeDiff(prev *models.TallyResult, next models.TallyResult, official bool, at time.Time) models.Diff {
	d := models.Diff{
		PollID:    next.PollID,
		Official:  official,
		Winner:    next.Winner,
		Timestamp: at.UTC(),
	}
	if prev == nil || NeedsReset(*prev, next) {
		state := next.Clone()
		d.Kind = models.DiffReset
		d.State = &state
		return d
	}

	d.Kind = models.DiffCounts
	d.TotalDelta = next.TotalBallots - prev.TotalBallots
	d.ExhaustedDelta = next.ExhaustedCount - prev.ExhaustedCount
	for i, round := range next.Rounds {
		old := prev.Rounds[i]
		rd := models.RoundDelta{Index: round.Index, Exhausted: round.Exhausted - old.Exhausted}
		for c, n := range round.VoteCounts {
			if delta := n - old.VoteCounts[c]; delta != 0 {
				if rd.Counts == nil {
					rd.Counts = make(map[string]int)
				}
				rd.Counts[c] = delta
			}
		}
		rd.Transfers = transferDelta(old.Transfers, round.Transfers)
		if rd.Counts != nil || rd.Exhausted != 0 || rd.Transfers != nil {
			d.Rounds = append(d.Rounds, rd)
		}
	}
	return d
}

func transferDelta(old, next map[string]map[string]int) map[string]map[string]int {
	var out map[string]map[string]int
	add := func(from, to string, delta int) {
		if delta == 0 {
			return
		}
		if out == nil {
			out = make(map[string]map[string]int)
		}
		if out[from] == nil {
			out[from] = make(map[string]int)
		}
		out[from][to] = delta
	}
	for from, cells := range next {
		for to, n := range cells {
			add(from, to, n-old[from][to])
		}
	}
	for from, cells := range old {
		for to, n := range cells {
			if _, ok := next[from][to]; !ok {
				add(from, to, -n)
			}
		}
	}
	return out
}

// Apply folds d into state and returns the new state. state is not
// modified.
func Apply(state models.TallyResult, d models.Diff) (models.TallyResult, error) {
	if d.Kind == models.DiffReset {
		if d.State == nil {
			return models.TallyResult{}, fmt.Errorf("%w: reset without state", ErrDiffMismatch)
		}
		return d.State.Clone(), nil
	}
	if d.Kind != models.DiffCounts {
		return models.TallyResult{}, fmt.Errorf("%w: unknown kind %q", ErrDiffMismatch, d.Kind)
	}

	out := state.Clone()
	out.TotalBallots += d.TotalDelta
	out.ExhaustedCount += d.ExhaustedDelta
	out.Winner = d.Winner
	for _, rd := range d.Rounds {
		i := rd.Index - 1
		if i < 0 || i >= len(out.Rounds) {
			return models.TallyResult{}, fmt.Errorf("%w: round %d", ErrDiffMismatch, rd.Index)
		}
		round := &out.Rounds[i]
		round.Exhausted += rd.Exhausted
		for c, delta := range rd.Counts {
			round.VoteCounts[c] += delta
		}
		for from, cells := range rd.Transfers {
			for to, delta := range cells {
				if round.Transfers == nil {
					round.Transfers = make(map[string]map[string]int)
				}
				if round.Transfers[from] == nil {
					round.Transfers[from] = make(map[string]int)
				}
				round.Transfers[from][to] += delta
				if round.Transfers[from][to] == 0 {
					delete(round.Transfers[from], to)
				}
			}
			if len(round.Transfers[from]) == 0 {
				delete(round.Transfers, from)
			}
		}
		if len(round.Transfers) == 0 {
			round.Transfers = nil
		}
	}
	return out, nil
}

// Reconstruct applies diffs in order to base. A nil base requires the first
// diff to be a reset.
func Reconstruct(base *models.TallyResult, diffs []models.Diff) (models.TallyResult, error) {
	var state models.TallyResult
	if base != nil {
		state = base.Clone()
	} else if len(diffs) > 0 && diffs[0].Kind != models.DiffReset {
		return models.TallyResult{}, fmt.Errorf("%w: no base for counts diff", ErrDiffMismatch)
	}
	for _, d := range diffs {
		var err error
		if state, err = Apply(state, d); err != nil {
			return models.TallyResult{}, err
		}
	}
	return state, nil
}
