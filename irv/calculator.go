// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

package irv

import (
	"context"
	"errors"
	"sort"

	"github.com/danielhkuo/runoff/models"
)

// Input is everything a tally depends on. Tally reads nothing else.
type Input struct {
	PollID string
	// Candidates are the ids eligible to receive votes. Ranking entries
	// outside this list are skipped as if already eliminated.
	Candidates []string
	// Ballots are canonical rankings, in any order.
	Ballots  [][]string
	TieBreak models.TieBreak
}

// Tally runs instant runoff rounds until a winner emerges.
//
// Zero-vote candidates are eliminated first, one per round. After that a
// candidate holding a strict majority of non-exhausted ballots wins;
// otherwise the TieBreaker chooses one of the minimum-count candidates for
// elimination and its ballots transfer to their next active choice.
//
// When every ballot is exhausted the partial result is returned together
// with ErrNoWinner.
func Tally(ctx context.Context, in Input) (models.TallyResult, error) {
	tb := NewTieBreaker(in.PollID, in.TieBreak)

	candidates := append([]string(nil), in.Candidates...)
	sort.Strings(candidates)

	result := models.TallyResult{
		PollID:       in.PollID,
		Candidates:   candidates,
		Rounds:       []models.Round{},
		TotalBallots: len(in.Ballots),
	}

	active := make(map[string]bool, len(candidates))
	for _, c := range candidates {
		active[c] = true
	}

	// buckets[c] holds the ballots currently counting for c; pos[i] is the
	// index of ballot i's current choice within its ranking.
	buckets := make(map[string][]int, len(candidates))
	pos := make([]int, len(in.Ballots))
	exhausted := 0

	next := func(i int, from int) string {
		ranking := in.Ballots[i]
		for p := from; p < len(ranking); p++ {
			if active[ranking[p]] {
				pos[i] = p
				return ranking[p]
			}
		}
		pos[i] = len(ranking)
		return ""
	}

	for i := range in.Ballots {
		if c := next(i, 0); c != "" {
			buckets[c] = append(buckets[c], i)
		} else {
			exhausted++
		}
	}

	cumulative := make(map[string]int, len(candidates))
	remaining := candidates

	for index := 1; ; index++ {
		if err := ctx.Err(); err != nil {
			return models.TallyResult{}, err
		}

		counts := make(map[string]int, len(remaining))
		for _, c := range remaining {
			counts[c] = len(buckets[c])
		}
		round := models.Round{
			Index:      index,
			VoteCounts: counts,
			Exhausted:  exhausted,
		}

		winner, eliminated, err := decide(tb, remaining, counts, result.TotalBallots-exhausted, cumulative)
		if err != nil {
			result.Rounds = append(result.Rounds, round)
			result.ExhaustedCount = exhausted
			if errors.Is(err, ErrNoWinner) {
				return result, err
			}
			return models.TallyResult{}, err
		}
		if winner != "" {
			result.Rounds = append(result.Rounds, round)
			result.Winner = winner
			result.ExhaustedCount = exhausted
			return result, nil
		}

		// Transfer the eliminated candidate's ballots
		delete(active, eliminated)
		var transfers map[string]int
		for _, i := range buckets[eliminated] {
			c := next(i, pos[i]+1)
			if c == "" {
				exhausted++
				continue
			}
			buckets[c] = append(buckets[c], i)
			if transfers == nil {
				transfers = make(map[string]int)
			}
			transfers[c]++
		}
		delete(buckets, eliminated)

		round.Eliminated = eliminated
		if transfers != nil {
			round.Transfers = map[string]map[string]int{eliminated: transfers}
		}
		result.Rounds = append(result.Rounds, round)

		for c, n := range counts {
			cumulative[c] += n
		}
		remaining = without(remaining, eliminated)
	}
}

// decide applies one round's rules to its counts. Exactly one of winner and
// eliminated is set on success.
func decide(tb TieBreaker, remaining []string, counts map[string]int, nonExhausted int, cumulative map[string]int) (winner, eliminated string, err error) {
	if nonExhausted == 0 {
		return "", "", ErrNoWinner
	}
	if len(remaining) == 1 {
		return remaining[0], "", nil
	}

	var zeros []string
	for _, c := range remaining {
		if counts[c] == 0 {
			zeros = append(zeros, c)
		}
	}
	if len(zeros) > 0 {
		eliminated, err = tb.Pick(zeros, cumulative)
		return "", eliminated, err
	}

	leader, most := "", -1
	least := -1
	for _, c := range remaining {
		n := counts[c]
		if n > most {
			leader, most = c, n
		}
		if least < 0 || n < least {
			least = n
		}
	}
	if 2*most > nonExhausted {
		return leader, "", nil
	}

	var tied []string
	for _, c := range remaining {
		if counts[c] == least {
			tied = append(tied, c)
		}
	}
	eliminated, err = tb.Pick(tied, cumulative)
	return "", eliminated, err
}

func without(ids []string, drop string) []string {
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if id != drop {
			out = append(out, id)
		}
	}
	return out
}
