// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

/*
Package irv implements Instant Runoff Voting over canonical rankings.

# Normalization

Normalize turns a raw ranking into a canonical one:

	ranking, err := irv.Normalize([]string{"A", " A", "", "B"}, set)
	// ranking = ["A", "B"], err = nil

Unknown and withdrawn ids are dropped. Write-in entries ("writein:Jane Doe")
become "writein:jane-doe" when the poll allows write-ins. An empty result
returns ErrInvalidBallot; the caller still records the ballot as exhausted.

# Rounds

Each round counts every ballot's highest-ranked active candidate:

 1. Candidates with zero votes are eliminated first, one per round
 2. A strict majority of non-exhausted ballots wins
 3. Otherwise a minimum-count candidate is eliminated and its ballots
    transfer to their next active choice

One remaining candidate wins outright. When every ballot is exhausted the
result carries no winner and Tally returns ErrNoWinner.

Every round satisfies

	sum(VoteCounts) + Exhausted == TotalBallots

# Tie-Breaking

Candidates tied on the minimum count are separated by lowest cumulative
support over prior rounds, then by ascending hex SHA-256(poll_id ||
candidate_id). Beacon mode appends a pre-committed public beacon value to
the hash input. Receive times never influence a tie.

# Incremental Tallies

Incremental keeps the last result per poll. New ballots are folded into the
recorded rounds and each decision is re-checked; a changed decision or a
changed candidate set triggers a full Tally. Both paths produce the same
result.
*/
package irv
