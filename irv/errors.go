// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

package irv

import "errors"

var (
	// ErrInvalidBallot means the ranking was empty after normalization.
	// The ballot still counts as exhausted.
	ErrInvalidBallot = errors.New("invalid ballot: no valid choices after normalization")

	// ErrNoWinner is the terminal state where every ballot is exhausted
	// before a candidate reaches a majority.
	ErrNoWinner = errors.New("no winner: all ballots exhausted")

	// ErrTieBreakAmbiguous is unreachable unless two candidates share a
	// tie-break hash. It is never resolved by an arbitrary pick.
	ErrTieBreakAmbiguous = errors.New("tie-break ambiguous")
)
