// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

package engine

import (
	"errors"

	"github.com/danielhkuo/runoff/snapshot"
	"github.com/danielhkuo/runoff/trend"
)

var (
	ErrPollNotFound      = snapshot.ErrPollNotFound
	ErrPollOpen          = snapshot.ErrPollOpen
	ErrNotYetClosed      = snapshot.ErrNotYetClosed
	ErrNotApplicable     = trend.ErrNotApplicable
	ErrPollClosed        = errors.New("poll is closed to new ballots")
	ErrFinalized         = errors.New("poll already finalized")
	ErrCandidateNotFound = errors.New("candidate not found")
	ErrCandidateExists   = errors.New("candidate already exists")
	ErrBallotNotFound    = errors.New("ballot not found")
	ErrSealed            = errors.New("live tally is disabled until the poll is finalized")
	ErrInvalidRequest    = errors.New("invalid request")
)
