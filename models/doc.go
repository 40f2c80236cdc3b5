// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

/*
Package models defines request, response, and domain types shared by the
tally engine and the HTTP layer.

# Domain Types

  - PollConfig: close cutoff, post-close policy, write-in policy, tie-break mode
  - Candidate: id, label and CandidateStatus (active, withdrawn, write-in)
  - Ballot: canonical ranking, receive time and official classification
  - Round: integer vote counts, exhausted ballots, elimination and transfers
  - TallyResult: ordered rounds, winner and participation totals
  - Snapshot: the single official result of a poll with its checksum
  - TrendDelta: unofficial post-close result with stability tracking
  - Diff: incremental realtime update (counts or reset)
  - Breakdown: privacy-filtered aggregate by one dimension
  - Disclosure: methodology block attached to every published result

# Request Types

  - CreatePollRequest: title, close_at, policies, initial candidates
  - AddCandidateRequest: id, label
  - SubmitBallotRequest: ranking, optional breakdown attributes
  - SubmitBatchRequest: ballots

# Constants

Candidate statuses:

	CandidateActive    = "active"
	CandidateWithdrawn = "withdrawn"
	CandidateWriteIn   = "write-in"

Tie-break modes:

	TieBreakHash   = "hash"
	TieBreakBeacon = "beacon"

Privacy views:

	ViewPublic        = "public"
	ViewAuthenticated = "authenticated"
	ViewInternal      = "internal"
*/
package models
