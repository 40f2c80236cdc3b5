// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

/*
Package handlers contains the HTTP request handlers for the runoff API.

# Handler Types

Each handler is a struct holding the engine and, where keys are checked,
the config:

  - PollHandler: poll lifecycle (create, candidates, close, finalize)
  - VotingHandler: single and batch ballot submission
  - ResultsHandler: official result, post-close trend, breakdowns, methodology
  - AuditHandler: replay dataset and Merkle inclusion proofs
  - LiveHandler: websocket stream of tally diffs

	pollHandler := handlers.NewPollHandler(e, cfg)

# Poll Lifecycle

	POST /polls                                → CreatePoll (returns admin_key, viewer_key)
	POST /polls/{id}/candidates                → AddCandidate
	POST /polls/{id}/candidates/{cid}/withdraw → WithdrawCandidate
	POST /polls/{id}/close                     → ClosePoll (closes now and finalizes)
	POST /polls/{id}/finalize                  → FinalizePoll (after close_at)

Admin operations require the X-Admin-Key header. Public endpoints accept
the poll id or its share slug.

# Keys and Views

Breakdowns are served per privacy view. The public view needs no key, the
authenticated view needs X-Viewer-Key or X-Admin-Key, and the internal view
needs X-Admin-Key.

# Errors

Engine errors map to status codes in statusFor. A ballot with no countable
choice is still recorded; the 422 response carries its ballot id.
*/
package handlers
