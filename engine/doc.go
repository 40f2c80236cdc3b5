// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

/*
Package engine orchestrates ballot ingest, tallying and result disclosure.

# Per-Poll State

Each poll gets a pollState on first use, loaded from the store:

  - a mutex serializing ingest, candidate changes and finalization
  - the candidate set ballots are normalized against
  - the next audit leaf index
  - a tally worker goroutine that owns the poll's irv.Incremental

Polls never share a lock, so a slow poll cannot delay another.

# Ingest

SubmitBatch normalizes each ballot, registers new write-ins, classifies the
batch official or post-close by close_at, stores it in one transaction and
appends the digests to the audit ledger. The ballots are then queued on the
worker and the caller blocks until a tally covering them is committed.

A batch arriving while the worker is computing cancels that computation;
the queued batches are merged and tallied together from the last committed
state. Every commit carries a higher version.

# Disclosure

  - open polls: sealed, unless created with live_tally; a live tally is
    always unofficial, even after close_at until finalize
  - finalized polls: the official snapshot, always
  - finalized polls with allow_post_close: an unofficial trend, updated on
    every commit

Every published state carries a Disclosure built from the methodology.

# Closer

RunCloser periodically finalizes polls whose close_at has passed, several
at a time through an errgroup.
*/
package engine
