// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

/*
Package realtime publishes tally changes to live viewers as diffs.

Each poll keeps a ring of recent diffs and the base state before the
oldest one, so a new subscriber can rebuild the latest published state
without a full recompute:

	state, err := realtime.Reconstruct(initial.Base, initial.Diffs)

Every diff, and the initial state, carries the Disclosure of the state it
describes: method, ballot count, timestamp and, for unofficial states, the
disclaimer.

# Diff Kinds

  - counts: per-round integer changes; elimination order and winner unchanged
  - reset: full state; sent on any structural change (round count,
    elimination, winner, leader, candidate set, official phase)

# Throttling

Count diffs go out at most once per interval (1s by default), or per fast
interval (250ms) when ballot velocity reaches the threshold. Resets skip
the throttle. States arriving between flushes coalesce; a timer delivers
the newest one when the limiter allows.

Subscribers that fall SubscriberBuffer diffs behind are dropped and must
resubscribe.
*/
package realtime
