// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

/*
Package trend computes unofficial results from ballots received after close.

Only polls created with allow_post_close produce trends. The tally runs over
official plus post-close ballots; the official Snapshot is only read, never
written. Every TrendDelta carries the "unofficial" badge and disclaimer.

# Stability

A leader is surfaced as leading only once both hold:

  - it has led for MinWindows consecutive observation windows
  - at least MinNewBallots ballots arrived after close

Windows are Window long and counted from the snapshot time. A leader change
restarts the count.
*/
package trend
