// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

/*
Package snapshot creates and serves each poll's single official result.

Finalize is safe to call any number of times from any number of
goroutines or processes: a per-poll mutex serializes callers in one
process, and the store's create-if-absent insert decides between
processes. Every caller receives the same snapshot.

Only ballots classified official at ingest are tallied. A ballot received
after close_at is excluded even if flagged official, which covers a close
time moved earlier by another process. The snapshot records the ballot-set digest and checksum that
an independent replay of the published dataset must reproduce.
*/
package snapshot
