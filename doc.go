// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

/*
Package main provides the entry point for the runoff API server.

runoff tallies ranked-choice polls with instant runoff voting and controls
what is disclosed about them: a sealed official snapshot at close, an
unofficial trend for late ballots, privacy-filtered breakdowns, a live diff
stream and an audit trail anyone can replay.

# Starting the Server

	DATABASE_URL=runoff.db ADMIN_KEY_SALT=... POLL_SLUG_SALT=... go run .

Or against PostgreSQL:

	go run . -t postgres -d "postgres://..."

See package cliparse for every setting.

# Architecture

  - irv: normalization, tie-breaking, full and incremental tallies
  - engine: per-poll state, tally workers, ingest, the due-poll closer
  - snapshot: the official snapshot and replay dataset
  - trend: post-close deltas and stability
  - privacy: k-anonymity, Laplace noise and the epsilon budget
  - realtime: throttled diff fan-out
  - audit: digests, checksums, Merkle proofs, replay
  - methodology: the published rule set
  - metrics: Prometheus collectors
  - handlers, router, middleware: the HTTP surface
  - db: schema and store for SQLite and PostgreSQL
  - auth, cliparse, models: keys, configuration, shared types

The cmd/irvreplay tool verifies a downloaded dataset offline.
*/
package main
