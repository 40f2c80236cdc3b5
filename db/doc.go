// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

/*
Package db handles schema creation and persistence.

# Schema Creation

CreateSchema initializes all required tables:

	if err := db.CreateSchema(conn); err != nil {
		log.Fatal(err)
	}

Safe to call multiple times - uses IF NOT EXISTS for all tables and indexes.
The same schema runs on Postgres (lib/pq) and SQLite (modernc.org/sqlite);
timestamps are stored as unix nanoseconds.

# Tables

  - poll: close cutoff, post-close and write-in policy, tie-break mode
  - candidate: per-poll candidates with status
  - ballot: canonical ranking, classification, audit digest and leaf index
  - ballot_attribute: breakdown dimensions supplied by the ingress layer
  - snapshot: the official result, at most one per poll
  - privacy_spend: epsilon ledger rows, refunds negative

# Relationships

	poll 1──* candidate
	poll 1──* ballot
	ballot 1──* ballot_attribute
	poll 1──1 snapshot
	poll 1──* privacy_spend

# Store

Store wraps *sql.DB with the operations the engine needs. Ballots are
insert-only. Two guards are enforced in SQL rather than in callers:

  - CreateSnapshot uses INSERT ... ON CONFLICT DO NOTHING, so concurrent
    finalizations produce exactly one snapshot
  - UpdateCloseAt and SetCandidateStatus refuse with ErrFinalized once a
    snapshot exists
*/
package db
