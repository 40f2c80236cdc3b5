// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

package db

import (
	"database/sql"
	"fmt"
)

// CreateSchema creates all tables needed for the application.
// Safe to call multiple times - uses IF NOT EXISTS.
func CreateSchema(db *sql.DB) error {
	_, err := db.Exec(schema)
	if err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}

	return nil
}

// Times are unix nanoseconds so the same schema runs on Postgres and SQLite.
const schema = `
-- Polls
CREATE TABLE IF NOT EXISTS poll (
    id TEXT PRIMARY KEY,
    title TEXT NOT NULL,
    close_at BIGINT NOT NULL,
    allow_post_close BOOLEAN NOT NULL DEFAULT FALSE,
    allow_write_ins BOOLEAN NOT NULL DEFAULT FALSE,
    live_tally BOOLEAN NOT NULL DEFAULT FALSE,
    tie_break_mode TEXT NOT NULL DEFAULT 'hash' CHECK (tie_break_mode IN ('hash', 'beacon')),
    beacon TEXT NOT NULL DEFAULT '',
    status TEXT NOT NULL DEFAULT 'open' CHECK (status IN ('open', 'closed')),
    share_slug TEXT UNIQUE,
    created_at BIGINT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_poll_share_slug ON poll(share_slug);
CREATE INDEX IF NOT EXISTS idx_poll_status ON poll(status, close_at);

-- Candidates
CREATE TABLE IF NOT EXISTS candidate (
    poll_id TEXT NOT NULL REFERENCES poll(id) ON DELETE CASCADE,
    id TEXT NOT NULL,
    label TEXT NOT NULL,
    status TEXT NOT NULL CHECK (status IN ('active', 'withdrawn', 'write-in')),
    created_at BIGINT NOT NULL,
    PRIMARY KEY (poll_id, id)
);

-- Ballots (insert-only)
CREATE TABLE IF NOT EXISTS ballot (
    id TEXT PRIMARY KEY,
    poll_id TEXT NOT NULL REFERENCES poll(id) ON DELETE CASCADE,
    ranking TEXT NOT NULL,
    received_at BIGINT NOT NULL,
    official BOOLEAN NOT NULL,
    digest TEXT NOT NULL,
    seq BIGINT NOT NULL,
    UNIQUE (poll_id, seq)
);

CREATE INDEX IF NOT EXISTS idx_ballot_poll_id ON ballot(poll_id, seq);

-- Breakdown attributes supplied by the ingress layer
CREATE TABLE IF NOT EXISTS ballot_attribute (
    ballot_id TEXT NOT NULL REFERENCES ballot(id) ON DELETE CASCADE,
    dimension TEXT NOT NULL CHECK (dimension IN ('interest', 'demographic', 'location')),
    value TEXT NOT NULL,
    PRIMARY KEY (ballot_id, dimension)
);

-- Official snapshot, at most one per poll
CREATE TABLE IF NOT EXISTS snapshot (
    poll_id TEXT PRIMARY KEY REFERENCES poll(id) ON DELETE CASCADE,
    id TEXT NOT NULL UNIQUE,
    taken_at BIGINT NOT NULL,
    close_at BIGINT NOT NULL,
    total_ballots BIGINT NOT NULL,
    ballot_set_digest TEXT NOT NULL,
    checksum TEXT NOT NULL,
    ledger_root TEXT NOT NULL,
    ledger_size BIGINT NOT NULL,
    payload TEXT NOT NULL
);

-- Epsilon ledger; refunds are negative rows
CREATE TABLE IF NOT EXISTS privacy_spend (
    id TEXT PRIMARY KEY,
    poll_id TEXT NOT NULL REFERENCES poll(id) ON DELETE CASCADE,
    epsilon DOUBLE PRECISION NOT NULL,
    purpose TEXT NOT NULL,
    spent_at BIGINT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_privacy_spend_poll_id ON privacy_spend(poll_id);
`
