// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

// Package metrics exposes Prometheus collectors for ballot ingest, tally
// computation, snapshots, privacy refusals and the realtime channel.
package metrics
