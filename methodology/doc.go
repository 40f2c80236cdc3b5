// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

/*
Package methodology holds the published rules for tallying and disclosure.

# File Format

	method: Instant Runoff Voting
	trend_disclaimer: unofficial, may not reflect full electorate
	privacy:
	  k: {public: 10, authenticated: 5, internal: 3}
	  epsilon_per_query: 0.1
	  epsilon_budget: 1.0
	trend:
	  window: 5m
	  min_windows: 3
	  min_new_ballots: 50
	realtime:
	  ring_size: 32
	  interval: 1s
	  fast_interval: 250ms
	  velocity_threshold: 50

Missing keys keep their Default values.

# Disclosure

Every published result carries a Disclosure with method, sample size,
timestamp and tie-break mode. Unofficial results add the trend disclaimer
and the "unofficial" badge.
*/
package methodology
