// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

/*
Package privacy gates aggregate breakdowns with k-anonymity and
differential privacy.

# Gate

For a breakdown by one dimension (interest, demographic or location):

 1. Reserve epsilon from the poll's budget (refused when exhausted)
 2. Drop buckets with fewer than k ballots
 3. Add Laplace(0, 2/epsilon) noise to each surviving count and cell;
    one ballot moves a bucket count and one cell, so the sensitivity is 2
 4. Round to the nearest non-negative integer

Requests naming more than one dimension fail with ErrCrossTabulation.

# Thresholds

Default k per view:

	public        10
	authenticated  5
	internal       3

# Budget

Each poll starts with a fixed epsilon budget. Ledger.Reserve records every
spend through a SpendStore before the breakdown is computed; failed
computations are refunded with a negative spend. Exceeding the budget
returns ErrPrivacyBudgetExceeded.
*/
package privacy
