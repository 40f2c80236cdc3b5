// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

/*
Package audit provides the digests that make published results verifiable.

# Ballot Digests

Each accepted ballot gets a digest over its random id and canonical ranking:

	digest, err := audit.BallotDigest(ballotID, ranking)

Digests are appended to a per-poll Ledger in arrival order. The ledger is an
RFC 6962 Merkle tree; any ballot can prove inclusion with Ledger.Proof and
VerifyProof. A snapshot records the ledger root and size at finalize, and
the dataset republishes them, so a proof can be checked against published
data rather than a root the server asserts:

	err := audit.VerifyBallot(dataset, ballotID, proof)

# Checksums

The official checksum is SHA-256 over a canonical JSON encoding of:

  - poll id
  - sorted candidate ids
  - ballot-set digest (Merkle root of the sorted ballot digests)
  - every round of the result

Canonical JSON sorts map keys, so equal results always hash equally.

# Replay

Dataset is the public, anonymized ballot set for a snapshot. Replay re-runs
the tally from the dataset alone and compares checksums:

	report, err := audit.Replay(ctx, dataset)
	if errors.Is(err, audit.ErrChecksumMismatch) {
		// published result cannot be reproduced
	}
*/
package audit
