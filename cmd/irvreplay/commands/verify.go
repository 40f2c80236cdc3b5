// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

package commands

import (
	"errors"
	"fmt"
	"sort"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/danielhkuo/runoff/audit"
	"github.com/danielhkuo/runoff/models"
)

type proofCheck struct {
	Ballot    string `json:"ballot,omitempty"`
	LeafIndex int    `json:"leaf_index"`
	TreeSize  int    `json:"tree_size"`
	Valid     bool   `json:"valid"`
	Error     string `json:"error,omitempty"`
}

type verifyOutput struct {
	audit.Report
	Proof *proofCheck `json:"proof,omitempty"`
}

func newVerifyCmd(c *cli) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "verify",
		Short: "Replay the tally and compare it with the published checksum",
		Long: `verify replays the dataset and compares the result with the published
checksum. With --proof it also checks a ballot's inclusion proof against
the ledger root the dataset publishes; --ballot additionally ties the
proof's leaf to that ballot's published ranking.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ds, err := c.readDataset(cmd)
			if err != nil {
				return err
			}

			report, err := audit.Replay(cmd.Context(), ds)
			if err != nil && !errors.Is(err, audit.ErrChecksumMismatch) {
				return err
			}
			out := verifyOutput{Report: report}

			var proofErr error
			if c.config.Proof != "" {
				p, rerr := c.readProof()
				if rerr != nil {
					return rerr
				}
				if c.config.Ballot != "" {
					proofErr = audit.VerifyBallot(ds, c.config.Ballot, p)
				} else {
					proofErr = audit.VerifyAnchored(ds, p)
				}
				out.Proof = &proofCheck{
					Ballot:    c.config.Ballot,
					LeafIndex: p.LeafIndex,
					TreeSize:  p.TreeSize,
					Valid:     proofErr == nil,
				}
				if proofErr != nil {
					out.Proof.Error = proofErr.Error()
				}
			}

			if c.config.Output == "json" {
				if werr := c.writeJSON(cmd, out); werr != nil {
					return werr
				}
			} else {
				printReport(cmd, report)
				printProof(cmd, out.Proof)
			}
			return errors.Join(err, proofErr)
		},
	}
	cmd.Flags().String("proof", "", "Inclusion proof file to check against the published ledger root")
	cmd.Flags().String("ballot", "", "Ballot id the proof is expected to cover")
	return cmd
}

func printReport(cmd *cobra.Command, report audit.Report) {
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "poll:      %s\n", report.PollID)
	fmt.Fprintf(out, "ballots:   %s\n", humanize.Comma(int64(report.Ballots)))
	printRounds(cmd, report.Result)
	if report.Result.Winner != "" {
		fmt.Fprintf(out, "winner:    %s\n", report.Result.Winner)
	} else {
		fmt.Fprintln(out, "winner:    none")
	}
	fmt.Fprintf(out, "checksum:  %s\n", report.Checksum)
	fmt.Fprintf(out, "published: %s\n", report.Published)
	if report.LedgerRoot != "" {
		fmt.Fprintf(out, "ledger:    %s (%s ballots)\n", report.LedgerRoot, humanize.Comma(int64(report.LedgerSize)))
	}
	if report.Match {
		fmt.Fprintln(out, "MATCH")
	} else {
		fmt.Fprintln(out, "MISMATCH")
	}
}

func printProof(cmd *cobra.Command, check *proofCheck) {
	if check == nil {
		return
	}
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "proof:     leaf %d of %d", check.LeafIndex, check.TreeSize)
	if check.Ballot != "" {
		fmt.Fprintf(out, " for %s", check.Ballot)
	}
	fmt.Fprintln(out)
	if check.Valid {
		fmt.Fprintln(out, "PROOF VALID")
	} else {
		fmt.Fprintf(out, "PROOF INVALID: %s\n", check.Error)
	}
}

func printRounds(cmd *cobra.Command, result models.TallyResult) {
	out := cmd.OutOrStdout()
	for _, round := range result.Rounds {
		ids := make([]string, 0, len(round.VoteCounts))
		for id := range round.VoteCounts {
			ids = append(ids, id)
		}
		sort.Strings(ids)

		fmt.Fprintf(out, "round %d:", round.Index)
		for _, id := range ids {
			fmt.Fprintf(out, " %s=%d", id, round.VoteCounts[id])
		}
		fmt.Fprintf(out, " exhausted=%d", round.Exhausted)
		if round.Eliminated != "" {
			fmt.Fprintf(out, " eliminated=%s", round.Eliminated)
		}
		fmt.Fprintln(out)
	}
}
