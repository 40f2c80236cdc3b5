// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

package commands

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/danielhkuo/runoff/audit"
)

type checksumOutput struct {
	PollID          string `json:"poll_id"`
	BallotSetDigest string `json:"ballot_set_digest"`
	Checksum        string `json:"checksum"`
}

// newChecksumCmd prints the recomputed checksum without comparing it, so
// it can be diffed against a value published elsewhere.
func newChecksumCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "checksum",
		Short: "Print the checksum recomputed from the dataset",
		RunE: func(cmd *cobra.Command, args []string) error {
			ds, err := c.readDataset(cmd)
			if err != nil {
				return err
			}

			report, err := audit.Replay(cmd.Context(), ds)
			if err != nil && !errors.Is(err, audit.ErrChecksumMismatch) {
				return err
			}

			out := checksumOutput{
				PollID:          report.PollID,
				BallotSetDigest: report.BallotSetDigest,
				Checksum:        report.Checksum,
			}
			if c.config.Output == "json" {
				return c.writeJSON(cmd, out)
			}
			fmt.Fprintln(cmd.OutOrStdout(), out.Checksum)
			return nil
		},
	}
}
