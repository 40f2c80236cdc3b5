// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

package commands

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/danielhkuo/runoff/audit"
	"github.com/danielhkuo/runoff/models"
)

// cli carries the configuration shared by every subcommand.
type cli struct {
	v      *viper.Viper
	config *CLIConfig
}

// NewRootCmd builds the irvreplay command tree.
func NewRootCmd() *cobra.Command {
	c := &cli{v: viper.New(), config: NewDefaultCLIConfig()}

	root := &cobra.Command{
		Use:   "irvreplay",
		Short: "Independently replay a published runoff dataset",
		Long: `irvreplay recomputes an instant runoff tally from a published audit
dataset and compares the result with the published checksum. It needs
nothing but the dataset file.`,
		PersistentPreRunE: c.loadConfig,
	}
	root.PersistentFlags().StringP("dataset", "f", c.config.Dataset, "Dataset file, - for stdin")
	root.PersistentFlags().StringP("output", "o", c.config.Output, "text or json")

	root.AddCommand(newVerifyCmd(c), newChecksumCmd(c))
	return root
}

func (c *cli) loadConfig(cmd *cobra.Command, args []string) error {
	if err := c.v.BindPFlags(cmd.Flags()); err != nil {
		return err
	}
	c.v.SetEnvPrefix("irvreplay")
	c.v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	c.v.AutomaticEnv()

	conf := NewDefaultCLIConfig()
	if err := c.v.Unmarshal(conf); err != nil {
		return err
	}
	if conf.Output != "text" && conf.Output != "json" {
		return fmt.Errorf("unknown output format %q", conf.Output)
	}
	c.config = conf
	return nil
}

// readDataset loads the configured dataset from a file or stdin.
func (c *cli) readDataset(cmd *cobra.Command) (audit.Dataset, error) {
	var r io.Reader = cmd.InOrStdin()
	if c.config.Dataset != "-" {
		f, err := os.Open(c.config.Dataset)
		if err != nil {
			return audit.Dataset{}, err
		}
		defer f.Close()
		r = f
	}

	var ds audit.Dataset
	if err := json.NewDecoder(r).Decode(&ds); err != nil {
		return audit.Dataset{}, fmt.Errorf("failed to decode dataset: %w", err)
	}
	return ds, nil
}

// readProof loads an inclusion proof as served by the audit proof endpoint.
func (c *cli) readProof() (models.MerkleProof, error) {
	data, err := os.ReadFile(c.config.Proof)
	if err != nil {
		return models.MerkleProof{}, err
	}
	var p models.MerkleProof
	if err := json.Unmarshal(data, &p); err != nil {
		return models.MerkleProof{}, fmt.Errorf("failed to decode proof: %w", err)
	}
	return p, nil
}

func (c *cli) writeJSON(cmd *cobra.Command, v interface{}) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
