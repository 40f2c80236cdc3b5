// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

package commands

// CLIConfig holds the replay tool's settings. Every field can be set by
// flag or by an IRVREPLAY_ prefixed environment variable.
type CLIConfig struct {
	Dataset string `mapstructure:"dataset"`
	Output  string `mapstructure:"output"`
	// Proof and Ballot are only read by verify
	Proof  string `mapstructure:"proof"`
	Ballot string `mapstructure:"ballot"`
}

func NewDefaultCLIConfig() *CLIConfig {
	return &CLIConfig{
		Dataset: "-",
		Output:  "text",
	}
}
