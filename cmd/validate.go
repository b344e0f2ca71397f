package cmd

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"firestige.xyz/canstandin/internal/config"
)

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate the configuration and print the effective values",
	Long: `Load the configuration from --config, the environment and flags, check
the sender and receiver sections and print the effective configuration as
YAML under the "canstandin" root key.

Examples:
  canstandin validate -c canstandin.yml
  CANSTANDIN_SENDER_RATE=500 canstandin validate`,
	Run: func(cmd *cobra.Command, args []string) {
		cfg, err := loadConfig(cmd, "")
		if err != nil {
			exitWithError("failed to load config", err)
		}
		if err := runValidate(cfg, os.Stdout); err != nil {
			fmt.Fprintf(os.Stderr, "INVALID: %v\n", err)
			os.Exit(1)
		}
	},
}

func runValidate(cfg *config.Config, w io.Writer) error {
	if err := errors.Join(cfg.Sender.Validate(), cfg.Receiver.Validate()); err != nil {
		return err
	}
	out, err := yaml.Marshal(map[string]*config.Config{config.RootKey: cfg})
	if err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	fmt.Fprintln(w, "# VALID")
	_, err = w.Write(out)
	return err
}
