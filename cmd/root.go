// Package cmd implements CLI commands using cobra framework.
package cmd

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"firestige.xyz/canstandin/internal/config"
	"firestige.xyz/canstandin/internal/log"
	"firestige.xyz/canstandin/internal/metrics"
	"firestige.xyz/canstandin/internal/stats"
)

var (
	// Global flags
	configFile    string
	logLevel      string
	metricsListen string
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "canstandin",
	Short: "canstandin - SocketCAN traffic generator and link quality analyzer",
	Long: `canstandin drives raw SocketCAN interfaces at controlled rates and
measures what arrives on the other side.

  canstandin sender    transmit classic or FD frames, optionally carrying
                       a counter or a checksummed quality-test payload
  canstandin receiver  count, dump and analyze received frames: sequence
                       gaps, reordering, inter-arrival time and jitter

Configuration is read from an optional YAML file (root key "canstandin"),
CANSTANDIN_* environment variables and command line flags, in increasing
precedence.`,
	Version:       "0.1.0",
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "",
		"config file path (optional)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "",
		"log level: debug, info, warn, error")
	rootCmd.PersistentFlags().StringVar(&metricsListen, "metrics-listen", "",
		"serve Prometheus metrics on this address")

	rootCmd.AddCommand(senderCmd)
	rootCmd.AddCommand(receiverCmd)
	rootCmd.AddCommand(validateCmd)
}

// globalFlags are persistent flags that do not map onto a section key.
var globalFlags = map[string]bool{"config": true, "log-level": true, "metrics-listen": true, "help": true}

// overrides collects the changed flags of fs as config keys under section.
// Flag names map to keys by replacing "-" with "_" (e.g. --delay-ms →
// "sender.delay_ms").
func overrides(fs *pflag.FlagSet, section string) map[string]any {
	out := make(map[string]any)
	fs.Visit(func(f *pflag.Flag) {
		switch {
		case f.Name == "log-level":
			out["log.level"] = f.Value.String()
		case f.Name == "metrics-listen":
			out["metrics.enabled"] = true
			out["metrics.listen"] = f.Value.String()
		case globalFlags[f.Name] || section == "":
		default:
			out[section+"."+strings.ReplaceAll(f.Name, "-", "_")] = f.Value.String()
		}
	})
	return out
}

// loadConfig loads the configuration for cmd with its changed flags applied.
func loadConfig(cmd *cobra.Command, section string) (*config.Config, error) {
	cfg, err := config.Load(configFile, overrides(cmd.Flags(), section))
	if err != nil {
		return nil, err
	}
	return cfg, nil
}

// environment is the process-level setup shared by the run commands.
type environment struct {
	reporter *stats.Reporter
	metrics  *metrics.Server
}

// setup initializes logging, the report logger and the optional metrics
// server. Reports go to stderr; stdout is reserved for frame dumps.
func setup(ctx context.Context, cfg *config.Config, stderr io.Writer, quiet bool) (*environment, error) {
	if err := log.Init(cfg.Log); err != nil {
		return nil, fmt.Errorf("failed to init logging: %w", err)
	}
	l, err := log.NewReportLogger(stderr, cfg.Log.Report)
	if err != nil {
		return nil, err
	}
	env := &environment{reporter: stats.NewReporter(l, quiet)}
	if cfg.Metrics.Enabled {
		env.metrics = metrics.NewServer(cfg.Metrics.Listen, cfg.Metrics.Path)
		if err := env.metrics.Start(ctx); err != nil {
			return nil, err
		}
	}
	return env, nil
}

func (e *environment) close() {
	if e.metrics != nil {
		if err := e.metrics.Stop(context.Background()); err != nil {
			slog.Warn("metrics server stop failed", "error", err)
		}
	}
}

// signalContext is canceled on SIGINT or SIGTERM so the run loops can print
// their summary.
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

// exitWithError prints error message and exits with code 1
func exitWithError(msg string, err error) {
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s: %v\n", msg, err)
	} else {
		fmt.Fprintf(os.Stderr, "Error: %s\n", msg)
	}
	os.Exit(1)
}
