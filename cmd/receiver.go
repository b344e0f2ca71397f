package cmd

import (
	"context"
	"io"
	"os"

	"github.com/spf13/cobra"

	"firestige.xyz/canstandin/internal/config"
	"firestige.xyz/canstandin/internal/traffic"
	"firestige.xyz/canstandin/internal/transport"
)

var receiverCmd = &cobra.Command{
	Use:   "receiver",
	Short: "Receive and analyze frames on a CAN interface",
	Long: `Receive frames on a raw CAN socket until --count frames were counted,
--duration expired, the link stayed idle for --idle-exit after the first
frame, or the process is interrupted.

Analysis modes:
  --check-counter  track the little-endian 32-bit counter in bytes 0-3
  --quality-test   validate quality-test payloads and report sequence
                   drops, reordering, inter-arrival time and jitter

Examples:
  canstandin receiver -i vcan0 --check-counter
  canstandin receiver -i can0 --quality-test --test-id 7 --kernel-filter
  canstandin receiver -i can0 --id 0x100 --mask 0x700 --dump`,
	Run: func(cmd *cobra.Command, args []string) {
		cfg, err := loadConfig(cmd, "receiver")
		if err != nil {
			exitWithError("failed to load config", err)
		}
		ctx, stop := signalContext()
		defer stop()
		if err := runReceiver(ctx, cfg, transport.OpenSocketCAN, os.Stdout, os.Stderr); err != nil {
			stop()
			exitWithError("receiver failed", err)
		}
	},
}

func init() {
	f := receiverCmd.Flags()
	f.StringP("iface", "i", "can0", "CAN interface")
	f.String("id", "", "accept only this identifier (hex with 0x prefix or decimal)")
	f.String("mask", "", "filter mask applied with --id")
	f.BoolP("extended", "e", false, "treat --id as a 29-bit extended identifier")
	f.Bool("fd", false, "receive CAN FD frames")
	f.Bool("quality-test", false, "analyze quality-test payloads")
	f.Uint8("test-id", 0, "accept only quality-test payloads with this test id")
	f.Bool("kernel-filter", false, "drop non quality-test frames in the kernel")
	f.Uint64P("count", "n", 0, "stop after this many frames (0 = unlimited)")
	f.StringP("duration", "d", "", "stop after this duration (seconds or Go duration)")
	f.String("stats-interval", "1s", "report interval (0 disables)")
	f.String("idle-exit", "1s", "stop when idle this long after the first frame (0 disables)")
	f.BoolP("quiet", "q", false, "suppress statistics output")
	f.Bool("dump", false, "print counted frames to stdout")
	f.Bool("check-counter", false, "track the 32-bit counter in bytes 0-3")
	f.Int("rx-buf", 16777216, "socket receive buffer size")
	f.Int("tx-buf", 1048576, "socket send buffer size")
}

func runReceiver(ctx context.Context, cfg *config.Config, open transport.Opener, stdout, stderr io.Writer) error {
	if err := cfg.Receiver.Validate(); err != nil {
		return err
	}
	env, err := setup(ctx, cfg, stderr, cfg.Receiver.Quiet)
	if err != nil {
		return err
	}
	defer env.close()

	_, err = traffic.RunReceiver(ctx, &cfg.Receiver, open, env.reporter, stdout)
	return err
}
