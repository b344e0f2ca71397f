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

var senderCmd = &cobra.Command{
	Use:   "sender",
	Short: "Transmit frames on a CAN interface",
	Long: `Transmit frames on a raw CAN socket until --count (times --loop) frames
were sent, --duration expired or the process is interrupted.

Payload modes:
  default         --len bytes of --data, padded with --fill
  --counter       bytes 0-3 carry a little-endian 32-bit counter
  --quality-test  8-byte payload: magic 0xCAFE, 16-bit sequence, sender
                  offset in ms, --test-id and XOR checksum

Examples:
  canstandin sender -i vcan0 --id 0x123 --rate 1000 --duration 10
  canstandin sender -i can0 --fd --len 64 --count 100000
  canstandin sender -i can0 --quality-test --test-id 7 --delay-ms 0.5`,
	Run: func(cmd *cobra.Command, args []string) {
		cfg, err := loadConfig(cmd, "sender")
		if err != nil {
			exitWithError("failed to load config", err)
		}
		ctx, stop := signalContext()
		defer stop()
		if err := runSender(ctx, cfg, transport.OpenSocketCAN, os.Stderr); err != nil {
			stop()
			exitWithError("sender failed", err)
		}
	},
}

func init() {
	f := senderCmd.Flags()
	f.StringP("iface", "i", "can0", "CAN interface")
	f.String("id", "0x123", "CAN identifier (hex with 0x prefix or decimal)")
	f.BoolP("extended", "e", false, "force the 29-bit extended format")
	f.Bool("fd", false, "send CAN FD frames")
	f.Bool("quality-test", false, "send checksummed quality-test payloads")
	f.Uint8("test-id", 1, "test id carried in quality-test payloads")
	f.Int("len", 8, "payload length")
	f.String("data", "", "payload as hex bytes (e.g. \"DE AD BE EF\")")
	f.String("fill", "0xAA", "padding byte")
	f.Bool("counter", false, "carry a 32-bit counter in bytes 0-3")
	f.Uint64P("count", "n", 0, "frames per loop (0 = unlimited)")
	f.Uint64("loop", 1, "repeat count; the total is count * loop")
	f.Uint64P("rate", "r", 0, "frames per second (0 = unthrottled)")
	f.Float64("delay-ms", 0, "fixed delay between frames in ms (0..1000)")
	f.StringP("duration", "d", "", "stop after this duration (seconds or Go duration)")
	f.String("stats-interval", "1s", "report interval (0 disables)")
	f.BoolP("quiet", "q", false, "suppress statistics output")
	f.Int("tx-buf", 4194304, "socket send buffer size")
	f.Int("rx-buf", 1048576, "socket receive buffer size")
	f.Bool("no-loopback", false, "disable local loopback of sent frames")
	f.Bool("recv-own", false, "receive own frames")
}

func runSender(ctx context.Context, cfg *config.Config, open transport.Opener, stderr io.Writer) error {
	if err := cfg.Sender.Validate(); err != nil {
		return err
	}
	env, err := setup(ctx, cfg, stderr, cfg.Sender.Quiet)
	if err != nil {
		return err
	}
	defer env.close()

	_, err = traffic.RunSender(ctx, &cfg.Sender, open, env.reporter)
	return err
}
