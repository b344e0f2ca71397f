package traffic

import (
	"bytes"
	"context"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"firestige.xyz/canstandin/internal/can"
	"firestige.xyz/canstandin/internal/config"
	"firestige.xyz/canstandin/internal/diag"
	"firestige.xyz/canstandin/internal/log"
	"firestige.xyz/canstandin/internal/stats"
	"firestige.xyz/canstandin/internal/transport"
)

func intp(v int) *int { return &v }

func u8p(v uint8) *uint8 { return &v }

func u32p(v uint32) *uint32 { return &v }

func reporter(t *testing.T, buf *bytes.Buffer) *stats.Reporter {
	t.Helper()
	l, err := log.NewReportLogger(buf, config.ReportConfig{})
	require.NoError(t, err)
	return stats.NewReporter(l, false)
}

func senderConfig(iface string) *config.SenderConfig {
	return &config.SenderConfig{
		Interface: iface,
		ID:        0x123,
		TestID:    1,
		Fill:      0xAA,
		Loop:      1,
	}
}

func receiverConfig(iface string) *config.ReceiverConfig {
	return &config.ReceiverConfig{
		Interface: iface,
		IdleExit:  2 * time.Second,
	}
}

type rxResult struct {
	sum ReceiverSummary
	err error
}

// startReceiver runs the receiver in the background and returns once its
// endpoint is attached to the bus.
func startReceiver(t *testing.T, ctx context.Context, bus *transport.LoopbackBus, cfg *config.ReceiverConfig, rep *stats.Reporter, dump io.Writer) <-chan rxResult {
	t.Helper()
	opened := make(chan struct{})
	open := func(o transport.Options) (transport.Conn, error) {
		defer close(opened)
		return bus.Open(o)
	}
	done := make(chan rxResult, 1)
	go func() {
		sum, err := RunReceiver(ctx, cfg, open, rep, dump)
		done <- rxResult{sum, err}
	}()
	select {
	case <-opened:
	case <-time.After(2 * time.Second):
		t.Fatal("receiver did not open")
	}
	return done
}

func wait(t *testing.T, done <-chan rxResult) rxResult {
	t.Helper()
	select {
	case r := <-done:
		return r
	case <-time.After(10 * time.Second):
		t.Fatal("receiver did not finish")
		return rxResult{}
	}
}

func TestCounterEndToEnd(t *testing.T) {
	bus := transport.NewLoopbackBus(transport.DefaultLoopbackDepth)
	defer bus.Close()

	rxCfg := receiverConfig("vcan0")
	rxCfg.Count = 100
	rxCfg.CheckCounter = true
	var rxOut bytes.Buffer
	done := startReceiver(t, context.Background(), bus, rxCfg, reporter(t, &rxOut), nil)

	txCfg := senderConfig("vcan0")
	txCfg.Count = 100
	txCfg.Len = intp(4)
	txCfg.Counter = true
	var txOut bytes.Buffer
	tx, err := RunSender(context.Background(), txCfg, bus.Open, reporter(t, &txOut))
	require.NoError(t, err)
	assert.Equal(t, uint64(100), tx.Sent)
	assert.Equal(t, uint64(400), tx.Bytes)
	assert.Zero(t, tx.TxDrops)
	assert.Equal(t, StopCount, tx.Reason)
	assert.Contains(t, txOut.String(), "tx: done total=100 elapsed=")
	assert.NotContains(t, txOut.String(), "drops=")

	rx := wait(t, done)
	require.NoError(t, rx.err)
	assert.Equal(t, uint64(100), rx.sum.Received)
	assert.Equal(t, uint64(400), rx.sum.Bytes)
	assert.Zero(t, rx.sum.Drops)
	assert.Zero(t, rx.sum.OutOfOrder)
	assert.Equal(t, StopCount, rx.sum.Reason)
	assert.Contains(t, rxOut.String(), "rx: done total=100 drops=0 ooo=0 elapsed=")
}

func TestSenderLoopMultipliesCount(t *testing.T) {
	bus := transport.NewLoopbackBus(transport.DefaultLoopbackDepth)
	defer bus.Close()

	cfg := senderConfig("vcan0")
	cfg.Count = 4
	cfg.Loop = 3
	tx, err := RunSender(context.Background(), cfg, bus.Open, nil)
	require.NoError(t, err)
	assert.Equal(t, uint64(12), tx.Sent)
	assert.Equal(t, uint64(12*8), tx.Bytes)
}

func TestQualityTestFiltersTestID(t *testing.T) {
	bus := transport.NewLoopbackBus(transport.DefaultLoopbackDepth)
	defer bus.Close()

	rxCfg := receiverConfig("vcan0")
	rxCfg.QualityTest = true
	rxCfg.TestID = u8p(7)
	rxCfg.Count = 10
	var rxOut, dump bytes.Buffer
	rxCfg.Dump = true
	done := startReceiver(t, context.Background(), bus, rxCfg, reporter(t, &rxOut), &dump)

	foreign := senderConfig("vcan0")
	foreign.QualityTest = true
	foreign.TestID = 9
	foreign.Count = 5
	_, err := RunSender(context.Background(), foreign, bus.Open, nil)
	require.NoError(t, err)

	own := senderConfig("vcan0")
	own.QualityTest = true
	own.TestID = 7
	own.Count = 10
	_, err = RunSender(context.Background(), own, bus.Open, nil)
	require.NoError(t, err)

	rx := wait(t, done)
	require.NoError(t, rx.err)
	assert.Equal(t, uint64(10), rx.sum.Received)
	assert.Equal(t, uint64(10), rx.sum.Valid)
	assert.Zero(t, rx.sum.Invalid)
	assert.Equal(t, uint64(5), rx.sum.Foreign)
	assert.Equal(t, uint64(15), rx.sum.Decoded)
	assert.Zero(t, rx.sum.Drops)
	assert.Zero(t, rx.sum.OutOfOrder)
	assert.NotEqual(t, "n/a", rx.sum.InterArrival)

	lines := strings.Split(strings.TrimSpace(dump.String()), "\n")
	require.Len(t, lines, 10)
	assert.True(t, strings.HasPrefix(lines[0], "123 [8] CA FE 00 00"), lines[0])
	assert.Contains(t, rxOut.String(), "rx: done total=10 qt_valid=10 qt_invalid=0 drops=0 ooo=0 ia_ms=")
}

// injectFrame writes a classic frame with data onto the bus.
func injectFrame(t *testing.T, conn transport.Conn, id uint32, data []byte) {
	t.Helper()
	f := can.Frame{ID: id, Len: uint8(len(data))}
	copy(f.Data[:], data)
	buf := make([]byte, can.Classic.WireSize())
	_, err := f.MarshalTo(can.Classic, buf)
	require.NoError(t, err)
	require.NoError(t, conn.Send(buf))
}

func TestQualityTestMalformedAndPlainFrames(t *testing.T) {
	bus := transport.NewLoopbackBus(transport.DefaultLoopbackDepth)
	defer bus.Close()

	rxCfg := receiverConfig("vcan0")
	rxCfg.QualityTest = true
	rxCfg.Dump = true
	rxCfg.Count = 2
	var rxOut, dump bytes.Buffer
	done := startReceiver(t, context.Background(), bus, rxCfg, reporter(t, &rxOut), &dump)

	inj, err := bus.Open(transport.Options{Interface: "vcan0"})
	require.NoError(t, err)
	defer inj.Close()

	injectFrame(t, inj, 0x123, bytes.Repeat([]byte{0xAA}, 8))

	bad := make([]byte, diag.PayloadSize)
	diag.Encode(bad, 0, 0, 1)
	bad[7] ^= 0xFF
	injectFrame(t, inj, 0x123, bad)

	injectFrame(t, inj, 0x456, []byte{0xCA})

	for i := uint16(0); i < 2; i++ {
		good := make([]byte, diag.PayloadSize)
		diag.Encode(good, i, 0, 1)
		injectFrame(t, inj, 0x123, good)
	}

	rx := wait(t, done)
	require.NoError(t, rx.err)
	assert.Equal(t, uint64(2), rx.sum.Received)
	assert.Equal(t, uint64(16), rx.sum.Bytes)
	assert.Equal(t, uint64(2), rx.sum.Valid)
	assert.Equal(t, uint64(1), rx.sum.Invalid)
	assert.Zero(t, rx.sum.Foreign)
	assert.Equal(t, uint64(5), rx.sum.Decoded)
	assert.Zero(t, rx.sum.Drops)

	lines := strings.Split(strings.TrimSpace(dump.String()), "\n")
	require.Len(t, lines, 3)
	assert.Equal(t, can.Dump(0x123, bad), lines[0])
	assert.True(t, strings.HasPrefix(lines[1], "123 [8] CA FE 00 00"), lines[1])
	assert.True(t, strings.HasPrefix(lines[2], "123 [8] CA FE 00 01"), lines[2])
	assert.NotContains(t, dump.String(), "AA AA")
	assert.NotContains(t, dump.String(), "456")
	assert.Contains(t, rxOut.String(), "rx: done total=2 qt_valid=2 qt_invalid=1 drops=0 ooo=0 ia_ms=")
}

func TestQualityTestKernelFilterSkipsPlainFrames(t *testing.T) {
	bus := transport.NewLoopbackBus(transport.DefaultLoopbackDepth)
	defer bus.Close()

	rxCfg := receiverConfig("vcan0")
	rxCfg.QualityTest = true
	rxCfg.KernelFilter = true
	rxCfg.Count = 3
	done := startReceiver(t, context.Background(), bus, rxCfg, nil, nil)

	plain := senderConfig("vcan0")
	plain.Count = 20
	_, err := RunSender(context.Background(), plain, bus.Open, nil)
	require.NoError(t, err)

	qt := senderConfig("vcan0")
	qt.QualityTest = true
	qt.Count = 3
	_, err = RunSender(context.Background(), qt, bus.Open, nil)
	require.NoError(t, err)

	rx := wait(t, done)
	require.NoError(t, rx.err)
	assert.Equal(t, uint64(3), rx.sum.Received)
	assert.Equal(t, uint64(3), rx.sum.Valid)
}

func TestReceiverIdleExit(t *testing.T) {
	bus := transport.NewLoopbackBus(transport.DefaultLoopbackDepth)
	defer bus.Close()

	rxCfg := receiverConfig("vcan0")
	rxCfg.IdleExit = 50 * time.Millisecond
	rxCfg.CheckCounter = true
	var rxOut bytes.Buffer
	done := startReceiver(t, context.Background(), bus, rxCfg, reporter(t, &rxOut), nil)

	txCfg := senderConfig("vcan0")
	txCfg.Count = 3
	txCfg.Counter = true
	_, err := RunSender(context.Background(), txCfg, bus.Open, nil)
	require.NoError(t, err)

	rx := wait(t, done)
	require.NoError(t, rx.err)
	assert.Equal(t, StopIdle, rx.sum.Reason)
	assert.Equal(t, uint64(3), rx.sum.Received)

	out := rxOut.String()
	assert.Contains(t, out, "rx: total=3 fps=")
	assert.Contains(t, out, "rx: done total=3 drops=0 ooo=0 elapsed=")
}

func TestReceiverDurationWithoutTraffic(t *testing.T) {
	bus := transport.NewLoopbackBus(transport.DefaultLoopbackDepth)
	defer bus.Close()

	rxCfg := receiverConfig("vcan0")
	rxCfg.IdleExit = 20 * time.Millisecond
	rxCfg.Duration = 100 * time.Millisecond
	done := startReceiver(t, context.Background(), bus, rxCfg, nil, nil)

	rx := wait(t, done)
	require.NoError(t, rx.err)
	assert.Equal(t, StopDuration, rx.sum.Reason)
	assert.Zero(t, rx.sum.Received)
	assert.GreaterOrEqual(t, rx.sum.Elapsed, 100*time.Millisecond)
}

func TestReceiverCanceled(t *testing.T) {
	bus := transport.NewLoopbackBus(transport.DefaultLoopbackDepth)
	defer bus.Close()

	ctx, cancel := context.WithCancel(context.Background())
	done := startReceiver(t, ctx, bus, receiverConfig("vcan0"), nil, nil)
	cancel()

	rx := wait(t, done)
	require.NoError(t, rx.err)
	assert.Equal(t, StopCanceled, rx.sum.Reason)
}

func TestSenderDurationAndRate(t *testing.T) {
	bus := transport.NewLoopbackBus(transport.DefaultLoopbackDepth)
	defer bus.Close()

	cfg := senderConfig("vcan0")
	cfg.Rate = 200
	cfg.Duration = 100 * time.Millisecond
	tx, err := RunSender(context.Background(), cfg, bus.Open, nil)
	require.NoError(t, err)
	assert.Equal(t, StopDuration, tx.Reason)
	// 200 fps for 100ms, first frame immediate; the pacer never bursts
	assert.LessOrEqual(t, tx.Sent, uint64(22))
	assert.GreaterOrEqual(t, tx.Sent, uint64(5))
}

func TestSenderCountsQueueDrops(t *testing.T) {
	bus := transport.NewLoopbackBus(4)
	defer bus.Close()

	rx, err := bus.Open(transport.Options{Interface: "vcan0"})
	require.NoError(t, err)
	defer rx.Close()

	cfg := senderConfig("vcan0")
	cfg.Count = 10
	var out bytes.Buffer
	tx, err := RunSender(context.Background(), cfg, bus.Open, reporter(t, &out))
	require.NoError(t, err)
	assert.Equal(t, uint64(10), tx.Sent)
	assert.Equal(t, uint64(6), tx.TxDrops)
	assert.Contains(t, out.String(), "tx: done total=10 drops=6 elapsed=")
}

func TestConfigurationErrorsBeforeOpen(t *testing.T) {
	open := func(transport.Options) (transport.Conn, error) {
		t.Fatal("transport opened for an invalid configuration")
		return nil, nil
	}

	tx := senderConfig("vcan0")
	tx.QualityTest = true
	tx.Len = intp(8)
	_, err := RunSender(context.Background(), tx, open, nil)
	assert.ErrorIs(t, err, config.ErrConfiguration)

	rx := receiverConfig("vcan0")
	rx.Mask = u32p(0x7FF)
	_, err = RunReceiver(context.Background(), rx, open, nil, nil)
	assert.ErrorIs(t, err, config.ErrConfiguration)
}

func TestOpenErrorIsWrapped(t *testing.T) {
	bus := transport.NewLoopbackBus(transport.DefaultLoopbackDepth)
	require.NoError(t, bus.Close())

	_, err := RunSender(context.Background(), senderConfig("vcan0"), bus.Open, nil)
	assert.ErrorIs(t, err, transport.ErrClosed)

	_, err = RunSender(context.Background(), senderConfig(""), bus.Open, nil)
	assert.ErrorIs(t, err, config.ErrConfiguration)
}
