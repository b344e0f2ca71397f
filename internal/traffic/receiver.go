package traffic

import (
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"log/slog"
	"time"

	"firestige.xyz/canstandin/internal/can"
	"firestige.xyz/canstandin/internal/config"
	"firestige.xyz/canstandin/internal/decoder"
	"firestige.xyz/canstandin/internal/diag"
	"firestige.xyz/canstandin/internal/metrics"
	"firestige.xyz/canstandin/internal/seq"
	"firestige.xyz/canstandin/internal/stats"
	"firestige.xyz/canstandin/internal/transport"
)

// ReceiverSummary is the outcome of a receiver run. Drops and OutOfOrder
// come from the 16-bit diagnostic tracker in quality-test mode and from the
// 32-bit counter tracker otherwise. Decoded counts every frame read from
// the socket, counted or not; Invalid and Foreign are only set in
// quality-test mode.
type ReceiverSummary struct {
	Received     uint64
	Bytes        uint64
	Decoded      uint64
	Valid        uint64
	Invalid      uint64
	Foreign      uint64
	Drops        uint64
	OutOfOrder   uint64
	InterArrival string
	Jitter       string
	Elapsed      time.Duration
	Reason       string
}

type receiver struct {
	cfg  *config.ReceiverConfig
	conn transport.Conn
	rep  *stats.Reporter
	rec  *metrics.Recorder
	dump io.Writer

	dec *decoder.Decoder
	buf []byte

	stats    *stats.Counter
	arrivals *stats.Arrivals
	diagSeq  seq.Tracker[uint16]
	counter  seq.Tracker[uint32]
	valid    uint64

	lastRx time.Time
}

// RunReceiver validates cfg, opens the transport and analyzes frames until
// a count, duration or idle limit is reached or ctx is canceled. Frames are
// written to dump when cfg.Dump is set.
func RunReceiver(ctx context.Context, cfg *config.ReceiverConfig, open transport.Opener, rep *stats.Reporter, dump io.Writer) (ReceiverSummary, error) {
	if err := cfg.Validate(); err != nil {
		return ReceiverSummary{}, err
	}
	filter, err := cfg.Filter()
	if err != nil {
		return ReceiverSummary{}, err
	}

	variant := cfg.Variant()
	poll := transport.ReceivePollInterval(cfg.IdleExit)
	conn, err := open(transport.Options{
		Interface:      cfg.Interface,
		Variant:        variant,
		RxBufSize:      cfg.RxBuf,
		TxBufSize:      cfg.TxBuf,
		ReceiveTimeout: poll,
		Filter:         filter,
		DiagnosticOnly: cfg.KernelFilter,
	})
	if err != nil {
		return ReceiverSummary{}, fmt.Errorf("open %s: %w", cfg.Interface, err)
	}
	defer conn.Close()

	r := &receiver{
		cfg:      cfg,
		conn:     conn,
		rep:      rep,
		rec:      metrics.NewRecorder(metrics.DirectionRx, cfg.Interface, variant.String()),
		dump:     dump,
		dec:      decoder.NewDecoder(),
		buf:      make([]byte, variant.WireSize()),
		arrivals: stats.NewArrivals(),
	}
	defer r.rec.Done()

	slog.Info("receiver starting",
		"iface", cfg.Interface,
		"variant", variant.String(),
		"filter", filter,
		"poll", poll,
		"idle_exit", cfg.IdleExit,
		"quality_test", cfg.QualityTest,
		"check_counter", cfg.CheckCounter)

	r.stats = stats.NewCounter(time.Now())

	reason, err := r.loop(ctx)
	sum := r.summary(reason)
	if err != nil {
		return sum, err
	}

	r.rep.Done("rx", sum.Received, r.extra(), sum.Elapsed)
	slog.Info("receiver finished",
		"reason", reason,
		"received", sum.Received,
		"decoded", sum.Decoded,
		"invalid", sum.Invalid,
		"foreign", sum.Foreign,
		"drops", sum.Drops,
		"ooo", sum.OutOfOrder)
	return sum, nil
}

func (r *receiver) loop(ctx context.Context) (string, error) {
	for {
		if ctx.Err() != nil {
			return StopCanceled, nil
		}
		n, err := r.conn.Receive(r.buf)
		if err != nil {
			return "", err
		}
		now := time.Now()
		if n == 0 {
			if reason, stop := r.idle(now); stop {
				return reason, nil
			}
			continue
		}

		if !r.handle(r.buf[:n], now) {
			continue
		}

		if r.stats.Due(now, r.cfg.StatsInterval) {
			r.report(now)
		}
		if r.cfg.Count > 0 && r.stats.Total() >= r.cfg.Count {
			return StopCount, nil
		}
		if r.cfg.Duration > 0 && r.stats.Elapsed(now) >= r.cfg.Duration {
			return StopDuration, nil
		}
	}
}

// idle runs on a receive timeout. Idle exit needs at least one frame.
func (r *receiver) idle(now time.Time) (string, bool) {
	if r.cfg.IdleExit > 0 && !r.lastRx.IsZero() && now.Sub(r.lastRx) >= r.cfg.IdleExit {
		r.report(now)
		return StopIdle, true
	}
	if r.cfg.Duration > 0 && r.stats.Elapsed(now) >= r.cfg.Duration {
		return StopDuration, true
	}
	return "", false
}

// handle processes one frame and reports whether it was counted.
func (r *receiver) handle(b []byte, now time.Time) bool {
	res, err := r.dec.Decode(b)
	if err != nil {
		slog.Debug("skipping undecodable frame", "size", len(b), "error", err)
		return false
	}
	if r.cfg.QualityTest {
		return r.handleDiagnostic(res, now)
	}

	r.stats.Add(1, uint64(len(res.Data)))
	r.rec.Frame(len(res.Data))
	r.dumpFrame(res)
	if r.cfg.CheckCounter && len(res.Data) >= 4 {
		r.observeCounter(binary.LittleEndian.Uint32(res.Data[0:4]))
	}
	r.lastRx = now
	return true
}

func (r *receiver) handleDiagnostic(res decoder.Result, now time.Time) bool {
	switch res.Diag.Kind {
	case diag.NotDiagnostic:
		return false
	case diag.Malformed:
		r.rec.DiagnosticMalformed()
		r.dumpFrame(res)
		return false
	}
	if r.cfg.TestID != nil && res.Diag.TestID != *r.cfg.TestID {
		r.rec.DiagnosticForeign()
		return false
	}

	r.dumpFrame(res)
	r.stats.Add(1, uint64(len(res.Data)))
	r.rec.Frame(len(res.Data))
	r.rec.DiagnosticValid()
	r.valid++

	before := r.diagSeq.Drops()
	r.recordStep(metrics.TrackerDiagnostic, r.diagSeq.Observe(res.Diag.Sequence), r.diagSeq.Drops()-before)

	if ia, jit, ok := r.arrivals.Observe(now); ok {
		r.rec.Arrival(msToDuration(ia), msToDuration(jit))
	}
	r.lastRx = now
	return true
}

func (r *receiver) observeCounter(v uint32) {
	before := r.counter.Drops()
	r.recordStep(metrics.TrackerCounter, r.counter.Observe(v), r.counter.Drops()-before)
}

func (r *receiver) recordStep(tracker string, step seq.Step, gap uint64) {
	switch step {
	case seq.Gap:
		r.rec.SequenceGap(tracker, gap)
	case seq.OutOfOrder:
		r.rec.OutOfOrder(tracker)
	}
}

func (r *receiver) dumpFrame(res decoder.Result) {
	if r.cfg.Dump && r.dump != nil {
		fmt.Fprintln(r.dump, can.Dump(res.ID, res.Data))
	}
}

func (r *receiver) report(now time.Time) {
	rate := r.stats.Snapshot(now)
	r.rec.Rate(rate.FPS)
	r.rep.Interval("rx", rate, r.extra())
}

// extra returns the mode-specific report fields.
func (r *receiver) extra() string {
	switch {
	case r.cfg.QualityTest:
		return fmt.Sprintf("qt_valid=%d qt_invalid=%d drops=%d ooo=%d ia_ms=%s jit_ms=%s",
			r.valid, r.dec.Malformed(), r.diagSeq.Drops(), r.diagSeq.OutOfOrder(),
			r.arrivals.InterArrival.Triplet(), r.arrivals.Jitter.Triplet())
	case r.cfg.CheckCounter:
		return fmt.Sprintf("drops=%d ooo=%d", r.counter.Drops(), r.counter.OutOfOrder())
	}
	return ""
}

func (r *receiver) summary(reason string) ReceiverSummary {
	sum := ReceiverSummary{
		Received:     r.stats.Total(),
		Bytes:        r.stats.Bytes(),
		Decoded:      r.dec.Frames(),
		Valid:        r.valid,
		InterArrival: r.arrivals.InterArrival.Triplet(),
		Jitter:       r.arrivals.Jitter.Triplet(),
		Elapsed:      r.stats.Elapsed(time.Now()),
		Reason:       reason,
	}
	if r.cfg.QualityTest {
		sum.Invalid = r.dec.Malformed()
		sum.Foreign = r.dec.Valid() - r.valid
		sum.Drops, sum.OutOfOrder = r.diagSeq.Drops(), r.diagSeq.OutOfOrder()
	} else {
		sum.Drops, sum.OutOfOrder = r.counter.Drops(), r.counter.OutOfOrder()
	}
	return sum
}

func msToDuration(ms float64) time.Duration {
	return time.Duration(ms * float64(time.Millisecond))
}
