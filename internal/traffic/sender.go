// Package traffic implements the sender and receiver run loops.
package traffic

import (
	"context"
	"encoding/binary"
	"fmt"
	"log/slog"
	"time"

	"firestige.xyz/canstandin/internal/can"
	"firestige.xyz/canstandin/internal/config"
	"firestige.xyz/canstandin/internal/diag"
	"firestige.xyz/canstandin/internal/metrics"
	"firestige.xyz/canstandin/internal/pacing"
	"firestige.xyz/canstandin/internal/stats"
	"firestige.xyz/canstandin/internal/transport"
)

// Stop reasons.
const (
	StopCount    = "count"
	StopDuration = "duration"
	StopIdle     = "idle"
	StopCanceled = "canceled"
)

// SenderSummary is the outcome of a sender run.
type SenderSummary struct {
	Sent    uint64
	Bytes   uint64
	TxDrops uint64
	Elapsed time.Duration
	Reason  string
}

// sender is the run context of one sender invocation.
type sender struct {
	cfg     *config.SenderConfig
	conn    transport.Conn
	rep     *stats.Reporter
	rec     *metrics.Recorder
	variant can.Variant

	frame      can.Frame
	payloadLen int
	buf        []byte

	seq     uint16
	counter uint32

	pacer    *pacing.Pacer
	stats    *stats.Counter
	limit    uint64
	lastDrop uint64
}

// RunSender validates cfg, opens the transport and transmits frames until
// the count or duration limit is reached or ctx is canceled.
func RunSender(ctx context.Context, cfg *config.SenderConfig, open transport.Opener, rep *stats.Reporter) (SenderSummary, error) {
	if err := cfg.Validate(); err != nil {
		return SenderSummary{}, err
	}
	canID, err := can.BuildIdentifier(cfg.ID, cfg.Extended)
	if err != nil {
		return SenderSummary{}, fmt.Errorf("%w: %w", config.ErrConfiguration, err)
	}
	data, err := cfg.Payload()
	if err != nil {
		return SenderSummary{}, err
	}
	interval, err := cfg.Interval()
	if err != nil {
		return SenderSummary{}, err
	}
	limit, err := cfg.TotalLimit()
	if err != nil {
		return SenderSummary{}, err
	}

	variant := cfg.Variant()
	conn, err := open(transport.Options{
		Interface:       cfg.Interface,
		Variant:         variant,
		RxBufSize:       cfg.RxBuf,
		TxBufSize:       cfg.TxBuf,
		DisableLoopback: cfg.NoLoopback,
		ReceiveOwn:      cfg.RecvOwn,
	})
	if err != nil {
		return SenderSummary{}, fmt.Errorf("open %s: %w", cfg.Interface, err)
	}
	defer conn.Close()

	s := &sender{
		cfg:        cfg,
		conn:       conn,
		rep:        rep,
		rec:        metrics.NewRecorder(metrics.DirectionTx, cfg.Interface, variant.String()),
		variant:    variant,
		payloadLen: len(data),
		buf:        make([]byte, variant.WireSize()),
		limit:      limit,
	}
	defer s.rec.Done()

	s.frame.ID = canID
	s.frame.Len = uint8(len(data))
	s.frame.Fill(variant, cfg.Fill)
	copy(s.frame.Data[:], data)

	// The pacer schedule and the quality-test offsets share the counter's
	// start instant.
	s.stats = stats.NewCounter(time.Now())
	s.pacer = pacing.NewPacer(interval)
	s.pacer.Reset(s.stats.Start())

	slog.Info("sender starting",
		"iface", cfg.Interface,
		"id", fmt.Sprintf("0x%X", canID&^can.EFFFlag),
		"extended", canID&can.EFFFlag != 0,
		"variant", variant.String(),
		"len", len(data),
		"interval", s.pacer.Interval(),
		"limit", limit,
		"duration", cfg.Duration,
		"quality_test", cfg.QualityTest)

	reason, err := s.loop(ctx)
	sum := s.summary(reason)
	if err != nil {
		return sum, err
	}

	s.rep.Done("tx", sum.Sent, s.dropsExtra(), sum.Elapsed)
	slog.Info("sender finished", "reason", reason, "sent", sum.Sent, "drops", sum.TxDrops)
	return sum, nil
}

func (s *sender) loop(ctx context.Context) (string, error) {
	for {
		if ctx.Err() != nil {
			return StopCanceled, nil
		}
		s.pacer.Wait()

		s.mutate()
		n, err := s.frame.MarshalTo(s.variant, s.buf)
		if err != nil {
			return "", err
		}
		if err := s.conn.Send(s.buf[:n]); err != nil {
			return "", err
		}
		s.stats.Add(1, uint64(s.payloadLen))
		s.rec.Frame(s.payloadLen)
		s.recordDrops()

		if s.limit > 0 && s.stats.Total() >= s.limit {
			return StopCount, nil
		}
		now := time.Now()
		if s.cfg.Duration > 0 && s.stats.Elapsed(now) >= s.cfg.Duration {
			return StopDuration, nil
		}
		if s.stats.Due(now, s.cfg.StatsInterval) {
			rate := s.stats.Snapshot(now)
			s.rec.Rate(rate.FPS)
			s.rep.Interval("tx", rate, s.dropsExtra())
		}
	}
}

// mutate rewrites the per-frame part of the payload: the diagnostic
// payload in quality-test mode or the little-endian counter in bytes 0-3.
func (s *sender) mutate() {
	data := s.frame.Data[:s.payloadLen]
	switch {
	case s.cfg.QualityTest:
		diag.Encode(data, s.seq, time.Since(s.stats.Start()), s.cfg.TestID)
		s.seq++
	case s.cfg.Counter:
		binary.LittleEndian.PutUint32(data[0:4], s.counter)
		s.counter++
	}
}

func (s *sender) recordDrops() {
	drops := s.conn.TxDrops()
	if drops > s.lastDrop {
		s.rec.TxDrops(drops - s.lastDrop)
		s.lastDrop = drops
	}
}

func (s *sender) dropsExtra() string {
	if d := s.conn.TxDrops(); d > 0 {
		return fmt.Sprintf("drops=%d", d)
	}
	return ""
}

func (s *sender) summary(reason string) SenderSummary {
	return SenderSummary{
		Sent:    s.stats.Total(),
		Bytes:   s.stats.Bytes(),
		TxDrops: s.conn.TxDrops(),
		Elapsed: s.stats.Elapsed(time.Now()),
		Reason:  reason,
	}
}
