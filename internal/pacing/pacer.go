// Package pacing schedules outbound frames at a fixed interval.
package pacing

import (
	"errors"
	"fmt"
	"math"
	"runtime"
	"time"
)

// SpinThreshold is the sleep/spin crossover. The last SpinThreshold before
// a deadline is busy-waited because OS sleeps wake up too late for rates
// in the thousands of frames per second. Tune per platform scheduler.
const SpinThreshold = 200 * time.Microsecond

// MaxDelayMS is the largest accepted fixed per-frame delay.
const MaxDelayMS = 1000.0

var (
	ErrDelayRange   = errors.New("pacing: delay must be between 0 and 1000 ms")
	ErrRateAndDelay = errors.New("pacing: delay and rate are mutually exclusive")
)

// Interval converts a target rate in frames per second or a fixed delay in
// milliseconds into the inter-frame interval. Zero means unthrottled.
func Interval(rate uint64, delayMS *float64) (time.Duration, error) {
	if delayMS != nil {
		d := *delayMS
		if math.IsNaN(d) || d < 0 || d > MaxDelayMS {
			return 0, fmt.Errorf("%w: got %v", ErrDelayRange, d)
		}
		if rate > 0 {
			return 0, ErrRateAndDelay
		}
		return time.Duration(math.Round(d * 1e6)), nil
	}
	if rate > 0 {
		return time.Duration(uint64(time.Second) / rate), nil
	}
	return 0, nil
}

// Clock abstracts time for the pacer.
type Clock interface {
	Now() time.Time
	Sleep(d time.Duration)
}

type systemClock struct{}

func (systemClock) Now() time.Time        { return time.Now() }
func (systemClock) Sleep(d time.Duration) { time.Sleep(d) }

// Pacer enforces a minimum spacing between sends. The deadline advances
// from max(deadline, now), so a late sender never bursts to catch up and
// an early one never drifts.
type Pacer struct {
	interval time.Duration
	next     time.Time
	clock    Clock
}

// NewPacer returns a pacer on the system clock whose first Wait returns
// immediately.
func NewPacer(interval time.Duration) *Pacer {
	return NewPacerWithClock(interval, systemClock{})
}

// NewPacerWithClock is NewPacer with an explicit clock.
func NewPacerWithClock(interval time.Duration, clock Clock) *Pacer {
	return &Pacer{interval: interval, next: clock.Now(), clock: clock}
}

// Interval returns the configured interval.
func (p *Pacer) Interval() time.Duration { return p.interval }

// Next returns the current deadline.
func (p *Pacer) Next() time.Time { return p.next }

// Reset moves the deadline to t.
func (p *Pacer) Reset(t time.Time) { p.next = t }

// Wait blocks until the current deadline and then schedules the next one.
// It sleeps while more than SpinThreshold remains and spins for the rest.
// With a zero interval Wait returns immediately.
func (p *Pacer) Wait() {
	if p.interval <= 0 {
		return
	}
	now := p.clock.Now()
	if now.Before(p.next) {
		if remaining := p.next.Sub(now); remaining > SpinThreshold {
			p.clock.Sleep(remaining - SpinThreshold)
		}
		for p.clock.Now().Before(p.next) {
			runtime.Gosched()
		}
	}
	base := p.next
	if now.After(base) {
		base = now
	}
	p.next = base.Add(p.interval)
}
