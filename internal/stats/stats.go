// Package stats implements throughput counters with periodic snapshots
// and running min/max/mean accumulators.
package stats

import (
	"fmt"
	"math"
	"time"
)

// Rate is the throughput over one snapshot interval.
type Rate struct {
	Total   uint64
	Frames  uint64
	Bytes   uint64
	Elapsed time.Duration
	FPS     float64
	Mbps    float64
}

// Counter accumulates frame and byte totals. Snapshot computes the rate
// since the previous snapshot and rebases the baseline.
type Counter struct {
	start      time.Time
	lastReport time.Time
	lastFrames uint64
	lastBytes  uint64
	frames     uint64
	bytes      uint64
}

// NewCounter starts a counter at now.
func NewCounter(now time.Time) *Counter {
	return &Counter{start: now, lastReport: now}
}

// Add records frames and bytes.
func (c *Counter) Add(frames, bytes uint64) {
	c.frames += frames
	c.bytes += bytes
}

// Total returns the number of frames recorded.
func (c *Counter) Total() uint64 { return c.frames }

// Bytes returns the number of bytes recorded.
func (c *Counter) Bytes() uint64 { return c.bytes }

// Start returns the instant the counter was created.
func (c *Counter) Start() time.Time { return c.start }

// Elapsed returns the time since the counter was created.
func (c *Counter) Elapsed(now time.Time) time.Duration { return now.Sub(c.start) }

// Due reports whether interval has passed since the last snapshot.
// A non-positive interval is never due.
func (c *Counter) Due(now time.Time, interval time.Duration) bool {
	return interval > 0 && now.Sub(c.lastReport) >= interval
}

// Snapshot returns the rate since the previous snapshot and rebases.
func (c *Counter) Snapshot(now time.Time) Rate {
	elapsed := now.Sub(c.lastReport)
	r := Rate{
		Total:   c.frames,
		Frames:  c.frames - c.lastFrames,
		Bytes:   c.bytes - c.lastBytes,
		Elapsed: elapsed,
	}
	if secs := elapsed.Seconds(); secs > 0 {
		r.FPS = float64(r.Frames) / secs
		r.Mbps = (float64(r.Bytes) * 8 / 1e6) / secs
	}
	c.lastReport = now
	c.lastFrames = c.frames
	c.lastBytes = c.bytes
	return r
}

// Running tracks count, min, max and mean of a stream of samples.
type Running struct {
	count uint64
	min   float64
	max   float64
	sum   float64
}

// NewRunning returns an empty accumulator.
func NewRunning() *Running {
	return &Running{min: math.Inf(1), max: math.Inf(-1)}
}

// Add records one sample.
func (r *Running) Add(v float64) {
	r.count++
	if v < r.min {
		r.min = v
	}
	if v > r.max {
		r.max = v
	}
	r.sum += v
}

func (r *Running) Count() uint64 { return r.count }
func (r *Running) Min() float64   { return r.min }
func (r *Running) Max() float64   { return r.max }

// Mean returns the average, or 0 without samples.
func (r *Running) Mean() float64 {
	if r.count == 0 {
		return 0
	}
	return r.sum / float64(r.count)
}

// Triplet formats "min/avg/max" with three decimals, or "n/a".
func (r *Running) Triplet() string {
	if r.count == 0 {
		return "n/a"
	}
	return fmt.Sprintf("%.3f/%.3f/%.3f", r.min, r.Mean(), r.max)
}

// Arrivals derives inter-arrival and jitter samples from arrival instants.
// Jitter is the absolute deviation of each inter-arrival sample from the
// mean of all inter-arrival samples so far, the current one included.
type Arrivals struct {
	last         time.Time
	seen         bool
	InterArrival *Running
	Jitter       *Running
}

// NewArrivals returns an empty tracker.
func NewArrivals() *Arrivals {
	return &Arrivals{InterArrival: NewRunning(), Jitter: NewRunning()}
}

// Observe records an arrival. It returns the inter-arrival and jitter in
// milliseconds; ok is false for the first arrival.
func (a *Arrivals) Observe(now time.Time) (interArrivalMS, jitterMS float64, ok bool) {
	if !a.seen {
		a.last = now
		a.seen = true
		return 0, 0, false
	}
	interArrivalMS = float64(now.Sub(a.last)) / float64(time.Millisecond)
	a.last = now
	a.InterArrival.Add(interArrivalMS)
	jitterMS = math.Abs(interArrivalMS - a.InterArrival.Mean())
	a.Jitter.Add(jitterMS)
	return interArrivalMS, jitterMS, true
}
