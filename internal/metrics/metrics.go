// Package metrics implements Prometheus metrics.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Direction label values.
const (
	DirectionTx = "tx"
	DirectionRx = "rx"
)

// Tracker label values.
const (
	TrackerDiagnostic = "diag16"
	TrackerCounter    = "counter32"
)

var (
	// FramesTotal counts frames sent or received
	FramesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "canstandin_frames_total",
			Help: "Total number of frames sent or received",
		},
		[]string{"direction", "interface"},
	)

	// BytesTotal counts payload bytes sent or received
	BytesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "canstandin_bytes_total",
			Help: "Total number of payload bytes sent or received",
		},
		[]string{"direction", "interface"},
	)

	// TxDropsTotal counts frames dropped on a full transmit queue
	TxDropsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "canstandin_tx_drops_total",
			Help: "Total number of frames dropped because the transmit queue was full",
		},
		[]string{"interface"},
	)

	// SequenceDropsTotal counts sequence gaps detected by the receiver
	SequenceDropsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "canstandin_sequence_drops_total",
			Help: "Total number of missing sequence values",
		},
		[]string{"interface", "tracker"},
	)

	// OutOfOrderTotal counts out-of-order or duplicate sequence values
	OutOfOrderTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "canstandin_out_of_order_total",
			Help: "Total number of out-of-order or duplicate sequence values",
		},
		[]string{"interface", "tracker"},
	)

	// DiagnosticFramesTotal counts diagnostic payloads by outcome
	DiagnosticFramesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "canstandin_diagnostic_frames_total",
			Help: "Total number of diagnostic payloads by result (valid, malformed, foreign)",
		},
		[]string{"interface", "result"},
	)

	// InterArrivalSeconds measures the gap between accepted diagnostic frames
	InterArrivalSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "canstandin_inter_arrival_seconds",
			Help:    "Inter-arrival time of accepted diagnostic frames in seconds",
			Buckets: prometheus.ExponentialBuckets(0.00001, 2, 18), // 10µs to ~1.3s
		},
		[]string{"interface"},
	)

	// JitterSeconds tracks the latest inter-arrival deviation from the mean
	JitterSeconds = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "canstandin_jitter_seconds",
			Help: "Latest absolute deviation of the inter-arrival time from its running mean",
		},
		[]string{"interface"},
	)

	// FramesPerSecond tracks the rate of the last statistics interval
	FramesPerSecond = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "canstandin_frames_per_second",
			Help: "Frame rate over the last statistics interval",
		},
		[]string{"direction", "interface"},
	)

	// RunInfo is 1 while a run is active
	RunInfo = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "canstandin_run_info",
			Help: "Active run (1) with its mode, interface and frame variant",
		},
		[]string{"direction", "interface", "variant"},
	)
)

// Recorder binds the metric vectors to one run so the frame loop does not
// resolve labels per frame.
type Recorder struct {
	frames    prometheus.Counter
	bytes     prometheus.Counter
	txDrops   prometheus.Counter
	fps       prometheus.Gauge
	valid     prometheus.Counter
	malformed prometheus.Counter
	foreign   prometheus.Counter
	interArr  prometheus.Observer
	jitter    prometheus.Gauge
	seqDrops  map[string]prometheus.Counter
	seqOOO    map[string]prometheus.Counter
	info      prometheus.Gauge
}

// NewRecorder returns a recorder for direction on iface and marks the run
// active.
func NewRecorder(direction, iface, variant string) *Recorder {
	r := &Recorder{
		frames:    FramesTotal.WithLabelValues(direction, iface),
		bytes:     BytesTotal.WithLabelValues(direction, iface),
		txDrops:   TxDropsTotal.WithLabelValues(iface),
		fps:       FramesPerSecond.WithLabelValues(direction, iface),
		valid:     DiagnosticFramesTotal.WithLabelValues(iface, "valid"),
		malformed: DiagnosticFramesTotal.WithLabelValues(iface, "malformed"),
		foreign:   DiagnosticFramesTotal.WithLabelValues(iface, "foreign"),
		interArr:  InterArrivalSeconds.WithLabelValues(iface),
		jitter:    JitterSeconds.WithLabelValues(iface),
		seqDrops:  make(map[string]prometheus.Counter, 2),
		seqOOO:    make(map[string]prometheus.Counter, 2),
		info:      RunInfo.WithLabelValues(direction, iface, variant),
	}
	for _, tr := range []string{TrackerDiagnostic, TrackerCounter} {
		r.seqDrops[tr] = SequenceDropsTotal.WithLabelValues(iface, tr)
		r.seqOOO[tr] = OutOfOrderTotal.WithLabelValues(iface, tr)
	}
	r.info.Set(1)
	return r
}

// Frame records one frame of n payload bytes.
func (r *Recorder) Frame(n int) {
	r.frames.Inc()
	r.bytes.Add(float64(n))
}

// TxDrops adds newly observed transmit drops.
func (r *Recorder) TxDrops(n uint64) {
	if n > 0 {
		r.txDrops.Add(float64(n))
	}
}

// Rate records the frame rate of the last interval.
func (r *Recorder) Rate(fps float64) { r.fps.Set(fps) }

func (r *Recorder) DiagnosticValid()     { r.valid.Inc() }
func (r *Recorder) DiagnosticMalformed() { r.malformed.Inc() }
func (r *Recorder) DiagnosticForeign()   { r.foreign.Inc() }

// SequenceGap adds n missing values for tracker.
func (r *Recorder) SequenceGap(tracker string, n uint64) {
	if c, ok := r.seqDrops[tracker]; ok && n > 0 {
		c.Add(float64(n))
	}
}

// OutOfOrder records one out-of-order value for tracker.
func (r *Recorder) OutOfOrder(tracker string) {
	if c, ok := r.seqOOO[tracker]; ok {
		c.Inc()
	}
}

// Arrival records an inter-arrival sample and the current jitter.
func (r *Recorder) Arrival(interArrival, jitter time.Duration) {
	r.interArr.Observe(interArrival.Seconds())
	r.jitter.Set(jitter.Seconds())
}

// Done marks the run inactive.
func (r *Recorder) Done() { r.info.Set(0) }
