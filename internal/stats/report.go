package stats

import (
	"fmt"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
)

// Reporter prints interval and summary lines through a report logger.
// A nil logger or quiet mode silences it.
type Reporter struct {
	out   *logrus.Logger
	quiet bool
}

// NewReporter wraps a report logger.
func NewReporter(out *logrus.Logger, quiet bool) *Reporter {
	return &Reporter{out: out, quiet: quiet}
}

func (r *Reporter) enabled() bool {
	return r != nil && r.out != nil && !r.quiet
}

// Interval prints "label: total=N fps=F Mbps=M [extra]".
func (r *Reporter) Interval(label string, rate Rate, extra string) {
	if !r.enabled() {
		return
	}
	line := fmt.Sprintf("%s: total=%d fps=%.0f Mbps=%.3f", label, rate.Total, rate.FPS, rate.Mbps)
	if extra != "" {
		line += " " + extra
	}
	r.out.WithField("report", "interval").Info(line)
}

// Done prints "label: done total=N [extra] elapsed=S.SSSs".
func (r *Reporter) Done(label string, total uint64, extra string, elapsed time.Duration) {
	if !r.enabled() {
		return
	}
	var b strings.Builder
	fmt.Fprintf(&b, "%s: done total=%d", label, total)
	if extra != "" {
		b.WriteString(" ")
		b.WriteString(extra)
	}
	fmt.Fprintf(&b, " elapsed=%.3fs", elapsed.Seconds())
	r.out.WithField("report", "done").Info(b.String())
}
