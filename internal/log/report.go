package log

import (
	"fmt"
	"io"

	"github.com/sirupsen/logrus"

	"firestige.xyz/canstandin/internal/config"
)

// NewReportLogger builds the logrus logger that prints statistics lines.
// Output goes to w and, when configured, to a rotating report file.
func NewReportLogger(w io.Writer, cfg config.ReportConfig) (*logrus.Logger, error) {
	pattern := cfg.Pattern
	if pattern == "" {
		pattern = DefaultReportPattern
	}
	timeLayout := cfg.Time
	if timeLayout == "" {
		timeLayout = DefaultReportTime
	}

	out := NewMultiWriter().Add(w)
	if cfg.File.Enabled {
		fw, err := createFileWriter(cfg.File)
		if err != nil {
			return nil, fmt.Errorf("failed to create report file: %w", err)
		}
		out.Add(fw)
	}

	l := logrus.New()
	l.SetFormatter(&formatter{pattern: pattern, time: timeLayout})
	l.SetLevel(logrus.InfoLevel)
	l.SetOutput(out)
	return l, nil
}
