package reporting

import (
	"time"

	"github.com/variantlab/trafficsplit/internal/monitoring"
)

// LogSink writes each record to the structured log. It is the default sink
// in development and a useful tee in front of the HTTP collector.
type LogSink struct {
	logger *monitoring.Logger
}

// NewLogSink creates a sink backed by the service logger
func NewLogSink(logger *monitoring.Logger) *LogSink {
	return &LogSink{logger: logger}
}

func (s *LogSink) Push(record Record) {
	start := time.Now()
	attrs := make([]interface{}, 0, len(record)*2)
	for k, v := range record {
		attrs = append(attrs, k, v)
	}
	s.logger.Info("Analytics record", attrs...)
	s.logger.SinkLogger("log", true, time.Since(start), nil)
}
