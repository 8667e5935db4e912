package reporting

import (
	"github.com/variantlab/trafficsplit/internal/errors"
	"github.com/variantlab/trafficsplit/internal/monitoring"
)

// Record is a single analytics event. Keys are flat strings so every
// sink (log, HTTP collector, event store) can serialize it without a
// schema.
type Record map[string]string

// Well-known record keys
const (
	KeyEvent      = "event"
	KeyExperiment = "experiment"
	KeyVariant    = "variant"
	KeySource     = "source"
)

// EventExperimentView is the event name pushed once per evaluated page view
const EventExperimentView = "experiment-view"

// Sink receives analytics records. Implementations must not block the
// caller for longer than a local buffer write; slow delivery belongs on
// a background goroutine inside the sink.
type Sink interface {
	Push(record Record)
}

// SinkFunc adapts a function to the Sink interface
type SinkFunc func(record Record)

func (f SinkFunc) Push(record Record) {
	f(record)
}

// Multi fans a record out to several sinks in order
type Multi struct {
	sinks []Sink
}

// NewMulti creates a fan-out sink. Nil entries are skipped.
func NewMulti(sinks ...Sink) *Multi {
	kept := make([]Sink, 0, len(sinks))
	for _, s := range sinks {
		if s != nil {
			kept = append(kept, s)
		}
	}
	return &Multi{sinks: kept}
}

func (m *Multi) Push(record Record) {
	for _, s := range m.sinks {
		s.Push(record)
	}
}

// Guard wraps a sink so that a panicking or misbehaving implementation
// cannot take down the request that triggered the push. Assignment must
// survive reporter failure.
type Guard struct {
	name    string
	inner   Sink
	logger  *monitoring.Logger
	metrics *monitoring.Metrics
}

// NewGuard wraps inner with panic recovery and push accounting.
// logger and metrics may each be nil.
func NewGuard(name string, inner Sink, logger *monitoring.Logger, metrics *monitoring.Metrics) *Guard {
	return &Guard{name: name, inner: inner, logger: logger, metrics: metrics}
}

func (g *Guard) Push(record Record) {
	errors.SafeExecute(func() {
		g.inner.Push(record)
		if g.metrics != nil {
			g.metrics.RecordSinkPush(true)
		}
	}, func(r interface{}) {
		if g.metrics != nil {
			g.metrics.RecordSinkPush(false)
		}
		if g.logger != nil {
			g.logger.SystemLogger("sink_panic", g.name)
		}
	})
}
