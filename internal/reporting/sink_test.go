package reporting

import (
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/variantlab/trafficsplit/internal/encoding"
	"github.com/variantlab/trafficsplit/internal/monitoring"
)

type recordingSink struct {
	mu      sync.Mutex
	records []Record
}

func (s *recordingSink) Push(record Record) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = append(s.records, record)
}

func (s *recordingSink) all() []Record {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Record, len(s.records))
	copy(out, s.records)
	return out
}

func TestMultiFansOutInOrder(t *testing.T) {
	var order []string
	first := SinkFunc(func(Record) { order = append(order, "first") })
	second := SinkFunc(func(Record) { order = append(order, "second") })

	multi := NewMulti(first, nil, second)
	multi.Push(Record{KeyEvent: EventExperimentView})

	assert.Equal(t, []string{"first", "second"}, order)
}

func TestGuardSwallowsPanic(t *testing.T) {
	logger := monitoring.NewLogger()
	metrics := monitoring.NewMetrics()

	panicking := SinkFunc(func(Record) {
		panic("reporter blew up")
	})

	guard := NewGuard("panicking", panicking, logger, metrics)

	assert.NotPanics(t, func() {
		guard.Push(Record{KeyEvent: EventExperimentView})
	})

	stats := metrics.GetStats()
	assert.Equal(t, int64(1), stats["sink_failures"])
}

func TestGuardCountsSuccess(t *testing.T) {
	logger := monitoring.NewLogger()
	metrics := monitoring.NewMetrics()
	inner := &recordingSink{}

	guard := NewGuard("recording", inner, logger, metrics)
	guard.Push(Record{KeyEvent: EventExperimentView, KeyVariant: "a"})

	require.Len(t, inner.all(), 1)
	assert.Equal(t, "a", inner.all()[0][KeyVariant])

	stats := metrics.GetStats()
	assert.Equal(t, int64(1), stats["sink_pushes"])
	assert.Equal(t, int64(0), stats["sink_failures"])
}

func TestGuardBehindMultiIsolatesFailures(t *testing.T) {
	logger := monitoring.NewLogger()
	metrics := monitoring.NewMetrics()
	healthy := &recordingSink{}

	multi := NewMulti(
		NewGuard("panicking", SinkFunc(func(Record) { panic("boom") }), logger, metrics),
		NewGuard("healthy", healthy, logger, metrics),
	)

	assert.NotPanics(t, func() {
		multi.Push(Record{KeyEvent: EventExperimentView})
	})
	assert.Len(t, healthy.all(), 1)
}

func TestHTTPSinkDeliversRecord(t *testing.T) {
	var received atomic.Int64
	var gotContentType atomic.Value

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(r.Body)
		require.NoError(t, err)

		var record Record
		require.NoError(t, encoding.UnmarshalJSON(body, &record))
		assert.Equal(t, EventExperimentView, record[KeyEvent])

		gotContentType.Store(r.Header.Get("Content-Type"))
		received.Add(1)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer server.Close()

	logger := monitoring.NewLogger()
	metrics := monitoring.NewMetrics()

	sink := NewHTTPSink(HTTPSinkConfig{URL: server.URL}, logger, metrics)
	sink.Push(Record{
		KeyEvent:      EventExperimentView,
		KeyExperiment: "homepage-hero",
		KeyVariant:    "b",
	})
	sink.Close()

	assert.Equal(t, int64(1), received.Load())
	assert.Equal(t, "application/json", gotContentType.Load())

	stats := metrics.GetStats()
	assert.Equal(t, int64(1), stats["sink_pushes"])
	assert.Equal(t, int64(0), stats["sink_failures"])
}

func TestHTTPSinkFailureStaysInternal(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "collector offline", http.StatusNotImplemented)
	}))
	defer server.Close()

	logger := monitoring.NewLogger()
	metrics := monitoring.NewMetrics()

	sink := NewHTTPSink(HTTPSinkConfig{URL: server.URL, RequestTimeout: time.Second}, logger, metrics)
	sink.Push(Record{KeyEvent: EventExperimentView})
	sink.Close()

	stats := metrics.GetStats()
	assert.Equal(t, int64(1), stats["sink_failures"])
}

func TestLogSinkPushes(t *testing.T) {
	logger := monitoring.NewLogger()
	sink := NewLogSink(logger)

	assert.NotPanics(t, func() {
		sink.Push(Record{KeyEvent: EventExperimentView, KeySource: "random"})
	})
}
