package reporting

import (
	"bytes"
	"context"
	"net/http"
	"time"

	"github.com/variantlab/trafficsplit/internal/encoding"
	"github.com/variantlab/trafficsplit/internal/monitoring"
	"github.com/variantlab/trafficsplit/internal/resilience"
)

// HTTPSinkConfig configures delivery to an external collector
type HTTPSinkConfig struct {
	URL            string
	RequestTimeout time.Duration
	QueueSize      int
}

// HTTPSink delivers records to an external analytics collector over
// HTTP. Push enqueues and returns immediately; a background worker owns
// delivery, retries, and the circuit breaker, so a dead collector never
// blocks the request that produced the record.
type HTTPSink struct {
	config  HTTPSinkConfig
	client  *http.Client
	breaker *resilience.CircuitBreaker
	retry   resilience.RetryConfig
	logger  *monitoring.Logger
	metrics *monitoring.Metrics

	queue  chan Record
	done   chan struct{}
	cancel context.CancelFunc
}

// NewHTTPSink creates a collector sink and starts its delivery worker
func NewHTTPSink(config HTTPSinkConfig, logger *monitoring.Logger, metrics *monitoring.Metrics) *HTTPSink {
	if config.RequestTimeout == 0 {
		config.RequestTimeout = 5 * time.Second
	}
	if config.QueueSize == 0 {
		config.QueueSize = 1024
	}

	transport := &http.Transport{
		MaxIdleConns:        20,
		MaxIdleConnsPerHost: 10,
		IdleConnTimeout:     90 * time.Second,
	}

	ctx, cancel := context.WithCancel(context.Background())

	s := &HTTPSink{
		config: config,
		client: &http.Client{
			Transport: transport,
			Timeout:   config.RequestTimeout,
		},
		breaker: resilience.NewCircuitBreaker(resilience.CollectorBreakerConfig()),
		retry:   resilience.CollectorRetryConfig(),
		logger:  logger,
		metrics: metrics,
		queue:   make(chan Record, config.QueueSize),
		done:    make(chan struct{}),
		cancel:  cancel,
	}

	go s.run(ctx)
	return s
}

// Push enqueues a record for delivery. When the queue is full the record
// is dropped; losing an analytics event is cheaper than blocking a page
// view.
func (s *HTTPSink) Push(record Record) {
	select {
	case s.queue <- record:
	default:
		s.metrics.RecordSinkPush(false)
		s.logger.SystemLogger("collector_queue_full", s.config.URL)
	}
}

// Close stops the delivery worker after draining queued records
func (s *HTTPSink) Close() {
	close(s.queue)
	<-s.done
	s.cancel()
}

func (s *HTTPSink) run(ctx context.Context) {
	defer close(s.done)

	for record := range s.queue {
		s.deliver(ctx, record)
	}
}

func (s *HTTPSink) deliver(ctx context.Context, record Record) {
	start := time.Now()

	body, err := encoding.MarshalJSON(record)
	if err != nil {
		s.metrics.RecordSinkPush(false)
		s.logger.SinkLogger("collector", false, time.Since(start), err)
		return
	}

	err = s.breaker.Call(func() error {
		resp, reqErr := resilience.RetryHTTP(ctx, s.retry, func() (*http.Response, error) {
			req, buildErr := http.NewRequestWithContext(ctx, http.MethodPost, s.config.URL, bytes.NewReader(body))
			if buildErr != nil {
				return nil, buildErr
			}
			req.Header.Set("Content-Type", "application/json")
			return s.client.Do(req)
		})
		if reqErr != nil {
			return reqErr
		}
		resp.Body.Close()
		if resp.StatusCode >= 400 {
			return resilience.NewHTTPError(resp.StatusCode, resp.Status)
		}
		return nil
	})

	if err != nil {
		// Delivery failure stays inside the sink
		s.metrics.RecordSinkPush(false)
		s.logger.SinkLogger("collector", false, time.Since(start), err)
		return
	}

	s.metrics.RecordSinkPush(true)
	s.logger.SinkLogger("collector", true, time.Since(start), nil)
}

// BreakerState reports the delivery circuit state for the metrics
// endpoint
func (s *HTTPSink) BreakerState() string {
	return s.breaker.State().String()
}
