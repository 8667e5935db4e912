package monitoring

import (
	"sort"
	"sync"
	"sync/atomic"
	"time"
)

// Metrics holds application metrics
type Metrics struct {
	RequestCount        int64
	ErrorCount          int64
	CacheHits           int64
	CacheMisses         int64
	AverageResponseTime int64 // in nanoseconds
	StartTime           time.Time

	// Assignment metrics
	Evaluations        int64
	ForcedAssignments  int64
	RandomAssignments  int64
	SkippedEvaluations int64

	// Reporting sink metrics
	SinkPushes   int64
	SinkFailures int64
	EventsStored int64

	// Enhanced metrics for percentiles
	ResponseTimes      []time.Duration
	ResponseTimesMutex sync.RWMutex

	// Status code tracking
	RequestCountByStatus map[int]int64
	StatusMutex          sync.RWMutex

	// Per-variant assignment tracking
	AssignmentsByVariant map[string]int64
	VariantMutex         sync.RWMutex

	// Rate limit metrics
	RateLimitIPBlocks       int64
	RateLimitRedisErrors    int64
	RateLimitFallbackCount  int64
	RateLimitEndpointBlocks map[string]int64
	RateLimitMutex          sync.RWMutex
}

// NewMetrics creates a new metrics instance
func NewMetrics() *Metrics {
	return &Metrics{
		StartTime:               time.Now(),
		ResponseTimes:           make([]time.Duration, 0, 1000),
		RequestCountByStatus:    make(map[int]int64),
		AssignmentsByVariant:    make(map[string]int64),
		RateLimitEndpointBlocks: make(map[string]int64),
	}
}

// IncrementRequest increments the request count
func (m *Metrics) IncrementRequest() {
	atomic.AddInt64(&m.RequestCount, 1)
}

// IncrementError increments the error count
func (m *Metrics) IncrementError() {
	atomic.AddInt64(&m.ErrorCount, 1)
}

// IncrementCacheHit increments cache hit count
func (m *Metrics) IncrementCacheHit() {
	atomic.AddInt64(&m.CacheHits, 1)
}

// IncrementCacheMiss increments cache miss count
func (m *Metrics) IncrementCacheMiss() {
	atomic.AddInt64(&m.CacheMisses, 1)
}

// RecordAssignment records a produced assignment by source and variant
func (m *Metrics) RecordAssignment(source, variant string) {
	atomic.AddInt64(&m.Evaluations, 1)

	switch source {
	case "forced":
		atomic.AddInt64(&m.ForcedAssignments, 1)
	case "random":
		atomic.AddInt64(&m.RandomAssignments, 1)
	}

	m.VariantMutex.Lock()
	m.AssignmentsByVariant[variant]++
	m.VariantMutex.Unlock()
}

// IncrementSkipped records an evaluation suppressed for automated traffic
func (m *Metrics) IncrementSkipped() {
	atomic.AddInt64(&m.Evaluations, 1)
	atomic.AddInt64(&m.SkippedEvaluations, 1)
}

// RecordSinkPush records a reporting sink push attempt
func (m *Metrics) RecordSinkPush(success bool) {
	atomic.AddInt64(&m.SinkPushes, 1)
	if !success {
		atomic.AddInt64(&m.SinkFailures, 1)
	}
}

// IncrementEventsStored increments the stored assignment event count
func (m *Metrics) IncrementEventsStored() {
	atomic.AddInt64(&m.EventsStored, 1)
}

// RecordResponseTime records response time for averaging and percentiles
func (m *Metrics) RecordResponseTime(duration time.Duration) {
	current := atomic.LoadInt64(&m.AverageResponseTime)
	newAverage := (current + duration.Nanoseconds()) / 2
	atomic.StoreInt64(&m.AverageResponseTime, newAverage)

	// Keep last 1000 samples for percentiles
	m.ResponseTimesMutex.Lock()
	m.ResponseTimes = append(m.ResponseTimes, duration)
	if len(m.ResponseTimes) > 1000 {
		m.ResponseTimes = m.ResponseTimes[1:]
	}
	m.ResponseTimesMutex.Unlock()
}

// RecordRequestByStatus records request count by HTTP status code
func (m *Metrics) RecordRequestByStatus(statusCode int) {
	m.StatusMutex.Lock()
	defer m.StatusMutex.Unlock()
	m.RequestCountByStatus[statusCode]++
}

// GetPercentileResponseTime calculates percentile response time
func (m *Metrics) GetPercentileResponseTime(percentile float64) time.Duration {
	m.ResponseTimesMutex.RLock()
	defer m.ResponseTimesMutex.RUnlock()

	if len(m.ResponseTimes) == 0 {
		return 0
	}

	times := make([]time.Duration, len(m.ResponseTimes))
	copy(times, m.ResponseTimes)

	sort.Slice(times, func(i, j int) bool {
		return times[i] < times[j]
	})

	index := int(float64(len(times)-1) * percentile / 100.0)
	if index >= len(times) {
		index = len(times) - 1
	}

	return times[index]
}

// GetStatusCodeDistribution returns request count by status code
func (m *Metrics) GetStatusCodeDistribution() map[int]int64 {
	m.StatusMutex.RLock()
	defer m.StatusMutex.RUnlock()

	distribution := make(map[int]int64)
	for code, count := range m.RequestCountByStatus {
		distribution[code] = count
	}
	return distribution
}

// GetAssignmentsByVariant returns assignment counts keyed by variant name
func (m *Metrics) GetAssignmentsByVariant() map[string]int64 {
	m.VariantMutex.RLock()
	defer m.VariantMutex.RUnlock()

	counts := make(map[string]int64, len(m.AssignmentsByVariant))
	for variant, count := range m.AssignmentsByVariant {
		counts[variant] = count
	}
	return counts
}

// SinkFailureRate returns the percentage of failed sink pushes
func (m *Metrics) SinkFailureRate() float64 {
	pushes := atomic.LoadInt64(&m.SinkPushes)
	if pushes == 0 {
		return 0
	}
	failures := atomic.LoadInt64(&m.SinkFailures)
	return float64(failures) / float64(pushes) * 100
}

// GetErrorRate returns the percentage of requests that resulted in an error
func (m *Metrics) GetErrorRate() float64 {
	requests := atomic.LoadInt64(&m.RequestCount)
	if requests == 0 {
		return 0
	}
	errors := atomic.LoadInt64(&m.ErrorCount)
	return float64(errors) / float64(requests) * 100
}

// GetStats returns current metrics statistics
func (m *Metrics) GetStats() map[string]interface{} {
	requests := atomic.LoadInt64(&m.RequestCount)
	errors := atomic.LoadInt64(&m.ErrorCount)
	cacheHits := atomic.LoadInt64(&m.CacheHits)
	cacheMisses := atomic.LoadInt64(&m.CacheMisses)
	avgResponseTime := atomic.LoadInt64(&m.AverageResponseTime)

	errorRate := float64(0)
	if requests > 0 {
		errorRate = float64(errors) / float64(requests) * 100
	}

	cacheHitRate := float64(0)
	totalCacheRequests := cacheHits + cacheMisses
	if totalCacheRequests > 0 {
		cacheHitRate = float64(cacheHits) / float64(totalCacheRequests) * 100
	}

	uptime := time.Since(m.StartTime)

	return map[string]interface{}{
		"uptime_seconds":         uptime.Seconds(),
		"total_requests":         requests,
		"error_count":            errors,
		"error_rate_percent":     errorRate,
		"cache_hits":             cacheHits,
		"cache_misses":           cacheMisses,
		"cache_hit_rate_percent": cacheHitRate,
		"avg_response_time_ms":   float64(avgResponseTime) / 1000000,
		"start_time":             m.StartTime.Format(time.RFC3339),

		// Assignment metrics
		"evaluations":            atomic.LoadInt64(&m.Evaluations),
		"forced_assignments":     atomic.LoadInt64(&m.ForcedAssignments),
		"random_assignments":     atomic.LoadInt64(&m.RandomAssignments),
		"skipped_evaluations":    atomic.LoadInt64(&m.SkippedEvaluations),
		"assignments_by_variant": m.GetAssignmentsByVariant(),

		// Reporting sink metrics
		"sink_pushes":               atomic.LoadInt64(&m.SinkPushes),
		"sink_failures":             atomic.LoadInt64(&m.SinkFailures),
		"sink_failure_rate_percent": m.SinkFailureRate(),
		"events_stored":             atomic.LoadInt64(&m.EventsStored),

		// Enhanced metrics
		"p50_response_time_ms":     float64(m.GetPercentileResponseTime(50)) / 1000000,
		"p95_response_time_ms":     float64(m.GetPercentileResponseTime(95)) / 1000000,
		"p99_response_time_ms":     float64(m.GetPercentileResponseTime(99)) / 1000000,
		"status_code_distribution": m.GetStatusCodeDistribution(),
	}
}

// Compile-time check for the cache middleware's metric hooks
var _ interface {
	IncrementCacheHit()
	IncrementCacheMiss()
} = (*Metrics)(nil)

// Reset resets all metrics (useful for testing)
func (m *Metrics) Reset() {
	atomic.StoreInt64(&m.RequestCount, 0)
	atomic.StoreInt64(&m.ErrorCount, 0)
	atomic.StoreInt64(&m.CacheHits, 0)
	atomic.StoreInt64(&m.CacheMisses, 0)
	atomic.StoreInt64(&m.AverageResponseTime, 0)
	atomic.StoreInt64(&m.Evaluations, 0)
	atomic.StoreInt64(&m.ForcedAssignments, 0)
	atomic.StoreInt64(&m.RandomAssignments, 0)
	atomic.StoreInt64(&m.SkippedEvaluations, 0)
	atomic.StoreInt64(&m.SinkPushes, 0)
	atomic.StoreInt64(&m.SinkFailures, 0)
	atomic.StoreInt64(&m.EventsStored, 0)

	m.ResponseTimesMutex.Lock()
	m.ResponseTimes = m.ResponseTimes[:0]
	m.ResponseTimesMutex.Unlock()

	m.StatusMutex.Lock()
	m.RequestCountByStatus = make(map[int]int64)
	m.StatusMutex.Unlock()

	m.VariantMutex.Lock()
	m.AssignmentsByVariant = make(map[string]int64)
	m.VariantMutex.Unlock()

	m.RateLimitMutex.Lock()
	m.RateLimitEndpointBlocks = make(map[string]int64)
	m.RateLimitMutex.Unlock()

	atomic.StoreInt64(&m.RateLimitIPBlocks, 0)
	atomic.StoreInt64(&m.RateLimitRedisErrors, 0)
	atomic.StoreInt64(&m.RateLimitFallbackCount, 0)

	m.StartTime = time.Now()
}

// IncrementRateLimitIPBlock increments IP-based rate limit blocks
func (m *Metrics) IncrementRateLimitIPBlock() {
	atomic.AddInt64(&m.RateLimitIPBlocks, 1)
}

// IncrementRateLimitRedisError increments Redis error count for rate limiting
func (m *Metrics) IncrementRateLimitRedisError() {
	atomic.AddInt64(&m.RateLimitRedisErrors, 1)
}

// IncrementRateLimitFallback increments fallback rate limiter usage count
func (m *Metrics) IncrementRateLimitFallback() {
	atomic.AddInt64(&m.RateLimitFallbackCount, 1)
}

// IncrementRateLimitEndpoint increments rate limit blocks for a specific endpoint
func (m *Metrics) IncrementRateLimitEndpoint(endpoint string) {
	m.RateLimitMutex.Lock()
	defer m.RateLimitMutex.Unlock()
	m.RateLimitEndpointBlocks[endpoint]++
}

// GetRateLimitStats returns rate limiting statistics
func (m *Metrics) GetRateLimitStats() map[string]interface{} {
	m.RateLimitMutex.RLock()
	endpointBlocksCopy := make(map[string]int64, len(m.RateLimitEndpointBlocks))
	for k, v := range m.RateLimitEndpointBlocks {
		endpointBlocksCopy[k] = v
	}
	m.RateLimitMutex.RUnlock()

	return map[string]interface{}{
		"ip_blocks":       atomic.LoadInt64(&m.RateLimitIPBlocks),
		"redis_errors":    atomic.LoadInt64(&m.RateLimitRedisErrors),
		"fallback_count":  atomic.LoadInt64(&m.RateLimitFallbackCount),
		"endpoint_blocks": endpointBlocksCopy,
	}
}
