package store

import (
	"context"
	"time"

	"github.com/variantlab/trafficsplit/internal/monitoring"
	"github.com/variantlab/trafficsplit/internal/reporting"
)

// EventSink appends reporting records to the local event store. It is
// one arm of the sink fan-out, so the collector contract holds here
// too: a failed insert is logged, never surfaced.
type EventSink struct {
	repo    *Repository
	logger  *monitoring.Logger
	metrics *monitoring.Metrics

	// request metadata attached by the HTTP layer for the current push
	ip        string
	userAgent string
}

// NewEventSink creates a store-backed sink
func NewEventSink(repo *Repository, logger *monitoring.Logger, metrics *monitoring.Metrics) *EventSink {
	return &EventSink{repo: repo, logger: logger, metrics: metrics}
}

// WithRequestMeta returns a shallow copy of the sink carrying the
// requesting client's metadata. The evaluator pushes through the copy,
// so concurrent requests do not share mutable fields.
func (s *EventSink) WithRequestMeta(ip, userAgent string) *EventSink {
	clone := *s
	clone.ip = ip
	clone.userAgent = userAgent
	return &clone
}

func (s *EventSink) Push(record reporting.Record) {
	start := time.Now()

	event := NewEvent(
		record[reporting.KeyExperiment],
		record[reporting.KeyVariant],
		record[reporting.KeySource],
		s.ip,
		s.userAgent,
	)

	if err := s.repo.SaveEvent(event); err != nil {
		if s.logger != nil {
			s.logger.SinkLogger("store", false, time.Since(start), err)
		}
		return
	}

	if s.metrics != nil {
		s.metrics.IncrementEventsStored()
	}
	if s.logger != nil {
		s.logger.SinkLogger("store", true, time.Since(start), nil)
	}
}

// RetentionService deletes stored events past the retention window
type RetentionService struct {
	repo          *Repository
	logger        *monitoring.Logger
	retentionDays int
}

// NewRetentionService creates a retention service
func NewRetentionService(repo *Repository, logger *monitoring.Logger, retentionDays int) *RetentionService {
	return &RetentionService{repo: repo, logger: logger, retentionDays: retentionDays}
}

// CleanupOnce runs one retention pass
func (rs *RetentionService) CleanupOnce() (int64, error) {
	deleted, err := rs.repo.DeleteOlderThan(rs.retentionDays)
	if err != nil {
		return 0, err
	}
	if deleted > 0 && rs.logger != nil {
		rs.logger.SystemLogger("retention_cleanup", "expired assignment events removed")
	}
	return deleted, nil
}

// Start runs retention cleanup on the given interval until ctx is
// cancelled
func (rs *RetentionService) Start(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := rs.CleanupOnce(); err != nil && rs.logger != nil {
				rs.logger.SystemLogger("retention_cleanup_failed", err.Error())
			}
		}
	}
}
