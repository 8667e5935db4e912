package stats

import (
	"context"
	"fmt"
	"time"

	"github.com/variantlab/trafficsplit/internal/cache"
	"github.com/variantlab/trafficsplit/internal/encoding"
	"github.com/variantlab/trafficsplit/internal/experiment"
	"github.com/variantlab/trafficsplit/internal/monitoring"
	"github.com/variantlab/trafficsplit/internal/store"
)

// VariantStats is one variant's share of an experiment's recorded
// assignments
type VariantStats struct {
	Variant string  `json:"variant"`
	Forced  int64   `json:"forced"`
	Random  int64   `json:"random"`
	Total   int64   `json:"total"`
	Percent float64 `json:"percent"`
}

// Distribution is the recorded assignment breakdown for one experiment
type Distribution struct {
	ExperimentID string         `json:"experiment_id"`
	Total        int64          `json:"total"`
	Variants     []VariantStats `json:"variants"`
	GeneratedAt  time.Time      `json:"generated_at"`
}

// Service computes per-experiment assignment distributions with a TTL
// cache in front of the event store
type Service struct {
	repo   *store.Repository
	cache  *cache.Cache
	logger *monitoring.Logger
}

// NewService creates a stats service with a 5 minute cache TTL
func NewService(repo *store.Repository, logger *monitoring.Logger) *Service {
	return NewServiceWithTTL(repo, logger, 5*time.Minute)
}

// NewServiceWithTTL creates a stats service with a custom cache TTL
func NewServiceWithTTL(repo *store.Repository, logger *monitoring.Logger, ttl time.Duration) *Service {
	return &Service{
		repo:   repo,
		cache:  cache.NewCache(ttl),
		logger: logger,
	}
}

func cacheKey(experimentID string) string {
	return fmt.Sprintf("distribution:%s", experimentID)
}

// Distribution returns the recorded distribution for one experiment,
// served from cache when fresh
func (s *Service) Distribution(experimentID string) (*Distribution, error) {
	key := cacheKey(experimentID)

	if data, found := s.cache.Get(key); found {
		var dist Distribution
		if err := encoding.UnmarshalJSON(data, &dist); err == nil {
			return &dist, nil
		}
		// Corrupt cache entry, fall through to a fresh computation
		s.cache.Delete(key)
	}

	dist, err := s.compute(experimentID)
	if err != nil {
		return nil, err
	}

	if data, err := encoding.MarshalJSON(dist); err == nil {
		s.cache.Set(key, data)
	}

	return dist, nil
}

func (s *Service) compute(experimentID string) (*Distribution, error) {
	counts, err := s.repo.Distribution(experimentID)
	if err != nil {
		return nil, err
	}

	byVariant := make(map[string]*VariantStats)
	order := []string{}
	var total int64

	for _, vc := range counts {
		vs, ok := byVariant[vc.Variant]
		if !ok {
			vs = &VariantStats{Variant: vc.Variant}
			byVariant[vc.Variant] = vs
			order = append(order, vc.Variant)
		}
		switch vc.Source {
		case string(experiment.SourceForced):
			vs.Forced += vc.Count
		case string(experiment.SourceRandom):
			vs.Random += vc.Count
		}
		vs.Total += vc.Count
		total += vc.Count
	}

	dist := &Distribution{
		ExperimentID: experimentID,
		Total:        total,
		Variants:     make([]VariantStats, 0, len(order)),
		GeneratedAt:  time.Now().UTC(),
	}

	for _, variant := range order {
		vs := byVariant[variant]
		if total > 0 {
			vs.Percent = float64(vs.Total) / float64(total) * 100
		}
		dist.Variants = append(dist.Variants, *vs)
	}

	return dist, nil
}

// Invalidate drops the cached distribution for one experiment
func (s *Service) Invalidate(experimentID string) {
	s.cache.Delete(cacheKey(experimentID))
}

// WarmCache precomputes distributions for the given experiments
func (s *Service) WarmCache(experiments []experiment.Experiment) {
	for _, exp := range experiments {
		if _, err := s.Distribution(exp.ID); err != nil && s.logger != nil {
			s.logger.SystemLogger("stats_warmup_failed", exp.ID)
		}
	}
}

// StartAutoRefresh re-warms the cached distributions on the given
// interval until ctx is cancelled
func (s *Service) StartAutoRefresh(ctx context.Context, experiments []experiment.Experiment, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for _, exp := range experiments {
				s.Invalidate(exp.ID)
			}
			s.WarmCache(experiments)
		}
	}
}

// GetCacheStats returns the distribution cache statistics
func (s *Service) GetCacheStats() map[string]interface{} {
	return s.cache.Stats()
}
