package main

import (
	"context"
	"net/http"
	"net/http/pprof"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"

	"github.com/variantlab/trafficsplit/internal/auth"
	"github.com/variantlab/trafficsplit/internal/cache"
	"github.com/variantlab/trafficsplit/internal/config"
	"github.com/variantlab/trafficsplit/internal/errors"
	"github.com/variantlab/trafficsplit/internal/experiment"
	"github.com/variantlab/trafficsplit/internal/middleware"
	"github.com/variantlab/trafficsplit/internal/monitoring"
	"github.com/variantlab/trafficsplit/internal/ratelimit"
	"github.com/variantlab/trafficsplit/internal/reporting"
	"github.com/variantlab/trafficsplit/internal/security"
	"github.com/variantlab/trafficsplit/internal/stats"
	"github.com/variantlab/trafficsplit/internal/store"
	"github.com/variantlab/trafficsplit/internal/types"
)

// Server wires the evaluation engine, the event store, and the shared
// sinks behind the HTTP API.
type Server struct {
	cfg     *config.Config
	logger  *monitoring.Logger
	metrics *monitoring.Metrics

	db        *store.DB
	repo      *store.Repository
	eventSink *store.EventSink

	registryMu sync.RWMutex
	registry   *experiment.Registry

	// Request-independent sinks, shared across evaluations. The store
	// sink carries request metadata so it is attached per request.
	httpSink    *reporting.HTTPSink
	sharedSinks []reporting.Sink

	statsService *stats.Service
	appCache     *cache.Cache
	limiter      *ratelimit.RateLimiter
	redisClient  *ratelimit.RedisClient
	secure       *security.SecurityMiddleware
	tokens       *auth.TokenService
	alerts       *monitoring.AlertManager
}

func newServer(cfg *config.Config, registry *experiment.Registry, db *store.DB) *Server {
	logger := monitoring.NewLogger()
	metrics := monitoring.NewMetrics()
	repo := store.NewRepository(db)

	s := &Server{
		cfg:       cfg,
		logger:    logger,
		metrics:   metrics,
		db:        db,
		repo:      repo,
		registry:  registry,
		eventSink: store.NewEventSink(repo, logger, metrics),
		appCache:  cache.NewCache(cfg.CacheTTL),
		secure:    security.NewSecurityMiddleware(security.DefaultSecurityConfig()),
		alerts:    monitoring.NewAlertManager(metrics, logger, 30*time.Second),
	}

	s.appCache.SetLogger(logger)
	s.secure.SetLogger(logger)

	s.statsService = stats.NewServiceWithTTL(repo, logger, cfg.StatsCacheTTL)

	if cfg.CollectorEnabled() {
		s.httpSink = reporting.NewHTTPSink(reporting.HTTPSinkConfig{
			URL:            cfg.CollectorURL,
			RequestTimeout: cfg.CollectorTimeout,
		}, logger, metrics)
		s.sharedSinks = append(s.sharedSinks, reporting.NewGuard("collector", s.httpSink, logger, metrics))
	}
	s.sharedSinks = append(s.sharedSinks, reporting.NewLogSink(logger))

	redisClient, err := ratelimit.NewRedisClient(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
	if err != nil {
		logger.SystemLogger("redis_unavailable", err.Error())
	}
	s.redisClient = redisClient
	s.limiter = ratelimit.NewRateLimiter(redisClient, ratelimit.DefaultConfig(), metrics)

	if cfg.AdminEnabled() {
		s.tokens = auth.NewTokenService(cfg.AdminJWTSecret, 24*time.Hour)
	}

	for _, rule := range monitoring.DefaultRules() {
		s.alerts.AddRule(rule)
	}
	s.alerts.AddNotifier(monitoring.NewLogNotifier(logger))

	return s
}

func (s *Server) currentRegistry() *experiment.Registry {
	s.registryMu.RLock()
	defer s.registryMu.RUnlock()
	return s.registry
}

func (s *Server) swapRegistry(registry *experiment.Registry) {
	s.registryMu.Lock()
	s.registry = registry
	s.registryMu.Unlock()
}

// requestSink builds the full sink chain for one evaluation, binding
// the caller's address and user agent into the stored event.
func (s *Server) requestSink(ip, userAgent string) reporting.Sink {
	sinks := make([]reporting.Sink, 0, len(s.sharedSinks)+1)
	sinks = append(sinks, reporting.NewGuard("store", s.eventSink.WithRequestMeta(ip, userAgent), s.logger, s.metrics))
	sinks = append(sinks, s.sharedSinks...)
	return reporting.NewMulti(sinks...)
}

func (s *Server) setupRouter() *gin.Engine {
	r := gin.New()

	r.Use(monitoring.MonitoringMiddleware(s.metrics, s.logger))
	r.Use(errors.ErrorHandler())
	r.Use(errors.RecoveryHandler())

	r.Use(s.secure.SecurityHeaders)
	r.Use(s.secure.RequestTimeout)
	r.Use(s.secure.ValidateContentType)

	r.Use(middleware.NewCompressionMiddleware(middleware.DefaultCompressionConfig()).Handler())

	corsConfig := cors.DefaultConfig()
	if len(s.cfg.CORSOrigins) == 1 && s.cfg.CORSOrigins[0] == "*" {
		corsConfig.AllowAllOrigins = true
	} else {
		corsConfig.AllowOrigins = s.cfg.CORSOrigins
	}
	corsConfig.AllowHeaders = append(corsConfig.AllowHeaders, "Authorization")
	r.Use(cors.New(corsConfig))

	// Evaluations are never cached; every page view gets its own draw.
	r.Use(s.appCache.Middleware(s.metrics, "/experiments"))

	r.POST("/evaluate", s.limiter.EvaluateMiddleware(), s.handleEvaluate)
	r.POST("/events", s.limiter.EventsMiddleware(), s.handleEventIngest)

	r.GET("/experiments", s.handleListExperiments)
	r.GET("/experiments/:id", s.handleGetExperiment)
	r.GET("/experiments/:id/stats", s.handleExperimentStats)
	r.GET("/experiments/:id/events", s.handleRecentEvents)

	r.GET("/health", s.handleHealth)
	r.GET("/metrics", func(c *gin.Context) {
		c.JSON(http.StatusOK, s.metrics.GetStats())
	})
	r.GET("/cache/stats", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"response_cache": s.appCache.Stats(),
			"stats_cache":    s.statsService.GetCacheStats(),
		})
	})
	r.GET("/ratelimit/stats", func(c *gin.Context) {
		c.JSON(http.StatusOK, s.limiter.GetStats())
	})
	r.GET("/alerts", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"alerts":    s.alerts.ActiveAlerts(),
			"timestamp": time.Now().Format(time.RFC3339),
		})
	})

	if s.tokens != nil {
		admin := r.Group("/admin", s.tokens.Middleware())
		admin.POST("/experiments/reload", s.handleReloadExperiments)
	}

	r.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))

	if s.cfg.EnableProfiling {
		r.GET("/debug/pprof/*filepath", gin.WrapF(pprof.Index))
		r.GET("/debug/pprof/cmdline", gin.WrapF(pprof.Cmdline))
		r.GET("/debug/pprof/profile", gin.WrapF(pprof.Profile))
		r.GET("/debug/pprof/symbol", gin.WrapF(pprof.Symbol))
		r.GET("/debug/pprof/trace", gin.WrapF(pprof.Trace))
	}

	return r
}

func (s *Server) handleEvaluate(c *gin.Context) {
	var req types.EvaluateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		appErr := errors.NewValidationError("invalid request body", err.Error())
		errors.LogError(c, appErr)
		c.JSON(appErr.HTTPStatus, appErr)
		return
	}

	if err := s.secure.ValidateExperimentID(req.ExperimentID); err != nil {
		appErr := errors.ToAppError(err)
		errors.LogError(c, appErr)
		c.JSON(appErr.HTTPStatus, appErr)
		return
	}
	if err := s.secure.ValidatePageURL(req.URL); err != nil {
		appErr := errors.ToAppError(err)
		errors.LogError(c, appErr)
		c.JSON(appErr.HTTPStatus, appErr)
		return
	}

	exp, err := s.currentRegistry().Get(req.ExperimentID)
	if err != nil {
		appErr := errors.ToAppError(err)
		errors.LogError(c, appErr)
		c.JSON(appErr.HTTPStatus, appErr)
		return
	}

	loc, err := url.Parse(req.URL)
	if err != nil {
		appErr := errors.NewValidationError("page URL is not parseable")
		errors.LogError(c, appErr)
		c.JSON(appErr.HTTPStatus, appErr)
		return
	}

	sink := s.requestSink(c.ClientIP(), c.GetHeader("User-Agent"))
	evaluator := experiment.NewEvaluator(sink, nil, s.logger, s.metrics)

	automated := req.Automated || experiment.IsAutomated(loc.RawQuery)
	outcome, err := evaluator.Evaluate(exp, loc, automated)
	if err != nil {
		appErr := errors.ToAppError(err)
		errors.LogError(c, appErr)
		c.JSON(appErr.HTTPStatus, appErr)
		return
	}

	resp := types.EvaluateResponse{
		ExperimentID: exp.ID,
		Skipped:      outcome.Skipped,
	}
	if !outcome.Skipped {
		resp.Variant = outcome.Assignment.VariantName
		resp.Source = string(outcome.Assignment.Source)
	}
	c.JSON(http.StatusOK, resp)
}

func (s *Server) handleEventIngest(c *gin.Context) {
	var req types.EventRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		appErr := errors.NewValidationError("invalid request body", err.Error())
		errors.LogError(c, appErr)
		c.JSON(appErr.HTTPStatus, appErr)
		return
	}

	if err := s.secure.ValidateExperimentID(req.ExperimentID); err != nil {
		appErr := errors.ToAppError(err)
		errors.LogError(c, appErr)
		c.JSON(appErr.HTTPStatus, appErr)
		return
	}
	if req.Source != string(experiment.SourceForced) && req.Source != string(experiment.SourceRandom) {
		appErr := errors.NewValidationError("source must be forced or random")
		errors.LogError(c, appErr)
		c.JSON(appErr.HTTPStatus, appErr)
		return
	}

	event := store.NewEvent(req.ExperimentID, req.Variant, req.Source, c.ClientIP(), c.GetHeader("User-Agent"))
	if err := s.repo.SaveEvent(event); err != nil {
		appErr := errors.ToAppError(err)
		errors.LogError(c, appErr)
		c.JSON(appErr.HTTPStatus, appErr)
		return
	}
	s.metrics.IncrementEventsStored()
	s.statsService.Invalidate(req.ExperimentID)

	c.JSON(http.StatusCreated, types.EventResponse{ID: event.ID, CreatedAt: event.CreatedAt})
}

func (s *Server) handleListExperiments(c *gin.Context) {
	experiments := s.currentRegistry().List()
	resp := make([]types.ExperimentResponse, len(experiments))
	for i, exp := range experiments {
		resp[i] = toExperimentResponse(exp)
	}
	c.JSON(http.StatusOK, gin.H{"experiments": resp})
}

func (s *Server) handleGetExperiment(c *gin.Context) {
	exp, err := s.currentRegistry().Get(c.Param("id"))
	if err != nil {
		appErr := errors.ToAppError(err)
		errors.LogError(c, appErr)
		c.JSON(appErr.HTTPStatus, appErr)
		return
	}
	c.JSON(http.StatusOK, toExperimentResponse(exp))
}

func (s *Server) handleExperimentStats(c *gin.Context) {
	id := c.Param("id")
	if _, err := s.currentRegistry().Get(id); err != nil {
		appErr := errors.ToAppError(err)
		errors.LogError(c, appErr)
		c.JSON(appErr.HTTPStatus, appErr)
		return
	}

	distribution, err := s.statsService.Distribution(id)
	if err != nil {
		appErr := errors.ToAppError(err)
		errors.LogError(c, appErr)
		c.JSON(appErr.HTTPStatus, appErr)
		return
	}
	c.JSON(http.StatusOK, distribution)
}

func (s *Server) handleRecentEvents(c *gin.Context) {
	id := c.Param("id")
	if _, err := s.currentRegistry().Get(id); err != nil {
		appErr := errors.ToAppError(err)
		errors.LogError(c, appErr)
		c.JSON(appErr.HTTPStatus, appErr)
		return
	}

	limit := 50
	if limitStr := c.Query("limit"); limitStr != "" {
		if l, err := strconv.Atoi(limitStr); err == nil && l > 0 && l <= 500 {
			limit = l
		}
	}

	events, err := s.repo.RecentEvents(id, limit)
	if err != nil {
		appErr := errors.ToAppError(err)
		errors.LogError(c, appErr)
		c.JSON(appErr.HTTPStatus, appErr)
		return
	}
	c.JSON(http.StatusOK, gin.H{"experiment_id": id, "events": events})
}

func (s *Server) handleReloadExperiments(c *gin.Context) {
	registry, err := config.LoadRegistry(s.cfg.ExperimentsFile)
	if err != nil {
		appErr := errors.ToAppError(err)
		errors.LogError(c, appErr)
		c.JSON(appErr.HTTPStatus, appErr)
		return
	}

	s.swapRegistry(registry)
	s.appCache.Clear()
	s.logger.SystemLogger("experiments_reloaded", s.cfg.ExperimentsFile)

	c.JSON(http.StatusOK, gin.H{
		"message":     "experiments reloaded",
		"experiments": registry.Len(),
	})
}

func (s *Server) handleHealth(c *gin.Context) {
	health := gin.H{
		"status":      "ok",
		"timestamp":   time.Now().Format(time.RFC3339),
		"version":     "1.0.0",
		"experiments": s.currentRegistry().Len(),
		"metrics":     s.metrics.GetStats(),
		"database":    s.db.GetPoolStats(),
	}
	if s.httpSink != nil {
		health["collector_breaker"] = s.httpSink.BreakerState()
	}
	if s.redisClient != nil && s.redisClient.IsEnabled() {
		health["redis"] = s.redisClient.GetPoolStats()
	}

	if s.metrics.GetErrorRate() > 50 {
		health["status"] = "degraded"
		c.JSON(http.StatusServiceUnavailable, health)
		return
	}
	c.JSON(http.StatusOK, health)
}

// start launches the background workers that outlive single requests.
func (s *Server) start(ctx context.Context) {
	go s.alerts.Start(ctx)

	retention := store.NewRetentionService(s.repo, s.logger, s.cfg.RetentionDays)
	go retention.Start(ctx, 24*time.Hour)

	go func() {
		experiments := s.currentRegistry().List()
		s.statsService.WarmCache(experiments)
		s.statsService.StartAutoRefresh(ctx, experiments, 10*time.Minute)
	}()
}

func (s *Server) close() {
	if s.httpSink != nil {
		s.httpSink.Close()
	}
	if s.redisClient != nil {
		s.redisClient.Close()
	}
	s.db.Close()
}

func toExperimentResponse(exp experiment.Experiment) types.ExperimentResponse {
	variants := make([]types.VariantResponse, len(exp.Variants))
	for i, v := range exp.Variants {
		variants[i] = types.VariantResponse{Selector: v.Selector, Name: v.Name, Weight: v.Weight}
	}
	return types.ExperimentResponse{ID: exp.ID, Variants: variants}
}
