package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/studio-portal-api/internal/models"
	appErrors "github.com/noah-isme/studio-portal-api/pkg/errors"
)

const backlogPrefix = "backlog:"

// CacheRepository abstracts persistence for cached payloads.
type CacheRepository interface {
	Get(ctx context.Context, key string, dest interface{}) error
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error
	DeleteByPattern(ctx context.Context, pattern string) error
}

// CacheService keeps resolved backlogs in Redis. A disabled service always misses.
type CacheService struct {
	repo    CacheRepository
	metrics *MetricsService
	ttl     time.Duration
	logger  *zap.Logger
	enabled bool
}

// NewCacheService constructs a cache service.
func NewCacheService(repo CacheRepository, metrics *MetricsService, ttl time.Duration, logger *zap.Logger, enabled bool) *CacheService {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CacheService{repo: repo, metrics: metrics, ttl: ttl, logger: logger, enabled: enabled}
}

// Enabled indicates whether caching is active.
func (s *CacheService) Enabled() bool {
	return s != nil && s.enabled && s.repo != nil
}

// BacklogKey scopes a cached backlog to the day it was computed on, so the
// entry expires naturally when today advances.
func BacklogKey(today, from, to time.Time) string {
	return fmt.Sprintf("%s%s:%s:%s", backlogPrefix, models.FormatDate(today), models.FormatDate(from), models.FormatDate(to))
}

// GetBacklog returns true on a cache hit. Lookup failures count as misses.
func (s *CacheService) GetBacklog(ctx context.Context, key string) ([]models.Occurrence, bool) {
	if !s.Enabled() {
		return nil, false
	}
	var out []models.Occurrence
	start := time.Now()
	err := s.repo.Get(ctx, key, &out)
	s.metrics.RecordCacheOperation(err == nil, time.Since(start))
	if err != nil {
		if !errors.Is(err, appErrors.ErrCacheMiss) {
			s.logger.Warn("cache get failed", zap.String("key", key), zap.Error(err))
		}
		return nil, false
	}
	return out, true
}

// SetBacklog stores a resolved backlog.
func (s *CacheService) SetBacklog(ctx context.Context, key string, backlog []models.Occurrence) {
	if !s.Enabled() {
		return
	}
	start := time.Now()
	err := s.repo.Set(ctx, key, backlog, s.ttl)
	s.metrics.ObserveCacheWrite(time.Since(start))
	if err != nil {
		s.logger.Warn("cache set failed", zap.String("key", key), zap.Error(err))
	}
}

// InvalidateBacklog drops every cached backlog.
func (s *CacheService) InvalidateBacklog(ctx context.Context) {
	if !s.Enabled() {
		return
	}
	if err := s.repo.DeleteByPattern(ctx, backlogPrefix+"*"); err != nil {
		s.logger.Warn("cache invalidate failed", zap.String("pattern", backlogPrefix+"*"), zap.Error(err))
	}
}
