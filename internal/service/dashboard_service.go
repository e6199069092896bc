package service

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/campusiq-api/internal/dto"
	"github.com/noah-isme/campusiq-api/internal/models"
)

const dashboardKeyPrefix = "dash:counts:"

type requestCounter interface {
	Counts(ctx context.Context, userID string, role models.Role) (*models.RequestCounts, error)
}

// DashboardServiceConfig tunes dashboard behaviour.
type DashboardServiceConfig struct {
	CacheTTL time.Duration
}

// DashboardService serves per-user request counts through the cache.
type DashboardService struct {
	counter   requestCounter
	directory actorDirectory
	cache     *CacheService
	logger    *zap.Logger
	now       func() time.Time
	cfg       DashboardServiceConfig
}

// NewDashboardService constructs a DashboardService.
func NewDashboardService(counter requestCounter, directory actorDirectory, cache *CacheService, cfg DashboardServiceConfig, logger *zap.Logger) *DashboardService {
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = 2 * time.Minute
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &DashboardService{
		counter:   counter,
		directory: directory,
		cache:     cache,
		logger:    logger,
		now:       time.Now,
		cfg:       cfg,
	}
}

// Summary returns the caller's counts and whether they came from cache.
func (s *DashboardService) Summary(ctx context.Context, userID string) (*dto.DashboardResponse, bool, error) {
	actor, err := resolveCaller(ctx, s.directory, userID)
	if err != nil {
		return nil, false, err
	}
	key := dashboardKeyPrefix + actor.UserID

	var cached dto.DashboardResponse
	if s.cache.Get(ctx, key, &cached) && cached.Role == actor.Role {
		return &cached, true, nil
	}

	counts, err := s.counter.Counts(ctx, actor.UserID, actor.Role)
	if err != nil {
		return nil, false, internalError(err, "failed to count requests")
	}
	resp := &dto.DashboardResponse{
		UserID:      actor.UserID,
		Role:        actor.Role,
		Counts:      *counts,
		GeneratedAt: s.now().UTC(),
	}
	s.cache.Set(ctx, key, resp, s.cfg.CacheTTL)
	return resp, false, nil
}

// Invalidate drops cached counts for the given users.
func (s *DashboardService) Invalidate(ctx context.Context, userIDs ...string) {
	if s == nil || !s.cache.Enabled() {
		return
	}
	seen := make(map[string]struct{}, len(userIDs))
	keys := make([]string, 0, len(userIDs))
	for _, id := range userIDs {
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		keys = append(keys, dashboardKeyPrefix+id)
	}
	s.cache.Delete(ctx, keys...)
}
