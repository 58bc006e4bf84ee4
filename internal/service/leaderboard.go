package service

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/guess-leaderboard/internal/config"
	"github.com/guess-leaderboard/internal/domain"
	"github.com/guess-leaderboard/internal/metrics"
)

// LeaderboardService provides business logic for leaderboard operations
type LeaderboardService struct {
	store    StatsStore
	ranks    RankCache
	config   *config.LeaderboardConfig
	logger   *slog.Logger
	notifier Notifier
	metrics  *metrics.Manager

	// serializes rebuilds so concurrent callers trigger at most one
	initMu sync.Mutex
}

// NewLeaderboardService creates a new leaderboard service
func NewLeaderboardService(
	store StatsStore,
	ranks RankCache,
	cfg *config.LeaderboardConfig,
	logger *slog.Logger,
	opts ...Option,
) *LeaderboardService {
	o := applyOptions(opts)
	return &LeaderboardService{
		store:    store,
		ranks:    ranks,
		config:   cfg,
		logger:   logger,
		notifier: o.notifier,
		metrics:  o.metrics,
	}
}

// InitializeLeaderboard rebuilds the rank cache from the stats store unless
// it is already initialized. It reports whether a rebuild happened.
func (s *LeaderboardService) InitializeLeaderboard(ctx context.Context) (bool, error) {
	s.initMu.Lock()
	defer s.initMu.Unlock()

	ready, err := s.ranks.IsInitialized(ctx)
	if err != nil {
		return false, fmt.Errorf("checking leaderboard: %w", err)
	}
	if ready {
		return false, nil
	}

	start := time.Now()
	// drop whatever survived of the previous build before reloading
	if err := s.ranks.Clear(ctx); err != nil {
		return false, fmt.Errorf("clearing stale leaderboard: %w", err)
	}
	players, err := s.store.AllStats(ctx)
	if err != nil {
		return false, fmt.Errorf("loading stats: %w", err)
	}

	batchSize := s.config.BatchSize
	if batchSize <= 0 {
		batchSize = 1000
	}
	for i := 0; i < len(players); i += batchSize {
		end := min(i+batchSize, len(players))
		if err := s.ranks.BatchUpsert(ctx, players[i:end]); err != nil {
			return false, fmt.Errorf("loading leaderboard batch: %w", err)
		}
	}

	if err := s.ranks.Touch(ctx, s.config.TTL); err != nil {
		return false, fmt.Errorf("marking leaderboard ready: %w", err)
	}

	duration := time.Since(start)
	s.metrics.ObserveRebuild(duration)
	s.logger.Info("leaderboard initialized",
		"players", len(players),
		"duration", duration,
	)
	return true, nil
}

// ResetLeaderboard drops the rank cache and rebuilds it from the stats store
func (s *LeaderboardService) ResetLeaderboard(ctx context.Context) error {
	if err := s.ranks.Clear(ctx); err != nil {
		return fmt.Errorf("clearing leaderboard: %w", err)
	}
	if _, err := s.InitializeLeaderboard(ctx); err != nil {
		return err
	}

	entries, err := s.ranks.TopN(ctx, s.config.DefaultLimit)
	if err != nil {
		s.logger.Warn("failed to read leaderboard after reset", "error", err)
		return nil
	}
	total, err := s.ranks.Size(ctx)
	if err != nil {
		s.logger.Warn("failed to count leaderboard after reset", "error", err)
		return nil
	}
	s.notifier.BroadcastLeaderboardUpdate(entries, total)
	return nil
}

// GetLeaderboard returns the top players, rebuilding the cache first if it
// has expired or was never built
func (s *LeaderboardService) GetLeaderboard(ctx context.Context, limit int) ([]domain.LeaderboardEntry, error) {
	// Validate limit
	if limit <= 0 {
		limit = s.config.DefaultLimit
	}
	if limit > s.config.MaxLimit {
		limit = s.config.MaxLimit
	}

	if _, err := s.InitializeLeaderboard(ctx); err != nil {
		return nil, err
	}

	entries, err := s.ranks.TopN(ctx, limit)
	if err != nil {
		return nil, fmt.Errorf("getting top players: %w", err)
	}
	return entries, nil
}

// GetPlayerRank returns a player's dense rank
func (s *LeaderboardService) GetPlayerRank(ctx context.Context, playerID int64) (int64, bool, error) {
	rank, found, err := s.ranks.RankOf(ctx, playerID)
	if err != nil {
		return 0, false, fmt.Errorf("getting player rank: %w", err)
	}
	return rank, found, nil
}

// Stats returns the number of ranked players and the top score
func (s *LeaderboardService) Stats(ctx context.Context) (*domain.LeaderboardStats, error) {
	total, err := s.ranks.Size(ctx)
	if err != nil {
		return nil, fmt.Errorf("counting players: %w", err)
	}

	stats := &domain.LeaderboardStats{TotalPlayers: total}
	top, err := s.ranks.TopN(ctx, 1)
	if err != nil {
		return nil, fmt.Errorf("getting top score: %w", err)
	}
	if len(top) > 0 {
		stats.TopScore = top[0].Score
	}
	return stats, nil
}
