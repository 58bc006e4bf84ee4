package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/guess-leaderboard/internal/domain"
	"github.com/guess-leaderboard/internal/metrics"
)

// PlayerService serves player profiles through the profile cache
type PlayerService struct {
	store    StatsStore
	players  PlayerDirectory
	ranks    RankCache
	profiles ProfileCache
	logger   *slog.Logger
	metrics  *metrics.Manager
}

// NewPlayerService creates a new player service
func NewPlayerService(
	store StatsStore,
	players PlayerDirectory,
	ranks RankCache,
	profiles ProfileCache,
	logger *slog.Logger,
	opts ...Option,
) *PlayerService {
	o := applyOptions(opts)
	return &PlayerService{
		store:    store,
		players:  players,
		ranks:    ranks,
		profiles: profiles,
		logger:   logger,
		metrics:  o.metrics,
	}
}

// GetPlayerProfile returns the player's score, turns and rank. A player
// without stats gets a zero profile with no rank.
func (s *PlayerService) GetPlayerProfile(ctx context.Context, playerID int64) (*domain.PlayerProfile, error) {
	cached, err := s.profiles.Get(ctx, playerID)
	if err != nil {
		cacheFailure(s.logger, s.metrics, "profile_get", playerID, err)
	}
	if cached != nil {
		return cached, nil
	}

	player, err := s.players.GetPlayer(ctx, playerID)
	if err != nil {
		return nil, err
	}

	profile := &domain.PlayerProfile{
		ID:       player.ID,
		Username: player.Username,
	}

	stats, err := s.store.GetStats(ctx, playerID)
	switch {
	case errors.Is(err, domain.ErrStatsNotFound):
		return profile, nil
	case err != nil:
		return nil, fmt.Errorf("getting stats: %w", err)
	}
	profile.Score = stats.Score
	profile.RemainingTurns = stats.RemainingTurns

	rank, found, err := s.ranks.RankOf(ctx, playerID)
	if err != nil {
		cacheFailure(s.logger, s.metrics, "rank_lookup", playerID, err)
	} else if found {
		profile.Rank = &rank
	}

	if err := s.profiles.Set(ctx, profile); err != nil {
		cacheFailure(s.logger, s.metrics, "profile_set", playerID, err)
	}
	return profile, nil
}

// RefreshProfileCache evicts the player's cached profile
func (s *PlayerService) RefreshProfileCache(ctx context.Context, playerID int64) error {
	if err := s.profiles.Evict(ctx, playerID); err != nil {
		return fmt.Errorf("evicting profile: %w", err)
	}
	return nil
}
