package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/guess-leaderboard/internal/config"
	"github.com/guess-leaderboard/internal/domain"
	"github.com/guess-leaderboard/internal/metrics"
)

const (
	winMessage  = "Congratulations! You guessed correctly!"
	lossMessage = "Sorry, wrong guess. The number was %d"
)

// GameService processes guesses and turn changes against the authoritative
// store and mirrors score changes into the caches after commit.
type GameService struct {
	store    StatsStore
	players  PlayerDirectory
	ranks    RankCache
	profiles ProfileCache
	config   *config.GameConfig
	logger   *slog.Logger
	rng      Rand
	notifier Notifier
	metrics  *metrics.Manager
}

// NewGameService creates a new game service
func NewGameService(
	store StatsStore,
	players PlayerDirectory,
	ranks RankCache,
	profiles ProfileCache,
	cfg *config.GameConfig,
	logger *slog.Logger,
	opts ...Option,
) *GameService {
	o := applyOptions(opts)
	return &GameService{
		store:    store,
		players:  players,
		ranks:    ranks,
		profiles: profiles,
		config:   cfg,
		logger:   logger,
		rng:      o.rng,
		notifier: o.notifier,
		metrics:  o.metrics,
	}
}

// ProcessGuess consumes one turn and awards a point on a win
func (s *GameService) ProcessGuess(ctx context.Context, playerID int64, guess int) (*domain.GuessResult, error) {
	if err := domain.ValidateGuess(guess); err != nil {
		s.metrics.IncGuessRejection("invalid_guess")
		return nil, err
	}

	player, err := s.players.GetPlayer(ctx, playerID)
	if err != nil {
		return nil, err
	}

	var (
		won       bool
		generated int
	)
	stats, created, err := s.store.UpdateExclusive(ctx, playerID, func(st *domain.PlayerStats) error {
		if !st.HasTurnsRemaining() {
			return domain.ErrNoTurnsLeft
		}
		won, generated = drawOutcome(s.rng, s.config.WinThreshold, guess)
		st.ConsumeTurn()
		if won {
			st.AwardPoint()
		}
		return nil
	})
	if err != nil {
		switch {
		case errors.Is(err, domain.ErrNoTurnsLeft):
			s.metrics.IncGuessRejection("no_turns")
		case errors.Is(err, domain.ErrConcurrentRequest):
			s.metrics.IncGuessRejection("concurrent")
		default:
			return nil, fmt.Errorf("processing guess: %w", err)
		}
		return nil, err
	}
	s.metrics.IncGuess(won)

	s.logger.Debug("guess processed",
		"player_id", playerID,
		"guess", guess,
		"won", won,
		"remaining_turns", stats.RemainingTurns,
	)

	s.afterCommit(ctx, player, stats, created, won)

	message := fmt.Sprintf(lossMessage, generated)
	if won {
		message = winMessage
	}
	return &domain.GuessResult{
		Correct:         won,
		GeneratedNumber: generated,
		GuessedNumber:   guess,
		RemainingTurns:  stats.RemainingTurns,
		Score:           stats.Score,
		Message:         message,
	}, nil
}

// BuyAdditionalTurns grants the purchase amount of turns. Payment is
// authorized by the caller before this is invoked.
func (s *GameService) BuyAdditionalTurns(ctx context.Context, playerID int64) (*domain.PlayerStats, error) {
	player, err := s.players.GetPlayer(ctx, playerID)
	if err != nil {
		return nil, err
	}

	stats, created, err := s.store.AddTurns(ctx, playerID, s.config.PurchaseTurns)
	if err != nil {
		return nil, fmt.Errorf("adding turns: %w", err)
	}
	s.metrics.IncTurnGrant()

	s.afterCommit(ctx, player, stats, created, false)
	return &stats, nil
}

// ResetPlayerTurns restores the player's turns to the initial amount
func (s *GameService) ResetPlayerTurns(ctx context.Context, playerID int64) (*domain.PlayerStats, error) {
	player, err := s.players.GetPlayer(ctx, playerID)
	if err != nil {
		return nil, err
	}

	stats, created, err := s.store.ResetTurns(ctx, playerID)
	if err != nil {
		return nil, fmt.Errorf("resetting turns: %w", err)
	}

	s.afterCommit(ctx, player, stats, created, false)
	return &stats, nil
}

// InitializePlayer is the account-creation hook. It records the player,
// creates the initial stats row and seeds the player's rank. Calling it again
// for the same player is a no-op apart from picking up a new display name.
func (s *GameService) InitializePlayer(ctx context.Context, player domain.Player) error {
	if player.ID <= 0 || player.Username == "" {
		return domain.ErrInvalidRequest
	}

	if err := s.players.UpsertPlayer(ctx, player); err != nil {
		return fmt.Errorf("recording player: %w", err)
	}

	created, err := s.store.EnsureStats(ctx, player.ID)
	if err != nil {
		return fmt.Errorf("creating stats: %w", err)
	}

	stats, err := s.store.GetStats(ctx, player.ID)
	if err != nil {
		return fmt.Errorf("getting stats: %w", err)
	}

	if err := s.ranks.Upsert(ctx, player.ID, player.Username, stats.Score); err != nil {
		cacheFailure(s.logger, s.metrics, "rank_seed", player.ID, err)
	}
	if err := s.profiles.Evict(ctx, player.ID); err != nil {
		cacheFailure(s.logger, s.metrics, "profile_evict", player.ID, err)
	}

	s.logger.Info("player initialized",
		"player_id", player.ID,
		"username", player.Username,
		"created", created,
	)
	return nil
}

// afterCommit mirrors a committed change into the caches. Failures are
// logged and dropped; a leaderboard reset is the recovery path.
func (s *GameService) afterCommit(ctx context.Context, player *domain.Player, stats domain.PlayerStats, created, scoreChanged bool) {
	if scoreChanged || created {
		if err := s.ranks.Upsert(ctx, player.ID, player.Username, stats.Score); err != nil {
			cacheFailure(s.logger, s.metrics, "rank_upsert", player.ID, err)
		}
	}

	if err := s.profiles.Evict(ctx, player.ID); err != nil {
		cacheFailure(s.logger, s.metrics, "profile_evict", player.ID, err)
	}

	if scoreChanged {
		entry := domain.LeaderboardEntry{
			PlayerID: player.ID,
			Username: player.Username,
			Score:    stats.Score,
		}
		rank, found, err := s.ranks.RankOf(ctx, player.ID)
		if err != nil {
			cacheFailure(s.logger, s.metrics, "rank_lookup", player.ID, err)
		} else if found {
			entry.Rank = rank
		}
		s.notifier.BroadcastPlayerUpdate(entry)
	}
}
