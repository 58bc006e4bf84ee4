package service

import (
	"context"
	"log/slog"
	"time"

	"github.com/guess-leaderboard/internal/domain"
	"github.com/guess-leaderboard/internal/metrics"
)

// StatsStore is the authoritative store of player stats
type StatsStore interface {
	// UpdateExclusive runs fn on the player's stats while holding the
	// player's exclusive lock, creating the row with defaults if it is
	// absent. When fn returns an error nothing is persisted.
	UpdateExclusive(ctx context.Context, playerID int64, fn func(*domain.PlayerStats) error) (domain.PlayerStats, bool, error)
	AddTurns(ctx context.Context, playerID, n int64) (domain.PlayerStats, bool, error)
	ResetTurns(ctx context.Context, playerID int64) (domain.PlayerStats, bool, error)
	EnsureStats(ctx context.Context, playerID int64) (bool, error)
	GetStats(ctx context.Context, playerID int64) (*domain.PlayerStats, error)
	AllStats(ctx context.Context) ([]domain.RankedPlayer, error)
}

// PlayerDirectory resolves player identities and display names
type PlayerDirectory interface {
	GetPlayer(ctx context.Context, playerID int64) (*domain.Player, error)
	UpsertPlayer(ctx context.Context, player domain.Player) error
}

// RankCache is the sorted mirror of every player's score
type RankCache interface {
	Upsert(ctx context.Context, playerID int64, username string, score int64) error
	BatchUpsert(ctx context.Context, players []domain.RankedPlayer) error
	TopN(ctx context.Context, n int) ([]domain.LeaderboardEntry, error)
	RankOf(ctx context.Context, playerID int64) (int64, bool, error)
	Size(ctx context.Context) (int64, error)
	IsInitialized(ctx context.Context) (bool, error)
	Touch(ctx context.Context, ttl time.Duration) error
	Clear(ctx context.Context) error
}

// ProfileCache holds short-lived player profile snapshots
type ProfileCache interface {
	Get(ctx context.Context, playerID int64) (*domain.PlayerProfile, error)
	Set(ctx context.Context, profile *domain.PlayerProfile) error
	Evict(ctx context.Context, playerID int64) error
}

// Notifier pushes leaderboard changes to live viewers
type Notifier interface {
	BroadcastPlayerUpdate(entry domain.LeaderboardEntry)
	BroadcastLeaderboardUpdate(entries []domain.LeaderboardEntry, totalPlayers int64)
}

type noopNotifier struct{}

func (noopNotifier) BroadcastPlayerUpdate(domain.LeaderboardEntry) {}
func (noopNotifier) BroadcastLeaderboardUpdate([]domain.LeaderboardEntry, int64) {}

// Option configures optional collaborators of the services
type Option func(*options)

type options struct {
	rng      Rand
	notifier Notifier
	metrics  *metrics.Manager
}

// WithRand replaces the random source used to draw guess outcomes
func WithRand(rng Rand) Option {
	return func(o *options) {
		if rng != nil {
			o.rng = rng
		}
	}
}

// WithNotifier sets where score changes are broadcast
func WithNotifier(n Notifier) Option {
	return func(o *options) {
		if n != nil {
			o.notifier = n
		}
	}
}

// WithMetrics sets the metrics manager
func WithMetrics(m *metrics.Manager) Option {
	return func(o *options) {
		o.metrics = m
	}
}

func applyOptions(opts []Option) options {
	o := options{
		rng:      defaultRand{},
		notifier: noopNotifier{},
	}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// cacheFailure logs and counts a cache error that is absorbed
func cacheFailure(logger *slog.Logger, m *metrics.Manager, op string, playerID int64, err error) {
	m.IncCacheFailure(op)
	logger.Warn("cache operation failed",
		"op", op,
		"player_id", playerID,
		"error", err,
	)
}
