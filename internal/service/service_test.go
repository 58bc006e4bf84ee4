package service

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/guess-leaderboard/internal/config"
	"github.com/guess-leaderboard/internal/domain"
	"github.com/guess-leaderboard/internal/memory"
	"github.com/guess-leaderboard/internal/metrics"
	"github.com/guess-leaderboard/internal/redis"
	goredis "github.com/redis/go-redis/v9"
)

// alwaysWin draws 0 for every call, which wins at any positive threshold
type alwaysWin struct{}

func (alwaysWin) IntN(int) int { return 0 }

// alwaysLose draws the largest value for every call
type alwaysLose struct{}

func (alwaysLose) IntN(n int) int { return n - 1 }

// recordingNotifier keeps every broadcast for inspection
type recordingNotifier struct {
	mu      sync.Mutex
	players []domain.LeaderboardEntry
	boards  [][]domain.LeaderboardEntry
}

func (n *recordingNotifier) BroadcastPlayerUpdate(entry domain.LeaderboardEntry) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.players = append(n.players, entry)
}

func (n *recordingNotifier) BroadcastLeaderboardUpdate(entries []domain.LeaderboardEntry, _ int64) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.boards = append(n.boards, entries)
}

type testEnv struct {
	cfg         *config.Config
	mr          *miniredis.Miniredis
	store       *memory.Store
	ranks       *redis.RankCache
	profiles    *redis.ProfileCache
	notifier    *recordingNotifier
	metrics     *metrics.Manager
	game        *GameService
	leaderboard *LeaderboardService
	players     *PlayerService
}

func newTestEnv(t *testing.T, rng Rand) *testEnv {
	t.Helper()
	cfg := config.DefaultConfig()
	mr := miniredis.RunT(t)
	client := goredis.NewClient(&goredis.Options{Addr: mr.Addr(), MaxRetries: -1})
	t.Cleanup(func() { client.Close() })
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	env := &testEnv{
		cfg:      cfg,
		mr:       mr,
		store:    memory.NewStore(cfg.Game.InitialTurns, 2*time.Second),
		ranks:    redis.NewRankCache(client, cfg.Leaderboard.Key, logger),
		profiles: redis.NewProfileCache(client, cfg.Leaderboard.ProfileTTL),
		notifier: &recordingNotifier{},
		metrics:  metrics.NewManager(),
	}
	opts := []Option{WithRand(rng), WithNotifier(env.notifier), WithMetrics(env.metrics)}
	env.game = NewGameService(env.store, env.store, env.ranks, env.profiles, &cfg.Game, logger, opts...)
	env.leaderboard = NewLeaderboardService(env.store, env.ranks, &cfg.Leaderboard, logger, opts...)
	env.players = NewPlayerService(env.store, env.store, env.ranks, env.profiles, logger, opts...)
	return env
}

// addPlayer runs the account-creation hook for a new player
func (e *testEnv) addPlayer(t *testing.T, id int64, username string) {
	t.Helper()
	if err := e.game.InitializePlayer(context.Background(), domain.Player{ID: id, Username: username}); err != nil {
		t.Fatalf("InitializePlayer(%d): %v", id, err)
	}
}

// setScore writes a score straight into the authoritative store
func (e *testEnv) setScore(t *testing.T, id, score int64) {
	t.Helper()
	_, _, err := e.store.UpdateExclusive(context.Background(), id, func(s *domain.PlayerStats) error {
		s.Score = score
		return nil
	})
	if err != nil {
		t.Fatalf("setting score of %d: %v", id, err)
	}
}
