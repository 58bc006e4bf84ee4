// Package memory holds an in-process authoritative store for development and
// tests. It keeps the same exclusive-access contract as the PostgreSQL store.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/guess-leaderboard/internal/domain"
)

// Store keeps players and their stats in process memory
type Store struct {
	mu           sync.RWMutex
	players      map[int64]domain.Player
	stats        map[int64]domain.PlayerStats
	locks        *rowLocks
	initialTurns int64
}

// NewStore creates an empty store. initialTurns seeds new stats rows and
// lockTimeout bounds the wait for a player's exclusive lock.
func NewStore(initialTurns int64, lockTimeout time.Duration) *Store {
	return &Store{
		players:      make(map[int64]domain.Player),
		stats:        make(map[int64]domain.PlayerStats),
		locks:        newRowLocks(lockTimeout),
		initialTurns: initialTurns,
	}
}

// UpsertPlayer records or renames a player
func (s *Store) UpsertPlayer(ctx context.Context, player domain.Player) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.players[player.ID]; ok {
		player.CreatedAt = existing.CreatedAt
	} else if player.CreatedAt.IsZero() {
		player.CreatedAt = time.Now()
	}
	s.players[player.ID] = player
	return nil
}

// GetPlayer retrieves a player by id
func (s *Store) GetPlayer(ctx context.Context, playerID int64) (*domain.Player, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	player, ok := s.players[playerID]
	if !ok {
		return nil, domain.ErrPlayerNotFound
	}
	return &player, nil
}

// EnsureStats creates the default stats row if the player has none
func (s *Store) EnsureStats(ctx context.Context, playerID int64) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ensureLocked(playerID), nil
}

// ensureLocked must be called with s.mu held for writing
func (s *Store) ensureLocked(playerID int64) bool {
	if _, ok := s.stats[playerID]; ok {
		return false
	}
	s.stats[playerID] = domain.NewPlayerStats(playerID, s.initialTurns)
	return true
}

// GetStats retrieves a player's stats
func (s *Store) GetStats(ctx context.Context, playerID int64) (*domain.PlayerStats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	stats, ok := s.stats[playerID]
	if !ok {
		return nil, domain.ErrStatsNotFound
	}
	return &stats, nil
}

// UpdateExclusive runs fn on the player's stats while holding the player's
// exclusive lock. A row created for the call is discarded when fn fails.
func (s *Store) UpdateExclusive(ctx context.Context, playerID int64, fn func(*domain.PlayerStats) error) (domain.PlayerStats, bool, error) {
	release, err := s.locks.acquire(ctx, playerID)
	if err != nil {
		return domain.PlayerStats{}, false, err
	}
	defer release()

	s.mu.RLock()
	stats, exists := s.stats[playerID]
	s.mu.RUnlock()
	created := !exists
	if created {
		stats = domain.NewPlayerStats(playerID, s.initialTurns)
	}

	if err := fn(&stats); err != nil {
		return domain.PlayerStats{}, false, err
	}

	stats.Version++
	stats.UpdatedAt = time.Now()
	s.mu.Lock()
	s.stats[playerID] = stats
	s.mu.Unlock()
	return stats, created, nil
}

// AddTurns atomically grants n turns, creating the row if needed
func (s *Store) AddTurns(ctx context.Context, playerID, n int64) (domain.PlayerStats, bool, error) {
	return s.mutate(ctx, playerID, func(stats *domain.PlayerStats) {
		stats.AddTurns(n)
	})
}

// ResetTurns atomically restores the default turns, creating the row if needed
func (s *Store) ResetTurns(ctx context.Context, playerID int64) (domain.PlayerStats, bool, error) {
	return s.mutate(ctx, playerID, func(stats *domain.PlayerStats) {
		stats.ResetTurns(s.initialTurns)
	})
}

// mutate applies an unconditional change under the player's row lock so it
// never interleaves with an exclusive update of the same player.
func (s *Store) mutate(ctx context.Context, playerID int64, fn func(*domain.PlayerStats)) (domain.PlayerStats, bool, error) {
	release, err := s.locks.acquire(ctx, playerID)
	if err != nil {
		return domain.PlayerStats{}, false, err
	}
	defer release()

	s.mu.Lock()
	defer s.mu.Unlock()
	created := s.ensureLocked(playerID)
	stats := s.stats[playerID]
	fn(&stats)
	stats.Version++
	stats.UpdatedAt = time.Now()
	s.stats[playerID] = stats
	return stats, created, nil
}

// AllStats returns every stats row with its username, highest score first
func (s *Store) AllStats(ctx context.Context) ([]domain.RankedPlayer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	players := make([]domain.RankedPlayer, 0, len(s.stats))
	for id, stats := range s.stats {
		username := ""
		if p, ok := s.players[id]; ok {
			username = p.Username
		}
		players = append(players, domain.RankedPlayer{
			PlayerID: id,
			Username: username,
			Score:    stats.Score,
		})
	}
	sort.Slice(players, func(i, j int) bool {
		if players[i].Score != players[j].Score {
			return players[i].Score > players[j].Score
		}
		return players[i].PlayerID < players[j].PlayerID
	})
	return players, nil
}
