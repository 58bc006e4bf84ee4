package postgres

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/guess-leaderboard/internal/config"
	"github.com/guess-leaderboard/internal/domain"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// SQLSTATE codes reported when a row lock could not be obtained in time or
// a serializable transaction lost a conflict.
const (
	sqlStateLockNotAvailable     = "55P03"
	sqlStateSerializationFailure = "40001"
	sqlStateDeadlockDetected     = "40P01"
)

const statsColumns = `player_id, score, remaining_turns, version, updated_at`

// Repository provides PostgreSQL-based data access
type Repository struct {
	pool         *pgxpool.Pool
	logger       *slog.Logger
	initialTurns int64
	lockTimeout  time.Duration
}

// NewRepository creates a new PostgreSQL repository
func NewRepository(ctx context.Context, cfg *config.PostgresConfig, game *config.GameConfig, logger *slog.Logger) (*Repository, error) {
	poolConfig, err := pgxpool.ParseConfig(cfg.ConnectionString())
	if err != nil {
		return nil, fmt.Errorf("parsing connection string: %w", err)
	}

	poolConfig.MaxConns = int32(cfg.MaxConnections)
	poolConfig.MinConns = int32(cfg.MinConnections)
	poolConfig.MaxConnLifetime = cfg.MaxConnLifetime
	poolConfig.MaxConnIdleTime = cfg.MaxConnIdleTime

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("creating connection pool: %w", err)
	}

	// Test connection
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("connecting to database: %w", err)
	}

	return &Repository{
		pool:         pool,
		logger:       logger,
		initialTurns: game.InitialTurns,
		lockTimeout:  game.LockTimeout,
	}, nil
}

// Close closes the database connection pool
func (r *Repository) Close() {
	r.pool.Close()
}

// Pool returns the underlying connection pool
func (r *Repository) Pool() *pgxpool.Pool {
	return r.pool
}

// RunMigrations executes database migrations
func (r *Repository) RunMigrations(ctx context.Context) error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS players (
			id BIGINT PRIMARY KEY,
			username VARCHAR(255) NOT NULL,
			created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
			updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE TABLE IF NOT EXISTS game_stats (
			player_id BIGINT PRIMARY KEY REFERENCES players(id) ON DELETE CASCADE,
			score BIGINT NOT NULL DEFAULT 0 CHECK (score >= 0),
			remaining_turns BIGINT NOT NULL DEFAULT 5 CHECK (remaining_turns >= 0),
			version BIGINT NOT NULL DEFAULT 0,
			created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
			updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE INDEX IF NOT EXISTS idx_game_stats_score ON game_stats(score DESC)`,
	}

	for _, migration := range migrations {
		_, err := r.pool.Exec(ctx, migration)
		if err != nil {
			return fmt.Errorf("executing migration: %w", err)
		}
	}

	r.logger.Info("database migrations completed")
	return nil
}

// UpsertPlayer records a player account or updates its display name
func (r *Repository) UpsertPlayer(ctx context.Context, player domain.Player) error {
	query := `
		INSERT INTO players (id, username, created_at, updated_at)
		VALUES ($1, $2, $3, $3)
		ON CONFLICT (id)
		DO UPDATE SET username = EXCLUDED.username, updated_at = EXCLUDED.updated_at
	`
	_, err := r.pool.Exec(ctx, query, player.ID, player.Username, time.Now())
	if err != nil {
		return fmt.Errorf("upserting player: %w", err)
	}
	return nil
}

// GetPlayer retrieves a player by id
func (r *Repository) GetPlayer(ctx context.Context, playerID int64) (*domain.Player, error) {
	query := `SELECT id, username, created_at FROM players WHERE id = $1`
	var player domain.Player
	err := r.pool.QueryRow(ctx, query, playerID).Scan(&player.ID, &player.Username, &player.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrPlayerNotFound
		}
		return nil, fmt.Errorf("getting player: %w", err)
	}
	return &player, nil
}

// EnsureStats creates the default stats row if the player has none
func (r *Repository) EnsureStats(ctx context.Context, playerID int64) (bool, error) {
	query := `
		INSERT INTO game_stats (player_id, score, remaining_turns, created_at, updated_at)
		VALUES ($1, 0, $2, $3, $3)
		ON CONFLICT (player_id) DO NOTHING
	`
	result, err := r.pool.Exec(ctx, query, playerID, r.initialTurns, time.Now())
	if err != nil {
		return false, fmt.Errorf("creating stats: %w", err)
	}
	return result.RowsAffected() == 1, nil
}

// GetStats retrieves a player's stats without locking
func (r *Repository) GetStats(ctx context.Context, playerID int64) (*domain.PlayerStats, error) {
	query := `SELECT ` + statsColumns + ` FROM game_stats WHERE player_id = $1`
	stats, err := scanStats(r.pool.QueryRow(ctx, query, playerID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrStatsNotFound
		}
		return nil, fmt.Errorf("getting stats: %w", err)
	}
	return &stats, nil
}

// UpdateExclusive runs fn on the player's stats row inside a SERIALIZABLE
// transaction holding the row's FOR UPDATE lock. The row is created with
// defaults first if it does not exist; when fn fails the transaction, and so
// the creation, is rolled back.
func (r *Repository) UpdateExclusive(ctx context.Context, playerID int64, fn func(*domain.PlayerStats) error) (domain.PlayerStats, bool, error) {
	var (
		stats   domain.PlayerStats
		created bool
	)

	err := r.inTx(ctx, pgx.Serializable, func(tx pgx.Tx) error {
		now := time.Now()
		result, err := tx.Exec(ctx, `
			INSERT INTO game_stats (player_id, score, remaining_turns, created_at, updated_at)
			VALUES ($1, 0, $2, $3, $3)
			ON CONFLICT (player_id) DO NOTHING
		`, playerID, r.initialTurns, now)
		if err != nil {
			return fmt.Errorf("creating stats: %w", err)
		}
		created = result.RowsAffected() == 1

		stats, err = scanStats(tx.QueryRow(ctx,
			`SELECT `+statsColumns+` FROM game_stats WHERE player_id = $1 FOR UPDATE`, playerID))
		if err != nil {
			return fmt.Errorf("locking stats: %w", err)
		}

		if err := fn(&stats); err != nil {
			return err
		}

		stats.UpdatedAt = now
		err = tx.QueryRow(ctx, `
			UPDATE game_stats
			SET score = $2, remaining_turns = $3, version = version + 1, updated_at = $4
			WHERE player_id = $1
			RETURNING version
		`, playerID, stats.Score, stats.RemainingTurns, stats.UpdatedAt).Scan(&stats.Version)
		if err != nil {
			return fmt.Errorf("saving stats: %w", err)
		}
		return nil
	})
	if err != nil {
		return domain.PlayerStats{}, false, err
	}
	return stats, created, nil
}

// AddTurns atomically grants n turns, creating the row if needed
func (r *Repository) AddTurns(ctx context.Context, playerID, n int64) (domain.PlayerStats, bool, error) {
	query := `
		INSERT INTO game_stats (player_id, score, remaining_turns, created_at, updated_at)
		VALUES ($1, 0, $2, $4, $4)
		ON CONFLICT (player_id)
		DO UPDATE SET
			remaining_turns = game_stats.remaining_turns + $3,
			version = game_stats.version + 1,
			updated_at = $4
		RETURNING ` + statsColumns + `, (xmax = 0) AS inserted
	`
	return r.upsertStats(ctx, query, playerID, r.initialTurns+n, n, time.Now())
}

// ResetTurns atomically restores the default turns, creating the row if needed
func (r *Repository) ResetTurns(ctx context.Context, playerID int64) (domain.PlayerStats, bool, error) {
	query := `
		INSERT INTO game_stats (player_id, score, remaining_turns, created_at, updated_at)
		VALUES ($1, 0, $2, $3, $3)
		ON CONFLICT (player_id)
		DO UPDATE SET
			remaining_turns = $2,
			version = game_stats.version + 1,
			updated_at = $3
		RETURNING ` + statsColumns + `, (xmax = 0) AS inserted
	`
	return r.upsertStats(ctx, query, playerID, r.initialTurns, time.Now())
}

// upsertStats runs a single-statement read-modify-write under the lock timeout
func (r *Repository) upsertStats(ctx context.Context, query string, args ...any) (domain.PlayerStats, bool, error) {
	var (
		stats    domain.PlayerStats
		inserted bool
	)
	err := r.inTx(ctx, pgx.ReadCommitted, func(tx pgx.Tx) error {
		err := tx.QueryRow(ctx, query, args...).Scan(
			&stats.PlayerID,
			&stats.Score,
			&stats.RemainingTurns,
			&stats.Version,
			&stats.UpdatedAt,
			&inserted,
		)
		if err != nil {
			return fmt.Errorf("updating turns: %w", err)
		}
		return nil
	})
	if err != nil {
		return domain.PlayerStats{}, false, err
	}
	return stats, inserted, nil
}

// AllStats retrieves every stats row with its username (for rebuild)
func (r *Repository) AllStats(ctx context.Context) ([]domain.RankedPlayer, error) {
	query := `
		SELECT s.player_id, p.username, s.score
		FROM game_stats s
		JOIN players p ON p.id = s.player_id
		ORDER BY s.score DESC, s.player_id ASC
	`
	rows, err := r.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("getting all stats: %w", err)
	}
	defer rows.Close()

	var players []domain.RankedPlayer
	for rows.Next() {
		var p domain.RankedPlayer
		if err := rows.Scan(&p.PlayerID, &p.Username, &p.Score); err != nil {
			return nil, fmt.Errorf("scanning stats: %w", err)
		}
		players = append(players, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("reading stats: %w", err)
	}
	return players, nil
}

// inTx runs fn in a transaction whose lock waits are bounded by the
// configured lock timeout. Lock and serialization failures come back as
// domain.ErrConcurrentRequest.
func (r *Repository) inTx(ctx context.Context, iso pgx.TxIsoLevel, fn func(pgx.Tx) error) error {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: iso})
	if err != nil {
		return classifyError(fmt.Errorf("beginning transaction: %w", err))
	}
	defer tx.Rollback(ctx)

	timeout := strconv.FormatInt(r.lockTimeout.Milliseconds(), 10) + "ms"
	if _, err := tx.Exec(ctx, `SELECT set_config('lock_timeout', $1, true)`, timeout); err != nil {
		return classifyError(fmt.Errorf("setting lock timeout: %w", err))
	}

	if err := fn(tx); err != nil {
		return classifyError(err)
	}

	if err := tx.Commit(ctx); err != nil {
		return classifyError(fmt.Errorf("committing transaction: %w", err))
	}
	return nil
}

// classifyError maps lock contention to domain.ErrConcurrentRequest and
// leaves every other error untouched.
func classifyError(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case sqlStateLockNotAvailable, sqlStateSerializationFailure, sqlStateDeadlockDetected:
			return fmt.Errorf("%w: %s", domain.ErrConcurrentRequest, pgErr.Message)
		}
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %v", domain.ErrConcurrentRequest, err)
	}
	return err
}

func scanStats(row pgx.Row) (domain.PlayerStats, error) {
	var stats domain.PlayerStats
	err := row.Scan(
		&stats.PlayerID,
		&stats.Score,
		&stats.RemainingTurns,
		&stats.Version,
		&stats.UpdatedAt,
	)
	return stats, err
}
