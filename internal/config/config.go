package config

import (
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Storage drivers
const (
	StorageDriverPostgres = "postgres"
	StorageDriverMemory   = "memory"
)

// defaultWinThreshold is seeded before decoding so an explicit 0 survives
const defaultWinThreshold = 5

// Config represents the application configuration
type Config struct {
	Server      ServerConfig      `yaml:"server"`
	Redis       RedisConfig       `yaml:"redis"`
	Postgres    PostgresConfig    `yaml:"postgres"`
	Storage     StorageConfig     `yaml:"storage"`
	Kafka       KafkaConfig       `yaml:"kafka"`
	Sync        SyncConfig        `yaml:"sync"`
	Game        GameConfig        `yaml:"game"`
	Leaderboard LeaderboardConfig `yaml:"leaderboard"`
	Log         LogConfig         `yaml:"log"`
	Metrics     MetricsConfig     `yaml:"metrics"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port          int           `yaml:"port"`
	ReadTimeout   time.Duration `yaml:"read_timeout"`
	WriteTimeout  time.Duration `yaml:"write_timeout"`
	IdleTimeout   time.Duration `yaml:"idle_timeout"`
	AdminToken    string        `yaml:"admin_token"`
	InternalToken string        `yaml:"internal_token"`
}

// RedisConfig holds Redis connection configuration
type RedisConfig struct {
	Addr         string        `yaml:"addr"`
	Password     string        `yaml:"password"`
	DB           int           `yaml:"db"`
	PoolSize     int           `yaml:"pool_size"`
	MinIdleConns int           `yaml:"min_idle_conns"`
	DialTimeout  time.Duration `yaml:"dial_timeout"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
}

// PostgresConfig holds PostgreSQL connection configuration
type PostgresConfig struct {
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port"`
	User            string        `yaml:"user"`
	Password        string        `yaml:"password"`
	Database        string        `yaml:"database"`
	SSLMode         string        `yaml:"ssl_mode"`
	MaxConnections  int           `yaml:"max_connections"`
	MinConnections  int           `yaml:"min_connections"`
	MaxConnLifetime time.Duration `yaml:"max_conn_lifetime"`
	MaxConnIdleTime time.Duration `yaml:"max_conn_idle_time"`
}

// ConnectionString returns the PostgreSQL connection string
func (c *PostgresConfig) ConnectionString() string {
	sslMode := c.SSLMode
	if sslMode == "" {
		sslMode = "disable"
	}
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.User, c.Password, c.Host, c.Port, c.Database, sslMode,
	)
}

// StorageConfig selects the authoritative stats store
type StorageConfig struct {
	Driver string `yaml:"driver"`
}

// KafkaConfig holds Kafka connection configuration
type KafkaConfig struct {
	Brokers []string `yaml:"brokers"`
	Topic   string   `yaml:"topic"`
	GroupID string   `yaml:"group_id"`
	Enabled bool     `yaml:"enabled"`
}

// SyncConfig holds leaderboard check worker configuration
type SyncConfig struct {
	Interval time.Duration `yaml:"interval"`
	Enabled  bool          `yaml:"enabled"`
}

// GameConfig holds the rules of the guessing game
type GameConfig struct {
	InitialTurns  int64         `yaml:"initial_turns"`
	PurchaseTurns int64         `yaml:"purchase_turns"`
	WinThreshold  int           `yaml:"win_threshold"`
	LockTimeout   time.Duration `yaml:"lock_timeout"`
}

// LeaderboardConfig holds leaderboard-specific configuration
type LeaderboardConfig struct {
	Key          string        `yaml:"key"`
	TTL          time.Duration `yaml:"ttl"`
	DefaultLimit int           `yaml:"default_limit"`
	MaxLimit     int           `yaml:"max_limit"`
	ProfileTTL   time.Duration `yaml:"profile_ttl"`
	BatchSize    int           `yaml:"batch_size"`
}

// LogConfig holds logging configuration
type LogConfig struct {
	Level string `yaml:"level"`
}

// MetricsConfig holds Prometheus configuration
type MetricsConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Namespace string `yaml:"namespace"`
}

// Load reads configuration from a YAML file
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	// Expand environment variables
	data = []byte(os.ExpandEnv(string(data)))

	cfg := Config{Game: GameConfig{WinThreshold: defaultWinThreshold}}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Validate rejects configurations the service cannot run with
func (c *Config) Validate() error {
	switch c.Storage.Driver {
	case StorageDriverPostgres, StorageDriverMemory:
	default:
		return fmt.Errorf("unknown storage driver %q", c.Storage.Driver)
	}
	if c.Game.WinThreshold < 0 || c.Game.WinThreshold > 100 {
		return fmt.Errorf("win_threshold must be within [0,100], got %d", c.Game.WinThreshold)
	}
	if c.Game.InitialTurns < 0 {
		return fmt.Errorf("initial_turns must not be negative, got %d", c.Game.InitialTurns)
	}
	if c.Game.PurchaseTurns < 0 {
		return fmt.Errorf("purchase_turns must not be negative, got %d", c.Game.PurchaseTurns)
	}
	if c.Game.LockTimeout < 0 {
		return fmt.Errorf("lock_timeout must not be negative, got %s", c.Game.LockTimeout)
	}
	if c.Leaderboard.DefaultLimit > c.Leaderboard.MaxLimit {
		return fmt.Errorf("default_limit %d exceeds max_limit %d", c.Leaderboard.DefaultLimit, c.Leaderboard.MaxLimit)
	}
	return nil
}

// applyDefaults sets default values for missing configuration
func (c *Config) applyDefaults() {
	// Server defaults
	if c.Server.Port == 0 {
		c.Server.Port = 8080
	}
	if c.Server.ReadTimeout == 0 {
		c.Server.ReadTimeout = 5 * time.Second
	}
	if c.Server.WriteTimeout == 0 {
		c.Server.WriteTimeout = 10 * time.Second
	}
	if c.Server.IdleTimeout == 0 {
		c.Server.IdleTimeout = 120 * time.Second
	}

	// Redis defaults
	if c.Redis.Addr == "" {
		c.Redis.Addr = "localhost:6379"
	}
	if c.Redis.PoolSize == 0 {
		c.Redis.PoolSize = 100
	}
	if c.Redis.MinIdleConns == 0 {
		c.Redis.MinIdleConns = 10
	}
	if c.Redis.DialTimeout == 0 {
		c.Redis.DialTimeout = 5 * time.Second
	}
	if c.Redis.ReadTimeout == 0 {
		c.Redis.ReadTimeout = 3 * time.Second
	}
	if c.Redis.WriteTimeout == 0 {
		c.Redis.WriteTimeout = 3 * time.Second
	}

	// PostgreSQL defaults
	if c.Postgres.Host == "" {
		c.Postgres.Host = "localhost"
	}
	if c.Postgres.Port == 0 {
		c.Postgres.Port = 5432
	}
	if c.Postgres.MaxConnections == 0 {
		c.Postgres.MaxConnections = 50
	}
	if c.Postgres.MinConnections == 0 {
		c.Postgres.MinConnections = 5
	}
	if c.Postgres.MaxConnLifetime == 0 {
		c.Postgres.MaxConnLifetime = 1 * time.Hour
	}
	if c.Postgres.MaxConnIdleTime == 0 {
		c.Postgres.MaxConnIdleTime = 30 * time.Minute
	}

	if c.Storage.Driver == "" {
		c.Storage.Driver = StorageDriverPostgres
	}
	c.Storage.Driver = strings.ToLower(c.Storage.Driver)

	// Kafka defaults
	if len(c.Kafka.Brokers) == 0 {
		c.Kafka.Brokers = []string{"localhost:9092"}
	}
	if c.Kafka.Topic == "" {
		c.Kafka.Topic = "player-created"
	}
	if c.Kafka.GroupID == "" {
		c.Kafka.GroupID = "guess-game"
	}

	if c.Sync.Interval == 0 {
		c.Sync.Interval = 1 * time.Minute
	}

	// Game defaults
	if c.Game.InitialTurns == 0 {
		c.Game.InitialTurns = 5
	}
	if c.Game.PurchaseTurns == 0 {
		c.Game.PurchaseTurns = 5
	}
	if c.Game.LockTimeout == 0 {
		c.Game.LockTimeout = 3 * time.Second
	}

	// Leaderboard defaults
	if c.Leaderboard.Key == "" {
		c.Leaderboard.Key = "game:leaderboard"
	}
	if c.Leaderboard.TTL == 0 {
		c.Leaderboard.TTL = 30 * 24 * time.Hour
	}
	if c.Leaderboard.DefaultLimit == 0 {
		c.Leaderboard.DefaultLimit = 10
	}
	if c.Leaderboard.MaxLimit == 0 {
		c.Leaderboard.MaxLimit = 100
	}
	if c.Leaderboard.ProfileTTL == 0 {
		c.Leaderboard.ProfileTTL = 30 * time.Second
	}
	if c.Leaderboard.BatchSize == 0 {
		c.Leaderboard.BatchSize = 1000
	}

	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Metrics.Namespace == "" {
		c.Metrics.Namespace = "guessgame"
	}
}

// SlogLevel converts the configured level name to a slog level
func (c *LogConfig) SlogLevel() slog.Level {
	switch strings.ToLower(c.Level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// DefaultConfig returns a configuration with all defaults
func DefaultConfig() *Config {
	cfg := &Config{Game: GameConfig{WinThreshold: defaultWinThreshold}}
	cfg.applyDefaults()
	cfg.Sync.Enabled = true
	cfg.Metrics.Enabled = true
	return cfg
}
