package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/guess-leaderboard/internal/domain"
	"github.com/redis/go-redis/v9"
)

// ProfileCache is a short-lived read cache of composed player profiles
type ProfileCache struct {
	client *redis.Client
	ttl    time.Duration
}

// NewProfileCache creates a profile cache whose entries live for ttl
func NewProfileCache(client *redis.Client, ttl time.Duration) *ProfileCache {
	return &ProfileCache{
		client: client,
		ttl:    ttl,
	}
}

// profileKey returns the Redis key for a player's cached profile
func (c *ProfileCache) profileKey(playerID int64) string {
	return fmt.Sprintf("player:profile:%d", playerID)
}

// Get returns the cached profile, or nil on a miss
func (c *ProfileCache) Get(ctx context.Context, playerID int64) (*domain.PlayerProfile, error) {
	data, err := c.client.Get(ctx, c.profileKey(playerID)).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("getting profile: %w", err)
	}

	var profile domain.PlayerProfile
	if err := json.Unmarshal(data, &profile); err != nil {
		return nil, fmt.Errorf("decoding profile: %w", err)
	}
	return &profile, nil
}

// Set stores a profile snapshot
func (c *ProfileCache) Set(ctx context.Context, profile *domain.PlayerProfile) error {
	data, err := json.Marshal(profile)
	if err != nil {
		return fmt.Errorf("encoding profile: %w", err)
	}
	if err := c.client.Set(ctx, c.profileKey(profile.ID), data, c.ttl).Err(); err != nil {
		return fmt.Errorf("setting profile: %w", err)
	}
	return nil
}

// Evict drops a player's cached profile
func (c *ProfileCache) Evict(ctx context.Context, playerID int64) error {
	if err := c.client.Del(ctx, c.profileKey(playerID)).Err(); err != nil {
		return fmt.Errorf("evicting profile: %w", err)
	}
	return nil
}
