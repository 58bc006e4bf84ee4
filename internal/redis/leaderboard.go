package redis

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/guess-leaderboard/internal/domain"
	"github.com/redis/go-redis/v9"
)

const (
	memberDelimiter = ":"
	unknownUsername = "Unknown"
)

// Script keys: the sorted set, the player id -> member hash, the set of
// distinct scores and the per-score player counts.
//
// upsertScript replaces the player's member in the sorted set. The members
// hash remembers which encoded member belongs to a player id, so a changed
// display name replaces the old member instead of adding a second one.
var upsertScript = redis.NewScript(`
local previous = redis.call('HGET', KEYS[2], ARGV[1])
if previous then
	local old = redis.call('ZSCORE', KEYS[1], previous)
	if old then
		redis.call('ZREM', KEYS[1], previous)
		if redis.call('HINCRBY', KEYS[4], old, -1) <= 0 then
			redis.call('HDEL', KEYS[4], old)
			redis.call('ZREM', KEYS[3], old)
		end
	end
end
redis.call('ZADD', KEYS[1], ARGV[3], ARGV[2])
redis.call('HSET', KEYS[2], ARGV[1], ARGV[2])
local score = redis.call('ZSCORE', KEYS[1], ARGV[2])
redis.call('HINCRBY', KEYS[4], score, 1)
redis.call('ZADD', KEYS[3], score, score)
return 1
`)

var removeScript = redis.NewScript(`
local member = redis.call('HGET', KEYS[2], ARGV[1])
if not member then
	return 0
end
redis.call('HDEL', KEYS[2], ARGV[1])
local old = redis.call('ZSCORE', KEYS[1], member)
if not old then
	return 0
end
if redis.call('HINCRBY', KEYS[4], old, -1) <= 0 then
	redis.call('HDEL', KEYS[4], old)
	redis.call('ZREM', KEYS[3], old)
end
return redis.call('ZREM', KEYS[1], member)
`)

// rankScript returns the dense rank of a player, or -1 when absent: one more
// than the number of distinct scores above the player's.
var rankScript = redis.NewScript(`
local member = redis.call('HGET', KEYS[2], ARGV[1])
if not member then
	return -1
end
local score = redis.call('ZSCORE', KEYS[1], member)
if not score then
	return -1
end
return redis.call('ZCOUNT', KEYS[3], '(' .. score, '+inf') + 1
`)

// RankCache is the global sorted-set mirror of player scores
type RankCache struct {
	client *redis.Client
	key    string
	logger *slog.Logger
}

// NewRankCache creates a rank cache stored under key
func NewRankCache(client *redis.Client, key string, logger *slog.Logger) *RankCache {
	return &RankCache{
		client: client,
		key:    key,
		logger: logger,
	}
}

// leaderboardKey returns the Redis key of the sorted set
func (c *RankCache) leaderboardKey() string {
	return c.key
}

// membersKey returns the Redis key of the player id -> member hash
func (c *RankCache) membersKey() string {
	return c.key + ":members"
}

// scoresKey returns the Redis key of the distinct score set
func (c *RankCache) scoresKey() string {
	return c.key + ":scores"
}

// scoreCountsKey returns the Redis key of the score -> player count hash
func (c *RankCache) scoreCountsKey() string {
	return c.key + ":score_counts"
}

func (c *RankCache) scriptKeys() []string {
	return []string{c.leaderboardKey(), c.membersKey(), c.scoresKey(), c.scoreCountsKey()}
}

// readyKey returns the Redis key marking a completed rebuild
func (c *RankCache) readyKey() string {
	return c.key + ":ready"
}

// EncodeMember builds the sorted set member for a player
func EncodeMember(playerID int64, username string) string {
	return strconv.FormatInt(playerID, 10) + memberDelimiter + username
}

// DecodeMember splits a sorted set member into player id and username.
// The username may itself contain the delimiter.
func DecodeMember(member string) (int64, string, error) {
	parts := strings.SplitN(member, memberDelimiter, 2)
	username := unknownUsername
	if len(parts) == 2 {
		username = parts[1]
	}
	playerID, err := strconv.ParseInt(parts[0], 10, 64)
	if err != nil {
		return 0, username, fmt.Errorf("parsing player id from member %q: %w", member, err)
	}
	return playerID, username, nil
}

// Upsert sets a player's score, replacing any previous entry for the player
func (c *RankCache) Upsert(ctx context.Context, playerID int64, username string, score int64) error {
	keys := c.scriptKeys()
	err := upsertScript.Run(ctx, c.client, keys,
		strconv.FormatInt(playerID, 10),
		EncodeMember(playerID, username),
		score,
	).Err()
	if err != nil {
		return fmt.Errorf("upserting score: %w", err)
	}
	return nil
}

// BatchUpsert upserts many players using pipelining
func (c *RankCache) BatchUpsert(ctx context.Context, players []domain.RankedPlayer) error {
	if len(players) == 0 {
		return nil
	}
	if err := upsertScript.Load(ctx, c.client).Err(); err != nil {
		return fmt.Errorf("loading upsert script: %w", err)
	}

	keys := c.scriptKeys()
	pipe := c.client.Pipeline()
	for _, p := range players {
		upsertScript.EvalSha(ctx, pipe, keys,
			strconv.FormatInt(p.PlayerID, 10),
			EncodeMember(p.PlayerID, p.Username),
			p.Score,
		)
	}

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("batch upserting scores: %w", err)
	}
	return nil
}

// Remove deletes a player's entry; absent players are a no-op
func (c *RankCache) Remove(ctx context.Context, playerID int64) error {
	keys := c.scriptKeys()
	err := removeScript.Run(ctx, c.client, keys, strconv.FormatInt(playerID, 10)).Err()
	if err != nil {
		return fmt.Errorf("removing player: %w", err)
	}
	return nil
}

// TopN returns the top n players with dense ranks (descending order)
func (c *RankCache) TopN(ctx context.Context, n int) ([]domain.LeaderboardEntry, error) {
	if n <= 0 {
		return []domain.LeaderboardEntry{}, nil
	}

	results, err := c.client.ZRevRangeWithScores(ctx, c.leaderboardKey(), 0, int64(n-1)).Result()
	if err != nil {
		return nil, fmt.Errorf("getting top n: %w", err)
	}

	var ranker domain.DenseRanker
	entries := make([]domain.LeaderboardEntry, 0, len(results))
	for _, result := range results {
		member, _ := result.Member.(string)
		playerID, username, err := DecodeMember(member)
		if err != nil {
			c.logger.Warn("undecodable leaderboard member", "member", member, "error", err)
		}
		score := int64(result.Score)
		entries = append(entries, domain.LeaderboardEntry{
			Rank:     ranker.Next(score),
			PlayerID: playerID,
			Username: username,
			Score:    score,
		})
	}
	return entries, nil
}

// RankOf returns the dense rank of a player in O(log n)
func (c *RankCache) RankOf(ctx context.Context, playerID int64) (int64, bool, error) {
	rank, err := rankScript.Run(ctx, c.client, c.scriptKeys(), strconv.FormatInt(playerID, 10)).Int64()
	if err != nil {
		return 0, false, fmt.Errorf("getting player rank: %w", err)
	}
	if rank < 0 {
		return 0, false, nil
	}
	return rank, true, nil
}

// ScoreOf returns the cached score of a player
func (c *RankCache) ScoreOf(ctx context.Context, playerID int64) (int64, bool, error) {
	member, err := c.client.HGet(ctx, c.membersKey(), strconv.FormatInt(playerID, 10)).Result()
	if err == redis.Nil {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("getting player member: %w", err)
	}

	score, err := c.client.ZScore(ctx, c.leaderboardKey(), member).Result()
	if err == redis.Nil {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("getting player score: %w", err)
	}
	return int64(score), true, nil
}

// Size returns the number of players in the leaderboard
func (c *RankCache) Size(ctx context.Context) (int64, error) {
	count, err := c.client.ZCard(ctx, c.leaderboardKey()).Result()
	if err != nil {
		return 0, fmt.Errorf("getting count: %w", err)
	}
	return count, nil
}

// IsInitialized reports whether a rebuild has completed and not yet expired
// and the sorted set is still present. Score writes alone never mark the
// leaderboard initialized, and a sorted set lost behind a live marker does
// not count as initialized either.
func (c *RankCache) IsInitialized(ctx context.Context) (bool, error) {
	exists, err := c.client.Exists(ctx, c.readyKey(), c.leaderboardKey()).Result()
	if err != nil {
		return false, fmt.Errorf("checking existence: %w", err)
	}
	return exists == 2, nil
}

// Touch marks the leaderboard initialized and (re)sets the TTL of every key
func (c *RankCache) Touch(ctx context.Context, ttl time.Duration) error {
	pipe := c.client.TxPipeline()
	pipe.Set(ctx, c.readyKey(), time.Now().UTC().Format(time.RFC3339), ttl)
	pipe.Expire(ctx, c.leaderboardKey(), ttl)
	pipe.Expire(ctx, c.membersKey(), ttl)
	pipe.Expire(ctx, c.scoresKey(), ttl)
	pipe.Expire(ctx, c.scoreCountsKey(), ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("setting leaderboard ttl: %w", err)
	}
	return nil
}

// Clear removes all entries from the leaderboard
func (c *RankCache) Clear(ctx context.Context) error {
	err := c.client.Del(ctx, c.leaderboardKey(), c.membersKey(), c.scoresKey(), c.scoreCountsKey(), c.readyKey()).Err()
	if err != nil {
		return fmt.Errorf("clearing leaderboard: %w", err)
	}
	return nil
}
