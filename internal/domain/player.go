package domain

import "time"

// Player is the local mirror of an account: identity plus display name.
type Player struct {
	ID        int64     `json:"id"`
	Username  string    `json:"username"`
	CreatedAt time.Time `json:"created_at,omitempty"`
}

// PlayerProfile is the composed view served to a player about themselves.
// Rank is nil when the player is absent from the leaderboard.
type PlayerProfile struct {
	ID             int64  `json:"id"`
	Username       string `json:"username"`
	Score          int64  `json:"score"`
	RemainingTurns int64  `json:"remaining_turns"`
	Rank           *int64 `json:"rank"`
}

// PlayerCreatedEvent is published by the account service after a player
// account is committed.
type PlayerCreatedEvent struct {
	PlayerID int64  `json:"player_id"`
	Username string `json:"username"`
}
