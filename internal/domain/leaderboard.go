package domain

// LeaderboardEntry represents a single entry in the leaderboard
type LeaderboardEntry struct {
	Rank     int64  `json:"rank"`
	PlayerID int64  `json:"player_id"`
	Username string `json:"username"`
	Score    int64  `json:"score"`
}

// RankedPlayer is a stats row joined with its display name, as loaded when
// the leaderboard is rebuilt from the authoritative store.
type RankedPlayer struct {
	PlayerID int64
	Username string
	Score    int64
}

// LeaderboardStats contains statistics about the leaderboard
type LeaderboardStats struct {
	TotalPlayers int64 `json:"total_players"`
	TopScore     int64 `json:"top_score,omitempty"`
}

// DenseRanker assigns dense ranks to scores visited in descending order:
// equal scores share a rank and each new lower score takes the next rank.
type DenseRanker struct {
	rank    int64
	last    int64
	started bool
}

// Next returns the rank of the next score in descending order.
func (r *DenseRanker) Next(score int64) int64 {
	if !r.started || score != r.last {
		r.rank++
		r.last = score
		r.started = true
	}
	return r.rank
}
