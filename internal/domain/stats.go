package domain

import "time"

// Game rule constants
const (
	MinGuess             = 1
	MaxGuess             = 5
	DefaultInitialTurns  = 5
	DefaultPurchaseTurns = 5
)

// PlayerStats is the authoritative per-player record of score and turns.
type PlayerStats struct {
	PlayerID       int64     `json:"player_id"`
	Score          int64     `json:"score"`
	RemainingTurns int64     `json:"remaining_turns"`
	Version        int64     `json:"-"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// NewPlayerStats returns the initial stats row for a player.
func NewPlayerStats(playerID, initialTurns int64) PlayerStats {
	return PlayerStats{
		PlayerID:       playerID,
		Score:          0,
		RemainingTurns: initialTurns,
		UpdatedAt:      time.Now(),
	}
}

// HasTurnsRemaining reports whether at least one turn is left.
func (s *PlayerStats) HasTurnsRemaining() bool {
	return s.RemainingTurns > 0
}

// ConsumeTurn takes one turn. It returns false, leaving the stats
// untouched, when no turn is left.
func (s *PlayerStats) ConsumeTurn() bool {
	if !s.HasTurnsRemaining() {
		return false
	}
	s.RemainingTurns--
	return true
}

// AwardPoint increments the score by one.
func (s *PlayerStats) AwardPoint() {
	s.Score++
}

// AddTurns grants n turns; non-positive grants are ignored.
func (s *PlayerStats) AddTurns(n int64) {
	if n > 0 {
		s.RemainingTurns += n
	}
}

// ResetTurns overwrites the remaining turns with the default.
func (s *PlayerStats) ResetTurns(defaultTurns int64) {
	s.RemainingTurns = defaultTurns
}

// GuessResult is the outcome of one processed guess.
type GuessResult struct {
	Correct         bool   `json:"correct"`
	GeneratedNumber int    `json:"generated_number"`
	GuessedNumber   int    `json:"guessed_number"`
	RemainingTurns  int64  `json:"remaining_turns"`
	Score           int64  `json:"score"`
	Message         string `json:"message"`
}

// ValidateGuess checks the guessed number is within bounds.
func ValidateGuess(n int) error {
	if n < MinGuess || n > MaxGuess {
		return ErrInvalidGuess
	}
	return nil
}
