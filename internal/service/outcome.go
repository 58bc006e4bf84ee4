package service

import (
	"math/rand"

	"github.com/guess-leaderboard/internal/domain"
)

// Rand is the source of randomness for guess outcomes. Implementations used
// by concurrent requests must be safe for concurrent use.
type Rand interface {
	IntN(n int) int
}

// defaultRand uses the goroutine-safe top-level math/rand source
type defaultRand struct{}

func (defaultRand) IntN(n int) int {
	return rand.Intn(n)
}

// drawOutcome decides a guess. A draw in [0,100) below winThreshold wins and
// shows the player their own number; otherwise the shown number is drawn
// uniformly from the remaining values, so the guess never affects the odds.
func drawOutcome(rng Rand, winThreshold, guess int) (bool, int) {
	if rng.IntN(100) < winThreshold {
		return true, guess
	}
	generated := domain.MinGuess + rng.IntN(domain.MaxGuess-domain.MinGuess)
	if generated >= guess {
		generated++
	}
	return false, generated
}
