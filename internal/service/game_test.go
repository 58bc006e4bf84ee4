package service

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/guess-leaderboard/internal/domain"
	. "github.com/smartystreets/goconvey/convey"
)

func TestGameService_ProcessGuess(t *testing.T) {
	Convey("Given a registered player with the initial turns", t, func() {
		ctx := context.Background()
		env := newTestEnv(t, alwaysLose{})
		env.addPlayer(t, 1, "alice")

		Convey("Out of range guesses are rejected without touching stats", func() {
			env.addPlayer(t, 2, "bob")
			for _, guess := range []int{0, 6, -1} {
				_, err := env.game.ProcessGuess(ctx, 2, guess)
				So(errors.Is(err, domain.ErrInvalidGuess), ShouldBeTrue)
			}
			stats, err := env.store.GetStats(ctx, 2)
			So(err, ShouldBeNil)
			So(stats.RemainingTurns, ShouldEqual, env.cfg.Game.InitialTurns)
			So(stats.Version, ShouldEqual, 0)
		})

		Convey("Each guess consumes one turn until none are left", func() {
			for i := int64(1); i <= env.cfg.Game.InitialTurns; i++ {
				result, err := env.game.ProcessGuess(ctx, 1, 3)
				So(err, ShouldBeNil)
				So(result.Correct, ShouldBeFalse)
				So(result.GuessedNumber, ShouldEqual, 3)
				So(result.GeneratedNumber, ShouldNotEqual, 3)
				So(result.RemainingTurns, ShouldEqual, env.cfg.Game.InitialTurns-i)
				So(result.Message, ShouldStartWith, "Sorry, wrong guess.")
			}

			_, err := env.game.ProcessGuess(ctx, 1, 3)
			So(errors.Is(err, domain.ErrNoTurnsLeft), ShouldBeTrue)
			So(domain.Code(err), ShouldEqual, domain.CodeNoTurnsLeft)

			stats, err := env.store.GetStats(ctx, 1)
			So(err, ShouldBeNil)
			So(stats.RemainingTurns, ShouldEqual, 0)
		})

		Convey("A loss leaves the ranked score alone", func() {
			_, err := env.game.ProcessGuess(ctx, 1, 2)
			So(err, ShouldBeNil)
			score, found, err := env.ranks.ScoreOf(ctx, 1)
			So(err, ShouldBeNil)
			So(found, ShouldBeTrue)
			So(score, ShouldEqual, 0)
			So(env.notifier.players, ShouldBeEmpty)
		})

		Convey("Unknown players are not found", func() {
			_, err := env.game.ProcessGuess(ctx, 99, 3)
			So(errors.Is(err, domain.ErrPlayerNotFound), ShouldBeTrue)
		})
	})

	Convey("Given a player who always wins", t, func() {
		ctx := context.Background()
		env := newTestEnv(t, alwaysWin{})
		env.addPlayer(t, 1, "alice")
		env.addPlayer(t, 2, "bob")

		Convey("A win awards a point and shows the guessed number", func() {
			result, err := env.game.ProcessGuess(ctx, 1, 4)
			So(err, ShouldBeNil)
			So(result.Correct, ShouldBeTrue)
			So(result.GeneratedNumber, ShouldEqual, 4)
			So(result.Score, ShouldEqual, 1)
			So(result.RemainingTurns, ShouldEqual, env.cfg.Game.InitialTurns-1)
			So(result.Message, ShouldEqual, winMessage)

			Convey("The rank cache and live viewers see the new score", func() {
				score, found, err := env.ranks.ScoreOf(ctx, 1)
				So(err, ShouldBeNil)
				So(found, ShouldBeTrue)
				So(score, ShouldEqual, 1)

				So(env.notifier.players, ShouldHaveLength, 1)
				So(env.notifier.players[0].PlayerID, ShouldEqual, 1)
				So(env.notifier.players[0].Score, ShouldEqual, 1)
				So(env.notifier.players[0].Rank, ShouldEqual, 1)
			})
		})

		Convey("A cached profile is evicted by the guess", func() {
			before, err := env.players.GetPlayerProfile(ctx, 1)
			So(err, ShouldBeNil)
			So(before.Score, ShouldEqual, 0)

			_, err = env.game.ProcessGuess(ctx, 1, 1)
			So(err, ShouldBeNil)

			after, err := env.players.GetPlayerProfile(ctx, 1)
			So(err, ShouldBeNil)
			So(after.Score, ShouldEqual, 1)
			So(after.RemainingTurns, ShouldEqual, env.cfg.Game.InitialTurns-1)
			So(*after.Rank, ShouldEqual, 1)
		})
	})
}

func TestGameService_CacheFailuresAreAbsorbed(t *testing.T) {
	Convey("Given the cache server goes away after a player is registered", t, func() {
		ctx := context.Background()
		env := newTestEnv(t, alwaysWin{})
		env.addPlayer(t, 1, "alice")
		env.mr.Close()

		Convey("Guesses and turn changes still commit", func() {
			result, err := env.game.ProcessGuess(ctx, 1, 2)
			So(err, ShouldBeNil)
			So(result.Score, ShouldEqual, 1)

			stats, err := env.game.BuyAdditionalTurns(ctx, 1)
			So(err, ShouldBeNil)
			So(stats.RemainingTurns, ShouldEqual, env.cfg.Game.InitialTurns-1+env.cfg.Game.PurchaseTurns)

			stored, err := env.store.GetStats(ctx, 1)
			So(err, ShouldBeNil)
			So(stored.Score, ShouldEqual, 1)
		})
	})
}

func TestGameService_ConcurrentGuesses(t *testing.T) {
	Convey("Given a player with a single turn left", t, func() {
		ctx := context.Background()
		env := newTestEnv(t, alwaysLose{})
		env.addPlayer(t, 1, "alice")
		_, _, err := env.store.UpdateExclusive(ctx, 1, func(s *domain.PlayerStats) error {
			s.RemainingTurns = 1
			return nil
		})
		So(err, ShouldBeNil)

		Convey("Two simultaneous guesses consume the turn exactly once", func() {
			var (
				wg    sync.WaitGroup
				start = make(chan struct{})
				errs  = make([]error, 2)
			)
			for i := range errs {
				wg.Add(1)
				go func(i int) {
					defer wg.Done()
					<-start
					_, errs[i] = env.game.ProcessGuess(ctx, 1, 3)
				}(i)
			}
			close(start)
			wg.Wait()

			successes, noTurns := 0, 0
			for _, err := range errs {
				switch {
				case err == nil:
					successes++
				case errors.Is(err, domain.ErrNoTurnsLeft):
					noTurns++
				}
			}
			So(successes, ShouldEqual, 1)
			So(noTurns, ShouldEqual, 1)

			stats, err := env.store.GetStats(ctx, 1)
			So(err, ShouldBeNil)
			So(stats.RemainingTurns, ShouldEqual, 0)
		})
	})
}

func TestGameService_Turns(t *testing.T) {
	Convey("Given a registered player", t, func() {
		ctx := context.Background()
		env := newTestEnv(t, alwaysLose{})
		env.addPlayer(t, 1, "alice")
		initial := env.cfg.Game.InitialTurns
		purchase := env.cfg.Game.PurchaseTurns

		Convey("Buying turns adds the purchase amount per call", func() {
			stats, err := env.game.BuyAdditionalTurns(ctx, 1)
			So(err, ShouldBeNil)
			So(stats.RemainingTurns, ShouldEqual, initial+purchase)

			stats, err = env.game.BuyAdditionalTurns(ctx, 1)
			So(err, ShouldBeNil)
			So(stats.RemainingTurns, ShouldEqual, initial+2*purchase)
		})

		Convey("Purchases interleaved with guesses are never lost", func() {
			const guesses = 3
			var wg sync.WaitGroup
			start := make(chan struct{})
			errCh := make(chan error, guesses+2)

			for i := 0; i < 2; i++ {
				wg.Add(1)
				go func() {
					defer wg.Done()
					<-start
					_, err := env.game.BuyAdditionalTurns(ctx, 1)
					errCh <- err
				}()
			}
			for i := 0; i < guesses; i++ {
				wg.Add(1)
				go func() {
					defer wg.Done()
					<-start
					_, err := env.game.ProcessGuess(ctx, 1, 1)
					errCh <- err
				}()
			}
			close(start)
			wg.Wait()
			close(errCh)

			for err := range errCh {
				So(err, ShouldBeNil)
			}
			stats, err := env.store.GetStats(ctx, 1)
			So(err, ShouldBeNil)
			So(stats.RemainingTurns, ShouldEqual, initial+2*purchase-guesses)
		})

		Convey("Resetting restores the initial turns", func() {
			for i := int64(0); i < initial; i++ {
				_, err := env.game.ProcessGuess(ctx, 1, 5)
				So(err, ShouldBeNil)
			}
			stats, err := env.game.ResetPlayerTurns(ctx, 1)
			So(err, ShouldBeNil)
			So(stats.RemainingTurns, ShouldEqual, initial)

			_, err = env.game.ProcessGuess(ctx, 1, 5)
			So(err, ShouldBeNil)
		})

		Convey("Turn changes for unknown players are not found", func() {
			_, err := env.game.BuyAdditionalTurns(ctx, 42)
			So(errors.Is(err, domain.ErrPlayerNotFound), ShouldBeTrue)
			_, err = env.game.ResetPlayerTurns(ctx, 42)
			So(errors.Is(err, domain.ErrPlayerNotFound), ShouldBeTrue)
		})
	})
}

func TestGameService_InitializePlayer(t *testing.T) {
	Convey("Given a new account", t, func() {
		ctx := context.Background()
		env := newTestEnv(t, alwaysWin{})

		Convey("Initialization creates stats and seeds the rank at zero", func() {
			env.addPlayer(t, 7, "carol")

			stats, err := env.store.GetStats(ctx, 7)
			So(err, ShouldBeNil)
			So(stats.Score, ShouldEqual, 0)
			So(stats.RemainingTurns, ShouldEqual, env.cfg.Game.InitialTurns)

			rank, found, err := env.ranks.RankOf(ctx, 7)
			So(err, ShouldBeNil)
			So(found, ShouldBeTrue)
			So(rank, ShouldEqual, 1)
		})

		Convey("Repeated initialization keeps existing progress", func() {
			env.addPlayer(t, 7, "carol")
			_, err := env.game.ProcessGuess(ctx, 7, 3)
			So(err, ShouldBeNil)

			env.addPlayer(t, 7, "carol2")
			stats, err := env.store.GetStats(ctx, 7)
			So(err, ShouldBeNil)
			So(stats.Score, ShouldEqual, 1)
			So(stats.RemainingTurns, ShouldEqual, env.cfg.Game.InitialTurns-1)

			top, err := env.ranks.TopN(ctx, 10)
			So(err, ShouldBeNil)
			So(top, ShouldHaveLength, 1)
			So(top[0].Username, ShouldEqual, "carol2")
			So(top[0].Score, ShouldEqual, 1)
		})

		Convey("Incomplete accounts are rejected", func() {
			err := env.game.InitializePlayer(ctx, domain.Player{ID: 0, Username: "x"})
			So(errors.Is(err, domain.ErrInvalidRequest), ShouldBeTrue)
			err = env.game.InitializePlayer(ctx, domain.Player{ID: 3})
			So(errors.Is(err, domain.ErrInvalidRequest), ShouldBeTrue)
		})
	})
}
