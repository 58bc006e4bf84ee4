package service

import (
	"context"
	"errors"
	"testing"

	"github.com/guess-leaderboard/internal/domain"
	. "github.com/smartystreets/goconvey/convey"
)

func TestPlayerService_GetPlayerProfile(t *testing.T) {
	Convey("Given a player directory", t, func() {
		ctx := context.Background()
		env := newTestEnv(t, alwaysWin{})

		Convey("A player without stats gets a zero profile and no rank", func() {
			So(env.store.UpsertPlayer(ctx, domain.Player{ID: 5, Username: "dave"}), ShouldBeNil)

			profile, err := env.players.GetPlayerProfile(ctx, 5)
			So(err, ShouldBeNil)
			So(profile.ID, ShouldEqual, 5)
			So(profile.Username, ShouldEqual, "dave")
			So(profile.Score, ShouldEqual, 0)
			So(profile.RemainingTurns, ShouldEqual, 0)
			So(profile.Rank, ShouldBeNil)
		})

		Convey("An unknown player is not found", func() {
			_, err := env.players.GetPlayerProfile(ctx, 404)
			So(errors.Is(err, domain.ErrPlayerNotFound), ShouldBeTrue)
		})

		Convey("A ranked player's profile is composed and cached", func() {
			env.addPlayer(t, 1, "alice")
			env.addPlayer(t, 2, "bob")
			_, err := env.game.ProcessGuess(ctx, 2, 3)
			So(err, ShouldBeNil)

			profile, err := env.players.GetPlayerProfile(ctx, 1)
			So(err, ShouldBeNil)
			So(profile.Score, ShouldEqual, 0)
			So(profile.RemainingTurns, ShouldEqual, env.cfg.Game.InitialTurns)
			So(profile.Rank, ShouldNotBeNil)
			So(*profile.Rank, ShouldEqual, 2)

			cached, err := env.profiles.Get(ctx, 1)
			So(err, ShouldBeNil)
			So(cached, ShouldResemble, profile)

			Convey("Refreshing drops the cached copy", func() {
				So(env.players.RefreshProfileCache(ctx, 1), ShouldBeNil)
				cached, err := env.profiles.Get(ctx, 1)
				So(err, ShouldBeNil)
				So(cached, ShouldBeNil)
			})

			Convey("The cached copy expires", func() {
				env.mr.FastForward(env.cfg.Leaderboard.ProfileTTL)
				cached, err := env.profiles.Get(ctx, 1)
				So(err, ShouldBeNil)
				So(cached, ShouldBeNil)
			})
		})

		Convey("Profiles are still served when the cache is down", func() {
			env.addPlayer(t, 1, "alice")
			env.mr.Close()

			profile, err := env.players.GetPlayerProfile(ctx, 1)
			So(err, ShouldBeNil)
			So(profile.RemainingTurns, ShouldEqual, env.cfg.Game.InitialTurns)
			So(profile.Rank, ShouldBeNil)
		})
	})
}
