package redis

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/guess-leaderboard/internal/domain"
	"github.com/redis/go-redis/v9"
	. "github.com/smartystreets/goconvey/convey"
)

const testKey = "game:leaderboard"

func newTestRankCache(t *testing.T) (*RankCache, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewRankCache(client, testKey, logger), mr
}

func TestDecodeMember(t *testing.T) {
	tests := []struct {
		member   string
		id       int64
		username string
		wantErr  bool
	}{
		{"42:alice", 42, "alice", false},
		{"7:name:with:colons", 7, "name:with:colons", false},
		{"9", 9, unknownUsername, false},
		{"abc:bob", 0, "bob", true},
	}

	for _, tt := range tests {
		id, username, err := DecodeMember(tt.member)
		if (err != nil) != tt.wantErr {
			t.Errorf("DecodeMember(%q) error = %v, wantErr %v", tt.member, err, tt.wantErr)
		}
		if id != tt.id || username != tt.username {
			t.Errorf("DecodeMember(%q) = (%d, %q), want (%d, %q)", tt.member, id, username, tt.id, tt.username)
		}
	}
}

func TestRankCache_DenseRanking(t *testing.T) {
	Convey("Given players A and B tied at 50 and C at 30", t, func() {
		ctx := context.Background()
		cache, _ := newTestRankCache(t)

		So(cache.Upsert(ctx, 1, "A", 50), ShouldBeNil)
		So(cache.Upsert(ctx, 2, "B", 50), ShouldBeNil)
		So(cache.Upsert(ctx, 3, "C", 30), ShouldBeNil)

		Convey("TopN assigns dense ranks 1,1,2", func() {
			entries, err := cache.TopN(ctx, 3)
			So(err, ShouldBeNil)
			So(entries, ShouldHaveLength, 3)
			So(entries[0].Rank, ShouldEqual, 1)
			So(entries[1].Rank, ShouldEqual, 1)
			So(entries[2].Rank, ShouldEqual, 2)
			So(entries[2].PlayerID, ShouldEqual, 3)
			So(entries[2].Username, ShouldEqual, "C")
			So(entries[2].Score, ShouldEqual, 30)
		})

		Convey("RankOf agrees with TopN for every player", func() {
			entries, err := cache.TopN(ctx, 10)
			So(err, ShouldBeNil)
			for _, entry := range entries {
				rank, found, err := cache.RankOf(ctx, entry.PlayerID)
				So(err, ShouldBeNil)
				So(found, ShouldBeTrue)
				So(rank, ShouldEqual, entry.Rank)
			}
		})

		Convey("RankOf reports an absent player as not found", func() {
			_, found, err := cache.RankOf(ctx, 99)
			So(err, ShouldBeNil)
			So(found, ShouldBeFalse)
		})

		Convey("TopN honours the limit", func() {
			entries, err := cache.TopN(ctx, 1)
			So(err, ShouldBeNil)
			So(entries, ShouldHaveLength, 1)
			So(entries[0].Score, ShouldEqual, 50)
		})
	})
}

func TestRankCache_Upsert(t *testing.T) {
	Convey("Given a player in the leaderboard", t, func() {
		ctx := context.Background()
		cache, _ := newTestRankCache(t)
		So(cache.Upsert(ctx, 1, "alice", 3), ShouldBeNil)

		Convey("Upserting a new score overwrites the entry", func() {
			So(cache.Upsert(ctx, 1, "alice", 4), ShouldBeNil)
			size, err := cache.Size(ctx)
			So(err, ShouldBeNil)
			So(size, ShouldEqual, 1)

			score, found, err := cache.ScoreOf(ctx, 1)
			So(err, ShouldBeNil)
			So(found, ShouldBeTrue)
			So(score, ShouldEqual, 4)
		})

		Convey("Upserting under a new display name replaces the old member", func() {
			So(cache.Upsert(ctx, 1, "alice2", 4), ShouldBeNil)
			entries, err := cache.TopN(ctx, 10)
			So(err, ShouldBeNil)
			So(entries, ShouldHaveLength, 1)
			So(entries[0].Username, ShouldEqual, "alice2")
		})

		Convey("Ranks follow score changes and removals", func() {
			So(cache.Upsert(ctx, 2, "bob", 3), ShouldBeNil)
			So(cache.Upsert(ctx, 3, "carol", 1), ShouldBeNil)

			rank, _, err := cache.RankOf(ctx, 3)
			So(err, ShouldBeNil)
			So(rank, ShouldEqual, 2)

			// alice moves up alone, bob keeps 3
			So(cache.Upsert(ctx, 1, "alice", 5), ShouldBeNil)
			rank, _, err = cache.RankOf(ctx, 3)
			So(err, ShouldBeNil)
			So(rank, ShouldEqual, 3)

			So(cache.Remove(ctx, 2), ShouldBeNil)
			rank, _, err = cache.RankOf(ctx, 3)
			So(err, ShouldBeNil)
			So(rank, ShouldEqual, 2)

			rank, found, err := cache.RankOf(ctx, 1)
			So(err, ShouldBeNil)
			So(found, ShouldBeTrue)
			So(rank, ShouldEqual, 1)
		})

		Convey("Remove deletes the entry and is a no-op when repeated", func() {
			So(cache.Remove(ctx, 1), ShouldBeNil)
			So(cache.Remove(ctx, 1), ShouldBeNil)
			size, err := cache.Size(ctx)
			So(err, ShouldBeNil)
			So(size, ShouldEqual, 0)
			_, found, err := cache.ScoreOf(ctx, 1)
			So(err, ShouldBeNil)
			So(found, ShouldBeFalse)
		})
	})
}

func TestRankCache_RankOfLargeBoard(t *testing.T) {
	ctx := context.Background()
	cache, _ := newTestRankCache(t)

	total := 1017
	players := make([]domain.RankedPlayer, 0, total)
	for i := 0; i < total; i++ {
		players = append(players, domain.RankedPlayer{
			PlayerID: int64(i + 1),
			Username: fmt.Sprintf("p%d", i+1),
			Score:    int64(i / 2), // pairs of tied scores
		})
	}
	if err := cache.BatchUpsert(ctx, players); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	size, err := cache.Size(ctx)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if size != int64(total) {
		t.Fatalf("expected size %d, got %d", total, size)
	}

	// Player 1 has the lowest score 0; distinct scores run 0..(total-1)/2.
	highest := int64((total - 1) / 2)
	rank, found, err := cache.RankOf(ctx, 1)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !found {
		t.Fatal("expected player 1 to be found")
	}
	if rank != highest+1 {
		t.Errorf("expected rank %d, got %d", highest+1, rank)
	}
}

func TestRankCache_Lifecycle(t *testing.T) {
	Convey("Given an empty leaderboard", t, func() {
		ctx := context.Background()
		cache, mr := newTestRankCache(t)

		Convey("It is not initialized until touched", func() {
			ok, err := cache.IsInitialized(ctx)
			So(err, ShouldBeNil)
			So(ok, ShouldBeFalse)

			So(cache.Upsert(ctx, 1, "alice", 0), ShouldBeNil)
			ok, err = cache.IsInitialized(ctx)
			So(err, ShouldBeNil)
			So(ok, ShouldBeFalse)

			So(cache.Touch(ctx, time.Hour), ShouldBeNil)
			ok, err = cache.IsInitialized(ctx)
			So(err, ShouldBeNil)
			So(ok, ShouldBeTrue)
			So(mr.TTL(testKey), ShouldEqual, time.Hour)
		})

		Convey("Expiry drops the initialized marker with the entries", func() {
			So(cache.Upsert(ctx, 1, "alice", 2), ShouldBeNil)
			So(cache.Touch(ctx, time.Minute), ShouldBeNil)
			mr.FastForward(2 * time.Minute)

			ok, err := cache.IsInitialized(ctx)
			So(err, ShouldBeNil)
			So(ok, ShouldBeFalse)
			size, err := cache.Size(ctx)
			So(err, ShouldBeNil)
			So(size, ShouldEqual, 0)
		})

		Convey("A sorted set lost behind a live marker is not initialized", func() {
			So(cache.Upsert(ctx, 1, "alice", 2), ShouldBeNil)
			So(cache.Touch(ctx, time.Hour), ShouldBeNil)
			mr.Del(testKey)

			So(mr.Exists(testKey+":ready"), ShouldBeTrue)
			ok, err := cache.IsInitialized(ctx)
			So(err, ShouldBeNil)
			So(ok, ShouldBeFalse)
		})

		Convey("Clear removes entries and the marker", func() {
			So(cache.Upsert(ctx, 1, "alice", 2), ShouldBeNil)
			So(cache.Touch(ctx, time.Hour), ShouldBeNil)
			So(cache.Clear(ctx), ShouldBeNil)

			ok, err := cache.IsInitialized(ctx)
			So(err, ShouldBeNil)
			So(ok, ShouldBeFalse)
			entries, err := cache.TopN(ctx, 10)
			So(err, ShouldBeNil)
			So(entries, ShouldBeEmpty)
		})
	})
}
