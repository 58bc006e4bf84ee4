package websocket

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/guess-leaderboard/internal/domain"
	. "github.com/smartystreets/goconvey/convey"
)

func newTestHub(t *testing.T) (*Hub, string) {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	hub := NewHub(logger)
	hub.SetSnapshot(func(context.Context) ([]domain.LeaderboardEntry, int64, error) {
		return []domain.LeaderboardEntry{{Rank: 1, PlayerID: 1, Username: "alice", Score: 3}}, 1, nil
	})
	go hub.Run()
	t.Cleanup(hub.Stop)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		playerID, _ := strconv.ParseInt(r.Header.Get("X-Player-ID"), 10, 64)
		ServeWs(hub, logger, w, r, playerID)
	}))
	t.Cleanup(srv.Close)
	return hub, "ws" + strings.TrimPrefix(srv.URL, "http")
}

// readMessage reads the next message, splitting batched frames
func readMessage(t *testing.T, conn *websocket.Conn) Message {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("reading message: %v", err)
	}
	first, _, _ := strings.Cut(string(data), "\n")
	var msg Message
	if err := json.Unmarshal([]byte(first), &msg); err != nil {
		t.Fatalf("decoding message %q: %v", first, err)
	}
	return msg
}

func waitFor(cond func() bool) bool {
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return true
		}
		time.Sleep(5 * time.Millisecond)
	}
	return false
}

func TestHub(t *testing.T) {
	Convey("Given a hub with a connected viewer", t, func() {
		hub, url := newTestHub(t)
		conn, _, err := websocket.DefaultDialer.Dial(url, nil)
		So(err, ShouldBeNil)
		defer conn.Close()

		Convey("The viewer first receives a snapshot", func() {
			msg := readMessage(t, conn)
			So(msg.Type, ShouldEqual, MessageTypeLeaderboardUpdate)
		})

		Convey("Player updates reach subscribed viewers", func() {
			So(readMessage(t, conn).Type, ShouldEqual, MessageTypeLeaderboardUpdate)
			So(waitFor(func() bool { return hub.GetSubscriberCount() == 1 }), ShouldBeTrue)

			hub.BroadcastPlayerUpdate(domain.LeaderboardEntry{Rank: 1, PlayerID: 2, Username: "bob", Score: 4})
			msg := readMessage(t, conn)
			So(msg.Type, ShouldEqual, MessageTypePlayerUpdate)
			data, _ := msg.Data.(map[string]interface{})
			So(data["username"], ShouldEqual, "bob")
		})

		Convey("Unsubscribing stops updates but keeps the connection", func() {
			So(readMessage(t, conn).Type, ShouldEqual, MessageTypeLeaderboardUpdate)
			So(conn.WriteJSON(ClientMessage{Type: MessageTypeUnsubscribe}), ShouldBeNil)
			So(readMessage(t, conn).Type, ShouldEqual, MessageTypeUnsubscribed)
			So(waitFor(func() bool { return hub.GetSubscriberCount() == 0 }), ShouldBeTrue)
			So(hub.GetTotalConnections(), ShouldEqual, 1)
		})

		Convey("Unknown control messages are answered with an error", func() {
			So(readMessage(t, conn).Type, ShouldEqual, MessageTypeLeaderboardUpdate)
			So(conn.WriteJSON(ClientMessage{Type: "dance"}), ShouldBeNil)
			So(readMessage(t, conn).Type, ShouldEqual, MessageTypeError)
		})

		Convey("Ping is answered with pong", func() {
			So(readMessage(t, conn).Type, ShouldEqual, MessageTypeLeaderboardUpdate)
			So(conn.WriteJSON(ClientMessage{Type: MessageTypePing}), ShouldBeNil)
			So(readMessage(t, conn).Type, ShouldEqual, MessageTypePong)
		})

		Convey("Closing the connection unregisters the viewer", func() {
			So(waitFor(func() bool { return hub.GetTotalConnections() == 1 }), ShouldBeTrue)
			conn.Close()
			So(waitFor(func() bool { return hub.GetTotalConnections() == 0 }), ShouldBeTrue)
		})
	})
}

func TestHub_PlayerViewer(t *testing.T) {
	Convey("Given an unsubscribed viewer opened by player 7", t, func() {
		hub, url := newTestHub(t)
		conn, _, err := websocket.DefaultDialer.Dial(url, http.Header{"X-Player-ID": {"7"}})
		So(err, ShouldBeNil)
		defer conn.Close()

		So(readMessage(t, conn).Type, ShouldEqual, MessageTypeLeaderboardUpdate)
		So(conn.WriteJSON(ClientMessage{Type: MessageTypeUnsubscribe}), ShouldBeNil)
		So(readMessage(t, conn).Type, ShouldEqual, MessageTypeUnsubscribed)
		So(waitFor(func() bool { return hub.GetSubscriberCount() == 0 }), ShouldBeTrue)

		Convey("Only the player's own updates still arrive", func() {
			hub.BroadcastPlayerUpdate(domain.LeaderboardEntry{Rank: 1, PlayerID: 2, Username: "bob", Score: 4})
			hub.BroadcastLeaderboardUpdate(nil, 2)
			hub.BroadcastPlayerUpdate(domain.LeaderboardEntry{Rank: 2, PlayerID: 7, Username: "gus", Score: 1})

			msg := readMessage(t, conn)
			So(msg.Type, ShouldEqual, MessageTypePlayerUpdate)
			data, _ := msg.Data.(map[string]interface{})
			So(data["player_id"], ShouldEqual, float64(7))
			So(data["rank"], ShouldEqual, float64(2))
		})
	})
}

func TestHub_Stop(t *testing.T) {
	Convey("Given a stopped hub", t, func() {
		hub := NewHub(slog.New(slog.NewTextHandler(io.Discard, nil)))
		hub.Stop()

		Convey("Client bookkeeping calls return instead of blocking", func() {
			done := make(chan bool, 1)
			go func() {
				client := &Client{send: make(chan []byte, 1)}
				hub.Unregister(client)
				hub.Unsubscribe(client)
				done <- hub.Register(client)
			}()

			select {
			case registered := <-done:
				So(registered, ShouldBeFalse)
			case <-time.After(2 * time.Second):
				t.Fatal("hub call blocked after Stop")
			}
		})
	})
}
