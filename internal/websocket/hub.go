package websocket

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/guess-leaderboard/internal/domain"
)

// Message types
const (
	MessageTypeLeaderboardUpdate = "leaderboard_update"
	MessageTypePlayerUpdate      = "player_update"
	MessageTypeSubscribe         = "subscribe"
	MessageTypeUnsubscribe       = "unsubscribe"
	MessageTypeSubscribed        = "subscribed"
	MessageTypeUnsubscribed      = "unsubscribed"
	MessageTypePing              = "ping"
	MessageTypePong              = "pong"
	MessageTypeError             = "error"
)

const snapshotTimeout = 5 * time.Second

// Message represents a WebSocket message
type Message struct {
	Type      string      `json:"type"`
	Data      interface{} `json:"data,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
}

// LeaderboardUpdate contains leaderboard data for broadcast
type LeaderboardUpdate struct {
	Entries      []domain.LeaderboardEntry `json:"entries"`
	TotalPlayers int64                     `json:"total_players"`
}

// SnapshotFunc returns the current top of the leaderboard for new subscribers
type SnapshotFunc func(ctx context.Context) ([]domain.LeaderboardEntry, int64, error)

// Hub maintains the set of connected clients and broadcasts leaderboard
// changes to the ones subscribed to them
type Hub struct {
	// All connected clients, mapped to whether they want updates
	clients map[*Client]bool

	// Register requests from clients
	register chan *Client

	// Unregister requests from clients
	unregister chan *Client

	// Outbound messages
	broadcast chan outbound

	// Subscription changes
	subscription chan subscriptionRequest

	snapshot SnapshotFunc

	// Mutex for thread-safe operations
	mu sync.RWMutex

	// Logger
	logger *slog.Logger

	// Context for shutdown
	ctx    context.Context
	cancel context.CancelFunc
}

// outbound is a message plus the player it concerns, zero for board-wide updates
type outbound struct {
	message *Message
	player  int64
}

type subscriptionRequest struct {
	client    *Client
	subscribe bool
}

// NewHub creates a new Hub
func NewHub(logger *slog.Logger) *Hub {
	ctx, cancel := context.WithCancel(context.Background())
	return &Hub{
		clients:      make(map[*Client]bool),
		register:     make(chan *Client),
		unregister:   make(chan *Client),
		broadcast:    make(chan outbound, 256),
		subscription: make(chan subscriptionRequest, 64),
		logger:       logger,
		ctx:          ctx,
		cancel:       cancel,
	}
}

// SetSnapshot sets the source of the snapshot sent to new subscribers
func (h *Hub) SetSnapshot(fn SnapshotFunc) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.snapshot = fn
}

// Run starts the hub's main loop
func (h *Hub) Run() {
	h.logger.Info("WebSocket hub started")
	for {
		select {
		case <-h.ctx.Done():
			h.logger.Info("WebSocket hub stopping")
			return

		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			h.mu.Unlock()
			h.logger.Debug("client registered", "client_id", client.id)
			go h.sendSnapshot(client)

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.send)
			}
			h.mu.Unlock()
			h.logger.Debug("client unregistered", "client_id", client.id)

		case req := <-h.subscription:
			h.mu.Lock()
			_, connected := h.clients[req.client]
			if connected {
				h.clients[req.client] = req.subscribe
			}
			h.mu.Unlock()
			if connected && req.subscribe {
				go h.sendSnapshot(req.client)
			}
			h.logger.Debug("client subscription changed", "client_id", req.client.id, "subscribed", req.subscribe)

		case out := <-h.broadcast:
			h.broadcastMessage(out)
		}
	}
}

// Stop stops the hub
func (h *Hub) Stop() {
	h.cancel()
}

// broadcastMessage sends a message to all subscribed clients and to the
// concerned player's own viewers
func (h *Hub) broadcastMessage(out outbound) {
	data, err := json.Marshal(out.message)
	if err != nil {
		h.logger.Error("failed to marshal message", "error", err)
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for client, subscribed := range h.clients {
		if !client.wants(subscribed, out.player) {
			continue
		}
		select {
		case client.send <- data:
		default:
			// Client's buffer is full, skip
			h.logger.Warn("client buffer full, skipping", "client_id", client.id)
		}
	}
}

// sendSnapshot sends the current leaderboard to one client
func (h *Hub) sendSnapshot(client *Client) {
	h.mu.RLock()
	snapshot := h.snapshot
	h.mu.RUnlock()
	if snapshot == nil {
		return
	}

	ctx, cancel := context.WithTimeout(h.ctx, snapshotTimeout)
	defer cancel()
	entries, total, err := snapshot(ctx)
	if err != nil {
		h.logger.Warn("failed to load leaderboard snapshot", "client_id", client.id, "error", err)
		return
	}

	data, err := json.Marshal(newLeaderboardMessage(entries, total))
	if err != nil {
		h.logger.Error("failed to marshal snapshot", "error", err)
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	if _, ok := h.clients[client]; !ok {
		return
	}
	select {
	case client.send <- data:
	default:
	}
}

func newLeaderboardMessage(entries []domain.LeaderboardEntry, totalPlayers int64) *Message {
	return &Message{
		Type: MessageTypeLeaderboardUpdate,
		Data: LeaderboardUpdate{
			Entries:      entries,
			TotalPlayers: totalPlayers,
		},
		Timestamp: time.Now(),
	}
}

// BroadcastLeaderboardUpdate sends a leaderboard update to all subscribed clients
func (h *Hub) BroadcastLeaderboardUpdate(entries []domain.LeaderboardEntry, totalPlayers int64) {
	h.enqueue(outbound{message: newLeaderboardMessage(entries, totalPlayers)})
}

// BroadcastPlayerUpdate sends a player's new score and rank
func (h *Hub) BroadcastPlayerUpdate(entry domain.LeaderboardEntry) {
	h.enqueue(outbound{
		message: &Message{
			Type:      MessageTypePlayerUpdate,
			Data:      entry,
			Timestamp: time.Now(),
		},
		player: entry.PlayerID,
	})
}

func (h *Hub) enqueue(out outbound) {
	select {
	case h.broadcast <- out:
	default:
		h.logger.Warn("broadcast channel full, dropping message", "type", out.message.Type)
	}
}

// Register adds a client to the hub. It reports false once the hub has stopped.
func (h *Hub) Register(client *Client) bool {
	select {
	case h.register <- client:
		return true
	case <-h.ctx.Done():
		return false
	}
}

// Unregister removes a client from the hub; after Stop it returns immediately
func (h *Hub) Unregister(client *Client) {
	select {
	case h.unregister <- client:
	case <-h.ctx.Done():
	}
}

// Subscribe starts sending leaderboard updates to a client
func (h *Hub) Subscribe(client *Client) {
	h.changeSubscription(subscriptionRequest{client: client, subscribe: true})
}

// Unsubscribe stops sending leaderboard updates to a client
func (h *Hub) Unsubscribe(client *Client) {
	h.changeSubscription(subscriptionRequest{client: client, subscribe: false})
}

func (h *Hub) changeSubscription(req subscriptionRequest) {
	select {
	case h.subscription <- req:
	case <-h.ctx.Done():
	}
}

// GetSubscriberCount returns the number of clients receiving updates
func (h *Hub) GetSubscriberCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	count := 0
	for _, subscribed := range h.clients {
		if subscribed {
			count++
		}
	}
	return count
}

// GetTotalConnections returns the total number of connected clients
func (h *Hub) GetTotalConnections() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}
