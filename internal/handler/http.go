package handler

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/guess-leaderboard/internal/config"
	"github.com/guess-leaderboard/internal/domain"
	"github.com/guess-leaderboard/internal/metrics"
	"github.com/guess-leaderboard/internal/service"
	"github.com/guess-leaderboard/internal/websocket"
)

// Headers set by the upstream gateway and operators
const (
	HeaderPlayerID      = "X-Player-ID"
	HeaderAdminToken    = "X-Admin-Token"
	HeaderInternalToken = "X-Internal-Token"
)

const readyTimeout = 2 * time.Second

type contextKey struct{}

var playerIDKey contextKey

// ReadinessCheck reports whether a dependency is reachable
type ReadinessCheck func(ctx context.Context) error

// Handler provides HTTP handlers for the game API
type Handler struct {
	game        *service.GameService
	leaderboard *service.LeaderboardService
	players     *service.PlayerService
	hub         *websocket.Hub
	metrics     *metrics.Manager
	config      *config.ServerConfig
	logger      *slog.Logger
	checks      map[string]ReadinessCheck
}

// NewHandler creates a new HTTP handler
func NewHandler(
	game *service.GameService,
	leaderboard *service.LeaderboardService,
	players *service.PlayerService,
	hub *websocket.Hub,
	metricsManager *metrics.Manager,
	cfg *config.ServerConfig,
	logger *slog.Logger,
) *Handler {
	return &Handler{
		game:        game,
		leaderboard: leaderboard,
		players:     players,
		hub:         hub,
		metrics:     metricsManager,
		config:      cfg,
		logger:      logger,
		checks:      make(map[string]ReadinessCheck),
	}
}

// AddReadinessCheck registers a dependency probed by /ready
func (h *Handler) AddReadinessCheck(name string, check ReadinessCheck) {
	h.checks[name] = check
}

// APIResponse represents a standard API response
type APIResponse struct {
	Success bool        `json:"success"`
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

// GuessRequest is the body of a guess
type GuessRequest struct {
	Number *int `json:"number"`
}

// CreatePlayerRequest is the body of the account-creation hook
type CreatePlayerRequest struct {
	PlayerID int64  `json:"player_id"`
	Username string `json:"username"`
}

// Router creates and configures the HTTP router
func (h *Handler) Router() http.Handler {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Compress(5))
	r.Use(corsMiddleware)

	// Health check
	r.Get("/health", h.HealthCheck)
	r.Get("/ready", h.ReadyCheck)
	if h.metrics != nil {
		r.Handle("/metrics", h.metrics.Handler())
	}

	// WebSocket endpoint
	r.Get("/ws", h.HandleWebSocket)

	// API v1 routes
	r.Route("/api/v1", func(r chi.Router) {
		r.Group(func(r chi.Router) {
			r.Use(h.playerIdentity)

			r.Post("/game/guess", h.ProcessGuess)
			r.Post("/game/turns", h.BuyAdditionalTurns)
			r.Post("/game/reset", h.ResetPlayerTurns)

			r.Get("/players/me", h.GetPlayerProfile)
			r.Post("/players/refresh-profile", h.RefreshProfile)
		})

		r.Get("/players/leaderboard", h.GetLeaderboard)
		r.Get("/leaderboard/stats", h.GetLeaderboardStats)

		r.Group(func(r chi.Router) {
			r.Use(h.requireToken(HeaderAdminToken, h.config.AdminToken))
			r.Post("/admin/reset-leaderboard", h.ResetLeaderboard)
		})

		r.Group(func(r chi.Router) {
			r.Use(h.requireToken(HeaderInternalToken, h.config.InternalToken))
			r.Post("/internal/players", h.CreatePlayer)
		})

		// WebSocket info endpoint
		r.Get("/ws/stats", h.GetWebSocketStats)
	})

	return r
}

// corsMiddleware adds CORS headers
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Accept, Authorization, Content-Type, X-Request-ID, X-Player-ID, X-Admin-Token, X-Internal-Token")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// playerIdentity reads the authenticated player id set by the gateway
func (h *Handler) playerIdentity(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		playerID, err := strconv.ParseInt(r.Header.Get(HeaderPlayerID), 10, 64)
		if err != nil || playerID <= 0 {
			h.writeError(w, domain.ErrUnauthorized)
			return
		}
		ctx := context.WithValue(r.Context(), playerIDKey, playerID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// requireToken only lets requests through whose header carries the expected
// token; with no token configured the guarded routes are closed
func (h *Handler) requireToken(header, expected string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := r.Header.Get(header)
			if expected == "" || subtle.ConstantTimeCompare([]byte(token), []byte(expected)) != 1 {
				h.writeError(w, domain.ErrUnauthorized)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func playerIDFrom(ctx context.Context) int64 {
	id, _ := ctx.Value(playerIDKey).(int64)
	return id
}

// writeJSON writes a JSON response
func (h *Handler) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// writeSuccess writes a successful JSON response
func (h *Handler) writeSuccess(w http.ResponseWriter, data interface{}) {
	h.writeJSON(w, http.StatusOK, APIResponse{
		Success: true,
		Code:    domain.CodeOK,
		Message: "success",
		Data:    data,
	})
}

// writeError writes an error JSON response. Business errors keep their
// message; anything else is reported as a generic failure.
func (h *Handler) writeError(w http.ResponseWriter, err error) {
	status := statusFor(err)
	message := domain.ErrInternalError.Error()
	if domain.IsBusinessError(err) {
		message = businessMessage(err)
	}
	h.writeJSON(w, status, APIResponse{
		Success: false,
		Code:    domain.Code(err),
		Message: message,
	})
}

// businessMessage returns the sentinel message without wrapping details
func businessMessage(err error) string {
	for _, sentinel := range []error{
		domain.ErrInvalidGuess,
		domain.ErrInvalidRequest,
		domain.ErrNoTurnsLeft,
		domain.ErrConcurrentRequest,
		domain.ErrUnauthorized,
		domain.ErrPlayerNotFound,
		domain.ErrStatsNotFound,
	} {
		if errors.Is(err, sentinel) {
			return sentinel.Error()
		}
	}
	return err.Error()
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, domain.ErrInvalidGuess),
		errors.Is(err, domain.ErrInvalidRequest),
		errors.Is(err, domain.ErrNoTurnsLeft):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrConcurrentRequest):
		return http.StatusConflict
	case errors.Is(err, domain.ErrUnauthorized):
		return http.StatusUnauthorized
	case domain.IsNotFoundError(err):
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

// fail logs unexpected errors and writes the error response
func (h *Handler) fail(w http.ResponseWriter, op string, err error) {
	if !domain.IsBusinessError(err) {
		h.logger.Error("request failed", "op", op, "error", err)
	}
	h.writeError(w, err)
}

// HandleWebSocket handles WebSocket upgrade requests
func (h *Handler) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	// anonymous viewers only get board-wide updates
	playerID, _ := strconv.ParseInt(r.Header.Get(HeaderPlayerID), 10, 64)
	if playerID < 0 {
		playerID = 0
	}
	websocket.ServeWs(h.hub, h.logger, w, r, playerID)
}

// GetWebSocketStats returns WebSocket connection statistics
func (h *Handler) GetWebSocketStats(w http.ResponseWriter, r *http.Request) {
	h.writeSuccess(w, map[string]interface{}{
		"total_connections": h.hub.GetTotalConnections(),
		"subscribers":       h.hub.GetSubscriberCount(),
	})
}

// HealthCheck returns service health status
func (h *Handler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	h.writeSuccess(w, map[string]string{"status": "healthy"})
}

// ReadyCheck probes every registered dependency
func (h *Handler) ReadyCheck(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), readyTimeout)
	defer cancel()

	for name, check := range h.checks {
		if err := check(ctx); err != nil {
			h.logger.Warn("readiness check failed", "dependency", name, "error", err)
			h.writeJSON(w, http.StatusServiceUnavailable, APIResponse{
				Success: false,
				Code:    domain.CodeDatabase,
				Message: name + " unavailable",
			})
			return
		}
	}
	h.writeSuccess(w, map[string]string{"status": "ready"})
}

// ProcessGuess handles a guess by the calling player
func (h *Handler) ProcessGuess(w http.ResponseWriter, r *http.Request) {
	var req GuessRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Number == nil {
		h.writeError(w, domain.ErrInvalidRequest)
		return
	}

	result, err := h.game.ProcessGuess(r.Context(), playerIDFrom(r.Context()), *req.Number)
	if err != nil {
		h.fail(w, "process_guess", err)
		return
	}
	h.writeSuccess(w, result)
}

// BuyAdditionalTurns grants purchased turns to the calling player
func (h *Handler) BuyAdditionalTurns(w http.ResponseWriter, r *http.Request) {
	stats, err := h.game.BuyAdditionalTurns(r.Context(), playerIDFrom(r.Context()))
	if err != nil {
		h.fail(w, "buy_turns", err)
		return
	}
	h.writeSuccess(w, stats)
}

// ResetPlayerTurns restores the calling player's turns
func (h *Handler) ResetPlayerTurns(w http.ResponseWriter, r *http.Request) {
	stats, err := h.game.ResetPlayerTurns(r.Context(), playerIDFrom(r.Context()))
	if err != nil {
		h.fail(w, "reset_turns", err)
		return
	}
	h.writeSuccess(w, stats)
}

// GetPlayerProfile returns the calling player's profile
func (h *Handler) GetPlayerProfile(w http.ResponseWriter, r *http.Request) {
	profile, err := h.players.GetPlayerProfile(r.Context(), playerIDFrom(r.Context()))
	if err != nil {
		h.fail(w, "get_profile", err)
		return
	}
	h.writeSuccess(w, profile)
}

// RefreshProfile evicts the calling player's cached profile
func (h *Handler) RefreshProfile(w http.ResponseWriter, r *http.Request) {
	if err := h.players.RefreshProfileCache(r.Context(), playerIDFrom(r.Context())); err != nil {
		h.fail(w, "refresh_profile", err)
		return
	}
	h.writeSuccess(w, map[string]string{"status": "refreshed"})
}

// GetLeaderboard returns the top players
func (h *Handler) GetLeaderboard(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		l, err := strconv.Atoi(limitStr)
		if err != nil {
			h.writeError(w, domain.ErrInvalidRequest)
			return
		}
		limit = l
	}

	entries, err := h.leaderboard.GetLeaderboard(r.Context(), limit)
	if err != nil {
		h.fail(w, "get_leaderboard", err)
		return
	}
	h.writeSuccess(w, entries)
}

// GetLeaderboardStats returns the size and top score of the leaderboard
func (h *Handler) GetLeaderboardStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.leaderboard.Stats(r.Context())
	if err != nil {
		h.fail(w, "leaderboard_stats", err)
		return
	}
	h.writeSuccess(w, stats)
}

// ResetLeaderboard rebuilds the leaderboard from the stats store
func (h *Handler) ResetLeaderboard(w http.ResponseWriter, r *http.Request) {
	if err := h.leaderboard.ResetLeaderboard(r.Context()); err != nil {
		h.fail(w, "reset_leaderboard", err)
		return
	}
	h.logger.Info("leaderboard reset by operator")
	h.writeSuccess(w, map[string]string{"status": "reset"})
}

// CreatePlayer is the synchronous account-creation hook
func (h *Handler) CreatePlayer(w http.ResponseWriter, r *http.Request) {
	var req CreatePlayerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, domain.ErrInvalidRequest)
		return
	}

	player := domain.Player{ID: req.PlayerID, Username: req.Username}
	if err := h.game.InitializePlayer(r.Context(), player); err != nil {
		h.fail(w, "create_player", err)
		return
	}
	h.writeSuccess(w, player)
}
