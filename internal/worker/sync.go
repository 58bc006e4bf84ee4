package worker

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/guess-leaderboard/internal/config"
)

// Initializer rebuilds the leaderboard cache when it is missing
type Initializer interface {
	InitializeLeaderboard(ctx context.Context) (bool, error)
}

// SyncWorker periodically checks that the leaderboard cache exists and
// rebuilds it from the stats store when it has expired or been flushed
type SyncWorker struct {
	leaderboard Initializer
	config      *config.SyncConfig
	logger      *slog.Logger
	stopCh      chan struct{}
	doneCh      chan struct{}
	mu          sync.Mutex
	running     bool
}

// NewSyncWorker creates a new sync worker
func NewSyncWorker(
	leaderboard Initializer,
	cfg *config.SyncConfig,
	logger *slog.Logger,
) *SyncWorker {
	return &SyncWorker{
		leaderboard: leaderboard,
		config:      cfg,
		logger:      logger,
		stopCh:      make(chan struct{}),
		doneCh:      make(chan struct{}),
	}
}

// Start begins the background sync process
func (w *SyncWorker) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return nil
	}
	w.running = true
	w.mu.Unlock()

	w.logger.Info("sync worker started", "interval", w.config.Interval)

	go w.run(ctx)
	return nil
}

// Stop stops the background sync process
func (w *SyncWorker) Stop() error {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return nil
	}
	w.mu.Unlock()

	close(w.stopCh)
	<-w.doneCh

	w.mu.Lock()
	w.running = false
	w.mu.Unlock()

	w.logger.Info("sync worker stopped")
	return nil
}

// run is the main worker loop
func (w *SyncWorker) run(ctx context.Context) {
	defer close(w.doneCh)

	ticker := time.NewTicker(w.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stopCh:
			return
		case <-ticker.C:
			w.check(ctx)
		}
	}
}

// check rebuilds the leaderboard if needed
func (w *SyncWorker) check(ctx context.Context) {
	rebuilt, err := w.leaderboard.InitializeLeaderboard(ctx)
	if err != nil {
		w.logger.Error("leaderboard check failed", "error", err)
		return
	}
	if rebuilt {
		w.logger.Info("leaderboard was missing and has been rebuilt")
	} else {
		w.logger.Debug("leaderboard present")
	}
}

// IsRunning returns whether the worker is currently running
func (w *SyncWorker) IsRunning() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.running
}

// RunOnce runs a single check (useful for startup and manual triggers)
func (w *SyncWorker) RunOnce(ctx context.Context) {
	w.check(ctx)
}
