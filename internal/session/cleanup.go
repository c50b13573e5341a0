package session

import (
	"context"
	"log/slog"
	"time"

	"browsergrid/internal/eventbus"
	"browsergrid/internal/monitor"
)

type SweeperConfig struct {
	Interval    time.Duration // sweep loop interval
	IdleTimeout time.Duration // non-keep-alive sessions older than this are reclaimed
	Retention   time.Duration // terminal records older than this are deleted
}

// Sweeper periodically reclaims sessions past their idle timeout or hard
// expiry, and deletes terminal records once the retention window passes.
// It is the backstop for any container that escaped the normal teardown
// paths (crash mid-provisioning, process restart).
type Sweeper struct {
	repo        Repository
	bus         eventbus.EventBus
	terminateFn func(ctx context.Context, sessionID string) error
	config      SweeperConfig
	logger      *slog.Logger
	stopCh      chan struct{}
}

// NewSweeper creates the cleanup sweeper. terminateFn must implement full
// session termination (container teardown included); normally this is
// Orchestrator.TerminateSession.
func NewSweeper(
	repo Repository,
	bus eventbus.EventBus,
	terminateFn func(ctx context.Context, sessionID string) error,
	config SweeperConfig,
	logger *slog.Logger,
) *Sweeper {
	if config.Interval == 0 {
		config.Interval = time.Minute
	}
	if config.IdleTimeout == 0 {
		config.IdleTimeout = 5 * time.Minute
	}
	if config.Retention == 0 {
		config.Retention = 24 * time.Hour
	}
	return &Sweeper{
		repo:        repo,
		bus:         bus,
		terminateFn: terminateFn,
		config:      config,
		logger:      logger.With("component", "cleanup-sweeper"),
		stopCh:      make(chan struct{}),
	}
}

// Start runs the sweep loop. Blocking, call in a goroutine.
func (s *Sweeper) Start() {
	ticker := time.NewTicker(s.config.Interval)
	defer ticker.Stop()

	s.logger.Info("Cleanup sweeper started",
		"interval", s.config.Interval,
		"idle_timeout", s.config.IdleTimeout,
		"retention", s.config.Retention,
	)

	for {
		select {
		case <-s.stopCh:
			s.logger.Info("Cleanup sweeper stopped")
			return
		case <-ticker.C:
			s.Sweep()
		}
	}
}

func (s *Sweeper) Stop() {
	select {
	case <-s.stopCh:
		// already closed
	default:
		close(s.stopCh)
	}
}

// Sweep runs a single pass. Errors for one session are logged and never
// abort the rest of the batch.
func (s *Sweeper) Sweep() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	s.reclaimExpired(ctx)
	s.deleteRetained(ctx)
}

func (s *Sweeper) reclaimExpired(ctx context.Context) {
	active, err := s.repo.ListByStatus(ctx, NonTerminalStatuses())
	if err != nil {
		s.logger.Error("Failed to list active sessions", "error", err)
		return
	}
	monitor.SessionsActive.Set(float64(len(active)))

	now := time.Now()
	reclaimed := 0

	for _, rec := range active {
		age := now.Sub(rec.CreatedAt)
		idle := age > s.config.IdleTimeout && !rec.KeepAlive
		expired := now.After(rec.ExpiresAt) // hard expiry, keep-alive included

		if !idle && !expired {
			continue
		}

		limit := s.config.IdleTimeout
		if expired {
			limit = rec.ExpiresAt.Sub(rec.CreatedAt)
		}

		s.logger.Warn("Reclaiming session",
			"session_id", rec.ID,
			"status", rec.Status,
			"age", age,
			"keep_alive", rec.KeepAlive,
			"hard_expired", expired,
		)

		s.publishTimeout(ctx, rec.ID, age, limit)

		if err := s.terminateFn(ctx, rec.ID); err != nil {
			s.logger.Error("Failed to terminate session", "session_id", rec.ID, "error", err)
			// at least pin the record so it stops being swept as live
			if terr := s.repo.Transition(ctx, rec.ID, NonTerminalStatuses(), StatusFailed); terr != nil {
				s.logger.Error("Failed to mark session failed", "session_id", rec.ID, "error", terr)
			}
			continue
		}
		monitor.SweeperReclaimedTotal.Inc()
		reclaimed++
	}

	if reclaimed > 0 {
		s.logger.Info("Session reclaim completed", "reclaimed", reclaimed)
	}
}

func (s *Sweeper) deleteRetained(ctx context.Context) {
	cutoff := time.Now().Add(-s.config.Retention)
	stale, err := s.repo.ListTerminalUpdatedBefore(ctx, cutoff)
	if err != nil {
		s.logger.Error("Failed to list retained sessions", "error", err)
		return
	}

	for _, rec := range stale {
		if err := s.repo.Delete(ctx, rec.ID); err != nil {
			s.logger.Error("Failed to delete retained session", "session_id", rec.ID, "error", err)
			continue
		}
		monitor.SweeperDeletedTotal.Inc()
	}

	if len(stale) > 0 {
		s.logger.Info("Retention cleanup completed", "deleted", len(stale))
	}
}

func (s *Sweeper) publishTimeout(ctx context.Context, sessionID string, age, limit time.Duration) {
	ev := eventbus.Event{
		Type:      eventbus.EventSessionTimedOut,
		SessionID: sessionID,
		Detail:    eventbus.TimedOut{Age: age, Limit: limit},
		Timestamp: time.Now(),
	}
	if err := s.bus.Publish(ctx, sessionID, ev); err != nil {
		s.logger.Warn("Failed to publish timeout event", "session_id", sessionID, "error", err)
	}
}

// ReclaimAllActive terminates every live session; used on shutdown so no
// container outlives the platform.
func ReclaimAllActive(
	ctx context.Context,
	repo Repository,
	terminateFn func(ctx context.Context, sessionID string) error,
	logger *slog.Logger,
) {
	active, err := repo.ListByStatus(ctx, NonTerminalStatuses())
	if err != nil {
		logger.Error("Failed to list active sessions for shutdown cleanup", "error", err)
		return
	}
	if len(active) == 0 {
		return
	}

	logger.Info("Reclaiming active sessions on shutdown", "count", len(active))
	for _, rec := range active {
		if err := terminateFn(ctx, rec.ID); err != nil {
			logger.Error("Failed to terminate session on shutdown", "session_id", rec.ID, "error", err)
		}
	}
	logger.Info("Shutdown session cleanup completed")
}
