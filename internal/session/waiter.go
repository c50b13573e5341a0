package session

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"browsergrid/internal/eventbus"
)

// Waiter blocks until a session becomes ready. It subscribes to the
// session's event channel and polls the record store at a low frequency
// as a fallback, so a missed event delivery costs at most one poll
// interval instead of the whole deadline.
type Waiter struct {
	repo         Repository
	bus          eventbus.EventBus
	pollInterval time.Duration
	logger       *slog.Logger
}

func NewWaiter(repo Repository, bus eventbus.EventBus, pollInterval time.Duration, logger *slog.Logger) *Waiter {
	if pollInterval == 0 {
		pollInterval = 2 * time.Second
	}
	return &Waiter{
		repo:         repo,
		bus:          bus,
		pollInterval: pollInterval,
		logger:       logger.With("component", "readiness-waiter"),
	}
}

// WaitForReady returns the record as soon as either the event path or the
// poll path observes the session ready, ErrWaitTimeout when the deadline
// passes first. A zero or negative timeout fails immediately without
// blocking.
func (w *Waiter) WaitForReady(ctx context.Context, sessionID string, timeout time.Duration) (*Record, error) {
	if timeout <= 0 {
		return nil, ErrWaitTimeout
	}
	if deadline, ok := ctx.Deadline(); ok && !deadline.After(time.Now()) {
		return nil, ErrWaitTimeout
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	events, err := w.bus.Subscribe(ctx, sessionID)
	if err != nil {
		// degrade to pure polling
		w.logger.Warn("Event subscription failed, falling back to polling", "session_id", sessionID, "error", err)
		events = nil
	}

	// Check once up front: the session may already be ready, and the
	// subscription above may have raced a just-published event.
	if rec, done, err := w.check(ctx, sessionID); done {
		return rec, err
	}

	ticker := time.NewTicker(w.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil, ErrWaitTimeout

		case ev, ok := <-events:
			if !ok {
				events = nil // a nil channel blocks forever; polling takes over
				continue
			}
			switch ev.Type {
			case eventbus.EventSessionReady:
				return w.repo.GetByID(ctx, sessionID)
			case eventbus.EventSessionFailed, eventbus.EventSessionTimedOut, eventbus.EventSessionTerminated:
				return nil, fmt.Errorf("session %s failed before becoming ready (%s)", sessionID, ev.Type)
			}

		case <-ticker.C:
			if rec, done, err := w.check(ctx, sessionID); done {
				return rec, err
			}
		}
	}
}

func (w *Waiter) check(ctx context.Context, sessionID string) (*Record, bool, error) {
	rec, err := w.repo.GetByID(ctx, sessionID)
	if err != nil {
		return nil, true, err
	}
	switch rec.Status {
	case StatusReady:
		return rec, true, nil
	case StatusFailed, StatusStopped, StatusTerminating:
		return nil, true, fmt.Errorf("session %s failed before becoming ready (status: %s)", sessionID, rec.Status)
	}
	return nil, false, nil
}
