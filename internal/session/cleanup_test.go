package session_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"browsergrid/internal/eventbus"
	"browsergrid/internal/session"
)

type terminateRecorder struct {
	mu     sync.Mutex
	calls  []string
	err    error
	onCall func(ctx context.Context, sessionID string) error
}

func (r *terminateRecorder) terminate(ctx context.Context, sessionID string) error {
	r.mu.Lock()
	r.calls = append(r.calls, sessionID)
	r.mu.Unlock()
	if r.onCall != nil {
		return r.onCall(ctx, sessionID)
	}
	return r.err
}

func (r *terminateRecorder) terminated() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.calls...)
}

func seedAged(t *testing.T, repo *memRepo, id string, status session.Status, age time.Duration, keepAlive bool, lifetime time.Duration) {
	t.Helper()
	created := time.Now().Add(-age)
	if err := repo.Create(context.Background(), &session.Record{
		ID:        id,
		ProjectID: "proj-1",
		Status:    status,
		KeepAlive: keepAlive,
		CreatedAt: created,
		UpdatedAt: created,
		ExpiresAt: created.Add(lifetime),
	}); err != nil {
		t.Fatal(err)
	}
}

func TestSweeperReclaim(t *testing.T) {
	cfg := session.SweeperConfig{
		Interval:    time.Hour, // Sweep is driven manually in tests
		IdleTimeout: 5 * time.Minute,
		Retention:   24 * time.Hour,
	}

	t.Run("IdleSessionReclaimed", func(t *testing.T) {
		repo := newMemRepo()
		bus := newMemBus()
		rec := &terminateRecorder{}
		seedAged(t, repo, "idle", session.StatusReady, 10*time.Minute, false, time.Hour)
		seedAged(t, repo, "fresh", session.StatusReady, time.Minute, false, time.Hour)

		session.NewSweeper(repo, bus, rec.terminate, cfg, discardLogger()).Sweep()

		got := rec.terminated()
		if len(got) != 1 || got[0] != "idle" {
			t.Errorf("Expected only the idle session reclaimed, got %v", got)
		}
		if evs := bus.eventsOfType(eventbus.EventSessionTimedOut); len(evs) != 1 || evs[0].SessionID != "idle" {
			t.Errorf("Expected 1 timeout event for the idle session, got %d", len(evs))
		}
	})

	t.Run("KeepAliveExemptFromIdle", func(t *testing.T) {
		repo := newMemRepo()
		rec := &terminateRecorder{}
		seedAged(t, repo, "pinned", session.StatusReady, time.Hour, true, 2*time.Hour)

		session.NewSweeper(repo, newMemBus(), rec.terminate, cfg, discardLogger()).Sweep()

		if len(rec.terminated()) != 0 {
			t.Errorf("Keep-alive session must survive the idle sweep, got %v", rec.terminated())
		}
	})

	t.Run("HardExpiryOverridesKeepAlive", func(t *testing.T) {
		repo := newMemRepo()
		rec := &terminateRecorder{}
		seedAged(t, repo, "expired", session.StatusReady, 2*time.Hour, true, time.Hour)

		session.NewSweeper(repo, newMemBus(), rec.terminate, cfg, discardLogger()).Sweep()

		got := rec.terminated()
		if len(got) != 1 || got[0] != "expired" {
			t.Errorf("Expired keep-alive session must be reclaimed, got %v", got)
		}
	})

	t.Run("StuckProvisioningReclaimed", func(t *testing.T) {
		repo := newMemRepo()
		rec := &terminateRecorder{}
		seedAged(t, repo, "stuck", session.StatusProvisioning, 10*time.Minute, false, time.Hour)

		session.NewSweeper(repo, newMemBus(), rec.terminate, cfg, discardLogger()).Sweep()

		if got := rec.terminated(); len(got) != 1 || got[0] != "stuck" {
			t.Errorf("Stuck non-ready session must be reclaimed, got %v", got)
		}
	})

	t.Run("TerminateFailurePinsRecord", func(t *testing.T) {
		repo := newMemRepo()
		rec := &terminateRecorder{err: errors.New("docker unavailable")}
		seedAged(t, repo, "broken", session.StatusReady, 10*time.Minute, false, time.Hour)

		session.NewSweeper(repo, newMemBus(), rec.terminate, cfg, discardLogger()).Sweep()

		got, err := repo.GetByID(context.Background(), "broken")
		if err != nil {
			t.Fatal(err)
		}
		if got.Status != session.StatusFailed {
			t.Errorf("Unterminatable session should be pinned as failed, got %s", got.Status)
		}
	})

	t.Run("FailuresDoNotAbortBatch", func(t *testing.T) {
		repo := newMemRepo()
		rec := &terminateRecorder{onCall: func(ctx context.Context, id string) error {
			if id == "broken" {
				return errors.New("docker unavailable")
			}
			return nil
		}}
		seedAged(t, repo, "broken", session.StatusReady, 10*time.Minute, false, time.Hour)
		seedAged(t, repo, "other", session.StatusReady, 10*time.Minute, false, time.Hour)

		session.NewSweeper(repo, newMemBus(), rec.terminate, cfg, discardLogger()).Sweep()

		if len(rec.terminated()) != 2 {
			t.Errorf("Both sessions should be attempted, got %v", rec.terminated())
		}
	})
}

func TestSweeperRetention(t *testing.T) {
	cfg := session.SweeperConfig{
		Interval:    time.Hour,
		IdleTimeout: 5 * time.Minute,
		Retention:   24 * time.Hour,
	}

	repo := newMemRepo()
	rec := &terminateRecorder{}
	ctx := context.Background()

	old := time.Now().Add(-48 * time.Hour)
	if err := repo.Create(ctx, &session.Record{
		ID: "stale", ProjectID: "proj-1", Status: session.StatusStopped,
		CreatedAt: old, UpdatedAt: old, ExpiresAt: old.Add(time.Hour),
	}); err != nil {
		t.Fatal(err)
	}
	recent := time.Now().Add(-time.Hour)
	if err := repo.Create(ctx, &session.Record{
		ID: "recent", ProjectID: "proj-1", Status: session.StatusFailed,
		CreatedAt: recent, UpdatedAt: recent, ExpiresAt: recent.Add(time.Hour),
	}); err != nil {
		t.Fatal(err)
	}

	session.NewSweeper(repo, newMemBus(), rec.terminate, cfg, discardLogger()).Sweep()

	if _, err := repo.GetByID(ctx, "stale"); !errors.Is(err, session.ErrNotFound) {
		t.Errorf("Record past retention should be deleted, got %v", err)
	}
	if _, err := repo.GetByID(ctx, "recent"); err != nil {
		t.Errorf("Record within retention should survive: %v", err)
	}
	if len(rec.terminated()) != 0 {
		t.Errorf("Terminal records are deleted, not terminated, got %v", rec.terminated())
	}
}

func TestReclaimAllActive(t *testing.T) {
	repo := newMemRepo()
	rec := &terminateRecorder{}
	ctx := context.Background()

	seedAged(t, repo, "a", session.StatusReady, time.Minute, false, time.Hour)
	seedAged(t, repo, "b", session.StatusProvisioning, time.Minute, true, time.Hour)
	seedAged(t, repo, "c", session.StatusStopped, time.Minute, false, time.Hour)

	session.ReclaimAllActive(ctx, repo, rec.terminate, discardLogger())

	got := rec.terminated()
	if len(got) != 2 {
		t.Fatalf("Expected 2 live sessions reclaimed, got %v", got)
	}
	for _, id := range got {
		if id == "c" {
			t.Error("Stopped session must not be reclaimed on shutdown")
		}
	}
}

func TestSweeperStartStop(t *testing.T) {
	cfg := session.SweeperConfig{
		Interval:    10 * time.Millisecond,
		IdleTimeout: time.Minute,
		Retention:   time.Hour,
	}
	s := session.NewSweeper(newMemRepo(), newMemBus(), (&terminateRecorder{}).terminate, cfg, discardLogger())

	done := make(chan struct{})
	go func() {
		s.Start()
		close(done)
	}()

	time.Sleep(30 * time.Millisecond)
	s.Stop()
	s.Stop() // repeated stop is safe

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Sweeper did not stop")
	}
}
