package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"browsergrid/internal/eventbus"
	"browsergrid/internal/launcher"
	"browsergrid/internal/monitor"
	"browsergrid/internal/token"
)

type OrchestratorConfig struct {
	DefaultTimeout time.Duration // session lifetime when the caller gives none
	MaxTimeout     time.Duration // platform ceiling on requested lifetimes
	ReadyTimeout   time.Duration // end-to-end provisioning deadline
	PollInterval   time.Duration // readiness waiter store-poll fallback
	ProbeInterval  time.Duration // address probe interval
	MaxRetries     int           // provisioning attempts beyond the first
	CallbackTTL    time.Duration // async continuation token lifetime
	DefaultRegion  string
}

func (c *OrchestratorConfig) applyDefaults() {
	if c.DefaultTimeout == 0 {
		c.DefaultTimeout = 86400 * time.Second
	}
	if c.MaxTimeout == 0 {
		c.MaxTimeout = 72 * time.Hour
	}
	if c.ReadyTimeout == 0 {
		c.ReadyTimeout = 150 * time.Second
	}
	if c.PollInterval == 0 {
		c.PollInterval = 2 * time.Second
	}
	if c.ProbeInterval == 0 {
		c.ProbeInterval = 500 * time.Millisecond
	}
	if c.MaxRetries == 0 {
		c.MaxRetries = 3
	}
	if c.CallbackTTL == 0 {
		c.CallbackTTL = 10 * time.Minute
	}
	if c.DefaultRegion == "" {
		c.DefaultRegion = "us-west-2"
	}
}

// Orchestrator drives a session from creation through termination. It has
// no in-process mutable state of its own; all coordination goes through
// the record store, so concurrent invocations for different sessions
// never contend and same-session races resolve via conditional
// transitions.
type Orchestrator struct {
	repo      Repository
	callbacks CallbackTokenStore
	launcher  launcher.Launcher
	issuer    token.Issuer
	bus       eventbus.EventBus
	queue     ProvisionQueue
	waiter    *Waiter
	cfg       OrchestratorConfig
	logger    *slog.Logger
}

func NewOrchestrator(
	repo Repository,
	callbacks CallbackTokenStore,
	lnchr launcher.Launcher,
	issuer token.Issuer,
	bus eventbus.EventBus,
	queue ProvisionQueue,
	cfg OrchestratorConfig,
	logger *slog.Logger,
) *Orchestrator {
	cfg.applyDefaults()
	l := logger.With("component", "orchestrator")
	return &Orchestrator{
		repo:      repo,
		callbacks: callbacks,
		launcher:  lnchr,
		issuer:    issuer,
		bus:       bus,
		queue:     queue,
		waiter:    NewWaiter(repo, bus, cfg.PollInterval, l),
		cfg:       cfg,
		logger:    l,
	}
}

// CreateSession provisions a new browser session. In synchronous mode it
// blocks until the container is network-ready (or the ready deadline
// passes); in asynchronous mode it returns as soon as the provisioning
// task is enqueued, with the container's own readiness report completing
// the session later.
func (o *Orchestrator) CreateSession(ctx context.Context, params CreateParams) (*Record, error) {
	if params.ProjectID == "" {
		return nil, fmt.Errorf("%w: project id is required", ErrValidation)
	}

	timeout := o.cfg.DefaultTimeout
	if params.TimeoutSeconds > 0 {
		timeout = time.Duration(params.TimeoutSeconds) * time.Second
	}
	if timeout > o.cfg.MaxTimeout {
		timeout = o.cfg.MaxTimeout
	}

	region := params.Region
	if region == "" {
		region = o.cfg.DefaultRegion
	}

	now := time.Now()
	rec := &Record{
		ID:        uuid.New().String(),
		ProjectID: params.ProjectID,
		Status:    StatusCreating,
		Region:    region,
		KeepAlive: params.KeepAlive,
		Metadata:  params.Metadata,
		CreatedAt: now,
		UpdatedAt: now,
		ExpiresAt: now.Add(timeout),
	}

	if err := o.repo.Create(ctx, rec); err != nil {
		return nil, err
	}
	monitor.SessionsCreatedTotal.Inc()

	accessToken, err := o.issuer.Issue(rec.ID, rec.ProjectID, timeout)
	if err != nil {
		// A session without a valid token is unusable. Nothing has been
		// placed yet, so drop the record.
		_ = o.repo.Delete(ctx, rec.ID)
		return nil, fmt.Errorf("token issuance: %w", err)
	}
	if err := o.repo.SetAccessToken(ctx, rec.ID, accessToken); err != nil {
		_ = o.repo.Delete(ctx, rec.ID)
		return nil, err
	}
	rec.AccessToken = accessToken

	if err := o.repo.Transition(ctx, rec.ID, []Status{StatusCreating}, StatusProvisioning); err != nil {
		return nil, err
	}
	rec.Status = StatusProvisioning

	if params.Async {
		if err := o.queue.EnqueueProvision(ctx, rec.ID, params.ContinuationToken, 0); err != nil {
			monitor.ProvisioningErrorsTotal.Inc()
			o.markFailed(ctx, rec.ID, err.Error())
			return nil, fmt.Errorf("%w: %v", ErrProvisioningFailed, err)
		}
		o.logger.Info("Session provisioning enqueued", "session_id", rec.ID, "project_id", rec.ProjectID)
		return rec, nil
	}

	handle, err := o.launchAndTrack(ctx, rec)
	if err != nil {
		monitor.ProvisioningErrorsTotal.Inc()
		// The failed record stays visible (external status ERROR) until
		// retention cleanup deletes it; no container was placed.
		o.markFailed(ctx, rec.ID, err.Error())
		return nil, fmt.Errorf("%w: %v", ErrProvisioningFailed, err)
	}

	// Supervised address monitor, bounded by the ready deadline and by
	// the caller's own cancellation. It reports through the event bus so
	// the waiter below unblocks the moment an address is confirmed.
	monCtx, cancelMon := context.WithTimeout(ctx, o.cfg.ReadyTimeout)
	defer cancelMon()
	go func() {
		if err := o.monitorAddress(monCtx, rec.ID, handle); err != nil && !errors.Is(err, context.Canceled) {
			o.logger.Warn("Address monitor exited", "session_id", rec.ID, "error", err)
		}
	}()

	ready, err := o.waiter.WaitForReady(ctx, rec.ID, o.cfg.ReadyTimeout)
	if err != nil {
		cancelMon()
		monitor.ProvisioningErrorsTotal.Inc()
		o.cleanupFailed(rec.ID, handle, err.Error())
		if errors.Is(err, ErrWaitTimeout) {
			return nil, fmt.Errorf("%w: session %s not ready within %s", ErrProvisioningTimeout, rec.ID, o.cfg.ReadyTimeout)
		}
		return nil, fmt.Errorf("%w: %v", ErrProvisioningFailed, err)
	}

	o.logger.Info("Session ready", "session_id", ready.ID, "address", ready.Address)
	return ready, nil
}

// Provision is the asynchronous provisioning step, invoked from the task
// worker. It is guarded by the state machine: a session is only ever
// provisioned out of the provisioning state, so duplicate deliveries and
// attempts racing a finished session are no-ops.
func (o *Orchestrator) Provision(ctx context.Context, sessionID, continuationToken string) error {
	rec, err := o.repo.GetByID(ctx, sessionID)
	if err != nil {
		return err
	}
	if rec.Status != StatusProvisioning {
		o.logger.Info("Skipping provision, session not in provisioning state",
			"session_id", sessionID, "status", rec.Status)
		return nil
	}

	handle, err := o.launchAndTrack(ctx, rec)
	if err != nil {
		monitor.ProvisioningErrorsTotal.Inc()
		return fmt.Errorf("%w: %v", ErrProvisioningFailed, err)
	}

	if continuationToken != "" && o.callbacks != nil {
		if err := o.callbacks.Put(ctx, handle, continuationToken, o.cfg.CallbackTTL); err != nil {
			o.logger.Warn("Failed to store callback token", "session_id", sessionID, "error", err)
		}
	}

	monCtx, cancel := context.WithTimeout(ctx, o.cfg.ReadyTimeout)
	defer cancel()
	if err := o.monitorAddress(monCtx, sessionID, handle); err != nil {
		o.teardown(handle)
		monitor.ProvisioningErrorsTotal.Inc()
		if errors.Is(err, context.DeadlineExceeded) {
			return fmt.Errorf("%w: session %s not ready within %s", ErrProvisioningTimeout, sessionID, o.cfg.ReadyTimeout)
		}
		return err
	}
	return nil
}

// HandleProvisioningFailure reacts to a failed provisioning attempt:
// within the retry bound the session is rewound to provisioning and
// re-enqueued with quadratic backoff, beyond it the session is failed for
// good. Triggered by failure events, never polled.
func (o *Orchestrator) HandleProvisioningFailure(ctx context.Context, sessionID, continuationToken, reason string) error {
	rec, err := o.repo.GetByID(ctx, sessionID)
	if err != nil {
		return err
	}
	if rec.Status.Terminal() {
		return nil
	}

	attempts, err := o.repo.IncrementRetry(ctx, sessionID)
	if err != nil {
		return err
	}

	if attempts > o.cfg.MaxRetries {
		o.logger.Warn("Provisioning retries exhausted", "session_id", sessionID, "attempts", attempts)
		if rec.ContainerID != "" {
			o.teardown(rec.ContainerID)
		}
		o.markFailed(ctx, sessionID, reason)
		return nil
	}

	monitor.ProvisioningRetriesTotal.Inc()

	// Rewind so the retry passes the provisioning-only entry guard.
	if err := o.repo.Transition(ctx, sessionID, []Status{StatusProvisioning, StatusStarting}, StatusProvisioning); err != nil {
		if !errors.Is(err, ErrStaleTransition) {
			return err
		}
		// moved to a terminal state concurrently, nothing to retry
		return nil
	}

	backoff := time.Duration(attempts*attempts) * time.Second
	o.logger.Info("Retrying provisioning", "session_id", sessionID, "attempt", attempts, "backoff", backoff)
	return o.queue.EnqueueProvision(ctx, sessionID, continuationToken, backoff)
}

// HandleContainerReady consumes a container's own readiness report
// (asynchronous mode). The callback token is consumed exactly once; a
// report for an already-consumed or expired token is ignored.
func (o *Orchestrator) HandleContainerReady(ctx context.Context, handle, address string) error {
	continuation, err := o.callbacks.Consume(ctx, handle)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			o.logger.Info("Ignoring readiness report with no pending callback", "container_id", handle)
			return nil
		}
		return err
	}

	rec, err := o.repo.GetByContainer(ctx, handle)
	if err != nil {
		return err
	}
	return o.completeProvisioning(ctx, rec.ID, address, continuation)
}

// TerminateSession is idempotent: a session already in a terminal state
// returns success without touching the container again.
func (o *Orchestrator) TerminateSession(ctx context.Context, id string) error {
	rec, err := o.repo.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if rec.Status.Terminal() {
		return nil
	}

	if err := o.repo.Transition(ctx, id, NonTerminalStatuses(), StatusTerminating); err != nil {
		if errors.Is(err, ErrStaleTransition) {
			// lost the race to another terminator
			return nil
		}
		return err
	}

	if rec.ContainerID != "" {
		// Teardown failure must not block forward progress; a stray
		// container is reconciled by the sweeper later.
		o.launcher.Teardown(ctx, rec.ContainerID)
		monitor.TeardownsTotal.Inc()
	}

	if err := o.repo.Transition(ctx, id, []Status{StatusTerminating}, StatusStopped); err != nil {
		return err
	}
	if err := o.repo.SetTerminated(ctx, id, time.Now()); err != nil {
		o.logger.Warn("Failed to stamp termination time", "session_id", id, "error", err)
	}

	o.publish(ctx, id, eventbus.EventSessionTerminated, eventbus.Terminated{})
	o.logger.Info("Session terminated", "session_id", id)
	return nil
}

// GetSession fetches a record, enforcing project scope when a project ID
// is given. An empty project ID is reserved for internal callers.
func (o *Orchestrator) GetSession(ctx context.Context, projectID, id string) (*Record, error) {
	rec, err := o.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if projectID != "" && rec.ProjectID != projectID {
		return nil, ErrUnauthorized
	}
	return rec, nil
}

// ListSessions lists a project's sessions, filtered through the canonical
// status mapping and metadata matcher.
func (o *Orchestrator) ListSessions(ctx context.Context, projectID string, filter ListFilter) ([]*Record, error) {
	if projectID == "" {
		return nil, fmt.Errorf("%w: project id is required", ErrValidation)
	}

	recs, err := o.repo.ListByProject(ctx, projectID)
	if err != nil {
		return nil, err
	}

	out := make([]*Record, 0, len(recs))
	for _, rec := range recs {
		if filter.Status != "" && rec.Status.External() != filter.Status {
			continue
		}
		if !MatchMetadata(rec.Metadata, filter.MetadataQuery) {
			continue
		}
		out = append(out, rec)
	}
	return out, nil
}

// launchAndTrack places a container for the session and records the
// handle: provisioning -> starting. On any error after placement the
// container is released before returning.
func (o *Orchestrator) launchAndTrack(ctx context.Context, rec *Record) (string, error) {
	handle, err := o.launcher.Launch(ctx, launcher.LaunchSpec{
		SessionID: rec.ID,
		ProjectID: rec.ProjectID,
		Region:    rec.Region,
		ExpiresAt: rec.ExpiresAt,
	})
	if err != nil {
		monitor.LaunchErrorsTotal.Inc()
		return "", err
	}

	if err := o.repo.SetContainer(ctx, rec.ID, handle); err != nil {
		o.teardown(handle)
		return "", err
	}
	if err := o.repo.Transition(ctx, rec.ID, []Status{StatusProvisioning}, StatusStarting); err != nil {
		o.teardown(handle)
		return "", err
	}
	rec.ContainerID = handle
	rec.Status = StatusStarting

	o.publish(ctx, rec.ID, eventbus.EventProvisioningStarted, eventbus.ProvisioningStarted{ContainerID: handle})
	return handle, nil
}

// monitorAddress probes the container until it has a reachable address,
// then completes provisioning. Bounded by ctx.
func (o *Orchestrator) monitorAddress(ctx context.Context, sessionID, handle string) error {
	ticker := time.NewTicker(o.cfg.ProbeInterval)
	defer ticker.Stop()

	for {
		addr, err := o.launcher.GetNetworkAddress(ctx, handle)
		switch {
		case err == nil:
			return o.completeProvisioning(ctx, sessionID, addr, "")
		case errors.Is(err, launcher.ErrAddressNotAssigned):
			// not reachable yet, probe again
		case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
			return err
		default:
			// container died or the scheduler lost it; let waiters know
			o.publish(ctx, sessionID, eventbus.EventSessionFailed, eventbus.Failed{Reason: err.Error()})
			return fmt.Errorf("%w: %v", ErrProvisioningFailed, err)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// completeProvisioning records the confirmed address and moves the
// session to ready. Safe under races: whichever of the address monitor
// and the readiness callback transitions first wins, the other no-ops.
func (o *Orchestrator) completeProvisioning(ctx context.Context, id, address, continuationToken string) error {
	if err := o.repo.SetAddress(ctx, id, address); err != nil {
		return err
	}
	o.publish(ctx, id, eventbus.EventAddressAssigned, eventbus.AddressAssigned{Address: address})

	if err := o.repo.Transition(ctx, id, []Status{StatusStarting}, StatusReady); err != nil {
		if errors.Is(err, ErrStaleTransition) {
			return nil
		}
		return err
	}

	if rec, err := o.repo.GetByID(ctx, id); err == nil {
		monitor.ProvisioningLatency.Observe(time.Since(rec.CreatedAt).Seconds())
	}

	o.publish(ctx, id, eventbus.EventSessionReady, eventbus.Ready{
		Address:           address,
		ContinuationToken: continuationToken,
	})
	return nil
}

// cleanupFailed is the compensating teardown for a synchronous creation
// that did not reach ready. Runs on a fresh context so it still executes
// when the caller's deadline is what killed the attempt.
func (o *Orchestrator) cleanupFailed(id, handle, reason string) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	o.teardown(handle)
	o.markFailed(ctx, id, reason)
}

func (o *Orchestrator) teardown(handle string) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	o.launcher.Teardown(ctx, handle)
	monitor.TeardownsTotal.Inc()
}

// markFailed forces a live session to failed and announces it. Already
// being terminal is fine.
func (o *Orchestrator) markFailed(ctx context.Context, id, reason string) {
	if err := o.repo.Transition(ctx, id, NonTerminalStatuses(), StatusFailed); err != nil {
		if !errors.Is(err, ErrStaleTransition) && !errors.Is(err, ErrNotFound) {
			o.logger.Error("Failed to mark session failed", "session_id", id, "error", err)
		}
		return
	}
	o.publish(ctx, id, eventbus.EventSessionFailed, eventbus.Failed{Reason: reason})
}

func (o *Orchestrator) publish(ctx context.Context, sessionID string, t eventbus.EventType, d eventbus.Detail) {
	ev := eventbus.Event{
		Type:      t,
		SessionID: sessionID,
		Detail:    d,
		Timestamp: time.Now(),
	}
	if err := o.bus.Publish(ctx, sessionID, ev); err != nil {
		o.logger.Warn("Failed to publish event", "session_id", sessionID, "type", string(t), "error", err)
	}
}
