package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	"browsergrid/internal/session"
)

const TaskSessionProvision = "session:provision"

type ProvisionPayload struct {
	SessionID         string `json:"session_id"`
	ContinuationToken string `json:"continuation_token,omitempty"`
}

var _ session.ProvisionQueue = (*Queue)(nil)

// Queue enqueues provisioning tasks. Retries are driven by the
// orchestrator's failure handler rather than asynq's own retry loop, so
// tasks go in with MaxRetry(0).
type Queue struct {
	client *asynq.Client
}

func NewQueue(client *asynq.Client) *Queue {
	return &Queue{client: client}
}

func (q *Queue) EnqueueProvision(ctx context.Context, sessionID, continuationToken string, delay time.Duration) error {
	payload, err := json.Marshal(ProvisionPayload{
		SessionID:         sessionID,
		ContinuationToken: continuationToken,
	})
	if err != nil {
		return fmt.Errorf("marshal provision payload: %w", err)
	}

	opts := []asynq.Option{asynq.MaxRetry(0)}
	if delay > 0 {
		opts = append(opts, asynq.ProcessIn(delay))
	}

	task := asynq.NewTask(TaskSessionProvision, payload)
	if _, err := q.client.EnqueueContext(ctx, task, opts...); err != nil {
		return fmt.Errorf("enqueue provision task: %w", err)
	}
	return nil
}

// ProvisionWorker executes queued provisioning steps. A failed attempt is
// handed to the orchestrator's failure handler, which either re-enqueues
// with backoff or fails the session for good.
type ProvisionWorker struct {
	orch   *session.Orchestrator
	logger *slog.Logger
}

func NewProvisionWorker(orch *session.Orchestrator, logger *slog.Logger) *ProvisionWorker {
	return &ProvisionWorker{
		orch:   orch,
		logger: logger.With("component", "provision-worker"),
	}
}

func (w *ProvisionWorker) HandleSessionProvision(ctx context.Context, task *asynq.Task) error {
	var payload ProvisionPayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		w.logger.Error("Failed to unmarshal provision payload", "error", err)
		return fmt.Errorf("json unmarshal error: %v: %w", err, asynq.SkipRetry)
	}

	w.logger.Info("Processing provision task", "session_id", payload.SessionID)

	err := w.orch.Provision(ctx, payload.SessionID, payload.ContinuationToken)
	if err == nil {
		w.logger.Info("Provision task completed", "session_id", payload.SessionID)
		return nil
	}

	if errors.Is(err, session.ErrNotFound) {
		// record already deleted; nothing left to provision
		w.logger.Warn("Provision task for unknown session", "session_id", payload.SessionID)
		return nil
	}

	w.logger.Error("Provision attempt failed", "session_id", payload.SessionID, "error", err)

	if ferr := w.orch.HandleProvisioningFailure(ctx, payload.SessionID, payload.ContinuationToken, err.Error()); ferr != nil {
		w.logger.Error("Failed to handle provisioning failure", "session_id", payload.SessionID, "error", ferr)
	}

	// retry scheduling is the failure handler's job, not asynq's
	return fmt.Errorf("provision session %s: %v: %w", payload.SessionID, err, asynq.SkipRetry)
}
