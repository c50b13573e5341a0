package session

import (
	"context"
	"time"
)

// Repository is the durable session record store. All status changes go
// through Transition, a conditional update keyed by the expected prior
// statuses, so concurrent writers cannot blindly overwrite each other.
type Repository interface {
	Create(ctx context.Context, rec *Record) error
	GetByID(ctx context.Context, id string) (*Record, error)
	GetByContainer(ctx context.Context, containerID string) (*Record, error)
	ListByProject(ctx context.Context, projectID string) ([]*Record, error)
	ListByStatus(ctx context.Context, statuses []Status) ([]*Record, error)
	ListTerminalUpdatedBefore(ctx context.Context, cutoff time.Time) ([]*Record, error)

	// Transition moves the record from any of the given statuses to the
	// target status. Returns ErrStaleTransition when the record is in
	// none of them, ErrNotFound when it does not exist.
	Transition(ctx context.Context, id string, from []Status, to Status) error

	SetAccessToken(ctx context.Context, id, token string) error
	SetContainer(ctx context.Context, id, containerID string) error
	SetAddress(ctx context.Context, id, address string) error
	SetTerminated(ctx context.Context, id string, at time.Time) error
	IncrementRetry(ctx context.Context, id string) (int, error)
	Delete(ctx context.Context, id string) error
}

// CallbackTokenStore holds the short-lived continuation tokens for
// asynchronous provisioning, keyed by container handle. Consume removes
// the token so a readiness report is acted on exactly once.
type CallbackTokenStore interface {
	Put(ctx context.Context, containerID, token string, ttl time.Duration) error
	Consume(ctx context.Context, containerID string) (string, error)
}

// ProvisionQueue enqueues asynchronous provisioning work for a session,
// optionally delayed for retry backoff.
type ProvisionQueue interface {
	EnqueueProvision(ctx context.Context, sessionID, continuationToken string, delay time.Duration) error
}
