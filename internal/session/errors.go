package session

import "errors"

var (
	// ErrValidation marks malformed or missing required input. Never
	// retried, surfaced to the caller immediately.
	ErrValidation = errors.New("invalid request")

	// ErrProvisioningFailed means the scheduler rejected or failed to
	// place a container for the session.
	ErrProvisioningFailed = errors.New("provisioning failed")

	// ErrProvisioningTimeout means a container was placed but never
	// became network-ready within the deadline.
	ErrProvisioningTimeout = errors.New("provisioning timed out")

	ErrNotFound     = errors.New("session not found")
	ErrUnauthorized = errors.New("session does not belong to project")

	// ErrStorage marks the record store itself being unavailable. Fatal
	// for the containing operation.
	ErrStorage = errors.New("session store unavailable")

	// ErrStaleTransition is returned by conditional status updates when
	// the record is no longer in any of the expected prior states.
	ErrStaleTransition = errors.New("stale status transition")

	// ErrWaitTimeout is returned by the readiness waiter when the
	// deadline elapses before the session becomes ready.
	ErrWaitTimeout = errors.New("timed out waiting for session readiness")
)
