package launcher

import "errors"

var (
	ErrLaunchFailed = errors.New("failed to launch container")

	ErrContainerNotFound = errors.New("container not found")

	// ErrAddressNotAssigned means the container is placed but has no
	// reachable network address yet. Callers probe again.
	ErrAddressNotAssigned = errors.New("container address not yet assigned")

	ErrImagePullFailed = errors.New("failed to pull image")
)
