package launcher

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/containerd/errdefs"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/api/types/network"
	"github.com/docker/docker/client"
)

// Launcher places browser containers on the scheduler, probes their
// network readiness, and tears them down. Launch returns as soon as
// placement is accepted; it never waits for an address.
type Launcher interface {
	Launch(ctx context.Context, spec LaunchSpec) (string, error)
	GetNetworkAddress(ctx context.Context, handle string) (string, error)
	Teardown(ctx context.Context, handle string)
}

var _ Launcher = (*DockerLauncher)(nil)

type DockerLauncher struct {
	client *client.Client
	cfg    Config
	logger *slog.Logger
}

func NewDockerLauncher(client *client.Client, cfg Config, logger *slog.Logger) *DockerLauncher {
	if cfg.DevtoolsPort == 0 {
		cfg.DevtoolsPort = 9222
	}
	if cfg.StopTimeout == 0 {
		cfg.StopTimeout = 10
	}
	return &DockerLauncher{
		client: client,
		cfg:    cfg,
		logger: logger.With("component", "launcher"),
	}
}

func (l *DockerLauncher) Launch(ctx context.Context, spec LaunchSpec) (string, error) {
	log := l.logger.With(slog.String("session_id", spec.SessionID), slog.String("project_id", spec.ProjectID))
	log.Info("Launching container", slog.String("image", l.cfg.Image))

	if err := l.ensureImage(ctx); err != nil {
		return "", err
	}

	name := ContainerName(spec.SessionID)

	config := &container.Config{
		Image: l.cfg.Image,
		Env:   spec.EnvVars,
		Labels: map[string]string{
			"managed_by": "browsergrid",
			"project_id": spec.ProjectID,
			"session_id": spec.SessionID,
			"region":     spec.Region,
		},
	}

	hostConfig := &container.HostConfig{
		Resources: container.Resources{
			Memory:   l.cfg.MemoryMB * 1024 * 1024,
			NanoCPUs: int64(l.cfg.CPU * 1e9),
		},
		AutoRemove: false,
	}

	netConfig := &network.NetworkingConfig{
		EndpointsConfig: map[string]*network.EndpointSettings{
			l.cfg.NetworkName: {},
		},
	}

	resp, err := l.client.ContainerCreate(ctx, config, hostConfig, netConfig, nil, name)
	if err != nil {
		// The session ID is the idempotency key: a name conflict means a
		// previous launch for this session already placed a container.
		if errdefs.IsConflict(err) {
			inspect, inspectErr := l.client.ContainerInspect(ctx, name)
			if inspectErr == nil {
				log.Info("Reusing already-placed container", "container_id", inspect.ID)
				return inspect.ID, nil
			}
			return "", fmt.Errorf("%w: conflicting container not inspectable: %v", ErrLaunchFailed, inspectErr)
		}
		log.Error("Failed to create container", "error", err)
		return "", fmt.Errorf("%w: %v", ErrLaunchFailed, err)
	}

	if err := l.client.ContainerStart(ctx, resp.ID, container.StartOptions{}); err != nil {
		log.Error("Failed to start container", "error", err)
		_ = l.client.ContainerRemove(context.Background(), resp.ID, container.RemoveOptions{Force: true})
		return "", fmt.Errorf("%w: %v", ErrLaunchFailed, err)
	}

	log.Info("Container placed", "container_id", resp.ID)
	return resp.ID, nil
}

func (l *DockerLauncher) ensureImage(ctx context.Context) error {
	_, err := l.client.ImageInspect(ctx, l.cfg.Image)
	if err == nil {
		return nil
	}
	if !errdefs.IsNotFound(err) {
		return fmt.Errorf("failed to inspect image: %w", err)
	}

	l.logger.Info("Image not found, pulling...", "image", l.cfg.Image)
	reader, err := l.client.ImagePull(ctx, l.cfg.Image, image.PullOptions{})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrImagePullFailed, err)
	}
	defer reader.Close()

	done := make(chan struct{})
	go func() {
		if _, err := io.Copy(io.Discard, reader); err != nil {
			l.logger.Error("Failed to read pull output", "error", err)
		}
		close(done)
	}()

	select {
	case <-done:
		l.logger.Info("Image pull completed")
		return nil
	case <-ctx.Done():
		return fmt.Errorf("%w: %v", ErrImagePullFailed, ctx.Err())
	}
}

// GetNetworkAddress is a non-blocking probe for the container's connect
// URL. Returns ErrAddressNotAssigned until the scheduler has attached it
// to the session network.
func (l *DockerLauncher) GetNetworkAddress(ctx context.Context, handle string) (string, error) {
	inspect, err := l.client.ContainerInspect(ctx, handle)
	if err != nil {
		if errdefs.IsNotFound(err) {
			return "", ErrContainerNotFound
		}
		return "", fmt.Errorf("failed to inspect container: %w", err)
	}

	if !inspect.State.Running {
		return "", fmt.Errorf("%w: container is %s", ErrContainerNotFound, inspect.State.Status)
	}

	var ip string
	if net, ok := inspect.NetworkSettings.Networks[l.cfg.NetworkName]; ok {
		ip = net.IPAddress
	} else {
		for _, v := range inspect.NetworkSettings.Networks {
			ip = v.IPAddress
			break
		}
	}
	if ip == "" {
		return "", ErrAddressNotAssigned
	}

	return ConnectURL(ip, l.cfg.DevtoolsPort), nil
}

// Teardown is best effort. It is usually called from failure-recovery
// paths where a second error would mask the root cause, so failures are
// logged and never returned.
func (l *DockerLauncher) Teardown(ctx context.Context, handle string) {
	log := l.logger.With("container_id", handle)

	timeout := l.cfg.StopTimeout
	if err := l.client.ContainerStop(ctx, handle, container.StopOptions{Timeout: &timeout}); err != nil {
		if !errdefs.IsNotFound(err) {
			log.Warn("Failed to stop container", "error", err)
		}
	}
	if err := l.client.ContainerRemove(ctx, handle, container.RemoveOptions{Force: true}); err != nil {
		if !errdefs.IsNotFound(err) {
			log.Warn("Failed to remove container", "error", err)
			return
		}
	}
	log.Info("Container torn down")
}
