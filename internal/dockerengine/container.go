package dockerengine

import (
	"context"
	"fmt"
	"io"

	"github.com/containerd/errdefs"
	"github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/mount"
	"github.com/docker/docker/api/types/network"
	"github.com/docker/go-connections/nat"

	"github.com/bosun-ai/swiftide-docker-executor/internal/logger"
)

// ContainerConfig holds the subset of container creation options the
// executor needs. Unlike a general-purpose CLI, there is no port range
// parsing or label-based fleet filtering here — one executor owns exactly
// one container.
type ContainerConfig struct {
	Name         string
	Image        string
	Cmd          []string
	Env          []string
	WorkingDir   string
	User         string
	Labels       map[string]string
	NetworkMode  string
	Mounts       []mount.Mount
	ExposedPorts nat.PortSet
	PortBindings nat.PortMap
}

// ContainerManager performs container lifecycle operations against the
// shared engine client.
type ContainerManager struct {
	engine *Engine
}

// NewContainerManager returns a manager bound to engine.
func NewContainerManager(engine *Engine) *ContainerManager {
	return &ContainerManager{engine: engine}
}

// Create creates a container without starting it.
func (cm *ContainerManager) Create(ctx context.Context, cfg ContainerConfig) (string, error) {
	containerCfg := &container.Config{
		Image:        cfg.Image,
		Cmd:          cfg.Cmd,
		Env:          cfg.Env,
		WorkingDir:   cfg.WorkingDir,
		User:         cfg.User,
		Labels:       cfg.Labels,
		ExposedPorts: cfg.ExposedPorts,
	}
	hostCfg := &container.HostConfig{
		Mounts:       cfg.Mounts,
		NetworkMode:  container.NetworkMode(cfg.NetworkMode),
		PortBindings: cfg.PortBindings,
	}

	resp, err := cm.engine.cli.ContainerCreate(ctx, containerCfg, hostCfg, &network.NetworkingConfig{}, nil, cfg.Name)
	if err != nil {
		return "", fmt.Errorf("create container %q: %w", cfg.Name, err)
	}

	logger.Debug().Str("container", cfg.Name).Str("id", shortID(resp.ID)).Msg("container created")
	return resp.ID, nil
}

// Start starts a previously created container.
func (cm *ContainerManager) Start(ctx context.Context, containerID string) error {
	if err := cm.engine.cli.ContainerStart(ctx, containerID, container.StartOptions{}); err != nil {
		return fmt.Errorf("start container %s: %w", shortID(containerID), err)
	}
	return nil
}

// Kill sends SIGKILL to the container's main process without removing it,
// preserving logs for inspection — a deliberately distinct step from Remove.
func (cm *ContainerManager) Kill(ctx context.Context, containerID string) error {
	if err := cm.engine.cli.ContainerKill(ctx, containerID, "KILL"); err != nil {
		if isNotFoundError(err) {
			return nil
		}
		return fmt.Errorf("kill container %s: %w", shortID(containerID), err)
	}
	return nil
}

// Remove removes a container, tolerating "already gone" as success.
func (cm *ContainerManager) Remove(ctx context.Context, containerID string, force bool) error {
	err := cm.engine.cli.ContainerRemove(ctx, containerID, container.RemoveOptions{Force: force, RemoveVolumes: true})
	if err != nil && !isNotFoundError(err) {
		return fmt.Errorf("remove container %s: %w", shortID(containerID), err)
	}
	return nil
}

// Inspect returns the container's current state.
func (cm *ContainerManager) Inspect(ctx context.Context, containerID string) (types.ContainerJSON, error) {
	info, err := cm.engine.cli.ContainerInspect(ctx, containerID)
	if err != nil {
		return types.ContainerJSON{}, fmt.Errorf("inspect container %s: %w", shortID(containerID), err)
	}
	return info, nil
}

// Logs returns the container's combined stdout/stderr stream.
func (cm *ContainerManager) Logs(ctx context.Context, containerID string, tail string) (io.ReadCloser, error) {
	return cm.engine.cli.ContainerLogs(ctx, containerID, container.LogsOptions{
		ShowStdout: true,
		ShowStderr: true,
		Tail:       tail,
	})
}

// LogTail reads up to the last `tail` lines of container output, best-effort,
// for embedding in Startup/StartupTimeout errors.
func (cm *ContainerManager) LogTail(ctx context.Context, containerID string, tail string) string {
	rc, err := cm.Logs(ctx, containerID, tail)
	if err != nil {
		return ""
	}
	defer rc.Close()
	buf, err := io.ReadAll(io.LimitReader(rc, 64*1024))
	if err != nil {
		return string(buf)
	}
	return string(buf)
}

// Exec runs a command inside a running container and waits for completion,
// returning its combined output and exit code. The sidecar itself is
// launched with ExecDetached, not with Exec.
func (cm *ContainerManager) Exec(ctx context.Context, containerID string, cmd []string) (string, int, error) {
	resp, err := cm.engine.cli.ContainerExecCreate(ctx, containerID, container.ExecOptions{
		Cmd:          cmd,
		AttachStdout: true,
		AttachStderr: true,
	})
	if err != nil {
		return "", -1, fmt.Errorf("exec create: %w", err)
	}

	attach, err := cm.engine.cli.ContainerExecAttach(ctx, resp.ID, container.ExecStartOptions{})
	if err != nil {
		return "", -1, fmt.Errorf("exec attach: %w", err)
	}
	defer attach.Close()

	out, err := io.ReadAll(attach.Reader)
	if err != nil {
		return "", -1, fmt.Errorf("exec read output: %w", err)
	}

	inspect, err := cm.engine.cli.ContainerExecInspect(ctx, resp.ID)
	if err != nil {
		return string(out), -1, fmt.Errorf("exec inspect: %w", err)
	}

	return string(out), inspect.ExitCode, nil
}

// ExecDetached starts a command without waiting for it to finish, used to
// launch the long-running sidecar process in the background.
func (cm *ContainerManager) ExecDetached(ctx context.Context, containerID string, cmd []string) error {
	resp, err := cm.engine.cli.ContainerExecCreate(ctx, containerID, container.ExecOptions{
		Cmd:          cmd,
		AttachStdout: false,
		AttachStderr: false,
		Detach:       true,
	})
	if err != nil {
		return fmt.Errorf("exec create (detached): %w", err)
	}
	return cm.engine.cli.ContainerExecStart(ctx, resp.ID, container.ExecStartOptions{Detach: true})
}

func shortID(id string) string {
	if len(id) > 12 {
		return id[:12]
	}
	return id
}

func isNotFoundError(err error) bool {
	return err != nil && errdefs.IsNotFound(err)
}
