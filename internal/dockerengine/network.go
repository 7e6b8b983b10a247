package dockerengine

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/docker/go-connections/nat"
)

// defaultNetwork is used when the current process is not itself running
// inside a container on a user-defined bridge network.
const defaultNetwork = "bridge"

// ResolveNetwork implements the auto-discovery described in §4.D: if this
// process is itself running inside a container attached to a user-defined
// bridge network, new containers are attached to that same network so they
// can address the sidecar by container name; otherwise the engine default
// bridge applies and the sidecar is addressed over a mapped host port.
func (e *Engine) ResolveNetwork(ctx context.Context) (network string, byContainerName bool, err error) {
	selfID, err := ownContainerID()
	if err != nil {
		// Not running inside a container (or cgroup layout not recognized):
		// this is the common case for a host-run caller, not an error.
		return defaultNetwork, false, nil
	}

	info, err := e.cli.ContainerInspect(ctx, selfID)
	if err != nil {
		return defaultNetwork, false, nil
	}

	if info.NetworkSettings == nil {
		return defaultNetwork, false, nil
	}

	for name, settings := range info.NetworkSettings.Networks {
		if name == defaultNetwork || name == "none" || name == "host" {
			continue
		}
		if settings == nil {
			continue
		}
		return name, true, nil
	}

	return defaultNetwork, false, nil
}

// ownContainerID reads this process's own container id from its cgroup
// mount, the same mechanism `docker inspect $(cat /proc/self/cgroup)`-style
// self-detection relies on. Returns an error when not running in a
// container or when the cgroup layout doesn't expose an id (cgroup v2 on
// some hosts requires /proc/self/mountinfo instead; treated the same way —
// auto-discovery best-effort falls back to the default network).
func ownContainerID() (string, error) {
	data, err := os.ReadFile("/proc/self/cgroup")
	if err != nil {
		return "", err
	}
	for _, line := range strings.Split(string(data), "\n") {
		parts := strings.Split(line, "/")
		last := parts[len(parts)-1]
		if len(last) == 64 && isHex(last) {
			return last, nil
		}
		if strings.HasPrefix(last, "docker-") && strings.HasSuffix(last, ".scope") {
			id := strings.TrimSuffix(strings.TrimPrefix(last, "docker-"), ".scope")
			if len(id) == 64 && isHex(id) {
				return id, nil
			}
		}
	}
	return "", errors.New("not running inside a container")
}

func isHex(s string) bool {
	for _, r := range s {
		if !((r >= '0' && r <= '9') || (r >= 'a' && r <= 'f')) {
			return false
		}
	}
	return true
}

// ConnectToNetwork attaches containerID to network by name.
func (e *Engine) ConnectToNetwork(ctx context.Context, network, containerID string) error {
	if network == "" || network == defaultNetwork {
		return nil
	}
	if err := e.cli.NetworkConnect(ctx, network, containerID, nil); err != nil {
		return fmt.Errorf("connect container %s to network %s: %w", shortID(containerID), network, err)
	}
	return nil
}

// HostPortBinding returns the container's mapped host port for containerPort,
// used when addressing the sidecar by mapped host port rather than by
// container name on a shared user network.
func (e *Engine) HostPortBinding(ctx context.Context, containerID string, containerPort string) (string, error) {
	info, err := e.cli.ContainerInspect(ctx, containerID)
	if err != nil {
		return "", fmt.Errorf("inspect container %s: %w", shortID(containerID), err)
	}
	if info.NetworkSettings == nil {
		return "", fmt.Errorf("container %s has no network settings", shortID(containerID))
	}
	bindings, ok := info.NetworkSettings.Ports[nat.Port(containerPort+"/tcp")]
	if !ok || len(bindings) == 0 {
		return "", fmt.Errorf("container %s has no binding for port %s", shortID(containerID), containerPort)
	}
	return bindings[0].HostIP + ":" + bindings[0].HostPort, nil
}
