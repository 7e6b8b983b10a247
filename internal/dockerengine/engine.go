// Package dockerengine wraps the subset of the Docker Engine API the
// executor needs: image builds, container lifecycle, and network
// inspection. A single client is shared process-wide and lazily
// initialized on first use.
package dockerengine

import (
	"context"
	"fmt"
	"sync"

	"github.com/docker/docker/client"

	"github.com/bosun-ai/swiftide-docker-executor/internal/logger"
)

var (
	sharedOnce   sync.Once
	sharedClient *client.Client
	sharedErr    error
)

// Shared returns the process-wide Docker client, creating it on first call.
// Subsequent calls return the same client (or the same initialization error).
func Shared() (*client.Client, error) {
	sharedOnce.Do(func() {
		sharedClient, sharedErr = client.NewClientWithOpts(
			client.FromEnv,
			client.WithAPIVersionNegotiation(),
		)
		if sharedErr != nil {
			return
		}
		logger.Debug().Msg("docker engine client initialized")
	})
	return sharedClient, sharedErr
}

// Engine is a thin handle around the shared Docker client used by the
// lifecycle, image, and network managers.
type Engine struct {
	cli *client.Client
}

// New returns an Engine bound to the process-wide shared client.
func New() (*Engine, error) {
	cli, err := Shared()
	if err != nil {
		return nil, fmt.Errorf("connect to docker engine: %w", err)
	}
	return &Engine{cli: cli}, nil
}

// Ping verifies the daemon is reachable.
func (e *Engine) Ping(ctx context.Context) error {
	_, err := e.cli.Ping(ctx)
	return err
}

// Client exposes the underlying Docker API client for managers in this
// package that need operations not wrapped directly on Engine.
func (e *Engine) Client() *client.Client { return e.cli }
