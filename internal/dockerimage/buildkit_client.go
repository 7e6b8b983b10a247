package dockerimage

import (
	"context"
	"fmt"
	"net"

	bkclient "github.com/moby/buildkit/client"

	"github.com/bosun-ai/swiftide-docker-executor/internal/dockerengine"
)

// dockerDialer abstracts the DialHijack capability the embedded Docker
// client exposes, matching bkclient.WithContextDialer's signature.
type dockerDialer interface {
	DialHijack(ctx context.Context, url, proto string, meta map[string][]string) (net.Conn, error)
}

// newBuildKitClient connects to the Docker daemon's embedded buildkitd over
// the same /grpc and /session hijack endpoints docker/buildx uses.
func newBuildKitClient(ctx context.Context, engine *dockerengine.Engine) (*bkclient.Client, error) {
	dialer, ok := any(engine.Client()).(dockerDialer)
	if !ok {
		return nil, fmt.Errorf("docker client does not support hijacked connections required for buildkit")
	}

	c, err := bkclient.New(ctx, "",
		bkclient.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return dialer.DialHijack(ctx, "/grpc", "h2c", nil)
		}),
		bkclient.WithSessionDialer(func(ctx context.Context, proto string, meta map[string][]string) (net.Conn, error) {
			return dialer.DialHijack(ctx, "/session", proto, meta)
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connect to embedded buildkit: %w", err)
	}
	return c, nil
}
