package sidecar

import (
	"context"
	"fmt"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/bosun-ai/swiftide-docker-executor/internal/logger"
)

// BackoffPolicy describes the exponential backoff the health poll uses
// while waiting for the sidecar to come up (§4.D).
type BackoffPolicy struct {
	Initial time.Duration
	Factor  float64
	Cap     time.Duration
	Overall time.Duration
}

// DefaultBackoff matches §4.D: 50ms initial, factor 2, capped at 1s, with an
// overall 30s deadline.
var DefaultBackoff = BackoffPolicy{
	Initial: 50 * time.Millisecond,
	Factor:  2,
	Cap:     1 * time.Second,
	Overall: 30 * time.Second,
}

// WaitReady dials addr and polls with exponential backoff until a gRPC
// connection is established, or policy.Overall elapses. It
// returns the live connection on success, or the last connection error on
// timeout so callers can build a Startup/StartupTimeout error with it.
func WaitReady(ctx context.Context, addr string, policy BackoffPolicy) (*grpc.ClientConn, error) {
	deadline := time.Now().Add(policy.Overall)
	wait := policy.Initial
	var lastErr error

	for {
		if time.Now().After(deadline) {
			return nil, fmt.Errorf("sidecar not ready after %s: %w", policy.Overall, lastErr)
		}

		dialCtx, cancel := context.WithTimeout(ctx, wait)
		conn, err := grpc.DialContext(dialCtx, addr,
			grpc.WithTransportCredentials(insecure.NewCredentials()),
			grpc.WithBlock(),
			grpc.WithDefaultCallOptions(grpc.CallContentSubtype(CodecName)),
		)
		cancel()
		if err == nil {
			return conn, nil
		}
		lastErr = err
		logger.Debug().Err(err).Str("addr", addr).Dur("backoff", wait).Msg("sidecar not ready yet")

		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("wait for sidecar cancelled: %w", ctx.Err())
		case <-time.After(wait):
		}

		wait = time.Duration(float64(wait) * policy.Factor)
		if wait > policy.Cap {
			wait = policy.Cap
		}
	}
}
