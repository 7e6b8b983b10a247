package sidecar

import (
	"context"
	"errors"
	"fmt"
	"io"

	"google.golang.org/grpc"
)

// ShellRequest is the wire request for the shell RPC (spec §6): the literal
// command string passed to `/bin/sh -c` inside the container.
type ShellRequest struct {
	Command string `json:"command"`
}

// ShellChunk is one frame of the shell RPC's server-streamed response. The
// sidecar emits one frame per stdout/stderr write as the process produces
// it; the final frame has Done set along with ExitCode. Modeling this RPC as
// server-streaming (rather than the spec's literal unary signature) is the
// Open Question resolution recorded in DESIGN.md: it is required to honor
// the partial-stdout-on-timeout promise (Testable Property 5, scenario S4).
type ShellChunk struct {
	Stdout   []byte `json:"stdout,omitempty"`
	Stderr   []byte `json:"stderr,omitempty"`
	Done     bool   `json:"done,omitempty"`
	ExitCode int32  `json:"exit_code,omitempty"`
}

const shellFullMethod = "/swiftide.docker.Shell/Exec"

var shellStreamDesc = grpc.StreamDesc{
	StreamName:    "Exec",
	ServerStreams: true,
}

// ShellClient drives the sidecar's shell RPC over conn.
type ShellClient struct {
	conn *grpc.ClientConn
}

// NewShellClient returns a client bound to an already-dialed channel.
func NewShellClient(conn *grpc.ClientConn) *ShellClient {
	return &ShellClient{conn: conn}
}

// StreamExec opens the shell stream for req and invokes onChunk for every
// frame as it arrives. It returns once the sidecar sends a Done frame, the
// stream ends, or ctx is cancelled — cancellation aborts the underlying
// stream immediately, which the sidecar observes as client disconnect and
// uses to terminate the child shell (§5 Cancellation).
func (c *ShellClient) StreamExec(ctx context.Context, req ShellRequest, onChunk func(ShellChunk)) error {
	stream, err := c.conn.NewStream(ctx, &shellStreamDesc, shellFullMethod, grpc.CallContentSubtype(CodecName))
	if err != nil {
		return fmt.Errorf("open shell stream: %w", err)
	}
	if err := stream.SendMsg(&req); err != nil {
		return fmt.Errorf("send shell request: %w", err)
	}
	if err := stream.CloseSend(); err != nil {
		return fmt.Errorf("close shell send direction: %w", err)
	}

	for {
		var chunk ShellChunk
		if err := stream.RecvMsg(&chunk); err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return fmt.Errorf("receive shell chunk: %w", err)
		}
		onChunk(chunk)
		if chunk.Done {
			return nil
		}
	}
}
