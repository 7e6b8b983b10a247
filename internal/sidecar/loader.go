package sidecar

import (
	"context"
	"errors"
	"fmt"
	"io"

	"google.golang.org/grpc"
)

// LoadFilesRequest is the wire request for the file-loader RPC (spec §6).
// An empty FileExtensions list means "all files"; extensions are matched
// case-insensitively against the suffix after the final "." by the sidecar.
type LoadFilesRequest struct {
	RootPath       string   `json:"root_path"`
	FileExtensions []string `json:"file_extensions"`
}

// NodeResponse is one streamed frame of a file's contents. The sidecar
// guarantees per-path chunk contiguity: for a given Path, frames arrive
// back-to-back and in order, and OriginalSize is constant across them.
type NodeResponse struct {
	Path         string `json:"path"`
	Chunk        string `json:"chunk"`
	OriginalSize int32  `json:"original_size"`
}

const loadFilesFullMethod = "/swiftide.docker.FileLoader/LoadFiles"

var loadFilesStreamDesc = grpc.StreamDesc{
	StreamName:    "LoadFiles",
	ServerStreams: true,
}

// LoaderClient drives the sidecar's file-loader RPC over conn.
type LoaderClient struct {
	conn *grpc.ClientConn
}

// NewLoaderClient returns a client bound to an already-dialed channel.
func NewLoaderClient(conn *grpc.ClientConn) *LoaderClient {
	return &LoaderClient{conn: conn}
}

// Stream opens the LoadFiles RPC and invokes onNode for every NodeResponse
// frame as it arrives. The stream is non-restartable: once exhausted or
// cancelled it cannot be replayed (§4.F).
func (c *LoaderClient) Stream(ctx context.Context, req LoadFilesRequest, onNode func(NodeResponse) error) error {
	stream, err := c.conn.NewStream(ctx, &loadFilesStreamDesc, loadFilesFullMethod, grpc.CallContentSubtype(CodecName))
	if err != nil {
		return fmt.Errorf("open file-loader stream: %w", err)
	}
	if err := stream.SendMsg(&req); err != nil {
		return fmt.Errorf("send load-files request: %w", err)
	}
	if err := stream.CloseSend(); err != nil {
		return fmt.Errorf("close load-files send direction: %w", err)
	}

	for {
		var node NodeResponse
		if err := stream.RecvMsg(&node); err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return fmt.Errorf("receive file node: %w", err)
		}
		if err := onNode(node); err != nil {
			return err
		}
	}
}
