// Package dockerimage drives the container engine's image-build API,
// supporting a classic JSON-stream backend and a BuildKit backend that
// consumes the structured solve-status protocol. Both backends accept the
// same gzip'd tar build context and surface the same error taxonomy.
package dockerimage

import (
	"archive/tar"
	"bufio"
	"compress/gzip"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	bkclient "github.com/moby/buildkit/client"
	"github.com/tonistiigi/fsutil"

	dockertypes "github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/go-units"
	"github.com/opencontainers/go-digest"
	ocispec "github.com/opencontainers/image-spec/specs-go/v1"

	"github.com/bosun-ai/swiftide-docker-executor/internal/dockerengine"
	"github.com/bosun-ai/swiftide-docker-executor/internal/logger"
)

// Backend selects which engine build API is driven.
type Backend int

const (
	// Classic drives the engine's legacy /build JSON-stream endpoint.
	Classic Backend = iota
	// BuildKit drives the engine's embedded BuildKit solver.
	BuildKit
)

// Options configures a single image build.
type Options struct {
	// Tag is the full "<image_name>:<image_tag>" reference to produce.
	Tag string
	// DockerfileName is the name of the synthesized Dockerfile entry inside
	// BuildContext (see contextpack.Result.DockerfileName).
	DockerfileName string
	// BuildContext is the gzip'd tar stream produced by contextpack.Pack.
	BuildContext io.Reader
	// Backend selects Classic or BuildKit.
	Backend Backend
	// Pull forces a fresh pull of base images unless the exact tag already
	// exists locally (§4.B: "pull=always unless the exact tag is already
	// present locally").
	Pull bool
	// NoCache disables the build cache.
	NoCache bool
	// BuildArgs are passed through to the Dockerfile as --build-arg values.
	BuildArgs map[string]*string
	// Labels are attached to the resulting image.
	Labels map[string]string
}

// Result is the outcome of a successful build.
type Result struct {
	// ImageID is the engine-assigned id (or digest) of the built image.
	ImageID string
	// Log is the accumulated build log, for diagnostics even on success.
	Log string
	// Config is the OCI image config of the tag just built, best-effort
	// (nil if the post-build inspect failed); surfaced for diagnostics, not
	// required for the executor to proceed.
	Config *ocispec.Image
}

// BuildError carries the full accumulated build log alongside the failure,
// per §7 KindImageBuild.
type BuildError struct {
	Log string
	Err error
}

func (e *BuildError) Error() string { return fmt.Sprintf("image build failed: %v", e.Err) }
func (e *BuildError) Unwrap() error { return e.Err }

// Build drives opts.Backend against engine and returns the resulting image
// id. Both backends apply the same pull/nocache/rm/tag options and report
// identical error shapes.
func Build(ctx context.Context, engine *dockerengine.Engine, opts Options) (*Result, error) {
	var result *Result
	var err error
	switch opts.Backend {
	case BuildKit:
		result, err = buildWithBuildKit(ctx, engine, opts)
	default:
		result, err = buildClassic(ctx, engine, opts)
	}
	if err != nil {
		return nil, err
	}

	validateImageID(result.ImageID)
	result.Config = inspectImageConfig(ctx, engine, opts.Tag)
	return result, nil
}

// validateImageID logs (rather than fails) when the engine's reported image
// id/digest doesn't parse as a well-formed content digest — the build itself
// already succeeded, so this is diagnostic only.
func validateImageID(imageID string) {
	if imageID == "" {
		return
	}
	if _, err := digest.Parse(imageID); err != nil {
		logger.Debug().Str("image_id", imageID).Err(err).Msg("built image id is not a content digest, leaving as opaque id")
	}
}

// inspectImageConfig best-effort inspects the freshly built tag and decodes
// its config into the OCI image-config shape, for logging/diagnostics.
// Returns nil on any failure; never fails the build.
func inspectImageConfig(ctx context.Context, engine *dockerengine.Engine, tag string) *ocispec.Image {
	_, raw, err := engine.Client().ImageInspectWithRaw(ctx, tag)
	if err != nil {
		logger.Debug().Str("tag", tag).Err(err).Msg("post-build image inspect failed")
		return nil
	}

	var img ocispec.Image
	if err := json.Unmarshal(raw, &img); err != nil {
		logger.Debug().Str("tag", tag).Err(err).Msg("could not decode image config into OCI shape")
		return nil
	}

	var sizeInfo struct {
		Size int64 `json:"Size"`
	}
	size := "unknown"
	if err := json.Unmarshal(raw, &sizeInfo); err == nil && sizeInfo.Size > 0 {
		size = units.HumanSize(float64(sizeInfo.Size))
	}
	logger.Info().Str("tag", tag).Str("size", size).Str("architecture", img.Architecture).Str("os", img.OS).Msg("built image inspected")
	return &img
}

func buildClassic(ctx context.Context, engine *dockerengine.Engine, opts Options) (*Result, error) {
	buildOpts := dockertypes.ImageBuildOptions{
		Tags:       []string{opts.Tag},
		Dockerfile: opts.DockerfileName,
		Remove:     true,
		PullParent: opts.Pull,
		NoCache:    opts.NoCache,
		BuildArgs:  opts.BuildArgs,
		Labels:     opts.Labels,
	}

	resp, err := engine.Client().ImageBuild(ctx, opts.BuildContext, buildOpts)
	if err != nil {
		return nil, &BuildError{Err: fmt.Errorf("start build %s: %w", opts.Tag, err)}
	}
	defer resp.Body.Close()

	return drainClassicBuildOutput(resp.Body)
}

// classicBuildEvent mirrors the subset of Docker's NDJSON build-status
// messages this package cares about.
type classicBuildEvent struct {
	Stream      string `json:"stream"`
	Error       string `json:"error"`
	ErrorDetail struct {
		Message string `json:"message"`
	} `json:"errorDetail"`
	Aux *struct {
		ID string `json:"ID"`
	} `json:"aux"`
}

// drainClassicBuildOutput scans the NDJSON build log, accumulating it for
// diagnostics. Per §4.B's tie-break rule, an errorDetail seen anywhere in the
// stream wins even if a later "aux" message reports a successful id —
// the stream is drained to completion before deciding the outcome.
func drainClassicBuildOutput(r io.Reader) (*Result, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)

	var logBuf strings.Builder
	var buildErr string
	var imageID string

	for scanner.Scan() {
		line := scanner.Bytes()
		var event classicBuildEvent
		if err := json.Unmarshal(line, &event); err != nil {
			continue
		}

		if stream := strings.TrimSpace(event.Stream); stream != "" {
			logBuf.WriteString(stream)
			logBuf.WriteByte('\n')
			logger.Debug().Str("step", stream).Msg("build output")
		}

		if event.Error != "" && buildErr == "" {
			buildErr = event.Error
		}
		if event.ErrorDetail.Message != "" {
			buildErr = event.ErrorDetail.Message
		}
		if event.Aux != nil && event.Aux.ID != "" {
			imageID = event.Aux.ID
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, &BuildError{Log: logBuf.String(), Err: fmt.Errorf("read build output: %w", err)}
	}

	log := logBuf.String()
	if buildErr != "" {
		return nil, &BuildError{Log: log, Err: fmt.Errorf("%s", buildErr)}
	}
	return &Result{ImageID: imageID, Log: log}, nil
}

// buildWithBuildKit drives the engine's embedded BuildKit solver. The tar
// stream is extracted to a scratch directory because BuildKit's local-mount
// API (fsutil.FS) addresses a filesystem directory, not a stream; see
// DESIGN.md for why this is the one place context bytes touch disk.
func buildWithBuildKit(ctx context.Context, engine *dockerengine.Engine, opts Options) (*Result, error) {
	scratchDir, err := os.MkdirTemp("", "swiftide-buildctx-*")
	if err != nil {
		return nil, &BuildError{Err: fmt.Errorf("create buildkit scratch dir: %w", err)}
	}
	defer os.RemoveAll(scratchDir)

	if err := extractTarGz(opts.BuildContext, scratchDir); err != nil {
		return nil, &BuildError{Err: fmt.Errorf("extract build context: %w", err)}
	}

	bk, err := newBuildKitClient(ctx, engine)
	if err != nil {
		return nil, &BuildError{Err: err}
	}
	defer bk.Close()

	contextFS, err := fsutil.NewFS(scratchDir)
	if err != nil {
		return nil, &BuildError{Err: fmt.Errorf("buildkit context fs: %w", err)}
	}

	attrs := map[string]string{"filename": opts.DockerfileName}
	for k, v := range opts.BuildArgs {
		if v != nil {
			attrs["build-arg:"+k] = *v
		}
	}
	for k, v := range opts.Labels {
		attrs["label:"+k] = v
	}
	if opts.NoCache {
		attrs["no-cache"] = ""
	}
	if opts.Pull {
		attrs["image-resolve-mode"] = "pull"
	}

	solveOpt := bkclient.SolveOpt{
		Frontend:      "dockerfile.v0",
		FrontendAttrs: attrs,
		LocalMounts: map[string]fsutil.FS{
			"context":    contextFS,
			"dockerfile": contextFS,
		},
		Exports: []bkclient.ExportEntry{{
			Type: "image",
			Attrs: map[string]string{
				"name": opts.Tag,
				"push": "false",
			},
		}},
	}

	statusCh := make(chan *bkclient.SolveStatus)
	var logBuf strings.Builder
	done := make(chan struct{})
	go func() {
		defer close(done)
		for status := range statusCh {
			for _, v := range status.Vertexes {
				if v.Error != "" {
					fmt.Fprintf(&logBuf, "%s: %s\n", v.Name, v.Error)
					logger.Warn().Str("vertex", v.Name).Str("error", v.Error).Msg("buildkit vertex failed")
					continue
				}
				logger.Debug().Str("vertex", v.Name).Msg("buildkit progress")
			}
			for _, l := range status.Logs {
				line := strings.TrimSpace(string(l.Data))
				if line == "" {
					continue
				}
				logBuf.WriteString(line)
				logBuf.WriteByte('\n')
			}
		}
	}()

	resp, err := bk.Solve(ctx, nil, solveOpt, statusCh)
	<-done
	if err != nil {
		return nil, &BuildError{Log: logBuf.String(), Err: fmt.Errorf("buildkit solve: %w", err)}
	}

	imageID := resp.ExporterResponse["containerimage.digest"]
	return &Result{ImageID: imageID, Log: logBuf.String()}, nil
}

// extractTarGz decompresses and untars r into destDir, which must already
// exist. Used only by the BuildKit path (see buildWithBuildKit).
func extractTarGz(r io.Reader, destDir string) error {
	gz, err := gzip.NewReader(r)
	if err != nil {
		return fmt.Errorf("open gzip stream: %w", err)
	}
	defer gz.Close()

	tr := tar.NewReader(gz)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return fmt.Errorf("read tar entry: %w", err)
		}

		target := filepath.Join(destDir, hdr.Name)
		switch hdr.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(target, 0o755); err != nil {
				return err
			}
		case tar.TypeReg:
			if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
				return err
			}
			f, err := os.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, os.FileMode(hdr.Mode))
			if err != nil {
				return err
			}
			if _, err := io.Copy(f, tr); err != nil {
				f.Close()
				return err
			}
			f.Close()
		}
	}
}

// ShouldPull decides the pull policy per §4.B: pull=always unless the exact
// tag is already present locally.
func ShouldPull(ctx context.Context, engine *dockerengine.Engine, tag string) (bool, error) {
	images, err := engine.Client().ImageList(ctx, image.ListOptions{})
	if err != nil {
		return true, fmt.Errorf("list local images: %w", err)
	}
	for _, img := range images {
		for _, t := range img.RepoTags {
			if t == tag {
				return false, nil
			}
		}
	}
	return true, nil
}

// ResolveTag formats the "<image_name>:<image_tag>" reference per §3.
func ResolveTag(imageName, imageTag string) string {
	if imageTag == "" {
		return imageName
	}
	return imageName + ":" + imageTag
}
