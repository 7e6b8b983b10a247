package executor

import (
	"sync/atomic"
	"time"

	"github.com/bosun-ai/swiftide-docker-executor/internal/dockerimage"
	"github.com/bosun-ai/swiftide-docker-executor/internal/logger"
)

// ExecutorConfig is the cheap, cloneable, configured form described in
// Design Notes "Builder -> running transition": it only gathers settings.
// Start() transitions it into a running *Executor that owns teardown.
type ExecutorConfig struct {
	contextPath    string
	dockerfilePath string
	imageName      string
	imageTag       string
	skipBuild      bool
	workdir        string
	user           string
	defaultTimeout *time.Duration
	env            map[string]string
	useBuildKit    bool
	logging        *logger.Options

	// started guards the one-shot Configured -> Building transition; a
	// fresh pointer per instance so Clone() never shares start state with
	// the original (see Clone).
	started *atomic.Bool
}

// NewConfig returns a configured executor with workdir defaulted to "/app"
// and dockerfilePath defaulted to "Dockerfile" per §3.
func NewConfig(contextPath, imageName string) *ExecutorConfig {
	return &ExecutorConfig{
		contextPath:    contextPath,
		dockerfilePath: "Dockerfile",
		imageName:      imageName,
		workdir:        "/app",
		env:            map[string]string{},
		started:        &atomic.Bool{},
	}
}

// Clone returns an independent copy, safe to mutate without affecting the
// receiver — configured instances are cheap and cloneable by design. The
// clone gets its own start-guard: Start() on the clone is independent of
// whether the original (or any other clone) has already started.
func (c *ExecutorConfig) Clone() *ExecutorConfig {
	clone := *c
	clone.env = make(map[string]string, len(c.env))
	for k, v := range c.env {
		clone.env[k] = v
	}
	if c.defaultTimeout != nil {
		d := *c.defaultTimeout
		clone.defaultTimeout = &d
	}
	clone.started = &atomic.Bool{}
	return &clone
}

// Dockerfile sets the Dockerfile path, relative to ContextPath.
func (c *ExecutorConfig) Dockerfile(path string) *ExecutorConfig {
	c.dockerfilePath = path
	return c
}

// ImageTag pins the image tag instead of generating a fresh UUID at Start.
func (c *ExecutorConfig) ImageTag(tag string) *ExecutorConfig {
	c.imageTag = tag
	return c
}

// Workdir sets the container's default working directory.
func (c *ExecutorConfig) Workdir(workdir string) *ExecutorConfig {
	c.workdir = workdir
	return c
}

// User sets the container's User field; unset means the image default.
func (c *ExecutorConfig) User(user string) *ExecutorConfig {
	c.user = user
	return c
}

// DefaultTimeout sets the per-command deadline applied unless a Command
// overrides it.
func (c *ExecutorConfig) DefaultTimeout(d time.Duration) *ExecutorConfig {
	c.defaultTimeout = &d
	return c
}

// ClearDefaultTimeout removes the default deadline.
func (c *ExecutorConfig) ClearDefaultTimeout() *ExecutorConfig {
	c.defaultTimeout = nil
	return c
}

// SkipBuild, when true, bypasses the Context Packer and Image Builder
// entirely and uses ImageName verbatim, assuming the sidecar is already
// present in that image.
func (c *ExecutorConfig) SkipBuild(skip bool) *ExecutorConfig {
	c.skipBuild = skip
	return c
}

// Env adds a single name=value pair to the container's environment.
func (c *ExecutorConfig) Env(name, value string) *ExecutorConfig {
	c.env[name] = value
	return c
}

// UseBuildKit selects the BuildKit image-builder backend instead of the
// classic JSON-stream backend (§4.B, §9 "BuildKit feature... gate behind a
// compile-time feature or runtime flag").
func (c *ExecutorConfig) UseBuildKit(enabled bool) *ExecutorConfig {
	c.useBuildKit = enabled
	return c
}

// Logging enables file-based logging (with an optional OTEL bridge) for the
// process-wide logger consulted throughout this module, starting at Start.
// Nil (the default) leaves the logger in its nop state.
func (c *ExecutorConfig) Logging(opts *logger.Options) *ExecutorConfig {
	c.logging = opts
	return c
}

func (c *ExecutorConfig) backend() dockerimage.Backend {
	if c.useBuildKit {
		return dockerimage.BuildKit
	}
	return dockerimage.Classic
}
