// Package executor implements a containerized tool executor: given a
// project directory and a base Dockerfile, it materializes an isolated
// runtime container with a gRPC sidecar injected, launches it, and exposes a
// stable interface for executing shell commands and streaming file contents
// from inside that container.
package executor

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/docker/docker/api/types/mount"
	"github.com/docker/go-connections/nat"
	"github.com/google/uuid"
	"google.golang.org/grpc"

	"github.com/bosun-ai/swiftide-docker-executor/internal/contextpack"
	"github.com/bosun-ai/swiftide-docker-executor/internal/dockerengine"
	"github.com/bosun-ai/swiftide-docker-executor/internal/dockerfile"
	"github.com/bosun-ai/swiftide-docker-executor/internal/dockerimage"
	"github.com/bosun-ai/swiftide-docker-executor/internal/logger"
	"github.com/bosun-ai/swiftide-docker-executor/internal/sidecar"
)

// sidecarPort is the port the sidecar binary listens on inside the container
// (spec §6).
const sidecarPort = "50051"

// Executor is the running form of ExecutorConfig: it owns the container, the
// gRPC channel to its sidecar, and teardown, per Design Notes "Builder ->
// running transition".
type Executor struct {
	mu sync.Mutex

	state   State
	cfg     *ExecutorConfig
	engine  *dockerengine.Engine
	ctrMgr  *dockerengine.ContainerManager
	image   string
	network string

	containerID   string
	containerName string
	workdir       string
	user          string

	shellConn   *grpc.ClientConn
	shell       *sidecar.ShellClient
	loaderConn  *grpc.ClientConn
	loaderCl    *sidecar.LoaderClient
	own         *ownership
	stopOnce    sync.Once
	stopErr     error
}

// Start runs the full A -> B (via C) -> D pipeline and returns a running
// handle owning the Shell and File Loader clients. Re-invocation on the same
// ExecutorConfig fails with AlreadyStarted; the first container remains
// Ready (Testable Property / scenario S6).
func (c *ExecutorConfig) Start(ctx context.Context) (*Executor, error) {
	if c.contextPath == "" && !c.skipBuild {
		return nil, fmt.Errorf("executor: context_path is required unless skip_build is set")
	}
	if !c.started.CompareAndSwap(false, true) {
		return nil, ErrAlreadyStarted()
	}

	if c.logging != nil {
		if err := logger.NewLogger(c.logging); err != nil {
			return nil, fmt.Errorf("executor: configure logging: %w", err)
		}
	}

	e := &Executor{state: StateConfigured, cfg: c, workdir: c.workdir, user: c.user}

	engine, err := dockerengine.New()
	if err != nil {
		return nil, ErrEngineConnect(err)
	}
	e.engine = engine
	e.ctrMgr = dockerengine.NewContainerManager(engine)

	image, err := e.build(ctx)
	if err != nil {
		e.state = StateStopped
		return nil, err
	}
	e.image = image

	if err := e.createAndStart(ctx); err != nil {
		e.teardownBestEffort(ctx)
		e.state = StateStopped
		return nil, err
	}

	if err := e.launchSidecarAndConnect(ctx); err != nil {
		e.teardownBestEffort(ctx)
		e.state = StateStopped
		return nil, err
	}

	e.state = StateReady
	e.own = &ownership{teardown: e.deferredTeardown}
	return e, nil
}

// build runs the Context Packer and Image Builder (components A/B/C),
// honoring SkipBuild.
func (e *Executor) build(ctx context.Context) (string, error) {
	c := e.cfg
	if c.skipBuild {
		return c.imageName, nil
	}
	e.state = StateBuilding

	dockerfilePath := filepath.Join(c.contextPath, c.dockerfilePath)
	raw, err := os.ReadFile(dockerfilePath)
	if err != nil {
		return "", ErrContextBuild(dockerfilePath, err)
	}
	injected := dockerfile.Inject(string(raw))

	packed, err := contextpack.Pack(contextpack.Options{
		ContextPath: c.contextPath,
		Dockerfile:  injected,
	})
	if err != nil {
		return "", ErrContextBuild(c.contextPath, err)
	}

	tag := c.imageTag
	if tag == "" {
		tag = uuid.New().String()
	}
	fullTag := dockerimage.ResolveTag(c.imageName, tag)

	pull, err := dockerimage.ShouldPull(ctx, e.engine, fullTag)
	if err != nil {
		logger.Warn().Err(err).Msg("could not determine local image presence, defaulting to pull")
		pull = true
	}

	buildArgs := map[string]*string{}
	result, err := dockerimage.Build(ctx, e.engine, dockerimage.Options{
		Tag:            fullTag,
		DockerfileName: packed.DockerfileName,
		BuildContext:   packed.Tar,
		Backend:        c.backend(),
		Pull:           pull,
		BuildArgs:      buildArgs,
	})
	if err != nil {
		var buildErr *dockerimage.BuildError
		if ok := asBuildError(err, &buildErr); ok {
			return "", ErrImageBuild(fullTag, buildErr.Log, buildErr.Err)
		}
		return "", ErrImageBuild(fullTag, "", err)
	}
	logger.Info().Str("tag", fullTag).Str("image_id", result.ImageID).Msg("image build complete")
	return fullTag, nil
}

func asBuildError(err error, target **dockerimage.BuildError) bool {
	be, ok := err.(*dockerimage.BuildError)
	if ok {
		*target = be
	}
	return ok
}

// createAndStart implements Container Lifecycle creation, network
// auto-discovery, start, and the health-poll-gated transition to Ready
// (§4.D).
func (e *Executor) createAndStart(ctx context.Context) error {
	e.state = StateCreated
	c := e.cfg

	network, byName, err := e.engine.ResolveNetwork(ctx)
	if err != nil {
		network = ""
	}
	e.network = network

	name := fmt.Sprintf("swiftide-executor-%s", uuid.New().String())

	env := make([]string, 0, len(c.env))
	for k, v := range c.env {
		env = append(env, k+"="+v)
	}

	port := nat.Port(sidecarPort + "/tcp")
	cfg := dockerengine.ContainerConfig{
		Name:         name,
		Image:        e.image,
		Cmd:          []string{"sleep", "infinity"},
		Env:          env,
		WorkingDir:   c.workdir,
		User:         c.user,
		Labels:       map[string]string{"swiftide-docker-executor": "true"},
		ExposedPorts: nat.PortSet{port: struct{}{}},
		PortBindings: nat.PortMap{port: []nat.PortBinding{{HostIP: "0.0.0.0", HostPort: ""}}},
		Mounts:       []mount.Mount{},
	}
	if byName {
		cfg.NetworkMode = network
	}

	id, err := e.ctrMgr.Create(ctx, cfg)
	if err != nil {
		return ErrStartup("", "", err)
	}
	e.containerID = id
	e.containerName = name

	if byName && network != "" {
		if err := e.engine.ConnectToNetwork(ctx, network, id); err != nil {
			logger.Warn().Err(err).Msg("failed to connect container to auto-discovered network")
		}
	}

	e.state = StateStarting
	if err := e.ctrMgr.Start(ctx, id); err != nil {
		return ErrStartup(id, e.ctrMgr.LogTail(ctx, id, "200"), err)
	}
	return nil
}

// launchSidecarAndConnect execs the sidecar binary inside the container
// (the injected CMD is `sleep infinity`, which does not auto-start it — see
// DESIGN.md's sidecar-launch decision) and health-polls its gRPC endpoint
// with exponential backoff until ready or the overall deadline elapses.
func (e *Executor) launchSidecarAndConnect(ctx context.Context) error {
	if err := e.ctrMgr.ExecDetached(ctx, e.containerID, []string{"/usr/bin/swiftide-docker-service"}); err != nil {
		return ErrStartup(e.containerID, e.ctrMgr.LogTail(ctx, e.containerID, "200"), err)
	}

	addr, err := e.sidecarAddr(ctx)
	if err != nil {
		return ErrStartup(e.containerID, e.ctrMgr.LogTail(ctx, e.containerID, "200"), err)
	}

	conn, err := sidecar.WaitReady(ctx, addr, sidecar.DefaultBackoff)
	if err != nil {
		logTail := e.ctrMgr.LogTail(ctx, e.containerID, "200")
		_ = e.ctrMgr.Kill(ctx, e.containerID)
		return ErrStartupTimeout(e.containerID, logTail, err)
	}

	e.shellConn = conn
	e.shell = sidecar.NewShellClient(conn)
	e.loaderConn = conn
	e.loaderCl = sidecar.NewLoaderClient(conn)
	return nil
}

// sidecarAddr resolves where the sidecar is reachable: by container name
// when attached to an auto-discovered user network, otherwise by the mapped
// host port (§4.D).
func (e *Executor) sidecarAddr(ctx context.Context) (string, error) {
	if e.network != "" && e.network != "bridge" {
		return fmt.Sprintf("%s:%s", e.containerName, sidecarPort), nil
	}
	hostAddr, err := e.engine.HostPortBinding(ctx, e.containerID, sidecarPort)
	if err != nil {
		return "", err
	}
	if strings.HasPrefix(hostAddr, "0.0.0.0:") || strings.HasPrefix(hostAddr, ":") {
		return "127.0.0.1" + hostAddr[strings.Index(hostAddr, ":"):], nil
	}
	return hostAddr, nil
}

// Exec runs cmd against the container's sidecar (component E). It resolves
// CurrentDir, computes the effective timeout (command override > executor
// default > none), and maps a deadline to TimedOut carrying whatever partial
// stdout/stderr had already streamed.
func (e *Executor) Exec(ctx context.Context, cmd Command) (*CommandOutput, error) {
	e.mu.Lock()
	if e.state != StateReady {
		e.mu.Unlock()
		return nil, ErrNotStarted()
	}
	shell := e.shell
	workdir := e.workdir
	defaultTimeout := e.cfg.defaultTimeout
	containerID := e.containerID
	e.mu.Unlock()

	resolvedDir := resolveCurrentDir(workdir, cmd.CurrentDir)
	fullShell := fmt.Sprintf("cd %s && %s", shellQuote(resolvedDir), cmd.Shell)

	timeout := effectiveTimeout(cmd.Timeout, defaultTimeout)

	execCtx := ctx
	var cancel context.CancelFunc
	if timeout > 0 {
		execCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	var stdout, stderr strings.Builder
	var exitCode int32
	err := shell.StreamExec(execCtx, sidecar.ShellRequest{Command: fullShell}, func(chunk sidecar.ShellChunk) {
		if len(chunk.Stdout) > 0 {
			stdout.Write(chunk.Stdout)
			logger.Debug().Str("container", containerID).Bytes("stdout", chunk.Stdout).Msg("shell output")
		}
		if len(chunk.Stderr) > 0 {
			stderr.Write(chunk.Stderr)
			logger.Debug().Str("container", containerID).Bytes("stderr", chunk.Stderr).Msg("shell output")
		}
		if chunk.Done {
			exitCode = chunk.ExitCode
		}
	})

	if err != nil {
		if timeout > 0 && errors.Is(execCtx.Err(), context.DeadlineExceeded) {
			return nil, ErrTimedOut(cmd.Shell, stdout.String(), stderr.String())
		}
		return nil, ErrRPC("exec", err)
	}

	return &CommandOutput{ExitCode: exitCode, Stdout: stdout.String(), Stderr: stderr.String()}, nil
}

func effectiveTimeout(override time.Duration, def *time.Duration) time.Duration {
	if override > 0 {
		return override
	}
	if def != nil {
		return *def
	}
	return 0
}

// FileLoaderBorrowed returns a loader that shares liveness with e: it never
// tears the container down on its own Close (§3/§9).
func (e *Executor) FileLoaderBorrowed() *FileLoader {
	return fileLoaderBorrowed(e.loaderCl, e.own)
}

// IntoFileLoader hands teardown ownership to the returned loader; e's own
// Stop becomes a no-op for container teardown from this point on (§3/§9
// "guard against ... premature cleanup when a borrowed loader outlives it").
func (e *Executor) IntoFileLoader() *FileLoader {
	e.own.handOff()
	return intoFileLoader(e.loaderCl, e.own)
}

// Stop tears the container down: closes the gRPC channel, then kill followed
// by remove. Idempotent — a second call is a no-op. If a borrowing file
// loader is still mid-stream, teardown is deferred to that loader's Close
// (ownership.promote). If ownership was handed off via IntoFileLoader, Stop
// only updates state and leaves teardown to the owning loader's Close.
func (e *Executor) Stop(ctx context.Context) error {
	e.stopOnce.Do(func() {
		e.mu.Lock()
		if e.own != nil && e.own.isHandedOff() {
			e.state = StateStopped
			e.mu.Unlock()
			return
		}
		if e.own != nil {
			immediate := e.own.promote()
			if !immediate {
				e.mu.Unlock()
				return
			}
		}
		e.state = StateStopping
		e.mu.Unlock()

		e.stopErr = e.teardown(ctx)

		e.mu.Lock()
		e.state = StateStopped
		e.mu.Unlock()
	})
	return e.stopErr
}

// deferredTeardown performs the actual kill+remove when a borrowing
// FileLoader releases the last outstanding borrow after Stop has already
// deferred to it (ownership.promote). It must not go through Stop itself:
// Stop's sync.Once is already spent by the call that deferred teardown here,
// so routing back through Stop would silently no-op and leak the container.
func (e *Executor) deferredTeardown(ctx context.Context) error {
	e.mu.Lock()
	e.state = StateStopping
	e.mu.Unlock()

	err := e.teardown(ctx)
	e.stopErr = err

	e.mu.Lock()
	e.state = StateStopped
	e.mu.Unlock()
	return err
}

// teardownBestEffort is used when Start fails partway through and needs to
// clean up whatever was half-created, swallowing teardown errors (§7
// "Teardown errors are logged, never raised").
func (e *Executor) teardownBestEffort(ctx context.Context) {
	if err := e.teardown(ctx); err != nil {
		logger.Warn().Err(err).Msg("best-effort teardown after failed start encountered an error")
	}
}

func (e *Executor) teardown(ctx context.Context) error {
	if e.shellConn != nil {
		_ = e.shellConn.Close()
	}
	if e.containerID == "" {
		return nil
	}
	if err := e.ctrMgr.Kill(ctx, e.containerID); err != nil {
		logger.Warn().Err(err).Str("container", e.containerID).Msg("kill failed during teardown")
	}
	if err := e.ctrMgr.Remove(ctx, e.containerID, true); err != nil {
		logger.Warn().Err(err).Str("container", e.containerID).Msg("remove failed during teardown")
		return err
	}
	return nil
}

// ContainerID returns the engine-assigned id of the running container.
func (e *Executor) ContainerID() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.containerID
}

// State returns the executor's current lifecycle state.
func (e *Executor) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}
