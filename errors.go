package executor

import (
	"errors"
	"fmt"
)

// Kind identifies the category of a tagged Error. Callers can branch on Kind
// with errors.As instead of matching on error strings.
type Kind int

const (
	// KindContextBuild marks an I/O failure rooted at context packing.
	KindContextBuild Kind = iota
	// KindImageBuild marks an engine-reported build failure; Error.Log carries
	// the full accumulated build log.
	KindImageBuild
	// KindImagePull marks a registry/pull failure.
	KindImagePull
	// KindStartup marks a container that failed to start or whose sidecar was
	// unreachable within the health-poll deadline.
	KindStartup
	// KindStartupTimeout specializes KindStartup for deadline exhaustion.
	KindStartupTimeout
	// KindRPC marks a transport-level gRPC failure against the sidecar.
	KindRPC
	// KindTimedOut marks a command that exceeded its effective timeout;
	// Error carries whatever partial stdout/stderr had already streamed.
	KindTimedOut
	// KindAlreadyStarted marks a second call to Executor.Start.
	KindAlreadyStarted
	// KindNotStarted marks an operation attempted before Start completed.
	KindNotStarted
	// KindEngineConnect marks an inability to reach the container engine daemon.
	KindEngineConnect
)

func (k Kind) String() string {
	switch k {
	case KindContextBuild:
		return "ContextBuild"
	case KindImageBuild:
		return "ImageBuild"
	case KindImagePull:
		return "ImagePull"
	case KindStartup:
		return "Startup"
	case KindStartupTimeout:
		return "StartupTimeout"
	case KindRPC:
		return "Rpc"
	case KindTimedOut:
		return "TimedOut"
	case KindAlreadyStarted:
		return "AlreadyStarted"
	case KindNotStarted:
		return "NotStarted"
	case KindEngineConnect:
		return "EngineConnect"
	default:
		return "Unknown"
	}
}

// Error is the single tagged error type surfaced to callers of this library.
// It wraps the underlying cause (via Unwrap) so errors.Is/errors.As continue
// to work against sentinel and driver errors beneath it.
type Error struct {
	Kind    Kind
	Message string
	Err     error

	// Log carries the accumulated build log for KindImageBuild, or the tail
	// of container logs for KindStartup/KindStartupTimeout.
	Log string

	// Stdout and Stderr carry whatever partial output the sidecar had
	// already streamed before a KindTimedOut command was cancelled.
	Stdout string
	Stderr string
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// Is allows errors.Is(err, ErrAlreadyStarted)-style sentinel comparisons by
// Kind whenever the target is also an *Error; wrapped causes are not compared.
func (e *Error) Is(target error) bool {
	var other *Error
	if errors.As(target, &other) {
		return e.Kind == other.Kind
	}
	return false
}

// ErrContextBuild wraps an I/O error encountered while packing the build context.
func ErrContextBuild(path string, err error) *Error {
	return &Error{Kind: KindContextBuild, Message: fmt.Sprintf("pack build context at %s", path), Err: err}
}

// ErrImageBuild reports an engine-side build failure, carrying the full log
// accumulated up to the failing step.
func ErrImageBuild(tag string, log string, err error) *Error {
	return &Error{Kind: KindImageBuild, Message: fmt.Sprintf("build image %s", tag), Err: err, Log: log}
}

// ErrImagePull reports a registry/pull failure for the given reference.
func ErrImagePull(ref string, err error) *Error {
	return &Error{Kind: KindImagePull, Message: fmt.Sprintf("pull image %s", ref), Err: err}
}

// ErrStartup reports a container/sidecar startup failure, carrying the last
// probe error and the tail of the container's logs.
func ErrStartup(containerID string, logTail string, err error) *Error {
	return &Error{Kind: KindStartup, Message: fmt.Sprintf("start container %s", containerID), Err: err, Log: logTail}
}

// ErrStartupTimeout specializes ErrStartup for the health-poll deadline expiring.
func ErrStartupTimeout(containerID string, logTail string, err error) *Error {
	return &Error{Kind: KindStartupTimeout, Message: fmt.Sprintf("sidecar unreachable in container %s", containerID), Err: err, Log: logTail}
}

// ErrRPC wraps a transport-level gRPC failure.
func ErrRPC(op string, err error) *Error {
	return &Error{Kind: KindRPC, Message: op, Err: err}
}

// ErrTimedOut reports a command that exceeded its effective timeout, carrying
// whatever partial stdout/stderr had already streamed.
func ErrTimedOut(shell string, stdout, stderr string) *Error {
	return &Error{Kind: KindTimedOut, Message: fmt.Sprintf("command timed out: %s", shell), Stdout: stdout, Stderr: stderr}
}

// ErrAlreadyStarted reports a second call to Executor.Start on the same facade.
func ErrAlreadyStarted() *Error {
	return &Error{Kind: KindAlreadyStarted, Message: "executor already started"}
}

// ErrNotStarted reports an operation attempted before Start completed.
func ErrNotStarted() *Error {
	return &Error{Kind: KindNotStarted, Message: "executor not started"}
}

// ErrEngineConnect wraps an inability to reach the container engine daemon.
func ErrEngineConnect(err error) *Error {
	return &Error{Kind: KindEngineConnect, Message: "connect to container engine", Err: err}
}
