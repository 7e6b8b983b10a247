package executor

import (
	"encoding/base64"
	"fmt"
	"path"
	"strings"
	"time"
)

// Command describes a single shell invocation against a running Executor.
type Command struct {
	// Shell is executed by `/bin/sh -c` inside the container.
	Shell string
	// CurrentDir, if set, resolves relative to Workdir when relative, or is
	// used verbatim when absolute (§4.E step 1). Empty means Workdir.
	CurrentDir string
	// Timeout overrides the executor's default_timeout for this command when
	// non-zero.
	Timeout time.Duration
}

// NewShell returns a Command that runs shell as-is.
func NewShell(shell string) Command {
	return Command{Shell: shell}
}

// WithCurrentDir returns a copy of c with CurrentDir set.
func (c Command) WithCurrentDir(dir string) Command {
	c.CurrentDir = dir
	return c
}

// WithTimeout returns a copy of c with Timeout set.
func (c Command) WithTimeout(d time.Duration) Command {
	c.Timeout = d
	return c
}

// ReadFile returns a Command that desugars to a shell primitive reading
// path's contents to stdout (§3 "convenience constructors").
func ReadFile(filePath string) Command {
	return NewShell(fmt.Sprintf("cat %s", shellQuote(filePath)))
}

// WriteFile returns a Command that desugars to a shell primitive writing
// contents to path inside the container, base64-encoding the payload so
// arbitrary bytes survive the `/bin/sh -c` boundary untouched.
func WriteFile(filePath string, contents []byte) Command {
	encoded := base64.StdEncoding.EncodeToString(contents)
	return NewShell(fmt.Sprintf("echo %s | base64 -d > %s", shellQuote(encoded), shellQuote(filePath)))
}

// resolveCurrentDir implements §4.E step 1: relative -> join(workdir, dir);
// absolute -> as-is; missing -> workdir.
func resolveCurrentDir(workdir, currentDir string) string {
	if currentDir == "" {
		return workdir
	}
	if path.IsAbs(currentDir) {
		return currentDir
	}
	return path.Join(workdir, currentDir)
}

// CommandOutput is the result of a completed command. A non-zero ExitCode is
// a successful RPC, not an error — callers decide what it means (§3).
type CommandOutput struct {
	ExitCode int32
	Stdout   string
	Stderr   string
}

func shellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'"'"'`) + "'"
}
