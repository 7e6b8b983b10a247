package executor

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bosun-ai/swiftide-docker-executor/internal/dockerimage"
	"github.com/bosun-ai/swiftide-docker-executor/internal/logger"
)

func TestNewConfig_Defaults(t *testing.T) {
	cfg := NewConfig("/src", "myimage")
	assert.Equal(t, "Dockerfile", cfg.dockerfilePath)
	assert.Equal(t, "/app", cfg.workdir)
	assert.Equal(t, dockerimage.Classic, cfg.backend())
}

func TestConfig_BuilderMethodsAreFluent(t *testing.T) {
	cfg := NewConfig("/src", "myimage").
		Dockerfile("docker/Dockerfile").
		Workdir("/opt").
		User("1000:1000").
		DefaultTimeout(3 * time.Second).
		Env("FOO", "bar").
		UseBuildKit(true).
		Logging(&logger.Options{LogsDir: "/var/log/myexec"})

	assert.Equal(t, "docker/Dockerfile", cfg.dockerfilePath)
	assert.Equal(t, "/opt", cfg.workdir)
	assert.Equal(t, "1000:1000", cfg.user)
	require.NotNil(t, cfg.defaultTimeout)
	assert.Equal(t, 3*time.Second, *cfg.defaultTimeout)
	assert.Equal(t, "bar", cfg.env["FOO"])
	assert.Equal(t, dockerimage.BuildKit, cfg.backend())
	require.NotNil(t, cfg.logging)
	assert.Equal(t, "/var/log/myexec", cfg.logging.LogsDir)
}

func TestConfig_ClearDefaultTimeout(t *testing.T) {
	cfg := NewConfig("/src", "myimage").DefaultTimeout(time.Second)
	cfg.ClearDefaultTimeout()
	assert.Nil(t, cfg.defaultTimeout)
}

func TestConfig_CloneIsIndependent(t *testing.T) {
	cfg := NewConfig("/src", "myimage").Env("FOO", "bar").DefaultTimeout(time.Second)
	clone := cfg.Clone()
	clone.Env("FOO", "baz")
	clone.DefaultTimeout(2 * time.Second)

	assert.Equal(t, "bar", cfg.env["FOO"])
	assert.Equal(t, time.Second, *cfg.defaultTimeout)
	assert.Equal(t, "baz", clone.env["FOO"])
	assert.Equal(t, 2*time.Second, *clone.defaultTimeout)
}

func TestConfig_CloneHasIndependentStartGuard(t *testing.T) {
	cfg := NewConfig("/src", "myimage")
	clone := cfg.Clone()

	assert.True(t, cfg.started.CompareAndSwap(false, true))
	assert.True(t, clone.started.CompareAndSwap(false, true), "clone's start guard must not be shared with the original")
}
