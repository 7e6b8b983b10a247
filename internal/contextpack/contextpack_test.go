package contextpack

import (
	"archive/tar"
	"compress/gzip"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// readEntries decompresses and untars r, returning name -> contents.
func readEntries(t *testing.T, r io.Reader) map[string]string {
	t.Helper()
	gz, err := gzip.NewReader(r)
	require.NoError(t, err)
	defer gz.Close()

	tr := tar.NewReader(gz)
	out := map[string]string{}
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			break
		}
		require.NoError(t, err)
		buf, err := io.ReadAll(tr)
		require.NoError(t, err)
		out[hdr.Name] = string(buf)
	}
	return out
}

func TestPack_IncludesRegularFilesAndExcludesIgnored(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "hello.txt"), []byte("hi\n"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(root, "secret.env"), []byte("TOKEN=x\n"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(root, ".gitignore"), []byte("secret.env\n"), 0o644))

	res, err := Pack(Options{ContextPath: root, Dockerfile: "FROM scratch\n"})
	require.NoError(t, err)

	entries := readEntries(t, res.Tar)
	assert.Equal(t, "hi\n", entries["hello.txt"])
	assert.NotContains(t, entries, "secret.env")
	assert.Contains(t, entries, res.DockerfileName)
	assert.Equal(t, "FROM scratch\n", entries[res.DockerfileName])
}

func TestPack_NestedIgnoreInnermostWins(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, ".gitignore"), []byte("*.log\n"), 0o644))
	sub := filepath.Join(root, "sub")
	require.NoError(t, os.MkdirAll(sub, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(sub, ".gitignore"), []byte("!keep.log\n"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(sub, "keep.log"), []byte("kept\n"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(sub, "drop.log"), []byte("dropped\n"), 0o644))

	res, err := Pack(Options{ContextPath: root})
	require.NoError(t, err)

	entries := readEntries(t, res.Tar)
	assert.Contains(t, entries, "sub/keep.log")
	assert.NotContains(t, entries, "sub/drop.log")
}

func TestPack_GitDirAlwaysIncluded(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, ".gitignore"), []byte(".git\n"), 0o644))
	gitDir := filepath.Join(root, ".git")
	require.NoError(t, os.MkdirAll(gitDir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(gitDir, "HEAD"), []byte("ref: refs/heads/main\n"), 0o644))

	res, err := Pack(Options{ContextPath: root})
	require.NoError(t, err)

	entries := readEntries(t, res.Tar)
	assert.Contains(t, entries, ".git/HEAD")
}

func TestPack_BrokenSymlinkIsSkippedNotFatal(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "real.txt"), []byte("ok\n"), 0o644))
	require.NoError(t, os.Symlink(filepath.Join(root, "missing-target"), filepath.Join(root, "broken")))

	res, err := Pack(Options{ContextPath: root})
	require.NoError(t, err)

	entries := readEntries(t, res.Tar)
	assert.Contains(t, entries, "real.txt")
	assert.NotContains(t, entries, "broken")
}

func TestPack_SymlinkEscapingRootIsSkipped(t *testing.T) {
	root := t.TempDir()
	outside := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(outside, "secret.txt"), []byte("nope\n"), 0o644))
	require.NoError(t, os.Symlink(filepath.Join(outside, "secret.txt"), filepath.Join(root, "escape")))

	res, err := Pack(Options{ContextPath: root})
	require.NoError(t, err)

	entries := readEntries(t, res.Tar)
	assert.NotContains(t, entries, "escape")
}

func TestPack_PreservesExecutableBit(t *testing.T) {
	root := t.TempDir()
	path := filepath.Join(root, "run.sh")
	require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\necho hi\n"), 0o755))

	res, err := Pack(Options{ContextPath: root})
	require.NoError(t, err)

	gz, err := gzip.NewReader(res.Tar)
	require.NoError(t, err)
	tr := tar.NewReader(gz)
	found := false
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			break
		}
		require.NoError(t, err)
		if hdr.Name == "run.sh" {
			found = true
			assert.NotZero(t, hdr.Mode&0o111)
			assert.Zero(t, hdr.Uid)
			assert.Zero(t, hdr.Gid)
		}
	}
	assert.True(t, found)
}
