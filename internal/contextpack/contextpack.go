// Package contextpack walks a project directory and produces a gzip'd tar
// stream suitable as a Docker build context, honoring nested .gitignore/.ignore
// semantics and tolerating broken symlinks.
package contextpack

import (
	"archive/tar"
	"compress/gzip"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/google/uuid"
	"github.com/moby/patternmatcher"

	"github.com/bosun-ai/swiftide-docker-executor/internal/logger"
)

// DefaultIgnoreFiles lists the ignore-file basenames consulted at every
// directory level, innermost-wins. Callers may replace this set with custom
// ignore-file names via Options.IgnoreFileNames.
var DefaultIgnoreFiles = []string{".gitignore", ".ignore"}

// Options configures a Pack invocation.
type Options struct {
	// ContextPath is the directory root to pack.
	ContextPath string
	// IgnoreFileNames overrides the set of ignore-file basenames consulted.
	// Defaults to DefaultIgnoreFiles when nil.
	IgnoreFileNames []string
	// Dockerfile is the synthesized Dockerfile content to append as a
	// uniquely named entry (see dockerfile.Inject).
	Dockerfile string
}

// Result is the outcome of a successful Pack.
type Result struct {
	// Tar is the gzip'd tar stream.
	Tar io.Reader
	// DockerfileName is the tar-entry name under which the synthesized
	// Dockerfile was written, e.g. "Dockerfile.<uuid>".
	DockerfileName string
}

// Pack walks opts.ContextPath and returns a gzip'd tar stream of every
// non-ignored regular file, plus the synthesized Dockerfile appended under a
// unique name. The returned reader streams incrementally; nothing is
// materialized on disk.
func Pack(opts Options) (*Result, error) {
	root, err := filepath.Abs(opts.ContextPath)
	if err != nil {
		return nil, fmt.Errorf("resolve context path %s: %w", opts.ContextPath, err)
	}
	info, err := os.Stat(root)
	if err != nil {
		return nil, fmt.Errorf("stat context path %s: %w", root, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("context path %s is not a directory", root)
	}

	ignoreNames := opts.IgnoreFileNames
	if len(ignoreNames) == 0 {
		ignoreNames = DefaultIgnoreFiles
	}

	dockerfileName := fmt.Sprintf("Dockerfile.%s", uuid.New().String())

	pr, pw := io.Pipe()
	go func() {
		gz := gzip.NewWriter(pw)
		tw := tar.NewWriter(gz)

		w := &walker{
			root:        root,
			ignoreNames: ignoreNames,
			tw:          tw,
		}
		err := w.walk()
		if err == nil && opts.Dockerfile != "" {
			err = writeEntry(tw, dockerfileName, []byte(opts.Dockerfile), 0o644)
		}
		if err == nil {
			err = tw.Close()
		}
		if err == nil {
			err = gz.Close()
		}
		pw.CloseWithError(err)
	}()

	return &Result{Tar: pr, DockerfileName: dockerfileName}, nil
}

// walker accumulates nested ignore-matcher state while descending the tree.
type walker struct {
	root        string
	ignoreNames []string
	tw          *tar.Writer
}

func (w *walker) walk() error {
	return w.walkDir(w.root, "", nil)
}

// walkDir recursively visits dir (absolute path), whose path relative to the
// context root is relPath ("" at the root). patterns accumulates every
// ignore-file pattern seen from the root down to dir, each already rewritten
// relative to the context root, so nested composition (innermost wins) falls
// out of gitignore's own last-pattern-wins precedence.
func (w *walker) walkDir(dir, relPath string, patterns []string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if relPath == "" {
			return fmt.Errorf("read context directory %s: %w", dir, err)
		}
		logger.Warn().Err(err).Str("dir", dir).Msg("skipping unreadable directory")
		return nil
	}

	patterns = append(append([]string{}, patterns...), w.ownIgnorePatterns(dir, relPath)...)
	matcher, err := patternmatcher.NewPatternMatcher(patterns)
	if err != nil {
		logger.Warn().Err(err).Str("dir", dir).Msg("invalid ignore pattern, treating directory as unfiltered")
		matcher, _ = patternmatcher.NewPatternMatcher(nil)
	}

	sort.Slice(entries, func(i, j int) bool { return entries[i].Name() < entries[j].Name() })

	for _, entry := range entries {
		name := entry.Name()
		entryRel := name
		if relPath != "" {
			entryRel = relPath + "/" + name
		}

		// .git and everything beneath it is never excluded, regardless of
		// ignore rules, to permit in-container version-control operations.
		if name != ".git" && !strings.Contains("/"+relPath+"/", "/.git/") {
			ignored, err := matcher.Matches(entryRel)
			if err != nil {
				logger.Warn().Err(err).Str("path", entryRel).Msg("ignore pattern match failed, including entry")
			} else if ignored {
				continue
			}
		}

		fullPath := filepath.Join(dir, name)
		fi, err := os.Lstat(fullPath)
		if err != nil {
			logger.Warn().Err(err).Str("path", entryRel).Msg("skipping entry, lstat failed")
			continue
		}

		switch {
		case fi.Mode()&os.ModeSymlink != 0:
			if err := w.addSymlink(fullPath, entryRel); err != nil {
				logger.Warn().Err(err).Str("path", entryRel).Msg("skipping broken or out-of-root symlink")
			}
		case fi.IsDir():
			if err := w.walkDir(fullPath, entryRel, patterns); err != nil {
				return err
			}
		case fi.Mode().IsRegular():
			if err := w.addFile(fullPath, entryRel, fi); err != nil {
				return fmt.Errorf("add %s: %w", entryRel, err)
			}
		default:
			logger.Debug().Str("path", entryRel).Msg("skipping non-regular entry")
		}
	}

	return nil
}

// ownIgnorePatterns reads this directory's own ignore files and rewrites
// each pattern so it is anchored relative to the context root instead of to
// dir, preserving gitignore anchoring (`/` prefix) and negation (`!` prefix).
func (w *walker) ownIgnorePatterns(dir, relPath string) []string {
	var out []string
	for _, name := range w.ignoreNames {
		content, err := os.ReadFile(filepath.Join(dir, name))
		if err != nil {
			continue
		}
		for _, line := range strings.Split(string(content), "\n") {
			line = strings.TrimRight(line, "\r")
			trimmed := strings.TrimSpace(line)
			if trimmed == "" || strings.HasPrefix(trimmed, "#") {
				continue
			}
			out = append(out, rebasePattern(trimmed, relPath))
		}
	}
	return out
}

// rebasePattern rewrites a single gitignore-style pattern found in the ignore
// file at relDir so it matches relative to the context root. Per gitignore
// semantics, a pattern is anchored to its own directory only if it contains a
// slash somewhere other than a trailing position (a leading slash, or one in
// the middle); a pattern with no such slash matches at any depth within that
// directory's subtree, including at the context root itself — so a root
// `.gitignore` entry like `*.log` must become `**/*.log`, not `*.log`.
func rebasePattern(pattern, relDir string) string {
	negate := strings.HasPrefix(pattern, "!")
	if negate {
		pattern = pattern[1:]
	}

	leadingSlash := strings.HasPrefix(pattern, "/")
	pattern = strings.TrimPrefix(pattern, "/")

	withoutTrailingSlash := strings.TrimSuffix(pattern, "/")
	anchored := leadingSlash || strings.Contains(withoutTrailingSlash, "/")

	var rebased string
	switch {
	case anchored && relDir == "":
		rebased = pattern
	case anchored:
		rebased = relDir + "/" + pattern
	case relDir == "":
		rebased = "**/" + pattern
	default:
		rebased = relDir + "/**/" + pattern
	}
	if negate {
		rebased = "!" + rebased
	}
	return rebased
}

// addSymlink follows a symlink only if its target resolves inside the
// context root; otherwise it returns an error so the caller can log and skip.
func (w *walker) addSymlink(fullPath, relPath string) error {
	target, err := filepath.EvalSymlinks(fullPath)
	if err != nil {
		return fmt.Errorf("broken symlink: %w", err)
	}
	if !strings.HasPrefix(target, w.root+string(filepath.Separator)) && target != w.root {
		return fmt.Errorf("symlink target %s escapes context root", target)
	}
	fi, err := os.Stat(target)
	if err != nil {
		return fmt.Errorf("stat symlink target: %w", err)
	}
	if !fi.Mode().IsRegular() {
		return fmt.Errorf("symlink target %s is not a regular file", target)
	}
	return w.addFile(target, relPath, fi)
}

func (w *walker) addFile(fullPath, relPath string, fi os.FileInfo) error {
	f, err := os.Open(fullPath)
	if err != nil {
		return err
	}
	defer f.Close()

	hdr := &tar.Header{
		Name:    filepath.ToSlash(relPath),
		Mode:    int64(fi.Mode().Perm()),
		Size:    fi.Size(),
		ModTime: fi.ModTime(),
		Uid:     0,
		Gid:     0,
	}
	if err := w.tw.WriteHeader(hdr); err != nil {
		return err
	}
	_, err = io.Copy(w.tw, f)
	return err
}

func writeEntry(tw *tar.Writer, name string, content []byte, mode int64) error {
	hdr := &tar.Header{
		Name: name,
		Mode: mode,
		Size: int64(len(content)),
	}
	if err := tw.WriteHeader(hdr); err != nil {
		return err
	}
	_, err := tw.Write(content)
	return err
}
