// Package native implements the search backend in pure Go for hosts
// without ripgrep. Glob filters follow ripgrep's -g semantics: a glob
// without a slash matches a base name at any depth, "!" excludes.
package native

import (
	"bufio"
	"context"
	"errors"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/bmatcuk/doublestar/v4"

	"codetax/internal/backends"
	cterrors "codetax/internal/errors"
)

// maxFileSize skips files larger than this, like the secret scanner did
const maxFileSize = 10 * 1024 * 1024

// Walker searches files with Go's regexp engine
type Walker struct {
	logger *slog.Logger
}

// NewWalker creates a native search backend
func NewWalker(logger *slog.Logger) *Walker {
	return &Walker{logger: logger}
}

// ID returns the backend identifier
func (w *Walker) ID() backends.BackendID {
	return backends.BackendNative
}

// IsAvailable is always true
func (w *Walker) IsAvailable() bool {
	return true
}

// Search walks every path in q and streams each regexp match to fn.
func (w *Walker) Search(ctx context.Context, q backends.Query, fn backends.MatchFunc) error {
	re, err := regexp.Compile(q.Pattern)
	if err != nil {
		return cterrors.NewError(cterrors.BackendUnavailable, "native backend cannot compile pattern", err, nil).
			WithDetails(map[string]interface{}{"pattern": q.Pattern, "paths": q.Paths, "globs": q.Globs})
	}

	includes, excludes := backends.SplitGlobs(q.Globs)
	f := filter{includes: includes, excludes: excludes}

	for _, root := range q.Paths {
		if err := w.walk(ctx, root, re, f, fn); err != nil {
			return err
		}
	}
	return nil
}

func (w *Walker) walk(ctx context.Context, root string, re *regexp.Regexp, f filter, fn backends.MatchFunc) error {
	info, err := os.Stat(root)
	if err != nil {
		return cterrors.NewError(cterrors.BackendUnavailable, "search path not accessible", err, nil).
			WithDetails(map[string]interface{}{"path": root})
	}
	if !info.IsDir() {
		return w.scanFile(ctx, root, re, fn)
	}

	return filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			w.logger.Debug("Skipping unreadable path", "path", p, "error", err)
			return nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}

		rel, relErr := filepath.Rel(root, p)
		if relErr != nil || rel == "." {
			return nil
		}
		rel = filepath.ToSlash(rel)

		if d.IsDir() {
			if isHidden(d.Name()) || f.excluded(rel) {
				return filepath.SkipDir
			}
			return nil
		}
		if isHidden(d.Name()) || !d.Type().IsRegular() || !f.selected(rel) {
			return nil
		}
		if fi, err := d.Info(); err != nil || fi.Size() > maxFileSize {
			return nil
		}
		return w.scanFile(ctx, p, re, fn)
	})
}

// scanFile reports every match in one file, line by line.
func (w *Walker) scanFile(ctx context.Context, p string, re *regexp.Regexp, fn backends.MatchFunc) error {
	file, err := os.Open(p)
	if err != nil {
		w.logger.Debug("Failed to open file", "file", p, "error", err)
		return nil
	}
	defer file.Close()

	reader := bufio.NewReader(file)
	if isBinary(reader) {
		return nil
	}

	lineNum := 0
	for {
		line, readErr := reader.ReadString('\n')
		if line != "" {
			lineNum++
			text := strings.TrimSuffix(strings.TrimSuffix(line, "\n"), "\r")
			for _, loc := range re.FindAllStringIndex(text, -1) {
				if loc[0] == loc[1] {
					continue
				}
				m := backends.Match{
					Path:       p,
					LineNumber: lineNum,
					Line:       line,
					Text:       text[loc[0]:loc[1]],
					Start:      loc[0],
					End:        loc[1],
				}
				if err := fn(m); err != nil {
					return err
				}
			}
		}
		if readErr != nil {
			if errors.Is(readErr, io.EOF) {
				return nil
			}
			w.logger.Debug("Failed to read file", "file", p, "error", readErr)
			return nil
		}
		if lineNum%1024 == 0 {
			if err := ctx.Err(); err != nil {
				return err
			}
		}
	}
}

// filter applies ripgrep-style include and exclude globs
type filter struct {
	includes []string
	excludes []string
}

// excluded reports whether rel matches any exclude glob
func (f filter) excluded(rel string) bool {
	for _, g := range f.excludes {
		if globMatch(g, rel) {
			return true
		}
	}
	return false
}

// selected reports whether a file passes both glob lists
func (f filter) selected(rel string) bool {
	if f.excluded(rel) {
		return false
	}
	if len(f.includes) == 0 {
		return true
	}
	for _, g := range f.includes {
		if globMatch(g, rel) {
			return true
		}
	}
	return false
}

// globMatch matches a slash-free glob against the base name and any other
// glob against the whole relative path.
func globMatch(glob, rel string) bool {
	glob = strings.TrimPrefix(glob, "/")
	if !strings.Contains(glob, "/") {
		ok, _ := doublestar.Match(glob, path.Base(rel))
		return ok
	}
	ok, _ := doublestar.Match(glob, rel)
	return ok
}

func isHidden(name string) bool {
	return strings.HasPrefix(name, ".") && name != "." && name != ".."
}

// isBinary checks for null bytes in the first 512 bytes
func isBinary(r *bufio.Reader) bool {
	head, _ := r.Peek(512)
	for _, b := range head {
		if b == 0 {
			return true
		}
	}
	return false
}
