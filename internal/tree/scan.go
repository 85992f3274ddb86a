package tree

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"runtime"
	"strings"

	"golang.org/x/sync/errgroup"
)

// DefaultIgnore returns the path components that are never tracked.
func DefaultIgnore() []string {
	return []string{".git", ".obot", ".hg", ".svn", ".DS_Store"}
}

// Ignore decides which paths a scan skips. Each pattern is matched with
// path.Match against every component of the relative path, and against the
// whole relative path.
type Ignore struct {
	patterns []string
}

// NewIgnore returns an Ignore that combines DefaultIgnore() with patterns.
func NewIgnore(patterns ...string) Ignore {
	all := DefaultIgnore()
	for _, p := range patterns {
		if p = strings.TrimSpace(p); p != "" {
			all = append(all, strings.TrimSuffix(p, "/"))
		}
	}
	return Ignore{patterns: all}
}

// Match reports whether rel (slash-separated) is ignored.
func (ig Ignore) Match(rel string) bool {
	for _, pat := range ig.patterns {
		if ok, _ := path.Match(pat, rel); ok {
			return true
		}
		for _, part := range strings.Split(rel, "/") {
			if ok, _ := path.Match(pat, part); ok {
				return true
			}
		}
	}
	return false
}

// ScanOptions configures Scan.
type ScanOptions struct {
	Ignore Ignore

	// Workers bounds concurrent file reads. Zero means GOMAXPROCS.
	Workers int
}

// Scan reads every tracked regular file under root. Symlinks and other
// non-regular files are skipped.
func Scan(ctx context.Context, root string, opts ScanOptions) (Tree, error) {
	info, err := os.Stat(root)
	if err != nil {
		return nil, fmt.Errorf("scan %s: %w", root, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("scan %s: not a directory", root)
	}

	workers := opts.Workers
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}

	out := &locked{tree: make(Tree)}
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)

	walkErr := filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if err := gctx.Err(); err != nil {
			return err
		}
		if p == root {
			return nil
		}
		rel, err := filepath.Rel(root, p)
		if err != nil {
			return err
		}
		rel = filepath.ToSlash(rel)
		if opts.Ignore.Match(rel) {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if !d.Type().IsRegular() {
			return nil
		}

		g.Go(func() error {
			data, err := os.ReadFile(p)
			if err != nil {
				return fmt.Errorf("read %s: %w", rel, err)
			}
			out.put(rel, data)
			return nil
		})
		return nil
	})

	if err := g.Wait(); err != nil {
		return nil, err
	}
	if walkErr != nil {
		return nil, fmt.Errorf("scan %s: %w", root, walkErr)
	}
	return out.tree, nil
}

// Sync makes the tracked content of root equal to t: files in t are written
// when their content differs, tracked files absent from t are removed, and
// directories left empty by a removal are pruned.
func Sync(ctx context.Context, root string, t Tree, opts ScanOptions) error {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return fmt.Errorf("sync %s: %w", root, err)
	}
	current, err := Scan(ctx, root, opts)
	if err != nil {
		return err
	}

	for _, rel := range current.Paths() {
		if _, keep := t[rel]; keep {
			continue
		}
		full := filepath.Join(root, filepath.FromSlash(rel))
		if err := os.Remove(full); err != nil {
			return fmt.Errorf("sync: remove %s: %w", rel, err)
		}
		pruneEmptyParents(root, filepath.Dir(full))
	}

	for _, rel := range t.Paths() {
		if err := ctx.Err(); err != nil {
			return err
		}
		if data, ok := current[rel]; ok && string(data) == string(t[rel]) {
			continue
		}
		full := filepath.Join(root, filepath.FromSlash(rel))
		if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
			return fmt.Errorf("sync: mkdir for %s: %w", rel, err)
		}
		if err := os.WriteFile(full, t[rel], 0o644); err != nil {
			return fmt.Errorf("sync: write %s: %w", rel, err)
		}
	}
	return nil
}

func pruneEmptyParents(root, dir string) {
	root = filepath.Clean(root)
	for dir = filepath.Clean(dir); dir != root && strings.HasPrefix(dir, root); dir = filepath.Dir(dir) {
		if err := os.Remove(dir); err != nil {
			return
		}
	}
}
