package tree

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"runtime"
	"sort"
	"sync"

	"golang.org/x/sync/errgroup"
)

// Tree is a snapshot of tracked file contents keyed by relative path.
type Tree map[string][]byte

// Clone returns a deep copy of t.
func (t Tree) Clone() Tree {
	out := make(Tree, len(t))
	for p, data := range t {
		out[p] = bytes.Clone(data)
	}
	return out
}

// Paths returns the tracked paths in bytewise order.
func (t Tree) Paths() []string {
	paths := make([]string, 0, len(t))
	for p := range t {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	return paths
}

// Equal reports whether both trees track the same paths with the same content.
func (t Tree) Equal(other Tree) bool {
	if len(t) != len(other) {
		return false
	}
	for p, data := range t {
		o, ok := other[p]
		if !ok || !bytes.Equal(data, o) {
			return false
		}
	}
	return true
}

// Manifest renders the sha256sum-style manifest the tree hash is taken over.
// Per-file digests are computed concurrently.
func (t Tree) Manifest() []byte {
	paths := t.Paths()
	sums := make([]string, len(paths))

	var g errgroup.Group
	g.SetLimit(runtime.GOMAXPROCS(0))
	for i, p := range paths {
		g.Go(func() error {
			sum := sha256.Sum256(t[p])
			sums[i] = hex.EncodeToString(sum[:])
			return nil
		})
	}
	_ = g.Wait()

	var buf bytes.Buffer
	for i, p := range paths {
		fmt.Fprintf(&buf, "%s  %s\n", sums[i], p)
	}
	return buf.Bytes()
}

// Hash returns the hex SHA-256 of the manifest. The empty tree hashes the
// empty manifest.
func (t Tree) Hash() string {
	sum := sha256.Sum256(t.Manifest())
	return hex.EncodeToString(sum[:])
}

// Diff summarises how other differs from t.
type Diff struct {
	Added    []string
	Modified []string
	Removed  []string
}

// Empty reports whether the trees were identical.
func (d Diff) Empty() bool {
	return len(d.Added) == 0 && len(d.Modified) == 0 && len(d.Removed) == 0
}

// Compare lists the paths that change when moving from t to other, each list
// in bytewise order.
func (t Tree) Compare(other Tree) Diff {
	var d Diff
	for _, p := range t.Paths() {
		o, ok := other[p]
		switch {
		case !ok:
			d.Removed = append(d.Removed, p)
		case !bytes.Equal(t[p], o):
			d.Modified = append(d.Modified, p)
		}
	}
	for _, p := range other.Paths() {
		if _, ok := t[p]; !ok {
			d.Added = append(d.Added, p)
		}
	}
	return d
}

// locked guards a Tree for concurrent writers during a scan.
type locked struct {
	mu   sync.Mutex
	tree Tree
}

func (l *locked) put(p string, data []byte) {
	l.mu.Lock()
	l.tree[p] = data
	l.mu.Unlock()
}
