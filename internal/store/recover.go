package store

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/cadenroberts/OllamaBot-sub000/internal/patch"
)

// recover removes state and diff files numbered beyond the committed head.
// They are left behind when a process crashes between writing its files and
// committing the node row. Leftover temp files from interrupted atomic writes
// are removed too.
func (s *Store) recover() error {
	head := len(s.nodes)
	pruned := 0

	for _, sub := range []string{StatesDir, DiffsDir, CheckpointsDir, "."} {
		dir := s.abs(sub)
		entries, err := os.ReadDir(dir)
		if err != nil {
			return persistErr("scan "+sub, err)
		}
		for _, e := range entries {
			if e.IsDir() {
				continue
			}
			name := e.Name()
			orphan := strings.Contains(name, ".tmp-")
			if !orphan && sub != CheckpointsDir && sub != "." {
				if id, ok := leadingIndex(name); ok && id > head {
					orphan = true
				}
			}
			if !orphan {
				continue
			}
			if err := os.Remove(filepath.Join(dir, name)); err != nil {
				return persistErr("prune "+name, err)
			}
			pruned++
			s.logger.Warn("pruned orphan file", slog.String("dir", sub), slog.String("file", name))
		}
	}

	if pruned > 0 {
		s.logger.Info("recovered interrupted append", slog.Int("head", head), slog.Int("pruned", pruned))
	}
	return nil
}

// leadingIndex parses the NNNN prefix of a state or diff file name.
func leadingIndex(name string) (int, bool) {
	end := 0
	for end < len(name) && name[end] >= '0' && name[end] <= '9' {
		end++
	}
	if end == 0 {
		return 0, false
	}
	n, err := strconv.Atoi(name[:end])
	if err != nil {
		return 0, false
	}
	return n, true
}

// Verify re-reads every checkpoint and replays the whole log from the
// baseline, checking each node's files hash. It is slower than Open and
// intended for explicit integrity checks.
func (s *Store) Verify() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, c := range s.checkpoints {
		if _, err := s.readArchive(c); err != nil {
			return err
		}
	}

	t, err := s.readArchive(s.checkpoints[0])
	if err != nil {
		return err
	}
	for _, n := range s.nodes {
		next, err := patch.Apply(t, n.DiffForward)
		if err != nil {
			return corruptErr("node %d forward diff: %v", n.ID, err)
		}
		if next.Hash() != n.FilesHash {
			return corruptErr("node %d files hash mismatch", n.ID)
		}
		// Reverse diffs must undo their forward diffs exactly.
		back, err := patch.Apply(next, n.DiffBackward)
		if err != nil {
			return corruptErr("node %d reverse diff: %v", n.ID, err)
		}
		if !back.Equal(t) {
			return corruptErr("node %d reverse diff does not restore node %d", n.ID, n.ID-1)
		}
		t = next
	}
	if !t.Equal(s.head) {
		return fmt.Errorf("verify: replayed tree differs from head")
	}
	return nil
}
