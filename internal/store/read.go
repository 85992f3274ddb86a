package store

import (
	"bytes"
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/cadenroberts/OllamaBot-sub000/internal/flowcode"
	"github.com/cadenroberts/OllamaBot-sub000/internal/model"
	"github.com/cadenroberts/OllamaBot-sub000/internal/patch"
	"github.com/cadenroberts/OllamaBot-sub000/internal/tree"
)

// Open loads an existing session directory. It validates meta.json, loads the
// committed log, prunes files left by an interrupted append, rebuilds the
// head tree and refreshes the derived files.
func Open(ctx context.Context, dir string, opts ...Option) (*Store, error) {
	if _, err := os.Stat(DBPath(dir)); err != nil {
		return nil, fmt.Errorf("open session %s: %w", dir, err)
	}

	s := newStore(dir, opts)
	meta, err := readMeta(s.abs(MetaFile))
	if err != nil {
		return nil, persistErr("load meta", err)
	}
	s.meta = meta

	db, err := openDB(DBPath(dir))
	if err != nil {
		return nil, persistErr("open database", err)
	}
	s.db = db

	if err := s.load(ctx); err != nil {
		s.Close()
		return nil, err
	}
	if err := s.recover(); err != nil {
		s.Close()
		return nil, err
	}
	if err := s.rebuildHead(); err != nil {
		s.Close()
		return nil, err
	}
	s.checkStoredFlowCode()
	if err := s.writeDerived(); err != nil {
		s.logger.Warn("derived files not refreshed", slog.Any("error", err))
	}

	s.logger.Debug("session opened",
		slog.String("session_id", meta.SessionID),
		slog.Int("nodes", len(s.nodes)),
		slog.Int("checkpoints", len(s.checkpoints)))
	return s, nil
}

// checkStoredFlowCode compares flow.code on disk with the code regenerated
// from the log. A mismatch means an earlier write was interrupted or the file
// was edited; the log wins and the file is rewritten.
func (s *Store) checkStoredFlowCode() {
	stored, err := s.StoredFlowCode()
	if err != nil {
		return
	}
	want := s.FlowCode()
	if stored == want {
		return
	}
	if verr := flowcode.Validate(stored); verr != nil {
		s.logger.Warn("flow.code is corrupt, regenerating",
			slog.String("stored", stored), slog.String("code", want), slog.Any("error", verr))
		return
	}
	s.logger.Warn("flow.code is stale, regenerating", slog.String("stored", stored), slog.String("code", want))
}

// load reads the committed nodes and checkpoints, attaching diff content and
// verifying each node's hash chain.
func (s *Store) load(ctx context.Context) error {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, schedule, process, outcome, error_code, files_hash, parent_hash, node_hash, diff_id
		FROM nodes
		ORDER BY id ASC
	`)
	if err != nil {
		return persistErr("query nodes", err)
	}
	defer rows.Close()

	var nodes []model.StateNode
	for rows.Next() {
		var (
			n        model.StateNode
			schedule int
			process  int
			outcome  string
			code     string
			diffID   string
		)
		if err := rows.Scan(&n.ID, &schedule, &process, &outcome, &code, &n.FilesHash, &n.ParentHash, &n.NodeHash, &diffID); err != nil {
			return persistErr("scan node", err)
		}
		n.Schedule = model.ScheduleID(schedule)
		n.Process = model.ProcessID(process)
		n.Outcome = model.Outcome(outcome)
		n.ErrorCode = model.ErrorCode(code)
		n.ActionIDs = []string{ActionID(n.ID)}

		if n.ID != len(nodes)+1 {
			return corruptErr("node ids are not contiguous: expected %d, found %d", len(nodes)+1, n.ID)
		}
		if err := s.attachDiffs(&n, diffID); err != nil {
			return err
		}
		wantParent := ""
		if len(nodes) > 0 {
			wantParent = nodes[len(nodes)-1].NodeHash
		}
		if n.ParentHash != wantParent {
			return corruptErr("node %d parent hash does not match node %d", n.ID, n.ID-1)
		}
		if h, err := model.NodeHash(n); err != nil || h != n.NodeHash {
			return corruptErr("node %d hash mismatch", n.ID)
		}
		nodes = append(nodes, n)
	}
	if err := rows.Err(); err != nil {
		return persistErr("iterate nodes", err)
	}

	checkpoints, err := s.readCheckpoints(ctx)
	if err != nil {
		return err
	}

	s.nodes = nodes
	s.checkpoints = checkpoints
	return nil
}

func (s *Store) attachDiffs(n *model.StateNode, diffID string) error {
	fwd, err := os.ReadFile(s.abs(ForwardDiffName(n.ActionIDs[0])))
	if err != nil {
		return persistErr(fmt.Sprintf("read diff of node %d", n.ID), err)
	}
	bwd, err := os.ReadFile(s.abs(ReverseDiffName(n.ActionIDs[0])))
	if err != nil {
		return persistErr(fmt.Sprintf("read reverse diff of node %d", n.ID), err)
	}
	if model.DiffID(fwd) != diffID {
		return corruptErr("node %d diff content does not match its id", n.ID)
	}
	n.DiffForward = fwd
	n.DiffBackward = bwd
	return nil
}

func (s *Store) readCheckpoints(ctx context.Context) ([]model.CheckpointRef, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT node_index, schedule, kind, path, files_hash
		FROM checkpoints
		ORDER BY node_index ASC
	`)
	if err != nil {
		return nil, persistErr("query checkpoints", err)
	}
	defer rows.Close()

	var out []model.CheckpointRef
	for rows.Next() {
		var (
			c        model.CheckpointRef
			schedule int
			kind     string
		)
		if err := rows.Scan(&c.Index, &schedule, &kind, &c.Path, &c.FilesHash); err != nil {
			return nil, persistErr("scan checkpoint", err)
		}
		c.Schedule = model.ScheduleID(schedule)
		c.Kind = model.CheckpointKind(kind)
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, persistErr("iterate checkpoints", err)
	}
	if len(out) == 0 || out[0].Index != 0 {
		return nil, corruptErr("baseline checkpoint missing")
	}
	return out, nil
}

// rebuildHead reconstructs the head tree from the latest checkpoint and the
// forward diffs after it, and checks it against the head's files hash.
func (s *Store) rebuildHead() error {
	base := s.checkpoints[0]
	for _, c := range s.checkpoints {
		if c.Index <= len(s.nodes) {
			base = c
		}
	}

	t, err := s.readArchive(base)
	if err != nil {
		return err
	}
	for _, n := range s.nodes[base.Index:] {
		next, err := patch.Apply(t, n.DiffForward)
		if err != nil {
			return corruptErr("replay node %d: %v", n.ID, err)
		}
		t = next
	}

	want := base.FilesHash
	if len(s.nodes) > 0 {
		want = s.nodes[len(s.nodes)-1].FilesHash
	}
	if got := t.Hash(); got != want {
		return corruptErr("head tree hash %s does not match recorded %s", got, want)
	}
	s.head = t
	return nil
}

func (s *Store) readArchive(c model.CheckpointRef) (tree.Tree, error) {
	f, err := os.Open(s.abs(c.Path))
	if err != nil {
		return nil, persistErr("open checkpoint "+c.Path, err)
	}
	defer f.Close()

	t, err := tree.ReadArchive(f)
	if err != nil {
		return nil, corruptErr("checkpoint %s: %v", c.Path, err)
	}
	if t.Hash() != c.FilesHash {
		return nil, corruptErr("checkpoint %s content does not match its recorded hash", c.Path)
	}
	return t, nil
}

// Log returns the committed nodes in id order, diffs included.
func (s *Store) Log() []model.StateNode {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]model.StateNode, len(s.nodes))
	copy(out, s.nodes)
	return out
}

// Transitions returns the committed transition sequence.
func (s *Store) Transitions() []model.Transition {
	s.mu.Lock()
	defer s.mu.Unlock()
	return transitions(s.nodes)
}

// HeadID returns the id of the last committed node, 0 for an empty log.
func (s *Store) HeadID() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.nodes)
}

// Head returns a copy of the tree at the head of the log.
func (s *Store) Head() tree.Tree {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.head.Clone()
}

// Checkpoints returns the checkpoints in index order.
func (s *Store) Checkpoints() []model.CheckpointRef {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]model.CheckpointRef, len(s.checkpoints))
	copy(out, s.checkpoints)
	return out
}

// Meta returns the session metadata.
func (s *Store) Meta() Meta {
	return s.meta
}

// FlowCode encodes the committed transitions.
func (s *Store) FlowCode() string {
	return flowcode.Encode(s.Transitions())
}

// StoredFlowCode reads flow.code from disk without its trailing newline.
func (s *Store) StoredFlowCode() (string, error) {
	data, err := os.ReadFile(s.abs(FlowCodeFile))
	if err != nil {
		return "", err
	}
	return string(bytes.TrimRight(data, "\n")), nil
}

// LoadState returns a snapshot stored with SaveState and the head index at
// which it was saved. ok is false when the key was never saved.
func (s *Store) LoadState(ctx context.Context, key string) (value []byte, index int, ok bool, err error) {
	var text string
	err = s.db.QueryRowContext(ctx, `
		SELECT value, node_index FROM session_state WHERE key = ?
	`, key).Scan(&text, &index)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, 0, false, nil
	}
	if err != nil {
		return nil, 0, false, persistErr("load "+key, err)
	}
	return []byte(text), index, true, nil
}

// Snapshot returns a read-only view of the log for restoration. Later appends
// are not visible through it.
func (s *Store) Snapshot() *Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	nodes := make([]model.StateNode, len(s.nodes))
	copy(nodes, s.nodes)
	checkpoints := make([]model.CheckpointRef, len(s.checkpoints))
	copy(checkpoints, s.checkpoints)
	return &Snapshot{store: s, nodes: nodes, checkpoints: checkpoints}
}

// Snapshot is an immutable view of a session log.
type Snapshot struct {
	store       *Store
	nodes       []model.StateNode
	checkpoints []model.CheckpointRef
}

// Nodes returns the nodes visible in the snapshot.
func (sn *Snapshot) Nodes() []model.StateNode {
	return sn.nodes
}

// Checkpoints returns the checkpoints visible in the snapshot.
func (sn *Snapshot) Checkpoints() []model.CheckpointRef {
	return sn.checkpoints
}

// OpenCheckpoint unpacks a checkpoint archive and verifies its hash.
func (sn *Snapshot) OpenCheckpoint(c model.CheckpointRef) (tree.Tree, error) {
	return sn.store.readArchive(c)
}

func corruptErr(format string, args ...any) error {
	return persistErr("load log", fmt.Errorf("corrupt session: "+format, args...))
}
