package store

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/cadenroberts/OllamaBot-sub000/internal/flowcode"
	"github.com/cadenroberts/OllamaBot-sub000/internal/model"
	"github.com/cadenroberts/OllamaBot-sub000/internal/patch"
	"github.com/cadenroberts/OllamaBot-sub000/internal/tree"
)

// Create initialises a new session directory with meta.json, an empty log
// and the baseline checkpoint of the given tree. dir must not already hold a
// session.
func Create(ctx context.Context, dir string, meta Meta, baseline tree.Tree, opts ...Option) (*Store, error) {
	if _, err := os.Stat(DBPath(dir)); err == nil {
		return nil, fmt.Errorf("create session: %s already holds a session", dir)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, persistErr("create session dir", err)
	}
	if err := makeLayout(dir); err != nil {
		return nil, persistErr("create session layout", err)
	}

	if meta.FormatVersion == "" {
		meta.FormatVersion = model.FormatVersion
	}
	if meta.EngineVersion == "" {
		meta.EngineVersion = model.EngineVersion
	}
	metaJSON, err := marshalMeta(meta)
	if err != nil {
		return nil, persistErr("marshal meta", err)
	}
	if err := ValidateMeta(metaJSON); err != nil {
		return nil, err
	}

	s := newStore(dir, opts)
	if err := writeFileAtomic(s.abs(MetaFile), metaJSON, 0o644); err != nil {
		return nil, persistErr("write meta", err)
	}

	db, err := openDB(DBPath(dir))
	if err != nil {
		return nil, persistErr("open database", err)
	}
	s.db = db
	s.meta = meta
	s.head = baseline.Clone()

	if _, err := s.writeCheckpoint(ctx, model.CheckpointBase, 0); err != nil {
		s.Close()
		return nil, err
	}
	if err := s.writeDerived(); err != nil {
		s.Close()
		return nil, persistErr("write derived files", err)
	}

	s.logger.Info("session created",
		slog.String("session_id", meta.SessionID),
		slog.Int("files", len(baseline)),
		slog.String("files_hash", baseline.Hash()))
	return s, nil
}

// Append durably records one committed transition.
//
// The diff is parsed and applied strictly to the head tree (E012 on
// rejection), its inverse computed, and the resulting node persisted. Append
// returns only after the node is committed; on any write failure it returns
// E013 and the head is unchanged.
func (s *Store) Append(ctx context.Context, tr model.Transition, diffForward []byte) (model.StateNode, error) {
	if err := ctxErr(ctx); err != nil {
		return model.StateNode{}, err
	}
	if !tr.Schedule.Valid() || !tr.Process.Valid() {
		return model.StateNode{}, fmt.Errorf("append: invalid transition %s", tr)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	p, err := patch.Parse(diffForward)
	if err != nil {
		return model.StateNode{}, model.NewSystemError(model.ErrPatchRejected, "parse diff", err)
	}
	next, err := p.Apply(s.head)
	if err != nil {
		return model.StateNode{}, model.NewSystemError(model.ErrPatchRejected, "apply diff", err)
	}
	forward, err := p.Bytes()
	if err != nil {
		return model.StateNode{}, model.NewSystemError(model.ErrPatchRejected, "render diff", err)
	}
	backward, err := p.Invert().Bytes()
	if err != nil {
		return model.StateNode{}, model.NewSystemError(model.ErrPatchRejected, "invert diff", err)
	}
	if forward == nil {
		forward, backward = []byte{}, []byte{}
	}

	id := len(s.nodes) + 1
	node := model.StateNode{
		ID:           id,
		Schedule:     tr.Schedule,
		Process:      tr.Process,
		Outcome:      tr.Outcome,
		FilesHash:    next.Hash(),
		ActionIDs:    []string{ActionID(id)},
		DiffForward:  forward,
		DiffBackward: backward,
	}
	if tr.Outcome == model.OutcomeError {
		node.ErrorCode = tr.Code
	}
	if id > 1 {
		node.ParentHash = s.nodes[id-2].NodeHash
	}
	node.NodeHash, err = model.NodeHash(node)
	if err != nil {
		return model.StateNode{}, persistErr("hash node", err)
	}

	if err := s.commitNode(ctx, node); err != nil {
		return model.StateNode{}, err
	}

	s.nodes = append(s.nodes, node)
	s.head = next

	if err := s.writeDerived(); err != nil {
		// Derived files are rebuilt on the next Open.
		s.logger.Warn("derived files not updated", slog.Int("node", id), slog.Any("error", err))
	}

	s.logger.Debug("node appended",
		slog.Int("node", id),
		slog.String("transition", tr.String()),
		slog.Int("diff_bytes", len(forward)),
		slog.String("files_hash", node.FilesHash))
	return node, nil
}

// commitNode writes the diff pair and the state file, then commits the row.
// Files written before a failed commit are removed.
func (s *Store) commitNode(ctx context.Context, node model.StateNode) error {
	action := node.ActionIDs[0]
	stateName := StateFileName(node.ID, node.Schedule, node.Process)
	written := []string{}
	cleanup := func() {
		for _, rel := range written {
			os.Remove(s.abs(rel))
		}
	}

	stateJSON, err := marshalStateFile(node)
	if err != nil {
		return persistErr("marshal state", err)
	}

	files := []struct {
		rel  string
		data []byte
	}{
		{ForwardDiffName(action), node.DiffForward},
		{ReverseDiffName(action), node.DiffBackward},
		{stateName, stateJSON},
	}
	for _, f := range files {
		if err := writeFileAtomic(s.abs(f.rel), f.data, 0o644); err != nil {
			cleanup()
			return persistErr("write "+f.rel, err)
		}
		written = append(written, f.rel)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO nodes
		(id, schedule, process, outcome, error_code, files_hash, parent_hash, node_hash, diff_id, state_file)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		node.ID,
		int(node.Schedule),
		int(node.Process),
		string(node.Outcome),
		string(node.ErrorCode),
		node.FilesHash,
		node.ParentHash,
		node.NodeHash,
		model.DiffID(node.DiffForward),
		stateName,
	)
	if err != nil {
		cleanup()
		return persistErr("commit node", err)
	}
	return nil
}

// Checkpoint archives the head tree after schedule sid terminated. Schedule 0
// records a final checkpoint, as taken when a session is aborted. A
// checkpoint already taken at the head index is returned unchanged.
func (s *Store) Checkpoint(ctx context.Context, sid model.ScheduleID) (model.CheckpointRef, error) {
	if err := ctxErr(ctx); err != nil {
		return model.CheckpointRef{}, err
	}
	kind := model.CheckpointSchedule
	if !sid.Valid() {
		kind = model.CheckpointFinal
		sid = 0
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	index := len(s.nodes)
	for _, c := range s.checkpoints {
		if c.Index == index {
			s.logger.Debug("checkpoint exists at head", slog.Int("index", index), slog.String("path", c.Path))
			return c, nil
		}
	}
	return s.writeCheckpoint(ctx, kind, sid)
}

// writeCheckpoint archives s.head at the current head index. Callers hold mu
// (or own s exclusively during Create).
func (s *Store) writeCheckpoint(ctx context.Context, kind model.CheckpointKind, sid model.ScheduleID) (model.CheckpointRef, error) {
	index := len(s.nodes)
	repeat := false
	for _, c := range s.checkpoints {
		if c.Kind == model.CheckpointSchedule && c.Schedule == sid {
			repeat = true
		}
	}

	ref := model.CheckpointRef{
		Index:     index,
		Schedule:  sid,
		Kind:      kind,
		Path:      checkpointName(kind, sid, index, repeat),
		FilesHash: s.head.Hash(),
	}

	var buf bytes.Buffer
	if err := tree.WriteArchive(&buf, s.head, s.level); err != nil {
		return model.CheckpointRef{}, model.NewSystemError(model.ErrCheckpointFailed, "archive tree", err)
	}
	if err := writeFileAtomic(s.abs(ref.Path), buf.Bytes(), 0o644); err != nil {
		return model.CheckpointRef{}, model.NewSystemError(model.ErrCheckpointFailed, "write "+ref.Path, err)
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO checkpoints (node_index, schedule, kind, path, files_hash)
		VALUES (?, ?, ?, ?, ?)
	`, ref.Index, int(ref.Schedule), string(ref.Kind), ref.Path, ref.FilesHash)
	if err != nil {
		os.Remove(s.abs(ref.Path))
		return model.CheckpointRef{}, model.NewSystemError(model.ErrCheckpointFailed, "commit checkpoint", err)
	}

	s.checkpoints = append(s.checkpoints, ref)
	if err := s.writeDerived(); err != nil {
		s.logger.Warn("derived files not updated", slog.Int("index", index), slog.Any("error", err))
	}
	s.logger.Info("checkpoint written",
		slog.String("path", ref.Path),
		slog.Int("index", ref.Index),
		slog.String("kind", string(ref.Kind)),
		slog.Int("bytes", buf.Len()))
	return ref, nil
}

// SaveState stores an opaque snapshot (the navigator position, a suspension
// record) tagged with the current head index.
func (s *Store) SaveState(ctx context.Context, key string, value []byte) error {
	s.mu.Lock()
	index := len(s.nodes)
	s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO session_state (key, value, node_index) VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, node_index = excluded.node_index
	`, key, string(value), index)
	if err != nil {
		return persistErr("save "+key, err)
	}
	return nil
}

// DeleteState removes a stored snapshot. Missing keys are not an error.
func (s *Store) DeleteState(ctx context.Context, key string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM session_state WHERE key = ?`, key); err != nil {
		return persistErr("delete "+key, err)
	}
	return nil
}

// writeDerived rewrites flow.code and recurrence.json from the cached log
// when their content changed.
func (s *Store) writeDerived() error {
	code := []byte(flowcode.Encode(transitions(s.nodes)) + "\n")
	rec, err := marshalRecurrence(s.nodes, s.checkpoints)
	if err != nil {
		return err
	}

	var errs []error
	for rel, data := range map[string][]byte{FlowCodeFile: code, RecurrenceFile: rec} {
		current, err := os.ReadFile(s.abs(rel))
		if err == nil && bytes.Equal(current, data) {
			continue
		}
		if err := writeFileAtomic(s.abs(rel), data, 0o644); err != nil {
			errs = append(errs, fmt.Errorf("write %s: %w", rel, err))
		}
	}
	return errors.Join(errs...)
}

func transitions(nodes []model.StateNode) []model.Transition {
	out := make([]model.Transition, 0, len(nodes))
	for _, n := range nodes {
		out = append(out, n.Transition())
	}
	return out
}
