package restore

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cadenroberts/OllamaBot-sub000/internal/model"
	"github.com/cadenroberts/OllamaBot-sub000/internal/patch"
	"github.com/cadenroberts/OllamaBot-sub000/internal/store"
	"github.com/cadenroberts/OllamaBot-sub000/internal/tree"
)

// session builds a store whose node i writes step<i>.txt and edits log.txt.
// Schedule 1 is terminated (checkpointed) after node 3.
func session(t *testing.T, nodes int) *store.Store {
	t.Helper()
	ctx := context.Background()
	dir := filepath.Join(t.TempDir(), "session")
	meta := store.Meta{
		SessionID: "01890a5d-ac96-774b-bcce-b302099a8057",
		Workdir:   "/work",
		CreatedAt: time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
	}
	s, err := store.Create(ctx, dir, meta, tree.Tree{"log.txt": []byte("start\n")})
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	current := s.Head()
	for i := 1; i <= nodes; i++ {
		next := current.Clone()
		next[fmt.Sprintf("steps/step%d.txt", i)] = []byte("step\n")
		next["log.txt"] = append(next["log.txt"], []byte("entry\n")...)
		switch i {
		case 1:
			next["notes/x y.txt"] = []byte("first\n")
			next["notes/empty file"] = []byte{}
		case 4:
			next["notes/x y.txt"] = append(next["notes/x y.txt"], []byte("second\n")...)
		}

		p, err := patch.Capture(ctx, current, next, patch.CaptureOptions{Context: 3})
		require.NoError(t, err)
		diff, err := p.Bytes()
		require.NoError(t, err)

		tr := model.Transition{Schedule: 1, Process: model.ProcessID(i), Outcome: model.OutcomeCompleted}
		if i > 3 {
			tr = model.Transition{Schedule: 2, Process: model.ProcessID(2 - i%2), Outcome: model.OutcomeCompleted}
		}
		_, err = s.Append(ctx, tr, diff)
		require.NoError(t, err)
		current = next

		if i == 3 {
			_, err := s.Checkpoint(ctx, 1)
			require.NoError(t, err)
		}
	}
	return s
}

func TestRestore_CheckpointPlusOneForward(t *testing.T) {
	s := session(t, 4)
	e := New(s.Snapshot(), filepath.Join(t.TempDir(), "out"))

	res, err := e.Restore(context.Background(), 4)
	require.NoError(t, err)

	assert.Equal(t, StrategyCheckpoint, res.Strategy)
	require.NotNil(t, res.Checkpoint)
	assert.Equal(t, 3, res.Checkpoint.Index)
	assert.Equal(t, 1, res.Forward)
	assert.Equal(t, 0, res.Backward)
	assert.True(t, res.Verified)
	assert.Equal(t, s.Log()[3].FilesHash, res.FilesHash)
}

func TestRestore_Idempotent(t *testing.T) {
	s := session(t, 5)
	e := New(s.Snapshot(), filepath.Join(t.TempDir(), "out"))
	ctx := context.Background()

	for target := 0; target <= 5; target++ {
		first, err := e.Restore(ctx, target)
		require.NoError(t, err)
		second, err := e.Restore(ctx, target)
		require.NoError(t, err)

		assert.Equal(t, first.FilesHash, second.FilesHash, "target %d", target)
		assert.Equal(t, StrategyNone, second.Strategy)
		assert.Zero(t, second.Patches())
	}
}

func TestRestore_ABAReproducesHash(t *testing.T) {
	s := session(t, 8)
	ctx := context.Background()

	for _, pair := range [][2]int{{1, 8}, {8, 2}, {0, 5}, {6, 3}, {4, 4}} {
		a, b := pair[0], pair[1]
		e := New(s.Snapshot(), filepath.Join(t.TempDir(), "out"))

		first, err := e.Restore(ctx, a)
		require.NoError(t, err)
		_, err = e.Restore(ctx, b)
		require.NoError(t, err)
		again, err := e.Restore(ctx, a)
		require.NoError(t, err)

		assert.Equal(t, first.FilesHash, again.FilesHash, "a=%d b=%d", a, b)
		assert.True(t, again.Verified)
	}
}

func TestRestore_PrefersFewestPatches(t *testing.T) {
	s := session(t, 8)
	ctx := context.Background()
	e := New(s.Snapshot(), filepath.Join(t.TempDir(), "out"))

	_, err := e.Restore(ctx, 8)
	require.NoError(t, err)

	// From 8: two reverse diffs beat checkpoint 3 plus three forward diffs.
	res, err := e.Restore(ctx, 6)
	require.NoError(t, err)
	assert.Equal(t, StrategyBackward, res.Strategy)
	assert.Nil(t, res.Checkpoint)
	assert.Equal(t, 2, res.Backward)

	// From 6: checkpoint 3 is exact, walking back costs three diffs.
	res, err = e.Restore(ctx, 3)
	require.NoError(t, err)
	assert.Equal(t, StrategyCheckpoint, res.Strategy)
	assert.Zero(t, res.Patches())

	// From 3 to 4 both routes cost one diff; the checkpoint wins ties.
	res, err = e.Restore(ctx, 4)
	require.NoError(t, err)
	assert.Equal(t, StrategyCheckpoint, res.Strategy)
	assert.Equal(t, 1, res.Forward)

	// From 4: one forward diff against checkpoint 3 plus two.
	res, err = e.Restore(ctx, 5)
	require.NoError(t, err)
	assert.Equal(t, StrategyForward, res.Strategy)
	assert.Nil(t, res.Checkpoint)
	assert.Equal(t, 1, res.Forward)
}

func TestRestore_AdoptsMatchingDirectory(t *testing.T) {
	s := session(t, 8)
	ctx := context.Background()
	out := filepath.Join(t.TempDir(), "out")
	require.NoError(t, tree.Sync(ctx, out, s.Head(), tree.ScanOptions{Ignore: tree.NewIgnore()}))

	e := New(s.Snapshot(), out)
	res, err := e.Restore(ctx, 7)
	require.NoError(t, err)
	assert.Equal(t, StrategyBackward, res.Strategy)
	assert.Equal(t, 1, res.Backward)
}

func TestRestore_UnknownTarget(t *testing.T) {
	s := session(t, 2)
	e := New(s.Snapshot(), t.TempDir())

	_, err := e.Restore(context.Background(), 3)
	assert.ErrorIs(t, err, ErrNoSuchState)
	_, err = e.Restore(context.Background(), -1)
	assert.ErrorIs(t, err, ErrNoSuchState)
}

// driftedSource reports a wrong files hash for one node.
type driftedSource struct {
	Source
	node int
}

func (d driftedSource) Nodes() []model.StateNode {
	nodes := append([]model.StateNode(nil), d.Source.Nodes()...)
	nodes[d.node-1].FilesHash = "0000000000000000000000000000000000000000000000000000000000000000"
	return nodes
}

func TestRestore_VerificationMismatchIsNonFatal(t *testing.T) {
	s := session(t, 2)
	out := filepath.Join(t.TempDir(), "out")
	e := New(driftedSource{Source: s.Snapshot(), node: 2}, out)

	res, err := e.Restore(context.Background(), 2)
	require.Error(t, err)
	assert.True(t, IsVerification(err))
	require.NotNil(t, res, "restore still completes")
	assert.False(t, res.Verified)

	written, err := tree.Scan(context.Background(), out, tree.ScanOptions{})
	require.NoError(t, err)
	assert.Equal(t, s.Head().Hash(), written.Hash())
}
