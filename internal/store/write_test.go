package store

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cadenroberts/OllamaBot-sub000/internal/model"
)

func TestAppend_WritesNodeAndFiles(t *testing.T) {
	s, dir := createTestStore(t)
	ctx := context.Background()

	node, err := s.Append(ctx, completed(1, 1), readmeDiff("# demo", "# demo v2"))
	require.NoError(t, err)

	assert.Equal(t, 1, node.ID)
	assert.Equal(t, []string{"0001"}, node.ActionIDs)
	assert.Empty(t, node.ParentHash)
	assert.Equal(t, model.MustNodeHash(node), node.NodeHash)
	assert.Equal(t, s.Head().Hash(), node.FilesHash)
	assert.Equal(t, "# demo v2\n", string(s.Head()["README.md"]))

	for _, rel := range []string{"actions/diffs/0001.diff", "actions/diffs/0001.reverse.diff", "states/0001_S1P1.state"} {
		_, err := os.Stat(filepath.Join(dir, filepath.FromSlash(rel)))
		assert.NoError(t, err, rel)
	}

	reverse, err := os.ReadFile(filepath.Join(dir, "actions", "diffs", "0001.reverse.diff"))
	require.NoError(t, err)
	assert.Contains(t, string(reverse), "-# demo v2\n+# demo\n")

	code, err := os.ReadFile(filepath.Join(dir, FlowCodeFile))
	require.NoError(t, err)
	assert.Equal(t, "S1P1\n", string(code))
}

func TestAppend_ChainsParentHashes(t *testing.T) {
	s, _ := createTestStore(t)
	ctx := context.Background()

	n1, err := s.Append(ctx, completed(1, 1), readmeDiff("# demo", "# one"))
	require.NoError(t, err)
	n2, err := s.Append(ctx, completed(1, 2), nil)
	require.NoError(t, err)

	assert.Equal(t, n1.NodeHash, n2.ParentHash)
	assert.Equal(t, n1.FilesHash, n2.FilesHash, "an empty diff keeps the tree")
	assert.Empty(t, n2.DiffForward)
}

func TestAppend_ErrorOutcomeKeepsCode(t *testing.T) {
	s, _ := createTestStore(t)

	tr := model.Transition{Schedule: 1, Process: 1, Outcome: model.OutcomeError, Code: model.ErrModelUnavailable}
	node, err := s.Append(context.Background(), tr, nil)
	require.NoError(t, err)
	assert.Equal(t, model.ErrModelUnavailable, node.ErrorCode)
	assert.Equal(t, "S1P1X\n", mustRead(t, s, FlowCodeFile))
}

func TestAppend_RejectedPatchLeavesHead(t *testing.T) {
	s, _ := createTestStore(t)
	before := s.Head().Hash()

	_, err := s.Append(context.Background(), completed(1, 1), readmeDiff("# not the content", "# x"))
	require.Error(t, err)
	code, ok := model.SystemCode(err)
	require.True(t, ok)
	assert.Equal(t, model.ErrPatchRejected, code)

	assert.Equal(t, 0, s.HeadID())
	assert.Equal(t, before, s.Head().Hash())
}

func TestAppend_WriteFailureIsPersistenceError(t *testing.T) {
	s, dir := createTestStore(t)

	// Replace the diffs directory with a file so no diff can be written.
	diffs := filepath.Join(dir, "actions", "diffs")
	require.NoError(t, os.RemoveAll(diffs))
	require.NoError(t, os.WriteFile(diffs, []byte("blocker"), 0o644))

	_, err := s.Append(context.Background(), completed(1, 1), newFileDiff("x.txt", "x"))
	require.Error(t, err)
	code, ok := model.SystemCode(err)
	require.True(t, ok)
	assert.Equal(t, model.ErrPersistenceFailed, code)
	assert.Equal(t, 0, s.HeadID())
	assert.NotContains(t, s.Head(), "x.txt")

	var count int
	require.NoError(t, s.db.QueryRow("SELECT COUNT(*) FROM nodes").Scan(&count))
	assert.Equal(t, 0, count)
}

func TestAppend_CancelledContext(t *testing.T) {
	s, _ := createTestStore(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := s.Append(ctx, completed(1, 1), nil)
	code, ok := model.SystemCode(err)
	require.True(t, ok)
	assert.Equal(t, model.ErrCancelled, code)
	assert.Equal(t, 0, s.HeadID())
}

func TestAppend_StateFileIsCanonical(t *testing.T) {
	s, _ := createTestStore(t)
	_, err := s.Append(context.Background(), completed(1, 1), newFileDiff("notes.txt", "hello"))
	require.NoError(t, err)

	data := mustRead(t, s, "states/0001_S1P1.state")
	assert.True(t, strings.HasPrefix(data, `{"action_ids":["0001"],`), "keys sorted: %s", data)

	sf, err := unmarshalStateFile([]byte(data))
	require.NoError(t, err)
	assert.Equal(t, 1, sf.ID)
	assert.Equal(t, 0, sf.Prev)
	assert.Equal(t, model.ScheduleID(1), sf.Schedule)
}

func TestCheckpoint_Naming(t *testing.T) {
	s, dir := createTestStore(t)
	ctx := context.Background()

	for _, pid := range []model.ProcessID{1, 2, 3} {
		_, err := s.Append(ctx, completed(1, pid), nil)
		require.NoError(t, err)
	}
	first, err := s.Checkpoint(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, "checkpoints/S1_complete.tar.gz", first.Path)
	assert.Equal(t, 3, first.Index)
	assert.Equal(t, model.CheckpointSchedule, first.Kind)

	again, err := s.Checkpoint(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, first, again, "same index is not archived twice")

	for _, pid := range []model.ProcessID{1, 2, 3} {
		_, err := s.Append(ctx, completed(1, pid), nil)
		require.NoError(t, err)
	}
	repeat, err := s.Checkpoint(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, "checkpoints/S1_complete_0006.tar.gz", repeat.Path)

	_, err = s.Append(ctx, completed(2, 1), nil)
	require.NoError(t, err)
	final, err := s.Checkpoint(ctx, 0)
	require.NoError(t, err)
	assert.Equal(t, model.CheckpointFinal, final.Kind)
	assert.Equal(t, "checkpoints/final_0007.tar.gz", final.Path)

	for _, c := range s.Checkpoints() {
		_, err := os.Stat(filepath.Join(dir, filepath.FromSlash(c.Path)))
		assert.NoError(t, err, c.Path)
	}
}

func TestSaveAndLoadState(t *testing.T) {
	s, _ := createTestStore(t)
	ctx := context.Background()

	_, _, ok, err := s.LoadState(ctx, "navigator")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, s.SaveState(ctx, "navigator", []byte(`{"phase":"idle"}`)))
	_, err = s.Append(ctx, completed(1, 1), nil)
	require.NoError(t, err)
	require.NoError(t, s.SaveState(ctx, "navigator", []byte(`{"phase":"in_schedule"}`)))

	value, index, ok, err := s.LoadState(ctx, "navigator")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 1, index)
	assert.JSONEq(t, `{"phase":"in_schedule"}`, string(value))

	require.NoError(t, s.DeleteState(ctx, "navigator"))
	_, _, ok, err = s.LoadState(ctx, "navigator")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestRecurrenceFile(t *testing.T) {
	s, _ := createTestStore(t)
	ctx := context.Background()
	n1, err := s.Append(ctx, completed(1, 1), nil)
	require.NoError(t, err)
	n2, err := s.Append(ctx, completed(1, 2), nil)
	require.NoError(t, err)

	var rec struct {
		Head  int `json:"head"`
		Nodes []struct {
			ID       int    `json:"id"`
			Prev     int    `json:"prev"`
			Next     int    `json:"next"`
			NodeHash string `json:"node_hash"`
		} `json:"nodes"`
	}
	require.NoError(t, json.Unmarshal([]byte(mustRead(t, s, RecurrenceFile)), &rec))
	assert.Equal(t, 2, rec.Head)
	require.Len(t, rec.Nodes, 2)
	assert.Equal(t, 0, rec.Nodes[0].Prev)
	assert.Equal(t, 2, rec.Nodes[0].Next)
	assert.Equal(t, 0, rec.Nodes[1].Next)
	assert.Equal(t, n1.NodeHash, rec.Nodes[0].NodeHash)
	assert.Equal(t, n2.NodeHash, rec.Nodes[1].NodeHash)
}

func mustRead(t *testing.T, s *Store, rel string) string {
	t.Helper()
	data, err := os.ReadFile(s.abs(rel))
	require.NoError(t, err)
	return string(data)
}
