package engine

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cadenroberts/OllamaBot-sub000/internal/model"
	"github.com/cadenroberts/OllamaBot-sub000/internal/restore"
	"github.com/cadenroberts/OllamaBot-sub000/internal/store"
	"github.com/cadenroberts/OllamaBot-sub000/internal/tree"
)

const testSessionID = "01890a5d-ac96-774b-bcce-b302099a8057"

type fixture struct {
	root    string
	workdir string
	opts    []Option
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	base := t.TempDir()
	f := &fixture{
		root:    filepath.Join(base, "sessions"),
		workdir: filepath.Join(base, "work"),
		opts: []Option{
			WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
			WithNow(func() time.Time { return time.Date(2026, 3, 4, 5, 6, 7, 0, time.UTC) }),
		},
	}
	f.write(t, "main.go", "package main\n\nfunc main() {}\n")
	f.write(t, "README.md", "# demo\n")
	return f
}

func (f *fixture) write(t *testing.T, rel, content string) {
	t.Helper()
	p := filepath.Join(f.workdir, rel)
	require.NoError(t, os.MkdirAll(filepath.Dir(p), 0o755))
	require.NoError(t, os.WriteFile(p, []byte(content), 0o644))
}

func (f *fixture) read(t *testing.T, rel string) string {
	t.Helper()
	data, err := os.ReadFile(filepath.Join(f.workdir, rel))
	require.NoError(t, err)
	return string(data)
}

func (f *fixture) create(t *testing.T, opts ...Option) *Session {
	t.Helper()
	all := append([]Option{WithIDGenerator(NewFixedGenerator(testSessionID))}, f.opts...)
	s, err := Create(context.Background(), f.root, f.workdir, "add a cache", append(all, opts...)...)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func (f *fixture) reopen(t *testing.T, s *Session) *Session {
	t.Helper()
	require.NoError(t, s.Close())
	o, err := Open(context.Background(), filepath.Join(f.root, testSessionID), f.opts...)
	require.NoError(t, err)
	t.Cleanup(func() { o.Close() })
	return o
}

// step selects p, lets the agent edit the workdir and reports completion.
func (f *fixture) step(t *testing.T, s *Session, p model.ProcessID, rel, content string) model.StateNode {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, s.SelectProcess(ctx, p))
	f.write(t, rel, content)
	node, err := s.ProcessCompleted(ctx, nil, nil)
	require.NoError(t, err)
	return node
}

func (f *fixture) schedule(t *testing.T, s *Session, sid model.ScheduleID, procs ...model.ProcessID) {
	t.Helper()
	require.NoError(t, s.SelectSchedule(context.Background(), sid))
	for _, p := range procs {
		f.step(t, s, p, "log.txt", f.readOr(t, "log.txt")+model.StepName(sid, p)+"\n")
	}
	_, err := s.TerminateSchedule(context.Background())
	require.NoError(t, err)
}

func (f *fixture) readOr(t *testing.T, rel string) string {
	data, err := os.ReadFile(filepath.Join(f.workdir, rel))
	if err != nil {
		return ""
	}
	return string(data)
}

func TestSession_Create(t *testing.T) {
	f := newFixture(t)
	s := f.create(t)

	assert.Equal(t, testSessionID, s.ID())
	assert.Equal(t, filepath.Join(f.root, testSessionID), s.Dir())
	assert.Equal(t, State{Phase: PhaseIdle}, s.State())
	assert.FileExists(t, filepath.Join(s.Dir(), restore.ScriptName))
	assert.FileExists(t, filepath.Join(s.Dir(), store.BaseCheckpoint))

	meta := s.Meta()
	assert.Equal(t, "add a cache", meta.Prompt)
	assert.Equal(t, f.workdir, meta.Workdir)
	assert.Equal(t, 1.0, testutil.ToFloat64(s.Metrics().CheckpointsTotal.WithLabelValues("base")))
}

func TestSession_CreateMissingWorkdir(t *testing.T) {
	f := newFixture(t)
	_, err := Create(context.Background(), f.root, filepath.Join(f.workdir, "nope"), "", f.opts...)
	code, ok := model.SystemCode(err)
	require.True(t, ok, "got %v", err)
	assert.Equal(t, model.ErrWorkspaceUnavailable, code)
}

func TestSession_ProcessCompletedCapturesWorkdir(t *testing.T) {
	f := newFixture(t)
	s := f.create(t)
	ctx := context.Background()

	require.NoError(t, s.SelectSchedule(ctx, 1))
	node := f.step(t, s, 1, "notes/inventory.md", "files: 2\n")

	assert.Equal(t, 1, node.ID)
	assert.Contains(t, string(node.DiffForward), "+++ b/notes/inventory.md")

	current, err := tree.Scan(ctx, f.workdir, tree.ScanOptions{Ignore: tree.NewIgnore()})
	require.NoError(t, err)
	assert.Equal(t, current.Hash(), node.FilesHash)
	assert.Equal(t, "S1P1", s.FlowCode())
	assert.FileExists(t, filepath.Join(s.Dir(), "states", "0001_S1P1.state"))
}

func TestSession_ProcessCompletedWithExplicitDiff(t *testing.T) {
	f := newFixture(t)
	s := f.create(t)
	ctx := context.Background()

	require.NoError(t, s.SelectSchedule(ctx, 1))
	require.NoError(t, s.SelectProcess(ctx, 1))
	diff := "--- a/README.md\n+++ b/README.md\n@@ -1 +1,2 @@\n # demo\n+cache notes\n"
	node, err := s.ProcessCompleted(ctx, []byte(diff), nil)
	require.NoError(t, err)
	assert.Contains(t, string(node.DiffBackward), "-cache notes")
	assert.Equal(t, "# demo\ncache notes\n", f.read(t, "README.md"))

	// The next capture starts from the reported change, not its inverse.
	require.NoError(t, s.SelectProcess(ctx, 2))
	next, err := s.ProcessCompleted(ctx, nil, nil)
	require.NoError(t, err)
	assert.Empty(t, next.DiffForward)
	assert.Equal(t, node.FilesHash, next.FilesHash)
}

func TestSession_ExplicitDiffLeavesEditedWorkdirAlone(t *testing.T) {
	f := newFixture(t)
	s := f.create(t)
	ctx := context.Background()

	require.NoError(t, s.SelectSchedule(ctx, 1))
	require.NoError(t, s.SelectProcess(ctx, 1))
	f.write(t, "README.md", "# demo\ncache notes\n")
	diff := "--- a/README.md\n+++ b/README.md\n@@ -1 +1,2 @@\n # demo\n+cache notes\n"
	_, err := s.ProcessCompleted(ctx, []byte(diff), nil)
	require.NoError(t, err)
	assert.Equal(t, "# demo\ncache notes\n", f.read(t, "README.md"))
}

func TestSession_RejectedDiffKeepsProcessRunning(t *testing.T) {
	f := newFixture(t)
	s := f.create(t)
	ctx := context.Background()

	require.NoError(t, s.SelectSchedule(ctx, 1))
	require.NoError(t, s.SelectProcess(ctx, 1))
	diff := "--- a/README.md\n+++ b/README.md\n@@ -1 +1 @@\n-# not the content\n+# demo v2\n"
	_, err := s.ProcessCompleted(ctx, []byte(diff), nil)

	code, ok := model.SystemCode(err)
	require.True(t, ok, "got %v", err)
	assert.Equal(t, model.ErrPatchRejected, code)
	assert.Equal(t, model.ProcessID(1), s.State().Running)
	_, suspended := s.Suspension()
	assert.False(t, suspended)
	assert.Empty(t, s.Log())
	assert.Equal(t, 1.0, testutil.ToFloat64(s.Metrics().SystemErrorsTotal.WithLabelValues("E012")))
}

func TestSession_ErroredProcess(t *testing.T) {
	f := newFixture(t)
	s := f.create(t)
	ctx := context.Background()

	require.NoError(t, s.SelectSchedule(ctx, 3))
	require.NoError(t, s.SelectProcess(ctx, 1))
	code := model.ErrModelUnavailable
	node, err := s.ProcessCompleted(ctx, nil, &code)
	require.NoError(t, err)
	assert.Equal(t, model.OutcomeError, node.Outcome)
	assert.Equal(t, "S3P1X", s.FlowCode())
}

func TestSession_CancelRollsBackWorkdir(t *testing.T) {
	f := newFixture(t)
	s := f.create(t)
	ctx := context.Background()

	require.NoError(t, s.SelectSchedule(ctx, 1))
	require.NoError(t, s.SelectProcess(ctx, 1))
	f.write(t, "README.md", "# half-written\n")
	f.write(t, "scratch/tmp.txt", "partial\n")

	require.NoError(t, s.CancelProcess(ctx))
	assert.Equal(t, "# demo\n", f.read(t, "README.md"))
	assert.NoFileExists(t, filepath.Join(f.workdir, "scratch", "tmp.txt"))
	assert.Empty(t, s.Log())
	assert.Equal(t, State{Phase: PhaseInSchedule, Schedule: 1}, s.State())
}

func TestSession_ViolationSuspendsAndPersists(t *testing.T) {
	f := newFixture(t)
	s := f.create(t)
	ctx := context.Background()

	require.NoError(t, s.SelectSchedule(ctx, 2))
	err := s.SelectProcess(ctx, 3)
	requireCode(t, err, model.ErrProcessAdjacency)
	assert.Equal(t, 1.0, testutil.ToFloat64(s.Metrics().ViolationsTotal.WithLabelValues("E001")))

	o := f.reopen(t, s)
	sr, ok := o.Suspension()
	require.True(t, ok)
	assert.Equal(t, model.ErrProcessAdjacency, sr.Code)
	requireCode(t, o.SelectProcess(ctx, 1), model.ErrSessionSuspended)

	require.NoError(t, o.Resume(ctx, DirectiveSkip))
	assert.Equal(t, model.ProcessID(1), o.State().Running)
	assert.Equal(t, 1.0, testutil.ToFloat64(o.Metrics().DirectivesTotal.WithLabelValues("skip")))
}

func TestSession_ReopenKeepsRunningProcess(t *testing.T) {
	f := newFixture(t)
	s := f.create(t)
	ctx := context.Background()

	f.schedule(t, s, 1, 1, 2, 3)
	require.NoError(t, s.SelectSchedule(ctx, 2))
	require.NoError(t, s.SelectProcess(ctx, 1))
	want := s.State()

	o := f.reopen(t, s)
	assert.Equal(t, want, o.State())
	assert.Equal(t, "S1P123", o.FlowCode())
	assert.Equal(t, []model.ScheduleID{1}, o.Terminated())

	f.write(t, "plan.md", "outline\n")
	node, err := o.ProcessCompleted(ctx, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, 4, node.ID)
	assert.Equal(t, "S1P123S2P1", o.FlowCode())
}

func TestSession_ReopenKeepsZeroDiffContext(t *testing.T) {
	f := newFixture(t)
	s := f.create(t, WithDiffContext(0))
	require.NotNil(t, s.Meta().DiffContext)
	assert.Equal(t, 0, *s.Meta().DiffContext)

	o := f.reopen(t, s)
	require.NoError(t, o.SelectSchedule(context.Background(), 1))
	node := f.step(t, o, 1, "main.go", "package main\n\nfunc main() { run() }\n")

	diff := string(node.DiffForward)
	assert.Contains(t, diff, "@@ -3,1 +3,1 @@\n-func main() {}\n+func main() { run() }\n")
	assert.NotContains(t, diff, " package main")
}

func TestSession_ReopenRebuildsWithoutSnapshot(t *testing.T) {
	f := newFixture(t)
	s := f.create(t)
	ctx := context.Background()

	f.schedule(t, s, 1, 1, 2, 3)
	require.NoError(t, s.SelectSchedule(ctx, 4))
	f.step(t, s, 1, "bench.txt", "1ms\n")
	require.NoError(t, s.store.DeleteState(ctx, navigatorKey))

	o := f.reopen(t, s)
	assert.Equal(t, State{Phase: PhaseInSchedule, Schedule: 4, Process: 1, Outcome: model.OutcomeCompleted}, o.State())
	assert.Equal(t, "S1P123S4P1", o.FlowCode())
	_, suspended := o.Suspension()
	assert.False(t, suspended)
}

func TestSession_ReopenDetectsContradictingSnapshot(t *testing.T) {
	f := newFixture(t)
	s := f.create(t)
	ctx := context.Background()

	f.schedule(t, s, 1, 1, 2, 3)
	snap := s.nav.Snapshot()
	snap.FlowCode = "S1P122"
	data, err := json.Marshal(snap)
	require.NoError(t, err)
	require.NoError(t, s.store.SaveState(ctx, navigatorKey, data))

	o := f.reopen(t, s)
	sr, ok := o.Suspension()
	require.True(t, ok)
	assert.Equal(t, model.ErrFlowCodeCorrupt, sr.Code)
	assert.Equal(t, componentFlowCodec, sr.Component)
	assert.Equal(t, State{Phase: PhaseScheduleTerminated, Schedule: 1}, sr.LastValid)
	assert.Equal(t, "S1P123", o.FlowCode())
}

func TestSession_RestoreAfterCheckpoint(t *testing.T) {
	f := newFixture(t)
	s := f.create(t)
	ctx := context.Background()

	f.schedule(t, s, 1, 1, 2, 3)
	require.NoError(t, s.SelectSchedule(ctx, 2))
	node := f.step(t, s, 1, "plan.md", "outline\n")

	out := filepath.Join(t.TempDir(), "restored")
	res, err := s.Restore(ctx, node.ID, out)
	require.NoError(t, err)
	assert.Equal(t, restore.StrategyCheckpoint, res.Strategy)
	require.NotNil(t, res.Checkpoint)
	assert.Equal(t, 3, res.Checkpoint.Index)
	assert.Equal(t, 1, res.Forward)
	assert.True(t, res.Verified)
	assert.Equal(t, node.FilesHash, res.FilesHash)
	assert.Equal(t, 1.0, testutil.ToFloat64(s.Metrics().RestoresTotal.WithLabelValues("checkpoint", "true")))

	data, err := os.ReadFile(filepath.Join(out, "plan.md"))
	require.NoError(t, err)
	assert.Equal(t, "outline\n", string(data))
}

func TestSession_AbortWritesFinalCheckpoint(t *testing.T) {
	f := newFixture(t)
	s := f.create(t)
	ctx := context.Background()

	require.NoError(t, s.SelectSchedule(ctx, 1))
	f.step(t, s, 1, "a.txt", "a\n")
	requireCode(t, s.SelectProcess(ctx, 3), model.ErrProcessAdjacency)
	require.NoError(t, s.Resume(ctx, DirectiveAbort))

	cps := s.Checkpoints()
	last := cps[len(cps)-1]
	assert.Equal(t, model.CheckpointFinal, last.Kind)
	assert.Equal(t, 1, last.Index)
	assert.True(t, strings.HasPrefix(last.Path, "checkpoints/final_"))

	sr, ok := s.Suspension()
	require.True(t, ok)
	assert.True(t, sr.Aborted)
	assert.Equal(t, 1.0, testutil.ToFloat64(s.Metrics().CheckpointsTotal.WithLabelValues("final")))
}

func TestSession_FullPrompt(t *testing.T) {
	f := newFixture(t)
	s := f.create(t)
	sub := s.Events().Subscribe()

	for sid := model.ScheduleID(1); sid <= 5; sid++ {
		f.schedule(t, s, sid, 1, 2, 3)
	}
	require.NoError(t, s.TerminatePrompt(context.Background()))
	assert.Equal(t, "S1P123S2P123S3P123S4P123S5P123", s.FlowCode())
	assert.Len(t, s.Log(), 15)
	require.NoError(t, s.Verify(context.Background()))

	counts := map[EventKind]int{}
	for _, e := range sub.Drain() {
		counts[e.Kind]++
	}
	assert.Equal(t, 15, counts[EventTransitionCommitted])
	assert.Equal(t, 5, counts[EventCheckpointWritten])
	assert.Equal(t, 1, counts[EventPromptTerminated])
	assert.Equal(t, 15.0, testutil.ToFloat64(s.Metrics().HeadNode))

	o := f.reopen(t, s)
	assert.Equal(t, PhasePromptTerminated, o.State().Phase)
	requireCode(t, o.SelectSchedule(context.Background(), 1), model.ErrPromptTerminated)
}

func TestSession_CancelledContext(t *testing.T) {
	f := newFixture(t)
	s := f.create(t)
	require.NoError(t, s.SelectSchedule(context.Background(), 1))
	require.NoError(t, s.SelectProcess(context.Background(), 1))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := s.ProcessCompleted(ctx, []byte{}, nil)
	code, ok := model.SystemCode(err)
	require.True(t, ok, "got %v", err)
	assert.Equal(t, model.ErrCancelled, code)
	assert.Equal(t, model.ProcessID(1), s.State().Running)
}
