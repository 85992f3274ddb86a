package engine

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/cadenroberts/OllamaBot-sub000/internal/model"
)

// memRecorder is an in-memory Recorder.
type memRecorder struct {
	nodes       []model.StateNode
	checkpoints []model.CheckpointRef

	failAppend     error
	failCheckpoint error
}

func (r *memRecorder) Append(ctx context.Context, tr model.Transition, diff []byte) (model.StateNode, error) {
	if r.failAppend != nil {
		return model.StateNode{}, r.failAppend
	}
	n := model.StateNode{
		ID:          len(r.nodes) + 1,
		Schedule:    tr.Schedule,
		Process:     tr.Process,
		Outcome:     tr.Outcome,
		ErrorCode:   tr.Code,
		DiffForward: diff,
	}
	r.nodes = append(r.nodes, n)
	return n, nil
}

func (r *memRecorder) Checkpoint(ctx context.Context, sid model.ScheduleID) (model.CheckpointRef, error) {
	if r.failCheckpoint != nil {
		return model.CheckpointRef{}, r.failCheckpoint
	}
	kind := model.CheckpointSchedule
	if sid == 0 {
		kind = model.CheckpointFinal
	}
	ref := model.CheckpointRef{Index: len(r.nodes), Schedule: sid, Kind: kind}
	r.checkpoints = append(r.checkpoints, ref)
	return ref, nil
}

var errDiskFull = errors.New("disk full")

func newTestNavigator(opts ...Option) (*Navigator, *memRecorder) {
	rec := &memRecorder{}
	return NewNavigator(rec, opts...), rec
}

// runProcesses selects and completes each process in order.
func runProcesses(t *testing.T, n *Navigator, procs ...model.ProcessID) {
	t.Helper()
	for _, p := range procs {
		require.NoError(t, n.SelectProcess(p))
		_, err := n.TerminateProcess(context.Background(), nil, nil)
		require.NoError(t, err)
	}
}

// runSchedule enters sid, runs procs and terminates the schedule.
func runSchedule(t *testing.T, n *Navigator, sid model.ScheduleID, procs ...model.ProcessID) {
	t.Helper()
	require.NoError(t, n.SelectSchedule(sid))
	runProcesses(t, n, procs...)
	_, err := n.TerminateSchedule(context.Background())
	require.NoError(t, err)
}

func requireCode(t *testing.T, err error, want model.ErrorCode) {
	t.Helper()
	require.Error(t, err)
	code, ok := CriticalCode(err)
	require.True(t, ok, "expected a critical error, got %v", err)
	require.Equal(t, want, code, err.Error())
}
