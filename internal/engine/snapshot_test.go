package engine

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cadenroberts/OllamaBot-sub000/internal/model"
)

func TestSnapshot_JSONRoundTrip(t *testing.T) {
	n, _ := newTestNavigator()
	runSchedule(t, n, 1, 1, 2, 3)
	require.NoError(t, n.SelectSchedule(2))
	runProcesses(t, n, 1)
	requireCode(t, n.SelectProcess(3), model.ErrProcessAdjacency)

	data, err := json.Marshal(n.Snapshot())
	require.NoError(t, err)
	var snap Snapshot
	require.NoError(t, json.Unmarshal(data, &snap))

	other, _ := newTestNavigator()
	require.NoError(t, other.Load(snap, n.Transitions()))
	assert.Equal(t, n.State(), other.State())
	assert.Equal(t, n.FlowCode(), other.FlowCode())
	assert.Equal(t, n.Terminated(), other.Terminated())

	want, _ := n.Suspension()
	got, ok := other.Suspension()
	require.True(t, ok)
	assert.Equal(t, want, got)

	// The last successful call survives, so retry behaves the same.
	require.NoError(t, other.Resume(context.Background(), DirectiveRetry))
	assert.Equal(t, model.ProcessID(1), other.State().Running)
}

func TestSnapshot_FrozenFlowCodeSurvives(t *testing.T) {
	n, _ := newTestNavigator()
	for sid := model.ScheduleID(1); sid <= 5; sid++ {
		runSchedule(t, n, sid, 1, 2, 3)
	}
	require.NoError(t, n.TerminatePrompt(context.Background()))

	other, _ := newTestNavigator()
	require.NoError(t, other.Load(n.Snapshot(), n.Transitions()))
	assert.Equal(t, PhasePromptTerminated, other.State().Phase)
	assert.Equal(t, n.FlowCode(), other.FlowCode())
	requireCode(t, other.SelectSchedule(1), model.ErrPromptTerminated)
}

func TestSnapshot_LoadRejectsForeignLog(t *testing.T) {
	n, _ := newTestNavigator()
	runSchedule(t, n, 1, 1, 2, 3)
	snap := n.Snapshot()

	other, _ := newTestNavigator()
	require.NoError(t, other.SelectSchedule(4))

	err := other.Load(snap, n.Transitions()[:2])
	requireCode(t, err, model.ErrFlowCodeCorrupt)

	log := n.Transitions()
	log[1].Outcome = model.OutcomeError
	err = other.Load(snap, log)
	requireCode(t, err, model.ErrFlowCodeCorrupt)

	// A failed load leaves the navigator as it was.
	assert.Equal(t, State{Phase: PhaseInSchedule, Schedule: 4}, other.State())
}

func TestRebuild(t *testing.T) {
	n, rec := newTestNavigator()
	runSchedule(t, n, 1, 1, 2, 3)
	runSchedule(t, n, 3, 1, 2, 2, 3)
	require.NoError(t, n.SelectSchedule(1))
	runProcesses(t, n, 1, 2)

	log := n.Transitions()
	other, _ := newTestNavigator()
	other.Rebuild(log, rec.checkpoints)

	assert.Equal(t, n.State(), other.State())
	assert.Equal(t, n.FlowCode(), other.FlowCode())
	assert.Equal(t, []model.ScheduleID{1, 3}, other.Terminated())
}

func TestRebuild_EndsOnTermination(t *testing.T) {
	n, rec := newTestNavigator()
	runSchedule(t, n, 2, 1, 2, 3)

	other, _ := newTestNavigator()
	other.Rebuild(n.Transitions(), rec.checkpoints)
	assert.Equal(t, State{Phase: PhaseScheduleTerminated, Schedule: 2}, other.State())

	// Retry after rebuild re-enters the terminated schedule.
	requireCode(t, other.SelectProcess(1), model.ErrPhaseViolation)
	require.NoError(t, other.Resume(context.Background(), DirectiveRetry))
	assert.Equal(t, State{Phase: PhaseInSchedule, Schedule: 2}, other.State())
}
