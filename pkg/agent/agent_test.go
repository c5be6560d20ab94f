package agent

import (
	"context"
	"sync"
	"testing"

	"github.com/covey-run/covey/pkg/external"
	"github.com/covey-run/covey/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeManager struct {
	mu         sync.Mutex
	joined     []*types.Node
	assigned   []*types.Task
	heartbeats [][]types.TaskReport
}

func (f *fakeManager) JoinNode(_ context.Context, node *types.Node) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.joined = append(f.joined, node)
	return nil
}

func (f *fakeManager) Heartbeat(_ context.Context, _ string, reports []types.TaskReport) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.heartbeats = append(f.heartbeats, reports)
	return nil
}

func (f *fakeManager) NodeTasks(_ context.Context, _ string) ([]*types.Task, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.assigned, nil
}

func (f *fakeManager) assign(tasks ...*types.Task) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.assigned = tasks
}

func newTestAgent(manager *fakeManager) (*Agent, *LocalRunner) {
	runner := NewLocalRunner(external.NewMemorySink())
	agent := New(Config{NodeID: "node-1", Address: "10.0.0.1"}, manager, runner, external.NewLocalCA())
	return agent, runner
}

func runningTask(id string) *types.Task {
	return &types.Task{
		ID:           id,
		ServiceID:    "svc-1",
		NodeID:       "node-1",
		DesiredState: types.TaskStateRunning,
		ActualState:  types.TaskStatePending,
		Image:        "nginx:1.27@sha256:abc",
	}
}

func TestSyncStartsAssignedTasks(t *testing.T) {
	manager := &fakeManager{}
	agent, runner := newTestAgent(manager)
	require.NoError(t, agent.register(context.Background()))

	manager.assign(runningTask("t1"), runningTask("t2"))
	require.NoError(t, agent.Sync(context.Background()))

	for _, id := range []string{"t1", "t2"} {
		state, _, err := runner.Status(id)
		require.NoError(t, err)
		assert.Equal(t, types.TaskStateRunning, state)
	}
}

func TestSyncStopsUnassignedTasks(t *testing.T) {
	manager := &fakeManager{}
	agent, runner := newTestAgent(manager)

	manager.assign(runningTask("t1"), runningTask("t2"))
	require.NoError(t, agent.Sync(context.Background()))

	// The manager reassigns t2 elsewhere.
	manager.assign(runningTask("t1"))
	require.NoError(t, agent.Sync(context.Background()))

	state, _, err := runner.Status("t2")
	require.NoError(t, err)
	assert.Equal(t, types.TaskStateShutdown, state)

	state, _, err = runner.Status("t1")
	require.NoError(t, err)
	assert.Equal(t, types.TaskStateRunning, state)
}

func TestSyncStopsShutdownDesiredTasks(t *testing.T) {
	manager := &fakeManager{}
	agent, runner := newTestAgent(manager)

	task := runningTask("t1")
	manager.assign(task)
	require.NoError(t, agent.Sync(context.Background()))

	stopping := *task
	stopping.DesiredState = types.TaskStateShutdown
	manager.assign(&stopping)
	require.NoError(t, agent.Sync(context.Background()))

	state, _, err := runner.Status("t1")
	require.NoError(t, err)
	assert.Equal(t, types.TaskStateShutdown, state)
}

func TestReportsReflectRunnerState(t *testing.T) {
	manager := &fakeManager{}
	agent, runner := newTestAgent(manager)

	manager.assign(runningTask("t1"), runningTask("t2"))
	require.NoError(t, agent.Sync(context.Background()))

	runner.Fail("t2", 137)

	reports := agent.Reports()
	require.Len(t, reports, 2)

	byID := make(map[string]types.TaskReport)
	for _, report := range reports {
		byID[report.TaskID] = report
		assert.Equal(t, "node-1", report.NodeID)
	}
	assert.Equal(t, types.TaskStateRunning, byID["t1"].State)
	assert.Equal(t, types.TaskStateFailed, byID["t2"].State)
	assert.Equal(t, 137, byID["t2"].ExitCode)
}

func TestRegisterIssuesCredential(t *testing.T) {
	manager := &fakeManager{}
	agent, _ := newTestAgent(manager)

	require.NoError(t, agent.register(context.Background()))
	require.Len(t, manager.joined, 1)
	assert.Equal(t, "node-1", manager.joined[0].ID)
	assert.Equal(t, "node-1", agent.credential.NodeID)
	assert.NotEmpty(t, agent.credential.Material)
}

func TestSyncIsIdempotent(t *testing.T) {
	manager := &fakeManager{}
	agent, runner := newTestAgent(manager)

	manager.assign(runningTask("t1"))
	require.NoError(t, agent.Sync(context.Background()))
	require.NoError(t, agent.Sync(context.Background()))

	state, _, err := runner.Status("t1")
	require.NoError(t, err)
	assert.Equal(t, types.TaskStateRunning, state)
	assert.Len(t, agent.Reports(), 1)
}
