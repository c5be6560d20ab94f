package storage

import (
	"testing"
	"time"

	"github.com/covey-run/covey/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *BoltStore {
	t.Helper()
	store, err := NewBoltStore(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func TestNodeCRUD(t *testing.T) {
	store := newTestStore(t)

	node := &types.Node{
		ID:        "node-1",
		Role:      types.NodeRoleWorker,
		Status:    types.NodeStatusReady,
		Labels:    map[string]string{"zone": "east"},
		CreatedAt: time.Now(),
	}
	require.NoError(t, store.CreateNode(node))

	got, err := store.GetNode("node-1")
	require.NoError(t, err)
	assert.Equal(t, types.NodeRoleWorker, got.Role)
	assert.Equal(t, "east", got.Labels["zone"])

	got.Status = types.NodeStatusDraining
	require.NoError(t, store.UpdateNode(got))

	got, err = store.GetNode("node-1")
	require.NoError(t, err)
	assert.Equal(t, types.NodeStatusDraining, got.Status)

	require.NoError(t, store.DeleteNode("node-1"))
	_, err = store.GetNode("node-1")
	assert.ErrorIs(t, err, types.ErrUnknownNode)
}

func TestServiceByName(t *testing.T) {
	store := newTestStore(t)

	require.NoError(t, store.CreateService(&types.Service{
		ID:   "svc-1",
		Name: "web",
		Mode: types.ServiceModeReplicated,
	}))

	got, err := store.GetServiceByName("web")
	require.NoError(t, err)
	assert.Equal(t, "svc-1", got.ID)

	_, err = store.GetServiceByName("missing")
	assert.ErrorIs(t, err, types.ErrUnknownService)
}

func TestTaskFilters(t *testing.T) {
	store := newTestStore(t)

	tasks := []*types.Task{
		{ID: "t1", ServiceID: "svc-1", NodeID: "node-1"},
		{ID: "t2", ServiceID: "svc-1", NodeID: "node-2"},
		{ID: "t3", ServiceID: "svc-2", NodeID: "node-1"},
	}
	for _, task := range tasks {
		require.NoError(t, store.CreateTask(task))
	}

	byService, err := store.ListTasksByService("svc-1")
	require.NoError(t, err)
	assert.Len(t, byService, 2)

	byNode, err := store.ListTasksByNode("node-1")
	require.NoError(t, err)
	assert.Len(t, byNode, 2)

	_, err = store.GetTask("t4")
	assert.ErrorIs(t, err, types.ErrUnknownTask)
}

func TestVersionBumpsOnEveryMutation(t *testing.T) {
	store := newTestStore(t)

	v0, err := store.Version()
	require.NoError(t, err)

	require.NoError(t, store.CreateService(&types.Service{ID: "svc-1", Name: "web"}))
	v1, err := store.Version()
	require.NoError(t, err)
	assert.Equal(t, v0+1, v1)

	require.NoError(t, store.CreateTask(&types.Task{ID: "t1", ServiceID: "svc-1"}))
	require.NoError(t, store.DeleteTask("t1"))
	v3, err := store.Version()
	require.NoError(t, err)
	assert.Equal(t, v1+2, v3)

	// reads do not move the counter
	_, err = store.ListServices()
	require.NoError(t, err)
	v4, err := store.Version()
	require.NoError(t, err)
	assert.Equal(t, v3, v4)
}
