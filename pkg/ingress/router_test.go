package ingress

import (
	"testing"

	"github.com/covey-run/covey/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testNodes() []*types.Node {
	return []*types.Node{
		{ID: "node-1", Address: "10.0.0.1", Status: types.NodeStatusReady},
		{ID: "node-2", Address: "10.0.0.2", Status: types.NodeStatusReady},
		{ID: "node-3", Address: "10.0.0.3", Status: types.NodeStatusReady},
	}
}

func webService(mode types.PublishMode) *types.Service {
	return &types.Service{
		ID:   "svc-1",
		Name: "web",
		Ports: []*types.PortMapping{
			{ContainerPort: 80, PublishedPort: 8080, Protocol: "tcp", PublishMode: mode},
		},
		HealthCheck: &types.HealthCheck{Type: types.HealthCheckHTTP, Endpoint: "/health"},
	}
}

func webTask(id, nodeID string, state types.TaskState) *types.Task {
	return &types.Task{
		ID:           id,
		ServiceID:    "svc-1",
		NodeID:       nodeID,
		DesiredState: types.TaskStateRunning,
		ActualState:  state,
		HealthCheck:  &types.HealthCheck{Type: types.HealthCheckHTTP, Endpoint: "/health"},
	}
}

func TestBuildTableExcludesUnhealthyTasks(t *testing.T) {
	services := []*types.Service{webService(types.PublishModeIngress)}
	tasks := []*types.Task{
		webTask("t1", "node-1", types.TaskStateHealthy),
		webTask("t2", "node-2", types.TaskStateHealthy),
		webTask("t3", "node-3", types.TaskStateUnhealthy),
	}

	table := BuildTable(services, tasks, testNodes())

	entry, ok := table[8080]
	require.True(t, ok)
	require.Len(t, entry.Endpoints, 2)
	for _, endpoint := range entry.Endpoints {
		assert.NotEqual(t, "t3", endpoint.TaskID)
	}
}

func TestBuildTableExcludesDownNodesAndStoppingTasks(t *testing.T) {
	nodes := testNodes()
	nodes[1].Status = types.NodeStatusDown

	services := []*types.Service{webService(types.PublishModeIngress)}
	stopping := webTask("t3", "node-3", types.TaskStateHealthy)
	stopping.DesiredState = types.TaskStateShutdown
	tasks := []*types.Task{
		webTask("t1", "node-1", types.TaskStateHealthy),
		webTask("t2", "node-2", types.TaskStateHealthy), // node down
		stopping,
	}

	table := BuildTable(services, tasks, nodes)

	entry := table[8080]
	require.NotNil(t, entry)
	require.Len(t, entry.Endpoints, 1)
	assert.Equal(t, "t1", entry.Endpoints[0].TaskID)
	assert.Equal(t, "10.0.0.1:80", entry.Endpoints[0].Addr)
}

func TestBuildTableWithoutHealthCheckUsesRunning(t *testing.T) {
	service := webService(types.PublishModeIngress)
	service.HealthCheck = nil
	task := webTask("t1", "node-1", types.TaskStateRunning)
	task.HealthCheck = nil

	table := BuildTable([]*types.Service{service}, []*types.Task{task}, testNodes())
	require.Len(t, table[8080].Endpoints, 1)
}

func TestBuildTableSkipsRemovingServices(t *testing.T) {
	service := webService(types.PublishModeIngress)
	service.Removing = true

	table := BuildTable([]*types.Service{service}, nil, testNodes())
	_, ok := table[8080]
	assert.False(t, ok)
}

func TestPickRoundRobinsAcrossEndpoints(t *testing.T) {
	router := NewRouter()
	router.Rebuild(
		[]*types.Service{webService(types.PublishModeIngress)},
		[]*types.Task{
			webTask("t1", "node-1", types.TaskStateHealthy),
			webTask("t2", "node-2", types.TaskStateHealthy),
		},
		testNodes(),
	)

	seen := make(map[string]int)
	for i := 0; i < 4; i++ {
		endpoint, err := router.Pick(8080, "node-1")
		require.NoError(t, err)
		seen[endpoint.TaskID]++
	}
	assert.Equal(t, 2, seen["t1"])
	assert.Equal(t, 2, seen["t2"])
}

func TestPickHostModeOnlyRoutesLocally(t *testing.T) {
	router := NewRouter()
	router.Rebuild(
		[]*types.Service{webService(types.PublishModeHost)},
		[]*types.Task{
			webTask("t1", "node-1", types.TaskStateHealthy),
			webTask("t2", "node-2", types.TaskStateHealthy),
		},
		testNodes(),
	)

	endpoint, err := router.Pick(8080, "node-1")
	require.NoError(t, err)
	assert.Equal(t, "t1", endpoint.TaskID)

	// A node without a local task serves nothing on a host mode port.
	_, err = router.Pick(8080, "node-3")
	assert.ErrorIs(t, err, ErrNoEndpoints)
}

func TestPickUnpublishedPort(t *testing.T) {
	router := NewRouter()
	_, err := router.Pick(9999, "node-1")
	assert.ErrorIs(t, err, ErrPortNotPublished)
}

func TestRebuildSwapsTableAtomically(t *testing.T) {
	router := NewRouter()
	router.Rebuild(
		[]*types.Service{webService(types.PublishModeIngress)},
		[]*types.Task{webTask("t1", "node-1", types.TaskStateHealthy)},
		testNodes(),
	)

	_, err := router.Pick(8080, "node-1")
	require.NoError(t, err)

	// The service's port moves; the old port disappears in one swap.
	moved := webService(types.PublishModeIngress)
	moved.Ports[0].PublishedPort = 9090
	router.Rebuild(
		[]*types.Service{moved},
		[]*types.Task{webTask("t1", "node-1", types.TaskStateHealthy)},
		testNodes(),
	)

	_, err = router.Pick(8080, "node-1")
	assert.ErrorIs(t, err, ErrPortNotPublished)
	_, err = router.Pick(9090, "node-1")
	assert.NoError(t, err)
}
