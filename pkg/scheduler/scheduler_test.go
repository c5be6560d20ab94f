package scheduler

import (
	"testing"
	"time"

	"github.com/covey-run/covey/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func worker(id string, labels map[string]string) *types.Node {
	return &types.Node{
		ID:     id,
		Role:   types.NodeRoleWorker,
		Status: types.NodeStatusReady,
		Labels: labels,
	}
}

func runningTask(id, serviceID, nodeID string, started time.Time) *types.Task {
	return &types.Task{
		ID:           id,
		ServiceID:    serviceID,
		NodeID:       nodeID,
		DesiredState: types.TaskStateRunning,
		ActualState:  types.TaskStateRunning,
		StartedAt:    started,
		CreatedAt:    started,
	}
}

func TestReplicatedExactCount(t *testing.T) {
	service := &types.Service{
		ID:       "svc-web",
		Name:     "web",
		Mode:     types.ServiceModeReplicated,
		Replicas: 3,
	}
	nodes := []*types.Node{
		worker("node-3", nil), worker("node-1", nil), worker("node-5", nil),
		worker("node-2", nil), worker("node-4", nil),
	}

	plan, err := PlanService(service, nodes, nil)
	require.NoError(t, err)

	// Exactly 3 distinct nodes, lowest IDs win on the tie.
	assert.Equal(t, []string{"node-1", "node-2", "node-3"}, plan.Assign)
	assert.Empty(t, plan.Remove)
	assert.Zero(t, plan.Shortfall)
}

func TestReplicatedConstraintScenario(t *testing.T) {
	// create replicated service "web" with count=3, constraint
	// role=worker, 5 eligible workers plus two managers.
	service := &types.Service{
		ID:          "svc-web",
		Name:        "web",
		Mode:        types.ServiceModeReplicated,
		Replicas:    3,
		Constraints: []string{"role==worker"},
	}

	nodes := []*types.Node{
		{ID: "mgr-1", Role: types.NodeRoleManager, Status: types.NodeStatusReady},
		{ID: "mgr-2", Role: types.NodeRoleManager, Status: types.NodeStatusReady},
		worker("wrk-1", nil), worker("wrk-2", nil), worker("wrk-3", nil),
		worker("wrk-4", nil), worker("wrk-5", nil),
	}

	plan, err := PlanService(service, nodes, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"wrk-1", "wrk-2", "wrk-3"}, plan.Assign)

	// Determinism: identical inputs produce the identical plan.
	again, err := PlanService(service, nodes, nil)
	require.NoError(t, err)
	assert.Equal(t, plan, again)
}

func TestReplicatedShortfallIsNotAnError(t *testing.T) {
	service := &types.Service{
		ID:       "svc-web",
		Mode:     types.ServiceModeReplicated,
		Replicas: 5,
	}
	nodes := []*types.Node{worker("node-1", nil), worker("node-2", nil)}

	plan, err := PlanService(service, nodes, nil)
	require.NoError(t, err)
	assert.Len(t, plan.Assign, 2)
	assert.Equal(t, 3, plan.Shortfall)
}

func TestReplicatedSpreadPrefersLeastLoaded(t *testing.T) {
	service := &types.Service{
		ID:       "svc-web",
		Mode:     types.ServiceModeReplicated,
		Replicas: 2,
	}
	nodes := []*types.Node{worker("node-1", nil), worker("node-2", nil), worker("node-3", nil)}

	// One replica already runs on node-1.
	tasks := []*types.Task{runningTask("t1", "svc-web", "node-1", time.Now())}

	plan, err := PlanService(service, nodes, tasks)
	require.NoError(t, err)
	assert.Equal(t, []string{"node-2"}, plan.Assign)
	assert.Empty(t, plan.Remove)
}

func TestReplicatedScaleDownShedsNewestFirst(t *testing.T) {
	service := &types.Service{
		ID:       "svc-web",
		Mode:     types.ServiceModeReplicated,
		Replicas: 1,
	}
	nodes := []*types.Node{worker("node-1", nil), worker("node-2", nil), worker("node-3", nil)}

	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	tasks := []*types.Task{
		runningTask("t-old", "svc-web", "node-1", base),
		runningTask("t-mid", "svc-web", "node-2", base.Add(time.Minute)),
		runningTask("t-new", "svc-web", "node-3", base.Add(2*time.Minute)),
	}

	plan, err := PlanService(service, nodes, tasks)
	require.NoError(t, err)
	assert.Empty(t, plan.Assign)
	require.Len(t, plan.Remove, 2)
	assert.Equal(t, "t-new", plan.Remove[0].ID)
	assert.Equal(t, "t-mid", plan.Remove[1].ID)
}

func TestGlobalOnePerEligibleNode(t *testing.T) {
	// global service "agent" on a 4-node cluster, one node draining.
	service := &types.Service{
		ID:   "svc-agent",
		Name: "agent",
		Mode: types.ServiceModeGlobal,
	}
	draining := worker("node-2", nil)
	draining.Status = types.NodeStatusDraining

	nodes := []*types.Node{
		worker("node-1", nil), draining, worker("node-3", nil), worker("node-4", nil),
	}

	plan, err := PlanService(service, nodes, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"node-1", "node-3", "node-4"}, plan.Assign)
	assert.NotContains(t, plan.Assign, "node-2")
}

func TestGlobalJoinAddsExactlyOneTask(t *testing.T) {
	service := &types.Service{ID: "svc-agent", Mode: types.ServiceModeGlobal}
	nodes := []*types.Node{worker("node-1", nil), worker("node-2", nil)}
	tasks := []*types.Task{
		runningTask("t1", "svc-agent", "node-1", time.Now()),
		runningTask("t2", "svc-agent", "node-2", time.Now()),
	}

	// Steady state: nothing to do.
	plan, err := PlanService(service, nodes, tasks)
	require.NoError(t, err)
	assert.Empty(t, plan.Assign)
	assert.Empty(t, plan.Remove)

	// A node joins: exactly one new assignment, existing tasks
	// undisturbed.
	nodes = append(nodes, worker("node-3", nil))
	plan, err = PlanService(service, nodes, tasks)
	require.NoError(t, err)
	assert.Equal(t, []string{"node-3"}, plan.Assign)
	assert.Empty(t, plan.Remove)
}

func TestDownNodeTasksAreRescheduled(t *testing.T) {
	service := &types.Service{
		ID:       "svc-web",
		Mode:     types.ServiceModeReplicated,
		Replicas: 2,
	}
	down := worker("node-1", nil)
	down.Status = types.NodeStatusDown

	nodes := []*types.Node{down, worker("node-2", nil), worker("node-3", nil)}
	tasks := []*types.Task{
		runningTask("t1", "svc-web", "node-1", time.Now()),
		runningTask("t2", "svc-web", "node-2", time.Now()),
	}

	plan, err := PlanService(service, nodes, tasks)
	require.NoError(t, err)

	// The task on the down node is removed and replaced elsewhere.
	require.Len(t, plan.Remove, 1)
	assert.Equal(t, "t1", plan.Remove[0].ID)
	assert.Equal(t, []string{"node-3"}, plan.Assign)
}

func TestConstraintChangeEvictsTask(t *testing.T) {
	service := &types.Service{
		ID:          "svc-db",
		Mode:        types.ServiceModeReplicated,
		Replicas:    1,
		Constraints: []string{"tier==db"},
	}
	nodes := []*types.Node{
		worker("node-1", nil),
		worker("node-2", map[string]string{"tier": "db"}),
	}
	tasks := []*types.Task{runningTask("t1", "svc-db", "node-1", time.Now())}

	plan, err := PlanService(service, nodes, tasks)
	require.NoError(t, err)
	require.Len(t, plan.Remove, 1)
	assert.Equal(t, "t1", plan.Remove[0].ID)
	assert.Equal(t, []string{"node-2"}, plan.Assign)
}

func TestCapacityRejectionIsPerNode(t *testing.T) {
	service := &types.Service{
		ID:        "svc-big",
		Mode:      types.ServiceModeReplicated,
		Replicas:  2,
		Resources: &types.ResourceRequirements{CPUReservation: 2},
	}

	full := worker("node-1", nil)
	full.Resources = &types.NodeResources{CPUCores: 2}
	empty := worker("node-2", nil)
	empty.Resources = &types.NodeResources{CPUCores: 4}

	// node-1 is already saturated by another service's task.
	other := runningTask("t-other", "svc-other", "node-1", time.Now())
	other.Resources = &types.ResourceRequirements{CPUReservation: 2}

	plan, err := PlanService(service, []*types.Node{full, empty}, []*types.Task{other})
	require.NoError(t, err)

	// Oversubscription rejects node-1 only; node-2 still gets a task
	// and the rest is a shortfall.
	assert.Equal(t, []string{"node-2"}, plan.Assign)
	assert.Equal(t, 1, plan.Shortfall)
}

func TestInvalidConstraintFailsPlan(t *testing.T) {
	service := &types.Service{
		ID:          "svc-bad",
		Mode:        types.ServiceModeReplicated,
		Replicas:    1,
		Constraints: []string{"not-a-constraint"},
	}

	_, err := PlanService(service, []*types.Node{worker("node-1", nil)}, nil)
	assert.Error(t, err)
}
