package scheduler

import (
	"fmt"
	"sort"

	"github.com/covey-run/covey/pkg/constraint"
	"github.com/covey-run/covey/pkg/types"
)

// Plan is the target assignment for one service: nodes that need a new
// task, tasks that must stop, and the replica shortfall when there are
// not enough eligible nodes. A shortfall is a transient condition, not
// an error.
type Plan struct {
	ServiceID string

	// Assign lists node IDs that should receive a new task, in
	// deterministic order.
	Assign []string

	// Remove lists tasks that should be stopped, most recently started
	// first so over-count convergence sheds the newest tasks.
	Remove []*types.Task

	// Shortfall is the number of replicas that could not be placed.
	Shortfall int
}

// PlanService computes the target assignment for a service given the
// current node set and every task in the cluster (all tasks are needed
// for capacity accounting). The computation is pure: re-running it with
// unchanged inputs yields the same plan, and nothing is mutated.
func PlanService(service *types.Service, nodes []*types.Node, tasks []*types.Task) (Plan, error) {
	plan := Plan{ServiceID: service.ID}

	exprs, err := constraint.Parse(service.Constraints)
	if err != nil {
		return plan, fmt.Errorf("service %s: %w", service.Name, err)
	}

	// Work on sorted copies so the plan does not depend on input order.
	sortedNodes := make([]*types.Node, len(nodes))
	copy(sortedNodes, nodes)
	sort.Slice(sortedNodes, func(i, j int) bool { return sortedNodes[i].ID < sortedNodes[j].ID })

	nodeByID := make(map[string]*types.Node, len(sortedNodes))
	for _, node := range sortedNodes {
		nodeByID[node.ID] = node
	}

	// Active tasks of this service, plus per-node reservations across
	// all services for the capacity check.
	var active []*types.Task
	reserved := make(map[string]types.ResourceRequirements)
	for _, task := range tasks {
		if !task.ActualState.Active() || task.DesiredState != types.TaskStateRunning {
			continue
		}
		if task.Resources != nil {
			r := reserved[task.NodeID]
			r.CPUReservation += task.Resources.CPUReservation
			r.MemoryReservation += task.Resources.MemoryReservation
			reserved[task.NodeID] = r
		}
		if task.ServiceID == service.ID {
			active = append(active, task)
		}
	}
	sortByStartDesc(active)

	eligible := func(node *types.Node) bool {
		if node.Status != types.NodeStatusReady {
			return false
		}
		if !constraint.NodeMatches(exprs, node) {
			return false
		}
		return hasCapacity(node, reserved[node.ID], service.Resources)
	}

	// Tasks on nodes that disappeared, went down, started draining or
	// no longer satisfy the constraints must be rescheduled. Capacity
	// pressure alone never evicts a placed task.
	removed := make(map[string]bool)
	var surviving []*types.Task
	for _, task := range active {
		node, ok := nodeByID[task.NodeID]
		if !ok || node.Status != types.NodeStatusReady || !constraint.NodeMatches(exprs, node) {
			plan.Remove = append(plan.Remove, task)
			removed[task.ID] = true
			continue
		}
		surviving = append(surviving, task)
	}

	occupied := make(map[string]int)
	for _, task := range surviving {
		occupied[task.NodeID]++
	}

	switch service.Mode {
	case types.ServiceModeGlobal:
		// One task per eligible node. Extra tasks on a node keep the
		// oldest and shed the rest.
		seen := make(map[string]bool)
		keep := make([]*types.Task, 0, len(surviving))
		// surviving is newest-first; walk oldest-first to keep the
		// longest-running task on each node.
		for i := len(surviving) - 1; i >= 0; i-- {
			task := surviving[i]
			if seen[task.NodeID] {
				plan.Remove = append(plan.Remove, task)
				removed[task.ID] = true
				continue
			}
			seen[task.NodeID] = true
			keep = append(keep, task)
		}
		surviving = keep

		for _, node := range sortedNodes {
			if eligible(node) && !seen[node.ID] {
				plan.Assign = append(plan.Assign, node.ID)
			}
		}

	case types.ServiceModeReplicated:
		// Shed over-count newest-first.
		for len(surviving) > service.Replicas {
			task := surviving[0]
			plan.Remove = append(plan.Remove, task)
			removed[task.ID] = true
			surviving = surviving[1:]
		}

		needed := service.Replicas - len(surviving)
		if needed > 0 {
			hosting := make(map[string]bool)
			for _, task := range surviving {
				hosting[task.NodeID] = true
			}

			var candidates []*types.Node
			for _, node := range sortedNodes {
				if eligible(node) && !hosting[node.ID] {
					candidates = append(candidates, node)
				}
			}

			// Spread: fewest tasks of this service first, then node ID
			// ascending for determinism.
			sort.SliceStable(candidates, func(i, j int) bool {
				ci, cj := occupied[candidates[i].ID], occupied[candidates[j].ID]
				if ci != cj {
					return ci < cj
				}
				return candidates[i].ID < candidates[j].ID
			})

			for _, node := range candidates {
				if needed == 0 {
					break
				}
				plan.Assign = append(plan.Assign, node.ID)
				needed--
			}
			plan.Shortfall = needed
		}

	default:
		return plan, fmt.Errorf("service %s: unknown mode %q", service.Name, service.Mode)
	}

	sortRemoveNewestFirst(plan.Remove)
	return plan, nil
}

// hasCapacity reports whether the node has spare room for one more
// task with the given reservation. Nodes without declared resources and
// services without reservations always fit.
func hasCapacity(node *types.Node, reserved types.ResourceRequirements, req *types.ResourceRequirements) bool {
	if node.Resources == nil || req == nil {
		return true
	}
	if node.Resources.CPUCores > 0 &&
		reserved.CPUReservation+req.CPUReservation > node.Resources.CPUCores {
		return false
	}
	if node.Resources.MemoryBytes > 0 &&
		reserved.MemoryReservation+req.MemoryReservation > node.Resources.MemoryBytes {
		return false
	}
	return true
}

// sortByStartDesc orders tasks newest-first, falling back to creation
// time and then ID so the order is total.
func sortByStartDesc(tasks []*types.Task) {
	sort.Slice(tasks, func(i, j int) bool {
		if !tasks[i].StartedAt.Equal(tasks[j].StartedAt) {
			return tasks[i].StartedAt.After(tasks[j].StartedAt)
		}
		if !tasks[i].CreatedAt.Equal(tasks[j].CreatedAt) {
			return tasks[i].CreatedAt.After(tasks[j].CreatedAt)
		}
		return tasks[i].ID > tasks[j].ID
	})
}

func sortRemoveNewestFirst(tasks []*types.Task) {
	sortByStartDesc(tasks)
}
