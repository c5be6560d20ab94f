package ingress

import (
	"fmt"

	"github.com/covey-run/covey/pkg/types"
)

// Endpoint is one routable task instance.
type Endpoint struct {
	TaskID string
	NodeID string
	Addr   string // node address with the task's container port
}

// Entry is the routing state for one published port.
type Entry struct {
	ServiceID   string
	ServiceName string
	Mode        types.PublishMode
	Protocol    string
	Endpoints   []Endpoint
}

// Table maps published ports to their endpoints. Only serving tasks are
// included; consumers never need to re-check health.
type Table map[int]*Entry

// BuildTable derives the routing table from cluster state. The
// computation is pure; the router swaps the result in atomically.
func BuildTable(services []*types.Service, tasks []*types.Task, nodes []*types.Node) Table {
	nodeByID := make(map[string]*types.Node, len(nodes))
	for _, node := range nodes {
		nodeByID[node.ID] = node
	}
	serviceByID := make(map[string]*types.Service, len(services))
	table := make(Table)
	for _, service := range services {
		if service.Removing {
			continue
		}
		serviceByID[service.ID] = service
		for _, port := range service.Ports {
			if port.PublishedPort == 0 {
				continue
			}
			table[port.PublishedPort] = &Entry{
				ServiceID:   service.ID,
				ServiceName: service.Name,
				Mode:        port.PublishMode,
				Protocol:    port.Protocol,
			}
		}
	}

	for _, task := range tasks {
		if !serving(task) {
			continue
		}
		service, ok := serviceByID[task.ServiceID]
		if !ok {
			continue
		}
		node, ok := nodeByID[task.NodeID]
		if !ok || node.Status == types.NodeStatusDown {
			continue
		}
		for _, port := range service.Ports {
			if port.PublishedPort == 0 {
				continue
			}
			entry := table[port.PublishedPort]
			entry.Endpoints = append(entry.Endpoints, Endpoint{
				TaskID: task.ID,
				NodeID: task.NodeID,
				Addr:   fmt.Sprintf("%s:%d", node.Address, port.ContainerPort),
			})
		}
	}

	return table
}

// serving reports whether a task should receive traffic: healthy when
// its service probes health, running otherwise. A task being shut down
// is taken out of rotation before the agent stops it.
func serving(task *types.Task) bool {
	if task.DesiredState != types.TaskStateRunning {
		return false
	}
	switch task.ActualState {
	case types.TaskStateHealthy:
		return true
	case types.TaskStateRunning:
		if task.HealthCheck == nil {
			return true
		}
		// Health check configured but no verdict yet; keep the task in
		// rotation until the first probe says otherwise.
		return task.HealthStatus == nil || task.HealthStatus.Healthy
	}
	return false
}
