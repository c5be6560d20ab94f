package registry

import (
	"errors"
	"fmt"
	"hash/fnv"
	"sync"
	"time"

	"github.com/covey-run/covey/pkg/events"
	"github.com/covey-run/covey/pkg/log"
	"github.com/covey-run/covey/pkg/types"
	"github.com/rs/zerolog"
)

// lockStripes bounds the number of node mutexes; heartbeats for
// different nodes proceed concurrently while two heartbeats for the
// same node serialize.
const lockStripes = 64

// Cluster is the slice of the manager the registry needs.
type Cluster interface {
	CreateNode(node *types.Node) error
	GetNode(id string) (*types.Node, error)
	ListNodes() ([]*types.Node, error)
	UpdateNode(node *types.Node) error
	DeleteNode(id string) error
	ListTasksByNode(nodeID string) ([]*types.Task, error)
	PublishEvent(event *events.Event)
}

// Observer receives task state reports extracted from heartbeats. The
// reconciler's ingestion queue implements this.
type Observer interface {
	Observe(report types.TaskReport)
}

// Registry tracks cluster membership, roles, health and labels
type Registry struct {
	cluster  Cluster
	observer Observer
	logger   zerolog.Logger

	// HeartbeatTimeout is how long a node may stay silent before it is
	// marked down. Mandatory and bounded.
	heartbeatTimeout time.Duration

	locks [lockStripes]sync.Mutex
}

// New creates a Registry
func New(cluster Cluster, observer Observer, heartbeatTimeout time.Duration) *Registry {
	if heartbeatTimeout <= 0 {
		heartbeatTimeout = 30 * time.Second
	}
	return &Registry{
		cluster:          cluster,
		observer:         observer,
		logger:           log.WithComponent("registry"),
		heartbeatTimeout: heartbeatTimeout,
	}
}

func (r *Registry) lock(nodeID string) *sync.Mutex {
	h := fnv.New32a()
	h.Write([]byte(nodeID))
	return &r.locks[h.Sum32()%lockStripes]
}

// Join adds a node to the cluster in state ready. It fails with
// ErrDuplicateNode if the ID is already registered.
func (r *Registry) Join(node *types.Node) error {
	if node.ID == "" {
		return fmt.Errorf("%w: missing node ID", types.ErrInvalidSpec)
	}

	mu := r.lock(node.ID)
	mu.Lock()
	defer mu.Unlock()

	if _, err := r.cluster.GetNode(node.ID); err == nil {
		return fmt.Errorf("%w: %s", types.ErrDuplicateNode, node.ID)
	}

	now := time.Now()
	node.Status = types.NodeStatusReady
	node.LastHeartbeat = now
	node.CreatedAt = now
	if node.Role == "" {
		node.Role = types.NodeRoleWorker
	}
	if node.Labels == nil {
		node.Labels = make(map[string]string)
	}

	if err := r.cluster.CreateNode(node); err != nil {
		return fmt.Errorf("failed to register node: %w", err)
	}

	r.logger.Info().Str("node_id", node.ID).Str("role", string(node.Role)).Msg("node joined")
	r.cluster.PublishEvent(&events.Event{
		Type:    events.EventNodeJoined,
		Message: fmt.Sprintf("node %s joined as %s", node.ID, node.Role),
	})

	return nil
}

// Heartbeat refreshes a node's liveness and forwards its task
// observations to the reconciler's ingestion queue. A down node that
// heartbeats again recovers to ready; a draining node stays draining.
func (r *Registry) Heartbeat(nodeID string, reports []types.TaskReport) error {
	mu := r.lock(nodeID)
	mu.Lock()
	defer mu.Unlock()

	node, err := r.cluster.GetNode(nodeID)
	if err != nil {
		return fmt.Errorf("%w: %s", types.ErrUnknownNode, nodeID)
	}

	node.LastHeartbeat = time.Now()
	if node.Status == types.NodeStatusDown {
		node.Status = types.NodeStatusReady
	}
	if err := r.cluster.UpdateNode(node); err != nil {
		return fmt.Errorf("failed to update node: %w", err)
	}

	if r.observer != nil {
		for _, report := range reports {
			report.NodeID = nodeID
			r.observer.Observe(report)
		}
	}

	return nil
}

// Drain marks a node draining: it remains visible for task teardown
// but is excluded from new placement.
func (r *Registry) Drain(nodeID string) error {
	return r.setStatus(nodeID, types.NodeStatusDraining, events.EventNodeDraining)
}

// Activate returns a draining or down node to ready.
func (r *Registry) Activate(nodeID string) error {
	return r.setStatus(nodeID, types.NodeStatusReady, "")
}

func (r *Registry) setStatus(nodeID string, status types.NodeStatus, eventType events.EventType) error {
	mu := r.lock(nodeID)
	mu.Lock()
	defer mu.Unlock()

	node, err := r.cluster.GetNode(nodeID)
	if err != nil {
		return fmt.Errorf("%w: %s", types.ErrUnknownNode, nodeID)
	}

	if node.Status == status {
		return nil
	}
	node.Status = status
	if err := r.cluster.UpdateNode(node); err != nil {
		return err
	}

	r.logger.Info().Str("node_id", nodeID).Str("status", string(status)).Msg("node status changed")
	if eventType != "" {
		r.cluster.PublishEvent(&events.Event{
			Type:    eventType,
			Message: fmt.Sprintf("node %s is %s", nodeID, status),
		})
	}
	return nil
}

// Promote changes a worker into a manager.
func (r *Registry) Promote(nodeID string) error {
	return r.setRole(nodeID, types.NodeRoleManager)
}

// Demote changes a manager into a worker.
func (r *Registry) Demote(nodeID string) error {
	return r.setRole(nodeID, types.NodeRoleWorker)
}

func (r *Registry) setRole(nodeID string, role types.NodeRole) error {
	mu := r.lock(nodeID)
	mu.Lock()
	defer mu.Unlock()

	node, err := r.cluster.GetNode(nodeID)
	if err != nil {
		return fmt.Errorf("%w: %s", types.ErrUnknownNode, nodeID)
	}
	if node.Role == role {
		return nil
	}
	node.Role = role
	return r.cluster.UpdateNode(node)
}

// Leave removes a node. It refuses with ErrNodeNotEmpty while the node
// still holds tasks that have not been reassigned or stopped.
func (r *Registry) Leave(nodeID string) error {
	mu := r.lock(nodeID)
	mu.Lock()
	defer mu.Unlock()

	if _, err := r.cluster.GetNode(nodeID); err != nil {
		return fmt.Errorf("%w: %s", types.ErrUnknownNode, nodeID)
	}

	tasks, err := r.cluster.ListTasksByNode(nodeID)
	if err != nil {
		return err
	}
	for _, task := range tasks {
		if !task.ActualState.Terminal() {
			return fmt.Errorf("%w: %s holds task %s", types.ErrNodeNotEmpty, nodeID, task.ID)
		}
	}

	if err := r.cluster.DeleteNode(nodeID); err != nil {
		return err
	}

	r.logger.Info().Str("node_id", nodeID).Msg("node left")
	r.cluster.PublishEvent(&events.Event{
		Type:    events.EventNodeLeft,
		Message: fmt.Sprintf("node %s left the cluster", nodeID),
	})
	return nil
}

// CheckLiveness marks nodes down when their heartbeat is older than the
// timeout. Called once per reconciliation cycle.
func (r *Registry) CheckLiveness(now time.Time) error {
	nodes, err := r.cluster.ListNodes()
	if err != nil {
		return fmt.Errorf("failed to list nodes: %w", err)
	}

	var errs []error
	for _, node := range nodes {
		if node.Status != types.NodeStatusReady {
			continue
		}
		if now.Sub(node.LastHeartbeat) <= r.heartbeatTimeout {
			continue
		}

		mu := r.lock(node.ID)
		mu.Lock()
		node.Status = types.NodeStatusDown
		err := r.cluster.UpdateNode(node)
		mu.Unlock()
		if err != nil {
			errs = append(errs, err)
			continue
		}

		r.logger.Warn().
			Str("node_id", node.ID).
			Dur("silent_for", now.Sub(node.LastHeartbeat)).
			Msg("node marked down")
		r.cluster.PublishEvent(&events.Event{
			Type:    events.EventNodeDown,
			Message: fmt.Sprintf("node %s missed heartbeats", node.ID),
		})
	}
	return errors.Join(errs...)
}
