package manager

import (
	"encoding/json"
	"fmt"
	"io"
	"sync"

	"github.com/covey-run/covey/pkg/storage"
	"github.com/covey-run/covey/pkg/types"
	"github.com/hashicorp/raft"
)

// FSM implements the Raft finite state machine over the cluster state
// store. Log entries are committed by the leader and applied on every
// manager, so each manager holds a local copy it can read directly.
type FSM struct {
	mu    sync.RWMutex
	store storage.Store
}

// NewFSM creates a new FSM over the given store
func NewFSM(store storage.Store) *FSM {
	return &FSM{store: store}
}

// Command represents a state change operation in the Raft log
type Command struct {
	Op   string          `json:"op"`
	Data json.RawMessage `json:"data"`
}

// Command operations
const (
	OpCreateNode    = "create_node"
	OpUpdateNode    = "update_node"
	OpDeleteNode    = "delete_node"
	OpCreateService = "create_service"
	OpUpdateService = "update_service"
	OpDeleteService = "delete_service"
	OpCreateTask    = "create_task"
	OpUpdateTask    = "update_task"
	OpDeleteTask    = "delete_task"
)

// Apply applies a committed Raft log entry to the FSM
func (f *FSM) Apply(entry *raft.Log) interface{} {
	var cmd Command
	if err := json.Unmarshal(entry.Data, &cmd); err != nil {
		return fmt.Errorf("failed to unmarshal command: %w", err)
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	switch cmd.Op {
	case OpCreateNode:
		var node types.Node
		if err := json.Unmarshal(cmd.Data, &node); err != nil {
			return err
		}
		return f.store.CreateNode(&node)

	case OpUpdateNode:
		var node types.Node
		if err := json.Unmarshal(cmd.Data, &node); err != nil {
			return err
		}
		return f.store.UpdateNode(&node)

	case OpDeleteNode:
		var nodeID string
		if err := json.Unmarshal(cmd.Data, &nodeID); err != nil {
			return err
		}
		return f.store.DeleteNode(nodeID)

	case OpCreateService:
		var service types.Service
		if err := json.Unmarshal(cmd.Data, &service); err != nil {
			return err
		}
		return f.store.CreateService(&service)

	case OpUpdateService:
		var service types.Service
		if err := json.Unmarshal(cmd.Data, &service); err != nil {
			return err
		}
		return f.store.UpdateService(&service)

	case OpDeleteService:
		var serviceID string
		if err := json.Unmarshal(cmd.Data, &serviceID); err != nil {
			return err
		}
		return f.store.DeleteService(serviceID)

	case OpCreateTask:
		var task types.Task
		if err := json.Unmarshal(cmd.Data, &task); err != nil {
			return err
		}
		return f.store.CreateTask(&task)

	case OpUpdateTask:
		var task types.Task
		if err := json.Unmarshal(cmd.Data, &task); err != nil {
			return err
		}
		return f.store.UpdateTask(&task)

	case OpDeleteTask:
		var taskID string
		if err := json.Unmarshal(cmd.Data, &taskID); err != nil {
			return err
		}
		return f.store.DeleteTask(taskID)
	}

	return fmt.Errorf("unknown command op: %s", cmd.Op)
}

// Snapshot returns a point-in-time snapshot of cluster state
func (f *FSM) Snapshot() (raft.FSMSnapshot, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()

	nodes, err := f.store.ListNodes()
	if err != nil {
		return nil, fmt.Errorf("failed to list nodes: %w", err)
	}

	services, err := f.store.ListServices()
	if err != nil {
		return nil, fmt.Errorf("failed to list services: %w", err)
	}

	tasks, err := f.store.ListTasks()
	if err != nil {
		return nil, fmt.Errorf("failed to list tasks: %w", err)
	}

	return &Snapshot{
		Nodes:    nodes,
		Services: services,
		Tasks:    tasks,
	}, nil
}

// Restore restores the FSM from a snapshot
func (f *FSM) Restore(rc io.ReadCloser) error {
	defer rc.Close()

	var snapshot Snapshot
	if err := json.NewDecoder(rc).Decode(&snapshot); err != nil {
		return fmt.Errorf("failed to decode snapshot: %w", err)
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	for _, node := range snapshot.Nodes {
		if err := f.store.CreateNode(node); err != nil {
			return fmt.Errorf("failed to restore node: %w", err)
		}
	}

	for _, service := range snapshot.Services {
		if err := f.store.CreateService(service); err != nil {
			return fmt.Errorf("failed to restore service: %w", err)
		}
	}

	for _, task := range snapshot.Tasks {
		if err := f.store.CreateTask(task); err != nil {
			return fmt.Errorf("failed to restore task: %w", err)
		}
	}

	return nil
}

// Snapshot represents a point-in-time snapshot of cluster state
type Snapshot struct {
	Nodes    []*types.Node
	Services []*types.Service
	Tasks    []*types.Task
}

// Persist writes the snapshot to the given SnapshotSink
func (s *Snapshot) Persist(sink raft.SnapshotSink) error {
	err := func() error {
		if err := json.NewEncoder(sink).Encode(s); err != nil {
			return err
		}
		return sink.Close()
	}()

	if err != nil {
		sink.Cancel()
	}

	return err
}

// Release releases the snapshot resources
func (s *Snapshot) Release() {}
