package manager

import (
	"encoding/json"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"time"

	"github.com/covey-run/covey/pkg/events"
	"github.com/covey-run/covey/pkg/log"
	"github.com/covey-run/covey/pkg/storage"
	"github.com/covey-run/covey/pkg/types"
	"github.com/hashicorp/raft"
	raftboltdb "github.com/hashicorp/raft-boltdb"
)

// Manager is a cluster manager node. One manager holds Raft leadership
// at a time; only the leader accepts desired-state mutations and runs
// the reconciliation loop. Standby managers replicate state and stay
// dormant until elected.
type Manager struct {
	nodeID   string
	bindAddr string
	dataDir  string

	raft        *raft.Raft
	fsm         *FSM
	store       storage.Store
	eventBroker *events.Broker
}

// Config holds configuration for creating a Manager
type Config struct {
	NodeID   string
	BindAddr string
	DataDir  string
}

// NewManager creates a new Manager instance
func NewManager(cfg *Config) (*Manager, error) {
	if err := os.MkdirAll(cfg.DataDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	store, err := storage.NewBoltStore(cfg.DataDir)
	if err != nil {
		return nil, fmt.Errorf("failed to create store: %w", err)
	}

	eventBroker := events.NewBroker()
	eventBroker.Start()

	return &Manager{
		nodeID:      cfg.NodeID,
		bindAddr:    cfg.BindAddr,
		dataDir:     cfg.DataDir,
		fsm:         NewFSM(store),
		store:       store,
		eventBroker: eventBroker,
	}, nil
}

// newRaftConfig returns a Raft config tuned for LAN failover: faster
// failure detection and elections than the WAN-oriented defaults.
func (m *Manager) newRaftConfig() *raft.Config {
	config := raft.DefaultConfig()
	config.LocalID = raft.ServerID(m.nodeID)
	config.HeartbeatTimeout = 500 * time.Millisecond
	config.ElectionTimeout = 500 * time.Millisecond
	config.CommitTimeout = 50 * time.Millisecond
	config.LeaderLeaseTimeout = 250 * time.Millisecond
	return config
}

// setupRaft wires transport, snapshot and log stores and creates the
// Raft instance.
func (m *Manager) setupRaft(config *raft.Config) (raft.Transport, error) {
	addr, err := net.ResolveTCPAddr("tcp", m.bindAddr)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve bind address: %w", err)
	}

	transport, err := raft.NewTCPTransport(m.bindAddr, addr, 3, 10*time.Second, os.Stderr)
	if err != nil {
		return nil, fmt.Errorf("failed to create transport: %w", err)
	}

	snapshotStore, err := raft.NewFileSnapshotStore(m.dataDir, 2, os.Stderr)
	if err != nil {
		return nil, fmt.Errorf("failed to create snapshot store: %w", err)
	}

	logStore, err := raftboltdb.NewBoltStore(filepath.Join(m.dataDir, "raft-log.db"))
	if err != nil {
		return nil, fmt.Errorf("failed to create log store: %w", err)
	}

	stableStore, err := raftboltdb.NewBoltStore(filepath.Join(m.dataDir, "raft-stable.db"))
	if err != nil {
		return nil, fmt.Errorf("failed to create stable store: %w", err)
	}

	r, err := raft.NewRaft(config, m.fsm, logStore, stableStore, snapshotStore, transport)
	if err != nil {
		return nil, fmt.Errorf("failed to create raft: %w", err)
	}

	m.raft = r
	return transport, nil
}

// Bootstrap initializes a new single-node Raft cluster
func (m *Manager) Bootstrap() error {
	config := m.newRaftConfig()

	transport, err := m.setupRaft(config)
	if err != nil {
		return err
	}

	configuration := raft.Configuration{
		Servers: []raft.Server{
			{
				ID:      config.LocalID,
				Address: transport.LocalAddr(),
			},
		},
	}

	future := m.raft.BootstrapCluster(configuration)
	if err := future.Error(); err != nil {
		return fmt.Errorf("failed to bootstrap cluster: %w", err)
	}

	logger := log.WithComponent("manager")
	logger.Info().
		Str("node_id", m.nodeID).
		Str("bind_addr", m.bindAddr).
		Msg("bootstrapped single-node cluster")

	return nil
}

// Join prepares this manager to be added to an existing cluster. The
// caller must then ask the current leader to add this node as a voter
// (via the leader's API).
func (m *Manager) Join() error {
	if _, err := m.setupRaft(m.newRaftConfig()); err != nil {
		return err
	}

	logger := log.WithComponent("manager")
	logger.Info().
		Str("node_id", m.nodeID).
		Str("bind_addr", m.bindAddr).
		Msg("raft initialized, awaiting voter registration")

	return nil
}

// AddVoter adds a new manager node to the Raft cluster
func (m *Manager) AddVoter(nodeID, address string) error {
	if m.raft == nil {
		return fmt.Errorf("raft not initialized")
	}

	if !m.IsLeader() {
		return fmt.Errorf("%w: current leader is %s", types.ErrNotLeader, m.LeaderAddr())
	}

	future := m.raft.AddVoter(raft.ServerID(nodeID), raft.ServerAddress(address), 0, 10*time.Second)
	if err := future.Error(); err != nil {
		return fmt.Errorf("failed to add voter: %w", err)
	}

	logger := log.WithComponent("manager")
	logger.Info().
		Str("voter_id", nodeID).
		Str("voter_addr", address).
		Msg("added voter to cluster")

	return nil
}

// RemoveServer removes a server from the Raft cluster
func (m *Manager) RemoveServer(nodeID string) error {
	if m.raft == nil {
		return fmt.Errorf("raft not initialized")
	}

	if !m.IsLeader() {
		return types.ErrNotLeader
	}

	future := m.raft.RemoveServer(raft.ServerID(nodeID), 0, 10*time.Second)
	if err := future.Error(); err != nil {
		return fmt.Errorf("failed to remove server: %w", err)
	}

	return nil
}

// IsLeader returns true if this manager is the Raft leader
func (m *Manager) IsLeader() bool {
	if m.raft == nil {
		return false
	}
	return m.raft.State() == raft.Leader
}

// LeaderAddr returns the address of the current Raft leader
func (m *Manager) LeaderAddr() string {
	if m.raft == nil {
		return ""
	}
	return string(m.raft.Leader())
}

// Stats returns Raft statistics
func (m *Manager) Stats() map[string]interface{} {
	if m.raft == nil {
		return nil
	}

	return map[string]interface{}{
		"state":          m.raft.State().String(),
		"last_log_index": m.raft.LastIndex(),
		"applied_index":  m.raft.AppliedIndex(),
		"leader":         string(m.raft.Leader()),
	}
}

// EventBroker returns the event broker
func (m *Manager) EventBroker() *events.Broker {
	return m.eventBroker
}

// PublishEvent publishes an event to all subscribers
func (m *Manager) PublishEvent(event *events.Event) {
	if m.eventBroker != nil {
		m.eventBroker.Publish(event)
	}
}

// Apply submits a command to the Raft cluster. It returns once the
// command is committed and applied, or an error; a desired-state change
// is never silently dropped.
func (m *Manager) Apply(cmd Command) error {
	if m.raft == nil {
		return fmt.Errorf("raft not initialized")
	}

	if !m.IsLeader() {
		return fmt.Errorf("%w: current leader is %s", types.ErrNotLeader, m.LeaderAddr())
	}

	data, err := json.Marshal(cmd)
	if err != nil {
		return fmt.Errorf("failed to marshal command: %w", err)
	}

	future := m.raft.Apply(data, 5*time.Second)
	if err := future.Error(); err != nil {
		return fmt.Errorf("failed to apply command: %w", err)
	}

	if resp := future.Response(); resp != nil {
		if err, ok := resp.(error); ok && err != nil {
			return err
		}
	}

	return nil
}

func (m *Manager) apply(op string, v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return m.Apply(Command{Op: op, Data: data})
}

// CreateNode adds a node to the cluster
func (m *Manager) CreateNode(node *types.Node) error {
	return m.apply(OpCreateNode, node)
}

// UpdateNode updates a node in the cluster
func (m *Manager) UpdateNode(node *types.Node) error {
	return m.apply(OpUpdateNode, node)
}

// DeleteNode removes a node from the cluster
func (m *Manager) DeleteNode(id string) error {
	return m.apply(OpDeleteNode, id)
}

// CreateService creates a new service
func (m *Manager) CreateService(service *types.Service) error {
	return m.apply(OpCreateService, service)
}

// UpdateService updates an existing service
func (m *Manager) UpdateService(service *types.Service) error {
	return m.apply(OpUpdateService, service)
}

// DeleteService removes a service
func (m *Manager) DeleteService(id string) error {
	return m.apply(OpDeleteService, id)
}

// CreateTask creates a new task
func (m *Manager) CreateTask(task *types.Task) error {
	return m.apply(OpCreateTask, task)
}

// UpdateTask updates a task
func (m *Manager) UpdateTask(task *types.Task) error {
	return m.apply(OpUpdateTask, task)
}

// DeleteTask removes a task
func (m *Manager) DeleteTask(id string) error {
	return m.apply(OpDeleteTask, id)
}

// Reads go to the local replicated store.

// GetNode retrieves a node by ID
func (m *Manager) GetNode(id string) (*types.Node, error) {
	return m.store.GetNode(id)
}

// ListNodes returns all nodes
func (m *Manager) ListNodes() ([]*types.Node, error) {
	return m.store.ListNodes()
}

// GetService retrieves a service by ID
func (m *Manager) GetService(id string) (*types.Service, error) {
	return m.store.GetService(id)
}

// GetServiceByName retrieves a service by name
func (m *Manager) GetServiceByName(name string) (*types.Service, error) {
	return m.store.GetServiceByName(name)
}

// ListServices returns all services
func (m *Manager) ListServices() ([]*types.Service, error) {
	return m.store.ListServices()
}

// GetTask retrieves a task by ID
func (m *Manager) GetTask(id string) (*types.Task, error) {
	return m.store.GetTask(id)
}

// ListTasks returns all tasks
func (m *Manager) ListTasks() ([]*types.Task, error) {
	return m.store.ListTasks()
}

// ListTasksByService returns all tasks for a service
func (m *Manager) ListTasksByService(serviceID string) ([]*types.Task, error) {
	return m.store.ListTasksByService(serviceID)
}

// ListTasksByNode returns all tasks on a node
func (m *Manager) ListTasksByNode(nodeID string) ([]*types.Task, error) {
	return m.store.ListTasksByNode(nodeID)
}

// StateVersion returns the store-wide mutation counter
func (m *Manager) StateVersion() (uint64, error) {
	return m.store.Version()
}

// Shutdown gracefully shuts down the manager
func (m *Manager) Shutdown() error {
	if m.eventBroker != nil {
		m.eventBroker.Stop()
	}

	if m.raft != nil {
		future := m.raft.Shutdown()
		if err := future.Error(); err != nil {
			return fmt.Errorf("failed to shutdown raft: %w", err)
		}
	}

	if m.store != nil {
		if err := m.store.Close(); err != nil {
			return fmt.Errorf("failed to close store: %w", err)
		}
	}

	return nil
}
