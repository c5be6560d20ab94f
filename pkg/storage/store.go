package storage

import (
	"github.com/covey-run/covey/pkg/types"
)

// Store defines the interface for cluster state storage.
//
// Every mutation bumps a store-wide version counter so the reconciler
// can detect that desired state moved underneath an in-flight cycle and
// discard stale results.
type Store interface {
	// Nodes
	CreateNode(node *types.Node) error
	GetNode(id string) (*types.Node, error)
	ListNodes() ([]*types.Node, error)
	UpdateNode(node *types.Node) error
	DeleteNode(id string) error

	// Services
	CreateService(service *types.Service) error
	GetService(id string) (*types.Service, error)
	GetServiceByName(name string) (*types.Service, error)
	ListServices() ([]*types.Service, error)
	UpdateService(service *types.Service) error
	DeleteService(id string) error

	// Tasks
	CreateTask(task *types.Task) error
	GetTask(id string) (*types.Task, error)
	ListTasks() ([]*types.Task, error)
	ListTasksByService(serviceID string) ([]*types.Task, error)
	ListTasksByNode(nodeID string) ([]*types.Task, error)
	UpdateTask(task *types.Task) error
	DeleteTask(id string) error

	// Version returns the store-wide mutation counter.
	Version() (uint64, error)

	Close() error
}
