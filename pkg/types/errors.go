package types

import "errors"

// Error taxonomy surfaced to operators. Validation and consistency
// failures are terminal; everything transient is expressed as a
// ServiceStatus annotation instead.
var (
	// ErrInvalidSpec is returned for a malformed or contradictory
	// service definition, rejected before any state change.
	ErrInvalidSpec = errors.New("invalid service spec")

	// ErrNameConflict is returned when a service name is already taken.
	ErrNameConflict = errors.New("service name already in use")

	// ErrDuplicateNode is returned when a joining node's ID already
	// exists in the registry.
	ErrDuplicateNode = errors.New("node already registered")

	// ErrUnknownNode is returned for operations on an unregistered node.
	ErrUnknownNode = errors.New("unknown node")

	// ErrUnknownService is returned for operations on a missing service.
	ErrUnknownService = errors.New("unknown service")

	// ErrUnknownTask is returned for operations on a missing task.
	ErrUnknownTask = errors.New("unknown task")

	// ErrNodeNotEmpty is returned when a node tries to leave while it
	// still holds tasks that have not been reassigned or stopped.
	ErrNodeNotEmpty = errors.New("node still holds active tasks")

	// ErrNotLeader is returned when a mutation reaches a standby
	// manager; the caller should retry against the current leader.
	ErrNotLeader = errors.New("not the cluster leader")
)
