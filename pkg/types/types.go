package types

import (
	"time"
)

// Node represents a manager or worker node in the cluster
type Node struct {
	ID            string
	Role          NodeRole
	Address       string // Host IP address, used for task endpoints
	Hostname      string
	Labels        map[string]string
	Resources     *NodeResources
	Status        NodeStatus
	LastHeartbeat time.Time
	CreatedAt     time.Time
}

// NodeRole defines the role of a node
type NodeRole string

const (
	NodeRoleManager NodeRole = "manager"
	NodeRoleWorker  NodeRole = "worker"
)

// NodeStatus represents the current state of a node
type NodeStatus string

const (
	NodeStatusReady    NodeStatus = "ready"
	NodeStatusDown     NodeStatus = "down"
	NodeStatusDraining NodeStatus = "draining"
)

// NodeResources tracks resource capacity and allocation
type NodeResources struct {
	// Total capacity
	CPUCores    float64
	MemoryBytes int64

	// Currently reserved by tasks
	CPUAllocated    float64
	MemoryAllocated int64
}

// Service represents a user-defined workload
type Service struct {
	ID   string
	Name string

	// Image is the operator-supplied reference. ResolvedImage is the
	// pinned content descriptor returned by the image resolver; tasks
	// always run the pinned form.
	Image         string
	ResolvedImage string

	Mode ServiceMode

	// Replicas is only meaningful for replicated services. A global
	// service must leave it zero; its desired count is one task per
	// eligible node.
	Replicas int

	// Constraints restrict eligible nodes, e.g. "role==worker" or
	// "region!=east". All constraints must hold for a node to be
	// eligible.
	Constraints []string

	Resources    *ResourceRequirements
	HealthCheck  *HealthCheck
	Ports        []*PortMapping
	UpdateConfig *UpdateConfig

	// Status is an annotation maintained by the reconciler; it is never
	// part of the desired state an operator submits.
	Status ServiceStatus

	// Version is bumped on every mutation so stale plan and rollout
	// results can be detected and discarded.
	Version uint64

	// RolloutVersion is the Version at which the image last changed.
	// Tasks created before it are replaced by a rolling update; a
	// replicas or constraint edit bumps Version alone and leaves
	// settled tasks in place.
	RolloutVersion uint64

	// Removing marks the service for teardown. The entry is purged once
	// every task has reached a terminal state.
	Removing bool

	CreatedAt time.Time
	UpdatedAt time.Time
}

// ServiceMode defines how a service is scheduled
type ServiceMode string

const (
	ServiceModeReplicated ServiceMode = "replicated" // N replicas
	ServiceModeGlobal     ServiceMode = "global"     // one per eligible node
)

// ServiceStatus is the reconciler's summary of a service's condition
type ServiceStatus string

const (
	// ServiceStatusActive means the desired task set is placed and healthy.
	ServiceStatusActive ServiceStatus = "active"

	// ServiceStatusPending means not enough eligible nodes exist; a
	// transient shortfall, not an error.
	ServiceStatusPending ServiceStatus = "pending"

	// ServiceStatusUpdating means a rolling update is in progress.
	ServiceStatusUpdating ServiceStatus = "updating"

	// ServiceStatusDegraded means health retries were exhausted; the
	// service keeps serving with reduced replicas.
	ServiceStatusDegraded ServiceStatus = "degraded"

	// ServiceStatusRolloutFailed means a rolling update batch failed its
	// health checks. The rollout halts; the operator must reissue a spec
	// to continue. There is no automatic rollback.
	ServiceStatusRolloutFailed ServiceStatus = "rollout_failed"

	// ServiceStatusRemoving means the service is being torn down.
	ServiceStatusRemoving ServiceStatus = "removing"
)

// UpdateConfig controls how rolling updates are performed
type UpdateConfig struct {
	Parallelism int           // Tasks replaced per batch (default: 1)
	Delay       time.Duration // Pause between batches
}

// PortMapping defines port exposure
type PortMapping struct {
	Name          string
	ContainerPort int
	PublishedPort int
	Protocol      string // "tcp" or "udp"
	PublishMode   PublishMode
}

// PublishMode defines how a port is published
type PublishMode string

const (
	// PublishModeHost binds the port only on nodes that hold a task
	PublishModeHost PublishMode = "host"

	// PublishModeIngress binds the port on all nodes with mesh routing
	PublishModeIngress PublishMode = "ingress"
)

// HealthCheck defines task health probing
type HealthCheck struct {
	Type     HealthCheckType
	Endpoint string   // URL or address for http/tcp checks
	Command  []string // For exec checks
	Interval time.Duration
	Timeout  time.Duration
	Retries  int
}

// HealthCheckType defines the type of health check
type HealthCheckType string

const (
	HealthCheckHTTP HealthCheckType = "http"
	HealthCheckTCP  HealthCheckType = "tcp"
	HealthCheckExec HealthCheckType = "exec"
)

// HealthStatus tracks the current health of a task
type HealthStatus struct {
	Healthy             bool
	Message             string
	CheckedAt           time.Time
	ConsecutiveFailures int
}

// ResourceRequirements defines the per-task reservation used for
// placement capacity accounting
type ResourceRequirements struct {
	CPUReservation    float64 // Cores (e.g. 0.5 = half a core)
	MemoryReservation int64   // Bytes
}

// Task represents a single instance of a service assigned to a node
type Task struct {
	ID          string
	ServiceID   string
	ServiceName string
	NodeID      string

	// DesiredState is either running or shutdown; the reconciler owns
	// it. ActualState walks pending -> assigned -> running -> healthy or
	// unhealthy, ending in shutdown or failed.
	DesiredState TaskState
	ActualState  TaskState

	Image        string
	Ports        []*PortMapping
	HealthCheck  *HealthCheck
	HealthStatus *HealthStatus
	Resources    *ResourceRequirements

	// ServiceVersion is the service spec version this task was created
	// from. Tasks with an older version are replaced during rollouts.
	ServiceVersion uint64

	CreatedAt  time.Time
	StartedAt  time.Time
	FinishedAt time.Time
	ExitCode   int
	Error      string
}

// TaskState represents the lifecycle state of a task
type TaskState string

const (
	TaskStatePending   TaskState = "pending"
	TaskStateAssigned  TaskState = "assigned"
	TaskStateRunning   TaskState = "running"
	TaskStateHealthy   TaskState = "healthy"
	TaskStateUnhealthy TaskState = "unhealthy"
	TaskStateShutdown  TaskState = "shutdown"
	TaskStateFailed    TaskState = "failed"
)

// Terminal reports whether the state is final
func (s TaskState) Terminal() bool {
	return s == TaskStateShutdown || s == TaskStateFailed
}

// Active reports whether a task in this state still counts toward its
// service's placement: it occupies a node slot and may yet serve
func (s TaskState) Active() bool {
	switch s {
	case TaskStatePending, TaskStateAssigned, TaskStateRunning, TaskStateHealthy, TaskStateUnhealthy:
		return true
	}
	return false
}

// TaskReport is a node agent's observation of one task, delivered with
// heartbeats and fed through the reconciler's ingestion queue
type TaskReport struct {
	TaskID   string
	NodeID   string
	State    TaskState
	Health   *HealthStatus
	ExitCode int
	Error    string
}
