package reconciler

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/covey-run/covey/pkg/events"
	"github.com/covey-run/covey/pkg/log"
	"github.com/covey-run/covey/pkg/metrics"
	"github.com/covey-run/covey/pkg/scheduler"
	"github.com/covey-run/covey/pkg/types"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

const (
	// DefaultInterval is the pause between reconciliation cycles.
	DefaultInterval = 5 * time.Second

	// terminalGrace is how long finished tasks stay visible for
	// inspection before they are purged.
	terminalGrace = 5 * time.Minute

	// degradedThreshold is the number of replacements within one spec
	// version after which the service is annotated degraded.
	degradedThreshold = 5

	// queueSize bounds the task report ingestion queue. Reports beyond
	// it are dropped; the next heartbeat re-delivers the state.
	queueSize = 1024
)

// Cluster is the slice of the manager the reconciler drives.
type Cluster interface {
	IsLeader() bool
	ListNodes() ([]*types.Node, error)
	ListServices() ([]*types.Service, error)
	ListTasks() ([]*types.Task, error)
	GetTask(id string) (*types.Task, error)
	CreateTask(task *types.Task) error
	UpdateTask(task *types.Task) error
	DeleteTask(id string) error
	UpdateService(service *types.Service) error
	DeleteService(id string) error
	PublishEvent(event *events.Event)
}

// Liveness marks silent nodes down; the node registry implements it.
type Liveness interface {
	CheckLiveness(now time.Time) error
}

// RoutingTable receives the cluster state after every cycle so the
// ingress layer can rebuild its endpoint table.
type RoutingTable interface {
	Rebuild(services []*types.Service, tasks []*types.Task, nodes []*types.Node)
}

// Reconciler drives observed state toward desired state. It runs on
// every manager but only acts while its manager holds leadership; a
// standby that wins an election picks up from whatever the replicated
// state says.
type Reconciler struct {
	cluster  Cluster
	liveness Liveness
	routing  RoutingTable
	logger   zerolog.Logger
	interval time.Duration

	queue chan types.TaskReport

	// Per-service rollout bookkeeping. Only the leader's copy matters;
	// it is rebuilt from replicated state after a failover.
	lastBatchAt   map[string]time.Time
	restarts      map[string]int
	restartsVer   map[string]uint64
	rolloutFailed map[string]uint64
	rolloutLive   map[string]bool
}

// New creates a Reconciler. liveness and routing may be nil.
func New(cluster Cluster, liveness Liveness, routing RoutingTable, interval time.Duration) *Reconciler {
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Reconciler{
		cluster:       cluster,
		liveness:      liveness,
		routing:       routing,
		logger:        log.WithComponent("reconciler"),
		interval:      interval,
		queue:         make(chan types.TaskReport, queueSize),
		lastBatchAt:   make(map[string]time.Time),
		restarts:      make(map[string]int),
		restartsVer:   make(map[string]uint64),
		rolloutFailed: make(map[string]uint64),
		rolloutLive:   make(map[string]bool),
	}
}

// SetLiveness wires the node registry in after construction; the
// registry needs the reconciler as its report observer first.
func (r *Reconciler) SetLiveness(liveness Liveness) {
	r.liveness = liveness
}

// Observe enqueues a task report from a node heartbeat. It never
// blocks; when the queue is full the report is dropped and the next
// heartbeat delivers the state again.
func (r *Reconciler) Observe(report types.TaskReport) {
	select {
	case r.queue <- report:
	default:
		r.logger.Warn().Str("task_id", report.TaskID).Msg("ingestion queue full, report dropped")
	}
}

// Run reconciles on a fixed interval until the context is cancelled.
func (r *Reconciler) Run(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	r.logger.Info().Dur("interval", r.interval).Msg("reconciler started")
	for {
		select {
		case <-ctx.Done():
			r.logger.Info().Msg("reconciler stopped")
			return
		case <-ticker.C:
			if !r.cluster.IsLeader() {
				r.drain()
				continue
			}
			if err := r.Cycle(time.Now()); err != nil {
				r.logger.Error().Err(err).Msg("reconciliation cycle failed")
			}
		}
	}
}

// drain discards queued reports while not leading. The leader receives
// the same observations from the agents directly.
func (r *Reconciler) drain() {
	for {
		select {
		case <-r.queue:
		default:
			return
		}
	}
}

// Cycle runs one reconciliation pass: ingest observations, check node
// liveness, then plan and converge every service. Per-service errors
// are logged and skipped so one bad service cannot stall the rest.
func (r *Reconciler) Cycle(now time.Time) error {
	timer := metrics.NewTimer()
	defer timer.ObserveDuration(metrics.ReconcileDuration)
	metrics.ReconcileCyclesTotal.Inc()

	r.ingest(now)

	if r.liveness != nil {
		if err := r.liveness.CheckLiveness(now); err != nil {
			r.logger.Error().Err(err).Msg("liveness check failed")
		}
	}

	nodes, err := r.cluster.ListNodes()
	if err != nil {
		return fmt.Errorf("failed to list nodes: %w", err)
	}
	services, err := r.cluster.ListServices()
	if err != nil {
		return fmt.Errorf("failed to list services: %w", err)
	}
	tasks, err := r.cluster.ListTasks()
	if err != nil {
		return fmt.Errorf("failed to list tasks: %w", err)
	}

	sort.Slice(services, func(i, j int) bool { return services[i].ID < services[j].ID })

	r.failOrphans(tasks, nodes, now)

	rollouts := 0
	for _, service := range services {
		if service.Removing {
			if err := r.teardown(service, tasks); err != nil {
				r.logger.Error().Err(err).Str("service", service.Name).Msg("teardown failed")
			}
			continue
		}
		if err := r.reconcileService(service, nodes, tasks, now); err != nil {
			r.logger.Error().Err(err).Str("service", service.Name).Msg("reconcile failed")
		}
		if r.rolloutLive[service.ID] {
			rollouts++
		}
	}
	metrics.RolloutsActive.Set(float64(rollouts))

	r.cleanupTerminal(tasks, now)

	if r.routing != nil {
		// Re-read tasks so the table reflects this cycle's changes.
		if fresh, err := r.cluster.ListTasks(); err == nil {
			tasks = fresh
		}
		r.routing.Rebuild(services, tasks, nodes)
	}

	return nil
}

// ingest applies every queued task report to the stored tasks.
func (r *Reconciler) ingest(now time.Time) {
	for {
		select {
		case report := <-r.queue:
			if err := r.applyReport(report, now); err != nil {
				r.logger.Debug().Err(err).Str("task_id", report.TaskID).Msg("report discarded")
			}
		default:
			return
		}
	}
}

func (r *Reconciler) applyReport(report types.TaskReport, now time.Time) error {
	task, err := r.cluster.GetTask(report.TaskID)
	if err != nil {
		return err
	}
	if task.NodeID != report.NodeID {
		return fmt.Errorf("report for task %s from wrong node %s", report.TaskID, report.NodeID)
	}
	if task.ActualState == report.State && report.Health == nil {
		return nil
	}

	previous := task.ActualState
	if !previous.Terminal() {
		task.ActualState = report.State
	}
	if report.Health != nil {
		task.HealthStatus = report.Health
	}
	if started(report.State) && task.StartedAt.IsZero() {
		task.StartedAt = now
	}
	if report.State.Terminal() && task.FinishedAt.IsZero() {
		task.FinishedAt = now
		task.ExitCode = report.ExitCode
		task.Error = report.Error
	}

	if err := r.cluster.UpdateTask(task); err != nil {
		return err
	}

	switch {
	case !started(previous) && !previous.Terminal() && started(report.State):
		r.cluster.PublishEvent(&events.Event{
			Type:      events.EventTaskStarted,
			ServiceID: task.ServiceID,
			TaskID:    task.ID,
			NodeID:    task.NodeID,
			Message:   fmt.Sprintf("task %s running on %s", task.ID, task.NodeID),
		})
	case !previous.Terminal() && report.State == types.TaskStateFailed:
		metrics.TasksFailed.Inc()
		r.cluster.PublishEvent(&events.Event{
			Type:      events.EventTaskFailed,
			ServiceID: task.ServiceID,
			TaskID:    task.ID,
			NodeID:    task.NodeID,
			Message:   fmt.Sprintf("task %s failed: %s", task.ID, task.Error),
		})
	}
	return nil
}

// failOrphans settles tasks stranded on dead nodes. A stopping task
// whose node is gone or down can never confirm its shutdown, so it is
// marked failed here; without this, removed services would never purge
// and the node could never leave the cluster.
func (r *Reconciler) failOrphans(tasks []*types.Task, nodes []*types.Node, now time.Time) {
	reachable := make(map[string]bool, len(nodes))
	for _, node := range nodes {
		reachable[node.ID] = node.Status != types.NodeStatusDown
	}

	for _, task := range tasks {
		if task.ActualState.Terminal() || task.DesiredState != types.TaskStateShutdown {
			continue
		}
		if reachable[task.NodeID] {
			continue
		}
		task.ActualState = types.TaskStateFailed
		task.FinishedAt = now
		task.Error = "node unreachable"
		if err := r.cluster.UpdateTask(task); err != nil {
			r.logger.Error().Err(err).Str("task_id", task.ID).Msg("failed to settle orphaned task")
			continue
		}
		metrics.TasksFailed.Inc()
		r.logger.Info().
			Str("task_id", task.ID).
			Str("node_id", task.NodeID).
			Msg("task orphaned on unreachable node, marked failed")
		r.cluster.PublishEvent(&events.Event{
			Type:      events.EventTaskFailed,
			ServiceID: task.ServiceID,
			TaskID:    task.ID,
			NodeID:    task.NodeID,
			Message:   fmt.Sprintf("task %s lost with node %s", task.ID, task.NodeID),
		})
	}
}

// started reports whether a state means the task has come up on its
// node. An agent whose first probe lands before the first heartbeat
// reports healthy directly, without ever reporting running.
func started(s types.TaskState) bool {
	switch s {
	case types.TaskStateRunning, types.TaskStateHealthy, types.TaskStateUnhealthy:
		return true
	}
	return false
}

// reconcileService converges one service: replace broken tasks, advance
// any rolling update, apply the placement plan and refresh the status
// annotation.
func (r *Reconciler) reconcileService(service *types.Service, nodes []*types.Node, tasks []*types.Task, now time.Time) error {
	r.resetCountersOnNewVersion(service)

	// Exhausted health retries take the task out of rotation and free
	// its slot so the plan below places a replacement.
	for _, task := range tasks {
		if task.ServiceID != service.ID {
			continue
		}
		if task.ActualState == types.TaskStateUnhealthy && task.DesiredState == types.TaskStateRunning {
			if err := r.stopTask(task, "unhealthy"); err != nil {
				return err
			}
			r.restarts[service.ID]++
		}
		if task.ActualState == types.TaskStateFailed && task.DesiredState == types.TaskStateRunning {
			task.DesiredState = types.TaskStateShutdown
			if err := r.cluster.UpdateTask(task); err != nil {
				return err
			}
			r.restarts[service.ID]++
		}
	}

	updating := r.advanceRollout(service, tasks, nodes, now)

	plan, err := scheduler.PlanService(service, nodes, tasks)
	if err != nil {
		return err
	}
	metrics.PlacementShortfall.WithLabelValues(service.Name).Set(float64(plan.Shortfall))

	for _, task := range plan.Remove {
		if err := r.stopTask(task, "rescheduled"); err != nil {
			return err
		}
	}
	for _, nodeID := range plan.Assign {
		if err := r.startTask(service, nodeID); err != nil {
			return err
		}
	}

	return r.annotate(service, plan.Shortfall, updating)
}

// stopTask flips a task's desired state to shutdown. The agent observes
// the change on its next sync and tears the task down; repeating the
// call is harmless.
func (r *Reconciler) stopTask(task *types.Task, reason string) error {
	if task.DesiredState == types.TaskStateShutdown {
		return nil
	}
	task.DesiredState = types.TaskStateShutdown
	if err := r.cluster.UpdateTask(task); err != nil {
		return fmt.Errorf("failed to stop task %s: %w", task.ID, err)
	}
	r.logger.Info().
		Str("task_id", task.ID).
		Str("node_id", task.NodeID).
		Str("reason", reason).
		Msg("task shutdown desired")
	r.cluster.PublishEvent(&events.Event{
		Type:      events.EventTaskShutdown,
		ServiceID: task.ServiceID,
		TaskID:    task.ID,
		NodeID:    task.NodeID,
		Message:   fmt.Sprintf("task %s shutting down (%s)", task.ID, reason),
	})
	return nil
}

func (r *Reconciler) startTask(service *types.Service, nodeID string) error {
	task := &types.Task{
		ID:             uuid.New().String(),
		ServiceID:      service.ID,
		ServiceName:    service.Name,
		NodeID:         nodeID,
		DesiredState:   types.TaskStateRunning,
		ActualState:    types.TaskStatePending,
		Image:          service.ResolvedImage,
		Ports:          service.Ports,
		HealthCheck:    service.HealthCheck,
		Resources:      service.Resources,
		ServiceVersion: service.Version,
		CreatedAt:      time.Now(),
	}
	if task.Image == "" {
		task.Image = service.Image
	}
	if err := r.cluster.CreateTask(task); err != nil {
		return fmt.Errorf("failed to create task for %s: %w", service.Name, err)
	}
	metrics.TasksScheduled.Inc()
	r.logger.Info().
		Str("task_id", task.ID).
		Str("service", service.Name).
		Str("node_id", nodeID).
		Msg("task scheduled")
	r.cluster.PublishEvent(&events.Event{
		Type:      events.EventTaskCreated,
		ServiceID: service.ID,
		TaskID:    task.ID,
		NodeID:    nodeID,
		Message:   fmt.Sprintf("task %s scheduled on %s", task.ID, nodeID),
	})
	return nil
}

// advanceRollout moves a rolling update forward by at most one batch
// and reports whether an update is still in progress. Staleness is
// judged against the rollout version, so a scale or constraint edit
// never restarts settled tasks. A failed replacement halts the
// rollout; there is no automatic rollback, the operator resumes by
// submitting a new image.
func (r *Reconciler) advanceRollout(service *types.Service, tasks []*types.Task, nodes []*types.Node, now time.Time) bool {
	reachable := make(map[string]bool, len(nodes))
	for _, node := range nodes {
		reachable[node.ID] = node.Status != types.NodeStatusDown
	}

	var stale []*types.Task
	staleStopping := 0
	unsettled := 0
	replacementBroken := false
	for _, task := range tasks {
		if task.ServiceID != service.ID {
			continue
		}
		// Only a replacement breaking on a live node blames the new
		// image; a task lost with its node says nothing about it.
		if task.ServiceVersion >= service.RolloutVersion && reachable[task.NodeID] &&
			(task.ActualState == types.TaskStateFailed || task.ActualState == types.TaskStateUnhealthy) {
			replacementBroken = true
		}
		if !task.ActualState.Active() {
			continue
		}
		if task.ServiceVersion < service.RolloutVersion {
			if task.DesiredState == types.TaskStateShutdown {
				staleStopping++
			} else {
				stale = append(stale, task)
			}
			continue
		}
		if task.DesiredState == types.TaskStateRunning && !r.taskReady(task) {
			unsettled++
		}
	}

	// A rollout is in progress while stale tasks exist; once one is
	// live, the last replacements settling still count.
	inProgress := len(stale) > 0 || staleStopping > 0 ||
		(r.rolloutLive[service.ID] && unsettled > 0)
	if !inProgress {
		if r.rolloutLive[service.ID] {
			delete(r.rolloutLive, service.ID)
			delete(r.lastBatchAt, service.ID)
			r.cluster.PublishEvent(&events.Event{
				Type:      events.EventRolloutDone,
				ServiceID: service.ID,
				Message:   fmt.Sprintf("service %s rolled out version %d", service.Name, service.Version),
			})
		}
		return false
	}

	if r.rolloutFailed[service.ID] == service.RolloutVersion {
		return true
	}

	// A replacement that dies or exhausts its health retries halts the
	// batch progression. Replica maintenance keeps running; only the
	// stale-task replacement stops advancing.
	if replacementBroken {
		r.rolloutFailed[service.ID] = service.RolloutVersion
		r.logger.Warn().Str("service", service.Name).Msg("rollout halted on failed replacement")
		r.cluster.PublishEvent(&events.Event{
			Type:      events.EventRolloutFailed,
			ServiceID: service.ID,
			Message:   fmt.Sprintf("rollout of %s version %d halted", service.Name, service.RolloutVersion),
		})
		return true
	}

	if !r.rolloutLive[service.ID] {
		r.rolloutLive[service.ID] = true
		r.cluster.PublishEvent(&events.Event{
			Type:      events.EventRolloutStarted,
			ServiceID: service.ID,
			Message:   fmt.Sprintf("service %s rolling out version %d", service.Name, service.Version),
		})
	}

	parallelism := 1
	var delay time.Duration
	if service.UpdateConfig != nil {
		if service.UpdateConfig.Parallelism > 0 {
			parallelism = service.UpdateConfig.Parallelism
		}
		delay = service.UpdateConfig.Delay
	}

	budget := parallelism - staleStopping - unsettled
	if budget <= 0 {
		return true
	}
	if last, ok := r.lastBatchAt[service.ID]; ok && now.Sub(last) < delay {
		return true
	}

	sort.Slice(stale, func(i, j int) bool { return stale[i].ID < stale[j].ID })
	for _, task := range stale {
		if budget == 0 {
			break
		}
		if err := r.stopTask(task, "rolling update"); err != nil {
			r.logger.Error().Err(err).Str("task_id", task.ID).Msg("rollout batch stop failed")
			break
		}
		budget--
	}
	r.lastBatchAt[service.ID] = now
	return true
}

// taskReady reports whether a replacement counts as settled: healthy
// when the service probes health, running otherwise.
func (r *Reconciler) taskReady(task *types.Task) bool {
	if task.HealthCheck != nil {
		return task.ActualState == types.TaskStateHealthy
	}
	return task.ActualState == types.TaskStateRunning || task.ActualState == types.TaskStateHealthy
}

// annotate refreshes the service's status summary. Precedence: a halted
// rollout outranks everything, then an active update, a placement
// shortfall, a replacement budget blown within this version, and
// finally active.
func (r *Reconciler) annotate(service *types.Service, shortfall int, updating bool) error {
	status := types.ServiceStatusActive
	switch {
	case r.rolloutFailed[service.ID] == service.RolloutVersion:
		status = types.ServiceStatusRolloutFailed
	case updating:
		status = types.ServiceStatusUpdating
	case shortfall > 0:
		status = types.ServiceStatusPending
	case r.restarts[service.ID] > degradedThreshold:
		status = types.ServiceStatusDegraded
	}

	if service.Status == status {
		return nil
	}
	service.Status = status
	if err := r.cluster.UpdateService(service); err != nil {
		return fmt.Errorf("failed to update service status: %w", err)
	}
	if status == types.ServiceStatusDegraded {
		r.cluster.PublishEvent(&events.Event{
			Type:      events.EventServiceDegraded,
			ServiceID: service.ID,
			Message:   fmt.Sprintf("service %s degraded after repeated task replacement", service.Name),
		})
	}
	return nil
}

func (r *Reconciler) resetCountersOnNewVersion(service *types.Service) {
	if r.restartsVer[service.ID] != service.Version {
		r.restartsVer[service.ID] = service.Version
		r.restarts[service.ID] = 0
	}
	// A new image is the operator's way out of a halted rollout.
	if ver, ok := r.rolloutFailed[service.ID]; ok && ver != service.RolloutVersion {
		delete(r.rolloutFailed, service.ID)
	}
}

// teardown shuts down every task of a removing service and purges the
// entry once all of them are terminal.
func (r *Reconciler) teardown(service *types.Service, tasks []*types.Task) error {
	remaining := 0
	for _, task := range tasks {
		if task.ServiceID != service.ID {
			continue
		}
		if !task.ActualState.Terminal() {
			remaining++
			if err := r.stopTask(task, "service removed"); err != nil {
				return err
			}
			continue
		}
		if err := r.cluster.DeleteTask(task.ID); err != nil {
			return err
		}
	}
	if remaining > 0 {
		return nil
	}

	if err := r.cluster.DeleteService(service.ID); err != nil {
		return err
	}
	delete(r.lastBatchAt, service.ID)
	delete(r.restarts, service.ID)
	delete(r.restartsVer, service.ID)
	delete(r.rolloutFailed, service.ID)
	delete(r.rolloutLive, service.ID)
	metrics.PlacementShortfall.DeleteLabelValues(service.Name)
	r.logger.Info().Str("service", service.Name).Msg("service purged")
	return nil
}

// cleanupTerminal deletes finished tasks of live services once the
// inspection grace period has passed.
func (r *Reconciler) cleanupTerminal(tasks []*types.Task, now time.Time) {
	for _, task := range tasks {
		if !task.ActualState.Terminal() {
			continue
		}
		finished := task.FinishedAt
		if finished.IsZero() {
			finished = task.CreatedAt
		}
		if now.Sub(finished) < terminalGrace {
			continue
		}
		if err := r.cluster.DeleteTask(task.ID); err != nil {
			r.logger.Debug().Err(err).Str("task_id", task.ID).Msg("terminal task cleanup failed")
		}
	}
}

// QueueDepth reports the number of pending task reports, exposed for
// introspection endpoints.
func (r *Reconciler) QueueDepth() int {
	return len(r.queue)
}
