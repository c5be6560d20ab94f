package agent

import (
	"context"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/covey-run/covey/pkg/external"
	"github.com/covey-run/covey/pkg/health"
	"github.com/covey-run/covey/pkg/log"
	"github.com/covey-run/covey/pkg/types"
	"github.com/rs/zerolog"
)

const (
	defaultHeartbeatInterval = 5 * time.Second
	defaultSyncInterval      = 3 * time.Second
)

// ManagerClient is the slice of the API client the agent uses.
type ManagerClient interface {
	JoinNode(ctx context.Context, node *types.Node) error
	Heartbeat(ctx context.Context, nodeID string, reports []types.TaskReport) error
	NodeTasks(ctx context.Context, nodeID string) ([]*types.Task, error)
}

// Config holds agent configuration
type Config struct {
	NodeID            string
	Address           string
	Labels            map[string]string
	Resources         *types.NodeResources
	HeartbeatInterval time.Duration
	SyncInterval      time.Duration
}

// Agent runs on every node: it registers with the managers, pulls its
// assigned tasks, drives the runner to match them and reports what it
// observes with each heartbeat.
type Agent struct {
	cfg    Config
	client ManagerClient
	runner TaskRunner
	ca     external.CertificateAuthority
	logger zerolog.Logger

	credential external.Credential

	mu       sync.Mutex
	tasks    map[string]*types.Task   // tasks this node currently manages
	monitors map[string]func()        // health monitor cancel funcs
	statuses map[string]*types.HealthStatus
}

// New creates an Agent
func New(cfg Config, managerClient ManagerClient, runner TaskRunner, ca external.CertificateAuthority) *Agent {
	if cfg.HeartbeatInterval <= 0 {
		cfg.HeartbeatInterval = defaultHeartbeatInterval
	}
	if cfg.SyncInterval <= 0 {
		cfg.SyncInterval = defaultSyncInterval
	}
	if cfg.NodeID == "" {
		cfg.NodeID, _ = os.Hostname()
	}
	return &Agent{
		cfg:      cfg,
		client:   managerClient,
		runner:   runner,
		ca:       ca,
		logger:   log.WithComponent("agent").With().Str("node_id", cfg.NodeID).Logger(),
		tasks:    make(map[string]*types.Task),
		monitors: make(map[string]func()),
		statuses: make(map[string]*types.HealthStatus),
	}
}

// Run registers the node and drives the heartbeat and sync loops until
// the context is cancelled.
func (a *Agent) Run(ctx context.Context) error {
	if err := a.register(ctx); err != nil {
		return err
	}

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		a.heartbeatLoop(ctx)
	}()
	go func() {
		defer wg.Done()
		a.syncLoop(ctx)
	}()
	wg.Wait()

	a.shutdownTasks()
	return nil
}

func (a *Agent) register(ctx context.Context) error {
	hostname, _ := os.Hostname()
	node := &types.Node{
		ID:        a.cfg.NodeID,
		Address:   a.cfg.Address,
		Hostname:  hostname,
		Labels:    a.cfg.Labels,
		Resources: a.cfg.Resources,
		Role:      types.NodeRoleWorker,
	}

	err := a.client.JoinNode(ctx, node)
	if err != nil && !strings.Contains(err.Error(), "already registered") {
		return fmt.Errorf("failed to join cluster: %w", err)
	}
	if err != nil {
		a.logger.Info().Msg("node already registered, resuming")
	} else {
		a.logger.Info().Msg("joined cluster")
	}

	if a.ca != nil {
		cred, err := a.ca.Issue(ctx, a.cfg.NodeID)
		if err != nil {
			return fmt.Errorf("failed to obtain node credential: %w", err)
		}
		a.credential = cred
		a.logger.Debug().Time("not_after", cred.NotAfter).Msg("node credential issued")
	}
	return nil
}

func (a *Agent) heartbeatLoop(ctx context.Context) {
	ticker := time.NewTicker(a.cfg.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			a.rotateCredential(ctx)
			if err := a.client.Heartbeat(ctx, a.cfg.NodeID, a.reports()); err != nil {
				a.logger.Warn().Err(err).Msg("heartbeat failed")
			}
		}
	}
}

// rotateCredential renews the node credential before it lapses.
func (a *Agent) rotateCredential(ctx context.Context) {
	if a.ca == nil || !a.credential.Expired(time.Now().Add(24*time.Hour)) {
		return
	}
	cred, err := a.ca.Rotate(ctx, a.credential)
	if err != nil {
		a.logger.Warn().Err(err).Msg("credential rotation failed")
		return
	}
	a.credential = cred
}

// reports snapshots the observed state of every local task.
func (a *Agent) reports() []types.TaskReport {
	a.mu.Lock()
	defer a.mu.Unlock()

	reports := make([]types.TaskReport, 0, len(a.tasks))
	for id := range a.tasks {
		state, exitCode, err := a.runner.Status(id)
		if err != nil {
			state = types.TaskStateFailed
		}

		report := types.TaskReport{
			TaskID:   id,
			NodeID:   a.cfg.NodeID,
			State:    state,
			ExitCode: exitCode,
		}
		if status := a.statuses[id]; status != nil && state == types.TaskStateRunning {
			report.Health = status
			if status.Healthy {
				report.State = types.TaskStateHealthy
			} else {
				report.State = types.TaskStateUnhealthy
			}
		}
		if err != nil {
			report.Error = err.Error()
		}
		reports = append(reports, report)
	}
	return reports
}

func (a *Agent) syncLoop(ctx context.Context) {
	ticker := time.NewTicker(a.cfg.SyncInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := a.Sync(ctx); err != nil {
				a.logger.Warn().Err(err).Msg("task sync failed")
			}
		}
	}
}

// Sync pulls the node's assigned tasks and converges the local runner:
// start what should run, stop what should not.
func (a *Agent) Sync(ctx context.Context) error {
	assigned, err := a.client.NodeTasks(ctx, a.cfg.NodeID)
	if err != nil {
		return err
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	wanted := make(map[string]bool)
	for _, task := range assigned {
		if task.DesiredState != types.TaskStateRunning || task.ActualState.Terminal() {
			continue
		}
		wanted[task.ID] = true
		if _, ok := a.tasks[task.ID]; ok {
			continue
		}

		if err := a.runner.Start(ctx, task); err != nil {
			a.logger.Error().Err(err).Str("task_id", task.ID).Msg("task start failed")
			continue
		}
		a.tasks[task.ID] = task
		a.startMonitor(task)
		a.logger.Info().Str("task_id", task.ID).Str("image", task.Image).Msg("task started")
	}

	for id := range a.tasks {
		if wanted[id] {
			continue
		}
		if err := a.stopLocked(ctx, id); err != nil {
			a.logger.Error().Err(err).Str("task_id", id).Msg("task stop failed")
		}
	}
	return nil
}

func (a *Agent) stopLocked(ctx context.Context, taskID string) error {
	if cancel, ok := a.monitors[taskID]; ok {
		cancel()
		delete(a.monitors, taskID)
	}
	delete(a.statuses, taskID)
	delete(a.tasks, taskID)

	if err := a.runner.Stop(ctx, taskID); err != nil {
		return err
	}
	a.logger.Info().Str("task_id", taskID).Msg("task stopped")
	return nil
}

// startMonitor launches the health probe loop for one task. Callers
// hold a.mu.
func (a *Agent) startMonitor(task *types.Task) {
	if task.HealthCheck == nil {
		return
	}
	checker, err := health.NewChecker(task.HealthCheck, a.cfg.Address)
	if err != nil {
		a.logger.Warn().Err(err).Str("task_id", task.ID).Msg("health check setup failed")
		return
	}
	cfg := health.ConfigFromSpec(task.HealthCheck)

	ctx, cancel := context.WithCancel(context.Background())
	a.monitors[task.ID] = cancel

	go func() {
		status := health.NewStatus()
		ticker := time.NewTicker(cfg.Interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				checkCtx, checkCancel := context.WithTimeout(ctx, cfg.Timeout)
				result := checker.Check(checkCtx)
				checkCancel()
				status.Update(result, cfg)

				a.mu.Lock()
				a.statuses[task.ID] = status.Snapshot()
				a.mu.Unlock()
			}
		}
	}()
}

// shutdownTasks tears down every local task on agent exit.
func (a *Agent) shutdownTasks() {
	a.mu.Lock()
	defer a.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	for id := range a.tasks {
		if err := a.stopLocked(ctx, id); err != nil {
			a.logger.Warn().Err(err).Str("task_id", id).Msg("shutdown stop failed")
		}
	}
}

// Reports exposes the current task reports, used by tests and the
// embedded single-binary mode.
func (a *Agent) Reports() []types.TaskReport {
	return a.reports()
}
