package agent

import (
	"context"
	"fmt"
	"sync"

	"github.com/covey-run/covey/pkg/external"
	"github.com/covey-run/covey/pkg/types"
)

// TaskRunner executes tasks on a node. The agent never owns workload
// execution; it drives this interface and reports what it observes.
type TaskRunner interface {
	// Start launches the task's workload. It returns once the workload
	// is running or has failed to launch.
	Start(ctx context.Context, task *types.Task) error

	// Stop tears the workload down. Stopping an unknown task is not an
	// error.
	Stop(ctx context.Context, taskID string) error

	// Status reports the workload's current state and exit code.
	Status(taskID string) (types.TaskState, int, error)
}

// LocalRunner is an in-process runner for single-binary development
// mode and tests. Started tasks report running immediately.
type LocalRunner struct {
	mu    sync.Mutex
	sink  external.LogSink
	state map[string]types.TaskState
	exits map[string]int
}

// NewLocalRunner creates a LocalRunner writing task output to sink
func NewLocalRunner(sink external.LogSink) *LocalRunner {
	if sink == nil {
		sink = external.NopSink{}
	}
	return &LocalRunner{
		sink:  sink,
		state: make(map[string]types.TaskState),
		exits: make(map[string]int),
	}
}

// Start implements TaskRunner
func (r *LocalRunner) Start(_ context.Context, task *types.Task) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.state[task.ID]; ok {
		return nil
	}
	r.state[task.ID] = types.TaskStateRunning
	r.sink.Append(task.ID, external.StreamStdout, []byte(fmt.Sprintf("started %s\n", task.Image)))
	return nil
}

// Stop implements TaskRunner
func (r *LocalRunner) Stop(_ context.Context, taskID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.state[taskID]; !ok {
		return nil
	}
	r.state[taskID] = types.TaskStateShutdown
	r.sink.Append(taskID, external.StreamStdout, []byte("stopped\n"))
	return nil
}

// Status implements TaskRunner
func (r *LocalRunner) Status(taskID string) (types.TaskState, int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	state, ok := r.state[taskID]
	if !ok {
		return "", 0, fmt.Errorf("%w: %s", types.ErrUnknownTask, taskID)
	}
	return state, r.exits[taskID], nil
}

// Fail marks a task failed, used by tests to simulate a crash.
func (r *LocalRunner) Fail(taskID string, exitCode int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.state[taskID] = types.TaskStateFailed
	r.exits[taskID] = exitCode
}
