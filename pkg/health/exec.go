package health

import (
	"context"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/covey-run/covey/pkg/types"
)

// ExecChecker runs a command and treats exit code 0 as healthy
type ExecChecker struct {
	// Command is the command and its arguments
	Command []string

	// Timeout bounds the command's run time (default: 10 seconds)
	Timeout time.Duration
}

// NewExecChecker creates a new exec health checker
func NewExecChecker(command []string) *ExecChecker {
	return &ExecChecker{
		Command: command,
		Timeout: 10 * time.Second,
	}
}

// Check runs the command
func (e *ExecChecker) Check(ctx context.Context) Result {
	start := time.Now()

	if len(e.Command) == 0 {
		return Result{
			Healthy:   false,
			Message:   "no command configured",
			CheckedAt: start,
			Duration:  time.Since(start),
		}
	}

	ctx, cancel := context.WithTimeout(ctx, e.Timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, e.Command[0], e.Command[1:]...)
	output, err := cmd.CombinedOutput()
	if err != nil {
		return Result{
			Healthy:   false,
			Message:   fmt.Sprintf("command failed: %v: %s", err, strings.TrimSpace(string(output))),
			CheckedAt: start,
			Duration:  time.Since(start),
		}
	}

	return Result{
		Healthy:   true,
		Message:   "command succeeded",
		CheckedAt: start,
		Duration:  time.Since(start),
	}
}

// Type returns the health check type
func (e *ExecChecker) Type() types.HealthCheckType {
	return types.HealthCheckExec
}
