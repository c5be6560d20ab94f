/*
Package agent runs on every worker node.

The agent registers its node with a manager, then runs two loops: a
heartbeat loop that refreshes liveness and reports the state of local
tasks, and a sync loop that pulls the node's assigned tasks and
converges the local runner on them, starting what is newly assigned
and stopping what is no longer wanted.

Health checks run agent-side. Each running task with a health check
gets a monitor goroutine probing on the configured interval; the
verdict rides back to the manager in the next heartbeat's task
reports.

Task execution is behind the TaskRunner interface. LocalRunner is the
in-process implementation used for development clusters and tests; a
real container runtime slots in behind the same interface.

The agent also holds the node's certificate credential, issued at
registration and rotated ahead of expiry.
*/
package agent
