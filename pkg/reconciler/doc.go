/*
Package reconciler drives the cluster toward its declared state.

The reconciler is the single writer of task desired state. It runs on
the raft leader only, on a fixed interval, and each cycle compares what
every service declares against what the cluster actually runs, then
creates, stops and purges tasks to close the gap.

# Reconciliation Cycle

	┌────────────────────────────────────────────────────────┐
	│                  Reconcile Cycle                       │
	│                 (every 5 seconds)                      │
	└───────────────┬────────────────────────────────────────┘
	                │
	                ▼
	 1. Ingest queued task reports from node heartbeats
	 2. Sweep node liveness, marking silent nodes down
	 3. Tear down services marked for removal
	 4. Per service:
	    • stop unhealthy tasks, fail tasks on down nodes
	    • advance any rolling update by one batch
	    • plan placement and apply the diff
	    • annotate the service status
	 5. Purge terminal tasks past the retention grace
	 6. Rebuild the ingress routing table

The cycle is deterministic for a given state snapshot: services are
processed in ID order and placement itself is a pure function in the
scheduler package. Running a cycle twice against the same state
produces no additional writes.

# Task Reports

Workers report task state through heartbeats. Reports are queued on a
bounded channel and folded into cluster state at the start of the next
cycle, so the reconciler always works from one consistent snapshot.
Reports for terminal tasks are discarded rather than letting a late
heartbeat resurrect a task the reconciler already settled.

# Rolling Updates

A service spec update bumps the service version. Tasks carry the
version they were created from, and the reconciler replaces stale
tasks in batches of the configured parallelism, waiting for each
replacement to settle (and for the configured delay) before starting
the next batch. A failed or unhealthy replacement halts the rollout:
no new batches start, remaining stale tasks keep serving, and the
halt clears when the operator pushes another spec revision. Replica
maintenance continues while a rollout is halted, so a crashed task is
still replaced at its own version.

# Failure Handling

Tasks on nodes that miss their heartbeat window are marked failed and
replaced on the surviving nodes in the same cycle. Placement shortfall
(more replicas than eligible nodes) is not an error: the service is
annotated pending and the missing replicas materialize as soon as
capacity joins. Repeated replacement of a service's tasks within one
spec version marks the service degraded.

The reconciler holds no state a restart would lose. Everything it
needs is re-read from the replicated store each cycle, so a leader
failover resumes convergence on the next tick of the new leader.
*/
package reconciler
