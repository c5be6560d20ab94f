/*
Package scheduler decides where tasks run.

The scheduler is a pure planning function: given a service, the
current node set and the service's existing tasks, it returns the
assignments and removals that bring the task set in line with the
spec. It never mutates cluster state itself; the reconciler applies
the plan.

# Placement

Replicated services get their replicas spread across distinct eligible
nodes, preferring the nodes with the fewest active tasks and breaking
ties on the lowest node ID so plans are deterministic. Global services
get exactly one task on every eligible node.

A node is eligible when it is ready (not down, not draining), matches
every placement constraint on the service, and has unreserved capacity
for the task's resource requirements.

# Constraints

Constraints are expressions over node attributes and labels:

	role==worker
	labels.zone!=us-east-1a

All constraints on a service must hold for a node to be considered.
Parsing and evaluation live in the constraint package.

# Shortfall

When fewer eligible nodes exist than the spec asks for, the plan
carries the shortfall count instead of failing. The caller surfaces it
as a pending condition; the next plan after capacity joins places the
missing replicas.
*/
package scheduler
