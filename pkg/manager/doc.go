/*
Package manager replicates cluster state across managers with raft.

All writes go through the raft log as JSON commands and are applied
by a finite state machine backed by BoltDB, so every manager holds
the same nodes, services and tasks. Reads are served from the local
store. Mutations are accepted only on the leader; followers answer
ErrNotLeader along with the leader's address so clients can retry.

A single manager bootstraps itself into a one-node cluster; further
managers join through AddVoter once the leader admits them. Leadership
changes are raft's concern entirely, and the control loops that must
run exactly once (the reconciler) gate themselves on IsLeader.

The manager also carries the event broker, publishing state changes
to any subscribed API stream.
*/
package manager
