/*
Package registry manages node membership and liveness.

Nodes join the cluster through the registry and stay visible until
explicitly removed; a down node keeps its record so an operator can
see what failed. Workers refresh their record with periodic
heartbeats that also carry task state reports, which the registry
forwards to its observer (the reconciler).

A node that misses its heartbeat window is marked down and its tasks
become candidates for rescheduling. Draining nodes are exempt from the
liveness sweep: drain is an operator action, not a failure. A down
node that heartbeats again is welcomed back as ready.

Role changes (promote, demote) adjust the node record; a promoted
node enters the consensus group through the cluster join flow.
Removal requires the node to be empty of active tasks; drain it
first.
*/
package registry
