/*
Package ingress routes published ports to healthy tasks.

Every published port of every service is collected into a routing
table mapping the port to the set of serving task endpoints. The
table is rebuilt from scratch after each reconcile cycle and swapped
in atomically, so a request never sees a half-updated view.

# Request Flow

	Client → :published-port on any node
	       → Router picks a healthy endpoint (round-robin)
	       → reverse proxy to node-addr:container-port

Ports published in ingress mode accept traffic on every node and may
proxy to a task on another node (the routing mesh). Ports published in
host mode only listen on nodes that hold a serving task and only route
to the local one.

# Endpoint Selection

An endpoint is included when its task is desired running and reports
healthy, or reports running with no health check configured. Tasks on
down nodes, stopping tasks, and tasks that failed their health check
are excluded, so draining a node or a rolling update shifts traffic
without dropped requests.

The Proxy keeps one HTTP listener per published port and reconciles
the listener set against the table after each rebuild, shutting
removed ports down gracefully.
*/
package ingress
