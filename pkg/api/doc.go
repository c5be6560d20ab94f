// Package api exposes the manager's HTTP API: service and node CRUD,
// task inspection, cluster membership, an SSE event stream, and the
// Prometheus metrics endpoint. Mutations on a follower return 503
// with the leader's address in the body.
package api
