// Package types holds the shared cluster object model: nodes,
// services, tasks and their state machines.
package types
