// Package client is the Go client for the manager HTTP API, used by
// the CLI and by node agents.
package client
