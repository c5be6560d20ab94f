// Package external holds the interfaces to systems outside the
// cluster's own state: image resolution, certificate issuance and
// task log sinks, each with a local implementation for development
// and tests.
package external
