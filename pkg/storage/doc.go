// Package storage persists cluster state in BoltDB. One bucket per
// object kind, JSON values, all writes transactional. The raft FSM
// is its only writer.
package storage
