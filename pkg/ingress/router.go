package ingress

import (
	"errors"
	"fmt"
	"strconv"
	"sync"

	"github.com/covey-run/covey/pkg/metrics"
	"github.com/covey-run/covey/pkg/types"
)

// Router errors
var (
	ErrPortNotPublished = errors.New("port not published")
	ErrNoEndpoints      = errors.New("no serving endpoints")
)

// Router selects backends for published ports. The table is swapped
// atomically after every reconciliation cycle; requests in flight keep
// the table they started with.
type Router struct {
	mu      sync.RWMutex
	table   Table
	indexes map[int]int // published port -> round-robin cursor
}

// NewRouter creates a Router with an empty table
func NewRouter() *Router {
	return &Router{
		table:   make(Table),
		indexes: make(map[int]int),
	}
}

// Rebuild recomputes and swaps in the routing table.
func (r *Router) Rebuild(services []*types.Service, tasks []*types.Task, nodes []*types.Node) {
	table := BuildTable(services, tasks, nodes)
	r.mu.Lock()
	r.table = table
	r.mu.Unlock()
}

// Table returns the current routing table.
func (r *Router) Table() Table {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.table
}

// Pick selects the next backend for a published port, round-robin over
// the serving endpoints. For host mode ports only endpoints on
// localNodeID are considered; ingress mode routes across the cluster.
func (r *Router) Pick(publishedPort int, localNodeID string) (Endpoint, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	entry, ok := r.table[publishedPort]
	if !ok {
		return Endpoint{}, fmt.Errorf("%w: %d", ErrPortNotPublished, publishedPort)
	}

	endpoints := entry.Endpoints
	if entry.Mode == types.PublishModeHost {
		var local []Endpoint
		for _, endpoint := range endpoints {
			if endpoint.NodeID == localNodeID {
				local = append(local, endpoint)
			}
		}
		endpoints = local
	}
	if len(endpoints) == 0 {
		return Endpoint{}, fmt.Errorf("%w: port %d of %s", ErrNoEndpoints, publishedPort, entry.ServiceName)
	}

	index := r.indexes[publishedPort] % len(endpoints)
	r.indexes[publishedPort] = (index + 1) % len(endpoints)

	metrics.IngressRequestsTotal.WithLabelValues(strconv.Itoa(publishedPort)).Inc()
	return endpoints[index], nil
}
