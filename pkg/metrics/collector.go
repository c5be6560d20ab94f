package metrics

import (
	"time"

	"github.com/covey-run/covey/pkg/types"
)

// Source provides the cluster state snapshots the collector polls.
// Implemented by the manager.
type Source interface {
	ListNodes() ([]*types.Node, error)
	ListServices() ([]*types.Service, error)
	ListTasks() ([]*types.Task, error)
	IsLeader() bool
}

// Collector periodically exports cluster state gauges
type Collector struct {
	source Source
	stopCh chan struct{}
}

// NewCollector creates a new metrics collector
func NewCollector(source Source) *Collector {
	return &Collector{
		source: source,
		stopCh: make(chan struct{}),
	}
}

// Start begins collecting metrics every 15 seconds
func (c *Collector) Start() {
	ticker := time.NewTicker(15 * time.Second)
	go func() {
		c.collect()

		for {
			select {
			case <-ticker.C:
				c.collect()
			case <-c.stopCh:
				ticker.Stop()
				return
			}
		}
	}()
}

// Stop stops the collector
func (c *Collector) Stop() {
	close(c.stopCh)
}

func (c *Collector) collect() {
	if nodes, err := c.source.ListNodes(); err == nil {
		counts := make(map[[2]string]int)
		for _, node := range nodes {
			counts[[2]string{string(node.Role), string(node.Status)}]++
		}
		NodesTotal.Reset()
		for key, n := range counts {
			NodesTotal.WithLabelValues(key[0], key[1]).Set(float64(n))
		}
	}

	if services, err := c.source.ListServices(); err == nil {
		counts := make(map[string]int)
		for _, service := range services {
			counts[string(service.Status)]++
		}
		ServicesTotal.Reset()
		for status, n := range counts {
			ServicesTotal.WithLabelValues(status).Set(float64(n))
		}
	}

	if tasks, err := c.source.ListTasks(); err == nil {
		counts := make(map[string]int)
		for _, task := range tasks {
			counts[string(task.ActualState)]++
		}
		TasksTotal.Reset()
		for state, n := range counts {
			TasksTotal.WithLabelValues(state).Set(float64(n))
		}
	}

	if c.source.IsLeader() {
		RaftLeader.Set(1)
	} else {
		RaftLeader.Set(0)
	}
}
