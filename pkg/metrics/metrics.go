package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Cluster metrics
	NodesTotal = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "covey_nodes_total",
			Help: "Total number of nodes by role and status",
		},
		[]string{"role", "status"},
	)

	ServicesTotal = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "covey_services_total",
			Help: "Total number of services by status",
		},
		[]string{"status"},
	)

	TasksTotal = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "covey_tasks_total",
			Help: "Total number of tasks by state",
		},
		[]string{"state"},
	)

	// Raft metrics
	RaftLeader = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "covey_raft_is_leader",
			Help: "Whether this node is the Raft leader (1 = leader, 0 = follower)",
		},
	)

	RaftAppliedIndex = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "covey_raft_applied_index",
			Help: "Last applied Raft log index",
		},
	)

	// Reconciler metrics
	ReconcileCyclesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "covey_reconcile_cycles_total",
			Help: "Total number of reconciliation cycles",
		},
	)

	ReconcileDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "covey_reconcile_duration_seconds",
			Help:    "Reconciliation cycle duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	PlacementShortfall = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "covey_placement_shortfall",
			Help: "Replicas that could not be placed for lack of eligible nodes",
		},
		[]string{"service"},
	)

	TasksScheduled = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "covey_tasks_scheduled_total",
			Help: "Total number of tasks scheduled",
		},
	)

	TasksFailed = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "covey_tasks_failed_total",
			Help: "Total number of failed tasks",
		},
	)

	RolloutsActive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "covey_rollouts_active",
			Help: "Number of rolling updates in progress",
		},
	)

	// API metrics
	APIRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "covey_api_requests_total",
			Help: "Total number of API requests by method and status",
		},
		[]string{"method", "status"},
	)

	// Ingress metrics
	IngressRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "covey_ingress_requests_total",
			Help: "Total number of requests routed by published port",
		},
		[]string{"port"},
	)
)

func init() {
	prometheus.MustRegister(NodesTotal)
	prometheus.MustRegister(ServicesTotal)
	prometheus.MustRegister(TasksTotal)
	prometheus.MustRegister(RaftLeader)
	prometheus.MustRegister(RaftAppliedIndex)
	prometheus.MustRegister(ReconcileCyclesTotal)
	prometheus.MustRegister(ReconcileDuration)
	prometheus.MustRegister(PlacementShortfall)
	prometheus.MustRegister(TasksScheduled)
	prometheus.MustRegister(TasksFailed)
	prometheus.MustRegister(RolloutsActive)
	prometheus.MustRegister(APIRequestsTotal)
	prometheus.MustRegister(IngressRequestsTotal)
}

// Handler returns the Prometheus HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}
