package api

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/covey-run/covey/pkg/events"
	"github.com/covey-run/covey/pkg/log"
	"github.com/covey-run/covey/pkg/metrics"
	"github.com/covey-run/covey/pkg/servicestore"
	"github.com/covey-run/covey/pkg/types"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
)

// Services is the service store surface the API exposes.
type Services interface {
	Create(ctx context.Context, spec *types.Service) (*types.Service, error)
	Update(ctx context.Context, id string, spec *types.Service) (*types.Service, error)
	Remove(id string) error
	Inspect(idOrName string) (*types.Service, error)
	List() ([]*types.Service, error)
	Rollout(id string) (*servicestore.RolloutStatus, error)
}

// Nodes is the registry surface the API exposes.
type Nodes interface {
	Join(node *types.Node) error
	Heartbeat(nodeID string, reports []types.TaskReport) error
	Drain(nodeID string) error
	Activate(nodeID string) error
	Promote(nodeID string) error
	Demote(nodeID string) error
	Leave(nodeID string) error
}

// Cluster is the manager surface the API exposes: reads, raft
// membership and event streaming.
type Cluster interface {
	IsLeader() bool
	LeaderAddr() string
	Stats() map[string]interface{}
	AddVoter(nodeID, address string) error
	GetNode(id string) (*types.Node, error)
	ListNodes() ([]*types.Node, error)
	GetTask(id string) (*types.Task, error)
	ListTasks() ([]*types.Task, error)
	ListTasksByNode(nodeID string) ([]*types.Task, error)
	ListTasksByService(serviceID string) ([]*types.Task, error)
	EventBroker() *events.Broker
}

// Server is the operator and agent HTTP API.
type Server struct {
	services Services
	nodes    Nodes
	cluster  Cluster
	logger   zerolog.Logger
	engine   *gin.Engine
	http     *http.Server
}

// NewServer creates a Server. Routes are registered immediately; the
// listener starts with Run.
func NewServer(services Services, nodes Nodes, cluster Cluster) *Server {
	gin.SetMode(gin.ReleaseMode)

	s := &Server{
		services: services,
		nodes:    nodes,
		cluster:  cluster,
		logger:   log.WithComponent("api"),
		engine:   gin.New(),
	}
	s.engine.Use(gin.Recovery(), s.observe())
	s.routes()
	return s
}

// Handler exposes the router, used by tests.
func (s *Server) Handler() http.Handler {
	return s.engine
}

// Run serves the API until the context is cancelled.
func (s *Server) Run(ctx context.Context, addr string) error {
	s.http = &http.Server{
		Addr:         addr,
		Handler:      s.engine,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info().Str("addr", addr).Msg("api listening")
		if err := s.http.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return s.http.Shutdown(shutdownCtx)
	}
}

func (s *Server) routes() {
	s.engine.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "leader": s.cluster.IsLeader()})
	})
	s.engine.GET("/metrics", gin.WrapH(metrics.Handler()))

	v1 := s.engine.Group("/v1")
	{
		v1.POST("/services", s.createService)
		v1.GET("/services", s.listServices)
		v1.GET("/services/:id", s.inspectService)
		v1.PUT("/services/:id", s.updateService)
		v1.DELETE("/services/:id", s.removeService)
		v1.GET("/services/:id/rollout", s.rolloutStatus)
		v1.GET("/services/:id/tasks", s.listServiceTasks)

		v1.GET("/tasks", s.listTasks)
		v1.GET("/tasks/:id", s.inspectTask)

		v1.POST("/nodes", s.joinNode)
		v1.GET("/nodes", s.listNodes)
		v1.GET("/nodes/:id", s.inspectNode)
		v1.DELETE("/nodes/:id", s.leaveNode)
		v1.GET("/nodes/:id/tasks", s.listNodeTasks)
		v1.POST("/nodes/:id/heartbeat", s.heartbeat)
		v1.POST("/nodes/:id/drain", s.drainNode)
		v1.POST("/nodes/:id/activate", s.activateNode)
		v1.POST("/nodes/:id/promote", s.promoteNode)
		v1.POST("/nodes/:id/demote", s.demoteNode)

		v1.GET("/cluster/info", s.clusterInfo)
		v1.POST("/cluster/join", s.clusterJoin)
		v1.GET("/events", s.streamEvents)
	}
}

// observe logs every request and feeds the API metrics.
func (s *Server) observe() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		status := c.Writer.Status()
		metrics.APIRequestsTotal.WithLabelValues(c.Request.Method, strconv.Itoa(status)).Inc()
		s.logger.Debug().
			Str("method", c.Request.Method).
			Str("path", c.Request.URL.Path).
			Int("status", status).
			Dur("duration", time.Since(start)).
			Msg("request")
	}
}
