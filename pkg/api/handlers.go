package api

import (
	"errors"
	"io"
	"net/http"

	"github.com/covey-run/covey/pkg/types"
	"github.com/gin-gonic/gin"
)

func (s *Server) createService(c *gin.Context) {
	var spec types.Service
	if err := c.ShouldBindJSON(&spec); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	service, err := s.services.Create(c.Request.Context(), &spec)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, service)
}

func (s *Server) listServices(c *gin.Context) {
	services, err := s.services.List()
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, services)
}

func (s *Server) inspectService(c *gin.Context) {
	service, err := s.services.Inspect(c.Param("id"))
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, service)
}

func (s *Server) updateService(c *gin.Context) {
	var spec types.Service
	if err := c.ShouldBindJSON(&spec); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	service, err := s.services.Update(c.Request.Context(), c.Param("id"), &spec)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, service)
}

func (s *Server) removeService(c *gin.Context) {
	if err := s.services.Remove(c.Param("id")); err != nil {
		s.fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) rolloutStatus(c *gin.Context) {
	status, err := s.services.Rollout(c.Param("id"))
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, status)
}

func (s *Server) listServiceTasks(c *gin.Context) {
	service, err := s.services.Inspect(c.Param("id"))
	if err != nil {
		s.fail(c, err)
		return
	}
	tasks, err := s.cluster.ListTasksByService(service.ID)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, tasks)
}

func (s *Server) listTasks(c *gin.Context) {
	tasks, err := s.cluster.ListTasks()
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, tasks)
}

func (s *Server) inspectTask(c *gin.Context) {
	task, err := s.cluster.GetTask(c.Param("id"))
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, task)
}

func (s *Server) joinNode(c *gin.Context) {
	var node types.Node
	if err := c.ShouldBindJSON(&node); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := s.nodes.Join(&node); err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, node)
}

func (s *Server) listNodes(c *gin.Context) {
	nodes, err := s.cluster.ListNodes()
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, nodes)
}

func (s *Server) inspectNode(c *gin.Context) {
	node, err := s.cluster.GetNode(c.Param("id"))
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, node)
}

func (s *Server) leaveNode(c *gin.Context) {
	if err := s.nodes.Leave(c.Param("id")); err != nil {
		s.fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// listNodeTasks is the agent sync endpoint: each agent pulls the tasks
// assigned to it and converges its local runtime.
func (s *Server) listNodeTasks(c *gin.Context) {
	if _, err := s.cluster.GetNode(c.Param("id")); err != nil {
		s.fail(c, err)
		return
	}
	tasks, err := s.cluster.ListTasksByNode(c.Param("id"))
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, tasks)
}

type heartbeatRequest struct {
	Reports []types.TaskReport
}

func (s *Server) heartbeat(c *gin.Context) {
	var req heartbeatRequest
	if err := c.ShouldBindJSON(&req); err != nil && err != io.EOF {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := s.nodes.Heartbeat(c.Param("id"), req.Reports); err != nil {
		s.fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) drainNode(c *gin.Context) {
	if err := s.nodes.Drain(c.Param("id")); err != nil {
		s.fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) activateNode(c *gin.Context) {
	if err := s.nodes.Activate(c.Param("id")); err != nil {
		s.fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) promoteNode(c *gin.Context) {
	if err := s.nodes.Promote(c.Param("id")); err != nil {
		s.fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) demoteNode(c *gin.Context) {
	if err := s.nodes.Demote(c.Param("id")); err != nil {
		s.fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) clusterInfo(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"leader":      s.cluster.IsLeader(),
		"leader_addr": s.cluster.LeaderAddr(),
		"raft":        s.cluster.Stats(),
	})
}

type clusterJoinRequest struct {
	NodeID  string
	Address string
}

// clusterJoin adds a manager to the raft configuration. Only the
// leader can change membership.
func (s *Server) clusterJoin(c *gin.Context) {
	var req clusterJoinRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if req.NodeID == "" || req.Address == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "node_id and address are required"})
		return
	}
	if err := s.cluster.AddVoter(req.NodeID, req.Address); err != nil {
		s.fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// streamEvents pushes cluster events as server-sent events until the
// client goes away.
func (s *Server) streamEvents(c *gin.Context) {
	sub := s.cluster.EventBroker().Subscribe()
	defer s.cluster.EventBroker().Unsubscribe(sub)

	c.Writer.Header().Set("Content-Type", "text/event-stream")
	c.Writer.Header().Set("Cache-Control", "no-cache")

	c.Stream(func(w io.Writer) bool {
		select {
		case event, ok := <-sub:
			if !ok {
				return false
			}
			c.SSEvent(string(event.Type), event)
			return true
		case <-c.Request.Context().Done():
			return false
		}
	})
}

// fail maps the error taxonomy onto HTTP statuses. A request that
// reaches a standby manager gets the leader address for a retry.
func (s *Server) fail(c *gin.Context, err error) {
	switch {
	case errors.Is(err, types.ErrInvalidSpec):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, types.ErrUnknownNode),
		errors.Is(err, types.ErrUnknownService),
		errors.Is(err, types.ErrUnknownTask):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.Is(err, types.ErrNameConflict),
		errors.Is(err, types.ErrDuplicateNode),
		errors.Is(err, types.ErrNodeNotEmpty):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	case errors.Is(err, types.ErrNotLeader):
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"error":       err.Error(),
			"leader_addr": s.cluster.LeaderAddr(),
		})
	default:
		s.logger.Error().Err(err).Str("path", c.Request.URL.Path).Msg("request failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	}
}
