package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/covey-run/covey/pkg/servicestore"
	"github.com/covey-run/covey/pkg/types"
)

// ErrNotFound is returned when the manager answers 404 for the
// requested resource.
var ErrNotFound = errors.New("not found")

// Client talks to a manager's HTTP API. It is used by the CLI and by
// node agents; both retry against the advertised leader when a standby
// answers.
type Client struct {
	baseURL string
	http    *http.Client
}

// New creates a Client for the given manager address
func New(baseURL string) *Client {
	return &Client{
		baseURL: baseURL,
		http:    &http.Client{Timeout: 30 * time.Second},
	}
}

// apiError is the JSON error body the manager returns.
type apiError struct {
	Error      string `json:"error"`
	LeaderAddr string `json:"leader_addr"`
}

func (c *Client) do(ctx context.Context, method, path string, in, out interface{}) error {
	var body io.Reader
	if in != nil {
		buf, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(buf)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("request to %s failed: %w", c.baseURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		var apiErr apiError
		if decodeErr := json.NewDecoder(resp.Body).Decode(&apiErr); decodeErr == nil && apiErr.Error != "" {
			if resp.StatusCode == http.StatusNotFound {
				return fmt.Errorf("%s: %w", apiErr.Error, ErrNotFound)
			}
			if apiErr.LeaderAddr != "" {
				return fmt.Errorf("%s (leader at %s)", apiErr.Error, apiErr.LeaderAddr)
			}
			return fmt.Errorf("%s", apiErr.Error)
		}
		return fmt.Errorf("unexpected status %d from %s %s", resp.StatusCode, method, path)
	}

	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

// CreateService submits a new service spec.
func (c *Client) CreateService(ctx context.Context, spec *types.Service) (*types.Service, error) {
	var service types.Service
	if err := c.do(ctx, http.MethodPost, "/v1/services", spec, &service); err != nil {
		return nil, err
	}
	return &service, nil
}

// UpdateService replaces a service's spec, triggering a rolling update.
func (c *Client) UpdateService(ctx context.Context, id string, spec *types.Service) (*types.Service, error) {
	var service types.Service
	if err := c.do(ctx, http.MethodPut, "/v1/services/"+id, spec, &service); err != nil {
		return nil, err
	}
	return &service, nil
}

// RemoveService marks a service for teardown.
func (c *Client) RemoveService(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodDelete, "/v1/services/"+id, nil, nil)
}

// InspectService fetches one service by ID or name.
func (c *Client) InspectService(ctx context.Context, idOrName string) (*types.Service, error) {
	var service types.Service
	if err := c.do(ctx, http.MethodGet, "/v1/services/"+idOrName, nil, &service); err != nil {
		return nil, err
	}
	return &service, nil
}

// ListServices fetches all services.
func (c *Client) ListServices(ctx context.Context) ([]*types.Service, error) {
	var services []*types.Service
	if err := c.do(ctx, http.MethodGet, "/v1/services", nil, &services); err != nil {
		return nil, err
	}
	return services, nil
}

// RolloutStatus fetches rolling update progress.
func (c *Client) RolloutStatus(ctx context.Context, id string) (*servicestore.RolloutStatus, error) {
	var status servicestore.RolloutStatus
	if err := c.do(ctx, http.MethodGet, "/v1/services/"+id+"/rollout", nil, &status); err != nil {
		return nil, err
	}
	return &status, nil
}

// ListServiceTasks fetches the tasks of one service.
func (c *Client) ListServiceTasks(ctx context.Context, idOrName string) ([]*types.Task, error) {
	var tasks []*types.Task
	if err := c.do(ctx, http.MethodGet, "/v1/services/"+idOrName+"/tasks", nil, &tasks); err != nil {
		return nil, err
	}
	return tasks, nil
}

// ListTasks fetches every task in the cluster.
func (c *Client) ListTasks(ctx context.Context) ([]*types.Task, error) {
	var tasks []*types.Task
	if err := c.do(ctx, http.MethodGet, "/v1/tasks", nil, &tasks); err != nil {
		return nil, err
	}
	return tasks, nil
}

// JoinNode registers a node with the cluster.
func (c *Client) JoinNode(ctx context.Context, node *types.Node) error {
	return c.do(ctx, http.MethodPost, "/v1/nodes", node, nil)
}

// ListNodes fetches all registered nodes.
func (c *Client) ListNodes(ctx context.Context) ([]*types.Node, error) {
	var nodes []*types.Node
	if err := c.do(ctx, http.MethodGet, "/v1/nodes", nil, &nodes); err != nil {
		return nil, err
	}
	return nodes, nil
}

// GetNode fetches one node.
func (c *Client) GetNode(ctx context.Context, id string) (*types.Node, error) {
	var node types.Node
	if err := c.do(ctx, http.MethodGet, "/v1/nodes/"+id, nil, &node); err != nil {
		return nil, err
	}
	return &node, nil
}

type heartbeatRequest struct {
	Reports []types.TaskReport
}

// Heartbeat refreshes a node's liveness and delivers task reports.
func (c *Client) Heartbeat(ctx context.Context, nodeID string, reports []types.TaskReport) error {
	return c.do(ctx, http.MethodPost, "/v1/nodes/"+nodeID+"/heartbeat", heartbeatRequest{Reports: reports}, nil)
}

// NodeTasks fetches the tasks assigned to a node; the agent sync pull.
func (c *Client) NodeTasks(ctx context.Context, nodeID string) ([]*types.Task, error) {
	var tasks []*types.Task
	if err := c.do(ctx, http.MethodGet, "/v1/nodes/"+nodeID+"/tasks", nil, &tasks); err != nil {
		return nil, err
	}
	return tasks, nil
}

// DrainNode excludes a node from new placement.
func (c *Client) DrainNode(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodPost, "/v1/nodes/"+id+"/drain", nil, nil)
}

// ActivateNode returns a drained node to service.
func (c *Client) ActivateNode(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodPost, "/v1/nodes/"+id+"/activate", nil, nil)
}

// PromoteNode makes a worker a manager.
func (c *Client) PromoteNode(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodPost, "/v1/nodes/"+id+"/promote", nil, nil)
}

// DemoteNode makes a manager a worker.
func (c *Client) DemoteNode(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodPost, "/v1/nodes/"+id+"/demote", nil, nil)
}

// LeaveNode removes an empty node from the cluster.
func (c *Client) LeaveNode(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodDelete, "/v1/nodes/"+id, nil, nil)
}

type clusterJoinRequest struct {
	NodeID  string
	Address string
}

// ClusterJoin asks the leader to add a manager to the raft
// configuration.
func (c *Client) ClusterJoin(ctx context.Context, nodeID, address string) error {
	return c.do(ctx, http.MethodPost, "/v1/cluster/join", clusterJoinRequest{NodeID: nodeID, Address: address}, nil)
}

// ClusterInfo fetches leadership and consensus stats.
func (c *Client) ClusterInfo(ctx context.Context) (map[string]interface{}, error) {
	var info map[string]interface{}
	if err := c.do(ctx, http.MethodGet, "/v1/cluster/info", nil, &info); err != nil {
		return nil, err
	}
	return info, nil
}
