package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/covey-run/covey/pkg/events"
	"github.com/covey-run/covey/pkg/servicestore"
	"github.com/covey-run/covey/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeServices struct {
	services map[string]*types.Service
	err      error
}

func (f *fakeServices) Create(_ context.Context, spec *types.Service) (*types.Service, error) {
	if f.err != nil {
		return nil, f.err
	}
	created := *spec
	created.ID = "svc-1"
	created.Version = 1
	f.services[created.ID] = &created
	return &created, nil
}

func (f *fakeServices) Update(_ context.Context, id string, spec *types.Service) (*types.Service, error) {
	if f.err != nil {
		return nil, f.err
	}
	service, ok := f.services[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", types.ErrUnknownService, id)
	}
	updated := *spec
	updated.ID = service.ID
	updated.Version = service.Version + 1
	f.services[id] = &updated
	return &updated, nil
}

func (f *fakeServices) Remove(id string) error {
	if f.err != nil {
		return f.err
	}
	if _, ok := f.services[id]; !ok {
		return fmt.Errorf("%w: %s", types.ErrUnknownService, id)
	}
	delete(f.services, id)
	return nil
}

func (f *fakeServices) Inspect(idOrName string) (*types.Service, error) {
	if service, ok := f.services[idOrName]; ok {
		return service, nil
	}
	return nil, fmt.Errorf("%w: %s", types.ErrUnknownService, idOrName)
}

func (f *fakeServices) List() ([]*types.Service, error) {
	var out []*types.Service
	for _, service := range f.services {
		out = append(out, service)
	}
	return out, nil
}

func (f *fakeServices) Rollout(id string) (*servicestore.RolloutStatus, error) {
	if _, ok := f.services[id]; !ok {
		return nil, fmt.Errorf("%w: %s", types.ErrUnknownService, id)
	}
	return &servicestore.RolloutStatus{ServiceID: id}, nil
}

type fakeNodes struct {
	joined []string
	err    error
}

func (f *fakeNodes) Join(node *types.Node) error {
	if f.err != nil {
		return f.err
	}
	f.joined = append(f.joined, node.ID)
	return nil
}

func (f *fakeNodes) Heartbeat(string, []types.TaskReport) error { return f.err }
func (f *fakeNodes) Drain(string) error                         { return f.err }
func (f *fakeNodes) Activate(string) error                      { return f.err }
func (f *fakeNodes) Promote(string) error                       { return f.err }
func (f *fakeNodes) Demote(string) error                        { return f.err }
func (f *fakeNodes) Leave(string) error                         { return f.err }

type fakeCluster struct {
	leader bool
	broker *events.Broker
}

func (f *fakeCluster) IsLeader() bool                   { return f.leader }
func (f *fakeCluster) LeaderAddr() string               { return "10.0.0.1:7946" }
func (f *fakeCluster) Stats() map[string]interface{}    { return map[string]interface{}{} }
func (f *fakeCluster) AddVoter(string, string) error    { return nil }
func (f *fakeCluster) GetNode(id string) (*types.Node, error) {
	return nil, fmt.Errorf("%w: %s", types.ErrUnknownNode, id)
}
func (f *fakeCluster) ListNodes() ([]*types.Node, error) { return nil, nil }
func (f *fakeCluster) GetTask(id string) (*types.Task, error) {
	return nil, fmt.Errorf("%w: %s", types.ErrUnknownTask, id)
}
func (f *fakeCluster) ListTasks() ([]*types.Task, error)           { return nil, nil }
func (f *fakeCluster) ListTasksByNode(string) ([]*types.Task, error) { return nil, nil }
func (f *fakeCluster) ListTasksByService(string) ([]*types.Task, error) { return nil, nil }
func (f *fakeCluster) EventBroker() *events.Broker                 { return f.broker }

func newTestServer() (*Server, *fakeServices, *fakeNodes, *fakeCluster) {
	services := &fakeServices{services: make(map[string]*types.Service)}
	nodes := &fakeNodes{}
	cluster := &fakeCluster{leader: true, broker: events.NewBroker()}
	return NewServer(services, nodes, cluster), services, nodes, cluster
}

func do(t *testing.T, server *Server, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, req)
	return rec
}

func TestCreateService(t *testing.T) {
	server, _, _, _ := newTestServer()

	rec := do(t, server, http.MethodPost, "/v1/services", &types.Service{
		Name:     "web",
		Image:    "nginx:1.27",
		Mode:     types.ServiceModeReplicated,
		Replicas: 3,
	})
	require.Equal(t, http.StatusCreated, rec.Code)

	var created types.Service
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))
	assert.Equal(t, "svc-1", created.ID)
	assert.Equal(t, uint64(1), created.Version)
}

func TestInvalidSpecIsBadRequest(t *testing.T) {
	server, services, _, _ := newTestServer()
	services.err = fmt.Errorf("%w: name is required", types.ErrInvalidSpec)

	rec := do(t, server, http.MethodPost, "/v1/services", &types.Service{})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestUnknownServiceIsNotFound(t *testing.T) {
	server, _, _, _ := newTestServer()
	rec := do(t, server, http.MethodGet, "/v1/services/ghost", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestNameConflictIsConflict(t *testing.T) {
	server, services, _, _ := newTestServer()
	services.err = fmt.Errorf("%w: web", types.ErrNameConflict)

	rec := do(t, server, http.MethodPost, "/v1/services", &types.Service{Name: "web"})
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestNotLeaderIncludesLeaderAddr(t *testing.T) {
	server, services, _, _ := newTestServer()
	services.err = types.ErrNotLeader

	rec := do(t, server, http.MethodPost, "/v1/services", &types.Service{Name: "web"})
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)

	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "10.0.0.1:7946", body["leader_addr"])
}

func TestNodeJoinAndHeartbeat(t *testing.T) {
	server, _, nodes, _ := newTestServer()

	rec := do(t, server, http.MethodPost, "/v1/nodes", &types.Node{ID: "node-1", Address: "10.0.0.2"})
	require.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, []string{"node-1"}, nodes.joined)

	rec = do(t, server, http.MethodPost, "/v1/nodes/node-1/heartbeat", &heartbeatRequest{
		Reports: []types.TaskReport{{TaskID: "t1", State: types.TaskStateRunning}},
	})
	assert.Equal(t, http.StatusNoContent, rec.Code)
}

func TestDuplicateNodeIsConflict(t *testing.T) {
	server, _, nodes, _ := newTestServer()
	nodes.err = fmt.Errorf("%w: node-1", types.ErrDuplicateNode)

	rec := do(t, server, http.MethodPost, "/v1/nodes", &types.Node{ID: "node-1"})
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestClusterJoinValidatesBody(t *testing.T) {
	server, _, _, _ := newTestServer()

	rec := do(t, server, http.MethodPost, "/v1/cluster/join", &clusterJoinRequest{NodeID: "m2"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, server, http.MethodPost, "/v1/cluster/join", &clusterJoinRequest{NodeID: "m2", Address: "10.0.0.3:7946"})
	assert.Equal(t, http.StatusNoContent, rec.Code)
}

func TestHealthzReportsLeadership(t *testing.T) {
	server, _, _, cluster := newTestServer()
	cluster.leader = false

	rec := do(t, server, http.MethodGet, "/healthz", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, false, body["leader"])
}
