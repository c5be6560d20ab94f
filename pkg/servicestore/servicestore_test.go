package servicestore

import (
	"context"
	"fmt"
	"testing"

	"github.com/covey-run/covey/pkg/events"
	"github.com/covey-run/covey/pkg/external"
	"github.com/covey-run/covey/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeCluster struct {
	services map[string]*types.Service
	tasks    []*types.Task
	events   []*events.Event
}

func newFakeCluster() *fakeCluster {
	return &fakeCluster{services: make(map[string]*types.Service)}
}

func (c *fakeCluster) CreateService(service *types.Service) error {
	copied := *service
	c.services[service.ID] = &copied
	return nil
}

func (c *fakeCluster) GetService(id string) (*types.Service, error) {
	service, ok := c.services[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", types.ErrUnknownService, id)
	}
	copied := *service
	return &copied, nil
}

func (c *fakeCluster) GetServiceByName(name string) (*types.Service, error) {
	for _, service := range c.services {
		if service.Name == name {
			copied := *service
			return &copied, nil
		}
	}
	return nil, fmt.Errorf("%w: %s", types.ErrUnknownService, name)
}

func (c *fakeCluster) ListServices() ([]*types.Service, error) {
	var services []*types.Service
	for _, service := range c.services {
		copied := *service
		services = append(services, &copied)
	}
	return services, nil
}

func (c *fakeCluster) UpdateService(service *types.Service) error { return c.CreateService(service) }

func (c *fakeCluster) ListTasksByService(serviceID string) ([]*types.Task, error) {
	var tasks []*types.Task
	for _, task := range c.tasks {
		if task.ServiceID == serviceID {
			tasks = append(tasks, task)
		}
	}
	return tasks, nil
}

func (c *fakeCluster) PublishEvent(event *events.Event) {
	c.events = append(c.events, event)
}

func newStore(cluster *fakeCluster) *Store {
	return New(cluster, external.LocalResolver{})
}

func validSpec() *types.Service {
	return &types.Service{
		Name:     "web",
		Image:    "nginx:1.27",
		Mode:     types.ServiceModeReplicated,
		Replicas: 3,
	}
}

func TestCreateResolvesAndDefaults(t *testing.T) {
	cluster := newFakeCluster()
	store := newStore(cluster)

	spec := validSpec()
	spec.Ports = []*types.PortMapping{{ContainerPort: 80, PublishedPort: 8080}}

	service, err := store.Create(context.Background(), spec)
	require.NoError(t, err)

	assert.NotEmpty(t, service.ID)
	assert.Contains(t, service.ResolvedImage, "nginx:1.27@sha256:")
	assert.Equal(t, types.ServiceStatusPending, service.Status)
	assert.Equal(t, uint64(1), service.Version)
	assert.Equal(t, uint64(1), service.RolloutVersion)
	assert.Equal(t, 1, service.UpdateConfig.Parallelism)
	assert.Equal(t, "tcp", service.Ports[0].Protocol)
	assert.Equal(t, types.PublishModeIngress, service.Ports[0].PublishMode)

	stored, err := cluster.GetService(service.ID)
	require.NoError(t, err)
	assert.Equal(t, service.ResolvedImage, stored.ResolvedImage)
}

func TestCreateRejectsInvalidSpecs(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*types.Service)
	}{
		{"missing name", func(s *types.Service) { s.Name = "" }},
		{"missing image", func(s *types.Service) { s.Image = "" }},
		{"unknown mode", func(s *types.Service) { s.Mode = "sharded" }},
		{"negative replicas", func(s *types.Service) { s.Replicas = -1 }},
		{"global with replicas", func(s *types.Service) {
			s.Mode = types.ServiceModeGlobal
			s.Replicas = 2
		}},
		{"bad constraint", func(s *types.Service) { s.Constraints = []string{"role>worker"} }},
		{"port out of range", func(s *types.Service) {
			s.Ports = []*types.PortMapping{{ContainerPort: 70000}}
		}},
		{"duplicate published port", func(s *types.Service) {
			s.Ports = []*types.PortMapping{
				{ContainerPort: 80, PublishedPort: 8080},
				{ContainerPort: 81, PublishedPort: 8080},
			}
		}},
		{"bad protocol", func(s *types.Service) {
			s.Ports = []*types.PortMapping{{ContainerPort: 80, Protocol: "sctp"}}
		}},
		{"http check without endpoint", func(s *types.Service) {
			s.HealthCheck = &types.HealthCheck{Type: types.HealthCheckHTTP}
		}},
		{"exec check without command", func(s *types.Service) {
			s.HealthCheck = &types.HealthCheck{Type: types.HealthCheckExec}
		}},
		{"negative cpu reservation", func(s *types.Service) {
			s.Resources = &types.ResourceRequirements{CPUReservation: -1}
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cluster := newFakeCluster()
			store := newStore(cluster)

			spec := validSpec()
			tt.mutate(spec)

			_, err := store.Create(context.Background(), spec)
			assert.ErrorIs(t, err, types.ErrInvalidSpec)
			assert.Empty(t, cluster.services, "rejected spec must not change state")
		})
	}
}

func TestCreateRejectsDuplicateName(t *testing.T) {
	cluster := newFakeCluster()
	store := newStore(cluster)

	_, err := store.Create(context.Background(), validSpec())
	require.NoError(t, err)

	_, err = store.Create(context.Background(), validSpec())
	assert.ErrorIs(t, err, types.ErrNameConflict)
}

func TestCreateHostModePortsMayShareNumbers(t *testing.T) {
	cluster := newFakeCluster()
	store := newStore(cluster)

	spec := validSpec()
	spec.Ports = []*types.PortMapping{
		{ContainerPort: 80, PublishedPort: 8080, PublishMode: types.PublishModeHost},
		{ContainerPort: 81, PublishedPort: 8080, PublishMode: types.PublishModeHost},
	}

	_, err := store.Create(context.Background(), spec)
	assert.NoError(t, err)
}

func TestUpdateBumpsVersionAndKeepsIdentity(t *testing.T) {
	cluster := newFakeCluster()
	store := newStore(cluster)

	created, err := store.Create(context.Background(), validSpec())
	require.NoError(t, err)

	spec := validSpec()
	spec.Image = "nginx:1.28"
	spec.Replicas = 5

	updated, err := store.Update(context.Background(), created.ID, spec)
	require.NoError(t, err)

	assert.Equal(t, created.ID, updated.ID)
	assert.Equal(t, created.CreatedAt, updated.CreatedAt)
	assert.Equal(t, uint64(2), updated.Version)
	assert.Equal(t, uint64(2), updated.RolloutVersion)
	assert.Equal(t, types.ServiceStatusUpdating, updated.Status)
	assert.Contains(t, updated.ResolvedImage, "nginx:1.28@sha256:")
}

func TestUpdateSameImageKeepsRolloutVersion(t *testing.T) {
	cluster := newFakeCluster()
	store := newStore(cluster)

	created, err := store.Create(context.Background(), validSpec())
	require.NoError(t, err)

	// Scaling re-submits the spec with the image unchanged. The version
	// still moves, the rollout version must not.
	spec := validSpec()
	spec.Replicas = 5

	scaled, err := store.Update(context.Background(), created.ID, spec)
	require.NoError(t, err)
	assert.Equal(t, uint64(2), scaled.Version)
	assert.Equal(t, uint64(1), scaled.RolloutVersion)
	assert.Equal(t, types.ServiceStatusPending, scaled.Status, "a scale is not a rollout")

	spec = validSpec()
	spec.Image = "nginx:1.28"

	rolled, err := store.Update(context.Background(), created.ID, spec)
	require.NoError(t, err)
	assert.Equal(t, uint64(3), rolled.Version)
	assert.Equal(t, uint64(3), rolled.RolloutVersion)
	assert.Equal(t, types.ServiceStatusUpdating, rolled.Status)
}

func TestUpdateRejectsBadSpecWithoutStateChange(t *testing.T) {
	cluster := newFakeCluster()
	store := newStore(cluster)

	created, err := store.Create(context.Background(), validSpec())
	require.NoError(t, err)

	spec := validSpec()
	spec.Replicas = -1

	_, err = store.Update(context.Background(), created.ID, spec)
	assert.ErrorIs(t, err, types.ErrInvalidSpec)

	stored, _ := cluster.GetService(created.ID)
	assert.Equal(t, uint64(1), stored.Version)
}

func TestRemoveMarksServiceRemoving(t *testing.T) {
	cluster := newFakeCluster()
	store := newStore(cluster)

	created, err := store.Create(context.Background(), validSpec())
	require.NoError(t, err)

	require.NoError(t, store.Remove(created.ID))

	stored, _ := cluster.GetService(created.ID)
	assert.True(t, stored.Removing)
	assert.Equal(t, types.ServiceStatusRemoving, stored.Status)

	// Idempotent; removing again is a no-op.
	require.NoError(t, store.Remove(created.ID))

	assert.ErrorIs(t, func() error {
		_, err := store.Update(context.Background(), created.ID, validSpec())
		return err
	}(), types.ErrUnknownService)
}

func TestInspectByIDOrName(t *testing.T) {
	cluster := newFakeCluster()
	store := newStore(cluster)

	created, err := store.Create(context.Background(), validSpec())
	require.NoError(t, err)

	byID, err := store.Inspect(created.ID)
	require.NoError(t, err)
	byName, err := store.Inspect("web")
	require.NoError(t, err)
	assert.Equal(t, byID.ID, byName.ID)

	_, err = store.Inspect("ghost")
	assert.ErrorIs(t, err, types.ErrUnknownService)
}

func TestRolloutCountsUpdatedAndStaleTasks(t *testing.T) {
	cluster := newFakeCluster()
	store := newStore(cluster)

	created, err := store.Create(context.Background(), validSpec())
	require.NoError(t, err)

	spec := validSpec()
	spec.Image = "nginx:1.28"
	updated, err := store.Update(context.Background(), created.ID, spec)
	require.NoError(t, err)

	cluster.tasks = []*types.Task{
		{ID: "t1", ServiceID: created.ID, ServiceVersion: 2, ActualState: types.TaskStateHealthy, DesiredState: types.TaskStateRunning},
		{ID: "t2", ServiceID: created.ID, ServiceVersion: 1, ActualState: types.TaskStateRunning, DesiredState: types.TaskStateRunning},
		{ID: "t3", ServiceID: created.ID, ServiceVersion: 1, ActualState: types.TaskStateRunning, DesiredState: types.TaskStateShutdown},
		{ID: "t4", ServiceID: created.ID, ServiceVersion: 1, ActualState: types.TaskStateShutdown, DesiredState: types.TaskStateShutdown},
	}

	status, err := store.Rollout(created.ID)
	require.NoError(t, err)
	assert.Equal(t, updated.Version, status.Version)
	assert.Equal(t, 3, status.Desired)
	assert.Equal(t, 1, status.Updated)
	assert.Equal(t, 1, status.Stale)
	assert.Equal(t, types.ServiceStatusUpdating, status.Status)
}
