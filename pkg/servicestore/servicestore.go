package servicestore

import (
	"context"
	"fmt"
	"time"

	"github.com/covey-run/covey/pkg/constraint"
	"github.com/covey-run/covey/pkg/events"
	"github.com/covey-run/covey/pkg/external"
	"github.com/covey-run/covey/pkg/log"
	"github.com/covey-run/covey/pkg/types"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Cluster is the slice of the manager the service store needs.
type Cluster interface {
	CreateService(service *types.Service) error
	GetService(id string) (*types.Service, error)
	GetServiceByName(name string) (*types.Service, error)
	ListServices() ([]*types.Service, error)
	UpdateService(service *types.Service) error
	ListTasksByService(serviceID string) ([]*types.Task, error)
	PublishEvent(event *events.Event)
}

// Store owns the desired-state service definitions. All mutations
// validate before touching cluster state; a rejected spec changes
// nothing.
type Store struct {
	cluster  Cluster
	resolver external.Resolver
	logger   zerolog.Logger
}

// New creates a Store
func New(cluster Cluster, resolver external.Resolver) *Store {
	return &Store{
		cluster:  cluster,
		resolver: resolver,
		logger:   log.WithComponent("servicestore"),
	}
}

// Create validates, resolves and registers a new service. The spec is
// rejected with ErrInvalidSpec before any state change; a taken name
// fails with ErrNameConflict.
func (s *Store) Create(ctx context.Context, spec *types.Service) (*types.Service, error) {
	if err := validate(spec); err != nil {
		return nil, err
	}

	if existing, err := s.cluster.GetServiceByName(spec.Name); err == nil && existing != nil {
		return nil, fmt.Errorf("%w: %s", types.ErrNameConflict, spec.Name)
	}

	desc, err := s.resolver.Resolve(ctx, spec.Image)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve image %s: %w", spec.Image, err)
	}

	now := time.Now()
	service := *spec
	service.ID = uuid.New().String()
	service.ResolvedImage = desc.Pinned()
	service.Status = types.ServiceStatusPending
	service.Version = 1
	service.RolloutVersion = 1
	service.Removing = false
	service.CreatedAt = now
	service.UpdatedAt = now
	applyDefaults(&service)

	if err := s.cluster.CreateService(&service); err != nil {
		return nil, fmt.Errorf("failed to store service: %w", err)
	}

	s.logger.Info().
		Str("service_id", service.ID).
		Str("service", service.Name).
		Str("image", service.ResolvedImage).
		Msg("service created")
	s.cluster.PublishEvent(&events.Event{
		Type:      events.EventServiceCreated,
		ServiceID: service.ID,
		Message:   fmt.Sprintf("service %s created", service.Name),
	})

	return &service, nil
}

// Update replaces a service's desired state, keeping its identity.
// Every update bumps the version; only an image change also bumps the
// rollout version, which is what makes existing tasks stale. Scaling
// or editing constraints leaves running tasks alone.
func (s *Store) Update(ctx context.Context, id string, spec *types.Service) (*types.Service, error) {
	if err := validate(spec); err != nil {
		return nil, err
	}

	current, err := s.cluster.GetService(id)
	if err != nil {
		return nil, err
	}
	if current.Removing {
		return nil, fmt.Errorf("%w: %s is being removed", types.ErrUnknownService, id)
	}
	if spec.Name != current.Name {
		if existing, err := s.cluster.GetServiceByName(spec.Name); err == nil && existing != nil {
			return nil, fmt.Errorf("%w: %s", types.ErrNameConflict, spec.Name)
		}
	}

	desc, err := s.resolver.Resolve(ctx, spec.Image)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve image %s: %w", spec.Image, err)
	}

	updated := *spec
	updated.ID = current.ID
	updated.ResolvedImage = desc.Pinned()
	updated.Status = current.Status
	updated.Version = current.Version + 1
	updated.RolloutVersion = current.RolloutVersion
	if updated.ResolvedImage != current.ResolvedImage {
		updated.Status = types.ServiceStatusUpdating
		updated.RolloutVersion = updated.Version
	}
	updated.Removing = false
	updated.CreatedAt = current.CreatedAt
	updated.UpdatedAt = time.Now()
	applyDefaults(&updated)

	if err := s.cluster.UpdateService(&updated); err != nil {
		return nil, fmt.Errorf("failed to store service: %w", err)
	}

	s.logger.Info().
		Str("service_id", updated.ID).
		Str("service", updated.Name).
		Uint64("version", updated.Version).
		Msg("service updated")
	s.cluster.PublishEvent(&events.Event{
		Type:      events.EventServiceUpdated,
		ServiceID: updated.ID,
		Message:   fmt.Sprintf("service %s updated to version %d", updated.Name, updated.Version),
	})

	return &updated, nil
}

// Remove marks a service for teardown. The entry stays visible in
// state removing until the reconciler has shut down every task, then
// it is purged.
func (s *Store) Remove(id string) error {
	service, err := s.cluster.GetService(id)
	if err != nil {
		return err
	}
	if service.Removing {
		return nil
	}

	service.Removing = true
	service.Status = types.ServiceStatusRemoving
	service.UpdatedAt = time.Now()
	if err := s.cluster.UpdateService(service); err != nil {
		return fmt.Errorf("failed to store service: %w", err)
	}

	s.logger.Info().Str("service_id", id).Str("service", service.Name).Msg("service marked for removal")
	s.cluster.PublishEvent(&events.Event{
		Type:      events.EventServiceRemoved,
		ServiceID: id,
		Message:   fmt.Sprintf("service %s marked for removal", service.Name),
	})
	return nil
}

// Inspect returns one service by ID or name.
func (s *Store) Inspect(idOrName string) (*types.Service, error) {
	if service, err := s.cluster.GetService(idOrName); err == nil {
		return service, nil
	}
	return s.cluster.GetServiceByName(idOrName)
}

// List returns all services, including those in state removing.
func (s *Store) List() ([]*types.Service, error) {
	return s.cluster.ListServices()
}

// RolloutStatus summarizes rolling update progress for a service.
type RolloutStatus struct {
	ServiceID string
	Version   uint64
	Status    types.ServiceStatus

	// Desired is the target task count; Updated counts active tasks on
	// the current image generation, Stale the active tasks still on an
	// older one.
	Desired int
	Updated int
	Stale   int
}

// Rollout reports the progress of a service's rolling update.
func (s *Store) Rollout(id string) (*RolloutStatus, error) {
	service, err := s.cluster.GetService(id)
	if err != nil {
		return nil, err
	}
	tasks, err := s.cluster.ListTasksByService(service.ID)
	if err != nil {
		return nil, err
	}

	status := &RolloutStatus{
		ServiceID: service.ID,
		Version:   service.Version,
		Status:    service.Status,
		Desired:   service.Replicas,
	}
	for _, task := range tasks {
		if !task.ActualState.Active() || task.DesiredState == types.TaskStateShutdown {
			continue
		}
		if task.ServiceVersion >= service.RolloutVersion {
			status.Updated++
		} else {
			status.Stale++
		}
	}
	if service.Mode == types.ServiceModeGlobal {
		status.Desired = status.Updated + status.Stale
	}
	return status, nil
}

// applyDefaults fills the optional knobs validation allows to be blank.
func applyDefaults(service *types.Service) {
	if service.UpdateConfig == nil {
		service.UpdateConfig = &types.UpdateConfig{}
	}
	if service.UpdateConfig.Parallelism <= 0 {
		service.UpdateConfig.Parallelism = 1
	}
	for _, port := range service.Ports {
		if port.Protocol == "" {
			port.Protocol = "tcp"
		}
		if port.PublishMode == "" {
			port.PublishMode = types.PublishModeIngress
		}
	}
	if hc := service.HealthCheck; hc != nil {
		if hc.Interval <= 0 {
			hc.Interval = 30 * time.Second
		}
		if hc.Timeout <= 0 {
			hc.Timeout = 10 * time.Second
		}
		if hc.Retries <= 0 {
			hc.Retries = 3
		}
	}
}

func validate(spec *types.Service) error {
	if spec == nil {
		return fmt.Errorf("%w: nil spec", types.ErrInvalidSpec)
	}
	if spec.Name == "" {
		return fmt.Errorf("%w: name is required", types.ErrInvalidSpec)
	}
	if spec.Image == "" {
		return fmt.Errorf("%w: image is required", types.ErrInvalidSpec)
	}

	switch spec.Mode {
	case types.ServiceModeReplicated:
		if spec.Replicas < 0 {
			return fmt.Errorf("%w: replicas must not be negative", types.ErrInvalidSpec)
		}
	case types.ServiceModeGlobal:
		if spec.Replicas != 0 {
			return fmt.Errorf("%w: a global service cannot set replicas", types.ErrInvalidSpec)
		}
	default:
		return fmt.Errorf("%w: unknown mode %q", types.ErrInvalidSpec, spec.Mode)
	}

	if _, err := constraint.Parse(spec.Constraints); err != nil {
		return fmt.Errorf("%w: %v", types.ErrInvalidSpec, err)
	}

	published := make(map[int]bool)
	for _, port := range spec.Ports {
		if port.ContainerPort < 1 || port.ContainerPort > 65535 {
			return fmt.Errorf("%w: container port %d out of range", types.ErrInvalidSpec, port.ContainerPort)
		}
		if port.PublishedPort != 0 && (port.PublishedPort < 1 || port.PublishedPort > 65535) {
			return fmt.Errorf("%w: published port %d out of range", types.ErrInvalidSpec, port.PublishedPort)
		}
		switch port.Protocol {
		case "", "tcp", "udp":
		default:
			return fmt.Errorf("%w: unknown protocol %q", types.ErrInvalidSpec, port.Protocol)
		}
		switch port.PublishMode {
		case "", types.PublishModeHost, types.PublishModeIngress:
		default:
			return fmt.Errorf("%w: unknown publish mode %q", types.ErrInvalidSpec, port.PublishMode)
		}
		if port.PublishMode != types.PublishModeHost && port.PublishedPort != 0 {
			if published[port.PublishedPort] {
				return fmt.Errorf("%w: published port %d used twice", types.ErrInvalidSpec, port.PublishedPort)
			}
			published[port.PublishedPort] = true
		}
	}

	if hc := spec.HealthCheck; hc != nil {
		switch hc.Type {
		case types.HealthCheckHTTP, types.HealthCheckTCP:
			if hc.Endpoint == "" {
				return fmt.Errorf("%w: %s health check needs an endpoint", types.ErrInvalidSpec, hc.Type)
			}
		case types.HealthCheckExec:
			if len(hc.Command) == 0 {
				return fmt.Errorf("%w: exec health check needs a command", types.ErrInvalidSpec)
			}
		default:
			return fmt.Errorf("%w: unknown health check type %q", types.ErrInvalidSpec, hc.Type)
		}
		if hc.Interval < 0 || hc.Timeout < 0 || hc.Retries < 0 {
			return fmt.Errorf("%w: health check values must not be negative", types.ErrInvalidSpec)
		}
	}

	if res := spec.Resources; res != nil {
		if res.CPUReservation < 0 || res.MemoryReservation < 0 {
			return fmt.Errorf("%w: resource reservations must not be negative", types.ErrInvalidSpec)
		}
	}

	if uc := spec.UpdateConfig; uc != nil {
		if uc.Parallelism < 0 || uc.Delay < 0 {
			return fmt.Errorf("%w: update config values must not be negative", types.ErrInvalidSpec)
		}
	}

	return nil
}
