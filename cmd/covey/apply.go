package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/covey-run/covey/pkg/client"
	"github.com/covey-run/covey/pkg/types"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

var applyCmd = &cobra.Command{
	Use:   "apply",
	Short: "Apply a configuration file",
	Long: `Apply a service definition from a YAML file, creating the
service if it does not exist and updating it otherwise.

Examples:
  # Apply a service definition
  covey apply -f service.yaml

  # Apply several definitions from one multi-document file
  covey apply -f stack.yaml`,
	RunE: runApply,
}

func init() {
	applyCmd.Flags().StringP("file", "f", "", "YAML file to apply (required)")
	_ = applyCmd.MarkFlagRequired("file")
}

// manifest is the on-disk resource envelope.
type manifest struct {
	APIVersion string           `yaml:"apiVersion"`
	Kind       string           `yaml:"kind"`
	Metadata   manifestMetadata `yaml:"metadata"`
	Spec       serviceSpec      `yaml:"spec"`
}

type manifestMetadata struct {
	Name string `yaml:"name"`
}

type serviceSpec struct {
	Image       string        `yaml:"image"`
	Mode        string        `yaml:"mode,omitempty"`
	Replicas    int           `yaml:"replicas,omitempty"`
	Constraints []string      `yaml:"constraints,omitempty"`
	Ports       []portSpec    `yaml:"ports,omitempty"`
	Resources   *resourceSpec `yaml:"resources,omitempty"`
	Update      *updateSpec   `yaml:"update,omitempty"`
	HealthCheck *healthSpec   `yaml:"healthCheck,omitempty"`
}

type portSpec struct {
	Published int    `yaml:"published"`
	Target    int    `yaml:"target"`
	Protocol  string `yaml:"protocol,omitempty"`
	Mode      string `yaml:"mode,omitempty"`
}

type resourceSpec struct {
	CPU    float64 `yaml:"cpu,omitempty"`
	Memory int64   `yaml:"memory,omitempty"`
}

type updateSpec struct {
	Parallelism int      `yaml:"parallelism,omitempty"`
	Delay       duration `yaml:"delay,omitempty"`
}

type healthSpec struct {
	Type     string   `yaml:"type"`
	Endpoint string   `yaml:"endpoint,omitempty"`
	Command  []string `yaml:"command,omitempty"`
	Interval duration `yaml:"interval,omitempty"`
	Timeout  duration `yaml:"timeout,omitempty"`
	Retries  int      `yaml:"retries,omitempty"`
}

// duration accepts Go duration strings ("30s", "1m") in manifests.
type duration time.Duration

func (d *duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	*d = duration(parsed)
	return nil
}

func runApply(cmd *cobra.Command, args []string) error {
	filename, _ := cmd.Flags().GetString("file")

	f, err := os.Open(filename)
	if err != nil {
		return fmt.Errorf("failed to read file: %w", err)
	}
	defer f.Close()

	c := client.New(managerAddr(cmd))
	dec := yaml.NewDecoder(f)
	for {
		var m manifest
		if err := dec.Decode(&m); err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return fmt.Errorf("failed to parse YAML: %w", err)
		}
		if err := applyManifest(cmd, c, &m); err != nil {
			return err
		}
	}
}

func applyManifest(cmd *cobra.Command, c *client.Client, m *manifest) error {
	if m.Kind != "Service" {
		return fmt.Errorf("unsupported resource kind: %s", m.Kind)
	}
	if m.Metadata.Name == "" {
		return fmt.Errorf("metadata.name is required")
	}

	spec := serviceFromManifest(m)

	existing, err := c.InspectService(cmd.Context(), m.Metadata.Name)
	switch {
	case err == nil:
		updated, err := c.UpdateService(cmd.Context(), existing.ID, spec)
		if err != nil {
			return fmt.Errorf("failed to update service %s: %w", m.Metadata.Name, err)
		}
		fmt.Printf("✓ Service updated: %s (version %d)\n", updated.Name, updated.Version)
	case errors.Is(err, client.ErrNotFound):
		created, err := c.CreateService(cmd.Context(), spec)
		if err != nil {
			return fmt.Errorf("failed to create service %s: %w", m.Metadata.Name, err)
		}
		fmt.Printf("✓ Service created: %s (%s)\n", created.Name, created.ID)
	default:
		return err
	}
	return nil
}

func serviceFromManifest(m *manifest) *types.Service {
	spec := &types.Service{
		Name:        m.Metadata.Name,
		Image:       m.Spec.Image,
		Mode:        types.ServiceModeReplicated,
		Replicas:    m.Spec.Replicas,
		Constraints: m.Spec.Constraints,
	}
	if m.Spec.Mode == string(types.ServiceModeGlobal) {
		spec.Mode = types.ServiceModeGlobal
		spec.Replicas = 0
	} else if spec.Replicas == 0 {
		spec.Replicas = 1
	}

	for _, p := range m.Spec.Ports {
		port := &types.PortMapping{
			PublishedPort: p.Published,
			ContainerPort: p.Target,
			Protocol:      p.Protocol,
			PublishMode:   types.PublishMode(p.Mode),
		}
		if port.Protocol == "" {
			port.Protocol = "tcp"
		}
		if port.PublishMode == "" {
			port.PublishMode = types.PublishModeIngress
		}
		spec.Ports = append(spec.Ports, port)
	}
	if m.Spec.Resources != nil {
		spec.Resources = &types.ResourceRequirements{
			CPUReservation:    m.Spec.Resources.CPU,
			MemoryReservation: m.Spec.Resources.Memory,
		}
	}
	if m.Spec.Update != nil {
		spec.UpdateConfig = &types.UpdateConfig{
			Parallelism: m.Spec.Update.Parallelism,
			Delay:       time.Duration(m.Spec.Update.Delay),
		}
	}
	if m.Spec.HealthCheck != nil {
		spec.HealthCheck = &types.HealthCheck{
			Type:     types.HealthCheckType(m.Spec.HealthCheck.Type),
			Endpoint: m.Spec.HealthCheck.Endpoint,
			Command:  m.Spec.HealthCheck.Command,
			Interval: time.Duration(m.Spec.HealthCheck.Interval),
			Timeout:  time.Duration(m.Spec.HealthCheck.Timeout),
			Retries:  m.Spec.HealthCheck.Retries,
		}
	}
	return spec
}
