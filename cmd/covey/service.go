package main

import (
	"fmt"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/covey-run/covey/pkg/client"
	"github.com/covey-run/covey/pkg/types"
	"github.com/spf13/cobra"
)

var serviceCmd = &cobra.Command{
	Use:   "service",
	Short: "Manage services",
}

var serviceCreateCmd = &cobra.Command{
	Use:   "create NAME",
	Short: "Create a new service",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		spec, err := specFromFlags(cmd, args[0])
		if err != nil {
			return err
		}
		c := client.New(managerAddr(cmd))
		service, err := c.CreateService(cmd.Context(), spec)
		if err != nil {
			return err
		}
		fmt.Printf("✓ Service created: %s (%s)\n", service.Name, service.ID)
		return nil
	},
}

var serviceUpdateCmd = &cobra.Command{
	Use:   "update NAME",
	Short: "Update a service, triggering a rolling update",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c := client.New(managerAddr(cmd))
		current, err := c.InspectService(cmd.Context(), args[0])
		if err != nil {
			return err
		}

		spec, err := specFromFlags(cmd, current.Name)
		if err != nil {
			return err
		}
		// Unset flags keep their current values.
		if !cmd.Flags().Changed("image") {
			spec.Image = current.Image
		}
		if !cmd.Flags().Changed("global") {
			spec.Mode = current.Mode
		}
		if !cmd.Flags().Changed("replicas") {
			spec.Replicas = current.Replicas
		}
		if spec.Mode == types.ServiceModeGlobal {
			spec.Replicas = 0
		}
		if !cmd.Flags().Changed("constraint") {
			spec.Constraints = current.Constraints
		}

		service, err := c.UpdateService(cmd.Context(), current.ID, spec)
		if err != nil {
			return err
		}
		fmt.Printf("✓ Service updated: %s (version %d)\n", service.Name, service.Version)
		return nil
	},
}

var serviceScaleCmd = &cobra.Command{
	Use:   "scale NAME=REPLICAS",
	Short: "Scale a replicated service",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		parts := strings.SplitN(args[0], "=", 2)
		if len(parts) != 2 {
			return fmt.Errorf("expected NAME=REPLICAS")
		}
		var replicas int
		if _, err := fmt.Sscanf(parts[1], "%d", &replicas); err != nil {
			return fmt.Errorf("invalid replica count %q", parts[1])
		}

		c := client.New(managerAddr(cmd))
		current, err := c.InspectService(cmd.Context(), parts[0])
		if err != nil {
			return err
		}
		spec := *current
		spec.Replicas = replicas

		service, err := c.UpdateService(cmd.Context(), current.ID, &spec)
		if err != nil {
			return err
		}
		fmt.Printf("✓ Service scaled: %s -> %d replicas\n", service.Name, replicas)
		return nil
	},
}

var serviceListCmd = &cobra.Command{
	Use:   "list",
	Short: "List services",
	RunE: func(cmd *cobra.Command, args []string) error {
		c := client.New(managerAddr(cmd))
		services, err := c.ListServices(cmd.Context())
		if err != nil {
			return err
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "NAME\tMODE\tREPLICAS\tIMAGE\tSTATUS")
		for _, service := range services {
			replicas := fmt.Sprintf("%d", service.Replicas)
			if service.Mode == types.ServiceModeGlobal {
				replicas = "global"
			}
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
				service.Name, service.Mode, replicas, service.Image, service.Status)
		}
		return w.Flush()
	},
}

var serviceInspectCmd = &cobra.Command{
	Use:   "inspect NAME",
	Short: "Show a service and its tasks",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c := client.New(managerAddr(cmd))
		service, err := c.InspectService(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		tasks, err := c.ListServiceTasks(cmd.Context(), service.ID)
		if err != nil {
			return err
		}

		fmt.Printf("Name:     %s\n", service.Name)
		fmt.Printf("ID:       %s\n", service.ID)
		fmt.Printf("Mode:     %s\n", service.Mode)
		fmt.Printf("Image:    %s\n", service.ResolvedImage)
		fmt.Printf("Status:   %s\n", service.Status)
		fmt.Printf("Version:  %d\n", service.Version)
		if len(service.Constraints) > 0 {
			fmt.Printf("Constraints: %s\n", strings.Join(service.Constraints, ", "))
		}
		fmt.Println()

		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "TASK\tNODE\tDESIRED\tACTUAL\tCREATED")
		for _, task := range tasks {
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
				task.ID[:8], task.NodeID, task.DesiredState, task.ActualState,
				task.CreatedAt.Format(time.RFC3339))
		}
		return w.Flush()
	},
}

var serviceRemoveCmd = &cobra.Command{
	Use:   "remove NAME",
	Short: "Remove a service",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c := client.New(managerAddr(cmd))
		service, err := c.InspectService(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		if err := c.RemoveService(cmd.Context(), service.ID); err != nil {
			return err
		}
		fmt.Printf("✓ Service removal started: %s\n", service.Name)
		return nil
	},
}

var serviceRolloutCmd = &cobra.Command{
	Use:   "rollout NAME",
	Short: "Show rolling update progress",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c := client.New(managerAddr(cmd))
		service, err := c.InspectService(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		status, err := c.RolloutStatus(cmd.Context(), service.ID)
		if err != nil {
			return err
		}
		fmt.Printf("Service:  %s\n", service.Name)
		fmt.Printf("Version:  %d\n", status.Version)
		fmt.Printf("Status:   %s\n", status.Status)
		fmt.Printf("Updated:  %d/%d (stale %d)\n", status.Updated, status.Desired, status.Stale)
		return nil
	},
}

func init() {
	serviceCmd.AddCommand(serviceCreateCmd)
	serviceCmd.AddCommand(serviceUpdateCmd)
	serviceCmd.AddCommand(serviceScaleCmd)
	serviceCmd.AddCommand(serviceListCmd)
	serviceCmd.AddCommand(serviceInspectCmd)
	serviceCmd.AddCommand(serviceRemoveCmd)
	serviceCmd.AddCommand(serviceRolloutCmd)

	for _, c := range []*cobra.Command{serviceCreateCmd, serviceUpdateCmd} {
		c.Flags().String("image", "", "Workload image reference")
		c.Flags().Int("replicas", 1, "Number of replicas")
		c.Flags().Bool("global", false, "Run one task on every eligible node")
		c.Flags().StringArray("constraint", nil, "Placement constraint, e.g. role==worker")
		c.Flags().StringArray("publish", nil, "Port to publish, PUBLISHED:TARGET[/MODE]")
		c.Flags().Float64("cpu", 0, "CPU reservation in cores")
		c.Flags().Int64("memory", 0, "Memory reservation in bytes")
		c.Flags().Int("update-parallelism", 1, "Tasks replaced per rolling update batch")
		c.Flags().Duration("update-delay", 0, "Pause between rolling update batches")
		c.Flags().String("health-endpoint", "", "HTTP health check endpoint")
	}
	_ = serviceCreateCmd.MarkFlagRequired("image")
}

func specFromFlags(cmd *cobra.Command, name string) (*types.Service, error) {
	image, _ := cmd.Flags().GetString("image")
	replicas, _ := cmd.Flags().GetInt("replicas")
	global, _ := cmd.Flags().GetBool("global")
	constraints, _ := cmd.Flags().GetStringArray("constraint")
	publishes, _ := cmd.Flags().GetStringArray("publish")
	cpu, _ := cmd.Flags().GetFloat64("cpu")
	memory, _ := cmd.Flags().GetInt64("memory")
	parallelism, _ := cmd.Flags().GetInt("update-parallelism")
	delay, _ := cmd.Flags().GetDuration("update-delay")
	healthEndpoint, _ := cmd.Flags().GetString("health-endpoint")

	spec := &types.Service{
		Name:        name,
		Image:       image,
		Mode:        types.ServiceModeReplicated,
		Replicas:    replicas,
		Constraints: constraints,
		UpdateConfig: &types.UpdateConfig{
			Parallelism: parallelism,
			Delay:       delay,
		},
	}
	if global {
		spec.Mode = types.ServiceModeGlobal
		spec.Replicas = 0
	}
	if cpu > 0 || memory > 0 {
		spec.Resources = &types.ResourceRequirements{
			CPUReservation:    cpu,
			MemoryReservation: memory,
		}
	}
	if healthEndpoint != "" {
		spec.HealthCheck = &types.HealthCheck{
			Type:     types.HealthCheckHTTP,
			Endpoint: healthEndpoint,
		}
	}

	for _, publish := range publishes {
		port, err := parsePublish(publish)
		if err != nil {
			return nil, err
		}
		spec.Ports = append(spec.Ports, port)
	}
	return spec, nil
}

// parsePublish parses PUBLISHED:TARGET[/MODE], e.g. 8080:80/ingress.
func parsePublish(s string) (*types.PortMapping, error) {
	mode := types.PublishModeIngress
	if idx := strings.IndexByte(s, '/'); idx != -1 {
		switch s[idx+1:] {
		case "host":
			mode = types.PublishModeHost
		case "ingress":
		default:
			return nil, fmt.Errorf("unknown publish mode %q", s[idx+1:])
		}
		s = s[:idx]
	}

	var published, target int
	if _, err := fmt.Sscanf(s, "%d:%d", &published, &target); err != nil {
		return nil, fmt.Errorf("invalid publish spec %q, expected PUBLISHED:TARGET", s)
	}
	return &types.PortMapping{
		PublishedPort: published,
		ContainerPort: target,
		Protocol:      "tcp",
		PublishMode:   mode,
	}, nil
}
