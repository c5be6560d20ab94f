package main

import (
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/covey-run/covey/pkg/client"
	"github.com/spf13/cobra"
)

var nodeCmd = &cobra.Command{
	Use:   "node",
	Short: "Manage cluster nodes",
}

var nodeListCmd = &cobra.Command{
	Use:   "list",
	Short: "List nodes",
	RunE: func(cmd *cobra.Command, args []string) error {
		c := client.New(managerAddr(cmd))
		nodes, err := c.ListNodes(cmd.Context())
		if err != nil {
			return err
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tADDRESS\tROLE\tSTATUS\tLAST HEARTBEAT")
		for _, node := range nodes {
			heartbeat := "never"
			if !node.LastHeartbeat.IsZero() {
				heartbeat = time.Since(node.LastHeartbeat).Round(time.Second).String() + " ago"
			}
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
				node.ID, node.Address, node.Role, node.Status, heartbeat)
		}
		return w.Flush()
	},
}

var nodeInspectCmd = &cobra.Command{
	Use:   "inspect NODE",
	Short: "Show a node and its tasks",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c := client.New(managerAddr(cmd))
		node, err := c.GetNode(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		tasks, err := c.NodeTasks(cmd.Context(), node.ID)
		if err != nil {
			return err
		}

		fmt.Printf("ID:       %s\n", node.ID)
		fmt.Printf("Address:  %s\n", node.Address)
		fmt.Printf("Role:     %s\n", node.Role)
		fmt.Printf("Status:   %s\n", node.Status)
		if len(node.Labels) > 0 {
			fmt.Println("Labels:")
			for k, v := range node.Labels {
				fmt.Printf("  %s=%s\n", k, v)
			}
		}
		if node.Resources != nil {
			fmt.Printf("CPU:      %.1f cores (%.1f allocated)\n",
				node.Resources.CPUCores, node.Resources.CPUAllocated)
			fmt.Printf("Memory:   %d bytes (%d allocated)\n",
				node.Resources.MemoryBytes, node.Resources.MemoryAllocated)
		}
		fmt.Println()

		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "TASK\tSERVICE\tDESIRED\tACTUAL")
		for _, task := range tasks {
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\n",
				task.ID[:8], task.ServiceID, task.DesiredState, task.ActualState)
		}
		return w.Flush()
	},
}

var nodeDrainCmd = &cobra.Command{
	Use:   "drain NODE",
	Short: "Drain a node so its tasks are rescheduled elsewhere",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c := client.New(managerAddr(cmd))
		if err := c.DrainNode(cmd.Context(), args[0]); err != nil {
			return err
		}
		fmt.Printf("✓ Node draining: %s\n", args[0])
		return nil
	},
}

var nodeActivateCmd = &cobra.Command{
	Use:   "activate NODE",
	Short: "Return a drained node to service",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c := client.New(managerAddr(cmd))
		if err := c.ActivateNode(cmd.Context(), args[0]); err != nil {
			return err
		}
		fmt.Printf("✓ Node activated: %s\n", args[0])
		return nil
	},
}

var nodePromoteCmd = &cobra.Command{
	Use:   "promote NODE",
	Short: "Promote a worker to manager",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c := client.New(managerAddr(cmd))
		if err := c.PromoteNode(cmd.Context(), args[0]); err != nil {
			return err
		}
		fmt.Printf("✓ Node promoted: %s\n", args[0])
		return nil
	},
}

var nodeDemoteCmd = &cobra.Command{
	Use:   "demote NODE",
	Short: "Demote a manager to worker",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c := client.New(managerAddr(cmd))
		if err := c.DemoteNode(cmd.Context(), args[0]); err != nil {
			return err
		}
		fmt.Printf("✓ Node demoted: %s\n", args[0])
		return nil
	},
}

var nodeRemoveCmd = &cobra.Command{
	Use:     "remove NODE",
	Aliases: []string{"rm"},
	Short:   "Remove a node from the cluster",
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c := client.New(managerAddr(cmd))
		if err := c.LeaveNode(cmd.Context(), args[0]); err != nil {
			return err
		}
		fmt.Printf("✓ Node removed: %s\n", args[0])
		return nil
	},
}

func init() {
	nodeCmd.AddCommand(nodeListCmd)
	nodeCmd.AddCommand(nodeInspectCmd)
	nodeCmd.AddCommand(nodeDrainCmd)
	nodeCmd.AddCommand(nodeActivateCmd)
	nodeCmd.AddCommand(nodePromoteCmd)
	nodeCmd.AddCommand(nodeDemoteCmd)
	nodeCmd.AddCommand(nodeRemoveCmd)
}
