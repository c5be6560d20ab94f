package main

import (
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/covey-run/covey/pkg/client"
	"github.com/spf13/cobra"
)

var taskCmd = &cobra.Command{
	Use:   "task",
	Short: "Inspect tasks",
}

var taskListCmd = &cobra.Command{
	Use:   "list",
	Short: "List all tasks in the cluster",
	RunE: func(cmd *cobra.Command, args []string) error {
		c := client.New(managerAddr(cmd))
		tasks, err := c.ListTasks(cmd.Context())
		if err != nil {
			return err
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "TASK\tSERVICE\tNODE\tDESIRED\tACTUAL\tCREATED")
		for _, task := range tasks {
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
				task.ID[:8], task.ServiceID, task.NodeID,
				task.DesiredState, task.ActualState,
				task.CreatedAt.Format(time.RFC3339))
		}
		return w.Flush()
	},
}

var taskInspectCmd = &cobra.Command{
	Use:   "inspect TASK",
	Short: "Show a task",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c := client.New(managerAddr(cmd))
		tasks, err := c.ListTasks(cmd.Context())
		if err != nil {
			return err
		}

		for _, task := range tasks {
			if task.ID != args[0] && !matchesPrefix(task.ID, args[0]) {
				continue
			}
			fmt.Printf("ID:        %s\n", task.ID)
			fmt.Printf("Service:   %s\n", task.ServiceID)
			fmt.Printf("Node:      %s\n", task.NodeID)
			fmt.Printf("Image:     %s\n", task.Image)
			fmt.Printf("Desired:   %s\n", task.DesiredState)
			fmt.Printf("Actual:    %s\n", task.ActualState)
			fmt.Printf("Version:   %d\n", task.ServiceVersion)
			fmt.Printf("Created:   %s\n", task.CreatedAt.Format(time.RFC3339))
			if !task.StartedAt.IsZero() {
				fmt.Printf("Started:   %s\n", task.StartedAt.Format(time.RFC3339))
			}
			if !task.FinishedAt.IsZero() {
				fmt.Printf("Finished:  %s (exit %d)\n",
					task.FinishedAt.Format(time.RFC3339), task.ExitCode)
			}
			if task.Error != "" {
				fmt.Printf("Error:     %s\n", task.Error)
			}
			return nil
		}
		return fmt.Errorf("task not found: %s", args[0])
	},
}

func matchesPrefix(id, prefix string) bool {
	return len(prefix) >= 8 && len(id) >= len(prefix) && id[:len(prefix)] == prefix
}

func init() {
	taskCmd.AddCommand(taskListCmd)
	taskCmd.AddCommand(taskInspectCmd)
}
