package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/covey-run/covey/pkg/agent"
	"github.com/covey-run/covey/pkg/client"
	"github.com/covey-run/covey/pkg/external"
	"github.com/covey-run/covey/pkg/log"
	"github.com/covey-run/covey/pkg/types"
	"github.com/spf13/cobra"
)

var agentCmd = &cobra.Command{
	Use:   "agent",
	Short: "Run a worker agent",
	Long: `Run a worker agent that registers with a manager, pulls task
assignments, and reports task state through heartbeats.`,
	RunE: runAgent,
}

func init() {
	agentCmd.Flags().String("node-id", "", "Node ID (default: hostname)")
	agentCmd.Flags().String("address", "127.0.0.1", "Address this node is reachable at")
	agentCmd.Flags().StringArray("label", nil, "Node label, KEY=VALUE")
	agentCmd.Flags().Float64("cpu", 4, "CPU capacity in cores")
	agentCmd.Flags().Int64("memory", 8<<30, "Memory capacity in bytes")
}

func runAgent(cmd *cobra.Command, args []string) error {
	nodeID, _ := cmd.Flags().GetString("node-id")
	address, _ := cmd.Flags().GetString("address")
	labelFlags, _ := cmd.Flags().GetStringArray("label")
	cpu, _ := cmd.Flags().GetFloat64("cpu")
	memory, _ := cmd.Flags().GetInt64("memory")

	labels := make(map[string]string, len(labelFlags))
	for _, l := range labelFlags {
		parts := strings.SplitN(l, "=", 2)
		if len(parts) != 2 || parts[0] == "" {
			return fmt.Errorf("invalid label %q, expected KEY=VALUE", l)
		}
		labels[parts[0]] = parts[1]
	}

	cfg := agent.Config{
		NodeID:  nodeID,
		Address: address,
		Labels:  labels,
		Resources: &types.NodeResources{
			CPUCores:    cpu,
			MemoryBytes: memory,
		},
	}

	manager := client.New(managerAddr(cmd))
	runner := agent.NewLocalRunner(external.NewMemorySink())
	a := agent.New(cfg, manager, runner, external.NewLocalCA())

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		log.Info("Shutting down agent")
		cancel()
	}()

	log.Logger.Info().
		Str("node_id", cfg.NodeID).
		Str("manager", managerAddr(cmd)).
		Msg("Starting agent")
	return a.Run(ctx)
}
