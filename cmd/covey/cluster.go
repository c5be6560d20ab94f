package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/covey-run/covey/pkg/agent"
	"github.com/covey-run/covey/pkg/api"
	"github.com/covey-run/covey/pkg/client"
	"github.com/covey-run/covey/pkg/external"
	"github.com/covey-run/covey/pkg/ingress"
	"github.com/covey-run/covey/pkg/manager"
	"github.com/covey-run/covey/pkg/metrics"
	"github.com/covey-run/covey/pkg/reconciler"
	"github.com/covey-run/covey/pkg/registry"
	"github.com/covey-run/covey/pkg/servicestore"
	"github.com/covey-run/covey/pkg/types"
	"github.com/spf13/cobra"
)

var clusterCmd = &cobra.Command{
	Use:   "cluster",
	Short: "Manage the cluster control plane",
}

var clusterInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize a new cluster",
	Long: `Initialize a new cluster with this node as the first manager.

The manager starts in single-node mode and forms a quorum as more
managers join.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := serveConfigFromFlags(cmd)
		if err != nil {
			return err
		}
		return runManager(cfg, "")
	},
}

var clusterJoinCmd = &cobra.Command{
	Use:   "join",
	Short: "Join this node to an existing cluster as a manager",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := serveConfigFromFlags(cmd)
		if err != nil {
			return err
		}
		leader, _ := cmd.Flags().GetString("leader")
		if leader == "" {
			return fmt.Errorf("--leader is required")
		}
		return runManager(cfg, leader)
	},
}

var clusterInfoCmd = &cobra.Command{
	Use:   "info",
	Short: "Show cluster leadership and consensus state",
	RunE: func(cmd *cobra.Command, args []string) error {
		c := client.New(managerAddr(cmd))
		info, err := c.ClusterInfo(cmd.Context())
		if err != nil {
			return err
		}
		out, err := json.MarshalIndent(info, "", "  ")
		if err != nil {
			return err
		}
		fmt.Println(string(out))
		return nil
	},
}

func init() {
	clusterCmd.AddCommand(clusterInitCmd)
	clusterCmd.AddCommand(clusterJoinCmd)
	clusterCmd.AddCommand(clusterInfoCmd)

	for _, c := range []*cobra.Command{clusterInitCmd, clusterJoinCmd} {
		c.Flags().String("node-id", "", "Unique node ID (default: hostname)")
		c.Flags().String("bind-addr", "127.0.0.1:7946", "Address for cluster consensus traffic")
		c.Flags().String("api-addr", "127.0.0.1:8080", "Address for the HTTP API")
		c.Flags().String("data-dir", "./covey-data", "Data directory for cluster state")
		c.Flags().Bool("dev", false, "Run an embedded agent for single-binary development")
	}
	clusterJoinCmd.Flags().String("leader", "", "API address of the current leader")
}

type serveConfig struct {
	nodeID   string
	bindAddr string
	apiAddr  string
	dataDir  string
	dev      bool
}

func serveConfigFromFlags(cmd *cobra.Command) (serveConfig, error) {
	cfg := serveConfig{}
	cfg.nodeID, _ = cmd.Flags().GetString("node-id")
	cfg.bindAddr, _ = cmd.Flags().GetString("bind-addr")
	cfg.apiAddr, _ = cmd.Flags().GetString("api-addr")
	cfg.dataDir, _ = cmd.Flags().GetString("data-dir")
	cfg.dev, _ = cmd.Flags().GetBool("dev")

	if cfg.nodeID == "" {
		hostname, err := os.Hostname()
		if err != nil {
			return cfg, fmt.Errorf("failed to derive node ID: %w", err)
		}
		cfg.nodeID = hostname
	}
	return cfg, nil
}

// runManager wires and runs the full manager stack. With leaderAddr
// set, the node joins an existing cluster instead of bootstrapping.
func runManager(cfg serveConfig, leaderAddr string) error {
	mgr, err := manager.NewManager(&manager.Config{
		NodeID:   cfg.nodeID,
		BindAddr: cfg.bindAddr,
		DataDir:  cfg.dataDir,
	})
	if err != nil {
		return fmt.Errorf("failed to create manager: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if leaderAddr == "" {
		if err := mgr.Bootstrap(); err != nil {
			return fmt.Errorf("failed to bootstrap cluster: %w", err)
		}
		fmt.Println("✓ Cluster initialized")
	} else {
		if err := mgr.Join(); err != nil {
			return fmt.Errorf("failed to start raft: %w", err)
		}
		leader := client.New(leaderAddr)
		if err := leader.ClusterJoin(ctx, cfg.nodeID, cfg.bindAddr); err != nil {
			return fmt.Errorf("failed to join cluster: %w", err)
		}
		fmt.Println("✓ Joined cluster")
	}

	router := ingress.NewRouter()
	proxy := ingress.NewProxy(router, cfg.nodeID)
	defer proxy.Shutdown()

	recon := reconciler.New(mgr, nil, &syncedRouting{router: router, proxy: proxy}, 0)
	reg := registry.New(mgr, recon, 0)
	recon.SetLiveness(reg)

	store := servicestore.New(mgr, external.LocalResolver{})

	collector := metrics.NewCollector(mgr)
	collector.Start()
	defer collector.Stop()

	go recon.Run(ctx)

	apiServer := api.NewServer(store, reg, mgr)
	errCh := make(chan error, 1)
	go func() {
		if err := apiServer.Run(ctx, cfg.apiAddr); err != nil {
			errCh <- err
		}
	}()
	fmt.Printf("✓ API listening on %s\n", cfg.apiAddr)

	if cfg.dev {
		go runEmbeddedAgent(ctx, cfg)
		fmt.Println("✓ Embedded agent started")
	}

	fmt.Println("Manager is running. Press Ctrl+C to stop.")
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	select {
	case <-sigCh:
		fmt.Println("\nShutting down...")
	case err := <-errCh:
		fmt.Fprintf(os.Stderr, "\nError: %v\n", err)
	}

	cancel()
	if err := mgr.Shutdown(); err != nil {
		return fmt.Errorf("failed to shut down: %w", err)
	}
	fmt.Println("✓ Shutdown complete")
	return nil
}

// syncedRouting rebuilds the routing table and keeps the local proxy
// listeners in step with it.
type syncedRouting struct {
	router *ingress.Router
	proxy  *ingress.Proxy
}

func (s *syncedRouting) Rebuild(services []*types.Service, tasks []*types.Task, nodes []*types.Node) {
	s.router.Rebuild(services, tasks, nodes)
	s.proxy.Sync()
}

// runEmbeddedAgent runs an in-process agent against the local API,
// giving a complete single-binary cluster for development.
func runEmbeddedAgent(ctx context.Context, cfg serveConfig) {
	runner := agent.NewLocalRunner(external.NewMemorySink())
	a := agent.New(agent.Config{
		NodeID:  cfg.nodeID,
		Address: "127.0.0.1",
	}, client.New("http://"+cfg.apiAddr), runner, external.NewLocalCA())
	if err := a.Run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "embedded agent error: %v\n", err)
	}
}
