package main

import (
	"fmt"
	"os"

	"github.com/covey-run/covey/pkg/log"
	"github.com/spf13/cobra"
)

var (
	// Version information (set via ldflags during build)
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "covey",
	Short: "Covey - lightweight service orchestrator",
	Long: `Covey schedules replicated and global services across a cluster
of nodes, keeps them converged on the declared state and routes
ingress traffic to healthy tasks.`,
	Version: Version,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		levelName, _ := cmd.Flags().GetString("log-level")
		jsonOut, _ := cmd.Flags().GetBool("log-json")
		log.Init(log.Config{Level: log.Level(levelName), JSONOutput: jsonOut})
	},
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf(
		"Covey version %s\nCommit: %s\nBuilt: %s\n",
		Version, Commit, BuildTime,
	))

	rootCmd.PersistentFlags().String("manager", "http://127.0.0.1:8080", "Manager API address")
	rootCmd.PersistentFlags().String("log-level", "info", "Log level (debug|info|warn|error)")
	rootCmd.PersistentFlags().Bool("log-json", false, "Emit JSON logs")

	rootCmd.AddCommand(clusterCmd)
	rootCmd.AddCommand(serviceCmd)
	rootCmd.AddCommand(nodeCmd)
	rootCmd.AddCommand(taskCmd)
	rootCmd.AddCommand(agentCmd)
	rootCmd.AddCommand(applyCmd)
}

func managerAddr(cmd *cobra.Command) string {
	addr, _ := cmd.Flags().GetString("manager")
	return addr
}
