package commands

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

var (
	// Global flags
	configPath string
	verbose    bool
)

// Execute runs the root command.
func Execute(ctx context.Context, version, commit, buildDate string) error {
	rootCmd := newRootCommand(version, commit, buildDate)
	return rootCmd.ExecuteContext(ctx)
}

func newRootCommand(version, commit, buildDate string) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "statecraft",
		Short: "Statecraft - Cluster Metadata Convergence Engine",
		Long: `Statecraft runs a serialized cluster-metadata convergence engine:
concurrent producers submit state-change tasks, a single apply loop batches
and commits them against an immutable snapshot, and an owner-gated
synchronizer retries deferred storage-system effects until the snapshot
shows their targets ready.`,
		Version: fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, buildDate),
	}

	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "statecraft.yaml", "config file path")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable verbose output")

	rootCmd.AddCommand(newRunCommand(version))
	rootCmd.AddCommand(newValidateCommand())

	return rootCmd
}
