package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/doromiert/zenfs/pkg/log"
	"github.com/doromiert/zenfs/pkg/metrics"
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
	Use:   "zenfsd",
	Short: "ZenFS - disk-identity-aware storage fabric",
	Long: `zenfsd runs the ZenFS core: the Nomad reconciles attached drives into
live mounts and gates, the Librarian maintains the shadow database and
user-namespace projections, and the Conductor rebuilds the Artists/Years/
Genres/OSTs symlink forest from audio tags.

Run "zenfsd agent" to run all three together, or a single subcommand for
scripted/cron invocation of one component.`,
	Version: Version,
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf(
		"zenfsd version %s\nCommit: %s\nBuilt: %s\n",
		Version, Commit, BuildTime,
	))

	rootCmd.PersistentFlags().String("log-level", "info", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().Bool("log-json", false, "Output logs in JSON format")

	cobra.OnInitialize(initLogging)

	rootCmd.AddCommand(agentCmd)
	rootCmd.AddCommand(reconcileCmd)
	rootCmd.AddCommand(indexCmd)
	rootCmd.AddCommand(conductCmd)
}

func initLogging() {
	logLevel, _ := rootCmd.PersistentFlags().GetString("log-level")
	logJSON, _ := rootCmd.PersistentFlags().GetBool("log-json")

	log.Init(log.Config{
		Level:      log.Level(logLevel),
		JSONOutput: logJSON,
	})
	metrics.SetVersion(Version)
}
