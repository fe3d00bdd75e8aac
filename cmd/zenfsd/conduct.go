package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/doromiert/zenfs/pkg/conductor"
	"github.com/doromiert/zenfs/pkg/config"
	"github.com/doromiert/zenfs/pkg/events"
)

var conductCmd = &cobra.Command{
	Use:   "conduct",
	Short: "Run a single Conductor hot-swap rebuild and exit",
	Long: `conduct reads every audio file under the configured unsorted_dir, groups
it by artist, year, genre, and soundtrack heuristic, and atomically publishes
the result under music_dir. Intended for cron or manual invocation outside of
"agent".`,
	RunE: runConductOnce,
}

func init() {
	conductCmd.Flags().String("conductor-config", "", "Path to the Conductor JSON config (overrides ZENFS_CONDUCTOR_CONFIG)")
}

func runConductOnce(cmd *cobra.Command, args []string) error {
	configPath, _ := cmd.Flags().GetString("conductor-config")
	cfg, err := config.LoadConductorConfig(configPath)
	if err != nil {
		return fmt.Errorf("loading conductor config: %v", err)
	}

	broker := events.NewBroker()
	broker.Start()
	defer broker.Stop()

	c := conductor.New(conductor.Config{
		SourceDir:    cfg.Music.UnsortedDir,
		ViewDir:      cfg.Music.MusicDir,
		SplitSymbols: cfg.Music.SplitSymbols,
		Broker:       broker,
	})
	return c.Run()
}
