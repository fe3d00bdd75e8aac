package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/doromiert/zenfs/pkg/config"
	"github.com/doromiert/zenfs/pkg/events"
)

var reconcileCmd = &cobra.Command{
	Use:   "reconcile",
	Short: "Run a single Nomad reconciliation cycle and exit",
	Long: `reconcile enumerates attached block devices, mounts and gates any
identified drive that isn't already mounted, and removes gates whose backing
device is gone. Intended for cron or manual invocation outside of "agent".`,
	RunE: runReconcileOnce,
}

func runReconcileOnce(cmd *cobra.Command, args []string) error {
	paths, err := config.LoadPaths()
	if err != nil {
		return fmt.Errorf("resolving paths: %v", err)
	}

	broker := events.NewBroker()
	broker.Start()
	defer broker.Stop()

	ctx := config.NewContext(paths, broker)
	r := newReconciler(ctx)
	return r.Reconcile()
}
