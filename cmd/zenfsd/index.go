package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/doromiert/zenfs/pkg/config"
	"github.com/doromiert/zenfs/pkg/events"
	"github.com/doromiert/zenfs/pkg/identity"
	"github.com/doromiert/zenfs/pkg/indexer"
	"github.com/doromiert/zenfs/pkg/log"
)

var indexCmd = &cobra.Command{
	Use:   "index",
	Short: "Run a single Librarian initial scan over the system drive and every gate, then exit",
	Long: `index walks the system drive's user-home area and every currently-gated
drive under the roaming gates root, syncing every file it finds into the
shadow database and projecting eligible files into the user namespace. It
does not watch for further changes; use "agent" for that.`,
	RunE: runIndexOnce,
}

func runIndexOnce(cmd *cobra.Command, args []string) error {
	paths, err := config.LoadPaths()
	if err != nil {
		return fmt.Errorf("resolving paths: %v", err)
	}

	// Per spec, the only fatal error in the whole system is inability to
	// create the shadow-database root at startup.
	if err := os.MkdirAll(paths.ShadowDatabaseRoot, config.ShadowDatabaseDirMode); err != nil {
		log.Logger.Fatal().Err(err).Str("path", paths.ShadowDatabaseRoot).Msg("creating shadow database root failed")
	}

	broker := events.NewBroker()
	broker.Start()
	defer broker.Stop()

	idx := indexer.New(paths.ShadowDatabaseRoot, "/", broker)

	systemDrive, err := identity.ReadSystem(paths.SystemIdentityPath)
	if err != nil {
		log.Logger.Warn().Err(err).Msg("system drive identity unreadable, indexing system files under the fallback owner \"system\"")
	}
	systemWatch := indexer.Watch{DriveUUID: systemDrive.UUID, Root: paths.UserNamespaceRoot}
	if err := idx.InitialScan(systemWatch); err != nil {
		return fmt.Errorf("scanning system drive: %w", err)
	}

	entries, err := os.ReadDir(paths.RoamingGatesRoot)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("listing roaming gates root %s: %w", paths.RoamingGatesRoot, err)
	}

	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		gatePath := filepath.Join(paths.RoamingGatesRoot, entry.Name())
		drive, err := identity.Read(gatePath)
		if err != nil {
			continue
		}
		w := indexer.Watch{
			DriveUUID:         drive.UUID,
			Root:              gatePath,
			Roaming:           true,
			LocalDatabaseRoot: filepath.Join(gatePath, "System", "ZenFS", "Database"),
		}
		if err := idx.InitialScan(w); err != nil {
			return fmt.Errorf("scanning gate %s: %w", gatePath, err)
		}
	}
	return nil
}
