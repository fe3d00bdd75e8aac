package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/doromiert/zenfs/pkg/blockdev"
	"github.com/doromiert/zenfs/pkg/config"
	"github.com/doromiert/zenfs/pkg/conductor"
	"github.com/doromiert/zenfs/pkg/events"
	"github.com/doromiert/zenfs/pkg/identity"
	"github.com/doromiert/zenfs/pkg/indexer"
	"github.com/doromiert/zenfs/pkg/log"
	"github.com/doromiert/zenfs/pkg/metrics"
	"github.com/doromiert/zenfs/pkg/reconciler"
	"github.com/doromiert/zenfs/pkg/watching"
)

var agentCmd = &cobra.Command{
	Use:   "agent",
	Short: "Run the Nomad, Librarian, and Conductor together",
	Long: `agent is the long-running ZenFS core: it reconciles attached drives on a
timer, watches the system drive and every gated drive for filesystem
changes, and rebuilds the music view forest whenever a Conductor-watched
root changes. It serves Prometheus metrics and a health/readiness endpoint
until it receives SIGINT/SIGTERM.`,
	RunE: runAgent,
}

func init() {
	agentCmd.Flags().Duration("reconcile-interval", 10*time.Second, "Interval between reconciliation cycles")
	agentCmd.Flags().String("conductor-config", "", "Path to the Conductor JSON config (overrides ZENFS_CONDUCTOR_CONFIG)")
}

func runAgent(cmd *cobra.Command, args []string) error {
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

	ctx := config.NewContext(paths, broker)

	interval, _ := cmd.Flags().GetDuration("reconcile-interval")
	conductorConfigPath, _ := cmd.Flags().GetString("conductor-config")

	httpServer := startHTTPServer(paths.MetricsAddr)
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = httpServer.Shutdown(shutdownCtx)
	}()

	var wg sync.WaitGroup

	r := newReconciler(ctx)
	wg.Add(1)
	go func() {
		defer wg.Done()
		metrics.RegisterComponent("reconciler", true, "running")
		r.Run(interval)
	}()

	idx := indexer.New(ctx.Paths.ShadowDatabaseRoot, "/", ctx.Broker)

	systemDrive, err := identity.ReadSystem(ctx.Paths.SystemIdentityPath)
	if err != nil {
		log.Logger.Warn().Err(err).Msg("system drive identity unreadable, indexing system files under the fallback owner \"system\"")
	}
	systemWatch := indexer.Watch{DriveUUID: systemDrive.UUID, Root: ctx.Paths.UserNamespaceRoot}
	stopWatch, err := runWatch(idx, systemWatch)
	if err != nil {
		log.Logger.Warn().Err(err).Msg("starting system watch failed")
	} else {
		defer stopWatch()
		metrics.RegisterComponent("indexer", true, "running")
	}

	gates := newGateWatchManager(idx, ctx.Paths.RoamingGatesRoot)
	gates.discoverExisting()
	defer gates.stopAll()
	stopGateSub := gates.subscribe(ctx.Broker)
	defer stopGateSub()

	cancelConductor := runConductorLoop(ctx, conductorConfigPath, &wg)
	defer cancelConductor()
	metrics.RegisterComponent("conductor", true, "running")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	log.Logger.Info().Str("signal", sig.String()).Msg("shutting down")

	r.Stop()
	wg.Wait()
	return nil
}

func startHTTPServer(addr string) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	mux.Handle("/health", metrics.HealthHandler())
	mux.Handle("/ready", metrics.ReadyHandler())
	mux.Handle("/live", metrics.LivenessHandler())

	server := &http.Server{Addr: addr, Handler: mux}
	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Logger.Error().Err(err).Msg("metrics server failed")
		}
	}()
	log.Logger.Info().Str("addr", addr).Msg("metrics server listening")
	return server
}

func newReconciler(ctx *config.Context) *reconciler.Reconciler {
	cache, err := reconciler.OpenCache(ctx.Paths.ReconcilerCachePath)
	if err != nil {
		log.Logger.Warn().Err(err).Msg("opening reconciler cache failed, continuing without idempotence cache")
		cache = nil
	}
	return reconciler.New(reconciler.Config{
		LiveRoot:    ctx.Paths.LiveDrivesRoot,
		RoamingRoot: ctx.Paths.RoamingGatesRoot,
		Enumerator:  blockdev.NewEnumerator(),
		Mounter:     reconciler.UnixMounter{},
		Cache:       cache,
		Broker:      ctx.Broker,
	})
}

// runWatch starts the Indexer's initial scan and a live fsnotify watch over
// w, returning a stop function that cancels the watch goroutine.
func runWatch(idx *indexer.Indexer, w indexer.Watch) (func(), error) {
	if err := idx.InitialScan(w); err != nil {
		return nil, fmt.Errorf("initial scan of %s: %w", w.Root, err)
	}

	src, err := watching.NewFSNotifySource(w.Root)
	if err != nil {
		return nil, fmt.Errorf("watching %s: %w", w.Root, err)
	}

	runCtx, cancel := context.WithCancel(context.Background())
	go func() {
		if err := idx.Run(runCtx, w, src); err != nil {
			log.Logger.Error().Err(err).Str("root", w.Root).Msg("indexer watch loop exited")
		}
	}()

	return func() {
		cancel()
		_ = src.Close()
	}, nil
}

// gateWatchManager owns the per-Gate recursive watches the long-running
// agent keeps alongside the single system watch (spec §4.2.1 "one recursive
// watch per active Gate"). It discovers already-gated drives at startup and
// starts a new watch for each drive the Reconciler gates afterward.
type gateWatchManager struct {
	idx       *indexer.Indexer
	gatesRoot string

	mu     sync.Mutex
	active map[string]func()
}

func newGateWatchManager(idx *indexer.Indexer, gatesRoot string) *gateWatchManager {
	return &gateWatchManager{idx: idx, gatesRoot: gatesRoot, active: make(map[string]func())}
}

// discoverExisting starts a watch for every already-gated drive found under
// gatesRoot. Call once at agent startup.
func (m *gateWatchManager) discoverExisting() {
	m.scanAndStart()
}

// subscribe starts a goroutine that rescans gatesRoot whenever the broker
// reports a new drive connection, starting a watch for any gate that
// appeared since the last scan. The returned func stops the goroutine.
func (m *gateWatchManager) subscribe(broker *events.Broker) func() {
	sub := broker.Subscribe()
	done := make(chan struct{})
	go func() {
		for {
			select {
			case ev, ok := <-sub:
				if !ok {
					return
				}
				if ev.Type == events.EventDriveConnected {
					m.scanAndStart()
				}
			case <-done:
				return
			}
		}
	}()
	return func() {
		close(done)
		broker.Unsubscribe(sub)
	}
}

func (m *gateWatchManager) scanAndStart() {
	entries, err := os.ReadDir(m.gatesRoot)
	if err != nil {
		if !os.IsNotExist(err) {
			log.Logger.Warn().Err(err).Str("path", m.gatesRoot).Msg("listing roaming gates root failed")
		}
		return
	}

	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		gatePath := filepath.Join(m.gatesRoot, entry.Name())

		m.mu.Lock()
		_, started := m.active[gatePath]
		m.mu.Unlock()
		if started {
			continue
		}

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
		stop, err := runWatch(m.idx, w)
		if err != nil {
			log.WithGate(gatePath).Warn().Err(err).Msg("starting gate watch failed")
			continue
		}

		m.mu.Lock()
		m.active[gatePath] = stop
		m.mu.Unlock()
		log.WithGate(gatePath).Info().Str("drive", drive.UUID).Msg("gate watch started")
	}
}

// stopAll cancels every active gate watch, for clean shutdown.
func (m *gateWatchManager) stopAll() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for path, stop := range m.active {
		stop()
		delete(m.active, path)
	}
}

// runConductorLoop rebuilds the Conductor-managed view forest once at
// startup and again every time the configured source directory's content
// changes, per spec §4.3 ("invoked ... on a timer or on a filesystem event
// under source_dir").
func runConductorLoop(ctx *config.Context, conductorConfigPath string, wg *sync.WaitGroup) func() {
	cfg, err := config.LoadConductorConfig(conductorConfigPath)
	if err != nil {
		log.Logger.Warn().Err(err).Msg("no conductor config available, conductor disabled")
		return func() {}
	}

	c := conductor.New(conductor.Config{
		SourceDir:    cfg.Music.UnsortedDir,
		ViewDir:      cfg.Music.MusicDir,
		SplitSymbols: cfg.Music.SplitSymbols,
		Broker:       ctx.Broker,
	})

	if err := c.Run(); err != nil {
		log.Logger.Error().Err(err).Msg("initial conductor run failed")
	}

	src, err := watching.NewFSNotifySource(cfg.Music.UnsortedDir)
	if err != nil {
		log.Logger.Warn().Err(err).Msg("watching conductor source dir failed, running once only")
		return func() {}
	}

	runCtx, cancel := context.WithCancel(context.Background())
	wg.Add(1)
	go func() {
		defer wg.Done()
		debounce := time.NewTimer(0)
		if !debounce.Stop() {
			<-debounce.C
		}
		for {
			select {
			case <-runCtx.Done():
				return
			case _, ok := <-src.Events():
				if !ok {
					return
				}
				debounce.Reset(2 * time.Second)
			case <-debounce.C:
				if err := c.Run(); err != nil {
					log.Logger.Error().Err(err).Msg("conductor run failed")
				}
			}
		}
	}()

	return func() {
		cancel()
		_ = src.Close()
	}
}
