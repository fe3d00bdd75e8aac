// Package reconciler implements the Nomad: it brings the observed mount
// topology into alignment with the declared model, one cycle at a time
// (spec §4.1). Every attached, identified drive gets a live mount plus a
// Gate; every Gate whose backing device vanished gets cleaned up.
package reconciler

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/doromiert/zenfs/pkg/blockdev"
	"github.com/doromiert/zenfs/pkg/events"
	"github.com/doromiert/zenfs/pkg/identity"
	"github.com/doromiert/zenfs/pkg/log"
	"github.com/doromiert/zenfs/pkg/metrics"
	"github.com/doromiert/zenfs/pkg/notify"
)

// Reconciler is stateless between invocations except for its idempotence
// cache (spec §4.1: "the component itself is stateless between calls").
type Reconciler struct {
	liveRoot    string
	roamingRoot string
	enumerator  *blockdev.Enumerator
	mounter     Mounter
	cache       *Cache
	notifier    notify.Notifier
	logger      zerolog.Logger

	mu     sync.Mutex
	stopCh chan struct{}
}

// Config configures a Reconciler.
type Config struct {
	LiveRoot    string
	RoamingRoot string
	Enumerator  *blockdev.Enumerator
	Mounter     Mounter
	Cache       *Cache
	Broker      *events.Broker
}

// New creates a Reconciler.
func New(cfg Config) *Reconciler {
	return &Reconciler{
		liveRoot:    cfg.LiveRoot,
		roamingRoot: cfg.RoamingRoot,
		enumerator:  cfg.Enumerator,
		mounter:     cfg.Mounter,
		cache:       cfg.Cache,
		notifier:    notify.NewBrokerNotifier(cfg.Broker),
		logger:      log.WithComponent("reconciler"),
		stopCh:      make(chan struct{}),
	}
}

// Run drives Reconcile every interval until Stop is called, mirroring the
// "invoked periodically or on external trigger" trigger model of spec
// §4.1. One-shot callers (cron, `zenfsd reconcile`) should call Reconcile
// directly instead.
func (r *Reconciler) Run(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	r.logger.Info().Dur("interval", interval).Msg("reconciler started")
	for {
		select {
		case <-ticker.C:
			if err := r.Reconcile(); err != nil {
				r.logger.Error().Err(err).Msg("reconciliation cycle failed")
			}
		case <-r.stopCh:
			r.logger.Info().Msg("reconciler stopped")
			return
		}
	}
}

// Stop ends a running Run loop.
func (r *Reconciler) Stop() {
	close(r.stopCh)
}

// Reconcile performs one reconciliation cycle (spec §4.1 Algorithm). Any
// individual mount/bind failure is logged and skipped; it never aborts the
// cycle (spec "Failure semantics").
func (r *Reconciler) Reconcile() error {
	timer := metrics.NewTimer()
	defer func() {
		timer.ObserveDuration(metrics.ReconciliationDuration)
		metrics.ReconciliationCyclesTotal.Inc()
	}()

	r.mu.Lock()
	defer r.mu.Unlock()

	devices, err := r.enumerator.Enumerate()
	if err != nil {
		return fmt.Errorf("reconciler: enumerating block devices: %w", err)
	}
	metrics.DevicesDiscoveredTotal.Add(float64(len(devices)))

	for _, dev := range devices {
		r.mountLive(dev)
	}

	if err := r.gateLiveMounts(); err != nil {
		r.logger.Error().Err(err).Msg("gating live mounts failed")
	}

	if err := r.cleanup(); err != nil {
		r.logger.Error().Err(err).Msg("cleanup failed")
	}

	return nil
}

// mountLive implements spec §4.1 step 2: create the live-mount directory
// and mount the device there unless the live path is already a mountpoint.
// It does not check whether the device is mounted at some other path.
func (r *Reconciler) mountLive(dev blockdev.Device) {
	livePath := filepath.Join(r.liveRoot, dev.Identifier)

	mounted, err := r.mounter.IsMounted(livePath)
	if err != nil {
		r.logger.Warn().Err(err).Str("device", dev.Path).Msg("checking mount state failed")
		return
	}
	if mounted {
		return
	}

	if err := os.MkdirAll(livePath, 0o755); err != nil {
		r.logger.Warn().Err(err).Str("path", livePath).Msg("creating live-mount directory failed")
		return
	}
	if err := r.mounter.Mount(dev.Path, livePath, dev.FSType); err != nil {
		r.logger.Warn().Err(err).Str("device", dev.Path).Str("target", livePath).Msg("mounting device failed")
		return
	}
	metrics.GatesTotal.WithLabelValues("mounted").Inc()
}

// gateLiveMounts implements spec §4.1 step 3: for each mounted live
// directory, read its identity and bind-mount it onto the Gate.
func (r *Reconciler) gateLiveMounts() error {
	entries, err := os.ReadDir(r.liveRoot)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("reconciler: reading live root %s: %w", r.liveRoot, err)
	}

	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		livePath := filepath.Join(r.liveRoot, entry.Name())

		mounted, err := r.mounter.IsMounted(livePath)
		if err != nil {
			r.logger.Warn().Err(err).Str("path", livePath).Msg("checking live mount state failed")
			continue
		}
		if !mounted {
			continue
		}

		drive, err := identity.Read(livePath)
		if err != nil {
			r.logger.Debug().Err(err).Str("path", livePath).Msg("unidentified drive, skipping gate")
			continue
		}

		r.gateOne(drive.UUID, livePath)
	}
	return nil
}

func (r *Reconciler) gateOne(driveUUID, livePath string) {
	gatePath := filepath.Join(r.roamingRoot, driveUUID)
	logger := log.WithDrive(driveUUID)

	if err := os.MkdirAll(gatePath, 0o755); err != nil {
		logger.Warn().Err(err).Str("path", gatePath).Msg("creating gate directory failed")
		return
	}

	mounted, err := r.mounter.IsMounted(gatePath)
	if err != nil {
		logger.Warn().Err(err).Str("path", gatePath).Msg("checking gate mount state failed")
		return
	}

	if !mounted {
		if err := r.mounter.BindMount(livePath, gatePath); err != nil {
			logger.Warn().Err(err).Str("gate", gatePath).Msg("bind-mounting gate failed")
			return
		}
		metrics.GatesTotal.WithLabelValues("mounted").Inc()
	}

	// Whether or not this cycle performed the bind-mount itself, consult
	// the cache to decide whether this Gate's state is already known — the
	// notification must fire exactly once per attach, not once per cycle
	// the kernel happens to report the Gate as mounted (spec §8 S6). Without
	// a cache, a Gate that was already mounted before this cycle counts as
	// already announced.
	already := mounted
	if r.cache != nil {
		already, err = r.cache.Seen(driveUUID, gatePath)
		if err != nil {
			logger.Warn().Err(err).Msg("reading reconciler cache failed")
		}
	}
	if !already {
		r.publish(driveUUID, gatePath)
		if r.cache != nil {
			if err := r.cache.Record(driveUUID, gatePath); err != nil {
				logger.Warn().Err(err).Msg("recording reconciler cache failed")
			}
		}
	}
}

func (r *Reconciler) publish(driveUUID, gatePath string) {
	log.WithDrive(driveUUID).Info().Str("gate", gatePath).Msg("roaming drive connected")
	r.notifier.Notify(
		events.EventDriveConnected,
		"Drive connected",
		fmt.Sprintf("roaming drive connected: %s", driveUUID),
		notify.UrgencyNormal,
		"drive-removable-media",
	)
}

// cleanup implements spec §4.1 step 4: remove empty, unmounted live
// directories, and remove any unmounted Gate.
func (r *Reconciler) cleanup() error {
	if err := r.cleanupLive(); err != nil {
		return err
	}
	return r.cleanupGates()
}

func (r *Reconciler) cleanupLive() error {
	entries, err := os.ReadDir(r.liveRoot)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("reconciler: reading live root %s: %w", r.liveRoot, err)
	}

	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		path := filepath.Join(r.liveRoot, entry.Name())

		mounted, err := r.mounter.IsMounted(path)
		if err != nil {
			r.logger.Warn().Err(err).Str("path", path).Msg("checking mount state failed during cleanup")
			continue
		}
		if mounted {
			continue
		}

		empty, err := dirEmpty(path)
		if err != nil {
			r.logger.Warn().Err(err).Str("path", path).Msg("checking emptiness failed during cleanup")
			continue
		}
		if !empty {
			continue
		}

		if err := os.Remove(path); err != nil {
			r.logger.Warn().Err(err).Str("path", path).Msg("removing stale live directory failed")
			continue
		}
	}
	return nil
}

func (r *Reconciler) cleanupGates() error {
	entries, err := os.ReadDir(r.roamingRoot)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("reconciler: reading roaming root %s: %w", r.roamingRoot, err)
	}

	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		path := filepath.Join(r.roamingRoot, entry.Name())
		gateLog := log.WithGate(path)

		mounted, err := r.mounter.IsMounted(path)
		if err != nil {
			gateLog.Warn().Err(err).Msg("checking gate mount state failed during cleanup")
			continue
		}
		if mounted {
			continue
		}

		if err := os.RemoveAll(path); err != nil {
			gateLog.Warn().Err(err).Msg("removing stale gate failed")
			continue
		}
		metrics.StaleGatesRemovedTotal.Inc()
		gateLog.Info().Str("drive", entry.Name()).Msg("stale gate removed")

		if r.cache != nil {
			if err := r.cache.Forget(entry.Name()); err != nil {
				gateLog.Warn().Err(err).Str("drive", entry.Name()).Msg("forgetting reconciler cache entry failed")
			}
		}
		r.notifier.Notify(
			events.EventGateRemoved,
			"Gate removed",
			fmt.Sprintf("gate removed: %s", entry.Name()),
			notify.UrgencyLow,
			"drive-removable-media",
		)
	}
	return nil
}
