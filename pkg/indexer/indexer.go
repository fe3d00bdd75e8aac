// Package indexer implements the Librarian: it maintains the shadow
// database and projection links as files appear, change, move, and
// disappear on the system drive and every active Gate (spec §4.2).
package indexer

import (
	"context"
	"fmt"
	"io/fs"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog"

	"github.com/doromiert/zenfs/pkg/config"
	"github.com/doromiert/zenfs/pkg/events"
	"github.com/doromiert/zenfs/pkg/log"
	"github.com/doromiert/zenfs/pkg/mediatree"
	"github.com/doromiert/zenfs/pkg/metrics"
	"github.com/doromiert/zenfs/pkg/notify"
	"github.com/doromiert/zenfs/pkg/projection"
	"github.com/doromiert/zenfs/pkg/shadow"
	"github.com/doromiert/zenfs/pkg/watching"
)

// userNamespacePrefix is the relpath prefix that marks a file as eligible
// for projection into the host user namespace (spec §4.2.2 step 4,
// §4.2.4).
const userNamespacePrefix = "Users/"

// Watch describes one watched root: either the system drive's user-home
// area, or an active Gate (spec §4.2.1).
type Watch struct {
	// DriveUUID identifies the owning drive. For the system watch this is
	// the system drive's own identity uuid (spec §3.2, §6.2: a ShadowEntry
	// body names the owning drive's identity); callers that can't read the
	// system identity leave it empty, which falls back to the literal
	// "system" below.
	DriveUUID string
	// Root is the absolute filesystem path the watch is rooted at.
	Root string
	// Roaming is false for the system watch, true for a Gate watch.
	Roaming bool
	// LocalDatabaseRoot is the drive-local shadow database root
	// (<gate>/System/ZenFS/Database), only meaningful when Roaming.
	LocalDatabaseRoot string
}

// Indexer owns the global shadow database, the host user-namespace root for
// projections, and dispatches events from one or more watches into the
// per-file sync/removal algorithms of spec §4.2.2–§4.2.5.
type Indexer struct {
	global            *shadow.Database
	userNamespaceRoot string
	notifier          notify.Notifier
	logger            zerolog.Logger
}

// New creates an Indexer. userNamespaceRoot is the host path projections
// are rooted under (normally "/"; tests pass a temp directory).
func New(globalDatabaseRoot, userNamespaceRoot string, broker *events.Broker) *Indexer {
	return &Indexer{
		global:            shadow.NewWithMode(globalDatabaseRoot, config.ShadowDatabaseDirMode),
		userNamespaceRoot: userNamespaceRoot,
		notifier:          notify.NewBrokerNotifier(broker),
		logger:            log.WithComponent("indexer"),
	}
}

// Run dispatches events from src, rooted at w, until ctx is cancelled or src
// is closed. Moved events are always processed as remove-then-create, per
// spec §5's ordering guarantee.
func (idx *Indexer) Run(ctx context.Context, w Watch, src watching.Source) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-src.Events():
			if !ok {
				return nil
			}
			idx.dispatch(w, ev)
		case err, ok := <-src.Errors():
			if !ok {
				continue
			}
			idx.logger.Error().Err(err).Str("root", w.Root).Msg("watch error")
		}
	}
}

func (idx *Indexer) dispatch(w Watch, ev watching.Event) {
	timer := metrics.NewTimer()
	switch ev.Kind {
	case watching.Created, watching.Modified:
		if err := idx.syncFile(w, ev.Path); err != nil {
			idx.logger.Warn().Err(err).Str("path", ev.Path).Msg("sync failed")
		}
	case watching.Deleted:
		if err := idx.removeFile(w, ev.Path); err != nil {
			idx.logger.Warn().Err(err).Str("path", ev.Path).Msg("removal failed")
		}
	case watching.Moved:
		if err := idx.removeFile(w, ev.OldPath); err != nil {
			idx.logger.Warn().Err(err).Str("path", ev.OldPath).Msg("move: removal half failed")
		}
		if err := idx.syncFile(w, ev.Path); err != nil {
			idx.logger.Warn().Err(err).Str("path", ev.Path).Msg("move: sync half failed")
		}
	}
	timer.ObserveDurationVec(metrics.IndexerEventDuration, ev.Kind.String())
}

// InitialScan performs the synchronous startup traversal required by spec
// §4.2.8: walk w.Root applying the filters of §4.2.1/§4.2.6, call syncFile
// for every regular file, skip symlinks.
func (idx *Indexer) InitialScan(w Watch) error {
	timer := metrics.NewTimer()
	count := 0
	err := filepath.WalkDir(w.Root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, relErr := filepath.Rel(w.Root, path)
		if relErr != nil {
			return relErr
		}
		rel = filepath.ToSlash(rel)
		if rel == "." {
			return nil
		}
		if d.IsDir() {
			if !mediatree.ShouldDescend(rel) {
				return filepath.SkipDir
			}
			return nil
		}
		if d.Type()&fs.ModeSymlink != 0 {
			return nil
		}
		if mediatree.IsIgnoredPath(rel) {
			return nil
		}
		if err := idx.syncFile(w, path); err != nil {
			idx.logger.Warn().Err(err).Str("path", path).Msg("initial scan sync failed")
		} else {
			count++
		}
		return nil
	})
	timer.ObserveDurationVec(metrics.InitialScanDuration, w.Root)
	if err != nil {
		return fmt.Errorf("indexer: initial scan of %s: %w", w.Root, err)
	}
	idx.logger.Info().Str("root", w.Root).Int("files", count).Msg("initial scan complete")
	return nil
}

// syncFile implements spec §4.2.2 for absolutePath inside watch w.
func (idx *Indexer) syncFile(w Watch, absolutePath string) error {
	rel, err := filepath.Rel(w.Root, absolutePath)
	if err != nil {
		return fmt.Errorf("indexer: relativizing %s under %s: %w", absolutePath, w.Root, err)
	}
	rel = filepath.ToSlash(rel)

	if mediatree.IsIgnoredPath(rel) || strings.HasPrefix(rel, "System/ZenFS") {
		return nil
	}

	owner := w.DriveUUID
	if owner == "" {
		owner = "system"
	}

	if w.Roaming {
		local := shadow.NewWithMode(w.LocalDatabaseRoot, config.ShadowDatabaseDirMode)
		if err := local.Write(rel, owner); err != nil {
			return fmt.Errorf("indexer: writing local shadow entry: %w", err)
		}
		metrics.ShadowEntriesWrittenTotal.WithLabelValues("local").Inc()
	}

	existedBefore, hadOwner, err := idx.global.Owner(rel)
	if err != nil {
		return fmt.Errorf("indexer: checking existing global shadow entry: %w", err)
	}
	if err := idx.global.Write(rel, owner); err != nil {
		return fmt.Errorf("indexer: writing global shadow entry: %w", err)
	}
	if hadOwner && existedBefore != owner {
		metrics.ShadowCollisionsTotal.Inc()
		idx.publish(events.EventShadowCollision, fmt.Sprintf("shadow collision at %s between %s and %s", rel, existedBefore, owner))
	}
	metrics.ShadowEntriesWrittenTotal.WithLabelValues("global").Inc()

	if w.Roaming && strings.HasPrefix(rel, userNamespacePrefix) {
		if err := projection.Create(idx.userNamespaceRoot, rel, absolutePath, owner); err != nil {
			return fmt.Errorf("indexer: creating projection link: %w", err)
		}
		metrics.ProjectionLinksCreatedTotal.Inc()
	}
	return nil
}

// removeFile implements spec §4.2.5 for absolutePath inside watch w.
func (idx *Indexer) removeFile(w Watch, absolutePath string) error {
	rel, err := filepath.Rel(w.Root, absolutePath)
	if err != nil {
		return fmt.Errorf("indexer: relativizing %s under %s: %w", absolutePath, w.Root, err)
	}
	rel = filepath.ToSlash(rel)

	if mediatree.IsIgnoredPath(rel) || strings.HasPrefix(rel, "System/ZenFS") {
		return nil
	}

	owner := w.DriveUUID
	if owner == "" {
		owner = "system"
	}

	if err := idx.global.Remove(rel, owner, true); err != nil {
		return fmt.Errorf("indexer: removing global shadow entry: %w", err)
	}
	metrics.ShadowEntriesRemovedTotal.WithLabelValues("global").Inc()

	if w.Roaming {
		local := shadow.NewWithMode(w.LocalDatabaseRoot, config.ShadowDatabaseDirMode)
		if err := local.Remove(rel, owner, false); err != nil {
			return fmt.Errorf("indexer: removing local shadow entry: %w", err)
		}
		metrics.ShadowEntriesRemovedTotal.WithLabelValues("local").Inc()

		if strings.HasPrefix(rel, userNamespacePrefix) {
			if err := projection.Remove(idx.userNamespaceRoot, rel, absolutePath); err != nil {
				return fmt.Errorf("indexer: removing projection link: %w", err)
			}
			metrics.ProjectionLinksRemovedTotal.Inc()
		}
	}
	return nil
}

func (idx *Indexer) publish(eventType events.EventType, message string) {
	idx.notifier.Notify(eventType, "Shadow collision", message, notify.UrgencyLow, "dialog-warning")
}
