// Package conductor implements the Conductor: it rebuilds a set of
// symlink view trees — by artist, year, genre, and soundtrack heuristic —
// from a source media directory's audio tags, publishing the result with
// an atomic hot-swap so observers never see a partially-built tree (spec
// §4.3).
package conductor

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/rs/zerolog"

	"github.com/doromiert/zenfs/pkg/events"
	"github.com/doromiert/zenfs/pkg/log"
	"github.com/doromiert/zenfs/pkg/mediatree"
	"github.com/doromiert/zenfs/pkg/metrics"
	"github.com/doromiert/zenfs/pkg/notify"
)

// categories is the fixed set of generated view categories (spec §4.3
// "Generated view categories (fixed)").
var categories = []string{"Artists", "Years", "Genres", "OSTs"}

// Conductor rebuilds view_dir's Artists/Years/Genres/OSTs trees from the
// audio tags found under source_dir.
type Conductor struct {
	sourceDir    string
	viewDir      string
	splitSymbols splitSymbols
	notifier     notify.Notifier
	logger       zerolog.Logger
	readTags     func(path string, symbols splitSymbols) (trackTags, error)
}

// Config configures a Conductor run (spec §4.3 Inputs).
type Config struct {
	SourceDir    string
	ViewDir      string
	SplitSymbols []string
	Broker       *events.Broker
	// TagReader overrides tag extraction; nil uses the real dhowden/tag
	// backed reader. Tests supply a fake so they don't need real audio
	// file bytes.
	TagReader func(path string, symbols []string) (trackTags, error)
}

// New creates a Conductor.
func New(cfg Config) *Conductor {
	c := &Conductor{
		sourceDir:    cfg.SourceDir,
		viewDir:      cfg.ViewDir,
		splitSymbols: cfg.SplitSymbols,
		notifier:     notify.NewBrokerNotifier(cfg.Broker),
		logger:       log.WithComponent("conductor"),
	}
	if cfg.TagReader != nil {
		reader := cfg.TagReader
		c.readTags = func(path string, symbols splitSymbols) (trackTags, error) {
			return reader(path, []string(symbols))
		}
	} else {
		c.readTags = readTags
	}
	return c
}

// stagingDir is the hidden staging directory view_dir/.building (spec §4.3
// step 1).
func (c *Conductor) stagingDir() string { return filepath.Join(c.viewDir, ".building") }

// Run performs one full rebuild cycle (spec §4.3 Hot-swap build protocol).
func (c *Conductor) Run() error {
	timer := metrics.NewTimer()
	defer timer.ObserveDuration(metrics.ConductorRunDuration)

	if err := os.RemoveAll(c.stagingDir()); err != nil {
		return fmt.Errorf("conductor: wiping staging directory: %w", err)
	}
	if err := os.MkdirAll(c.stagingDir(), 0o755); err != nil {
		return fmt.Errorf("conductor: creating staging directory: %w", err)
	}

	planted, err := c.plantStagingLinks()
	if err != nil {
		return fmt.Errorf("conductor: planting staging links: %w", err)
	}

	for _, category := range categories {
		if err := c.hotSwapCategory(category); err != nil {
			c.logger.Error().Err(err).Str("category", category).Msg("hot-swap failed")
		}
	}

	if err := os.RemoveAll(c.stagingDir()); err != nil {
		c.logger.Warn().Err(err).Msg("removing staging directory after hot-swap failed")
	}

	metrics.ConductorLastRunTracks.Set(float64(planted))
	if planted > 0 {
		c.publish(planted)
	}
	c.logger.Info().Int("tracks", planted).Msg("forest regenerated")
	return nil
}

// plantStagingLinks implements spec §4.3 steps 2–3: walk source_dir,
// read tags for every file, and create every ViewLink into the staging
// tree. Files whose tags can't be read are skipped silently.
func (c *Conductor) plantStagingLinks() (int, error) {
	planted := 0
	err := filepath.WalkDir(c.sourceDir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		if d.Type()&os.ModeSymlink != 0 {
			return nil
		}

		absolute, err := filepath.Abs(path)
		if err != nil {
			return nil
		}

		tags, err := c.readTags(path, c.splitSymbols)
		if err != nil {
			metrics.ConductorTagReadFailuresTotal.Inc()
			return nil
		}

		c.plantLinksForTrack(absolute, tags, filepath.Ext(path))
		planted++
		return nil
	})
	if err != nil {
		return planted, err
	}
	return planted, nil
}

func (c *Conductor) plantLinksForTrack(absoluteSource string, t trackTags, ext string) {
	title := mediatree.Sanitise(t.Title)
	album := mediatree.Sanitise(t.Album)

	for _, artist := range t.Artists.All() {
		dest := filepath.Join(c.stagingDir(), "Artists", mediatree.Sanitise(artist), album, title+ext)
		c.link(dest, absoluteSource)
	}

	if t.Year != "" {
		dest := filepath.Join(c.stagingDir(), "Years", t.Year, album, title+ext)
		c.link(dest, absoluteSource)
	}

	for _, genre := range t.Genres.All() {
		dest := filepath.Join(c.stagingDir(), "Genres", mediatree.Sanitise(genre), title+ext)
		c.link(dest, absoluteSource)
	}

	if t.IsSoundtrack {
		dest := filepath.Join(c.stagingDir(), "OSTs", album, title+ext)
		c.link(dest, absoluteSource)
	}
}

// link creates a ViewLink at dest pointing at source, unlinking and
// recreating on a name collision within the staging tree (spec §4.3 step
// 3: "last writer wins within the staging tree").
func (c *Conductor) link(dest, source string) {
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		c.logger.Warn().Err(err).Str("path", dest).Msg("creating view directory failed")
		return
	}
	if _, err := os.Lstat(dest); err == nil {
		if err := os.Remove(dest); err != nil {
			c.logger.Warn().Err(err).Str("path", dest).Msg("removing colliding view link failed")
			return
		}
	}
	if err := os.Symlink(source, dest); err != nil {
		c.logger.Warn().Err(err).Str("path", dest).Msg("creating view link failed")
	}
}

// hotSwapCategory implements spec §4.3 step 4 for one category: rename the
// live tree aside, promote staging onto the live name, remove the
// displaced tree, rolling back on any rename failure.
func (c *Conductor) hotSwapCategory(category string) error {
	staged := filepath.Join(c.stagingDir(), category)
	if _, err := os.Stat(staged); os.IsNotExist(err) {
		return nil
	} else if err != nil {
		return fmt.Errorf("statting staged category %s: %w", category, err)
	}

	live := filepath.Join(c.viewDir, category)
	trash := filepath.Join(c.viewDir, ".trash_"+category)

	_, liveErr := os.Stat(live)
	liveExists := liveErr == nil

	if liveExists {
		if err := os.Rename(live, trash); err != nil {
			return fmt.Errorf("moving live category %s aside: %w", category, err)
		}
	}

	if err := os.Rename(staged, live); err != nil {
		metrics.ConductorHotSwapRollbacksTotal.WithLabelValues(category).Inc()
		if liveExists {
			if rollbackErr := os.Rename(trash, live); rollbackErr != nil {
				return fmt.Errorf("promoting staged category %s failed (%v) and rollback also failed: %w", category, err, rollbackErr)
			}
		}
		return fmt.Errorf("promoting staged category %s: %w", category, err)
	}

	if liveExists {
		if err := os.RemoveAll(trash); err != nil {
			c.logger.Warn().Err(err).Str("category", category).Msg("removing trashed category failed")
		}
	}
	return nil
}

func (c *Conductor) publish(planted int) {
	c.notifier.Notify(
		events.EventForestRegenerated,
		"Forest regenerated",
		fmt.Sprintf("forest regenerated: %d tracks", planted),
		notify.UrgencyLow,
		"view-refresh",
	)
}
