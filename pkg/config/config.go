// Package config resolves the path roots and per-component configuration
// that spec.md Design Notes §9 calls out as "process-wide constants in the
// source" that should instead be "configuration values threaded from
// startup." Everything in this package is read once at process start and
// handed to components as an immutable value — no component mutates it.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"os/user"

	"github.com/doromiert/zenfs/pkg/events"
)

const (
	// DefaultShadowDatabaseRoot is the shadow database root (spec §6.4).
	DefaultShadowDatabaseRoot = "/System/ZenFS/Database"
	// DefaultLiveDrivesRoot is where physical devices are mounted before
	// being gated (spec §4.1, §6.4).
	DefaultLiveDrivesRoot = "/Live/Drives"
	// DefaultRoamingGatesRoot is the default gates root; overridable via
	// ZENFS_ROAMING_ROOT (spec §6.4).
	DefaultRoamingGatesRoot = "/Mount/Roaming"
	// DefaultSystemIdentityPath is the system drive's absolute identity
	// path (spec §3.1, §6.1).
	DefaultSystemIdentityPath = "/System/ZenFS/drive.json"
	// DefaultMetricsAddr is the metrics/health HTTP listen address.
	DefaultMetricsAddr = "127.0.0.1:9191"

	// ShadowDatabaseDirMode is the permission mode used for shadow-database
	// directories. spec.md Open Questions notes the source varies between
	// 0o755 and 0o700 across revisions and leaves the choice to the
	// implementer; ZenFS picks 0o755 so non-owning tooling (the DumbJanitor,
	// out of scope here) can still read the mirror without needing to run
	// as the ZenFS user.
	ShadowDatabaseDirMode = 0o755

	envRoamingRoot    = "ZENFS_ROAMING_ROOT"
	envReconcilerDB   = "ZENFS_RECONCILER_DB"
	envMetricsAddr    = "ZENFS_METRICS_ADDR"
	envConductorPaths = "ZENFS_CONDUCTOR_CONFIG"
)

// Paths holds every filesystem root the core components need, resolved once
// from defaults and environment overrides (spec §6.4).
type Paths struct {
	ShadowDatabaseRoot  string
	LiveDrivesRoot      string
	RoamingGatesRoot    string
	SystemIdentityPath  string
	UserNamespaceRoot   string // e.g. "/Users/<username>"
	ReconcilerCachePath string
	MetricsAddr         string
}

// LoadPaths resolves Paths from defaults overridden by environment
// variables. No config file and no command-line flag feeds these paths;
// cmd/zenfsd uses the result as is.
func LoadPaths() (Paths, error) {
	p := Paths{
		ShadowDatabaseRoot: DefaultShadowDatabaseRoot,
		LiveDrivesRoot:     DefaultLiveDrivesRoot,
		RoamingGatesRoot:   DefaultRoamingGatesRoot,
		SystemIdentityPath: DefaultSystemIdentityPath,
		MetricsAddr:        DefaultMetricsAddr,
	}
	if v := os.Getenv(envRoamingRoot); v != "" {
		p.RoamingGatesRoot = v
	}
	if v := os.Getenv(envReconcilerDB); v != "" {
		p.ReconcilerCachePath = v
	} else {
		p.ReconcilerCachePath = p.ShadowDatabaseRoot + "/../reconciler.db"
	}
	if v := os.Getenv(envMetricsAddr); v != "" {
		p.MetricsAddr = v
	}

	u, err := user.Current()
	if err != nil {
		return p, fmt.Errorf("config: resolving current user: %w", err)
	}
	p.UserNamespaceRoot = "/Users/" + u.Username

	return p, nil
}

// ConductorConfig is the JSON document described in spec §6.5, delivered via
// the ZENFS_CONDUCTOR_CONFIG environment variable pointing at its path.
type ConductorConfig struct {
	Music MusicConfig `json:"music"`
}

// MusicConfig is the "music" key of a Conductor configuration document.
type MusicConfig struct {
	UnsortedDir  string   `json:"unsorted_dir"`
	MusicDir     string   `json:"music_dir"`
	SplitSymbols []string `json:"split_symbols"`
}

// DefaultSplitSymbols is used when a Conductor config omits split_symbols.
var DefaultSplitSymbols = []string{";"}

// LoadConductorConfig reads the path named by ZENFS_CONDUCTOR_CONFIG, or the
// explicit path if non-empty, and applies the default split-symbol set when
// the document omits one.
func LoadConductorConfig(explicitPath string) (ConductorConfig, error) {
	path := explicitPath
	if path == "" {
		path = os.Getenv(envConductorPaths)
	}
	if path == "" {
		return ConductorConfig{}, fmt.Errorf("config: no conductor config path given and %s is unset", envConductorPaths)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return ConductorConfig{}, fmt.Errorf("config: reading %s: %w", path, err)
	}

	var cfg ConductorConfig
	if err := json.Unmarshal(data, &cfg); err != nil {
		return ConductorConfig{}, fmt.Errorf("config: parsing %s: %w", path, err)
	}
	if len(cfg.Music.SplitSymbols) == 0 {
		cfg.Music.SplitSymbols = DefaultSplitSymbols
	}
	return cfg, nil
}

// Context is the single immutable record threaded to every component,
// replacing the process-wide globals the source used (spec Design Notes
// §9). Nothing in this repository mutates a Context after NewContext
// returns it.
type Context struct {
	Paths  Paths
	Broker *events.Broker
}

// NewContext assembles a Context from resolved paths and a shared event
// broker. The broker may be nil in tests that don't care about
// notifications.
func NewContext(paths Paths, broker *events.Broker) *Context {
	return &Context{Paths: paths, Broker: broker}
}
