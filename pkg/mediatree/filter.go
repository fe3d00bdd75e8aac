// Package mediatree implements the traversal filter shared by the Indexer
// and Conductor: the fixed top-level OS-directory denylist applied to the
// system drive's root (spec §4.2.1), and the music pseudo-directory set the
// Conductor's view trees occupy, which must be pruned from any traversal at
// any depth (spec §4.2.6).
package mediatree

import (
	"path/filepath"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
)

// topLevelDenylist is the fixed set of OS directories the system drive's
// root must never be traversed into (spec §4.2.1).
var topLevelDenylist = map[string]bool{
	"proc": true, "sys": true, "dev": true, "run": true, "boot": true,
	"etc": true, "var": true, "tmp": true, "usr": true, "bin": true,
	"sbin": true, "lib": true, "lib64": true, "mnt": true, "media": true,
	"srv": true, "opt": true, "nix": true,
	"System": true, // ZenFS-reserved top-level name
}

// pseudoDirPatterns matches the fixed set of Conductor-owned directory names that
// must be ignored wherever they occur under a "Music" component (spec
// §4.2.6). Matched with doublestar so the "any depth under a Music
// component" rule is one glob instead of hand-rolled path-walking.
var pseudoDirPatterns = []string{
	"**/Music/**/Artists", "**/Music/Artists",
	"**/Music/**/Albums", "**/Music/Albums",
	"**/Music/**/Years", "**/Music/Years",
	"**/Music/**/Genres", "**/Music/Genres",
	"**/Music/**/OSTs", "**/Music/OSTs",
	"**/Music/**/.building", "**/Music/.building",
	"**/Music/**/.trash_*", "**/Music/.trash_*",
}

// ShouldDescend reports whether the Indexer's initial-scan traversal should
// enter the directory at relpath, a slash-separated path
// relative to a drive root. It folds both traversal-filter layers from
// Design Notes into one predicate: the top-level denylist applies only to
// the drive root's immediate children; the pseudo-directory prune applies
// at any depth under a Music component.
func ShouldDescend(relpath string) bool {
	relpath = filepath.ToSlash(relpath)
	if relpath == "" || relpath == "." {
		return true
	}

	top := relpath
	if idx := strings.IndexByte(relpath, '/'); idx >= 0 {
		top = relpath[:idx]
	}
	if topLevelDenylist[top] {
		return false
	}

	for _, pattern := range pseudoDirPatterns {
		if ok, _ := doublestar.Match(pattern, relpath); ok {
			return false
		}
	}
	return true
}

// IsIgnoredPath reports whether relpath itself (a file, not necessarily a
// directory) falls inside an ignored region — either the top-level denylist
// or a pseudo-directory — and therefore must not be synced as a shadow
// entry (spec §4.2.2 step 1, §4.2.6). Unlike ShouldDescend, which is
// evaluated once per directory during a walk, this checks every ancestor of
// relpath in one call, which live fsnotify events need since they report a
// leaf path directly without walking down to it.
func IsIgnoredPath(relpath string) bool {
	relpath = filepath.ToSlash(relpath)
	parts := strings.Split(relpath, "/")
	for i := 1; i <= len(parts); i++ {
		prefix := strings.Join(parts[:i], "/")
		if !ShouldDescend(prefix) {
			return true
		}
	}
	return false
}

// Sanitise applies the name-sanitisation rule for the Conductor's
// view-tree names (spec §4.3 "Name
// sanitisation"): path separators become "-", non-printable characters are
// stripped, leading/trailing whitespace is trimmed, and ".", "..", and the
// empty string all collapse to "Unknown".
func Sanitise(name string) string {
	name = strings.ReplaceAll(name, "/", "-")
	name = strings.ReplaceAll(name, "\\", "-")

	var b strings.Builder
	for _, r := range name {
		if r < 0x20 || r == 0x7f {
			continue
		}
		b.WriteRune(r)
	}
	name = strings.TrimSpace(b.String())

	switch name {
	case "", ".", "..":
		return "Unknown"
	default:
		return name
	}
}
