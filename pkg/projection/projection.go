// Package projection creates and removes ProjectionLinks: symlinks in the
// host user namespace that make a roaming file at S visible at its "native"
// path under /Users/<user>/... (spec §4.2.4).
package projection

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Create projects source file S (an absolute path on a Gate) into the host
// user namespace at relpath (a slash-separated path beginning with
// "Users/<user>/..."), following spec §4.2.4's three-way branch.
//
// userNamespaceRoot is the host filesystem root the relpath is projected
// under, normally "/" so relpath maps directly to an absolute path; tests
// pass a temp directory instead.
func Create(userNamespaceRoot, relpath, source, owner string) error {
	link := filepath.Join(userNamespaceRoot, relpath)

	target, err := os.Readlink(link)
	if err == nil {
		if target == source {
			return nil
		}
		return createSuffixed(link, source, owner)
	}

	if _, statErr := os.Lstat(link); statErr == nil {
		// Exists but isn't a symlink (a regular file or directory), so
		// readlink failed above.
		return createSuffixed(link, source, owner)
	} else if !os.IsNotExist(statErr) {
		return fmt.Errorf("projection: statting %s: %w", link, statErr)
	}

	if err := os.MkdirAll(filepath.Dir(link), 0o755); err != nil {
		return fmt.Errorf("projection: creating %s: %w", filepath.Dir(link), err)
	}
	if err := os.Symlink(source, link); err != nil {
		return fmt.Errorf("projection: linking %s -> %s: %w", link, source, err)
	}
	return nil
}

func createSuffixed(link, source, owner string) error {
	ext := filepath.Ext(link)
	stem := strings.TrimSuffix(link, ext)
	alt := stem + "-" + owner + ext

	if _, err := os.Lstat(alt); err == nil {
		return nil
	} else if !os.IsNotExist(err) {
		return fmt.Errorf("projection: statting %s: %w", alt, err)
	}

	if err := os.MkdirAll(filepath.Dir(alt), 0o755); err != nil {
		return fmt.Errorf("projection: creating %s: %w", filepath.Dir(alt), err)
	}
	if err := os.Symlink(source, alt); err != nil {
		return fmt.Errorf("projection: linking %s -> %s: %w", alt, source, err)
	}
	return nil
}

// Remove deletes any ProjectionLink under userNamespaceRoot/relpath's parent
// directory whose target equals source (spec §4.2.5 step 2). It inspects
// both the plain name and any suffixed siblings, since either might point
// at source depending on collision history.
func Remove(userNamespaceRoot, relpath, source string) error {
	link := filepath.Join(userNamespaceRoot, relpath)
	dir := filepath.Dir(link)
	base := filepath.Base(link)
	ext := filepath.Ext(base)
	stem := strings.TrimSuffix(base, ext)

	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("projection: reading %s: %w", dir, err)
	}

	for _, entry := range entries {
		name := entry.Name()
		if name != base && !strings.HasPrefix(name, stem+"-") {
			continue
		}
		candidate := filepath.Join(dir, name)
		target, err := os.Readlink(candidate)
		if err != nil {
			continue
		}
		if target == source {
			if err := os.Remove(candidate); err != nil && !os.IsNotExist(err) {
				return fmt.Errorf("projection: removing %s: %w", candidate, err)
			}
		}
	}
	return nil
}
