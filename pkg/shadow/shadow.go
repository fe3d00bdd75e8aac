// Package shadow implements the shadow database: a filesystem mirror that
// maps every indexed source-file path to the identity of the drive that
// owns it (spec §4.2.2, §4.2.3, §4.2.5). A ShadowEntry is not a database
// row — it is a plain file whose body is the owning drive's UUID, so the
// collision-resolution rule is commutative across concurrent writers with
// no locking (spec §5, "Shared resources").
package shadow

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// FolderTagName is the marker file written into every directory the
// database materializes, naming the drive that first created it.
const FolderTagName = ".zenfs-folder-info"

// DefaultDirMode is the permission mode used for shadow-database directories
// when a caller doesn't specify one explicitly.
const DefaultDirMode = 0o755

// Database is a shadow database rooted at a directory on disk — either the
// global shadow database or one drive-local database under
// <gate>/System/ZenFS/Database (spec §4.2.1).
type Database struct {
	root    string
	dirMode os.FileMode
}

// New opens (without creating) a shadow database rooted at root, using
// DefaultDirMode for any directories it creates.
func New(root string) *Database {
	return NewWithMode(root, DefaultDirMode)
}

// NewWithMode opens a shadow database rooted at root, using dirMode for any
// directories it creates.
func NewWithMode(root string, dirMode os.FileMode) *Database {
	return &Database{root: root, dirMode: dirMode}
}

// Root returns the database's root directory.
func (d *Database) Root() string { return d.root }

// Write materializes a ShadowEntry at relpath for drive identity owner,
// applying the collision rule of spec §4.2.3: the first writer to claim a
// plain-named entry owns it; later writers from a different drive land on
// a suffixed sibling instead of overwriting the primary slot.
func (d *Database) Write(relpath, owner string) error {
	target := filepath.Join(d.root, relpath)
	if err := d.ensureParents(target, owner); err != nil {
		return err
	}

	existing, err := os.ReadFile(target)
	switch {
	case err == nil:
		if string(existing) == owner {
			return writeBody(target, owner)
		}
		return writeBody(suffixed(target, owner), owner)
	case os.IsNotExist(err):
		return writeBody(target, owner)
	default:
		return fmt.Errorf("shadow: reading %s: %w", target, err)
	}
}

// Remove deletes the ShadowEntry (and its suffixed sibling, if any) for
// relpath, honoring ownership: the plain-named entry is only removed if its
// body equals owner, since it might belong to a different drive that
// happens to share a basename (spec §4.2.5 step 1, global database case).
// When global is false (a drive-local database), both candidate names are
// removed unconditionally if present, since a drive-local database only
// ever holds that drive's own entries.
func (d *Database) Remove(relpath, owner string, global bool) error {
	plain := filepath.Join(d.root, relpath)
	alt := suffixed(plain, owner)

	for _, candidate := range []string{plain, alt} {
		if !global {
			if err := removeIfExists(candidate); err != nil {
				return err
			}
			continue
		}
		body, err := os.ReadFile(candidate)
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return fmt.Errorf("shadow: reading %s: %w", candidate, err)
		}
		if string(body) == owner {
			if err := removeIfExists(candidate); err != nil {
				return err
			}
		}
	}
	return nil
}

// ensureParents creates every parent directory of target and drops a
// FolderTag naming owner into each one it creates (spec §4.2.3: "each
// contains a FolderTag file naming the creating drive"). Directories that
// already exist are left with whatever FolderTag they already carry — the
// tag names the *creating* drive, not necessarily the most recent writer.
func (d *Database) ensureParents(target, owner string) error {
	dir := filepath.Dir(target)
	if dir == d.root || dir == "." {
		return os.MkdirAll(dir, d.dirMode)
	}

	var toCreate []string
	cur := dir
	for cur != d.root && cur != "." && cur != string(filepath.Separator) {
		if _, err := os.Stat(cur); err == nil {
			break
		} else if !os.IsNotExist(err) {
			return fmt.Errorf("shadow: statting %s: %w", cur, err)
		}
		toCreate = append(toCreate, cur)
		cur = filepath.Dir(cur)
	}

	if err := os.MkdirAll(dir, d.dirMode); err != nil {
		return fmt.Errorf("shadow: creating %s: %w", dir, err)
	}

	for i := len(toCreate) - 1; i >= 0; i-- {
		tagPath := filepath.Join(toCreate[i], FolderTagName)
		if _, err := os.Stat(tagPath); err == nil {
			continue
		}
		if err := os.WriteFile(tagPath, []byte(owner), 0o644); err != nil {
			return fmt.Errorf("shadow: writing folder tag %s: %w", tagPath, err)
		}
	}
	return nil
}

// suffixed computes "<stem>-<owner><ext>" for a target path, the naming
// scheme spec §4.2.3 calls "the stem plus -<U> plus original extension".
func suffixed(target, owner string) string {
	ext := filepath.Ext(target)
	stem := strings.TrimSuffix(target, ext)
	return stem + "-" + owner + ext
}

func writeBody(path, body string) error {
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		return fmt.Errorf("shadow: writing %s: %w", path, err)
	}
	return nil
}

func removeIfExists(path string) error {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("shadow: removing %s: %w", path, err)
	}
	return nil
}

// Owner reads the owning drive identity recorded at relpath, if any.
func (d *Database) Owner(relpath string) (string, bool, error) {
	target := filepath.Join(d.root, relpath)
	body, err := os.ReadFile(target)
	if err != nil {
		if os.IsNotExist(err) {
			return "", false, nil
		}
		return "", false, fmt.Errorf("shadow: reading %s: %w", target, err)
	}
	return string(body), true, nil
}
