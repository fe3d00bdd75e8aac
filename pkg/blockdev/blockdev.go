// Package blockdev enumerates leaf block devices carrying a filesystem,
// the first step of Reconciler reconciliation (spec §4.1 step 1). Linux
// exposes this through sysfs rather than any library call, so enumeration
// itself is plain file-tree walking; filesystem-presence detection is
// delegated to github.com/diskfs/go-diskfs so the probe recognizes real
// filesystem superblocks instead of guessing from a device's size or name.
package blockdev

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"

	"github.com/diskfs/go-diskfs"
)

// Device is a leaf block device with a filesystem (spec §4.1: "each leaf
// device with a filesystem and a stable device identifier").
type Device struct {
	// Name is the kernel device name, e.g. "sda1".
	Name string
	// Path is the device node, e.g. "/dev/sda1".
	Path string
	// Identifier is the stable identifier used as the live-mount directory
	// name (spec §4.1 step 1: "<live-root>/<device-identifier>"). It is the
	// filesystem UUID when one can be resolved, falling back to Name.
	Identifier string
	// FSType is the detected filesystem type string, when known (e.g.
	// "vfat", "ext4"). Empty when go-diskfs could not identify it more
	// precisely than "a filesystem is present".
	FSType string
}

// partitionNameRE matches a child partition's kernel name against its
// parent, e.g. "sda" -> "sda1", "nvme0n1" -> "nvme0n1p1".
var partitionNameRE = regexp.MustCompile(`^p?[0-9]+$`)

// FilesystemProbe reports whether the device at path carries a recognizable
// filesystem. Swappable in tests; the production default opens the device
// with go-diskfs and asks it for a filesystem.
type FilesystemProbe func(devicePath string) bool

// DefaultFilesystemProbe uses go-diskfs to attempt to read a filesystem
// superblock off devicePath.
func DefaultFilesystemProbe(devicePath string) bool {
	d, err := diskfs.Open(devicePath, diskfs.WithOpenMode(diskfs.ReadOnly))
	if err != nil {
		return false
	}
	defer d.Close()
	fs, err := d.GetFilesystem(0)
	return err == nil && fs != nil
}

// Enumerator enumerates leaf block devices carrying a filesystem by
// walking sysClassBlock (normally "/sys/class/block") and resolving stable
// identifiers from devDiskByUUID (normally "/dev/disk/by-uuid").
type Enumerator struct {
	SysClassBlock string
	DevDiskByUUID string
	DevRoot       string
	HasFilesystem FilesystemProbe
}

// NewEnumerator creates an Enumerator for the real host filesystem.
func NewEnumerator() *Enumerator {
	return &Enumerator{
		SysClassBlock: "/sys/class/block",
		DevDiskByUUID: "/dev/disk/by-uuid",
		DevRoot:       "/dev",
		HasFilesystem: DefaultFilesystemProbe,
	}
}

// Enumerate returns every leaf block device under SysClassBlock that has a
// recognizable filesystem, sorted by Name for deterministic ordering.
func (e *Enumerator) Enumerate() ([]Device, error) {
	entries, err := os.ReadDir(e.SysClassBlock)
	if err != nil {
		return nil, fmt.Errorf("blockdev: reading %s: %w", e.SysClassBlock, err)
	}

	names := make(map[string]bool, len(entries))
	for _, entry := range entries {
		names[entry.Name()] = true
	}

	uuidByDevice := e.resolveUUIDs()

	var devices []Device
	for name := range names {
		if e.hasPartitionChildren(name, names) {
			continue // whole-disk device with partitions: the partitions are the leaves
		}
		path := filepath.Join(e.DevRoot, name)
		if e.HasFilesystem == nil || !e.HasFilesystem(path) {
			continue
		}
		identifier := name
		if uuid, ok := uuidByDevice[name]; ok {
			identifier = uuid
		}
		devices = append(devices, Device{Name: name, Path: path, Identifier: identifier})
	}

	sort.Slice(devices, func(i, j int) bool { return devices[i].Name < devices[j].Name })
	return devices, nil
}

// hasPartitionChildren reports whether name has a child partition among
// names, using sysfs's own naming convention: a partition directory exists
// both as a subdirectory of its parent and as a top-level sibling entry in
// SysClassBlock.
func (e *Enumerator) hasPartitionChildren(name string, names map[string]bool) bool {
	parentDir := filepath.Join(e.SysClassBlock, name)
	children, err := os.ReadDir(parentDir)
	if err != nil {
		return false
	}
	for _, child := range children {
		suffix, ok := stripPrefix(child.Name(), name)
		if !ok || !partitionNameRE.MatchString(suffix) {
			continue
		}
		if names[child.Name()] {
			return true
		}
	}
	return false
}

func stripPrefix(s, prefix string) (string, bool) {
	if len(s) <= len(prefix) || s[:len(prefix)] != prefix {
		return "", false
	}
	return s[len(prefix):], true
}

// resolveUUIDs builds a device-name -> filesystem-UUID map by resolving
// every symlink under DevDiskByUUID.
func (e *Enumerator) resolveUUIDs() map[string]string {
	result := map[string]string{}
	entries, err := os.ReadDir(e.DevDiskByUUID)
	if err != nil {
		return result
	}
	for _, entry := range entries {
		linkPath := filepath.Join(e.DevDiskByUUID, entry.Name())
		target, err := os.Readlink(linkPath)
		if err != nil {
			continue
		}
		devName := filepath.Base(target)
		result[devName] = entry.Name()
	}
	return result
}
