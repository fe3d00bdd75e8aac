package reconciler

import (
	"fmt"
	"os"

	"github.com/moby/sys/mountinfo"
	"golang.org/x/sys/unix"
)

// Mounter performs the mount/bind-mount syscalls and mount-table reads the
// Reconciler needs (spec §4.1 steps 2–3). It is an interface so the
// reconciliation algorithm is tested against a fake rather than real mount
// syscalls, which require root and are host-specific.
type Mounter interface {
	// IsMounted reports whether path is itself a mountpoint.
	IsMounted(path string) (bool, error)
	// Mount mounts a device at target with the given filesystem type,
	// allowing full traversal by any user (spec §4.1 step 2:
	// "umask-equivalent 000 for filesystems lacking native permissions").
	Mount(devicePath, target, fsType string) error
	// BindMount bind-mounts source onto target (spec §4.1 step 3).
	BindMount(source, target string) error
}

// UnixMounter is the production Mounter, backed by golang.org/x/sys/unix
// mount syscalls and github.com/moby/sys/mountinfo mount-table reads.
type UnixMounter struct{}

func (UnixMounter) IsMounted(path string) (bool, error) {
	mounted, err := mountinfo.Mounted(path)
	if err != nil {
		return false, fmt.Errorf("reconciler: checking mount state of %s: %w", path, err)
	}
	return mounted, nil
}

func (UnixMounter) Mount(devicePath, target, fsType string) error {
	// "umask 000" has no direct mount-flag analogue for filesystems with
	// native permission bits; for those without (vfat, exfat) the umask
	// mount option grants full traversal instead.
	data := ""
	switch fsType {
	case "vfat", "exfat":
		data = "umask=000"
	}
	if err := unix.Mount(devicePath, target, fsType, 0, data); err != nil {
		return fmt.Errorf("reconciler: mounting %s at %s: %w", devicePath, target, err)
	}
	return nil
}

func (UnixMounter) BindMount(source, target string) error {
	if err := unix.Mount(source, target, "", unix.MS_BIND, ""); err != nil {
		return fmt.Errorf("reconciler: bind-mounting %s onto %s: %w", source, target, err)
	}
	return nil
}

// FakeMounter is an in-memory Mounter for tests. Mounted paths are tracked
// by exact string match; Mount/BindMount record the call and mark the
// target mounted unless configured to fail.
type FakeMounter struct {
	Mounts     map[string]bool
	FailMount  map[string]bool
	MountCalls []FakeMountCall
}

// FakeMountCall records one Mount or BindMount invocation.
type FakeMountCall struct {
	Kind   string // "mount" or "bind"
	Source string
	Target string
}

// NewFakeMounter creates an empty FakeMounter.
func NewFakeMounter() *FakeMounter {
	return &FakeMounter{
		Mounts:    map[string]bool{},
		FailMount: map[string]bool{},
	}
}

func (f *FakeMounter) IsMounted(path string) (bool, error) {
	return f.Mounts[path], nil
}

func (f *FakeMounter) Mount(devicePath, target, fsType string) error {
	f.MountCalls = append(f.MountCalls, FakeMountCall{Kind: "mount", Source: devicePath, Target: target})
	if f.FailMount[target] {
		return fmt.Errorf("fake mount failure for %s", target)
	}
	f.Mounts[target] = true
	return nil
}

func (f *FakeMounter) BindMount(source, target string) error {
	f.MountCalls = append(f.MountCalls, FakeMountCall{Kind: "bind", Source: source, Target: target})
	if f.FailMount[target] {
		return fmt.Errorf("fake bind-mount failure for %s", target)
	}
	f.Mounts[target] = true
	return nil
}

// dirEmpty reports whether dir exists, is a directory, and has no entries.
func dirEmpty(dir string) (bool, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, err
	}
	return len(entries) == 0, nil
}
