package blockdev

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func mkBlockEntry(t *testing.T, sysClassBlock, name string, children ...string) {
	t.Helper()
	dir := filepath.Join(sysClassBlock, name)
	require.NoError(t, os.MkdirAll(dir, 0o755))
	for _, child := range children {
		require.NoError(t, os.MkdirAll(filepath.Join(sysClassBlock, child), 0o755))
		require.NoError(t, os.MkdirAll(filepath.Join(dir, child), 0o755))
	}
}

func TestEnumerateSkipsWholeDiskWithPartitions(t *testing.T) {
	root := t.TempDir()
	sysClassBlock := filepath.Join(root, "sys-class-block")
	devDiskByUUID := filepath.Join(root, "by-uuid")
	require.NoError(t, os.MkdirAll(devDiskByUUID, 0o755))

	mkBlockEntry(t, sysClassBlock, "sda", "sda1")
	mkBlockEntry(t, sysClassBlock, "sda1")

	e := &Enumerator{
		SysClassBlock: sysClassBlock,
		DevDiskByUUID: devDiskByUUID,
		DevRoot:       filepath.Join(root, "dev"),
		HasFilesystem: func(string) bool { return true },
	}
	devices, err := e.Enumerate()
	require.NoError(t, err)
	require.Len(t, devices, 1)
	require.Equal(t, "sda1", devices[0].Name)
}

func TestEnumerateSkipsDevicesWithoutFilesystem(t *testing.T) {
	root := t.TempDir()
	sysClassBlock := filepath.Join(root, "sys-class-block")
	devDiskByUUID := filepath.Join(root, "by-uuid")
	require.NoError(t, os.MkdirAll(devDiskByUUID, 0o755))

	mkBlockEntry(t, sysClassBlock, "sdb1")

	e := &Enumerator{
		SysClassBlock: sysClassBlock,
		DevDiskByUUID: devDiskByUUID,
		DevRoot:       filepath.Join(root, "dev"),
		HasFilesystem: func(string) bool { return false },
	}
	devices, err := e.Enumerate()
	require.NoError(t, err)
	require.Empty(t, devices)
}

func TestEnumerateResolvesStableUUID(t *testing.T) {
	root := t.TempDir()
	sysClassBlock := filepath.Join(root, "sys-class-block")
	devDiskByUUID := filepath.Join(root, "by-uuid")
	devRoot := filepath.Join(root, "dev")
	require.NoError(t, os.MkdirAll(devDiskByUUID, 0o755))
	require.NoError(t, os.MkdirAll(devRoot, 0o755))

	mkBlockEntry(t, sysClassBlock, "sdc1")
	devNode := filepath.Join(devRoot, "sdc1")
	require.NoError(t, os.WriteFile(devNode, nil, 0o644))
	require.NoError(t, os.Symlink(devNode, filepath.Join(devDiskByUUID, "1234-ABCD")))

	e := &Enumerator{
		SysClassBlock: sysClassBlock,
		DevDiskByUUID: devDiskByUUID,
		DevRoot:       devRoot,
		HasFilesystem: func(string) bool { return true },
	}
	devices, err := e.Enumerate()
	require.NoError(t, err)
	require.Len(t, devices, 1)
	require.Equal(t, "1234-ABCD", devices[0].Identifier)
}

func TestEnumerateFallsBackToNameWithoutUUID(t *testing.T) {
	root := t.TempDir()
	sysClassBlock := filepath.Join(root, "sys-class-block")
	devDiskByUUID := filepath.Join(root, "by-uuid")
	require.NoError(t, os.MkdirAll(devDiskByUUID, 0o755))

	mkBlockEntry(t, sysClassBlock, "sdd1")

	e := &Enumerator{
		SysClassBlock: sysClassBlock,
		DevDiskByUUID: devDiskByUUID,
		DevRoot:       filepath.Join(root, "dev"),
		HasFilesystem: func(string) bool { return true },
	}
	devices, err := e.Enumerate()
	require.NoError(t, err)
	require.Len(t, devices, 1)
	require.Equal(t, "sdd1", devices[0].Identifier)
}
