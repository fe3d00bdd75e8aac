package identity

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestReadWriteRoundTrip(t *testing.T) {
	root := t.TempDir()
	want := Drive{
		UUID:  "aaaa-bbbb",
		Label: "Alice's Backpack",
		Type:  DriveTypeRoaming,
		Node:  "alice-mbp",
	}
	require.NoError(t, Write(root, want))

	got, err := Read(root)
	require.NoError(t, err)
	require.Equal(t, want.UUID, got.UUID)
	require.Equal(t, want.Label, got.Label)
	require.Equal(t, want.Type, got.Type)
	require.NotZero(t, got.CreatedAt)
}

func TestReadMissingIsUnidentified(t *testing.T) {
	root := t.TempDir()
	_, err := Read(root)
	require.ErrorIs(t, err, ErrUnidentified)
}

func TestReadCorruptJSONIsUnidentified(t *testing.T) {
	root := t.TempDir()
	path := filepath.Join(root, RelativePath)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o644))

	_, err := Read(root)
	require.ErrorIs(t, err, ErrUnidentified)
}

func TestReadMissingUUIDIsUnidentified(t *testing.T) {
	root := t.TempDir()
	path := filepath.Join(root, RelativePath)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(`{"drive_identity":{"label":"no uuid"}}`), 0o644))

	_, err := Read(root)
	require.ErrorIs(t, err, ErrUnidentified)
}

func TestReadSystemReadsFileDirectlyWithoutJoiningRelativePath(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "drive.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"drive_identity":{"uuid":"system-uuid"}}`), 0o644))

	got, err := ReadSystem(path)
	require.NoError(t, err)
	require.Equal(t, "system-uuid", got.UUID)
}
