package projection

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCreateNewLink(t *testing.T) {
	root := t.TempDir()
	source := filepath.Join(t.TempDir(), "foo.md")
	require.NoError(t, os.WriteFile(source, []byte("hi"), 0o644))

	require.NoError(t, Create(root, "Users/alice/foo.md", source, "drive-a"))

	target, err := os.Readlink(filepath.Join(root, "Users/alice/foo.md"))
	require.NoError(t, err)
	require.Equal(t, source, target)
}

func TestCreateIsIdempotentWhenAlreadyLinked(t *testing.T) {
	root := t.TempDir()
	source := filepath.Join(t.TempDir(), "foo.md")
	require.NoError(t, os.WriteFile(source, []byte("hi"), 0o644))

	require.NoError(t, Create(root, "Users/alice/foo.md", source, "drive-a"))
	require.NoError(t, Create(root, "Users/alice/foo.md", source, "drive-a"))

	target, err := os.Readlink(filepath.Join(root, "Users/alice/foo.md"))
	require.NoError(t, err)
	require.Equal(t, source, target)
}

func TestCreateCollisionWithDifferentTargetGetsSuffixed(t *testing.T) {
	root := t.TempDir()
	sourceA := filepath.Join(t.TempDir(), "foo.md")
	sourceB := filepath.Join(t.TempDir(), "foo.md")
	require.NoError(t, os.WriteFile(sourceA, []byte("a"), 0o644))
	require.NoError(t, os.WriteFile(sourceB, []byte("b"), 0o644))

	require.NoError(t, Create(root, "Users/alice/foo.md", sourceA, "drive-a"))
	require.NoError(t, Create(root, "Users/alice/foo.md", sourceB, "drive-b"))

	primary, err := os.Readlink(filepath.Join(root, "Users/alice/foo.md"))
	require.NoError(t, err)
	require.Equal(t, sourceA, primary)

	suffixed, err := os.Readlink(filepath.Join(root, "Users/alice/foo-drive-b.md"))
	require.NoError(t, err)
	require.Equal(t, sourceB, suffixed)
}

func TestCreateCollisionWithRegularFileGetsSuffixed(t *testing.T) {
	root := t.TempDir()
	link := filepath.Join(root, "Users/alice/foo.md")
	require.NoError(t, os.MkdirAll(filepath.Dir(link), 0o755))
	require.NoError(t, os.WriteFile(link, []byte("a real file"), 0o644))

	source := filepath.Join(t.TempDir(), "foo.md")
	require.NoError(t, os.WriteFile(source, []byte("b"), 0o644))

	require.NoError(t, Create(root, "Users/alice/foo.md", source, "drive-b"))

	suffixed, err := os.Readlink(filepath.Join(root, "Users/alice/foo-drive-b.md"))
	require.NoError(t, err)
	require.Equal(t, source, suffixed)
}

func TestRemoveDeletesLinkMatchingSource(t *testing.T) {
	root := t.TempDir()
	source := filepath.Join(t.TempDir(), "foo.md")
	require.NoError(t, os.WriteFile(source, []byte("a"), 0o644))
	require.NoError(t, Create(root, "Users/alice/foo.md", source, "drive-a"))

	require.NoError(t, Remove(root, "Users/alice/foo.md", source))

	_, err := os.Lstat(filepath.Join(root, "Users/alice/foo.md"))
	require.True(t, os.IsNotExist(err))
}

func TestRemoveLeavesLinksToOtherSources(t *testing.T) {
	root := t.TempDir()
	sourceA := filepath.Join(t.TempDir(), "foo.md")
	sourceB := filepath.Join(t.TempDir(), "foo.md")
	require.NoError(t, os.WriteFile(sourceA, []byte("a"), 0o644))
	require.NoError(t, os.WriteFile(sourceB, []byte("b"), 0o644))
	require.NoError(t, Create(root, "Users/alice/foo.md", sourceA, "drive-a"))
	require.NoError(t, Create(root, "Users/alice/foo.md", sourceB, "drive-b"))

	require.NoError(t, Remove(root, "Users/alice/foo.md", sourceB))

	_, err := os.Lstat(filepath.Join(root, "Users/alice/foo-drive-b.md"))
	require.True(t, os.IsNotExist(err))
	primary, err := os.Readlink(filepath.Join(root, "Users/alice/foo.md"))
	require.NoError(t, err)
	require.Equal(t, sourceA, primary)
}
