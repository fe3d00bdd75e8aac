package mediatree

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestShouldDescendPrunesTopLevelDenylist(t *testing.T) {
	require.False(t, ShouldDescend("proc"))
	require.False(t, ShouldDescend("proc/self"))
	require.False(t, ShouldDescend("System"))
	require.True(t, ShouldDescend("Users"))
	require.True(t, ShouldDescend("Users/alice"))
}

func TestShouldDescendPrunesMusicPseudoDirsAtAnyDepth(t *testing.T) {
	require.False(t, ShouldDescend("Users/alice/Music/Artists"))
	require.False(t, ShouldDescend("Gates/drive-a/Users/alice/Music/Artists"))
	require.False(t, ShouldDescend("Users/alice/Music/.trash_Albums"))
	require.False(t, ShouldDescend("Users/alice/Music/.building"))
	require.True(t, ShouldDescend("Users/alice/Music"))
	require.True(t, ShouldDescend("Users/alice/Music/raw-rips"))
}

func TestIsIgnoredPathChecksAncestors(t *testing.T) {
	require.True(t, IsIgnoredPath("Users/alice/Music/Artists/Bowie/a.flac"))
	require.True(t, IsIgnoredPath("proc/self/status"))
	require.False(t, IsIgnoredPath("Users/alice/notes/todo.md"))
}

func TestSanitise(t *testing.T) {
	require.Equal(t, "Unknown", Sanitise(""))
	require.Equal(t, "Unknown", Sanitise("."))
	require.Equal(t, "Unknown", Sanitise(".."))
	require.Equal(t, "Pink-Floyd", Sanitise("Pink/Floyd"))
	require.Equal(t, "A-B", Sanitise("A\\B"))
	require.Equal(t, "Café", Sanitise("  Café  "))
}
