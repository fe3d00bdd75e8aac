package indexer

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/doromiert/zenfs/pkg/events"
	"github.com/doromiert/zenfs/pkg/watching"
)

func writeFile(t *testing.T, path, body string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
}

func TestInitialScanRoamingDriveProjectsUserFiles(t *testing.T) {
	gateRoot := t.TempDir()
	globalDB := t.TempDir()
	userNS := t.TempDir()

	sourcePath := filepath.Join(gateRoot, "Users/alice/notes/todo.md")
	writeFile(t, sourcePath, "buy milk")

	idx := New(globalDB, userNS, nil)
	w := Watch{
		DriveUUID:         "drive-a",
		Root:              gateRoot,
		Roaming:           true,
		LocalDatabaseRoot: filepath.Join(gateRoot, "System/ZenFS/Database"),
	}
	require.NoError(t, idx.InitialScan(w))

	body, err := os.ReadFile(filepath.Join(globalDB, "Users/alice/notes/todo.md"))
	require.NoError(t, err)
	require.Equal(t, "drive-a", string(body))

	local, err := os.ReadFile(filepath.Join(w.LocalDatabaseRoot, "Users/alice/notes/todo.md"))
	require.NoError(t, err)
	require.Equal(t, "drive-a", string(local))

	target, err := os.Readlink(filepath.Join(userNS, "Users/alice/notes/todo.md"))
	require.NoError(t, err)
	require.Equal(t, sourcePath, target)
}

func TestInitialScanSkipsMusicPseudoDirectories(t *testing.T) {
	gateRoot := t.TempDir()
	globalDB := t.TempDir()
	userNS := t.TempDir()

	writeFile(t, filepath.Join(gateRoot, "Users/alice/Music/Artists/Bowie/track.flac"), "fakeaudio")
	writeFile(t, filepath.Join(gateRoot, "Users/alice/Music/raw/track.flac"), "fakeaudio")

	idx := New(globalDB, userNS, nil)
	w := Watch{
		DriveUUID:         "drive-a",
		Root:              gateRoot,
		Roaming:           true,
		LocalDatabaseRoot: filepath.Join(gateRoot, "System/ZenFS/Database"),
	}
	require.NoError(t, idx.InitialScan(w))

	_, err := os.Stat(filepath.Join(globalDB, "Users/alice/Music/Artists/Bowie/track.flac"))
	require.True(t, os.IsNotExist(err), "Conductor view trees must never be indexed")

	_, err = os.Stat(filepath.Join(globalDB, "Users/alice/Music/raw/track.flac"))
	require.NoError(t, err, "a real file under Music, outside the pseudo-dir set, must still be indexed")
}

func TestInitialScanSystemDriveDoesNotProject(t *testing.T) {
	systemRoot := t.TempDir()
	globalDB := t.TempDir()
	userNS := t.TempDir()

	writeFile(t, filepath.Join(systemRoot, "Users/alice/report.txt"), "quarterlies")

	idx := New(globalDB, userNS, nil)
	w := Watch{Root: systemRoot, Roaming: false}
	require.NoError(t, idx.InitialScan(w))

	body, err := os.ReadFile(filepath.Join(globalDB, "Users/alice/report.txt"))
	require.NoError(t, err)
	require.Equal(t, "system", string(body))

	_, err = os.Lstat(filepath.Join(userNS, "Users/alice/report.txt"))
	require.True(t, os.IsNotExist(err), "system drive files are never projected")
}

func TestRunHandlesCreatedEventThenCollisionFromSecondDrive(t *testing.T) {
	gateA := t.TempDir()
	gateB := t.TempDir()
	globalDB := t.TempDir()
	userNS := t.TempDir()

	pathA := filepath.Join(gateA, "Users/alice/song.txt")
	pathB := filepath.Join(gateB, "Users/alice/song.txt")
	writeFile(t, pathA, "a")
	writeFile(t, pathB, "b")

	broker := events.NewBroker()
	broker.Start()
	defer broker.Stop()
	sub := broker.Subscribe()
	defer broker.Unsubscribe(sub)

	idx := New(globalDB, userNS, broker)

	wA := Watch{DriveUUID: "drive-a", Root: gateA, Roaming: true, LocalDatabaseRoot: filepath.Join(gateA, "db")}
	wB := Watch{DriveUUID: "drive-b", Root: gateB, Roaming: true, LocalDatabaseRoot: filepath.Join(gateB, "db")}

	srcA := watching.NewFakeSource()
	srcA.Emit(watching.Event{Kind: watching.Created, Path: pathA})
	srcA.Close()

	srcB := watching.NewFakeSource()
	srcB.Emit(watching.Event{Kind: watching.Created, Path: pathB})
	srcB.Close()

	ctx := context.Background()
	require.NoError(t, idx.Run(ctx, wA, srcA))
	require.NoError(t, idx.Run(ctx, wB, srcB))

	primary, err := os.ReadFile(filepath.Join(globalDB, "Users/alice/song.txt"))
	require.NoError(t, err)
	require.Equal(t, "drive-a", string(primary))

	suffixed, err := os.ReadFile(filepath.Join(globalDB, "Users/alice/song-drive-b.txt"))
	require.NoError(t, err)
	require.Equal(t, "drive-b", string(suffixed))

	select {
	case ev := <-sub:
		require.Equal(t, events.EventShadowCollision, ev.Type)
	case <-time.After(time.Second):
		t.Fatal("expected a shadow collision event")
	}
}

func TestRunHandlesMoveAsRemoveThenCreate(t *testing.T) {
	gateRoot := t.TempDir()
	globalDB := t.TempDir()
	userNS := t.TempDir()

	oldPath := filepath.Join(gateRoot, "Users/alice/foo.md")
	newPath := filepath.Join(gateRoot, "Users/alice/bar.md")
	writeFile(t, newPath, "renamed in place")

	idx := New(globalDB, userNS, nil)
	w := Watch{DriveUUID: "drive-a", Root: gateRoot, Roaming: true, LocalDatabaseRoot: filepath.Join(gateRoot, "db")}

	// Seed prior state as if foo.md had been synced before the rename.
	require.NoError(t, idx.syncFile(w, filepath.Join(gateRoot, "Users/alice/foo.md")))

	src := watching.NewFakeSource()
	src.Emit(watching.Event{Kind: watching.Moved, OldPath: oldPath, Path: newPath})
	src.Close()

	require.NoError(t, idx.Run(context.Background(), w, src))

	_, err := os.Stat(filepath.Join(globalDB, "Users/alice/foo.md"))
	require.True(t, os.IsNotExist(err))

	body, err := os.ReadFile(filepath.Join(globalDB, "Users/alice/bar.md"))
	require.NoError(t, err)
	require.Equal(t, "drive-a", string(body))
}

func TestRemoveFileDeletesShadowEntryAndProjection(t *testing.T) {
	gateRoot := t.TempDir()
	globalDB := t.TempDir()
	userNS := t.TempDir()

	path := filepath.Join(gateRoot, "Users/alice/foo.md")
	writeFile(t, path, "hi")

	idx := New(globalDB, userNS, nil)
	w := Watch{DriveUUID: "drive-a", Root: gateRoot, Roaming: true, LocalDatabaseRoot: filepath.Join(gateRoot, "db")}
	require.NoError(t, idx.syncFile(w, path))

	require.NoError(t, idx.removeFile(w, path))

	_, err := os.Stat(filepath.Join(globalDB, "Users/alice/foo.md"))
	require.True(t, os.IsNotExist(err))
	_, err = os.Lstat(filepath.Join(userNS, "Users/alice/foo.md"))
	require.True(t, os.IsNotExist(err))
}
