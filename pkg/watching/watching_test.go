package watching

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestFakeSourceDeliversEventsInOrder(t *testing.T) {
	src := NewFakeSource()
	src.Emit(Event{Kind: Created, Path: "/root/a.txt"})
	src.Emit(Event{Kind: Modified, Path: "/root/a.txt"})
	src.Emit(Event{Kind: Moved, OldPath: "/root/a.txt", Path: "/root/b.txt"})
	src.Emit(Event{Kind: Deleted, Path: "/root/b.txt"})

	want := []Event{
		{Kind: Created, Path: "/root/a.txt"},
		{Kind: Modified, Path: "/root/a.txt"},
		{Kind: Moved, OldPath: "/root/a.txt", Path: "/root/b.txt"},
		{Kind: Deleted, Path: "/root/b.txt"},
	}
	for _, exp := range want {
		select {
		case got := <-src.Events():
			require.Equal(t, exp, got)
		case <-time.After(time.Second):
			t.Fatalf("timed out waiting for event %+v", exp)
		}
	}
}

func TestFakeSourceClose(t *testing.T) {
	src := NewFakeSource()
	require.NoError(t, src.Close())
	require.ErrorIs(t, src.Close(), ErrClosed)

	_, ok := <-src.Events()
	require.False(t, ok)
}

func TestFakeSourceEmitAfterCloseIsNoop(t *testing.T) {
	src := NewFakeSource()
	require.NoError(t, src.Close())
	require.NotPanics(t, func() {
		src.Emit(Event{Kind: Created, Path: "/root/after-close.txt"})
	})
}

func TestKindString(t *testing.T) {
	require.Equal(t, "created", Created.String())
	require.Equal(t, "modified", Modified.String())
	require.Equal(t, "moved", Moved.String())
	require.Equal(t, "deleted", Deleted.String())
	require.Equal(t, "unknown", Kind(99).String())
}
