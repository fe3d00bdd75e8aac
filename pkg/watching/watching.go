// Package watching abstracts the filesystem-event source the Indexer
// consumes (spec Design Notes §9: "the core requires only on_created(path),
// on_modified(path), on_moved(src, dst), on_deleted(path) per watch root").
// A real fsnotify-backed Source and an in-memory fake both satisfy the same
// interface so the Indexer's event-handling logic is exercised in tests
// without ever touching a real filesystem watch.
package watching

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
)

// Kind identifies which of the four event shapes an Event carries.
type Kind int

const (
	Created Kind = iota
	Modified
	Moved
	Deleted
)

func (k Kind) String() string {
	switch k {
	case Created:
		return "created"
	case Modified:
		return "modified"
	case Moved:
		return "moved"
	case Deleted:
		return "deleted"
	default:
		return "unknown"
	}
}

// Event is a single filesystem change. OldPath is only populated for Moved.
type Event struct {
	Kind    Kind
	Path    string
	OldPath string
}

// Source delivers a serial stream of events for one watch root (spec §4.2.7:
// "events on the same watch are processed in delivery order").
type Source interface {
	Events() <-chan Event
	Errors() <-chan error
	Close() error
}

// ErrClosed is returned by operations attempted on a closed Source.
var ErrClosed = errors.New("watching: source closed")

// fsnotifySource is a real, recursive, fsnotify-backed Source. fsnotify
// itself is non-recursive and does not pair rename events with their
// destination, so this implementation (a) manually (re-)adds watches for
// every directory under the root, adding new ones as they're created, and
// (b) reports a Rename as a Deleted event for the vacated path, relying on
// the paired Create event at the new location to supply the other half —
// the same two-event decomposition the per-file sync/removal logic already
// expects for "the destination/source half of moved" (spec §4.2.2, §4.2.5).
type fsnotifySource struct {
	watcher *fsnotify.Watcher
	events  chan Event
	errors  chan error
	cancel  context.CancelFunc
}

// NewFSNotifySource creates a recursive watch rooted at root.
func NewFSNotifySource(root string) (Source, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("watching: creating fsnotify watcher: %w", err)
	}

	if err := addRecursive(w, root); err != nil {
		w.Close()
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &fsnotifySource{
		watcher: w,
		events:  make(chan Event, 256),
		errors:  make(chan error, 1),
		cancel:  cancel,
	}
	go s.run(ctx)
	return s, nil
}

func addRecursive(w *fsnotify.Watcher, root string) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if os.IsNotExist(err) {
				return nil
			}
			return err
		}
		if d.IsDir() {
			if werr := w.Add(path); werr != nil && !os.IsNotExist(werr) {
				return fmt.Errorf("watching: adding watch for %s: %w", path, werr)
			}
		}
		return nil
	})
}

func (s *fsnotifySource) run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-s.watcher.Events:
			if !ok {
				return
			}
			s.dispatch(ev)
		case err, ok := <-s.watcher.Errors:
			if !ok {
				return
			}
			select {
			case s.errors <- err:
			default:
			}
		}
	}
}

func (s *fsnotifySource) dispatch(ev fsnotify.Event) {
	switch {
	case ev.Op&fsnotify.Create != 0:
		if info, err := os.Stat(ev.Name); err == nil && info.IsDir() {
			_ = s.watcher.Add(ev.Name)
			_ = addRecursive(s.watcher, ev.Name)
		}
		s.send(Event{Kind: Created, Path: ev.Name})
	case ev.Op&fsnotify.Write != 0:
		s.send(Event{Kind: Modified, Path: ev.Name})
	case ev.Op&fsnotify.Rename != 0:
		s.send(Event{Kind: Deleted, Path: ev.Name})
	case ev.Op&fsnotify.Remove != 0:
		s.send(Event{Kind: Deleted, Path: ev.Name})
	}
}

func (s *fsnotifySource) send(e Event) {
	select {
	case s.events <- e:
	default:
		// Drop on a full buffer rather than block the watcher goroutine;
		// the initial scan (§4.2.8) re-derives state on the next restart.
	}
}

func (s *fsnotifySource) Events() <-chan Event { return s.events }
func (s *fsnotifySource) Errors() <-chan error { return s.errors }

func (s *fsnotifySource) Close() error {
	s.cancel()
	return s.watcher.Close()
}

// FakeSource is an in-memory Source for unit tests. It can emit a genuine
// Moved event (with both OldPath and Path set), unlike the real fsnotify
// backend, which is useful for exercising the Indexer's move handling
// (scenario S3) directly.
type FakeSource struct {
	events chan Event
	errors chan error
	closed bool
}

// NewFakeSource creates a FakeSource with a generously buffered channel so
// test code can enqueue a whole scenario before the consumer starts reading.
func NewFakeSource() *FakeSource {
	return &FakeSource{
		events: make(chan Event, 1024),
		errors: make(chan error, 1),
	}
}

func (f *FakeSource) Emit(e Event) {
	if f.closed {
		return
	}
	f.events <- e
}

func (f *FakeSource) EmitError(err error) {
	select {
	case f.errors <- err:
	default:
	}
}

func (f *FakeSource) Events() <-chan Event { return f.events }
func (f *FakeSource) Errors() <-chan error { return f.errors }

func (f *FakeSource) Close() error {
	if f.closed {
		return ErrClosed
	}
	f.closed = true
	close(f.events)
	return nil
}
