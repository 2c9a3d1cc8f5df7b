package watch

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/fsnotify/fsnotify"

	"ffbatch/internal/catalog"
	"ffbatch/internal/logging"
	"ffbatch/internal/testsupport"
)

func TestTranslate(t *testing.T) {
	cases := []struct {
		name  string
		ev    fsnotify.Event
		isDir bool
		want  catalog.Event
		ok    bool
	}{
		{"create file", fsnotify.Event{Name: "/m/a.mkv", Op: fsnotify.Create}, false, catalog.Event{Op: catalog.EventCreate, Path: "/m/a.mkv", Size: 7}, true},
		{"create dir", fsnotify.Event{Name: "/m/sub", Op: fsnotify.Create}, true, catalog.Event{}, false},
		{"remove", fsnotify.Event{Name: "/m/a.mkv", Op: fsnotify.Remove}, false, catalog.Event{Op: catalog.EventRemove, Path: "/m/a.mkv"}, true},
		{"rename away", fsnotify.Event{Name: "/m/a.mkv", Op: fsnotify.Rename}, false, catalog.Event{Op: catalog.EventRemove, Path: "/m/a.mkv"}, true},
		{"write", fsnotify.Event{Name: "/m/a.mkv", Op: fsnotify.Write}, false, catalog.Event{}, false},
		{"chmod", fsnotify.Event{Name: "/m/a.mkv", Op: fsnotify.Chmod}, false, catalog.Event{}, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, ok := Translate(tc.ev, tc.isDir, 7)
			if ok != tc.ok || got != tc.want {
				t.Fatalf("Translate = %+v, %v; want %+v, %v", got, ok, tc.want, tc.ok)
			}
		})
	}
}

type recordingSink struct {
	mu     sync.Mutex
	events []catalog.Event
	stale  int
}

func (s *recordingSink) ApplyWatchEvent(ev catalog.Event) {
	s.mu.Lock()
	s.events = append(s.events, ev)
	s.mu.Unlock()
}

func (s *recordingSink) MarkStale() {
	s.mu.Lock()
	s.stale++
	s.mu.Unlock()
}

func (s *recordingSink) has(op catalog.EventOp, path string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, ev := range s.events {
		if ev.Op == op && ev.Path == path {
			return true
		}
	}
	return false
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}

func TestFeedReportsCreateAndRemove(t *testing.T) {
	root := t.TempDir()
	match := func(p string) bool { return strings.HasSuffix(p, ".mkv") }
	feed, err := New([]string{root}, match, nil, 0, logging.NewNop())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { _ = feed.Close() })

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sink := &recordingSink{}
	go func() { _ = feed.Run(ctx, sink) }()

	movie := filepath.Join(root, "a.mkv")
	testsupport.WriteFile(t, movie, 10)
	testsupport.WriteFile(t, filepath.Join(root, "a.txt"), 10)
	waitFor(t, func() bool { return sink.has(catalog.EventCreate, movie) })
	if sink.has(catalog.EventCreate, filepath.Join(root, "a.txt")) {
		t.Fatal("non-media file reported")
	}

	nested := filepath.Join(root, "new", "deeper", "b.mkv")
	testsupport.WriteFile(t, nested, 10)
	waitFor(t, func() bool { return sink.has(catalog.EventCreate, nested) })

	if err := os.Remove(movie); err != nil {
		t.Fatalf("remove: %v", err)
	}
	waitFor(t, func() bool { return sink.has(catalog.EventRemove, movie) })
}

func (s *recordingSink) creates(path string) []catalog.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []catalog.Event
	for _, ev := range s.events {
		if ev.Op == catalog.EventCreate && ev.Path == path {
			out = append(out, ev)
		}
	}
	return out
}

func TestFeedHoldsGrowingFileUntilSettled(t *testing.T) {
	root := t.TempDir()
	feed, err := New([]string{root}, nil, nil, 300*time.Millisecond, logging.NewNop())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { _ = feed.Close() })

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sink := &recordingSink{}
	go func() { _ = feed.Run(ctx, sink) }()

	copied := filepath.Join(root, "copied.mkv")
	f, err := os.Create(copied)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	time.Sleep(150 * time.Millisecond)
	if err := f.Truncate(1000); err != nil {
		t.Fatalf("truncate: %v", err)
	}
	_ = f.Close()
	time.Sleep(100 * time.Millisecond)
	if got := sink.creates(copied); len(got) != 0 {
		t.Fatalf("file reported while still settling: %+v", got)
	}

	waitFor(t, func() bool { return len(sink.creates(copied)) > 0 })
	got := sink.creates(copied)
	if len(got) != 1 || got[0].Size != 1000 {
		t.Fatalf("create events = %+v, want one with size 1000", got)
	}
}

func TestFeedNeverReportsEmptyFile(t *testing.T) {
	root := t.TempDir()
	feed, err := New([]string{root}, nil, nil, 0, logging.NewNop())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { _ = feed.Close() })

	ctx, cancel := context.WithCancel(context.Background())
	sink := &recordingSink{}
	stopped := make(chan struct{})
	go func() {
		_ = feed.Run(ctx, sink)
		close(stopped)
	}()

	empty := filepath.Join(root, "empty.mkv")
	testsupport.WriteFile(t, empty, 0)
	time.Sleep(300 * time.Millisecond)
	if got := sink.creates(empty); len(got) != 0 {
		t.Fatalf("empty file reported: %+v", got)
	}

	cancel()
	<-stopped
	sink.mu.Lock()
	stale := sink.stale
	sink.mu.Unlock()
	if stale != 1 {
		t.Fatalf("stale marks = %d, want 1 for the held file", stale)
	}
}
