// Package watch turns filesystem notifications under the source roots into
// catalog events.
package watch

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"

	"ffbatch/internal/catalog"
	"ffbatch/internal/logging"
)

// Sink receives translated events.
type Sink interface {
	ApplyWatchEvent(ev catalog.Event)
	MarkStale()
}

// Feed watches every directory beneath a set of roots. New files are held
// until their size stops changing for the settle period, so a file still
// being copied in is never reported with a partial size.
type Feed struct {
	watcher *fsnotify.Watcher
	match   func(path string) bool
	exclude map[string]struct{}
	settle  time.Duration
	logger  *slog.Logger

	// held is only touched from the Run goroutine.
	held map[string]heldFile
	now  func() time.Time
}

type heldFile struct {
	size    int64
	changed time.Time
}

// New starts watching roots recursively. match filters created files;
// exclude lists directories that are never watched. settle is how long a new
// file's size must stay unchanged before it is reported.
func New(roots []string, match func(path string) bool, exclude []string, settle time.Duration, logger *slog.Logger) (*Feed, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create watcher: %w", err)
	}
	f := &Feed{
		watcher: w,
		match:   match,
		exclude: make(map[string]struct{}, len(exclude)),
		settle:  settle,
		logger:  logging.NewComponentLogger(logger, "watch"),
		held:    make(map[string]heldFile),
		now:     time.Now,
	}
	for _, dir := range exclude {
		f.exclude[filepath.Clean(dir)] = struct{}{}
	}
	for _, root := range roots {
		if err := f.addTree(root, false); err != nil {
			_ = w.Close()
			return nil, err
		}
	}
	return f, nil
}

// Close stops the watcher.
func (f *Feed) Close() error {
	return f.watcher.Close()
}

// Run forwards events to sink until ctx is done or the watcher closes. Files
// still held when it returns mark the sink stale so a later run finds them.
func (f *Feed) Run(ctx context.Context, sink Sink) error {
	poll := time.NewTicker(f.pollInterval())
	defer poll.Stop()
	defer func() {
		if len(f.held) > 0 {
			f.logger.Info("watch stopped with unsettled files; rescan scheduled",
				logging.Int("held", len(f.held)),
			)
			sink.MarkStale()
		}
	}()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-poll.C:
			f.releaseSettled(sink)
		case ev, ok := <-f.watcher.Events:
			if !ok {
				return nil
			}
			f.handle(ev, sink)
		case err, ok := <-f.watcher.Errors:
			if !ok {
				return nil
			}
			logging.WarnWithContext(f.logger, "watcher error; rescan scheduled", "watch_error",
				logging.Error(err),
				logging.String(logging.FieldImpact, "pending set may be stale until the next rescan"),
			)
			sink.MarkStale()
		}
	}
}

func (f *Feed) handle(ev fsnotify.Event, sink Sink) {
	info, statErr := os.Stat(ev.Name)
	isDir := statErr == nil && info.IsDir()
	if ev.Has(fsnotify.Create) && isDir {
		// Files may land in a new directory before its watch exists.
		if err := f.addTree(ev.Name, true); err != nil {
			logging.WarnWithContext(f.logger, "could not watch new directory", "watch_add_failed",
				logging.Path(ev.Name),
				logging.Error(err),
				logging.String(logging.FieldImpact, "files in this directory are picked up by the next rescan"),
			)
			sink.MarkStale()
		}
		return
	}
	var size int64
	if statErr == nil {
		size = info.Size()
	}
	out, ok := Translate(ev, isDir, size)
	if !ok {
		// Writes restart the quiet period of a file being copied in.
		if ev.Has(fsnotify.Write) && statErr == nil && info.Mode().IsRegular() && f.matches(ev.Name) {
			f.hold(ev.Name, size)
		}
		return
	}
	switch out.Op {
	case catalog.EventCreate:
		if f.matches(out.Path) {
			f.hold(out.Path, out.Size)
		}
		return
	case catalog.EventRemove:
		delete(f.held, out.Path)
	}
	f.logger.Debug("watch event", logging.String("op", out.Op.String()), logging.Path(out.Path))
	sink.ApplyWatchEvent(out)
}

func (f *Feed) matches(path string) bool {
	return f.match == nil || f.match(path)
}

func (f *Feed) hold(path string, size int64) {
	f.held[path] = heldFile{size: size, changed: f.now()}
}

// releaseSettled reports held files whose size has not changed for the
// settle period. Empty files keep waiting for content.
func (f *Feed) releaseSettled(sink Sink) {
	now := f.now()
	for path, h := range f.held {
		info, err := os.Stat(path)
		if err != nil || !info.Mode().IsRegular() {
			delete(f.held, path)
			continue
		}
		if info.Size() != h.size {
			f.held[path] = heldFile{size: info.Size(), changed: now}
			continue
		}
		if h.size == 0 || now.Sub(h.changed) < f.settle {
			continue
		}
		delete(f.held, path)
		f.logger.Debug("watch event", logging.String("op", catalog.EventCreate.String()), logging.Path(path))
		sink.ApplyWatchEvent(catalog.Event{Op: catalog.EventCreate, Path: path, Size: h.size})
	}
}

func (f *Feed) pollInterval() time.Duration {
	interval := f.settle / 4
	switch {
	case interval < 50*time.Millisecond:
		return 50 * time.Millisecond
	case interval > time.Second:
		return time.Second
	default:
		return interval
	}
}

// Translate maps a raw notification to a catalog event. Writes, chmods and
// directory creations yield nothing.
func Translate(ev fsnotify.Event, isDir bool, size int64) (catalog.Event, bool) {
	switch {
	case ev.Has(fsnotify.Remove), ev.Has(fsnotify.Rename):
		return catalog.Event{Op: catalog.EventRemove, Path: ev.Name}, true
	case ev.Has(fsnotify.Create):
		if isDir {
			return catalog.Event{}, false
		}
		return catalog.Event{Op: catalog.EventCreate, Path: ev.Name, Size: size}, true
	default:
		return catalog.Event{}, false
	}
}

// addTree watches root and its subdirectories. With holdFiles, regular files
// already present are held like new files.
func (f *Feed) addTree(root string, holdFiles bool) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if path == root {
				return err
			}
			f.logger.Debug("skipping unwatchable path", logging.Path(path), logging.Error(err))
			if d != nil && d.IsDir() {
				return fs.SkipDir
			}
			return nil
		}
		if d.IsDir() {
			if _, skip := f.exclude[filepath.Clean(path)]; skip {
				return fs.SkipDir
			}
			if err := f.watcher.Add(path); err != nil {
				if errors.Is(err, fs.ErrNotExist) {
					return fs.SkipDir
				}
				return fmt.Errorf("watch %s: %w", path, err)
			}
			return nil
		}
		if !holdFiles || !d.Type().IsRegular() {
			return nil
		}
		if !f.matches(path) {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return nil
		}
		f.hold(path, info.Size())
		return nil
	})
}
