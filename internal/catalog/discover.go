package catalog

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"ffbatch/internal/logging"
	"ffbatch/internal/services"
)

// WorkItem identifies one source file awaiting processing.
type WorkItem struct {
	Path string
	Size int64
	// Seq is the discovery order, used to break size ties.
	Seq uint64
}

// DiscoverOptions controls Discover.
type DiscoverOptions struct {
	// Match reports whether a file path is a candidate. Nil accepts everything.
	Match func(path string) bool
	// Exclude lists directories that are never descended into.
	Exclude []string
	// Attempts bounds retries of a root that cannot be walked. Defaults to 1.
	Attempts int
	// Backoff is the initial delay between attempts; it doubles each retry.
	Backoff time.Duration
	Logger  *slog.Logger
}

// IsInternalName reports whether name is a temp file written by ffbatch.
func IsInternalName(name string) bool {
	return strings.HasPrefix(name, ".ffbatch-")
}

// Discover recursively enumerates candidate files under roots. An unreadable
// subtree is logged and skipped. A root that cannot be walked is retried up
// to opts.Attempts times before Discover gives up on it; the returned error
// joins every root that failed while items from healthy roots are still
// returned.
func Discover(ctx context.Context, roots []string, opts DiscoverOptions) ([]WorkItem, error) {
	logger := logging.NewComponentLogger(opts.Logger, "catalog")
	attempts := opts.Attempts
	if attempts < 1 {
		attempts = 1
	}
	exclude := make(map[string]struct{}, len(opts.Exclude))
	for _, dir := range opts.Exclude {
		if dir != "" {
			exclude[filepath.Clean(dir)] = struct{}{}
		}
	}

	var (
		items []WorkItem
		seq   uint64
		errs  []error
		seen  = make(map[string]struct{})
	)
	for _, root := range roots {
		var found []WorkItem
		err := retryRoot(ctx, attempts, opts.Backoff, logger, root, func() error {
			var walkErr error
			found, walkErr = walkRoot(ctx, root, opts.Match, exclude, logger)
			return walkErr
		})
		if err != nil {
			errs = append(errs, err)
			continue
		}
		for _, item := range found {
			if _, dup := seen[item.Path]; dup {
				continue
			}
			seen[item.Path] = struct{}{}
			item.Seq = seq
			seq++
			items = append(items, item)
		}
	}
	return items, errors.Join(errs...)
}

func retryRoot(ctx context.Context, attempts int, backoff time.Duration, logger *slog.Logger, root string, op func() error) error {
	delay := backoff
	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		lastErr = op()
		if lastErr == nil {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if !services.Retryable(lastErr) || attempt == attempts {
			break
		}
		logging.WarnWithContext(logger, "discovery failed; retrying", "discover_retry",
			logging.String("root", root),
			logging.Int("attempt", attempt),
			logging.Duration("backoff", delay),
			logging.Error(lastErr),
			logging.String(logging.FieldImpact, "root will be retried"),
		)
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}
		delay *= 2
	}
	return lastErr
}

func walkRoot(ctx context.Context, root string, match func(string) bool, exclude map[string]struct{}, logger *slog.Logger) ([]WorkItem, error) {
	info, err := os.Stat(root)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, services.Wrap(services.ErrNotFound, "catalog", "discover", fmt.Sprintf("root %s", root), err)
		}
		return nil, services.Wrap(services.ErrTransient, "catalog", "discover", fmt.Sprintf("stat root %s", root), err)
	}
	if !info.IsDir() {
		return nil, services.Wrap(services.ErrValidation, "catalog", "discover", fmt.Sprintf("%s is not a directory", root), nil)
	}

	var items []WorkItem
	err = filepath.WalkDir(root, func(path string, d fs.DirEntry, walkErr error) error {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		if walkErr != nil {
			if path == root {
				return walkErr
			}
			logging.WarnWithContext(logger, "skipping unreadable path", "discover_skip",
				logging.Path(path),
				logging.Error(walkErr),
				logging.String(logging.FieldImpact, "files below this path are not scheduled"),
				logging.String(logging.FieldErrorHint, "check permissions on the directory"),
			)
			if d != nil && d.IsDir() {
				return fs.SkipDir
			}
			return nil
		}
		if d.IsDir() {
			if _, skip := exclude[filepath.Clean(path)]; skip && path != root {
				return fs.SkipDir
			}
			return nil
		}
		if !d.Type().IsRegular() || IsInternalName(d.Name()) {
			return nil
		}
		if match != nil && !match(path) {
			return nil
		}
		fi, err := d.Info()
		if err != nil {
			logger.Debug("file vanished during discovery", logging.Path(path), logging.Error(err))
			return nil
		}
		items = append(items, WorkItem{Path: path, Size: fi.Size()})
		return nil
	})
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return nil, err
		}
		return nil, services.Wrap(services.ErrTransient, "catalog", "discover", fmt.Sprintf("walk %s", root), err)
	}
	return items, nil
}
