package scheduler

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"ffbatch/internal/catalog"
	"ffbatch/internal/checkpoint"
	"ffbatch/internal/logging"
	"ffbatch/internal/watch"
)

// resume rebuilds state from the journal and checkpoint, falling back to
// discovery when no usable pending list exists.
func (s *Scheduler) resume(ctx context.Context) error {
	records, err := s.journal.Records(ctx)
	if err != nil {
		return fmt.Errorf("read journal: %w", err)
	}
	s.st.ledger.Merge(records)

	cp := s.checkpoints.Import(s.opts.StaleAfter)
	if cp != nil {
		added := s.st.ledger.Merge(cp.CompletedLedger)
		if added > 0 {
			// Records the journal missed, e.g. written before it existed.
			for _, rec := range cp.CompletedLedger {
				if err := s.journal.Append(ctx, rec); err != nil {
					s.logger.Debug("backfill journal failed", logging.Error(err))
					break
				}
			}
		}
	}

	exhausted, err := s.journal.ExhaustedPaths(ctx, s.opts.MaxFailedAttempts)
	if err != nil {
		return fmt.Errorf("read failure caps: %w", err)
	}
	s.st.mu.Lock()
	for path := range exhausted {
		s.st.exhausted[path] = struct{}{}
	}
	s.st.mu.Unlock()

	if cp != nil && !cp.NeedsRescan && len(cp.PendingPaths) > 0 {
		items := s.restorePending(cp)
		s.st.catalog.Replace(items)
		s.requeueFailures(ctx)
		s.st.mu.Lock()
		s.st.creationTime = cp.CreationTime
		s.st.mu.Unlock()
		s.logger.Info("resumed from checkpoint",
			logging.String(logging.FieldEventType, "resume"),
			logging.Int("pending", len(items)),
			logging.Int("ledger_records", s.st.ledger.Len()),
			logging.String("created", cp.CreationTime.Format(time.RFC3339)),
		)
		return nil
	}

	found, err := s.discover(ctx)
	if err != nil && found == 0 {
		return err
	}
	if found == 0 && !s.opts.Watch {
		return ErrNoMediaFiles
	}
	return nil
}

// restorePending stats the checkpoint's pending paths; vanished files and
// paths already in the ledger are dropped.
func (s *Scheduler) restorePending(cp *checkpoint.Checkpoint) []catalog.WorkItem {
	done := s.doneSet()
	items := make([]catalog.WorkItem, 0, len(cp.PendingPaths))
	var seq uint64
	for _, path := range cp.PendingPaths {
		if _, ok := done[path]; ok {
			continue
		}
		info, err := os.Stat(path)
		if err != nil || !info.Mode().IsRegular() {
			s.logger.Debug("pending file vanished since checkpoint", logging.Path(path))
			continue
		}
		items = append(items, catalog.WorkItem{Path: path, Size: info.Size(), Seq: seq})
		seq++
	}
	return items
}

// requeueFailures adds previously failed files that are still under the
// retry cap back to the pending set.
func (s *Scheduler) requeueFailures(ctx context.Context) {
	failures, err := s.journal.Failures(ctx)
	if err != nil {
		s.logger.Warn("could not read failed files; they wait for the next rescan", logging.Error(err))
		return
	}
	done := s.doneSet()
	for _, f := range failures {
		if _, ok := done[f.Path]; ok {
			continue
		}
		info, err := os.Stat(f.Path)
		if err != nil || !info.Mode().IsRegular() {
			continue
		}
		s.st.catalog.Add(f.Path, info.Size())
	}
}

func (s *Scheduler) doneSet() map[string]struct{} {
	done := s.st.ledger.DonePaths(s.opts.Force)
	s.st.mu.Lock()
	for path := range s.st.exhausted {
		done[path] = struct{}{}
	}
	s.st.mu.Unlock()
	for path := range s.st.inFlightPaths() {
		done[path] = struct{}{}
	}
	return done
}

// discover walks the roots and replaces the pending set. It returns the
// number of candidate files seen, before reconciliation.
func (s *Scheduler) discover(ctx context.Context) (int, error) {
	items, err := catalog.Discover(ctx, s.ws.Roots, catalog.DiscoverOptions{
		Match:    s.opts.Match,
		Exclude:  s.ws.Excluded(),
		Attempts: s.opts.DiscoverAttempts,
		Backoff:  s.opts.TeardownBackoff,
		Logger:   s.logger,
	})
	if err != nil {
		logging.WarnWithContext(s.logger, "discovery incomplete", "discover_failed",
			logging.Error(err),
			logging.String(logging.FieldImpact, "files under failing roots are not scheduled"),
		)
		if len(items) == 0 {
			return 0, err
		}
	}
	pending := catalog.Reconcile(items, s.doneSet())
	s.st.catalog.Replace(pending)
	s.st.mu.Lock()
	s.st.creationTime = time.Now().UTC()
	s.st.retry = make(map[string]catalog.WorkItem)
	s.st.mu.Unlock()
	s.logger.Info("discovery complete",
		logging.String(logging.FieldEventType, "discover"),
		logging.Int("found", len(items)),
		logging.Int("pending", len(pending)),
		logging.Int64("pending_bytes", s.st.catalog.Bytes()),
	)
	return len(items), nil
}

func (s *Scheduler) rescan(ctx context.Context) {
	if _, err := s.discover(ctx); err != nil {
		s.st.catalog.MarkStale()
		return
	}
	if err := s.SaveCheckpoint(); err != nil {
		s.logger.Warn("checkpoint save after rescan failed", logging.Error(err))
	}
}

// SaveCheckpoint writes the current state.
func (s *Scheduler) SaveCheckpoint() error {
	s.saveMu.Lock()
	defer s.saveMu.Unlock()

	pending := s.st.pendingItems()
	paths := make([]string, len(pending))
	var total int64
	for i, item := range pending {
		paths[i] = item.Path
		total += item.Size
	}
	s.st.mu.Lock()
	created := s.st.creationTime
	needsRescan := s.st.rescanRequested
	s.st.mu.Unlock()

	return s.checkpoints.Save(checkpoint.Checkpoint{
		CreationTime:    created,
		NeedsRescan:     needsRescan || s.st.catalog.NeedsRescan(),
		TotalSize:       total,
		SavedBytes:      s.st.ledger.SavedBytes(),
		CompletedLedger: s.st.ledger.Records(),
		PendingPaths:    paths,
	})
}

func (s *Scheduler) checkpointLoop(ctx context.Context) {
	if s.opts.CheckpointInterval <= 0 {
		return
	}
	ticker := time.NewTicker(s.opts.CheckpointInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := s.SaveCheckpoint(); err != nil {
				s.logger.Warn("periodic checkpoint failed", logging.Error(err))
			}
		}
	}
}

// startWatch runs the watch feed until ctx ends. The returned channel closes
// once the feed has stopped.
func (s *Scheduler) startWatch(ctx context.Context) <-chan struct{} {
	feed, err := watch.New(s.ws.Roots, s.opts.Match, s.ws.Excluded(), s.opts.WatchSettle, s.logger)
	if err != nil {
		logging.WarnWithContext(s.logger, "watch mode unavailable", "watch_unavailable",
			logging.Error(err),
			logging.String(logging.FieldImpact, "new files are only found by manual rescans"),
			logging.String(logging.FieldErrorHint, "raise fs.inotify.max_user_watches"),
		)
		return closedChan()
	}
	done := make(chan struct{})
	go func() {
		defer close(done)
		defer feed.Close()
		if err := feed.Run(ctx, s); err != nil && ctx.Err() == nil {
			s.logger.Warn("watch feed stopped", logging.Error(err))
		}
	}()
	return done
}

// Teardown flushes the checkpoint and removes the tmp directory, retrying
// each with backoff. It is idempotent.
func (s *Scheduler) Teardown() error {
	s.teardownOnce.Do(func() {
		s.runner.WaitCleanups()
		var errs []error
		if err := s.retry("save checkpoint", s.SaveCheckpoint); err != nil {
			errs = append(errs, err)
		}
		if err := s.retry("remove tmp dir", func() error { return os.RemoveAll(s.ws.TmpDir) }); err != nil {
			errs = append(errs, err)
		}
		if len(errs) > 0 {
			s.teardownErr = errors.Join(errs...)
		}
	})
	return s.teardownErr
}

func (s *Scheduler) retry(what string, op func() error) error {
	delay := s.opts.TeardownBackoff
	var err error
	for attempt := 1; attempt <= s.opts.TeardownAttempts; attempt++ {
		if err = op(); err == nil {
			return nil
		}
		if attempt == s.opts.TeardownAttempts {
			break
		}
		s.logger.Warn("teardown step failed; retrying",
			logging.String("step", what),
			logging.Int("attempt", attempt),
			logging.Duration("backoff", delay),
			logging.Error(err),
		)
		time.Sleep(delay)
		delay *= 2
	}
	return fmt.Errorf("%s: %w", what, err)
}
