package scheduler

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/dustin/go-humanize"

	"ffbatch/internal/catalog"
	"ffbatch/internal/jobrunner"
	"ffbatch/internal/logging"
)

// complete folds a job outcome into the ledger, journal, and state, then
// persists a checkpoint. Records are appended in completion order.
func (s *Scheduler) complete(ctx context.Context, item catalog.WorkItem, attemptID string, out jobrunner.Outcome) {
	logger := s.logger.With(logging.Path(item.Path), logging.String(logging.FieldAttemptID, attemptID))
	persistCtx := context.WithoutCancel(ctx)
	name := filepath.Base(item.Path)

	if out.Record != nil {
		if err := s.journal.Append(persistCtx, *out.Record); err != nil {
			logging.WarnWithContext(logger, "journal append failed", "journal_append_failed",
				logging.Error(err),
				logging.String(logging.FieldImpact, "record survives only in the checkpoint"),
			)
		}
		if out.Record.Successful {
			if err := s.journal.ClearFailure(persistCtx, item.Path); err != nil {
				logger.Debug("clear failure count failed", logging.Error(err))
			}
		}
	}

	var exhausted bool
	if out.State == jobrunner.StateFailed {
		count, err := s.journal.RecordFailure(persistCtx, item.Path, out.ExitCode, out.QuarantinePath)
		if err != nil {
			logging.WarnWithContext(logger, "could not record failure count", "failure_count_failed",
				logging.Error(err),
				logging.String(logging.FieldImpact, "retry cap may not apply to this file"),
			)
		}
		if s.opts.MaxFailedAttempts > 0 && count >= s.opts.MaxFailedAttempts {
			exhausted = true
			logging.WarnWithContext(logger, "failure cap reached; file will not be retried", "retry_cap_reached",
				logging.Int("failures", count),
				logging.String(logging.FieldImpact, "file excluded from future runs"),
				logging.String(logging.FieldErrorHint, "inspect the quarantine record, then run with --retry-failed"),
			)
		}
	}

	st := s.st
	st.mu.Lock()
	delete(st.inFlight, item.Path)
	switch out.State {
	case jobrunner.StateSucceeded:
		st.ledger.Append(*out.Record)
		st.session.Succeeded++
		if out.Record.Reduced() {
			st.session.Reduced++
			st.session.SavedBytes += out.Record.Saved()
			st.addMessageLocked(fmt.Sprintf("%s: saved %s", name, humanize.IBytes(uint64(out.Record.Saved()))))
		} else {
			st.addMessageLocked(fmt.Sprintf("%s: no savings, source kept", name))
		}
	case jobrunner.StateAborted:
		st.ledger.Append(*out.Record)
		st.session.Aborted++
		st.addMessageLocked(fmt.Sprintf("%s: aborted, output grew past source", name))
	case jobrunner.StateFailed:
		st.session.Failed++
		st.failed[item.Path] = time.Now().Add(s.opts.FailedDisplay)
		// Failed files are remembered by the journal's failure table, not
		// the pending set; resume and rescans bring them back until capped.
		delete(st.retry, item.Path)
		if exhausted {
			st.exhausted[item.Path] = struct{}{}
		}
		st.addMessageLocked(fmt.Sprintf("%s: failed with exit code %d", name, out.ExitCode))
	case jobrunner.StateAbandoned:
		st.session.Abandoned++
		st.retry[item.Path] = item
		st.addMessageLocked(fmt.Sprintf("%s: abandoned after an unexpected error", name))
	case jobrunner.StateInterrupted:
		st.session.Interrupted++
		st.retry[item.Path] = item
	case jobrunner.StateSkipped:
		delete(st.retry, item.Path)
	case jobrunner.StateDeferred:
		// Kept for the next run; in watch mode the file's writes requeue it.
		st.retry[item.Path] = item
		st.addMessageLocked(fmt.Sprintf("%s: empty, waiting for content", name))
	}
	if out.Record != nil {
		delete(st.retry, item.Path)
	}
	st.notifyLocked()
	st.mu.Unlock()

	if err := s.SaveCheckpoint(); err != nil {
		logging.WarnWithContext(logger, "checkpoint save failed", "checkpoint_save_failed",
			logging.Error(err),
			logging.String(logging.FieldImpact, "resume falls back to the journal and previous checkpoint"),
		)
	}
}
