package scheduler

import (
	"sort"
	"time"

	"ffbatch/internal/stats"
)

// JobView is the display state of one running job.
type JobView struct {
	Path         string
	AttemptID    string
	Started      time.Time
	Elapsed      time.Duration
	OriginalSize int64
	OutputSize   int64
	Percent      float64
	Speed        float64
	Phase        string
}

// Snapshot is the on-demand view handed to the display sink.
type Snapshot struct {
	Jobs             []JobView
	Failed           []string
	Messages         []string
	Pending          int
	PendingBytes     int64
	Completed        int
	SessionCompleted int
	SavedBytes       int64
	Paused           bool
	Stopping         bool
	RescanPending    bool
	Estimate         stats.Estimate
}

// Snapshot returns the current display state. Expired entries in the
// transient failed set are pruned.
func (s *Scheduler) Snapshot() Snapshot {
	now := time.Now()
	pendingCount := s.st.catalog.Len()
	pendingBytes := s.st.catalog.Bytes()
	records := s.st.ledger.Records()

	st := s.st
	st.mu.Lock()
	snap := Snapshot{
		Pending:          pendingCount,
		PendingBytes:     pendingBytes,
		Completed:        len(records),
		SessionCompleted: st.session.Succeeded + st.session.Aborted,
		Paused:           st.paused,
		Stopping:         st.stopping,
		RescanPending:    st.rescanRequested || st.rescanning,
		Messages:         append([]string(nil), st.messages...),
	}
	speeds := make([]float64, 0, len(st.inFlight))
	for _, job := range st.sortedJobsLocked() {
		snap.Jobs = append(snap.Jobs, JobView{
			Path:         job.item.Path,
			AttemptID:    job.attemptID,
			Started:      job.started,
			Elapsed:      now.Sub(job.started),
			OriginalSize: job.item.Size,
			OutputSize:   job.status.OutputSize,
			Percent:      job.status.Percent,
			Speed:        job.status.Speed,
			Phase:        job.status.Phase,
		})
		speeds = append(speeds, job.status.Speed)
		snap.PendingBytes += job.item.Size
	}
	for path, until := range st.failed {
		if now.After(until) {
			delete(st.failed, path)
			continue
		}
		snap.Failed = append(snap.Failed, path)
	}
	elapsed := now.Sub(st.sessionStart)
	st.mu.Unlock()

	snap.SavedBytes = s.st.ledger.SavedBytes()
	snap.Estimate = stats.Compute(stats.EstimateInput{
		Records:          records,
		InFlightSpeeds:   speeds,
		Remaining:        pendingCount + len(snap.Jobs),
		SessionCompleted: snap.SessionCompleted,
		PendingBytes:     snap.PendingBytes,
		Parallelism:      s.opts.Concurrency,
		Elapsed:          elapsed,
	})
	sort.Strings(snap.Failed)
	return snap
}
