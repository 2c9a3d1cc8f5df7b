package scheduler

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"ffbatch/internal/catalog"
	"ffbatch/internal/checkpoint"
	"ffbatch/internal/config"
	"ffbatch/internal/jobrunner"
	"ffbatch/internal/ledger"
	"ffbatch/internal/logging"
	"ffbatch/internal/workspace"
)

// ErrNoMediaFiles reports that discovery found nothing to process.
var ErrNoMediaFiles = errors.New("no media files found")

// JobRunner runs one encode.
type JobRunner interface {
	Run(ctx context.Context, item catalog.WorkItem, attemptID string, onStatus func(jobrunner.Status)) jobrunner.Outcome
	WaitCleanups()
}

// Options tunes scheduling and persistence.
type Options struct {
	Concurrency        int
	Force              bool
	Watch              bool
	WatchSettle        time.Duration
	CheckpointInterval time.Duration
	StaleAfter         time.Duration
	FailedDisplay      time.Duration
	ShutdownGrace      time.Duration
	TeardownAttempts   int
	TeardownBackoff    time.Duration
	DiscoverAttempts   int
	MaxFailedAttempts  int
	Match              func(path string) bool
}

// OptionsFromConfig derives Options from cfg.
func OptionsFromConfig(cfg *config.Config) Options {
	return Options{
		Concurrency:        cfg.Batch.Concurrency,
		Watch:              cfg.Batch.Watch,
		WatchSettle:        cfg.WatchSettle(),
		CheckpointInterval: cfg.CheckpointInterval(),
		StaleAfter:         cfg.StaleAfter(),
		FailedDisplay:      cfg.FailedDisplay(),
		ShutdownGrace:      cfg.ShutdownGrace(),
		TeardownAttempts:   cfg.Batch.TeardownAttempts,
		TeardownBackoff:    cfg.TeardownBackoff(),
		DiscoverAttempts:   cfg.Batch.DiscoverAttempts,
		MaxFailedAttempts:  cfg.Batch.MaxFailedAttempts,
		Match:              cfg.HasExtension,
	}
}

// Summary reports what a Run did this session.
type Summary struct {
	Succeeded   int
	Reduced     int
	Aborted     int
	Failed      int
	Abandoned   int
	Interrupted int
	SavedBytes  int64
	Pending     int
	Elapsed     time.Duration
	Forced      bool
}

// Scheduler coordinates discovery, execution, and persistence for one workspace.
type Scheduler struct {
	opts        Options
	runner      JobRunner
	ws          *workspace.Workspace
	checkpoints *checkpoint.Store
	journal     *ledger.Journal
	logger      *slog.Logger
	newID       func() string

	st *state

	stopOnce  sync.Once
	stopCh    chan struct{}
	forceOnce sync.Once
	forceCh   chan struct{}

	saveMu sync.Mutex

	teardownOnce sync.Once
	teardownErr  error
}

// New constructs a Scheduler. The journal must be open.
func New(opts Options, runner JobRunner, ws *workspace.Workspace, cps *checkpoint.Store, journal *ledger.Journal, logger *slog.Logger) *Scheduler {
	if opts.Concurrency < 1 {
		opts.Concurrency = 1
	}
	if opts.TeardownAttempts < 1 {
		opts.TeardownAttempts = 1
	}
	return &Scheduler{
		opts:        opts,
		runner:      runner,
		ws:          ws,
		checkpoints: cps,
		journal:     journal,
		logger:      logging.NewComponentLogger(logger, "scheduler"),
		newID:       uuid.NewString,
		st:          newState(opts.Match),
		stopCh:      make(chan struct{}),
		forceCh:     make(chan struct{}),
	}
}

// Pause stops dequeuing. In-flight jobs run to completion.
func (s *Scheduler) Pause() {
	s.st.setPaused(true)
	s.logger.Info("scheduling paused", logging.String(logging.FieldEventType, "paused"))
}

// Resume continues dequeuing.
func (s *Scheduler) Resume() {
	s.st.setPaused(false)
	s.logger.Info("scheduling resumed", logging.String(logging.FieldEventType, "resumed"))
}

// TogglePause flips the paused flag and returns the new value.
func (s *Scheduler) TogglePause() bool {
	paused := !s.st.isPaused()
	if paused {
		s.Pause()
	} else {
		s.Resume()
	}
	return paused
}

// RequestRescan asks for rediscovery before the next dequeue.
func (s *Scheduler) RequestRescan() {
	s.st.requestRescan()
	s.logger.Info("rescan requested", logging.String(logging.FieldEventType, "rescan_requested"))
}

// Stop begins a cooperative shutdown. It is idempotent.
func (s *Scheduler) Stop() {
	s.stopOnce.Do(func() {
		s.st.setStopping()
		close(s.stopCh)
		s.logger.Info("shutdown requested; waiting for in-flight jobs",
			logging.String(logging.FieldEventType, "shutdown_requested"),
			logging.Duration("grace", s.opts.ShutdownGrace),
		)
	})
}

// ForceStop kills in-flight jobs immediately. It implies Stop.
func (s *Scheduler) ForceStop() {
	s.Stop()
	s.forceOnce.Do(func() {
		close(s.forceCh)
		s.logger.Warn("forced shutdown; killing in-flight jobs",
			logging.String(logging.FieldEventType, "shutdown_forced"),
		)
	})
}

// ApplyWatchEvent folds a filesystem change into the pending set.
func (s *Scheduler) ApplyWatchEvent(ev catalog.Event) {
	if s.st.applyWatchEvent(ev, s.opts.Force) {
		s.logger.Debug("pending set updated from watch",
			logging.String("op", ev.Op.String()),
			logging.Path(ev.Path),
		)
	}
}

// MarkStale flags the pending set as stale and schedules a rescan.
func (s *Scheduler) MarkStale() {
	s.st.catalog.MarkStale()
	s.st.notify()
}

// Run resumes or discovers work, drains it with the worker pool, and tears
// down. It returns ErrNoMediaFiles when discovery finds nothing at all.
func (s *Scheduler) Run(ctx context.Context) (Summary, error) {
	if err := s.resume(ctx); err != nil {
		return Summary{}, err
	}
	if err := s.retry("clean tmp", s.ws.CleanTmp); err != nil {
		s.logger.Warn("could not clean tmp dir before start", logging.Error(err))
	}

	jobCtx, killJobs := context.WithCancel(context.WithoutCancel(ctx))
	defer killJobs()

	loopCtx, stopLoops := context.WithCancel(ctx)
	defer stopLoops()
	go s.checkpointLoop(loopCtx)
	go func() {
		select {
		case <-ctx.Done():
			s.Stop()
		case <-loopCtx.Done():
		}
	}()
	watchDone := closedChan()
	if s.opts.Watch {
		watchDone = s.startWatch(loopCtx)
	}

	var wg sync.WaitGroup
	for i := 0; i < s.opts.Concurrency; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.worker(jobCtx)
		}()
	}
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	forced := false
	select {
	case <-done:
	case <-s.stopCh:
		forced = s.drainWorkers(done, killJobs)
	}
	stopLoops()
	<-watchDone

	summary := s.st.summary()
	summary.Forced = forced
	return summary, s.Teardown()
}

// drainWorkers waits for the workers after Stop, killing in-flight jobs when
// the shutdown grace runs out or ForceStop is called. A zero grace kills them
// at once. It reports whether jobs were killed.
func (s *Scheduler) drainWorkers(done <-chan struct{}, killJobs context.CancelFunc) bool {
	kill := func() bool {
		killJobs()
		<-done
		return true
	}
	if s.opts.ShutdownGrace <= 0 {
		if len(s.st.inFlightPaths()) == 0 {
			<-done
			return false
		}
		s.logger.Warn("no shutdown grace configured; killing in-flight jobs",
			logging.String(logging.FieldEventType, "shutdown_grace_expired"),
		)
		return kill()
	}
	timer := time.NewTimer(s.opts.ShutdownGrace)
	defer timer.Stop()
	select {
	case <-done:
		return false
	case <-timer.C:
		s.logger.Warn("shutdown grace expired; killing in-flight jobs",
			logging.String(logging.FieldEventType, "shutdown_grace_expired"),
		)
		return kill()
	case <-s.forceCh:
		return kill()
	}
}

func closedChan() <-chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}

func (s *Scheduler) worker(ctx context.Context) {
	for {
		item, ok := s.next(ctx)
		if !ok {
			return
		}
		s.execute(ctx, item)
	}
}

func (s *Scheduler) execute(ctx context.Context, item catalog.WorkItem) {
	attemptID := s.newID()
	s.st.startJob(item, attemptID)
	out := s.runner.Run(ctx, item, attemptID, func(st jobrunner.Status) {
		s.st.updateJob(item.Path, st)
	})
	s.complete(ctx, item, attemptID, out)
}

// next blocks until an item is available, the pending set drains (outside
// watch mode), or shutdown begins.
func (s *Scheduler) next(ctx context.Context) (catalog.WorkItem, bool) {
	for {
		if s.st.claimRescan() {
			s.rescan(ctx)
			s.st.finishRescan()
			continue
		}
		item, ok, wake, drained := s.st.pop(s.opts.Force)
		if ok {
			return item, true
		}
		if drained && !s.opts.Watch {
			return catalog.WorkItem{}, false
		}
		if wake == nil {
			return catalog.WorkItem{}, false
		}
		select {
		case <-wake:
		case <-s.stopCh:
			return catalog.WorkItem{}, false
		}
	}
}
