package scheduler

import (
	"sort"
	"sync"
	"time"

	"ffbatch/internal/catalog"
	"ffbatch/internal/jobrunner"
	"ffbatch/internal/ledger"
)

const maxMessages = 20

type inFlight struct {
	item      catalog.WorkItem
	attemptID string
	started   time.Time
	status    jobrunner.Status
}

// state is the scheduler's shared bookkeeping. The catalog and ledger guard
// themselves; everything else is guarded by mu.
type state struct {
	catalog *catalog.Catalog
	ledger  *ledger.Ledger

	mu        sync.Mutex
	wake      chan struct{}
	inFlight  map[string]*inFlight
	retry     map[string]catalog.WorkItem
	exhausted map[string]struct{}
	failed    map[string]time.Time
	messages  []string

	paused          bool
	stopping        bool
	rescanRequested bool
	rescanning      bool

	sessionStart time.Time
	creationTime time.Time
	session      Summary
}

func newState(match func(string) bool) *state {
	return &state{
		catalog:      catalog.New(match),
		ledger:       ledger.New(),
		wake:         make(chan struct{}),
		inFlight:     make(map[string]*inFlight),
		retry:        make(map[string]catalog.WorkItem),
		exhausted:    make(map[string]struct{}),
		failed:       make(map[string]time.Time),
		sessionStart: time.Now(),
		creationTime: time.Now().UTC(),
	}
}

func (s *state) notifyLocked() {
	close(s.wake)
	s.wake = make(chan struct{})
}

func (s *state) notify() {
	s.mu.Lock()
	s.notifyLocked()
	s.mu.Unlock()
}

func (s *state) setPaused(v bool) {
	s.mu.Lock()
	s.paused = v
	s.notifyLocked()
	s.mu.Unlock()
}

func (s *state) isPaused() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.paused
}

func (s *state) setStopping() {
	s.mu.Lock()
	s.stopping = true
	s.notifyLocked()
	s.mu.Unlock()
}

func (s *state) requestRescan() {
	s.mu.Lock()
	s.rescanRequested = true
	s.notifyLocked()
	s.mu.Unlock()
}

// claimRescan reports whether the caller should run a pending rescan. Only
// one caller wins until finishRescan.
func (s *state) claimRescan() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopping || s.rescanning {
		return false
	}
	if !s.rescanRequested && !s.catalog.NeedsRescan() {
		return false
	}
	s.rescanRequested = false
	s.rescanning = true
	return true
}

func (s *state) finishRescan() {
	s.mu.Lock()
	s.rescanning = false
	s.notifyLocked()
	s.mu.Unlock()
}

// isDoneLocked reports whether path must not be scheduled: it is recorded in the
// ledger, running, or past the failure cap.
func (s *state) isDoneLocked(path string, force bool) bool {
	if s.ledger.Done(path, force) {
		return true
	}
	if _, ok := s.inFlight[path]; ok {
		return true
	}
	_, ok := s.exhausted[path]
	return ok
}

// pop claims the next item. When none is available it returns a channel that
// closes on the next state change, or nil once shutdown has begun. drained
// means nothing is pending, running, or about to be rediscovered.
func (s *state) pop(force bool) (item catalog.WorkItem, ok bool, wake <-chan struct{}, drained bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopping {
		return catalog.WorkItem{}, false, nil, true
	}
	if !s.paused && !s.rescanning {
		for {
			item, ok = s.catalog.Pop(nil)
			if !ok {
				break
			}
			// A ledger or in-flight path in pending is a contradiction
			// resolved in favour of the ledger.
			if s.isDoneLocked(item.Path, force) {
				continue
			}
			s.inFlight[item.Path] = &inFlight{item: item, started: time.Now()}
			return item, true, nil, false
		}
	}
	drained = !s.paused && !s.rescanning && !s.rescanRequested &&
		len(s.inFlight) == 0 && s.catalog.Len() == 0 && !s.catalog.NeedsRescan()
	return catalog.WorkItem{}, false, s.wake, drained
}

func (s *state) startJob(item catalog.WorkItem, attemptID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if job, ok := s.inFlight[item.Path]; ok {
		job.attemptID = attemptID
		job.started = time.Now()
	}
}

func (s *state) updateJob(path string, st jobrunner.Status) {
	s.mu.Lock()
	if job, ok := s.inFlight[path]; ok {
		job.status = st
	}
	s.mu.Unlock()
}

func (s *state) applyWatchEvent(ev catalog.Event, force bool) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopping {
		return false
	}
	if ev.Op == catalog.EventRemove {
		delete(s.retry, ev.Path)
	}
	changed := s.catalog.ApplyWatchEvent(ev, func(path string) bool {
		return s.isDoneLocked(path, force)
	})
	if changed {
		s.notifyLocked()
	}
	return changed
}

func (s *state) addMessageLocked(msg string) {
	s.messages = append(s.messages, msg)
	if len(s.messages) > maxMessages {
		s.messages = s.messages[len(s.messages)-maxMessages:]
	}
}

// pendingItems lists everything that still needs work: queued, running,
// and failed-but-retryable items.
func (s *state) pendingItems() []catalog.WorkItem {
	items := s.catalog.Items()
	s.mu.Lock()
	seen := make(map[string]struct{}, len(items))
	for _, item := range items {
		seen[item.Path] = struct{}{}
	}
	for path, job := range s.inFlight {
		if _, ok := seen[path]; !ok {
			items = append(items, job.item)
			seen[path] = struct{}{}
		}
	}
	for path, item := range s.retry {
		if _, ok := seen[path]; !ok {
			items = append(items, item)
			seen[path] = struct{}{}
		}
	}
	s.mu.Unlock()
	return catalog.Order(items)
}

func (s *state) summary() Summary {
	s.mu.Lock()
	out := s.session
	out.Elapsed = time.Since(s.sessionStart)
	out.Pending = s.catalog.Len() + len(s.retry)
	s.mu.Unlock()
	return out
}

func (s *state) inFlightPaths() map[string]struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]struct{}, len(s.inFlight))
	for path := range s.inFlight {
		out[path] = struct{}{}
	}
	return out
}

func (s *state) sortedJobsLocked() []*inFlight {
	jobs := make([]*inFlight, 0, len(s.inFlight))
	for _, job := range s.inFlight {
		jobs = append(jobs, job)
	}
	sort.Slice(jobs, func(i, j int) bool {
		if !jobs[i].started.Equal(jobs[j].started) {
			return jobs[i].started.Before(jobs[j].started)
		}
		return jobs[i].item.Path < jobs[j].item.Path
	})
	return jobs
}
