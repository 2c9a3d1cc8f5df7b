package scheduler

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"sort"
	"testing"
	"time"

	"ffbatch/internal/checkpoint"
	"ffbatch/internal/config"
	"ffbatch/internal/fileutil"
	"ffbatch/internal/jobrunner"
	"ffbatch/internal/ledger"
	"ffbatch/internal/logging"
	"ffbatch/internal/quarantine"
	"ffbatch/internal/testsupport"
	"ffbatch/internal/workspace"
)

type harness struct {
	cfg     *config.Config
	root    string
	ws      *workspace.Workspace
	enc     *testsupport.FakeEncoder
	journal *ledger.Journal
	cps     *checkpoint.Store
}

func newHarness(t *testing.T, def testsupport.Script, opts ...testsupport.ConfigOption) *harness {
	t.Helper()
	cfg := testsupport.NewConfig(t, opts...)
	root := filepath.Join(testsupport.BaseDir(cfg), "media")
	if err := os.MkdirAll(root, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	ws, err := workspace.Resolve(cfg.Paths.StateDir, []string{root})
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if err := ws.Ensure(); err != nil {
		t.Fatalf("Ensure: %v", err)
	}
	return &harness{
		cfg:     cfg,
		root:    root,
		ws:      ws,
		enc:     testsupport.NewFakeEncoder(def),
		journal: testsupport.MustOpenJournal(t),
		cps:     checkpoint.NewStore(ws.CheckpointPath, logging.NewNop()),
	}
}

func (h *harness) file(t *testing.T, name string, size int64) string {
	t.Helper()
	path := filepath.Join(h.root, name)
	testsupport.WriteFile(t, path, size)
	return path
}

func (h *harness) scheduler(mutate ...func(*Options)) *Scheduler {
	opts := OptionsFromConfig(h.cfg)
	for _, m := range mutate {
		m(&opts)
	}
	q := quarantine.NewStore(h.ws.QuarantineDir, h.ws.ErrorsDir)
	runner := jobrunner.New(h.enc, h.ws, q, jobrunner.OptionsFromConfig(h.cfg), logging.NewNop())
	return New(opts, runner, h.ws, h.cps, h.journal, logging.NewNop())
}

func runWithTimeout(t *testing.T, s *Scheduler) (Summary, error) {
	t.Helper()
	type result struct {
		sum Summary
		err error
	}
	ch := make(chan result, 1)
	go func() {
		sum, err := s.Run(context.Background())
		ch <- result{sum, err}
	}()
	select {
	case r := <-ch:
		return r.sum, r.err
	case <-time.After(15 * time.Second):
		t.Fatal("scheduler did not finish")
		return Summary{}, nil
	}
}

func TestConcurrencyBound(t *testing.T) {
	h := newHarness(t, testsupport.Script{Sizes: []int64{1, 2}, Interval: 30 * time.Millisecond, FinalSize: 10},
		testsupport.WithConcurrency(2))
	for i := 0; i < 6; i++ {
		h.file(t, string(rune('a'+i))+".mkv", int64(100+i))
	}

	sum, err := runWithTimeout(t, h.scheduler())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if got := h.enc.MaxRunning(); got > 2 {
		t.Fatalf("max running = %d, want <= 2", got)
	}
	if h.enc.MaxRunning() < 2 {
		t.Fatalf("pool never ran 2 jobs at once")
	}
	if sum.Succeeded != 6 || sum.Reduced != 6 {
		t.Fatalf("summary = %+v", sum)
	}
}

func TestLargestFirstScenario(t *testing.T) {
	h := newHarness(t, testsupport.Script{}, testsupport.WithConcurrency(1), testsupport.WithOverwrite())
	a := h.file(t, "a.mkv", 1000)
	b := h.file(t, "b.mkv", 100)
	h.enc.Scripts["a.mkv"] = testsupport.Script{Sizes: []int64{100}, FinalSize: 400}
	h.enc.Scripts["b.mkv"] = testsupport.Script{Sizes: []int64{50}, FinalSize: 120}

	s := h.scheduler()
	sum, err := runWithTimeout(t, s)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if got := h.enc.Started(); !reflect.DeepEqual(got, []string{a, b}) {
		t.Fatalf("start order = %v, want [a b]", got)
	}

	recA, _ := s.st.ledger.Latest(a)
	if !recA.Successful || recA.NewSize != 400 || !recA.Replaced {
		t.Fatalf("record A = %+v", recA)
	}
	recB, _ := s.st.ledger.Latest(b)
	if !recB.Successful || recB.Replaced || recB.Saved() != 0 {
		t.Fatalf("record B = %+v", recB)
	}
	if fileutil.FileSize(b) != 100 {
		t.Fatal("B replaced although output was larger")
	}
	if sum.SavedBytes != 600 || s.st.ledger.SavedBytes() != 600 {
		t.Fatalf("saved = %d / %d, want 600", sum.SavedBytes, s.st.ledger.SavedBytes())
	}

	cp := h.cps.Load()
	if cp == nil || cp.SavedBytes != 600 || len(cp.CompletedLedger) != 2 || len(cp.PendingPaths) != 0 {
		t.Fatalf("checkpoint = %+v", cp)
	}
	recs, err := h.journal.Records(context.Background())
	if err != nil || len(recs) != 2 {
		t.Fatalf("journal records = %d, %v", len(recs), err)
	}
}

func TestEveryItemEndsInExactlyOnePlace(t *testing.T) {
	h := newHarness(t, testsupport.Script{FinalSize: 10}, testsupport.WithConcurrency(3))
	paths := map[string]string{
		"ok.mkv":     h.file(t, "ok.mkv", 100),
		"fail.mkv":   h.file(t, "fail.mkv", 100),
		"grow.mkv":   h.file(t, "grow.mkv", 100),
		"nosave.mkv": h.file(t, "nosave.mkv", 100),
		"hold.mkv":   h.file(t, "hold.mkv", 100),
	}
	h.enc.Scripts["fail.mkv"] = testsupport.Script{ExitCode: 1, FinalSize: -1}
	h.enc.Scripts["grow.mkv"] = testsupport.Script{Sizes: []int64{500}, Hold: true}
	h.enc.Scripts["nosave.mkv"] = testsupport.Script{FinalSize: 150}
	h.enc.Scripts["hold.mkv"] = testsupport.Script{Sizes: []int64{5}, Hold: true}

	s := h.scheduler(func(o *Options) { o.ShutdownGrace = 50 * time.Millisecond })
	go func() {
		deadline := time.Now().Add(5 * time.Second)
		for time.Now().Before(deadline) {
			if s.st.ledger.Len() >= 3 {
				break
			}
			time.Sleep(10 * time.Millisecond)
		}
		s.Stop()
	}()
	if _, err := runWithTimeout(t, s); err != nil {
		t.Fatalf("Run: %v", err)
	}

	ledgerSet := map[string]bool{}
	for _, r := range s.st.ledger.Records() {
		ledgerSet[r.Path] = true
	}
	quarantined := map[string]bool{}
	failures, err := h.journal.Failures(context.Background())
	if err != nil {
		t.Fatalf("Failures: %v", err)
	}
	for _, f := range failures {
		quarantined[f.Path] = true
	}
	pending := map[string]bool{}
	cp := h.cps.Load()
	if cp == nil {
		t.Fatal("no checkpoint after run")
	}
	for _, p := range cp.PendingPaths {
		pending[p] = true
	}

	for name, path := range paths {
		n := 0
		for _, set := range []map[string]bool{ledgerSet, quarantined, pending} {
			if set[path] {
				n++
			}
		}
		if n != 1 {
			t.Fatalf("%s appears in %d places (ledger=%v quarantine=%v pending=%v)",
				name, n, ledgerSet[path], quarantined[path], pending[path])
		}
	}
	if !quarantined[paths["fail.mkv"]] || !pending[paths["hold.mkv"]] {
		t.Fatalf("unexpected placement: quarantine=%v pending=%v", quarantined, pending)
	}
	if rec, _ := s.st.ledger.Latest(paths["grow.mkv"]); rec.Successful {
		t.Fatal("grown output recorded as success")
	}
}

func TestPauseStopsDequeuing(t *testing.T) {
	h := newHarness(t, testsupport.Script{FinalSize: 10})
	h.file(t, "a.mkv", 100)
	s := h.scheduler()
	s.Pause()

	done := make(chan error, 1)
	go func() {
		_, err := s.Run(context.Background())
		done <- err
	}()
	time.Sleep(150 * time.Millisecond)
	if n := len(h.enc.Started()); n != 0 {
		t.Fatalf("%d jobs started while paused", n)
	}
	if !s.Snapshot().Paused {
		t.Fatal("snapshot does not report pause")
	}
	if paused := s.TogglePause(); paused {
		t.Fatal("toggle should resume")
	}
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("run did not finish after resume")
	}
	if len(h.enc.Started()) != 1 {
		t.Fatal("job not started after resume")
	}
}

func TestStopWaitsThenKillsAfterGrace(t *testing.T) {
	h := newHarness(t, testsupport.Script{Sizes: []int64{5}, Hold: true}, testsupport.WithConcurrency(2))
	a := h.file(t, "a.mkv", 100)
	b := h.file(t, "b.mkv", 90)
	h.file(t, "c.mkv", 80)
	s := h.scheduler(func(o *Options) { o.ShutdownGrace = 100 * time.Millisecond })

	go func() {
		for len(h.enc.Started()) < 2 {
			time.Sleep(5 * time.Millisecond)
		}
		s.Stop()
		s.Stop()
	}()
	start := time.Now()
	sum, err := runWithTimeout(t, s)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if time.Since(start) > 5*time.Second {
		t.Fatal("shutdown did not honour grace period")
	}
	if !sum.Forced || sum.Interrupted != 2 {
		t.Fatalf("summary = %+v", sum)
	}
	if len(h.enc.Started()) != 2 {
		t.Fatalf("dequeued after stop: %v", h.enc.Started())
	}
	cp := h.cps.Load()
	if cp == nil {
		t.Fatal("checkpoint not flushed")
	}
	sort.Strings(cp.PendingPaths)
	if len(cp.PendingPaths) != 3 || cp.PendingPaths[0] != a || cp.PendingPaths[1] != b {
		t.Fatalf("pending after stop = %v", cp.PendingPaths)
	}
	if _, err := os.Stat(h.ws.TmpDir); !os.IsNotExist(err) {
		t.Fatalf("tmp dir not removed: %v", err)
	}
	if err := s.Teardown(); err != nil {
		t.Fatalf("second Teardown: %v", err)
	}
}

func TestForceStopSkipsGrace(t *testing.T) {
	h := newHarness(t, testsupport.Script{Sizes: []int64{5}, Hold: true})
	h.file(t, "a.mkv", 100)
	s := h.scheduler(func(o *Options) { o.ShutdownGrace = time.Hour })
	go func() {
		for len(h.enc.Started()) < 1 {
			time.Sleep(5 * time.Millisecond)
		}
		snap := s.Snapshot()
		if len(snap.Jobs) != 1 {
			t.Errorf("snapshot jobs = %d", len(snap.Jobs))
		}
		s.ForceStop()
	}()
	sum, err := runWithTimeout(t, s)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !sum.Forced || sum.Interrupted != 1 {
		t.Fatalf("summary = %+v", sum)
	}
}

func TestResumeSkipsJournaledAndAbortedFiles(t *testing.T) {
	h := newHarness(t, testsupport.Script{FinalSize: 10})
	done := h.file(t, "done.mkv", 100)
	aborted := h.file(t, "aborted.mkv", 100)
	fresh := h.file(t, "fresh.mkv", 100)
	ctx := context.Background()
	_ = h.journal.Append(ctx, ledger.Record{AttemptID: "1", Path: done, StartedAt: time.Now(), Successful: true, OriginalSize: 100, NewSize: 50})
	_ = h.journal.Append(ctx, ledger.Record{AttemptID: "2", Path: aborted, StartedAt: time.Now(), OriginalSize: 100, NewSize: 100})

	if _, err := runWithTimeout(t, h.scheduler()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if got := h.enc.Started(); !reflect.DeepEqual(got, []string{fresh}) {
		t.Fatalf("started = %v, want only fresh", got)
	}

	forced := newHarness(t, testsupport.Script{FinalSize: 10})
	forced.journal = h.journal
	forced.root = h.root
	forced.ws = h.ws
	forced.cps = checkpoint.NewStore(filepath.Join(t.TempDir(), "cp.json"), logging.NewNop())
	if _, err := runWithTimeout(t, forced.scheduler(func(o *Options) { o.Force = true })); err != nil {
		t.Fatalf("forced Run: %v", err)
	}
	if got := forced.enc.Started(); !reflect.DeepEqual(got, []string{aborted}) {
		t.Fatalf("forced started = %v, want only the aborted file", got)
	}
}

func TestStaleCheckpointForcesDiscovery(t *testing.T) {
	cases := []struct {
		name    string
		age     time.Duration
		started int
	}{
		{"fresh checkpoint trusted", 24 * time.Hour, 1},
		{"stale checkpoint rediscovered", 10 * 24 * time.Hour, 2},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			h := newHarness(t, testsupport.Script{FinalSize: 10})
			listed := h.file(t, "listed.mkv", 100)
			h.file(t, "unlisted.mkv", 100)
			if err := h.cps.Save(checkpoint.Checkpoint{
				CreationTime: time.Now().Add(-tc.age),
				PendingPaths: []string{listed},
				TotalSize:    100,
			}); err != nil {
				t.Fatalf("Save: %v", err)
			}
			s := h.scheduler(func(o *Options) { o.StaleAfter = 5 * 24 * time.Hour })
			if _, err := runWithTimeout(t, s); err != nil {
				t.Fatalf("Run: %v", err)
			}
			if got := len(h.enc.Started()); got != tc.started {
				t.Fatalf("started %d files, want %d", got, tc.started)
			}
		})
	}
}

func TestFailureCapStopsRetries(t *testing.T) {
	h := newHarness(t, testsupport.Script{ExitCode: 2, FinalSize: -1})
	bad := h.file(t, "bad.mkv", 100)
	opts := func(o *Options) { o.MaxFailedAttempts = 2 }

	for i := 0; i < 3; i++ {
		if _, err := runWithTimeout(t, h.scheduler(opts)); err != nil {
			t.Fatalf("run %d: %v", i, err)
		}
	}
	if got := len(h.enc.Started()); got != 2 {
		t.Fatalf("encoder started %d times, want 2", got)
	}
	n, _ := h.journal.FailureCount(context.Background(), bad)
	if n != 2 {
		t.Fatalf("failure count = %d", n)
	}
	entries, err := quarantine.NewStore(h.ws.QuarantineDir, h.ws.ErrorsDir).List()
	if err != nil || len(entries) != 2 {
		t.Fatalf("quarantine entries = %d, %v", len(entries), err)
	}
}

func TestFailedFileRetriedFromCheckpointResume(t *testing.T) {
	h := newHarness(t, testsupport.Script{FinalSize: 10}, testsupport.WithConcurrency(1))
	bad := h.file(t, "bad.mkv", 200)
	h.file(t, "slow.mkv", 100)
	h.enc.Scripts["bad.mkv"] = testsupport.Script{ExitCode: 3, FinalSize: -1}
	h.enc.Scripts["slow.mkv"] = testsupport.Script{Sizes: []int64{5}, Hold: true}

	s := h.scheduler(func(o *Options) { o.ShutdownGrace = 10 * time.Millisecond })
	go func() {
		for len(h.enc.Started()) < 2 {
			time.Sleep(5 * time.Millisecond)
		}
		s.Stop()
	}()
	if _, err := runWithTimeout(t, s); err != nil {
		t.Fatalf("Run: %v", err)
	}

	delete(h.enc.Scripts, "bad.mkv")
	delete(h.enc.Scripts, "slow.mkv")
	second := h.scheduler()
	if _, err := runWithTimeout(t, second); err != nil {
		t.Fatalf("resume Run: %v", err)
	}
	rec, ok := second.st.ledger.Latest(bad)
	if !ok || !rec.Successful {
		t.Fatalf("failed file not retried on resume: %+v", rec)
	}
	if n, _ := h.journal.FailureCount(context.Background(), bad); n != 0 {
		t.Fatalf("failure count not cleared after success: %d", n)
	}
}

func TestNoMediaFiles(t *testing.T) {
	h := newHarness(t, testsupport.Script{})
	h.file(t, "readme.txt", 10)
	if _, err := runWithTimeout(t, h.scheduler()); !errors.Is(err, ErrNoMediaFiles) {
		t.Fatalf("err = %v, want ErrNoMediaFiles", err)
	}
}

func TestWatchModePicksUpNewFiles(t *testing.T) {
	h := newHarness(t, testsupport.Script{FinalSize: 10})
	h.file(t, "first.mkv", 100)
	s := h.scheduler(func(o *Options) { o.Watch = true })

	done := make(chan error, 1)
	go func() {
		_, err := s.Run(context.Background())
		done <- err
	}()

	waitFor := func(n int) {
		deadline := time.Now().Add(5 * time.Second)
		for len(h.enc.Started()) < n {
			if time.Now().After(deadline) {
				t.Fatalf("only %d files started, want %d", len(h.enc.Started()), n)
			}
			time.Sleep(10 * time.Millisecond)
		}
	}
	waitFor(1)
	time.Sleep(100 * time.Millisecond)
	second := h.file(t, "second.mkv", 100)
	waitFor(2)

	s.RequestRescan()
	time.Sleep(100 * time.Millisecond)
	s.Stop()
	if err := <-done; err != nil {
		t.Fatalf("Run: %v", err)
	}
	if h.enc.Started()[1] != second {
		t.Fatalf("started = %v", h.enc.Started())
	}
	if len(h.enc.Started()) != 2 {
		t.Fatalf("rescan re-ran completed files: %v", h.enc.Started())
	}
}

func TestSnapshotEstimate(t *testing.T) {
	h := newHarness(t, testsupport.Script{})
	s := h.scheduler()
	for i := 0; i < 3; i++ {
		s.st.ledger.Append(ledger.Record{
			AttemptID:     string(rune('a' + i)),
			Path:          string(rune('a' + i)),
			Successful:    true,
			OriginalSize:  100,
			NewSize:       50,
			Elapsed:       time.Minute,
			MediaDuration: time.Minute,
			AverageSpeed:  1,
		})
	}
	s.st.catalog.Add("/m/x.mkv", 1000)
	snap := s.Snapshot()
	if !snap.Estimate.Ready || snap.Estimate.ProjectedSavings != 500 {
		t.Fatalf("estimate = %+v", snap.Estimate)
	}
	if snap.Pending != 1 || snap.SavedBytes != 150 || snap.Completed != 3 {
		t.Fatalf("snapshot = %+v", snap)
	}
}

func waitStarted(t *testing.T, enc *testsupport.FakeEncoder, n int) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for len(enc.Started()) < n {
		if time.Now().After(deadline) {
			t.Fatalf("only %d files started, want %d", len(enc.Started()), n)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestWatchModeWaitsForCopiedFileToSettle(t *testing.T) {
	h := newHarness(t, testsupport.Script{FinalSize: 10})
	s := h.scheduler(func(o *Options) {
		o.Watch = true
		o.WatchSettle = 300 * time.Millisecond
	})
	done := make(chan error, 1)
	go func() {
		_, err := s.Run(context.Background())
		done <- err
	}()
	time.Sleep(200 * time.Millisecond)

	copied := h.file(t, "copied.mkv", 0)
	time.Sleep(150 * time.Millisecond)
	testsupport.GrowFile(t, copied, 400)
	time.Sleep(100 * time.Millisecond)
	testsupport.GrowFile(t, copied, 600)
	if n := len(h.enc.Started()); n != 0 {
		t.Fatalf("encode started while the copy was in progress (%d)", n)
	}

	waitStarted(t, h.enc, 1)
	deadline := time.Now().Add(5 * time.Second)
	for s.st.ledger.Len() == 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	s.Stop()
	if err := <-done; err != nil {
		t.Fatalf("Run: %v", err)
	}
	rec, ok := s.st.ledger.Latest(copied)
	if !ok || !rec.Successful || rec.OriginalSize != 1000 {
		t.Fatalf("record for copied file = %+v, %v", rec, ok)
	}
}

func TestPromotedOutputUnderNewExtensionIsNotReencoded(t *testing.T) {
	h := newHarness(t, testsupport.Script{FinalSize: 10, OutputExt: ".mkv"}, testsupport.WithOverwrite())
	source := h.file(t, "a.mp4", 100)
	promoted := filepath.Join(h.root, "a.mkv")

	first := h.scheduler(func(o *Options) { o.Watch = true })
	done := make(chan error, 1)
	go func() {
		_, err := first.Run(context.Background())
		done <- err
	}()
	waitStarted(t, h.enc, 1)
	deadline := time.Now().Add(5 * time.Second)
	for first.st.ledger.Len() == 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	// Give the watch feed time to report the promoted file.
	time.Sleep(300 * time.Millisecond)
	first.Stop()
	if err := <-done; err != nil {
		t.Fatalf("first Run: %v", err)
	}
	if fileutil.FileSize(promoted) != 10 || fileutil.FileSize(source) != -1 {
		t.Fatal("source was not replaced by the .mkv output")
	}

	if err := h.cps.Remove(); err != nil {
		t.Fatalf("Remove checkpoint: %v", err)
	}
	if _, err := runWithTimeout(t, h.scheduler()); err != nil {
		t.Fatalf("second Run: %v", err)
	}
	if got := h.enc.Started(); !reflect.DeepEqual(got, []string{source}) {
		t.Fatalf("started across runs = %v, want only the original source", got)
	}
	recs, err := h.journal.Records(context.Background())
	if err != nil || len(recs) != 1 || recs[0].FinalPath != promoted {
		t.Fatalf("journal = %+v, %v", recs, err)
	}
}

func TestZeroShutdownGraceKillsImmediately(t *testing.T) {
	h := newHarness(t, testsupport.Script{Sizes: []int64{5}, Hold: true})
	h.file(t, "a.mkv", 100)
	s := h.scheduler(func(o *Options) { o.ShutdownGrace = 0 })
	type result struct {
		sum Summary
		err error
	}
	done := make(chan result, 1)
	go func() {
		sum, err := s.Run(context.Background())
		done <- result{sum, err}
	}()
	waitStarted(t, h.enc, 1)
	s.Stop()
	select {
	case r := <-done:
		if r.err != nil {
			t.Fatalf("Run: %v", r.err)
		}
		if !r.sum.Forced || r.sum.Interrupted != 1 {
			t.Fatalf("summary = %+v", r.sum)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("zero grace still waited for the running job")
	}
}

func TestEmptyFileStaysPending(t *testing.T) {
	h := newHarness(t, testsupport.Script{FinalSize: 10})
	empty := h.file(t, "empty.mkv", 0)
	full := h.file(t, "full.mkv", 100)

	s := h.scheduler()
	if _, err := runWithTimeout(t, s); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if got := h.enc.Started(); !reflect.DeepEqual(got, []string{full}) {
		t.Fatalf("started = %v, want only the non-empty file", got)
	}
	if _, ok := s.st.ledger.Latest(empty); ok {
		t.Fatal("empty file recorded in the ledger")
	}
	cp := h.cps.Load()
	if cp == nil || !reflect.DeepEqual(cp.PendingPaths, []string{empty}) {
		t.Fatalf("checkpoint pending = %+v", cp)
	}
}
