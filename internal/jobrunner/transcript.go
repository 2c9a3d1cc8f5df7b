package jobrunner

import "sync"

const defaultTranscriptLines = 400

// transcript keeps the last N diagnostic lines of an encode.
type transcript struct {
	mu    sync.Mutex
	lines []string
	limit int
	start int
	full  bool
}

func newTranscript(limit int) *transcript {
	if limit <= 0 {
		limit = defaultTranscriptLines
	}
	return &transcript{lines: make([]string, 0, limit), limit: limit}
}

func (t *transcript) add(line string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.full {
		t.lines = append(t.lines, line)
		if len(t.lines) == t.limit {
			t.full = true
		}
		return
	}
	t.lines[t.start] = line
	t.start = (t.start + 1) % t.limit
}

func (t *transcript) snapshot() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]string, 0, len(t.lines))
	out = append(out, t.lines[t.start:]...)
	out = append(out, t.lines[:t.start]...)
	return out
}
