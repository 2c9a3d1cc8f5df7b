package ledger

import "sync"

// Ledger is an append-only, concurrency-safe list of Records with a
// latest-by-path index. A later attempt for the same path supersedes earlier
// ones in lookups; earlier records are kept for statistics. Outputs promoted
// under a new extension are indexed too, so they are never encoded again.
type Ledger struct {
	mu      sync.RWMutex
	records []Record
	latest  map[string]int
	finals  map[string]struct{}
	ids     map[string]struct{}
}

// New returns a ledger seeded with records.
func New(records ...Record) *Ledger {
	l := &Ledger{
		latest: make(map[string]int),
		finals: make(map[string]struct{}),
		ids:    make(map[string]struct{}),
	}
	l.Merge(records)
	return l
}

// Append adds r unless a record with the same AttemptID is already present.
func (l *Ledger) Append(r Record) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.appendLocked(r)
}

func (l *Ledger) appendLocked(r Record) bool {
	if r.AttemptID != "" {
		if _, dup := l.ids[r.AttemptID]; dup {
			return false
		}
		l.ids[r.AttemptID] = struct{}{}
	}
	l.records = append(l.records, r)
	if r.Successful && r.FinalPath != "" && r.FinalPath != r.Path {
		l.finals[r.FinalPath] = struct{}{}
	}
	if prev, ok := l.latest[r.Path]; !ok || !l.records[prev].StartedAt.After(r.StartedAt) {
		l.latest[r.Path] = len(l.records) - 1
	}
	return true
}

// Merge appends every record not already present and returns how many were added.
func (l *Ledger) Merge(records []Record) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	added := 0
	for _, r := range records {
		if l.appendLocked(r) {
			added++
		}
	}
	return added
}

// Records returns a copy of all records in append order.
func (l *Ledger) Records() []Record {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return append([]Record(nil), l.records...)
}

// Len returns the number of records.
func (l *Ledger) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.records)
}

// Latest returns the most recent record for path.
func (l *Ledger) Latest(path string) (Record, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	idx, ok := l.latest[path]
	if !ok {
		return Record{}, false
	}
	return l.records[idx], true
}

// Done reports whether path needs no further work. Aborted attempts count as
// done unless force is set. A promoted output is done unless a later attempt
// for that path says otherwise.
func (l *Ledger) Done(path string, force bool) bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	idx, ok := l.latest[path]
	if !ok {
		_, promoted := l.finals[path]
		return promoted
	}
	return l.records[idx].Successful || !force
}

// DonePaths returns the set of paths Done would report true for.
func (l *Ledger) DonePaths(force bool) map[string]struct{} {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make(map[string]struct{}, len(l.latest)+len(l.finals))
	for path := range l.finals {
		if _, ok := l.latest[path]; !ok {
			out[path] = struct{}{}
		}
	}
	for path, idx := range l.latest {
		if l.records[idx].Successful || !force {
			out[path] = struct{}{}
		}
	}
	return out
}

// SavedBytes sums the savings of the latest record per path.
func (l *Ledger) SavedBytes() int64 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	var total int64
	for _, idx := range l.latest {
		total += l.records[idx].Saved()
	}
	return total
}
