package catalog

import (
	"container/heap"
	"path/filepath"
	"strings"
	"sync"
)

// EventOp is the kind of a watch event.
type EventOp int

const (
	EventCreate EventOp = iota + 1
	EventRemove
)

func (op EventOp) String() string {
	switch op {
	case EventCreate:
		return "create"
	case EventRemove:
		return "remove"
	default:
		return "unknown"
	}
}

// Event is a filesystem change relevant to the pending set.
type Event struct {
	Op   EventOp
	Path string
	Size int64
}

// entry is a pending item and its position in the queue heap.
type entry struct {
	item  WorkItem
	index int
}

// queue is a heap of entries in Order.
type queue []*entry

func (q queue) Len() int           { return len(q) }
func (q queue) Less(i, j int) bool { return before(q[i].item, q[j].item) }

func (q queue) Swap(i, j int) {
	q[i], q[j] = q[j], q[i]
	q[i].index = i
	q[j].index = j
}

func (q *queue) Push(x any) {
	e := x.(*entry)
	e.index = len(*q)
	*q = append(*q, e)
}

func (q *queue) Pop() any {
	old := *q
	n := len(old)
	e := old[n-1]
	old[n-1] = nil
	e.index = -1
	*q = old[:n-1]
	return e
}

// Catalog is a concurrency-safe pending set.
type Catalog struct {
	mu          sync.Mutex
	items       map[string]*entry
	queue       queue
	nextSeq     uint64
	needsRescan bool
	match       func(path string) bool
}

// New returns an empty catalog. match filters watch-created paths; nil
// accepts everything.
func New(match func(path string) bool) *Catalog {
	return &Catalog{items: make(map[string]*entry), match: match}
}

// Replace swaps the pending set for items and clears the rescan flag.
func (c *Catalog) Replace(items []WorkItem) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.items = make(map[string]*entry, len(items))
	c.queue = make(queue, 0, len(items))
	for _, item := range items {
		if old, dup := c.items[item.Path]; dup {
			old.item = item
			continue
		}
		e := &entry{item: item, index: len(c.queue)}
		c.items[item.Path] = e
		c.queue = append(c.queue, e)
		if item.Seq >= c.nextSeq {
			c.nextSeq = item.Seq + 1
		}
	}
	heap.Init(&c.queue)
	c.needsRescan = false
}

// Add inserts path when absent and reports whether it was added.
func (c *Catalog) Add(path string, size int64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.addLocked(path, size)
}

func (c *Catalog) addLocked(path string, size int64) bool {
	if _, ok := c.items[path]; ok {
		return false
	}
	e := &entry{item: WorkItem{Path: path, Size: size, Seq: c.nextSeq}}
	c.items[path] = e
	heap.Push(&c.queue, e)
	c.nextSeq++
	return true
}

func (c *Catalog) removeLocked(e *entry) {
	heap.Remove(&c.queue, e.index)
	delete(c.items, e.item.Path)
}

// Remove deletes path when present and reports whether it was removed.
func (c *Catalog) Remove(path string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.items[path]
	if !ok {
		return false
	}
	c.removeLocked(e)
	return true
}

// RemoveTree deletes path and every pending item beneath it, returning the count.
func (c *Catalog) RemoveTree(path string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	prefix := strings.TrimSuffix(path, string(filepath.Separator)) + string(filepath.Separator)
	removed := 0
	for p, e := range c.items {
		if p == path || strings.HasPrefix(p, prefix) {
			c.removeLocked(e)
			removed++
		}
	}
	return removed
}

// Pop removes and returns the next item in Order, skipping items for which
// skip returns true (they stay pending).
func (c *Catalog) Pop(skip func(WorkItem) bool) (WorkItem, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	var skipped []*entry
	defer func() {
		for _, e := range skipped {
			heap.Push(&c.queue, e)
		}
	}()
	for c.queue.Len() > 0 {
		e := heap.Pop(&c.queue).(*entry)
		if skip != nil && skip(e.item) {
			skipped = append(skipped, e)
			continue
		}
		delete(c.items, e.item.Path)
		return e.item, true
	}
	return WorkItem{}, false
}

// Contains reports whether path is pending.
func (c *Catalog) Contains(path string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.items[path]
	return ok
}

// Len returns the number of pending items.
func (c *Catalog) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.items)
}

// Bytes returns the total size of pending items.
func (c *Catalog) Bytes() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	var total int64
	for _, e := range c.items {
		total += e.item.Size
	}
	return total
}

// Items returns the pending items in Order.
func (c *Catalog) Items() []WorkItem {
	c.mu.Lock()
	items := make([]WorkItem, 0, len(c.items))
	for _, e := range c.queue {
		items = append(items, e.item)
	}
	c.mu.Unlock()
	return Order(items)
}

// Paths returns the pending paths in Order.
func (c *Catalog) Paths() []string {
	items := c.Items()
	out := make([]string, len(items))
	for i, item := range items {
		out[i] = item.Path
	}
	return out
}

// NeedsRescan reports whether the pending set is stale relative to disk.
func (c *Catalog) NeedsRescan() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.needsRescan
}

// MarkStale flags the pending set for rediscovery.
func (c *Catalog) MarkStale() {
	c.mu.Lock()
	c.needsRescan = true
	c.mu.Unlock()
}

// ApplyWatchEvent folds ev into the pending set. Paths for which done
// returns true are ignored. It reports whether the pending set changed.
func (c *Catalog) ApplyWatchEvent(ev Event, done func(path string) bool) bool {
	if ev.Path == "" {
		return false
	}
	if done != nil && done(ev.Path) {
		return false
	}
	switch ev.Op {
	case EventCreate:
		if IsInternalName(filepath.Base(ev.Path)) {
			return false
		}
		if c.match != nil && !c.match(ev.Path) {
			return false
		}
		return c.Add(ev.Path, ev.Size)
	case EventRemove:
		return c.RemoveTree(ev.Path) > 0
	default:
		return false
	}
}
