package checkpoint

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"sync"
	"time"

	"ffbatch/internal/fileutil"
	"ffbatch/internal/ledger"
	"ffbatch/internal/logging"
)

// Checkpoint is the on-disk snapshot of a batch.
type Checkpoint struct {
	// CreationTime is when discovery produced the pending list.
	CreationTime    time.Time       `json:"creation_time"`
	NeedsRescan     bool            `json:"needs_rescan"`
	TotalSize       int64           `json:"total_size"`
	SavedBytes      int64           `json:"saved_bytes"`
	CompletedLedger []ledger.Record `json:"completed_ledger"`
	PendingPaths    []string        `json:"pending_paths"`
	SavedAt         time.Time       `json:"saved_at"`
}

// IsStale reports whether the pending list is older than maxAge. A
// non-positive maxAge disables the check.
func (c *Checkpoint) IsStale(now time.Time, maxAge time.Duration) bool {
	if c == nil || maxAge <= 0 {
		return false
	}
	return now.Sub(c.CreationTime) > maxAge
}

// Expire discards the pending list of a stale checkpoint and flags a rescan.
// The ledger is kept. It returns true when the checkpoint was stale.
func (c *Checkpoint) Expire(now time.Time, maxAge time.Duration) bool {
	if !c.IsStale(now, maxAge) {
		return false
	}
	c.PendingPaths = nil
	c.TotalSize = 0
	c.NeedsRescan = true
	return true
}

// Store reads and writes a checkpoint file.
type Store struct {
	path   string
	logger *slog.Logger
	now    func() time.Time

	mu sync.Mutex
}

// NewStore returns a store for path.
func NewStore(path string, logger *slog.Logger) *Store {
	return &Store{
		path:   path,
		logger: logging.NewComponentLogger(logger, "checkpoint"),
		now:    time.Now,
	}
}

// Path returns the checkpoint file location.
func (s *Store) Path() string { return s.path }

// Load returns the stored checkpoint, or nil when the file is absent or
// cannot be parsed. A corrupt file is logged and left in place.
func (s *Store) Load() *Checkpoint {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			logging.WarnWithContext(s.logger, "checkpoint unreadable; starting fresh", "checkpoint_unreadable",
				logging.String("checkpoint_path", s.path),
				logging.Error(err),
				logging.String(logging.FieldImpact, "pending files will be rediscovered"),
			)
		}
		return nil
	}
	cp, err := decode(data)
	if err != nil {
		logging.WarnWithContext(s.logger, "checkpoint corrupt; starting fresh", "checkpoint_corrupt",
			logging.String("checkpoint_path", s.path),
			logging.Error(err),
			logging.String(logging.FieldImpact, "pending files will be rediscovered"),
			logging.String(logging.FieldErrorHint, "the file is left as-is; delete it to silence this warning"),
		)
		return nil
	}
	return cp
}

// Import loads the checkpoint and expires its pending list when it is older
// than maxAge.
func (s *Store) Import(maxAge time.Duration) *Checkpoint {
	cp := s.Load()
	if cp == nil {
		return nil
	}
	if cp.Expire(s.now(), maxAge) {
		s.logger.Info("checkpoint pending list expired; rescanning",
			logging.String("created", cp.CreationTime.Format(time.RFC3339)),
			logging.Duration("max_age", maxAge),
			logging.Int("ledger_records", len(cp.CompletedLedger)),
		)
	}
	return cp
}

// Save writes cp atomically. SavedAt is stamped on the stored copy.
func (s *Store) Save(cp Checkpoint) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cp.SavedAt = s.now().UTC()
	if cp.CompletedLedger == nil {
		cp.CompletedLedger = []ledger.Record{}
	}
	if cp.PendingPaths == nil {
		cp.PendingPaths = []string{}
	}
	if err := fileutil.WriteJSON(s.path, cp); err != nil {
		return fmt.Errorf("save checkpoint: %w", err)
	}
	s.logger.Debug("checkpoint saved",
		logging.Int("pending", len(cp.PendingPaths)),
		logging.Int("ledger_records", len(cp.CompletedLedger)),
		logging.Int64("saved_bytes", cp.SavedBytes),
	)
	return nil
}

// Remove deletes the checkpoint file. A missing file is not an error.
func (s *Store) Remove() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := os.Remove(s.path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("remove checkpoint: %w", err)
	}
	return nil
}

func decode(data []byte) (*Checkpoint, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	var cp Checkpoint
	if err := dec.Decode(&cp); err != nil {
		return nil, err
	}
	if dec.More() {
		return nil, errors.New("trailing data after checkpoint")
	}
	if cp.CreationTime.IsZero() {
		return nil, errors.New("checkpoint missing creation_time")
	}
	return &cp, nil
}
