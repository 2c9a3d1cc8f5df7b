package quarantine

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"ffbatch/internal/fileutil"
	"ffbatch/internal/textutil"
)

const (
	timestampLayout = "20060102T150405.000000000Z"
	maxKeyLen       = 80
)

// FailureRecord describes a non-zero encoder exit.
type FailureRecord struct {
	Path       string    `json:"path"`
	AttemptID  string    `json:"attempt_id"`
	Engine     string    `json:"engine"`
	ExitCode   int       `json:"exit_code"`
	Args       []string  `json:"args"`
	Transcript []string  `json:"transcript"`
	Error      string    `json:"error,omitempty"`
	RecordedAt time.Time `json:"recorded_at"`
}

// CrashRecord describes an attempt abandoned after an unexpected error or panic.
type CrashRecord struct {
	Path       string    `json:"path"`
	AttemptID  string    `json:"attempt_id"`
	Stage      string    `json:"stage"`
	Error      string    `json:"error"`
	Stack      string    `json:"stack,omitempty"`
	RecordedAt time.Time `json:"recorded_at"`
}

// Entry pairs a stored failure record with its file.
type Entry struct {
	File   string
	Record FailureRecord
}

// Store writes records beneath two directories.
type Store struct {
	quarantineDir string
	errorsDir     string
	now           func() time.Time
}

// NewStore returns a store writing failures to quarantineDir and crashes to errorsDir.
func NewStore(quarantineDir, errorsDir string) *Store {
	return &Store{quarantineDir: quarantineDir, errorsDir: errorsDir, now: time.Now}
}

// Dir returns the failure record directory.
func (s *Store) Dir() string { return s.quarantineDir }

// WriteFailure persists rec and returns the file path.
func (s *Store) WriteFailure(rec FailureRecord) (string, error) {
	now := s.now().UTC()
	if rec.RecordedAt.IsZero() {
		rec.RecordedAt = now
	}
	if rec.Args == nil {
		rec.Args = []string{}
	}
	if rec.Transcript == nil {
		rec.Transcript = []string{}
	}
	name := fmt.Sprintf("%s_%s.json", recordKey(rec.Path), now.Format(timestampLayout))
	target := filepath.Join(s.quarantineDir, name)
	if err := fileutil.WriteJSON(target, rec); err != nil {
		return "", fmt.Errorf("write quarantine record: %w", err)
	}
	return target, nil
}

// WriteCrash persists rec and returns the file path.
func (s *Store) WriteCrash(rec CrashRecord) (string, error) {
	now := s.now().UTC()
	if rec.RecordedAt.IsZero() {
		rec.RecordedAt = now
	}
	target := filepath.Join(s.errorsDir, "error_"+now.Format(timestampLayout)+".json")
	if err := fileutil.WriteJSON(target, rec); err != nil {
		return "", fmt.Errorf("write crash record: %w", err)
	}
	return target, nil
}

// List returns stored failure records, newest first. Unparseable files are
// skipped.
func (s *Store) List() ([]Entry, error) {
	entries, err := os.ReadDir(s.quarantineDir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("read quarantine dir: %w", err)
	}
	out := make([]Entry, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		file := filepath.Join(s.quarantineDir, entry.Name())
		var rec FailureRecord
		if err := fileutil.ReadJSON(file, &rec); err != nil {
			continue
		}
		out = append(out, Entry{File: file, Record: rec})
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Record.RecordedAt.After(out[j].Record.RecordedAt)
	})
	return out, nil
}

// Clear removes every failure record and returns how many were deleted.
func (s *Store) Clear() (int, error) {
	entries, err := s.List()
	if err != nil {
		return 0, err
	}
	removed := 0
	for _, e := range entries {
		if err := os.Remove(e.File); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return removed, fmt.Errorf("remove %s: %w", e.File, err)
		}
		removed++
	}
	return removed, nil
}

func recordKey(path string) string {
	base := filepath.Base(path)
	stem := strings.TrimSuffix(base, filepath.Ext(base))
	key := textutil.SanitizeToken(stem)
	if len(key) > maxKeyLen {
		key = strings.TrimRight(key[:maxKeyLen], "_-")
	}
	return key
}
