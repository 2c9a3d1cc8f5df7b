// Package workspace resolves the per-source-tree state directory and guards
// it with a single-instance lock.
package workspace

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/gofrs/flock"

	"ffbatch/internal/fileutil"
	"ffbatch/internal/textutil"
)

// ErrLocked reports that another ffbatch process holds the workspace.
var ErrLocked = errors.New("workspace is locked by another ffbatch process")

const maxKeyLen = 64

// Workspace is the set of state paths for one batch of roots.
type Workspace struct {
	Root           string
	Roots          []string
	CheckpointPath string
	JournalPath    string
	QuarantineDir  string
	ErrorsDir      string
	TmpDir         string
	OutputDir      string
	LockPath       string
	PIDPath        string

	lock *flock.Flock
}

// Resolve returns the workspace for roots under stateDir. Roots are made
// absolute and sorted so the same set always maps to the same directory.
func Resolve(stateDir string, roots []string) (*Workspace, error) {
	abs := make([]string, 0, len(roots))
	for _, root := range roots {
		p, err := filepath.Abs(root)
		if err != nil {
			return nil, fmt.Errorf("resolve %s: %w", root, err)
		}
		abs = append(abs, filepath.Clean(p))
	}
	sort.Strings(abs)
	dir := filepath.Join(stateDir, Key(abs))
	return &Workspace{
		Root:           dir,
		Roots:          abs,
		CheckpointPath: filepath.Join(dir, "checkpoint.json"),
		JournalPath:    filepath.Join(dir, "journal.db"),
		QuarantineDir:  filepath.Join(dir, "quarantine"),
		ErrorsDir:      filepath.Join(dir, "errors"),
		TmpDir:         filepath.Join(dir, "tmp"),
		OutputDir:      filepath.Join(dir, "output"),
		LockPath:       filepath.Join(dir, "ffbatch.lock"),
		PIDPath:        filepath.Join(dir, "ffbatch.pid"),
	}, nil
}

// Key derives the workspace directory name for sorted absolute roots.
func Key(roots []string) string {
	joined := strings.Join(roots, "\x00")
	sum := sha256.Sum256([]byte(joined))
	label := textutil.SanitizeToken(strings.Join(roots, "_"))
	if len(label) > maxKeyLen {
		label = strings.TrimRight(label[len(label)-maxKeyLen:], "_-")
		label = strings.TrimLeft(label, "_-")
	}
	return label + "-" + hex.EncodeToString(sum[:])[:10]
}

// Ensure creates the workspace directories.
func (w *Workspace) Ensure() error {
	for _, dir := range []string{w.Root, w.QuarantineDir, w.ErrorsDir, w.TmpDir, w.OutputDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create %s: %w", dir, err)
		}
	}
	return nil
}

// Lock takes the single-instance lock without blocking.
func (w *Workspace) Lock() error {
	if w.lock == nil {
		w.lock = flock.New(w.LockPath)
	}
	ok, err := w.lock.TryLock()
	if err != nil {
		return fmt.Errorf("acquire lock: %w", err)
	}
	if !ok {
		return fmt.Errorf("%w (%s)", ErrLocked, w.LockPath)
	}
	if err := os.WriteFile(w.PIDPath, []byte(strconv.Itoa(os.Getpid())+"\n"), 0o644); err != nil {
		_ = w.lock.Unlock()
		return fmt.Errorf("write pid file: %w", err)
	}
	return nil
}

// Unlock releases the lock. It is safe to call when not locked.
func (w *Workspace) Unlock() error {
	if w.lock == nil || !w.lock.Locked() {
		return nil
	}
	_ = os.Remove(w.PIDPath)
	return w.lock.Unlock()
}

// HolderPID returns the process ID recorded by the current lock holder.
func (w *Workspace) HolderPID() (int, error) {
	if !w.Locked() {
		return 0, fmt.Errorf("no running ffbatch holds %s", w.Root)
	}
	data, err := os.ReadFile(w.PIDPath)
	if err != nil {
		return 0, fmt.Errorf("read pid file: %w", err)
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil || pid <= 0 {
		return 0, fmt.Errorf("invalid pid file %s", w.PIDPath)
	}
	return pid, nil
}

// Locked reports whether some process currently holds the lock. It probes
// with a separate handle so it can be used from read-only commands.
func (w *Workspace) Locked() bool {
	if _, err := os.Stat(w.LockPath); err != nil {
		return false
	}
	probe := flock.New(w.LockPath)
	ok, err := probe.TryRLock()
	if err != nil {
		return false
	}
	if ok {
		_ = probe.Unlock()
		return false
	}
	return true
}

// TempOutputPath returns the scratch output path for one attempt. The
// output keeps the input's extension so the encoder picks the same container.
func (w *Workspace) TempOutputPath(input, attemptID string) string {
	base := filepath.Base(input)
	ext := filepath.Ext(base)
	stem := strings.TrimSuffix(base, ext)
	return filepath.Join(w.TmpDir, textutil.SanitizeToken(stem)+"-"+attemptID+ext)
}

// KeptOutputPath returns where a successful encode is parked when the source
// is not overwritten. An existing file gets a timestamp suffix.
func (w *Workspace) KeptOutputPath(input, outputExt string) string {
	base := filepath.Base(input)
	stem := strings.TrimSuffix(base, filepath.Ext(base))
	target := filepath.Join(w.OutputDir, stem+outputExt)
	if fileutil.FileSize(target) < 0 {
		return target
	}
	return filepath.Join(w.OutputDir, stem+"-"+time.Now().UTC().Format("20060102T150405")+outputExt)
}

// CleanTmp removes and recreates the scratch directory.
func (w *Workspace) CleanTmp() error {
	if err := os.RemoveAll(w.TmpDir); err != nil {
		return fmt.Errorf("remove tmp dir: %w", err)
	}
	if err := os.MkdirAll(w.TmpDir, 0o755); err != nil {
		return fmt.Errorf("recreate tmp dir: %w", err)
	}
	return nil
}

// Excluded lists workspace directories that discovery must skip when the
// state dir lives inside a source root.
func (w *Workspace) Excluded() []string {
	return []string{w.Root}
}
