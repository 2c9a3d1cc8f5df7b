package testsupport

import (
	"path/filepath"
	"testing"

	"ffbatch/internal/ledger"
)

// MustOpenJournal opens a ledger.Journal in a temp dir and registers cleanup.
func MustOpenJournal(t testing.TB) *ledger.Journal {
	t.Helper()

	j, err := ledger.OpenJournal(filepath.Join(t.TempDir(), "journal.db"))
	if err != nil {
		t.Fatalf("open journal: %v", err)
	}
	t.Cleanup(func() {
		_ = j.Close()
	})
	return j
}
