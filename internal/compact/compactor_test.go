package compact

import (
	stdlog "log"
	"path/filepath"
	"testing"

	"github.com/go-logr/logr"
	"github.com/go-logr/stdr"

	"github.com/hailam/kalahsolve/internal/storage"
)

type discard struct{}

func (discard) Write(p []byte) (int, error) { return len(p), nil }

func testLog() logr.Logger {
	return stdr.New(stdlog.New(discard{}, "", 0))
}

func openTestStore(t *testing.T) *storage.Store {
	t.Helper()
	s, err := storage.Open(filepath.Join(t.TempDir(), "db"), 4, storage.DurabilityFast, testLog())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func rec(fp uint64, depth uint8) storage.Record {
	return storage.Record{Fingerprint: fp, PackedState: []byte{byte(fp)}, Depth: depth, SeedsInPits: 5}
}

func TestRunRemovesDuplicatesKeepingMinDepth(t *testing.T) {
	s := openTestStore(t)
	if _, err := s.InsertBatch([]storage.Record{rec(1, 3), rec(1, 1), rec(1, 2), rec(2, 0)}, true); err != nil {
		t.Fatal(err)
	}

	report, err := Run(s, false, testLog())
	if err != nil {
		t.Fatal(err)
	}
	if report.DuplicatesFound != 2 {
		t.Errorf("DuplicatesFound = %d, want 2", report.DuplicatesFound)
	}

	got, err := s.Get(1)
	if err != nil {
		t.Fatalf("Get(1) after compaction: %v", err)
	}
	if got.Depth != 1 {
		t.Errorf("surviving row depth = %d, want 1 (the minimum)", got.Depth)
	}

	total, err := s.Count(nil)
	if err != nil {
		t.Fatal(err)
	}
	if total != 2 {
		t.Errorf("total after compaction = %d, want 2", total)
	}
}

func TestRunDryRunDoesNotMutate(t *testing.T) {
	s := openTestStore(t)
	if _, err := s.InsertBatch([]storage.Record{rec(1, 3), rec(1, 1)}, true); err != nil {
		t.Fatal(err)
	}

	report, err := Run(s, true, testLog())
	if err != nil {
		t.Fatal(err)
	}
	if report.DuplicatesFound != 1 {
		t.Errorf("dry run DuplicatesFound = %d, want 1", report.DuplicatesFound)
	}

	if _, err := s.Get(1); err != storage.ErrNotFound {
		t.Errorf("dry run must not create a canonical row, Get err = %v", err)
	}
}

func TestRunOnAlreadyCompactStore(t *testing.T) {
	s := openTestStore(t)
	if _, err := s.Insert(rec(1, 0)); err != nil {
		t.Fatal(err)
	}

	report, err := Run(s, false, testLog())
	if err != nil {
		t.Fatal(err)
	}
	if report.DuplicatesFound != 0 {
		t.Errorf("DuplicatesFound = %d, want 0 on an already-compact store", report.DuplicatesFound)
	}
}
