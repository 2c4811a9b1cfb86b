package storage

import (
	stdlog "log"
	"path/filepath"
	"testing"

	"github.com/go-logr/logr"
	"github.com/go-logr/stdr"
)

func testLog() logr.Logger {
	return stdr.New(stdlog.New(testWriter{}, "", 0))
}

type testWriter struct{}

func (testWriter) Write(p []byte) (int, error) { return len(p), nil }

func openTestStore(t *testing.T, pits int) *Store {
	t.Helper()
	dir := t.TempDir()
	s, err := Open(filepath.Join(dir, "db"), pits, DurabilityFast, testLog())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func rec(fp uint64, depth, seeds uint8) Record {
	return Record{
		Fingerprint: fp,
		PackedState: []byte{byte(fp), byte(fp >> 8)},
		Depth:       depth,
		SeedsInPits: seeds,
	}
}

func TestInsertAndGet(t *testing.T) {
	s := openTestStore(t, 4)

	ok, err := s.Insert(rec(1, 0, 10))
	if err != nil || !ok {
		t.Fatalf("Insert = %v, %v, want true, nil", ok, err)
	}

	got, err := s.Get(1)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Depth != 0 || got.SeedsInPits != 10 {
		t.Errorf("Get returned %+v", got)
	}
}

func TestInsertDuplicateFingerprintNoOp(t *testing.T) {
	s := openTestStore(t, 4)

	if _, err := s.Insert(rec(1, 0, 10)); err != nil {
		t.Fatal(err)
	}
	ok, err := s.Insert(rec(1, 5, 3))
	if err != nil {
		t.Fatal(err)
	}
	if ok {
		t.Error("second insert with the same fingerprint should be a no-op")
	}

	got, err := s.Get(1)
	if err != nil {
		t.Fatal(err)
	}
	if got.Depth != 0 {
		t.Errorf("canonical row was overwritten: depth = %d, want 0", got.Depth)
	}
}

func TestGetMissingReturnsNotFound(t *testing.T) {
	s := openTestStore(t, 4)
	if _, err := s.Get(999); err != ErrNotFound {
		t.Errorf("Get missing fp: err = %v, want ErrNotFound", err)
	}
}

func TestInsertBatchDuplicateTolerantKeepsAllRows(t *testing.T) {
	s := openTestStore(t, 4)

	n, err := s.InsertBatch([]Record{rec(1, 0, 10), rec(1, 0, 10), rec(2, 0, 9)}, true)
	if err != nil {
		t.Fatal(err)
	}
	if n != 3 {
		t.Errorf("InsertBatch inserted = %d, want 3", n)
	}

	exists, err := s.Exists(1)
	if err != nil || !exists {
		t.Errorf("Exists(1) = %v, %v", exists, err)
	}

	// No canonical row yet for fp 1 until compaction runs.
	if _, err := s.Get(1); err != ErrNotFound {
		t.Errorf("Get before compaction: err = %v, want ErrNotFound", err)
	}
}

func TestInsertBatchExactDedupSkipsDuplicates(t *testing.T) {
	s := openTestStore(t, 4)

	n, err := s.InsertBatch([]Record{rec(1, 0, 10), rec(1, 0, 10), rec(2, 0, 9)}, false)
	if err != nil {
		t.Fatal(err)
	}
	if n != 2 {
		t.Errorf("InsertBatch inserted = %d, want 2 (one duplicate skipped)", n)
	}
}

func TestScanByDepth(t *testing.T) {
	s := openTestStore(t, 4)
	for i, fp := range []uint64{1, 2, 3} {
		if _, err := s.Insert(rec(fp, uint8(i%2), 5)); err != nil {
			t.Fatal(err)
		}
	}

	var got []uint64
	if err := s.ScanByDepth(0, func(r Record) error {
		got = append(got, r.Fingerprint)
		return nil
	}); err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 {
		t.Errorf("ScanByDepth(0) returned %d records, want 2", len(got))
	}
}

func TestScanByDepthPagePaginates(t *testing.T) {
	s := openTestStore(t, 4)
	for fp := uint64(1); fp <= 5; fp++ {
		if _, err := s.Insert(rec(fp, 0, 5)); err != nil {
			t.Fatal(err)
		}
	}

	page1, err := s.ScanByDepthPage(0, 2, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(page1) != 2 {
		t.Fatalf("page1 len = %d, want 2", len(page1))
	}

	page2, err := s.ScanByDepthPage(0, 2, 2)
	if err != nil {
		t.Fatal(err)
	}
	if len(page2) != 2 {
		t.Fatalf("page2 len = %d, want 2", len(page2))
	}

	page3, err := s.ScanByDepthPage(0, 2, 4)
	if err != nil {
		t.Fatal(err)
	}
	if len(page3) != 1 {
		t.Fatalf("page3 len = %d, want 1", len(page3))
	}
}

func TestUpdateSolutionClearsUnsolvedIndex(t *testing.T) {
	s := openTestStore(t, 4)
	if _, err := s.Insert(rec(1, 0, 5)); err != nil {
		t.Fatal(err)
	}

	n, err := s.CountUnsolvedAtSeeds(5)
	if err != nil || n != 1 {
		t.Fatalf("CountUnsolvedAtSeeds before solve = %d, %v", n, err)
	}

	if err := s.UpdateSolution(1, 4, 2, true); err != nil {
		t.Fatal(err)
	}

	n, err = s.CountUnsolvedAtSeeds(5)
	if err != nil || n != 0 {
		t.Fatalf("CountUnsolvedAtSeeds after solve = %d, %v", n, err)
	}

	got, err := s.Get(1)
	if err != nil {
		t.Fatal(err)
	}
	if !got.HasValue || got.Value != 4 || got.BestMove != 2 {
		t.Errorf("Get after solve = %+v", got)
	}
}

func TestUpdateSolutionIdempotent(t *testing.T) {
	s := openTestStore(t, 4)
	if _, err := s.Insert(rec(1, 0, 5)); err != nil {
		t.Fatal(err)
	}
	if err := s.UpdateSolution(1, 4, 2, true); err != nil {
		t.Fatal(err)
	}
	if err := s.UpdateSolution(1, 4, 2, true); err != nil {
		t.Errorf("repeat UpdateSolution with identical value should be a no-op, got %v", err)
	}
	if err := s.UpdateSolution(1, 5, 2, true); err == nil {
		t.Error("UpdateSolution with a conflicting value should fail")
	}
}

func TestCountAndMaxDepth(t *testing.T) {
	s := openTestStore(t, 4)
	for _, d := range []uint8{0, 1, 1, 2} {
		if _, err := s.Insert(rec(uint64(len([]uint8{d})+int(d)*1000), d, 0)); err != nil {
			t.Fatal(err)
		}
	}

	total, err := s.Count(nil)
	if err != nil {
		t.Fatal(err)
	}
	if total == 0 {
		t.Error("expected non-zero total count")
	}

	maxDepth, err := s.MaxDepth()
	if err != nil {
		t.Fatal(err)
	}
	if maxDepth != 2 {
		t.Errorf("MaxDepth = %d, want 2", maxDepth)
	}
}

func TestMaxDepthEmptyStore(t *testing.T) {
	s := openTestStore(t, 4)
	got, err := s.MaxDepth()
	if err != nil {
		t.Fatal(err)
	}
	if got != -1 {
		t.Errorf("MaxDepth on empty store = %d, want -1", got)
	}
}
