package engine

import (
	"context"
	stdlog "log"
	"path/filepath"
	"testing"

	"github.com/go-logr/logr"
	"github.com/go-logr/stdr"

	"github.com/hailam/kalahsolve/internal/board"
	"github.com/hailam/kalahsolve/internal/compact"
	"github.com/hailam/kalahsolve/internal/storage"
)

type discardWriter struct{}

func (discardWriter) Write(p []byte) (int, error) { return len(p), nil }

func testLog() logr.Logger {
	return stdr.New(stdlog.New(discardWriter{}, "", 0))
}

// TestSolveKalah33Golden exercises the full enumerate -> compact ->
// retrograde pipeline on Kalah(3,3), small enough to run as a unit test
// while still exercising bonus turns, captures, and same-layer retrograde
// dependencies end to end.
func TestSolveKalah33Golden(t *testing.T) {
	dir := t.TempDir()
	store, err := storage.Open(filepath.Join(dir, "db"), 3, storage.DurabilityFast, testLog())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer store.Close()

	writer := storage.NewAsyncWriter(store, testLog())
	defer writer.Close()

	cfg := DefaultConfig(3, 3)
	cfg.Kind = Single
	cfg.Dedup = InMemory

	enum := NewEnumerator(cfg, store, writer, nil, testLog())
	maxDepth, err := enum.Run(context.Background())
	if err != nil {
		t.Fatalf("enumerate: %v", err)
	}
	if maxDepth <= 0 {
		t.Fatalf("maxDepth = %d, want > 0", maxDepth)
	}

	if _, err := compact.Run(store, false, testLog()); err != nil {
		t.Fatalf("compact: %v", err)
	}

	retro := NewRetrograde(cfg, store, testLog())
	defer retro.Close()
	value, err := retro.Run(context.Background())
	if err != nil {
		t.Fatalf("retrograde: %v", err)
	}

	// The starting position is symmetric for Kalah(3,3); whatever the
	// solved value is, it must be internally consistent with the stored
	// record for the start position.
	startFp := board.NewFingerprintTable(3, 18).Fingerprint(board.NewStart(3, 3))
	startRec, err := store.Get(startFp)
	if err != nil {
		t.Fatalf("Get(start): %v", err)
	}
	if !startRec.HasValue || int(startRec.Value) != value {
		t.Errorf("stored start record = %+v, want solved with value %d", startRec, value)
	}

	total, err := store.Count(nil)
	if err != nil {
		t.Fatal(err)
	}
	if total == 0 {
		t.Fatal("expected a non-empty solved game graph")
	}
	t.Logf("Kalah(3,3): %d total positions, starting value %d", total, value)
}

func TestEnumerateResumesFromExistingMaxDepth(t *testing.T) {
	dir := t.TempDir()
	store, err := storage.Open(filepath.Join(dir, "db"), 3, storage.DurabilityFast, testLog())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer store.Close()

	writer := storage.NewAsyncWriter(store, testLog())
	defer writer.Close()

	cfg := DefaultConfig(3, 3)
	cfg.Kind = Single

	enum := NewEnumerator(cfg, store, writer, nil, testLog())
	if _, err := enum.Run(context.Background()); err != nil {
		t.Fatalf("first run: %v", err)
	}
	firstTotal, err := store.Count(nil)
	if err != nil {
		t.Fatal(err)
	}

	// A second enumerator against the same (already complete) store must
	// resume from the max depth and add nothing new.
	enum2 := NewEnumerator(cfg, store, writer, nil, testLog())
	if _, err := enum2.Run(context.Background()); err != nil {
		t.Fatalf("resumed run: %v", err)
	}
	secondTotal, err := store.Count(nil)
	if err != nil {
		t.Fatal(err)
	}
	if secondTotal != firstTotal {
		t.Errorf("resumed run changed total from %d to %d", firstTotal, secondTotal)
	}
}
