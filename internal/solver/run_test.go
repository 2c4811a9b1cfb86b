package solver

import (
	"context"
	stdlog "log"
	"path/filepath"
	"testing"

	"github.com/go-logr/logr"
	"github.com/go-logr/stdr"

	"github.com/hailam/kalahsolve/internal/engine"
	"github.com/hailam/kalahsolve/internal/storage"
)

type discard struct{}

func (discard) Write(p []byte) (int, error) { return len(p), nil }

func testLog() logr.Logger {
	return stdr.New(stdlog.New(discard{}, "", 0))
}

func TestConfigValidate(t *testing.T) {
	cases := []struct {
		name    string
		cfg     Config
		wantErr bool
	}{
		{"valid", Config{Pits: 4, Seeds: 3, StorePath: "/tmp/x"}, false},
		{"zero pits", Config{Pits: 0, Seeds: 3, StorePath: "/tmp/x"}, true},
		{"zero seeds", Config{Pits: 4, Seeds: 0, StorePath: "/tmp/x"}, true},
		{"empty path", Config{Pits: 4, Seeds: 3}, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.cfg.Validate()
			if (err != nil) != tc.wantErr {
				t.Errorf("Validate() err = %v, wantErr %v", err, tc.wantErr)
			}
		})
	}
}

func TestSolveAndQueryKalah22(t *testing.T) {
	cfg := Config{
		Pits:       2,
		Seeds:      2,
		StorePath:  filepath.Join(t.TempDir(), "db"),
		Durability: storage.DurabilityFast,
		EngineKind: engine.Single,
	}

	s, err := Open(cfg, testLog())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer s.Close()

	value, err := s.Solve(context.Background())
	if err != nil {
		t.Fatalf("Solve: %v", err)
	}
	t.Logf("Kalah(2,2) solved value: %d", value)

	stats, err := s.Stats()
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	if stats.TotalPositions == 0 {
		t.Error("expected a non-empty game graph")
	}

	res, err := s.Query(nil)
	if err != nil {
		t.Fatalf("Query(start): %v", err)
	}
	if !res.Solved {
		t.Error("starting position should be solved after Solve()")
	}
	if res.Value != value {
		t.Errorf("Query value = %d, want %d (matches Solve's return)", res.Value, value)
	}
}

func TestQueryRejectsIllegalMove(t *testing.T) {
	cfg := Config{
		Pits:       2,
		Seeds:      2,
		StorePath:  filepath.Join(t.TempDir(), "db"),
		Durability: 1,
		EngineKind: engine.Single,
	}
	s, err := Open(cfg, testLog())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer s.Close()

	if _, err := s.Query([]int{99}); err == nil {
		t.Error("expected an error querying an illegal move")
	}
}
