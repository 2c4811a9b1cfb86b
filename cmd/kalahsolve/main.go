// Command kalahsolve enumerates and solves Kalah-family Mancala variants
// with a disk-backed position store, a parallel/adaptive forward BFS phase,
// and a retrograde minimax evaluation phase.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"

	"github.com/go-logr/stdr"

	"github.com/hailam/kalahsolve/internal/engine"
	"github.com/hailam/kalahsolve/internal/solver"
	"github.com/hailam/kalahsolve/internal/storage"
)

func main() {
	log.SetFlags(log.Ltime)

	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}

	var err error
	switch os.Args[1] {
	case "solve":
		err = runSolve(os.Args[2:])
	case "enumerate-only":
		err = runEnumerateOnly(os.Args[2:])
	case "evaluate-only":
		err = runEvaluateOnly(os.Args[2:])
	case "compact":
		err = runCompact(os.Args[2:])
	case "query":
		err = runQuery(os.Args[2:])
	case "-h", "-help", "--help", "help":
		usage()
		return
	default:
		fmt.Fprintf(os.Stderr, "kalahsolve: unknown command %q\n", os.Args[1])
		usage()
		os.Exit(2)
	}

	if err != nil {
		log.Fatalf("kalahsolve: %v", err)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, `usage: kalahsolve <command> [flags]

commands:
  solve            run enumeration, compaction, and retrograde evaluation
  enumerate-only   run the forward BFS phase only
  evaluate-only    run the retrograde minimax phase only (store must already be enumerated+compacted)
  compact          deduplicate the position store
  query            look up a position by a sequence of moves from the start

run "kalahsolve <command> -h" for a command's flags.`)
}

// runConfig holds the flags shared by every subcommand that opens a store.
type runConfig struct {
	pits, seeds int
	storePath   string
	fast        bool
	workers     int
	dedup       string
	kind        string
}

func bindRunFlags(fs *flag.FlagSet, rc *runConfig) {
	fs.IntVar(&rc.pits, "pits", 6, "pits per side")
	fs.IntVar(&rc.seeds, "seeds", 4, "starting seeds per pit")
	fs.StringVar(&rc.storePath, "store", "", "position store directory (defaults to the platform data directory)")
	fs.BoolVar(&rc.fast, "fast", false, "use fast (non-fsyncing) durability; store is discardable on crash")
	fs.IntVar(&rc.workers, "workers", 0, "worker goroutines (0 = runtime.NumCPU())")
	fs.StringVar(&rc.dedup, "dedup", "in-memory", "dedup mode: in-memory | duplicate-tolerant | store-level")
	fs.StringVar(&rc.kind, "kind", "adaptive", "enumeration kind: adaptive | parallel | single")
}

func (rc *runConfig) resolveStorePath() (string, error) {
	if rc.storePath != "" {
		return rc.storePath, nil
	}
	runName := fmt.Sprintf("kalah-%d-%d", rc.pits, rc.seeds)
	return storage.DefaultStoreDir(runName)
}

func (rc *runConfig) dedupMode() (engine.DedupMode, error) {
	switch rc.dedup {
	case "in-memory":
		return engine.InMemory, nil
	case "duplicate-tolerant":
		return engine.DuplicateTolerant, nil
	case "store-level":
		return engine.StoreLevel, nil
	default:
		return 0, fmt.Errorf("unknown -dedup %q", rc.dedup)
	}
}

func (rc *runConfig) solverKind() (engine.SolverKind, error) {
	switch rc.kind {
	case "adaptive":
		return engine.Adaptive, nil
	case "parallel":
		return engine.Parallel, nil
	case "single":
		return engine.Single, nil
	default:
		return 0, fmt.Errorf("unknown -kind %q", rc.kind)
	}
}

func (rc *runConfig) toSolverConfig() (solver.Config, error) {
	storePath, err := rc.resolveStorePath()
	if err != nil {
		return solver.Config{}, err
	}
	dedup, err := rc.dedupMode()
	if err != nil {
		return solver.Config{}, err
	}
	kind, err := rc.solverKind()
	if err != nil {
		return solver.Config{}, err
	}
	durability := storage.DurabilityNormal
	if rc.fast {
		durability = storage.DurabilityFast
	}
	return solver.Config{
		Pits:        rc.pits,
		Seeds:       rc.seeds,
		StorePath:   storePath,
		Durability:  durability,
		EngineKind:  kind,
		EngineDedup: dedup,
		Workers:     rc.workers,
	}, nil
}

func openSolver(rc *runConfig) (*solver.Solver, error) {
	cfg, err := rc.toSolverConfig()
	if err != nil {
		return nil, err
	}
	lg := stdr.New(log.Default())
	s, err := solver.Open(cfg, lg)
	if err != nil {
		return nil, err
	}
	log.Printf("store: %s (pits=%d seeds=%d durability=%s)", cfg.StorePath, cfg.Pits, cfg.Seeds, cfg.Durability)
	return s, nil
}

func runSolve(args []string) error {
	fs := flag.NewFlagSet("solve", flag.ExitOnError)
	rc := &runConfig{}
	bindRunFlags(fs, rc)
	if err := fs.Parse(args); err != nil {
		return err
	}

	s, err := openSolver(rc)
	if err != nil {
		return err
	}
	defer s.Close()

	value, err := s.Solve(context.Background())
	if err != nil {
		return err
	}
	stats, err := s.Stats()
	if err != nil {
		return err
	}
	log.Printf("solved: value=%d total_positions=%d max_depth=%d", value, stats.TotalPositions, stats.MaxDepth)
	return nil
}

func runEnumerateOnly(args []string) error {
	fs := flag.NewFlagSet("enumerate-only", flag.ExitOnError)
	rc := &runConfig{}
	bindRunFlags(fs, rc)
	if err := fs.Parse(args); err != nil {
		return err
	}

	s, err := openSolver(rc)
	if err != nil {
		return err
	}
	defer s.Close()

	maxDepth, err := s.EnumerateOnly(context.Background())
	if err != nil {
		return err
	}
	log.Printf("enumerated to max depth %d", maxDepth)
	return nil
}

func runEvaluateOnly(args []string) error {
	fs := flag.NewFlagSet("evaluate-only", flag.ExitOnError)
	rc := &runConfig{}
	bindRunFlags(fs, rc)
	if err := fs.Parse(args); err != nil {
		return err
	}

	s, err := openSolver(rc)
	if err != nil {
		return err
	}
	defer s.Close()

	value, err := s.EvaluateOnly(context.Background())
	if err != nil {
		return err
	}
	log.Printf("evaluated: starting position value = %d", value)
	return nil
}

func runCompact(args []string) error {
	fs := flag.NewFlagSet("compact", flag.ExitOnError)
	rc := &runConfig{}
	bindRunFlags(fs, rc)
	dryRun := fs.Bool("dry-run", false, "report duplicates without removing them")
	if err := fs.Parse(args); err != nil {
		return err
	}

	s, err := openSolver(rc)
	if err != nil {
		return err
	}
	defer s.Close()

	report, err := s.Compact(context.Background(), *dryRun)
	if err != nil {
		return err
	}
	log.Printf("compact: groups=%d duplicates_found=%d dry_run=%t (%.1f%% of rows were duplicates)",
		report.Groups, report.DuplicatesFound, report.DryRun, report.Percent())
	return nil
}

func runQuery(args []string) error {
	fs := flag.NewFlagSet("query", flag.ExitOnError)
	rc := &runConfig{}
	bindRunFlags(fs, rc)
	movesFlag := fs.String("moves", "", "comma-separated 0-based pit indices played from the starting position")
	if err := fs.Parse(args); err != nil {
		return err
	}

	moves, err := parseMoves(*movesFlag)
	if err != nil {
		return err
	}

	s, err := openSolver(rc)
	if err != nil {
		return err
	}
	defer s.Close()

	stats, err := s.Stats()
	if err != nil {
		return err
	}
	result, err := s.Query(moves)
	if err != nil {
		return err
	}

	fmt.Printf("total_positions: %d\n", stats.TotalPositions)
	fmt.Printf("max_depth: %d\n", stats.MaxDepth)
	fmt.Printf("fingerprint: %d\n", result.Fingerprint)
	fmt.Printf("depth: %d\n", result.Depth)
	fmt.Printf("seeds_in_pits: %d\n", result.SeedsInPits)
	fmt.Printf("terminal: %t\n", result.IsTerminal)
	fmt.Printf("solved: %t\n", result.Solved)
	if result.Solved {
		fmt.Printf("value: %d\n", result.Value)
		if result.HasBestMove {
			fmt.Printf("best_move: %d\n", result.BestMove)
		} else {
			fmt.Println("best_move: none (terminal position)")
		}
	}
	return nil
}

func parseMoves(s string) ([]int, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, nil
	}
	parts := strings.Split(s, ",")
	moves := make([]int, 0, len(parts))
	for _, p := range parts {
		m, err := strconv.Atoi(strings.TrimSpace(p))
		if err != nil {
			return nil, fmt.Errorf("invalid move %q in -moves: %w", p, err)
		}
		moves = append(moves, m)
	}
	return moves, nil
}
