package solver

import (
	"context"
	"errors"
	"fmt"

	"github.com/go-logr/logr"

	"github.com/hailam/kalahsolve/internal/board"
	"github.com/hailam/kalahsolve/internal/compact"
	"github.com/hailam/kalahsolve/internal/engine"
	"github.com/hailam/kalahsolve/internal/monitor"
	"github.com/hailam/kalahsolve/internal/storage"
)

// Solver owns the store, async writer, and resource monitors for one
// (pits, seeds) run and exposes the five top-level operations.
type Solver struct {
	cfg    Config
	store  *storage.Store
	writer *storage.AsyncWriter
	mem    *monitor.MemoryMonitor
	disk   *monitor.DiskMonitor
	table  *board.FingerprintTable
	log    logr.Logger
}

// Open validates cfg, opens the position store, and builds the resource
// monitors. Callers must call Close when done.
func Open(cfg Config, log logr.Logger) (*Solver, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	store, err := storage.Open(cfg.StorePath, cfg.Pits, cfg.Durability, log.WithName("store"))
	if err != nil {
		return nil, wrapErr(ErrKindStorage, "open", err)
	}

	diskFatal := cfg.DiskFatalBytes
	if diskFatal == 0 {
		if stats, derr := monitor.ReadDiskStats(store.Path()); derr == nil {
			diskFatal = monitor.DefaultFatalBytes(stats.TotalBytes)
		}
	}

	return &Solver{
		cfg:    cfg,
		store:  store,
		writer: storage.NewAsyncWriter(store, log.WithName("writer")),
		mem:    monitor.NewMemoryMonitor(cfg.memoryThrottledBytes(), cfg.memoryCriticalBytes(), log.WithName("memory")),
		disk:   monitor.NewDiskMonitor(store.Path(), diskFatal, log.WithName("disk")),
		table:  board.NewFingerprintTable(cfg.Pits, 2*cfg.Pits*cfg.Seeds),
		log:    log,
	}, nil
}

// Close stops the async writer and closes the store.
func (s *Solver) Close() error {
	werr := s.writer.Close()
	serr := s.store.Close()
	if werr != nil {
		return wrapErr(ErrKindStorage, "close", werr)
	}
	if serr != nil {
		return wrapErr(ErrKindStorage, "close", serr)
	}
	return nil
}

func (s *Solver) checkResources() error {
	if safe, stats, err := s.disk.Check(); err == nil && !safe {
		return wrapErr(ErrKindResource, "disk-check", fmt.Errorf("only %d bytes free", stats.FreeBytes))
	}
	if s.mem.IsCritical() {
		s.log.Info("memory critical at phase boundary, proceeding with duplicate-tolerant fallback already engaged upstream")
	}
	return nil
}

// Solve runs the full pipeline: enumerate, compact, retrograde. It is the
// operation the "solve" CLI subcommand drives end to end.
func (s *Solver) Solve(ctx context.Context) (int, error) {
	if _, err := s.EnumerateOnly(ctx); err != nil {
		return 0, err
	}
	if _, err := s.Compact(ctx, false); err != nil {
		return 0, err
	}
	return s.EvaluateOnly(ctx)
}

// EnumerateOnly runs just the forward BFS phase.
func (s *Solver) EnumerateOnly(ctx context.Context) (int, error) {
	if err := s.checkResources(); err != nil {
		return 0, err
	}
	enum := engine.NewEnumerator(s.cfg.engineConfig(), s.store, s.writer, s.mem, s.log.WithName("enumerate"))
	maxDepth, err := enum.Run(ctx)
	if err != nil {
		return maxDepth, wrapErr(ErrKindInvariant, "enumerate", err)
	}
	return maxDepth, nil
}

// Compact runs the dedup compaction phase.
func (s *Solver) Compact(ctx context.Context, dryRun bool) (compact.Report, error) {
	if err := s.checkResources(); err != nil {
		return compact.Report{}, err
	}
	report, err := compact.Run(s.store, dryRun, s.log.WithName("compact"))
	if err != nil {
		return report, wrapErr(ErrKindStorage, "compact", err)
	}
	return report, nil
}

// EvaluateOnly runs just the retrograde minimax phase, assuming the store
// already holds a fully enumerated and compacted game graph.
func (s *Solver) EvaluateOnly(ctx context.Context) (int, error) {
	if err := s.checkResources(); err != nil {
		return 0, err
	}
	retro := engine.NewRetrograde(s.cfg.engineConfig(), s.store, s.log.WithName("retrograde"))
	defer retro.Close()
	value, err := retro.Run(ctx)
	if err != nil {
		return 0, wrapErr(ErrKindInvariant, "evaluate", err)
	}
	return value, nil
}

// QueryResult is the solved (or unsolved) status of one position, as
// returned by Query.
type QueryResult struct {
	Fingerprint uint64
	Depth       uint8
	SeedsInPits uint8
	IsTerminal  bool
	Solved      bool
	Value       int
	BestMove    int
	HasBestMove bool
}

// Query replays moves from the starting position and reports what the
// store knows about the resulting position: its depth, whether it has
// been solved, its value, and its best move, if any. Accepting an
// arbitrary move path rather than only the starting position lets the
// same operation inspect any reachable position.
func (s *Solver) Query(moves []int) (QueryResult, error) {
	pos := board.NewStart(s.cfg.Pits, s.cfg.Seeds)
	for i, m := range moves {
		legal := board.LegalMoves(pos)
		found := false
		for _, lm := range legal {
			if lm == m {
				found = true
				break
			}
		}
		if !found {
			return QueryResult{}, wrapErr(ErrKindConfig, "query", fmt.Errorf("move %d (index %d) is not legal in the position reached so far", m, i))
		}
		pos = board.Apply(pos, m)
	}

	fp := s.table.Fingerprint(pos)
	rec, err := s.store.Get(fp)
	if errors.Is(err, storage.ErrNotFound) {
		return QueryResult{
			Fingerprint: fp,
			SeedsInPits: uint8(pos.SeedsInPits()),
			IsTerminal:  board.IsTerminal(pos),
		}, nil
	}
	if err != nil {
		return QueryResult{}, wrapErr(ErrKindStorage, "query", err)
	}

	return QueryResult{
		Fingerprint: fp,
		Depth:       rec.Depth,
		SeedsInPits: rec.SeedsInPits,
		IsTerminal:  board.IsTerminal(pos),
		Solved:      rec.HasValue,
		Value:       int(rec.Value),
		BestMove:    int(rec.BestMove),
		HasBestMove: rec.HasBestMove,
	}, nil
}

// Stats reports overall store progress, used by both the "query" command's
// summary header and the "solve" command's final log line.
type Stats struct {
	TotalPositions uint64
	MaxDepth       int
}

// Stats returns current store-wide counts.
func (s *Solver) Stats() (Stats, error) {
	total, err := s.store.Count(nil)
	if err != nil {
		return Stats{}, wrapErr(ErrKindStorage, "stats", err)
	}
	maxDepth, err := s.store.MaxDepth()
	if err != nil {
		return Stats{}, wrapErr(ErrKindStorage, "stats", err)
	}
	return Stats{TotalPositions: total, MaxDepth: maxDepth}, nil
}
