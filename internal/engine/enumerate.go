package engine

import (
	"context"
	"fmt"

	"github.com/go-logr/logr"

	"github.com/hailam/kalahsolve/internal/board"
	"github.com/hailam/kalahsolve/internal/monitor"
	"github.com/hailam/kalahsolve/internal/storage"
)

// Enumerator runs the forward BFS phase: level-by-level expansion of the
// game graph from the starting position.
type Enumerator struct {
	cfg     Config
	store   *storage.Store
	writer  *storage.AsyncWriter
	table   *board.FingerprintTable
	mem     *monitor.MemoryMonitor
	log     logr.Logger

	totalGenerated uint64
	totalUnique    uint64
}

// NewEnumerator builds an enumerator for cfg against store, writing through
// writer and consulting mem for adaptive throttling.
func NewEnumerator(cfg Config, store *storage.Store, writer *storage.AsyncWriter, mem *monitor.MemoryMonitor, log logr.Logger) *Enumerator {
	return &Enumerator{
		cfg:    cfg,
		store:  store,
		writer: writer,
		table:  board.NewFingerprintTable(cfg.Pits, 2*cfg.Pits*cfg.Seeds),
		mem:    mem,
		log:    log,
	}
}

// Run builds the complete game graph, resuming from the store's current
// max depth if one is already present. It returns the maximum depth
// reached.
func (e *Enumerator) Run(ctx context.Context) (int, error) {
	maxDepth, err := e.store.MaxDepth()
	if err != nil {
		return 0, fmt.Errorf("engine: enumerate: read max depth: %w", err)
	}

	depth := 0
	if maxDepth >= 0 {
		e.log.Info("resuming enumeration", "from_depth", maxDepth)
		depth = maxDepth
	} else {
		start := board.NewStart(e.cfg.Pits, e.cfg.Seeds)
		rec := e.recordFor(start, 0)
		if _, err := e.store.Insert(rec); err != nil {
			return 0, fmt.Errorf("engine: enumerate: insert start position: %w", err)
		}
		if err := e.store.Flush(); err != nil {
			return 0, err
		}
		e.log.Info("inserted starting position", "pits", e.cfg.Pits, "seeds", e.cfg.Seeds)
	}

	for {
		if err := ctx.Err(); err != nil {
			return depth, err
		}

		count, err := e.store.Count(depthPtr(uint8(depth)))
		if err != nil {
			return depth, err
		}
		if count == 0 {
			break
		}

		useParallel := e.cfg.Kind == Parallel ||
			(e.cfg.Kind == Adaptive && count >= uint64(e.cfg.AdaptiveThreshold))

		dedup := e.cfg.Dedup
		if e.mem != nil && e.mem.IsCritical() && dedup == InMemory {
			// Fall back to duplicate-tolerant under memory pressure
			// rather than holding a frontier-sized dedup set.
			e.log.Info("memory critical, switching to duplicate-tolerant dedup for this depth")
			dedup = DuplicateTolerant
		}

		var genErr error
		if useParallel {
			genErr = e.expandDepthParallel(ctx, uint8(depth), count, dedup)
		} else {
			genErr = e.expandDepthSingle(ctx, uint8(depth), dedup)
		}
		if genErr != nil {
			return depth, genErr
		}

		if err := e.writer.WaitUntilEmpty(); err != nil {
			return depth, err
		}

		total, err := e.store.Count(nil)
		if err != nil {
			return depth, err
		}
		e.log.Info("depth complete",
			"depth", depth,
			"positions_at_depth", count,
			"total_in_store", total,
			"mode", map[bool]string{true: "parallel", false: "single"}[useParallel])

		depth++
	}

	e.logDuplicationRate()
	return depth - 1, nil
}

func depthPtr(d uint8) *uint8 { return &d }

// expandDepthSingle expands every position at depth on the calling
// goroutine, deduplicating successors in memory within this depth's batch.
func (e *Enumerator) expandDepthSingle(ctx context.Context, depth uint8, dedup DedupMode) error {
	localSeen := map[uint64]bool{}
	batch := make([]storage.Record, 0, e.cfg.ChunkSize)

	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		if err := e.writer.Put(batch, dedup == DuplicateTolerant); err != nil {
			return err
		}
		e.totalGenerated += uint64(len(batch))
		batch = make([]storage.Record, 0, e.cfg.ChunkSize)
		if dedup == InMemory {
			localSeen = map[uint64]bool{}
		}
		return nil
	}

	err := e.store.ScanByDepth(depth, func(rec storage.Record) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		pos := board.Unpack(rec.PackedState, e.cfg.Pits)
		for _, move := range board.LegalMoves(pos) {
			next := board.Apply(pos, move)
			fp := e.table.Fingerprint(next)

			if dedup == InMemory {
				if localSeen[fp] {
					continue
				}
				localSeen[fp] = true
			}

			batch = append(batch, e.recordFor(next, depth+1))
			if len(batch) >= e.cfg.ChunkSize {
				if err := flush(); err != nil {
					return err
				}
			}
		}
		return nil
	})
	if err != nil {
		return err
	}
	return flush()
}

// expandDepthParallel partitions the frontier at depth into chunkSize
// pages and expands each page on its own worker goroutine. In InMemory mode
// each worker deduplicates only within its own chunk, since holding one
// dedup set across workers would serialize them; cross-chunk duplicates
// are dropped by the store's existence check on insert, except in
// DuplicateTolerant mode, where they are left for the dedup compactor.
func (e *Enumerator) expandDepthParallel(ctx context.Context, depth uint8, count uint64, dedup DedupMode) error {
	p := newPool(ctx, e.cfg.workerCount())

	chunk := e.cfg.ChunkSize
	for offset := 0; uint64(offset) < count; offset += chunk {
		offset := offset
		p.Go(func(ctx context.Context) error {
			page, err := e.store.ScanByDepthPage(depth, chunk, offset)
			if err != nil {
				return err
			}
			return e.expandPage(ctx, page, depth, dedup)
		})
	}
	return p.Wait()
}

func (e *Enumerator) expandPage(ctx context.Context, page []storage.Record, depth uint8, dedup DedupMode) error {
	localSeen := map[uint64]bool{}
	batch := make([]storage.Record, 0, len(page))

	for _, rec := range page {
		if err := ctx.Err(); err != nil {
			return err
		}
		pos := board.Unpack(rec.PackedState, e.cfg.Pits)
		for _, move := range board.LegalMoves(pos) {
			next := board.Apply(pos, move)
			fp := e.table.Fingerprint(next)

			if dedup == InMemory {
				if localSeen[fp] {
					continue
				}
				localSeen[fp] = true
			}
			batch = append(batch, e.recordFor(next, depth+1))
		}
	}
	if len(batch) == 0 {
		return nil
	}
	if err := e.writer.Put(batch, dedup == DuplicateTolerant); err != nil {
		return err
	}
	e.totalGenerated += uint64(len(batch))
	return nil
}

func (e *Enumerator) recordFor(p board.Position, depth uint8) storage.Record {
	return storage.Record{
		Fingerprint:    e.table.Fingerprint(p),
		PackedState:    board.Pack(p),
		Depth:          depth,
		SeedsInPits:    uint8(p.SeedsInPits()),
		SecondaryCheck: board.SecondaryCheck(board.Pack(p)),
	}
}

func (e *Enumerator) logDuplicationRate() {
	if e.totalGenerated == 0 {
		return
	}
	unique, err := e.store.Count(nil)
	if err != nil {
		return
	}
	e.totalUnique = unique
	rate := 100 * (1 - float64(unique)/float64(e.totalGenerated))
	e.log.Info("enumeration complete",
		"total_generated", e.totalGenerated,
		"total_unique", unique,
		"duplication_rate_percent", fmt.Sprintf("%.1f", rate))
}
