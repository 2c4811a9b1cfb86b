package engine

import (
	"context"
	"errors"
	"fmt"

	"github.com/go-logr/logr"

	"github.com/hailam/kalahsolve/internal/board"
	"github.com/hailam/kalahsolve/internal/storage"
)

// ErrCircularDependency signals that a seeds-in-pits layer stopped making
// progress while positions remain unsolved: an invariant violation, since
// legal moves only ever hold or decrease seeds-in-pits.
var ErrCircularDependency = errors.New("engine: circular dependency within a seeds-in-pits layer")

// Retrograde evaluates every position's minimax value, working backwards
// from terminal positions (seeds-in-pits == 0) up to the starting position.
type Retrograde struct {
	cfg   Config
	store *storage.Store
	table *board.FingerprintTable
	cache *successorCache
	log   logr.Logger
}

// NewRetrograde builds an evaluator for cfg against store. The returned
// Retrograde owns a successor-record cache and must be closed with Close
// once the run is done.
func NewRetrograde(cfg Config, store *storage.Store, log logr.Logger) *Retrograde {
	cacheBytes := cfg.SuccessorCacheBytes
	if cacheBytes <= 0 {
		cacheBytes = 64 << 20
	}
	cache, err := newSuccessorCache(cacheBytes)
	if err != nil {
		log.Error(err, "successor cache unavailable, falling back to direct store reads")
		cache = nil
	}
	return &Retrograde{
		cfg:   cfg,
		store: store,
		table: board.NewFingerprintTable(cfg.Pits, 2*cfg.Pits*cfg.Seeds),
		cache: cache,
		log:   log,
	}
}

// Close releases the successor cache. Safe to call on a nil cache.
func (r *Retrograde) Close() {
	r.cache.Close()
}

// Run solves every position in the store layer by layer, in ascending
// seeds-in-pits order, and returns the starting position's value.
//
// Within a layer, most positions are immediately solvable (every successor
// already solved at a strictly lower seeds-in-pits layer), but a move whose
// sowing stays inside the mover's own pits and captures nothing holds
// seeds-in-pits constant, so some positions depend on siblings in the same
// layer. The inner loop repeats a combined check-and-solve pass over the
// layer until nothing is left unsolved, or fails if a pass makes no
// progress.
func (r *Retrograde) Run(ctx context.Context) (int, error) {
	maxSeeds := 2 * r.cfg.Pits * r.cfg.Seeds

	for seeds := 0; seeds <= maxSeeds; seeds++ {
		if err := ctx.Err(); err != nil {
			return 0, err
		}

		if err := r.solveLayer(ctx, uint8(seeds)); err != nil {
			return 0, fmt.Errorf("engine: retrograde: seeds_in_pits=%d: %w", seeds, err)
		}
	}

	start := board.NewStart(r.cfg.Pits, r.cfg.Seeds)
	fp := r.table.Fingerprint(start)
	rec, err := r.store.Get(fp)
	if err != nil {
		return 0, fmt.Errorf("engine: retrograde: read starting position: %w", err)
	}
	if !rec.HasValue {
		return 0, fmt.Errorf("engine: retrograde: starting position unsolved after full pass")
	}
	r.log.Info("game solved", "value", rec.Value, "best_move", rec.BestMove, "has_best_move", rec.HasBestMove)
	return int(rec.Value), nil
}

// solveLayer solves every unsolved position at the given seeds-in-pits
// level. Each pass runs sequentially on the calling goroutine; no worker
// pool is used, whatever the layer's size.
func (r *Retrograde) solveLayer(ctx context.Context, seeds uint8) error {
	count, err := r.store.CountUnsolvedAtSeeds(seeds)
	if err != nil {
		return err
	}
	if count == 0 {
		return nil
	}

	r.log.Info("solving layer", "seeds_in_pits", seeds, "unsolved", count)

	iterations := 0
	for {
		iterations++
		remaining, progressed, err := r.solvePass(ctx, seeds)
		if err != nil {
			return err
		}
		if remaining == 0 {
			break
		}
		if !progressed {
			return fmt.Errorf("%w: seeds_in_pits=%d, %d positions remaining", ErrCircularDependency, seeds, remaining)
		}
	}

	r.log.Info("layer solved", "seeds_in_pits", seeds, "iterations", iterations)
	return nil
}

// solvePass scans every unsolved position at seeds once, solving those
// whose children are all already solved. Returns the count still unsolved
// after the pass and whether any progress was made.
//
// The scan is paginated, but UpdateSolution deletes a row's unsolvedIdxKey
// the moment it solves it — paginating the same index with an increasing
// offset while it shrinks underneath the scan would skip rows that shift
// into an already-visited page. Snapshotting the whole layer into memory
// first (the unsolved index is only read, never written, during this
// phase) and then solving from that stable snapshot avoids the drift.
func (r *Retrograde) solvePass(ctx context.Context, seeds uint8) (remaining uint64, progressed bool, err error) {
	const pageSize = 50_000

	var snapshot []storage.Record
	for offset := 0; ; offset += pageSize {
		if err := ctx.Err(); err != nil {
			return 0, false, err
		}
		page, err := r.store.ScanUnsolvedBySeedsPage(seeds, pageSize, offset)
		if err != nil {
			return 0, false, err
		}
		if len(page) == 0 {
			break
		}
		snapshot = append(snapshot, page...)
	}

	for _, rec := range snapshot {
		if err := ctx.Err(); err != nil {
			return 0, false, err
		}
		pos := board.Unpack(rec.PackedState, r.cfg.Pits)
		value, bestMove, hasBestMove, ok, err := r.trySolve(pos)
		if err != nil {
			return 0, false, err
		}
		if !ok {
			remaining++
			continue
		}
		if err := r.store.UpdateSolution(rec.Fingerprint, int8(value), bestMove, hasBestMove); err != nil {
			return 0, false, err
		}
		rec.HasValue = true
		rec.Value = int8(value)
		rec.BestMove = bestMove
		rec.HasBestMove = hasBestMove
		r.cache.Set(rec.Fingerprint, rec)
		progressed = true
	}
	return remaining, progressed, nil
}

// trySolve evaluates pos if every child (successor) already has a stored
// value, returning ok=false to defer evaluation to a later pass otherwise.
func (r *Retrograde) trySolve(pos board.Position) (value int, bestMove uint8, hasBestMove bool, ok bool, err error) {
	if board.IsTerminal(pos) {
		return board.TerminalScore(pos), 0, false, true, nil
	}

	moves := board.LegalMoves(pos)
	maximizing := pos.Mover == 0
	moverLo, _ := pos.PitsOf(pos.Mover)

	best := 0
	haveBest := false
	var chosenMove uint8

	for _, move := range moves {
		next := board.Apply(pos, move)
		fp := r.table.Fingerprint(next)
		childRec, err := r.getRecord(fp)
		if errors.Is(err, storage.ErrNotFound) {
			return 0, 0, false, false, fmt.Errorf("engine: retrograde: successor not found: fp=%d", fp)
		}
		if err != nil {
			return 0, 0, false, false, err
		}
		if !childRec.HasValue {
			return 0, 0, false, false, nil // child not solved yet: defer to a later pass
		}

		// bestMove is stored relative to the mover's own pit range ([0, P)),
		// not the absolute board index LegalMoves returns, so a record's
		// meaning doesn't depend on which side moved there.
		relMove := uint8(move - moverLo)

		childValue := int(childRec.Value)
		if !haveBest {
			best = childValue
			chosenMove = relMove
			haveBest = true
			continue
		}
		if (maximizing && childValue > best) || (!maximizing && childValue < best) {
			best = childValue
			chosenMove = relMove
		}
	}

	if !haveBest {
		return 0, 0, false, false, fmt.Errorf("engine: retrograde: non-terminal position with no legal moves")
	}
	return best, chosenMove, true, true, nil
}

// getRecord reads fp's record through the successor cache, falling back to
// the store on a miss and populating the cache for the next parent that
// shares this child.
func (r *Retrograde) getRecord(fp uint64) (storage.Record, error) {
	if rec, ok := r.cache.Get(fp); ok {
		return rec, nil
	}
	rec, err := r.store.Get(fp)
	if err != nil {
		return storage.Record{}, err
	}
	if rec.HasValue {
		r.cache.Set(fp, rec)
	}
	return rec, nil
}
