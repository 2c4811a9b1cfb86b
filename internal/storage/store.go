package storage

import (
	"errors"
	"fmt"

	"github.com/dgraph-io/badger/v4"
	"github.com/go-logr/logr"
)

// Durability selects the store's crash-safety mode. The fast mode must
// never be the implicit default; callers opt into it explicitly.
type Durability int

const (
	// DurabilityNormal fsyncs every committed batch: full crash safety.
	DurabilityNormal Durability = iota
	// DurabilityFast skips per-commit fsync for 5-10x write throughput.
	// Valid only for restartable batch computations; the store is
	// discardable on a crash in this mode.
	DurabilityFast
)

func (d Durability) String() string {
	if d == DurabilityFast {
		return "fast"
	}
	return "normal"
}

// storeTxnChunk bounds how many records one Badger transaction touches, so
// a single large insert_batch call doesn't overrun Badger's per-transaction
// size limits.
const storeTxnChunk = 10_000

// ErrNotFound is returned by Get and UpdateSolution when the fingerprint
// has no record.
var ErrNotFound = errors.New("storage: record not found")

// ErrFingerprintCollision is an invariant violation: two distinct packed
// states hashed to the same fingerprint within one run.
var ErrFingerprintCollision = errors.New("storage: fingerprint collision between distinct packed states")

// Store is the durable, content-addressed position store.
type Store struct {
	db         *badger.DB
	codec      recordCodec
	durability Durability
	log        logr.Logger
	path       string
}

// Open opens (or creates) the position store at path for the given
// pits-per-side (which fixes the packed-state width every record carries).
func Open(path string, pits int, durability Durability, log logr.Logger) (*Store, error) {
	opts := badger.DefaultOptions(path)
	opts.Logger = badgerLogAdapter{log: log.WithName("badger")}
	opts.SyncWrites = durability == DurabilityNormal

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("storage: open %q: %w", path, err)
	}

	return &Store{
		db:         db,
		codec:      newRecordCodec(packedWidthFor(pits)),
		durability: durability,
		log:        log,
		path:       path,
	}, nil
}

// packedWidthFor mirrors board.PackedSize without importing internal/board,
// keeping the storage package independent of game rules (the store only
// ever treats PackedState as an opaque fixed-width blob).
func packedWidthFor(pits int) int {
	totalBits := (2*pits+2)*5 + 1
	return (totalBits + 7) / 8
}

// Close releases the underlying Badger handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// Flush makes previously buffered writes durable. In normal durability mode
// every commit is already fsynced; in fast mode this is the caller's
// opportunity to force a sync point (e.g. at the end of a BFS depth).
func (s *Store) Flush() error {
	if err := s.db.Sync(); err != nil {
		return fmt.Errorf("storage: flush: %w", err)
	}
	return nil
}

// Path returns the filesystem path the store was opened at, used by the
// memory/disk monitor to check free space on the right volume.
func (s *Store) Path() string { return s.path }

// Insert inserts record if its fingerprint is absent (exact-dedup
// semantics: the canonical row always lives at sequence 0). Returns
// whether an insert occurred.
func (s *Store) Insert(r Record) (bool, error) {
	inserted := false
	err := s.db.Update(func(txn *badger.Txn) error {
		var err error
		inserted, err = s.insertCanonical(txn, r)
		return err
	})
	return inserted, err
}

// insertCanonical writes r at recordKey(fp, 0) if absent, maintaining every
// secondary index and counter in the same transaction. If a row already
// occupies fp, its SecondaryCheck is compared against r's: a mismatch means
// two distinct packed states hashed to the same fingerprint, which is
// reported rather than silently dropping the second state as a dedup no-op.
func (s *Store) insertCanonical(txn *badger.Txn, r Record) (bool, error) {
	key := recordKey(r.Fingerprint, 0)
	if item, err := txn.Get(key); err == nil {
		var existing Record
		if verr := item.Value(func(val []byte) error {
			decoded, derr := s.codec.decode(r.Fingerprint, val)
			if derr != nil {
				return derr
			}
			existing = decoded
			return nil
		}); verr != nil {
			return false, verr
		}
		if existing.SecondaryCheck != r.SecondaryCheck {
			return false, fmt.Errorf("storage: %w: fingerprint %d", ErrFingerprintCollision, r.Fingerprint)
		}
		return false, nil // already present: no-op
	} else if !errors.Is(err, badger.ErrKeyNotFound) {
		return false, err
	}

	if err := txn.Set(key, s.codec.encode(r)); err != nil {
		return false, err
	}
	if err := txn.Set(depthIdxKey(r.Depth, r.Fingerprint, 0), nil); err != nil {
		return false, err
	}
	if err := txn.Set(seedsIdxKey(r.SeedsInPits, r.Fingerprint, 0), nil); err != nil {
		return false, err
	}
	if !r.HasValue {
		if err := txn.Set(unsolvedIdxKey(r.SeedsInPits, r.Fingerprint, 0), nil); err != nil {
			return false, err
		}
		if err := bumpCounter(txn, unsolvedCountKey(r.SeedsInPits), 1); err != nil {
			return false, err
		}
	}
	if err := bumpCounter(txn, depthCountKey(r.Depth), 1); err != nil {
		return false, err
	}
	if err := bumpCounter(txn, totalCountKeyBytes, 1); err != nil {
		return false, err
	}
	if err := s.bumpMaxDepth(txn, r.Depth); err != nil {
		return false, err
	}
	return true, nil
}

// InsertBatch bulk inserts records. With allowDuplicates=false, duplicate
// fingerprints are dropped (exact-dedup mode). With allowDuplicates=true,
// every record is appended under a fresh sequence number without an
// existence check (duplicate-tolerant mode); the dedup compactor
// reconciles these later. Returns the number of rows written: in
// exact-dedup mode the new canonical rows, in duplicate-tolerant mode
// always len(records), none of which is canonical yet.
func (s *Store) InsertBatch(records []Record, allowDuplicates bool) (int, error) {
	total := 0
	for start := 0; start < len(records); start += storeTxnChunk {
		end := start + storeTxnChunk
		if end > len(records) {
			end = len(records)
		}
		chunk := records[start:end]

		n, err := s.insertBatchChunk(chunk, allowDuplicates)
		if err != nil {
			return total, err
		}
		total += n
	}
	return total, nil
}

func (s *Store) insertBatchChunk(records []Record, allowDuplicates bool) (int, error) {
	inserted := 0
	err := s.db.Update(func(txn *badger.Txn) error {
		if allowDuplicates {
			seqBase, err := reserveSequence(txn, uint64(len(records)))
			if err != nil {
				return err
			}
			for i, r := range records {
				if err := s.insertDuplicate(txn, r, seqBase+uint64(i)); err != nil {
					return err
				}
			}
			inserted = len(records)
			return nil
		}

		for _, r := range records {
			ok, err := s.insertCanonical(txn, r)
			if err != nil {
				return err
			}
			if ok {
				inserted++
			}
		}
		return nil
	})
	return inserted, err
}

// insertDuplicate appends r as a non-canonical row under seq, indexed by
// depth and seeds-in-pits and counted in the per-depth counter (but never
// by unsolved-ness, the unsolved counter or the total counter — those only
// reflect canonical rows until the compactor runs).
func (s *Store) insertDuplicate(txn *badger.Txn, r Record, seq uint64) error {
	key := recordKey(r.Fingerprint, seq)
	if err := txn.Set(key, s.codec.encode(r)); err != nil {
		return err
	}
	if err := txn.Set(depthIdxKey(r.Depth, r.Fingerprint, seq), nil); err != nil {
		return err
	}
	if err := txn.Set(seedsIdxKey(r.SeedsInPits, r.Fingerprint, seq), nil); err != nil {
		return err
	}
	if err := bumpCounter(txn, depthCountKey(r.Depth), 1); err != nil {
		return err
	}
	return s.bumpMaxDepth(txn, r.Depth)
}

// Exists reports whether any row (canonical or not) carries fingerprint fp.
func (s *Store) Exists(fp uint64) (bool, error) {
	found := false
	err := s.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.IteratorOptions{Prefix: recordPrefix(fp)})
		defer it.Close()
		it.Seek(recordPrefix(fp))
		found = it.ValidForPrefix(recordPrefix(fp))
		return nil
	})
	return found, err
}

// Get retrieves the canonical record for fp. Callers (the retrograde
// evaluator in particular) only ever call Get after the dedup compactor
// has run, so the canonical row at sequence 0 is the only row left.
func (s *Store) Get(fp uint64) (Record, error) {
	var rec Record
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(recordKey(fp, 0))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return ErrNotFound
		}
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			decoded, err := s.codec.decode(fp, val)
			if err != nil {
				return err
			}
			rec = decoded
			return nil
		})
	})
	return rec, err
}

// UpdateSolution sets value and best move on fp's canonical record. It is
// idempotent: calling it again with identical values is a no-op error-wise.
// hasBestMove distinguishes "no move" (terminal) from "move 0".
func (s *Store) UpdateSolution(fp uint64, value int8, bestMove uint8, hasBestMove bool) error {
	return s.db.Update(func(txn *badger.Txn) error {
		key := recordKey(fp, 0)
		item, err := txn.Get(key)
		if errors.Is(err, badger.ErrKeyNotFound) {
			return ErrNotFound
		}
		if err != nil {
			return err
		}

		var rec Record
		if err := item.Value(func(val []byte) error {
			decoded, err := s.codec.decode(fp, val)
			if err != nil {
				return err
			}
			rec = decoded
			return nil
		}); err != nil {
			return err
		}

		if rec.HasValue {
			if rec.Value == value && rec.BestMove == bestMove && rec.HasBestMove == hasBestMove {
				return nil // idempotent re-solve
			}
			return fmt.Errorf("storage: %w: fingerprint %d already solved with a different value", ErrFingerprintCollision, fp)
		}

		rec.HasValue = true
		rec.Value = value
		rec.HasBestMove = hasBestMove
		rec.BestMove = bestMove

		if err := txn.Set(key, s.codec.encode(rec)); err != nil {
			return err
		}
		if err := txn.Delete(unsolvedIdxKey(rec.SeedsInPits, fp, 0)); err != nil {
			return err
		}
		return bumpCounter(txn, unsolvedCountKey(rec.SeedsInPits), -1)
	})
}

// Count returns the number of canonical rows, or, when depth is given, the
// number of rows at that depth, including duplicate-tolerant rows the
// compactor has not yet removed.
func (s *Store) Count(depth *uint8) (uint64, error) {
	var key []byte
	if depth == nil {
		key = totalCountKeyBytes
	} else {
		key = depthCountKey(*depth)
	}
	return s.readCounter(key)
}

// CountUnsolvedAtSeeds returns the number of unsolved canonical rows whose
// seeds-in-pits equals seeds.
func (s *Store) CountUnsolvedAtSeeds(seeds uint8) (uint64, error) {
	return s.readCounter(unsolvedCountKey(seeds))
}

// MaxDepth returns the maximum depth holding at least one row, or -1 if the
// store is empty.
func (s *Store) MaxDepth() (int, error) {
	var depth int = -1
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(maxDepthKeyBytes)
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			depth = int(val[0])
			return nil
		})
	})
	return depth, err
}

// ScanByDepthPage returns up to limit records at the given depth (including
// duplicate-tolerant rows not yet compacted), skipping the first offset
// matches. Used by parallel workers to partition
// a frontier without materializing all of it in one process.
func (s *Store) ScanByDepthPage(depth uint8, limit, offset int) ([]Record, error) {
	return s.scanIndexPage(depthIdxPrefix(depth), limit, offset)
}

// ScanByDepth streams every record at the given depth to fn, including
// duplicate-tolerant rows not yet compacted.
func (s *Store) ScanByDepth(depth uint8, fn func(Record) error) error {
	return s.scanIndex(depthIdxPrefix(depth), fn)
}

// ScanBySeedsInPits streams every record with the given seeds-in-pits to
// fn, including duplicate-tolerant rows not yet compacted.
func (s *Store) ScanBySeedsInPits(seeds uint8, fn func(Record) error) error {
	return s.scanIndex(seedsIdxPrefix(seeds), fn)
}

// ScanUnsolvedBySeedsPage returns up to limit unsolved canonical records at
// the given seeds-in-pits level, skipping the first offset matches.
func (s *Store) ScanUnsolvedBySeedsPage(seeds uint8, limit, offset int) ([]Record, error) {
	return s.scanIndexPage(unsolvedIdxPrefix(seeds), limit, offset)
}

func (s *Store) scanIndexPage(prefix []byte, limit, offset int) ([]Record, error) {
	out := make([]Record, 0, limit)
	skipped := 0
	err := s.scanIndex(prefix, func(r Record) error {
		if len(out) >= limit {
			return errStopScan
		}
		if skipped < offset {
			skipped++
			return nil
		}
		out = append(out, r)
		return nil
	})
	if errors.Is(err, errStopScan) {
		err = nil
	}
	return out, err
}

var errStopScan = errors.New("storage: stop scan")

// scanIndex walks every (fp, seq) pair under prefix (a depth/seeds/unsolved
// index prefix), fetches the row each entry points at (canonical or
// duplicate-tolerant), and calls fn.
func (s *Store) scanIndex(prefix []byte, fn func(Record) error) error {
	return s.db.View(func(txn *badger.Txn) error {
		opts := badger.IteratorOptions{Prefix: prefix}
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			key := it.Item().KeyCopy(nil)
			fp, seq := fpSeqFromIndexKey(key)

			item, err := txn.Get(recordKey(fp, seq))
			if errors.Is(err, badger.ErrKeyNotFound) {
				continue // index/record race during a concurrent compaction pass
			}
			if err != nil {
				return err
			}

			var rec Record
			if err := item.Value(func(val []byte) error {
				decoded, err := s.codec.decode(fp, val)
				if err != nil {
					return err
				}
				rec = decoded
				return nil
			}); err != nil {
				return err
			}

			if err := fn(rec); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *Store) bumpMaxDepth(txn *badger.Txn, depth uint8) error {
	cur := -1
	item, err := txn.Get(maxDepthKeyBytes)
	if err == nil {
		if verr := item.Value(func(val []byte) error {
			cur = int(val[0])
			return nil
		}); verr != nil {
			return verr
		}
	} else if !errors.Is(err, badger.ErrKeyNotFound) {
		return err
	}
	if int(depth) > cur {
		return txn.Set(maxDepthKeyBytes, []byte{depth})
	}
	return nil
}

func (s *Store) readCounter(key []byte) (uint64, error) {
	var v uint64
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(key)
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			v = get64(val)
			return nil
		})
	})
	return v, err
}

// bumpCounter adds delta to the uint64 stored at key within txn, creating
// it at 0 first if absent. delta may be negative.
func bumpCounter(txn *badger.Txn, key []byte, delta int64) error {
	var cur uint64
	item, err := txn.Get(key)
	if err == nil {
		if verr := item.Value(func(val []byte) error {
			cur = get64(val)
			return nil
		}); verr != nil {
			return verr
		}
	} else if !errors.Is(err, badger.ErrKeyNotFound) {
		return err
	}

	next := int64(cur) + delta
	if next < 0 {
		next = 0
	}
	buf := make([]byte, 8)
	put64(buf, uint64(next))
	return txn.Set(key, buf)
}

// reserveSequence atomically allocates n consecutive sequence numbers for
// duplicate-tolerant inserts, returning the first one.
func reserveSequence(txn *badger.Txn, n uint64) (uint64, error) {
	var cur uint64
	item, err := txn.Get(seqCursorKeyBytes)
	if err == nil {
		if verr := item.Value(func(val []byte) error {
			cur = get64(val)
			return nil
		}); verr != nil {
			return 0, verr
		}
	} else if !errors.Is(err, badger.ErrKeyNotFound) {
		return 0, err
	}

	// Sequence 0 is reserved for canonical rows; duplicate-tolerant rows
	// start at 1 so they never alias a canonical key.
	base := cur
	if base == 0 {
		base = 1
	}
	buf := make([]byte, 8)
	put64(buf, base+n)
	if err := txn.Set(seqCursorKeyBytes, buf); err != nil {
		return 0, err
	}
	return base, nil
}
