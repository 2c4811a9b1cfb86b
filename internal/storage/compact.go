package storage

import (
	"fmt"

	"github.com/dgraph-io/badger/v4"
)

// compactTxnGroups bounds how many fingerprint groups one Badger
// transaction resolves before committing, so a multi-billion-row store
// doesn't require a single unbounded transaction.
const compactTxnGroups = 5_000

// CompactStats summarizes one compaction run: groups scanned and
// duplicates removed (or, on a dry run, the duplicates a real pass would
// remove).
type CompactStats struct {
	Groups          uint64
	DuplicatesFound uint64
	DuplicatesKept  uint64 // always equal to Groups
}

// CompactDuplicates collapses every group of rows sharing a fingerprint
// down to one canonical row at sequence 0, keeping the minimum-depth copy
// (ties broken toward the row already at sequence 0) — a GROUP BY
// fingerprint, MIN(depth) policy, implemented as a single sorted iterator
// pass rather than an explicit sort, since Badger's key ordering already
// groups same-fingerprint rows contiguously. When dryRun is true, no
// writes occur and DuplicatesFound reports what a real pass would remove.
func (s *Store) CompactDuplicates(dryRun bool, progress func(CompactStats)) (CompactStats, error) {
	var stats CompactStats
	var pending []fpGroup

	flush := func() error {
		if dryRun || len(pending) == 0 {
			pending = pending[:0]
			return nil
		}
		err := s.db.Update(func(txn *badger.Txn) error {
			for _, g := range pending {
				if err := s.resolveGroup(txn, g); err != nil {
					return err
				}
			}
			return nil
		})
		pending = pending[:0]
		return err
	}

	err := s.forEachFingerprintGroup(func(g fpGroup) error {
		stats.Groups++
		stats.DuplicatesKept++
		if len(g.rows) > 1 {
			stats.DuplicatesFound += uint64(len(g.rows) - 1)
		}
		if len(g.rows) > 1 || g.rows[0].seq != 0 {
			pending = append(pending, g)
			if len(pending) >= compactTxnGroups {
				if err := flush(); err != nil {
					return err
				}
			}
		}
		if progress != nil && stats.Groups%100_000 == 0 {
			progress(stats)
		}
		return nil
	})
	if err != nil {
		return stats, err
	}
	if err := flush(); err != nil {
		return stats, err
	}
	if progress != nil {
		progress(stats)
	}
	return stats, nil
}

type fpRow struct {
	seq uint64
	rec Record
}

type fpGroup struct {
	fp   uint64
	rows []fpRow
}

// forEachFingerprintGroup streams every row under the record keyspace and
// calls fn once per contiguous run of rows sharing a fingerprint. Badger's
// lexicographic key order groups these runs naturally, since recordKey
// places fp before seq.
func (s *Store) forEachFingerprintGroup(fn func(fpGroup) error) error {
	return s.db.View(func(txn *badger.Txn) error {
		opts := badger.IteratorOptions{Prefix: []byte{tagRecord}, PrefetchValues: true, PrefetchSize: 100}
		it := txn.NewIterator(opts)
		defer it.Close()

		var current fpGroup
		haveCurrent := false

		for it.Seek([]byte{tagRecord}); it.ValidForPrefix([]byte{tagRecord}); it.Next() {
			item := it.Item()
			key := item.KeyCopy(nil)
			fp, seq := recordFpSeqFromKey(key)

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

			if haveCurrent && current.fp != fp {
				if err := fn(current); err != nil {
					return err
				}
				current = fpGroup{}
				haveCurrent = false
			}
			if !haveCurrent {
				current = fpGroup{fp: fp}
				haveCurrent = true
			}
			current.rows = append(current.rows, fpRow{seq: seq, rec: rec})
		}
		if haveCurrent {
			if err := fn(current); err != nil {
				return err
			}
		}
		return nil
	})
}

func recordFpSeqFromKey(key []byte) (fp, seq uint64) {
	return get64(key[1:9]), get64(key[9:17])
}

// resolveGroup collapses g (more than one row, or a single row outside the
// canonical slot) down to a single canonical row at sequence 0.
func (s *Store) resolveGroup(txn *badger.Txn, g fpGroup) error {
	winner := g.rows[0]
	for _, r := range g.rows[1:] {
		if r.rec.Depth < winner.rec.Depth || (r.rec.Depth == winner.rec.Depth && r.seq == 0) {
			winner = r
		}
	}

	for _, r := range g.rows {
		if r.seq == winner.seq {
			continue
		}
		if err := s.deleteRow(txn, g.fp, r); err != nil {
			return err
		}
		// Only the canonical slot (seq 0) ever carries an unsolved index
		// entry (insertDuplicate never sets one); account for it here or
		// CountUnsolvedAtSeeds drifts above the unsolved index itself once
		// this old canonical row is replaced by a lower-depth duplicate.
		if r.seq == 0 && !r.rec.HasValue {
			if err := bumpCounter(txn, unsolvedCountKey(r.rec.SeedsInPits), -1); err != nil {
				return err
			}
		}
		if err := bumpCounter(txn, depthCountKey(r.rec.Depth), -1); err != nil {
			return err
		}
		// The total counter only ever counted the canonical row.
		if r.seq == 0 {
			if err := bumpCounter(txn, totalCountKeyBytes, -1); err != nil {
				return err
			}
		}
	}

	if winner.seq == 0 {
		return nil // already canonical, nothing to relocate
	}

	if err := s.deleteRow(txn, g.fp, winner); err != nil {
		return err
	}
	if err := bumpCounter(txn, depthCountKey(winner.rec.Depth), -1); err != nil {
		return err
	}
	inserted, err := s.insertCanonical(txn, winner.rec)
	if err != nil {
		return err
	}
	if !inserted {
		return fmt.Errorf("storage: compact: fingerprint %d already had a canonical row while resolving duplicates", g.fp)
	}
	return nil
}

// deleteRow removes a row's record entry plus its depth/seeds/unsolved
// index entries. Duplicate-tolerant rows (seq != 0) never carry an
// unsolved index entry, so that delete is harmless if absent.
func (s *Store) deleteRow(txn *badger.Txn, fp uint64, r fpRow) error {
	if err := txn.Delete(recordKey(fp, r.seq)); err != nil {
		return err
	}
	if err := txn.Delete(depthIdxKey(r.rec.Depth, fp, r.seq)); err != nil {
		return err
	}
	if err := txn.Delete(seedsIdxKey(r.rec.SeedsInPits, fp, r.seq)); err != nil {
		return err
	}
	// Duplicate-tolerant rows never carry an unsolved index entry; Badger's
	// Delete is a tombstone write regardless of prior existence, so this is
	// safe to call unconditionally.
	return txn.Delete(unsolvedIdxKey(r.rec.SeedsInPits, fp, r.seq))
}
