package storage

import (
	"fmt"
	"io"

	"github.com/klauspost/compress/zstd"
)

// Backup streams every key-value pair since the given version (0 for a
// full backup) to w, zstd-compressed. Badger already exposes Backup/Load
// for disaster recovery; this wraps it with compression since a Kalah(6,4)
// store can run into the tens of gigabytes and shipping it uncompressed
// to, say, object storage wastes both time and money.
func (s *Store) Backup(w io.Writer, sinceVersion uint64) (uint64, error) {
	zw, err := zstd.NewWriter(w)
	if err != nil {
		return 0, fmt.Errorf("storage: backup: %w", err)
	}
	defer zw.Close()

	newVersion, err := s.db.Backup(zw, sinceVersion)
	if err != nil {
		return 0, fmt.Errorf("storage: backup: %w", err)
	}
	if err := zw.Close(); err != nil {
		return 0, fmt.Errorf("storage: backup: flush: %w", err)
	}
	return newVersion, nil
}

// Restore loads a zstd-compressed backup produced by Backup into this
// store. The store should be empty or contain only data the backup is
// meant to supersede; Badger's Load does not merge, it overwrites.
func (s *Store) Restore(r io.Reader) error {
	zr, err := zstd.NewReader(r)
	if err != nil {
		return fmt.Errorf("storage: restore: %w", err)
	}
	defer zr.Close()

	if err := s.db.Load(zr, 256); err != nil {
		return fmt.Errorf("storage: restore: %w", err)
	}
	return nil
}
