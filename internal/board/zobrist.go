package board

import "github.com/cespare/xxhash/v2"

// FingerprintSeed is fixed so that every worker goroutine and the main
// process independently rebuild an identical table.
const FingerprintSeed = 42

// FingerprintTable holds the random 64-bit constants a Position's
// fingerprint is XORed together from: one per (board index, cell count)
// pair plus one per mover. It is immutable once built and safe to share
// read-only across goroutines; never expose a mutator on it.
type FingerprintTable struct {
	pits    int
	maxCell int
	cell    [][]uint64 // cell[index][count]
	mover   [2]uint64
}

// prng is a small reproducible xorshift64* generator with a fixed seed so
// table construction is deterministic across runs and across workers.
type prng struct{ state uint64 }

func newPRNG(seed uint64) *prng {
	if seed == 0 {
		seed = 0x9E3779B97F4A7C15
	}
	return &prng{state: seed}
}

func (p *prng) next() uint64 {
	p.state ^= p.state >> 12
	p.state ^= p.state << 25
	p.state ^= p.state >> 27
	return p.state * 0x2545F4914F6CDD1D
}

// NewFingerprintTable builds the constant table for a given (pits, maxCell)
// configuration. maxCell must be >= the largest seed count any cell can
// reach during the run.
func NewFingerprintTable(pits, maxCell int) *FingerprintTable {
	rng := newPRNG(FingerprintSeed)
	numPositions := 2*pits + 2

	cell := make([][]uint64, numPositions)
	for i := range cell {
		row := make([]uint64, maxCell+1)
		for c := range row {
			row[c] = rng.next()
		}
		cell[i] = row
	}

	return &FingerprintTable{
		pits:    pits,
		maxCell: maxCell,
		cell:    cell,
		mover:   [2]uint64{rng.next(), rng.next()},
	}
}

// Fingerprint computes the 64-bit Zobrist-style hash of p by XORing the
// constant for each non-zero cell with the constant for the mover.
func (t *FingerprintTable) Fingerprint(p Position) uint64 {
	var h uint64
	for i, c := range p.Board {
		if c != 0 {
			h ^= t.cell[i][c]
		}
	}
	h ^= t.mover[p.Mover]
	return h
}

// SecondaryCheck returns an independent 64-bit hash of the packed state,
// computed with xxhash rather than the Zobrist construction. The position
// store uses it to detect (not silently tolerate) a fingerprint collision
// between two distinct packed states, since such a collision invalidates
// the run.
func SecondaryCheck(packed []byte) uint64 {
	return xxhash.Sum64(packed)
}
