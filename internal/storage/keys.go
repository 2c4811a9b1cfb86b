package storage

import "encoding/binary"

// Key space layout. A single byte tag distinguishes the five kinds of keys
// this store maintains; everything after the tag is fixed-width so Badger's
// lexicographic key ordering groups related entries contiguously, which the
// dedup compactor (internal/compact) and the layer/depth scans both rely on.
const (
	tagRecord    = 'r' // r + fp(8) + seq(8)            -> encoded Record
	tagDepthIdx  = 'd' // d + depth(1) + fp(8) + seq(8)  -> empty
	tagSeedsIdx  = 's' // s + seeds(1) + fp(8) + seq(8)  -> empty
	tagUnsolved  = 'u' // u + seeds(1) + fp(8) + seq(8)  -> empty
	tagDepthCnt  = 'A' // A + depth(1)                   -> uint64 count
	tagUnslvCnt  = 'B' // B + seeds(1)                    -> uint64 count
	tagTotalCnt  = 'T' // total row count                -> uint64
	tagMaxDepth  = 'M' // max depth with >=1 row          -> uint8 (absent when empty)
	tagSeqCursor = 'Q' // next duplicate-tolerant sequence number -> uint64
)

func put64(dst []byte, v uint64) { binary.BigEndian.PutUint64(dst, v) }
func get64(src []byte) uint64    { return binary.BigEndian.Uint64(src) }

func recordKey(fp, seq uint64) []byte {
	k := make([]byte, 17)
	k[0] = tagRecord
	put64(k[1:9], fp)
	put64(k[9:17], seq)
	return k
}

// recordPrefix returns the prefix under which every (canonical or
// duplicate-tolerant) row for fp lives, for existence/lookup scans.
func recordPrefix(fp uint64) []byte {
	k := make([]byte, 9)
	k[0] = tagRecord
	put64(k[1:9], fp)
	return k
}

func depthIdxKey(depth uint8, fp, seq uint64) []byte {
	k := make([]byte, 18)
	k[0] = tagDepthIdx
	k[1] = depth
	put64(k[2:10], fp)
	put64(k[10:18], seq)
	return k
}

func depthIdxPrefix(depth uint8) []byte {
	return []byte{tagDepthIdx, depth}
}

func seedsIdxKey(seeds uint8, fp, seq uint64) []byte {
	k := make([]byte, 18)
	k[0] = tagSeedsIdx
	k[1] = seeds
	put64(k[2:10], fp)
	put64(k[10:18], seq)
	return k
}

func seedsIdxPrefix(seeds uint8) []byte {
	return []byte{tagSeedsIdx, seeds}
}

func unsolvedIdxKey(seeds uint8, fp, seq uint64) []byte {
	k := make([]byte, 18)
	k[0] = tagUnsolved
	k[1] = seeds
	put64(k[2:10], fp)
	put64(k[10:18], seq)
	return k
}

func unsolvedIdxPrefix(seeds uint8) []byte {
	return []byte{tagUnsolved, seeds}
}

func depthCountKey(depth uint8) []byte  { return []byte{tagDepthCnt, depth} }
func unsolvedCountKey(seeds uint8) []byte { return []byte{tagUnslvCnt, seeds} }

var totalCountKeyBytes = []byte{tagTotalCnt}
var maxDepthKeyBytes = []byte{tagMaxDepth}
var seqCursorKeyBytes = []byte{tagSeqCursor}

// fpSeqFromIndexKey extracts (fp, seq) from the tail of a depth/seeds/
// unsolved index key, which all share the "tag + selector(1) + fp(8) +
// seq(8)" shape.
func fpSeqFromIndexKey(key []byte) (fp, seq uint64) {
	n := len(key)
	seq = get64(key[n-8:])
	fp = get64(key[n-16 : n-8])
	return fp, seq
}
