package board

import (
	"math/rand"
	"testing"
)

func TestPackUnpackRoundTrip(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	for pits := 1; pits <= MaxPitsPerSide; pits++ {
		for trial := 0; trial < 50; trial++ {
			board := make([]uint8, 2*pits+2)
			for i := range board {
				board[i] = uint8(rng.Intn(MaxCellValue + 1))
			}
			p := Position{Pits: pits, Board: board, Mover: uint8(rng.Intn(2))}

			packed := Pack(p)
			if len(packed) != PackedSize(pits) {
				t.Fatalf("Pack size = %d, want %d", len(packed), PackedSize(pits))
			}

			got := Unpack(packed, pits)
			if got.Pits != p.Pits || got.Mover != p.Mover {
				t.Fatalf("round trip mismatch: got %+v, want %+v", got, p)
			}
			for i := range board {
				if got.Board[i] != p.Board[i] {
					t.Fatalf("cell %d: got %d, want %d", i, got.Board[i], p.Board[i])
				}
			}
		}
	}
}

func TestPackedSizeKalah6(t *testing.T) {
	if got := PackedSize(6); got != 9 {
		t.Errorf("PackedSize(6) = %d, want 9", got)
	}
}

func TestPackPanicsOnOverflow(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatal("expected panic packing a cell > 31")
		}
	}()
	p := NewStart(2, 2)
	p.Board[0] = 32
	Pack(p)
}
