package snapshot

// BoardScanner is the view of the board model the codec consumes: a single
// pass over occupied squares. The codec never mutates the board.
type BoardScanner interface {
	ForEachOccupiedSquare(fn func(sq Square, kind Kind, color Color))
}

// Encode captures the board into a snapshot in canonical scan order.
// Total: any legal position encodes; traversal order of the scanner does
// not matter.
func Encode(b BoardScanner) Snapshot {
	var out Snapshot
	b.ForEachOccupiedSquare(func(sq Square, kind Kind, color Color) {
		out = append(out, PieceRecord{Kind: kind, Color: color, Square: sq})
	})
	return out.Normalize()
}
