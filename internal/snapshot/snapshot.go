package snapshot

import (
	"fmt"
	"sort"
)

// Kind identifies a chess piece type.
type Kind string

const (
	Pawn   Kind = "Pawn"
	Knight Kind = "Knight"
	Bishop Kind = "Bishop"
	Rook   Kind = "Rook"
	Queen  Kind = "Queen"
	King   Kind = "King"
)

// Color identifies the owning side.
type Color string

const (
	White Color = "White"
	Black Color = "Black"
)

// Square is a board coordinate. File and Rank are both 1..8
// (file 1 = "a", rank 1 = "1").
type Square struct {
	File int
	Rank int
}

// String renders the square in algebraic notation, e.g. "e4".
func (s Square) String() string {
	return fmt.Sprintf("%c%c", 'a'+byte(s.File-1), '0'+byte(s.Rank))
}

func (s Square) valid() bool {
	return s.File >= 1 && s.File <= 8 && s.Rank >= 1 && s.Rank <= 8
}

// ParseSquare parses algebraic notation ("a1".."h8").
func ParseSquare(raw string) (Square, error) {
	if len(raw) != 2 {
		return Square{}, fmt.Errorf("%w: bad square %q", ErrMalformedSnapshot, raw)
	}
	sq := Square{File: int(raw[0]-'a') + 1, Rank: int(raw[1]-'0')}
	if !sq.valid() {
		return Square{}, fmt.Errorf("%w: square %q out of range", ErrMalformedSnapshot, raw)
	}
	return sq, nil
}

// PieceRecord is one occupied square. Immutable value.
type PieceRecord struct {
	Kind   Kind
	Color  Color
	Square Square
}

// Snapshot is the complete ordered description of piece positions at one
// instant. Order is board scan order: file-major, rank-minor, a1..a8,
// b1..b8, ... h8.
type Snapshot []PieceRecord

// Normalize returns the snapshot sorted into canonical scan order.
func (s Snapshot) Normalize() Snapshot {
	out := append(Snapshot(nil), s...)
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i].Square, out[j].Square
		if a.File != b.File {
			return a.File < b.File
		}
		return a.Rank < b.Rank
	})
	return out
}

// Equal reports whether two snapshots describe the same set of
// (kind, color, square) triples, independent of order.
func (s Snapshot) Equal(other Snapshot) bool {
	if len(s) != len(other) {
		return false
	}
	a, b := s.Normalize(), other.Normalize()
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func validKind(k Kind) bool {
	switch k {
	case Pawn, Knight, Bishop, Rook, Queen, King:
		return true
	}
	return false
}

func validColor(c Color) bool {
	return c == White || c == Black
}

// Validate checks well-formedness: coordinates in range, known kinds and
// colors, no square occupied twice.
func (s Snapshot) Validate() error {
	seen := make(map[Square]bool, len(s))
	for _, p := range s {
		if !p.Square.valid() {
			return fmt.Errorf("%w: square %+v out of range", ErrMalformedSnapshot, p.Square)
		}
		if !validKind(p.Kind) {
			return fmt.Errorf("%w: unknown piece kind %q", ErrMalformedSnapshot, p.Kind)
		}
		if !validColor(p.Color) {
			return fmt.Errorf("%w: unknown color %q", ErrMalformedSnapshot, p.Color)
		}
		if seen[p.Square] {
			return fmt.Errorf("%w: duplicate square %s", ErrMalformedSnapshot, p.Square)
		}
		seen[p.Square] = true
	}
	return nil
}
