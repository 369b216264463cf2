package board

import (
	"fmt"
	"strings"
	"sync"

	nchess "github.com/corentings/chess/v2"

	"github.com/kapu/chessync/internal/snapshot"
)

// Board is the collaborator the session core drives: it can be scanned for
// a snapshot and can have a decoded snapshot applied wholesale.
type Board interface {
	snapshot.BoardScanner
	ApplySnapshot(s snapshot.Snapshot) error
}

// ChessBoard adapts a chess game to the Board contract. All access is
// serialized; the session core treats it as an opaque collaborator.
type ChessBoard struct {
	mu   sync.Mutex
	game *nchess.Game
}

// NewChessBoard returns a board at the standard start position.
func NewChessBoard() *ChessBoard {
	return &ChessBoard{game: nchess.NewGame()}
}

func kindOf(t nchess.PieceType) (snapshot.Kind, bool) {
	switch t {
	case nchess.Pawn:
		return snapshot.Pawn, true
	case nchess.Knight:
		return snapshot.Knight, true
	case nchess.Bishop:
		return snapshot.Bishop, true
	case nchess.Rook:
		return snapshot.Rook, true
	case nchess.Queen:
		return snapshot.Queen, true
	case nchess.King:
		return snapshot.King, true
	}
	return "", false
}

var fenLetter = map[snapshot.Kind]string{
	snapshot.Pawn:   "p",
	snapshot.Knight: "n",
	snapshot.Bishop: "b",
	snapshot.Rook:   "r",
	snapshot.Queen:  "q",
	snapshot.King:   "k",
}

// ForEachOccupiedSquare scans the 64 squares and reports each piece.
func (b *ChessBoard) ForEachOccupiedSquare(fn func(sq snapshot.Square, kind snapshot.Kind, color snapshot.Color)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	brd := b.game.Position().Board()
	for rank := 1; rank <= 8; rank++ {
		for file := 1; file <= 8; file++ {
			p := brd.Piece(nchess.Square((rank-1)*8 + (file - 1)))
			if p == nchess.NoPiece {
				continue
			}
			kind, ok := kindOf(p.Type())
			if !ok {
				continue
			}
			color := snapshot.White
			if p.Color() == nchess.Black {
				color = snapshot.Black
			}
			fn(snapshot.Square{File: file, Rank: rank}, kind, color)
		}
	}
}

// ApplySnapshot replaces the position with the snapshot's placement. The
// snapshot carries piece placement only: the restored position is white to
// move with no castling or en-passant rights. Malformed snapshots are
// rejected before the board is touched.
func (b *ChessBoard) ApplySnapshot(s snapshot.Snapshot) error {
	if err := s.Validate(); err != nil {
		return err
	}
	fen := placementFEN(s) + " w - - 0 1"
	opt, err := nchess.FEN(fen)
	if err != nil {
		return fmt.Errorf("%w: %v", snapshot.ErrMalformedSnapshot, err)
	}
	b.mu.Lock()
	b.game = nchess.NewGame(opt)
	b.mu.Unlock()
	return nil
}

// Reset returns the board to the standard start position.
func (b *ChessBoard) Reset() {
	b.mu.Lock()
	b.game = nchess.NewGame()
	b.mu.Unlock()
}

// PushMove applies a move in UCI notation (e.g. "e2e4"). Used by the host
// game loop; peers never mutate their boards directly.
func (b *ChessBoard) PushMove(uci string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.game.PushNotationMove(strings.ToLower(strings.TrimSpace(uci)), nchess.UCINotation{}, nil); err != nil {
		return fmt.Errorf("illegal move %q: %w", uci, err)
	}
	return nil
}

// FEN returns the current position for logging and the status API.
func (b *ChessBoard) FEN() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.game.FEN()
}

// placementFEN builds the board field of a FEN string from a snapshot.
func placementFEN(s snapshot.Snapshot) string {
	bySquare := make(map[snapshot.Square]snapshot.PieceRecord, len(s))
	for _, p := range s {
		bySquare[p.Square] = p
	}
	var b strings.Builder
	for rank := 8; rank >= 1; rank-- {
		empty := 0
		for file := 1; file <= 8; file++ {
			rec, ok := bySquare[snapshot.Square{File: file, Rank: rank}]
			if !ok {
				empty++
				continue
			}
			if empty > 0 {
				fmt.Fprintf(&b, "%d", empty)
				empty = 0
			}
			letter := fenLetter[rec.Kind]
			if rec.Color == snapshot.White {
				letter = strings.ToUpper(letter)
			}
			b.WriteString(letter)
		}
		if empty > 0 {
			fmt.Fprintf(&b, "%d", empty)
		}
		if rank > 1 {
			b.WriteString("/")
		}
	}
	return b.String()
}
