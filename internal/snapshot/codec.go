package snapshot

import (
	"encoding/json"
	"fmt"
	"time"
)

// ErrMalformedSnapshot marks decode failures: bad coordinate, duplicate
// square, unknown piece kind or color. A failed decode never yields a
// partial snapshot.
var ErrMalformedSnapshot = staticErr("malformed snapshot")

type staticErr string

func (e staticErr) Error() string { return string(e) }

// wirePiece is one piece in the persisted document.
type wirePiece struct {
	PieceType string `json:"pieceType"`
	Color     string `json:"color"`
	Position  string `json:"position"`
}

// Document is the persistence wire form: the structured piece list stored
// under the session key, plus the save timestamp.
type Document struct {
	Pieces  []wirePiece `json:"pieces"`
	SavedAt time.Time   `json:"saved_at,omitempty"`
}

// Marshal encodes a snapshot into its wire document. The snapshot is
// normalized into scan order first so equal boards serialize identically.
func Marshal(s Snapshot, savedAt time.Time) ([]byte, error) {
	if err := s.Validate(); err != nil {
		return nil, err
	}
	doc := Document{Pieces: make([]wirePiece, 0, len(s)), SavedAt: savedAt}
	for _, p := range s.Normalize() {
		doc.Pieces = append(doc.Pieces, wirePiece{
			PieceType: string(p.Kind),
			Color:     string(p.Color),
			Position:  p.Square.String(),
		})
	}
	return json.Marshal(&doc)
}

// Unmarshal decodes a wire document back into a snapshot. Malformed input
// fails with ErrMalformedSnapshot; no partial result is returned.
func Unmarshal(raw []byte) (Snapshot, error) {
	var doc Document
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedSnapshot, err)
	}
	out := make(Snapshot, 0, len(doc.Pieces))
	for _, wp := range doc.Pieces {
		sq, err := ParseSquare(wp.Position)
		if err != nil {
			return nil, err
		}
		out = append(out, PieceRecord{
			Kind:   Kind(wp.PieceType),
			Color:  Color(wp.Color),
			Square: sq,
		})
	}
	if err := out.Validate(); err != nil {
		return nil, err
	}
	return out.Normalize(), nil
}
