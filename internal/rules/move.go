package rules

import (
	"fmt"
	"strings"

	nchess "github.com/corentings/chess/v2"
	"github.com/park285/cheese-relay/internal/domain"
)

// Move is a proposed move in square notation ("e2", "e4", optional "q").
type Move struct {
	From      string
	To        string
	Promotion string
}

// UCI renders the move in long algebraic form, e.g. "e7e8q".
func (m Move) UCI() string {
	return strings.ToLower(m.From + m.To + m.Promotion)
}

// Played describes a move the engine accepted, with the promotion choice
// resolved.
type Played struct {
	Move Move
	UCI  string
	SAN  string
}

// ParseSquare converts "a1".."h8" into a board square.
func ParseSquare(s string) (nchess.Square, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	if len(s) != 2 || s[0] < 'a' || s[0] > 'h' || s[1] < '1' || s[1] > '8' {
		return nchess.NoSquare, fmt.Errorf("%w: bad square %q", domain.MalformedIntent, s)
	}
	return nchess.NewSquare(nchess.File(s[0]-'a'), nchess.Rank(s[1]-'1')), nil
}

func normalizePromotion(p string) (string, error) {
	p = strings.ToLower(strings.TrimSpace(p))
	switch p {
	case "", "q", "r", "b", "n":
		return p, nil
	default:
		return "", fmt.Errorf("%w: bad promotion %q", domain.MalformedIntent, p)
	}
}

// promotes reports whether moving the piece on from to to is a pawn reaching
// its last rank.
func promotes(board *nchess.Board, from, to nchess.Square) bool {
	piece := board.SquareMap()[from]
	if piece == nchess.NoPiece || piece.Type() != nchess.Pawn {
		return false
	}
	if piece.Color() == nchess.White {
		return to.Rank() == nchess.Rank8
	}
	return to.Rank() == nchess.Rank1
}
