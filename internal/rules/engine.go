package rules

import (
	"fmt"
	"strings"

	nchess "github.com/corentings/chess/v2"
	"github.com/park285/cheese-relay/internal/domain"
)

// Engine validates and applies moves. It never mutates a Position; Apply
// returns a new one.
type Engine interface {
	Initial() Position
	Load(fen string) (Position, error)
	Apply(pos Position, mv Move) (Position, Played, error)
}

type chessEngine struct {
	initial Position
}

// NewEngine returns an Engine whose initial position is initialFEN, or the
// standard start position when initialFEN is empty.
func NewEngine(initialFEN string) (Engine, error) {
	e := &chessEngine{}
	fen := strings.TrimSpace(initialFEN)
	if fen == "" {
		fen = StartFEN
	}
	pos, err := e.Load(fen)
	if err != nil {
		return nil, err
	}
	e.initial = pos
	return e, nil
}

func (e *chessEngine) Initial() Position { return e.initial }

func (e *chessEngine) Load(fen string) (Position, error) {
	game, err := load(fen)
	if err != nil {
		return Position{}, err
	}
	return snapshot(game), nil
}

func (e *chessEngine) Apply(pos Position, mv Move) (Position, Played, error) {
	if pos.IsZero() {
		return pos, Played{}, fmt.Errorf("apply on empty position")
	}
	from, err := ParseSquare(mv.From)
	if err != nil {
		return pos, Played{}, err
	}
	to, err := ParseSquare(mv.To)
	if err != nil {
		return pos, Played{}, err
	}
	promo, err := normalizePromotion(mv.Promotion)
	if err != nil {
		return pos, Played{}, err
	}
	if pos.Terminal() {
		return pos, Played{}, fmt.Errorf("%w: game is over (%s)", domain.IllegalMove, pos.Outcome())
	}

	game, err := load(pos.FEN())
	if err != nil {
		return pos, Played{}, err
	}
	current := game.Position()

	// The view always sends a promotion piece; it only matters for a pawn
	// reaching the last rank, where queen is the default.
	if promotes(current.Board(), from, to) {
		if promo == "" {
			promo = "q"
		}
	} else {
		promo = ""
	}
	uci := from.String() + to.String() + promo

	if !isValid(game, uci) {
		return pos, Played{}, fmt.Errorf("%w: %s", domain.IllegalMove, uci)
	}
	decoded, err := nchess.UCINotation{}.Decode(current, uci)
	if err != nil {
		return pos, Played{}, fmt.Errorf("%w: %s: %v", domain.IllegalMove, uci, err)
	}
	san := nchess.AlgebraicNotation{}.Encode(current, decoded)
	if err := game.PushNotationMove(uci, nchess.UCINotation{}, nil); err != nil {
		return pos, Played{}, fmt.Errorf("%w: %s: %v", domain.IllegalMove, uci, err)
	}

	played := Played{
		Move: Move{From: from.String(), To: to.String(), Promotion: promo},
		UCI:  uci,
		SAN:  san,
	}
	return snapshot(game), played, nil
}

func load(fen string) (*nchess.Game, error) {
	opt, err := nchess.FEN(strings.TrimSpace(fen))
	if err != nil {
		return nil, fmt.Errorf("decode fen: %w", err)
	}
	return nchess.NewGame(opt), nil
}

func isValid(game *nchess.Game, uci string) bool {
	for _, m := range game.ValidMoves() {
		if m.String() == uci {
			return true
		}
	}
	return false
}
