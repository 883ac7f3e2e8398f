package rules

import nchess "github.com/corentings/chess/v2"

// Side is the colour to move.
type Side string

const (
	White Side = "white"
	Black Side = "black"
)

// StartFEN is the standard initial position.
const StartFEN = "rnbqkbnr/pppppppp/8/8/8/8/PPPPPPPP/RNBQKBNR w KQkq - 0 1"

// Position is an immutable snapshot of a game: the FEN plus what the engine
// derived from it when the snapshot was taken.
type Position struct {
	fen     string
	turn    Side
	outcome string
	method  string
}

func (p Position) FEN() string { return p.fen }
func (p Position) Turn() Side  { return p.turn }

// Outcome is the PGN result token ("1-0", "0-1", "1/2-1/2") or "" while the
// game is still running.
func (p Position) Outcome() string { return p.outcome }

// Method names how the game ended, e.g. "Checkmate" or "Stalemate".
func (p Position) Method() string { return p.method }

// Terminal reports whether no further moves can be played.
func (p Position) Terminal() bool { return p.outcome != "" }

func (p Position) IsZero() bool { return p.fen == "" }

func snapshot(game *nchess.Game) Position {
	pos := Position{
		fen:  game.FEN(),
		turn: sideOf(game.Position().Turn()),
	}
	if out := game.Outcome(); out != nchess.NoOutcome {
		pos.outcome = string(out)
		pos.method = game.Method().String()
	}
	return pos
}

func sideOf(c nchess.Color) Side {
	if c == nchess.Black {
		return Black
	}
	return White
}
