// Package arbiter decides whether a submitted move becomes part of the game.
package arbiter

import (
	"fmt"

	"github.com/park285/cheese-relay/internal/domain"
	"github.com/park285/cheese-relay/internal/obslog"
	"github.com/park285/cheese-relay/internal/rules"
	"github.com/park285/cheese-relay/internal/session"
	"github.com/park285/cheese-relay/pkg/protocol"
	"go.uber.org/zap"
)

// Result is an accepted move and the position it produced.
type Result struct {
	Seat     domain.Role
	Played   rules.Played
	Position rules.Position
	Seq      uint64
}

type Arbiter struct {
	sess   *session.Session
	logger *zap.Logger
}

func New(sess *session.Session, logger *zap.Logger) *Arbiter {
	if logger == nil {
		logger = obslog.L()
	}
	return &Arbiter{sess: sess, logger: logger}
}

// Submit validates intent from connection connID and applies it. Checks run
// in a fixed order: the submitter must hold a seat, the intent must be well
// formed, it must be that seat's turn, and the move must be legal. A rejected
// submission leaves the session untouched; the error carries a domain.Reason.
func (a *Arbiter) Submit(connID string, intent protocol.MoveIntent) (Result, error) {
	seat, ok := a.sess.SeatOf(connID)
	if !ok || !seat.IsSeat() {
		if !ok {
			seat = domain.RoleSpectator
		}
		return Result{}, a.reject(connID, seat, intent, fmt.Errorf("%w: connection holds %s", domain.NotAPlayer, seat))
	}
	if err := intent.Validate(); err != nil {
		return Result{}, a.reject(connID, seat, intent, err)
	}
	mv := rules.Move{From: intent.From, To: intent.To, Promotion: intent.Promotion}
	pos, played, err := a.sess.ApplyMove(mv, seat)
	if err != nil {
		return Result{}, a.reject(connID, seat, intent, err)
	}
	res := Result{Seat: seat, Played: played, Position: pos, Seq: a.sess.Seq()}
	a.logger.Info("relay_move_accepted",
		zap.String("conn_id", connID),
		zap.String("seat", string(seat)),
		zap.String("uci", played.UCI),
		zap.String("san", played.SAN),
		zap.Uint64("seq", res.Seq),
		zap.String("fen", pos.FEN()),
	)
	return res, nil
}

func (a *Arbiter) reject(connID string, seat domain.Role, intent protocol.MoveIntent, err error) error {
	reason, _ := domain.ReasonOf(err)
	a.logger.Info("relay_move_rejected",
		zap.String("conn_id", connID),
		zap.String("seat", string(seat)),
		zap.String("from", intent.From),
		zap.String("to", intent.To),
		zap.String("reason", string(reason)),
		zap.Error(err),
	)
	return err
}
