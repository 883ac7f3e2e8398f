package domain

import "errors"

// Role is what a connection is allowed to do in a session.
type Role string

const (
	RoleWhite     Role = "white"
	RoleBlack     Role = "black"
	RoleSpectator Role = "spectator"
)

// IsSeat reports whether the role occupies one of the two player seats.
func (r Role) IsSeat() bool { return r == RoleWhite || r == RoleBlack }

// Seats lists the player seats in assignment order.
var Seats = []Role{RoleWhite, RoleBlack}

// Reason identifies why a move submission was refused. Reasons are comparable
// sentinel errors; callers wrap them with detail and match with errors.Is.
type Reason string

func (r Reason) Error() string { return string(r) }

const (
	NotAPlayer      Reason = "not_a_player"
	OutOfTurn       Reason = "out_of_turn"
	IllegalMove     Reason = "illegal_move"
	MalformedIntent Reason = "malformed_intent"
)

// ReasonOf extracts the rejection reason carried by err, if any.
func ReasonOf(err error) (Reason, bool) {
	var r Reason
	if errors.As(err, &r) {
		return r, true
	}
	return "", false
}
