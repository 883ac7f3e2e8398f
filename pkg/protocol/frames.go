// Package protocol defines the JSON frames exchanged between the relay and a
// browser view over a WebSocket. Every frame is an object with a "type".
package protocol

import "github.com/park285/cheese-relay/internal/domain"

// Frame types.
const (
	TypeRole     = "role"
	TypeState    = "state"
	TypeMove     = "move"
	TypeRejected = "rejected"
	TypeOver     = "over"
	TypeSync     = "sync"
)

// Frame is anything the relay sends to a connection.
type Frame interface {
	FrameType() string
}

// RoleFrame tells a new connection which role it was given.
type RoleFrame struct {
	Type string      `json:"type"`
	Role domain.Role `json:"role"`
}

// StateFrame is a full-state snapshot. Seq counts accepted moves since the
// game started, so a client that already applied move seq=n can ignore the
// state seq=n that follows it.
type StateFrame struct {
	Type     string `json:"type"`
	Position string `json:"position"`
	Turn     string `json:"turn"`
	Seq      uint64 `json:"seq"`
}

// MoveFrame is an accepted move, broadcast before the StateFrame it produced.
type MoveFrame struct {
	Type      string `json:"type"`
	From      string `json:"from"`
	To        string `json:"to"`
	Promotion string `json:"promotion,omitempty"`
	SAN       string `json:"san,omitempty"`
	Seq       uint64 `json:"seq"`
}

// RejectedFrame goes only to the connection whose submission was refused.
type RejectedFrame struct {
	Type    string `json:"type"`
	Reason  string `json:"reason"`
	Message string `json:"message,omitempty"`
}

// OverFrame announces a terminal position.
type OverFrame struct {
	Type    string `json:"type"`
	Outcome string `json:"outcome"`
	Method  string `json:"method,omitempty"`
	Seq     uint64 `json:"seq"`
}

func (RoleFrame) FrameType() string     { return TypeRole }
func (StateFrame) FrameType() string    { return TypeState }
func (MoveFrame) FrameType() string     { return TypeMove }
func (RejectedFrame) FrameType() string { return TypeRejected }
func (OverFrame) FrameType() string     { return TypeOver }

func NewRole(r domain.Role) RoleFrame { return RoleFrame{Type: TypeRole, Role: r} }

func NewState(fen, turn string, seq uint64) StateFrame {
	return StateFrame{Type: TypeState, Position: fen, Turn: turn, Seq: seq}
}

func NewMove(from, to, promotion, san string, seq uint64) MoveFrame {
	return MoveFrame{Type: TypeMove, From: from, To: to, Promotion: promotion, SAN: san, Seq: seq}
}

func NewRejected(reason domain.Reason, message string) RejectedFrame {
	return RejectedFrame{Type: TypeRejected, Reason: string(reason), Message: message}
}

func NewOver(outcome, method string, seq uint64) OverFrame {
	return OverFrame{Type: TypeOver, Outcome: outcome, Method: method, Seq: seq}
}

// Envelope decodes any relay-to-client frame. Fields not used by Type are
// left zero.
type Envelope struct {
	Type      string      `json:"type"`
	Role      domain.Role `json:"role,omitempty"`
	Position  string      `json:"position,omitempty"`
	Turn      string      `json:"turn,omitempty"`
	Seq       uint64      `json:"seq"`
	From      string      `json:"from,omitempty"`
	To        string      `json:"to,omitempty"`
	Promotion string      `json:"promotion,omitempty"`
	SAN       string      `json:"san,omitempty"`
	Reason    string      `json:"reason,omitempty"`
	Message   string      `json:"message,omitempty"`
	Outcome   string      `json:"outcome,omitempty"`
	Method    string      `json:"method,omitempty"`
}

// Outbound frames sent by a client.
type (
	MoveRequest struct {
		Type string `json:"type"`
		MoveIntent
	}
	SyncRequest struct {
		Type string `json:"type"`
	}
)

func NewMoveRequest(in MoveIntent) MoveRequest { return MoveRequest{Type: TypeMove, MoveIntent: in} }
func NewSyncRequest() SyncRequest              { return SyncRequest{Type: TypeSync} }
