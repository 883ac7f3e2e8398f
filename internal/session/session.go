// Package session holds the authoritative state of one game: the current
// position and who sits where. A Session is not safe for concurrent use; the
// relay owns it and touches it from a single goroutine.
package session

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/park285/cheese-relay/internal/domain"
	"github.com/park285/cheese-relay/internal/rules"
)

var (
	ErrSeatTaken     = errors.New("seat already occupied")
	ErrAlreadyJoined = errors.New("connection already holds a role")
	ErrNotSeat       = errors.New("role is not a seat")
)

// Snapshot is a read-only copy of the session for presentation.
type Snapshot struct {
	GameID     string
	Position   rules.Position
	Seq        uint64
	White      string
	Black      string
	Spectators int
	LastMove   *rules.Played
	StartedAt  time.Time
}

type Session struct {
	engine rules.Engine

	gameID    string
	startedAt time.Time
	pos       rules.Position
	seq       uint64
	last      *rules.Played

	seats      map[domain.Role]string
	spectators map[string]struct{}
}

// New creates a session at the engine's initial position with both seats
// vacant.
func New(engine rules.Engine) *Session {
	s := &Session{
		engine:     engine,
		seats:      make(map[domain.Role]string, 2),
		spectators: make(map[string]struct{}),
	}
	s.restart()
	return s
}

func (s *Session) restart() {
	s.gameID = uuid.NewString()
	s.startedAt = time.Now()
	s.pos = s.engine.Initial()
	s.seq = 0
	s.last = nil
}

func (s *Session) CurrentPosition() rules.Position { return s.pos }
func (s *Session) Seq() uint64                     { return s.seq }
func (s *Session) GameID() string                  { return s.gameID }
func (s *Session) StartedAt() time.Time            { return s.startedAt }

// SeatOf returns the role held by connection id. ok is false for unknown
// connections.
func (s *Session) SeatOf(id string) (role domain.Role, ok bool) {
	for _, seat := range domain.Seats {
		if s.seats[seat] == id && id != "" {
			return seat, true
		}
	}
	if _, found := s.spectators[id]; found {
		return domain.RoleSpectator, true
	}
	return "", false
}

// Holder returns the connection sitting in seat, or "" when vacant.
func (s *Session) Holder(seat domain.Role) string { return s.seats[seat] }

// Occupied counts the filled seats.
func (s *Session) Occupied() int { return len(s.seats) }

// Sit puts connection id into seat.
func (s *Session) Sit(id string, seat domain.Role) error {
	if !seat.IsSeat() {
		return fmt.Errorf("%w: %s", ErrNotSeat, seat)
	}
	if _, held := s.SeatOf(id); held {
		return ErrAlreadyJoined
	}
	if holder, taken := s.seats[seat]; taken {
		return fmt.Errorf("%w: %s held by %s", ErrSeatTaken, seat, holder)
	}
	s.seats[seat] = id
	return nil
}

// Watch registers connection id as a spectator.
func (s *Session) Watch(id string) error {
	if _, held := s.SeatOf(id); held {
		return ErrAlreadyJoined
	}
	s.spectators[id] = struct{}{}
	return nil
}

// Remove drops connection id from whatever role it holds and reports that
// role. Removing a seated connection leaves the seat vacant.
func (s *Session) Remove(id string) (domain.Role, bool) {
	role, ok := s.SeatOf(id)
	if !ok {
		return "", false
	}
	if role.IsSeat() {
		delete(s.seats, role)
	} else {
		delete(s.spectators, id)
	}
	return role, true
}

// ApplyMove plays mv for seat as. The position is replaced only when as is
// the side to move and the engine accepts the move.
func (s *Session) ApplyMove(mv rules.Move, as domain.Role) (rules.Position, rules.Played, error) {
	if !as.IsSeat() {
		return s.pos, rules.Played{}, fmt.Errorf("%w: role %q", domain.NotAPlayer, as)
	}
	if string(s.pos.Turn()) != string(as) {
		return s.pos, rules.Played{}, fmt.Errorf("%w: %s to move", domain.OutOfTurn, s.pos.Turn())
	}
	next, played, err := s.engine.Apply(s.pos, mv)
	if err != nil {
		return s.pos, rules.Played{}, err
	}
	s.pos = next
	s.seq++
	s.last = &played
	return next, played, nil
}

// Reset starts a fresh game at the initial position. Seats and spectators are
// kept.
func (s *Session) Reset() { s.restart() }

func (s *Session) Snapshot() Snapshot {
	snap := Snapshot{
		GameID:     s.gameID,
		Position:   s.pos,
		Seq:        s.seq,
		White:      s.seats[domain.RoleWhite],
		Black:      s.seats[domain.RoleBlack],
		Spectators: len(s.spectators),
		StartedAt:  s.startedAt,
	}
	if s.last != nil {
		last := *s.last
		snap.LastMove = &last
	}
	return snap
}
