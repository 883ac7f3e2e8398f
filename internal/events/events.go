// Package events carries game lifecycle notifications from the relay to
// optional side-channel sinks (journal, archive, webhook). Sinks never sit on
// the broadcast path: the Dispatcher runs them on its own goroutine.
package events

import (
	"context"
	"time"

	"github.com/park285/cheese-relay/internal/domain"
)

type StartEvent struct {
	GameID    string
	FEN       string
	StartedAt time.Time
}

type MoveEvent struct {
	GameID string
	Seq    uint64
	Seat   domain.Role
	ConnID string
	UCI    string
	SAN    string
	FEN    string
	At     time.Time
}

type FinishEvent struct {
	GameID    string
	Outcome   string
	Method    string
	FEN       string
	Seq       uint64
	StartedAt time.Time
	EndedAt   time.Time
	White     string
	Black     string
}

// Sink receives lifecycle events. Errors are logged by the dispatcher and
// otherwise ignored.
type Sink interface {
	GameStarted(ctx context.Context, ev StartEvent) error
	MoveAccepted(ctx context.Context, ev MoveEvent) error
	GameFinished(ctx context.Context, ev FinishEvent) error
}

// Nop implements Sink and drops everything. Embed it to implement a subset.
type Nop struct{}

func (Nop) GameStarted(context.Context, StartEvent) error   { return nil }
func (Nop) MoveAccepted(context.Context, MoveEvent) error   { return nil }
func (Nop) GameFinished(context.Context, FinishEvent) error { return nil }
