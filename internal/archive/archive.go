// Package archive stores completed games in Postgres as PGN plus move lists.
// Games abandoned by a reset are stored with result "*" when they had moves.
package archive

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/park285/cheese-relay/internal/events"
	"github.com/park285/cheese-relay/internal/obslog"
	"github.com/park285/cheese-relay/internal/rules"
	"go.uber.org/zap"
)

type pending struct {
	startFEN  string
	startedAt time.Time
	uci       []string
	san       []string
}

// Archiver is an events.Sink that collects moves per game and writes a
// Record when the game ends.
type Archiver struct {
	store Store
	now   func() time.Time

	mu    sync.Mutex
	games map[string]*pending
}

func NewArchiver(store Store) *Archiver {
	return &Archiver{store: store, now: time.Now, games: make(map[string]*pending)}
}

func (a *Archiver) GameStarted(ctx context.Context, ev events.StartEvent) error {
	a.mu.Lock()
	abandoned := make(map[string]*pending)
	for id, p := range a.games {
		abandoned[id] = p
		delete(a.games, id)
	}
	a.games[ev.GameID] = &pending{startFEN: ev.FEN, startedAt: ev.StartedAt}
	a.mu.Unlock()

	for id, p := range abandoned {
		if len(p.uci) == 0 {
			continue
		}
		rec := p.record(id, "*", "Abandoned", "", "", a.now())
		if err := a.store.SaveGame(ctx, rec); err != nil {
			return fmt.Errorf("archive abandoned %s: %w", id, err)
		}
		obslog.L().Info("archive_saved", zap.String("game_id", id), zap.String("result", "*"), zap.Int("plies", len(p.uci)))
	}
	return nil
}

func (a *Archiver) MoveAccepted(_ context.Context, ev events.MoveEvent) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	p, ok := a.games[ev.GameID]
	if !ok {
		// started before this sink was attached
		p = &pending{startedAt: ev.At}
		a.games[ev.GameID] = p
	}
	p.uci = append(p.uci, ev.UCI)
	p.san = append(p.san, ev.SAN)
	return nil
}

func (a *Archiver) GameFinished(ctx context.Context, ev events.FinishEvent) error {
	a.mu.Lock()
	p, ok := a.games[ev.GameID]
	delete(a.games, ev.GameID)
	a.mu.Unlock()
	if !ok {
		p = &pending{startedAt: ev.StartedAt}
	}
	if p.startedAt.IsZero() {
		p.startedAt = ev.StartedAt
	}
	rec := p.record(ev.GameID, ev.Outcome, ev.Method, ev.White, ev.Black, ev.EndedAt)
	if err := a.store.SaveGame(ctx, rec); err != nil {
		return fmt.Errorf("archive %s: %w", ev.GameID, err)
	}
	obslog.L().Info("archive_saved",
		zap.String("game_id", ev.GameID),
		zap.String("result", rec.Result),
		zap.String("method", rec.Method),
		zap.Int("plies", len(rec.MovesSAN)),
	)
	return nil
}

func (p *pending) record(gameID, outcome, method, white, black string, ended time.Time) *Record {
	startFEN := p.startFEN
	if startFEN == "" {
		startFEN = rules.StartFEN
	}
	rec := &Record{
		GameID:    gameID,
		White:     white,
		Black:     black,
		StartFEN:  startFEN,
		Result:    pgnResult(outcome),
		Method:    strings.TrimSpace(method),
		MovesUCI:  append([]string(nil), p.uci...),
		MovesSAN:  append([]string(nil), p.san...),
		StartedAt: p.startedAt,
		EndedAt:   ended,
	}
	rec.PGN = buildPGN(rec)
	return rec
}

func pgnResult(outcome string) string {
	switch strings.TrimSpace(outcome) {
	case "1-0", "0-1", "1/2-1/2":
		return outcome
	default:
		return "*"
	}
}

func buildPGN(rec *Record) string {
	var b strings.Builder
	date := rec.EndedAt
	if date.IsZero() {
		date = time.Now()
	}
	fmt.Fprintf(&b, "[Event \"Relay game\"]\n")
	fmt.Fprintf(&b, "[Site \"cheese-relay\"]\n")
	fmt.Fprintf(&b, "[Date \"%04d.%02d.%02d\"]\n", date.Year(), int(date.Month()), date.Day())
	fmt.Fprintf(&b, "[White \"%s\"]\n", sanitizePGN(orUnknown(rec.White)))
	fmt.Fprintf(&b, "[Black \"%s\"]\n", sanitizePGN(orUnknown(rec.Black)))
	if rec.StartFEN != "" && rec.StartFEN != rules.StartFEN {
		fmt.Fprintf(&b, "[SetUp \"1\"]\n")
		fmt.Fprintf(&b, "[FEN \"%s\"]\n", sanitizePGN(rec.StartFEN))
	}
	if rec.Method != "" {
		fmt.Fprintf(&b, "[Termination \"%s\"]\n", sanitizePGN(strings.ToLower(rec.Method)))
	}
	fmt.Fprintf(&b, "[Result \"%s\"]\n\n", rec.Result)

	// a FEN start with black to move numbers the first move "1..."
	blackFirst := strings.Contains(rec.StartFEN, " b ")
	moveNo := 1
	i := 0
	if blackFirst && len(rec.MovesSAN) > 0 {
		fmt.Fprintf(&b, "1... %s ", rec.MovesSAN[0])
		moveNo, i = 2, 1
	}
	for ; i < len(rec.MovesSAN); i += 2 {
		fmt.Fprintf(&b, "%d. %s", moveNo, strings.TrimSpace(rec.MovesSAN[i]))
		if i+1 < len(rec.MovesSAN) {
			b.WriteString(" ")
			b.WriteString(strings.TrimSpace(rec.MovesSAN[i+1]))
		}
		b.WriteString(" ")
		moveNo++
	}
	b.WriteString(rec.Result)
	return b.String()
}

func orUnknown(s string) string {
	if strings.TrimSpace(s) == "" {
		return "?"
	}
	return s
}

func sanitizePGN(s string) string {
	s = strings.ReplaceAll(s, "\\", " ")
	s = strings.ReplaceAll(s, "\"", "'")
	return strings.TrimSpace(s)
}
