package archive

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/park285/cheese-relay/internal/events"
	"github.com/park285/cheese-relay/internal/rules"
)

type memStore struct {
	mu   sync.Mutex
	recs []*Record
}

func (m *memStore) SaveGame(_ context.Context, rec *Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.recs = append(m.recs, rec)
	return nil
}

func TestArchiver_FinishedGame(t *testing.T) {
	store := &memStore{}
	a := NewArchiver(store)
	ctx := context.Background()
	start := time.Date(2026, 3, 4, 10, 0, 0, 0, time.UTC)

	if err := a.GameStarted(ctx, events.StartEvent{GameID: "g", FEN: rules.StartFEN, StartedAt: start}); err != nil {
		t.Fatalf("GameStarted: %v", err)
	}
	for i, m := range [][2]string{{"f2f3", "f3"}, {"e7e5", "e5"}, {"g2g4", "g4"}, {"d8h4", "Qh4#"}} {
		if err := a.MoveAccepted(ctx, events.MoveEvent{GameID: "g", Seq: uint64(i + 1), UCI: m[0], SAN: m[1]}); err != nil {
			t.Fatalf("MoveAccepted: %v", err)
		}
	}
	err := a.GameFinished(ctx, events.FinishEvent{
		GameID: "g", Outcome: "0-1", Method: "Checkmate", Seq: 4,
		StartedAt: start, EndedAt: start.Add(time.Minute), White: "w-conn", Black: "b-conn",
	})
	if err != nil {
		t.Fatalf("GameFinished: %v", err)
	}

	if len(store.recs) != 1 {
		t.Fatalf("records = %d", len(store.recs))
	}
	rec := store.recs[0]
	if rec.Result != "0-1" || len(rec.MovesUCI) != 4 || rec.White != "w-conn" {
		t.Fatalf("unexpected record: %+v", rec)
	}
	for _, want := range []string{`[Date "2026.03.04"]`, `[Termination "checkmate"]`, `[Result "0-1"]`, "1. f3 e5 2. g4 Qh4# 0-1"} {
		if !strings.Contains(rec.PGN, want) {
			t.Fatalf("pgn missing %q:\n%s", want, rec.PGN)
		}
	}
	if strings.Contains(rec.PGN, "[FEN") {
		t.Fatalf("standard start should not carry a FEN header")
	}
	if len(a.games) != 0 {
		t.Fatalf("pending game not cleared")
	}
}

func TestArchiver_ResetSavesAbandonedGame(t *testing.T) {
	store := &memStore{}
	a := NewArchiver(store)
	ctx := context.Background()

	_ = a.GameStarted(ctx, events.StartEvent{GameID: "empty"})
	// no moves: nothing to keep
	_ = a.GameStarted(ctx, events.StartEvent{GameID: "g1"})
	if len(store.recs) != 0 {
		t.Fatalf("empty game archived")
	}
	_ = a.MoveAccepted(ctx, events.MoveEvent{GameID: "g1", UCI: "e2e4", SAN: "e4"})
	if err := a.GameStarted(ctx, events.StartEvent{GameID: "g2"}); err != nil {
		t.Fatalf("GameStarted: %v", err)
	}
	if len(store.recs) != 1 || store.recs[0].GameID != "g1" || store.recs[0].Result != "*" {
		t.Fatalf("abandoned game not archived: %+v", store.recs)
	}
}

func TestBuildPGN_BlackToMoveFromFEN(t *testing.T) {
	rec := &Record{
		StartFEN: "4k3/8/8/8/8/8/4P3/4K3 b - - 0 1",
		Result:   "*",
		MovesSAN: []string{"Kd7", "e4", "Kc6"},
		EndedAt:  time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
	}
	pgn := buildPGN(rec)
	for _, want := range []string{`[SetUp "1"]`, `[FEN "4k3/8/8/8/8/8/4P3/4K3 b - - 0 1"]`, "1... Kd7 2. e4 Kc6 *", `[White "?"]`} {
		if !strings.Contains(pgn, want) {
			t.Fatalf("pgn missing %q:\n%s", want, pgn)
		}
	}
}

func TestNewRepository_RequiresURL(t *testing.T) {
	if _, err := NewRepository(" "); err == nil {
		t.Fatalf("expected error")
	}
	var r *Repository
	if err := r.SaveGame(context.Background(), &Record{}); err != nil {
		t.Fatalf("nil repository should be a no-op: %v", err)
	}
}
