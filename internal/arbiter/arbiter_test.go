package arbiter

import (
	"errors"
	"testing"

	"github.com/park285/cheese-relay/internal/domain"
	"github.com/park285/cheese-relay/internal/rules"
	"github.com/park285/cheese-relay/internal/session"
	"github.com/park285/cheese-relay/pkg/protocol"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func setup(t *testing.T) (*Arbiter, *session.Session, *observer.ObservedLogs) {
	t.Helper()
	engine, err := rules.NewEngine("")
	if err != nil {
		t.Fatalf("engine: %v", err)
	}
	sess := session.New(engine)
	if err := sess.Sit("w", domain.RoleWhite); err != nil {
		t.Fatalf("sit white: %v", err)
	}
	if err := sess.Sit("b", domain.RoleBlack); err != nil {
		t.Fatalf("sit black: %v", err)
	}
	if err := sess.Watch("s"); err != nil {
		t.Fatalf("watch: %v", err)
	}
	core, logs := observer.New(zap.InfoLevel)
	return New(sess, zap.New(core)), sess, logs
}

func TestSubmit_Accepts(t *testing.T) {
	a, sess, logs := setup(t)
	res, err := a.Submit("w", protocol.MoveIntent{From: "e2", To: "e4"})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if res.Seat != domain.RoleWhite || res.Seq != 1 || res.Played.SAN != "e4" {
		t.Fatalf("unexpected result: %+v", res)
	}
	if sess.CurrentPosition() != res.Position {
		t.Fatalf("session not updated")
	}
	if logs.FilterMessage("relay_move_accepted").Len() != 1 {
		t.Fatalf("accept not logged")
	}
}

func TestSubmit_RejectionOrder(t *testing.T) {
	cases := []struct {
		name   string
		conn   string
		intent protocol.MoveIntent
		want   domain.Reason
	}{
		{"spectator", "s", protocol.MoveIntent{From: "e2", To: "e4"}, domain.NotAPlayer},
		{"unknown connection", "ghost", protocol.MoveIntent{From: "e2", To: "e4"}, domain.NotAPlayer},
		// a spectator sending junk is still told it is not a player
		{"spectator junk", "s", protocol.MoveIntent{From: "zz"}, domain.NotAPlayer},
		{"malformed", "w", protocol.MoveIntent{From: "e9", To: "e4"}, domain.MalformedIntent},
		{"bad promotion", "w", protocol.MoveIntent{From: "e2", To: "e4", Promotion: "k"}, domain.MalformedIntent},
		{"out of turn", "b", protocol.MoveIntent{From: "e7", To: "e5"}, domain.OutOfTurn},
		{"illegal", "w", protocol.MoveIntent{From: "e2", To: "e5"}, domain.IllegalMove},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			a, sess, logs := setup(t)
			before := sess.CurrentPosition()
			_, err := a.Submit(tc.conn, tc.intent)
			if !errors.Is(err, tc.want) {
				t.Fatalf("err = %v, want %s", err, tc.want)
			}
			if sess.CurrentPosition() != before || sess.Seq() != 0 {
				t.Fatalf("rejected move changed the session")
			}
			entries := logs.FilterMessage("relay_move_rejected").All()
			if len(entries) != 1 || entries[0].ContextMap()["reason"] != string(tc.want) {
				t.Fatalf("rejection log = %+v", entries)
			}
		})
	}
}

func TestSubmit_AlternatingGame(t *testing.T) {
	a, sess, _ := setup(t)
	for i, m := range []struct{ conn, uci string }{
		{"w", "f2f3"}, {"b", "e7e5"}, {"w", "g2g4"}, {"b", "d8h4"},
	} {
		if _, err := a.Submit(m.conn, protocol.MoveIntent{From: m.uci[:2], To: m.uci[2:]}); err != nil {
			t.Fatalf("move %d %s: %v", i, m.uci, err)
		}
	}
	pos := sess.CurrentPosition()
	if !pos.Terminal() || pos.Outcome() != "0-1" {
		t.Fatalf("expected black win, got %q", pos.Outcome())
	}
	if _, err := a.Submit("w", protocol.MoveIntent{From: "a2", To: "a3"}); !errors.Is(err, domain.IllegalMove) {
		t.Fatalf("move after mate: %v", err)
	}
}
