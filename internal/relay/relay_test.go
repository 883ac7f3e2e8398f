package relay

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/park285/cheese-relay/internal/domain"
	"github.com/park285/cheese-relay/internal/events"
	"github.com/park285/cheese-relay/internal/msgcat"
	"github.com/park285/cheese-relay/internal/rules"
	"github.com/park285/cheese-relay/internal/session"
	"github.com/park285/cheese-relay/pkg/protocol"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const wait = 200 * time.Millisecond

func newTestRelay(t *testing.T, opts Options) *Relay {
	t.Helper()
	engine, err := rules.NewEngine("")
	require.NoError(t, err)
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	r := New(context.Background(), session.New(engine), opts)
	t.Cleanup(r.Close)
	return r
}

func join(t *testing.T, r *Relay, id string, size int) (domain.Role, chan protocol.Frame) {
	t.Helper()
	out := make(chan protocol.Frame, size)
	role, err := r.Join(context.Background(), id, out)
	require.NoError(t, err)
	return role, out
}

func recv(t *testing.T, ch <-chan protocol.Frame) protocol.Frame {
	t.Helper()
	select {
	case f, ok := <-ch:
		if !ok {
			t.Fatalf("outbox closed unexpectedly")
		}
		return f
	case <-time.After(wait):
		t.Fatalf("timed out waiting for frame")
		return nil
	}
}

func recvNone(t *testing.T, ch <-chan protocol.Frame) {
	t.Helper()
	select {
	case f, ok := <-ch:
		if ok {
			t.Fatalf("expected no frame, got %#v", f)
		}
	case <-time.After(30 * time.Millisecond):
	}
}

func submit(r *Relay, id, uci string) error {
	in := protocol.MoveIntent{From: uci[:2], To: uci[2:4]}
	if len(uci) > 4 {
		in.Promotion = uci[4:]
	}
	return r.Submit(context.Background(), id, in)
}

func TestRelay_JoinMoveSpectate(t *testing.T) {
	r := newTestRelay(t, Options{})

	role, a := join(t, r, "A", 8)
	require.Equal(t, domain.RoleWhite, role)
	require.Equal(t, protocol.NewRole(domain.RoleWhite), recv(t, a))
	require.Equal(t, protocol.NewState(rules.StartFEN, "white", 0), recv(t, a))

	role, b := join(t, r, "B", 8)
	require.Equal(t, domain.RoleBlack, role)
	require.Equal(t, protocol.NewRole(domain.RoleBlack), recv(t, b))
	require.IsType(t, protocol.StateFrame{}, recv(t, b))
	recvNone(t, a) // others are not told about the new role

	require.NoError(t, submit(r, "A", "e2e4"))
	for _, ch := range []chan protocol.Frame{a, b} {
		mv := recv(t, ch).(protocol.MoveFrame)
		require.Equal(t, "e2", mv.From)
		require.Equal(t, "e4", mv.To)
		require.Equal(t, "e4", mv.SAN)
		require.EqualValues(t, 1, mv.Seq)
		st := recv(t, ch).(protocol.StateFrame)
		require.Equal(t, "black", st.Turn)
		require.EqualValues(t, 1, st.Seq)
	}

	// B repeating White's move is refused and nothing is broadcast
	err := submit(r, "B", "e2e4")
	require.Error(t, err)
	reason, ok := domain.ReasonOf(err)
	require.True(t, ok)
	require.Contains(t, []domain.Reason{domain.OutOfTurn, domain.IllegalMove}, reason)
	recvNone(t, a)
	recvNone(t, b)

	role, c := join(t, r, "C", 8)
	require.Equal(t, domain.RoleSpectator, role)
	require.Equal(t, protocol.NewRole(domain.RoleSpectator), recv(t, c))
	st := recv(t, c).(protocol.StateFrame)
	require.Equal(t, "black", st.Turn)
	require.EqualValues(t, 1, st.Seq)

	require.ErrorIs(t, submit(r, "C", "e7e5"), domain.NotAPlayer)
	recvNone(t, a)
}

func TestRelay_DisconnectFreesSeatKeepsPosition(t *testing.T) {
	r := newTestRelay(t, Options{})
	_, a := join(t, r, "A", 8)
	join(t, r, "B", 8)
	join(t, r, "C", 8)
	require.NoError(t, submit(r, "A", "d2d4"))

	r.Leave("A")
	// A's outbox drains and then closes
	for range a {
	}

	role, d := join(t, r, "D", 8)
	require.Equal(t, domain.RoleWhite, role)
	recv(t, d)
	st := recv(t, d).(protocol.StateFrame)
	require.EqualValues(t, 1, st.Seq)

	v, err := r.Snapshot(context.Background())
	require.NoError(t, err)
	require.Equal(t, "D", v.White)
	require.Equal(t, "B", v.Black)
	require.Equal(t, 1, v.Spectators)
	require.Equal(t, 3, v.Connections)
	require.EqualValues(t, 1, v.Seq)
}

func TestRelay_DuplicateJoin(t *testing.T) {
	r := newTestRelay(t, Options{})
	join(t, r, "A", 8)
	role, err := r.Join(context.Background(), "A", make(chan protocol.Frame, 8))
	require.ErrorIs(t, err, session.ErrAlreadyJoined)
	require.Equal(t, domain.RoleWhite, role)
	_, err = r.Join(context.Background(), "X", nil)
	require.ErrorIs(t, err, ErrNilOutbox)
}

func TestRelay_ConcurrentSubmissionsSerialize(t *testing.T) {
	for i := 0; i < 20; i++ {
		r := newTestRelay(t, Options{})
		join(t, r, "W", 16)
		join(t, r, "B", 16)

		var wg sync.WaitGroup
		errs := make([]error, 2)
		for j, uci := range []string{"e2e4", "d2d4"} {
			wg.Add(1)
			go func(j int, uci string) {
				defer wg.Done()
				errs[j] = submit(r, "W", uci)
			}(j, uci)
		}
		wg.Wait()

		accepted := 0
		for _, err := range errs {
			if err == nil {
				accepted++
				continue
			}
			require.ErrorIs(t, err, domain.OutOfTurn)
		}
		require.Equal(t, 1, accepted, "run %d", i)
		v, err := r.Snapshot(context.Background())
		require.NoError(t, err)
		require.EqualValues(t, 1, v.Seq)
	}
}

func TestRelay_StateBeforeMoves(t *testing.T) {
	r := newTestRelay(t, Options{})
	join(t, r, "W", 64)
	join(t, r, "B", 64)

	stop := make(chan struct{})
	go func() {
		moves := []struct{ id, uci string }{{"W", "g1f3"}, {"B", "g8f6"}, {"W", "f3g1"}, {"B", "f6g8"}}
		for i := 0; ; i++ {
			select {
			case <-stop:
				return
			default:
			}
			m := moves[i%len(moves)]
			if err := submit(r, m.id, m.uci); err != nil {
				// the shuffle eventually hits a move-count draw
				_, _ = r.Reset(context.Background())
				i = -1
			}
		}
	}()
	defer close(stop)

	for i := 0; i < 10; i++ {
		out := make(chan protocol.Frame, 64)
		id := fmt.Sprintf("watcher-%d", i)
		_, err := r.Join(context.Background(), id, out)
		require.NoError(t, err)
		require.IsType(t, protocol.RoleFrame{}, recv(t, out))
		st := recv(t, out).(protocol.StateFrame)
		// any move that follows must build on the snapshot
		if f := recv(t, out); f != nil {
			if mv, ok := f.(protocol.MoveFrame); ok {
				require.Equal(t, st.Seq+1, mv.Seq)
			}
		}
		r.Leave(id)
	}
}

func TestRelay_RejectedNotice(t *testing.T) {
	cat, err := msgcat.New("")
	require.NoError(t, err)
	r := newTestRelay(t, Options{RejectNotices: true, Catalog: cat})
	_, a := join(t, r, "A", 8)
	_, b := join(t, r, "B", 8)
	for _, ch := range []chan protocol.Frame{a, b} {
		recv(t, ch)
		recv(t, ch)
	}

	require.ErrorIs(t, submit(r, "B", "e7e5"), domain.OutOfTurn)
	rej := recv(t, b).(protocol.RejectedFrame)
	require.Equal(t, string(domain.OutOfTurn), rej.Reason)
	require.Equal(t, "It is white to move.", rej.Message)
	recvNone(t, a)

	err = r.Submit(context.Background(), "A", protocol.MoveIntent{From: "e2"})
	require.ErrorIs(t, err, domain.MalformedIntent)
	rej = recv(t, a).(protocol.RejectedFrame)
	require.Equal(t, string(domain.MalformedIntent), rej.Reason)
	require.NotEmpty(t, rej.Message)
}

func TestRelay_SilentRejection(t *testing.T) {
	r := newTestRelay(t, Options{RejectNotices: false})
	_, a := join(t, r, "A", 8)
	recv(t, a)
	recv(t, a)
	require.ErrorIs(t, submit(r, "A", "e2e5"), domain.IllegalMove)
	recvNone(t, a)
}

func TestRelay_Resync(t *testing.T) {
	r := newTestRelay(t, Options{})
	_, a := join(t, r, "A", 8)
	_, b := join(t, r, "B", 8)
	recv(t, a)
	recv(t, a)
	recv(t, b)
	recv(t, b)

	require.NoError(t, r.Resync(context.Background(), "B"))
	require.IsType(t, protocol.StateFrame{}, recv(t, b))
	recvNone(t, a)

	require.ErrorIs(t, r.Resync(context.Background(), "nobody"), ErrNotJoined)
}

type captureSink struct {
	events.Nop
	mu       sync.Mutex
	started  []events.StartEvent
	moves    []events.MoveEvent
	finished []events.FinishEvent
}

func (c *captureSink) GameStarted(_ context.Context, ev events.StartEvent) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.started = append(c.started, ev)
	return nil
}

func (c *captureSink) MoveAccepted(_ context.Context, ev events.MoveEvent) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.moves = append(c.moves, ev)
	return nil
}

func (c *captureSink) GameFinished(_ context.Context, ev events.FinishEvent) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.finished = append(c.finished, ev)
	return nil
}

func (c *captureSink) counts() (int, int, int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.started), len(c.moves), len(c.finished)
}

func TestRelay_GameOverAndReset(t *testing.T) {
	sink := &captureSink{}
	d := events.NewDispatcher(events.WithLogger(zap.NewNop()))
	d.Add("capture", sink)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go d.Run(ctx)

	r := newTestRelay(t, Options{Events: d})
	_, w := join(t, r, "W", 32)
	_, b := join(t, r, "B", 32)

	for i, uci := range []string{"f2f3", "e7e5", "g2g4", "d8h4"} {
		id := "W"
		if i%2 == 1 {
			id = "B"
		}
		require.NoError(t, submit(r, id, uci))
	}

	// role, state, then four move+state pairs, then over
	var last protocol.Frame
	for i := 0; i < 2+8+1; i++ {
		last = recv(t, w)
	}
	over, ok := last.(protocol.OverFrame)
	require.True(t, ok, "got %#v", last)
	require.Equal(t, "0-1", over.Outcome)
	require.EqualValues(t, 4, over.Seq)

	// a late joiner learns the result too
	_, s := join(t, r, "S", 8)
	recv(t, s)
	recv(t, s)
	require.IsType(t, protocol.OverFrame{}, recv(t, s))

	require.Eventually(t, func() bool {
		st, mv, fin := sink.counts()
		return st == 1 && mv == 4 && fin == 1
	}, time.Second, 5*time.Millisecond)
	sink.mu.Lock()
	require.Equal(t, "W", sink.finished[0].White)
	require.Equal(t, "Checkmate", sink.finished[0].Method)
	sink.mu.Unlock()

	v, err := r.Reset(context.Background())
	require.NoError(t, err)
	require.Zero(t, v.Seq)
	require.Equal(t, "W", v.White)
	require.False(t, v.Position.Terminal())
	for len(b) > 0 {
		<-b
	}
	_ = recv(t, s)
	require.Eventually(t, func() bool { st, _, _ := sink.counts(); return st == 2 }, time.Second, 5*time.Millisecond)
	require.NoError(t, submit(r, "W", "e2e4"))
}

func TestRelay_SlowConsumerDoesNotBlock(t *testing.T) {
	r := newTestRelay(t, Options{})
	join(t, r, "W", 64)
	join(t, r, "B", 64)
	// a spectator that never reads
	_, slow := join(t, r, "slow", 3)

	moves := []struct{ id, uci string }{{"W", "g1f3"}, {"B", "g8f6"}, {"W", "f3g1"}, {"B", "f6g8"}}
	done := make(chan error, 1)
	go func() {
		for i := 0; i < 12; i++ {
			m := moves[i%len(moves)]
			if err := submit(r, m.id, m.uci); err != nil {
				done <- err
				return
			}
		}
		done <- nil
	}()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("relay blocked on a slow consumer")
	}
	require.Len(t, slow, 3)

	v, err := r.Snapshot(context.Background())
	require.NoError(t, err)
	require.EqualValues(t, 12, v.Seq)
	require.NotZero(t, v.Dropped)
}

func TestRelay_CloseClosesOutboxes(t *testing.T) {
	engine, err := rules.NewEngine("")
	require.NoError(t, err)
	r := New(context.Background(), session.New(engine), Options{Logger: zap.NewNop()})
	_, a := join(t, r, "A", 8)
	r.Close()
	for range a {
	}
	_, err = r.Join(context.Background(), "B", make(chan protocol.Frame, 8))
	require.True(t, errors.Is(err, ErrClosed))
	require.ErrorIs(t, submit(r, "A", "e2e4"), ErrClosed)
}
