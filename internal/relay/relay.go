// Package relay runs the single authority for one game. All session state is
// owned by one goroutine; connections talk to it through an inbox and receive
// frames on their own outbox channels.
package relay

import (
	"context"
	"errors"
	"time"

	"github.com/park285/cheese-relay/internal/arbiter"
	"github.com/park285/cheese-relay/internal/domain"
	"github.com/park285/cheese-relay/internal/events"
	"github.com/park285/cheese-relay/internal/msgcat"
	"github.com/park285/cheese-relay/internal/obslog"
	"github.com/park285/cheese-relay/internal/roles"
	"github.com/park285/cheese-relay/internal/session"
	"github.com/park285/cheese-relay/pkg/protocol"
	"go.uber.org/zap"
)

var (
	ErrClosed    = errors.New("relay closed")
	ErrNotJoined = errors.New("connection has not joined")
	ErrNilOutbox = errors.New("nil outbox")
)

type Options struct {
	// RejectNotices sends a rejected frame back to the submitter.
	RejectNotices bool
	Catalog       *msgcat.Catalog
	Events        *events.Dispatcher
	Logger        *zap.Logger
	InboxSize     int
}

// View is what the relay reports about itself.
type View struct {
	session.Snapshot
	Connections int
	Dropped     uint64
}

type msg interface{ isRelayMsg() }

type joinMsg struct {
	id    string
	out   chan<- protocol.Frame
	reply chan joinReply
}

type joinReply struct {
	role domain.Role
	err  error
}

type leaveMsg struct{ id string }

type submitMsg struct {
	id     string
	intent protocol.MoveIntent
	reply  chan error
}

type syncMsg struct {
	id    string
	reply chan error
}

type refuseMsg struct {
	id  string
	err error
}

type viewMsg struct{ reply chan View }

type resetMsg struct{ reply chan View }

func (joinMsg) isRelayMsg()   {}
func (leaveMsg) isRelayMsg()  {}
func (submitMsg) isRelayMsg() {}
func (syncMsg) isRelayMsg()   {}
func (refuseMsg) isRelayMsg() {}
func (viewMsg) isRelayMsg()   {}
func (resetMsg) isRelayMsg()  {}

type Relay struct {
	inbox chan msg

	sess    *session.Session
	roles   *roles.Manager
	arbiter *arbiter.Arbiter
	clients map[string]chan<- protocol.Frame
	dropped uint64

	opts   Options
	logger *zap.Logger

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
}

// New starts the relay loop. It stops when parent is cancelled or Close is
// called; every outbox is closed on the way out.
func New(parent context.Context, sess *session.Session, opts Options) *Relay {
	logger := opts.Logger
	if logger == nil {
		logger = obslog.L()
	}
	if opts.InboxSize <= 0 {
		opts.InboxSize = 64
	}
	ctx, cancel := context.WithCancel(parent)
	r := &Relay{
		inbox:   make(chan msg, opts.InboxSize),
		sess:    sess,
		roles:   roles.NewManager(sess, logger),
		arbiter: arbiter.New(sess, logger),
		clients: make(map[string]chan<- protocol.Frame),
		opts:    opts,
		logger:  logger,
		ctx:     ctx,
		cancel:  cancel,
		done:    make(chan struct{}),
	}
	r.publishStart()
	go r.loop()
	return r
}

func (r *Relay) loop() {
	defer close(r.done)
	for {
		select {
		case <-r.ctx.Done():
			r.shutdown()
			return
		case m := <-r.inbox:
			r.handle(m)
		}
	}
}

func (r *Relay) handle(m msg) {
	switch m := m.(type) {
	case joinMsg:
		role, err := r.join(m.id, m.out)
		m.reply <- joinReply{role: role, err: err}
	case leaveMsg:
		r.leave(m.id)
	case submitMsg:
		m.reply <- r.submit(m.id, m.intent)
	case syncMsg:
		m.reply <- r.resync(m.id)
	case refuseMsg:
		r.notifyRejected(m.id, protocol.MoveIntent{}, m.err)
	case viewMsg:
		m.reply <- r.view()
	case resetMsg:
		r.reset()
		m.reply <- r.view()
	}
}

func (r *Relay) shutdown() {
	for id, out := range r.clients {
		close(out)
		delete(r.clients, id)
		r.roles.Disconnect(id)
	}
	r.logger.Info("relay_stopped", zap.Uint64("dropped_frames", r.dropped))
}

func (r *Relay) join(id string, out chan<- protocol.Frame) (domain.Role, error) {
	if out == nil {
		return "", ErrNilOutbox
	}
	role, err := r.roles.Connect(id)
	if err != nil {
		return role, err
	}
	r.clients[id] = out
	// role and state reach the new connection before any broadcast
	r.send(id, out, protocol.NewRole(role))
	r.sendState(id, out)
	r.logger.Info("relay_join",
		zap.String("conn_id", id),
		zap.String("role", string(role)),
		zap.Int("connections", len(r.clients)),
	)
	return role, nil
}

func (r *Relay) leave(id string) {
	out, ok := r.clients[id]
	if !ok {
		return
	}
	delete(r.clients, id)
	close(out)
	role, _ := r.roles.Disconnect(id)
	r.logger.Info("relay_leave",
		zap.String("conn_id", id),
		zap.String("role", string(role)),
		zap.Int("connections", len(r.clients)),
	)
}

func (r *Relay) submit(id string, intent protocol.MoveIntent) error {
	res, err := r.arbiter.Submit(id, intent)
	if err != nil {
		r.notifyRejected(id, intent, err)
		return err
	}
	mv := res.Played.Move
	r.broadcast(protocol.NewMove(mv.From, mv.To, mv.Promotion, res.Played.SAN, res.Seq))
	r.broadcast(protocol.NewState(res.Position.FEN(), string(res.Position.Turn()), res.Seq))

	now := time.Now()
	gameID := r.sess.GameID()
	r.opts.Events.Publish(events.MoveEvent{
		GameID: gameID,
		Seq:    res.Seq,
		Seat:   res.Seat,
		ConnID: id,
		UCI:    res.Played.UCI,
		SAN:    res.Played.SAN,
		FEN:    res.Position.FEN(),
		At:     now,
	})

	if res.Position.Terminal() {
		r.broadcast(protocol.NewOver(res.Position.Outcome(), res.Position.Method(), res.Seq))
		snap := r.sess.Snapshot()
		r.opts.Events.Publish(events.FinishEvent{
			GameID:    gameID,
			Outcome:   res.Position.Outcome(),
			Method:    res.Position.Method(),
			FEN:       res.Position.FEN(),
			Seq:       res.Seq,
			StartedAt: snap.StartedAt,
			EndedAt:   now,
			White:     snap.White,
			Black:     snap.Black,
		})
		r.logger.Info("relay_game_over",
			zap.String("game_id", gameID),
			zap.String("outcome", res.Position.Outcome()),
			zap.String("method", res.Position.Method()),
			zap.Uint64("seq", res.Seq),
		)
	}
	return nil
}

func (r *Relay) notifyRejected(id string, intent protocol.MoveIntent, err error) {
	if !r.opts.RejectNotices {
		return
	}
	out, ok := r.clients[id]
	if !ok {
		return
	}
	reason, ok := domain.ReasonOf(err)
	if !ok {
		reason = domain.MalformedIntent
	}
	role, _ := r.sess.SeatOf(id)
	if role == "" {
		role = domain.RoleSpectator
	}
	data := map[string]any{
		"Role":   string(role),
		"Turn":   string(r.sess.CurrentPosition().Turn()),
		"From":   intent.From,
		"To":     intent.To,
		"Detail": err.Error(),
	}
	var text string
	if r.opts.Catalog != nil {
		text = r.opts.Catalog.RenderOr("reject."+string(reason), data, "")
	}
	r.send(id, out, protocol.NewRejected(reason, text))
}

func (r *Relay) resync(id string) error {
	out, ok := r.clients[id]
	if !ok {
		return ErrNotJoined
	}
	r.sendState(id, out)
	return nil
}

func (r *Relay) reset() {
	prev := r.sess.GameID()
	r.sess.Reset()
	pos := r.sess.CurrentPosition()
	r.broadcast(protocol.NewState(pos.FEN(), string(pos.Turn()), r.sess.Seq()))
	r.publishStart()
	r.logger.Info("relay_reset", zap.String("previous_game_id", prev), zap.String("game_id", r.sess.GameID()))
}

func (r *Relay) publishStart() {
	r.opts.Events.Publish(events.StartEvent{
		GameID:    r.sess.GameID(),
		FEN:       r.sess.CurrentPosition().FEN(),
		StartedAt: r.sess.StartedAt(),
	})
}

func (r *Relay) view() View {
	return View{Snapshot: r.sess.Snapshot(), Connections: len(r.clients), Dropped: r.dropped}
}

// sendState sends the current state, followed by the result when the game is
// already over.
func (r *Relay) sendState(id string, out chan<- protocol.Frame) {
	pos := r.sess.CurrentPosition()
	seq := r.sess.Seq()
	r.send(id, out, protocol.NewState(pos.FEN(), string(pos.Turn()), seq))
	if pos.Terminal() {
		r.send(id, out, protocol.NewOver(pos.Outcome(), pos.Method(), seq))
	}
}

func (r *Relay) broadcast(f protocol.Frame) {
	for id, out := range r.clients {
		r.send(id, out, f)
	}
}

// send never blocks. A frame that does not fit is dropped for that
// connection only; the client can recover with a sync request.
func (r *Relay) send(id string, out chan<- protocol.Frame, f protocol.Frame) {
	select {
	case out <- f:
	default:
		r.dropped++
		r.logger.Warn("relay_frame_dropped",
			zap.String("conn_id", id),
			zap.String("type", f.FrameType()),
			zap.Uint64("dropped", r.dropped),
		)
	}
}
