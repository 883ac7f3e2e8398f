// Package ws serves relay connections over WebSocket. Each connection gets a
// relay-assigned id, a writer goroutine draining its outbox, and a ping loop.
package ws

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/park285/cheese-relay/internal/obslog"
	"github.com/park285/cheese-relay/internal/relay"
	"github.com/park285/cheese-relay/pkg/protocol"
	"go.uber.org/zap"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"
)

type Options struct {
	OutboxSize     int
	PingInterval   time.Duration
	WriteTimeout   time.Duration
	IdleTimeout    time.Duration // 0 keeps silent connections forever
	AllowedOrigins []string
	Logger         *zap.Logger
}

type Handler struct {
	relay  *relay.Relay
	opts   Options
	logger *zap.Logger
}

func NewHandler(r *relay.Relay, opts Options) *Handler {
	if opts.OutboxSize < 4 {
		opts.OutboxSize = 32
	}
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = 5 * time.Second
	}
	logger := opts.Logger
	if logger == nil {
		logger = obslog.L()
	}
	return &Handler{relay: r, opts: opts, logger: logger}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns:  h.opts.AllowedOrigins,
		CompressionMode: websocket.CompressionNoContextTakeover,
	})
	if err != nil {
		h.logger.Warn("ws_accept_failed", zap.String("remote", r.RemoteAddr), zap.Error(err))
		return
	}

	id := uuid.NewString()
	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()
	// Leave is a no-op for ids the relay never registered.
	defer h.relay.Leave(id)

	out := make(chan protocol.Frame, h.opts.OutboxSize)
	role, err := h.relay.Join(ctx, id, out)
	if err != nil {
		h.logger.Warn("ws_join_failed", zap.String("conn_id", id), zap.Error(err))
		_ = conn.Close(websocket.StatusTryAgainLater, "relay unavailable")
		return
	}
	h.logger.Info("ws_connect",
		zap.String("conn_id", id),
		zap.String("role", string(role)),
		zap.String("remote", r.RemoteAddr),
	)

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		h.writeLoop(ctx, cancel, conn, id, out)
	}()
	go func() {
		defer wg.Done()
		h.pingLoop(ctx, cancel, conn)
	}()

	reason := h.readLoop(ctx, conn, id)
	cancel()
	h.relay.Leave(id)
	wg.Wait()
	_ = conn.Close(websocket.StatusNormalClosure, "bye")
	h.logger.Info("ws_disconnect", zap.String("conn_id", id), zap.String("reason", reason))
}

// writeLoop drains out until the relay closes it. After a write failure it
// keeps draining without writing so the relay never sees a stuck outbox.
func (h *Handler) writeLoop(ctx context.Context, cancel context.CancelFunc, conn *websocket.Conn, id string, out <-chan protocol.Frame) {
	broken := false
	for f := range out {
		if broken {
			continue
		}
		wctx, wcancel := context.WithTimeout(ctx, h.opts.WriteTimeout)
		err := wsjson.Write(wctx, conn, f)
		wcancel()
		if err != nil {
			broken = true
			h.logger.Debug("ws_write_failed", zap.String("conn_id", id), zap.String("type", f.FrameType()), zap.Error(err))
			cancel()
		}
	}
	// out closed by the relay: shutting down or we already left
	cancel()
}

func (h *Handler) pingLoop(ctx context.Context, cancel context.CancelFunc, conn *websocket.Conn) {
	if h.opts.PingInterval <= 0 {
		return
	}
	t := time.NewTicker(h.opts.PingInterval)
	defer t.Stop()
	failures := 0
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			pctx, pcancel := context.WithTimeout(ctx, 3*time.Second)
			err := conn.Ping(pctx)
			pcancel()
			if err == nil {
				failures = 0
				continue
			}
			failures++
			if failures >= 2 {
				cancel()
				return
			}
		}
	}
}

// readLoop returns a short description of why the connection ended.
func (h *Handler) readLoop(ctx context.Context, conn *websocket.Conn, id string) string {
	for {
		rctx, rcancel := ctx, context.CancelFunc(func() {})
		if h.opts.IdleTimeout > 0 {
			rctx, rcancel = context.WithTimeout(ctx, h.opts.IdleTimeout)
		}
		_, data, err := conn.Read(rctx)
		idle := errors.Is(rctx.Err(), context.DeadlineExceeded)
		rcancel()
		if err != nil {
			switch {
			case idle:
				return "idle_timeout"
			case ctx.Err() != nil:
				return "closed"
			}
			switch websocket.CloseStatus(err) {
			case websocket.StatusNormalClosure, websocket.StatusGoingAway:
				return "client_closed"
			}
			return "read_error"
		}

		in, err := protocol.Decode(data)
		if err != nil {
			if rerr := h.relay.Refuse(ctx, id, err); rerr != nil {
				return "relay_closed"
			}
			continue
		}
		switch in.Type {
		case protocol.TypeMove:
			err = h.relay.Submit(ctx, id, in.Intent)
		case protocol.TypeSync:
			err = h.relay.Resync(ctx, id)
		}
		if errors.Is(err, relay.ErrClosed) {
			return "relay_closed"
		}
	}
}
