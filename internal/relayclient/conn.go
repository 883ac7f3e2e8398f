package relayclient

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/park285/cheese-relay/pkg/protocol"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"
)

type ConnState string

const (
	StateDisconnected ConnState = "disconnected"
	StateConnecting   ConnState = "connecting"
	StateConnected    ConnState = "connected"
	StateReconnecting ConnState = "reconnecting"
	StateFailed       ConnState = "failed"
)

var ErrNotConnected = errors.New("not connected")

type FrameCallback func(f protocol.Envelope)

type StateCallback func(s ConnState)

// Conn is a client WebSocket to the relay. It reads frames on its own
// goroutine and, when maxReconnect > 0, redials after a drop. A redial is a
// new connection to the relay and may land in a different role.
type Conn struct {
	url string

	mu    sync.RWMutex
	conn  *websocket.Conn
	state ConnState

	cbM      sync.RWMutex
	frameCbs []FrameCallback
	stateCbs []StateCallback

	maxReconnect int
	pingInterval time.Duration
	headers      HeaderProvider

	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

func NewConn(url string, maxReconnect int) *Conn {
	return &Conn{
		url:          url,
		state:        StateDisconnected,
		maxReconnect: maxReconnect,
		pingInterval: 30 * time.Second,
		stopCh:       make(chan struct{}),
	}
}

func (c *Conn) SetHeaderProvider(h HeaderProvider) { c.headers = h }

func (c *Conn) OnFrame(cb FrameCallback) {
	c.cbM.Lock()
	c.frameCbs = append(c.frameCbs, cb)
	c.cbM.Unlock()
}

func (c *Conn) OnStateChange(cb StateCallback) {
	c.cbM.Lock()
	c.stateCbs = append(c.stateCbs, cb)
	c.cbM.Unlock()
}

func (c *Conn) State() ConnState {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

func (c *Conn) Connect(ctx context.Context) error {
	if s := c.State(); s == StateConnected || s == StateConnecting {
		return nil
	}
	c.setState(StateConnecting)
	if err := c.dial(ctx); err != nil {
		c.setState(StateFailed)
		c.scheduleReconnect()
		return err
	}
	return nil
}

func (c *Conn) dial(ctx context.Context) error {
	dctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	conn, _, err := websocket.Dial(dctx, c.url, &websocket.DialOptions{
		CompressionMode: websocket.CompressionNoContextTakeover,
		HTTPHeader:      c.buildHeaders(),
	})
	if err != nil {
		return err
	}
	c.mu.Lock()
	c.conn = conn
	c.mu.Unlock()
	c.setState(StateConnected)

	c.wg.Add(2)
	go c.listen(conn)
	go c.pingLoop(conn)
	return nil
}

// Move submits a move. The verdict arrives as frames.
func (c *Conn) Move(ctx context.Context, in protocol.MoveIntent) error {
	return c.write(ctx, protocol.NewMoveRequest(in))
}

// Sync asks the relay for a fresh state frame.
func (c *Conn) Sync(ctx context.Context) error {
	return c.write(ctx, protocol.NewSyncRequest())
}

func (c *Conn) write(ctx context.Context, v any) error {
	c.mu.RLock()
	conn := c.conn
	c.mu.RUnlock()
	if conn == nil {
		return ErrNotConnected
	}
	wctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	return wsjson.Write(wctx, conn, v)
}

func (c *Conn) listen(conn *websocket.Conn) {
	defer c.wg.Done()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		select {
		case <-c.stopCh:
			cancel()
		case <-ctx.Done():
		}
	}()
	for {
		var f protocol.Envelope
		if err := wsjson.Read(ctx, conn, &f); err != nil {
			if c.isStopping() {
				return
			}
			c.drop(conn, "read failure")
			return
		}
		c.cbM.RLock()
		cbs := append([]FrameCallback(nil), c.frameCbs...)
		c.cbM.RUnlock()
		for _, cb := range cbs {
			cb(f)
		}
	}
}

func (c *Conn) pingLoop(conn *websocket.Conn) {
	defer c.wg.Done()
	t := time.NewTicker(c.pingInterval)
	defer t.Stop()
	failures := 0
	for {
		select {
		case <-c.stopCh:
			return
		case <-t.C:
			if c.currentConn() != conn {
				return
			}
			ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
			err := conn.Ping(ctx)
			cancel()
			if err == nil {
				failures = 0
				continue
			}
			failures++
			if failures >= 2 {
				if !c.isStopping() {
					c.drop(conn, "ping failure")
				}
				return
			}
		}
	}
}

func (c *Conn) currentConn() *websocket.Conn {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.conn
}

// drop tears down conn once; the second caller for the same conn is a no-op.
func (c *Conn) drop(conn *websocket.Conn, reason string) {
	c.mu.Lock()
	if c.conn != conn {
		c.mu.Unlock()
		return
	}
	c.conn = nil
	c.mu.Unlock()
	_ = conn.Close(websocket.StatusGoingAway, reason)
	c.setState(StateDisconnected)
	c.scheduleReconnect()
}

func (c *Conn) scheduleReconnect() {
	if c.maxReconnect <= 0 || c.isStopping() {
		return
	}
	c.setState(StateReconnecting)
	go func() {
		for attempt := 1; attempt <= c.maxReconnect; attempt++ {
			select {
			case <-c.stopCh:
				return
			case <-time.After(backoffDuration(attempt)):
			}
			if err := c.dial(context.Background()); err == nil {
				return
			}
		}
		c.setState(StateFailed)
	}()
}

func (c *Conn) setState(s ConnState) {
	c.mu.Lock()
	c.state = s
	c.mu.Unlock()

	c.cbM.RLock()
	cbs := append([]StateCallback(nil), c.stateCbs...)
	c.cbM.RUnlock()
	for _, cb := range cbs {
		cb(s)
	}
}

func (c *Conn) Close(ctx context.Context) error {
	c.stopOnce.Do(func() { close(c.stopCh) })
	c.mu.Lock()
	conn := c.conn
	c.conn = nil
	c.mu.Unlock()
	if conn != nil {
		_ = conn.Close(websocket.StatusNormalClosure, "close")
	}

	done := make(chan struct{})
	go func() {
		c.wg.Wait()
		close(done)
	}()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-done:
		c.setState(StateDisconnected)
		return nil
	}
}

func (c *Conn) isStopping() bool {
	select {
	case <-c.stopCh:
		return true
	default:
		return false
	}
}

func (c *Conn) buildHeaders() http.Header {
	hdr := http.Header{}
	if c.headers == nil {
		return hdr
	}
	for k, v := range c.headers() {
		if strings.TrimSpace(k) == "" || strings.TrimSpace(v) == "" {
			continue
		}
		hdr.Set(k, v)
	}
	return hdr
}
