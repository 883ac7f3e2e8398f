package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"github.com/park285/cheese-relay/internal/relayclient"
	"github.com/park285/cheese-relay/pkg/protocol"
)

// relaycheck is a smoke test against a running relay: it checks the REST
// endpoints, joins over WebSocket, prints frames for a short window and can
// submit one move (RELAY_CHECK_MOVE=e2e4).
func main() {
	baseURL := os.Getenv("RELAY_HTTP_URL")
	wsURL := os.Getenv("RELAY_WS_URL")
	move := strings.TrimSpace(os.Getenv("RELAY_CHECK_MOVE"))

	if baseURL == "" {
		log.Fatal("RELAY_HTTP_URL is required")
	}

	client := relayclient.NewClient(baseURL, relayclient.WithTimeout(8*time.Second))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Health(ctx); err != nil {
		log.Printf("/healthz error: %v", err)
	} else {
		log.Printf("/healthz ok")
	}
	st, err := client.State(ctx)
	if err != nil {
		log.Printf("/state error: %v", err)
	} else {
		log.Printf("/state ok: seq=%d turn=%s white=%t black=%t spectators=%d fen=%q",
			st.Seq, st.Turn, st.White, st.Black, st.Spectators, st.Position)
	}

	if wsURL == "" {
		wsURL = "ws" + strings.TrimPrefix(strings.TrimRight(baseURL, "/"), "http") + "/ws"
	}

	conn := relayclient.NewConn(wsURL, 0)
	conn.OnStateChange(func(s relayclient.ConnState) {
		log.Printf("WS state: %s", s)
	})
	conn.OnFrame(func(f protocol.Envelope) {
		switch f.Type {
		case protocol.TypeRole:
			fmt.Printf("role=%s\n", f.Role)
		case protocol.TypeState:
			fmt.Printf("state seq=%d turn=%s fen=%q\n", f.Seq, f.Turn, f.Position)
		case protocol.TypeMove:
			fmt.Printf("move seq=%d %s%s%s san=%s\n", f.Seq, f.From, f.To, f.Promotion, f.SAN)
		case protocol.TypeRejected:
			fmt.Printf("rejected reason=%s message=%q\n", f.Reason, f.Message)
		case protocol.TypeOver:
			fmt.Printf("over outcome=%s method=%s\n", f.Outcome, f.Method)
		default:
			fmt.Printf("frame type=%s\n", f.Type)
		}
	})

	cctx, ccancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer ccancel()
	if err := conn.Connect(cctx); err != nil {
		log.Printf("WS connect error: %v", err)
		return
	}

	if len(move) >= 4 {
		in := protocol.MoveIntent{From: move[:2], To: move[2:4], Promotion: move[4:]}
		if err := conn.Move(cctx, in); err != nil {
			log.Printf("move send error: %v", err)
		}
	}

	t := time.NewTimer(5 * time.Second)
	<-t.C

	_ = conn.Close(context.Background())
}
