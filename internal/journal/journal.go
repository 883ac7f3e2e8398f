// Package journal mirrors game events into Redis: a per-game move list, a
// game meta record, a recent-games index and a pub/sub channel that other
// processes can tail.
package journal

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/park285/cheese-relay/internal/events"
	"github.com/redis/go-redis/v9"
)

const (
	ttlGame      = 24 * time.Hour
	recentLimit  = 50
	EventChannel = "relay:events"
)

// MoveRecord is one entry of a game's move list.
type MoveRecord struct {
	Seq  uint64    `json:"seq"`
	Seat string    `json:"seat"`
	UCI  string    `json:"uci"`
	SAN  string    `json:"san"`
	FEN  string    `json:"fen"`
	At   time.Time `json:"at"`
}

// GameMeta is the per-game summary record.
type GameMeta struct {
	GameID    string     `json:"game_id"`
	StartFEN  string     `json:"start_fen"`
	StartedAt time.Time  `json:"started_at"`
	Plies     uint64     `json:"plies"`
	Outcome   string     `json:"outcome,omitempty"`
	Method    string     `json:"method,omitempty"`
	EndedAt   *time.Time `json:"ended_at,omitempty"`
}

// Notice is what gets published on EventChannel.
type Notice struct {
	Type   string `json:"type"`
	GameID string `json:"game_id"`
	Seq    uint64 `json:"seq,omitempty"`
	UCI    string `json:"uci,omitempty"`
	SAN    string `json:"san,omitempty"`
	FEN    string `json:"fen,omitempty"`
	Result string `json:"result,omitempty"`
}

type Journal struct {
	rdb *redis.Client
}

func New(rdb *redis.Client) *Journal { return &Journal{rdb: rdb} }

// Open connects to redisURL and checks the connection.
func Open(ctx context.Context, redisURL string) (*Journal, error) {
	if strings.TrimSpace(redisURL) == "" {
		return nil, fmt.Errorf("REDIS_URL required for journal")
	}
	opts, err := parseRedisURL(redisURL)
	if err != nil {
		return nil, err
	}
	rdb := redis.NewClient(opts)
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return New(rdb), nil
}

func (j *Journal) Close() error {
	if j == nil || j.rdb == nil {
		return nil
	}
	return j.rdb.Close()
}

func keyGame(id string) string  { return "relay:game:" + strings.TrimSpace(id) }
func keyMoves(id string) string { return keyGame(id) + ":moves" }
func keyRecent() string         { return "relay:games:recent" }

func (j *Journal) GameStarted(ctx context.Context, ev events.StartEvent) error {
	meta := GameMeta{GameID: ev.GameID, StartFEN: ev.FEN, StartedAt: ev.StartedAt.UTC()}
	raw, err := json.Marshal(meta)
	if err != nil {
		return err
	}
	_, err = j.rdb.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.Set(ctx, keyGame(ev.GameID), raw, ttlGame)
		p.LPush(ctx, keyRecent(), ev.GameID)
		p.LTrim(ctx, keyRecent(), 0, recentLimit-1)
		return nil
	})
	if err != nil {
		return fmt.Errorf("journal start %s: %w", ev.GameID, err)
	}
	return j.publish(ctx, Notice{Type: "started", GameID: ev.GameID, FEN: ev.FEN})
}

func (j *Journal) MoveAccepted(ctx context.Context, ev events.MoveEvent) error {
	rec := MoveRecord{Seq: ev.Seq, Seat: string(ev.Seat), UCI: ev.UCI, SAN: ev.SAN, FEN: ev.FEN, At: ev.At.UTC()}
	raw, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	_, err = j.rdb.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.RPush(ctx, keyMoves(ev.GameID), raw)
		p.Expire(ctx, keyMoves(ev.GameID), ttlGame)
		return nil
	})
	if err != nil {
		return fmt.Errorf("journal move %s#%d: %w", ev.GameID, ev.Seq, err)
	}
	return j.publish(ctx, Notice{Type: "move", GameID: ev.GameID, Seq: ev.Seq, UCI: ev.UCI, SAN: ev.SAN, FEN: ev.FEN})
}

func (j *Journal) GameFinished(ctx context.Context, ev events.FinishEvent) error {
	meta, err := j.Meta(ctx, ev.GameID)
	if err != nil {
		return err
	}
	if meta == nil {
		meta = &GameMeta{GameID: ev.GameID, StartedAt: ev.StartedAt.UTC()}
	}
	ended := ev.EndedAt.UTC()
	meta.Plies = ev.Seq
	meta.Outcome = ev.Outcome
	meta.Method = ev.Method
	meta.EndedAt = &ended
	raw, err := json.Marshal(meta)
	if err != nil {
		return err
	}
	if err := j.rdb.Set(ctx, keyGame(ev.GameID), raw, ttlGame).Err(); err != nil {
		return fmt.Errorf("journal finish %s: %w", ev.GameID, err)
	}
	return j.publish(ctx, Notice{Type: "finished", GameID: ev.GameID, Seq: ev.Seq, FEN: ev.FEN, Result: ev.Outcome})
}

func (j *Journal) publish(ctx context.Context, n Notice) error {
	raw, err := json.Marshal(n)
	if err != nil {
		return err
	}
	return j.rdb.Publish(ctx, EventChannel, raw).Err()
}

// Meta returns nil, nil for unknown or expired games.
func (j *Journal) Meta(ctx context.Context, gameID string) (*GameMeta, error) {
	raw, err := j.rdb.Get(ctx, keyGame(gameID)).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var m GameMeta
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, err
	}
	return &m, nil
}

func (j *Journal) Moves(ctx context.Context, gameID string) ([]MoveRecord, error) {
	raws, err := j.rdb.LRange(ctx, keyMoves(gameID), 0, -1).Result()
	if err != nil {
		return nil, err
	}
	out := make([]MoveRecord, 0, len(raws))
	for _, raw := range raws {
		var rec MoveRecord
		if err := json.Unmarshal([]byte(raw), &rec); err != nil {
			return nil, fmt.Errorf("decode move record: %w", err)
		}
		out = append(out, rec)
	}
	return out, nil
}

// Recent lists game ids, newest first.
func (j *Journal) Recent(ctx context.Context, n int) ([]string, error) {
	if n <= 0 || n > recentLimit {
		n = recentLimit
	}
	return j.rdb.LRange(ctx, keyRecent(), 0, int64(n-1)).Result()
}

// Subscribe tails EventChannel. Close the returned PubSub when done.
func (j *Journal) Subscribe(ctx context.Context) *redis.PubSub {
	return j.rdb.Subscribe(ctx, EventChannel)
}

func parseRedisURL(raw string) (*redis.Options, error) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return nil, err
	}
	if u.Scheme != "redis" && u.Scheme != "rediss" {
		return nil, fmt.Errorf("unsupported scheme: %s", u.Scheme)
	}
	db := 0
	if p := strings.TrimPrefix(u.Path, "/"); p != "" {
		n, err := strconv.Atoi(p)
		if err != nil {
			return nil, fmt.Errorf("bad redis db %q", p)
		}
		db = n
	}
	pass, _ := u.User.Password()
	opts := &redis.Options{Addr: u.Host, Username: u.User.Username(), Password: pass, DB: db}
	if u.Scheme == "rediss" {
		opts.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12, ServerName: u.Hostname()}
	}
	return opts, nil
}
