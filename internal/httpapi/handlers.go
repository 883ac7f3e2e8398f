package httpapi

import (
	"crypto/subtle"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/park285/cheese-relay/internal/relay"
	"github.com/park285/cheese-relay/internal/render"
	"github.com/park285/cheese-relay/internal/rules"
	"go.uber.org/zap"
)

// StateView is the JSON body of GET /state and POST /admin/reset.
type StateView struct {
	GameID      string    `json:"game_id"`
	Position    string    `json:"position"`
	Turn        string    `json:"turn"`
	Seq         uint64    `json:"seq"`
	White       bool      `json:"white"`
	Black       bool      `json:"black"`
	Spectators  int       `json:"spectators"`
	Connections int       `json:"connections"`
	Outcome     string    `json:"outcome,omitempty"`
	Method      string    `json:"method,omitempty"`
	LastMove    string    `json:"last_move,omitempty"`
	StartedAt   time.Time `json:"started_at"`
}

func toStateView(v relay.View) StateView {
	out := StateView{
		GameID:      v.GameID,
		Position:    v.Position.FEN(),
		Turn:        string(v.Position.Turn()),
		Seq:         v.Seq,
		White:       v.White != "",
		Black:       v.Black != "",
		Spectators:  v.Spectators,
		Connections: v.Connections,
		Outcome:     v.Position.Outcome(),
		Method:      v.Position.Method(),
		StartedAt:   v.StartedAt,
	}
	if v.LastMove != nil {
		out.LastMove = v.LastMove.UCI
	}
	return out
}

func Healthz(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
}

func (a *api) state(w http.ResponseWriter, r *http.Request) {
	v, err := a.Relay.Snapshot(r.Context())
	if err != nil {
		a.relayError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toStateView(v))
}

func (a *api) board(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	opts := render.Options{}
	switch strings.ToLower(q.Get("orient")) {
	case "", "white":
		opts.Orientation = rules.White
	case "black":
		opts.Orientation = rules.Black
	default:
		http.Error(w, "orient must be white or black", http.StatusBadRequest)
		return
	}
	if s := q.Get("size"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < 64 || n > 2048 {
			http.Error(w, "size must be between 64 and 2048", http.StatusBadRequest)
			return
		}
		opts.Size = n
	}

	v, err := a.Relay.Snapshot(r.Context())
	if err != nil {
		a.relayError(w, err)
		return
	}
	if v.LastMove != nil {
		mv := v.LastMove.Move
		opts.LastMove = &mv
	}
	png, err := a.Renderer.PNG(r.Context(), v.Position.FEN(), opts)
	if err != nil {
		a.Logger.Error("board_render_error", zap.String("game_id", v.GameID), zap.Error(err))
		http.Error(w, "render failed", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(png)
}

func (a *api) reset(w http.ResponseWriter, r *http.Request) {
	v, err := a.Relay.Reset(r.Context())
	if err != nil {
		a.relayError(w, err)
		return
	}
	a.Logger.Info("admin_reset", zap.String("game_id", v.GameID), zap.String("remote", r.RemoteAddr))
	writeJSON(w, http.StatusOK, toStateView(v))
}

func (a *api) recentGames(w http.ResponseWriter, r *http.Request) {
	n := 20
	if s := r.URL.Query().Get("limit"); s != "" {
		if v, err := strconv.Atoi(s); err == nil && v > 0 {
			n = v
		}
	}
	ids, err := a.Journal.Recent(r.Context(), n)
	if err != nil {
		a.Logger.Warn("journal_read_error", zap.Error(err))
		http.Error(w, "journal unavailable", http.StatusBadGateway)
		return
	}
	if ids == nil {
		ids = []string{}
	}
	writeJSON(w, http.StatusOK, struct {
		Games []string `json:"games"`
	}{Games: ids})
}

func (a *api) gameMoves(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "gameID")
	moves, err := a.Journal.Moves(r.Context(), id)
	if err != nil {
		a.Logger.Warn("journal_read_error", zap.String("game_id", id), zap.Error(err))
		http.Error(w, "journal unavailable", http.StatusBadGateway)
		return
	}
	if len(moves) == 0 {
		http.Error(w, "game not found", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, moves)
}

func (a *api) requireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
		if !ok || subtle.ConstantTimeCompare([]byte(strings.TrimSpace(token)), []byte(a.AdminToken)) != 1 {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (a *api) relayError(w http.ResponseWriter, err error) {
	if errors.Is(err, relay.ErrClosed) {
		http.Error(w, "relay stopped", http.StatusServiceUnavailable)
		return
	}
	http.Error(w, err.Error(), http.StatusGatewayTimeout)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
