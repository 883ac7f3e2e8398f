// Package httpapi exposes the relay over HTTP: the WebSocket endpoint plus a
// few read-only views and an admin reset.
package httpapi

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/park285/cheese-relay/internal/journal"
	"github.com/park285/cheese-relay/internal/obslog"
	"github.com/park285/cheese-relay/internal/relay"
	"github.com/park285/cheese-relay/internal/render"
	"go.uber.org/zap"
)

// MoveLog is the read side of the journal.
type MoveLog interface {
	Moves(ctx context.Context, gameID string) ([]journal.MoveRecord, error)
	Recent(ctx context.Context, n int) ([]string, error)
}

type Deps struct {
	Relay      *relay.Relay
	WS         http.Handler
	Renderer   *render.Renderer
	Journal    MoveLog // optional
	AdminToken string  // empty disables /admin
	Logger     *zap.Logger
}

type api struct {
	Deps
}

func SetupRoutes(d Deps) http.Handler {
	if d.Logger == nil {
		d.Logger = obslog.L()
	}
	if d.Renderer == nil {
		d.Renderer = render.New()
	}
	a := &api{Deps: d}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(a.accessLog)

	r.Get("/healthz", Healthz)
	if d.WS != nil {
		r.Method(http.MethodGet, "/ws", d.WS)
	}

	r.Group(func(r chi.Router) {
		r.Use(middleware.Timeout(10 * time.Second))
		r.Get("/state", a.state)
		r.Get("/board.png", a.board)
		if d.Journal != nil {
			r.Get("/games", a.recentGames)
			r.Get("/games/{gameID}/moves", a.gameMoves)
		}
		if d.AdminToken != "" {
			r.With(a.requireAdmin).Post("/admin/reset", a.reset)
		}
	})
	return r
}

func (a *api) accessLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		a.Logger.Debug("http_request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Duration("took", time.Since(start)),
			zap.String("request_id", middleware.GetReqID(r.Context())),
		)
	})
}
