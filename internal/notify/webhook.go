// Package notify posts game results to an external webhook.
package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/park285/cheese-relay/internal/events"
	"github.com/park285/cheese-relay/internal/msgcat"
	"github.com/valyala/fasthttp"
)

// HeaderProvider supplies extra request headers, e.g. an auth token.
type HeaderProvider func() map[string]string

// Payload is the JSON body of every webhook call.
type Payload struct {
	Event     string    `json:"event"`
	GameID    string    `json:"game_id"`
	Outcome   string    `json:"outcome,omitempty"`
	Method    string    `json:"method,omitempty"`
	Plies     uint64    `json:"plies"`
	FEN       string    `json:"fen"`
	White     string    `json:"white,omitempty"`
	Black     string    `json:"black,omitempty"`
	StartedAt time.Time `json:"started_at"`
	EndedAt   time.Time `json:"ended_at,omitempty"`
	Text      string    `json:"text,omitempty"`
}

// Webhook is an events.Sink that reports finished games. Starts and moves
// are ignored.
type Webhook struct {
	events.Nop

	url     string
	http    *fasthttp.Client
	headers HeaderProvider
	catalog *msgcat.Catalog

	defaultTimeout time.Duration
	retryMax       int
}

type Option func(*Webhook)

func WithTimeout(d time.Duration) Option {
	return func(w *Webhook) {
		if d > 0 {
			w.defaultTimeout = d
		}
	}
}

func WithRetry(max int) Option { return func(w *Webhook) { w.retryMax = max } }

func WithHeaderProvider(h HeaderProvider) Option { return func(w *Webhook) { w.headers = h } }

func WithCatalog(c *msgcat.Catalog) Option { return func(w *Webhook) { w.catalog = c } }

// WithDial replaces the dialer, mainly for in-memory tests.
func WithDial(d fasthttp.DialFunc) Option { return func(w *Webhook) { w.http.Dial = d } }

func NewWebhook(url string, opts ...Option) (*Webhook, error) {
	url = strings.TrimSpace(url)
	if url == "" {
		return nil, errors.New("webhook url required")
	}
	w := &Webhook{
		url:            url,
		http:           &fasthttp.Client{ReadTimeout: 10 * time.Second, WriteTimeout: 10 * time.Second, MaxConnsPerHost: 8},
		defaultTimeout: 10 * time.Second,
		retryMax:       3,
	}
	for _, o := range opts {
		o(w)
	}
	return w, nil
}

func (w *Webhook) GameFinished(ctx context.Context, ev events.FinishEvent) error {
	p := Payload{
		Event:     "game_finished",
		GameID:    ev.GameID,
		Outcome:   ev.Outcome,
		Method:    ev.Method,
		Plies:     ev.Seq,
		FEN:       ev.FEN,
		White:     ev.White,
		Black:     ev.Black,
		StartedAt: ev.StartedAt.UTC(),
		EndedAt:   ev.EndedAt.UTC(),
	}
	if w.catalog != nil {
		p.Text = w.catalog.RenderOr("notify.finished", map[string]any{
			"GameID":  ev.GameID,
			"Outcome": ev.Outcome,
			"Method":  strings.ToLower(ev.Method),
			"Plies":   ev.Seq,
		}, "")
	}
	return w.post(ctx, p)
}

func (w *Webhook) post(ctx context.Context, in any) error {
	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer func() {
		fasthttp.ReleaseRequest(req)
		fasthttp.ReleaseResponse(resp)
	}()

	req.Header.SetMethod(fasthttp.MethodPost)
	req.SetRequestURI(w.url)
	req.Header.SetContentType("application/json")
	if w.headers != nil {
		for k, v := range w.headers() {
			if strings.TrimSpace(k) != "" && strings.TrimSpace(v) != "" {
				req.Header.Set(k, v)
			}
		}
	}
	payload, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}
	req.SetBody(payload)

	attempts := w.retryMax
	if attempts <= 0 {
		attempts = 1
	}
	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		err := w.http.DoDeadline(req, resp, w.deadline(ctx))
		if err == nil {
			status := resp.StatusCode()
			if status >= 200 && status < 300 {
				return nil
			}
			err = fmt.Errorf("webhook status=%d body=%s", status, truncate(string(resp.Body()), 256))
			if !shouldRetryStatus(status) {
				return err
			}
		}
		lastErr = err
		if attempt == attempts {
			break
		}
		if serr := sleepWithContext(ctx, backoffDuration(attempt)); serr != nil {
			return lastErr
		}
	}
	return fmt.Errorf("webhook failed after %d attempts: %w", attempts, lastErr)
}

func (w *Webhook) deadline(ctx context.Context) time.Time {
	limit := time.Now().Add(w.defaultTimeout)
	if dl, ok := ctx.Deadline(); ok && dl.Before(limit) {
		return dl
	}
	return limit
}

func sleepWithContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func backoffDuration(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	if attempt > 6 {
		attempt = 6
	}
	return time.Duration(1<<uint(attempt-1)) * 100 * time.Millisecond
}

func shouldRetryStatus(code int) bool {
	switch code {
	case 429, 500, 502, 503, 504:
		return true
	}
	return false
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
