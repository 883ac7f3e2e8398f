package relay

import (
	"context"

	"github.com/park285/cheese-relay/internal/domain"
	"github.com/park285/cheese-relay/pkg/protocol"
)

// Join registers connection id with outbox out and returns its role. The
// role frame and a state frame are queued on out before Join returns, so out
// needs room for at least three frames. The relay closes out on Leave or
// shutdown.
func (r *Relay) Join(ctx context.Context, id string, out chan<- protocol.Frame) (domain.Role, error) {
	reply := make(chan joinReply, 1)
	if err := r.post(ctx, joinMsg{id: id, out: out, reply: reply}); err != nil {
		return "", err
	}
	select {
	case rep := <-reply:
		return rep.role, rep.err
	case <-ctx.Done():
		return "", ctx.Err()
	case <-r.done:
		return "", ErrClosed
	}
}

// Leave releases id's role and closes its outbox. Unknown ids are ignored.
func (r *Relay) Leave(id string) {
	select {
	case r.inbox <- leaveMsg{id: id}:
	case <-r.done:
	}
}

// Submit offers a move from id and waits for the verdict. A nil error means
// the move was accepted and broadcast. Rejections carry a domain.Reason.
func (r *Relay) Submit(ctx context.Context, id string, intent protocol.MoveIntent) error {
	reply := make(chan error, 1)
	if err := r.post(ctx, submitMsg{id: id, intent: intent, reply: reply}); err != nil {
		return err
	}
	return r.await(ctx, reply)
}

// Resync re-sends the current state to id alone.
func (r *Relay) Resync(ctx context.Context, id string) error {
	reply := make(chan error, 1)
	if err := r.post(ctx, syncMsg{id: id, reply: reply}); err != nil {
		return err
	}
	return r.await(ctx, reply)
}

// Refuse reports a frame that never reached the arbiter, such as one that
// could not be decoded, back to id. It is a no-op when rejection notices are
// off.
func (r *Relay) Refuse(ctx context.Context, id string, err error) error {
	return r.post(ctx, refuseMsg{id: id, err: err})
}

func (r *Relay) Snapshot(ctx context.Context) (View, error) {
	reply := make(chan View, 1)
	if err := r.post(ctx, viewMsg{reply: reply}); err != nil {
		return View{}, err
	}
	return r.awaitView(ctx, reply)
}

// Reset starts a new game at the initial position and broadcasts it. Seats
// are kept.
func (r *Relay) Reset(ctx context.Context) (View, error) {
	reply := make(chan View, 1)
	if err := r.post(ctx, resetMsg{reply: reply}); err != nil {
		return View{}, err
	}
	return r.awaitView(ctx, reply)
}

// Close stops the loop and waits for it to finish.
func (r *Relay) Close() {
	r.cancel()
	<-r.done
}

func (r *Relay) Done() <-chan struct{} { return r.done }

func (r *Relay) post(ctx context.Context, m msg) error {
	select {
	case <-r.done:
		return ErrClosed
	default:
	}
	select {
	case r.inbox <- m:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-r.done:
		return ErrClosed
	}
}

func (r *Relay) await(ctx context.Context, reply <-chan error) error {
	select {
	case err := <-reply:
		return err
	case <-ctx.Done():
		return ctx.Err()
	case <-r.done:
		return ErrClosed
	}
}

func (r *Relay) awaitView(ctx context.Context, reply <-chan View) (View, error) {
	select {
	case v := <-reply:
		return v, nil
	case <-ctx.Done():
		return View{}, ctx.Err()
	case <-r.done:
		return View{}, ErrClosed
	}
}
