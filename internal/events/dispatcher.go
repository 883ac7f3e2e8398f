package events

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/park285/cheese-relay/internal/obslog"
	"go.uber.org/zap"
)

const (
	defaultQueueSize   = 256
	defaultSinkTimeout = 5 * time.Second
)

type namedSink struct {
	name string
	sink Sink
}

// Dispatcher fans events out to sinks in publish order on one goroutine.
// Publish never blocks; when the queue is full the event is dropped and
// counted.
type Dispatcher struct {
	sinks   []namedSink
	queue   chan any
	timeout time.Duration
	logger  *zap.Logger

	dropped atomic.Uint64
	once    sync.Once
	done    chan struct{}
}

type DispatcherOption func(*Dispatcher)

func WithQueueSize(n int) DispatcherOption {
	return func(d *Dispatcher) {
		if n > 0 {
			d.queue = make(chan any, n)
		}
	}
}

func WithSinkTimeout(t time.Duration) DispatcherOption {
	return func(d *Dispatcher) {
		if t > 0 {
			d.timeout = t
		}
	}
}

func WithLogger(l *zap.Logger) DispatcherOption {
	return func(d *Dispatcher) {
		if l != nil {
			d.logger = l
		}
	}
}

func NewDispatcher(opts ...DispatcherOption) *Dispatcher {
	d := &Dispatcher{
		queue:   make(chan any, defaultQueueSize),
		timeout: defaultSinkTimeout,
		logger:  obslog.L(),
		done:    make(chan struct{}),
	}
	for _, o := range opts {
		o(d)
	}
	return d
}

// Add registers a sink under name. Call before Run.
func (d *Dispatcher) Add(name string, s Sink) {
	if s == nil {
		return
	}
	d.sinks = append(d.sinks, namedSink{name: name, sink: s})
}

func (d *Dispatcher) Len() int { return len(d.sinks) }

func (d *Dispatcher) Dropped() uint64 { return d.dropped.Load() }

// Publish enqueues ev (StartEvent, MoveEvent or FinishEvent).
func (d *Dispatcher) Publish(ev any) {
	if d == nil || len(d.sinks) == 0 {
		return
	}
	select {
	case d.queue <- ev:
	default:
		n := d.dropped.Add(1)
		d.logger.Warn("sink_event_dropped", zap.String("event", fmt.Sprintf("%T", ev)), zap.Uint64("dropped", n))
	}
}

// Run drains the queue until ctx is done, then flushes what is left.
func (d *Dispatcher) Run(ctx context.Context) {
	defer close(d.done)
	for {
		select {
		case ev := <-d.queue:
			d.deliver(ev)
		case <-ctx.Done():
			for {
				select {
				case ev := <-d.queue:
					d.deliver(ev)
				default:
					return
				}
			}
		}
	}
}

// Done is closed when Run returns.
func (d *Dispatcher) Done() <-chan struct{} { return d.done }

func (d *Dispatcher) deliver(ev any) {
	for _, ns := range d.sinks {
		ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
		var err error
		switch e := ev.(type) {
		case StartEvent:
			err = ns.sink.GameStarted(ctx, e)
		case MoveEvent:
			err = ns.sink.MoveAccepted(ctx, e)
		case FinishEvent:
			err = ns.sink.GameFinished(ctx, e)
		default:
			err = fmt.Errorf("unknown event %T", ev)
		}
		cancel()
		if err != nil {
			d.logger.Warn("sink_failed",
				zap.String("sink", ns.name),
				zap.String("event", fmt.Sprintf("%T", ev)),
				zap.Error(err),
			)
		}
	}
}
