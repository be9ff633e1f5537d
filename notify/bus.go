/*
Package notify delivers ledger events to subscribers off the request path.

PURPOSE:
  ledger.Service publishes events after a command commits. Subscribers
  (member statements, creditor notices, asset register sync) may be slow
  or flaky, so the Bus queues events on a buffered channel and a small
  worker pool hands them to subscribers. A failing subscriber is retried
  with linear backoff and then logged; it never affects the command that
  produced the event. Publish never blocks: when the buffer is full the
  event is dropped and counted in Stats.Failed.

USAGE:
  bus := notify.NewBus(256, log)
  bus.Subscribe("liability.settled", notifyCreditor)
  bus.Start(ctx, 4)
  defer bus.Stop(shutdownCtx)

  svc := ledger.NewService(st, org, ledger.WithPublisher(bus))

ORDERING:
  Events that made it into the buffer are delivered at least once per
  matching subscriber, in no particular order across workers.

SEE ALSO:
  - ledger/events.go: Event types and the Publisher interface
*/
package notify

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"github.com/warp/ledger-engine/ledger"
)

var (
	// ErrClosed is returned by Publish after Stop.
	ErrClosed = errors.New("notify: bus is closed")
	// ErrBufferFull is returned by Publish when the event was dropped.
	ErrBufferFull = errors.New("notify: buffer full, event dropped")
)

// Handler consumes one event. A returned error triggers a retry.
type Handler func(ctx context.Context, e ledger.Event) error

type subscription struct {
	name    string // "" matches every event
	handler Handler
}

// Stats counts deliveries since the bus was created.
type Stats struct {
	Published int64
	Delivered int64
	Failed    int64
}

// Bus is an in-process asynchronous ledger.Publisher.
type Bus struct {
	events    chan ledger.Event
	closeChan chan struct{}
	wg        sync.WaitGroup
	mu        sync.RWMutex // guards closed
	closed    bool
	subMu     sync.RWMutex
	subs      []subscription
	log       zerolog.Logger

	// MaxRetries is how often a failing handler is retried per event.
	MaxRetries int
	// Backoff is multiplied by the attempt number between retries.
	Backoff time.Duration

	published, delivered, failed atomic.Int64
}

// NewBus creates a bus that buffers up to bufferSize undelivered events.
func NewBus(bufferSize int, log zerolog.Logger) *Bus {
	return &Bus{
		events:     make(chan ledger.Event, bufferSize),
		closeChan:  make(chan struct{}),
		log:        log,
		MaxRetries: 3,
		Backoff:    100 * time.Millisecond,
	}
}

// Subscribe registers h for events with the given name, or for every
// event when name is empty.
func (b *Bus) Subscribe(name string, h Handler) {
	b.subMu.Lock()
	defer b.subMu.Unlock()
	b.subs = append(b.subs, subscription{name: name, handler: h})
}

// Publish implements ledger.Publisher. It never waits: when the buffer
// is full the event is dropped, counted as failed and ErrBufferFull is
// returned.
func (b *Bus) Publish(_ context.Context, e ledger.Event) error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return ErrClosed
	}

	select {
	case b.events <- e:
		b.published.Add(1)
		return nil
	default:
		b.failed.Add(1)
		b.log.Warn().Str("event", e.EventName()).Int("buffer", cap(b.events)).Msg("event dropped, buffer full")
		return ErrBufferFull
	}
}

// Start launches the delivery workers.
func (b *Bus) Start(ctx context.Context, workers int) error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return ErrClosed
	}
	if workers < 1 {
		workers = 1
	}
	for i := 0; i < workers; i++ {
		b.wg.Add(1)
		go b.worker(ctx)
	}
	return nil
}

func (b *Bus) worker(ctx context.Context) {
	defer b.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case e := <-b.events:
			b.deliver(ctx, e)
		case <-b.closeChan:
			// Drain what was queued before Stop.
			for {
				select {
				case e := <-b.events:
					b.deliver(ctx, e)
				default:
					return
				}
			}
		}
	}
}

func (b *Bus) deliver(ctx context.Context, e ledger.Event) {
	b.subMu.RLock()
	subs := make([]subscription, len(b.subs))
	copy(subs, b.subs)
	b.subMu.RUnlock()

	for _, s := range subs {
		if s.name != "" && s.name != e.EventName() {
			continue
		}
		if err := b.call(ctx, s.handler, e); err != nil {
			b.failed.Add(1)
			b.log.Warn().Err(err).Str("event", e.EventName()).Msg("event delivery failed")
			continue
		}
		b.delivered.Add(1)
	}
}

func (b *Bus) call(ctx context.Context, h Handler, e ledger.Event) error {
	var err error
	for attempt := 0; attempt <= b.MaxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-time.After(time.Duration(attempt) * b.Backoff):
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		if err = h(ctx, e); err == nil {
			return nil
		}
	}
	return err
}

// Stop refuses new events, delivers the queued ones and waits for the
// workers, or until ctx is done.
func (b *Bus) Stop(ctx context.Context) error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	close(b.closeChan)
	b.mu.Unlock()

	done := make(chan struct{})
	go func() {
		b.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Stats returns delivery counters.
func (b *Bus) Stats() Stats {
	return Stats{
		Published: b.published.Load(),
		Delivered: b.delivered.Load(),
		Failed:    b.failed.Load(),
	}
}

var _ ledger.Publisher = (*Bus)(nil)
