package events

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/uilm/uilm-service/internal/safego"
	"github.com/uilm/uilm-service/internal/telemetry"
)

// MemoryOptions configures a MemoryBus. Zero values select the defaults.
type MemoryOptions struct {
	Buffer        int           // queue capacity, default 1024
	Workers       int           // concurrent deliveries, default 4
	MaxDeliveries int           // attempts before dead-lettering, default 5
	RetryDelay    time.Duration // wait before a failed delivery is re-queued, default 1s
}

// MemoryBus is an in-process Bus for single-binary deployments and tests.
// Failed deliveries are re-queued after RetryDelay until MaxDeliveries is
// reached, then kept in the dead-letter list. Nothing survives a restart.
type MemoryBus struct {
	opts  MemoryOptions
	queue chan Envelope

	mu       sync.Mutex
	handlers handlerSet
	dead     []Envelope
	running  bool
	closed   bool
}

// NewMemoryBus creates an in-process bus.
func NewMemoryBus(opts MemoryOptions) *MemoryBus {
	if opts.Buffer <= 0 {
		opts.Buffer = 1024
	}
	if opts.Workers <= 0 {
		opts.Workers = 4
	}
	if opts.MaxDeliveries <= 0 {
		opts.MaxDeliveries = 5
	}
	if opts.RetryDelay <= 0 {
		opts.RetryDelay = time.Second
	}
	return &MemoryBus{
		opts:     opts,
		queue:    make(chan Envelope, opts.Buffer),
		handlers: handlerSet{},
	}
}

var errBusClosed = errors.New("event bus closed")

// Publish enqueues ev. It blocks while the queue is full.
func (b *MemoryBus) Publish(ctx context.Context, ev Event) error {
	b.mu.Lock()
	closed := b.closed
	b.mu.Unlock()
	if closed {
		telemetry.EventsPublishedTotal.WithLabelValues(string(ev.EventType()), "error").Inc()
		return errBusClosed
	}

	env, err := NewEnvelope(ev)
	if err != nil {
		telemetry.EventsPublishedTotal.WithLabelValues(string(ev.EventType()), "error").Inc()
		return err
	}

	select {
	case b.queue <- env:
		telemetry.EventsPublishedTotal.WithLabelValues(string(env.Type), "ok").Inc()
		return nil
	case <-ctx.Done():
		telemetry.EventsPublishedTotal.WithLabelValues(string(env.Type), "error").Inc()
		return ctx.Err()
	}
}

// Subscribe registers the handler for t.
func (b *MemoryBus) Subscribe(t Type, h Handler) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.running {
		return errors.New("subscribe after Run")
	}
	return b.handlers.add(t, h)
}

// Run delivers queued events until ctx is cancelled. Deliveries in flight when
// ctx ends finish before Run returns.
func (b *MemoryBus) Run(ctx context.Context) error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return errBusClosed
	}
	b.running = true
	b.mu.Unlock()

	var wg sync.WaitGroup
	for i := 0; i < b.opts.Workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-ctx.Done():
					return
				case env := <-b.queue:
					b.deliver(ctx, env)
				}
			}
		}()
	}
	wg.Wait()
	return nil
}

func (b *MemoryBus) deliver(ctx context.Context, env Envelope) {
	b.mu.Lock()
	h, ok := b.handlers[env.Type]
	b.mu.Unlock()
	if !ok {
		slog.Warn("event bus: no handler registered, dropping event", "type", env.Type, "id", env.ID)
		b.deadLetter(env)
		return
	}

	env.Attempt++
	err := safego.Call(func() error { return h(ctx, env) })
	if err == nil {
		telemetry.EventsConsumedTotal.WithLabelValues(string(env.Type), "ack").Inc()
		return
	}

	if errors.Is(err, ErrMalformed) || env.Attempt >= b.opts.MaxDeliveries {
		slog.Error("event bus: giving up on event", "type", env.Type, "id", env.ID, "attempt", env.Attempt, "error", err)
		b.deadLetter(env)
		return
	}

	slog.Warn("event bus: delivery failed, will redeliver", "type", env.Type, "id", env.ID, "attempt", env.Attempt, "error", err)
	telemetry.EventsConsumedTotal.WithLabelValues(string(env.Type), "retry").Inc()
	safego.Go(func() {
		timer := time.NewTimer(b.opts.RetryDelay)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
		}
		select {
		case b.queue <- env:
		case <-ctx.Done():
		}
	})
}

func (b *MemoryBus) deadLetter(env Envelope) {
	telemetry.EventsConsumedTotal.WithLabelValues(string(env.Type), "dead").Inc()
	b.mu.Lock()
	b.dead = append(b.dead, env)
	b.mu.Unlock()
}

// DeadLetters returns a copy of the events that exhausted their deliveries.
func (b *MemoryBus) DeadLetters() []Envelope {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]Envelope(nil), b.dead...)
}

// Close rejects further publishes. Queued events are discarded.
func (b *MemoryBus) Close() error {
	b.mu.Lock()
	b.closed = true
	b.mu.Unlock()
	return nil
}
