package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/uilm/uilm-service/internal/safego"
	"github.com/uilm/uilm-service/internal/telemetry"
)

const envelopeField = "envelope"

// RedisOptions configures a RedisBus. Zero values select the defaults.
type RedisOptions struct {
	StreamPrefix  string        // default "uilm:events:"
	Group         string        // consumer group, default "uilm-workers"
	Consumer      string        // consumer name, unique per process; default "consumer-<unix nanos>"
	MaxLen        int64         // approximate stream cap, default 100000
	Block         time.Duration // XREADGROUP block time, default 5s
	ClaimIdle     time.Duration // visibility timeout before another consumer may claim a message, default 1m
	MaxDeliveries int64         // deliveries before dead-lettering, default 5
	BatchSize     int64         // messages per read, default 10
}

// RedisBus carries events over Redis Streams. Each event type has its own stream
// read by one consumer group. Acknowledged messages are XACKed; failed ones stay
// pending and are reclaimed with XAUTOCLAIM once idle longer than ClaimIdle.
// After MaxDeliveries the message is copied to "<stream>:dead" and acked.
type RedisBus struct {
	client redis.UniversalClient
	opts   RedisOptions

	mu       sync.Mutex
	handlers handlerSet
	running  bool
}

// NewRedisBus creates a bus over client. The caller owns the client; Close does
// not close it.
func NewRedisBus(client redis.UniversalClient, opts RedisOptions) *RedisBus {
	if opts.StreamPrefix == "" {
		opts.StreamPrefix = "uilm:events:"
	}
	if opts.Group == "" {
		opts.Group = "uilm-workers"
	}
	if opts.Consumer == "" {
		opts.Consumer = fmt.Sprintf("consumer-%d", time.Now().UnixNano())
	}
	if opts.MaxLen <= 0 {
		opts.MaxLen = 100000
	}
	if opts.Block <= 0 {
		opts.Block = 5 * time.Second
	}
	if opts.ClaimIdle <= 0 {
		opts.ClaimIdle = time.Minute
	}
	if opts.MaxDeliveries <= 0 {
		opts.MaxDeliveries = 5
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = 10
	}
	return &RedisBus{client: client, opts: opts, handlers: handlerSet{}}
}

// StreamName returns the stream key used for t.
func (b *RedisBus) StreamName(t Type) string {
	return b.opts.StreamPrefix + string(t)
}

// Publish appends ev to its stream.
func (b *RedisBus) Publish(ctx context.Context, ev Event) error {
	env, err := NewEnvelope(ev)
	if err != nil {
		telemetry.EventsPublishedTotal.WithLabelValues(string(ev.EventType()), "error").Inc()
		return err
	}
	data, err := json.Marshal(env)
	if err != nil {
		telemetry.EventsPublishedTotal.WithLabelValues(string(env.Type), "error").Inc()
		return fmt.Errorf("failed to encode envelope: %w", err)
	}

	err = b.client.XAdd(ctx, &redis.XAddArgs{
		Stream: b.StreamName(env.Type),
		MaxLen: b.opts.MaxLen,
		Approx: true,
		Values: map[string]interface{}{envelopeField: string(data)},
	}).Err()
	if err != nil {
		telemetry.EventsPublishedTotal.WithLabelValues(string(env.Type), "error").Inc()
		return fmt.Errorf("failed to publish %s: %w", env.Type, err)
	}
	telemetry.EventsPublishedTotal.WithLabelValues(string(env.Type), "ok").Inc()
	return nil
}

// Subscribe registers the handler for t.
func (b *RedisBus) Subscribe(t Type, h Handler) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.running {
		return errors.New("subscribe after Run")
	}
	return b.handlers.add(t, h)
}

// Run creates the consumer groups and consumes every subscribed stream until
// ctx is cancelled.
func (b *RedisBus) Run(ctx context.Context) error {
	b.mu.Lock()
	b.running = true
	handlers := make(map[Type]Handler, len(b.handlers))
	for t, h := range b.handlers {
		handlers[t] = h
	}
	b.mu.Unlock()

	for t := range handlers {
		if err := b.ensureGroup(ctx, b.StreamName(t)); err != nil {
			return err
		}
	}

	var wg sync.WaitGroup
	for t, h := range handlers {
		wg.Add(1)
		go func(t Type, h Handler) {
			defer wg.Done()
			b.consume(ctx, t, h)
		}(t, h)
	}
	wg.Wait()
	return nil
}

func (b *RedisBus) ensureGroup(ctx context.Context, stream string) error {
	err := b.client.XGroupCreateMkStream(ctx, stream, b.opts.Group, "0").Err()
	if err != nil && !isBusyGroup(err) {
		return fmt.Errorf("failed to create consumer group on %s: %w", stream, err)
	}
	return nil
}

func isBusyGroup(err error) bool {
	return err != nil && strings.HasPrefix(err.Error(), "BUSYGROUP")
}

func (b *RedisBus) consume(ctx context.Context, t Type, h Handler) {
	stream := b.StreamName(t)
	slog.Info("event bus: consuming", "stream", stream, "group", b.opts.Group, "consumer", b.opts.Consumer)

	lastClaim := time.Time{}
	for ctx.Err() == nil {
		if time.Since(lastClaim) >= b.opts.ClaimIdle/2 {
			b.reclaim(ctx, stream, h)
			lastClaim = time.Now()
		}

		streams, err := b.client.XReadGroup(ctx, &redis.XReadGroupArgs{
			Group:    b.opts.Group,
			Consumer: b.opts.Consumer,
			Streams:  []string{stream, ">"},
			Count:    b.opts.BatchSize,
			Block:    b.opts.Block,
		}).Result()
		if errors.Is(err, redis.Nil) {
			continue
		}
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			slog.Error("event bus: read failed", "stream", stream, "error", err)
			sleepCtx(ctx, time.Second)
			continue
		}

		for _, s := range streams {
			for _, msg := range s.Messages {
				b.handle(ctx, stream, msg, h)
			}
		}
	}
}

// reclaim takes over messages left pending by failed or crashed consumers.
func (b *RedisBus) reclaim(ctx context.Context, stream string, h Handler) {
	start := "0-0"
	for ctx.Err() == nil {
		msgs, next, err := b.client.XAutoClaim(ctx, &redis.XAutoClaimArgs{
			Stream:   stream,
			Group:    b.opts.Group,
			Consumer: b.opts.Consumer,
			MinIdle:  b.opts.ClaimIdle,
			Start:    start,
			Count:    b.opts.BatchSize,
		}).Result()
		if err != nil {
			if ctx.Err() == nil {
				slog.Error("event bus: autoclaim failed", "stream", stream, "error", err)
			}
			return
		}
		for _, msg := range msgs {
			b.handle(ctx, stream, msg, h)
		}
		if next == "0-0" || len(msgs) == 0 {
			return
		}
		start = next
	}
}

// handle runs h for one message and settles it. Acks and dead letters ignore
// cancellation of ctx so a finished handler is acked during shutdown too.
func (b *RedisBus) handle(ctx context.Context, stream string, msg redis.XMessage, h Handler) {
	settle := context.WithoutCancel(ctx)

	env, err := parseMessage(msg)
	if err != nil {
		slog.Error("event bus: dropping undecodable message", "stream", stream, "id", msg.ID, "error", err)
		b.deadLetter(settle, stream, msg, Type(strings.TrimPrefix(stream, b.opts.StreamPrefix)))
		return
	}

	deliveries := b.deliveryCount(ctx, stream, msg.ID)
	env.Attempt = int(deliveries)

	err = safego.Call(func() error { return h(ctx, env) })
	if err == nil {
		if ackErr := b.client.XAck(settle, stream, b.opts.Group, msg.ID).Err(); ackErr != nil {
			slog.Error("event bus: ack failed", "stream", stream, "id", msg.ID, "error", ackErr)
		}
		telemetry.EventsConsumedTotal.WithLabelValues(string(env.Type), "ack").Inc()
		return
	}

	if errors.Is(err, ErrMalformed) || deliveries >= b.opts.MaxDeliveries {
		slog.Error("event bus: giving up on event", "type", env.Type, "id", env.ID, "attempt", deliveries, "error", err)
		b.deadLetter(settle, stream, msg, env.Type)
		return
	}

	slog.Warn("event bus: delivery failed, left pending", "type", env.Type, "id", env.ID, "attempt", deliveries, "error", err)
	telemetry.EventsConsumedTotal.WithLabelValues(string(env.Type), "retry").Inc()
}

// deliveryCount returns how many times msgID has been delivered, or 1 when the
// pending entry cannot be read.
func (b *RedisBus) deliveryCount(ctx context.Context, stream, msgID string) int64 {
	pending, err := b.client.XPendingExt(ctx, &redis.XPendingExtArgs{
		Stream: stream,
		Group:  b.opts.Group,
		Start:  msgID,
		End:    msgID,
		Count:  1,
	}).Result()
	if err != nil || len(pending) == 0 {
		return 1
	}
	return pending[0].RetryCount
}

func (b *RedisBus) deadLetter(ctx context.Context, stream string, msg redis.XMessage, t Type) {
	telemetry.EventsConsumedTotal.WithLabelValues(string(t), "dead").Inc()
	err := b.client.XAdd(ctx, &redis.XAddArgs{
		Stream: stream + ":dead",
		MaxLen: b.opts.MaxLen,
		Approx: true,
		Values: msg.Values,
	}).Err()
	if err != nil {
		slog.Error("event bus: failed to dead-letter message, leaving pending", "stream", stream, "id", msg.ID, "error", err)
		return
	}
	if err := b.client.XAck(ctx, stream, b.opts.Group, msg.ID).Err(); err != nil {
		slog.Error("event bus: ack failed", "stream", stream, "id", msg.ID, "error", err)
	}
}

// Close is a no-op; the Redis client belongs to the caller.
func (b *RedisBus) Close() error { return nil }

func parseMessage(msg redis.XMessage) (Envelope, error) {
	raw, ok := msg.Values[envelopeField]
	if !ok {
		return Envelope{}, fmt.Errorf("%w: message %s has no %q field", ErrMalformed, msg.ID, envelopeField)
	}
	var data []byte
	switch v := raw.(type) {
	case string:
		data = []byte(v)
	case []byte:
		data = v
	default:
		return Envelope{}, fmt.Errorf("%w: message %s field has type %T", ErrMalformed, msg.ID, raw)
	}
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return Envelope{}, fmt.Errorf("%w: message %s: %v", ErrMalformed, msg.ID, err)
	}
	if env.Type == "" {
		return Envelope{}, fmt.Errorf("%w: message %s has no type", ErrMalformed, msg.ID)
	}
	return env, nil
}

func sleepCtx(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
