package fanout

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/foxseedlab/sanctuary/internal/fanout"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"
)

const (
	channelPrefix       = "sanctuary:events:"
	defaultOutboxBuffer = 1024
)

// RedisRelay mirrors hub events across instances over Redis pub/sub. Events
// carry their origin so an instance ignores its own echoes.
type RedisRelay struct {
	client  *redis.Client
	hub     *fanout.Hub
	metrics *fanout.Metrics
	outbox  chan fanout.Event
	ready   chan struct{}
}

func NewRedisRelay(client *redis.Client, hub *fanout.Hub, metrics *fanout.Metrics) *RedisRelay {
	return &RedisRelay{
		client:  client,
		hub:     hub,
		metrics: metrics,
		outbox:  make(chan fanout.Event, defaultOutboxBuffer),
		ready:   make(chan struct{}),
	}
}

// Forward never blocks the publisher. Events are dropped when the outbox is
// full.
func (r *RedisRelay) Forward(ev fanout.Event) {
	select {
	case r.outbox <- ev:
	default:
		r.metrics.RecordRelayError()
		slog.Warn("relay outbox full; dropping event", "session_id", ev.SessionID, "seq", ev.Seq, "type", ev.Type)
	}
}

// Ready is closed once the pattern subscription is confirmed.
func (r *RedisRelay) Ready() <-chan struct{} {
	return r.ready
}

func (r *RedisRelay) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return r.publishLoop(ctx) })
	g.Go(func() error { return r.subscribeLoop(ctx) })
	return g.Wait()
}

func (r *RedisRelay) publishLoop(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev := <-r.outbox:
			b, err := json.Marshal(ev)
			if err != nil {
				r.metrics.RecordRelayError()
				slog.Error("failed to encode relayed event", "session_id", ev.SessionID, "error", err)
				continue
			}
			if err := r.client.Publish(ctx, channelPrefix+ev.SessionID, b).Err(); err != nil {
				if ctx.Err() != nil {
					return nil
				}
				r.metrics.RecordRelayError()
				slog.Error("failed to publish relayed event", "session_id", ev.SessionID, "seq", ev.Seq, "error", err)
			}
		}
	}
}

func (r *RedisRelay) subscribeLoop(ctx context.Context) error {
	ps := r.client.PSubscribe(ctx, channelPrefix+"*")
	defer func() {
		_ = ps.Close()
	}()
	if _, err := ps.Receive(ctx); err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return fmt.Errorf("subscribe relay channel: %w", err)
	}
	close(r.ready)
	slog.Info("event relay subscribed", "origin", r.hub.Origin())

	ch := ps.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			r.handle(msg)
		}
	}
}

func (r *RedisRelay) handle(msg *redis.Message) {
	var ev fanout.Event
	if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil {
		r.metrics.RecordRelayError()
		slog.Warn("dropping undecodable relayed event", "channel", msg.Channel, "error", err)
		return
	}
	if ev.Origin == r.hub.Origin() {
		return
	}
	if ev.SessionID != strings.TrimPrefix(msg.Channel, channelPrefix) {
		slog.Warn("relayed event on foreign channel", "channel", msg.Channel, "session_id", ev.SessionID)
		return
	}
	r.hub.Deliver(ev)
}
