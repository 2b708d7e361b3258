package fanout

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/foxseedlab/sanctuary/internal/fanout"
	"github.com/redis/go-redis/v9"
)

type relayNode struct {
	hub   *fanout.Hub
	relay *RedisRelay
}

func startNode(t *testing.T, ctx context.Context, addr, origin string) relayNode {
	t.Helper()
	client := redis.NewClient(&redis.Options{Addr: addr})
	t.Cleanup(func() {
		_ = client.Close()
	})
	hub := fanout.NewHub(origin)
	relay := NewRedisRelay(client, hub, nil)
	hub.SetRelay(relay)

	errCh := make(chan error, 1)
	go func() { errCh <- relay.Run(ctx) }()
	select {
	case <-relay.Ready():
	case err := <-errCh:
		t.Fatalf("relay stopped early: %v", err)
	case <-time.After(2 * time.Second):
		t.Fatal("relay did not subscribe in time")
	}
	return relayNode{hub: hub, relay: relay}
}

func subscribe(t *testing.T, h *fanout.Hub, sessionID, name string) *fanout.Subscription {
	t.Helper()
	sub, err := h.Subscribe(sessionID, name)
	if err != nil {
		t.Fatalf("subscribe %s: %v", sessionID, err)
	}
	return sub
}

func TestRedisRelay_DeliversAcrossInstances(t *testing.T) {
	mr := miniredis.RunT(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	a := startNode(t, ctx, mr.Addr(), "node-a")
	b := startNode(t, ctx, mr.Addr(), "node-b")

	subA := subscribe(t, a.hub, "s1", "local")
	subB := subscribe(t, b.hub, "s1", "remote")

	if _, err := a.hub.Publish("s1", fanout.EventAlertCreated, fanout.LanePriority, map[string]string{"id": "alert-1"}); err != nil {
		t.Fatalf("publish: %v", err)
	}

	nctx, ncancel := context.WithTimeout(ctx, 2*time.Second)
	defer ncancel()
	ev, err := subB.Next(nctx)
	if err != nil {
		t.Fatalf("remote next: %v", err)
	}
	if ev.Origin != "node-a" || ev.Seq != 1 || ev.Type != fanout.EventAlertCreated || ev.Lane != fanout.LanePriority {
		t.Fatalf("unexpected relayed event: %+v", ev)
	}
	if got := b.hub.LastSeq("s1"); got != 1 {
		t.Fatalf("expected remote hub to track seq 1, got %d", got)
	}

	local, err := subA.Next(nctx)
	if err != nil {
		t.Fatalf("local next: %v", err)
	}
	if local.Seq != 1 {
		t.Fatalf("unexpected local event: %+v", local)
	}
	echoCtx, echoCancel := context.WithTimeout(ctx, 100*time.Millisecond)
	defer echoCancel()
	if ev, err := subA.Next(echoCtx); err == nil {
		t.Fatalf("expected no echo on the origin, got %+v", ev)
	}
}

func TestRedisRelay_ForwardDropsWhenFull(t *testing.T) {
	relay := NewRedisRelay(nil, fanout.NewHub("node-a"), nil)
	for i := range defaultOutboxBuffer + 5 {
		relay.Forward(fanout.Event{SessionID: "s1", Seq: uint64(i + 1)})
	}
	if got := len(relay.outbox); got != defaultOutboxBuffer {
		t.Fatalf("expected full outbox, got %d", got)
	}
}
