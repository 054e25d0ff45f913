package broker

import (
	"context"
	"testing"
	"time"

	"ddcop/message"
)

func TestPublishDeliversToMatchingSubscription(t *testing.T) {
	b := NewLocal()
	defer b.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ch, _ := b.Subscribe(ctx, "d.agent.a0")
	msg := message.New(message.TagPing, "a1", 1.0, nil)
	if err := b.Publish(ctx, "d.agent.a0", msg); err != nil {
		t.Fatalf("publish: %v", err)
	}

	select {
	case got := <-ch:
		if got.Type != message.TagPing {
			t.Fatalf("got tag %v, want PING", got.Type)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for delivery")
	}
}

func TestPublishDoesNotDeliverToNonMatchingSubscription(t *testing.T) {
	b := NewLocal()
	defer b.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ch, _ := b.Subscribe(ctx, "d.agent.a1")
	if err := b.Publish(ctx, "d.agent.a0", message.New(message.TagPing, "a2", 1.0, nil)); err != nil {
		t.Fatalf("publish: %v", err)
	}

	select {
	case got := <-ch:
		t.Fatalf("unexpected delivery: %+v", got)
	case <-time.After(50 * time.Millisecond):
		// expected: no delivery
	}
}

func TestWildcardSubscriptionMatchesBroadcastTopic(t *testing.T) {
	b := NewLocal()
	defer b.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ch, _ := b.Subscribe(ctx, "d.agent.public.#")
	if err := b.Publish(ctx, "d.agent.public", message.New(message.TagAnnounce, "a0", 1.0, nil)); err != nil {
		t.Fatalf("publish: %v", err)
	}

	select {
	case got := <-ch:
		if got.Type != message.TagAnnounce {
			t.Fatalf("got %v", got.Type)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for broadcast delivery")
	}
}

func TestUnsubscribeClosesChannel(t *testing.T) {
	b := NewLocal()
	defer b.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ch, unsubscribe := b.Subscribe(ctx, "d.agent.a0")
	unsubscribe()

	select {
	case _, ok := <-ch:
		if ok {
			t.Fatal("expected channel to be closed")
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for channel close")
	}
}
