package pubsub

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/dd0wney/cluso-chat/pkg/metrics"
)

func next(t *testing.T, sub *Subscription[string]) (string, error) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	return sub.Next(ctx)
}

// TestBasicPubSub tests basic publish/subscribe functionality
func TestBasicPubSub(t *testing.T) {
	ps := NewPubSub[string](0, nil)
	defer ps.Shutdown()

	sub, err := ps.Subscribe(context.Background(), "bob")
	if err != nil {
		t.Fatalf("Failed to subscribe: %v", err)
	}
	defer sub.Unsubscribe()

	if n := ps.Publish("bob", "hello"); n != 1 {
		t.Errorf("Publish delivered to %d subscriptions, want 1", n)
	}

	msg, err := next(t, sub)
	if err != nil || msg != "hello" {
		t.Errorf("Next() = %q, %v; want hello", msg, err)
	}
}

// TestDeliveryOrder checks values arrive in publish order
func TestDeliveryOrder(t *testing.T) {
	ps := NewPubSub[string](0, nil)
	defer ps.Shutdown()

	sub, _ := ps.Subscribe(context.Background(), "bob")
	for i := 0; i < 100; i++ {
		ps.Publish("bob", fmt.Sprint(i))
	}

	for i := 0; i < 100; i++ {
		msg, err := next(t, sub)
		if err != nil {
			t.Fatalf("Next() error at %d: %v", i, err)
		}
		if msg != fmt.Sprint(i) {
			t.Fatalf("message %d = %s", i, msg)
		}
	}
}

// TestMultipleSubscribers tests multiple subscribers to the same topic
func TestMultipleSubscribers(t *testing.T) {
	ps := NewPubSub[string](0, nil)
	defer ps.Shutdown()

	subs := make([]*Subscription[string], 5)
	for i := range subs {
		sub, err := ps.Subscribe(context.Background(), "bob")
		if err != nil {
			t.Fatalf("Failed to subscribe %d: %v", i, err)
		}
		subs[i] = sub
	}

	if n := ps.Publish("bob", "broadcast"); n != len(subs) {
		t.Errorf("Publish delivered to %d, want %d", n, len(subs))
	}
	for i, sub := range subs {
		if msg, err := next(t, sub); err != nil || msg != "broadcast" {
			t.Errorf("subscriber %d: Next() = %q, %v", i, msg, err)
		}
	}
}

// TestTopicIsolation tests that messages are isolated by topic
func TestTopicIsolation(t *testing.T) {
	ps := NewPubSub[string](0, nil)
	defer ps.Shutdown()

	alice, _ := ps.Subscribe(context.Background(), "alice")
	bob, _ := ps.Subscribe(context.Background(), "bob")

	ps.Publish("alice", "for alice")

	if alice.Len() != 1 || bob.Len() != 0 {
		t.Errorf("queue lengths alice=%d bob=%d, want 1 and 0", alice.Len(), bob.Len())
	}
	if n := ps.Publish("carol", "nobody"); n != 0 {
		t.Errorf("Publish to empty topic delivered to %d", n)
	}
}

// TestPublishNeverBlocks checks a reader that never reads does not stall the publisher
func TestPublishNeverBlocks(t *testing.T) {
	ps := NewPubSub[string](10_000, nil)
	defer ps.Shutdown()

	sub, _ := ps.Subscribe(context.Background(), "bob")

	done := make(chan struct{})
	go func() {
		for i := 0; i < 5000; i++ {
			ps.Publish("bob", "x")
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Publish blocked on an idle subscriber")
	}
	if sub.Len() != 5000 {
		t.Errorf("Len() = %d, want 5000", sub.Len())
	}
}

// TestEviction tests a subscription is dropped once its backlog overflows
func TestEviction(t *testing.T) {
	reg := metrics.NewRegistry()
	ps := NewPubSub[string](3, reg)
	defer ps.Shutdown()

	sub, _ := ps.Subscribe(context.Background(), "bob")
	for i := 0; i < 3; i++ {
		ps.Publish("bob", "x")
	}
	if n := ps.Publish("bob", "overflow"); n != 0 {
		t.Errorf("overflowing Publish delivered to %d", n)
	}

	select {
	case <-sub.Done():
	case <-time.After(time.Second):
		t.Fatal("evicted subscription not closed")
	}
	if _, err := next(t, sub); !errors.Is(err, ErrEvicted) {
		t.Errorf("Next() after eviction = %v, want ErrEvicted", err)
	}
	if ps.GetSubscriberCount("bob") != 0 {
		t.Error("evicted subscription still registered")
	}
	if got := testutil.ToFloat64(reg.SubscriptionsEvictedTotal); got != 1 {
		t.Errorf("evicted counter = %v, want 1", got)
	}
	if got := testutil.ToFloat64(reg.SubscriptionsActive); got != 0 {
		t.Errorf("active gauge = %v, want 0", got)
	}
	if got := testutil.ToFloat64(reg.MessagesDeliveredTotal); got != 3 {
		t.Errorf("delivered counter = %v, want 3", got)
	}
}

// TestContextCancellation tests subscription cleanup on context cancellation
func TestContextCancellation(t *testing.T) {
	reg := metrics.NewRegistry()
	ps := NewPubSub[string](0, reg)
	defer ps.Shutdown()

	ctx, cancel := context.WithCancel(context.Background())
	sub, _ := ps.Subscribe(ctx, "bob")
	if got := testutil.ToFloat64(reg.SubscriptionsActive); got != 1 {
		t.Errorf("active gauge = %v, want 1", got)
	}

	cancel()

	select {
	case <-sub.Done():
	case <-time.After(time.Second):
		t.Fatal("subscription not released after cancel")
	}
	if !errors.Is(sub.Err(), ErrClosed) {
		t.Errorf("Err() = %v, want ErrClosed", sub.Err())
	}
	if ps.GetSubscriberCount("bob") != 0 {
		t.Error("cancelled subscription still registered")
	}
	if got := testutil.ToFloat64(reg.SubscriptionsActive); got != 0 {
		t.Errorf("active gauge = %v, want 0", got)
	}
}

// TestNextWakesOnUnsubscribe checks a blocked reader is released
func TestNextWakesOnUnsubscribe(t *testing.T) {
	ps := NewPubSub[string](0, nil)
	defer ps.Shutdown()

	sub, _ := ps.Subscribe(context.Background(), "bob")

	errc := make(chan error, 1)
	go func() {
		_, err := sub.Next(context.Background())
		errc <- err
	}()

	time.Sleep(10 * time.Millisecond)
	sub.Unsubscribe()
	sub.Unsubscribe()

	select {
	case err := <-errc:
		if !errors.Is(err, ErrClosed) {
			t.Errorf("Next() = %v, want ErrClosed", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Next did not return after Unsubscribe")
	}
}

// TestNextHonoursContext checks Next gives up when its own context ends
func TestNextHonoursContext(t *testing.T) {
	ps := NewPubSub[string](0, nil)
	defer ps.Shutdown()

	sub, _ := ps.Subscribe(context.Background(), "bob")
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	if _, err := sub.Next(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Next() = %v, want DeadlineExceeded", err)
	}
	if sub.Err() != nil {
		t.Error("subscription ended by a reader timeout")
	}
}

// TestConcurrentPublish tests concurrent publishing to the same subscriber
func TestConcurrentPublish(t *testing.T) {
	ps := NewPubSub[string](0, nil)
	defer ps.Shutdown()

	sub, _ := ps.Subscribe(context.Background(), "bob")

	var wg sync.WaitGroup
	for p := 0; p < 4; p++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 100; i++ {
				ps.Publish("bob", "x")
			}
		}()
	}
	wg.Wait()

	if sub.Len() != 400 {
		t.Errorf("Len() = %d, want 400", sub.Len())
	}
}

// TestShutdown tests graceful shutdown
func TestShutdown(t *testing.T) {
	ps := NewPubSub[string](0, nil)

	sub, _ := ps.Subscribe(context.Background(), "bob")
	ps.Shutdown()
	ps.Shutdown()

	select {
	case <-sub.Done():
	case <-time.After(time.Second):
		t.Fatal("subscription did not close on shutdown")
	}
	if !errors.Is(sub.Err(), ErrShutdown) {
		t.Errorf("Err() = %v, want ErrShutdown", sub.Err())
	}
	if _, err := ps.Subscribe(context.Background(), "bob"); !errors.Is(err, ErrShutdown) {
		t.Errorf("Subscribe after Shutdown = %v, want ErrShutdown", err)
	}
}
