package eventbus_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/topiclens/topiclens/internal/eventbus"
)

func TestBusPublishDeliver(t *testing.T) {
	bus := eventbus.New()
	sub := bus.Subscribe(eventbus.TopicConnectionsLifecycle)
	defer sub.Close()

	payload := eventbus.ConnectionEvent{
		ConnectionID: 1,
		Name:         "local",
		State:        eventbus.ConnectionConnected,
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	eventbus.Publish(ctx, bus, eventbus.Connections.Lifecycle, eventbus.SourceRegistry, payload)

	select {
	case env := <-sub.C():
		msg, ok := env.Payload.(eventbus.ConnectionEvent)
		if !ok {
			t.Fatalf("expected ConnectionEvent payload, got %T", env.Payload)
		}
		if msg.ConnectionID != 1 || msg.State != eventbus.ConnectionConnected {
			t.Fatalf("unexpected payload: %+v", msg)
		}
		if env.Lost != 0 {
			t.Fatalf("expected no lost events, got %d", env.Lost)
		}
	case <-ctx.Done():
		t.Fatal("timed out waiting for event")
	}

	metrics := bus.Metrics()
	if metrics.PublishTotal != 1 {
		t.Fatalf("expected PublishTotal 1, got %d", metrics.PublishTotal)
	}
}

func TestBusSubscriberSeesOnlyLaterEvents(t *testing.T) {
	bus := eventbus.New()
	ctx := context.Background()

	eventbus.Publish(ctx, bus, eventbus.Topics.Changed, eventbus.SourceTaskManager, eventbus.TopicChangeEvent{
		ConnectionID: 1, Topic: "before", Change: eventbus.ChangeCreated,
	})

	sub := bus.Subscribe(eventbus.TopicTopicsChanged)
	defer sub.Close()

	eventbus.Publish(ctx, bus, eventbus.Topics.Changed, eventbus.SourceTaskManager, eventbus.TopicChangeEvent{
		ConnectionID: 1, Topic: "after", Change: eventbus.ChangeCreated,
	})

	select {
	case env := <-sub.C():
		msg := env.Payload.(eventbus.TopicChangeEvent)
		if msg.Topic != "after" {
			t.Fatalf("subscriber saw pre-subscription event %q", msg.Topic)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
	}
}

func TestBusIndependentSubscribersInOrder(t *testing.T) {
	bus := eventbus.New()
	ctx := context.Background()

	a := bus.Subscribe(eventbus.TopicTasksProgress)
	defer a.Close()
	b := bus.Subscribe(eventbus.TopicTasksProgress)
	defer b.Close()

	const n = 20
	for i := 0; i < n; i++ {
		eventbus.Publish(ctx, bus, eventbus.Tasks.Progress, eventbus.SourceTaskManager, eventbus.TaskProgressEvent{
			TaskID:  "task-1",
			Current: i,
		})
	}

	for name, sub := range map[string]*eventbus.Subscription{"a": a, "b": b} {
		for i := 0; i < n; i++ {
			select {
			case env := <-sub.C():
				msg := env.Payload.(eventbus.TaskProgressEvent)
				if msg.Current != i {
					t.Fatalf("subscriber %s: event %d out of order (got %d)", name, i, msg.Current)
				}
			case <-time.After(time.Second):
				t.Fatalf("subscriber %s: timed out at event %d", name, i)
			}
		}
	}
}

func TestBusDropOldestSetsLost(t *testing.T) {
	bus := eventbus.New()
	// Buffer of 1 with drop-oldest: flooding must never block, and the
	// surviving envelope must carry the gap count.
	sub := bus.Subscribe(eventbus.TopicTasksProgress, eventbus.WithSubscriptionBuffer(1))
	defer sub.Close()

	ctx := context.Background()
	const n = 10
	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < n; i++ {
			eventbus.Publish(ctx, bus, eventbus.Tasks.Progress, eventbus.SourceTaskManager, eventbus.TaskProgressEvent{
				TaskID:  "flood",
				Current: i,
			})
		}
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("publisher blocked on a slow subscriber")
	}

	var lost uint64
	var received int
	for {
		select {
		case env := <-sub.C():
			received++
			lost += env.Lost
		default:
			if received+int(lost) != n {
				t.Fatalf("received %d + lost %d != published %d", received, lost, n)
			}
			if sub.Dropped() != lost {
				t.Fatalf("Dropped() = %d, envelope gaps sum to %d", sub.Dropped(), lost)
			}
			return
		}
	}
}

func TestBusDropNewest(t *testing.T) {
	bus := eventbus.New(eventbus.WithTopicPolicy(eventbus.TopicTopicsChanged, eventbus.DeliveryPolicy{
		Strategy: eventbus.StrategyDropNewest,
	}))
	sub := bus.Subscribe(eventbus.TopicTopicsChanged, eventbus.WithSubscriptionBuffer(1))
	defer sub.Close()

	ctx := context.Background()
	for i := 0; i < 3; i++ {
		eventbus.Publish(ctx, bus, eventbus.Topics.Changed, eventbus.SourceTaskManager, eventbus.TopicChangeEvent{
			Topic: fmt.Sprintf("t%d", i),
		})
	}

	env := <-sub.C()
	if msg := env.Payload.(eventbus.TopicChangeEvent); msg.Topic != "t0" {
		t.Fatalf("drop-newest must keep the oldest event, got %q", msg.Topic)
	}
	if sub.Dropped() != 2 {
		t.Fatalf("expected 2 drops, got %d", sub.Dropped())
	}
}

func TestBusOverflowPreservesOrder(t *testing.T) {
	bus := eventbus.New(eventbus.WithTopicBuffer(eventbus.TopicConnectionsLifecycle, 1))
	sub := bus.Subscribe(eventbus.TopicConnectionsLifecycle, eventbus.WithSubscriptionBuffer(1))
	defer sub.Close()

	ctx := context.Background()
	const n = 50
	for i := 0; i < n; i++ {
		eventbus.Publish(ctx, bus, eventbus.Connections.Lifecycle, eventbus.SourceRegistry, eventbus.ConnectionEvent{
			ConnectionID: int64(i),
			State:        eventbus.ConnectionConnecting,
		})
	}

	for i := 0; i < n; i++ {
		select {
		case env := <-sub.C():
			msg := env.Payload.(eventbus.ConnectionEvent)
			if msg.ConnectionID != int64(i) {
				t.Fatalf("overflow broke ordering: event %d carried ID %d", i, msg.ConnectionID)
			}
		case <-time.After(2 * time.Second):
			t.Fatalf("timed out draining overflow at event %d", i)
		}
	}
}

func TestBusShutdownClosesSubscribers(t *testing.T) {
	bus := eventbus.New()
	sub := bus.Subscribe(eventbus.TopicConnectionsLifecycle)

	bus.Shutdown()

	select {
	case _, ok := <-sub.C():
		if ok {
			t.Fatal("expected closed channel after Shutdown")
		}
	case <-time.After(time.Second):
		t.Fatal("subscription channel not closed")
	}
}

func TestSubscribeToTyped(t *testing.T) {
	bus := eventbus.New()
	sub := eventbus.SubscribeTo(bus, eventbus.Groups.Changed)
	defer sub.Close()

	ctx := context.Background()
	eventbus.Publish(ctx, bus, eventbus.Groups.Changed, eventbus.SourceTaskManager, eventbus.GroupChangeEvent{
		ConnectionID: 3,
		GroupID:      "readers",
		Change:       eventbus.ChangeDeleted,
	})

	select {
	case env := <-sub.C():
		if env.Payload.GroupID != "readers" || env.Payload.Change != eventbus.ChangeDeleted {
			t.Fatalf("unexpected typed payload: %+v", env.Payload)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for typed event")
	}
}

func TestNilBusIsInert(t *testing.T) {
	var bus *eventbus.Bus

	eventbus.Publish(context.Background(), bus, eventbus.Connections.Lifecycle, eventbus.SourceRegistry, eventbus.ConnectionEvent{})

	sub := bus.Subscribe(eventbus.TopicConnectionsLifecycle)
	if _, ok := <-sub.C(); ok {
		t.Fatal("nil-bus subscription must start closed")
	}
	sub.Close()
	bus.Shutdown()
}
