package eventbus

import (
	"context"
)

// TopicDef binds a Topic string to a payload type T at compile time, so
// publishers and subscribers of the same descriptor cannot disagree on the
// payload shape.
type TopicDef[T any] struct{ topic Topic }

// NewTopicDef creates a typed topic descriptor for the given topic string.
func NewTopicDef[T any](topic Topic) TopicDef[T] { return TopicDef[T]{topic: topic} }

// Topic returns the underlying topic string.
func (d TopicDef[T]) Topic() Topic { return d.topic }

// Publish sends a typed payload on the bus using the topic descriptor.
// If bus is nil the call is a no-op.
func Publish[T any](ctx context.Context, bus *Bus, td TopicDef[T], source Source, payload T) {
	if bus == nil {
		return
	}
	bus.publish(ctx, Envelope{
		Topic:   td.topic,
		Source:  source,
		Payload: payload,
	})
}

// SubscribeTo creates a typed subscription for the descriptor's topic.
// A bridge goroutine reads raw envelopes, asserts each payload against T,
// and forwards matches on an unbuffered typed channel; backpressure rides
// on the raw subscription's buffer. Mismatched payloads are skipped.
//
// If bus is nil the returned subscription's channel is already closed and
// Close is a no-op, symmetric with Publish's nil-bus handling.
func SubscribeTo[T any](bus *Bus, td TopicDef[T], opts ...SubscriptionOption) *TypedSubscription[T] {
	if bus == nil {
		ch := make(chan TypedEnvelope[T])
		done := make(chan struct{})
		close(ch)
		close(done)
		return &TypedSubscription[T]{
			ch:   ch,
			done: done,
			quit: make(chan struct{}),
		}
	}

	ts := &TypedSubscription[T]{
		raw:  bus.Subscribe(td.topic, opts...),
		ch:   make(chan TypedEnvelope[T]),
		done: make(chan struct{}),
		quit: make(chan struct{}),
	}
	go ts.bridge()
	return ts
}
