package eventbus

import (
	"context"
	"log"
	"sync"
	"sync/atomic"
	"time"
)

// Bus is a bounded broadcast hub: every subscriber of a topic gets its own
// buffered channel, publishers never block, and overwhelmed subscribers see
// gaps reported through Envelope.Lost instead of stalled publishers.
type Bus struct {
	logger        *log.Logger
	mu            sync.RWMutex
	subscribers   map[Topic]map[uint64]*Subscription
	topicBuffers  map[Topic]int
	topicPolicies map[Topic]DeliveryPolicy
	nextID        uint64

	publishTotal atomic.Uint64
	dropTotal    atomic.Uint64
}

// New constructs a bus. Buffer sizes reflect each topic's volume: lifecycle
// transitions and task progress dominate, change notifications trickle.
func New(opts ...BusOption) *Bus {
	bus := &Bus{
		logger: log.Default(),
		topicBuffers: map[Topic]int{
			TopicConnectionsLifecycle: 256,
			TopicTasksProgress:        512,
			TopicTopicsChanged:        64,
			TopicGroupsChanged:        64,
			TopicCoordinationChanged:  64,
		},
		subscribers:   make(map[Topic]map[uint64]*Subscription),
		topicPolicies: make(map[Topic]DeliveryPolicy),
	}
	for _, opt := range opts {
		opt(bus)
	}
	return bus
}

// BusOption customises bus construction.
type BusOption func(*Bus)

// WithLogger routes drop warnings to the given logger instead of the default.
func WithLogger(logger *log.Logger) BusOption {
	return func(b *Bus) {
		if logger != nil {
			b.logger = logger
		}
	}
}

// WithTopicBuffer overrides the default channel buffer for one topic.
func WithTopicBuffer(topic Topic, size int) BusOption {
	return func(b *Bus) {
		if size <= 0 {
			size = 1
		}
		b.topicBuffers[topic] = size
	}
}

// WithTopicPolicy overrides the backpressure policy for one topic.
func WithTopicPolicy(topic Topic, policy DeliveryPolicy) BusOption {
	return func(b *Bus) {
		b.topicPolicies[topic] = policy
	}
}

// Metrics is a snapshot of bus-wide counters.
type Metrics struct {
	PublishTotal uint64
	DropTotal    uint64
}

// Metrics returns current bus counters.
func (b *Bus) Metrics() Metrics {
	return Metrics{
		PublishTotal: b.publishTotal.Load(),
		DropTotal:    b.dropTotal.Load(),
	}
}

// publish fans the envelope out to current subscribers of its topic. Late
// subscribers never see it; there is no replay.
func (b *Bus) publish(ctx context.Context, env Envelope) {
	if env.Topic == "" {
		return
	}
	if env.Timestamp.IsZero() {
		env.Timestamp = time.Now().UTC()
	}
	if env.Source == "" {
		env.Source = SourceUnknown
	}

	b.publishTotal.Add(1)

	b.mu.RLock()
	for _, sub := range b.subscribers[env.Topic] {
		sub.deliver(ctx, env, b.logger)
	}
	b.mu.RUnlock()
}

// Subscribe registers a subscriber for the given topic. On a nil bus the
// returned Subscription starts closed and Close is a no-op.
func (b *Bus) Subscribe(topic Topic, opts ...SubscriptionOption) *Subscription {
	if b == nil {
		return closedSubscription()
	}

	cfg := subscriptionConfig{bufferSize: b.topicBuffers[topic]}
	if cfg.bufferSize <= 0 {
		cfg.bufferSize = 1
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	sub := &Subscription{
		topic:  topic,
		id:     atomic.AddUint64(&b.nextID, 1),
		name:   cfg.name,
		ch:     make(chan Envelope, cfg.bufferSize),
		done:   make(chan struct{}),
		bus:    b,
		policy: policyFor(topic, b.topicPolicies),
	}

	if sub.policy.Strategy == StrategyOverflow {
		sub.spill = newSpillQueue(sub.policy.MaxOverflow)
		spillCtx, cancel := context.WithCancel(context.Background())
		sub.spillCancel = cancel
		go sub.spill.drain(spillCtx, sub.ch)
	}

	b.mu.Lock()
	if b.subscribers[topic] == nil {
		b.subscribers[topic] = make(map[uint64]*Subscription)
	}
	b.subscribers[topic][sub.id] = sub
	b.mu.Unlock()

	if cfg.ctx != nil {
		go func() {
			select {
			case <-cfg.ctx.Done():
				sub.Close()
			case <-sub.done:
			}
		}()
	}

	return sub
}

func closedSubscription() *Subscription {
	ch := make(chan Envelope)
	close(ch)
	done := make(chan struct{})
	close(done)
	sub := &Subscription{ch: ch, done: done}
	sub.closed.Store(true)
	return sub
}

// Shutdown closes every subscription and clears the routing tables. Safe on
// a nil bus.
func (b *Bus) Shutdown() {
	if b == nil {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	for topic, subs := range b.subscribers {
		for _, sub := range subs {
			sub.closeLocked()
		}
		delete(b.subscribers, topic)
	}
}

// SubscriptionOption customises individual subscriptions.
type SubscriptionOption func(*subscriptionConfig)

type subscriptionConfig struct {
	bufferSize int
	name       string
	ctx        context.Context
}

// WithSubscriptionBuffer overrides the channel buffer for one subscription.
func WithSubscriptionBuffer(size int) SubscriptionOption {
	return func(cfg *subscriptionConfig) {
		if size > 0 {
			cfg.bufferSize = size
		}
	}
}

// WithSubscriptionName records a human friendly identifier used in logs.
func WithSubscriptionName(name string) SubscriptionOption {
	return func(cfg *subscriptionConfig) {
		cfg.name = name
	}
}

// WithContext closes the subscription when ctx is cancelled. A nil context
// is ignored.
func WithContext(ctx context.Context) SubscriptionOption {
	return func(cfg *subscriptionConfig) {
		if ctx != nil {
			cfg.ctx = ctx
		}
	}
}

// Subscription is one consumer's view of a topic: a buffered channel of
// envelopes plus the loss accounting for events this consumer missed.
type Subscription struct {
	topic Topic
	id    uint64
	name  string
	ch    chan Envelope
	done  chan struct{} // closed when the subscription is closed

	bus         *Bus
	closed      atomic.Bool
	dropped     atomic.Uint64
	pendingLost atomic.Uint64
	policy      DeliveryPolicy
	spill       *spillQueue
	spillCancel context.CancelFunc
}

// C exposes the event channel.
func (s *Subscription) C() <-chan Envelope {
	return s.ch
}

// Dropped returns how many events have been dropped for this subscriber in
// total. Per-gap counts are carried on Envelope.Lost.
func (s *Subscription) Dropped() uint64 {
	return s.dropped.Load()
}

// Close removes the subscription from the bus and closes the channel.
// Subsequent calls are no-ops.
func (s *Subscription) Close() {
	if !s.closed.CompareAndSwap(false, true) {
		return
	}

	s.stopSpill()
	close(s.done)

	if s.bus == nil {
		close(s.ch)
		return
	}

	s.bus.mu.Lock()
	defer s.bus.mu.Unlock()

	if subs, ok := s.bus.subscribers[s.topic]; ok {
		delete(subs, s.id)
	}
	close(s.ch)
}

// closeLocked is Close for callers already holding the bus lock.
func (s *Subscription) closeLocked() {
	if !s.closed.CompareAndSwap(false, true) {
		return
	}
	s.stopSpill()
	close(s.done)
	close(s.ch)
}

// stopSpill cancels the drain goroutine and waits for it to exit.
func (s *Subscription) stopSpill() {
	if s.spillCancel != nil {
		s.spillCancel()
	}
	if s.spill != nil {
		<-s.spill.done
	}
}

func (s *Subscription) deliver(ctx context.Context, env Envelope, logger *log.Logger) {
	if s.closed.Load() {
		return
	}

	select {
	case <-ctx.Done():
		return
	default:
	}

	// Overflow strategy: always route through the spill queue to preserve
	// FIFO ordering. Direct channel sends would race with the drain
	// goroutine and reorder events.
	if s.policy.Strategy == StrategyOverflow && s.spill != nil {
		if s.spill.enqueue(env) {
			return
		}
		// Spill full, fall back to drop-oldest on the channel.
		s.dropOldestAndEnqueue(env, logger)
		return
	}

	// Attach any gap accumulated since the last successful delivery, then
	// try a non-blocking send.
	env.Lost = s.pendingLost.Swap(0)
	select {
	case s.ch <- env:
		return
	default:
	}
	s.pendingLost.Add(env.Lost)

	switch s.policy.Strategy {
	case StrategyDropNewest:
		s.recordDrop(logger, "drop-newest")
	default: // StrategyDropOldest
		s.dropOldestAndEnqueue(env, logger)
	}
}

func (s *Subscription) dropOldestAndEnqueue(env Envelope, logger *log.Logger) {
	select {
	case <-s.ch:
		s.recordDrop(logger, "drop-oldest")
	default:
	}

	env.Lost = s.pendingLost.Swap(0)
	select {
	case s.ch <- env:
	default:
		s.pendingLost.Add(env.Lost)
		s.recordDrop(logger, "drop-current")
	}
}

func (s *Subscription) recordDrop(logger *log.Logger, reason string) {
	count := s.dropped.Add(1)
	s.pendingLost.Add(1)
	if s.bus != nil {
		s.bus.dropTotal.Add(1)
	}
	if logger != nil {
		name := s.name
		if name == "" {
			name = "subscription"
		}
		logger.Printf("[eventbus] %s lost event #%d on topic %s (%s)", name, count, s.topic, reason)
	}
}
