package eventbus

// Priority classifies how costly a dropped event is for a topic.
type Priority int

const (
	PriorityLow Priority = iota
	PriorityNormal
	PriorityCritical
)

// DeliveryStrategy determines what happens when a subscriber's channel is
// full at delivery time.
type DeliveryStrategy string

const (
	// StrategyDropOldest evicts the oldest buffered event to make room.
	StrategyDropOldest DeliveryStrategy = "drop-oldest"
	// StrategyDropNewest discards the incoming event instead.
	StrategyDropNewest DeliveryStrategy = "drop-newest"
	// StrategyOverflow spills into a capped queue drained back in order.
	StrategyOverflow DeliveryStrategy = "overflow"
)

// DeliveryPolicy pairs a backpressure strategy with the topic's priority.
type DeliveryPolicy struct {
	Strategy    DeliveryStrategy
	Priority    Priority
	MaxOverflow int // spill queue cap for StrategyOverflow (0 = defaultMaxOverflow)
}

const defaultMaxOverflow = 512

// defaultPolicies maps known topics to their delivery policies. Topics
// without an entry get drop-oldest at normal priority.
var defaultPolicies = map[Topic]DeliveryPolicy{
	// Critical — a dropped lifecycle transition leaves the UI showing stale state.
	TopicConnectionsLifecycle: {Strategy: StrategyOverflow, Priority: PriorityCritical, MaxOverflow: defaultMaxOverflow},

	// Normal — high-volume, superseded by the next update anyway.
	TopicTasksProgress: {Strategy: StrategyDropOldest, Priority: PriorityNormal},

	// Low — change notifications; the UI re-lists on demand.
	TopicTopicsChanged:       {Strategy: StrategyDropNewest, Priority: PriorityLow},
	TopicGroupsChanged:       {Strategy: StrategyDropNewest, Priority: PriorityLow},
	TopicCoordinationChanged: {Strategy: StrategyDropNewest, Priority: PriorityLow},
}

// policyFor resolves a topic's delivery policy, preferring per-bus overrides.
func policyFor(topic Topic, overrides map[Topic]DeliveryPolicy) DeliveryPolicy {
	if p, ok := overrides[topic]; ok {
		return p
	}
	if p, ok := defaultPolicies[topic]; ok {
		return p
	}
	return DeliveryPolicy{Strategy: StrategyDropOldest, Priority: PriorityNormal}
}
