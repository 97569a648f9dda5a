package eventbus

import (
	"time"
)

// Topic identifies a logical channel on the bus.
type Topic string

const (
	TopicConnectionsLifecycle Topic = "connections.lifecycle"
	TopicTopicsChanged        Topic = "topics.changed"
	TopicGroupsChanged        Topic = "groups.changed"
	TopicTasksProgress        Topic = "tasks.progress"
	TopicCoordinationChanged  Topic = "coordination.changed"
)

// Source describes which component produced an event.
type Source string

const (
	SourceRegistry    Source = "connection_registry"
	SourceTaskManager Source = "task_manager"
	SourceGateway     Source = "ipc_gateway"
	SourceStore       Source = "config_store"
	SourceUnknown     Source = "unknown"
)

// Envelope wraps every message published on the bus.
//
// Lost is set per subscriber: it counts events dropped for that subscriber
// since its previous delivery, so a consumer that fell behind sees the gap
// instead of stalling the publisher.
type Envelope struct {
	Topic     Topic
	Timestamp time.Time
	Source    Source
	Lost      uint64
	Payload   any
}

// ConnectionState labels lifecycle transitions of a configured server.
type ConnectionState string

const (
	ConnectionAdded        ConnectionState = "added"
	ConnectionConnecting   ConnectionState = "connecting"
	ConnectionConnected    ConnectionState = "connected"
	ConnectionFailed       ConnectionState = "connect_failed"
	ConnectionDisconnected ConnectionState = "disconnected"
	ConnectionRemoved      ConnectionState = "removed"
)

// ConnectionEvent notifies consumers about connection state transitions.
type ConnectionEvent struct {
	ConnectionID int64
	Name         string
	State        ConnectionState
	Reason       string
}

// ChangeKind labels create/delete/update notifications for cluster objects.
type ChangeKind string

const (
	ChangeCreated ChangeKind = "created"
	ChangeDeleted ChangeKind = "deleted"
	ChangeUpdated ChangeKind = "updated"
)

// TopicChangeEvent is published after a topic is created or deleted.
type TopicChangeEvent struct {
	ConnectionID int64
	Topic        string
	Change       ChangeKind
}

// GroupChangeEvent is published after a consumer group changes (offsets
// committed, group deleted).
type GroupChangeEvent struct {
	ConnectionID int64
	GroupID      string
	Change       ChangeKind
}

// TaskProgressEvent mirrors a task's progress record on the bus so UI
// subscribers can render it without polling.
type TaskProgressEvent struct {
	TaskID       string
	ConnectionID int64 // 0 when the task is connection-independent
	Current      int
	Total        int
	Message      string
	Complete     bool
	Error        string
}

// CoordinationChangeEvent is published after a coordination-service node is
// written or deleted.
type CoordinationChangeEvent struct {
	ConnectionID int64
	Path         string
	Change       ChangeKind
}

// ---------------------------------------------------------------------------
// Typed topic descriptors
// ---------------------------------------------------------------------------
// Each TopicDef binds a Topic constant to its payload type, enabling
// compile-time enforcement via Publish[T] and SubscribeTo[T].

// Connections groups connection topic descriptors.
var Connections = struct {
	Lifecycle TopicDef[ConnectionEvent]
}{
	Lifecycle: NewTopicDef[ConnectionEvent](TopicConnectionsLifecycle),
}

// Topics groups topic-change descriptors.
var Topics = struct {
	Changed TopicDef[TopicChangeEvent]
}{
	Changed: NewTopicDef[TopicChangeEvent](TopicTopicsChanged),
}

// Groups groups consumer-group descriptors.
var Groups = struct {
	Changed TopicDef[GroupChangeEvent]
}{
	Changed: NewTopicDef[GroupChangeEvent](TopicGroupsChanged),
}

// Tasks groups task descriptors.
var Tasks = struct {
	Progress TopicDef[TaskProgressEvent]
}{
	Progress: NewTopicDef[TaskProgressEvent](TopicTasksProgress),
}

// Coordination groups coordination-service descriptors.
var Coordination = struct {
	Changed TopicDef[CoordinationChangeEvent]
}{
	Changed: NewTopicDef[CoordinationChangeEvent](TopicCoordinationChanged),
}
