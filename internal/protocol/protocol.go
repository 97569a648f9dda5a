// Package protocol defines the JSON message shapes exchanged between the
// topiclens CLI/UI and the daemon over the unix socket, plus the event frames
// streamed over the websocket endpoint.
package protocol

import (
	"encoding/json"
	"time"
)

// Request represents a client request to the daemon.
type Request struct {
	ID   string          `json:"id"`
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// Response represents a daemon response to a client.
type Response struct {
	ID      string `json:"id"`
	Success bool   `json:"success"`
	Data    any    `json:"data,omitempty"`
	Error   string `json:"error,omitempty"`
}

// EventFrame is one bus event forwarded to a websocket subscriber. Lost
// counts events dropped for this subscriber since its previous frame.
type EventFrame struct {
	Topic     string    `json:"topic"`
	Source    string    `json:"source"`
	Timestamp time.Time `json:"timestamp"`
	Lost      uint64    `json:"lost,omitempty"`
	Payload   any       `json:"payload"`
}

// Request types.
const (
	RequestDaemonStatus = "daemon_status"
	RequestShutdown     = "shutdown"

	RequestListConnections  = "list_connections"
	RequestCreateConnection = "create_connection"
	RequestUpdateConnection = "update_connection"
	RequestDeleteConnection = "delete_connection"
	RequestConnect          = "connect"
	RequestDisconnect       = "disconnect"

	RequestListTopics    = "list_topics"
	RequestDescribeTopic = "describe_topic"
	RequestCreateTopic   = "create_topic"
	RequestDeleteTopic   = "delete_topic"
	RequestListBrokers   = "list_brokers"

	RequestProduce        = "produce"
	RequestConsume        = "consume"
	RequestConsumeResults = "consume_results"

	RequestListGroups    = "list_groups"
	RequestDescribeGroup = "describe_group"
	RequestGroupOffsets  = "group_offsets"
	RequestCommitOffsets = "commit_offsets"

	RequestListACLs  = "list_acls"
	RequestCreateACL = "create_acl"
	RequestDeleteACL = "delete_acl"

	RequestZKChildren = "zk_children"
	RequestZKGet      = "zk_get"
	RequestZKSet      = "zk_set"
	RequestZKCreate   = "zk_create"
	RequestZKDelete   = "zk_delete"

	RequestListSubjects       = "list_subjects"
	RequestSubjectVersions    = "subject_versions"
	RequestGetSchema          = "get_schema"
	RequestRegisterSchema     = "register_schema"
	RequestCheckCompatibility = "check_compatibility"
	RequestDeleteSubject      = "delete_subject"

	RequestDecode = "decode"

	RequestTaskProgress = "task_progress"
	RequestTaskCancel   = "task_cancel"
	RequestTaskList     = "task_list"
	RequestTaskReap     = "task_reap"
)

// ConnectionRequest targets one configured connection.
type ConnectionRequest struct {
	ConnectionID int64 `json:"connection_id"`
}

// TopicRequest targets one topic of one connection.
type TopicRequest struct {
	ConnectionID int64  `json:"connection_id"`
	Topic        string `json:"topic"`
}

// CreateTopicRequest creates a topic.
type CreateTopicRequest struct {
	ConnectionID int64              `json:"connection_id"`
	Topic        string             `json:"topic"`
	Partitions   int32              `json:"partitions"`
	Replication  int16              `json:"replication"`
	Configs      map[string]*string `json:"configs,omitempty"`
}

// ProduceRequest publishes one message. Key and Value are base64 in JSON.
type ProduceRequest struct {
	ConnectionID int64  `json:"connection_id"`
	Topic        string `json:"topic"`
	Key          []byte `json:"key,omitempty"`
	Value        []byte `json:"value"`
}

// ConsumeRequest starts a background consume task.
type ConsumeRequest struct {
	ConnectionID int64  `json:"connection_id"`
	Topic        string `json:"topic"`
	Partition    int32  `json:"partition"` // -1 for all
	Offset       int64  `json:"offset"`    // absolute, -1 end, -2 start
	MaxCount     int    `json:"max_count"`
	KeyKind      string `json:"key_kind,omitempty"`   // decoder kind for keys
	ValueKind    string `json:"value_kind,omitempty"` // decoder kind for values
}

// ConsumedMessage is one decoded record in a consume task result.
type ConsumedMessage struct {
	Partition int32     `json:"partition"`
	Offset    int64     `json:"offset"`
	Timestamp time.Time `json:"timestamp"`
	Key       string    `json:"key"`
	Value     string    `json:"value"`
}

// GroupRequest targets one consumer group.
type GroupRequest struct {
	ConnectionID int64  `json:"connection_id"`
	GroupID      string `json:"group_id"`
}

// CommitOffsetsRequest seeks a group to new positions.
type CommitOffsetsRequest struct {
	ConnectionID int64          `json:"connection_id"`
	GroupID      string         `json:"group_id"`
	Offsets      []CommitOffset `json:"offsets"`
}

// CommitOffset is one partition position to commit.
type CommitOffset struct {
	Topic     string `json:"topic"`
	Partition int32  `json:"partition"`
	Offset    int64  `json:"offset"`
}

// ZKRequest addresses one znode.
type ZKRequest struct {
	ConnectionID int64  `json:"connection_id"`
	Path         string `json:"path"`
	Data         []byte `json:"data,omitempty"`
	Version      int32  `json:"version,omitempty"`
	Ephemeral    bool   `json:"ephemeral,omitempty"`
	Sequential   bool   `json:"sequential,omitempty"`
}

// SchemaRequest addresses a schema registry subject.
type SchemaRequest struct {
	ConnectionID int64  `json:"connection_id"`
	Subject      string `json:"subject"`
	Version      int    `json:"version,omitempty"` // 0 means latest
	Schema       string `json:"schema,omitempty"`
}

// DecodeRequest renders raw bytes with a named decoder kind.
type DecodeRequest struct {
	ConnectionID int64  `json:"connection_id,omitempty"` // needed for schema-based kinds
	Kind         string `json:"kind"`
	Data         []byte `json:"data"`
}

// TaskRequest targets one background task.
type TaskRequest struct {
	TaskID string `json:"task_id"`
}

// TaskSubmitted is the response to requests that start a background task.
type TaskSubmitted struct {
	TaskID string `json:"task_id"`
}

// StatusInfo is the daemon status response.
type StatusInfo struct {
	Version     string    `json:"version"`
	PID         int       `json:"pid"`
	StartedAt   time.Time `json:"started_at"`
	Connections int       `json:"connections"`
	Tasks       int       `json:"tasks"`
}
