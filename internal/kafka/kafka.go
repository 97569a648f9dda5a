// Package kafka adapts franz-go to the capability set the daemon exposes for
// a connected cluster: topic administration, producing, batched consuming,
// consumer groups, offsets, brokers and ACL management.
package kafka

import (
	"context"
	"errors"
	"time"
)

// ErrUnreachable reports that the cluster did not answer the initial probe.
var ErrUnreachable = errors.New("kafka: cluster unreachable")

// SecurityMode mirrors the connection profile's security setting.
type SecurityMode string

const (
	SecurityPlaintext     SecurityMode = "PLAINTEXT"
	SecuritySSL           SecurityMode = "SSL"
	SecuritySASLPlaintext SecurityMode = "SASL_PLAINTEXT"
	SecuritySASLSSL       SecurityMode = "SASL_SSL"
)

// SASLMechanism selects the SASL authenticator.
type SASLMechanism string

const (
	SASLPlain       SASLMechanism = "PLAIN"
	SASLScramSha256 SASLMechanism = "SCRAM-SHA-256"
	SASLScramSha512 SASLMechanism = "SCRAM-SHA-512"
)

// Config carries everything needed to dial a cluster. Password is plaintext
// here: credential decryption happens before the dial.
type Config struct {
	BootstrapServers []string
	Security         SecurityMode
	Mechanism        SASLMechanism
	Username         string
	Password         string
	TLSSkipVerify    bool
	ClientID         string
}

// TopicInfo is a row in the topic listing.
type TopicInfo struct {
	Name              string `json:"name"`
	Partitions        int    `json:"partitions"`
	ReplicationFactor int    `json:"replication_factor"`
	Internal          bool   `json:"internal"`
}

// PartitionInfo describes one partition of a topic.
type PartitionInfo struct {
	Partition int32   `json:"partition"`
	Leader    int32   `json:"leader"`
	Replicas  []int32 `json:"replicas"`
	ISR       []int32 `json:"isr"`
}

// TopicDetail is the full description of a topic.
type TopicDetail struct {
	Name       string            `json:"name"`
	Internal   bool              `json:"internal"`
	Partitions []PartitionInfo   `json:"partitions"`
	Configs    map[string]string `json:"configs,omitempty"`
}

// BrokerInfo describes one cluster node.
type BrokerInfo struct {
	NodeID     int32  `json:"node_id"`
	Host       string `json:"host"`
	Port       int32  `json:"port"`
	Rack       string `json:"rack,omitempty"`
	Controller bool   `json:"controller"`
}

// Header is a message header.
type Header struct {
	Key   string `json:"key"`
	Value []byte `json:"value"`
}

// Message is one consumed record.
type Message struct {
	Topic     string    `json:"topic"`
	Partition int32     `json:"partition"`
	Offset    int64     `json:"offset"`
	Timestamp time.Time `json:"timestamp"`
	Key       []byte    `json:"key"`
	Value     []byte    `json:"value"`
	Headers   []Header  `json:"headers,omitempty"`
}

// Consume start positions for ConsumeOptions.Offset.
const (
	OffsetEnd   int64 = -1
	OffsetStart int64 = -2
)

// ConsumeOptions bounds a consume task.
type ConsumeOptions struct {
	Topic     string
	Partition int32 // -1 consumes all partitions
	Offset    int64 // absolute, or OffsetStart / OffsetEnd
	MaxCount  int   // stop after this many records; 0 means no bound
}

// GroupInfo is a row in the consumer group listing.
type GroupInfo struct {
	GroupID      string `json:"group_id"`
	State        string `json:"state"`
	ProtocolType string `json:"protocol_type"`
	Coordinator  int32  `json:"coordinator"`
}

// MemberInfo describes one member of a consumer group.
type MemberInfo struct {
	MemberID   string           `json:"member_id"`
	ClientID   string           `json:"client_id"`
	ClientHost string           `json:"client_host"`
	Assigned   []TopicPartition `json:"assigned,omitempty"`
}

// TopicPartition names one partition of one topic.
type TopicPartition struct {
	Topic     string `json:"topic"`
	Partition int32  `json:"partition"`
}

// GroupDetail is the full description of a consumer group.
type GroupDetail struct {
	GroupID      string       `json:"group_id"`
	State        string       `json:"state"`
	ProtocolType string       `json:"protocol_type"`
	Protocol     string       `json:"protocol"`
	Members      []MemberInfo `json:"members"`
}

// OffsetInfo is the committed position and lag of a group on one partition.
type OffsetInfo struct {
	Topic     string `json:"topic"`
	Partition int32  `json:"partition"`
	Committed int64  `json:"committed"`
	End       int64  `json:"end"`
	Lag       int64  `json:"lag"`
}

// ACL mirrors a Kafka ACL binding in display form.
type ACL struct {
	ResourceType string `json:"resource_type"` // topic, group, cluster, transactional_id
	ResourceName string `json:"resource_name"`
	PatternType  string `json:"pattern_type"` // literal, prefixed
	Principal    string `json:"principal"`
	Host         string `json:"host"`
	Operation    string `json:"operation"`
	Permission   string `json:"permission"` // allow, deny
}

// Client is the cluster capability surface. The production implementation
// lives behind Dial; tests substitute fakes.
type Client interface {
	ListTopics(ctx context.Context) ([]TopicInfo, error)
	DescribeTopic(ctx context.Context, name string) (TopicDetail, error)
	CreateTopic(ctx context.Context, name string, partitions int32, replication int16, configs map[string]*string) error
	DeleteTopic(ctx context.Context, name string) error

	ListBrokers(ctx context.Context) ([]BrokerInfo, error)

	Produce(ctx context.Context, topic string, key, value []byte, headers []Header) (partition int32, offset int64, err error)
	// Consume streams records to fn until the bound is reached, fn returns
	// false, or ctx is cancelled. Cancellation is honored between polls.
	Consume(ctx context.Context, opts ConsumeOptions, fn func(Message) bool) error

	ListGroups(ctx context.Context) ([]GroupInfo, error)
	DescribeGroup(ctx context.Context, group string) (GroupDetail, error)
	GroupOffsets(ctx context.Context, group string) ([]OffsetInfo, error)
	CommitOffsets(ctx context.Context, group string, offsets []OffsetInfo) error

	ListACLs(ctx context.Context) ([]ACL, error)
	CreateACL(ctx context.Context, acl ACL) error
	DeleteACL(ctx context.Context, acl ACL) error

	Close()
}
