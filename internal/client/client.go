// Package client talks to a running daemon over its per-instance unix
// socket. Each Client holds one connection; requests on it are serialized.
package client

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/topiclens/topiclens/internal/cluster"
	"github.com/topiclens/topiclens/internal/config"
	"github.com/topiclens/topiclens/internal/kafka"
	"github.com/topiclens/topiclens/internal/protocol"
	"github.com/topiclens/topiclens/internal/schemareg"
	"github.com/topiclens/topiclens/internal/tasks"
	"github.com/topiclens/topiclens/internal/zookeeper"
)

const dialTimeout = 5 * time.Second

// Client is a daemon IPC client.
type Client struct {
	mu   sync.Mutex
	conn net.Conn
	enc  *json.Encoder
	dec  *json.Decoder
}

// New connects to the daemon serving the named instance. An empty name
// selects the default instance.
func New(instanceName string) (*Client, error) {
	return Dial(config.GetInstancePaths(instanceName).Socket)
}

// Dial connects to a daemon socket directly.
func Dial(socketPath string) (*Client, error) {
	conn, err := net.DialTimeout("unix", socketPath, dialTimeout)
	if err != nil {
		return nil, fmt.Errorf("client: daemon not reachable at %s: %w", socketPath, err)
	}
	return &Client{
		conn: conn,
		enc:  json.NewEncoder(conn),
		dec:  json.NewDecoder(conn),
	}, nil
}

// Close releases the daemon connection.
func (c *Client) Close() error {
	return c.conn.Close()
}

// call performs one request/response exchange. The result pointer may be nil
// when the caller only cares about success.
func (c *Client) call(ctx context.Context, reqType string, payload, result any) error {
	req := protocol.Request{ID: uuid.NewString(), Type: reqType}
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("client: encode %s request: %w", reqType, err)
		}
		req.Data = data
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if deadline, ok := ctx.Deadline(); ok {
		c.conn.SetDeadline(deadline)
		defer c.conn.SetDeadline(time.Time{})
	}

	if err := c.enc.Encode(req); err != nil {
		return fmt.Errorf("client: send %s request: %w", reqType, err)
	}
	var resp protocol.Response
	if err := c.dec.Decode(&resp); err != nil {
		return fmt.Errorf("client: read %s response: %w", reqType, err)
	}
	if resp.ID != req.ID {
		return fmt.Errorf("client: response id %q does not match request %q", resp.ID, req.ID)
	}
	if !resp.Success {
		return fmt.Errorf("%s", resp.Error)
	}
	if result == nil {
		return nil
	}

	raw, err := json.Marshal(resp.Data)
	if err != nil {
		return fmt.Errorf("client: re-encode %s response data: %w", reqType, err)
	}
	if err := json.Unmarshal(raw, result); err != nil {
		return fmt.Errorf("client: decode %s response data: %w", reqType, err)
	}
	return nil
}

// --- daemon ----------------------------------------------------------------

func (c *Client) Status(ctx context.Context) (protocol.StatusInfo, error) {
	var info protocol.StatusInfo
	err := c.call(ctx, protocol.RequestDaemonStatus, nil, &info)
	return info, err
}

func (c *Client) Shutdown(ctx context.Context) error {
	return c.call(ctx, protocol.RequestShutdown, nil, nil)
}

// --- connections -----------------------------------------------------------

func (c *Client) ListConnections(ctx context.Context) ([]cluster.Status, error) {
	var list []cluster.Status
	err := c.call(ctx, protocol.RequestListConnections, nil, &list)
	return list, err
}

func (c *Client) CreateConnection(ctx context.Context, conn cluster.ServerConnection) (int64, error) {
	var created protocol.ConnectionRequest
	if err := c.call(ctx, protocol.RequestCreateConnection, conn, &created); err != nil {
		return 0, err
	}
	return created.ConnectionID, nil
}

func (c *Client) UpdateConnection(ctx context.Context, conn cluster.ServerConnection) error {
	return c.call(ctx, protocol.RequestUpdateConnection, conn, nil)
}

func (c *Client) DeleteConnection(ctx context.Context, id int64) error {
	return c.call(ctx, protocol.RequestDeleteConnection, protocol.ConnectionRequest{ConnectionID: id}, nil)
}

func (c *Client) Connect(ctx context.Context, id int64) error {
	return c.call(ctx, protocol.RequestConnect, protocol.ConnectionRequest{ConnectionID: id}, nil)
}

func (c *Client) Disconnect(ctx context.Context, id int64) error {
	return c.call(ctx, protocol.RequestDisconnect, protocol.ConnectionRequest{ConnectionID: id}, nil)
}

// --- topics and messages ---------------------------------------------------

func (c *Client) ListTopics(ctx context.Context, connID int64) ([]kafka.TopicInfo, error) {
	var topics []kafka.TopicInfo
	err := c.call(ctx, protocol.RequestListTopics, protocol.ConnectionRequest{ConnectionID: connID}, &topics)
	return topics, err
}

func (c *Client) DescribeTopic(ctx context.Context, connID int64, topic string) (kafka.TopicDetail, error) {
	var detail kafka.TopicDetail
	err := c.call(ctx, protocol.RequestDescribeTopic, protocol.TopicRequest{ConnectionID: connID, Topic: topic}, &detail)
	return detail, err
}

func (c *Client) CreateTopic(ctx context.Context, req protocol.CreateTopicRequest) error {
	return c.call(ctx, protocol.RequestCreateTopic, req, nil)
}

func (c *Client) DeleteTopic(ctx context.Context, connID int64, topic string) error {
	return c.call(ctx, protocol.RequestDeleteTopic, protocol.TopicRequest{ConnectionID: connID, Topic: topic}, nil)
}

func (c *Client) ListBrokers(ctx context.Context, connID int64) ([]kafka.BrokerInfo, error) {
	var brokers []kafka.BrokerInfo
	err := c.call(ctx, protocol.RequestListBrokers, protocol.ConnectionRequest{ConnectionID: connID}, &brokers)
	return brokers, err
}

func (c *Client) Produce(ctx context.Context, req protocol.ProduceRequest) error {
	return c.call(ctx, protocol.RequestProduce, req, nil)
}

// Consume submits a background consume task and returns its ID.
func (c *Client) Consume(ctx context.Context, req protocol.ConsumeRequest) (string, error) {
	var submitted protocol.TaskSubmitted
	if err := c.call(ctx, protocol.RequestConsume, req, &submitted); err != nil {
		return "", err
	}
	return submitted.TaskID, nil
}

// ConsumeResults fetches the messages buffered so far by a consume task.
func (c *Client) ConsumeResults(ctx context.Context, taskID string) ([]protocol.ConsumedMessage, error) {
	var msgs []protocol.ConsumedMessage
	err := c.call(ctx, protocol.RequestConsumeResults, protocol.TaskRequest{TaskID: taskID}, &msgs)
	return msgs, err
}

// --- consumer groups -------------------------------------------------------

func (c *Client) ListGroups(ctx context.Context, connID int64) ([]kafka.GroupInfo, error) {
	var groups []kafka.GroupInfo
	err := c.call(ctx, protocol.RequestListGroups, protocol.ConnectionRequest{ConnectionID: connID}, &groups)
	return groups, err
}

func (c *Client) DescribeGroup(ctx context.Context, connID int64, groupID string) (kafka.GroupDetail, error) {
	var detail kafka.GroupDetail
	err := c.call(ctx, protocol.RequestDescribeGroup, protocol.GroupRequest{ConnectionID: connID, GroupID: groupID}, &detail)
	return detail, err
}

func (c *Client) GroupOffsets(ctx context.Context, connID int64, groupID string) ([]kafka.OffsetInfo, error) {
	var offsets []kafka.OffsetInfo
	err := c.call(ctx, protocol.RequestGroupOffsets, protocol.GroupRequest{ConnectionID: connID, GroupID: groupID}, &offsets)
	return offsets, err
}

func (c *Client) CommitOffsets(ctx context.Context, req protocol.CommitOffsetsRequest) error {
	return c.call(ctx, protocol.RequestCommitOffsets, req, nil)
}

// --- ACLs ------------------------------------------------------------------

type aclRequest struct {
	ConnectionID int64     `json:"connection_id"`
	ACL          kafka.ACL `json:"acl"`
}

func (c *Client) ListACLs(ctx context.Context, connID int64) ([]kafka.ACL, error) {
	var acls []kafka.ACL
	err := c.call(ctx, protocol.RequestListACLs, protocol.ConnectionRequest{ConnectionID: connID}, &acls)
	return acls, err
}

func (c *Client) CreateACL(ctx context.Context, connID int64, acl kafka.ACL) error {
	return c.call(ctx, protocol.RequestCreateACL, aclRequest{ConnectionID: connID, ACL: acl}, nil)
}

func (c *Client) DeleteACL(ctx context.Context, connID int64, acl kafka.ACL) error {
	return c.call(ctx, protocol.RequestDeleteACL, aclRequest{ConnectionID: connID, ACL: acl}, nil)
}

// --- ZooKeeper -------------------------------------------------------------

func (c *Client) ZKChildren(ctx context.Context, connID int64, path string) ([]string, error) {
	var children []string
	err := c.call(ctx, protocol.RequestZKChildren, protocol.ZKRequest{ConnectionID: connID, Path: path}, &children)
	return children, err
}

func (c *Client) ZKGet(ctx context.Context, connID int64, path string) (zookeeper.Node, error) {
	var node zookeeper.Node
	err := c.call(ctx, protocol.RequestZKGet, protocol.ZKRequest{ConnectionID: connID, Path: path}, &node)
	return node, err
}

func (c *Client) ZKSet(ctx context.Context, connID int64, path string, data []byte, version int32) error {
	return c.call(ctx, protocol.RequestZKSet, protocol.ZKRequest{
		ConnectionID: connID, Path: path, Data: data, Version: version,
	}, nil)
}

func (c *Client) ZKCreate(ctx context.Context, connID int64, path string, data []byte, ephemeral, sequential bool) (string, error) {
	var created struct {
		Path string `json:"path"`
	}
	err := c.call(ctx, protocol.RequestZKCreate, protocol.ZKRequest{
		ConnectionID: connID, Path: path, Data: data, Ephemeral: ephemeral, Sequential: sequential,
	}, &created)
	return created.Path, err
}

func (c *Client) ZKDelete(ctx context.Context, connID int64, path string, version int32) error {
	return c.call(ctx, protocol.RequestZKDelete, protocol.ZKRequest{
		ConnectionID: connID, Path: path, Version: version,
	}, nil)
}

// --- schema registry -------------------------------------------------------

func (c *Client) ListSubjects(ctx context.Context, connID int64) ([]string, error) {
	var subjects []string
	err := c.call(ctx, protocol.RequestListSubjects, protocol.SchemaRequest{ConnectionID: connID}, &subjects)
	return subjects, err
}

func (c *Client) SubjectVersions(ctx context.Context, connID int64, subject string) ([]int, error) {
	var versions []int
	err := c.call(ctx, protocol.RequestSubjectVersions, protocol.SchemaRequest{ConnectionID: connID, Subject: subject}, &versions)
	return versions, err
}

func (c *Client) GetSchema(ctx context.Context, connID int64, subject string, version int) (schemareg.SubjectSchema, error) {
	var schema schemareg.SubjectSchema
	err := c.call(ctx, protocol.RequestGetSchema, protocol.SchemaRequest{
		ConnectionID: connID, Subject: subject, Version: version,
	}, &schema)
	return schema, err
}

func (c *Client) RegisterSchema(ctx context.Context, connID int64, subject, schema string) (schemareg.SubjectSchema, error) {
	var registered schemareg.SubjectSchema
	err := c.call(ctx, protocol.RequestRegisterSchema, protocol.SchemaRequest{
		ConnectionID: connID, Subject: subject, Schema: schema,
	}, &registered)
	return registered, err
}

// CompatibilityResult reports a schema compatibility check.
type CompatibilityResult struct {
	Compatible bool     `json:"compatible"`
	Messages   []string `json:"messages"`
}

func (c *Client) CheckCompatibility(ctx context.Context, connID int64, subject, schema string) (CompatibilityResult, error) {
	var result CompatibilityResult
	err := c.call(ctx, protocol.RequestCheckCompatibility, protocol.SchemaRequest{
		ConnectionID: connID, Subject: subject, Schema: schema,
	}, &result)
	return result, err
}

func (c *Client) DeleteSubject(ctx context.Context, connID int64, subject string) ([]int, error) {
	var versions []int
	err := c.call(ctx, protocol.RequestDeleteSubject, protocol.SchemaRequest{ConnectionID: connID, Subject: subject}, &versions)
	return versions, err
}

// --- decoding --------------------------------------------------------------

func (c *Client) Decode(ctx context.Context, connID int64, kind string, data []byte) (string, error) {
	var result struct {
		Text string `json:"text"`
	}
	err := c.call(ctx, protocol.RequestDecode, protocol.DecodeRequest{
		ConnectionID: connID, Kind: kind, Data: data,
	}, &result)
	return result.Text, err
}

// --- tasks -----------------------------------------------------------------

func (c *Client) TaskProgress(ctx context.Context, taskID string) (tasks.Progress, error) {
	var p tasks.Progress
	err := c.call(ctx, protocol.RequestTaskProgress, protocol.TaskRequest{TaskID: taskID}, &p)
	return p, err
}

func (c *Client) CancelTask(ctx context.Context, taskID string) error {
	return c.call(ctx, protocol.RequestTaskCancel, protocol.TaskRequest{TaskID: taskID}, nil)
}

func (c *Client) ListTasks(ctx context.Context) ([]tasks.Progress, error) {
	var list []tasks.Progress
	err := c.call(ctx, protocol.RequestTaskList, nil, &list)
	return list, err
}

func (c *Client) ReapTask(ctx context.Context, taskID string) error {
	return c.call(ctx, protocol.RequestTaskReap, protocol.TaskRequest{TaskID: taskID}, nil)
}
