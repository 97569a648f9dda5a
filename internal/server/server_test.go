package server

import (
	"context"
	"encoding/json"
	"net"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/topiclens/topiclens/internal/cluster"
	"github.com/topiclens/topiclens/internal/config/store"
	"github.com/topiclens/topiclens/internal/eventbus"
	"github.com/topiclens/topiclens/internal/kafka"
	"github.com/topiclens/topiclens/internal/protocol"
	"github.com/topiclens/topiclens/internal/tasks"
)

// fakeKafka embeds the interface so only the methods a test exercises need
// real implementations.
type fakeKafka struct {
	kafka.Client

	topics   []kafka.TopicInfo
	consumed []kafka.Message
}

func (f *fakeKafka) ListTopics(ctx context.Context) ([]kafka.TopicInfo, error) {
	return f.topics, nil
}

func (f *fakeKafka) CreateTopic(ctx context.Context, name string, partitions int32, replication int16, configs map[string]*string) error {
	f.topics = append(f.topics, kafka.TopicInfo{Name: name, Partitions: int(partitions)})
	return nil
}

func (f *fakeKafka) Consume(ctx context.Context, opts kafka.ConsumeOptions, fn func(kafka.Message) bool) error {
	for _, m := range f.consumed {
		if err := ctx.Err(); err != nil {
			return err
		}
		if !fn(m) {
			return nil
		}
	}
	return nil
}

func (f *fakeKafka) Close() {}

type fakeDialer struct {
	kafka *fakeKafka
}

func (d *fakeDialer) Dial(ctx context.Context, _ cluster.ServerConnection) (*cluster.Bundle, error) {
	return &cluster.Bundle{Kafka: d.kafka}, nil
}

func newTestGateway(t *testing.T, dialer cluster.Dialer) *Gateway {
	t.Helper()

	st, err := store.Open(store.Options{DBPath: filepath.Join(t.TempDir(), "config.db")})
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	bus := eventbus.New()
	t.Cleanup(bus.Shutdown)

	registry := cluster.NewRegistry(dialer, bus)
	t.Cleanup(registry.Shutdown)

	manager := tasks.NewManager(bus)
	t.Cleanup(func() { manager.Shutdown(context.Background()) })

	return NewGateway(Deps{
		SocketPath: filepath.Join(t.TempDir(), "test.sock"),
		Registry:   registry,
		Store:      st,
		Tasks:      manager,
		Bus:        bus,
		Version:    "test",
	})
}

func request(t *testing.T, typ string, payload any) protocol.Request {
	t.Helper()
	data, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("marshal %s payload: %v", typ, err)
	}
	return protocol.Request{ID: "req-" + typ, Type: typ, Data: data}
}

func decodeData[T any](t *testing.T, resp protocol.Response) T {
	t.Helper()
	var v T
	raw, err := json.Marshal(resp.Data)
	if err != nil {
		t.Fatalf("re-marshal response data: %v", err)
	}
	if err := json.Unmarshal(raw, &v); err != nil {
		t.Fatalf("decode response data: %v", err)
	}
	return v
}

func TestDaemonStatus(t *testing.T) {
	g := newTestGateway(t, &fakeDialer{kafka: &fakeKafka{}})

	resp := g.dispatch(context.Background(), protocol.Request{ID: "1", Type: protocol.RequestDaemonStatus})
	if !resp.Success {
		t.Fatalf("status failed: %s", resp.Error)
	}
	info := decodeData[protocol.StatusInfo](t, resp)
	if info.PID != os.Getpid() {
		t.Errorf("PID = %d, want %d", info.PID, os.Getpid())
	}
	if info.Version != "test" {
		t.Errorf("Version = %q, want %q", info.Version, "test")
	}
}

func TestUnknownRequestType(t *testing.T) {
	g := newTestGateway(t, &fakeDialer{kafka: &fakeKafka{}})

	resp := g.dispatch(context.Background(), protocol.Request{ID: "1", Type: "no_such_request"})
	if resp.Success {
		t.Fatal("unknown request type should fail")
	}
	if !strings.Contains(resp.Error, "no_such_request") {
		t.Errorf("error %q does not name the bad type", resp.Error)
	}
}

func TestConnectionLifecycleDispatch(t *testing.T) {
	fk := &fakeKafka{topics: []kafka.TopicInfo{{Name: "orders", Partitions: 3}}}
	g := newTestGateway(t, &fakeDialer{kafka: fk})
	ctx := context.Background()

	resp := g.dispatch(ctx, request(t, protocol.RequestCreateConnection, cluster.ServerConnection{
		Name:             "local",
		BootstrapServers: []string{"localhost:9092"},
		Security:         kafka.SecurityPlaintext,
	}))
	if !resp.Success {
		t.Fatalf("create connection: %s", resp.Error)
	}
	id := decodeData[protocol.ConnectionRequest](t, resp).ConnectionID
	if id == 0 {
		t.Fatal("create connection returned no id")
	}

	// Topic listing before connect must fail fast.
	resp = g.dispatch(ctx, request(t, protocol.RequestListTopics, protocol.ConnectionRequest{ConnectionID: id}))
	if resp.Success {
		t.Fatal("list topics on a disconnected connection should fail")
	}

	resp = g.dispatch(ctx, request(t, protocol.RequestConnect, protocol.ConnectionRequest{ConnectionID: id}))
	if !resp.Success {
		t.Fatalf("connect: %s", resp.Error)
	}

	resp = g.dispatch(ctx, request(t, protocol.RequestListTopics, protocol.ConnectionRequest{ConnectionID: id}))
	if !resp.Success {
		t.Fatalf("list topics: %s", resp.Error)
	}
	topics := decodeData[[]kafka.TopicInfo](t, resp)
	if len(topics) != 1 || topics[0].Name != "orders" {
		t.Errorf("topics = %+v, want one entry named orders", topics)
	}

	resp = g.dispatch(ctx, request(t, protocol.RequestDisconnect, protocol.ConnectionRequest{ConnectionID: id}))
	if !resp.Success {
		t.Fatalf("disconnect: %s", resp.Error)
	}
	resp = g.dispatch(ctx, request(t, protocol.RequestDeleteConnection, protocol.ConnectionRequest{ConnectionID: id}))
	if !resp.Success {
		t.Fatalf("delete connection: %s", resp.Error)
	}

	resp = g.dispatch(ctx, request(t, protocol.RequestListConnections, nil))
	if !resp.Success {
		t.Fatalf("list connections: %s", resp.Error)
	}
	if list := decodeData[[]cluster.Status](t, resp); len(list) != 0 {
		t.Errorf("connections after delete = %+v, want none", list)
	}
}

func TestCreateTopicPublishesChange(t *testing.T) {
	fk := &fakeKafka{}
	g := newTestGateway(t, &fakeDialer{kafka: fk})
	ctx := context.Background()

	id := mustAddConnected(t, g)

	sub := eventbus.SubscribeTo(g.bus, eventbus.Topics.Changed)
	defer sub.Close()

	resp := g.dispatch(ctx, request(t, protocol.RequestCreateTopic, protocol.CreateTopicRequest{
		ConnectionID: id,
		Topic:        "audit",
		Partitions:   1,
		Replication:  1,
	}))
	if !resp.Success {
		t.Fatalf("create topic: %s", resp.Error)
	}

	select {
	case env := <-sub.C():
		if env.Payload.Topic != "audit" || env.Payload.Change != eventbus.ChangeCreated {
			t.Errorf("change event = %+v", env.Payload)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no topic change event published")
	}
}

func TestConsumeTaskRoundTrip(t *testing.T) {
	now := time.Now().UTC().Truncate(time.Millisecond)
	fk := &fakeKafka{consumed: []kafka.Message{
		{Topic: "orders", Partition: 0, Offset: 7, Timestamp: now, Key: []byte("k1"), Value: []byte("v1")},
		{Topic: "orders", Partition: 0, Offset: 8, Timestamp: now, Key: nil, Value: []byte("v2")},
	}}
	g := newTestGateway(t, &fakeDialer{kafka: fk})
	ctx := context.Background()

	id := mustAddConnected(t, g)

	resp := g.dispatch(ctx, request(t, protocol.RequestConsume, protocol.ConsumeRequest{
		ConnectionID: id,
		Topic:        "orders",
		Partition:    0,
		Offset:       kafka.OffsetStart,
		MaxCount:     10,
	}))
	if !resp.Success {
		t.Fatalf("consume: %s", resp.Error)
	}
	taskID := decodeData[protocol.TaskSubmitted](t, resp).TaskID

	waitCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := g.tasks.Wait(waitCtx, taskID); err != nil {
		t.Fatalf("wait for consume task: %v", err)
	}
	p, err := g.tasks.Progress(taskID)
	if err != nil {
		t.Fatalf("task progress: %v", err)
	}
	if p.State != tasks.StateSucceeded {
		t.Fatalf("task state = %s (%s), want succeeded", p.State, p.Error)
	}

	resp = g.dispatch(ctx, request(t, protocol.RequestConsumeResults, protocol.TaskRequest{TaskID: taskID}))
	if !resp.Success {
		t.Fatalf("consume results: %s", resp.Error)
	}
	msgs := decodeData[[]protocol.ConsumedMessage](t, resp)
	if len(msgs) != 2 {
		t.Fatalf("got %d messages, want 2", len(msgs))
	}
	if msgs[0].Key != "k1" || msgs[0].Value != "v1" || msgs[0].Offset != 7 {
		t.Errorf("first message = %+v", msgs[0])
	}
	if msgs[1].Key != "" {
		t.Errorf("nil key rendered as %q, want empty", msgs[1].Key)
	}

	// Reaping the task releases its buffered results too.
	resp = g.dispatch(ctx, request(t, protocol.RequestTaskReap, protocol.TaskRequest{TaskID: taskID}))
	if !resp.Success {
		t.Fatalf("reap: %s", resp.Error)
	}
	resp = g.dispatch(ctx, request(t, protocol.RequestConsumeResults, protocol.TaskRequest{TaskID: taskID}))
	if resp.Success {
		t.Fatal("results should be gone after reap")
	}
}

func TestConsumeOnDisconnectedConnectionFailsTask(t *testing.T) {
	g := newTestGateway(t, &fakeDialer{kafka: &fakeKafka{}})
	ctx := context.Background()

	resp := g.dispatch(ctx, request(t, protocol.RequestCreateConnection, cluster.ServerConnection{
		Name:             "local",
		BootstrapServers: []string{"localhost:9092"},
		Security:         kafka.SecurityPlaintext,
	}))
	if !resp.Success {
		t.Fatalf("create connection: %s", resp.Error)
	}
	id := decodeData[protocol.ConnectionRequest](t, resp).ConnectionID

	// Submitting against a disconnected connection still succeeds; the
	// failure surfaces in the task record.
	resp = g.dispatch(ctx, request(t, protocol.RequestConsume, protocol.ConsumeRequest{
		ConnectionID: id, Topic: "orders", MaxCount: 1,
	}))
	if !resp.Success {
		t.Fatalf("consume submit: %s", resp.Error)
	}
	taskID := decodeData[protocol.TaskSubmitted](t, resp).TaskID

	waitCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := g.tasks.Wait(waitCtx, taskID); err != nil {
		t.Fatalf("wait: %v", err)
	}
	p, err := g.tasks.Progress(taskID)
	if err != nil {
		t.Fatalf("progress: %v", err)
	}
	if p.State != tasks.StateFailed {
		t.Errorf("task state = %s, want failed", p.State)
	}
	if !strings.Contains(p.Error, "not connected") {
		t.Errorf("task error %q does not mention the disconnected state", p.Error)
	}
}

func TestUnixSocketRoundTrip(t *testing.T) {
	g := newTestGateway(t, &fakeDialer{kafka: &fakeKafka{}})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := g.Start(ctx); err != nil {
		t.Fatalf("start gateway: %v", err)
	}
	defer func() {
		shutdownCtx, stop := context.WithTimeout(context.Background(), 5*time.Second)
		defer stop()
		g.Shutdown(shutdownCtx)
	}()

	conn, err := net.Dial("unix", g.socketPath)
	if err != nil {
		t.Fatalf("dial socket: %v", err)
	}
	defer conn.Close()

	if err := json.NewEncoder(conn).Encode(protocol.Request{ID: "rt-1", Type: protocol.RequestDaemonStatus}); err != nil {
		t.Fatalf("send request: %v", err)
	}
	var resp protocol.Response
	if err := json.NewDecoder(conn).Decode(&resp); err != nil {
		t.Fatalf("read response: %v", err)
	}
	if resp.ID != "rt-1" || !resp.Success {
		t.Fatalf("response = %+v", resp)
	}
}

// mustAddConnected creates and connects one connection, returning its ID.
func mustAddConnected(t *testing.T, g *Gateway) int64 {
	t.Helper()
	ctx := context.Background()

	resp := g.dispatch(ctx, request(t, protocol.RequestCreateConnection, cluster.ServerConnection{
		Name:             "local",
		BootstrapServers: []string{"localhost:9092"},
		Security:         kafka.SecurityPlaintext,
	}))
	if !resp.Success {
		t.Fatalf("create connection: %s", resp.Error)
	}
	id := decodeData[protocol.ConnectionRequest](t, resp).ConnectionID

	resp = g.dispatch(ctx, request(t, protocol.RequestConnect, protocol.ConnectionRequest{ConnectionID: id}))
	if !resp.Success {
		t.Fatalf("connect: %s", resp.Error)
	}
	return id
}
