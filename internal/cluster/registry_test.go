package cluster

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/topiclens/topiclens/internal/eventbus"
	"github.com/topiclens/topiclens/internal/kafka"
)

// fakeKafka embeds the interface so only the methods the registry touches
// need real implementations.
type fakeKafka struct {
	kafka.Client
	closed atomic.Bool
}

func (f *fakeKafka) Close() { f.closed.Store(true) }

type fakeDialer struct {
	dials   atomic.Int64
	err     error
	block   chan struct{} // when non-nil, Dial waits on it
	bundles []*fakeKafka
}

func (d *fakeDialer) Dial(ctx context.Context, _ ServerConnection) (*Bundle, error) {
	d.dials.Add(1)
	if d.block != nil {
		select {
		case <-d.block:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if d.err != nil {
		return nil, d.err
	}
	fk := &fakeKafka{}
	d.bundles = append(d.bundles, fk)
	return &Bundle{Kafka: fk}, nil
}

func testConn(id int64) ServerConnection {
	return ServerConnection{
		ID:               id,
		Name:             "local",
		BootstrapServers: []string{"localhost:9092"},
		Security:         kafka.SecurityPlaintext,
	}
}

func TestConnectLifecycle(t *testing.T) {
	dialer := &fakeDialer{}
	reg := NewRegistry(dialer, nil)
	ctx := context.Background()

	if err := reg.Add(ctx, testConn(1)); err != nil {
		t.Fatal(err)
	}
	if _, err := reg.Handle(1); !errors.Is(err, ErrNotConnected) {
		t.Fatalf("expected ErrNotConnected before connect, got %v", err)
	}

	if err := reg.Connect(ctx, 1); err != nil {
		t.Fatal(err)
	}
	bundle, err := reg.Handle(1)
	if err != nil {
		t.Fatal(err)
	}
	if bundle.Kafka == nil {
		t.Fatal("bundle without kafka client")
	}

	// Connect while connected is a no-op: no second dial, no second bundle.
	if err := reg.Connect(ctx, 1); err != nil {
		t.Fatal(err)
	}
	if got := dialer.dials.Load(); got != 1 {
		t.Fatalf("expected 1 dial, got %d", got)
	}

	if err := reg.Disconnect(ctx, 1); err != nil {
		t.Fatal(err)
	}
	if !dialer.bundles[0].closed.Load() {
		t.Fatal("disconnect must close the bundle")
	}
	if _, err := reg.Handle(1); !errors.Is(err, ErrNotConnected) {
		t.Fatalf("expected ErrNotConnected after disconnect, got %v", err)
	}

	// Reconnect builds a fresh bundle; the old one stays closed.
	if err := reg.Connect(ctx, 1); err != nil {
		t.Fatal(err)
	}
	if len(dialer.bundles) != 2 {
		t.Fatalf("expected a second bundle, got %d", len(dialer.bundles))
	}
	if dialer.bundles[0].closed.Load() != true || dialer.bundles[1].closed.Load() {
		t.Fatal("bundle states after reconnect are wrong")
	}
}

func TestConcurrentConnectCollapses(t *testing.T) {
	dialer := &fakeDialer{block: make(chan struct{})}
	reg := NewRegistry(dialer, nil)
	ctx := context.Background()

	if err := reg.Add(ctx, testConn(1)); err != nil {
		t.Fatal(err)
	}

	first := make(chan error, 1)
	go func() { first <- reg.Connect(ctx, 1) }()

	waitForState(t, reg, 1, StateConnecting)
	if err := reg.Connect(ctx, 1); !errors.Is(err, ErrAlreadyConnecting) {
		t.Fatalf("expected ErrAlreadyConnecting, got %v", err)
	}

	close(dialer.block)
	if err := <-first; err != nil {
		t.Fatal(err)
	}
	if got := dialer.dials.Load(); got != 1 {
		t.Fatalf("expected a single dial, got %d", got)
	}
}

func TestConnectFailure(t *testing.T) {
	dialer := &fakeDialer{err: errors.New("broker refused")}
	reg := NewRegistry(dialer, nil)
	ctx := context.Background()

	if err := reg.Add(ctx, testConn(1)); err != nil {
		t.Fatal(err)
	}
	if err := reg.Connect(ctx, 1); err == nil {
		t.Fatal("expected connect error")
	}

	statuses := reg.List()
	if len(statuses) != 1 || statuses[0].State != StateFailed {
		t.Fatalf("expected failed status, got %+v", statuses)
	}
	if statuses[0].Reason == "" {
		t.Fatal("failed status must carry a reason")
	}
	if _, err := reg.Handle(1); !errors.Is(err, ErrNotConnected) {
		t.Fatalf("expected ErrNotConnected, got %v", err)
	}

	// A failed connection can be retried.
	dialer.err = nil
	if err := reg.Connect(ctx, 1); err != nil {
		t.Fatal(err)
	}
	if st := reg.List()[0]; st.State != StateConnected || st.Reason != "" {
		t.Fatalf("expected connected with cleared reason, got %+v", st)
	}
}

func TestRemoveDuringConnectDiscardsBundle(t *testing.T) {
	dialer := &fakeDialer{block: make(chan struct{})}
	reg := NewRegistry(dialer, nil)
	ctx := context.Background()

	if err := reg.Add(ctx, testConn(1)); err != nil {
		t.Fatal(err)
	}

	result := make(chan error, 1)
	go func() { result <- reg.Connect(ctx, 1) }()
	waitForState(t, reg, 1, StateConnecting)

	if err := reg.Remove(ctx, 1); err != nil {
		t.Fatal(err)
	}
	close(dialer.block)

	if err := <-result; !IsNotFound(err) {
		t.Fatalf("expected NotFoundError from orphaned connect, got %v", err)
	}
	if len(dialer.bundles) != 1 || !dialer.bundles[0].closed.Load() {
		t.Fatal("orphaned bundle must be closed")
	}
}

func TestDisconnectDuringConnectSupersedesDial(t *testing.T) {
	dialer := &fakeDialer{block: make(chan struct{})}
	reg := NewRegistry(dialer, nil)
	ctx := context.Background()

	if err := reg.Add(ctx, testConn(1)); err != nil {
		t.Fatal(err)
	}

	result := make(chan error, 1)
	go func() { result <- reg.Connect(ctx, 1) }()
	waitForState(t, reg, 1, StateConnecting)

	if err := reg.Disconnect(ctx, 1); err != nil {
		t.Fatal(err)
	}
	close(dialer.block)

	// The connection still exists, so the superseded dial must not claim
	// it is missing.
	err := <-result
	if !errors.Is(err, ErrNotConnected) {
		t.Fatalf("expected ErrNotConnected from superseded connect, got %v", err)
	}
	if IsNotFound(err) {
		t.Fatalf("superseded connect reported the connection missing: %v", err)
	}
	if len(dialer.bundles) != 1 || !dialer.bundles[0].closed.Load() {
		t.Fatal("superseded bundle must be closed")
	}
	if st := reg.List()[0]; st.State != StateDisconnected {
		t.Fatalf("expected disconnected state after supersession, got %+v", st)
	}
}

func TestUpdateBusyWhileConnected(t *testing.T) {
	dialer := &fakeDialer{}
	reg := NewRegistry(dialer, nil)
	ctx := context.Background()

	conn := testConn(1)
	if err := reg.Add(ctx, conn); err != nil {
		t.Fatal(err)
	}
	if err := reg.Connect(ctx, 1); err != nil {
		t.Fatal(err)
	}

	conn.Name = "renamed"
	if err := reg.Update(conn); !errors.Is(err, ErrBusy) {
		t.Fatalf("expected ErrBusy, got %v", err)
	}

	if err := reg.Disconnect(ctx, 1); err != nil {
		t.Fatal(err)
	}
	if err := reg.Update(conn); err != nil {
		t.Fatal(err)
	}
	got, err := reg.Get(1)
	if err != nil || got.Name != "renamed" {
		t.Fatalf("update not applied: %+v, %v", got, err)
	}
}

func TestLifecycleEvents(t *testing.T) {
	bus := eventbus.New()
	defer bus.Shutdown()
	sub := eventbus.SubscribeTo(bus, eventbus.Connections.Lifecycle, eventbus.WithSubscriptionBuffer(16))
	defer sub.Close()

	dialer := &fakeDialer{}
	reg := NewRegistry(dialer, bus)
	ctx := context.Background()

	if err := reg.Add(ctx, testConn(7)); err != nil {
		t.Fatal(err)
	}
	if err := reg.Connect(ctx, 7); err != nil {
		t.Fatal(err)
	}
	if err := reg.Disconnect(ctx, 7); err != nil {
		t.Fatal(err)
	}
	if err := reg.Remove(ctx, 7); err != nil {
		t.Fatal(err)
	}

	want := []eventbus.ConnectionState{
		eventbus.ConnectionAdded,
		eventbus.ConnectionConnecting,
		eventbus.ConnectionConnected,
		eventbus.ConnectionDisconnected,
		eventbus.ConnectionRemoved,
	}
	for i, w := range want {
		select {
		case env := <-sub.C():
			if env.Payload.State != w || env.Payload.ConnectionID != 7 {
				t.Fatalf("event %d = %+v, want state %s", i, env.Payload, w)
			}
		case <-time.After(time.Second):
			t.Fatalf("timed out waiting for event %d (%s)", i, w)
		}
	}
}

func waitForState(t *testing.T, reg *Registry, id int64, want State) {
	t.Helper()
	deadline := time.After(time.Second)
	for {
		for _, st := range reg.List() {
			if st.ID == id && st.State == want {
				return
			}
		}
		select {
		case <-deadline:
			t.Fatalf("connection %d never reached %s", id, want)
		case <-time.After(5 * time.Millisecond):
		}
	}
}
