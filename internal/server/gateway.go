// Package server exposes the daemon over IPC: a unix socket speaking the
// JSON request/response protocol, and a localhost websocket endpoint that
// streams bus events to UI subscribers.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/topiclens/topiclens/internal/cluster"
	"github.com/topiclens/topiclens/internal/config/store"
	"github.com/topiclens/topiclens/internal/eventbus"
	"github.com/topiclens/topiclens/internal/protocol"
	"github.com/topiclens/topiclens/internal/tasks"
)

// consumeResultCap bounds how many decoded records one consume task retains.
const consumeResultCap = 1000

// Gateway serves the JSON protocol on a unix socket.
type Gateway struct {
	socketPath string
	registry   *cluster.Registry
	store      *store.Store
	tasks      *tasks.Manager
	bus        *eventbus.Bus
	version    string
	startedAt  time.Time
	onShutdown func() // invoked when a client requests daemon shutdown

	mu       sync.Mutex
	listener net.Listener
	wg       sync.WaitGroup

	resultsMu sync.Mutex
	results   map[string]*resultBuffer
}

// resultBuffer accumulates decoded records for one consume task. The task's
// worker writes while IPC readers snapshot.
type resultBuffer struct {
	mu   sync.Mutex
	msgs []protocol.ConsumedMessage
}

func (b *resultBuffer) add(m protocol.ConsumedMessage) {
	b.mu.Lock()
	b.msgs = append(b.msgs, m)
	b.mu.Unlock()
}

func (b *resultBuffer) snapshot() []protocol.ConsumedMessage {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]protocol.ConsumedMessage, len(b.msgs))
	copy(out, b.msgs)
	return out
}

func (b *resultBuffer) len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.msgs)
}

// Deps wires the gateway's collaborators.
type Deps struct {
	SocketPath string
	Registry   *cluster.Registry
	Store      *store.Store
	Tasks      *tasks.Manager
	Bus        *eventbus.Bus
	Version    string
	OnShutdown func()
}

// NewGateway builds a gateway; call Start to begin serving.
func NewGateway(deps Deps) *Gateway {
	return &Gateway{
		socketPath: deps.SocketPath,
		registry:   deps.Registry,
		store:      deps.Store,
		tasks:      deps.Tasks,
		bus:        deps.Bus,
		version:    deps.Version,
		startedAt:  time.Now().UTC(),
		onShutdown: deps.OnShutdown,
		results:    make(map[string]*resultBuffer),
	}
}

// Start listens on the unix socket and serves until Shutdown.
func (g *Gateway) Start(ctx context.Context) error {
	if g.socketPath == "" {
		return fmt.Errorf("server: socket path is empty")
	}

	if err := os.MkdirAll(filepath.Dir(g.socketPath), 0o755); err != nil {
		return fmt.Errorf("server: create socket directory: %w", err)
	}
	if err := os.Remove(g.socketPath); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("server: remove stale socket: %w", err)
	}

	listener, err := net.Listen("unix", g.socketPath)
	if err != nil {
		return fmt.Errorf("server: listen on %s: %w", g.socketPath, err)
	}
	if err := os.Chmod(g.socketPath, 0o600); err != nil {
		listener.Close()
		return fmt.Errorf("server: set socket permissions: %w", err)
	}

	g.mu.Lock()
	g.listener = listener
	g.mu.Unlock()

	g.wg.Add(1)
	go g.acceptLoop(ctx, listener)

	log.Printf("[Gateway] listening on %s", g.socketPath)
	return nil
}

// Shutdown stops accepting, waits for in-flight connections, and removes the
// socket file.
func (g *Gateway) Shutdown(ctx context.Context) error {
	g.mu.Lock()
	listener := g.listener
	g.listener = nil
	g.mu.Unlock()

	if listener != nil {
		listener.Close()
	}

	done := make(chan struct{})
	go func() {
		g.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
	}

	if err := os.Remove(g.socketPath); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("server: remove socket: %w", err)
	}
	return nil
}

func (g *Gateway) acceptLoop(ctx context.Context, listener net.Listener) {
	defer g.wg.Done()

	for {
		conn, err := listener.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return
			default:
			}
			if errors.Is(err, net.ErrClosed) {
				return
			}
			log.Printf("[Gateway] accept: %v", err)
			continue
		}

		g.wg.Add(1)
		go func() {
			defer g.wg.Done()
			g.serveConn(ctx, conn)
		}()
	}
}

// serveConn handles one client: newline-delimited JSON requests in, JSON
// responses out, processed sequentially per connection.
func (g *Gateway) serveConn(ctx context.Context, conn net.Conn) {
	defer conn.Close()

	dec := json.NewDecoder(conn)
	enc := json.NewEncoder(conn)

	for {
		var req protocol.Request
		if err := dec.Decode(&req); err != nil {
			if !errors.Is(err, io.EOF) && !errors.Is(err, net.ErrClosed) {
				log.Printf("[Gateway] decode request: %v", err)
			}
			return
		}

		resp := g.dispatch(ctx, req)
		if err := enc.Encode(resp); err != nil {
			log.Printf("[Gateway] write response: %v", err)
			return
		}
	}
}

func (g *Gateway) registerResults(taskID string, buf *resultBuffer) {
	g.resultsMu.Lock()
	g.results[taskID] = buf
	g.resultsMu.Unlock()
}

func (g *Gateway) resultsFor(taskID string) (*resultBuffer, bool) {
	g.resultsMu.Lock()
	defer g.resultsMu.Unlock()
	buf, ok := g.results[taskID]
	return buf, ok
}

func (g *Gateway) dropResults(taskID string) {
	g.resultsMu.Lock()
	delete(g.results, taskID)
	g.resultsMu.Unlock()
}

// pruneResults drops buffers whose task records are gone (reaped or
// expired), so consume results do not outlive their tasks.
func (g *Gateway) pruneResults() {
	known := make(map[string]struct{})
	for _, p := range g.tasks.List() {
		known[p.TaskID] = struct{}{}
	}

	g.resultsMu.Lock()
	for id := range g.results {
		if _, ok := known[id]; !ok {
			delete(g.results, id)
		}
	}
	g.resultsMu.Unlock()
}
