package server

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/topiclens/topiclens/internal/eventbus"
	"github.com/topiclens/topiclens/internal/protocol"
)

// streamedTopics is every bus topic forwarded to websocket subscribers.
var streamedTopics = []eventbus.Topic{
	eventbus.TopicConnectionsLifecycle,
	eventbus.TopicTopicsChanged,
	eventbus.TopicGroupsChanged,
	eventbus.TopicTasksProgress,
	eventbus.TopicCoordinationChanged,
}

// EventServer pushes bus events to UI clients over a localhost websocket.
// Unlike the request/response gateway this is one-directional: clients
// connect to /events and receive protocol.EventFrame messages.
type EventServer struct {
	bus  *eventbus.Bus
	addr string

	upgrader websocket.Upgrader

	mu       sync.Mutex
	listener net.Listener
	clients  map[*eventClient]struct{}
	wg       sync.WaitGroup
}

type eventClient struct {
	id   string
	conn *websocket.Conn
	send chan protocol.EventFrame
}

// NewEventServer builds an event streamer bound to addr, typically
// "127.0.0.1:0" so the OS picks the port.
func NewEventServer(bus *eventbus.Bus, addr string) *EventServer {
	return &EventServer{
		bus:     bus,
		addr:    addr,
		clients: make(map[*eventClient]struct{}),
		upgrader: websocket.Upgrader{
			// The listener is loopback-only; browser pages never reach it,
			// so same-origin enforcement buys nothing here.
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}
}

// Start begins accepting websocket clients. It returns the bound address so
// callers can advertise the ephemeral port.
func (s *EventServer) Start(ctx context.Context) (string, error) {
	listener, err := net.Listen("tcp", s.addr)
	if err != nil {
		return "", fmt.Errorf("server: listen events on %s: %w", s.addr, err)
	}

	s.mu.Lock()
	s.listener = listener
	s.mu.Unlock()

	mux := http.NewServeMux()
	mux.HandleFunc("/events", func(w http.ResponseWriter, r *http.Request) {
		s.handleUpgrade(ctx, w, r)
	})

	srv := &http.Server{Handler: mux}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if err := srv.Serve(listener); err != nil && err != http.ErrServerClosed {
			log.Printf("[EventServer] serve: %v", err)
		}
	}()
	go func() {
		<-ctx.Done()
		srv.Close()
	}()

	log.Printf("[EventServer] streaming events on ws://%s/events", listener.Addr())
	return listener.Addr().String(), nil
}

// Shutdown closes the listener and every connected client.
func (s *EventServer) Shutdown() {
	s.mu.Lock()
	if s.listener != nil {
		s.listener.Close()
	}
	for c := range s.clients {
		c.conn.Close()
	}
	s.mu.Unlock()
	s.wg.Wait()
}

func (s *EventServer) handleUpgrade(ctx context.Context, w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("[EventServer] upgrade: %v", err)
		return
	}

	client := &eventClient{
		id:   uuid.NewString(),
		conn: conn,
		send: make(chan protocol.EventFrame, 256),
	}

	s.mu.Lock()
	s.clients[client] = struct{}{}
	s.mu.Unlock()
	log.Printf("[EventServer] client %s connected", client.id)

	clientCtx, cancel := context.WithCancel(ctx)

	var subs eventbus.SubscriptionGroup
	for _, topic := range streamedTopics {
		sub := s.bus.Subscribe(topic,
			eventbus.WithSubscriptionName("ws-"+client.id),
			eventbus.WithContext(clientCtx),
		)
		subs.Add(sub)
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.forward(clientCtx, client, sub)
		}()
	}

	// client.send is never closed: forwarders may still be selecting on it
	// during teardown. The write pump exits on context cancel instead.
	s.wg.Add(2)
	go func() {
		defer s.wg.Done()
		client.writePump(clientCtx)
		cancel()
	}()
	go func() {
		defer s.wg.Done()
		client.readPump()
		cancel()

		subs.CloseAll()
		s.mu.Lock()
		delete(s.clients, client)
		s.mu.Unlock()
		log.Printf("[EventServer] client %s disconnected", client.id)
	}()
}

// forward turns bus envelopes into wire frames. A full send channel counts
// as loss the same way a slow bus subscriber does: the frame is dropped and
// the gap is folded into the next frame's Lost count.
func (s *EventServer) forward(ctx context.Context, client *eventClient, sub *eventbus.Subscription) {
	var pendingLost uint64
	for {
		select {
		case <-ctx.Done():
			return
		case env, ok := <-sub.C():
			if !ok {
				return
			}
			frame := protocol.EventFrame{
				Topic:     string(env.Topic),
				Source:    string(env.Source),
				Timestamp: env.Timestamp,
				Lost:      env.Lost + pendingLost,
				Payload:   env.Payload,
			}
			select {
			case client.send <- frame:
				pendingLost = 0
			case <-ctx.Done():
				return
			default:
				pendingLost = frame.Lost + 1
			}
		}
	}
}

func (c *eventClient) writePump(ctx context.Context) {
	ticker := time.NewTicker(54 * time.Second)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case <-ctx.Done():
			c.conn.SetWriteDeadline(time.Now().Add(time.Second))
			c.conn.WriteMessage(websocket.CloseMessage, []byte{})
			return

		case frame := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			payload, err := json.Marshal(frame)
			if err != nil {
				log.Printf("[EventServer] marshal frame: %v", err)
				continue
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// readPump drains the connection so pongs and close frames are processed.
// Clients have nothing to say on this channel.
func (c *eventClient) readPump() {
	defer c.conn.Close()

	c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		return nil
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				log.Printf("[EventServer] client %s read: %v", c.id, err)
			}
			return
		}
	}
}
