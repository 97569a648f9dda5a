package cluster

import (
	"context"
	"fmt"
	"log"
	"sort"
	"sync"
	"time"

	"github.com/topiclens/topiclens/internal/eventbus"
)

// Registry tracks every configured connection and its live bundle. State
// transitions are serialized per connection: a dial result is only applied
// if no other transition happened while the dial was in flight.
type Registry struct {
	dialer Dialer
	bus    *eventbus.Bus

	mu      sync.Mutex
	entries map[int64]*entry
}

type entry struct {
	conn        ServerConnection
	state       State
	reason      string
	bundle      *Bundle
	connectedAt time.Time
	epoch       uint64 // bumped on every transition to invalidate stale dials
}

// NewRegistry creates an empty registry. bus may be nil (events are dropped).
func NewRegistry(dialer Dialer, bus *eventbus.Bus) *Registry {
	return &Registry{
		dialer:  dialer,
		bus:     bus,
		entries: make(map[int64]*entry),
	}
}

// Add registers a connection profile in the disconnected state.
func (r *Registry) Add(ctx context.Context, conn ServerConnection) error {
	r.mu.Lock()
	if _, exists := r.entries[conn.ID]; exists {
		r.mu.Unlock()
		return fmt.Errorf("cluster: connection %d already registered", conn.ID)
	}
	r.entries[conn.ID] = &entry{conn: conn, state: StateDisconnected}
	r.mu.Unlock()

	r.publish(ctx, conn, eventbus.ConnectionAdded, "")
	return nil
}

// Update replaces a profile. Only disconnected or failed connections can be
// edited; a live or connecting profile would leave the bundle out of sync.
func (r *Registry) Update(conn ServerConnection) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.entries[conn.ID]
	if !ok {
		return &NotFoundError{ID: conn.ID}
	}
	if e.state == StateConnected || e.state == StateConnecting {
		return fmt.Errorf("%w: disconnect before editing", ErrBusy)
	}
	e.conn = conn
	e.epoch++
	return nil
}

// Remove drops a connection, closing its bundle if one is live. An in-flight
// connect is orphaned: its dial result is discarded when it lands.
func (r *Registry) Remove(ctx context.Context, id int64) error {
	r.mu.Lock()
	e, ok := r.entries[id]
	if !ok {
		r.mu.Unlock()
		return &NotFoundError{ID: id}
	}
	bundle := e.bundle
	conn := e.conn
	e.bundle = nil
	e.epoch++
	delete(r.entries, id)
	r.mu.Unlock()

	if bundle != nil {
		bundle.Close()
	}
	r.publish(ctx, conn, eventbus.ConnectionRemoved, "")
	return nil
}

// Get returns the stored profile.
func (r *Registry) Get(id int64) (ServerConnection, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.entries[id]
	if !ok {
		return ServerConnection{}, &NotFoundError{ID: id}
	}
	return e.conn, nil
}

// List returns the status of every registered connection, ordered by ID.
func (r *Registry) List() []Status {
	r.mu.Lock()
	defer r.mu.Unlock()

	statuses := make([]Status, 0, len(r.entries))
	for _, e := range r.entries {
		statuses = append(statuses, Status{
			ID:          e.conn.ID,
			Name:        e.conn.Name,
			State:       e.state,
			Reason:      e.reason,
			ConnectedAt: e.connectedAt,
		})
	}
	sort.Slice(statuses, func(i, j int) bool { return statuses[i].ID < statuses[j].ID })
	return statuses
}

// Connect dials the cluster and installs the bundle. Connecting an already
// connected profile is a no-op; a concurrent connect returns
// ErrAlreadyConnecting instead of starting a second dial.
func (r *Registry) Connect(ctx context.Context, id int64) error {
	r.mu.Lock()
	e, ok := r.entries[id]
	if !ok {
		r.mu.Unlock()
		return &NotFoundError{ID: id}
	}
	switch e.state {
	case StateConnected:
		r.mu.Unlock()
		return nil
	case StateConnecting:
		r.mu.Unlock()
		return ErrAlreadyConnecting
	}
	e.state = StateConnecting
	e.reason = ""
	e.epoch++
	epoch := e.epoch
	conn := e.conn
	r.mu.Unlock()

	r.publish(ctx, conn, eventbus.ConnectionConnecting, "")
	log.Printf("[Registry] connecting %d (%s)", conn.ID, conn.Name)

	bundle, err := r.dialer.Dial(ctx, conn)

	r.mu.Lock()
	e, ok = r.entries[id]
	if !ok || e.epoch != epoch {
		// Removed or superseded while dialing: discard the result.
		r.mu.Unlock()
		if bundle != nil {
			bundle.Close()
		}
		if err != nil {
			return err
		}
		if !ok {
			return &NotFoundError{ID: id}
		}
		return fmt.Errorf("%w: connect superseded for connection %d", ErrNotConnected, id)
	}

	if err != nil {
		e.state = StateFailed
		e.reason = err.Error()
		e.epoch++
		r.mu.Unlock()

		log.Printf("[Registry] connect %d failed: %v", id, err)
		r.publish(ctx, conn, eventbus.ConnectionFailed, err.Error())
		return err
	}

	e.state = StateConnected
	e.bundle = bundle
	e.connectedAt = time.Now().UTC()
	e.epoch++
	r.mu.Unlock()

	log.Printf("[Registry] connected %d (%s)", conn.ID, conn.Name)
	r.publish(ctx, conn, eventbus.ConnectionConnected, "")
	return nil
}

// Disconnect closes the bundle and returns the connection to the
// disconnected state. Disconnecting an already disconnected connection is a
// no-op.
func (r *Registry) Disconnect(ctx context.Context, id int64) error {
	r.mu.Lock()
	e, ok := r.entries[id]
	if !ok {
		r.mu.Unlock()
		return &NotFoundError{ID: id}
	}
	if e.state == StateDisconnected || e.state == StateFailed {
		e.state = StateDisconnected
		e.reason = ""
		r.mu.Unlock()
		return nil
	}

	bundle := e.bundle
	conn := e.conn
	e.bundle = nil
	e.state = StateDisconnected
	e.reason = ""
	e.connectedAt = time.Time{}
	e.epoch++
	r.mu.Unlock()

	if bundle != nil {
		bundle.Close()
	}
	log.Printf("[Registry] disconnected %d (%s)", conn.ID, conn.Name)
	r.publish(ctx, conn, eventbus.ConnectionDisconnected, "")
	return nil
}

// Handle returns the live bundle for a connected cluster. It never dials:
// operations against anything but a connected profile fail fast.
func (r *Registry) Handle(id int64) (*Bundle, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.entries[id]
	if !ok {
		return nil, &NotFoundError{ID: id}
	}
	if e.state != StateConnected || e.bundle == nil {
		return nil, fmt.Errorf("%w: connection %d is %s", ErrNotConnected, id, e.state)
	}
	return e.bundle, nil
}

// Shutdown closes every live bundle. The registry is not usable afterwards.
func (r *Registry) Shutdown() {
	r.mu.Lock()
	bundles := make([]*Bundle, 0, len(r.entries))
	for _, e := range r.entries {
		if e.bundle != nil {
			bundles = append(bundles, e.bundle)
			e.bundle = nil
		}
		e.state = StateDisconnected
		e.epoch++
	}
	r.mu.Unlock()

	for _, b := range bundles {
		b.Close()
	}
}

func (r *Registry) publish(ctx context.Context, conn ServerConnection, state eventbus.ConnectionState, reason string) {
	eventbus.Publish(ctx, r.bus, eventbus.Connections.Lifecycle, eventbus.SourceRegistry, eventbus.ConnectionEvent{
		ConnectionID: conn.ID,
		Name:         conn.Name,
		State:        state,
		Reason:       reason,
	})
}
