/*
Package chat is the real-time core of Naberya: it tracks live connections, groups them
into server, channel and voice rooms, relays WebRTC signaling between voice peers and
runs the per-connection session state machine on top of the community service.

Shared state lives in three owned components injected into the Coordinator: the
Registry (connections and their bound identity), the Index (room membership) and the
Relay (signaling routing). Transport is abstracted behind Sink; Client adapts a
gorilla/websocket connection to it.
*/
package chat

import (
	"errors"
	"sync"

	"naberya/internal/pkg/randx"
)

var (
	// ErrAlreadyBound is returned when identity is bound twice on one connection.
	ErrAlreadyBound = errors.New("identity already bound to connection")

	// ErrConnectionNotFound is returned for unknown connection ids.
	ErrConnectionNotFound = errors.New("connection not found")

	// ErrRegistryClosed is returned by Register after Close.
	ErrRegistryClosed = errors.New("registry closed")
)

// Sink is the outbound side of a transport connection.
type Sink interface {
	// Enqueue queues a frame without blocking. It returns false when the frame was not
	// accepted; the sink is then closing.
	Enqueue(frame []byte) bool

	// Close shuts the transport down. It must be safe to call more than once.
	Close()
}

// Identity is the user bound to a connection after authentication.
type Identity struct {
	UserID   string
	Username string
	Avatar   string
}

// Connection is a registered live connection.
type Connection struct {
	ID string

	sink Sink

	mu       sync.RWMutex
	identity *Identity
}

// Identity returns the bound identity, if any.
func (c *Connection) Identity() (Identity, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.identity == nil {
		return Identity{}, false
	}
	return *c.identity, true
}

// Send queues an encoded frame on the connection's transport.
func (c *Connection) Send(frame []byte) bool {
	return c.sink.Enqueue(frame)
}

func (c *Connection) close() {
	c.sink.Close()
}

// Registry tracks every live connection and the identity bound to it.
type Registry struct {
	mu     sync.RWMutex
	conns  map[string]*Connection
	byUser map[string]map[string]*Connection
	closed bool
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{
		conns:  make(map[string]*Connection),
		byUser: make(map[string]map[string]*Connection),
	}
}

// Register adds a connection for sink under a fresh id.
func (r *Registry) Register(sink Sink) (*Connection, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return nil, ErrRegistryClosed
	}

	conn := &Connection{ID: randx.NewID(), sink: sink}
	r.conns[conn.ID] = conn
	return conn, nil
}

// BindIdentity binds id to the connection. It succeeds at most once per connection.
func (r *Registry) BindIdentity(connID string, id Identity) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	conn, ok := r.conns[connID]
	if !ok {
		return ErrConnectionNotFound
	}

	conn.mu.Lock()
	defer conn.mu.Unlock()

	if conn.identity != nil {
		return ErrAlreadyBound
	}
	conn.identity = &id

	if r.byUser[id.UserID] == nil {
		r.byUser[id.UserID] = make(map[string]*Connection)
	}
	r.byUser[id.UserID][connID] = conn
	return nil
}

// Lookup returns the connection registered under connID.
func (r *Registry) Lookup(connID string) (*Connection, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	conn, ok := r.conns[connID]
	return conn, ok
}

// ConnectionsOf returns the live connections bound to userID.
func (r *Registry) ConnectionsOf(userID string) []*Connection {
	r.mu.RLock()
	defer r.mu.RUnlock()

	conns := make([]*Connection, 0, len(r.byUser[userID]))
	for _, conn := range r.byUser[userID] {
		conns = append(conns, conn)
	}
	return conns
}

// Unregister removes the connection. Only the first call for an id returns true.
func (r *Registry) Unregister(connID string) (*Connection, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	conn, ok := r.conns[connID]
	if !ok {
		return nil, false
	}
	delete(r.conns, connID)

	if id, bound := conn.Identity(); bound {
		delete(r.byUser[id.UserID], connID)
		if len(r.byUser[id.UserID]) == 0 {
			delete(r.byUser, id.UserID)
		}
	}
	return conn, true
}

// Len returns the number of live connections.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns)
}

// Close stops accepting registrations and returns the connections still live.
// The connections stay registered until their sessions tear down.
func (r *Registry) Close() []*Connection {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.closed = true
	conns := make([]*Connection, 0, len(r.conns))
	for _, conn := range r.conns {
		conns = append(conns, conn)
	}
	return conns
}
